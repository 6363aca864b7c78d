// Package apperr holds the error taxonomy of the verification flow and maps it
// onto log kinds and HTTP status codes for the control API.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DeviceError reports that the camera could not be used: permission denied,
// hardware missing, the stream was lost mid-capture or the screen was torn down.
type DeviceError struct {
	Op          string
	Err         error
	Recoverable bool
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// CaptureError reports that a capture produced nothing usable.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// APIError is a non-2xx (or undecodable) answer from the verification service.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("verification api %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// NetworkError is a transport failure talking to the verification service.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("verification api %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StorageError is a failed write to the session store. Callers log and swallow
// it and keep going on in-memory state.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session storage %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Sentinel errors for flow facts.
var (
	ErrWrongStage   = errors.New("operation not allowed in current stage")
	ErrNotReady     = errors.New("capture not ready")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoSession    = errors.New("no active session")
)

// Retryable reports whether the user should be offered a retry for err.
func Retryable(err error) bool {
	var apiErr *APIError
	var netErr *NetworkError
	var capErr *CaptureError
	var devErr *DeviceError
	switch {
	case errors.As(err, &apiErr), errors.As(err, &netErr), errors.As(err, &capErr):
		return true
	case errors.As(err, &devErr):
		return devErr.Recoverable
	default:
		return false
	}
}

// Kind names the error class of err for logs and the control API.
func Kind(err error) string {
	var apiErr *APIError
	var netErr *NetworkError
	var capErr *CaptureError
	var devErr *DeviceError
	var stoErr *StorageError

	switch {
	case err == nil:
		return ""

	case errors.As(err, &devErr):
		return "device"

	case errors.As(err, &capErr):
		return "capture"

	case errors.As(err, &apiErr):
		return "api"

	case errors.As(err, &netErr):
		return "network"

	case errors.As(err, &stoErr):
		return "storage"

	case errors.Is(err, ErrWrongStage):
		return "wrong_stage"

	case errors.Is(err, ErrNotReady):
		return "not_ready"

	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"

	case errors.Is(err, ErrNoSession):
		return "no_session"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// HTTPStatus maps err to the control API status code.
func HTTPStatus(err error) int {
	var apiErr *APIError
	var netErr *NetworkError
	var capErr *CaptureError
	var devErr *DeviceError

	switch {
	case err == nil:
		return http.StatusOK

	case errors.As(err, &devErr):
		return http.StatusServiceUnavailable

	case errors.As(err, &capErr):
		return http.StatusUnprocessableEntity

	case errors.As(err, &apiErr), errors.As(err, &netErr):
		return http.StatusBadGateway

	case errors.Is(err, ErrWrongStage), errors.Is(err, ErrNotReady), errors.Is(err, ErrNoSession):
		return http.StatusConflict

	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
