package verification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go-kyc-orchestrator/models"
)

// Status is the normalized outcome of a verification call.
type Status int

const (
	StatusUnknown Status = iota
	StatusPass
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pass":
		*s = StatusPass
	case "fail":
		*s = StatusFail
	default:
		*s = StatusUnknown
	}
	return nil
}

// ParseStatus maps the service status onto a Status. PASS and ACCEPT, in any
// case, pass; an empty status is unknown; anything else fails.
func ParseStatus(raw string) Status {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return StatusUnknown
	case strings.EqualFold(raw, "PASS"), strings.EqualFold(raw, "ACCEPT"):
		return StatusPass
	default:
		return StatusFail
	}
}

// Result is a normalized verification response.
type Result struct {
	Status       Status            `json:"status"`
	RawStatus    string            `json:"raw_status"`
	ProfileID    string            `json:"profile_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	OutputImages map[string]string `json:"output_images,omitempty"`
	Warnings     []models.Warning  `json:"warnings,omitempty"`
	RawData      map[string]any    `json:"raw_data,omitempty"`
}

func (r Result) Passed() bool { return r.Status == StatusPass }

// NewResult normalizes a raw service response.
func NewResult(resp models.VerificationResponse) Result {
	raw := rawStatus(resp.Status)
	return Result{
		Status:       ParseStatus(raw),
		RawStatus:    raw,
		ProfileID:    stringField(resp.RawData, "profile_id"),
		UserID:       resp.UserID,
		OutputImages: resp.OutputImages,
		Warnings:     resp.Warnings,
		RawData:      resp.RawData,
	}
}

func rawStatus(msg json.RawMessage) string {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	return string(msg)
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
