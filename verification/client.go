// Package verification talks to the remote document and liveness verification
// service.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/capture"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/models"
)

const (
	DocumentPath = "/kyc/verify"
	LivenessPath = "/kyc/liveness"
	HealthPath   = "/health"

	MimeOctetStream = "application/octet-stream"

	DefaultTimeout = 30 * time.Second

	// Largest response body kept in an APIError.
	maxErrorBody = 4096
)

// DocumentSubmission is the document stage upload.
type DocumentSubmission struct {
	// DocumentType is the API value, e.g. "driving_license".
	DocumentType string
	UserID       string
	Front        capture.Artifact
	// Back is left zero for single sided documents.
	Back capture.Artifact
	// Selfie may be zero; an empty selfie part is sent regardless.
	Selfie capture.Artifact
}

// LivenessSubmission carries either the challenge recording or a single frame.
type LivenessSubmission struct {
	UserID string
	Video  capture.Artifact
	Frame  capture.Artifact
}

// Client talks to the remote verification service. It allows one submission
// per kind at a time and keeps a successful one from being sent again until
// Reset is called.
type Client struct {
	baseURL    string
	merchantID string
	httpClient *http.Client
	signer     *MerchantSigner
	metrics    *metrics.Metrics
	clock      clock.Clock

	guards [2]SubmissionGuard
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithSigner adds a merchant bearer token to every request.
func WithSigner(s *MerchantSigner) Option {
	return func(c *Client) { c.signer = s }
}

// WithMetrics records submission outcomes and latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock replaces the clock used to time submissions.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL, merchantID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		merchantID: merchantID,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reset releases the submission guard of kind so the stage can be submitted
// again.
func (c *Client) Reset(kind Kind) {
	c.guards[kind].Reset()
}

// Submitted reports whether a submission of kind is in flight or has succeeded.
func (c *Client) Submitted(kind Kind) bool {
	return c.guards[kind].Held()
}

// SubmitDocument posts the document images to the document endpoint.
func (c *Client) SubmitDocument(ctx context.Context, sub DocumentSubmission) (Result, error) {
	if sub.Front.IsZero() {
		return Result{}, fmt.Errorf("%w: document front image is required", apperr.ErrInvalidInput)
	}
	return c.submit(ctx, KindDocument, DocumentPath, sub.UserID, func(w *multipart.Writer) error {
		if err := c.writeFields(w, sub.UserID); err != nil {
			return err
		}
		if err := w.WriteField("document_type", sub.DocumentType); err != nil {
			return err
		}
		if err := writeArtifact(w, "document_front", capture.SideFront.Filename(), sub.Front); err != nil {
			return err
		}
		if !sub.Back.IsZero() {
			if err := writeArtifact(w, "document_back", capture.SideBack.Filename(), sub.Back); err != nil {
				return err
			}
		}
		return writeArtifact(w, "selfie", selfieFilename(sub.Selfie), sub.Selfie)
	})
}

// SubmitLiveness posts the challenge recording, or a single frame, to the
// liveness endpoint.
func (c *Client) SubmitLiveness(ctx context.Context, sub LivenessSubmission) (Result, error) {
	if sub.Video.IsZero() && sub.Frame.IsZero() {
		return Result{}, fmt.Errorf("%w: liveness video or frame is required", apperr.ErrInvalidInput)
	}
	return c.submit(ctx, KindLiveness, LivenessPath, sub.UserID, func(w *multipart.Writer) error {
		if err := c.writeFields(w, sub.UserID); err != nil {
			return err
		}
		if !sub.Video.IsZero() {
			return writeArtifact(w, "face_video", sub.Video.Filename(), sub.Video)
		}
		return writeArtifact(w, "face_images", sub.Frame.Filename(), sub.Frame)
	})
}

func selfieFilename(a capture.Artifact) string {
	if a.Filename() != "" {
		return a.Filename()
	}
	return "selfie.jpg"
}

func (c *Client) writeFields(w *multipart.Writer, userID string) error {
	if err := w.WriteField("user_id", userID); err != nil {
		return err
	}
	return w.WriteField("merchant_id", c.merchantID)
}

// writeArtifact adds a as a file part. An empty artifact goes out as an empty
// blob: no filename and application/octet-stream.
func writeArtifact(w *multipart.Writer, field, filename string, a capture.Artifact) error {
	mimeType := a.MimeType()
	if mimeType == "" {
		mimeType = capture.MimeJPEG
	}
	if a.IsZero() {
		filename, mimeType = "", MimeOctetStream
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if a.IsZero() {
		return nil
	}
	_, err = io.Copy(part, a.Reader())
	return err
}

func (c *Client) submit(ctx context.Context, kind Kind, path, userID string, build func(*multipart.Writer) error) (Result, error) {
	guard := &c.guards[kind]
	if !guard.Acquire() {
		slog.Warn("Duplicate verification submission suppressed", "kind", kind)
		c.metrics.IncrementDuplicate(kind.String())
		return Result{}, ErrDuplicateSubmission
	}

	started := c.clock.Now()
	result, err := c.do(ctx, kind, path, userID, build)
	elapsed := c.clock.Now().Sub(started)
	if err != nil {
		guard.Reset()
		c.metrics.ObserveSubmission(kind.String(), "error", elapsed)
		slog.Error("Verification submission failed", "kind", kind, "error", err)
		return Result{}, err
	}

	c.metrics.ObserveSubmission(kind.String(), result.Status.String(), elapsed)
	slog.Info("Verification completed", "kind", kind, "status", result.Status, "raw_status", result.RawStatus, "profile_id", result.ProfileID, "warnings", len(result.Warnings))
	return result, nil
}

func (c *Client) do(ctx context.Context, kind Kind, path, userID string, build func(*multipart.Writer) error) (Result, error) {
	url := c.baseURL + path

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := build(writer); err != nil {
		return Result{}, fmt.Errorf("failed to build %s request: %w", kind, err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to build %s request: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(req, userID); err != nil {
		return Result{}, err
	}

	slog.Debug("Submitting verification", "kind", kind, "url", url, "size", body.Len())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, &apperr.NetworkError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &apperr.NetworkError{Endpoint: path, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &apperr.APIError{Endpoint: path, StatusCode: resp.StatusCode, Body: truncate(respBody)}
	}

	var decoded models.VerificationResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, &apperr.APIError{Endpoint: path, StatusCode: resp.StatusCode, Body: "undecodable response: " + truncate(respBody)}
	}
	return NewResult(decoded), nil
}

func (c *Client) authorize(req *http.Request, userID string) error {
	if c.signer == nil {
		return nil
	}
	token, err := c.signer.Sign(userID)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// HealthCheck verifies the verification service is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.NetworkError{Endpoint: HealthPath, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &apperr.APIError{Endpoint: HealthPath, StatusCode: resp.StatusCode, Body: string(body)}
	}

	slog.Debug("Verification service health check passed")
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
