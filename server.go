package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/capture"
	"go-kyc-orchestrator/flow"
	"go-kyc-orchestrator/images"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/models"
	"go-kyc-orchestrator/verification"

	"github.com/gorilla/mux"
)

const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE_BODY = "failed to decode request body"

const maxBodyBytes = 1 << 16

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

// ServerState holds what the request handlers share.
type ServerState struct {
	orchestrator  *flow.Orchestrator
	metrics       *metrics.Metrics
	previewWidth  int
	previewHeight int
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

// NewServer wires the control API routes for state.
func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	if state.orchestrator == nil {
		return nil, fmt.Errorf("server needs an orchestrator")
	}

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: newRouter(state),
		Addr:    addr,
		// Document submissions wait on the verification service.
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

func newRouter(state *ServerState) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(state, w, r)
	}).Methods(http.MethodGet)
	router.Handle("/metrics", state.metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		handleStartSession(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(state, w, r)
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/document/type", func(w http.ResponseWriter, r *http.Request) {
		handleSelectDocumentType(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/document/camera", func(w http.ResponseWriter, r *http.Request) {
		handleOpenDocumentCamera(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/document/camera", func(w http.ResponseWriter, r *http.Request) {
		state.orchestrator.CloseDocumentCamera()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	router.HandleFunc("/api/document/capture/{side}", func(w http.ResponseWriter, r *http.Request) {
		handleCaptureSide(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/document/preview/{side}", func(w http.ResponseWriter, r *http.Request) {
		handlePreview(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/document/selfie", func(w http.ResponseWriter, r *http.Request) {
		handleCaptureSelfie(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/document/submit", func(w http.ResponseWriter, r *http.Request) {
		handleSubmitDocument(state, w, r)
	}).Methods(http.MethodPost)

	router.HandleFunc("/api/liveness/start", func(w http.ResponseWriter, r *http.Request) {
		handleStartLiveness(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/liveness", func(w http.ResponseWriter, r *http.Request) {
		state.orchestrator.CancelLiveness()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	router.HandleFunc("/api/retry", func(w http.ResponseWriter, r *http.Request) {
		handleRetry(state, w, r)
	}).Methods(http.MethodPost)

	slog.Debug("Registered all API routes")
	return router
}

func handleHealth(state *ServerState, w http.ResponseWriter, r *http.Request) {
	slog.Debug("Health check request received")
	resp := models.HealthResponse{Status: "ok", Verification: "ok"}
	status := http.StatusOK
	if err := state.orchestrator.Health(r.Context()); err != nil {
		slog.Warn("Verification service unhealthy", "error", err)
		resp = models.HealthResponse{Status: "degraded", Verification: "unreachable"}
		status = http.StatusServiceUnavailable
	}
	if err := writeJSON(w, status, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_MARSHAL, err)
	}
}

type startSessionRequest struct {
	ResumeID string `json:"resume_id,omitempty"`
}

func handleStartSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondWithErr(w, http.StatusBadRequest, ERR_DECODE_BODY, err)
		return
	}

	var err error
	if req.ResumeID != "" {
		slog.Info("Resuming session", "session_id", req.ResumeID)
		err = state.orchestrator.Resume(r.Context(), req.ResumeID)
	} else {
		slog.Info("Starting new session")
		err = state.orchestrator.Restart(r.Context())
	}
	if err != nil {
		respondWithAppErr(w, "failed to start session", err)
		return
	}
	writeSnapshot(state, w, http.StatusCreated)
}

func handleGetSession(state *ServerState, w http.ResponseWriter, _ *http.Request) {
	writeSnapshot(state, w, http.StatusOK)
}

func handleSelectDocumentType(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var req models.DocumentTypeRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_DECODE_BODY, err)
		return
	}
	if err := state.orchestrator.SelectDocumentType(r.Context(), req.DocumentType); err != nil {
		respondWithAppErr(w, "failed to select document type", err)
		return
	}
	writeSnapshot(state, w, http.StatusOK)
}

func handleOpenDocumentCamera(state *ServerState, w http.ResponseWriter, r *http.Request) {
	stream, err := state.orchestrator.OpenDocumentCamera(r.Context())
	if err != nil {
		respondWithAppErr(w, "failed to open document camera", err)
		return
	}
	resp := models.CameraResponse{StreamID: stream.ID(), Role: stream.Role().String(), Ready: stream.IsReady()}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_MARSHAL, err)
	}
}

func handleCaptureSide(state *ServerState, w http.ResponseWriter, r *http.Request) {
	side, err := capture.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondWithAppErr(w, "invalid side", err)
		return
	}

	a, err := state.orchestrator.CaptureSide(r.Context(), side)
	if err != nil {
		respondWithAppErr(w, "failed to capture document side", err)
		return
	}
	snap, err := state.orchestrator.Snapshot()
	if err != nil {
		respondWithAppErr(w, "failed to read session", err)
		return
	}

	resp := models.CaptureResponse{
		Side:          string(side),
		ArtifactID:    a.ID(),
		Width:         a.Width(),
		Height:        a.Height(),
		Size:          a.Size(),
		ReadyToUpload: snap.ReadyToUpload,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_MARSHAL, err)
	}
}

func handlePreview(state *ServerState, w http.ResponseWriter, r *http.Request) {
	side, err := capture.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondWithAppErr(w, "invalid side", err)
		return
	}
	a, ok := state.orchestrator.DocumentArtifact(side)
	if !ok {
		respondWithErr(w, http.StatusNotFound, "no capture for side", nil)
		return
	}

	thumb, err := images.Thumbnail(a.Bytes(), state.previewWidth, state.previewHeight)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, "failed to render preview", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(thumb); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func handleCaptureSelfie(state *ServerState, w http.ResponseWriter, r *http.Request) {
	a, err := state.orchestrator.CaptureSelfie(r.Context())
	if err != nil {
		respondWithAppErr(w, "failed to capture selfie", err)
		return
	}
	snap, err := state.orchestrator.Snapshot()
	if err != nil {
		respondWithAppErr(w, "failed to read session", err)
		return
	}

	resp := models.CaptureResponse{
		Side:          "selfie",
		ArtifactID:    a.ID(),
		Width:         a.Width(),
		Height:        a.Height(),
		Size:          a.Size(),
		ReadyToUpload: snap.ReadyToUpload,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_MARSHAL, err)
	}
}

type submitResponse struct {
	Result  verification.Result    `json:"result"`
	Session models.SessionSnapshot `json:"session"`
}

func handleSubmitDocument(state *ServerState, w http.ResponseWriter, r *http.Request) {
	slog.Info("Received request to submit document")
	// a started submission is billed, so it must not die with the request
	result, err := state.orchestrator.SubmitDocument(context.WithoutCancel(r.Context()))
	if err != nil {
		respondWithAppErr(w, "failed to submit document", err)
		return
	}
	snap, err := state.orchestrator.Snapshot()
	if err != nil {
		respondWithAppErr(w, "failed to read session", err)
		return
	}
	if err := writeJSON(w, http.StatusOK, submitResponse{Result: result, Session: snap}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_MARSHAL, err)
	}
}

func handleStartLiveness(state *ServerState, w http.ResponseWriter, r *http.Request) {
	slog.Info("Received request to start liveness challenge")
	if err := state.orchestrator.StartLiveness(r.Context()); err != nil {
		respondWithAppErr(w, "failed to start liveness challenge", err)
		return
	}
	writeSnapshot(state, w, http.StatusAccepted)
}

func handleRetry(state *ServerState, w http.ResponseWriter, r *http.Request) {
	if err := state.orchestrator.Retry(r.Context()); err != nil {
		respondWithAppErr(w, "failed to reset stage", err)
		return
	}
	writeSnapshot(state, w, http.StatusOK)
}

// helpers ------------

func writeSnapshot(state *ServerState, w http.ResponseWriter, status int) {
	snap, err := state.orchestrator.Snapshot()
	if err != nil {
		respondWithAppErr(w, "failed to read session", err)
		return
	}
	if err := writeJSON(w, status, snap); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_MARSHAL, err)
	}
}

func respondWithErr(w http.ResponseWriter, code int, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code)
	body := models.ErrorResponse{Error: logMsg, Kind: "request"}
	if e != nil {
		body.Error = logMsg + ": " + e.Error()
	}
	if err := writeJSON(w, code, body); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// respondWithAppErr maps err through the error taxonomy.
func respondWithAppErr(w http.ResponseWriter, logMsg string, e error) {
	code := apperr.HTTPStatus(e)
	if errors.Is(e, verification.ErrDuplicateSubmission) {
		code = http.StatusConflict
	}
	if code >= http.StatusInternalServerError {
		slog.Error(logMsg, "error", e, "kind", apperr.Kind(e), "status_code", code)
	} else {
		slog.Warn(logMsg, "error", e, "kind", apperr.Kind(e), "status_code", code)
	}
	if err := writeJSON(w, code, flow.ErrorResponse(e)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}
