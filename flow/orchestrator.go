package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/capture"
	"go-kyc-orchestrator/challenge"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/media"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/models"
	"go-kyc-orchestrator/session"
	"go-kyc-orchestrator/verification"
)

// SelfiePolicy decides what goes into the selfie part of a document submission.
// With SelfieCamera the document stage is not ready to upload until a selfie
// has been taken with the front camera.
type SelfiePolicy string

const (
	SelfieEmpty  SelfiePolicy = "empty"
	SelfieCamera SelfiePolicy = "camera"
)

// LivenessUpload decides how the liveness capture is uploaded.
type LivenessUpload string

const (
	UploadVideo  LivenessUpload = "video"
	UploadFrames LivenessUpload = "frames"
)

// Config holds the tunables of a verification flow.
type Config struct {
	Challenge      challenge.Config
	Recorder       capture.RecorderConfig
	JPEGQuality    int
	SelfiePolicy   SelfiePolicy
	LivenessUpload LivenessUpload
}

// DefaultConfig returns the stock challenge with an empty selfie and video upload.
func DefaultConfig() Config {
	return Config{
		Challenge:      challenge.DefaultConfig(),
		SelfiePolicy:   SelfieEmpty,
		LivenessUpload: UploadVideo,
	}
}

// Verifier is the remote verification service.
type Verifier interface {
	SubmitDocument(ctx context.Context, sub verification.DocumentSubmission) (verification.Result, error)
	SubmitLiveness(ctx context.Context, sub verification.LivenessSubmission) (verification.Result, error)
	Submitted(kind verification.Kind) bool
	Reset(kind verification.Kind)
	HealthCheck(ctx context.Context) error
}

// Orchestrator owns the session, the camera handles and the liveness run.
// Every operation is serialized on one mutex; network calls run outside it.
type Orchestrator struct {
	cfg      Config
	camera   *media.Controller
	verifier Verifier
	store    session.Store
	metrics  *metrics.Metrics
	clock    clock.Clock
	enc      *capture.Encoder
	gate     StageGate
	log      *slog.Logger

	mu        sync.Mutex
	sess      *session.Session
	doc       *capture.DocumentFlow
	docStream *media.Stream
	selfie    capture.Artifact
	live      *livenessRun
	lastErr   error

	// set while a document submission is on the wire
	docSubmitting bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records stage transitions and storage errors on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger used for flow events.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New validates cfg and creates an Orchestrator without a session. Call
// Restart or Resume before driving it.
func New(cfg Config, camera *media.Controller, verifier Verifier, store session.Store, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Challenge.Validate(); err != nil {
		return nil, fmt.Errorf("invalid challenge config: %w", err)
	}
	switch cfg.SelfiePolicy {
	case "":
		cfg.SelfiePolicy = SelfieEmpty
	case SelfieEmpty, SelfieCamera:
	default:
		return nil, fmt.Errorf("unknown selfie policy %q", cfg.SelfiePolicy)
	}
	switch cfg.LivenessUpload {
	case "":
		cfg.LivenessUpload = UploadVideo
	case UploadVideo, UploadFrames:
	default:
		return nil, fmt.Errorf("unknown liveness upload %q", cfg.LivenessUpload)
	}

	o := &Orchestrator{
		cfg:      cfg,
		camera:   camera,
		verifier: verifier,
		store:    store,
		clock:    clock.Real(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.gate = StageGate{Metrics: o.metrics}
	o.enc = capture.NewEncoder(cfg.JPEGQuality, o.clock)
	return o, nil
}

func (o *Orchestrator) fail(err error) error {
	if err != nil {
		o.lastErr = err
	}
	return err
}

// submissionPendingLocked reports whether a verification call is on the wire.
// Its guard must stay held until the call resolves.
func (o *Orchestrator) submissionPendingLocked() bool {
	return o.docSubmitting || (o.live != nil && o.live.pending())
}

func (o *Orchestrator) refusePendingLocked() error {
	if o.submissionPendingLocked() {
		return fmt.Errorf("%w: a verification request is still pending", apperr.ErrWrongStage)
	}
	return nil
}

func (o *Orchestrator) requireStage(want session.Stage) error {
	if o.sess == nil {
		return apperr.ErrNoSession
	}
	if cur := o.sess.Stage(); cur != want {
		return fmt.Errorf("%w: session is at %s, not %s", apperr.ErrWrongStage, cur, want)
	}
	return nil
}

// Restart tears down the current session, if any, and starts a new one.
func (o *Orchestrator) Restart(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.refusePendingLocked(); err != nil {
		return err
	}
	o.teardownLocked()
	if o.sess != nil {
		o.sess.Destroy(ctx)
	}
	o.verifier.Reset(verification.KindDocument)
	o.verifier.Reset(verification.KindLiveness)

	o.sess = session.New(ctx, o.store, o.metrics, o.clock.Now())
	o.doc = capture.NewDocumentFlow(capture.DocumentLicense, o.enc)
	o.selfie = capture.Artifact{}
	o.sess.SetDocumentType(ctx, string(capture.DocumentLicense))
	o.lastErr = nil
	return nil
}

// Resume continues a session kept in the session store.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.refusePendingLocked(); err != nil {
		return err
	}
	sess, err := session.Resume(ctx, o.store, id, o.metrics)
	if err != nil {
		return o.fail(err)
	}
	docType, err := capture.ParseDocumentType(sess.DocumentType())
	if err != nil {
		docType = capture.DocumentLicense
	}

	o.teardownLocked()
	o.verifier.Reset(verification.KindDocument)
	o.verifier.Reset(verification.KindLiveness)
	o.sess = sess
	o.doc = capture.NewDocumentFlow(docType, o.enc)
	o.selfie = capture.Artifact{}
	o.lastErr = nil

	if dataURL, ok := sess.Cache().Get(session.KeyDocumentSelfie); ok && dataURL != "" {
		if a, err := capture.ParseDataURL(dataURL, SelfieFilename); err == nil {
			o.selfie = a
		} else {
			o.log.Warn("Ignoring unreadable cached selfie", "error", err)
		}
	}

	for side, key := range map[capture.Side]string{capture.SideFront: session.KeyDocumentFront, capture.SideBack: session.KeyDocumentBack} {
		dataURL, ok := sess.Cache().Get(key)
		if !ok || dataURL == "" {
			continue
		}
		a, err := capture.ParseDataURL(dataURL, side.Filename())
		if err != nil {
			o.log.Warn("Ignoring unreadable cached document image", "side", side, "error", err)
			continue
		}
		if err := o.doc.Restore(side, a); err != nil {
			o.log.Warn("Ignoring cached document image", "side", side, "error", err)
		}
	}
	return nil
}

// SelectDocumentType switches the document being captured. Changing the type
// drops sides captured for the previous one.
func (o *Orchestrator) SelectDocumentType(ctx context.Context, raw string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireStage(session.StageDocument); err != nil {
		return err
	}
	t, err := capture.ParseDocumentType(raw)
	if err != nil {
		return err
	}
	if t != o.doc.DocumentType() {
		o.doc = capture.NewDocumentFlow(t, o.enc)
		o.sess.Cache().Delete(ctx, session.KeyDocumentFront, session.KeyDocumentBack)
	}
	o.sess.SetDocumentType(ctx, string(t))
	o.log.Info("Document type selected", "session_id", o.sess.ID(), "document_type", t)
	return nil
}

// OpenDocumentCamera acquires the rear camera for document capture.
func (o *Orchestrator) OpenDocumentCamera(ctx context.Context) (*media.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireStage(session.StageDocument); err != nil {
		return nil, err
	}
	s, err := o.camera.Acquire(ctx, media.DocumentConstraints())
	if err != nil {
		o.docStream = nil
		return nil, o.fail(err)
	}
	o.docStream = s
	return s, nil
}

// CloseDocumentCamera releases the rear camera, if open.
func (o *Orchestrator) CloseDocumentCamera() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeDocumentCameraLocked()
}

func (o *Orchestrator) closeDocumentCameraLocked() {
	if o.docStream != nil {
		o.camera.Release(o.docStream)
		o.docStream = nil
	}
}

// CaptureSide freezes the current document camera frame as side.
func (o *Orchestrator) CaptureSide(ctx context.Context, side capture.Side) (capture.Artifact, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireStage(session.StageDocument); err != nil {
		return capture.Artifact{}, err
	}
	if o.docStream == nil || o.docStream.Released() {
		return capture.Artifact{}, fmt.Errorf("%w: document camera is not open", apperr.ErrNotReady)
	}
	if err := o.docStream.WaitReady(ctx); err != nil {
		o.closeDocumentCameraLocked()
		return capture.Artifact{}, o.fail(err)
	}

	a, err := o.doc.Capture(o.docStream, side)
	if err != nil {
		var devErr *apperr.DeviceError
		if errors.As(err, &devErr) {
			o.closeDocumentCameraLocked()
		}
		return capture.Artifact{}, o.fail(err)
	}

	key := session.KeyDocumentFront
	if side == capture.SideBack {
		key = session.KeyDocumentBack
	}
	o.sess.Cache().Set(ctx, key, a.DataURL())
	return a, nil
}

// DocumentArtifact returns the captured image for side.
func (o *Orchestrator) DocumentArtifact(side capture.Side) (capture.Artifact, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.doc == nil {
		return capture.Artifact{}, false
	}
	return o.doc.Artifact(side)
}

// SubmitDocument uploads the captured sides and applies the result. The
// document camera is released first.
func (o *Orchestrator) SubmitDocument(ctx context.Context) (verification.Result, error) {
	o.mu.Lock()
	if err := o.requireStage(session.StageDocument); err != nil {
		o.mu.Unlock()
		return verification.Result{}, err
	}
	if o.docSubmitting {
		o.mu.Unlock()
		o.metrics.IncrementDuplicate(verification.KindDocument.String())
		return verification.Result{}, verification.ErrDuplicateSubmission
	}
	if !o.doc.ReadyToUpload() {
		o.mu.Unlock()
		return verification.Result{}, fmt.Errorf("%w: %s needs %v captured", apperr.ErrNotReady, o.doc.DocumentType(), o.doc.RequiredSides())
	}
	if !o.selfieReadyLocked() {
		o.mu.Unlock()
		return verification.Result{}, fmt.Errorf("%w: selfie not taken", apperr.ErrNotReady)
	}
	o.closeDocumentCameraLocked()

	sess := o.sess
	sub := verification.DocumentSubmission{
		DocumentType: o.doc.DocumentType().APIValue(),
		UserID:       sess.ExternalUserID(),
	}
	if o.cfg.SelfiePolicy == SelfieCamera {
		sub.Selfie = o.selfie
	}
	sub.Front, _ = o.doc.Artifact(capture.SideFront)
	if o.doc.DocumentType().RequiresBackSide() {
		sub.Back, _ = o.doc.Artifact(capture.SideBack)
	}
	o.docSubmitting = true
	o.mu.Unlock()

	result, err := o.verifier.SubmitDocument(ctx, sub)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.docSubmitting = false
	if err != nil {
		return verification.Result{}, o.fail(err)
	}
	if o.sess != sess {
		o.log.Warn("Discarding document result for a replaced session", "session_id", sess.ID())
		return result, fmt.Errorf("%w: session was restarted", apperr.ErrWrongStage)
	}

	d, err := o.gate.Apply(ctx, sess, session.StageDocument, result)
	if err != nil {
		return result, o.fail(err)
	}
	if !d.Advanced {
		o.doc.Reset()
		o.selfie = capture.Artifact{}
		o.verifier.Reset(verification.KindDocument)
	}
	o.lastErr = nil
	return result, nil
}

func (o *Orchestrator) selfieReadyLocked() bool {
	return o.cfg.SelfiePolicy != SelfieCamera || !o.selfie.IsZero()
}

// SelfieFilename is the upload name of a selfie taken with the front camera.
const SelfieFilename = "selfie.jpg"

// CaptureSelfie takes a still with the front camera for the selfie part of the
// document submission. The rear camera is released first and the front camera
// is released again before it returns.
func (o *Orchestrator) CaptureSelfie(ctx context.Context) (capture.Artifact, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireStage(session.StageDocument); err != nil {
		return capture.Artifact{}, err
	}
	if o.cfg.SelfiePolicy != SelfieCamera {
		return capture.Artifact{}, fmt.Errorf("%w: selfie policy is %s", apperr.ErrInvalidInput, o.cfg.SelfiePolicy)
	}
	if o.docSubmitting {
		return capture.Artifact{}, fmt.Errorf("%w: document submission in progress", apperr.ErrWrongStage)
	}
	o.closeDocumentCameraLocked()

	stream, err := o.camera.Acquire(ctx, media.FaceConstraints())
	if err != nil {
		return capture.Artifact{}, o.fail(err)
	}
	defer o.camera.Release(stream)
	if err := stream.WaitReady(ctx); err != nil {
		return capture.Artifact{}, o.fail(err)
	}
	frame, err := stream.Frame()
	if err != nil {
		return capture.Artifact{}, o.fail(fmt.Errorf("capture selfie: %w", err))
	}
	a, err := o.enc.EncodeStill(frame, SelfieFilename)
	if err != nil {
		return capture.Artifact{}, o.fail(err)
	}

	o.selfie = a
	o.sess.Cache().Set(ctx, session.KeyDocumentSelfie, a.DataURL())
	o.log.Info("Selfie captured", "session_id", o.sess.ID(), "artifact_id", a.ID())
	return a, nil
}

// Retry resets the current stage for another attempt. Earlier stages keep
// their results.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return apperr.ErrNoSession
	}
	if err := o.refusePendingLocked(); err != nil {
		return err
	}
	stage := o.sess.Stage()
	switch stage {
	case session.StageDocument:
		o.closeDocumentCameraLocked()
		o.doc.Reset()
		o.selfie = capture.Artifact{}
		o.sess.ClearStage(ctx, stage)
		o.verifier.Reset(verification.KindDocument)
	case session.StageLiveness:
		o.cancelLivenessLocked()
		o.live = nil
		o.sess.ClearStage(ctx, stage)
		o.verifier.Reset(verification.KindLiveness)
	default:
		return fmt.Errorf("%w: session is complete", apperr.ErrWrongStage)
	}
	o.lastErr = nil
	o.log.Info("Stage reset for retry", "session_id", o.sess.ID(), "stage", stage)
	return nil
}

// Health checks the verification service.
func (o *Orchestrator) Health(ctx context.Context) error {
	return o.verifier.HealthCheck(ctx)
}

// Close releases every camera handle and stops a running challenge.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardownLocked()
	o.camera.Close()
}

func (o *Orchestrator) teardownLocked() {
	o.cancelLivenessLocked()
	o.live = nil
	o.closeDocumentCameraLocked()
}

// Snapshot describes the session for display.
func (o *Orchestrator) Snapshot() (models.SessionSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return models.SessionSnapshot{}, apperr.ErrNoSession
	}
	st := o.sess.State()
	_, cameraOpen := o.camera.Active()
	snap := models.SessionSnapshot{
		ID:             st.ID,
		Stage:          st.Stage.String(),
		DocumentType:   string(o.doc.DocumentType()),
		DocumentLabel:  o.doc.DocumentType().Label(),
		ReadyToUpload:  o.doc.ReadyToUpload() && o.selfieReadyLocked(),
		SelfieRequired: o.cfg.SelfiePolicy == SelfieCamera,
		SelfieCaptured: !o.selfie.IsZero(),
		CameraOpen:     cameraOpen,
		Status:         st.Status.String(),
		RawStatus:      st.RawStatus,
		ProfileID:      st.ProfileID,
		ExternalUserID: st.ExternalUserID,
		Warnings:       st.Warnings,
		OutputImages:   st.OutputImages,
	}
	if snap.Warnings == nil {
		snap.Warnings = []models.Warning{}
	}
	for _, side := range o.doc.RequiredSides() {
		snap.RequiredSides = append(snap.RequiredSides, string(side))
		if o.doc.Captured(side) {
			snap.CapturedSides = append(snap.CapturedSides, string(side))
		}
	}
	if o.live != nil {
		snap.Liveness = o.live.snapshot()
		if err := o.live.error(); err != nil && o.lastErr == nil {
			snap.LastError = ErrorResponse(err)
		}
	}
	if o.lastErr != nil {
		snap.LastError = ErrorResponse(o.lastErr)
	}
	return snap, nil
}

// ErrorResponse renders err for the control API.
func ErrorResponse(err error) *models.ErrorResponse {
	return &models.ErrorResponse{
		Error:     err.Error(),
		Kind:      apperr.Kind(err),
		Retryable: apperr.Retryable(err),
	}
}
