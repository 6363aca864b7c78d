package flow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/capture"
	"go-kyc-orchestrator/challenge"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/media"
	"go-kyc-orchestrator/session"
	"go-kyc-orchestrator/verification"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeService answers the verification endpoints with configurable statuses.
type fakeService struct {
	mu       sync.Mutex
	statuses map[string]string
	calls    map[string]int
	inflight map[string]int
	fields   map[string][]string
	sizes    map[string]map[string]int
	holds    map[string]chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		statuses: map[string]string{verification.DocumentPath: "PASS", verification.LivenessPath: "PASS"},
		calls:    map[string]int{},
		inflight: map[string]int{},
		fields:   map[string][]string{},
		sizes:    map[string]map[string]int{},
		holds:    map[string]chan struct{}{},
	}
}

func (f *fakeService) setStatus(path, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[path] = status
}

// hold keeps requests to path open until the returned release is called.
func (f *fakeService) hold(t *testing.T, path string) (release func()) {
	t.Helper()
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[path] = ch
	f.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return release
}

func (f *fakeService) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeService) pending(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[path]
}

// files lists the file parts of the last request to path.
func (f *fakeService) files(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields[path]
}

func (f *fakeService) fileSize(path, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[path][name]
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var names []string
	sizes := map[string]int{}
	values := map[string]string{}
	for {
		p, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if p.Header.Get("Content-Type") != "" {
			names = append(names, p.FormName())
			sizes[p.FormName()] = len(data)
		} else {
			values[p.FormName()] = string(data)
		}
	}

	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.inflight[r.URL.Path]++
	f.fields[r.URL.Path] = names
	f.sizes[r.URL.Path] = sizes
	status := f.statuses[r.URL.Path]
	hold := f.holds[r.URL.Path]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight[r.URL.Path]--
		f.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        status,
		"user_id":       values["user_id"],
		"raw_data":      map[string]any{"profile_id": "profile-" + r.URL.Path},
		"output_images": map[string]string{"face": "https://img/face"},
	})
}

// blankableDevice is a synthetic camera whose later streams can be switched
// to a feed that never yields a frame.
type blankableDevice struct {
	*media.SyntheticDevice
	blank atomic.Bool
}

func (d *blankableDevice) Open(ctx context.Context, c media.Constraints) (media.Source, error) {
	if !d.blank.Load() {
		return d.SyntheticDevice.Open(ctx, c)
	}
	md := make(chan struct{})
	close(md)
	return &blankSource{metadata: md}, nil
}

type blankSource struct {
	metadata chan struct{}
}

type blankTrack struct{}

func (blankTrack) Kind() string { return "video" }
func (blankTrack) Stop()        {}

func (s *blankSource) Metadata() <-chan struct{} { return s.metadata }
func (s *blankSource) Tracks() []media.Track     { return []media.Track{blankTrack{}} }
func (s *blankSource) Read() (media.Frame, error) {
	return media.Frame{}, errors.New("no signal")
}

type harness struct {
	orch    *Orchestrator
	camera  *media.Controller
	device  *blankableDevice
	clock   *clock.Fake
	service *fakeService
	store   *session.MemoryStore
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Challenge = challenge.Config{
		Countdown:     1,
		CountdownTick: 100 * time.Millisecond,
		Tick:          50 * time.Millisecond,
		Pause:         100 * time.Millisecond,
		Settle:        100 * time.Millisecond,
		Steps:         challenge.DefaultSteps(200 * time.Millisecond),
	}
	cfg.Recorder = capture.RecorderConfig{FPS: 10, FramesPerChunk: 3}
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	svc := newFakeService()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	device := &blankableDevice{SyntheticDevice: &media.SyntheticDevice{Clock: clk}}
	camera := media.NewController(device, media.WithClock(clk))
	store := session.NewMemoryStore()
	orch, err := New(cfg, camera, verification.NewClient(server.URL, "merchant"), store, WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	require.NoError(t, orch.Restart(context.Background()))
	return &harness{orch: orch, camera: camera, device: device, clock: clk, service: svc, store: store}
}

func (h *harness) passDocument(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.orch.SelectDocumentType(ctx, "passport"))
	_, err := h.orch.OpenDocumentCamera(ctx)
	require.NoError(t, err)
	_, err = h.orch.CaptureSide(ctx, capture.SideFront)
	require.NoError(t, err)
	result, err := h.orch.SubmitDocument(ctx)
	require.NoError(t, err)
	require.True(t, result.Passed())
}

// drive advances the fake clock until done is closed.
func (h *harness) drive(t *testing.T, done <-chan struct{}) {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("liveness run did not finish")
		default:
			h.clock.Advance(50 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

// driveUntil advances the fake clock until cond holds.
func (h *harness) driveUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached")
		default:
			h.clock.Advance(50 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStageGateNext(t *testing.T) {
	gate := StageGate{}
	pass := verification.Result{Status: verification.ParseStatus("accept")}
	fail := verification.Result{Status: verification.ParseStatus("REJECT")}

	d := gate.Next(session.StageDocument, pass)
	require.True(t, d.Advanced)
	require.Equal(t, session.StageLiveness, d.To)

	d = gate.Next(session.StageLiveness, pass)
	require.Equal(t, session.StageComplete, d.To)

	d = gate.Next(session.StageLiveness, fail)
	require.False(t, d.Advanced)
	require.Equal(t, session.StageLiveness, d.To)

	d = gate.Next(session.StageComplete, pass)
	require.False(t, d.Advanced)
}

func TestStageGateRejectsResultForOtherStage(t *testing.T) {
	ctx := context.Background()
	sess := session.New(ctx, session.NewMemoryStore(), nil, epoch)
	_, err := StageGate{}.Apply(ctx, sess, session.StageLiveness, verification.Result{Status: verification.StatusPass})
	require.ErrorIs(t, err, apperr.ErrWrongStage)
	require.Equal(t, session.StageDocument, sess.Stage())
}

func TestDocumentPassAdvancesToLiveness(t *testing.T) {
	h := newHarness(t, testConfig())
	h.passDocument(t)

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "liveness", snap.Stage)
	require.Equal(t, "pass", snap.Status)
	require.Equal(t, "passport", snap.DocumentType)
	require.False(t, snap.CameraOpen)

	_, held := h.camera.Active()
	require.False(t, held)
	require.Equal(t, []string{"document_front", "selfie"}, slices.Sorted(slices.Values(h.service.files(verification.DocumentPath))))
}

func TestLicenseNeedsBothSides(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.orch.OpenDocumentCamera(ctx)
	require.NoError(t, err)
	_, err = h.orch.CaptureSide(ctx, capture.SideFront)
	require.NoError(t, err)

	_, err = h.orch.SubmitDocument(ctx)
	require.ErrorIs(t, err, apperr.ErrNotReady)
	require.Zero(t, h.service.count(verification.DocumentPath))

	_, err = h.orch.CaptureSide(ctx, capture.SideBack)
	require.NoError(t, err)
	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.True(t, snap.ReadyToUpload)
	require.Equal(t, []string{"front", "back"}, snap.CapturedSides)

	_, err = h.orch.SubmitDocument(ctx)
	require.NoError(t, err)
}

func TestCaptureWithoutCameraIsNotReady(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.orch.CaptureSide(context.Background(), capture.SideFront)
	require.ErrorIs(t, err, apperr.ErrNotReady)
}

func TestDocumentFailureClearsDocumentStage(t *testing.T) {
	h := newHarness(t, testConfig())
	h.service.setStatus(verification.DocumentPath, "FAIL")
	ctx := context.Background()

	require.NoError(t, h.orch.SelectDocumentType(ctx, "passport"))
	_, err := h.orch.OpenDocumentCamera(ctx)
	require.NoError(t, err)
	_, err = h.orch.CaptureSide(ctx, capture.SideFront)
	require.NoError(t, err)

	result, err := h.orch.SubmitDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, verification.StatusFail, result.Status)

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "document", snap.Stage)
	require.Equal(t, "fail", snap.Status)
	require.Empty(t, snap.CapturedSides)

	all, err := h.store.GetAll(ctx, snap.ID)
	require.NoError(t, err)
	for _, k := range session.StageKeys(session.StageDocument) {
		require.NotContains(t, all, k)
	}

	// A new attempt goes through once the user recaptures.
	h.service.setStatus(verification.DocumentPath, "PASS")
	_, err = h.orch.OpenDocumentCamera(ctx)
	require.NoError(t, err)
	_, err = h.orch.CaptureSide(ctx, capture.SideFront)
	require.NoError(t, err)
	_, err = h.orch.SubmitDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, h.service.count(verification.DocumentPath))
}

func TestLivenessRequiresDocumentPass(t *testing.T) {
	h := newHarness(t, testConfig())
	err := h.orch.StartLiveness(context.Background())
	require.ErrorIs(t, err, apperr.ErrWrongStage)
	_, held := h.camera.Active()
	require.False(t, held)
}

func TestLivenessRunCompletesSession(t *testing.T) {
	h := newHarness(t, testConfig())
	h.passDocument(t)

	require.NoError(t, h.orch.StartLiveness(context.Background()))
	require.ErrorIs(t, h.orch.StartLiveness(context.Background()), apperr.ErrWrongStage)
	h.drive(t, h.orch.LivenessDone())

	result, err := h.orch.LivenessResult()
	require.NoError(t, err)
	require.True(t, result.Passed())

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "complete", snap.Stage)
	require.Equal(t, "pass", snap.Status)
	require.Equal(t, "submitted", snap.Liveness.Phase)
	require.Equal(t, 1, h.service.count(verification.LivenessPath))
	require.Equal(t, []string{"face_video"}, h.service.files(verification.LivenessPath))

	_, held := h.camera.Active()
	require.False(t, held)

	// The document cache survives the liveness stage.
	all, err := h.store.GetAll(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Equal(t, "PASS", all[session.KeyDocumentStatus])
	require.Equal(t, "PASS", all[session.KeyLivenessStatus])
	require.NotEmpty(t, all[session.KeyFaceSelfie])

	require.ErrorIs(t, h.orch.Retry(context.Background()), apperr.ErrWrongStage)
}

func TestLivenessFramesUpload(t *testing.T) {
	cfg := testConfig()
	cfg.LivenessUpload = UploadFrames
	h := newHarness(t, cfg)
	h.passDocument(t)

	require.NoError(t, h.orch.StartLiveness(context.Background()))
	h.drive(t, h.orch.LivenessDone())
	require.Equal(t, []string{"face_images"}, h.service.files(verification.LivenessPath))
}

func TestLivenessFailureKeepsDocumentResult(t *testing.T) {
	h := newHarness(t, testConfig())
	h.passDocument(t)
	h.service.setStatus(verification.LivenessPath, "FAIL")

	require.NoError(t, h.orch.StartLiveness(context.Background()))
	h.drive(t, h.orch.LivenessDone())

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "liveness", snap.Stage)
	require.Equal(t, "fail", snap.Status)

	all, err := h.store.GetAll(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Equal(t, "PASS", all[session.KeyDocumentStatus])
	require.NotContains(t, all, session.KeyLivenessStatus)

	// Retry at liveness keeps the stage and allows a new attempt.
	require.NoError(t, h.orch.Retry(context.Background()))
	h.service.setStatus(verification.LivenessPath, "PASS")
	require.NoError(t, h.orch.StartLiveness(context.Background()))
	h.drive(t, h.orch.LivenessDone())

	snap, err = h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "complete", snap.Stage)
}

func TestCancelLivenessReleasesCameraAndSkipsSubmit(t *testing.T) {
	h := newHarness(t, testConfig())
	h.passDocument(t)

	require.NoError(t, h.orch.StartLiveness(context.Background()))
	s, held := h.camera.Active()
	require.True(t, held)
	require.Equal(t, media.RoleFace, s.Role())

	h.clock.Advance(300 * time.Millisecond)
	h.orch.CancelLiveness()
	require.True(t, s.Released())
	_, held = h.camera.Active()
	require.False(t, held)

	select {
	case <-h.orch.LivenessDone():
	case <-time.After(5 * time.Second):
		t.Fatal("liveness run did not stop")
	}
	require.Eventually(t, func() bool { return h.clock.Waiters() == 0 }, time.Second, time.Millisecond)
	require.Zero(t, h.service.count(verification.LivenessPath))

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "liveness", snap.Stage)
	require.NotNil(t, snap.LastError)
	require.Equal(t, "device", snap.LastError.Kind)
	require.True(t, snap.LastError.Retryable)
}

func TestRestartStartsFreshSession(t *testing.T) {
	h := newHarness(t, testConfig())
	h.passDocument(t)
	before, err := h.orch.Snapshot()
	require.NoError(t, err)

	require.NoError(t, h.orch.Restart(context.Background()))
	after, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.NotEqual(t, before.ID, after.ID)
	require.NotEqual(t, before.ExternalUserID, after.ExternalUserID)
	require.Equal(t, "document", after.Stage)
	require.Equal(t, "license", after.DocumentType)

	old, err := h.store.GetAll(context.Background(), before.ID)
	require.NoError(t, err)
	require.Empty(t, old)
}

func TestResumeRestoresCapturedSides(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_, err := h.orch.OpenDocumentCamera(ctx)
	require.NoError(t, err)
	front, err := h.orch.CaptureSide(ctx, capture.SideFront)
	require.NoError(t, err)
	snap, err := h.orch.Snapshot()
	require.NoError(t, err)

	require.NoError(t, h.orch.Resume(ctx, snap.ID))
	restored, ok := h.orch.DocumentArtifact(capture.SideFront)
	require.True(t, ok)
	require.Equal(t, front.Bytes(), restored.Bytes())
	require.Equal(t, front.Width(), restored.Width())

	require.ErrorIs(t, h.orch.Resume(ctx, "missing"), apperr.ErrNoSession)
}

func TestNewRejectsUnknownPolicies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfiePolicy = "mirror"
	_, err := New(cfg, nil, nil, nil)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.LivenessUpload = "gif"
	_, err = New(cfg, nil, nil, nil)
	require.Error(t, err)
}

func preparePassport(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.orch.SelectDocumentType(ctx, "passport"))
	_, err := h.orch.OpenDocumentCamera(ctx)
	require.NoError(t, err)
	_, err = h.orch.CaptureSide(ctx, capture.SideFront)
	require.NoError(t, err)
}

func TestConcurrentDocumentSubmitsMakeOneCall(t *testing.T) {
	h := newHarness(t, testConfig())
	preparePassport(t, h)

	start := make(chan struct{})
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			<-start
			_, err := h.orch.SubmitDocument(context.Background())
			errs <- err
		}()
	}
	close(start)

	var succeeded int
	for range 2 {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, verification.ErrDuplicateSubmission) || errors.Is(err, apperr.ErrWrongStage), err)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, h.service.count(verification.DocumentPath))
}

func TestPendingDocumentSubmissionBlocksRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	preparePassport(t, h)
	release := h.service.hold(t, verification.DocumentPath)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.SubmitDocument(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.service.pending(verification.DocumentPath) == 1 }, 5*time.Second, time.Millisecond)

	require.ErrorIs(t, h.orch.Retry(ctx), apperr.ErrWrongStage)
	require.ErrorIs(t, h.orch.Restart(ctx), apperr.ErrWrongStage)
	_, err := h.orch.SubmitDocument(ctx)
	require.ErrorIs(t, err, verification.ErrDuplicateSubmission)
	require.True(t, h.orch.verifier.Submitted(verification.KindDocument))

	release()
	require.NoError(t, <-done)
	require.Equal(t, 1, h.service.count(verification.DocumentPath))

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "liveness", snap.Stage)
}

func TestPendingLivenessSubmissionBlocksRetry(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.passDocument(t)
	release := h.service.hold(t, verification.LivenessPath)

	require.NoError(t, h.orch.StartLiveness(ctx))
	h.driveUntil(t, func() bool { return h.service.pending(verification.LivenessPath) == 1 })

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "submitting", snap.Liveness.Phase)

	require.ErrorIs(t, h.orch.Retry(ctx), apperr.ErrWrongStage)
	require.ErrorIs(t, h.orch.Restart(ctx), apperr.ErrWrongStage)
	require.ErrorIs(t, h.orch.Resume(ctx, snap.ID), apperr.ErrWrongStage)
	require.ErrorIs(t, h.orch.StartLiveness(ctx), apperr.ErrWrongStage)
	require.True(t, h.orch.verifier.Submitted(verification.KindLiveness))

	release()
	h.drive(t, h.orch.LivenessDone())
	require.Equal(t, 1, h.service.count(verification.LivenessPath))

	snap, err = h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "complete", snap.Stage)
}

func TestEmptyRecordingReturnsToPreCapture(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.passDocument(t)
	h.device.blank.Store(true)

	require.NoError(t, h.orch.StartLiveness(ctx))
	h.drive(t, h.orch.LivenessDone())

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "liveness", snap.Stage)
	require.NotNil(t, snap.LastError)
	require.Equal(t, "capture", snap.LastError.Kind)
	require.Zero(t, h.service.count(verification.LivenessPath))
	_, held := h.camera.Active()
	require.False(t, held)

	_, err = h.orch.LivenessResult()
	var capErr *apperr.CaptureError
	require.ErrorAs(t, err, &capErr)

	h.device.blank.Store(false)
	require.NoError(t, h.orch.StartLiveness(ctx))
	h.drive(t, h.orch.LivenessDone())

	snap, err = h.orch.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "complete", snap.Stage)
	require.Equal(t, 1, h.service.count(verification.LivenessPath))
}

func TestCameraSelfieIsSubmittedWithDocument(t *testing.T) {
	cfg := testConfig()
	cfg.SelfiePolicy = SelfieCamera
	h := newHarness(t, cfg)
	ctx := context.Background()
	preparePassport(t, h)

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.True(t, snap.SelfieRequired)
	require.False(t, snap.ReadyToUpload)
	_, err = h.orch.SubmitDocument(ctx)
	require.ErrorIs(t, err, apperr.ErrNotReady)
	require.Zero(t, h.service.count(verification.DocumentPath))

	selfie, err := h.orch.CaptureSelfie(ctx)
	require.NoError(t, err)
	require.Equal(t, SelfieFilename, selfie.Filename())
	_, held := h.camera.Active()
	require.False(t, held)

	// The selfie comes back with a resumed session.
	require.NoError(t, h.orch.Resume(ctx, snap.ID))
	snap, err = h.orch.Snapshot()
	require.NoError(t, err)
	require.True(t, snap.SelfieCaptured)
	require.True(t, snap.ReadyToUpload)

	result, err := h.orch.SubmitDocument(ctx)
	require.NoError(t, err)
	require.True(t, result.Passed())
	require.Equal(t, selfie.Size(), h.service.fileSize(verification.DocumentPath, "selfie"))
	require.Positive(t, h.service.fileSize(verification.DocumentPath, "selfie"))
}

func TestFailedDocumentDropsCameraSelfie(t *testing.T) {
	cfg := testConfig()
	cfg.SelfiePolicy = SelfieCamera
	h := newHarness(t, cfg)
	h.service.setStatus(verification.DocumentPath, "FAIL")
	ctx := context.Background()
	preparePassport(t, h)
	_, err := h.orch.CaptureSelfie(ctx)
	require.NoError(t, err)

	_, err = h.orch.SubmitDocument(ctx)
	require.NoError(t, err)

	snap, err := h.orch.Snapshot()
	require.NoError(t, err)
	require.False(t, snap.SelfieCaptured)
	all, err := h.store.GetAll(ctx, snap.ID)
	require.NoError(t, err)
	require.NotContains(t, all, session.KeyDocumentSelfie)
}

func TestEmptySelfiePolicy(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.orch.CaptureSelfie(context.Background())
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	h.passDocument(t)
	require.Contains(t, h.service.files(verification.DocumentPath), "selfie")
	require.Zero(t, h.service.fileSize(verification.DocumentPath, "selfie"))
}
