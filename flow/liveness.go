package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/capture"
	"go-kyc-orchestrator/challenge"
	"go-kyc-orchestrator/media"
	"go-kyc-orchestrator/models"
	"go-kyc-orchestrator/session"
	"go-kyc-orchestrator/verification"
)

// livenessRun is one attempt at the motion challenge.
type livenessRun struct {
	sess   *session.Session
	stream *media.Stream
	seq    *challenge.Sequencer
	rec    *capture.Recorder
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	phase      challenge.Phase
	last       challenge.Event
	countdown  int
	recording  bool
	cancelled  bool
	submitting bool
	err        error
	result     *verification.Result
}

func (r *livenessRun) observe(ev challenge.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case challenge.EventCountdown:
		r.phase = challenge.PhaseCountdown
		r.countdown = ev.Remaining
	case challenge.EventRecordingStart:
		r.countdown = 0
		r.recording = true
	case challenge.EventStepStart, challenge.EventProgress:
		r.phase = challenge.PhaseStep
	case challenge.EventStepComplete:
		r.phase = challenge.PhasePause
		if ev.Overall >= 1 {
			r.phase = challenge.PhaseSettle
		}
	case challenge.EventRecordingStop:
		r.recording = false
	case challenge.EventComplete:
		r.phase = challenge.PhaseComplete
	case challenge.EventCancelled:
		r.phase = challenge.PhaseCancelled
		r.recording = false
	}
	r.last = ev
}

func (r *livenessRun) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *livenessRun) error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// beginSubmit reports whether the run may still submit.
func (r *livenessRun) beginSubmit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false
	}
	r.submitting = true
	return true
}

// pending reports whether the liveness upload is on the wire.
func (r *livenessRun) pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitting && r.result == nil && r.err == nil
}

func (r *livenessRun) snapshot() *models.LivenessSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	phase := r.phase
	snap := &models.LivenessSnapshot{
		Phase:     phase.String(),
		Step:      r.last.Step,
		Countdown: r.countdown,
		Hold:      r.last.Hold,
		Overall:   r.last.Overall,
		Recording: r.recording,
	}
	if phase == challenge.PhaseStep || phase == challenge.PhasePause {
		d := r.last.Direction
		snap.Direction = d.String()
		snap.Prompt = d.Prompt()
		snap.Icon = d.Icon()
	}
	if phase == challenge.PhaseComplete {
		switch {
		case r.submitting && r.result == nil && r.err == nil:
			snap.Phase = "submitting"
		case r.result != nil:
			snap.Phase = "submitted"
		}
	}
	return snap
}

// StartLiveness acquires the front camera, waits for it to be ready and runs
// the challenge in the background. The recording is submitted when the
// challenge completes.
func (o *Orchestrator) StartLiveness(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireStage(session.StageLiveness); err != nil {
		return err
	}
	if o.live != nil && !o.live.finished() {
		return fmt.Errorf("%w: liveness challenge already running", apperr.ErrWrongStage)
	}
	if o.verifier.Submitted(verification.KindLiveness) {
		return o.fail(verification.ErrDuplicateSubmission)
	}
	o.closeDocumentCameraLocked()

	seq, err := challenge.NewSequencer(o.cfg.Challenge)
	if err != nil {
		return err
	}
	stream, err := o.camera.Acquire(ctx, media.FaceConstraints())
	if err != nil {
		return o.fail(err)
	}
	if err := stream.WaitReady(ctx); err != nil {
		o.camera.Release(stream)
		return o.fail(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &livenessRun{
		sess:   o.sess,
		stream: stream,
		seq:    seq,
		rec:    capture.NewRecorder(o.enc, o.clock, o.cfg.Recorder),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.live = run
	o.lastErr = nil

	o.log.Info("Liveness challenge started", "session_id", o.sess.ID(), "stream_id", stream.ID(), "steps", len(o.cfg.Challenge.Steps))
	go o.runLiveness(runCtx, run)
	return nil
}

func (r *livenessRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// LivenessDone is closed when the current liveness attempt has ended,
// including its submission. It is nil when no attempt was started.
func (o *Orchestrator) LivenessDone() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live == nil {
		return nil
	}
	return o.live.done
}

// CancelLiveness is the teardown of the liveness screen: the camera is
// released before it returns and the run will not start a submission.
func (o *Orchestrator) CancelLiveness() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLivenessLocked()
}

func (o *Orchestrator) cancelLivenessLocked() {
	run := o.live
	if run == nil {
		return
	}
	run.mu.Lock()
	run.cancelled = true
	run.mu.Unlock()
	run.cancel()
	o.camera.Release(run.stream)
}

func (o *Orchestrator) runLiveness(ctx context.Context, run *livenessRun) {
	defer close(run.done)
	defer run.cancel()

	runner := challenge.Runner{Clock: o.clock, Log: o.log}
	err := runner.Run(ctx, run.seq, run.stream.Done(), func(ev challenge.Event) {
		run.observe(ev)
		switch ev.Type {
		case challenge.EventRecordingStart:
			if err := run.rec.Start(run.stream); err != nil {
				o.log.Warn("Recorder did not start", "error", err)
			}
		case challenge.EventRecordingStop:
			run.rec.Stop()
		}
	})
	if err != nil {
		run.rec.Stop()
		o.camera.Release(run.stream)
		o.metrics.IncrementChallenge("cancelled")
		o.log.Info("Liveness challenge ended early", "session_id", run.sess.ID(), "error", err)
		run.setErr(err)
		return
	}
	o.camera.Release(run.stream)

	upload, err := o.finalizeRecording(ctx, run)
	if err != nil {
		o.metrics.IncrementChallenge("failed")
		run.setErr(err)
		return
	}
	o.metrics.IncrementChallenge("complete")

	if !run.beginSubmit() {
		o.log.Info("Liveness submission skipped, screen was left", "session_id", run.sess.ID())
		return
	}

	// The submission outlives the screen once started.
	result, err := o.verifier.SubmitLiveness(context.WithoutCancel(ctx), upload)
	if err != nil {
		run.setErr(err)
		o.mu.Lock()
		if o.live == run {
			o.lastErr = err
		}
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	run.mu.Lock()
	run.result = &result
	run.mu.Unlock()

	if o.sess != run.sess {
		o.log.Warn("Discarding liveness result for a replaced session", "session_id", run.sess.ID())
		return
	}
	d, err := o.gate.Apply(context.WithoutCancel(ctx), run.sess, session.StageLiveness, result)
	if err != nil {
		run.setErr(err)
		return
	}
	if !d.Advanced {
		o.verifier.Reset(verification.KindLiveness)
	}
}

// finalizeRecording turns the recording into the liveness upload and keeps a
// key frame as the session selfie.
func (o *Orchestrator) finalizeRecording(ctx context.Context, run *livenessRun) (verification.LivenessSubmission, error) {
	sub := verification.LivenessSubmission{UserID: run.sess.ExternalUserID()}

	video, err := run.rec.Finalize()
	if err != nil {
		return sub, err
	}

	key, keyErr := run.rec.KeyFrameArtifact()
	if keyErr == nil {
		run.sess.Cache().Set(context.WithoutCancel(ctx), session.KeyFaceSelfie, key.DataURL())
	}

	switch o.cfg.LivenessUpload {
	case UploadFrames:
		if keyErr != nil {
			return sub, keyErr
		}
		sub.Frame = key
	default:
		sub.Video = video
	}
	return sub, nil
}

// LivenessResult is the result of the last liveness submission, if any.
func (o *Orchestrator) LivenessResult() (verification.Result, error) {
	o.mu.Lock()
	run := o.live
	o.mu.Unlock()
	if run == nil {
		return verification.Result{}, apperr.ErrNotReady
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.result != nil {
		return *run.result, nil
	}
	if run.err != nil {
		return verification.Result{}, run.err
	}
	return verification.Result{}, errors.New("liveness still in progress")
}
