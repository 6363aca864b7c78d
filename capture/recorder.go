package capture

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/media"
)

const (
	DefaultRecorderFPS       = 10
	DefaultFramesPerChunk    = 10
	LivenessVideoFilename    = "liveness_video.mjpeg"
	LivenessKeyFrameFilename = "liveness_frame.jpg"
)

var (
	ErrAlreadyFinalized = errors.New("recording already finalized")
	ErrRecorderStarted  = errors.New("recorder already started")
)

// RecorderConfig sets the sampling rate and chunk size of a Recorder. Zero
// values take the defaults.
type RecorderConfig struct {
	FPS            int
	FramesPerChunk int
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.FPS <= 0 {
		c.FPS = DefaultRecorderFPS
	}
	if c.FramesPerChunk <= 0 {
		c.FramesPerChunk = DefaultFramesPerChunk
	}
	return c
}

// Recorder samples a stream at a fixed rate into Motion-JPEG chunks. One
// Recorder serves a single liveness attempt.
type Recorder struct {
	enc   *Encoder
	clock clock.Clock
	cfg   RecorderConfig

	mu       sync.Mutex
	src      media.FrameSource
	chunks   []Chunk
	pending  [][]byte
	width    int
	height   int
	sampled  int
	keyFrame media.Frame
	started  bool

	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	finalized atomic.Bool
}

// NewRecorder creates a recorder that encodes samples with enc.
func NewRecorder(enc *Encoder, clk clock.Clock, cfg RecorderConfig) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{enc: enc, clock: clk, cfg: cfg.withDefaults(), stop: make(chan struct{})}
}

// Start takes the first sample immediately and keeps sampling src until Stop
// is called or the stream is released.
func (r *Recorder) Start(src media.FrameSource) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRecorderStarted
	}
	r.started = true
	r.src = src
	r.mu.Unlock()

	interval := time.Second / time.Duration(r.cfg.FPS)
	ticker := r.clock.NewTicker(interval)
	r.sample()

	slog.Debug("Recorder started", "fps", r.cfg.FPS, "frames_per_chunk", r.cfg.FramesPerChunk)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				r.sample()
			case <-src.Done():
				slog.Debug("Recorder source released")
				return
			case <-r.stop:
				return
			}
		}
	}()
	return nil
}

func (r *Recorder) sample() {
	r.mu.Lock()
	src := r.src
	r.mu.Unlock()

	frame, err := src.Frame()
	if err != nil {
		slog.Debug("Recorder skipped frame", "error", err)
		return
	}
	data, err := r.enc.encodeFrame(frame)
	if err != nil {
		slog.Debug("Recorder failed to encode frame", "seq", frame.Seq, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.width == 0 {
		r.width, r.height = frame.Width(), frame.Height()
	}
	r.keyFrame = frame
	r.sampled++
	r.pending = append(r.pending, data)
	if len(r.pending) >= r.cfg.FramesPerChunk {
		r.flushLocked()
	}
}

func (r *Recorder) flushLocked() {
	if len(r.pending) == 0 {
		return
	}
	c, err := newChunk(r.pending, r.width, r.height)
	r.pending = nil
	if err != nil {
		return
	}
	r.chunks = append(r.chunks, c)
}

// Stop halts sampling and flushes the partial chunk. It is idempotent.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Finalize stops the recorder and joins its chunks into one video artifact.
// Only the first call does any work; later calls return ErrAlreadyFinalized.
func (r *Recorder) Finalize() (Artifact, error) {
	if !r.finalized.CompareAndSwap(false, true) {
		return Artifact{}, ErrAlreadyFinalized
	}
	r.Stop()

	r.mu.Lock()
	chunks := append([]Chunk(nil), r.chunks...)
	sampled := r.sampled
	r.mu.Unlock()

	a, err := r.enc.EncodeVideo(chunks, LivenessVideoFilename)
	if err != nil {
		var capErr *apperr.CaptureError
		if errors.As(err, &capErr) {
			slog.Warn("Liveness recording is empty", "sampled", sampled)
		}
		return Artifact{}, err
	}
	slog.Info("Liveness recording finalized", "artifact_id", a.ID(), "frames", a.Frames(), "size", a.Size())
	return a, nil
}

// KeyFrame returns the most recently sampled frame.
func (r *Recorder) KeyFrame() (media.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keyFrame, r.keyFrame.Image != nil
}

// KeyFrameArtifact encodes the most recent frame as a still.
func (r *Recorder) KeyFrameArtifact() (Artifact, error) {
	f, ok := r.KeyFrame()
	if !ok {
		return Artifact{}, &apperr.CaptureError{Op: "key frame", Err: ErrEmptyFrame}
	}
	return r.enc.EncodeStill(f, LivenessKeyFrameFilename)
}

func (r *Recorder) Sampled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sampled
}

func (r *Recorder) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}
