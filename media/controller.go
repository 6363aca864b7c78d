package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/clock"

	"github.com/google/uuid"
)

// DefaultReadyTimeout bounds the wait for stream metadata before a stream is
// declared ready anyway.
const DefaultReadyTimeout = 2 * time.Second

// Controller acquires and releases camera streams. The camera is the single
// shared mutable resource: at most one Stream is active at any time.
type Controller struct {
	device       Device
	clock        clock.Clock
	readyTimeout time.Duration
	log          *slog.Logger

	mu     sync.Mutex
	active *Stream
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock used for the ready timeout.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithReadyTimeout sets how long to wait for metadata before a stream is
// considered ready anyway.
func WithReadyTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.readyTimeout = d
		}
	}
}

// WithLogger sets the logger for camera events.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// NewController creates a controller that hands out device to one stream at a
// time.
func NewController(device Device, opts ...Option) *Controller {
	c := &Controller{
		device:       device,
		clock:        clock.Real(),
		readyTimeout: DefaultReadyTimeout,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire opens the camera for c.Role. A stream still held by the same role is
// released first (re-entry to a capture screen); a stream held by another role
// makes Acquire fail with ErrCameraBusy.
func (c *Controller) Acquire(ctx context.Context, cons Constraints) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if held := c.active; held != nil {
		if held.role != cons.Role {
			c.log.Warn("Camera acquisition rejected", "role", cons.Role, "held_by", held.role)
			return nil, &apperr.DeviceError{Op: "acquire", Err: ErrCameraBusy, Recoverable: true}
		}
		c.log.Debug("Releasing stale stream before re-acquire", "role", cons.Role, "stream_id", held.id)
		held.stop()
		c.active = nil
	}

	c.log.Debug("Opening camera", "role", cons.Role, "facing_mode", cons.FacingMode, "width", cons.Width, "height", cons.Height)
	src, err := c.device.Open(ctx, cons)
	if err != nil {
		c.log.Warn("Failed to open camera", "role", cons.Role, "error", err)
		return nil, &apperr.DeviceError{Op: "acquire", Err: fmt.Errorf("open %s camera: %w", cons.Role, err)}
	}

	s := &Stream{
		id:          uuid.NewString(),
		role:        cons.Role,
		constraints: cons,
		src:         src,
		ctrl:        c,
		acquiredAt:  c.clock.Now(),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.active = s
	go c.watchReady(s)

	c.log.Info("Camera acquired", "role", cons.Role, "stream_id", s.id)
	return s, nil
}

// Release stops every track of s. Safe to call more than once and with nil.
func (c *Controller) Release(s *Stream) {
	if s == nil {
		return
	}
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()

	if s.stop() {
		c.log.Info("Camera released", "role", s.role, "stream_id", s.id)
	}
}

// Active returns the stream currently holding the camera, if any.
func (c *Controller) Active() (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != nil
}

// Close releases whatever stream is active.
func (c *Controller) Close() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s != nil && s.stop() {
		c.log.Info("Camera released on shutdown", "role", s.role, "stream_id", s.id)
	}
}

func (c *Controller) watchReady(s *Stream) {
	timer := c.clock.NewTimer(c.readyTimeout)
	defer timer.Stop()

	select {
	case <-s.src.Metadata():
		c.log.Debug("Stream metadata loaded", "stream_id", s.id)
	case <-timer.C():
		c.log.Debug("Stream metadata wait timed out, marking ready", "stream_id", s.id, "timeout", c.readyTimeout)
	case <-s.done:
		return
	}
	s.markReady()
}

// Stream is an exclusively owned camera handle.
type Stream struct {
	id          string
	role        Role
	constraints Constraints
	src         Source
	ctrl        *Controller
	acquiredAt  time.Time

	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	stopOnce sync.Once
}

func (s *Stream) ID() string               { return s.id }
func (s *Stream) Role() Role               { return s.role }
func (s *Stream) Constraints() Constraints { return s.constraints }

// Ready is closed once the stream can be captured from.
func (s *Stream) Ready() <-chan struct{} { return s.ready }

// Done is closed when the stream is released.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) IsReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *Stream) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the stream is ready, released or ctx ends.
func (s *Stream) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return &apperr.DeviceError{Op: "wait ready", Err: ErrStreamReleased, Recoverable: true}
	case <-ctx.Done():
		return &apperr.DeviceError{Op: "wait ready", Err: ctx.Err(), Recoverable: true}
	}
}

// Frame returns the current frame of a ready stream.
func (s *Stream) Frame() (Frame, error) {
	if s.Released() {
		return Frame{}, &apperr.DeviceError{Op: "read frame", Err: ErrStreamReleased, Recoverable: true}
	}
	if !s.IsReady() {
		return Frame{}, &apperr.DeviceError{Op: "read frame", Err: ErrNotReady, Recoverable: true}
	}
	f, err := s.src.Read()
	if err != nil {
		return Frame{}, &apperr.DeviceError{Op: "read frame", Err: err, Recoverable: true}
	}
	return f, nil
}

func (s *Stream) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// stop reports whether this call performed the release.
func (s *Stream) stop() bool {
	stopped := false
	s.stopOnce.Do(func() {
		for _, t := range s.src.Tracks() {
			t.Stop()
		}
		close(s.done)
		stopped = true
	})
	return stopped
}
