package challenge

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultCountdown     = 3
	DefaultCountdownTick = time.Second
	DefaultTick          = 100 * time.Millisecond
	DefaultHold          = 3 * time.Second
	DefaultPause         = 800 * time.Millisecond
	DefaultSettle        = 500 * time.Millisecond
)

// Config is the timing and the ordered steps of a challenge.
type Config struct {
	Countdown     int
	CountdownTick time.Duration
	Tick          time.Duration
	Pause         time.Duration
	Settle        time.Duration
	Steps         []Step
}

// DefaultConfig is a 3 second countdown followed by right, left, up and down.
func DefaultConfig() Config {
	return Config{
		Countdown:     DefaultCountdown,
		CountdownTick: DefaultCountdownTick,
		Tick:          DefaultTick,
		Pause:         DefaultPause,
		Settle:        DefaultSettle,
		Steps:         DefaultSteps(DefaultHold),
	}
}

// Validate rejects configs that could never complete.
func (c Config) Validate() error {
	if c.Countdown < 0 {
		return fmt.Errorf("countdown must not be negative")
	}
	if c.Countdown > 0 && c.CountdownTick <= 0 {
		return fmt.Errorf("countdown tick must be positive")
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	if c.Pause < 0 || c.Settle < 0 {
		return fmt.Errorf("pause and settle must not be negative")
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, s := range c.Steps {
		if s.Hold <= 0 {
			return fmt.Errorf("step %d: hold must be positive", i)
		}
	}
	return nil
}

// Duration is the time from the first step to completion.
func (c Config) Duration() time.Duration {
	var d time.Duration
	for _, s := range c.Steps {
		d += s.Hold
	}
	return d + time.Duration(len(c.Steps)-1)*c.Pause + c.Settle
}

// Phase is the state of a Sequencer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseStep
	PhasePause
	PhaseSettle
	PhaseComplete
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountdown:
		return "countdown"
	case PhaseStep:
		return "step"
	case PhasePause:
		return "pause"
	case PhaseSettle:
		return "settle"
	case PhaseComplete:
		return "complete"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseCancelled
}

// EventType says what happened on a Tick.
type EventType int

const (
	EventCountdown EventType = iota
	EventRecordingStart
	EventStepStart
	EventProgress
	EventStepComplete
	EventRecordingStop
	EventComplete
	EventCancelled
)

func (t EventType) String() string {
	switch t {
	case EventCountdown:
		return "countdown"
	case EventRecordingStart:
		return "recording_start"
	case EventStepStart:
		return "step_start"
	case EventProgress:
		return "progress"
	case EventStepComplete:
		return "step_complete"
	case EventRecordingStop:
		return "recording_stop"
	case EventComplete:
		return "complete"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is emitted on every observable change. At is the instant the change
// became due, which may be earlier than the tick that noticed it.
type Event struct {
	Type      EventType
	At        time.Time
	Step      int
	Direction Direction
	Remaining int
	// Hold is the fraction of the current step's hold already done.
	Hold float64
	// Overall is completed steps over total steps.
	Overall float64
}

var ErrNotIdle = errors.New("challenge already started")

// Sequencer is the challenge state machine. It owns no timers: callers feed
// it the current time and deadlines are derived from phase start times, so the
// run length does not depend on when ticks arrive.
type Sequencer struct {
	cfg Config

	phase      Phase
	phaseStart time.Time
	step       int
	remaining  int
	completed  int
	firstStep  time.Time
	finishedAt time.Time
}

// NewSequencer returns an idle sequencer for a valid cfg.
func NewSequencer(cfg Config) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid challenge config: %w", err)
	}
	return &Sequencer{cfg: cfg}, nil
}

func (s *Sequencer) Config() Config { return s.cfg }
func (s *Sequencer) Phase() Phase   { return s.phase }

// Step is the index of the active step.
func (s *Sequencer) Step() int { return s.step }

func (s *Sequencer) Overall() float64 {
	return float64(s.completed) / float64(len(s.cfg.Steps))
}

// Elapsed is the time between the start of the first step and completion.
func (s *Sequencer) Elapsed() time.Duration {
	if s.phase != PhaseComplete {
		return 0
	}
	return s.finishedAt.Sub(s.firstStep)
}

// Start leaves Idle and begins the countdown.
func (s *Sequencer) Start(now time.Time) ([]Event, error) {
	if s.phase != PhaseIdle {
		return nil, ErrNotIdle
	}
	s.phase = PhaseCountdown
	s.phaseStart = now
	s.remaining = s.cfg.Countdown
	if s.cfg.Countdown == 0 {
		return s.Tick(now), nil
	}
	return []Event{{Type: EventCountdown, At: now, Remaining: s.remaining}}, nil
}

// Tick advances through every phase whose deadline is at or before now.
func (s *Sequencer) Tick(now time.Time) []Event {
	var events []Event
	for {
		switch s.phase {
		case PhaseCountdown:
			end := s.phaseStart.Add(time.Duration(s.cfg.Countdown) * s.cfg.CountdownTick)
			for s.remaining > 1 {
				next := s.phaseStart.Add(time.Duration(s.cfg.Countdown-s.remaining+1) * s.cfg.CountdownTick)
				if now.Before(next) {
					break
				}
				s.remaining--
				events = append(events, Event{Type: EventCountdown, At: next, Remaining: s.remaining})
			}
			if now.Before(end) {
				return events
			}
			s.remaining = 0
			s.firstStep = end
			events = append(events, Event{Type: EventRecordingStart, At: end})
			events = append(events, s.enterStep(0, end))

		case PhaseStep:
			hold := s.cfg.Steps[s.step].Hold
			end := s.phaseStart.Add(hold)
			if now.Before(end) {
				done := now.Sub(s.phaseStart)
				return append(events, Event{
					Type:      EventProgress,
					At:        now,
					Step:      s.step,
					Direction: s.cfg.Steps[s.step].Direction,
					Hold:      float64(done) / float64(hold),
					Overall:   s.Overall(),
				})
			}
			s.completed++
			events = append(events, Event{
				Type:      EventStepComplete,
				At:        end,
				Step:      s.step,
				Direction: s.cfg.Steps[s.step].Direction,
				Hold:      1,
				Overall:   s.Overall(),
			})
			if s.step == len(s.cfg.Steps)-1 {
				s.phase = PhaseSettle
			} else {
				s.phase = PhasePause
			}
			s.phaseStart = end

		case PhasePause:
			end := s.phaseStart.Add(s.cfg.Pause)
			if now.Before(end) {
				return events
			}
			events = append(events, s.enterStep(s.step+1, end))

		case PhaseSettle:
			end := s.phaseStart.Add(s.cfg.Settle)
			if now.Before(end) {
				return events
			}
			s.phase = PhaseComplete
			s.phaseStart = end
			s.finishedAt = end
			events = append(events,
				Event{Type: EventRecordingStop, At: end, Step: s.step, Overall: 1},
				Event{Type: EventComplete, At: end, Step: s.step, Overall: 1},
			)

		default:
			return events
		}
	}
}

func (s *Sequencer) enterStep(i int, at time.Time) Event {
	s.phase = PhaseStep
	s.phaseStart = at
	s.step = i
	return Event{Type: EventStepStart, At: at, Step: i, Direction: s.cfg.Steps[i].Direction, Overall: s.Overall()}
}

// Cancel moves any non-terminal sequencer to Cancelled.
func (s *Sequencer) Cancel(now time.Time) []Event {
	if s.phase.Terminal() {
		return nil
	}
	s.phase = PhaseCancelled
	s.phaseStart = now
	return []Event{{Type: EventCancelled, At: now, Step: s.step, Overall: s.Overall()}}
}

// RecordingActive reports whether the recorder should be running.
func (s *Sequencer) RecordingActive() bool {
	switch s.phase {
	case PhaseStep, PhasePause, PhaseSettle:
		return true
	default:
		return false
	}
}
