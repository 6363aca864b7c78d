package challenge

import (
	"context"
	"errors"
	"log/slog"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/media"
)

var ErrCancelled = errors.New("challenge cancelled")

// Runner drives a Sequencer from a ticker.
type Runner struct {
	Clock clock.Clock
	Log   *slog.Logger
}

// Run starts seq and ticks it until it completes, ctx is done or streamDone is
// closed. onEvent is called synchronously, in order, for every event. A
// cancelled run returns a recoverable DeviceError and leaves no ticker armed.
func (r Runner) Run(ctx context.Context, seq *Sequencer, streamDone <-chan struct{}, onEvent func(Event)) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	emit := func(events []Event) {
		for _, ev := range events {
			if ev.Type != EventProgress {
				log.Debug("Challenge event", "type", ev.Type, "step", ev.Step, "remaining", ev.Remaining)
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}

	ticker := clk.NewTicker(seq.Config().Tick)
	defer ticker.Stop()

	events, err := seq.Start(clk.Now())
	if err != nil {
		return err
	}
	emit(events)

	for !seq.Phase().Terminal() {
		select {
		case <-ctx.Done():
			emit(seq.Cancel(clk.Now()))
			log.Info("Challenge cancelled", "step", seq.Step(), "reason", ctx.Err())
			return &apperr.DeviceError{Op: "challenge", Err: errors.Join(ErrCancelled, context.Cause(ctx)), Recoverable: true}
		case <-streamDone:
			emit(seq.Cancel(clk.Now()))
			log.Warn("Camera stream lost during challenge", "step", seq.Step())
			return &apperr.DeviceError{Op: "challenge", Err: media.ErrStreamReleased, Recoverable: true}
		case <-ticker.C():
			emit(seq.Tick(clk.Now()))
		}
	}
	log.Info("Challenge complete", "elapsed", seq.Elapsed())
	return nil
}
