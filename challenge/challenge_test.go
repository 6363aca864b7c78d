package challenge

import (
	"context"
	"testing"
	"time"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/clock"
	"go-kyc-orchestrator/media"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func eventsOf(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestPrompts(t *testing.T) {
	require.Equal(t, "Turn your face to the RIGHT", Right.Prompt())
	require.Equal(t, "Turn your face to the LEFT", Left.Prompt())
	require.Equal(t, "Look UP", Up.Prompt())
	require.Equal(t, "Look DOWN", Down.Prompt())
	require.Equal(t, "→", Right.Icon())

	d, err := ParseDirection("DOWN")
	require.NoError(t, err)
	require.Equal(t, Down, d)
	_, err = ParseDirection("sideways")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Steps = nil
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Steps = []Step{{Direction: Up}}
	require.Error(t, cfg.Validate())

	_, err := NewSequencer(Config{})
	require.Error(t, err)
}

func TestSequencerTimingIsExact(t *testing.T) {
	cfg := DefaultConfig()
	// Jittered ticks must not change when phases end.
	for _, tick := range []time.Duration{100 * time.Millisecond, 130 * time.Millisecond, 970 * time.Millisecond} {
		seq, err := NewSequencer(cfg)
		require.NoError(t, err)

		events, err := seq.Start(epoch)
		require.NoError(t, err)
		now := epoch
		for i := 0; !seq.Phase().Terminal() && i < 10000; i++ {
			now = now.Add(tick)
			events = append(events, seq.Tick(now)...)
		}
		require.Equal(t, PhaseComplete, seq.Phase())

		want := 4*3*time.Second + 3*800*time.Millisecond + 500*time.Millisecond
		require.Equal(t, want, cfg.Duration())
		require.Equal(t, want, seq.Elapsed())

		countdown := eventsOf(events, EventCountdown)
		require.Len(t, countdown, 3)
		for i, ev := range countdown {
			require.Equal(t, 3-i, ev.Remaining)
			require.Equal(t, epoch.Add(time.Duration(i)*time.Second), ev.At)
		}

		start := eventsOf(events, EventRecordingStart)
		require.Len(t, start, 1)
		require.Equal(t, epoch.Add(3*time.Second), start[0].At)

		steps := eventsOf(events, EventStepStart)
		require.Len(t, steps, 4)
		for i, ev := range steps {
			require.Equal(t, i, ev.Step)
			require.Equal(t, cfg.Steps[i].Direction, ev.Direction)
			at := start[0].At.Add(time.Duration(i) * (3*time.Second + 800*time.Millisecond))
			require.Equal(t, at, ev.At)
		}

		stop := eventsOf(events, EventRecordingStop)
		require.Len(t, stop, 1)
		require.Equal(t, start[0].At.Add(want), stop[0].At)
		require.Len(t, eventsOf(events, EventComplete), 1)
		require.Equal(t, 1.0, seq.Overall())
	}
}

func TestSequencerProgressAndOrdering(t *testing.T) {
	seq, err := NewSequencer(DefaultConfig())
	require.NoError(t, err)
	_, err = seq.Start(epoch)
	require.NoError(t, err)

	_, err = seq.Start(epoch)
	require.ErrorIs(t, err, ErrNotIdle)

	require.False(t, seq.RecordingActive())
	seq.Tick(epoch.Add(3 * time.Second))
	require.Equal(t, PhaseStep, seq.Phase())
	require.True(t, seq.RecordingActive())

	events := seq.Tick(epoch.Add(4500 * time.Millisecond))
	require.Len(t, events, 1)
	require.Equal(t, EventProgress, events[0].Type)
	require.InDelta(t, 0.5, events[0].Hold, 1e-9)
	require.Equal(t, 0.0, events[0].Overall)

	seq.Tick(epoch.Add(6100 * time.Millisecond))
	require.Equal(t, PhasePause, seq.Phase())
	require.Equal(t, 0.25, seq.Overall())

	seq.Tick(epoch.Add(6800 * time.Millisecond))
	require.Equal(t, PhaseStep, seq.Phase())
	require.Equal(t, 1, seq.Step())
}

func TestSequencerCancel(t *testing.T) {
	seq, err := NewSequencer(DefaultConfig())
	require.NoError(t, err)
	_, err = seq.Start(epoch)
	require.NoError(t, err)

	events := seq.Cancel(epoch.Add(time.Second))
	require.Len(t, events, 1)
	require.Equal(t, EventCancelled, events[0].Type)
	require.Equal(t, PhaseCancelled, seq.Phase())
	require.Empty(t, seq.Tick(epoch.Add(time.Hour)))
	require.Empty(t, seq.Cancel(epoch.Add(time.Hour)))
}

func TestRunnerCompletesOnFakeClock(t *testing.T) {
	clk := clock.NewFake(epoch)
	cfg := DefaultConfig()
	seq, err := NewSequencer(cfg)
	require.NoError(t, err)

	var got []Event
	done := make(chan error, 1)
	go func() {
		done <- Runner{Clock: clk}.Run(context.Background(), seq, make(chan struct{}), func(ev Event) {
			got = append(got, ev)
		})
	}()
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			require.Equal(t, 0, clk.Waiters())
			stop := eventsOf(got, EventRecordingStop)
			require.Len(t, stop, 1)
			require.Equal(t, epoch.Add(3*time.Second+cfg.Duration()), stop[0].At)
			return
		case <-deadline:
			t.Fatal("runner did not complete")
		default:
			clk.Advance(cfg.Tick)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunnerCancelledByContext(t *testing.T) {
	clk := clock.NewFake(epoch)
	seq, err := NewSequencer(DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Runner{Clock: clk}.Run(ctx, seq, nil, nil)
	}()
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)

	cancel()
	err = <-done
	var devErr *apperr.DeviceError
	require.ErrorAs(t, err, &devErr)
	require.True(t, devErr.Recoverable)
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, PhaseCancelled, seq.Phase())
	require.Equal(t, 0, clk.Waiters())
}

func TestRunnerCancelledByStreamLoss(t *testing.T) {
	clk := clock.NewFake(epoch)
	seq, err := NewSequencer(DefaultConfig())
	require.NoError(t, err)

	streamDone := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Runner{Clock: clk}.Run(context.Background(), seq, streamDone, nil)
	}()
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)

	clk.Advance(4 * time.Second)
	close(streamDone)
	err = <-done
	require.ErrorIs(t, err, media.ErrStreamReleased)
	require.Equal(t, 0, clk.Waiters())
}
