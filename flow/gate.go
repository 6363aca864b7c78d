// Package flow drives a verification session from document capture through
// the liveness challenge to a final outcome.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"go-kyc-orchestrator/apperr"
	"go-kyc-orchestrator/metrics"
	"go-kyc-orchestrator/session"
	"go-kyc-orchestrator/verification"
)

// Decision is the outcome of passing a result through the StageGate.
type Decision struct {
	From     session.Stage
	To       session.Stage
	Advanced bool
}

// StageGate turns verification results into stage transitions.
type StageGate struct {
	Metrics *metrics.Metrics
}

// Next decides where stage goes after result: a passing result moves one stage
// forward, anything else stays put.
func (g StageGate) Next(stage session.Stage, result verification.Result) Decision {
	if stage == session.StageComplete {
		return Decision{From: stage, To: stage}
	}
	if result.Passed() {
		return Decision{From: stage, To: stage.Next(), Advanced: true}
	}
	return Decision{From: stage, To: stage}
}

// Apply records result for stage on sess and performs the transition. A result
// that does not pass clears the cached data of that stage only.
func (g StageGate) Apply(ctx context.Context, sess *session.Session, stage session.Stage, result verification.Result) (Decision, error) {
	if cur := sess.Stage(); cur != stage || stage == session.StageComplete {
		return Decision{From: cur, To: cur}, fmt.Errorf("%w: result for %s while session is at %s", apperr.ErrWrongStage, stage, cur)
	}
	if err := sess.Record(ctx, stage, result); err != nil {
		return Decision{}, err
	}

	d := g.Next(stage, result)
	g.Metrics.IncrementTransition(stage.String(), d.Advanced)
	if d.Advanced {
		if err := sess.Advance(ctx, d.To); err != nil {
			return d, err
		}
		return d, nil
	}

	sess.ClearStage(ctx, stage)
	slog.Info("Verification did not pass, stage data cleared", "session_id", sess.ID(), "stage", stage, "status", result.RawStatus)
	return d, nil
}
