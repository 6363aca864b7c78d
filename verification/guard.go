package verification

import (
	"errors"
	"sync/atomic"
)

// Kind is the verification endpoint a submission goes to.
type Kind int

const (
	KindDocument Kind = iota
	KindLiveness
)

func (k Kind) String() string {
	if k == KindLiveness {
		return "liveness"
	}
	return "document"
}

var ErrDuplicateSubmission = errors.New("verification already submitted")

// SubmissionGuard admits one submission per stage attempt. It stays held after
// a successful submission until Reset; a failed submission releases it.
type SubmissionGuard struct {
	held atomic.Bool
}

// Acquire reports whether the caller may submit.
func (g *SubmissionGuard) Acquire() bool {
	return g.held.CompareAndSwap(false, true)
}

func (g *SubmissionGuard) Reset() {
	g.held.Store(false)
}

func (g *SubmissionGuard) Held() bool {
	return g.held.Load()
}
