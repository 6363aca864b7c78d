package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the verification flow. All methods are
// safe on a nil receiver.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Submissions by kind ("document", "liveness") and outcome ("pass", "fail", "unknown", "error")
	Submissions *prometheus.CounterVec

	SubmissionLatency *prometheus.HistogramVec

	// Submissions rejected by the one-shot guard
	DuplicateSubmissions *prometheus.CounterVec

	// Challenge runs by outcome ("complete", "cancelled", "failed")
	Challenges *prometheus.CounterVec

	// Session writes that failed and were ignored
	StorageErrors prometheus.Counter

	StageTransitions *prometheus.CounterVec
}

// New registers the flow metrics on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_verification_submissions_total",
			Help: "Verification submissions by kind and outcome",
		}, []string{"kind", "outcome"}),

		SubmissionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_verification_submission_duration_seconds",
			Help:    "Duration of verification API calls by kind",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),

		DuplicateSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_verification_duplicate_submissions_total",
			Help: "Submissions suppressed because one was already in flight or done",
		}, []string{"kind"}),

		Challenges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_liveness_challenges_total",
			Help: "Liveness challenge runs by outcome",
		}, []string{"outcome"}),

		StorageErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "kyc_session_storage_errors_total",
			Help: "Session store writes that failed and were ignored",
		}),

		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_stage_transitions_total",
			Help: "Stage gate decisions by stage and whether the stage advanced",
		}, []string{"stage", "advanced"}),
	}
}

func (m *Metrics) ObserveSubmission(kind, outcome string, d time.Duration) {
	if m != nil {
		m.Submissions.WithLabelValues(kind, outcome).Inc()
		m.SubmissionLatency.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementDuplicate(kind string) {
	if m != nil {
		m.DuplicateSubmissions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementChallenge(outcome string) {
	if m != nil {
		m.Challenges.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementStorageError() {
	if m != nil {
		m.StorageErrors.Inc()
	}
}

func (m *Metrics) IncrementTransition(stage string, advanced bool) {
	if m != nil {
		label := "false"
		if advanced {
			label = "true"
		}
		m.StageTransitions.WithLabelValues(stage, label).Inc()
	}
}

// Handler serves the registry these metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
