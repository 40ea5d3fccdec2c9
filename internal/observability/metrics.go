package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects worker and board counters for Prometheus.
type Metrics struct {
	jobsClaimed      prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	stepFailures     *prometheus.CounterVec
	escalations      prometheus.Counter
	challengeBlocked prometheus.Counter
	slotsFound       prometheus.Counter
	otpSubmitted     prometheus.Counter
	jobsEnqueued     prometheus.Counter
	httpRequests     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// gets a private registry, which keeps tests independent of each other.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otpboard_jobs_claimed_total",
			Help: "Login jobs claimed by the worker.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otpboard_jobs_finished_total",
			Help: "Login jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "otpboard_job_duration_seconds",
			Help:    "Wall time of one login job from claim to report.",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480},
		}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otpboard_step_failures_total",
			Help: "Pipeline step failures by step name.",
		}, []string{"step"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otpboard_challenge_escalations_total",
			Help: "Headless sessions rebuilt as visible sessions.",
		}),
		challengeBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otpboard_challenge_blocked_total",
			Help: "Jobs that stayed blocked after escalation.",
		}),
		slotsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otpboard_slots_found_total",
			Help: "Appointment times seen by the slot scanner.",
		}),
		otpSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otpboard_otp_submitted_total",
			Help: "Codes submitted through the board form.",
		}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otpboard_jobs_enqueued_total",
			Help: "Login requests submitted through the board form.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otpboard_http_requests_total",
			Help: "Board API requests by route and status code.",
		}, []string{"route", "code"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.jobsClaimed,
		m.jobsFinished,
		m.jobDuration,
		m.stepFailures,
		m.escalations,
		m.challengeBlocked,
		m.slotsFound,
		m.otpSubmitted,
		m.jobsEnqueued,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordClaim() { m.jobsClaimed.Inc() }

// RecordFinished counts a terminal job and observes its duration.
func (m *Metrics) RecordFinished(status string, seconds float64) {
	m.jobsFinished.WithLabelValues(status).Inc()
	m.jobDuration.Observe(seconds)
}

func (m *Metrics) RecordStepFailure(step string) { m.stepFailures.WithLabelValues(step).Inc() }
func (m *Metrics) RecordEscalation()             { m.escalations.Inc() }
func (m *Metrics) RecordChallengeBlocked()       { m.challengeBlocked.Inc() }
func (m *Metrics) RecordSlots(n int)             { m.slotsFound.Add(float64(n)) }
func (m *Metrics) RecordOTPSubmitted()           { m.otpSubmitted.Inc() }
func (m *Metrics) RecordEnqueued()               { m.jobsEnqueued.Inc() }

func (m *Metrics) RecordRequest(route, code string) {
	m.httpRequests.WithLabelValues(route, code).Inc()
}
