package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_notifications_received_total",
		Help: "Total number of alarm notifications received, by alarm state",
	}, []string{"state"})
	// Outcomes is keyed by result status and failure kind. kind is empty for
	// created and skipped results.
	Outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_outcomes_total",
		Help: "Total number of outcome records emitted",
	}, []string{"status", "kind"})
	StageAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_stage_attempts_total",
		Help: "Total number of attempts made per remote pipeline stage",
	}, []string{"stage"})
	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_retries_total",
		Help: "Total number of retries scheduled per pipeline stage",
	}, []string{"stage"})

	// Issue tracker metrics
	TrackerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_tracker_requests_total",
		Help: "Total number of create-issue requests, by response class (created/transient/rejected)",
	}, []string{"class"})
	TrackerRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "escalator_tracker_request_duration_seconds",
		Help:    "Latency of create-issue requests against the issue tracker",
		Buckets: prometheus.DefBuckets,
	})

	// Credential provider metrics
	CredentialFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_credential_fetch_total",
		Help: "Total number of credential fetches, by result (success/transient/fatal)",
	}, []string{"result"})
	CredentialCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_credential_cache_total",
		Help: "Credential cache lookups, by result (hit/miss/invalidated)",
	}, []string{"result"})

	// Dedup and runaway protection
	DedupDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_dedup_decisions_total",
		Help: "Dedup store decisions, by store and decision (reserved/duplicate/error)",
	}, []string{"store", "decision"})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escalator_rate_limited_total",
		Help: "Total number of issue creations suppressed by the per-alarm rate limit",
	})

	// Outcome sink metrics
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_sink_errors_total",
		Help: "Total number of outcome sink write errors",
	}, []string{"sink", "error_type"})
	SinkCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "escalator_sink_circuit_breaker_state",
		Help: "Circuit breaker state per sink (0=closed, 1=open, 2=half-open)",
	}, []string{"sink"})
	SinkCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_sink_circuit_breaker_rejections_total",
		Help: "Total number of writes rejected by an open sink circuit breaker",
	}, []string{"sink"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escalator_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(NotificationsReceived)
	prometheus.MustRegister(Outcomes)
	prometheus.MustRegister(StageAttempts)
	prometheus.MustRegister(Retries)
	prometheus.MustRegister(TrackerRequests)
	prometheus.MustRegister(TrackerRequestDuration)
	prometheus.MustRegister(CredentialFetches)
	prometheus.MustRegister(CredentialCache)
	prometheus.MustRegister(DedupDecisions)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(SinkErrors)
	prometheus.MustRegister(SinkCircuitBreakerState)
	prometheus.MustRegister(SinkCircuitBreakerRejections)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
