package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Number of currently connected sessions",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriptions_active",
			Help: "Number of currently armed subscriptions across all sessions",
		},
	)

	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_ingested_total",
			Help: "Total number of events committed to the event store, labeled by kind",
		},
		[]string{"kind"},
	)

	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_rejected_total",
			Help: "Total number of events rejected, labeled by kind and rejection reason",
		},
		[]string{"kind", "reason"},
	)

	EventIngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_event_ingest_duration_seconds",
			Help:    "Time taken to admit an EVENT frame through the extension chain and store",
			Buckets: prometheus.DefBuckets,
		},
	)

	KeyPackagePoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_mls_keypackage_pool_size",
			Help: "Number of unconsumed KeyPackages held per owner",
		},
		[]string{"owner"},
	)

	KeyPackageRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_mls_keypackage_requests_total",
			Help: "Total advisory kind-447 KeyPackage requests observed, labeled by target",
		},
		[]string{"target"},
	)

	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_denied_total",
			Help: "Total requests denied by a rate limiter, labeled by bucket",
		},
		[]string{"bucket"},
	)

	ServiceActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_service_actions_total",
			Help: "Total service-action rotation profile transitions, labeled by profile and outcome",
		},
		[]string{"profile", "outcome"},
	)

	RosterSequenceRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_roster_sequence_rejected_total",
			Help: "Total roster/policy events rejected for non-monotonic sequence numbers",
		},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(EventsIngestedTotal)
	prometheus.MustRegister(EventsRejectedTotal)
	prometheus.MustRegister(EventIngestDuration)
	prometheus.MustRegister(KeyPackagePoolSize)
	prometheus.MustRegister(KeyPackageRequestsTotal)
	prometheus.MustRegister(RateLimitDeniedTotal)
	prometheus.MustRegister(ServiceActionsTotal)
	prometheus.MustRegister(RosterSequenceRejectedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
