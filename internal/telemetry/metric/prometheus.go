package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionguard"

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Resilience
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec

	// Profile cache and remote calls
	CacheLookups *prometheus.CounterVec
	RemoteCalls  *prometheus.CounterVec

	// Session
	AuthTransitions      *prometheus.CounterVec
	ValidationDuration   *prometheus.HistogramVec
	NotificationsDropped prometheus.Counter
	ActiveSubscribers    prometheus.Gauge
}

// NewRegistry creates a registry with every application metric registered,
// plus the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open).",
		}, []string{"dependency"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"dependency", "to"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Operation attempts made by the retry coordinator.",
		}, []string{"operation", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile_cache",
			Name:      "lookups_total",
			Help:      "Profile cache lookups by result (hit, miss, shared, stale).",
		}, []string{"result"}),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Calls made to remote dependencies.",
		}, []string{"dependency", "outcome"}),
		AuthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target status.",
		}, []string{"status"}),
		ValidationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "validation_duration_seconds",
			Help:      "Time from Validating to the terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"status"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "notifications_dropped_total",
			Help:      "State notifications dropped because a subscriber queue was full.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "subscribers",
			Help:      "Currently registered state subscribers.",
		}),
	}

	r.reg.MustRegister(
		r.BreakerState,
		r.BreakerTransitions,
		r.RetryAttempts,
		r.CacheLookups,
		r.RemoteCalls,
		r.AuthTransitions,
		r.ValidationDuration,
		r.NotificationsDropped,
		r.ActiveSubscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus returns the underlying registry so other packages can add
// their own collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// SetBreakerState records the numeric breaker state and counts the transition.
func (r *Registry) SetBreakerState(dependency string, state int, to string) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(dependency).Set(float64(state))
	r.BreakerTransitions.WithLabelValues(dependency, to).Inc()
}

// ObserveAttempt counts one retry coordinator attempt.
func (r *Registry) ObserveAttempt(operation, outcome string) {
	if r == nil {
		return
	}
	r.RetryAttempts.WithLabelValues(operation, outcome).Inc()
}

// ObserveCache counts one profile cache lookup.
func (r *Registry) ObserveCache(result string) {
	if r == nil {
		return
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveRemote counts one call to a remote dependency.
func (r *Registry) ObserveRemote(dependency, outcome string) {
	if r == nil {
		return
	}
	r.RemoteCalls.WithLabelValues(dependency, outcome).Inc()
}

// ObserveTransition counts a session transition into status.
func (r *Registry) ObserveTransition(status string) {
	if r == nil {
		return
	}
	r.AuthTransitions.WithLabelValues(status).Inc()
}

// ObserveValidation records how long a validation took to settle.
func (r *Registry) ObserveValidation(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.ValidationDuration.WithLabelValues(status).Observe(d.Seconds())
}

// NotificationDropped counts one dropped subscriber notification.
func (r *Registry) NotificationDropped() {
	if r == nil {
		return
	}
	r.NotificationsDropped.Inc()
}

// SubscriberAdded adjusts the subscriber gauge by delta.
func (r *Registry) SubscriberAdded(delta int) {
	if r == nil {
		return
	}
	r.ActiveSubscribers.Add(float64(delta))
}
