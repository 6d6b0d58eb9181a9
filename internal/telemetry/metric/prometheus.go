package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "farmsync"

// Registry holds all application metrics on a private Prometheus registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	SyncRuns     *prometheus.CounterVec
	SyncDuration prometheus.Histogram
	SyncJoined   prometheus.Counter
	PendingPush  prometheus.Gauge
	Pushes       *prometheus.CounterVec
	Pulls        *prometheus.CounterVec

	AuthAttempts *prometheus.CounterVec
	Lockouts     prometheus.Counter
}

// NewRegistry creates a registry with Go runtime and process collectors
// plus the FarmSync metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Completed sync runs by final status",
		}, []string{"status"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of sync runs that reached the remote",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SyncJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "joined_total",
			Help:      "Sync calls that joined an in-flight run",
		}),
		PendingPush: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_push",
			Help:      "Dirty records left after the last sync run",
		}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pushes_total",
			Help:      "Record pushes by entity type and outcome",
		}, []string{"entity_type", "outcome"}),
		Pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pulled_records_total",
			Help:      "Pulled remote records by entity type and merge outcome",
		}, []string{"entity_type", "outcome"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Login attempts by mode and outcome",
		}, []string{"mode", "outcome"}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Sessions locked after consecutive wrong credentials",
		}),
	}

	reg.MustRegister(
		r.SyncRuns,
		r.SyncDuration,
		r.SyncJoined,
		r.PendingPush,
		r.Pushes,
		r.Pulls,
		r.AuthAttempts,
		r.Lockouts,
	)
	return r
}

// Registerer exposes the underlying registry for components that register
// their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordSyncRun counts a finished sync run.
func (r *Registry) RecordSyncRun(status string, seconds float64, pending int) {
	if r == nil {
		return
	}
	r.SyncRuns.WithLabelValues(status).Inc()
	if seconds > 0 {
		r.SyncDuration.Observe(seconds)
	}
	r.PendingPush.Set(float64(pending))
}

// IncSyncJoined counts a caller that joined an in-flight sync.
func (r *Registry) IncSyncJoined() {
	if r == nil {
		return
	}
	r.SyncJoined.Inc()
}

// RecordPush counts one record push.
func (r *Registry) RecordPush(entityType, outcome string) {
	if r == nil {
		return
	}
	r.Pushes.WithLabelValues(entityType, outcome).Inc()
}

// RecordPull counts one pulled record by merge outcome.
func (r *Registry) RecordPull(entityType, outcome string) {
	if r == nil {
		return
	}
	r.Pulls.WithLabelValues(entityType, outcome).Inc()
}

// RecordAuthAttempt counts a login attempt. mode is online, offline or none.
func (r *Registry) RecordAuthAttempt(mode, outcome string) {
	if r == nil {
		return
	}
	r.AuthAttempts.WithLabelValues(mode, outcome).Inc()
}

// IncLockout counts a session lockout.
func (r *Registry) IncLockout() {
	if r == nil {
		return
	}
	r.Lockouts.Inc()
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}
