package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the daemon's Prometheus collectors.
//
// It wraps its own prometheus.Registry rather than the package-global one so
// tests can create isolated instances without duplicate-registration panics.
type Registry struct {
	reg *prometheus.Registry

	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheFallbacks  *prometheus.CounterVec
	SnapshotsServed prometheus.Counter
	SnapshotsFresh  prometheus.Counter
	Invalidations   prometheus.Counter
	RPCErrors       prometheus.Counter
	SyncFailures    prometheus.Counter
	StateMerges     prometheus.Counter
	EventsTracked   prometheus.Counter
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_cache_hits_total",
			Help: "Fetch cache hits served without a network call.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_cache_misses_total",
			Help: "Fetch cache misses that triggered a network call.",
		}),
		CacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "truthd_cache_fallbacks_total",
			Help: "Fallback payload substitutions, by endpoint.",
		}, []string{"endpoint"}),
		SnapshotsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_snapshots_served_total",
			Help: "Contract snapshots served from the snapshot cache.",
		}),
		SnapshotsFresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_snapshots_computed_total",
			Help: "Contract snapshots recomputed from chain reads.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_snapshot_invalidations_total",
			Help: "Snapshot cache entries invalidated by chain events.",
		}),
		RPCErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_rpc_errors_total",
			Help: "Individual chain read calls that failed and degraded to defaults.",
		}),
		SyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_sync_failures_total",
			Help: "Failed server state sync attempts.",
		}),
		StateMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_state_merges_total",
			Help: "Shared state merge operations applied.",
		}),
		EventsTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truthd_events_tracked_total",
			Help: "Analytics events accepted by /api/track-event.",
		}),
	}

	reg.MustRegister(
		r.CacheHits, r.CacheMisses, r.CacheFallbacks,
		r.SnapshotsServed, r.SnapshotsFresh, r.Invalidations,
		r.RPCErrors, r.SyncFailures, r.StateMerges, r.EventsTracked,
	)
	return r
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
