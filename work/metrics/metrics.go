package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProbesTotal counts availability probes by terminal outcome. The "outcome"
// label is one of: available, unavailable, cached.
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nowshowing_probes_total",
	Help: "Availability probes by outcome",
}, []string{"outcome"})

// ProbeDuration observes wall time of non-cached availability probes,
// including the ranged-GET fallback when the HEAD attempt fails.
var ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "nowshowing_probe_duration_seconds",
	Help:    "Duration of availability probes",
	Buckets: prometheus.DefBuckets,
})

// SessionsOpen tracks the number of live resolution sessions.
var SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "nowshowing_sessions_open",
	Help: "Number of open resolution sessions",
})

// Failovers counts automatic provider switches. The "trigger" label
// distinguishes probe-driven switches from watchdog-driven ones.
var Failovers = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nowshowing_failovers_total",
	Help: "Automatic provider switches",
}, []string{"trigger"})

// ProviderUnavailable counts unavailable verdicts per provider, feeding
// the admin view of which sources are rotting.
var ProviderUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nowshowing_provider_unavailable_total",
	Help: "Unavailable probe verdicts per provider",
}, []string{"provider"})
