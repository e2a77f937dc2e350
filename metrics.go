package dashboard

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "activities",
		Name:      "cache_hits_total",
		Help:      "Number of activity queries served entirely from cache.",
	}, []string{"purpose"})

	cacheMissCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "activities",
		Name:      "cache_misses_total",
		Help:      "Number of activity queries that required a remote fetch.",
	}, []string{"purpose"})

	remoteCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "remote",
		Name:      "requests_total",
		Help:      "Number of remote API fetches grouped by kind.",
	}, []string{"kind"})

	zoneFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "remote",
		Name:      "zone_fetch_failures_total",
		Help:      "Number of per-activity zone fetches that failed and were skipped.",
	})
)

func init() {
	prometheus.MustRegister(cacheHitCounter, cacheMissCounter, remoteCallCounter, zoneFailureCounter)
}
