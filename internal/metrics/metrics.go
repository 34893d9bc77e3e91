package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaysync",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaysync",
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by sweep reason.",
		},
		[]string{"bucket", "reason"},
	)

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaysync",
			Name:      "sync_items_total",
			Help:      "Sync items by final status per pass.",
		},
		[]string{"result"},
	)

	replayedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaysync",
			Name:      "replayed_requests_total",
			Help:      "Offline request replays by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relaysync",
			Name:      "queue_depth",
			Help:      "Current queue depth per queue.",
		},
		[]string{"queue"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(cacheLookups, cacheEvictions, syncItems, replayedRequests, queueDepth)
	})
}

// IncCacheLookup increments the cache lookup counter.
func IncCacheLookup(strategy, outcome string) {
	cacheLookups.WithLabelValues(strategy, outcome).Inc()
}

// IncCacheEviction increments the eviction counter for a bucket.
func IncCacheEviction(bucket, reason string) {
	cacheEvictions.WithLabelValues(bucket, reason).Inc()
}

// IncSyncItem increments the per-result sync item counter.
func IncSyncItem(result string) {
	syncItems.WithLabelValues(result).Inc()
}

// IncReplay increments the replay counter for an outcome.
func IncReplay(outcome string) {
	replayedRequests.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current depth of a queue.
func SetQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}
