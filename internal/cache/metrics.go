package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placefinder_cache_hits_total",
		Help: "Result cache hits by cache name.",
	}, []string{"cache"})
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placefinder_cache_misses_total",
		Help: "Result cache misses (absent or expired) by cache name.",
	}, []string{"cache"})
	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placefinder_cache_evictions_total",
		Help: "Entries removed by capacity eviction or expiry sweep.",
	}, []string{"cache", "reason"})
)
