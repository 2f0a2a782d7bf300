package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"panoptes.zcraft.fr/internal/cache"
)

var (
	cacheHitsDesc      = cacheDesc("hits_total", "Cache lookups served from a live entry.")
	cacheMissesDesc    = cacheDesc("misses_total", "Cache lookups without a live entry.")
	cacheComputesDesc  = cacheDesc("computes_total", "Computations started to fill the cache.")
	cacheSharedDesc    = cacheDesc("shared_total", "Callers that joined a computation in flight.")
	cacheEvictionsDesc = cacheDesc("evictions_total", "Entries evicted by the size bound.")
)

func cacheDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, []string{"cache"}, nil)
}

type cacheCollector struct {
	stats func() map[string]cache.Stats
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheComputesDesc
	ch <- cacheSharedDesc
	ch <- cacheEvictionsDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.stats() {
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(cacheComputesDesc, prometheus.CounterValue, float64(s.Computes), name)
		ch <- prometheus.MustNewConstMetric(cacheSharedDesc, prometheus.CounterValue, float64(s.Shared), name)
		ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(s.Evictions), name)
	}
}
