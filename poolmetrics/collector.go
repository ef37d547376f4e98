// Package poolmetrics exposes a pool's counters as Prometheus metrics.
package poolmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lordbasex/dbpool/pool"
)

// StatsSource is anything that can report a point-in-time Stats
// snapshot -- pool.Pool[T] and sqlconn.ConnectionPool both satisfy it.
type StatsSource interface {
	Stats() pool.Stats
}

// Collector adapts a StatsSource to prometheus.Collector. It never
// reaches into pool internals: every value it reports comes from the
// pool's own exported Stats() snapshot, taken under the pool's mutex.
type Collector struct {
	source StatsSource

	free       *prometheus.Desc
	used       *prometheus.Desc
	requests   *prometheus.Desc
	hits       *prometheus.Desc
	hitRate    *prometheus.Desc
	released   *prometheus.Desc
	reaping    *prometheus.Desc
}

// New builds a Collector over source. namespace/subsystem follow the
// usual client_golang fully-qualified-name convention
// (namespace_subsystem_name).
func New(source StatsSource, namespace, subsystem string) *Collector {
	labels := []string{"pool"}
	return &Collector{
		source: source,
		free: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "free_count"),
			"Number of idle entries currently in the pool.", labels, nil),
		used: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "used_count"),
			"Number of entries currently checked out.", labels, nil),
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "checkouts_total"),
			"Total number of check-out requests served.", labels, nil),
		hits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "checkout_hits_total"),
			"Total number of check-outs satisfied from the free list.", labels, nil),
		hitRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "hit_rate"),
			"Fraction of check-outs satisfied from the free list.", labels, nil),
		released: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "released"),
			"1 if the pool has been released, 0 otherwise.", labels, nil),
		reaping: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "reaper_running"),
			"1 if the idle reaper is currently running, 0 otherwise.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.free
	ch <- c.used
	ch <- c.requests
	ch <- c.hits
	ch <- c.hitRate
	ch <- c.released
	ch <- c.reaping
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	label := stats.Name

	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(stats.Free), label)
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(stats.Used), label)
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(stats.Requests), label)
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits), label)
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, stats.HitRate(), label)
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.GaugeValue, boolToFloat(stats.Released), label)
	ch <- prometheus.MustNewConstMetric(c.reaping, prometheus.GaugeValue, boolToFloat(stats.Reaping), label)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
