package poolmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lordbasex/dbpool/pool"
)

type fakeSource struct{ stats pool.Stats }

func (f fakeSource) Stats() pool.Stats { return f.stats }

func TestCollectorReportsStatsSnapshot(t *testing.T) {
	source := fakeSource{stats: pool.Stats{
		Name: "demo", Free: 2, Used: 3, Requests: 10, Hits: 7,
	}}
	c := New(source, "dbpool", "pool")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	metrics := map[string]*dto.MetricFamily{}
	for _, f := range families {
		metrics[f.GetName()] = f
	}

	require.Contains(t, metrics, "dbpool_pool_hit_rate")
	hitRate := metrics["dbpool_pool_hit_rate"].GetMetric()[0].GetGauge().GetValue()
	assert.InDelta(t, 0.7, hitRate, 0.0001)

	require.Contains(t, metrics, "dbpool_pool_used_count")
	used := metrics["dbpool_pool_used_count"].GetMetric()[0].GetGauge().GetValue()
	assert.Equal(t, float64(3), used)
}
