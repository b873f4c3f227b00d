package database

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describeNames(t *testing.T, c prometheus.Collector) []string {
	t.Helper()
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		s := d.String()
		start := strings.Index(s, `fqName: "`) + len(`fqName: "`)
		names = append(names, s[start:start+strings.Index(s[start:], `"`)])
	}
	return names
}

func TestNewPoolStatsCollector_Describe(t *testing.T) {
	names := describeNames(t, NewPoolStatsCollector(nil, "notifier"))

	assert.Len(t, names, 8)
	assert.Contains(t, names, "db_pool_acquired_connections")
	assert.Contains(t, names, "db_pool_acquire_duration_seconds_total")
	assert.Contains(t, names, "db_pool_canceled_acquire_count_total")
}

func TestNewRedisStatsCollector_Collect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), redisConfigFor(t, mr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for range 3 {
		require.NoError(t, client.Set(context.Background(), "notifier:k", "v", 0).Err())
	}

	c := NewRedisStatsCollector(client, "notifier")
	assert.Len(t, describeNames(t, c), 5)
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)
	assert.Len(t, ch, 5)

	assert.GreaterOrEqual(t, client.PoolStats().TotalConns, uint32(1))
}
