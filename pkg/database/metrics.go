package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// statMetric pairs a descriptor with the function reading its value from a
// pool snapshot of type S.
type statMetric[S any] struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(S) float64
}

// statsCollector exports a fixed set of pool statistics. The snapshot is taken
// once per scrape so every series describes the same instant.
type statsCollector[S any] struct {
	snapshot func() S
	service  string
	metrics  []statMetric[S]
}

func (c *statsCollector[S]) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *statsCollector[S]) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s), c.service)
	}
}

func gauge[S any](name, help string, value func(S) float64) statMetric[S] {
	return statMetric[S]{prometheus.NewDesc(name, help, []string{"service"}, nil), prometheus.GaugeValue, value}
}

func counter[S any](name, help string, value func(S) float64) statMetric[S] {
	return statMetric[S]{prometheus.NewDesc(name, help, []string{"service"}, nil), prometheus.CounterValue, value}
}

// NewPoolStatsCollector exports pgxpool connection statistics.
func NewPoolStatsCollector(pool *pgxpool.Pool, service string) prometheus.Collector {
	type stat = *pgxpool.Stat
	return &statsCollector[stat]{
		snapshot: pool.Stat,
		service:  service,
		metrics: []statMetric[stat]{
			gauge("db_pool_acquired_connections", "Connections currently checked out by the notifier",
				func(s stat) float64 { return float64(s.AcquiredConns()) }),
			gauge("db_pool_idle_connections", "Connections idle in the pool",
				func(s stat) float64 { return float64(s.IdleConns()) }),
			gauge("db_pool_total_connections", "Connections open in the pool",
				func(s stat) float64 { return float64(s.TotalConns()) }),
			gauge("db_pool_max_connections", "Configured pool size",
				func(s stat) float64 { return float64(s.MaxConns()) }),
			counter("db_pool_acquire_count_total", "Successful connection acquires",
				func(s stat) float64 { return float64(s.AcquireCount()) }),
			counter("db_pool_acquire_duration_seconds_total", "Time spent waiting to acquire connections",
				func(s stat) float64 { return s.AcquireDuration().Seconds() }),
			counter("db_pool_empty_acquire_count_total", "Acquires that waited because the pool was empty",
				func(s stat) float64 { return float64(s.EmptyAcquireCount()) }),
			counter("db_pool_canceled_acquire_count_total", "Acquires abandoned by their context",
				func(s stat) float64 { return float64(s.CanceledAcquireCount()) }),
		},
	}
}

// NewRedisStatsCollector exports go-redis connection pool statistics.
func NewRedisStatsCollector(client *redis.Client, service string) prometheus.Collector {
	type stat = *redis.PoolStats
	return &statsCollector[stat]{
		snapshot: client.PoolStats,
		service:  service,
		metrics: []statMetric[stat]{
			gauge("redis_pool_total_connections", "Connections open in the Redis pool",
				func(s stat) float64 { return float64(s.TotalConns) }),
			gauge("redis_pool_idle_connections", "Connections idle in the Redis pool",
				func(s stat) float64 { return float64(s.IdleConns) }),
			counter("redis_pool_hits_total", "Commands served by a pooled connection",
				func(s stat) float64 { return float64(s.Hits) }),
			counter("redis_pool_misses_total", "Commands that had to dial a new connection",
				func(s stat) float64 { return float64(s.Misses) }),
			counter("redis_pool_timeouts_total", "Waits for a free connection that timed out",
				func(s stat) float64 { return float64(s.Timeouts) }),
		},
	}
}

// RegisterPoolMetrics registers the pgxpool collector with the default registry.
func RegisterPoolMetrics(pool *pgxpool.Pool, service string) {
	prometheus.MustRegister(NewPoolStatsCollector(pool, service))
}

// RegisterRedisMetrics registers the Redis pool collector with the default registry.
func RegisterRedisMetrics(client *redis.Client, service string) {
	prometheus.MustRegister(NewRedisStatsCollector(client, service))
}
