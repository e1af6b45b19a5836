// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package analytics aggregates the operation events emitted by the router.
package analytics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultMaxMetrics    = 10000
	DefaultMaxErrors     = 1000
	DefaultSummaryWindow = 5 * time.Minute
	DefaultRecentErrors  = 50
)

type Operation string

const (
	OperationRead      Operation = "read"
	OperationWrite     Operation = "write"
	OperationReplicate Operation = "replicate"
)

type Metric struct {
	Timestamp  time.Time `json:"timestamp"`
	Operation  Operation `json:"operation"`
	Shard      string    `json:"shard"`
	DurationMs float64   `json:"durationMs"`
	Success    bool      `json:"success"`
}

type ErrorEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Operation    Operation `json:"operation"`
	Shard        string    `json:"shard,omitempty"`
	ErrorMessage string    `json:"errorMessage"`
}

// Sink consumes the events of the router and the replication coordinator.
type Sink interface {
	RecordMetric(m Metric)
	RecordError(e ErrorEvent)
	// RecordFallback is called when a read is served by the primary after the replica failed.
	RecordFallback(shard string)
	// RecordReplicationFailure is called when a background replication gives up.
	RecordReplicationFailure(shard string)
}

type nopSink struct{}

func (nopSink) RecordMetric(Metric)             {}
func (nopSink) RecordError(ErrorEvent)          {}
func (nopSink) RecordFallback(string)           {}
func (nopSink) RecordReplicationFailure(string) {}

// NopSink drops every event.
var NopSink Sink = nopSink{}

type Summary struct {
	Window              string         `json:"window"`
	Total               int            `json:"total"`
	Writes              int            `json:"writes"`
	Reads               int            `json:"reads"`
	Errors              int            `json:"errors"`
	AvgLatencyMs        float64        `json:"avgLatencyMs"`
	ShardDistribution   map[string]int `json:"shardDistribution"`
	Throughput          float64        `json:"throughput"`
	Fallbacks           map[string]int `json:"fallbacks"`
	ReplicationFailures map[string]int `json:"replicationFailures"`
}

type Config struct {
	MaxMetrics int
	MaxErrors  int
}

// Collector keeps the latest metrics and errors in memory and mirrors them into prometheus.
type Collector struct {
	cfg  Config
	prom *promMetrics
	now  func() time.Time

	lock                sync.Mutex
	metrics             []Metric
	errors              []ErrorEvent
	fallbacks           map[string]int
	replicationFailures map[string]int
}

func NewCollector(cfg Config) *Collector {
	if cfg.MaxMetrics <= 0 {
		cfg.MaxMetrics = DefaultMaxMetrics
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	return &Collector{
		cfg:                 cfg,
		prom:                newPromMetrics(),
		now:                 time.Now,
		fallbacks:           make(map[string]int),
		replicationFailures: make(map[string]int),
	}
}

// PrometheusCollectors returns the prometheus metrics fed by this collector.
func (c *Collector) PrometheusCollectors() []prometheus.Collector {
	return c.prom.collectors()
}

func (c *Collector) RecordMetric(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}
	result := "ok"
	if !m.Success {
		result = "error"
	}
	c.prom.operations.WithLabelValues(string(m.Operation), m.Shard, result).Inc()
	c.prom.duration.WithLabelValues(string(m.Operation), m.Shard).Observe(m.DurationMs / 1000)

	c.lock.Lock()
	defer c.lock.Unlock()
	c.metrics = appendBounded(c.metrics, m, c.cfg.MaxMetrics)
}

func (c *Collector) RecordError(e ErrorEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.errors = appendBounded(c.errors, e, c.cfg.MaxErrors)
}

func (c *Collector) RecordFallback(shard string) {
	c.prom.readFallbacks.WithLabelValues(shard).Inc()

	c.lock.Lock()
	defer c.lock.Unlock()
	c.fallbacks[shard]++
}

func (c *Collector) RecordReplicationFailure(shard string) {
	c.prom.replicationFailures.WithLabelValues(shard).Inc()

	c.lock.Lock()
	defer c.lock.Unlock()
	c.replicationFailures[shard]++
}

// Summary aggregates the metrics recorded within the window ending now.
func (c *Collector) Summary(window time.Duration) Summary {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	since := c.now().Add(-window)

	c.lock.Lock()
	defer c.lock.Unlock()

	s := Summary{
		Window:              window.String(),
		ShardDistribution:   make(map[string]int),
		Fallbacks:           copyCounts(c.fallbacks),
		ReplicationFailures: copyCounts(c.replicationFailures),
	}
	var totalLatency float64
	for _, m := range c.metrics {
		if m.Timestamp.Before(since) {
			continue
		}
		s.Total++
		switch m.Operation {
		case OperationWrite:
			s.Writes++
		case OperationRead:
			s.Reads++
		}
		if !m.Success {
			s.Errors++
		}
		totalLatency += m.DurationMs
		s.ShardDistribution[m.Shard]++
	}
	if s.Total > 0 {
		s.AvgLatencyMs = totalLatency / float64(s.Total)
	}
	s.Throughput = float64(s.Total) / window.Seconds()
	return s
}

// RecentErrors returns up to limit latest errors, oldest first.
func (c *Collector) RecentErrors(limit int) []ErrorEvent {
	if limit <= 0 {
		limit = DefaultRecentErrors
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	start := len(c.errors) - limit
	if start < 0 {
		start = 0
	}
	return append([]ErrorEvent(nil), c.errors[start:]...)
}

func appendBounded[T any](items []T, item T, max int) []T {
	items = append(items, item)
	if len(items) > max {
		// append reallocates with only the live tail once the capacity is used up.
		items = items[len(items)-max:]
	}
	return items
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
