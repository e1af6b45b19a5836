// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package analytics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "shardrouter"
	subsystem = "router"
)

type promMetrics struct {
	// labels: operation, shard, result
	operations *prometheus.CounterVec
	// labels: operation, shard
	duration            *prometheus.HistogramVec
	readFallbacks       *prometheus.CounterVec
	replicationFailures *prometheus.CounterVec
}

func newPromMetrics() *promMetrics {
	return &promMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Number of routed operations by outcome",
		}, []string{"operation", "shard", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Latency of routed operations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"operation", "shard"}),
		readFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "read_fallbacks_total",
			Help:      "Number of reads served by the primary because the replica failed",
		}, []string{"shard"}),
		replicationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "permanent_failures_total",
			Help:      "Number of async replications that exhausted their retries",
		}, []string{"shard"}),
	}
}

func (m *promMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operations,
		m.duration,
		m.readFallbacks,
		m.replicationFailures,
	}
}
