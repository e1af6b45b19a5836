// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package router resolves every read and write to its shard and drives it against the shard endpoints.
package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/connection"
	"github.com/CeresDB/shardrouter/server/provision"
	"github.com/CeresDB/shardrouter/server/replication"
	"github.com/CeresDB/shardrouter/server/strategy"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchConcurrency = 16
	// ScatterShard is the shard label of the metrics emitted by a scatter-gather read.
	ScatterShard = "all"
)

// TopologyStore persists the registry snapshot after administrative changes.
type TopologyStore interface {
	SaveSnapshot(ctx context.Context, snapshot topology.Snapshot) error
}

type Options struct {
	Registry    *topology.Registry
	Strategy    strategy.Strategy
	Conns       *connection.Manager
	Coordinator *replication.Coordinator
	Provisioner provision.Provisioner
	// Storage is optional, the topology only lives in memory without it.
	Storage TopologyStore
	Sink    analytics.Sink

	BatchConcurrency int
}

type WriteRequest struct {
	Table    string         `json:"table"`
	ShardKey string         `json:"shardKey"`
	Record   backend.Record `json:"data"`
}

// ReadRequest runs Query on the shard owning ShardKey, or on every shard when ShardKey is empty.
type ReadRequest struct {
	Table    string
	ShardKey string
	Query    string
	Args     []any
}

type ShardHealth struct {
	Primary bool `json:"primary"`
	Replica bool `json:"replica"`
}

type Router struct {
	registry    *topology.Registry
	strategy    strategy.Strategy
	ranges      *strategy.Range
	conns       *connection.Manager
	coordinator *replication.Coordinator
	provisioner provision.Provisioner
	storage     TopologyStore
	sink        analytics.Sink

	batchConcurrency int
	nextReplica      atomic.Uint64

	// adminLock serializes the administrative operations, which span the registry, the endpoints and the storage.
	adminLock sync.Mutex
}

func New(opts Options) *Router {
	if opts.Sink == nil {
		opts.Sink = analytics.NopSink
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	return &Router{
		registry:         opts.Registry,
		strategy:         opts.Strategy,
		ranges:           strategy.NewRange(opts.Registry),
		conns:            opts.Conns,
		coordinator:      opts.Coordinator,
		provisioner:      opts.Provisioner,
		storage:          opts.Storage,
		sink:             opts.Sink,
		batchConcurrency: opts.BatchConcurrency,
	}
}

func (r *Router) StrategyName() strategy.Name {
	return r.strategy.Name()
}

// ResolveShard returns the shard owning key under the configured strategy.
func (r *Router) ResolveShard(key string) (topology.Shard, error) {
	return r.strategy.Resolve(key)
}

// ResolveRange returns the shards whose key range overlaps [startKey, endKey].
func (r *Router) ResolveRange(startKey, endKey string) ([]topology.Shard, error) {
	return r.ranges.ResolveRange(startKey, endKey)
}

func validateWrite(table, shardKey string, record backend.Record) error {
	if table == "" {
		return ErrValidation.WithCausef("table is required")
	}
	if shardKey == "" {
		return ErrValidation.WithCausef("shard key is required")
	}
	if len(record) == 0 {
		return ErrValidation.WithCausef("data is required")
	}
	return backend.ValidateIdentifier(table)
}

// Write stores the record on the shard owning the key and replicates it under the coordinator mode.
func (r *Router) Write(ctx context.Context, req WriteRequest) (backend.Record, error) {
	if err := validateWrite(req.Table, req.ShardKey, req.Record); err != nil {
		return nil, err
	}

	start := time.Now()
	shard, err := r.strategy.Resolve(req.ShardKey)
	if err != nil {
		r.record(analytics.OperationWrite, "", start, err)
		return nil, err
	}
	return r.writeShard(ctx, shard, req.Table, req.Record)
}

func (r *Router) writeShard(ctx context.Context, shard topology.Shard, table string, record backend.Record) (backend.Record, error) {
	start := time.Now()
	row, err := r.coordinator.Write(ctx, shard, table, record)
	r.record(analytics.OperationWrite, shard.Name, start, err)
	if err != nil {
		return nil, errors.WithMessagef(err, "write shard %s", shard.Name)
	}
	return row, nil
}

// WriteBatch writes every record under the same shard key concurrently. The first failure is returned, records
// already written are kept.
func (r *Router) WriteBatch(ctx context.Context, table, shardKey string, records []backend.Record) ([]backend.Record, error) {
	if len(records) == 0 {
		return nil, ErrValidation.WithCausef("records are required")
	}
	for _, record := range records {
		if err := validateWrite(table, shardKey, record); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	shard, err := r.strategy.Resolve(shardKey)
	if err != nil {
		r.record(analytics.OperationWrite, "", start, err)
		return nil, err
	}

	rows := make([]backend.Record, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.batchConcurrency)
	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			row, err := r.writeShard(gctx, shard, table, record)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Read serves a keyed read from a replica of the owning shard, falling back to its primary when the replica fails.
// Without a key the read is sent to every shard and the results are concatenated in shard order.
func (r *Router) Read(ctx context.Context, req ReadRequest) ([]backend.Record, error) {
	if err := ValidateReadOnly(req.Query); err != nil {
		return nil, err
	}
	if req.ShardKey == "" {
		return r.scatterGather(ctx, req), nil
	}

	start := time.Now()
	shard, err := r.strategy.Resolve(req.ShardKey)
	if err != nil {
		r.record(analytics.OperationRead, "", start, err)
		return nil, err
	}
	rows, err := r.readShard(ctx, shard, req)
	r.record(analytics.OperationRead, shard.Name, start, err)
	if err != nil {
		return nil, errors.WithMessagef(err, "read shard %s", shard.Name)
	}
	return rows, nil
}

func (r *Router) readShard(ctx context.Context, shard topology.Shard, req ReadRequest) ([]backend.Record, error) {
	if shard.HasReplica() {
		ref := r.pickReplica(shard)
		rows, err := r.query(ctx, ref, req)
		if err == nil {
			return rows, nil
		}
		log.Warn("read from replica failed, fall back to primary",
			zap.String("shard", shard.Name), zap.String("replica", string(ref)),
			zap.Error(ErrReplicaUnavailable.WithCause(err)))
		r.sink.RecordFallback(shard.Name)
	}
	return r.query(ctx, shard.Primary, req)
}

// pickReplica spreads the reads over the replicas of a shard in turn.
func (r *Router) pickReplica(shard topology.Shard) topology.EndpointRef {
	if len(shard.Replicas) == 1 {
		return shard.Replicas[0]
	}
	n := r.nextReplica.Add(1)
	return shard.Replicas[int(n%uint64(len(shard.Replicas)))]
}

func (r *Router) query(ctx context.Context, ref topology.EndpointRef, req ReadRequest) ([]backend.Record, error) {
	conn, err := r.conns.Acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.conns.Release(conn)

	return conn.Query(ctx, req.Query, req.Args...)
}

func (r *Router) scatterGather(ctx context.Context, req ReadRequest) []backend.Record {
	start := time.Now()
	shards := r.registry.View().Shards()
	results := make([][]backend.Record, len(shards))

	var g errgroup.Group
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			ref := shard.Primary
			if shard.HasReplica() {
				ref = r.pickReplica(shard)
			}
			rows, err := r.query(ctx, ref, req)
			if err != nil {
				log.Warn("scatter read skips failed shard", zap.String("shard", shard.Name),
					zap.String("endpoint", string(ref)), zap.Error(err))
				r.sink.RecordError(analytics.ErrorEvent{
					Timestamp:    time.Now(),
					Operation:    analytics.OperationRead,
					Shard:        shard.Name,
					ErrorMessage: err.Error(),
				})
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, rows := range results {
		total += len(rows)
	}
	merged := make([]backend.Record, 0, total)
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	r.record(analytics.OperationRead, ScatterShard, start, nil)
	return merged
}

// Health probes every endpoint of every shard. Replica is false for a shard without replicas.
func (r *Router) Health(ctx context.Context) map[string]ShardHealth {
	shards := r.registry.View().Shards()

	var (
		lock   sync.Mutex
		g      errgroup.Group
		health = make(map[string]ShardHealth, len(shards))
	)
	for _, shard := range shards {
		shard := shard
		g.Go(func() error {
			h := ShardHealth{
				Primary: r.conns.HealthCheck(ctx, shard.Primary),
				Replica: shard.HasReplica(),
			}
			for _, ref := range shard.Replicas {
				if !r.conns.HealthCheck(ctx, ref) {
					h.Replica = false
					break
				}
			}
			lock.Lock()
			health[shard.Name] = h
			lock.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return health
}

func (r *Router) record(op analytics.Operation, shard string, start time.Time, err error) {
	now := time.Now()
	r.sink.RecordMetric(analytics.Metric{
		Timestamp:  now,
		Operation:  op,
		Shard:      shard,
		DurationMs: float64(now.Sub(start)) / float64(time.Millisecond),
		Success:    err == nil,
	})
	if err != nil {
		r.sink.RecordError(analytics.ErrorEvent{
			Timestamp:    now,
			Operation:    op,
			Shard:        shard,
			ErrorMessage: err.Error(),
		})
	}
}
