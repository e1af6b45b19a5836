// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package replication writes a record to a shard primary and propagates it to the shard replicas.
package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/connection"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator runs writes under the configured replication mode.
type Coordinator struct {
	cfg   Config
	conns *connection.Manager
	sink  analytics.Sink

	queue *RetryQueue
	jobID atomic.Uint64

	lock    sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCoordinator(cfg Config, conns *connection.Manager, sink analytics.Sink) *Coordinator {
	cfg.adjust()
	if sink == nil {
		sink = analytics.NopSink
	}
	return &Coordinator{
		cfg:   cfg,
		conns: conns,
		sink:  sink,
		queue: NewRetryQueue(cfg.RetryQueueLen),
	}
}

func (c *Coordinator) Mode() Mode {
	return c.cfg.Mode
}

// Start runs the background replication workers until Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.running {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.runWorkers(ctx, c.done)

	log.Info("replication coordinator started", zap.String("mode", string(c.cfg.Mode)),
		zap.Duration("syncTimeout", c.cfg.SyncTimeout), zap.Int("asyncMaxRetries", c.cfg.AsyncMaxRetries),
		zap.Duration("asyncAttemptTimeout", c.cfg.AsyncAttemptTimeout))
	return nil
}

// Stop cancels the workers and waits for the running jobs. Queued jobs are dropped.
func (c *Coordinator) Stop(_ context.Context) error {
	c.lock.Lock()
	if !c.running {
		c.lock.Unlock()
		return nil
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.lock.Unlock()

	cancel()
	<-done
	if pending := c.queue.Len(); pending > 0 {
		log.Warn("replication coordinator stopped with pending jobs", zap.Int("pending", pending))
	}
	return nil
}

// Write stores the record on the shard primary and replicates it under the configured mode.
func (c *Coordinator) Write(ctx context.Context, shard topology.Shard, table string, record backend.Record) (backend.Record, error) {
	return c.WriteWithMode(ctx, c.cfg.Mode, shard, table, record)
}

func (c *Coordinator) WriteWithMode(ctx context.Context, mode Mode, shard topology.Shard, table string, record backend.Record) (backend.Record, error) {
	switch mode {
	case ModeSync:
		return c.writeSync(ctx, shard, table, record)
	case ModeAsync:
		return c.writeAsync(ctx, shard, table, record)
	default:
		return nil, ErrUnknownMode.WithCausef("mode:%s", mode)
	}
}

// PendingJobs returns the number of queued background replications.
func (c *Coordinator) PendingJobs() int {
	return c.queue.Len()
}

func (c *Coordinator) writeAsync(ctx context.Context, shard topology.Shard, table string, record backend.Record) (backend.Record, error) {
	conn, err := c.conns.Acquire(ctx, shard.Primary)
	if err != nil {
		return nil, errors.WithMessagef(err, "acquire primary of shard %s", shard.Name)
	}
	defer c.conns.Release(conn)

	row, err := conn.Insert(ctx, table, record)
	if err != nil {
		return nil, ErrPrimaryWrite.WithCause(errors.WithMessagef(err, "shard:%s, table:%s", shard.Name, table))
	}

	for idx, ref := range shard.Replicas {
		c.schedule(&replicationJob{
			id:         c.jobID.Add(1),
			shard:      shard.Name,
			replica:    ref,
			replicaIdx: idx,
			table:      table,
			row:        row,
			attempt:    1,
		}, 0)
	}
	return row, nil
}

func (c *Coordinator) schedule(job *replicationJob, delay time.Duration) {
	if err := c.queue.Push(job, delay); err != nil {
		c.giveUp(job, err)
	}
}

func (c *Coordinator) runWorkers(ctx context.Context, done chan struct{}) {
	defer close(done)

	var workers errgroup.Group
	workers.SetLimit(c.cfg.Workers)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = workers.Wait()
			return
		case <-ticker.C:
		}

		for job := c.queue.Pop(); job != nil; job = c.queue.Pop() {
			job := job
			workers.Go(func() error {
				c.runJob(ctx, job)
				return nil
			})
		}
	}
}

func (c *Coordinator) runJob(ctx context.Context, job *replicationJob) {
	err := c.replicateOnce(ctx, job)
	if err == nil {
		log.Debug("replicate row", zap.String("shard", job.shard), zap.Int("replica", job.replicaIdx),
			zap.String("table", job.table), zap.Int("attempt", job.attempt))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if job.attempt > c.cfg.AsyncMaxRetries {
		c.giveUp(job, err)
		return
	}

	delay := BackoffDelay(job.attempt, c.cfg.AsyncBaseDelay)
	log.Warn("replicate row failed, retry later", zap.String("shard", job.shard), zap.Int("replica", job.replicaIdx),
		zap.String("endpoint", string(job.replica)), zap.Int("attempt", job.attempt), zap.Duration("delay", delay), zap.Error(err))
	job.attempt++
	c.schedule(job, delay)
}

func (c *Coordinator) replicateOnce(ctx context.Context, job *replicationJob) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AsyncAttemptTimeout)
	defer cancel()

	conn, err := c.conns.Acquire(ctx, job.replica)
	if err != nil {
		return err
	}
	defer c.conns.Release(conn)

	_, err = conn.Insert(ctx, job.table, job.row)
	return err
}

func (c *Coordinator) giveUp(job *replicationJob, err error) {
	log.Error("replication permanently failed", zap.String("shard", job.shard), zap.Int("replica", job.replicaIdx),
		zap.String("endpoint", string(job.replica)), zap.String("table", job.table), zap.Int("attempts", job.attempt), zap.Error(err))
	c.sink.RecordReplicationFailure(job.shard)
	c.sink.RecordError(analytics.ErrorEvent{
		Operation:    analytics.OperationReplicate,
		Shard:        job.shard,
		ErrorMessage: err.Error(),
	})
}
