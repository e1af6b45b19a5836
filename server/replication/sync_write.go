// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package replication

import (
	"context"
	"time"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/connection"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// A synchronous write goes through:
//
//	StateBegin -> StatePrimaryWritten -> StateReplicated -> StateCommitted
//
// and EventRollback is accepted from every state, releasing whatever is still held.
const (
	eventWritePrimary = "EventWritePrimary"
	eventReplicate    = "EventReplicate"
	eventCommit       = "EventCommit"
	eventRollback     = "EventRollback"

	stateBegin          = "StateBegin"
	statePrimaryWritten = "StatePrimaryWritten"
	stateReplicated     = "StateReplicated"
	stateCommitted      = "StateCommitted"
	stateRolledBack     = "StateRolledBack"
)

var (
	syncWriteEvents = fsm.Events{
		{Name: eventWritePrimary, Src: []string{stateBegin}, Dst: statePrimaryWritten},
		{Name: eventReplicate, Src: []string{statePrimaryWritten}, Dst: stateReplicated},
		{Name: eventCommit, Src: []string{stateReplicated}, Dst: stateCommitted},
		{Name: eventRollback, Src: []string{stateBegin, statePrimaryWritten, stateReplicated, stateCommitted}, Dst: stateRolledBack},
	}
	syncWriteCallbacks = fsm.Callbacks{
		eventWritePrimary: writePrimaryCallback,
		eventReplicate:    replicateCallback,
		eventCommit:       commitCallback,
		eventRollback:     rollbackCallback,
	}
)

// preparedReplica holds a replica transaction that contains the row but is not committed yet.
type preparedReplica struct {
	idx  int
	ref  topology.EndpointRef
	conn *connection.Conn
	tx   backend.Tx
}

type replicaResult struct {
	prepared *preparedReplica
	idx      int
	err      error
}

// syncWriteRequest is fsm callbacks param.
type syncWriteRequest struct {
	ctx         context.Context
	coordinator *Coordinator
	shard       topology.Shard
	table       string
	record      backend.Record

	primaryConn *connection.Conn
	primaryTx   backend.Tx
	row         backend.Record
	prepared    []*preparedReplica
}

func getRequestFromEvent(event *fsm.Event) (*syncWriteRequest, error) {
	if len(event.Args) != 1 {
		return nil, ErrGetRequest.WithCausef("event args length must be 1, actual length:%d", len(event.Args))
	}
	req, ok := event.Args[0].(*syncWriteRequest)
	if !ok {
		return nil, ErrGetRequest.WithCausef("unexpected event arg type")
	}
	return req, nil
}

func cancelEventWithLog(event *fsm.Event, err error, msg string, fields ...zap.Field) {
	log.Error(msg, append(fields, zap.Error(err))...)
	event.Cancel(errors.WithMessage(err, msg))
}

func writePrimaryCallback(event *fsm.Event) {
	req, err := getRequestFromEvent(event)
	if err != nil {
		cancelEventWithLog(event, err, "get request from event")
		return
	}
	c := req.coordinator

	conn, err := c.conns.Acquire(req.ctx, req.shard.Primary)
	if err != nil {
		cancelEventWithLog(event, err, "acquire primary", zap.String("shard", req.shard.Name))
		return
	}
	req.primaryConn = conn

	tx, err := conn.BeginTx(req.ctx)
	if err != nil {
		cancelEventWithLog(event, ErrPrimaryWrite.WithCause(err), "begin primary transaction", zap.String("shard", req.shard.Name))
		return
	}
	req.primaryTx = tx

	row, err := tx.Insert(req.ctx, req.table, req.record)
	if err != nil {
		cancelEventWithLog(event, ErrPrimaryWrite.WithCause(err), "insert into primary", zap.String("shard", req.shard.Name), zap.String("table", req.table))
		return
	}
	req.row = row
}

func replicateCallback(event *fsm.Event) {
	req, err := getRequestFromEvent(event)
	if err != nil {
		cancelEventWithLog(event, err, "get request from event")
		return
	}

	prepared, err := req.coordinator.prepareReplicas(req.ctx, req.shard, req.table, req.row)
	req.prepared = prepared
	if err != nil {
		cancelEventWithLog(event, err, "replicate synchronously", zap.String("shard", req.shard.Name),
			zap.Int("prepared", len(prepared)), zap.Int("replicas", len(req.shard.Replicas)))
	}
}

// commitCallback commits the primary first. A replica that fails to commit afterwards is repaired in the background.
func commitCallback(event *fsm.Event) {
	req, err := getRequestFromEvent(event)
	if err != nil {
		cancelEventWithLog(event, err, "get request from event")
		return
	}
	c := req.coordinator

	tx := req.primaryTx
	req.primaryTx = nil
	if err := tx.Commit(); err != nil {
		cancelEventWithLog(event, ErrPrimaryWrite.WithCause(err), "commit primary", zap.String("shard", req.shard.Name))
		return
	}

	prepared := req.prepared
	req.prepared = nil
	for _, p := range prepared {
		err := p.tx.Commit()
		c.conns.Release(p.conn)
		if err == nil {
			continue
		}
		log.Error("commit replica failed, schedule repair", zap.String("shard", req.shard.Name),
			zap.Int("replica", p.idx), zap.String("endpoint", string(p.ref)), zap.Error(err))
		c.sink.RecordError(analytics.ErrorEvent{
			Operation:    analytics.OperationReplicate,
			Shard:        req.shard.Name,
			ErrorMessage: err.Error(),
		})
		c.schedule(&replicationJob{
			id:         c.jobID.Add(1),
			shard:      req.shard.Name,
			replica:    p.ref,
			replicaIdx: p.idx,
			table:      req.table,
			row:        req.row,
			attempt:    1,
		}, 0)
	}
}

func rollbackCallback(event *fsm.Event) {
	req, err := getRequestFromEvent(event)
	if err != nil {
		cancelEventWithLog(event, err, "get request from event")
		return
	}
	c := req.coordinator

	for _, p := range req.prepared {
		c.rollbackReplica(p)
	}
	req.prepared = nil

	if req.primaryTx != nil {
		if err := req.primaryTx.Rollback(); err != nil {
			log.Warn("rollback primary failed", zap.String("shard", req.shard.Name), zap.Error(err))
		}
		req.primaryTx = nil
	}
	log.Info("sync write rolled back", zap.String("shard", req.shard.Name), zap.String("table", req.table))
}

func (r *syncWriteRequest) release() {
	r.coordinator.conns.Release(r.primaryConn)
}

func (c *Coordinator) writeSync(ctx context.Context, shard topology.Shard, table string, record backend.Record) (backend.Record, error) {
	req := &syncWriteRequest{
		ctx:         ctx,
		coordinator: c,
		shard:       shard,
		table:       table,
		record:      record,
	}
	defer req.release()

	writeFsm := fsm.NewFSM(stateBegin, syncWriteEvents, syncWriteCallbacks)
	for _, event := range []string{eventWritePrimary, eventReplicate, eventCommit} {
		if err := writeFsm.Event(event, req); err != nil {
			if rollbackErr := writeFsm.Event(eventRollback, req); rollbackErr != nil {
				log.Error("send rollback event", zap.String("shard", shard.Name), zap.Error(rollbackErr))
			}
			return nil, errors.WithMessagef(err, "sync write, shard:%s, table:%s", shard.Name, table)
		}
	}
	return req.row, nil
}

// prepareReplicas writes the row to every replica concurrently, each inside a transaction that stays open.
// It fails with ErrReplicationTimeout when the replicas do not all succeed within SyncTimeout, or when one of them
// runs out of attempts. The replicas prepared so far are returned in both cases, and the ones finishing later are
// rolled back without being waited for.
func (c *Coordinator) prepareReplicas(ctx context.Context, shard topology.Shard, table string, row backend.Record) ([]*preparedReplica, error) {
	n := len(shard.Replicas)
	if n == 0 {
		return nil, nil
	}

	replicaCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan replicaResult, n)
	for idx, ref := range shard.Replicas {
		go func(idx int, ref topology.EndpointRef) {
			p, err := c.prepareReplica(replicaCtx, idx, ref, table, row)
			results <- replicaResult{prepared: p, idx: idx, err: err}
		}(idx, ref)
	}

	timer := time.NewTimer(c.cfg.SyncTimeout)
	defer timer.Stop()

	prepared := make([]*preparedReplica, 0, n)
	received := 0
	abort := func(err error) ([]*preparedReplica, error) {
		cancel()
		go c.rollbackStragglers(results, n-received)
		return prepared, err
	}

	for received < n {
		select {
		case res := <-results:
			received++
			if res.err != nil {
				return abort(ErrReplicationTimeout.WithCausef("shard:%s, replica:%d, exhausted attempts:%v", shard.Name, res.idx, res.err))
			}
			prepared = append(prepared, res.prepared)
		case <-timer.C:
			return abort(ErrReplicationTimeout.WithCausef("shard:%s, acknowledged:%d/%d, timeout:%s", shard.Name, len(prepared), n, c.cfg.SyncTimeout))
		case <-ctx.Done():
			return abort(errors.WithMessagef(ctx.Err(), "replicate shard %s", shard.Name))
		}
	}
	return prepared, nil
}

func (c *Coordinator) rollbackStragglers(results <-chan replicaResult, pending int) {
	for i := 0; i < pending; i++ {
		res := <-results
		if res.prepared != nil {
			log.Info("roll back late replica", zap.Int("replica", res.idx), zap.String("endpoint", string(res.prepared.ref)))
			c.rollbackReplica(res.prepared)
		}
	}
}

func (c *Coordinator) rollbackReplica(p *preparedReplica) {
	if err := p.tx.Rollback(); err != nil {
		log.Warn("rollback replica failed", zap.Int("replica", p.idx), zap.String("endpoint", string(p.ref)), zap.Error(err))
	}
	c.conns.Release(p.conn)
}

// prepareReplica retries a replica up to SyncMaxAttempts times, SyncRetryDelay apart.
func (c *Coordinator) prepareReplica(ctx context.Context, idx int, ref topology.EndpointRef, table string, row backend.Record) (*preparedReplica, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.SyncMaxAttempts; attempt++ {
		p, err := c.tryPrepareReplica(ctx, idx, ref, table, row)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("replica write attempt failed", zap.Int("replica", idx), zap.String("endpoint", string(ref)),
			zap.Int("attempt", attempt), zap.Int("maxAttempts", c.cfg.SyncMaxAttempts), zap.Error(err))
		if attempt == c.cfg.SyncMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.SyncRetryDelay):
		}
	}
	return nil, errors.WithMessagef(lastErr, "replica %s failed %d attempts", ref, c.cfg.SyncMaxAttempts)
}

func (c *Coordinator) tryPrepareReplica(ctx context.Context, idx int, ref topology.EndpointRef, table string, row backend.Record) (*preparedReplica, error) {
	conn, err := c.conns.Acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	// The transaction outlives ctx, which is canceled once every replica is prepared.
	tx, err := conn.BeginTx(context.WithoutCancel(ctx))
	if err != nil {
		c.conns.Release(conn)
		return nil, err
	}
	if _, err := tx.Insert(ctx, table, row); err != nil {
		_ = tx.Rollback()
		c.conns.Release(conn)
		return nil, err
	}
	return &preparedReplica{idx: idx, ref: ref, conn: conn, tx: tx}, nil
}
