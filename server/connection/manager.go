// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package connection keeps one bounded pool per storage endpoint.
package connection

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConns    = 20
	DefaultWaitTimeout = 2 * time.Second
)

type Config struct {
	// MaxConns bounds the concurrent checkouts of every endpoint.
	MaxConns int
	// WaitTimeout bounds how long Acquire waits for a free slot.
	WaitTimeout time.Duration
}

type pool struct {
	ref     topology.EndpointRef
	backend backend.Backend
	sem     *semaphore.Weighted
	inUse   atomic.Int64
}

// Conn is one checkout of an endpoint. It must be released exactly once; extra releases are ignored.
type Conn struct {
	pool     *pool
	released atomic.Bool
}

func (c *Conn) Ref() topology.EndpointRef {
	return c.pool.ref
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.pool.backend.Ping(ctx)
}

func (c *Conn) Insert(ctx context.Context, table string, record backend.Record) (backend.Record, error) {
	return c.pool.backend.Insert(ctx, table, record)
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) ([]backend.Record, error) {
	return c.pool.backend.Query(ctx, query, args...)
}

func (c *Conn) BeginTx(ctx context.Context) (backend.Tx, error) {
	return c.pool.backend.BeginTx(ctx)
}

type Manager struct {
	cfg Config

	lock  sync.RWMutex
	pools map[topology.EndpointRef]*pool
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	return &Manager{
		cfg:   cfg,
		pools: make(map[topology.EndpointRef]*pool),
	}
}

func (m *Manager) Register(ref topology.EndpointRef, b backend.Backend) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.pools[ref]; ok {
		return ErrEndpointExists.WithCausef("endpoint:%s", ref)
	}
	m.pools[ref] = &pool{
		ref:     ref,
		backend: b,
		sem:     semaphore.NewWeighted(int64(m.cfg.MaxConns)),
	}
	log.Info("register endpoint", zap.String("endpoint", string(ref)), zap.Int("maxConns", m.cfg.MaxConns))
	return nil
}

// Unregister removes the pool and closes its backend.
func (m *Manager) Unregister(ref topology.EndpointRef) error {
	m.lock.Lock()
	p, ok := m.pools[ref]
	delete(m.pools, ref)
	m.lock.Unlock()

	if !ok {
		return ErrEndpointNotFound.WithCausef("endpoint:%s", ref)
	}
	log.Info("unregister endpoint", zap.String("endpoint", string(ref)), zap.Int64("inUse", p.inUse.Load()))
	return p.backend.Close()
}

func (m *Manager) getPool(ref topology.EndpointRef) (*pool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	p, ok := m.pools[ref]
	if !ok {
		return nil, ErrEndpointNotFound.WithCausef("endpoint:%s", ref)
	}
	return p, nil
}

// Acquire checks out a connection of the endpoint, waiting at most WaitTimeout for a free slot.
func (m *Manager) Acquire(ctx context.Context, ref topology.EndpointRef) (*Conn, error) {
	p, err := m.getPool(ref)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.WaitTimeout)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithMessagef(ctx.Err(), "acquire %s", ref)
		}
		return nil, ErrPoolExhausted.WithCausef("endpoint:%s, maxConns:%d, waited:%s", ref, m.cfg.MaxConns, m.cfg.WaitTimeout)
	}
	p.inUse.Add(1)
	return &Conn{pool: p}, nil
}

func (m *Manager) Release(conn *Conn) {
	if conn == nil || !conn.released.CompareAndSwap(false, true) {
		return
	}
	conn.pool.inUse.Add(-1)
	conn.pool.sem.Release(1)
}

// HealthCheck reports whether the endpoint answers a ping. It never returns an error.
func (m *Manager) HealthCheck(ctx context.Context, ref topology.EndpointRef) bool {
	conn, err := m.Acquire(ctx, ref)
	if err != nil {
		log.Debug("health check acquire failed", zap.String("endpoint", string(ref)), zap.Error(err))
		return false
	}
	defer m.Release(conn)

	if err := conn.Ping(ctx); err != nil {
		log.Debug("health check ping failed", zap.String("endpoint", string(ref)), zap.Error(err))
		return false
	}
	return true
}

// InUse returns the number of checked out connections of the endpoint.
func (m *Manager) InUse(ref topology.EndpointRef) int64 {
	p, err := m.getPool(ref)
	if err != nil {
		return 0
	}
	return p.inUse.Load()
}

func (m *Manager) Endpoints() []topology.EndpointRef {
	m.lock.RLock()
	defer m.lock.RUnlock()

	refs := make([]topology.EndpointRef, 0, len(m.pools))
	for ref := range m.pools {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// Close closes every backend and forgets all pools.
func (m *Manager) Close() error {
	m.lock.Lock()
	pools := m.pools
	m.pools = make(map[topology.EndpointRef]*pool)
	m.lock.Unlock()

	var err error
	for ref, p := range pools {
		if closeErr := p.backend.Close(); closeErr != nil {
			err = multierr.Append(err, errors.WithMessagef(closeErr, "close %s", ref))
		}
	}
	return err
}
