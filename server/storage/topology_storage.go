// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package storage persists the shard topology in a KV store.
package storage

import (
	"context"
	"encoding/json"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/topology"
	"go.uber.org/zap"
)

const (
	DefaultMaxHistory   = 32
	DefaultMaxScanLimit = 100
	DefaultMinScanLimit = 20
)

type Options struct {
	// MaxHistory is the number of snapshots kept besides the current one.
	MaxHistory int
	// MaxScanLimit is the max limit of the number of keys in a scan.
	MaxScanLimit int
	// MinScanLimit is the min limit of the number of keys in a scan.
	MinScanLimit int
}

func (o *Options) adjust() {
	if o.MaxHistory <= 0 {
		o.MaxHistory = DefaultMaxHistory
	}
	if o.MaxScanLimit <= 0 {
		o.MaxScanLimit = DefaultMaxScanLimit
	}
	if o.MinScanLimit <= 0 || o.MinScanLimit > o.MaxScanLimit {
		o.MinScanLimit = o.MaxScanLimit
	}
}

// TopologyStorage saves the registry snapshot after every administrative change and loads it back on startup.
type TopologyStorage struct {
	kv   KV
	opts Options
}

func NewTopologyStorage(kv KV, opts Options) *TopologyStorage {
	opts.adjust()
	return &TopologyStorage{kv: kv, opts: opts}
}

// SaveSnapshot records the snapshot as the current one and appends it to the history.
func (s *TopologyStorage) SaveSnapshot(ctx context.Context, snapshot topology.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return ErrEncodeTopology.WithCause(err)
	}

	if err := s.kv.Put(ctx, makeHistoryKey(snapshot.Version), string(value)); err != nil {
		return err
	}
	if err := s.kv.Put(ctx, makeCurrentKey(), string(value)); err != nil {
		return err
	}

	if err := s.pruneHistory(ctx, snapshot.Version); err != nil {
		log.Warn("prune topology history failed", zap.Uint64("version", snapshot.Version), zap.Error(err))
	}
	return nil
}

// LoadSnapshot returns false when nothing was saved yet.
func (s *TopologyStorage) LoadSnapshot(ctx context.Context) (topology.Snapshot, bool, error) {
	value, err := s.kv.Get(ctx, makeCurrentKey())
	if err != nil {
		return topology.Snapshot{}, false, err
	}
	if value == "" {
		return topology.Snapshot{}, false, nil
	}

	var snapshot topology.Snapshot
	if err := json.Unmarshal([]byte(value), &snapshot); err != nil {
		return topology.Snapshot{}, false, ErrDecodeTopology.WithCausef("current snapshot, err:%v", err)
	}
	return snapshot, true, nil
}

// ListHistory returns the saved snapshots in version order.
func (s *TopologyStorage) ListHistory(ctx context.Context) ([]topology.Snapshot, error) {
	snapshots := make([]topology.Snapshot, 0)
	nextVersion := uint64(0)
	endKey := historyEndKey()

	rangeLimit := s.opts.MaxScanLimit
	for {
		startKey := makeHistoryKey(nextVersion)
		_, values, err := s.kv.Scan(ctx, startKey, endKey, rangeLimit)
		if err != nil {
			if rangeLimit /= 2; rangeLimit >= s.opts.MinScanLimit {
				continue
			}
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for _, v := range values {
			var snapshot topology.Snapshot
			if err := json.Unmarshal([]byte(v), &snapshot); err != nil {
				return nil, ErrDecodeTopology.WithCausef("history snapshot, err:%v", err)
			}
			snapshots = append(snapshots, snapshot)
			nextVersion = snapshot.Version + 1
		}

		if len(values) < rangeLimit {
			return snapshots, nil
		}
	}
}

func (s *TopologyStorage) pruneHistory(ctx context.Context, latest uint64) error {
	if latest < uint64(s.opts.MaxHistory) {
		return nil
	}
	keys, _, err := s.kv.Scan(ctx, makeHistoryKey(0), makeHistoryKey(latest-uint64(s.opts.MaxHistory)+1), s.opts.MaxScanLimit)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
