// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package strategy

import "github.com/CeresDB/shardrouter/server/topology"

// Range matches the upper-cased first character of the key against the range table.
// Keys outside every range go to the first shard.
type Range struct {
	registry *topology.Registry
}

func NewRange(registry *topology.Registry) *Range {
	return &Range{registry: registry}
}

func (s *Range) Name() Name {
	return RangeName
}

func (s *Range) Resolve(key string) (topology.Shard, error) {
	view, err := currentView(s.registry, key)
	if err != nil {
		return topology.Shard{}, err
	}
	if owner, ok := view.RangeFor(key); ok {
		return view.Shard(owner)
	}
	return view.ShardAt(0), nil
}

// ResolveRange returns every shard whose range overlaps [startKey, endKey], in range table order and without
// duplicates. Only the first character of each bound is considered.
func (s *Range) ResolveRange(startKey, endKey string) ([]topology.Shard, error) {
	start, end := topology.FirstChar(startKey), topology.FirstChar(endKey)
	if start == "" || end == "" {
		return nil, ErrEmptyKey
	}
	if start > end {
		start, end = end, start
	}

	view := s.registry.View()
	seen := make(map[string]struct{})
	shards := make([]topology.Shard, 0)
	for _, r := range view.Ranges() {
		if !r.Overlaps(start, end) {
			continue
		}
		if _, ok := seen[r.Shard]; ok {
			continue
		}
		seen[r.Shard] = struct{}{}
		shard, err := view.Shard(r.Shard)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	return shards, nil
}
