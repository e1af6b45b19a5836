// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package strategy maps a shard key to the shard that owns it.
package strategy

import (
	"strings"

	"github.com/CeresDB/shardrouter/server/hash"
	"github.com/CeresDB/shardrouter/server/topology"
)

type Name string

const (
	HashName      Name = "hash"
	RangeName     Name = "range"
	DirectoryName Name = "directory"
	WeightedName  Name = "weighted"
	RingName      Name = "consistent"
)

// Strategy resolves a key against the latest registry state. For a fixed topology the same key always
// resolves to the same shard.
type Strategy interface {
	Name() Name
	Resolve(key string) (topology.Shard, error)
}

// New creates the strategy registered under name.
func New(name Name, registry *topology.Registry) (Strategy, error) {
	switch Name(strings.ToLower(string(name))) {
	case HashName:
		return NewHash(registry), nil
	case RangeName:
		return NewRange(registry), nil
	case DirectoryName:
		return NewDirectory(registry), nil
	case WeightedName:
		return NewWeighted(registry), nil
	case RingName:
		return NewConsistentRing(registry), nil
	default:
		return nil, ErrUnknownStrategy.WithCausef("strategy:%s", name)
	}
}

func currentView(registry *topology.Registry, key string) (*topology.View, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	view := registry.View()
	if view.Len() == 0 {
		return nil, topology.ErrNoShard.WithCausef("key:%s", key)
	}
	return view, nil
}

// Hash picks Sum64(key) mod shardCount. Any change of the shard count remaps almost every key.
type Hash struct {
	registry *topology.Registry
}

func NewHash(registry *topology.Registry) *Hash {
	return &Hash{registry: registry}
}

func (s *Hash) Name() Name {
	return HashName
}

func (s *Hash) Resolve(key string) (topology.Shard, error) {
	view, err := currentView(s.registry, key)
	if err != nil {
		return topology.Shard{}, err
	}
	idx := hash.Sum64([]byte(key)) % uint64(view.Len())
	return view.ShardAt(int(idx)), nil
}

// Weighted walks Sum64(key) mod totalWeight against the cumulative shard weights.
type Weighted struct {
	registry *topology.Registry
}

func NewWeighted(registry *topology.Registry) *Weighted {
	return &Weighted{registry: registry}
}

func (s *Weighted) Name() Name {
	return WeightedName
}

func (s *Weighted) Resolve(key string) (topology.Shard, error) {
	view, err := currentView(s.registry, key)
	if err != nil {
		return topology.Shard{}, err
	}

	point := int(hash.Sum64([]byte(key)) % uint64(view.TotalWeight()))
	cumulative := 0
	for i := 0; i < view.Len(); i++ {
		shard := view.ShardAt(i)
		cumulative += shard.Weight
		if point < cumulative {
			return shard, nil
		}
	}
	return view.ShardAt(view.Len() - 1), nil
}

// ConsistentRing looks the key up on the weighted virtual node ring of the current registry version.
type ConsistentRing struct {
	registry *topology.Registry
}

func NewConsistentRing(registry *topology.Registry) *ConsistentRing {
	return &ConsistentRing{registry: registry}
}

func (s *ConsistentRing) Name() Name {
	return RingName
}

func (s *ConsistentRing) Resolve(key string) (topology.Shard, error) {
	view, err := currentView(s.registry, key)
	if err != nil {
		return topology.Shard{}, err
	}
	return view.Shard(view.Ring().Get(key))
}

// Directory resolves through the explicit key mapping, assigning unseen keys to the least loaded shard.
type Directory struct {
	registry *topology.Registry
}

func NewDirectory(registry *topology.Registry) *Directory {
	return &Directory{registry: registry}
}

func (s *Directory) Name() Name {
	return DirectoryName
}

func (s *Directory) Resolve(key string) (topology.Shard, error) {
	if key == "" {
		return topology.Shard{}, ErrEmptyKey
	}
	return s.registry.LookupOrAssign(key)
}

func (s *Directory) Reassign(key, shardName string) error {
	return s.registry.Reassign(key, shardName)
}
