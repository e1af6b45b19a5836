// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package topology

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CeresDB/shardrouter/server/hash"
)

// View is an immutable copy of the registry taken at one version. Every mutation publishes a new View, so a
// lookup that holds a View never observes a half-applied change.
type View struct {
	version           uint64
	totalVirtualNodes int

	shards     []Shard
	index      map[string]int
	partitions map[string]Partition
	ranges     []KeyRange

	ringOnce sync.Once
	ring     *hash.ConsistentHashRing
}

func newView(version uint64, totalVirtualNodes int, shards []Shard, partitions map[string]Partition, ranges []KeyRange) *View {
	v := &View{
		version:           version,
		totalVirtualNodes: totalVirtualNodes,
		shards:            shards,
		index:             make(map[string]int, len(shards)),
		partitions:        partitions,
		ranges:            ranges,
	}
	for i, s := range shards {
		v.index[s.Name] = i
	}
	return v
}

func (v *View) Version() uint64 {
	return v.version
}

func (v *View) Len() int {
	return len(v.shards)
}

func (v *View) TotalWeight() int {
	return sumWeights(v.shards)
}

// ShardAt returns the i-th shard in registry order.
func (v *View) ShardAt(i int) Shard {
	return v.shards[i].clone()
}

func (v *View) Shard(name string) (Shard, error) {
	i, ok := v.index[name]
	if !ok {
		return Shard{}, ErrShardNotFound.WithCausef("shard:%s", name)
	}
	return v.shards[i].clone(), nil
}

func (v *View) Contains(name string) bool {
	_, ok := v.index[name]
	return ok
}

// Shards returns every shard in registry order.
func (v *View) Shards() []Shard {
	shards := make([]Shard, 0, len(v.shards))
	for _, s := range v.shards {
		shards = append(shards, s.clone())
	}
	return shards
}

func (v *View) Partition(name string) (Partition, error) {
	p, ok := v.partitions[name]
	if !ok {
		return Partition{}, ErrPartitionNotFound.WithCausef("partition:%s", name)
	}
	return p, nil
}

func (v *View) Partitions() []Partition {
	partitions := make([]Partition, 0, len(v.partitions))
	for _, s := range v.shards {
		for _, name := range s.Partitions {
			partitions = append(partitions, v.partitions[name])
		}
	}
	return partitions
}

func (v *View) Ranges() []KeyRange {
	return append([]KeyRange(nil), v.ranges...)
}

// RangeFor returns the shard owning the range that contains the first character of key.
func (v *View) RangeFor(key string) (string, bool) {
	c := FirstChar(key)
	if c == "" {
		return "", false
	}
	for _, r := range v.ranges {
		if r.Contains(c) {
			return r.Shard, true
		}
	}
	return "", false
}

// Ring returns the consistent hash ring of this version. It is built on first use and shared afterwards.
func (v *View) Ring() *hash.ConsistentHashRing {
	v.ringOnce.Do(func() {
		members := make([]hash.Member, 0, len(v.shards))
		for _, s := range v.shards {
			members = append(members, hash.Member{Name: s.Name, Weight: s.Weight})
		}
		v.ring = hash.NewConsistentHashRing(v.totalVirtualNodes, hash.Digest64, members...)
	})
	return v.ring
}

// String renders the shard weights, mostly for logs and errors.
func (v *View) String() string {
	names := make([]string, 0, len(v.shards))
	for _, s := range v.shards {
		names = append(names, fmt.Sprintf("%s:%d", s.Name, s.Weight))
	}
	sort.Strings(names)
	return fmt.Sprintf("version:%d, shards:%v", v.version, names)
}
