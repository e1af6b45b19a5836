// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package topology

import (
	"sync"
	"sync/atomic"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/hash"
	"go.uber.org/zap"
)

type Config struct {
	TotalVirtualNodes int
}

// Registry owns the shard set, weights, partitions, range table and directory.
// Mutations are serialized and each one publishes a new View; lookups only ever read a published View.
type Registry struct {
	cfg Config

	// lock serializes the topology mutations. The lock order is lock -> dir.lock.
	lock sync.Mutex
	view atomic.Pointer[View]

	dir directory
}

type directory struct {
	lock    sync.RWMutex
	entries map[string]string
	load    map[string]int
}

func NewRegistry(cfg Config) *Registry {
	if cfg.TotalVirtualNodes <= 0 {
		cfg.TotalVirtualNodes = hash.DefaultTotalVirtualNodes
	}
	r := &Registry{
		cfg: cfg,
		dir: directory{
			entries: make(map[string]string),
			load:    make(map[string]int),
		},
	}
	r.view.Store(newView(0, cfg.TotalVirtualNodes, nil, map[string]Partition{}, nil))
	return r
}

// View returns the latest published topology.
func (r *Registry) View() *View {
	return r.view.Load()
}

// publish must be called with r.lock held.
func (r *Registry) publish(shards []Shard, partitions map[string]Partition, ranges []KeyRange) *View {
	v := newView(r.View().version+1, r.cfg.TotalVirtualNodes, shards, partitions, ranges)
	r.view.Store(v)
	return v
}

// copyState must be called with r.lock held.
func (r *Registry) copyState() ([]Shard, map[string]Partition, []KeyRange) {
	cur := r.View()
	partitions := make(map[string]Partition, len(cur.partitions))
	for k, p := range cur.partitions {
		partitions[k] = p
	}
	return cur.Shards(), partitions, cur.Ranges()
}

// AddShard appends a shard. When the total weight would exceed 100 the existing weights are scaled down to make room.
func (r *Registry) AddShard(shard Shard) (*View, error) {
	if shard.Name == "" {
		return nil, ErrInvalidShard.WithCausef("shard name is empty")
	}
	if shard.Weight < MinWeight || shard.Weight > MaxWeight {
		return nil, ErrInvalidWeight.WithCausef("weight must be in (0,100], shard:%s, weight:%d", shard.Name, shard.Weight)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, ranges := r.copyState()
	for _, s := range shards {
		if s.Name == shard.Name {
			return nil, ErrShardExists.WithCausef("shard:%s", shard.Name)
		}
	}

	if existing := sumWeights(shards); existing+shard.Weight > TotalWeight && len(shards) > 0 {
		before := weightsOf(shards)
		scaled, err := apportion(before, TotalWeight-shard.Weight)
		if err != nil {
			return nil, ErrInvalidWeight.WithCausef("no room for shard:%s, weight:%d, existing shards:%d", shard.Name, shard.Weight, len(shards))
		}
		setWeights(shards, scaled)
		log.Info("scale down shard weights to make room for new shard",
			zap.String("shard", shard.Name), zap.Int("weight", shard.Weight),
			zap.Ints("before", before), zap.Ints("after", scaled))
	}

	added := shard.clone()
	added.Partitions = nil
	shards = append(shards, added)

	view := r.publish(shards, partitions, ranges)
	log.Info("add shard", zap.String("shard", shard.Name), zap.Int("weight", shard.Weight), zap.Uint64("version", view.version))
	return view, nil
}

// RemoveShard deletes an empty shard and redistributes its weight over the remaining shards so the total returns to 100.
// Directory entries and key ranges pointing at the shard are dropped.
func (r *Registry) RemoveShard(name string) (*View, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, ranges := r.copyState()
	idx := -1
	for i, s := range shards {
		if s.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrShardNotFound.WithCausef("shard:%s", name)
	}
	if len(shards[idx].Partitions) > 0 {
		return nil, ErrShardOwnsPartitions.WithCausef("shard:%s, partitions:%v", name, shards[idx].Partitions)
	}

	removedWeight := shards[idx].Weight
	shards = append(shards[:idx], shards[idx+1:]...)
	if len(shards) > 0 {
		redistributed, err := apportion(weightsOf(shards), TotalWeight)
		if err != nil {
			return nil, err
		}
		setWeights(shards, redistributed)
	}

	kept := ranges[:0]
	for _, rg := range ranges {
		if rg.Shard != name {
			kept = append(kept, rg)
		}
	}

	r.dir.lock.Lock()
	defer r.dir.lock.Unlock()
	dropped := 0
	for key, owner := range r.dir.entries {
		if owner == name {
			delete(r.dir.entries, key)
			dropped++
		}
	}
	delete(r.dir.load, name)

	view := r.publish(shards, partitions, kept)
	log.Info("remove shard", zap.String("shard", name), zap.Int("weight", removedWeight),
		zap.Int("droppedDirectoryKeys", dropped), zap.Uint64("version", view.version))
	return view, nil
}

// RebalanceWeights resets every shard to floor(100/n), the first 100 mod n shards getting one more.
func (r *Registry) RebalanceWeights() *View {
	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, ranges := r.copyState()
	setWeights(shards, equalWeights(len(shards), TotalWeight))
	view := r.publish(shards, partitions, ranges)
	log.Info("rebalance shard weights", zap.Ints("weights", weightsOf(shards)), zap.Uint64("version", view.version))
	return view
}

// ValidateWeights checks that the weights add up to exactly 100.
func (r *Registry) ValidateWeights() error {
	if sum := r.View().TotalWeight(); sum != TotalWeight {
		return ErrInvalidWeight.WithCausef("total weight is %d, expect %d", sum, TotalWeight)
	}
	return nil
}

func (r *Registry) AddPartition(partition Partition) (*View, error) {
	if partition.Name == "" {
		return nil, ErrInvalidShard.WithCausef("partition name is empty")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, ranges := r.copyState()
	if _, ok := partitions[partition.Name]; ok {
		return nil, ErrPartitionExists.WithCausef("partition:%s", partition.Name)
	}
	idx := indexOf(shards, partition.Owner)
	if idx < 0 {
		return nil, ErrShardNotFound.WithCausef("partition:%s, owner:%s", partition.Name, partition.Owner)
	}
	partitions[partition.Name] = partition
	shards[idx].Partitions = append(shards[idx].Partitions, partition.Name)
	return r.publish(shards, partitions, ranges), nil
}

// ReassignPartition moves a partition to another shard.
func (r *Registry) ReassignPartition(name, owner string) (*View, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, ranges := r.copyState()
	partition, ok := partitions[name]
	if !ok {
		return nil, ErrPartitionNotFound.WithCausef("partition:%s", name)
	}
	to := indexOf(shards, owner)
	if to < 0 {
		return nil, ErrShardNotFound.WithCausef("partition:%s, owner:%s", name, owner)
	}
	if partition.Owner == owner {
		return r.View(), nil
	}
	if from := indexOf(shards, partition.Owner); from >= 0 {
		shards[from].Partitions = removeString(shards[from].Partitions, name)
	}
	shards[to].Partitions = append(shards[to].Partitions, name)
	log.Info("reassign partition", zap.String("partition", name), zap.String("from", partition.Owner), zap.String("to", owner))
	partition.Owner = owner
	partitions[name] = partition
	return r.publish(shards, partitions, ranges), nil
}

func (r *Registry) RemovePartition(name string) (*View, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, ranges := r.copyState()
	partition, ok := partitions[name]
	if !ok {
		return nil, ErrPartitionNotFound.WithCausef("partition:%s", name)
	}
	if idx := indexOf(shards, partition.Owner); idx >= 0 {
		shards[idx].Partitions = removeString(shards[idx].Partitions, name)
	}
	delete(partitions, name)
	return r.publish(shards, partitions, ranges), nil
}

// SetRanges replaces the range table. Every range must point at a known shard.
func (r *Registry) SetRanges(ranges []KeyRange) (*View, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	shards, partitions, _ := r.copyState()
	normalized := make([]KeyRange, 0, len(ranges))
	for _, rg := range ranges {
		rg = rg.normalize()
		if err := rg.validate(); err != nil {
			return nil, err
		}
		if indexOf(shards, rg.Shard) < 0 {
			return nil, ErrShardNotFound.WithCausef("range [%s,%s] points at unknown shard:%s", rg.Start, rg.End, rg.Shard)
		}
		normalized = append(normalized, rg)
	}
	return r.publish(shards, partitions, normalized), nil
}

// LookupOrAssign returns the shard the directory maps key to. A key seen for the first time is assigned to the
// shard holding the fewest directory keys, ties going to the earlier shard, and keeps that shard afterwards.
func (r *Registry) LookupOrAssign(key string) (Shard, error) {
	r.dir.lock.RLock()
	name, ok := r.dir.entries[key]
	view := r.View()
	r.dir.lock.RUnlock()
	if ok {
		if shard, err := view.Shard(name); err == nil {
			return shard, nil
		}
	}

	r.dir.lock.Lock()
	defer r.dir.lock.Unlock()

	view = r.View()
	if name, ok := r.dir.entries[key]; ok && view.Contains(name) {
		return view.Shard(name)
	}
	if view.Len() == 0 {
		return Shard{}, ErrNoShard.WithCausef("directory key:%s", key)
	}

	best := view.shards[0].Name
	for _, s := range view.shards[1:] {
		if r.dir.load[s.Name] < r.dir.load[best] {
			best = s.Name
		}
	}
	r.dir.entries[key] = best
	r.dir.load[best]++
	log.Debug("assign directory key", zap.String("key", key), zap.String("shard", best))
	return view.Shard(best)
}

// Reassign points a directory key at another shard.
func (r *Registry) Reassign(key, shardName string) error {
	r.dir.lock.Lock()
	defer r.dir.lock.Unlock()

	if !r.View().Contains(shardName) {
		return ErrShardNotFound.WithCausef("reassign key:%s, shard:%s", key, shardName)
	}
	if old, ok := r.dir.entries[key]; ok {
		if old == shardName {
			return nil
		}
		r.dir.load[old]--
	}
	r.dir.entries[key] = shardName
	r.dir.load[shardName]++
	log.Info("reassign directory key", zap.String("key", key), zap.String("shard", shardName))
	return nil
}

// DirectoryEntry returns the shard a key is mapped to without assigning it.
func (r *Registry) DirectoryEntry(key string) (string, error) {
	r.dir.lock.RLock()
	defer r.dir.lock.RUnlock()

	name, ok := r.dir.entries[key]
	if !ok {
		return "", ErrDirectoryKeyMissing.WithCausef("key:%s", key)
	}
	return name, nil
}

// DirectoryLoad returns the number of directory keys held by every shard.
func (r *Registry) DirectoryLoad() map[string]int {
	r.dir.lock.RLock()
	defer r.dir.lock.RUnlock()

	load := make(map[string]int, len(r.dir.load))
	for k, v := range r.dir.load {
		load[k] = v
	}
	return load
}

func (r *Registry) Snapshot() Snapshot {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.dir.lock.RLock()
	defer r.dir.lock.RUnlock()

	view := r.View()
	directory := make(map[string]string, len(r.dir.entries))
	for k, v := range r.dir.entries {
		directory[k] = v
	}
	return Snapshot{
		Version:    view.version,
		Shards:     view.Shards(),
		Partitions: view.Partitions(),
		Ranges:     view.Ranges(),
		Directory:  directory,
	}
}

// Restore replaces the whole registry state with a snapshot, typically one loaded at startup.
func (r *Registry) Restore(snapshot Snapshot) error {
	shards := make([]Shard, 0, len(snapshot.Shards))
	for _, s := range snapshot.Shards {
		if s.Name == "" {
			return ErrInvalidShard.WithCausef("shard name is empty")
		}
		if s.Weight < MinWeight || s.Weight > MaxWeight {
			return ErrInvalidWeight.WithCausef("shard:%s, weight:%d", s.Name, s.Weight)
		}
		if indexOf(shards, s.Name) >= 0 {
			return ErrShardExists.WithCausef("shard:%s", s.Name)
		}
		s = s.clone()
		s.Partitions = nil
		shards = append(shards, s)
	}

	partitions := make(map[string]Partition, len(snapshot.Partitions))
	for _, p := range snapshot.Partitions {
		idx := indexOf(shards, p.Owner)
		if idx < 0 {
			return ErrShardNotFound.WithCausef("partition:%s, owner:%s", p.Name, p.Owner)
		}
		if _, ok := partitions[p.Name]; ok {
			return ErrPartitionExists.WithCausef("partition:%s", p.Name)
		}
		partitions[p.Name] = p
		shards[idx].Partitions = append(shards[idx].Partitions, p.Name)
	}

	ranges := make([]KeyRange, 0, len(snapshot.Ranges))
	for _, rg := range snapshot.Ranges {
		rg = rg.normalize()
		if err := rg.validate(); err != nil {
			return err
		}
		if indexOf(shards, rg.Shard) < 0 {
			return ErrShardNotFound.WithCausef("range points at unknown shard:%s", rg.Shard)
		}
		ranges = append(ranges, rg)
	}

	entries := make(map[string]string, len(snapshot.Directory))
	load := make(map[string]int)
	for key, owner := range snapshot.Directory {
		if indexOf(shards, owner) < 0 {
			continue
		}
		entries[key] = owner
		load[owner]++
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.dir.lock.Lock()
	defer r.dir.lock.Unlock()

	r.dir.entries = entries
	r.dir.load = load
	v := newView(snapshot.Version, r.cfg.TotalVirtualNodes, shards, partitions, ranges)
	r.view.Store(v)
	log.Info("restore topology", zap.Uint64("version", v.version), zap.Int("shards", len(shards)),
		zap.Int("partitions", len(partitions)), zap.Int("directoryKeys", len(entries)))
	return nil
}

func weightsOf(shards []Shard) []int {
	weights := make([]int, 0, len(shards))
	for _, s := range shards {
		weights = append(weights, s.Weight)
	}
	return weights
}

func setWeights(shards []Shard, weights []int) {
	for i := range shards {
		shards[i].Weight = weights[i]
	}
}

func indexOf(shards []Shard, name string) int {
	for i, s := range shards {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func removeString(items []string, target string) []string {
	out := items[:0]
	for _, item := range items {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}
