// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package router

import (
	"context"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type AddShardRequest struct {
	Name     string `json:"name"`
	Weight   int    `json:"weight"`
	Replicas int    `json:"replicas"`
}

// NewShard describes a shard with the endpoint names derived from its name.
func NewShard(name string, weight, replicas int) topology.Shard {
	shard := topology.Shard{
		Name:    name,
		Weight:  weight,
		Primary: topology.PrimaryRef(name),
	}
	for i := 0; i < replicas; i++ {
		shard.Replicas = append(shard.Replicas, topology.ReplicaRef(name, i))
	}
	return shard
}

// Topology returns the current registry state.
func (r *Router) Topology() topology.Snapshot {
	return r.registry.Snapshot()
}

// OpenShards provisions and registers the endpoints of every shard already in the registry, typically right after
// the topology was restored at startup.
func (r *Router) OpenShards(ctx context.Context) error {
	r.adminLock.Lock()
	defer r.adminLock.Unlock()

	for _, shard := range r.registry.View().Shards() {
		if err := r.openShard(ctx, shard); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) openShard(ctx context.Context, shard topology.Shard) error {
	endpoints, err := r.provisioner.Provision(ctx, shard)
	if err != nil {
		return err
	}

	registered := make([]topology.EndpointRef, 0, len(endpoints))
	for _, ref := range shard.Endpoints() {
		b, ok := endpoints[ref]
		if !ok {
			err = ErrRegisterEndpoint.WithCausef("provisioner returned no backend for endpoint:%s", ref)
			break
		}
		if err = r.conns.Register(ref, b); err != nil {
			break
		}
		delete(endpoints, ref)
		registered = append(registered, ref)
	}
	if err == nil {
		return nil
	}

	for _, ref := range registered {
		err = multierr.Append(err, r.conns.Unregister(ref))
	}
	err = multierr.Append(err, endpoints.Close())
	return errors.WithMessagef(err, "open shard %s", shard.Name)
}

func (r *Router) closeShard(shard topology.Shard) error {
	var err error
	for _, ref := range shard.Endpoints() {
		err = multierr.Append(err, r.conns.Unregister(ref))
	}
	return err
}

// AddShard provisions the endpoints of a new shard and adds it to the registry.
func (r *Router) AddShard(ctx context.Context, req AddShardRequest) (topology.Snapshot, error) {
	if req.Name == "" {
		return topology.Snapshot{}, ErrValidation.WithCausef("shard name is required")
	}
	if req.Replicas < 0 {
		return topology.Snapshot{}, ErrValidation.WithCausef("replicas must not be negative, replicas:%d", req.Replicas)
	}
	if req.Weight < topology.MinWeight || req.Weight > topology.MaxWeight {
		return topology.Snapshot{}, topology.ErrInvalidWeight.WithCausef("weight must be in (0,100], shard:%s, weight:%d", req.Name, req.Weight)
	}

	r.adminLock.Lock()
	defer r.adminLock.Unlock()

	if r.registry.View().Contains(req.Name) {
		return topology.Snapshot{}, topology.ErrShardExists.WithCausef("shard:%s", req.Name)
	}

	shard := NewShard(req.Name, req.Weight, req.Replicas)
	if err := r.openShard(ctx, shard); err != nil {
		return topology.Snapshot{}, err
	}
	if _, err := r.registry.AddShard(shard); err != nil {
		if closeErr := r.closeShard(shard); closeErr != nil {
			log.Warn("close endpoints of rejected shard failed", zap.String("shard", shard.Name), zap.Error(closeErr))
		}
		if deErr := r.provisioner.Deprovision(ctx, shard); deErr != nil {
			log.Warn("deprovision rejected shard failed", zap.String("shard", shard.Name), zap.Error(deErr))
		}
		return topology.Snapshot{}, err
	}
	return r.persist(ctx), nil
}

// RemoveShard takes a shard out of the registry, closes its endpoints and deprovisions it.
func (r *Router) RemoveShard(ctx context.Context, name string) (topology.Snapshot, error) {
	r.adminLock.Lock()
	defer r.adminLock.Unlock()

	shard, err := r.registry.View().Shard(name)
	if err != nil {
		return topology.Snapshot{}, err
	}
	if _, err := r.registry.RemoveShard(name); err != nil {
		return topology.Snapshot{}, err
	}

	snapshot := r.persist(ctx)
	if err := r.closeShard(shard); err != nil {
		log.Warn("close endpoints of removed shard failed", zap.String("shard", name), zap.Error(err))
	}
	if err := r.provisioner.Deprovision(ctx, shard); err != nil {
		log.Warn("deprovision removed shard failed", zap.String("shard", name), zap.Error(err))
	}
	return snapshot, nil
}

// Rebalance resets every shard to an equal weight.
func (r *Router) Rebalance(ctx context.Context) topology.Snapshot {
	r.adminLock.Lock()
	defer r.adminLock.Unlock()

	r.registry.RebalanceWeights()
	return r.persist(ctx)
}

// ReassignKey points a directory key at another shard. Rows already written under the key are not moved.
func (r *Router) ReassignKey(ctx context.Context, key, shardName string) (topology.Snapshot, error) {
	if key == "" {
		return topology.Snapshot{}, ErrValidation.WithCausef("key is required")
	}

	r.adminLock.Lock()
	defer r.adminLock.Unlock()

	if err := r.registry.Reassign(key, shardName); err != nil {
		return topology.Snapshot{}, err
	}
	return r.persist(ctx), nil
}

// DirectoryEntry returns the shard a directory key is pinned to.
func (r *Router) DirectoryEntry(key string) (string, error) {
	return r.registry.DirectoryEntry(key)
}

// DirectoryLoad returns the number of directory keys held by every shard.
func (r *Router) DirectoryLoad() map[string]int {
	return r.registry.DirectoryLoad()
}

func (r *Router) AddPartition(ctx context.Context, partition topology.Partition) (topology.Snapshot, error) {
	return r.mutate(ctx, func() error {
		_, err := r.registry.AddPartition(partition)
		return err
	})
}

func (r *Router) ReassignPartition(ctx context.Context, name, owner string) (topology.Snapshot, error) {
	return r.mutate(ctx, func() error {
		_, err := r.registry.ReassignPartition(name, owner)
		return err
	})
}

func (r *Router) RemovePartition(ctx context.Context, name string) (topology.Snapshot, error) {
	return r.mutate(ctx, func() error {
		_, err := r.registry.RemovePartition(name)
		return err
	})
}

// SetRanges replaces the whole range table.
func (r *Router) SetRanges(ctx context.Context, ranges []topology.KeyRange) (topology.Snapshot, error) {
	return r.mutate(ctx, func() error {
		_, err := r.registry.SetRanges(ranges)
		return err
	})
}

func (r *Router) mutate(ctx context.Context, fn func() error) (topology.Snapshot, error) {
	r.adminLock.Lock()
	defer r.adminLock.Unlock()

	if err := fn(); err != nil {
		return topology.Snapshot{}, err
	}
	return r.persist(ctx), nil
}

// Persist saves the current topology, directory assignments included.
func (r *Router) Persist(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}
	return r.storage.SaveSnapshot(ctx, r.registry.Snapshot())
}

// persist must be called with adminLock held. A storage failure leaves the change applied in memory; it is logged
// and the next successful save carries it.
func (r *Router) persist(ctx context.Context) topology.Snapshot {
	snapshot := r.registry.Snapshot()
	if r.storage == nil {
		return snapshot
	}
	if err := r.storage.SaveSnapshot(ctx, snapshot); err != nil {
		log.Error("persist topology failed", zap.Uint64("version", snapshot.Version), zap.Error(err))
	}
	return snapshot
}
