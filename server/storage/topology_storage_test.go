// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"context"
	"testing"

	"github.com/CeresDB/shardrouter/server/etcdutil"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/stretchr/testify/require"
)

func newTestSnapshot(version uint64) topology.Snapshot {
	return topology.Snapshot{
		Version: version,
		Shards: []topology.Shard{
			{Name: "shard1", Weight: 60, Primary: topology.PrimaryRef("shard1"), Replicas: []topology.EndpointRef{topology.ReplicaRef("shard1", 0)}},
			{Name: "shard2", Weight: 40, Primary: topology.PrimaryRef("shard2"), Partitions: []string{"p1"}},
		},
		Partitions: []topology.Partition{{Name: "p1", SizeEstimate: 1.5, Owner: "shard2"}},
		Ranges:     []topology.KeyRange{{Start: "A", End: "M", Shard: "shard1"}, {Start: "N", End: "Z", Shard: "shard2"}},
		Directory:  map[string]string{"user-1": "shard2"},
	}
}

func testSaveLoad(re *require.Assertions, s *TopologyStorage) {
	ctx := context.Background()

	_, ok, err := s.LoadSnapshot(ctx)
	re.NoError(err)
	re.False(ok)

	for v := uint64(1); v <= 5; v++ {
		re.NoError(s.SaveSnapshot(ctx, newTestSnapshot(v)))
	}

	loaded, ok, err := s.LoadSnapshot(ctx)
	re.NoError(err)
	re.True(ok)
	re.Equal(newTestSnapshot(5), loaded)

	snapshots, err := s.ListHistory(ctx)
	re.NoError(err)
	re.Len(snapshots, 3)
	for i, snapshot := range snapshots {
		re.Equal(uint64(i+3), snapshot.Version)
	}
}

func TestTopologyStorageMem(t *testing.T) {
	re := require.New(t)
	testSaveLoad(re, NewTopologyStorage(NewMemKV(), Options{MaxHistory: 3, MaxScanLimit: 2, MinScanLimit: 1}))
}

func TestTopologyStorageEtcd(t *testing.T) {
	re := require.New(t)
	_, client := etcdutil.PrepareEtcdServerAndClient(t)
	kv := NewEtcdKV(client, "/shardrouter", defaultRequestTimeout)
	testSaveLoad(re, NewTopologyStorage(kv, Options{MaxHistory: 3}))
}

func TestTopologyStorageRestoresRegistry(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()
	s := NewTopologyStorage(NewMemKV(), Options{})

	registry := topology.NewRegistry(topology.Config{})
	_, err := registry.AddShard(topology.Shard{Name: "shard1", Weight: 50, Primary: topology.PrimaryRef("shard1")})
	re.NoError(err)
	_, err = registry.AddShard(topology.Shard{Name: "shard2", Weight: 50, Primary: topology.PrimaryRef("shard2")})
	re.NoError(err)
	_, err = registry.LookupOrAssign("user-1")
	re.NoError(err)
	re.NoError(s.SaveSnapshot(ctx, registry.Snapshot()))

	loaded, ok, err := s.LoadSnapshot(ctx)
	re.NoError(err)
	re.True(ok)
	restored := topology.NewRegistry(topology.Config{})
	re.NoError(restored.Restore(loaded))
	re.Equal(registry.Snapshot(), restored.Snapshot())
}

func TestTopologyStorageCorruptSnapshot(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()
	kv := NewMemKV()
	re.NoError(kv.Put(ctx, makeCurrentKey(), "{not json"))

	_, _, err := NewTopologyStorage(kv, Options{}).LoadSnapshot(ctx)
	re.Error(err)
}
