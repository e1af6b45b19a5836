// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/stretchr/testify/require"
)

const testSchema = "CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"

func testShard(name string, replicas int) topology.Shard {
	shard := topology.Shard{Name: name, Weight: 100, Primary: topology.PrimaryRef(name)}
	for i := 0; i < replicas; i++ {
		shard.Replicas = append(shard.Replicas, topology.ReplicaRef(name, i))
	}
	return shard
}

func TestProvisionCreatesEveryEndpoint(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	p := NewSQLiteProvisioner(SQLiteConfig{DataDir: dir, Schema: []string{testSchema}, RemoveFiles: true})

	shard := testShard("shard1", 2)
	endpoints, err := p.Provision(ctx, shard)
	re.NoError(err)
	re.Len(endpoints, 3)
	for _, ref := range shard.Endpoints() {
		b, ok := endpoints[ref]
		re.True(ok, "missing endpoint %s", ref)
		re.NoError(b.Ping(ctx))
		row, err := b.Insert(ctx, "users", backend.Record{"id": int64(1), "name": "alice"})
		re.NoError(err)
		re.Equal("alice", row["name"])
	}
	re.FileExists(filepath.Join(dir, "shard1", "primary.db"))
	re.FileExists(filepath.Join(dir, "shard1", "replica-1.db"))
	re.NoError(endpoints.Close())

	// Reopening keeps the data and tolerates the existing schema.
	endpoints, err = p.Provision(ctx, shard)
	re.NoError(err)
	rows, err := endpoints[shard.Primary].Query(ctx, "SELECT * FROM users")
	re.NoError(err)
	re.Len(rows, 1)
	re.NoError(endpoints.Close())

	re.NoError(p.Deprovision(ctx, shard))
	_, err = os.Stat(filepath.Join(dir, "shard1"))
	re.True(os.IsNotExist(err))
}

func TestDeprovisionKeepsFiles(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	p := NewSQLiteProvisioner(SQLiteConfig{DataDir: dir})

	shard := testShard("shard1", 0)
	endpoints, err := p.Provision(ctx, shard)
	re.NoError(err)
	re.NoError(endpoints.Close())
	re.NoError(p.Deprovision(ctx, shard))
	re.FileExists(filepath.Join(dir, "shard1", "primary.db"))
}

func TestProvisionRejectsBadInput(t *testing.T) {
	re := require.New(t)
	ctx := context.Background()
	p := NewSQLiteProvisioner(SQLiteConfig{DataDir: t.TempDir(), Schema: []string{"CREATE TABLE broken ("}})

	_, err := p.Provision(ctx, testShard("../escape", 0))
	re.True(coderr.IsKind(err, ErrInvalidShardName))

	_, err = p.Provision(ctx, testShard("shard1", 1))
	re.True(coderr.IsKind(err, ErrProvision))
}
