// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/CeresDB/shardrouter/server/config"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/stretchr/testify/require"
	"github.com/tikv/pd/pkg/tempurl"
)

const testSchema = "CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)"

func allocPort(re *require.Assertions) int {
	u, err := url.Parse(tempurl.Alloc())
	re.NoError(err)
	port, err := strconv.Atoi(u.Port())
	re.NoError(err)
	return port
}

type embedEnv struct {
	dataDir   string
	etcdDir   string
	peerURL   string
	clientURL string
}

func newEmbedEnv(t *testing.T) embedEnv {
	return embedEnv{
		dataDir:   t.TempDir(),
		etcdDir:   t.TempDir(),
		peerURL:   tempurl.Alloc(),
		clientURL: tempurl.Alloc(),
	}
}

func (e embedEnv) config(t *testing.T) *config.Config {
	re := require.New(t)

	cfg, err := config.MakeConfigParser().Parse([]string{
		"-http-port", strconv.Itoa(allocPort(re)),
		"-data-dir", e.dataDir,
		"-storage-type", config.StorageEmbed,
		"-node-name", "test-node",
		"-etcd-data-dir", e.etcdDir,
		"-peer-urls", e.peerURL,
		"-client-urls", e.clientURL,
		"-initial-cluster", fmt.Sprintf("test-node=%s", e.peerURL),
		"-log-level", "error",
	})
	re.NoError(err)
	cfg.Schema = []string{testSchema}
	cfg.Shards = []config.ShardConfig{
		{Name: "shard1", Weight: 60, Replicas: 1},
		{Name: "shard2", Weight: 40},
	}
	re.NoError(cfg.ValidateAndAdjust())
	return cfg
}

func getTopology(re *require.Assertions, port int) topology.Snapshot {
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/topology", port))
	re.NoError(err)
	defer resp.Body.Close()
	re.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Data topology.Snapshot `json:"data"`
	}
	re.NoError(json.NewDecoder(resp.Body).Decode(&body))
	return body.Data
}

func waitHealthy(re *require.Assertions, port int) {
	re.Eventually(func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)
}

func TestServerRestoresTopology(t *testing.T) {
	re := require.New(t)
	env := newEmbedEnv(t)

	cfg := env.config(t)
	srv, err := CreateServer(context.Background(), cfg)
	re.NoError(err)
	re.NoError(srv.Run())
	waitHealthy(re, cfg.HTTPPort)

	snapshot := getTopology(re, cfg.HTTPPort)
	re.Len(snapshot.Shards, 2)
	re.Equal(60, snapshot.Shards[0].Weight)

	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/api/v1/shards", cfg.HTTPPort), "application/json",
		strings.NewReader(`{"name":"shard3","weight":20}`))
	re.NoError(err)
	re.Equal(http.StatusOK, resp.StatusCode)
	re.NoError(resp.Body.Close())

	re.True(coderr.IsKind(srv.Run(), ErrServerRunning))
	srv.Close()

	// The persisted topology wins over the shards of the config on restart.
	cfg = env.config(t)
	srv, err = CreateServer(context.Background(), cfg)
	re.NoError(err)
	re.NoError(srv.Run())
	defer srv.Close()
	waitHealthy(re, cfg.HTTPPort)

	snapshot = getTopology(re, cfg.HTTPPort)
	re.Len(snapshot.Shards, 3)
	re.Equal("shard3", snapshot.Shards[2].Name)
	re.Equal(20, snapshot.Shards[2].Weight)
}

func TestServerRejectsBadTopology(t *testing.T) {
	re := require.New(t)

	cfg, err := config.MakeConfigParser().Parse([]string{"-data-dir", t.TempDir(), "-log-level", "error"})
	re.NoError(err)
	cfg.HTTPPort = allocPort(re)
	cfg.Shards = []config.ShardConfig{{Name: "shard1", Weight: 60}, {Name: "shard2", Weight: 60}}
	re.NoError(cfg.ValidateAndAdjust())

	srv, err := CreateServer(context.Background(), cfg)
	re.NoError(err)
	defer srv.Close()
	re.True(coderr.IsKind(srv.Run(), ErrInitTopology))

	cfg.ReplicationMode = "eventual"
	_, err = CreateServer(context.Background(), cfg)
	re.Error(err)
}
