// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/config"
	"github.com/CeresDB/shardrouter/server/connection"
	"github.com/CeresDB/shardrouter/server/limiter"
	"github.com/CeresDB/shardrouter/server/provision"
	"github.com/CeresDB/shardrouter/server/replication"
	"github.com/CeresDB/shardrouter/server/router"
	"github.com/CeresDB/shardrouter/server/status"
	"github.com/CeresDB/shardrouter/server/storage"
	"github.com/CeresDB/shardrouter/server/strategy"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

const testSchema = "CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, shard_key TEXT)"

type testResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Msg    string          `json:"msg"`
}

type testAPI struct {
	handler      http.Handler
	serverStatus *status.ServerStatus
	conns        *connection.Manager
}

func newTestAPI(t *testing.T, shards int) *testAPI {
	re := require.New(t)

	registry := topology.NewRegistry(topology.Config{})
	conns := connection.NewManager(connection.Config{})
	t.Cleanup(func() { _ = conns.Close() })

	collector := analytics.NewCollector(analytics.Config{})
	coordinator := replication.NewCoordinator(replication.Config{Mode: replication.ModeSync, SyncTimeout: 2 * time.Second}, conns, collector)
	strat, err := strategy.New(strategy.HashName, registry)
	re.NoError(err)

	r := router.New(router.Options{
		Registry:    registry,
		Strategy:    strat,
		Conns:       conns,
		Coordinator: coordinator,
		Provisioner: provision.NewSQLiteProvisioner(provision.SQLiteConfig{DataDir: t.TempDir(), Schema: []string{testSchema}}),
		Storage:     storage.NewTopologyStorage(storage.NewMemKV(), storage.Options{}),
		Sink:        collector,
	})
	names := []string{"shard1", "shard2", "shard3"}
	weights := []int{34, 33, 33}
	if shards == 1 {
		weights = []int{100}
	}
	for i := 0; i < shards; i++ {
		_, err := r.AddShard(context.Background(), router.AddShardRequest{Name: names[i], Weight: weights[i], Replicas: 1})
		re.NoError(err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collector.PrometheusCollectors()...)

	serverStatus := status.NewServerStatus()
	serverStatus.Set(status.StatusRunning)
	flowLimiter := limiter.NewFlowLimiter(config.LimiterConfig{Limit: 1000, Burst: 1000, Enable: false})

	api := NewAPI(r, collector, serverStatus, flowLimiter, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	return &testAPI{handler: api.NewAPIRouter(), serverStatus: serverStatus, conns: conns}
}

func (a *testAPI) do(re *require.Assertions, method, path string, body any, header map[string]string) (int, testResponse) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		re.NoError(err)
		reader = bytes.NewReader(b)
	} else {
		reader = http.NoBody
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var resp testResponse
	re.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 3)

	code, resp := api.do(re, http.MethodGet, "/api/v1/health", nil, nil)
	re.Equal(http.StatusOK, code)
	var health map[string]router.ShardHealth
	re.NoError(json.Unmarshal(resp.Data, &health))
	re.Len(health, 3)
	re.Equal(router.ShardHealth{Primary: true, Replica: true}, health["shard2"])

	api.serverStatus.Set(status.Terminated)
	code, resp = api.do(re, http.MethodGet, "/api/v1/health", nil, nil)
	re.Equal(http.StatusServiceUnavailable, code)
	re.Equal(statusError, resp.Status)
	re.Equal("server health check", resp.Error)
}

func TestWriteAndRead(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 3)

	code, resp := api.do(re, http.MethodPost, "/api/v1/write",
		map[string]any{"table": "users", "data": map[string]any{"name": "alice", "shard_key": "user-1"}},
		map[string]string{ShardKeyHeader: "user-1"})
	re.Equal(http.StatusOK, code, resp.Msg)
	var written backend.Record
	re.NoError(json.Unmarshal(resp.Data, &written))
	re.Equal("alice", written["name"])
	re.NotNil(written["id"])

	code, resp = api.do(re, http.MethodPost, "/api/v1/write",
		map[string]any{"table": "users", "shardKey": "user-2", "data": map[string]any{"name": "bob"}}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)

	// Keyed read through the query string.
	code, resp = api.do(re, http.MethodGet, "/api/v1/read?table=users&shardKey=user-1&name=alice", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var result ReadResult
	re.NoError(json.Unmarshal(resp.Data, &result))
	re.Len(result.Records, 1)
	re.Equal("alice", result.Records[0]["name"])
	re.NotEmpty(result.Shard)

	// Scatter-gather read through the body.
	code, resp = api.do(re, http.MethodPost, "/api/v1/read",
		map[string]any{"table": "users", "orderBy": "name DESC"}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	result = ReadResult{}
	re.NoError(json.Unmarshal(resp.Data, &result))
	re.Len(result.Records, 2)
	re.Empty(result.Shard)
}

func TestBulkWrite(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 3)

	code, resp := api.do(re, http.MethodPost, "/api/v1/bulkWrite", BulkWriteRequest{
		Table:    "users",
		ShardKey: "tenant-7",
		Records:  []backend.Record{{"name": "a"}, {"name": "b"}, {"name": "c"}},
	}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var records []backend.Record
	re.NoError(json.Unmarshal(resp.Data, &records))
	re.Len(records, 3)

	code, resp = api.do(re, http.MethodGet, "/api/v1/read?table=users&shardKey=tenant-7", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var result ReadResult
	re.NoError(json.Unmarshal(resp.Data, &result))
	re.Len(result.Records, 3)
}

func TestRequestErrors(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 3)

	// Missing table.
	code, resp := api.do(re, http.MethodPost, "/api/v1/write", map[string]any{"shardKey": "k", "data": map[string]any{"name": "x"}}, nil)
	re.Equal(http.StatusBadRequest, code)
	re.Equal("validation failed", resp.Error)

	// Missing shard key in both the body and the header.
	code, _ = api.do(re, http.MethodPost, "/api/v1/write", map[string]any{"table": "users", "data": map[string]any{"name": "x"}}, nil)
	re.Equal(http.StatusBadRequest, code)

	code, resp = api.do(re, http.MethodGet, "/api/v1/read?table=users&limit=abc", nil, nil)
	re.Equal(http.StatusBadRequest, code)
	re.Equal("parse request params", resp.Error)

	code, _ = api.do(re, http.MethodGet, "/api/v1/read?table=users;drop", nil, nil)
	re.Equal(http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/write", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	re.Equal(http.StatusBadRequest, w.Code)

	code, resp = api.do(re, http.MethodDelete, "/api/v1/shards/missing", nil, nil)
	re.Equal(http.StatusNotFound, code)
	re.Equal("shard not found", resp.Error)

	// A stopped primary surfaces as not found on keyed reads.
	re.NoError(api.conns.Unregister(topology.PrimaryRef("shard1")))
	re.NoError(api.conns.Unregister(topology.PrimaryRef("shard2")))
	re.NoError(api.conns.Unregister(topology.PrimaryRef("shard3")))
	code, _ = api.do(re, http.MethodPost, "/api/v1/write", map[string]any{"table": "users", "shardKey": "k", "data": map[string]any{"name": "x"}}, nil)
	re.Equal(http.StatusNotFound, code)
}

func TestTopologyAdministration(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 1)

	code, resp := api.do(re, http.MethodPost, "/api/v1/shards", router.AddShardRequest{Name: "shard2", Weight: 50}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var snapshot topology.Snapshot
	re.NoError(json.Unmarshal(resp.Data, &snapshot))
	re.Len(snapshot.Shards, 2)
	re.Equal(100, snapshot.Shards[0].Weight+snapshot.Shards[1].Weight)

	code, _ = api.do(re, http.MethodPost, "/api/v1/shards", router.AddShardRequest{Name: "shard2", Weight: 10}, nil)
	re.Equal(http.StatusBadRequest, code)

	code, resp = api.do(re, http.MethodGet, "/api/v1/resolve?key=user-42", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var resolved ResolveResult
	re.NoError(json.Unmarshal(resp.Data, &resolved))
	re.Equal(strategy.HashName, resolved.Strategy)
	re.Len(resolved.Shards, 1)

	code, _ = api.do(re, http.MethodGet, "/api/v1/resolve", nil, nil)
	re.Equal(http.StatusBadRequest, code)

	code, resp = api.do(re, http.MethodPut, "/api/v1/ranges", SetRangesRequest{Ranges: []topology.KeyRange{
		{Start: "A", End: "M", Shard: "shard1"},
		{Start: "N", End: "Z", Shard: "shard2"},
	}}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	code, resp = api.do(re, http.MethodGet, "/api/v1/resolve?start=L&end=O", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	resolved = ResolveResult{}
	re.NoError(json.Unmarshal(resp.Data, &resolved))
	re.Len(resolved.Shards, 2)

	code, resp = api.do(re, http.MethodPost, "/api/v1/partitions", topology.Partition{Name: "p1", SizeEstimate: 1, Owner: "shard1"}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	code, resp = api.do(re, http.MethodPut, "/api/v1/partitions/p1", ReassignPartitionRequest{Owner: "shard2"}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	snapshot = topology.Snapshot{}
	re.NoError(json.Unmarshal(resp.Data, &snapshot))
	re.Equal("shard2", snapshot.Partitions[0].Owner)
	code, _ = api.do(re, http.MethodDelete, "/api/v1/partitions/p1", nil, nil)
	re.Equal(http.StatusOK, code)

	code, resp = api.do(re, http.MethodPut, "/api/v1/directory", ReassignKeyRequest{Key: "tenant-1", Shard: "shard2"}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	code, resp = api.do(re, http.MethodGet, "/api/v1/directory/tenant-1", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var entry DirectoryEntryResult
	re.NoError(json.Unmarshal(resp.Data, &entry))
	re.Equal(DirectoryEntryResult{Key: "tenant-1", Shard: "shard2"}, entry)
	code, _ = api.do(re, http.MethodGet, "/api/v1/directory/unknown", nil, nil)
	re.Equal(http.StatusNotFound, code)

	code, resp = api.do(re, http.MethodPost, "/api/v1/rebalance", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	snapshot = topology.Snapshot{}
	re.NoError(json.Unmarshal(resp.Data, &snapshot))
	re.Equal([]int{50, 50}, []int{snapshot.Shards[0].Weight, snapshot.Shards[1].Weight})

	code, resp = api.do(re, http.MethodDelete, "/api/v1/shards/shard2", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	code, resp = api.do(re, http.MethodGet, "/api/v1/topology", nil, nil)
	re.Equal(http.StatusOK, code)
	snapshot = topology.Snapshot{}
	re.NoError(json.Unmarshal(resp.Data, &snapshot))
	re.Len(snapshot.Shards, 1)
	re.Equal(100, snapshot.Shards[0].Weight)
}

func TestFlowLimiter(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 1)

	code, resp := api.do(re, http.MethodPut, "/api/v1/flowLimiter", UpdateFlowLimiterRequest{Limit: 1, Burst: 1, Enable: true}, nil)
	re.Equal(http.StatusOK, code, resp.Msg)

	code, resp = api.do(re, http.MethodGet, "/api/v1/flowLimiter", nil, nil)
	re.Equal(http.StatusOK, code)
	var cfg config.LimiterConfig
	re.NoError(json.Unmarshal(resp.Data, &cfg))
	re.Equal(config.LimiterConfig{Limit: 1, Burst: 1, Enable: true}, cfg)

	write := map[string]any{"table": "users", "shardKey": "k", "data": map[string]any{"name": "x"}}
	code, resp = api.do(re, http.MethodPost, "/api/v1/write", write, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	code, resp = api.do(re, http.MethodPost, "/api/v1/write", write, nil)
	re.Equal(http.StatusTooManyRequests, code)
	re.Equal("flow limited", resp.Error)

	// The administrative surface is never throttled.
	code, _ = api.do(re, http.MethodGet, "/api/v1/topology", nil, nil)
	re.Equal(http.StatusOK, code)

	code, _ = api.do(re, http.MethodPut, "/api/v1/flowLimiter", UpdateFlowLimiterRequest{Limit: -1, Burst: 1, Enable: true}, nil)
	re.Equal(http.StatusBadRequest, code)
}

func TestAnalytics(t *testing.T) {
	re := require.New(t)
	api := newTestAPI(t, 3)

	for _, key := range []string{"a", "b", "c", "d"} {
		code, resp := api.do(re, http.MethodPost, "/api/v1/write", map[string]any{"table": "users", "shardKey": key, "data": map[string]any{"name": key}}, nil)
		re.Equal(http.StatusOK, code, resp.Msg)
	}
	code, _ := api.do(re, http.MethodGet, "/api/v1/read?table=users", nil, nil)
	re.Equal(http.StatusOK, code)

	code, resp := api.do(re, http.MethodGet, "/api/v1/analytics/metrics?window=1m", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)
	var summary analytics.Summary
	re.NoError(json.Unmarshal(resp.Data, &summary))
	re.Equal(4, summary.Writes)
	re.Equal(1, summary.Reads)
	re.Equal(1, summary.ShardDistribution[router.ScatterShard])

	code, _ = api.do(re, http.MethodGet, "/api/v1/analytics/metrics?window=forever", nil, nil)
	re.Equal(http.StatusBadRequest, code)

	code, resp = api.do(re, http.MethodGet, "/api/v1/analytics/errors?limit=5", nil, nil)
	re.Equal(http.StatusOK, code, resp.Msg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	re.Equal(http.StatusOK, w.Code)
	re.Contains(w.Body.String(), "shardrouter_router_operations_total")
}
