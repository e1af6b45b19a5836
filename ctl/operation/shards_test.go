// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package operation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	requests []string
	bodies   []map[string]any
}

func (f *fakeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.bodies = append(f.bodies, body)

	topology := Topology{Version: 3, Shards: []Shard{
		{Name: "shard1", Weight: 60, Primary: "shard1/primary", Replicas: []string{"shard1/replica-0"}},
		{Name: "shard2", Weight: 40, Primary: "shard2/primary"},
	}}

	var data any
	switch r.URL.Path {
	case APIHealth:
		data = map[string]ShardHealth{"shard2": {Primary: true}, "shard1": {Primary: true, Replica: true}}
	case APIResolve:
		data = ResolveResult{Key: r.URL.Query().Get("key"), Strategy: "hash", Shards: topology.Shards[:1]}
	case APIShards + "/missing":
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "shard not found", "msg": "shard:missing"})
		return
	default:
		data = topology
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": statusSuccess, "data": data})
}

func newFakeRouter(t *testing.T) *fakeRouter {
	f := &fakeRouter{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	old := viper.GetString(RootRouterAddr)
	viper.Set(RootRouterAddr, strings.TrimPrefix(srv.URL, HTTP))
	t.Cleanup(func() { viper.Set(RootRouterAddr, old) })
	return f
}

func TestShardOperations(t *testing.T) {
	re := require.New(t)
	f := newFakeRouter(t)

	var out bytes.Buffer
	re.NoError(ShardsList(&out))
	re.Contains(out.String(), "shard1/replica-0")
	re.Contains(out.String(), "topology version: 3")

	out.Reset()
	re.NoError(Health(&out))
	re.Less(strings.Index(out.String(), "shard1"), strings.Index(out.String(), "shard2"))

	out.Reset()
	re.NoError(Resolve(&out, "user 42"))
	re.Contains(out.String(), "user 42")
	re.Contains(out.String(), "hash")

	re.NoError(AddShard(&out, "shard3", 20, 1))
	re.NoError(Rebalance(&out))
	out.Reset()
	re.NoError(Reassign(&out, "tenant-1", "shard2"))
	re.Equal("key tenant-1 is now served by shard2\n", out.String())

	err := RemoveShard(&out, "missing")
	re.Error(err)
	re.Contains(err.Error(), "shard not found")
	re.Contains(err.Error(), "404")

	re.Equal([]string{
		"GET " + APITopology,
		"GET " + APIHealth,
		"GET " + APIResolve + "?key=user+42",
		"POST " + APIShards,
		"POST " + APIRebalance,
		"PUT " + APIDirectory,
		"DELETE " + APIShards + "/missing",
	}, f.requests)
	re.Equal(map[string]any{"name": "shard3", "weight": float64(20), "replicas": float64(1)}, f.bodies[3])
	re.Equal(map[string]any{"key": "tenant-1", "shard": "shard2"}, f.bodies[5])
}
