// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package operation

const (
	HTTP = "http://"
	API  = "/api/v1"

	APIHealth    = API + "/health"
	APITopology  = API + "/topology"
	APIResolve   = API + "/resolve"
	APIShards    = API + "/shards"
	APIRebalance = API + "/rebalance"
	APIDirectory = API + "/directory"

	RootRouterAddr = "router_addr"

	statusSuccess = "success"
)

var (
	shardsListHeader = []string{"Name", "Weight", "Primary", "Replicas", "Partitions"}
	healthHeader     = []string{"Shard", "Primary", "Replica"}
	resolveHeader    = []string{"Key", "Strategy", "Shard", "Primary"}
)
