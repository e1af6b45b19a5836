// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"net/http"

	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/limiter"
	"github.com/CeresDB/shardrouter/server/router"
	"github.com/CeresDB/shardrouter/server/status"
	"github.com/CeresDB/shardrouter/server/strategy"
	"github.com/CeresDB/shardrouter/server/topology"
)

const (
	statusSuccess string = "success"
	statusError   string = "error"

	shardNameParam     string = "shard"
	partitionNameParam string = "partition"
	directoryKeyParam  string = "key"

	// ShardKeyHeader carries the shard key when the body does not.
	ShardKeyHeader string = "X-Shard-Key"

	apiPrefix string = "/api/v1"
)

type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Msg    string      `json:"msg,omitempty"`
}

type apiFuncResult struct {
	data interface{}
	err  error
}

func okResult(data interface{}) apiFuncResult {
	return apiFuncResult{
		data: data,
		err:  nil,
	}
}

func errResult(err error) apiFuncResult {
	return apiFuncResult{
		data: nil,
		err:  err,
	}
}

type apiFunc func(r *http.Request) apiFuncResult

type API struct {
	router    *router.Router
	collector *analytics.Collector

	serverStatus *status.ServerStatus
	flowLimiter  *limiter.FlowLimiter

	metricsHandler http.Handler
}

type BulkWriteRequest struct {
	Table    string           `json:"table"`
	ShardKey string           `json:"shardKey"`
	Records  []backend.Record `json:"records"`
}

// ReadRequest is a structured read. An empty ShardKey reads every shard.
type ReadRequest struct {
	router.SelectRequest
	ShardKey string `json:"shardKey,omitempty"`
}

type ReadResult struct {
	Shard   string           `json:"shard,omitempty"`
	Records []backend.Record `json:"records"`
}

type ResolveResult struct {
	Key      string           `json:"key,omitempty"`
	Strategy strategy.Name    `json:"strategy"`
	Shards   []topology.Shard `json:"shards"`
}

type ReassignKeyRequest struct {
	Key   string `json:"key"`
	Shard string `json:"shard"`
}

type DirectoryEntryResult struct {
	Key   string `json:"key"`
	Shard string `json:"shard"`
}

type ReassignPartitionRequest struct {
	Owner string `json:"owner"`
}

type SetRangesRequest struct {
	Ranges []topology.KeyRange `json:"ranges"`
}

type UpdateFlowLimiterRequest struct {
	Limit  int  `json:"limit"`
	Burst  int  `json:"burst"`
	Enable bool `json:"enable"`
}
