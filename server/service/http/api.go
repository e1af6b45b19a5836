// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/config"
	"github.com/CeresDB/shardrouter/server/limiter"
	"github.com/CeresDB/shardrouter/server/router"
	"github.com/CeresDB/shardrouter/server/status"
	"github.com/CeresDB/shardrouter/server/topology"
	"go.uber.org/zap"
)

func NewAPI(r *router.Router, collector *analytics.Collector, serverStatus *status.ServerStatus, flowLimiter *limiter.FlowLimiter, metricsHandler http.Handler) *API {
	return &API{
		router:         r,
		collector:      collector,
		serverStatus:   serverStatus,
		flowLimiter:    flowLimiter,
		metricsHandler: metricsHandler,
	}
}

func (a *API) NewAPIRouter() *Router {
	router := New().WithPrefix(apiPrefix).WithInstrumentation(printRequestInsmt)

	// Register data API, throttled by the flow limiter.
	router.Post("/write", a.wrap(a.write, true))
	router.Post("/bulkWrite", a.wrap(a.bulkWrite, true))
	router.Get("/read", a.wrap(a.readByParams, true))
	router.Post("/read", a.wrap(a.read, true))

	// Register topology API.
	router.Get("/health", a.wrap(a.health, false))
	router.Get("/resolve", a.wrap(a.resolve, false))
	router.Get("/topology", a.wrap(a.topology, false))
	router.Post("/shards", a.wrap(a.addShard, false))
	router.Del(fmt.Sprintf("/shards/:%s", shardNameParam), a.wrap(a.removeShard, false))
	router.Post("/rebalance", a.wrap(a.rebalance, false))
	router.Get("/directory", a.wrap(a.directoryLoad, false))
	router.Get(fmt.Sprintf("/directory/:%s", directoryKeyParam), a.wrap(a.directoryEntry, false))
	router.Put("/directory", a.wrap(a.reassignKey, false))
	router.Post("/partitions", a.wrap(a.addPartition, false))
	router.Put(fmt.Sprintf("/partitions/:%s", partitionNameParam), a.wrap(a.reassignPartition, false))
	router.Del(fmt.Sprintf("/partitions/:%s", partitionNameParam), a.wrap(a.removePartition, false))
	router.Put("/ranges", a.wrap(a.setRanges, false))

	// Register analytics API.
	router.Get("/analytics/metrics", a.wrap(a.analyticsSummary, false))
	router.Get("/analytics/errors", a.wrap(a.analyticsErrors, false))
	router.Get("/flowLimiter", a.wrap(a.getFlowLimiter, false))
	router.Put("/flowLimiter", a.wrap(a.updateFlowLimiter, false))

	if a.metricsHandler != nil {
		router.GetWithoutPrefix("/metrics", a.metricsHandler.ServeHTTP)
	}

	// Register debug API.
	router.GetWithoutPrefix("/debug/pprof/profile", pprof.Profile)
	router.GetWithoutPrefix("/debug/pprof/symbol", pprof.Symbol)
	router.GetWithoutPrefix("/debug/pprof/trace", pprof.Trace)
	router.GetWithoutPrefix("/debug/pprof/heap", pprof.Handler("heap").ServeHTTP)
	router.GetWithoutPrefix("/debug/pprof/goroutine", pprof.Handler("goroutine").ServeHTTP)

	return router
}

func decodeBody(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return ErrParseRequest.WithCause(err)
	}
	return nil
}

// shardKeyOf prefers the key carried by the request itself over the header.
func shardKeyOf(req *http.Request, key string) string {
	if key != "" {
		return key
	}
	return req.Header.Get(ShardKeyHeader)
}

func (a *API) write(req *http.Request) apiFuncResult {
	var writeReq router.WriteRequest
	if err := decodeBody(req, &writeReq); err != nil {
		return errResult(err)
	}
	writeReq.ShardKey = shardKeyOf(req, writeReq.ShardKey)

	record, err := a.router.Write(req.Context(), writeReq)
	if err != nil {
		log.Error("write failed", zap.String("table", writeReq.Table), zap.String("shardKey", writeReq.ShardKey), zap.Error(err))
		return errResult(err)
	}
	return okResult(record)
}

func (a *API) bulkWrite(req *http.Request) apiFuncResult {
	var bulkReq BulkWriteRequest
	if err := decodeBody(req, &bulkReq); err != nil {
		return errResult(err)
	}
	bulkReq.ShardKey = shardKeyOf(req, bulkReq.ShardKey)

	records, err := a.router.WriteBatch(req.Context(), bulkReq.Table, bulkReq.ShardKey, bulkReq.Records)
	if err != nil {
		log.Error("bulk write failed", zap.String("table", bulkReq.Table), zap.Int("records", len(bulkReq.Records)), zap.Error(err))
		return errResult(err)
	}
	return okResult(records)
}

// readByParams reads with the query string: table, shardKey, orderBy and limit are reserved, every other parameter
// is an equality condition.
func (a *API) readByParams(req *http.Request) apiFuncResult {
	params := req.URL.Query()
	readReq := ReadRequest{
		SelectRequest: router.SelectRequest{
			Table:   params.Get("table"),
			OrderBy: params.Get("orderBy"),
		},
		ShardKey: params.Get("shardKey"),
	}
	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.ParseUint(limit, 10, 64)
		if err != nil {
			return errResult(ErrParseRequest.WithCausef("limit:%s, err:%v", limit, err))
		}
		readReq.Limit = n
	}
	for column, values := range params {
		switch column {
		case "table", "shardKey", "orderBy", "limit":
			continue
		}
		if readReq.Where == nil {
			readReq.Where = make(map[string]any)
		}
		readReq.Where[column] = values[0]
	}
	return a.doRead(req, readReq)
}

func (a *API) read(req *http.Request) apiFuncResult {
	var readReq ReadRequest
	if err := decodeBody(req, &readReq); err != nil {
		return errResult(err)
	}
	return a.doRead(req, readReq)
}

func (a *API) doRead(req *http.Request, readReq ReadRequest) apiFuncResult {
	if readReq.Table == "" {
		return errResult(router.ErrValidation.WithCausef("table is required"))
	}
	query, args, err := router.BuildSelect(readReq.SelectRequest)
	if err != nil {
		return errResult(err)
	}

	shardKey := shardKeyOf(req, readReq.ShardKey)
	records, err := a.router.Read(req.Context(), router.ReadRequest{
		Table:    readReq.Table,
		ShardKey: shardKey,
		Query:    query,
		Args:     args,
	})
	if err != nil {
		log.Error("read failed", zap.String("table", readReq.Table), zap.String("shardKey", shardKey), zap.Error(err))
		return errResult(err)
	}

	result := ReadResult{Records: records}
	if shardKey != "" {
		if shard, err := a.router.ResolveShard(shardKey); err == nil {
			result.Shard = shard.Name
		}
	}
	return okResult(result)
}

func (a *API) health(req *http.Request) apiFuncResult {
	if !a.serverStatus.IsHealthy() {
		return errResult(ErrHealthCheck.WithCausef("server status is %v", a.serverStatus.Get()))
	}
	return okResult(a.router.Health(req.Context()))
}

// resolve maps ?key= to its shard, or ?start=&end= to the shards of a key range.
func (a *API) resolve(req *http.Request) apiFuncResult {
	params := req.URL.Query()
	result := ResolveResult{Strategy: a.router.StrategyName()}

	if key := params.Get("key"); key != "" {
		shard, err := a.router.ResolveShard(key)
		if err != nil {
			return errResult(err)
		}
		result.Key = key
		result.Shards = []topology.Shard{shard}
		return okResult(result)
	}

	start, end := params.Get("start"), params.Get("end")
	if start == "" || end == "" {
		return errResult(ErrParseRequest.WithCausef("either key or start and end are required"))
	}
	shards, err := a.router.ResolveRange(start, end)
	if err != nil {
		return errResult(err)
	}
	result.Shards = shards
	return okResult(result)
}

func (a *API) topology(_ *http.Request) apiFuncResult {
	return okResult(a.router.Topology())
}

func (a *API) addShard(req *http.Request) apiFuncResult {
	var addReq router.AddShardRequest
	if err := decodeBody(req, &addReq); err != nil {
		return errResult(err)
	}
	log.Info("add shard request", zap.String("request", fmt.Sprintf("%+v", addReq)))

	snapshot, err := a.router.AddShard(req.Context(), addReq)
	if err != nil {
		log.Error("add shard failed", zap.String("shard", addReq.Name), zap.Error(err))
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) removeShard(req *http.Request) apiFuncResult {
	name := Param(req.Context(), shardNameParam)
	log.Info("remove shard request", zap.String("shard", name))

	snapshot, err := a.router.RemoveShard(req.Context(), name)
	if err != nil {
		log.Error("remove shard failed", zap.String("shard", name), zap.Error(err))
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) rebalance(req *http.Request) apiFuncResult {
	return okResult(a.router.Rebalance(req.Context()))
}

func (a *API) directoryLoad(_ *http.Request) apiFuncResult {
	return okResult(a.router.DirectoryLoad())
}

func (a *API) directoryEntry(req *http.Request) apiFuncResult {
	key := Param(req.Context(), directoryKeyParam)
	shard, err := a.router.DirectoryEntry(key)
	if err != nil {
		return errResult(err)
	}
	return okResult(DirectoryEntryResult{Key: key, Shard: shard})
}

func (a *API) reassignKey(req *http.Request) apiFuncResult {
	var reassignReq ReassignKeyRequest
	if err := decodeBody(req, &reassignReq); err != nil {
		return errResult(err)
	}
	log.Info("reassign key request", zap.String("key", reassignReq.Key), zap.String("shard", reassignReq.Shard))

	snapshot, err := a.router.ReassignKey(req.Context(), reassignReq.Key, reassignReq.Shard)
	if err != nil {
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) addPartition(req *http.Request) apiFuncResult {
	var partition topology.Partition
	if err := decodeBody(req, &partition); err != nil {
		return errResult(err)
	}

	snapshot, err := a.router.AddPartition(req.Context(), partition)
	if err != nil {
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) reassignPartition(req *http.Request) apiFuncResult {
	var reassignReq ReassignPartitionRequest
	if err := decodeBody(req, &reassignReq); err != nil {
		return errResult(err)
	}

	snapshot, err := a.router.ReassignPartition(req.Context(), Param(req.Context(), partitionNameParam), reassignReq.Owner)
	if err != nil {
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) removePartition(req *http.Request) apiFuncResult {
	snapshot, err := a.router.RemovePartition(req.Context(), Param(req.Context(), partitionNameParam))
	if err != nil {
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) setRanges(req *http.Request) apiFuncResult {
	var rangesReq SetRangesRequest
	if err := decodeBody(req, &rangesReq); err != nil {
		return errResult(err)
	}

	snapshot, err := a.router.SetRanges(req.Context(), rangesReq.Ranges)
	if err != nil {
		return errResult(err)
	}
	return okResult(snapshot)
}

func (a *API) analyticsSummary(req *http.Request) apiFuncResult {
	window := analytics.DefaultSummaryWindow
	if w := req.URL.Query().Get("window"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil {
			return errResult(ErrParseRequest.WithCausef("window:%s, err:%v", w, err))
		}
		window = d
	}
	return okResult(a.collector.Summary(window))
}

func (a *API) analyticsErrors(req *http.Request) apiFuncResult {
	limit := analytics.DefaultRecentErrors
	if l := req.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return errResult(ErrParseRequest.WithCausef("limit:%s, err:%v", l, err))
		}
		limit = n
	}
	return okResult(a.collector.RecentErrors(limit))
}

func (a *API) getFlowLimiter(_ *http.Request) apiFuncResult {
	return okResult(a.flowLimiter.GetConfig())
}

func (a *API) updateFlowLimiter(req *http.Request) apiFuncResult {
	var updateFlowLimiterRequest UpdateFlowLimiterRequest
	if err := decodeBody(req, &updateFlowLimiterRequest); err != nil {
		log.Error("decode request body failed", zap.Error(err))
		return errResult(err)
	}

	log.Info("update flow limiter request", zap.String("request", fmt.Sprintf("%+v", updateFlowLimiterRequest)))

	newLimiterConfig := config.LimiterConfig{
		Limit:  updateFlowLimiterRequest.Limit,
		Burst:  updateFlowLimiterRequest.Burst,
		Enable: updateFlowLimiterRequest.Enable,
	}

	if err := a.flowLimiter.UpdateLimiter(newLimiterConfig); err != nil {
		log.Error("update flow limiter failed", zap.Error(err))
		if coderr.IsKind(err, limiter.ErrInvalidLimiterConfig) {
			return errResult(err)
		}
		return errResult(ErrUpdateFlowLimiter.WithCause(err))
	}

	return okResult(statusSuccess)
}

func printRequestInsmt(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		bodyByte, err := io.ReadAll(request.Body)
		if err != nil {
			log.Error("read request body failed", zap.Error(err))
			respondError(writer, ErrParseRequest.WithCause(err))
			return
		}
		request.Body = io.NopCloser(bytes.NewReader(bodyByte))
		log.Debug("receive http request", zap.String("handlerName", handlerName), zap.String("client host", request.RemoteAddr), zap.String("method", request.Method), zap.String("params", request.URL.RawQuery), zap.String("body", string(bodyByte)))
		handler.ServeHTTP(writer, request)
	}
}

func respond(w http.ResponseWriter, data interface{}) {
	statusMessage := statusSuccess
	b, err := json.Marshal(&response{
		Status: statusMessage,
		Data:   data,
	})
	if err != nil {
		log.Error("marshal json response failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if n, err := w.Write(b); err != nil {
		log.Error("write response failed", zap.Int("msg", n), zap.Error(err))
	}
}

// respondError maps the code of the cause to the http status. Errors without a code are internal ones.
func respondError(w http.ResponseWriter, apiErr error) {
	httpCode := http.StatusInternalServerError
	if code, ok := coderr.GetCauseCode(apiErr); ok {
		httpCode = code.ToHTTPCode()
	}

	b, err := json.Marshal(&response{
		Status: statusError,
		Error:  coderr.Desc(apiErr),
		Msg:    apiErr.Error(),
	})
	if err != nil {
		log.Error("marshal json response failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	if n, err := w.Write(b); err != nil {
		log.Error("write response failed", zap.Int("msg", n), zap.Error(err))
	}
}

func (a *API) wrap(f apiFunc, limited bool) http.HandlerFunc {
	hf := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited && !a.flowLimiter.Allow() {
			respondError(w, limiter.ErrFlowLimited.WithCausef("method:%s, path:%s", r.Method, r.URL.Path))
			return
		}
		result := f(r)
		if result.err != nil {
			respondError(w, result.err)
			return
		}
		respond(w, result.data)
	})
	return hf
}
