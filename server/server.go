// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/analytics"
	"github.com/CeresDB/shardrouter/server/config"
	"github.com/CeresDB/shardrouter/server/connection"
	"github.com/CeresDB/shardrouter/server/limiter"
	"github.com/CeresDB/shardrouter/server/provision"
	"github.com/CeresDB/shardrouter/server/replication"
	"github.com/CeresDB/shardrouter/server/router"
	httpservice "github.com/CeresDB/shardrouter/server/service/http"
	"github.com/CeresDB/shardrouter/server/status"
	"github.com/CeresDB/shardrouter/server/storage"
	"github.com/CeresDB/shardrouter/server/strategy"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 10 * time.Second

type Server struct {
	ctx         context.Context
	bgJobCtx    context.Context
	bgJobCancel func()
	bgJobWg     sync.WaitGroup

	cfg    *config.Config
	status *status.ServerStatus

	// Only set when the topology lives in etcd.
	etcdSrv *embed.Etcd
	etcdCli *clientv3.Client

	registry    *topology.Registry
	conns       *connection.Manager
	collector   *analytics.Collector
	coordinator *replication.Coordinator
	flowLimiter *limiter.FlowLimiter
	promReg     *prometheus.Registry

	router      *router.Router
	httpService *httpservice.Service
}

// CreateServer creates the server instance without starting any services or background jobs.
func CreateServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	mode, err := replication.ParseMode(cfg.ReplicationMode)
	if err != nil {
		return nil, err
	}

	collector := analytics.NewCollector(analytics.Config{
		MaxMetrics: cfg.MaxMetrics,
		MaxErrors:  cfg.MaxErrors,
	})
	conns := connection.NewManager(connection.Config{
		MaxConns:    cfg.MaxConnsPerEndpoint,
		WaitTimeout: cfg.ConnWaitTimeout(),
	})
	coordinator := replication.NewCoordinator(replication.Config{
		Mode:                mode,
		SyncTimeout:         cfg.SyncTimeout(),
		SyncMaxAttempts:     cfg.SyncMaxAttempts,
		SyncRetryDelay:      cfg.SyncRetryDelay(),
		AsyncMaxRetries:     cfg.AsyncMaxRetries,
		AsyncBaseDelay:      cfg.AsyncBaseDelay(),
		AsyncAttemptTimeout: cfg.AsyncAttemptTimeout(),
		Workers:             cfg.ReplicationWorkers,
	}, conns, collector)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promReg.MustRegister(collector.PrometheusCollectors()...)

	srv := &Server{
		ctx:         ctx,
		cfg:         cfg,
		status:      status.NewServerStatus(),
		registry:    topology.NewRegistry(topology.Config{TotalVirtualNodes: cfg.TotalVirtualNodes}),
		conns:       conns,
		collector:   collector,
		coordinator: coordinator,
		flowLimiter: limiter.NewFlowLimiter(cfg.FlowLimiter),
		promReg:     promReg,
	}
	return srv, nil
}

// Run runs the services and background jobs.
func (srv *Server) Run() error {
	if srv.status.Get() != status.StatusWaiting {
		return ErrServerRunning.WithCausef("status:%v", srv.status.Get())
	}

	kv, err := srv.startStorage()
	if err != nil {
		return err
	}
	topologyStorage := storage.NewTopologyStorage(kv, storage.Options{})

	strat, err := strategy.New(strategy.Name(srv.cfg.Strategy), srv.registry)
	if err != nil {
		return err
	}
	srv.router = router.New(router.Options{
		Registry:    srv.registry,
		Strategy:    strat,
		Conns:       srv.conns,
		Coordinator: srv.coordinator,
		Provisioner: provision.NewSQLiteProvisioner(provision.SQLiteConfig{
			DataDir:     srv.cfg.DataDir,
			Schema:      srv.cfg.Schema,
			RemoveFiles: srv.cfg.RemoveShardFiles,
		}),
		Storage: topologyStorage,
		Sink:    srv.collector,
	})

	if err := srv.initTopology(topologyStorage); err != nil {
		return err
	}

	srv.startBgJobs()

	if err := srv.startServer(); err != nil {
		return err
	}

	srv.status.Set(status.StatusRunning)
	log.Info("server is running", zap.Int("httpPort", srv.cfg.HTTPPort), zap.String("strategy", srv.cfg.Strategy),
		zap.String("replicationMode", srv.cfg.ReplicationMode), zap.String("storageType", srv.cfg.StorageType))
	return nil
}

func (srv *Server) Close() {
	srv.status.Set(status.Terminated)

	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()

	if srv.httpService != nil {
		if err := srv.httpService.Stop(ctx); err != nil {
			log.Error("fail to stop http service", zap.Error(err))
		}
	}

	if srv.router != nil {
		if err := srv.router.Persist(ctx); err != nil {
			log.Error("fail to persist topology", zap.Error(err))
		}
	}

	if srv.bgJobCancel != nil {
		srv.stopBgJobs()
	}

	if err := srv.conns.Close(); err != nil {
		log.Error("fail to close connections", zap.Error(err))
	}

	if srv.etcdCli != nil {
		if err := srv.etcdCli.Close(); err != nil {
			log.Error("fail to close etcd client", zap.Error(err))
		}
	}
	if srv.etcdSrv != nil {
		srv.etcdSrv.Close()
	}
}

// startStorage returns the kv keeping the topology, starting the embedded etcd when asked to.
func (srv *Server) startStorage() (storage.KV, error) {
	switch srv.cfg.StorageType {
	case config.StorageEtcd:
		if err := srv.createEtcdClient(srv.cfg.EtcdEndpointList()); err != nil {
			return nil, err
		}
	case config.StorageEmbed:
		if err := srv.startEtcd(); err != nil {
			return nil, err
		}
	default:
		return storage.NewMemKV(), nil
	}

	return storage.NewEtcdKV(srv.etcdCli, srv.cfg.EtcdRootPath, srv.cfg.EtcdCallTimeout()), nil
}

func (srv *Server) startEtcd() error {
	etcdCfg, err := srv.cfg.GenEtcdConfig()
	if err != nil {
		return err
	}

	etcdSrv, err := embed.StartEtcd(etcdCfg)
	if err != nil {
		return ErrStartEtcd.WithCause(err)
	}
	srv.etcdSrv = etcdSrv

	newCtx, cancel := context.WithTimeout(srv.ctx, srv.cfg.EtcdStartTimeout())
	defer cancel()

	select {
	case <-etcdSrv.Server.ReadyNotify():
	case <-newCtx.Done():
		return ErrStartEtcdTimeout.WithCausef("timeout is:%v", srv.cfg.EtcdStartTimeout())
	}

	endpoints := []string{etcdCfg.ACUrls[0].String()}
	return srv.createEtcdClient(endpoints)
}

func (srv *Server) createEtcdClient(endpoints []string) error {
	lgc := log.GetLoggerConfig()
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: srv.cfg.EtcdCallTimeout(),
		LogConfig:   lgc,
	})
	if err != nil {
		return ErrCreateEtcdClient.WithCause(err)
	}

	srv.etcdCli = client
	return nil
}

// initTopology restores the persisted topology. On the first start the shards declared in the config are used
// instead and persisted right away.
func (srv *Server) initTopology(topologyStorage *storage.TopologyStorage) error {
	ctx, cancel := context.WithTimeout(srv.ctx, srv.cfg.EtcdCallTimeout())
	defer cancel()

	snapshot, ok, err := topologyStorage.LoadSnapshot(ctx)
	if err != nil {
		return ErrLoadTopology.WithCause(err)
	}

	if !ok {
		snapshot = topology.Snapshot{}
		for _, s := range srv.cfg.Shards {
			snapshot.Shards = append(snapshot.Shards, router.NewShard(s.Name, s.Weight, s.Replicas))
		}
	}
	if err := srv.registry.Restore(snapshot); err != nil {
		return ErrInitTopology.WithCause(err)
	}
	if len(snapshot.Shards) > 0 {
		if err := srv.registry.ValidateWeights(); err != nil {
			return ErrInitTopology.WithCause(err)
		}
	}

	if err := srv.router.OpenShards(srv.ctx); err != nil {
		return errors.WithMessage(err, "open shards")
	}
	if !ok {
		if err := srv.router.Persist(ctx); err != nil {
			return errors.WithMessage(err, "persist initial topology")
		}
	}

	log.Info("topology initialized", zap.Bool("restored", ok), zap.Int("shards", len(snapshot.Shards)))
	return nil
}

// startServer starts the http service.
func (srv *Server) startServer() error {
	api := httpservice.NewAPI(srv.router, srv.collector, srv.status, srv.flowLimiter,
		promhttp.HandlerFor(srv.promReg, promhttp.HandlerOpts{}))
	srv.httpService = httpservice.NewHTTPService(srv.cfg.HTTPPort, srv.cfg.HTTPReadTimeout(), srv.cfg.HTTPWriteTimeout(), api.NewAPIRouter())

	go func() {
		if err := srv.httpService.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http service stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

func (srv *Server) startBgJobs() {
	srv.bgJobCtx, srv.bgJobCancel = context.WithCancel(srv.ctx)

	if err := srv.coordinator.Start(srv.bgJobCtx); err != nil {
		log.Error("fail to start replication coordinator", zap.Error(err))
	}

	srv.bgJobWg = sync.WaitGroup{}
	srv.bgJobWg.Add(1)
	go srv.reportPendingReplications()
}

func (srv *Server) stopBgJobs() {
	if err := srv.coordinator.Stop(context.Background()); err != nil {
		log.Error("fail to stop replication coordinator", zap.Error(err))
	}
	srv.bgJobCancel()
	srv.bgJobWg.Wait()
}

const pendingReportInterval = time.Minute

// reportPendingReplications logs the size of the async replication backlog while it is not empty.
func (srv *Server) reportPendingReplications() {
	defer srv.bgJobWg.Done()

	ticker := time.NewTicker(pendingReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-srv.bgJobCtx.Done():
			return
		case <-ticker.C:
			if pending := srv.coordinator.PendingJobs(); pending > 0 {
				log.Warn("async replications pending", zap.Int("jobs", pending))
			}
		}
	}
}
