// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/caarlos0/env/v6"
	"github.com/pelletier/go-toml/v2"
	"go.etcd.io/etcd/server/v3/embed"
)

const (
	EnvPrefix = "SHARDROUTER_"

	StorageMemory = "memory"
	StorageEtcd   = "etcd"
	StorageEmbed  = "embed"

	defaultHTTPPort                    = 8080
	defaultHTTPReadTimeoutMs     int64 = 30 * 1000
	defaultHTTPWriteTimeoutMs    int64 = 30 * 1000
	defaultStrategy                    = "hash"
	defaultTotalVirtualNodes           = 150
	defaultReplicationMode             = "sync"
	defaultSyncTimeoutMs         int64 = 5 * 1000
	defaultSyncMaxAttempts             = 10
	defaultSyncRetryDelayMs      int64 = 100
	defaultAsyncMaxRetries             = 3
	defaultAsyncBaseDelayMs      int64 = 1000
	defaultAsyncAttemptTimeoutMs int64 = 5 * 1000
	defaultReplicationWorkers          = 16
	defaultMaxConnsPerEndpoint         = 20
	defaultConnWaitTimeoutMs     int64 = 2 * 1000
	defaultDataDir                     = "/tmp/shardrouter/data"
	defaultMaxMetrics                  = 10000
	defaultMaxErrors                   = 1000

	defaultStorageType               = StorageMemory
	defaultEtcdRootPath              = "/shardrouter"
	defaultEtcdEndpoints             = "http://127.0.0.1:2379"
	defaultEtcdCallTimeoutMs   int64 = 5 * 1000
	defaultEtcdStartTimeoutMs  int64 = 10 * 1000
	defaultNodeNamePrefix            = "shardrouter"
	defaultEtcdDataDir               = "/tmp/shardrouter/etcd"
	defaultClientUrls                = "http://127.0.0.1:2379"
	defaultPeerUrls                  = "http://127.0.0.1:2380"
	defaultInitialClusterState       = embed.ClusterStateFlagNew
	defaultInitialClusterToken       = "shardrouter-cluster" //#nosec G101

	defaultFlowLimiterLimit  = 10 * 1000
	defaultFlowLimiterBurst  = 1000
	defaultFlowLimiterEnable = false
)

type LimiterConfig struct {
	// Limit is the updated rate of tokens.
	Limit int `toml:"limit" json:"limit" env:"LIMIT"`
	// Burst is the maximum number of tokens.
	Burst int `toml:"burst" json:"burst" env:"BURST"`
	// Enable is used to control the switch of the limiter.
	Enable bool `toml:"enable" json:"enable" env:"ENABLE"`
}

// ShardConfig declares a shard created at the first start, when no topology was persisted yet.
type ShardConfig struct {
	Name     string `toml:"name" json:"name"`
	Weight   int    `toml:"weight" json:"weight"`
	Replicas int    `toml:"replicas" json:"replicas"`
}

type Config struct {
	Log log.Config `toml:"log" json:"log" envPrefix:"LOG_"`

	HTTPPort           int   `toml:"http-port" json:"http-port" env:"HTTP_PORT"`
	HTTPReadTimeoutMs  int64 `toml:"http-read-timeout-ms" json:"http-read-timeout-ms" env:"HTTP_READ_TIMEOUT_MS"`
	HTTPWriteTimeoutMs int64 `toml:"http-write-timeout-ms" json:"http-write-timeout-ms" env:"HTTP_WRITE_TIMEOUT_MS"`

	// Strategy is one of hash, range, directory, weighted and consistent.
	Strategy          string `toml:"strategy" json:"strategy" env:"STRATEGY"`
	TotalVirtualNodes int    `toml:"total-virtual-nodes" json:"total-virtual-nodes" env:"TOTAL_VIRTUAL_NODES"`

	// ReplicationMode is either sync or async.
	ReplicationMode    string `toml:"replication-mode" json:"replication-mode" env:"REPLICATION_MODE"`
	SyncTimeoutMs      int64  `toml:"sync-timeout-ms" json:"sync-timeout-ms" env:"SYNC_TIMEOUT_MS"`
	SyncMaxAttempts    int    `toml:"sync-max-attempts" json:"sync-max-attempts" env:"SYNC_MAX_ATTEMPTS"`
	SyncRetryDelayMs   int64  `toml:"sync-retry-delay-ms" json:"sync-retry-delay-ms" env:"SYNC_RETRY_DELAY_MS"`
	AsyncMaxRetries    int    `toml:"async-max-retries" json:"async-max-retries" env:"ASYNC_MAX_RETRIES"`
	AsyncBaseDelayMs   int64  `toml:"async-base-delay-ms" json:"async-base-delay-ms" env:"ASYNC_BASE_DELAY_MS"`
	ReplicationWorkers int    `toml:"replication-workers" json:"replication-workers" env:"REPLICATION_WORKERS"`

	// AsyncAttemptTimeoutMs bounds one background replication attempt.
	AsyncAttemptTimeoutMs int64 `toml:"async-attempt-timeout-ms" json:"async-attempt-timeout-ms" env:"ASYNC_ATTEMPT_TIMEOUT_MS"`

	MaxConnsPerEndpoint int   `toml:"max-conns-per-endpoint" json:"max-conns-per-endpoint" env:"MAX_CONNS_PER_ENDPOINT"`
	ConnWaitTimeoutMs   int64 `toml:"conn-wait-timeout-ms" json:"conn-wait-timeout-ms" env:"CONN_WAIT_TIMEOUT_MS"`

	// DataDir holds one directory per shard with a SQLite file per endpoint.
	DataDir          string        `toml:"data-dir" json:"data-dir" env:"DATA_DIR"`
	Schema           []string      `toml:"schema" json:"schema"`
	RemoveShardFiles bool          `toml:"remove-shard-files" json:"remove-shard-files" env:"REMOVE_SHARD_FILES"`
	Shards           []ShardConfig `toml:"shards" json:"shards"`

	MaxMetrics int `toml:"max-metrics" json:"max-metrics" env:"MAX_METRICS"`
	MaxErrors  int `toml:"max-errors" json:"max-errors" env:"MAX_ERRORS"`

	FlowLimiter LimiterConfig `toml:"flow-limiter" json:"flow-limiter" envPrefix:"FLOW_LIMITER_"`

	// StorageType selects where the topology is persisted: memory, etcd or embed.
	StorageType        string `toml:"storage-type" json:"storage-type" env:"STORAGE_TYPE"`
	EtcdEndpoints      string `toml:"etcd-endpoints" json:"etcd-endpoints" env:"ETCD_ENDPOINTS"`
	EtcdRootPath       string `toml:"etcd-root-path" json:"etcd-root-path" env:"ETCD_ROOT_PATH"`
	EtcdCallTimeoutMs  int64  `toml:"etcd-call-timeout-ms" json:"etcd-call-timeout-ms" env:"ETCD_CALL_TIMEOUT_MS"`
	EtcdStartTimeoutMs int64  `toml:"etcd-start-timeout-ms" json:"etcd-start-timeout-ms" env:"ETCD_START_TIMEOUT_MS"`

	// The following fields only matter when StorageType is embed.
	NodeName            string `toml:"node-name" json:"node-name" env:"NODE_NAME"`
	EtcdDataDir         string `toml:"etcd-data-dir" json:"etcd-data-dir" env:"ETCD_DATA_DIR"`
	InitialCluster      string `toml:"initial-cluster" json:"initial-cluster" env:"INITIAL_CLUSTER"`
	InitialClusterState string `toml:"initial-cluster-state" json:"initial-cluster-state" env:"INITIAL_CLUSTER_STATE"`
	InitialClusterToken string `toml:"initial-cluster-token" json:"initial-cluster-token" env:"INITIAL_CLUSTER_TOKEN"`
	ClientUrls          string `toml:"client-urls" json:"client-urls" env:"CLIENT_URLS"`
	PeerUrls            string `toml:"peer-urls" json:"peer-urls" env:"PEER_URLS"`
	AdvertiseClientUrls string `toml:"advertise-client-urls" json:"advertise-client-urls" env:"ADVERTISE_CLIENT_URLS"`
	AdvertisePeerUrls   string `toml:"advertise-peer-urls" json:"advertise-peer-urls" env:"ADVERTISE_PEER_URLS"`
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (c *Config) HTTPReadTimeout() time.Duration {
	return msToDuration(c.HTTPReadTimeoutMs)
}

func (c *Config) HTTPWriteTimeout() time.Duration {
	return msToDuration(c.HTTPWriteTimeoutMs)
}

func (c *Config) SyncTimeout() time.Duration {
	return msToDuration(c.SyncTimeoutMs)
}

func (c *Config) SyncRetryDelay() time.Duration {
	return msToDuration(c.SyncRetryDelayMs)
}

func (c *Config) AsyncBaseDelay() time.Duration {
	return msToDuration(c.AsyncBaseDelayMs)
}

func (c *Config) AsyncAttemptTimeout() time.Duration {
	return msToDuration(c.AsyncAttemptTimeoutMs)
}

func (c *Config) ConnWaitTimeout() time.Duration {
	return msToDuration(c.ConnWaitTimeoutMs)
}

func (c *Config) EtcdCallTimeout() time.Duration {
	return msToDuration(c.EtcdCallTimeoutMs)
}

func (c *Config) EtcdStartTimeout() time.Duration {
	return msToDuration(c.EtcdStartTimeoutMs)
}

// EtcdEndpointList splits the comma separated etcd endpoints.
func (c *Config) EtcdEndpointList() []string {
	items := strings.Split(c.EtcdEndpoints, ",")
	endpoints := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			endpoints = append(endpoints, item)
		}
	}
	return endpoints
}

// ValidateAndAdjust validates the config fields and adjusts some fields which should be adjusted.
// Return error if any field is invalid.
func (c *Config) ValidateAndAdjust() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return ErrInvalidConfig.WithCausef("http port out of range, port:%d", c.HTTPPort)
	}
	c.Strategy = strings.ToLower(c.Strategy)
	c.ReplicationMode = strings.ToLower(c.ReplicationMode)
	if c.ReplicationMode != "sync" && c.ReplicationMode != "async" {
		return ErrInvalidConfig.WithCausef("unknown replication mode:%s", c.ReplicationMode)
	}
	if c.SyncTimeoutMs <= 0 || c.SyncRetryDelayMs <= 0 || c.AsyncBaseDelayMs <= 0 || c.AsyncAttemptTimeoutMs <= 0 {
		return ErrInvalidConfig.WithCausef("replication delays must be positive")
	}
	if c.SyncMaxAttempts <= 0 || c.AsyncMaxRetries <= 0 {
		return ErrInvalidConfig.WithCausef("replication attempts must be positive")
	}
	if c.DataDir == "" {
		return ErrInvalidConfig.WithCausef("data dir is required")
	}

	seen := make(map[string]struct{}, len(c.Shards))
	for _, s := range c.Shards {
		if s.Name == "" {
			return ErrInvalidConfig.WithCausef("shard name is required")
		}
		if _, ok := seen[s.Name]; ok {
			return ErrInvalidConfig.WithCausef("duplicated shard:%s", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Replicas < 0 {
			return ErrInvalidConfig.WithCausef("negative replicas, shard:%s", s.Name)
		}
	}

	switch c.StorageType {
	case StorageMemory, StorageEmbed:
	case StorageEtcd:
		if len(c.EtcdEndpointList()) == 0 {
			return ErrInvalidConfig.WithCausef("etcd endpoints are required by storage type %s", StorageEtcd)
		}
	default:
		return ErrInvalidConfig.WithCausef("unknown storage type:%s", c.StorageType)
	}

	if c.AdvertiseClientUrls == "" {
		c.AdvertiseClientUrls = c.ClientUrls
	}
	if c.AdvertisePeerUrls == "" {
		c.AdvertisePeerUrls = c.PeerUrls
	}
	return nil
}

// GenEtcdConfig builds the config of the embedded etcd started when StorageType is embed.
func (c *Config) GenEtcdConfig() (*embed.Config, error) {
	cfg := embed.NewConfig()

	cfg.Name = c.NodeName
	cfg.Dir = c.EtcdDataDir
	cfg.InitialCluster = c.InitialCluster
	cfg.ClusterState = c.InitialClusterState
	cfg.InitialClusterToken = c.InitialClusterToken
	cfg.Logger = "zap"

	var err error
	cfg.LPUrls, err = parseUrls(c.PeerUrls)
	if err != nil {
		return nil, err
	}

	cfg.APUrls, err = parseUrls(c.AdvertisePeerUrls)
	if err != nil {
		return nil, err
	}

	cfg.LCUrls, err = parseUrls(c.ClientUrls)
	if err != nil {
		return nil, err
	}

	cfg.ACUrls, err = parseUrls(c.AdvertiseClientUrls)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parser builds the config from the flags, then the optional toml file, then the environment.
type Parser struct {
	flagSet        *flag.FlagSet
	cfg            *Config
	configFilePath string
}

func (p *Parser) Parse(arguments []string) (*Config, error) {
	if err := p.flagSet.Parse(arguments); err != nil {
		if err == flag.ErrHelp {
			return nil, ErrHelpRequested.WithCause(err)
		}
		return nil, ErrInvalidCommandArgs.WithCausef("original arguments:%v, parse err:%v", arguments, err)
	}

	return p.cfg, nil
}

func (p *Parser) NeedLoadConfigFile() bool {
	return len(p.configFilePath) > 0
}

// ParseConfigFromToml overrides the fields present in the config file.
func (p *Parser) ParseConfigFromToml() error {
	data, err := os.ReadFile(p.configFilePath)
	if err != nil {
		return ErrLoadConfigFile.WithCausef("read file:%s, err:%v", p.configFilePath, err)
	}

	if err := toml.Unmarshal(data, p.cfg); err != nil {
		return ErrLoadConfigFile.WithCausef("parse file:%s, err:%v", p.configFilePath, err)
	}
	return nil
}

// ParseConfigFromEnv overrides the fields whose SHARDROUTER_ prefixed variable is set.
func (p *Parser) ParseConfigFromEnv() error {
	if err := env.Parse(p.cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return ErrLoadConfigEnv.WithCause(err)
	}
	return nil
}

func makeDefaultNodeName() string {
	host, err := os.Hostname()
	if err != nil {
		return defaultNodeNamePrefix
	}

	return fmt.Sprintf("%s-%s", defaultNodeNamePrefix, host)
}

func makeDefaultInitialCluster(nodeName string) string {
	return fmt.Sprintf("%s=%s", nodeName, defaultPeerUrls)
}

func MakeConfigParser() *Parser {
	fs, cfg := flag.NewFlagSet("shardrouter", flag.ContinueOnError), &Config{}
	builder := &Parser{
		flagSet: fs,
		cfg:     cfg,
	}

	fs.StringVar(&builder.configFilePath, "config", "", "config file path")

	fs.StringVar(&cfg.Log.Level, "log-level", log.DefaultLogLevel, "level of the log")
	fs.StringVar(&cfg.Log.File, "log-file", log.DefaultLogFile, "file for log output")
	fs.StringVar(&cfg.Log.Encoding, "log-encoding", log.DefaultLogEncoding, "encoding of the log: console or json")

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "port of the http service")
	fs.Int64Var(&cfg.HTTPReadTimeoutMs, "http-read-timeout-ms", defaultHTTPReadTimeoutMs, "read timeout of the http service")
	fs.Int64Var(&cfg.HTTPWriteTimeoutMs, "http-write-timeout-ms", defaultHTTPWriteTimeoutMs, "write timeout of the http service")

	fs.StringVar(&cfg.Strategy, "strategy", defaultStrategy, "sharding strategy: hash, range, directory, weighted or consistent")
	fs.IntVar(&cfg.TotalVirtualNodes, "total-virtual-nodes", defaultTotalVirtualNodes, "virtual nodes of the consistent hash ring")

	fs.StringVar(&cfg.ReplicationMode, "replication-mode", defaultReplicationMode, "replication mode: sync or async")
	fs.Int64Var(&cfg.SyncTimeoutMs, "sync-timeout-ms", defaultSyncTimeoutMs, "time every replica has to acknowledge a sync write")
	fs.IntVar(&cfg.SyncMaxAttempts, "sync-max-attempts", defaultSyncMaxAttempts, "attempts per replica of a sync write")
	fs.Int64Var(&cfg.SyncRetryDelayMs, "sync-retry-delay-ms", defaultSyncRetryDelayMs, "delay between the attempts of a sync write")
	fs.IntVar(&cfg.AsyncMaxRetries, "async-max-retries", defaultAsyncMaxRetries, "retries per replica of an async write after the first attempt")
	fs.Int64Var(&cfg.AsyncBaseDelayMs, "async-base-delay-ms", defaultAsyncBaseDelayMs, "base of the exponential retry delay of an async write")
	fs.Int64Var(&cfg.AsyncAttemptTimeoutMs, "async-attempt-timeout-ms", defaultAsyncAttemptTimeoutMs, "time one background replication attempt may take")
	fs.IntVar(&cfg.ReplicationWorkers, "replication-workers", defaultReplicationWorkers, "concurrent background replications")

	fs.IntVar(&cfg.MaxConnsPerEndpoint, "max-conns-per-endpoint", defaultMaxConnsPerEndpoint, "concurrent connections per endpoint")
	fs.Int64Var(&cfg.ConnWaitTimeoutMs, "conn-wait-timeout-ms", defaultConnWaitTimeoutMs, "time to wait for a free connection")

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "directory of the shard databases")
	fs.BoolVar(&cfg.RemoveShardFiles, "remove-shard-files", false, "delete the databases of a removed shard")
	fs.IntVar(&cfg.MaxMetrics, "max-metrics", defaultMaxMetrics, "metrics kept for the analytics summary")
	fs.IntVar(&cfg.MaxErrors, "max-errors", defaultMaxErrors, "errors kept for the analytics")

	fs.IntVar(&cfg.FlowLimiter.Limit, "flow-limiter-limit", defaultFlowLimiterLimit, "requests per second allowed by the flow limiter")
	fs.IntVar(&cfg.FlowLimiter.Burst, "flow-limiter-burst", defaultFlowLimiterBurst, "burst allowed by the flow limiter")
	fs.BoolVar(&cfg.FlowLimiter.Enable, "enable-flow-limiter", defaultFlowLimiterEnable, "enable the flow limiter")

	fs.StringVar(&cfg.StorageType, "storage-type", defaultStorageType, "topology storage: memory, etcd or embed")
	fs.StringVar(&cfg.EtcdEndpoints, "etcd-endpoints", defaultEtcdEndpoints, "comma separated etcd endpoints")
	fs.StringVar(&cfg.EtcdRootPath, "etcd-root-path", defaultEtcdRootPath, "root path of the topology keys")
	fs.Int64Var(&cfg.EtcdCallTimeoutMs, "etcd-call-timeout-ms", defaultEtcdCallTimeoutMs, "timeout for etcd requests")
	fs.Int64Var(&cfg.EtcdStartTimeoutMs, "etcd-start-timeout-ms", defaultEtcdStartTimeoutMs, "timeout for starting the embedded etcd")

	defaultNodeName := makeDefaultNodeName()
	fs.StringVar(&cfg.NodeName, "node-name", defaultNodeName, "member name of the embedded etcd")
	fs.StringVar(&cfg.EtcdDataDir, "etcd-data-dir", defaultEtcdDataDir, "data directory of the embedded etcd")
	fs.StringVar(&cfg.InitialCluster, "initial-cluster", makeDefaultInitialCluster(defaultNodeName), "members in the initial etcd cluster")
	fs.StringVar(&cfg.InitialClusterState, "initial-cluster-state", defaultInitialClusterState, "state of the initial etcd cluster")
	fs.StringVar(&cfg.InitialClusterToken, "initial-cluster-token", defaultInitialClusterToken, "token of the initial etcd cluster")
	fs.StringVar(&cfg.ClientUrls, "client-urls", defaultClientUrls, "url for etcd client traffic")
	fs.StringVar(&cfg.AdvertiseClientUrls, "advertise-client-urls", "", "advertise url for etcd client traffic (default '${client-urls}')")
	fs.StringVar(&cfg.PeerUrls, "peer-urls", defaultPeerUrls, "url for etcd peer traffic")
	fs.StringVar(&cfg.AdvertisePeerUrls, "advertise-peer-urls", "", "advertise url for etcd peer traffic (default '${peer-urls}')")

	return builder
}
