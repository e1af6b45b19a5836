// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package etcdutil

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tikv/pd/pkg/tempurl"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// NewTestSingleConfig returns the config of a single member etcd listening on free local ports.
func NewTestSingleConfig(dir string) *embed.Config {
	cfg := embed.NewConfig()
	cfg.Name = "test_etcd"
	cfg.Dir = dir
	cfg.WalDir = ""
	cfg.Logger = "zap"
	cfg.LogOutputs = []string{"stdout"}
	cfg.LogLevel = "error"

	pu, _ := url.Parse(tempurl.Alloc())
	cfg.LPUrls = []url.URL{*pu}
	cfg.APUrls = cfg.LPUrls
	cu, _ := url.Parse(tempurl.Alloc())
	cfg.LCUrls = []url.URL{*cu}
	cfg.ACUrls = cfg.LCUrls

	cfg.StrictReconfigCheck = false
	cfg.InitialCluster = fmt.Sprintf("%s=%s", cfg.Name, &cfg.LPUrls[0])
	cfg.ClusterState = embed.ClusterStateFlagNew
	return cfg
}

// PrepareEtcdServerAndClient starts an embedded etcd for tests. Both the server and the client are closed when the
// test finishes.
func PrepareEtcdServerAndClient(t *testing.T) (*embed.Etcd, *clientv3.Client) {
	re := require.New(t)

	cfg := NewTestSingleConfig(t.TempDir())
	etcd, err := embed.StartEtcd(cfg)
	re.NoError(err)
	<-etcd.Server.ReadyNotify()

	client, err := clientv3.New(clientv3.Config{
		Endpoints: []string{cfg.LCUrls[0].String()},
	})
	re.NoError(err)

	t.Cleanup(func() {
		_ = client.Close()
		etcd.Close()
	})
	return etcd, client
}
