// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package provision creates and destroys the storage endpoints of a shard.
package provision

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/CeresDB/shardrouter/pkg/log"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/CeresDB/shardrouter/server/topology"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Endpoints holds one opened backend per endpoint of a shard.
type Endpoints map[topology.EndpointRef]backend.Backend

// Close closes every backend and returns the combined error.
func (e Endpoints) Close() error {
	var err error
	for _, b := range e {
		err = multierr.Append(err, b.Close())
	}
	return err
}

type Provisioner interface {
	// Provision opens, creating when missing, the primary and every replica of the shard.
	Provision(ctx context.Context, shard topology.Shard) (Endpoints, error)
	// Deprovision releases what Provision created. The endpoints must already be closed.
	Deprovision(ctx context.Context, shard topology.Shard) error
}

type SQLiteConfig struct {
	DataDir string
	// Schema is applied to every new endpoint. Statements must be idempotent as they also run on reopen.
	Schema        []string
	BusyTimeoutMs int
	MaxOpenConns  int
	// RemoveFiles makes Deprovision delete the database files of the shard.
	RemoveFiles bool
}

var _ Provisioner = &SQLiteProvisioner{}

// SQLiteProvisioner lays out a shard as one directory under DataDir holding a database file per endpoint.
type SQLiteProvisioner struct {
	cfg SQLiteConfig
}

func NewSQLiteProvisioner(cfg SQLiteConfig) *SQLiteProvisioner {
	return &SQLiteProvisioner{cfg: cfg}
}

func (p *SQLiteProvisioner) shardDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidShardName.WithCausef("shard:%q", name)
	}
	return filepath.Join(p.cfg.DataDir, name), nil
}

func (p *SQLiteProvisioner) Provision(ctx context.Context, shard topology.Shard) (Endpoints, error) {
	dir, err := p.shardDir(shard.Name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ErrProvision.WithCause(errors.WithMessagef(err, "create dir %s", dir))
	}

	endpoints := make(Endpoints, len(shard.Replicas)+1)
	for _, ref := range shard.Endpoints() {
		role := strings.TrimPrefix(string(ref), shard.Name+"/")
		store, err := backend.NewSQLStore(backend.SQLStoreConfig{
			Path:          filepath.Join(dir, role+".db"),
			BusyTimeoutMs: p.cfg.BusyTimeoutMs,
			MaxOpenConns:  p.cfg.MaxOpenConns,
		})
		if err == nil {
			err = store.ApplySchema(ctx, p.cfg.Schema...)
			if err != nil {
				err = multierr.Append(err, store.Close())
			}
		}
		if err != nil {
			err = multierr.Append(err, endpoints.Close())
			return nil, ErrProvision.WithCause(errors.WithMessagef(err, "endpoint %s", ref))
		}
		endpoints[ref] = store
	}

	log.Info("provision shard", zap.String("shard", shard.Name), zap.String("dir", dir), zap.Int("replicas", len(shard.Replicas)))
	return endpoints, nil
}

func (p *SQLiteProvisioner) Deprovision(_ context.Context, shard topology.Shard) error {
	dir, err := p.shardDir(shard.Name)
	if err != nil {
		return err
	}
	if !p.cfg.RemoveFiles {
		log.Info("keep files of deprovisioned shard", zap.String("shard", shard.Name), zap.String("dir", dir))
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return ErrDeprovision.WithCause(errors.WithMessagef(err, "remove dir %s", dir))
	}
	log.Info("deprovision shard", zap.String("shard", shard.Name), zap.String("dir", dir))
	return nil
}
