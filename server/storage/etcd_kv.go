// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.
// Copyright 2017 TiKV Project Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// fork from: https://github.com/tikv/pd/blob/master/server/storage/kv/etcd_kv.go

package storage

import (
	"context"
	"strings"
	"time"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/CeresDB/shardrouter/server/etcdutil"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	delimiter             = "/"
	DefaultRequestTimeout = 5 * time.Second
	maxScanBatch          = 256
)

var errScanLimitReached = errors.New("scan limit reached")

type etcdKV struct {
	client   *clientv3.Client
	rootPath string

	requestTimeout time.Duration
}

// NewEtcdKV creates a KV storing every key under rootPath.
func NewEtcdKV(client *clientv3.Client, rootPath string, requestTimeout time.Duration) KV {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &etcdKV{
		client:         client,
		rootPath:       rootPath,
		requestTimeout: requestTimeout,
	}
}

func (kv *etcdKV) join(key string) string {
	return strings.Join([]string{kv.rootPath, key}, delimiter)
}

func (kv *etcdKV) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, kv.requestTimeout)
	defer cancel()

	v, err := etcdutil.Get(ctx, kv.client, kv.join(key))
	if coderr.IsKind(err, etcdutil.ErrEtcdKVGetNotFound) {
		return "", nil
	}
	return v, err
}

func (kv *etcdKV) Scan(ctx context.Context, key, endKey string, limit int) ([]string, []string, error) {
	if limit <= 0 {
		return nil, nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, kv.requestTimeout)
	defer cancel()

	batch := limit
	if batch > maxScanBatch {
		batch = maxScanBatch
	}
	keys := make([]string, 0, batch)
	values := make([]string, 0, batch)
	err := etcdutil.Scan(ctx, kv.client, kv.join(key), kv.join(endKey), batch, func(k string, v []byte) error {
		keys = append(keys, strings.TrimPrefix(strings.TrimPrefix(k, kv.rootPath), delimiter))
		values = append(values, string(v))
		if len(keys) >= limit {
			return errScanLimitReached
		}
		return nil
	})
	if err != nil && err != errScanLimitReached {
		return nil, nil, err
	}
	return keys, values, nil
}

func (kv *etcdKV) Put(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, kv.requestTimeout)
	defer cancel()
	return etcdutil.Put(ctx, kv.client, kv.join(key), value)
}

func (kv *etcdKV) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, kv.requestTimeout)
	defer cancel()
	return etcdutil.Delete(ctx, kv.client, kv.join(key))
}
