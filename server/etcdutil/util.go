// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package etcdutil wraps the etcd client calls used by the topology storage.
package etcdutil

import (
	"context"

	"github.com/CeresDB/shardrouter/pkg/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Get returns ErrEtcdKVGetNotFound when the key is absent.
func Get(ctx context.Context, client *clientv3.Client, key string) (string, error) {
	resp, err := client.Get(ctx, key)
	if err != nil {
		return "", ErrEtcdKVGet.WithCause(err)
	}
	if n := len(resp.Kvs); n == 0 {
		return "", ErrEtcdKVGetNotFound.WithCausef("key:%s", key)
	} else if n > 1 {
		return "", ErrEtcdKVGetResponse.WithCausef("%v", resp.Kvs)
	}

	return string(resp.Kvs[0].Value), nil
}

func Put(ctx context.Context, client *clientv3.Client, key, value string) error {
	if _, err := client.Put(ctx, key, value); err != nil {
		e := ErrEtcdKVPut.WithCause(err)
		log.Error("save to etcd meet error", zap.String("key", key), zap.Int("valueLen", len(value)), zap.Error(e))
		return e
	}
	return nil
}

func Delete(ctx context.Context, client *clientv3.Client, key string) error {
	if _, err := client.Delete(ctx, key); err != nil {
		e := ErrEtcdKVDelete.WithCause(err)
		log.Error("remove from etcd meet error", zap.String("key", key), zap.Error(e))
		return e
	}
	return nil
}

// Scan visits the keys in [startKey, endKey) in batches of batchSize. A non-nil error from do stops the scan and is
// returned as is.
func Scan(ctx context.Context, client *clientv3.Client, startKey, endKey string, batchSize int, do func(key string, val []byte) error) error {
	withRange := clientv3.WithRange(endKey)

	// Every batch after the first one starts at the last key of the previous batch, so it asks for one more key.
	limit := batchSize
	first := true
	for {
		resp, err := client.Get(ctx, startKey, withRange, clientv3.WithLimit(int64(limit)))
		if err != nil {
			return ErrEtcdKVGet.WithCause(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		kvs := resp.Kvs
		if !first {
			if len(kvs) <= 1 {
				return nil
			}
			kvs = kvs[1:]
		}
		if len(kvs) == 0 {
			return nil
		}

		for _, item := range kvs {
			key := string(item.Key)
			if key == endKey {
				return nil
			}
			if err := do(key, item.Value); err != nil {
				return err
			}
		}

		if len(resp.Kvs) < limit {
			return nil
		}
		lastKey := string(kvs[len(kvs)-1].Key)
		if lastKey == endKey {
			log.Warn("stop scanning because the end key is reached", zap.String("endKey", endKey))
			return nil
		}
		startKey = lastKey
		limit = batchSize + 1
		first = false
	}
}
