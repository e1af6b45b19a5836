// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package etcdutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/stretchr/testify/require"
)

func makeTestKeys(num int) []string {
	keys := make([]string, 0, num)
	for idx := 0; idx < num; idx++ {
		keys = append(keys, fmt.Sprintf("%010d", idx))
	}
	return keys
}

func TestGetPutDelete(t *testing.T) {
	re := require.New(t)
	_, client := PrepareEtcdServerAndClient(t)
	ctx := context.Background()

	_, err := Get(ctx, client, "missing")
	re.True(coderr.IsKind(err, ErrEtcdKVGetNotFound))

	re.NoError(Put(ctx, client, "key", "value"))
	v, err := Get(ctx, client, "key")
	re.NoError(err)
	re.Equal("value", v)

	re.NoError(Delete(ctx, client, "key"))
	_, err = Get(ctx, client, "key")
	re.True(coderr.IsKind(err, ErrEtcdKVGetNotFound))
}

func TestScanInBatches(t *testing.T) {
	re := require.New(t)
	_, client := PrepareEtcdServerAndClient(t)
	ctx := context.Background()

	keys := makeTestKeys(51)
	endKey := keys[len(keys)-1]
	keys = keys[:len(keys)-1]
	for _, key := range keys {
		re.NoError(Put(ctx, client, key, key))
	}
	// The end key is exclusive.
	re.NoError(Put(ctx, client, endKey, endKey))

	for _, batchSize := range []int{1, 10, 12, 30, 50, 90} {
		collected := make([]string, 0, len(keys))
		err := Scan(ctx, client, keys[0], endKey, batchSize, func(key string, value []byte) error {
			re.Equal(key, string(value))
			collected = append(collected, key)
			return nil
		})
		re.NoError(err)
		re.Equal(keys, collected, "batch size:%d", batchSize)
	}
}

func TestScanStopsOnError(t *testing.T) {
	re := require.New(t)
	_, client := PrepareEtcdServerAndClient(t)
	ctx := context.Background()

	keys := makeTestKeys(50)
	for _, key := range keys {
		re.NoError(Put(ctx, client, key, key))
	}

	stop := fmt.Errorf("stop scanning")
	visited := 0
	err := Scan(ctx, client, keys[0], keys[len(keys)-1], 10, func(key string, _ []byte) error {
		if key > keys[len(keys)/2] {
			return stop
		}
		visited++
		return nil
	})
	re.Equal(stop, err)
	re.Equal(len(keys)/2+1, visited)
}
