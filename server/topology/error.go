// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package topology

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrShardNotFound       = coderr.NewCodeError(coderr.NotFound, "shard not found")
	ErrPartitionNotFound   = coderr.NewCodeError(coderr.NotFound, "partition not found")
	ErrDirectoryKeyMissing = coderr.NewCodeError(coderr.NotFound, "directory key not found")
	ErrInvalidWeight       = coderr.NewCodeError(coderr.BadRequest, "invalid weight")
	ErrShardExists         = coderr.NewCodeError(coderr.BadRequest, "shard already exists")
	ErrPartitionExists     = coderr.NewCodeError(coderr.BadRequest, "partition already exists")
	ErrShardOwnsPartitions = coderr.NewCodeError(coderr.BadRequest, "shard still owns partitions")
	ErrInvalidRange        = coderr.NewCodeError(coderr.BadRequest, "invalid key range")
	ErrInvalidShard        = coderr.NewCodeError(coderr.BadRequest, "invalid shard")
	ErrNoShard             = coderr.NewCodeError(coderr.Unavailable, "no shard available")
)
