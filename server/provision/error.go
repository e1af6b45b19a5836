// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package provision

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrInvalidShardName = coderr.NewCodeError(coderr.BadRequest, "invalid shard name")
	ErrProvision        = coderr.NewCodeError(coderr.Internal, "provision shard")
	ErrDeprovision      = coderr.NewCodeError(coderr.Internal, "deprovision shard")
)
