// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package strategy

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrUnknownStrategy = coderr.NewCodeError(coderr.BadRequest, "unknown assignment strategy")
	ErrEmptyKey        = coderr.NewCodeError(coderr.BadRequest, "empty shard key")
)
