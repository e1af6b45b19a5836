// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package router

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrValidation         = coderr.NewCodeError(coderr.BadRequest, "validation failed")
	ErrReplicaUnavailable = coderr.NewCodeError(coderr.Unavailable, "replica unavailable")
	ErrRegisterEndpoint   = coderr.NewCodeError(coderr.Internal, "register shard endpoint")
)
