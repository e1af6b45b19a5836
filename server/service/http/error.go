// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrParseRequest      = coderr.NewCodeError(coderr.BadRequest, "parse request params")
	ErrHealthCheck       = coderr.NewCodeError(coderr.Unavailable, "server health check")
	ErrUpdateFlowLimiter = coderr.NewCodeError(coderr.Internal, "update flow limiter")
)
