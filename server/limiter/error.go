// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package limiter

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrInvalidLimiterConfig = coderr.NewCodeError(coderr.InvalidParams, "invalid flow limiter config")
	ErrFlowLimited          = coderr.NewCodeError(coderr.TooManyRequests, "flow limited")
)
