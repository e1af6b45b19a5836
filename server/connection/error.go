// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package connection

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrEndpointNotFound = coderr.NewCodeError(coderr.NotFound, "endpoint not found")
	ErrEndpointExists   = coderr.NewCodeError(coderr.BadRequest, "endpoint already registered")
	ErrPoolExhausted    = coderr.NewCodeError(coderr.Unavailable, "connection pool exhausted")
)
