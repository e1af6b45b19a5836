// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package replication

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrReplicationTimeout = coderr.NewCodeError(coderr.GatewayTimeout, "replication timeout")
	ErrUnknownMode        = coderr.NewCodeError(coderr.BadRequest, "unknown replication mode")
	ErrQueueFull          = coderr.NewCodeError(coderr.Internal, "retry queue is full")
	ErrDuplicatedJob      = coderr.NewCodeError(coderr.Internal, "replication job already queued")
	ErrGetRequest         = coderr.NewCodeError(coderr.Internal, "get request from event")
	ErrPrimaryWrite       = coderr.NewCodeError(coderr.Internal, "write primary")
)
