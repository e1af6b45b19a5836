// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrEncodeTopology = coderr.NewCodeError(coderr.Internal, "encode topology")
	ErrDecodeTopology = coderr.NewCodeError(coderr.Internal, "decode topology")
)
