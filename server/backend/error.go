// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package backend

import "github.com/CeresDB/shardrouter/pkg/coderr"

var (
	ErrInvalidIdentifier = coderr.NewCodeError(coderr.BadRequest, "invalid identifier")
	ErrEmptyRecord       = coderr.NewCodeError(coderr.BadRequest, "empty record")
	ErrOpenStore         = coderr.NewCodeError(coderr.Internal, "open store")
)
