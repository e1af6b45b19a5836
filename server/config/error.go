// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"github.com/CeresDB/shardrouter/pkg/coderr"
)

var (
	ErrHelpRequested      = coderr.NewCodeError(coderr.PrintHelpUsage, "help requested")
	ErrInvalidPeerURL     = coderr.NewCodeError(coderr.InvalidParams, "invalid peers url")
	ErrInvalidCommandArgs = coderr.NewCodeError(coderr.InvalidParams, "invalid command arguments")
	ErrInvalidConfig      = coderr.NewCodeError(coderr.InvalidParams, "invalid config")
	ErrLoadConfigFile     = coderr.NewCodeError(coderr.InvalidParams, "load config file")
	ErrLoadConfigEnv      = coderr.NewCodeError(coderr.InvalidParams, "load config from environment")
)
