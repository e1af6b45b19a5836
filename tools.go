// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

//go:build tools

package tools

import (
	_ "github.com/mgechev/revive"
	_ "golang.org/x/tools/cmd/goimports"
	_ "gotest.tools/gotestsum"
)
