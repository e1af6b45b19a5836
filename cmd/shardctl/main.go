// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package main

import "github.com/CeresDB/shardrouter/ctl/cmd"

func main() {
	cmd.Execute()
}
