// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package cmd

import (
	"github.com/CeresDB/shardrouter/ctl/operation"
	"github.com/spf13/cobra"
)

var (
	shardWeight   int
	shardReplicas int
)

var shardsCmd = &cobra.Command{
	Use:     "shards",
	Aliases: []string{"s"},
	Short:   "List the shards of the topology",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.ShardsList(cmd.OutOrStdout())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the primary and replica endpoints of every shard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.Health(cmd.OutOrStdout())
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <key>",
	Short: "Show the shard owning a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.Resolve(cmd.OutOrStdout(), args[0])
	},
}

var addShardCmd = &cobra.Command{
	Use:   "add-shard <name>",
	Short: "Add a shard, the other weights are scaled to keep the total at 100",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.AddShard(cmd.OutOrStdout(), args[0], shardWeight, shardReplicas)
	},
}

var removeShardCmd = &cobra.Command{
	Use:   "remove-shard <name>",
	Short: "Remove a shard that owns no partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.RemoveShard(cmd.OutOrStdout(), args[0])
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Reset every shard to an equal weight",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.Rebalance(cmd.OutOrStdout())
	},
}

var reassignCmd = &cobra.Command{
	Use:   "reassign <key> <shard>",
	Short: "Pin a directory key to a shard",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return operation.Reassign(cmd.OutOrStdout(), args[0], args[1])
	},
}

func init() {
	addShardCmd.Flags().IntVarP(&shardWeight, "weight", "w", 0, "weight of the new shard, in (0,100]")
	addShardCmd.Flags().IntVarP(&shardReplicas, "replicas", "r", 0, "number of replicas")
	_ = addShardCmd.MarkFlagRequired("weight")

	rootCmd.AddCommand(shardsCmd, healthCmd, resolveCmd, addShardCmd, removeShardCmd, rebalanceCmd, reassignCmd)
}
