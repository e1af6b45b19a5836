// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CeresDB/shardrouter/ctl/operation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SHARDCTL"

var rootCmd = &cobra.Command{
	Use:           "shardctl",
	Short:         "shardctl is a command line tool for the shard router",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run:           func(cmd *cobra.Command, args []string) {},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Without a subcommand it keeps reading commands from stdin.
func Execute() {
	interactive := len(os.Args) <= 1
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !interactive {
		return
	}

	for {
		printPrompt(viper.GetString(operation.RootRouterAddr))
		err = ReadArgs(os.Stdin)
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Println(err)
			continue
		}
		rootCmd.SetArgs(os.Args[1:])
		if err = rootCmd.Execute(); err != nil {
			fmt.Println(err)
			os.Args = []string{}
		}
	}
}

func init() {
	rootCmd.PersistentFlags().String(operation.RootRouterAddr, "127.0.0.1:8080", "address of the shard router http service")
	_ = viper.BindPFlag(operation.RootRouterAddr, rootCmd.PersistentFlags().Lookup(operation.RootRouterAddr))

	// SHARDCTL_ROUTER_ADDR overrides the default address.
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	rootCmd.CompletionOptions = cobra.CompletionOptions{
		DisableDefaultCmd:   true,
		DisableNoDescFlag:   true,
		DisableDescriptions: true,
		HiddenDefaultCmd:    true,
	}
}

func printPrompt(address string) {
	fmt.Printf("%s > ", address)
}

// ReadArgs Forked from https://github.com/apache/incubator-seata-ctl/blob/8427314e04cdc435b925ed41573b37e3addeea34/action/common/args.go#L29
// It returns io.EOF once the input is exhausted.
func ReadArgs(in io.Reader) error {
	os.Args = []string{""}

	scanner := bufio.NewScanner(in)

	var lines []string

	read := false
	for scanner.Scan() {
		read = true
		line := strings.Trim(scanner.Text(), "\r\n ")
		if line == "" {
			return nil
		}
		if line[len(line)-1] == '\\' {
			line = line[:len(line)-1]
			lines = append(lines, line)
		} else {
			lines = append(lines, line)
			break
		}
	}
	if !read {
		return io.EOF
	}

	argsStr := strings.Join(lines, " ")
	rawArgs := strings.Split(argsStr, "'")

	if len(rawArgs) != 1 && len(rawArgs) != 3 {
		return errors.New("read args from input error")
	}

	args := strings.Split(rawArgs[0], " ")

	if len(rawArgs) == 3 {
		args = append(args, rawArgs[1])
		args = append(args, strings.Split(rawArgs[2], " ")...)
	}

	for _, arg := range args {
		if arg != "" {
			os.Args = append(os.Args, strings.TrimSpace(arg))
		}
	}
	return nil
}
