// ledgermux shares one administrative ledger connection among many
// per-account proxies.
//
// Usage:
//
//	ledgermux serve --config configs/ledgermux.yaml
//	ledgermux tail --config configs/ledgermux.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/ledgermux/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "ledgermux",
		Short:        "Multiplex one admin ledger connection into per-account proxies",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/ledgermux.yaml", "path to config file")

	rootCmd.AddCommand(
		newServeCommand(&configPath),
		newTailCommand(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return rootCmd
}
