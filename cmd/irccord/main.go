// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command irccord relays messages between an IRC server and Discord. IRC
// channels are bound to Discord channels or users at runtime with private
// IRC commands, and permanent bindings survive restarts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aiku/irccord/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "irccord",
		Short:         "An IRC-Discord relay bridge",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.AddCommand(bindingsCmd())
	cmd.AddCommand(exampleConfigCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func runBridge(ctx context.Context) error {
	cfg, err := connector.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Msg("Starting irccord")

	br, err := connector.NewBridge(cfg, *log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize bridge")
		return err
	}
	if err := br.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Bridge stopped with error")
		return err
	}
	log.Info().Msg("Bridge stopped")
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "irccord %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func exampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print the example configuration",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), connector.ExampleConfig)
		},
	}
}
