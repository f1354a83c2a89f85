// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aiku/irccord/pkg/connector"
)

func bindingsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "List the persisted channel bindings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				cfg, err := connector.LoadConfig(configPath)
				if err != nil {
					return err
				}
				path = cfg.Bindings.Path
			}
			record, err := connector.ReadRecord(path)
			if err != nil {
				return err
			}
			channels := make([]string, 0, len(record))
			for channel := range record {
				channels = append(channels, channel)
			}
			slices.Sort(channels)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IRC CHANNEL\tDISCORD ID")
			for _, channel := range channels {
				fmt.Fprintf(w, "%s\t%s\n", channel, record[channel])
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "binding record to read (defaults to bindings.path from the config)")
	return cmd
}
