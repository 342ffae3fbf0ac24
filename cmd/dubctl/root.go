// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/ManuGH/opendub/internal/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRootCommand() (*cobra.Command, *commandContext) {
	var flags globalFlags
	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "dubctl",
		Short:         "Audio extraction and dubbing client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(log.ContextWithCorrelationID(cmd.Context(), uuid.NewString()))
			if shouldSkipConfig(cmd) {
				return nil
			}
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			return ctx.startTelemetry(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.StringVar(&flags.backendURL, "backend-url", "", "Backend base URL (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address while the command runs")
	pf.BoolVar(&flags.noHistory, "no-history", false, "Do not record the run in the local history")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress progress output")

	rootCmd.AddCommand(
		newUploadCommand(ctx),
		newConvertCommand(ctx),
		newDubCommand(ctx),
		newStatusCommand(ctx),
		newAssetsCommand(ctx),
		newHealthCommand(ctx),
		newHistoryCommand(ctx),
		newConfigCommand(ctx),
		newVersionCommand(),
	)
	return rootCmd, ctx
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
