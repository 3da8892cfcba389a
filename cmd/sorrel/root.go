package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile    string
	definition string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sorrel",
		Short:         "Record linkage and deduplication for campaign finance filings",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVarP(&opts.definition, "definition", "d", "", "pipeline definition YAML")

	cmd.AddCommand(
		newRunCmd(opts),
		newLabelCmd(opts),
		newMigrateCmd(opts),
		newServeCmd(opts),
		newReportCmd(opts),
	)
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
