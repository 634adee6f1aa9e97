// Package cli implements the memtimeline command-line tool.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/splax/memtimeline/internal/sampler"
	"github.com/splax/memtimeline/pkg/config"
	"github.com/splax/memtimeline/pkg/logger"
)

var buildVersion = "dev"

// NewCmdRoot builds the memtimeline command tree.
func NewCmdRoot() *cobra.Command {
	return newRootCmd(sampler.CollectProcesses)
}

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	logLevel string
	defaults config.SamplerConfig
	collect  sampler.CollectFunc
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logger.NewWithWriter(cmd.ErrOrStderr(), "memtimeline", logger.ParseLevel(o.logLevel))
}

func newRootCmd(collect sampler.CollectFunc) *cobra.Command {
	opts := &rootOptions{
		defaults: config.LoadSamplerConfig(),
		collect:  collect,
	}
	rootCmd := &cobra.Command{
		Use:           "memtimeline",
		Short:         "memtimeline aggregates process memory dumps over labelled interactions",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newCmdAggregate(opts))
	rootCmd.AddCommand(newCmdSample(opts))
	rootCmd.AddCommand(newCmdSubmit(opts))
	return rootCmd
}
