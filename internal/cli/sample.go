package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/memtimeline/internal/sampler"
	apiclient "github.com/splax/memtimeline/pkg/api/client"
)

func newCmdSample(opts *rootOptions) *cobra.Command {
	var (
		match    string
		count    int
		every    time.Duration
		detailed bool
		out      string
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample live process memory into a dumps file.",
		Long: `Take --count snapshots of processes whose name contains --match,
spaced by --every. Interrupting keeps the snapshots taken so far.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := sampler.New(sampler.Options{
				Match:    match,
				Detailed: detailed,
				Logger:   log,
				Collect:  opts.collect,
			})
			dumps, err := s.Run(ctx, every, count)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				log.Warn("sampling interrupted", "dumps", len(dumps))
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			log.Info("sampling complete", "dumps", len(dumps), "out", out)
			return writeJSON(w, apiclient.Timeline{
				ProcessDumps: toWireDumps(dumps),
				Interactions: []apiclient.Interaction{},
			})
		},
	}
	cmd.Flags().StringVar(&match, "match", opts.defaults.Match, "sample processes whose name contains this (case-insensitive)")
	cmd.Flags().IntVar(&count, "count", opts.defaults.Count, "number of snapshots")
	cmd.Flags().DurationVar(&every, "every", opts.defaults.Every, "interval between snapshots")
	cmd.Flags().BoolVar(&detailed, "detailed", opts.defaults.Detailed, "read memory maps for detailed metrics")
	cmd.Flags().StringVar(&out, "out", "", "write dumps to this file instead of stdout")
	return cmd
}
