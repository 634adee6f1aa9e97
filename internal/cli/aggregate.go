package cli

import (
	"github.com/spf13/cobra"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/service/timeline"
	apiclient "github.com/splax/memtimeline/pkg/api/client"
)

func newCmdAggregate(opts *rootOptions) *cobra.Command {
	var (
		tracePath    string
		interactions []string
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate a trace locally and print series as JSON.",
		Long: `Aggregate a trace or a sampled dumps file without contacting the API.
Interactions default to those recorded in the input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			input, err := readTimeline(tracePath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			windows, err := resolveInteractions(interactions, input, false)
			if err != nil {
				return err
			}
			dumps := timeline.GroupDumps(input.dumps)
			agg, err := timeline.Aggregate(dumps, windows)
			if err != nil {
				return err
			}
			log.Info("aggregated trace", "dumps", len(dumps), "interactions", len(windows), "selected", len(agg.Selected))
			return writeJSON(cmd.OutOrStdout(), apiclient.Aggregation{
				DumpCount:     len(dumps),
				SelectedDumps: agg.Selected,
				Series:        agg.Series,
				Summaries:     wireSummaries(timeline.Summarize(agg.Series)),
			})
		},
	}
	cmd.Flags().StringVar(&tracePath, "trace", "", "trace or dumps file to aggregate (- for stdin)")
	cmd.Flags().StringArrayVar(&interactions, "interaction", nil, "interaction as label:startMs:endMs (repeatable)")
	_ = cmd.MarkFlagRequired("trace")
	return cmd
}

func wireSummaries(summaries map[string]domain.SeriesSummary) map[string]apiclient.SeriesSummary {
	out := make(map[string]apiclient.SeriesSummary, len(summaries))
	for name, s := range summaries {
		out[name] = apiclient.SeriesSummary{
			Count: s.Count,
			Mean:  s.Mean,
			Min:   s.Min,
			Max:   s.Max,
			P50:   s.P50,
			P90:   s.P90,
			P95:   s.P95,
			P99:   s.P99,
		}
	}
	return out
}
