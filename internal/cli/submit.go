package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/splax/memtimeline/pkg/api/client"
)

func newCmdSubmit(opts *rootOptions) *cobra.Command {
	var (
		file         string
		label        string
		interactions []string
		apiURL       string
		token        string
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Store a trace or dumps file as a run on the API.",
		Long: `Submit a trace or a sampled dumps file to POST /runs. Without
--interaction the windows recorded in the file are used, and a dumps file
without any gets one window spanning every snapshot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger(cmd)
			if strings.TrimSpace(label) == "" {
				return errors.New("--label is required")
			}
			input, err := readTimeline(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			windows, err := resolveInteractions(interactions, input, true)
			if err != nil {
				return err
			}

			client, err := apiclient.New(apiURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			run, err := client.CreateRun(ctx, token, apiclient.Timeline{
				Label:        label,
				ProcessDumps: toWireDumps(input.dumps),
				Interactions: toWireInteractions(windows),
			})
			if err != nil {
				return err
			}
			log.Info("run submitted", "run_id", run.ID, "label", run.Label, "selected", run.SelectedDumps)
			return writeJSON(cmd.OutOrStdout(), run)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "trace or dumps file to submit (- for stdin)")
	cmd.Flags().StringVar(&label, "label", "", "run label")
	cmd.Flags().StringArrayVar(&interactions, "interaction", nil, "interaction as label:startMs:endMs (repeatable)")
	cmd.Flags().StringVar(&apiURL, "api-url", opts.defaults.APIURL, "API base URL")
	cmd.Flags().StringVar(&token, "token", opts.defaults.APIToken, "API bearer token")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
