package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type retrySummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type cleanupResult struct {
	Deleted int64  `json:"deleted"`
	Cutoff  string `json:"cutoff"`
}

// jobTimeout covers a full retry batch: 50 attempts of up to 10s each.
const jobTimeout = 10 * time.Minute

var errNoCronSecret = errors.New("job secret not set (use --cron-secret or QRHOOK_CRON_SECRET)")

func newJobsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger the webhook batch jobs",
		Long: `Trigger the webhook batch jobs. Run these from cron, for example:

  */1 * * * *  qrhookctl jobs retry
  0 3 * * *    qrhookctl jobs cleanup`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "retry",
			Short: "Re-attempt failed deliveries that are due",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var sum retrySummary
				if err := runJob(cmd, opts, "/internal/jobs/webhook-retries", &sum); err != nil {
					return err
				}
				if opts.outputJSON {
					return printJSON(cmd.OutOrStdout(), sum)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d deliveries: %d succeeded, %d failed\n", sum.Processed, sum.Succeeded, sum.Failed)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete delivery history past the retention window",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var res cleanupResult
				if err := runJob(cmd, opts, "/internal/jobs/webhook-cleanup", &res); err != nil {
					return err
				}
				if opts.outputJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d deliveries created before %s\n", res.Deleted, res.Cutoff)
				return nil
			},
		},
	)
	return cmd
}

func runJob(cmd *cobra.Command, opts *options, path string, out any) error {
	if opts.cronSecret == "" {
		return errNoCronSecret
	}
	c := newAPIClient(opts.server, opts.cronSecret, max(opts.timeout, jobTimeout))
	return c.do(cmd.Context(), http.MethodPost, path, nil, out)
}
