package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type delivery struct {
	ID            string     `json:"id"`
	EventType     string     `json:"event_type"`
	EventRef      *string    `json:"event_ref"`
	Status        string     `json:"status"`
	HTTPStatus    *int       `json:"http_status"`
	ErrorMessage  *string    `json:"error_message"`
	AttemptNumber int        `json:"attempt_number"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
	CreatedAt     time.Time  `json:"created_at"`
	DeliveredAt   *time.Time `json:"delivered_at"`
}

type deliveryPage struct {
	Deliveries []delivery `json:"deliveries"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Total      int        `json:"total"`
}

func newDeliveriesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Browse the webhook delivery log",
	}
	cmd.AddCommand(newDeliveriesListCmd(opts))
	return cmd
}

func newDeliveriesListCmd(opts *options) *cobra.Command {
	var (
		status  string
		page    int
		perPage int
	)
	cmd := &cobra.Command{
		Use:   "list [resource-id]",
		Short: "List deliveries, newest first",
		Long: `List a QR code's webhook deliveries, newest first.

Example:
  qrhookctl deliveries list qr_123 --status failed --per-page 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if page > 0 {
				q.Set("page", strconv.Itoa(page))
			}
			if perPage > 0 {
				q.Set("per_page", strconv.Itoa(perPage))
			}
			path := webhookPath(args[0]) + "/deliveries"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var res deliveryPage
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printDeliveries(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, success, failed, exhausted)")
	cmd.Flags().IntVar(&page, "page", 0, "page number, starting at 1")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "page size (max 100)")
	return cmd
}

func printDeliveries(cmd *cobra.Command, res deliveryPage) {
	out := cmd.OutOrStdout()
	if len(res.Deliveries) == 0 {
		fmt.Fprintln(out, "No deliveries found")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tSTATUS\tATTEMPTS\tHTTP\tCREATED\tNEXT RETRY")
	for _, d := range res.Deliveries {
		httpStatus := "-"
		if d.HTTPStatus != nil {
			httpStatus = strconv.Itoa(*d.HTTPStatus)
		}
		next := "-"
		if d.NextRetryAt != nil {
			next = d.NextRetryAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			d.ID, d.EventType, d.Status, d.AttemptNumber, d.MaxAttempts, httpStatus,
			d.CreatedAt.Format(time.RFC3339), next)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\nPage %d (%d per page), %d total\n", res.Page, res.PerPage, res.Total)
}
