package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type webhookConfig struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	URL        string    `json:"url"`
	IsActive   bool      `json:"is_active"`
	Events     []string  `json:"events"`
	Secret     string    `json:"secret,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type testResult struct {
	DeliveryID   string  `json:"delivery_id"`
	Status       string  `json:"status"`
	HTTPStatus   *int    `json:"http_status"`
	ErrorMessage *string `json:"error_message"`
}

func webhookPath(resourceID string) string {
	return "/v1/resources/" + url.PathEscape(resourceID) + "/webhook"
}

func newWebhookCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage a QR code's webhook configuration",
	}
	cmd.AddCommand(
		newWebhookGetCmd(opts),
		newWebhookSetCmd(opts),
		newWebhookDeleteCmd(opts),
		newWebhookTestCmd(opts),
	)
	return cmd
}

func newWebhookGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [resource-id]",
		Short: "Show the webhook configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg webhookConfig
			if err := opts.client().do(cmd.Context(), http.MethodGet, webhookPath(args[0]), nil, &cfg); err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			printConfig(cmd, cfg)
			return nil
		},
	}
}

func newWebhookSetCmd(opts *options) *cobra.Command {
	var (
		target string
		active bool
		events []string
	)
	cmd := &cobra.Command{
		Use:   "set [resource-id]",
		Short: "Create or update the webhook configuration",
		Long: `Create or update the webhook configuration of a QR code.

The signing secret is printed only when the configuration is created.

Example:
  qrhookctl webhook set qr_123 --url https://example.com/hooks/qr`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"url": target}
			if cmd.Flags().Changed("active") {
				body["is_active"] = active
			}
			if cmd.Flags().Changed("events") {
				body["events"] = events
			}
			var cfg webhookConfig
			if err := opts.client().do(cmd.Context(), http.MethodPut, webhookPath(args[0]), body, &cfg); err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			printConfig(cmd, cfg)
			if cfg.Secret != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nSigning secret: %s\nStore it now, it will not be shown again.\n", cfg.Secret)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "https endpoint to deliver to (required)")
	cmd.Flags().BoolVar(&active, "active", true, "enable or disable deliveries")
	cmd.Flags().StringSliceVar(&events, "events", nil, "event types to subscribe to (default scan)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newWebhookDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [resource-id]",
		Short: "Delete the webhook configuration and its delivery history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodDelete, webhookPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook for %s deleted\n", args[0])
			return nil
		},
	}
}

func newWebhookTestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "test [resource-id]",
		Short: "Send a test scan event to the configured URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res testResult
			if err := opts.client().do(cmd.Context(), http.MethodPost, webhookPath(args[0])+"/test", nil, &res); err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Delivery %s: %s\n", res.DeliveryID, res.Status)
			if res.HTTPStatus != nil {
				fmt.Fprintf(out, "  HTTP status: %d\n", *res.HTTPStatus)
			}
			fmt.Fprintf(out, "  Error: %s\n", orDash(res.ErrorMessage))
			return nil
		},
	}
}

func printConfig(cmd *cobra.Command, cfg webhookConfig) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Webhook %s\n", cfg.ID)
	fmt.Fprintf(out, "  Resource: %s\n", cfg.ResourceID)
	fmt.Fprintf(out, "  URL:      %s\n", cfg.URL)
	fmt.Fprintf(out, "  Active:   %t\n", cfg.IsActive)
	fmt.Fprintf(out, "  Events:   %s\n", strings.Join(cfg.Events, ", "))
	fmt.Fprintf(out, "  Updated:  %s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05"))
}
