package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/austindbirch/qrhook/internal/queue"
)

// dialProducer is swapped in tests.
var dialProducer = func(addr string) (queue.Producer, func(), error) {
	p, err := queue.NewProducer(addr)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Stop, nil
}

func newScanCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Publish scan events for local testing",
	}
	cmd.AddCommand(newScanSendCmd(opts))
	return cmd
}

func newScanSendCmd(opts *options) *cobra.Command {
	var (
		nsqd  string
		topic string
		msg   queue.ScanMessage
	)
	cmd := &cobra.Command{
		Use:   "send [resource-id]",
		Short: "Publish one scan event to the scans topic",
		Long: `Publish one scan event to NSQ, as the scan pipeline would.
The worker picks it up and notifies the QR code's webhook.

Example:
  qrhookctl scan send qr_123 --nsqd localhost:4150 --country NL`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg.ResourceID = args[0]
			if msg.EventID == "" {
				msg.EventID = "scan_" + uuid.NewString()
			}
			msg.OccurredAt = time.Now().UTC().Format(time.RFC3339)

			p, stop, err := dialProducer(nsqd)
			if err != nil {
				return fmt.Errorf("connect to nsqd %s: %w", nsqd, err)
			}
			defer stop()
			if err := queue.PublishScan(cmd.Context(), p, topic, msg); err != nil {
				return err
			}
			if opts.outputJSON {
				return printJSON(cmd.OutOrStdout(), msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published scan %s for %s to %s\n", msg.EventID, msg.ResourceID, topic)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&nsqd, "nsqd", "localhost:4150", "nsqd TCP address")
	f.StringVar(&topic, "topic", "scans", "scan topic")
	f.StringVar(&msg.EventID, "event-id", "", "scan event id (default random)")
	f.StringVar(&msg.DeviceType, "device", "mobile", "device type")
	f.StringVar(&msg.OS, "os", "iOS", "operating system")
	f.StringVar(&msg.Browser, "browser", "Safari", "browser")
	f.StringVar(&msg.Country, "country", "", "country code")
	f.StringVar(&msg.Region, "region", "", "region")
	f.StringVar(&msg.City, "city", "", "city")
	return cmd
}
