package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newHealthCmd(opts *options) *cobra.Command {
	var useGRPC bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the health of the qrhook API",
		Long:  `Check the health of the qrhook API over HTTP (/healthz) or with the standard gRPC health service.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if useGRPC {
				status, err := grpcHealth(cmd, opts)
				if err != nil {
					return fmt.Errorf("gRPC health check failed: %w", err)
				}
				if status != healthpb.HealthCheckResponse_SERVING {
					return fmt.Errorf("service is %s", status)
				}
				fmt.Fprintln(out, "✓ Service is healthy (gRPC)")
				return nil
			}

			var st struct {
				OK      bool            `json:"ok"`
				Message string          `json:"message"`
				Checks  map[string]bool `json:"checks"`
			}
			err := opts.client().do(cmd.Context(), http.MethodGet, "/healthz", nil, &st)
			if err != nil {
				return fmt.Errorf("HTTP health check failed: %w", err)
			}
			if opts.outputJSON {
				return printJSON(out, st)
			}
			fmt.Fprintln(out, "✓ Service is healthy (HTTP)")
			for name, ok := range st.Checks {
				fmt.Fprintf(out, "  %s: %t\n", name, ok)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useGRPC, "use-grpc", false, "use the gRPC health service at --grpc")
	return cmd
}

func grpcHealth(cmd *cobra.Command, opts *options) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(opts.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	ctx, cancel := withTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
