package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer("-", "_")

// options holds the resolved global flags.
type options struct {
	server     string
	timeout    time.Duration
	outputJSON bool
	token      string
	cronSecret string
	grpcAddr   string
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.token, o.timeout)
}

// Execute runs the CLI against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "qrhookctl",
		Short: "qrhook CLI - manage QR code webhooks and run delivery jobs",
		Long: `qrhookctl is a command line tool for the qrhook webhook service.

Use it to configure a QR code's webhook, send test deliveries, browse the
delivery log, and trigger the retry and cleanup jobs from cron.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, v, cfgFile, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.qrhookctl.yaml)")
	pf.String("server", "http://localhost:8080", "API base URL")
	pf.Duration("timeout", 30*time.Second, "request timeout")
	pf.Bool("json", false, "output in JSON format")
	pf.String("token", "", "dashboard JWT (or QRHOOK_TOKEN)")
	pf.String("cron-secret", "", "job trigger secret (or QRHOOK_CRON_SECRET)")
	pf.String("grpc", "localhost:50051", "gRPC address for health checks")
	for _, name := range []string{"server", "timeout", "json", "token", "cron-secret", "grpc"} {
		_ = v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		newWebhookCmd(opts),
		newDeliveriesCmd(opts),
		newJobsCmd(opts),
		newScanCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(opts),
		newCompletionCmd(),
	)
	return root
}

// initConfig merges flags, QRHOOK_* environment variables and the config file.
func initConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string, opts *options) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".qrhookctl")
	}
	v.SetEnvPrefix("QRHOOK")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", v.ConfigFileUsed())
	}

	opts.server = v.GetString("server")
	opts.timeout = v.GetDuration("timeout")
	opts.outputJSON = v.GetBool("json")
	opts.token = v.GetString("token")
	opts.cronSecret = v.GetString("cron-secret")
	opts.grpcAddr = v.GetString("grpc")
	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
