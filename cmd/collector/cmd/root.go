package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/yaml.v3"

	"collector/internal/config"
	"collector/internal/engine"
	"collector/internal/transport"
	"collector/queue"
	"collector/queue/amqp"
	"collector/queue/kafka"
	_ "collector/sink/clickhouse"
	_ "collector/sink/kafka"
	_ "collector/sink/stdout"
)

// RootCmd is the collector CLI. Sub-commands are registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "collector moves events from a durable queue into an analytical store in batches.",
		Long: `collector consumes events from a durable queue, buffers them into batches and
bulk-writes each batch to the sink. Messages are acknowledged only after the
batch containing them was written, so delivery is at-least-once.

Configuration is read from an optional YAML file, then from the environment:
COLLECTOR__SECTION__KEY (e.g. COLLECTOR__BATCH__SIZE_THRESHOLD=500) and the
legacy names RABBIT_HOST, RABBIT_QUEUE, CH_URL, CH_USER, CH_PASSWORD,
BATCH_SIZE and FLUSH_SECS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "collector.yml", "Path to the config file (optional)")

	cmd.AddCommand(
		runCmd(),
		configCmd(),
		probeCmd(),
	)
	return cmd
}

func registerDrivers() {
	queue.Register("amqp", amqp.New)
	queue.Register("kafka", kafka.New)
}

// Consume until SIGINT/SIGTERM.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the collector.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			registerDrivers()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(path)
			if err != nil {
				return errors.WithMessage(err, "bootstrap")
			}
			return e.Run(ctx)
		},
	}
}

// Print the effective configuration, secrets masked.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			f, err := config.Load(path)
			if err != nil {
				return err
			}
			if f.Sink.Credentials.Password != "" {
				f.Sink.Credentials.Password = "******"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(f)
		},
	}
}

// Ask a running collector for its health; usable as a container healthcheck.
func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Exit 0 if the collector at --addr holds a queue connection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}

			cli, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer cli.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			status, err := cli.Check(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("collector at %s is %s", addr, status)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:7070", "Control server address")
	cmd.Flags().Duration("timeout", 2*time.Second, "Probe timeout")
	return cmd
}
