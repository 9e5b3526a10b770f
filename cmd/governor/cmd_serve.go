package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/internal/daemon"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/internal/source"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume compliance events from SQS",
	Long: `Run the governor as a long-lived consumer of the compliance event queue.

Features:
- Concurrent SQS workers with redelivery-aware acknowledgement
- Prometheus metrics on /metrics endpoint
- Health checks on /health, /-/healthy, /-/ready
- Hourly maintenance: exception expiry, ledger pruning, journal cleanup
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  governor serve --config governor.yaml
  GOVERNOR_QUEUE_URL=https://sqs.us-east-1.amazonaws.com/111111111111/compliance governor serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := telemetry.NewLogger("governor")

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.OTEL.Environment,
		Region:         cfg.AWS.Region,
		Partition:      cfg.AWS.Partition,
		Endpoint:       cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
		SampleRatio:    cfg.OTEL.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown incomplete")
		}
	}()

	a := newApp(cfg)
	defer func() { _ = a.Close() }()

	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}

	awsCfg, err := a.aws(ctx)
	if err != nil {
		return err
	}
	consumer, err := source.NewSQSConsumer(sqs.NewFromConfig(awsCfg), p.orchestrator, source.Config{
		QueueURL:          cfg.Queue.URL,
		Workers:           cfg.Queue.Workers,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxReceiveCount:   cfg.Queue.MaxReceiveCount,
		DrainTimeout:      cfg.Queue.DrainTimeout,
	})
	if err != nil {
		return err
	}

	deps := daemon.Dependencies{
		Consumer:   consumer,
		Exceptions: p.workflow,
		Journal:    p.journal,
		Dispatcher: p.dispatcher,
	}
	if pruner, ok := p.ledger.(daemon.LedgerPruner); ok {
		deps.Ledger = pruner
	}

	d, err := daemon.NewDaemon(daemon.Config{
		ListenAddr:          cfg.Daemon.ListenAddr,
		MaintenanceInterval: cfg.Daemon.MaintenanceInterval,
		ShutdownTimeout:     cfg.Daemon.ShutdownTimeout,
	}, deps)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	defer func() { _ = d.Close() }()

	logger.WithContext(ctx).Info().
		Str("queue_url", cfg.Queue.URL).
		Str("region", cfg.AWS.Region).
		Str("ledger", cfg.Storage.Ledger).
		Str("exceptions", cfg.Storage.Exceptions).
		Int("workers", cfg.Queue.Workers).
		Str("listen_addr", cfg.Daemon.ListenAddr).
		Msg("governor starting")

	return d.Start(ctx)
}
