package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/enrollment-payments/internal/reconcile"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start the background workers that settle stale payments and replay failed webhook events.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the pending payment sweeper",
	Long:  `Verify stale PENDING payments against their gateway, expire abandoned ones and flag overdue installments`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var webhookWorkerCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Start the failed webhook replayer",
	Long:  `Periodically replay webhook events left FAILED by a transient error`,
	Run: func(cmd *cobra.Command, args []string) {
		startWebhookWorker()
	},
}

var (
	maxWorkers     int
	jobQueueSize   int
	runOnce        bool
	replayInterval time.Duration
	replayLimit    int
)

func startReconcileWorker() {
	cfg, lg := setup("reconciler")

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	reconcileConfig := cfg.Reconcile
	reconcileConfig.MaxWorkers = getIntFlag(maxWorkers, cfg.Reconcile.MaxWorkers)
	reconcileConfig.QueueSize = getIntFlag(jobQueueSize, cfg.Reconcile.QueueSize)

	lg.Info("starting reconcile worker",
		"max_workers", reconcileConfig.MaxWorkers,
		"queue_size", reconcileConfig.QueueSize,
		"batch_size", reconcileConfig.BatchSize,
		"once", runOnce)

	sweeper := reconcile.NewSweeper(reconcile.NewPendingStore(app.DB), app.Payments, app.Enrollment, reconcileConfig, lg)

	if runOnce {
		defer sweeper.Close()
		if _, err := sweeper.RunOnce(context.Background()); err != nil {
			lg.Error("reconcile sweep failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("reconcile worker is running. Press Ctrl+C to stop.")
	if err := sweeper.Run(ctx); err != nil {
		lg.Error("reconcile worker stopped with error", "error", err)
	}
	lg.Info("reconcile worker shutdown complete")
}

func startWebhookWorker() {
	cfg, lg := setup("webhook-replayer")

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()

	lg.Info("webhook replay worker is running. Press Ctrl+C to stop.", "interval", replayInterval, "limit", replayLimit)
	for {
		results, err := app.Dispatcher.Replay(ctx, replayLimit)
		if err != nil && ctx.Err() == nil {
			lg.Error("webhook replay failed", "error", err)
		} else if len(results) > 0 {
			lg.Info("webhook events replayed", "count", len(results))
		}

		select {
		case <-ctx.Done():
			lg.Info("webhook replay worker shutdown complete")
			return
		case <-ticker.C:
		}
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconcileWorkerCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single sweep and exit")

	webhookWorkerCmd.Flags().DurationVar(&replayInterval, "interval", time.Minute, "Time between replay passes")
	webhookWorkerCmd.Flags().IntVar(&replayLimit, "limit", 50, "Maximum events replayed per pass")

	workerCmd.AddCommand(reconcileWorkerCmd)
	workerCmd.AddCommand(webhookWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
