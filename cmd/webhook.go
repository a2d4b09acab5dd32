package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook event maintenance",
}

var webhookReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay webhook events left FAILED",
	Long:  `Re-run stored webhook events whose processing failed. Signatures were checked on receipt and are not checked again.`,
	Run: func(cmd *cobra.Command, args []string) {
		replayWebhooks(replayOnceLimit)
	},
}

var replayOnceLimit int

func replayWebhooks(limit int) {
	cfg, lg := setup("webhook-replay")

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	results, err := app.Dispatcher.Replay(context.Background(), limit)
	if err != nil {
		lg.Error("webhook replay stopped", "error", err, "replayed", len(results))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
}

func init() {
	webhookReplayCmd.Flags().IntVar(&replayOnceLimit, "limit", 100, "Maximum events to replay")

	webhookCmd.AddCommand(webhookReplayCmd)
	rootCmd.AddCommand(webhookCmd)
}
