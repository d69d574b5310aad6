package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/nats"
	"github.com/spf13/cobra"
)

// CreateCancelCmd creates the cancel command.
func CreateCancelCmd() *cobra.Command {
	var (
		natsURL string
		reason  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cancel [task-id]",
		Short: "Cancel a task on a running taskworker over NATS",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			logger := logging.GetLogger("cancel")

			client, err := nats.NewControlClient(natsURL, logger)
			if err != nil {
				logger.Error("Failed to connect to NATS", "url", natsURL, "error", err)
				os.Exit(1)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := client.Cancel(ctx, args[0], reason); err != nil {
				client.Close()
				logger.Error("Cancel failed", "task_id", args[0], "error", err)
				os.Exit(1)
			}
			fmt.Fprintln(os.Stdout, "cancel requested:", args[0])
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", fmt.Sprintf("nats://127.0.0.1:%d", nats.DefaultPort), "NATS server URL")
	cmd.Flags().StringVar(&reason, "reason", "cli", "Reason recorded in the worker log")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Time to wait for the worker to answer")

	return cmd
}
