package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/queue"
	"github.com/smazurov/taskworker/internal/task"
	"github.com/spf13/cobra"
)

// RunOptions controls a one-shot task run.
type RunOptions struct {
	InterruptTimeout time.Duration
	TerminateTimeout time.Duration
	OutputMode       task.OutputMode
}

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	var (
		interruptTimeout time.Duration
		terminateTimeout time.Duration
		lines            bool
		logJSON          bool
	)

	cmd := &cobra.Command{
		Use:   "run -- program [args...]",
		Short: "Run one program as a managed task",
		Long: `Runs a program through the task queue and copies its standard output to stdout. ` +
			`The first interrupt cancels the task, escalating from SIGINT to SIGTERM to SIGKILL ` +
			`until it exits. The command exits with the task's status.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			loggingConfig := logging.Config{
				Level:  "warn",
				Format: "text",
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("run")

			mode := task.OutputRaw
			if lines {
				mode = task.OutputLines
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			status, err := RunTask(ctx, queue.Instance(), args[0], args[1:], RunOptions{
				InterruptTimeout: interruptTimeout,
				TerminateTimeout: terminateTimeout,
				OutputMode:       mode,
			}, os.Stdout)
			if err != nil {
				logger.Error("Failed to run task", "error", err)
				os.Exit(1)
			}

			logger.Debug("Run command exiting", "exit_status", status)
			os.Exit(status)
		},
	}

	cmd.Flags().DurationVar(&interruptTimeout, "interrupt-timeout", task.DefaultInterruptTimeout,
		"Time to wait after SIGINT before sending SIGTERM")
	cmd.Flags().DurationVar(&terminateTimeout, "terminate-timeout", task.DefaultTerminateTimeout,
		"Time to wait after SIGTERM before sending SIGKILL")
	cmd.Flags().BoolVar(&lines, "lines", false, "Deliver output line by line instead of as raw reads")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// RunTask submits one task to q, copies its output to w and returns its exit
// status. Cancelling ctx cancels the task; RunTask still waits for it to finish.
func RunTask(ctx context.Context, q *queue.Queue, launchPath string, args []string, opts RunOptions, w io.Writer) (int, error) {
	logger := logging.GetLogger("run")

	t, err := task.New(launchPath, args,
		func(chunk string) {
			if _, writeErr := io.WriteString(w, chunk); writeErr != nil {
				logger.Debug("Failed to write output", "error", writeErr)
			}
		},
		nil,
		task.WithLogger(logging.GetLogger("task")),
		task.WithEscalationTimeouts(opts.InterruptTimeout, opts.TerminateTimeout),
		task.WithOutputMode(opts.OutputMode),
	)
	if err != nil {
		return 0, err
	}

	if err := q.Submit(t); err != nil {
		return 0, fmt.Errorf("submit task: %w", err)
	}

	select {
	case <-t.Done():
	case <-ctx.Done():
		logger.Warn("Cancelling task", "task_id", t.ID())
		if cancelErr := t.Cancel(); cancelErr != nil {
			logger.Debug("Cancel not applied", "task_id", t.ID(), "error", cancelErr)
		}
		<-t.Done()
	}

	if launchErr := t.LaunchError(); launchErr != nil {
		return t.ExitStatus(), launchErr
	}
	return t.ExitStatus(), nil
}
