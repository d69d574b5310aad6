package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/smazurov/taskworker/cmd"
	"github.com/smazurov/taskworker/internal/api"
	"github.com/smazurov/taskworker/internal/config"
	"github.com/smazurov/taskworker/internal/events"
	"github.com/smazurov/taskworker/internal/jobs"
	"github.com/smazurov/taskworker/internal/logging"
	"github.com/smazurov/taskworker/internal/metrics"
	"github.com/smazurov/taskworker/internal/metrics/exporters"
	"github.com/smazurov/taskworker/internal/nats"
	"github.com/smazurov/taskworker/internal/queue"
	"github.com/smazurov/taskworker/internal/task"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Queue settings
	MaxConcurrent int `help:"Maximum tasks executing at once (0 = unbounded)" default:"0" toml:"queue.max_concurrent" env:"QUEUE_MAX_CONCURRENT"`

	// Task settings
	InterruptTimeout time.Duration `help:"Wait after SIGINT before SIGTERM" default:"5s" toml:"task.interrupt_timeout" env:"TASK_INTERRUPT_TIMEOUT"`
	TerminateTimeout time.Duration `help:"Wait after SIGTERM before SIGKILL" default:"5s" toml:"task.terminate_timeout" env:"TASK_TERMINATE_TIMEOUT"`
	OutputMode       string        `help:"Output delivery (raw, line)" default:"raw" toml:"task.output_mode" env:"TASK_OUTPUT_MODE"`

	// Jobs settings
	JobsRetain       int `help:"Finished jobs kept for inspection" default:"100" toml:"jobs.retain" env:"JOBS_RETAIN"`
	JobsOutputBuffer int `help:"Output chunks kept per job" default:"1000" toml:"jobs.output_buffer" env:"JOBS_OUTPUT_BUFFER"`

	// Shutdown settings
	ShutdownTimeout time.Duration `help:"Time allowed for running tasks to stop on shutdown" default:"15s" toml:"server.shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// NATS settings
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsURL      string `help:"External NATS server to publish task events to" default:"" toml:"nats.url" env:"NATS_URL"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingTask   string `help:"Task logging level" default:"info" toml:"logging.task" env:"LOGGING_TASK"`
	LoggingQueue  string `help:"Queue logging level" default:"info" toml:"logging.queue" env:"LOGGING_QUEUE"`
	LoggingJobs   string `help:"Jobs logging level" default:"info" toml:"logging.jobs" env:"LOGGING_JOBS"`
	LoggingAPI    string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingNats   string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"task":  opts.LoggingTask,
				"queue": opts.LoggingQueue,
				"jobs":  opts.LoggingJobs,
				"api":   opts.LoggingAPI,
				"http":  opts.LoggingAPI,
				"nats":  opts.LoggingNats,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		outputMode, err := task.ParseOutputMode(opts.OutputMode)
		if err != nil {
			logger.Warn("Invalid output mode, using raw", "error", err)
			outputMode = task.OutputRaw
		}

		// Metrics registry with runtime collectors
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		taskMetrics := metrics.New(registry)

		// Create event bus for in-process event handling
		eventBus := events.New()

		taskQueue := queue.New(queue.Options{
			Executor: queue.NewGoExecutor(int64(opts.MaxConcurrent)),
			Bus:      eventBus,
			Metrics:  taskMetrics,
		})

		jobService := jobs.NewService(jobs.Options{
			Queue:            taskQueue,
			Bus:              eventBus,
			Metrics:          taskMetrics,
			Logger:           logging.GetLogger("jobs"),
			InterruptTimeout: opts.InterruptTimeout,
			TerminateTimeout: opts.TerminateTimeout,
			OutputMode:       outputMode,
			Retain:           opts.JobsRetain,
			OutputBuffer:     opts.JobsOutputBuffer,
		})

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Jobs:              jobService,
			EventBus:          eventBus,
			Queue:             taskQueue,
			PrometheusHandler: exporters.HTTPHandler(registry),
		})

		// NATS mirrors task events and serves remote cancel requests
		var natsServer *nats.EmbeddedServer
		var natsBridge *nats.Bridge
		natsLogger := logging.GetLogger("nats")

		// Re-apply logging levels when the config file changes
		watcher := config.NewConfigWatcher(
			opts.Config,
			config.ReadLoggingConfig,
			logging.GetLogger("config"),
			config.WithDebounce[logging.Config](500*time.Millisecond),
		)
		watcher.OnReload(func(cfg logging.Config) {
			logger.Info("Config reloaded, applying logging levels", "level", cfg.Level)
			logging.SetLevels(cfg)
		})

		hooks.OnStart(func() {
			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			natsURL := opts.NatsURL
			if opts.NatsEmbedded {
				var startErr error
				if natsServer, startErr = nats.StartEmbedded(opts.NatsPort, natsLogger); startErr != nil {
					logger.Error("Failed to start NATS server", "error", startErr)
					os.Exit(1)
				}
				natsURL = natsServer.URL()
			}
			if natsURL != "" {
				natsBridge = nats.NewBridge(natsURL, eventBus, jobService, natsLogger)
				if startErr := natsBridge.Start(); startErr != nil {
					logger.Warn("Failed to connect NATS bridge, task events stay local", "url", natsURL, "error", startErr)
					natsBridge = nil
				}
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "max_concurrent", opts.MaxConcurrent)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
			defer cancel()

			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop running tasks after the HTTP server stops accepting new ones
			if n := taskQueue.CancelAll(); n > 0 {
				logger.Info("Cancelling running tasks", "count", n)
			}
			if waitErr := taskQueue.Wait(ctx); waitErr != nil {
				logger.Warn("Tasks still running at shutdown", "count", taskQueue.Len(), "error", waitErr)
			}

			if natsBridge != nil {
				natsBridge.Stop()
			}
			if natsServer != nil {
				natsServer.Shutdown()
			}

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Debug("Error stopping config watcher", "error", stopErr)
			}
		})
	})

	// Add run command
	cli.Root().AddCommand(cmd.CreateRunCmd())
	cli.Root().AddCommand(cmd.CreateCancelCmd())

	// Run the CLI
	cli.Run()
}
