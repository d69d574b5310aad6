// Package logging provides structured logging with per-module log levels.
//
// Loggers are plain *slog.Logger values tagged with a "module" attribute.
// Each module owns a slog.LevelVar, so levels can be changed at runtime
// (see SetLevels, driven by the config watcher).
//
// Output is routed automatically:
//   - stdout (text or json) when a terminal, pipe, socket or file is attached
//   - the systemd journal when journald is reachable
//   - both, through a MultiHandler, when both are available
//
// Usage:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"task":  "debug",
//			"queue": "warn",
//		},
//	})
//
//	logger := logging.GetLogger("task").With("task_id", id)
//	logger.Info("Process started", "pid", pid)
//
// Journal fields are the upper-cased attribute keys:
//
//	journalctl -t taskworker MODULE=task
//	journalctl -t taskworker TASK_ID=6f1c...
package logging
