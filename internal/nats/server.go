package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// DefaultPort is the standard NATS client port.
const DefaultPort = 4222

const embeddedReadyTimeout = 5 * time.Second

// EmbeddedServer is an in-process NATS server bound to loopback, used when
// taskworker runs without an external broker.
type EmbeddedServer struct {
	ns     *server.Server
	logger *slog.Logger
}

// StartEmbedded starts a loopback NATS server on port and blocks until it
// accepts connections. A zero port selects DefaultPort.
func StartEmbedded(port int, logger *slog.Logger) (*EmbeddedServer, error) {
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-server")

	ns, err := server.NewServer(&server.Options{
		Host:       "127.0.0.1",
		Port:       port,
		ServerName: "taskworker",
		NoSigs:     true,
		// Output chunks are capped well below this.
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	ns.SetLogger(serverLogger{logger}, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server on port %d not ready after %s", port, embeddedReadyTimeout)
	}

	s := &EmbeddedServer{ns: ns, logger: logger}
	logger.Info("Embedded NATS server started", "url", s.URL())
	return s, nil
}

// URL returns the client URL of the server.
func (s *EmbeddedServer) URL() string { return s.ns.ClientURL() }

// Running reports whether the server still accepts connections.
func (s *EmbeddedServer) Running() bool { return s.ns.Running() }

// Shutdown stops the server and waits for its goroutines to exit.
func (s *EmbeddedServer) Shutdown() {
	if !s.ns.Running() {
		return
	}
	s.logger.Info("Stopping embedded NATS server")
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

// serverLogger routes nats-server log lines into slog.
type serverLogger struct{ l *slog.Logger }

func (s serverLogger) Noticef(format string, v ...any) { s.l.Info(fmt.Sprintf(format, v...)) }
func (s serverLogger) Warnf(format string, v ...any)   { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s serverLogger) Fatalf(format string, v ...any)  { s.l.Error(fmt.Sprintf(format, v...)) }
func (s serverLogger) Errorf(format string, v ...any)  { s.l.Error(fmt.Sprintf(format, v...)) }
func (s serverLogger) Debugf(format string, v ...any)  { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s serverLogger) Tracef(format string, v ...any)  { s.l.Debug(fmt.Sprintf(format, v...)) }
