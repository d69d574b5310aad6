package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrCancelRejected is returned when the task worker answered a cancel request with an error.
var ErrCancelRejected = errors.New("cancel rejected")

// ControlClient sends control requests to a running task worker.
type ControlClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewControlClient connects a control client to url.
func NewControlClient(url string, logger *slog.Logger) (*ControlClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("taskworker-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ControlClient{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Cancel asks the worker to cancel taskID and waits for its answer.
func (c *ControlClient) Cancel(ctx context.Context, taskID, reason string) error {
	msg := ControlMessage{
		Action:    ActionCancel,
		TaskID:    taskID,
		Timestamp: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}

	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	resp, err := c.conn.RequestWithContext(ctx, SubjectControlCancel(taskID), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("no task worker is serving control requests: %w", err)
		}
		return fmt.Errorf("cancel request: %w", err)
	}

	reply, err := UnmarshalReply(resp.Data)
	if err != nil {
		return fmt.Errorf("invalid cancel reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%w: %s", ErrCancelRejected, reply.Error)
	}

	c.logger.Info("Cancel accepted", "task_id", taskID, "reason", reason)
	return nil
}

// Close closes the control client connection.
func (c *ControlClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
