package nats

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/taskworker/internal/events"
)

// Canceller cancels a task by ID.
type Canceller interface {
	Cancel(id string) error
}

// Bridge publishes event bus traffic to NATS subjects and serves cancel
// requests arriving on the control subjects.
type Bridge struct {
	url       string
	eventBus  *events.Bus
	canceller Canceller
	conn      *nats.Conn
	sub       *nats.Subscription
	unsubs    []func()
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewBridge creates a new EventBus-to-NATS bridge. canceller may be nil, in
// which case no control subjects are served.
func NewBridge(url string, eventBus *events.Bus, canceller Canceller, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		url:       url,
		eventBus:  eventBus,
		canceller: canceller,
		logger:    logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS, subscribes to control subjects and starts forwarding events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("taskworker-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}

	b.conn = conn
	b.logger.Info("NATS bridge connected", "url", b.url)

	if b.canceller != nil {
		sub, subErr := conn.Subscribe(SubjectControlPrefix+".*."+ActionCancel, b.handleCancel)
		if subErr != nil {
			b.cleanup()
			return subErr
		}
		b.sub = sub
		// Make sure the server knows the subscription before requests arrive
		if flushErr := conn.Flush(); flushErr != nil {
			b.logger.Debug("NATS flush failed", "error", flushErr)
		}
	}

	if b.eventBus != nil {
		b.unsubs = []func(){
			b.eventBus.Subscribe(func(e events.TaskSubmittedEvent) {
				b.publish(SubjectTaskSubmitted(e.TaskID), e)
			}),
			b.eventBus.Subscribe(func(e events.TaskStateChangedEvent) {
				b.publish(SubjectTaskState(e.TaskID), e)
			}),
			b.eventBus.Subscribe(func(e events.TaskOutputEvent) {
				b.publish(SubjectTaskOutput(e.TaskID), e)
			}),
			b.eventBus.Subscribe(func(e events.TaskEscalatedEvent) {
				b.publish(SubjectTaskEscalation(e.TaskID), e)
			}),
		}
	}

	b.logger.Info("NATS bridge forwarding task events")
	return nil
}

// publish sends v as JSON. No-op while disconnected.
func (b *Bridge) publish(subject string, v any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "error", err, "subject", subject)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		b.logger.Debug("Failed to publish event", "error", err, "subject", subject)
	}
}

// handleCancel serves taskworker.control.{task_id}.cancel. The task ID in the
// subject is authoritative; the body is optional.
func (b *Bridge) handleCancel(msg *nats.Msg) {
	reply := ControlReply{TaskID: taskIDFromSubject(msg.Subject)}

	var ctrl ControlMessage
	if len(msg.Data) > 0 {
		var err error
		if ctrl, err = UnmarshalControl(msg.Data); err != nil {
			b.logger.Warn("Failed to unmarshal control message", "error", err, "subject", msg.Subject)
			reply.Error = "invalid control message"
			b.respond(msg, reply)
			return
		}
	}

	switch {
	case reply.TaskID == "":
		reply.Error = "missing task id"
	case ctrl.Action != "" && ctrl.Action != ActionCancel:
		reply.Error = "unsupported action " + ctrl.Action
	default:
		b.logger.Info("Received cancel request", "task_id", reply.TaskID, "reason", ctrl.Reason)
		if err := b.canceller.Cancel(reply.TaskID); err != nil {
			reply.Error = err.Error()
		} else {
			reply.OK = true
		}
	}

	b.respond(msg, reply)
}

func (b *Bridge) respond(msg *nats.Msg, reply ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Debug("Failed to respond to control request", "error", err)
	}
}

// taskIDFromSubject extracts {task_id} from taskworker.control.{task_id}.cancel.
func taskIDFromSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, SubjectControlPrefix+".")
	if !ok {
		return ""
	}
	id, _, ok := strings.Cut(rest, ".")
	if !ok {
		return ""
	}
	return id
}

// cleanup unsubscribes and closes connection. Caller holds b.mu.
func (b *Bridge) cleanup() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected returns true if the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
