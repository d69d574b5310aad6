package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/taskworker/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startServer(t *testing.T, port int) *EmbeddedServer {
	t.Helper()
	server, err := StartEmbedded(port, testLogger())
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Shutdown)
	return server
}

// fakeCanceller records cancel requests and rejects unknown IDs.
type fakeCanceller struct {
	mu        sync.Mutex
	known     map[string]bool
	cancelled []string
}

func (f *fakeCanceller) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return fmt.Errorf("job not found: %s", id)
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeCanceller) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func TestEmbeddedServerLifecycle(t *testing.T) {
	server, err := StartEmbedded(14322, testLogger())
	if err != nil {
		t.Fatalf("StartEmbedded failed: %v", err)
	}

	if !server.Running() {
		t.Error("server should be running after StartEmbedded")
	}
	if got, want := server.URL(), "nats://127.0.0.1:14322"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}

	server.Shutdown()
	server.Shutdown()

	if server.Running() {
		t.Error("server should not be running after Shutdown")
	}
}

func TestBridgeConnectFailure(t *testing.T) {
	bridge := NewBridge("nats://localhost:59999", events.New(), nil, testLogger())

	if err := bridge.Start(); err == nil {
		t.Fatal("Start should fail with non-existent server")
	}
	if bridge.IsConnected() {
		t.Error("Bridge should not be connected")
	}
	bridge.Stop()
}

func TestBridgeForwardsTaskEvents(t *testing.T) {
	server := startServer(t, 14323)

	bus := events.New()
	bridge := NewBridge(server.URL(), bus, nil, testLogger())
	if err := bridge.Start(); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	defer bridge.Stop()

	if !bridge.IsConnected() {
		t.Fatal("Bridge should be connected")
	}

	conn, err := nats.Connect(server.URL())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	sub, err := conn.SubscribeSync(SubjectTasksPrefix + ".task-1.>")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if err := conn.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	bus.Publish(events.TaskOutputEvent{TaskID: "task-1", Seq: 1, Chunk: "hello\n"})

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("No message received: %v", err)
	}
	if msg.Subject != SubjectTaskOutput("task-1") {
		t.Errorf("Subject = %s, want %s", msg.Subject, SubjectTaskOutput("task-1"))
	}
	if got := string(msg.Data); got == "" {
		t.Error("Empty payload")
	}

	status := 137
	bus.Publish(events.TaskStateChangedEvent{TaskID: "task-1", OldState: "executing", State: "finished", ExitStatus: &status})

	msg, err = sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("No state message received: %v", err)
	}
	if msg.Subject != SubjectTaskState("task-1") {
		t.Errorf("Subject = %s, want %s", msg.Subject, SubjectTaskState("task-1"))
	}
}

func TestControlClientCancel(t *testing.T) {
	server := startServer(t, 14324)

	canceller := &fakeCanceller{known: map[string]bool{"task-1": true}}
	bridge := NewBridge(server.URL(), nil, canceller, testLogger())
	if err := bridge.Start(); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	defer bridge.Stop()

	client, err := NewControlClient(server.URL(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create control client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Cancel(ctx, "task-1", "test"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := canceller.get(); len(got) != 1 || got[0] != "task-1" {
		t.Errorf("cancelled = %v, want [task-1]", got)
	}

	err = client.Cancel(ctx, "missing", "test")
	if !errors.Is(err, ErrCancelRejected) {
		t.Errorf("Expected ErrCancelRejected, got %v", err)
	}
}

func TestControlClientNoResponders(t *testing.T) {
	server := startServer(t, 14325)

	client, err := NewControlClient(server.URL(), testLogger())
	if err != nil {
		t.Fatalf("Failed to create control client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Cancel(ctx, "task-1", "test"); err == nil {
		t.Fatal("Cancel should fail without a bridge")
	}
}

func TestBridgeRejectsUnknownAction(t *testing.T) {
	server := startServer(t, 14326)

	canceller := &fakeCanceller{known: map[string]bool{"task-1": true}}
	bridge := NewBridge(server.URL(), nil, canceller, testLogger())
	if err := bridge.Start(); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	defer bridge.Stop()

	conn, err := nats.Connect(server.URL())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	data, _ := ControlMessage{Action: "restart", TaskID: "task-1"}.Marshal()
	resp, err := conn.Request(SubjectControlCancel("task-1"), data, 2*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	reply, err := UnmarshalReply(resp.Data)
	if err != nil {
		t.Fatalf("Invalid reply: %v", err)
	}
	if reply.OK {
		t.Error("Unknown action should be rejected")
	}
	if len(canceller.get()) != 0 {
		t.Error("Canceller should not be called")
	}
}

func TestSubjectFunctions(t *testing.T) {
	tests := []struct {
		fn       func(string) string
		taskID   string
		expected string
	}{
		{SubjectTaskSubmitted, "t1", "taskworker.tasks.t1.submitted"},
		{SubjectTaskState, "t1", "taskworker.tasks.t1.state"},
		{SubjectTaskOutput, "t1", "taskworker.tasks.t1.output"},
		{SubjectTaskEscalation, "t1", "taskworker.tasks.t1.escalation"},
		{SubjectControlCancel, "t1", "taskworker.control.t1.cancel"},
	}

	for _, tt := range tests {
		if result := tt.fn(tt.taskID); result != tt.expected {
			t.Errorf("Got %s, want %s", result, tt.expected)
		}
	}
}

func TestTaskIDFromSubject(t *testing.T) {
	tests := map[string]string{
		"taskworker.control.abc.cancel": "abc",
		"taskworker.control.abc":        "",
		"other.control.abc.cancel":      "",
	}
	for subject, want := range tests {
		if got := taskIDFromSubject(subject); got != want {
			t.Errorf("taskIDFromSubject(%q) = %q, want %q", subject, got, want)
		}
	}
}
