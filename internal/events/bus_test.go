package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan TaskSubmittedEvent, 1)

	unsub := bus.Subscribe(func(e TaskSubmittedEvent) {
		received <- e
	})
	defer unsub()

	event := TaskSubmittedEvent{
		TaskID:     "task-1",
		LaunchPath: "/bin/echo",
		Args:       []string{"hello"},
		Timestamp:  "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.TaskID != event.TaskID {
		t.Errorf("Expected task_id %s, got %s", event.TaskID, got.TaskID)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan TaskStateChangedEvent, 1)
	received2 := make(chan TaskStateChangedEvent, 1)

	unsub1 := bus.Subscribe(func(e TaskStateChangedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e TaskStateChangedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(TaskStateChangedEvent{TaskID: "task-1", OldState: "ready", State: "executing"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan TaskEscalatedEvent, 1)

	unsub := bus.Subscribe(func(e TaskEscalatedEvent) {
		received <- e
	})

	bus.Publish(TaskEscalatedEvent{TaskID: "task-1", Mode: "interrupt"})
	<-received

	unsub()

	bus.Publish(TaskEscalatedEvent{TaskID: "task-1", Mode: "terminate"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	outputReceived := make(chan bool, 1)
	stateReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ TaskOutputEvent) {
		outputReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ TaskStateChangedEvent) {
		stateReceived <- true
	})
	defer unsub2()

	bus.Publish(TaskOutputEvent{TaskID: "task-1", Chunk: "a"})
	<-outputReceived

	select {
	case <-stateReceived:
		t.Fatal("State subscriber should NOT have received TaskOutputEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(TaskStateChangedEvent{TaskID: "task-1", State: "finished"})
	<-stateReceived

	select {
	case <-outputReceived:
		t.Fatal("Output subscriber should NOT have received TaskStateChangedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandlerIsNoop(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(_ string) {})
	unsub()
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ TaskOutputEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(TaskOutputEvent{
					TaskID:    "task-1",
					Chunk:     "x",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_OutputOrderPreserved(t *testing.T) {
	bus := New()
	received := make(chan uint64, 100)

	unsub := bus.Subscribe(func(e TaskOutputEvent) {
		received <- e.Seq
	})
	defer unsub()

	for i := range uint64(100) {
		bus.Publish(TaskOutputEvent{TaskID: "task-1", Seq: i})
	}

	for want := range uint64(100) {
		if got := <-received; got != want {
			t.Fatalf("Expected seq %d, got %d", want, got)
		}
	}
}

func TestEventJSONSerialization(t *testing.T) {
	status := 137
	tests := []struct {
		name  string
		event any
		key   string
	}{
		{"TaskSubmittedEvent", TaskSubmittedEvent{TaskID: "t", LaunchPath: "/bin/true"}, "launch_path"},
		{"TaskStateChangedEvent", TaskStateChangedEvent{TaskID: "t", State: "finished", ExitStatus: &status}, "exit_status"},
		{"TaskOutputEvent", TaskOutputEvent{TaskID: "t", Seq: 3, Chunk: "hello\n"}, "chunk"},
		{"TaskEscalatedEvent", TaskEscalatedEvent{TaskID: "t", Mode: "kill", Signal: "killed"}, "signal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if _, ok := result[tt.key]; !ok {
				t.Errorf("Expected key %q in %s", tt.key, data)
			}
		})
	}
}

func TestStateChangedOmitsExitStatusWhileRunning(t *testing.T) {
	data, err := json.Marshal(TaskStateChangedEvent{TaskID: "t", OldState: "ready", State: "executing"})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if _, ok := result["exit_status"]; ok {
		t.Errorf("exit_status should be omitted, got %s", data)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[TaskSubmittedEvent](bus, ch)
	defer unsub()

	bus.Publish(TaskSubmittedEvent{TaskID: "task-1", LaunchPath: "/bin/true"})

	received := <-ch
	ev, ok := received.(TaskSubmittedEvent)
	if !ok {
		t.Fatalf("Expected TaskSubmittedEvent, got %T", received)
	}
	if ev.LaunchPath != "/bin/true" {
		t.Errorf("Expected launch_path /bin/true, got %s", ev.LaunchPath)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[TaskStateChangedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(TaskStateChangedEvent{TaskID: "task-1"})
		done <- true
	}()

	<-done
}

func TestSubscribeTaskToChannel_Filters(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeTaskToChannel[TaskOutputEvent](bus, "wanted", ch)
	defer unsub()

	bus.Publish(TaskOutputEvent{TaskID: "other", Chunk: "no"})
	bus.Publish(TaskOutputEvent{TaskID: "wanted", Chunk: "yes"})

	select {
	case received := <-ch:
		ev := received.(TaskOutputEvent)
		if ev.TaskID != "wanted" || ev.Chunk != "yes" {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}

	select {
	case extra := <-ch:
		t.Fatalf("Unexpected extra event %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}
