package service

import (
	"context"
	"testing"
	"time"
)

func TestNewEventBus(t *testing.T) {
	if NewEventBus(100) == nil {
		t.Fatal("NewEventBus returned nil")
	}
	if NewEventBus(0) == nil {
		t.Fatal("NewEventBus with 0 buffer should use default")
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeAlertTriggered)

	bus.Publish(Event{
		Type:   EventTypeAlertTriggered,
		Source: "monitor",
		Data:   map[string]interface{}{"alert_count": 1},
	})

	select {
	case received := <-ch:
		if received.Type != EventTypeAlertTriggered {
			t.Errorf("Expected event type %s, got %s", EventTypeAlertTriggered, received.Type)
		}
		if received.Timestamp.IsZero() {
			t.Error("Timestamp should be filled in on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("Event not received within timeout")
	}
}

func TestEventBus_SubscribeAllSeesNewTypes(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.SubscribeAll()

	bus.Publish(Event{Type: EventTypeCaptureEnded, Source: "capture"})
	bus.Publish(Event{Type: EventTypeAnalysisCompleted, Source: "analysis"})

	for _, want := range []EventType{EventTypeCaptureEnded, EventTypeAnalysisCompleted} {
		select {
		case got := <-ch:
			if got.Type != want {
				t.Errorf("Expected %s, got %s", want, got.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("Event %s not received", want)
		}
	}
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(1)
	_ = bus.Subscribe(EventTypeAlertSuppressed)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTypeAlertSuppressed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeServiceStarted)

	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after unsubscribe")
	}

	// Publishing afterwards must not panic on the closed channel.
	bus.Publish(Event{Type: EventTypeServiceStarted})
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeServiceStopped)
	all := bus.SubscribeAll()

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Typed subscription should be closed")
	}
	if _, ok := <-all; ok {
		t.Error("Wildcard subscription should be closed")
	}

	bus.Publish(Event{Type: EventTypeServiceStopped})
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	bus.SubscribeWithHandler(ctx, EventTypeEscalation, func(ctx context.Context, event Event) error {
		received <- event
		return nil
	})

	bus.Publish(Event{Type: EventTypeEscalation, Source: "monitor"})

	select {
	case event := <-received:
		if event.Source != "monitor" {
			t.Errorf("Expected source monitor, got %s", event.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("Handler not invoked")
	}
}
