package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

type mockService struct {
	name     string
	startErr error
	stopErr  error
	order    *[]string
	mu       *sync.Mutex
	started  bool
	stopped  bool
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	m.record("start:" + m.name)
	return nil
}

func (m *mockService) Stop(ctx context.Context) error {
	m.stopped = true
	m.record("stop:" + m.name)
	return m.stopErr
}

func (m *mockService) record(entry string) {
	if m.order == nil {
		return
	}
	m.mu.Lock()
	*m.order = append(*m.order, entry)
	m.mu.Unlock()
}

type mockServiceWithEvents struct {
	mockService
	eventBus *EventBus
}

func (m *mockServiceWithEvents) SetEventBus(bus *EventBus) {
	m.eventBus = bus
}

func TestNewManager(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	if mgr == nil {
		t.Fatal("NewManager returned nil")
	}
	if mgr.GetServiceCount() != 0 {
		t.Errorf("Expected 0 services, got %d", mgr.GetServiceCount())
	}
	if mgr.GetEventBus() == nil {
		t.Error("Event bus should be initialized")
	}
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&mockService{name: "test-service"})

	if mgr.GetServiceCount() != 1 {
		t.Errorf("Expected 1 service, got %d", mgr.GetServiceCount())
	}

	status := mgr.GetServiceStatus("test-service")
	if status == nil {
		t.Fatal("Service status should be created")
	}
	if status.GetStatus() != StatusStopped {
		t.Errorf("Expected status %s, got %s", StatusStopped, status.GetStatus())
	}
}

func TestManager_Register_WithEvents(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	svc := &mockServiceWithEvents{mockService: mockService{name: "event-service"}}
	mgr.Register(svc)

	if svc.eventBus != mgr.GetEventBus() {
		t.Error("Event bus should be set for service with events")
	}
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	var order []string
	var mu sync.Mutex
	mgr.Register(&mockService{name: "capture", order: &order, mu: &mu})
	mgr.Register(&mockService{name: "monitor", order: &order, mu: &mu})
	mgr.Register(&mockService{name: "web", order: &order, mu: &mu})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for name, status := range mgr.GetAllStatuses() {
		if !status.IsRunning() {
			t.Errorf("Expected %s to be running, got %s", name, status.GetStatus())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	expected := []string{
		"start:capture", "start:monitor", "start:web",
		"stop:web", "stop:monitor", "stop:capture",
	}
	if len(order) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Step %d: expected %s, got %s", i, expected[i], order[i])
		}
	}

	if mgr.GetServiceStatus("web").GetStatus() != StatusStopped {
		t.Errorf("Expected web to be stopped, got %s", mgr.GetServiceStatus("web").GetStatus())
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	first := &mockService{name: "first"}
	broken := &mockService{name: "broken", startErr: errors.New("no source")}
	never := &mockService{name: "never"}
	mgr.Register(first)
	mgr.Register(broken)
	mgr.Register(never)

	err := mgr.Start(context.Background())
	if err == nil {
		t.Fatal("Expected start error")
	}
	if !errors.Is(err, broken.startErr) {
		t.Errorf("Expected wrapped start error, got %v", err)
	}

	if !first.stopped {
		t.Error("Already started service should be stopped on failure")
	}
	if never.started {
		t.Error("Services after the failing one should not start")
	}

	status := mgr.GetServiceStatus("broken")
	if status.GetStatus() != StatusError {
		t.Errorf("Expected error status, got %s", status.GetStatus())
	}
	if status.GetError() == nil {
		t.Error("Expected recorded error")
	}
}

func TestManager_ShutdownReportsStopError(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	stopErr := errors.New("stuck")
	mgr.Register(&mockService{name: "sticky", stopErr: stopErr})
	mgr.Register(&mockService{name: "clean"})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := mgr.Shutdown(context.Background())
	if !errors.Is(err, stopErr) {
		t.Errorf("Expected stop error, got %v", err)
	}
	if mgr.GetServiceStatus("clean").GetStatus() != StatusStopped {
		t.Error("Other services should still be stopped")
	}
}
