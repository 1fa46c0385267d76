package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// stopTimeout bounds how long a single service may take to stop
const stopTimeout = 10 * time.Second

// Manager manages the lifecycle of all services
type Manager struct {
	logger     *logger.Logger
	services   []Service
	statuses   map[string]*ServiceStatus
	eventBus   *EventBus
	mu         sync.RWMutex
	startOrder []Service // services that started, for reverse shutdown
}

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// NewManager creates a new service manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:   log,
		services: make([]Service, 0),
		statuses: make(map[string]*ServiceStatus),
		eventBus: NewEventBus(100),
	}
}

// GetEventBus returns the event bus for inter-service communication
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register registers a service with the manager
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	if svcWithEvents, ok := svc.(ServiceWithEvents); ok {
		svcWithEvents.SetEventBus(m.eventBus)
	}
}

// Start starts services in registration order. If one fails, the services
// already started are stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.logger.Info("Starting services", "count", len(m.services))
	m.startEventMonitoring(ctx)

	var startErr error
	for _, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data:   map[string]interface{}{"error": err.Error()},
			})
			startErr = fmt.Errorf("failed to start %s: %w", svc.Name(), err)
			break
		}

		status.SetStatus(StatusRunning)
		m.startOrder = append(m.startOrder, svc)
		m.logger.Info("Service started", "service", svc.Name())
		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}
	m.mu.Unlock()

	if startErr != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = m.stopStarted(stopCtx)
		return startErr
	}

	return nil
}

// startEventMonitoring logs every event published on the bus at debug level
func (m *Manager) startEventMonitoring(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown gracefully shuts down all started services in reverse order
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down services", "count", len(m.startOrder))
	defer m.eventBus.Close()

	done := make(chan error, 1)
	go func() {
		done <- m.stopStarted(ctx)
	}()

	select {
	case err := <-done:
		m.logger.Info("All services stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// stopStarted stops started services in reverse start order
func (m *Manager) stopStarted(ctx context.Context) error {
	m.mu.Lock()
	started := m.startOrder
	m.startOrder = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		status := m.statuses[svc.Name()]

		status.SetStatus(StatusStopping)
		m.logger.Info("Stopping service", "service", svc.Name())

		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		err := svc.Stop(stopCtx)
		cancel()

		if err != nil {
			status.SetError(err)
			m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			status.SetStatus(StatusStopped)
			m.logger.Info("Service stopped", "service", svc.Name())
		}

		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStopped,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}

	return firstErr
}

// GetServiceCount returns the number of registered services
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status of a service
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns all service statuses
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
