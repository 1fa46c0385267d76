package health

import (
	"context"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Report represents the overall health report
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]Check       `json:"checks"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// Ready reports whether the process can do useful work
func (r Report) Ready() bool {
	return r.Status != StatusUnhealthy
}

// Checker is an interface for health checkers
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Manager runs the registered checkers
type Manager struct {
	logger     *logger.Logger
	checkers   []Checker
	svcManager *service.Manager
	startTime  time.Time
	mu         sync.RWMutex
}

// NewManager creates a new health check manager. svcManager may be nil.
func NewManager(log *logger.Logger, svcManager *service.Manager) *Manager {
	return &Manager{
		logger:     log,
		checkers:   make([]Checker, 0),
		svcManager: svcManager,
		startTime:  time.Now(),
	}
}

// RegisterChecker registers a health checker
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check performs all health checks
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	for _, checker := range m.checkers {
		check := checker.Check(ctx)
		checks[check.Name] = check

		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	if overallStatus != StatusHealthy {
		m.logger.Debug("Health check not healthy", "status", overallStatus)
	}

	return Report{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  m.Services(),
	}
}

// Services returns the status of every registered service
func (m *Manager) Services() map[string]interface{} {
	services := make(map[string]interface{})
	if m.svcManager == nil {
		return services
	}
	for name, status := range m.svcManager.GetAllStatuses() {
		entry := map[string]interface{}{
			"status": status.GetStatus(),
		}
		if err := status.GetError(); err != nil {
			entry["error"] = err.Error()
		}
		services[name] = entry
	}
	return services
}
