package service

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the lifecycle of a single service
type ServiceStatus struct {
	Name      string
	StartedAt time.Time
	UpdatedAt time.Time

	mu     sync.RWMutex
	status Status
	err    error
}

// NewServiceStatus creates a status tracker in the stopped state
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:      name,
		status:    StatusStopped,
		UpdatedAt: time.Now(),
	}
}

// SetStatus updates the status; entering running clears any previous error
func (s *ServiceStatus) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
	s.UpdatedAt = time.Now()
	if status == StatusRunning {
		s.StartedAt = s.UpdatedAt
		s.err = nil
	}
}

// SetError records an error and moves the service to the error state
func (s *ServiceStatus) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusError
	s.err = err
	s.UpdatedAt = time.Now()
}

// GetStatus returns the current status
func (s *ServiceStatus) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetError returns the last recorded error
func (s *ServiceStatus) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// IsRunning reports whether the service is running
func (s *ServiceStatus) IsRunning() bool {
	return s.GetStatus() == StatusRunning
}
