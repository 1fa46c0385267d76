package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
)

const probeTimeout = 2 * time.Second

// Prober is implemented by the detection client
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Pinger is implemented by the alert store
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunningChecker is implemented by the capture pipeline
type RunningChecker interface {
	IsRunning() bool
}

// StatsSource is implemented by the analysis dispatcher
type StatsSource interface {
	Stats() analysis.Stats
}

// DiskChecker is implemented by the evidence disk monitor
type DiskChecker interface {
	GetUsage(ctx context.Context) (*storage.DiskUsage, error)
	IsDiskFull(ctx context.Context) (bool, error)
}

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// CaptureChecker reports whether frames are still being read
type CaptureChecker struct {
	pipeline RunningChecker
}

func NewCaptureChecker(pipeline RunningChecker) *CaptureChecker {
	return &CaptureChecker{pipeline: pipeline}
}

func (c *CaptureChecker) Name() string {
	return "capture"
}

func (c *CaptureChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if !c.pipeline.IsRunning() {
		check.Status = StatusUnhealthy
		check.Message = "Capture pipeline is not running"
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Capture pipeline running"
	return check
}

// DetectorChecker checks the detection service. Without it no frame is
// escalated, but the loop keeps running.
type DetectorChecker struct {
	detector Prober
	url      string
}

func NewDetectorChecker(detector Prober, url string) *DetectorChecker {
	return &DetectorChecker{detector: detector, url: url}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.url

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.detector.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Detection service unreachable: %v", err)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Detection service is reachable"
	return check
}

// AnalysisChecker flags a backend whose every completed task failed
type AnalysisChecker struct {
	dispatcher StatsSource
	provider   string
}

func NewAnalysisChecker(dispatcher StatsSource, provider string) *AnalysisChecker {
	return &AnalysisChecker{dispatcher: dispatcher, provider: provider}
}

func (c *AnalysisChecker) Name() string {
	return "analysis"
}

func (c *AnalysisChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	s := c.dispatcher.Stats()
	check.Details["provider"] = c.provider
	check.Details["submitted"] = s.Submitted
	check.Details["completed"] = s.Completed
	check.Details["failed"] = s.Failed
	check.Details["dropped"] = s.Dropped

	if s.Completed > 0 && s.Failed == s.Completed {
		check.Status = StatusDegraded
		check.Message = "Every analysis so far has failed"
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Analysis backend OK"
	return check
}

// DatabaseChecker checks the alert history database
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// EvidenceChecker checks the evidence directory and its filesystem
type EvidenceChecker struct {
	dir  string
	disk DiskChecker
}

func NewEvidenceChecker(dir string, disk DiskChecker) *EvidenceChecker {
	return &EvidenceChecker{dir: dir, disk: disk}
}

func (c *EvidenceChecker) Name() string {
	return "evidence"
}

func (c *EvidenceChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["dir"] = c.dir

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create evidence directory: %v", err)
		return check
	}

	if c.disk != nil {
		if usage, err := c.disk.GetUsage(ctx); err == nil {
			check.Details["usage_percent"] = usage.UsagePercent
			check.Details["available_bytes"] = usage.AvailableBytes
		}
		if full, err := c.disk.IsDiskFull(ctx); err == nil && full {
			check.Status = StatusDegraded
			check.Message = "Evidence disk is above its usage limit"
			return check
		}
	}

	check.Status = StatusHealthy
	check.Message = "Evidence directory accessible"
	return check
}
