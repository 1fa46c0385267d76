package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// freeBatchSize is how many of the oldest images go per disk check
const freeBatchSize = 10

// AlertPruner removes alert history older than a cut-off
type AlertPruner interface {
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// RetentionConfig controls evidence cleanup
type RetentionConfig struct {
	Dir                 string
	RetentionDays       int
	MaxDiskUsagePercent float64
	Schedule            string // cron spec, e.g. "@hourly"
}

// RetentionReport summarises one enforcement pass
type RetentionReport struct {
	Expired     int   `json:"expired"`
	Freed       int   `json:"freed"`
	PrunedRows  int64 `json:"pruned_rows"`
	DiskWasFull bool  `json:"disk_was_full"`
}

// Retention periodically deletes old evidence images and alert history
type Retention struct {
	*service.ServiceBase
	config RetentionConfig
	disk   *DiskMonitor
	pruner AlertPruner
	cron   *cron.Cron
	now    func() time.Time

	mu        sync.Mutex
	enforcing bool
}

// NewRetention creates the retention service. pruner may be nil.
func NewRetention(cfg RetentionConfig, pruner AlertPruner, log *logger.Logger) (*Retention, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}

	return &Retention{
		ServiceBase: service.NewServiceBase("retention", log),
		config:      cfg,
		disk:        NewDiskMonitor(cfg.Dir, cfg.MaxDiskUsagePercent),
		pruner:      pruner,
		now:         time.Now,
	}, nil
}

// Start schedules enforcement. The first pass runs on the schedule, not at startup.
func (r *Retention) Start(ctx context.Context) error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.config.Schedule, func() {
		if _, err := r.Enforce(ctx); err != nil {
			r.LogWarn("Retention pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	r.cron.Start()

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Retention scheduled",
		"dir", r.config.Dir,
		"retention_days", r.config.RetentionDays,
		"schedule", r.config.Schedule,
	)
	return nil
}

// Stop stops the scheduler and waits for a running pass, bounded by ctx
func (r *Retention) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		r.LogWarn("Retention pass still running at shutdown")
	}
	r.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// DiskMonitor returns the monitor watching the evidence filesystem
func (r *Retention) DiskMonitor() *DiskMonitor {
	return r.disk
}

// Enforce deletes images past the retention period, then the oldest images
// while the disk stays above its usage limit, then stale alert history.
func (r *Retention) Enforce(ctx context.Context) (RetentionReport, error) {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return RetentionReport{}, fmt.Errorf("retention policy is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	var report RetentionReport
	cutoff := r.now().Add(-time.Duration(r.config.RetentionDays) * 24 * time.Hour)

	files, err := listEvidence(r.config.Dir)
	if err != nil {
		return report, err
	}

	remaining := files[:0]
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			if r.remove(f.path) {
				report.Expired++
			}
			continue
		}
		remaining = append(remaining, f)
	}

	if report.Freed, report.DiskWasFull = r.freeDiskSpace(ctx, remaining); report.Freed > 0 {
		r.LogInfo("Freed disk space by deleting old evidence", "count", report.Freed)
	}

	if r.pruner != nil {
		n, err := r.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			r.LogWarn("Failed to prune alert history", "error", err)
		}
		report.PrunedRows = n
	}

	if report.Expired > 0 {
		r.LogInfo("Deleted expired evidence", "count", report.Expired)
	}
	return report, nil
}

// freeDiskSpace deletes the oldest files in batches until usage drops
// below the limit or nothing is left
func (r *Retention) freeDiskSpace(ctx context.Context, files []evidenceFile) (int, bool) {
	full, err := r.disk.IsDiskFull(ctx)
	if err != nil {
		r.LogWarn("Failed to check disk usage", "error", err)
		return 0, false
	}
	if !full {
		return 0, false
	}

	freed := 0
	for len(files) > 0 && full {
		n := freeBatchSize
		if n > len(files) {
			n = len(files)
		}
		for _, f := range files[:n] {
			if r.remove(f.path) {
				freed++
			}
		}
		files = files[n:]

		r.disk.Invalidate()
		if full, err = r.disk.IsDiskFull(ctx); err != nil {
			break
		}
	}
	return freed, true
}

func (r *Retention) remove(path string) bool {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.LogWarn("Failed to delete evidence file", "path", path, "error", err)
		return false
	}
	return true
}

type evidenceFile struct {
	path    string
	modTime time.Time
}

// listEvidence returns the JPEG files in dir, oldest first
func listEvidence(dir string) ([]evidenceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read evidence directory: %w", err)
	}

	files := make([]evidenceFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, evidenceFile{
			path:    filepath.Join(dir, e.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}
