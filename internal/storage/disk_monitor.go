package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DiskMonitor reports filesystem usage for the evidence directory
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	mu              sync.RWMutex
	lastCheck       time.Time
	cacheDuration   time.Duration
	cachedUsage     *DiskUsage
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// NewDiskMonitor creates a disk monitor for path
func NewDiskMonitor(path string, maxUsagePercent float64) *DiskMonitor {
	if maxUsagePercent <= 0 {
		maxUsagePercent = 80.0
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		cacheDuration:   30 * time.Second,
	}
}

// GetUsage returns current disk usage, cached briefly
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.getDiskUsage()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	return usage, nil
}

// Invalidate drops the cached usage so the next call measures again
func (d *DiskMonitor) Invalidate() {
	d.mu.Lock()
	d.cachedUsage = nil
	d.mu.Unlock()
}

// IsDiskFull returns true if disk usage exceeds the configured maximum
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent >= d.maxUsagePercent, nil
}

func (d *DiskMonitor) getDiskUsage() (*DiskUsage, error) {
	absPath, err := filepath.Abs(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}
