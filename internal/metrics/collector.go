package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
)

// CaptureStats is implemented by the capture pipeline
type CaptureStats interface {
	Captured() uint64
	Dropped() uint64
}

// DispatcherStats is implemented by the analysis dispatcher
type DispatcherStats interface {
	Stats() analysis.Stats
}

// DiskUsageSource is implemented by the evidence disk monitor
type DiskUsageSource interface {
	GetUsage(ctx context.Context) (*storage.DiskUsage, error)
}

// Collector reads component counters at scrape time. Any source may be nil.
type Collector struct {
	capture    CaptureStats
	dispatcher DispatcherStats
	disk       DiskUsageSource

	captured       *prometheus.Desc
	captureDropped *prometheus.Desc
	tasks          *prometheus.Desc
	pending        *prometheus.Desc
	diskUsed       *prometheus.Desc
	diskUsage      *prometheus.Desc
}

// NewCollector creates a collector over the given sources
func NewCollector(capture CaptureStats, dispatcher DispatcherStats, disk DiskUsageSource) *Collector {
	return &Collector{
		capture:    capture,
		dispatcher: dispatcher,
		disk:       disk,
		captured: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "capture", "frames_total"),
			"Frames read from the source", nil, nil),
		captureDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "capture", "frames_dropped_total"),
			"Frames evicted from the capture queue before being read", nil, nil),
		tasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "analysis", "tasks_total"),
			"Analysis tasks by state", []string{"state"}, nil),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "analysis", "results_pending"),
			"Results waiting to be polled", nil, nil),
		diskUsed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "evidence", "disk_used_bytes"),
			"Bytes used on the evidence filesystem", nil, nil),
		diskUsage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "evidence", "disk_usage_percent"),
			"Usage of the evidence filesystem", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.captured
	ch <- c.captureDropped
	ch <- c.tasks
	ch <- c.pending
	ch <- c.diskUsed
	ch <- c.diskUsage
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.capture != nil {
		ch <- prometheus.MustNewConstMetric(c.captured, prometheus.CounterValue, float64(c.capture.Captured()))
		ch <- prometheus.MustNewConstMetric(c.captureDropped, prometheus.CounterValue, float64(c.capture.Dropped()))
	}

	if c.dispatcher != nil {
		s := c.dispatcher.Stats()
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Submitted), "submitted")
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Dropped), "dropped")
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Completed), "completed")
		ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(s.Failed), "failed")
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	}

	if c.disk != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if usage, err := c.disk.GetUsage(ctx); err == nil {
			ch <- prometheus.MustNewConstMetric(c.diskUsed, prometheus.GaugeValue, float64(usage.UsedBytes))
			ch <- prometheus.MustNewConstMetric(c.diskUsage, prometheus.GaugeValue, usage.UsagePercent)
		}
	}
}
