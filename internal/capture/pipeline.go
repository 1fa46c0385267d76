package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// DefaultJoinTimeout bounds how long Stop waits for the capture goroutine
const DefaultJoinTimeout = 2 * time.Second

// PipelineConfig controls capture pacing and queueing
type PipelineConfig struct {
	// TargetFPS paces file playback; 0 reads as fast as the source allows.
	// Cameras are never paced.
	TargetFPS   float64
	Loop        bool // restart file sources when they end
	QueueSize   int
	JoinTimeout time.Duration
}

// Pipeline reads frames from a Source on its own goroutine and publishes
// copies into a drop-oldest queue for a single consumer.
type Pipeline struct {
	*service.ServiceBase
	source Source
	config PipelineConfig
	queue  *FrameQueue

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	captured atomic.Uint64
}

// NewPipeline creates a capture pipeline over source
func NewPipeline(source Source, cfg PipelineConfig, log *logger.Logger) *Pipeline {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	return &Pipeline{
		ServiceBase: service.NewServiceBase("capture", log),
		source:      source,
		config:      cfg,
		queue:       NewFrameQueue(cfg.QueueSize),
		done:        make(chan struct{}),
	}
}

// Start opens the source and launches the capture goroutine. It fails, without
// launching anything, if the source cannot be opened or yields no first frame.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("capture pipeline already started")
	}

	p.GetStatus().SetStatus(service.StatusStarting)

	loopCtx, cancel := context.WithCancel(ctx)
	if err := p.source.Connect(loopCtx); err != nil {
		cancel()
		p.GetStatus().SetError(err)
		return fmt.Errorf("failed to open frame source: %w", err)
	}

	p.started = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, p.done)

	props := p.source.Properties()
	p.GetStatus().SetStatus(service.StatusRunning)
	p.PublishEvent(service.EventTypeCaptureStarted, map[string]interface{}{
		"input": props.Input,
		"kind":  string(props.Kind),
	})
	p.LogInfo("Capture pipeline started",
		"input", props.Input,
		"kind", props.Kind,
		"width", props.Width,
		"height", props.Height,
		"target_fps", p.config.TargetFPS,
		"loop", p.config.Loop,
	)
	return nil
}

// Stop signals the capture goroutine and waits for it up to the join timeout.
// A goroutine that does not exit in time is abandoned.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	p.GetStatus().SetStatus(service.StatusStopping)
	cancel()

	timer := time.NewTimer(p.config.JoinTimeout)
	defer timer.Stop()

	select {
	case <-done:
		_ = p.source.Release()
	case <-timer.C:
		p.LogWarn("Capture goroutine did not exit in time, abandoning it", "timeout", p.config.JoinTimeout)
		go func() { _ = p.source.Release() }()
	case <-ctx.Done():
		go func() { _ = p.source.Release() }()
	}

	p.GetStatus().SetStatus(service.StatusStopped)
	p.LogInfo("Capture pipeline stopped",
		"captured", p.captured.Load(),
		"dropped", p.queue.Dropped(),
	)
	return nil
}

// ReadFrame returns the oldest buffered frame without blocking
func (p *Pipeline) ReadFrame() (*Frame, bool) {
	return p.queue.TryPop()
}

// Done is closed when the capture goroutine exits, either because the
// source ended or because the pipeline was stopped. Each Start replaces it.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// IsRunning reports whether capture is active
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	started, done := p.started, p.done
	p.mu.Unlock()
	select {
	case <-done:
		return false
	default:
	}
	return started && p.source.IsConnected()
}

// Properties returns the source properties
func (p *Pipeline) Properties() Properties {
	return p.source.Properties()
}

// Captured returns the number of frames read from the source
func (p *Pipeline) Captured() uint64 {
	return p.captured.Load()
}

// Dropped returns the number of frames lost to queue eviction
func (p *Pipeline) Dropped() uint64 {
	return p.queue.Dropped()
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	paced := p.source.Kind() == SourceKindFile && p.config.TargetFPS > 0
	var interval time.Duration
	if paced {
		interval = time.Duration(float64(time.Second) / p.config.TargetFPS)
	}

	var last time.Time
	for {
		if ctx.Err() != nil {
			return
		}

		// Pace before the read so no decoded frame is skipped.
		if paced {
			if !last.IsZero() {
				if wait := interval - time.Since(last); wait > 0 && !sleepContext(ctx, wait) {
					return
				}
			}
			last = time.Now()
		}

		frame, err := p.source.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !p.recoverSource(ctx, err) {
				p.GetStatus().SetStatus(service.StatusStopped)
				p.PublishEvent(service.EventTypeCaptureEnded, map[string]interface{}{
					"captured": p.captured.Load(),
					"reason":   err.Error(),
				})
				return
			}
			last = time.Time{}
			continue
		}

		p.captured.Add(1)
		p.queue.Push(frame.Clone())
	}
}

// recoverSource applies the reconnect policy after a failed read and reports
// whether capture should continue.
func (p *Pipeline) recoverSource(ctx context.Context, readErr error) bool {
	if p.source.Kind() == SourceKindFile {
		if !p.config.Loop {
			p.LogWarn("Video file ended or failed to read", "error", readErr)
			return false
		}
		p.LogInfo("Video file ended, restarting playback")
	} else {
		p.LogWarn("Failed to read frame, reconnecting", "error", readErr)
	}

	_ = p.source.Release()
	if err := p.source.Connect(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			p.LogError("Reconnect failed, stopping capture", err)
		}
		return false
	}
	return true
}

// sleepContext sleeps for d and reports false if ctx was cancelled first
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
