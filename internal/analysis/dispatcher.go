package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// DispatcherConfig contains worker and queue settings
type DispatcherConfig struct {
	TaskQueueSize int
	CallTimeout   time.Duration // bound on a single backend call
	PollInterval  time.Duration // how long the worker waits for a task before looping
	JoinTimeout   time.Duration
	Encoder       Encoder
}

// Stats counts dispatcher activity
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
}

// Dispatcher runs a Backend on its own goroutine behind a bounded task queue
// and a pollable result queue. Every backend shares this worker loop; only the
// remote call and the frame encoding differ.
type Dispatcher struct {
	*service.ServiceBase
	backend Backend
	config  DispatcherConfig
	tasks   chan Task

	resultsMu sync.Mutex
	results   []Result

	callbackMu sync.RWMutex
	callback   Callback

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	submitted atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher creates a dispatcher for backend
func NewDispatcher(backend Backend, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if cfg.TaskQueueSize <= 0 {
		cfg.TaskQueueSize = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 2 * time.Second
	}
	if cfg.Encoder == nil {
		cfg.Encoder = LetterboxJPEG(640, 80)
	}

	return &Dispatcher{
		ServiceBase: service.NewServiceBase("analysis-"+backend.Name(), log),
		backend:     backend,
		config:      cfg,
		tasks:       make(chan Task, cfg.TaskQueueSize),
	}
}

// SetCallback registers a function invoked with every result. It may be
// called before or after Start.
func (d *Dispatcher) SetCallback(cb Callback) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.callback = cb
}

// Start launches the worker goroutine
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher already running")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.worker(workerCtx, d.done)

	d.GetStatus().SetStatus(service.StatusRunning)
	d.LogInfo("Analysis worker started",
		"backend", d.backend.Name(),
		"task_queue_size", d.config.TaskQueueSize,
		"call_timeout", d.config.CallTimeout,
	)
	return nil
}

// Stop signals the worker and waits for it up to the join timeout. A worker
// stuck in a slow call is abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	d.GetStatus().SetStatus(service.StatusStopping)
	cancel()

	timer := time.NewTimer(d.config.JoinTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		d.LogWarn("Analysis worker did not exit in time, abandoning it", "timeout", d.config.JoinTimeout)
	case <-ctx.Done():
	}

	d.GetStatus().SetStatus(service.StatusStopped)
	d.LogInfo("Analysis worker stopped",
		"completed", d.completed.Load(),
		"failed", d.failed.Load(),
		"dropped", d.dropped.Load(),
	)
	return nil
}

// Submit copies the frame and queues it for analysis. It never blocks: when
// the queue is full the task is dropped with a warning.
func (d *Dispatcher) Submit(frame *capture.Frame, prompt string) {
	task := Task{
		Frame:       frame.Clone(),
		Prompt:      prompt,
		SubmittedAt: time.Now(),
	}

	select {
	case d.tasks <- task:
		d.submitted.Add(1)
		d.PublishEvent(service.EventTypeEscalation, map[string]interface{}{
			"pending": len(d.tasks),
		})
	default:
		d.dropped.Add(1)
		d.LogWarn("Task queue full, skipping analysis request", "capacity", cap(d.tasks))
	}
}

// GetResult returns the oldest unconsumed result without blocking
func (d *Dispatcher) GetResult() (Result, bool) {
	d.resultsMu.Lock()
	defer d.resultsMu.Unlock()

	if len(d.results) == 0 {
		return Result{}, false
	}
	result := d.results[0]
	d.results[0] = Result{}
	d.results = d.results[1:]
	return result, true
}

// Stats returns a snapshot of the dispatcher counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Dropped:   d.dropped.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Pending:   len(d.tasks),
	}
}

// Backend returns the backend name
func (d *Dispatcher) Backend() string {
	return d.backend.Name()
}

func (d *Dispatcher) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	wait := time.NewTimer(d.config.PollInterval)
	defer wait.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-d.tasks:
			d.process(ctx, task)
		case <-wait.C:
		}

		if !wait.Stop() {
			select {
			case <-wait.C:
			default:
			}
		}
		wait.Reset(d.config.PollInterval)
	}
}

// process runs one task to completion. Every outcome, including a failed
// call, becomes a Result.
func (d *Dispatcher) process(ctx context.Context, task Task) {
	result := d.analyze(ctx, task)
	if ctx.Err() != nil {
		// Stopped mid-call; nobody polls anymore.
		return
	}

	result.SubmittedAt = task.SubmittedAt
	result.CompletedAt = time.Now()

	d.completed.Add(1)
	if result.Failed {
		d.failed.Add(1)
	}

	d.resultsMu.Lock()
	d.results = append(d.results, result)
	d.resultsMu.Unlock()

	d.LogInfo("Analysis completed",
		"is_danger", result.IsDanger,
		"confidence", result.Confidence,
		"alert_type", result.AlertType,
		"failed", result.Failed,
		"latency_ms", result.Latency().Milliseconds(),
	)
	d.PublishEvent(service.EventTypeAnalysisCompleted, map[string]interface{}{
		"is_danger":  result.IsDanger,
		"confidence": result.Confidence,
		"failed":     result.Failed,
	})

	d.notify(result)
}

func (d *Dispatcher) analyze(ctx context.Context, task Task) Result {
	image, err := d.config.Encoder(task.Frame)
	if err != nil {
		d.LogError("Failed to encode frame for analysis", err)
		return FailureResult(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	defer cancel()

	d.LogDebug("Sending frame to backend", "backend", d.backend.Name(), "bytes", len(image))
	text, err := d.backend.Analyze(callCtx, image, task.Prompt)
	if err != nil {
		if ctx.Err() == nil {
			d.LogError("Backend call failed", err, "backend", d.backend.Name())
		}
		return FailureResult(err)
	}
	if strings.TrimSpace(text) == "" {
		err := fmt.Errorf("%w: %s returned an empty reply", ErrTransport, d.backend.Name())
		d.LogError("Backend call failed", err)
		return FailureResult(err)
	}

	return ParseResponse(text)
}

// notify invokes the callback; a panicking callback never kills the worker
func (d *Dispatcher) notify(result Result) {
	d.callbackMu.RLock()
	cb := d.callback
	d.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.LogError("Result callback panicked", fmt.Errorf("%v", r))
		}
	}()
	cb(result)
}
