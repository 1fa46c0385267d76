package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
)

const (
	defaultIdleSleep   = 10 * time.Millisecond
	defaultFPSInterval = time.Second
	defaultJoinTimeout = 2 * time.Second
)

// FrameSource is the consumer side of the capture pipeline
type FrameSource interface {
	ReadFrame() (*capture.Frame, bool)
	Done() <-chan struct{}
}

// Detector finds people in a frame. It never fails; errors yield no detections.
type Detector interface {
	Detect(ctx context.Context, frame *capture.Frame) (bool, []detect.Detection)
}

// Escalator is the submit/poll side of the analysis dispatcher
type Escalator interface {
	Submit(frame *capture.Frame, prompt string)
	GetResult() (analysis.Result, bool)
}

// AlertRecorder keeps the alert history
type AlertRecorder interface {
	Save(ctx context.Context, entry storage.AlertEntry) error
}

// Config controls the monitoring loop
type Config struct {
	Prompt      string
	IdleSleep   time.Duration // wait when no frame is queued
	FPSInterval time.Duration
	JoinTimeout time.Duration
	Annotate    bool // draw detection boxes on escalated and evidence frames
}

// Deps are the collaborators of the loop. Metrics and Recorder may be nil.
type Deps struct {
	Source      FrameSource
	Detector    Detector
	Analyzer    Escalator
	Coordinator *alert.Coordinator
	Metrics     *metrics.Metrics
	Recorder    AlertRecorder
}

// Monitor is the single-threaded main loop. It alone owns the coordinator and
// its cooldown state; other goroutines only see published Status snapshots.
type Monitor struct {
	*service.ServiceBase
	config Config
	deps   Deps
	now    func() time.Time

	status atomic.Pointer[Status]
	latest atomic.Pointer[capture.Frame]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// loop-owned
	frames       uint64
	personFrames uint64
	fps          float64
	fpsStart     time.Time
	fpsFrames    int
	lastResult   *analysis.Result
	lastPeople   int
	displayed    bool
}

// New creates a monitor
func New(cfg Config, deps Deps, log *logger.Logger) (*Monitor, error) {
	if deps.Source == nil || deps.Detector == nil || deps.Analyzer == nil || deps.Coordinator == nil {
		return nil, fmt.Errorf("monitor requires a frame source, detector, analyzer and coordinator")
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.FPSInterval <= 0 {
		cfg.FPSInterval = defaultFPSInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	m := &Monitor{
		ServiceBase: service.NewServiceBase("monitor", log),
		config:      cfg,
		deps:        deps,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	m.status.Store(&Status{State: alert.StatusMonitoring})
	return m, nil
}

// Start launches the loop
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("monitor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.fpsStart = m.now()
	go m.run(loopCtx, m.done)

	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("Monitoring loop started")
	return nil
}

// Stop cancels the loop and waits for it up to the join timeout
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	m.GetStatus().SetStatus(service.StatusStopping)
	cancel()

	timer := time.NewTimer(m.config.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.LogWarn("Monitoring loop did not exit in time, abandoning it", "timeout", m.config.JoinTimeout)
	case <-ctx.Done():
	}

	m.GetStatus().SetStatus(service.StatusStopped)
	s := m.Status()
	m.LogInfo("Monitoring loop stopped",
		"frames", s.Frames,
		"analyses", s.AnalysisCount,
		"alerts", s.AlertCount,
	)
	return nil
}

// Done is closed when the loop exits, including when the capture source ends
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Status returns the latest published snapshot
func (m *Monitor) Status() Status {
	return *m.status.Load()
}

// LatestFrame returns the most recent frame the loop processed, annotated
// when a person was found. The frame must not be modified.
func (m *Monitor) LatestFrame() (*capture.Frame, bool) {
	f := m.latest.Load()
	return f, f != nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s := m.Status()
		s.Running = false
		m.status.Store(&s)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := m.deps.Source.ReadFrame()
		if ok {
			m.step(ctx, frame)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-m.deps.Source.Done():
			// Drain whatever the pipeline queued before it ended.
			if frame, ok := m.deps.Source.ReadFrame(); ok {
				m.step(ctx, frame)
				continue
			}
			m.LogInfo("Capture ended, monitoring session finished")
			m.finish()
			return
		case <-time.After(m.config.IdleSleep):
		}
	}
}

// step runs one iteration for one frame
func (m *Monitor) step(ctx context.Context, frame *capture.Frame) {
	t := m.now()
	coord := m.deps.Coordinator

	m.frames++
	m.updateFPS(t)
	if m.deps.Metrics != nil {
		m.deps.Metrics.FramesProcessed.Inc()
	}

	hasPerson, detections := m.deps.Detector.Detect(ctx, frame)
	m.lastPeople = len(detections)
	if hasPerson {
		m.personFrames++
		if m.deps.Metrics != nil {
			m.deps.Metrics.PersonFrames.Inc()
		}
		if m.config.Annotate && len(detections) > 0 {
			frame = Annotate(frame, detections)
		}
	}

	m.latest.Store(frame)

	if coord.ShouldEscalate(hasPerson, t) {
		m.deps.Analyzer.Submit(frame, m.config.Prompt)
		if m.deps.Metrics != nil {
			m.deps.Metrics.Escalations.Inc()
		}
		m.LogDebug("Frame escalated for analysis", "people", len(detections))
	}

	if result, ok := m.deps.Analyzer.GetResult(); ok {
		m.handleResult(ctx, result, frame, t)
	}

	active, shown := coord.DisplayedAlert(t)
	if m.displayed && !shown {
		m.PublishEvent(service.EventTypeAlertCleared, nil)
	}
	m.displayed = shown
	if m.deps.Metrics != nil {
		m.deps.Metrics.SetDisplayed(shown)
	}

	m.publish(t, active, shown)
}

func (m *Monitor) handleResult(ctx context.Context, result analysis.Result, frame *capture.Frame, t time.Time) {
	coord := m.deps.Coordinator
	kept := result
	m.lastResult = &kept

	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveResult(result)
	}

	outcome := coord.HandleResult(ctx, result, frame, t)
	if m.deps.Metrics != nil {
		m.deps.Metrics.ObserveOutcome(outcome)
	}
	if !outcome.Danger {
		return
	}

	var record alert.Record
	switch {
	case outcome.Delivered:
		record = *outcome.Record
		m.PublishEvent(service.EventTypeAlertTriggered, map[string]interface{}{
			"id":          record.ID,
			"alert_count": coord.AlertCount(),
			"notified":    outcome.NotifiedOK,
			"reasoning":   result.Reasoning,
		})
	case outcome.Suppressed:
		record = coord.RecordFor(result, t)
		m.PublishEvent(service.EventTypeAlertSuppressed, map[string]interface{}{
			"id":        record.ID,
			"reasoning": result.Reasoning,
		})
	default:
		return
	}

	m.record(ctx, record, outcome)
}

func (m *Monitor) record(ctx context.Context, record alert.Record, outcome alert.Outcome) {
	if m.deps.Recorder == nil {
		return
	}

	entry := storage.AlertEntry{
		ID:          record.ID,
		RuleName:    record.RuleName,
		Description: record.Description,
		Severity:    string(record.Severity),
		Location:    record.Location,
		Timestamp:   record.Timestamp,
		AlertType:   record.AlertType,
		Reasoning:   record.Reasoning,
		Confidence:  record.Confidence,
		Delivered:   outcome.Delivered,
		Suppressed:  outcome.Suppressed,
		NotifiedOK:  outcome.NotifiedOK,
	}
	if n := len(outcome.Evidence); n > 0 {
		entry.EvidencePath = outcome.Evidence[n-1]
	}

	if err := m.deps.Recorder.Save(ctx, entry); err != nil {
		m.LogError("Failed to record alert", err, "alert_id", record.ID)
	}
}

func (m *Monitor) updateFPS(t time.Time) {
	m.fpsFrames++
	elapsed := t.Sub(m.fpsStart)
	if elapsed < m.config.FPSInterval {
		return
	}
	if elapsed > 0 {
		m.fps = float64(m.fpsFrames) / elapsed.Seconds()
	}
	m.fpsFrames = 0
	m.fpsStart = t
	if m.deps.Metrics != nil {
		m.deps.Metrics.FPS.Set(m.fps)
	}
}

func (m *Monitor) publish(t time.Time, active analysis.Result, shown bool) {
	coord := m.deps.Coordinator
	s := &Status{
		State:         coord.Status(),
		FPS:           m.fps,
		Frames:        m.frames,
		PersonFrames:  m.personFrames,
		People:        m.lastPeople,
		AnalysisCount: coord.AnalysisCount(),
		AlertCount:    coord.AlertCount(),
		Running:       true,
		UpdatedAt:     t,
	}
	if m.lastResult != nil {
		last := *m.lastResult
		s.LastResult = &last
	}
	if shown {
		s.ActiveAlert = &active
	}
	m.status.Store(s)
}

func (m *Monitor) finish() {
	s := m.Status()
	s.Ended = true
	m.status.Store(&s)
	m.GetStatus().SetStatus(service.StatusStopped)
}
