package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
)

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// sliceSource hands out a fixed list of frames, then ends
type sliceSource struct {
	mu      sync.Mutex
	frames  []*capture.Frame
	done    chan struct{}
	endless bool
}

func newSliceSource(n int) *sliceSource {
	s := &sliceSource{done: make(chan struct{})}
	for i := 0; i < n; i++ {
		s.frames = append(s.frames, capture.NewFrame(16, 8))
	}
	return s
}

func (s *sliceSource) ReadFrame() (*capture.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		if !s.endless {
			select {
			case <-s.done:
			default:
				close(s.done)
			}
		}
		return nil, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

func (s *sliceSource) Done() <-chan struct{} { return s.done }

type fakeDetector struct{ person bool }

func (d fakeDetector) Detect(ctx context.Context, frame *capture.Frame) (bool, []detect.Detection) {
	if !d.person {
		return false, nil
	}
	return true, []detect.Detection{{BBox: [4]float64{1, 1, 6, 5}, Confidence: 0.8}}
}

// fakeEscalator answers every submission with its result on the next poll
type fakeEscalator struct {
	result  analysis.Result
	queued  []analysis.Result
	submits int
}

func (e *fakeEscalator) Submit(frame *capture.Frame, prompt string) {
	e.submits++
	e.queued = append(e.queued, e.result)
}

func (e *fakeEscalator) GetResult() (analysis.Result, bool) {
	if len(e.queued) == 0 {
		return analysis.Result{}, false
	}
	r := e.queued[0]
	e.queued = e.queued[1:]
	return r, true
}

type recordingStore struct {
	entries []storage.AlertEntry
	err     error
}

func (s *recordingStore) Save(ctx context.Context, entry storage.AlertEntry) error {
	s.entries = append(s.entries, entry)
	return s.err
}

// tick returns a clock that advances one second per call
func tick() func() time.Time {
	n := 0
	return func() time.Time {
		t := epoch.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func newTestMonitor(t *testing.T, deps Deps) *Monitor {
	t.Helper()
	if deps.Coordinator == nil {
		deps.Coordinator = alert.NewCoordinator(alert.Config{
			UploadCooldown:  5 * time.Second,
			AlertCooldown:   2 * time.Second,
			DisplayDuration: 5 * time.Second,
		}, nil, nil, logger.NewNopLogger())
	}
	m, err := New(Config{Prompt: "is anyone in danger?", IdleSleep: time.Millisecond}, deps, logger.NewNopLogger())
	require.NoError(t, err)
	m.now = tick()
	return m
}

func runToEnd(t *testing.T, m *Monitor) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}
	require.NoError(t, m.Stop(context.Background()))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{}, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestMonitor_EndsWhenSourceFinishes(t *testing.T) {
	esc := &fakeEscalator{}
	m := newTestMonitor(t, Deps{
		Source:   newSliceSource(3),
		Detector: fakeDetector{},
		Analyzer: esc,
	})

	runToEnd(t, m)

	s := m.Status()
	assert.Equal(t, uint64(3), s.Frames)
	assert.Equal(t, uint64(0), s.PersonFrames)
	assert.True(t, s.Ended)
	assert.False(t, s.Running)
	assert.Equal(t, 0, esc.submits)
	assert.Equal(t, alert.StatusMonitoring, s.State)
}

func TestMonitor_LatestFrameBeforeStart(t *testing.T) {
	m := newTestMonitor(t, Deps{
		Source:   newSliceSource(0),
		Detector: fakeDetector{},
		Analyzer: &fakeEscalator{},
	})
	_, ok := m.LatestFrame()
	assert.False(t, ok)
}

func TestMonitor_EscalatesOncePerUploadWindow(t *testing.T) {
	esc := &fakeEscalator{result: analysis.Result{IsDanger: true, Reasoning: "fall", Confidence: 0.9}}
	store := &recordingStore{}
	var notified []alert.Record
	coord := alert.NewCoordinator(alert.Config{
		UploadCooldown:  5 * time.Second,
		AlertCooldown:   2 * time.Second,
		DisplayDuration: 5 * time.Second,
	}, alert.NotifierFunc(func(ctx context.Context, r alert.Record) bool {
		notified = append(notified, r)
		return true
	}), nil, logger.NewNopLogger())
	met := metrics.New()

	// frames at t=1..7 with a person in each
	m := newTestMonitor(t, Deps{
		Source:      newSliceSource(7),
		Detector:    fakeDetector{person: true},
		Analyzer:    esc,
		Coordinator: coord,
		Metrics:     met,
		Recorder:    store,
	})

	runToEnd(t, m)

	assert.Equal(t, 2, esc.submits, "submissions at t=1 and t=6")
	require.Len(t, notified, 2)
	require.Len(t, store.entries, 2)
	for _, e := range store.entries {
		assert.True(t, e.Delivered)
		assert.True(t, e.NotifiedOK)
		assert.Equal(t, "fall", e.Reasoning)
	}
	assert.Equal(t, notified[0].ID, store.entries[0].ID)

	s := m.Status()
	assert.Equal(t, uint64(7), s.PersonFrames)
	assert.Equal(t, 2, s.AnalysisCount)
	assert.Equal(t, 2, s.AlertCount)
	assert.Equal(t, 1, s.People)
	assert.Equal(t, alert.StatusDanger, s.State)
	require.NotNil(t, s.LastResult)
	assert.True(t, s.LastResult.IsDanger)
	require.NotNil(t, s.ActiveAlert)
	assert.InDelta(t, 1.0, s.FPS, 0.01)

	latest, ok := m.LatestFrame()
	require.True(t, ok)
	assert.Equal(t, 16, latest.Width)
}

func TestMonitor_RecordsSuppressedAlerts(t *testing.T) {
	esc := &fakeEscalator{}
	esc.queued = []analysis.Result{
		{IsDanger: true, Reasoning: "fight"},
		{IsDanger: true, Reasoning: "fight"},
	}
	store := &recordingStore{}
	bus := service.NewEventBus(10)
	suppressed := bus.Subscribe(service.EventTypeAlertSuppressed)
	triggered := bus.Subscribe(service.EventTypeAlertTriggered)

	m := newTestMonitor(t, Deps{
		Source:   newSliceSource(2),
		Detector: fakeDetector{},
		Analyzer: esc,
		Recorder: store,
	})
	m.SetEventBus(bus)

	runToEnd(t, m)

	require.Len(t, store.entries, 2)
	assert.True(t, store.entries[0].Delivered)
	assert.False(t, store.entries[1].Delivered)
	assert.True(t, store.entries[1].Suppressed)
	assert.NotEqual(t, store.entries[0].ID, store.entries[1].ID)
	assert.Len(t, triggered, 1)
	assert.Len(t, suppressed, 1)
	assert.Equal(t, 1, m.Status().AlertCount)
}

func TestMonitor_ClearsDisplayedAlert(t *testing.T) {
	esc := &fakeEscalator{}
	esc.queued = []analysis.Result{{IsDanger: true, Reasoning: "smoke"}}
	bus := service.NewEventBus(10)
	cleared := bus.Subscribe(service.EventTypeAlertCleared)

	// danger at t=1, display window ends at t=6
	m := newTestMonitor(t, Deps{
		Source:   newSliceSource(8),
		Detector: fakeDetector{},
		Analyzer: esc,
	})
	m.SetEventBus(bus)

	runToEnd(t, m)

	assert.Len(t, cleared, 1)
	s := m.Status()
	assert.Nil(t, s.ActiveAlert)
	require.NotNil(t, s.LastResult)
	assert.Equal(t, "smoke", s.LastResult.Reasoning)
}

func TestMonitor_StoreFailureDoesNotStopLoop(t *testing.T) {
	esc := &fakeEscalator{result: analysis.Result{IsDanger: true}}
	store := &recordingStore{err: errors.New("disk I/O error")}
	m := newTestMonitor(t, Deps{
		Source:   newSliceSource(3),
		Detector: fakeDetector{person: true},
		Analyzer: esc,
		Recorder: store,
	})

	runToEnd(t, m)

	assert.Len(t, store.entries, 1)
	assert.Equal(t, uint64(3), m.Status().Frames)
}

func TestMonitor_FailedResultIsSafe(t *testing.T) {
	esc := &fakeEscalator{result: analysis.FailureResult(errors.New("timeout"))}
	store := &recordingStore{}
	m := newTestMonitor(t, Deps{
		Source:   newSliceSource(2),
		Detector: fakeDetector{person: true},
		Analyzer: esc,
		Recorder: store,
	})

	runToEnd(t, m)

	assert.Empty(t, store.entries)
	assert.Equal(t, 1, m.Status().AnalysisCount)
	assert.Equal(t, 0, m.Status().AlertCount)
}

func TestMonitor_StopWhileIdle(t *testing.T) {
	src := newSliceSource(0)
	src.endless = true
	m := newTestMonitor(t, Deps{
		Source:   src,
		Detector: fakeDetector{},
		Analyzer: &fakeEscalator{},
	})

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("loop still running after Stop")
	}
	assert.False(t, m.Status().Ended)
	assert.Equal(t, service.StatusStopped, m.GetStatus().GetStatus())
	require.NoError(t, m.Stop(context.Background()))
}

func TestMonitor_RestartAfterStop(t *testing.T) {
	src := newSliceSource(0)
	src.endless = true
	m := newTestMonitor(t, Deps{
		Source:   src,
		Detector: fakeDetector{},
		Analyzer: &fakeEscalator{},
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, m.Start(context.Background()))
		done := m.Done()
		require.NoError(t, m.Stop(context.Background()))
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("loop %d still running after Stop", i)
		}
	}
	assert.Equal(t, service.StatusStopped, m.GetStatus().GetStatus())
}

func TestAnnotate(t *testing.T) {
	frame := capture.NewFrame(10, 10)
	out := Annotate(frame, []detect.Detection{{BBox: [4]float64{2, 2, 7, 7}}})

	pixel := func(f *capture.Frame, x, y int) []byte {
		i := y*f.Stride() + x*f.Channels
		return f.Pix[i : i+3]
	}

	assert.Equal(t, []byte{0, 255, 0}, pixel(out, 2, 2))
	assert.Equal(t, []byte{0, 255, 0}, pixel(out, 7, 4))
	assert.Equal(t, []byte{0, 255, 0}, pixel(out, 3, 6))
	assert.Equal(t, []byte{0, 0, 0}, pixel(out, 5, 5))
	assert.Equal(t, []byte{0, 0, 0}, pixel(frame, 2, 2), "source frame is untouched")
}

func TestAnnotate_ClampsOutOfBoundsBoxes(t *testing.T) {
	frame := capture.NewFrame(4, 4)
	out := Annotate(frame, []detect.Detection{
		{BBox: [4]float64{-5, -5, 50, 50}},
		{BBox: [4]float64{3, 3, 1, 1}},
	})
	assert.Equal(t, []byte{0, 255, 0}, out.Pix[0:3])
	assert.Len(t, out.Pix, len(frame.Pix))
}
