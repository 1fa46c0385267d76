package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// scriptedBackend replies with the next scripted step for each call.
type scriptedBackend struct {
	mu      sync.Mutex
	steps   []func(ctx context.Context) (string, error)
	calls   int
	prompts []string
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Analyze(ctx context.Context, image []byte, prompt string) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if len(image) == 0 {
		return "", errors.New("empty image")
	}
	if i < len(s.steps) {
		return s.steps[i](ctx)
	}
	return `{"is_danger": false}`, nil
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(msg string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return "", fmt.Errorf("%w: %s", ErrTransport, msg)
	}
}

func newTestDispatcher(backend Backend, queueSize int) *Dispatcher {
	return NewDispatcher(backend, DispatcherConfig{
		TaskQueueSize: queueSize,
		PollInterval:  20 * time.Millisecond,
		JoinTimeout:   200 * time.Millisecond,
		Encoder:       LetterboxJPEG(32, 80),
	}, logger.NewNopLogger())
}

func waitResult(t *testing.T, d *Dispatcher) Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := d.GetResult(); ok {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no result within timeout")
	return Result{}
}

func TestDispatcher_SubmitNeverBlocksWhenFull(t *testing.T) {
	d := newTestDispatcher(&scriptedBackend{}, 3)
	frame := capture.NewFrame(8, 8)

	start := time.Now()
	for i := 0; i < 20; i++ {
		d.Submit(frame, "prompt")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	stats := d.Stats()
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(17), stats.Dropped)
}

func TestDispatcher_TransportFailureBecomesResult(t *testing.T) {
	backend := &scriptedBackend{steps: []func(context.Context) (string, error){
		fail("connection refused"),
		reply(`{"is_danger": true, "confidence": 0.9, "reasoning": "fell"}`),
	}}
	d := newTestDispatcher(backend, 4)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	d.Submit(capture.NewFrame(8, 8), "first")
	d.Submit(capture.NewFrame(8, 8), "second")

	failed := waitResult(t, d)
	assert.True(t, failed.Failed)
	assert.False(t, failed.IsDanger)
	assert.Equal(t, 0.0, failed.Confidence)
	assert.NotEmpty(t, failed.Reasoning)
	assert.Contains(t, failed.RawResponse, "API call failed")

	ok := waitResult(t, d)
	assert.False(t, ok.Failed)
	assert.True(t, ok.IsDanger)
	assert.Equal(t, "fell", ok.Reasoning)

	_, more := d.GetResult()
	assert.False(t, more)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Completed)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestDispatcher_EmptyReplyIsFailure(t *testing.T) {
	backend := &scriptedBackend{steps: []func(context.Context) (string, error){
		reply(" \n "),
	}}
	d := newTestDispatcher(backend, 2)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	d.Submit(capture.NewFrame(8, 8), "q")
	result := waitResult(t, d)
	assert.True(t, result.Failed)
	assert.False(t, result.IsDanger)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Contains(t, result.Reasoning, "empty reply")
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatcher_FIFOAndDualDelivery(t *testing.T) {
	backend := &scriptedBackend{steps: []func(context.Context) (string, error){
		reply(`{"reasoning": "a"}`),
		reply(`{"reasoning": "b"}`),
		reply(`{"reasoning": "c"}`),
	}}
	d := newTestDispatcher(backend, 8)

	var mu sync.Mutex
	var pushed []string
	d.SetCallback(func(r Result) {
		mu.Lock()
		pushed = append(pushed, r.Reasoning)
		mu.Unlock()
	})

	for _, p := range []string{"1", "2", "3"} {
		d.Submit(capture.NewFrame(8, 8), p)
	}
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	var polled []string
	for i := 0; i < 3; i++ {
		polled = append(polled, waitResult(t, d).Reasoning)
	}

	assert.Equal(t, []string{"a", "b", "c"}, polled)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pushed) == 3
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, polled, pushed)
	mu.Unlock()

	backend.mu.Lock()
	assert.Equal(t, []string{"1", "2", "3"}, backend.prompts)
	backend.mu.Unlock()
}

func TestDispatcher_SubmitCopiesFrame(t *testing.T) {
	var seen byte
	encoder := func(f *capture.Frame) ([]byte, error) {
		seen = f.Pix[0]
		return []byte{1}, nil
	}
	d := NewDispatcher(&scriptedBackend{}, DispatcherConfig{Encoder: encoder, PollInterval: 10 * time.Millisecond}, logger.NewNopLogger())

	frame := capture.NewFrame(2, 2)
	frame.Pix[0] = 7
	d.Submit(frame, "p")
	frame.Pix[0] = 99

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())
	waitResult(t, d)

	assert.Equal(t, byte(7), seen)
}

func TestDispatcher_CallbackPanicDoesNotKillWorker(t *testing.T) {
	d := newTestDispatcher(&scriptedBackend{}, 4)
	d.SetCallback(func(Result) { panic("boom") })

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	d.Submit(capture.NewFrame(8, 8), "p")
	waitResult(t, d)
	d.Submit(capture.NewFrame(8, 8), "p")
	waitResult(t, d)
}

func TestDispatcher_StopIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	backend := &scriptedBackend{steps: []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			<-release // ignores cancellation
			return "", nil
		},
	}}
	d := newTestDispatcher(backend, 4)
	require.NoError(t, d.Start(context.Background()))

	d.Submit(capture.NewFrame(8, 8), "slow")
	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.calls == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, d.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcher_StopDiscardsCancelledCall(t *testing.T) {
	backend := &scriptedBackend{steps: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		},
	}}
	d := newTestDispatcher(backend, 4)
	require.NoError(t, d.Start(context.Background()))

	d.Submit(capture.NewFrame(8, 8), "p")
	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.calls == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop(context.Background()))
	_, ok := d.GetResult()
	assert.False(t, ok)
}

func TestDispatcher_StartTwice(t *testing.T) {
	d := newTestDispatcher(&scriptedBackend{}, 1)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())
	assert.Error(t, d.Start(context.Background()))
}
