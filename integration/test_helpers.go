package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/notify"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
)

// TestEnvironment holds the stand-in services and local state of one test
type TestEnvironment struct {
	TempDir  string
	Config   *config.Config
	Store    *storage.AlertStore
	Logger   *logger.Logger
	Webhook  *WebhookRecorder
	Analyzer *httptest.Server
	Detector *httptest.Server

	servers []*httptest.Server
}

// SetupTestEnvironment starts a detection service that always sees a person,
// an analysis service answering with verdict, and a webhook receiver, then
// builds a configuration pointing at all three.
func SetupTestEnvironment(t *testing.T, verdict string) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	env := &TestEnvironment{
		TempDir: tmpDir,
		Logger:  logger.NewNopLogger(),
		Webhook: &WebhookRecorder{},
	}

	env.Detector = env.serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, detect.InferenceResponse{
			BoundingBoxes: []detect.BoundingBox{
				{X1: 0, Y1: 0, X2: 3, Y2: 1, Confidence: 0.9, ClassName: "person"},
			},
			DetectionCount: 1,
		})
	}))
	env.Analyzer = env.serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"response": verdict})
	}))
	webhook := env.serve(env.Webhook)

	yaml := fmt.Sprintf(`
video:
  source: fake.mp4
  target_fps: 50
detector:
  service_url: %s
  timeout: 2s
analysis:
  provider: remote
  image_size: 32
  timeout: 2s
  server:
    url: %s
cooldown:
  upload: 5s
  alert: 2s
  display: 5s
storage:
  data_dir: %s
evidence:
  max_disk_usage_percent: 100
notifier:
  location: Hallway
  webhook:
    enabled: true
    url: %s
web:
  enabled: false
`, env.Detector.URL, env.Analyzer.URL, filepath.Join(tmpDir, "data"), webhook.URL)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to parse test config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}
	env.Config = cfg

	store, err := storage.NewAlertStore(cfg.Storage.DBPath)
	if err != nil {
		t.Fatalf("Failed to create alert store: %v", err)
	}
	env.Store = store

	t.Cleanup(env.Cleanup)
	return env
}

func (e *TestEnvironment) serve(h http.Handler) *httptest.Server {
	s := httptest.NewServer(h)
	e.servers = append(e.servers, s)
	return s
}

// Cleanup stops the stand-in services and closes the store
func (e *TestEnvironment) Cleanup() {
	for _, s := range e.servers {
		s.Close()
	}
	e.servers = nil
	if e.Store != nil {
		e.Store.Close()
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// WebhookRecorder collects the alerts posted to it
type WebhookRecorder struct {
	mu       sync.Mutex
	payloads []notify.WebhookPayload
}

func (r *WebhookRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var p notify.WebhookPayload
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// Payloads returns a copy of everything received so far
func (r *WebhookRecorder) Payloads() []notify.WebhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.WebhookPayload(nil), r.payloads...)
}

// loopingSource is a file source that yields frames forever
type loopingSource struct {
	mu        sync.Mutex
	connected bool
	buf       *capture.Frame
}

func newLoopingSource() *loopingSource {
	return &loopingSource{buf: capture.NewFrame(4, 2)}
}

func (s *loopingSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *loopingSource) ReadFrame() (*capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, capture.ErrNotConnected
	}
	s.buf.Pix[0]++
	return s.buf, nil
}

func (s *loopingSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *loopingSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *loopingSource) Properties() capture.Properties {
	return capture.Properties{Width: 4, Height: 2, FPS: 50, Kind: capture.SourceKindFile, Input: "fake.mp4"}
}

func (s *loopingSource) Kind() capture.SourceKind { return capture.SourceKindFile }

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
