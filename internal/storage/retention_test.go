package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

type recordingPruner struct {
	cutoff time.Time
	rows   int64
}

func (p *recordingPruner) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	p.cutoff = t
	return p.rows, nil
}

func writeEvidence(t *testing.T, dir, name string, age time.Duration, now time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("jpeg"), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	mod := now.Add(-age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("Failed to set mtime on %s: %v", name, err)
	}
	return path
}

func newTestRetention(t *testing.T, cfg RetentionConfig, pruner AlertPruner, now time.Time) *Retention {
	t.Helper()
	r, err := NewRetention(cfg, pruner, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create retention: %v", err)
	}
	r.now = func() time.Time { return now }
	return r
}

func TestNewRetention_Defaults(t *testing.T) {
	r, err := NewRetention(RetentionConfig{Dir: t.TempDir()}, nil, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create retention: %v", err)
	}
	if r.config.RetentionDays != 7 {
		t.Errorf("Expected default retention days 7, got %d", r.config.RetentionDays)
	}
	if r.config.Schedule != "@hourly" {
		t.Errorf("Expected default schedule @hourly, got %s", r.config.Schedule)
	}
	if r.Name() != "retention" {
		t.Errorf("Expected service name retention, got %s", r.Name())
	}
}

func TestNewRetention_InvalidSchedule(t *testing.T) {
	if _, err := NewRetention(RetentionConfig{Schedule: "every tuesday"}, nil, logger.NewNopLogger()); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}

func TestRetention_DeletesExpiredEvidence(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := writeEvidence(t, dir, "alert_old.jpg", 10*24*time.Hour, now)
	fresh := writeEvidence(t, dir, "alert_new.jpg", time.Hour, now)
	other := writeEvidence(t, dir, "alerts_log.txt", 30*24*time.Hour, now)

	pruner := &recordingPruner{rows: 3}
	r := newTestRetention(t, RetentionConfig{Dir: dir, RetentionDays: 7, MaxDiskUsagePercent: 100}, pruner, now)

	report, err := r.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	if report.Expired != 1 {
		t.Errorf("Expected 1 expired file, got %d", report.Expired)
	}
	if report.PrunedRows != 3 {
		t.Errorf("Expected 3 pruned rows, got %d", report.PrunedRows)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("Expired evidence should be deleted")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("Fresh evidence should be kept")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("Non-image files should be left alone")
	}

	wantCutoff := now.Add(-7 * 24 * time.Hour)
	if !pruner.cutoff.Equal(wantCutoff) {
		t.Errorf("Expected prune cutoff %v, got %v", wantCutoff, pruner.cutoff)
	}
}

func TestRetention_FreesSpaceWhenDiskFull(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i := 0; i < 3; i++ {
		writeEvidence(t, dir, filepath.Base(t.Name())+string(rune('a'+i))+".jpg", time.Duration(i+1)*time.Hour, now)
	}

	// A near-zero limit keeps the disk "full" until every image is gone.
	r := newTestRetention(t, RetentionConfig{Dir: dir, RetentionDays: 7, MaxDiskUsagePercent: 0.0001}, nil, now)

	report, err := r.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if !report.DiskWasFull {
		t.Error("Expected the disk to be reported full")
	}
	if report.Freed != 3 {
		t.Errorf("Expected 3 freed files, got %d", report.Freed)
	}

	files, _ := listEvidence(dir)
	if len(files) != 0 {
		t.Errorf("Expected no evidence left, got %d", len(files))
	}
}

func TestRetention_MissingDir(t *testing.T) {
	r := newTestRetention(t, RetentionConfig{Dir: filepath.Join(t.TempDir(), "missing"), MaxDiskUsagePercent: 100}, nil, time.Now())
	if _, err := r.Enforce(context.Background()); err != nil {
		t.Errorf("Enforce should tolerate a missing directory: %v", err)
	}
}

func TestRetention_StartStop(t *testing.T) {
	r := newTestRetention(t, RetentionConfig{Dir: t.TempDir()}, nil, time.Now())
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !r.GetStatus().IsRunning() {
		t.Error("Retention should be running after Start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.GetStatus().IsRunning() {
		t.Error("Retention should not be running after Stop")
	}
}

func TestListEvidence_OldestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeEvidence(t, dir, "b.jpg", time.Hour, now)
	writeEvidence(t, dir, "a.jpg", 2*time.Hour, now)
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := listEvidence(dir)
	if err != nil {
		t.Fatalf("listEvidence failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if filepath.Base(files[0].path) != "a.jpg" {
		t.Errorf("Expected a.jpg first, got %s", files[0].path)
	}
}
