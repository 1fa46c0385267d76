package alert

import (
	"errors"
	"fmt"
	"io/fs"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// slugLength is how many characters of the reasoning go into a file name
const slugLength = 20

// maxNameAttempts bounds the numbered variants tried when a name is taken
const maxNameAttempts = 100

// EvidenceWriter persists frames associated with danger results as JPEG files
type EvidenceWriter struct {
	logger  *logger.Logger
	dir     string
	quality int
}

// NewEvidenceWriter creates a writer saving into dir
func NewEvidenceWriter(dir string, quality int, log *logger.Logger) (*EvidenceWriter, error) {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return &EvidenceWriter{
		logger:  log,
		dir:     dir,
		quality: quality,
	}, nil
}

// Dir returns the evidence directory
func (w *EvidenceWriter) Dir() string {
	return w.dir
}

// Save writes the frame and returns its path. An existing file is never
// overwritten; a numbered variant of the name is used instead.
func (w *EvidenceWriter) Save(frame *capture.Frame, result analysis.Result, alertCount int, suppressed bool, t time.Time) (string, error) {
	file, path, err := w.create(EvidenceFileName(result.Reasoning, alertCount, suppressed, t))
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := jpeg.Encode(file, frame.ToImage(), &jpeg.Options{Quality: w.quality}); err != nil {
		return "", fmt.Errorf("failed to encode evidence image: %w", err)
	}

	w.logger.Info("Saved alert image", "path", path, "suppressed", suppressed)
	return path, nil
}

func (w *EvidenceWriter) create(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i <= maxNameAttempts; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(w.dir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to create evidence file: %w", err)
		}
		return file, path, nil
	}
	return nil, "", fmt.Errorf("failed to create evidence file: %s and %d variants exist", name, maxNameAttempts-1)
}

// EvidenceFileName names an evidence image from its time, the alert counter,
// the cooldown tag and the start of the reasoning.
func EvidenceFileName(reasoning string, alertCount int, suppressed bool, t time.Time) string {
	if reasoning == "" {
		reasoning = "danger"
	}
	runes := []rune(reasoning)
	if len(runes) > slugLength {
		runes = runes[:slugLength]
	}
	slug := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "\n", "_").Replace(string(runes))

	tag := ""
	if suppressed {
		tag = "_cooldown"
	}
	stamp := fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
	return fmt.Sprintf("alert_%s_%d%s_%s.jpg", stamp, alertCount, tag, slug)
}
