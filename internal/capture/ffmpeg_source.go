package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// FFmpegConfig describes the input and the raw frame geometry requested from ffmpeg
type FFmpegConfig struct {
	Input      string // camera index, /dev/videoN, stream URL or file path
	Width      int
	Height     int
	FPS        float64
	FFmpegPath string
}

// FFmpegSource decodes a camera or file into RGB24 frames through an ffmpeg subprocess
type FFmpegSource struct {
	logger *logger.Logger
	config FFmpegConfig
	input  string
	kind   SourceKind

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdout    *bufio.Reader
	stderr    *limitedWriter
	buf       []byte
	pending   *Frame
	connected bool
	frames    uint64

	fps atomic.Uint64 // float64 bits of the negotiated rate
}

// NewFFmpegSource creates a source for the configured input
func NewFFmpegSource(cfg FFmpegConfig, log *logger.Logger) (*FFmpegSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	input, kind := ResolveInput(cfg.Input)
	return &FFmpegSource{
		logger: log,
		config: cfg,
		input:  input,
		kind:   kind,
		buf:    make([]byte, cfg.Width*cfg.Height*3),
	}, nil
}

// ResolveInput maps a configured source to an ffmpeg input and its kind.
// A bare integer selects the matching V4L2 device.
func ResolveInput(source string) (string, SourceKind) {
	source = strings.TrimSpace(source)
	if idx, err := strconv.Atoi(source); err == nil && idx >= 0 {
		return fmt.Sprintf("/dev/video%d", idx), SourceKindCamera
	}
	if strings.HasPrefix(source, "/dev/") {
		return source, SourceKindCamera
	}
	for _, scheme := range []string{"rtsp://", "rtsps://", "rtmp://", "http://", "https://", "udp://"} {
		if strings.HasPrefix(strings.ToLower(source), scheme) {
			return source, SourceKindCamera
		}
	}
	return source, SourceKindFile
}

// BuildArgs returns the ffmpeg arguments that emit raw RGB24 frames on stdout
func BuildArgs(input string, kind SourceKind, cfg FFmpegConfig) []string {
	// info level prints the input stream line the negotiated rate is read from
	args := []string{"-hide_banner", "-loglevel", "info", "-nostats", "-nostdin"}

	switch {
	case strings.HasPrefix(input, "/dev/"):
		args = append(args, "-f", "v4l2")
		if cfg.FPS > 0 {
			args = append(args, "-framerate", strconv.FormatFloat(cfg.FPS, 'f', -1, 64))
		}
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	case strings.HasPrefix(strings.ToLower(input), "rtsp"):
		args = append(args, "-rtsp_transport", "tcp")
	}
	if kind == SourceKindCamera {
		args = append(args, "-fflags", "nobuffer")
	}

	args = append(args,
		"-i", input,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-",
	)
	return args
}

// Connect starts ffmpeg and reads the first frame. It fails if no frame arrives.
func (s *FFmpegSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		s.releaseLocked()
	}

	if s.kind == SourceKindFile {
		if _, err := os.Stat(s.input); err != nil {
			return fmt.Errorf("video file not accessible: %w", err)
		}
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, s.config.FFmpegPath, BuildArgs(s.input, s.kind, s.config)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stderr := &limitedWriter{n: 8192}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.stdout = bufio.NewReaderSize(stdout, len(s.buf))
	s.stderr = stderr
	s.connected = true
	s.frames = 0

	first, err := s.readLocked()
	if err != nil {
		s.releaseLocked()
		msg := lastLine(stderr.String())
		if msg != "" {
			return fmt.Errorf("no frame from %s: %s: %w", s.input, msg, err)
		}
		return fmt.Errorf("no frame from %s: %w", s.input, err)
	}
	s.pending = first

	// ffmpeg prints the stream header before it emits the first frame.
	fps, ok := ParseStreamFPS(stderr.String())
	if !ok {
		fps = s.config.FPS
	}
	s.fps.Store(math.Float64bits(fps))

	s.logger.Info("Frame source connected",
		"input", s.input,
		"kind", s.kind,
		"width", s.config.Width,
		"height", s.config.Height,
		"fps", fps,
	)
	return nil
}

// ReadFrame returns the next frame. The returned frame's buffer is reused by
// the next call.
func (s *FFmpegSource) ReadFrame() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, ErrNotConnected
	}
	if s.pending != nil {
		frame := s.pending
		s.pending = nil
		return frame, nil
	}
	return s.readLocked()
}

func (s *FFmpegSource) readLocked() (*Frame, error) {
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrSourceClosed
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	s.frames++
	return &Frame{
		Width:     s.config.Width,
		Height:    s.config.Height,
		Channels:  3,
		Pix:       s.buf,
		Timestamp: time.Now(),
	}, nil
}

// Release stops ffmpeg
func (s *FFmpegSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	return nil
}

func (s *FFmpegSource) releaseLocked() {
	if !s.connected {
		return
	}
	s.connected = false
	s.pending = nil
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil {
		// Wait reaps the killed process; its exit status is irrelevant here.
		_ = s.cmd.Wait()
	}
	s.logger.Debug("Frame source released", "input", s.input, "frames", s.frames)
}

// IsConnected reports whether ffmpeg is running
func (s *FFmpegSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Properties returns the negotiated geometry. FPS is the input stream's rate
// once connected, and the configured rate before that.
func (s *FFmpegSource) Properties() Properties {
	fps := s.config.FPS
	if bits := s.fps.Load(); bits != 0 {
		fps = math.Float64frombits(bits)
	}
	return Properties{
		Width:  s.config.Width,
		Height: s.config.Height,
		FPS:    fps,
		Kind:   s.kind,
		Input:  s.input,
	}
}

// Kind returns whether the source is a camera or a file
func (s *FFmpegSource) Kind() SourceKind {
	return s.kind
}

// limitedWriter keeps the first n bytes of ffmpeg diagnostics. It is read
// while ffmpeg is still writing to it.
type limitedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := len(p)
	if l.n <= 0 {
		return total, nil
	}
	if len(p) > l.n {
		p = p[:l.n]
	}
	n, _ := l.buf.Write(p)
	l.n -= n
	return total, nil
}

func (l *limitedWriter) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// ParseStreamFPS reads the frame rate from the first video stream line of
// ffmpeg's diagnostics, preferring fps over tbr.
func ParseStreamFPS(diag string) (float64, bool) {
	for _, line := range strings.Split(diag, "\n") {
		if !strings.Contains(line, "Stream #") || !strings.Contains(line, "Video:") {
			continue
		}
		var tbr float64
		for _, field := range strings.Split(line, ",") {
			v, unit, ok := rateField(field)
			switch {
			case !ok:
			case unit == "fps":
				return v, true
			case unit == "tbr" && tbr == 0:
				tbr = v
			}
		}
		return tbr, tbr > 0
	}
	return 0, false
}

// rateField parses fields such as "25 fps", "29.97 tbr" or "1k tbn"
func rateField(field string) (float64, string, bool) {
	parts := strings.Fields(field)
	if len(parts) < 2 {
		return 0, "", false
	}
	num, unit := parts[0], parts[1]
	mult := 1.0
	if strings.HasSuffix(num, "k") {
		num, mult = strings.TrimSuffix(num, "k"), 1000
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, "", false
	}
	return v * mult, unit, true
}

// lastLine returns the last non-empty line of ffmpeg's diagnostics
func lastLine(diag string) string {
	lines := strings.Split(strings.TrimSpace(diag), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
