package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	source := flag.String("source", "", "Override video.source")
	duration := flag.Duration("duration", 10*time.Second, "How long to capture")
	output := flag.String("out", "last_frame.jpg", "Where to save the last frame")
	withDetector := flag.Bool("detect", false, "Run every frame through the detection service")
	flag.Parse()

	fmt.Println("=== Capture Pipeline Test ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *source != "" {
		cfg.Video.Source = *source
	}

	log, err := logger.New(logger.LogConfig{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	src, err := capture.NewFFmpegSource(capture.FFmpegConfig{
		Input:      cfg.Video.Source,
		Width:      cfg.Video.Width,
		Height:     cfg.Video.Height,
		FPS:        cfg.Video.FPS,
		FFmpegPath: cfg.Video.FFmpegPath,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid source: %v\n", err)
		os.Exit(1)
	}

	pipeline := capture.NewPipeline(src, capture.PipelineConfig{
		TargetFPS: cfg.Video.TargetFPS,
		Loop:      cfg.Video.Loop(),
		QueueSize: capture.DefaultQueueSize,
	}, log)

	var detector *detect.Client
	if *withDetector {
		detector = detect.NewClient(detect.ClientConfig{
			ServiceURL:          cfg.Detector.ServiceURL,
			Timeout:             cfg.Detector.Timeout,
			ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
			PersonClass:         cfg.Detector.PersonClass,
		}, log)
		fmt.Printf("Detection service: %s\n", cfg.Detector.ServiceURL)
		if err := detector.HealthCheck(context.Background()); err != nil {
			fmt.Printf("⚠️  Detection service not ready: %v\n", err)
		} else {
			fmt.Println("✅ Detection service is healthy")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Source: %s\n", cfg.Video.Source)
	if err := pipeline.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open source: %v\n", err)
		os.Exit(1)
	}
	props := pipeline.Properties()
	fmt.Printf("✅ Opened %s source %dx%d @ %.1f fps\n", props.Kind, props.Width, props.Height, props.FPS)
	fmt.Printf("Capturing for %s, press Ctrl+C to stop early\n\n", *duration)

	start := time.Now()
	read := 0
	people := 0
	var last *capture.Frame

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-pipeline.Done():
			fmt.Println("Source ended")
			break loop
		default:
		}

		frame, ok := pipeline.ReadFrame()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		read++
		last = frame

		if detector != nil {
			if hasPerson, detections := detector.Detect(ctx, frame); hasPerson {
				people++
				fmt.Printf("[Frame %d] person detected (%d boxes)\n", read, len(detections))
			}
		}
	}

	elapsed := time.Since(start)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := pipeline.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop pipeline: %v\n", err)
	}

	fmt.Println()
	fmt.Printf("Frames read:     %d\n", read)
	fmt.Printf("Frames captured: %d\n", pipeline.Captured())
	fmt.Printf("Frames dropped:  %d\n", pipeline.Dropped())
	if elapsed > 0 {
		fmt.Printf("Effective fps:   %.2f\n", float64(read)/elapsed.Seconds())
	}
	if detector != nil {
		fmt.Printf("Person frames:   %d\n", people)
	}

	if last == nil {
		fmt.Println("No frame captured")
		os.Exit(1)
	}
	data, err := capture.EncodeJPEG(last, 90)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode last frame: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save last frame: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Last frame saved to %s\n", *output)
}
