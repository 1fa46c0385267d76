package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	provider := flag.String("provider", "", "Override analysis.provider (remote|gemini)")
	prompt := flag.String("prompt", "", "Override the analysis prompt")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: test-analysis [flags] <image.jpg|image.png>")
		os.Exit(2)
	}

	fmt.Println("=== Analysis Backend Test ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *provider != "" {
		cfg.Analysis.Provider = *provider
	}
	if *prompt != "" {
		cfg.Analysis.Prompt = *prompt
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

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open image: %v\n", err)
		os.Exit(1)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode image: %v\n", err)
		os.Exit(1)
	}
	frame := capture.FrameFromImage(img)

	dispatcher, err := analysis.NewFromConfig(cfg.Analysis, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create backend: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backend: %s\n", dispatcher.Backend())
	fmt.Printf("Image:   %s (%dx%d)\n\n", flag.Arg(0), frame.Width, frame.Height)

	results := make(chan analysis.Result, 1)
	dispatcher.SetCallback(func(r analysis.Result) {
		select {
		case results <- r:
		default:
		}
	})

	ctx := context.Background()
	if err := dispatcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start dispatcher: %v\n", err)
		os.Exit(1)
	}
	defer dispatcher.Stop(ctx)

	dispatcher.Submit(frame, cfg.Analysis.Prompt)

	timeout := cfg.Analysis.Timeout + 5*time.Second
	select {
	case r := <-results:
		printResult(r)
	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "No result after %s\n", timeout)
		os.Exit(1)
	}
}

func printResult(r analysis.Result) {
	if r.Failed {
		fmt.Println("❌ Analysis failed, safe default returned")
	} else if r.IsDanger {
		fmt.Println("🚨 DANGER")
	} else {
		fmt.Println("✅ Safe")
	}
	fmt.Printf("  alert type: %s\n", r.AlertType)
	fmt.Printf("  message:    %s\n", r.AlertMessage)
	fmt.Printf("  reasoning:  %s\n", r.Reasoning)
	fmt.Printf("  confidence: %.2f\n", r.Confidence)
	fmt.Printf("  latency:    %s\n", r.Latency().Round(time.Millisecond))
	fmt.Println()
	fmt.Println("Raw response:")
	fmt.Println(r.RawResponse)
}
