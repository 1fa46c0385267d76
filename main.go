package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/analysis"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/monitor"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/notify"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	var source string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&source, "source", "", "Override video.source (camera index, device, URL or file)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if source != "" {
		cfg.Video.Source = source
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Sentinel",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"source", cfg.Video.Source,
		"provider", cfg.Analysis.Provider,
	)

	if err := run(cfg, log); err != nil {
		log.Error("Sentinel stopped with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)

	// Capture
	src, err := capture.NewFFmpegSource(capture.FFmpegConfig{
		Input:      cfg.Video.Source,
		Width:      cfg.Video.Width,
		Height:     cfg.Video.Height,
		FPS:        cfg.Video.FPS,
		FFmpegPath: cfg.Video.FFmpegPath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create frame source: %w", err)
	}
	pipeline := capture.NewPipeline(src, capture.PipelineConfig{
		TargetFPS: cfg.Video.TargetFPS,
		Loop:      cfg.Video.Loop(),
		QueueSize: capture.DefaultQueueSize,
	}, log)

	// Detection and analysis
	detector := detect.NewClient(detect.ClientConfig{
		ServiceURL:          cfg.Detector.ServiceURL,
		Timeout:             cfg.Detector.Timeout,
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		PersonClass:         cfg.Detector.PersonClass,
		JPEGQuality:         cfg.Analysis.JPEGQuality,
	}, log)
	dispatcher, err := analysis.NewFromConfig(cfg.Analysis, log)
	if err != nil {
		return fmt.Errorf("failed to create analysis backend: %w", err)
	}

	// Alerts
	notifier, err := notify.New(cfg.Notifier, log)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	defer notifier.Close()
	log.Info("Notifier ready", "channels", notifier.ChannelNames())

	var evidence alert.EvidenceSaver
	if cfg.Evidence.Save() {
		writer, err := alert.NewEvidenceWriter(cfg.Evidence.Dir, cfg.Evidence.Quality, log)
		if err != nil {
			return err
		}
		evidence = writer
	}

	coordinator := alert.NewCoordinator(alert.Config{
		UploadCooldown:  cfg.Cooldown.Upload,
		AlertCooldown:   cfg.Cooldown.Alert,
		DisplayDuration: cfg.Cooldown.Display,
		RuleName:        cfg.Notifier.RuleName,
		Location:        cfg.Notifier.Location,
		Severity:        alert.Severity(cfg.Notifier.Severity),
	}, notifier, evidence, log)

	// Persistence
	store, err := storage.NewAlertStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	retention, err := storage.NewRetention(storage.RetentionConfig{
		Dir:                 cfg.Evidence.Dir,
		RetentionDays:       cfg.Evidence.RetentionDays,
		MaxDiskUsagePercent: cfg.Evidence.MaxDiskUsagePercent,
		Schedule:            cfg.Evidence.CleanupSchedule,
	}, store, log)
	if err != nil {
		return err
	}

	// Metrics
	met := metrics.New()
	met.MustRegister(metrics.NewCollector(pipeline, dispatcher, retention.DiskMonitor()))

	mon, err := monitor.New(monitor.Config{
		Prompt:   cfg.Analysis.Prompt,
		Annotate: true,
	}, monitor.Deps{
		Source:      pipeline,
		Detector:    detector,
		Analyzer:    dispatcher,
		Coordinator: coordinator,
		Metrics:     met,
		Recorder:    store,
	}, log)
	if err != nil {
		return err
	}

	// Health and status API
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewCaptureChecker(pipeline))
	healthMgr.RegisterChecker(health.NewDetectorChecker(detector, cfg.Detector.ServiceURL))
	healthMgr.RegisterChecker(health.NewAnalysisChecker(dispatcher, cfg.Analysis.Provider))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(store))
	healthMgr.RegisterChecker(health.NewEvidenceChecker(cfg.Evidence.Dir, retention.DiskMonitor()))

	server := web.NewServer(&cfg.Web, log)
	server.SetVersion(version)
	server.SetMonitor(mon)
	server.SetAlertHistory(store)
	server.SetHealth(healthMgr)
	server.SetMetricsHandler(met.Handler())
	server.SetEvidence(cfg.Evidence.Dir, cfg.Evidence.Quality)

	// Started in registration order, stopped in reverse.
	svcMgr.Register(dispatcher)
	svcMgr.Register(retention)
	svcMgr.Register(pipeline)
	svcMgr.Register(mon)
	svcMgr.Register(server)

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case <-mon.Done():
		log.Info("Monitoring session ended")
	}

	s := mon.Status()
	log.Info("Session summary",
		"frames", s.Frames,
		"person_frames", s.PersonFrames,
		"analyses", s.AnalysisCount,
		"alerts", s.AlertCount,
	)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
