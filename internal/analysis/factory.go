package analysis

import (
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// NewBackend selects the backend named by analysis.provider
func NewBackend(cfg config.AnalysisConfig, log *logger.Logger) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderRemote, "":
		return NewRemoteBackend(cfg.Server.URL, cfg.Timeout, log), nil
	case config.ProviderGemini:
		return NewGeminiBackend(GeminiConfig{
			APIKey:   cfg.Gemini.APIKey,
			Model:    cfg.Gemini.Model,
			Endpoint: cfg.Gemini.Endpoint,
			Timeout:  cfg.Timeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown analysis provider: %s", cfg.Provider)
	}
}

// NewFromConfig builds a dispatcher around the configured backend
func NewFromConfig(cfg config.AnalysisConfig, log *logger.Logger) (*Dispatcher, error) {
	backend, err := NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	return NewDispatcher(backend, DispatcherConfig{
		TaskQueueSize: cfg.TaskQueueSize,
		CallTimeout:   cfg.Timeout,
		Encoder:       LetterboxJPEG(cfg.ImageSize, cfg.JPEGQuality),
	}, log), nil
}
