package config

import (
	"fmt"
	"strings"
)

var validSeverities = map[string]bool{"low": true, "medium": true, "high": true}

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		errors = append(errors, fmt.Sprintf("video.width and video.height must be > 0, got: %dx%d", c.Video.Width, c.Video.Height))
	}
	if c.Video.TargetFPS < 0 {
		errors = append(errors, fmt.Sprintf("video.target_fps must be >= 0, got: %.2f", c.Video.TargetFPS))
	}

	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detector.confidence_threshold must be between 0 and 1, got: %.2f", c.Detector.ConfidenceThreshold))
	}

	switch c.Analysis.Provider {
	case ProviderRemote:
		if c.Analysis.Server.URL == "" {
			errors = append(errors, "analysis.server.url is required for the remote provider")
		}
	case ProviderGemini:
		if c.Analysis.Gemini.APIKey == "" {
			errors = append(errors, "analysis.gemini.api_key or GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid analysis.provider: %s (must be: remote or gemini)", c.Analysis.Provider))
	}
	if c.Analysis.TaskQueueSize <= 0 {
		errors = append(errors, fmt.Sprintf("analysis.task_queue_size must be > 0, got: %d", c.Analysis.TaskQueueSize))
	}
	if c.Analysis.ImageSize <= 0 {
		errors = append(errors, fmt.Sprintf("analysis.image_size must be > 0, got: %d", c.Analysis.ImageSize))
	}
	if c.Analysis.JPEGQuality < 1 || c.Analysis.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("analysis.jpeg_quality must be between 1 and 100, got: %d", c.Analysis.JPEGQuality))
	}

	if c.Cooldown.Upload < 0 || c.Cooldown.Alert < 0 || c.Cooldown.Display < 0 {
		errors = append(errors, "cooldown durations must be >= 0")
	}

	if c.Evidence.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("evidence.retention_days must be >= 0, got: %d", c.Evidence.RetentionDays))
	}
	if c.Evidence.MaxDiskUsagePercent <= 0 || c.Evidence.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("evidence.max_disk_usage_percent must be between 0 and 100, got: %.1f", c.Evidence.MaxDiskUsagePercent))
	}

	if !validSeverities[c.Notifier.Severity] {
		errors = append(errors, fmt.Sprintf("invalid notifier.severity: %s (must be: low, medium, high)", c.Notifier.Severity))
	}
	for name, sev := range map[string]string{
		"console": c.Notifier.Console.MinSeverity,
		"file":    c.Notifier.File.MinSeverity,
		"email":   c.Notifier.Email.MinSeverity,
		"webhook": c.Notifier.Webhook.MinSeverity,
		"mqtt":    c.Notifier.MQTT.MinSeverity,
	} {
		if !validSeverities[sev] {
			errors = append(errors, fmt.Sprintf("invalid notifier.%s.min_severity: %s", name, sev))
		}
	}
	for sev := range c.Notifier.Templates {
		if !validSeverities[sev] {
			errors = append(errors, fmt.Sprintf("invalid notifier.templates key: %s (must be: low, medium, high)", sev))
		}
	}
	if c.Notifier.Webhook.Enabled && c.Notifier.Webhook.URL == "" {
		errors = append(errors, "notifier.webhook.url is required when the webhook channel is enabled")
	}
	if c.Notifier.MQTT.Enabled && c.Notifier.MQTT.Broker == "" {
		errors = append(errors, "notifier.mqtt.broker is required when the mqtt channel is enabled")
	}
	if c.Notifier.Email.Enabled && (c.Notifier.Email.SMTPServer == "" || c.Notifier.Email.From == "" || len(c.Notifier.Email.To) == 0) {
		errors = append(errors, "notifier.email requires smtp_server, from and at least one recipient")
	}

	if c.Web.Enabled && (c.Web.Port < 1 || c.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
