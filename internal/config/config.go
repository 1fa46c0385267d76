package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names for the analysis backend
const (
	ProviderRemote = "remote"
	ProviderGemini = "gemini"
)

// DefaultPrompt is sent with every escalated frame unless analysis.prompt is set.
const DefaultPrompt = `You are a professional security monitoring analyst. The local detector reported that a person (PERSON_DETECTED) is visible in this frame.

Carefully analyse the posture and behaviour of every person and decide whether a real dangerous situation is happening.

SAFE examples: yoga or stretching, sleeping or resting, deliberately lying or sitting down, ordinary activity.
DANGER examples: losing balance or suddenly falling, visible pain or inability to move, abnormal posture suggesting injury, behaviour indicating an emergency.

Reply with strict JSON only:
{
    "is_danger": true/false,
    "alert_type": "FALL | VIOLENCE | PERSON_DETECTED | NONE",
    "alert_message": "short human readable alert",
    "reasoning": "why the scene is safe or dangerous",
    "confidence": a float between 0.0 and 1.0
}`

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log,omitempty"`
	Video    VideoConfig    `yaml:"video"`
	Detector DetectorConfig `yaml:"detector"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Cooldown CooldownConfig `yaml:"cooldown"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Notifier NotifierConfig `yaml:"notifier"`
	Storage  StorageConfig  `yaml:"storage"`
	Web      WebConfig      `yaml:"web"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// VideoConfig describes the frame source and capture pacing
type VideoConfig struct {
	Source     string  `yaml:"source"` // camera index, device path, stream URL or file path
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	FPS        float64 `yaml:"fps"`
	LoopVideo  *bool   `yaml:"loop_video"`
	TargetFPS  float64 `yaml:"target_fps"` // file playback pacing, 0 = as fast as possible
	FFmpegPath string  `yaml:"ffmpeg_path"`
}

// Loop reports whether file sources restart from the beginning when they end
func (v VideoConfig) Loop() bool {
	return v.LoopVideo == nil || *v.LoopVideo
}

// DetectorConfig contains person detection service configuration
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	PersonClass         string        `yaml:"person_class"`
}

// AnalysisConfig contains reasoning backend configuration
type AnalysisConfig struct {
	Provider      string        `yaml:"provider"`
	TaskQueueSize int           `yaml:"task_queue_size"`
	ImageSize     int           `yaml:"image_size"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	Timeout       time.Duration `yaml:"timeout"`
	Prompt        string        `yaml:"prompt"`
	Server        ServerConfig  `yaml:"server"`
	Gemini        GeminiConfig  `yaml:"gemini"`
}

// ServerConfig points at the remote arbitration service
type ServerConfig struct {
	URL string `yaml:"url"`
}

// GeminiConfig contains generative vision API settings
type GeminiConfig struct {
	APIKey   string `yaml:"api_key"` // never logged
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// CooldownConfig contains the escalation and alert timers
type CooldownConfig struct {
	Upload  time.Duration `yaml:"upload"`
	Alert   time.Duration `yaml:"alert"`
	Display time.Duration `yaml:"display"`
}

// EvidenceConfig controls persisted alert images
type EvidenceConfig struct {
	Enabled             *bool   `yaml:"enabled"`
	Dir                 string  `yaml:"dir"`
	Quality             int     `yaml:"quality"`
	RetentionDays       int     `yaml:"retention_days"`
	CleanupSchedule     string  `yaml:"cleanup_schedule"`
	MaxDiskUsagePercent float64 `yaml:"max_disk_usage_percent"`
}

// Save reports whether evidence images are written
func (e EvidenceConfig) Save() bool {
	return e.Enabled == nil || *e.Enabled
}

// NotifierConfig contains alert delivery configuration
type NotifierConfig struct {
	Enabled   *bool                    `yaml:"enabled"`
	RuleName  string                   `yaml:"rule_name"`
	Location  string                   `yaml:"location"`
	Severity  string                   `yaml:"severity"`
	Console   ChannelConfig            `yaml:"console"`
	File      FileChannel              `yaml:"file"`
	Email     EmailChannel             `yaml:"email"`
	Webhook   WebhookChannel           `yaml:"webhook"`
	MQTT      MQTTChannel              `yaml:"mqtt"`
	Templates map[string]AlertTemplate `yaml:"templates"` // keyed by severity
}

// AlertTemplate overrides the subject and body of one severity. Both are
// text/template strings over the alert record.
type AlertTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Active reports whether alerts are delivered at all
func (n NotifierConfig) Active() bool {
	return n.Enabled == nil || *n.Enabled
}

// ChannelConfig is shared by every delivery channel
type ChannelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity"`
}

// FileChannel appends alerts to a log file
type FileChannel struct {
	ChannelConfig `yaml:",inline"`
	Path          string `yaml:"path"`
}

// EmailChannel sends alerts over SMTP
type EmailChannel struct {
	ChannelConfig `yaml:",inline"`
	SMTPServer    string   `yaml:"smtp_server"`
	SMTPPort      int      `yaml:"smtp_port"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	From          string   `yaml:"from"`
	To            []string `yaml:"to"`
	UseTLS        bool     `yaml:"use_tls"`
}

// WebhookChannel posts alerts to an HTTP endpoint
type WebhookChannel struct {
	ChannelConfig `yaml:",inline"`
	URL           string            `yaml:"url"`
	Method        string            `yaml:"method"`
	Headers       map[string]string `yaml:"headers"`
	Timeout       time.Duration     `yaml:"timeout"`
}

// MQTTChannel publishes alerts to a broker topic
type MQTTChannel struct {
	ChannelConfig `yaml:",inline"`
	Broker        string `yaml:"broker"`
	Topic         string `yaml:"topic"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
}

// StorageConfig contains local persistence configuration
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
}

// WebConfig contains status server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// A local .env never overrides variables already set in the environment.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults and env overrides
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/sentinel/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Video.Source == "" {
		c.Video.Source = "0"
	}
	if c.Video.Width == 0 {
		c.Video.Width = 640
	}
	if c.Video.Height == 0 {
		c.Video.Height = 480
	}
	if c.Video.FPS == 0 {
		c.Video.FPS = 30
	}
	if c.Video.FFmpegPath == "" {
		c.Video.FFmpegPath = "ffmpeg"
	}

	if c.Detector.ServiceURL == "" {
		c.Detector.ServiceURL = "http://localhost:8080"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 5 * time.Second
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.25
	}
	if c.Detector.PersonClass == "" {
		c.Detector.PersonClass = "person"
	}

	if c.Analysis.Provider == "" {
		c.Analysis.Provider = ProviderRemote
	}
	if c.Analysis.TaskQueueSize == 0 {
		c.Analysis.TaskQueueSize = 8
	}
	if c.Analysis.ImageSize == 0 {
		c.Analysis.ImageSize = 640
	}
	if c.Analysis.JPEGQuality == 0 {
		c.Analysis.JPEGQuality = 80
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = 30 * time.Second
	}
	if c.Analysis.Prompt == "" {
		c.Analysis.Prompt = DefaultPrompt
	}
	if c.Analysis.Server.URL == "" {
		c.Analysis.Server.URL = "http://localhost:8000/chat"
	}
	if c.Analysis.Gemini.APIKey == "" {
		c.Analysis.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Analysis.Gemini.Model == "" {
		c.Analysis.Gemini.Model = "gemini-2.0-flash-exp"
	}
	if c.Analysis.Gemini.Endpoint == "" {
		c.Analysis.Gemini.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}

	if c.Cooldown.Upload == 0 {
		c.Cooldown.Upload = 5 * time.Second
	}
	if c.Cooldown.Alert == 0 {
		c.Cooldown.Alert = 2 * time.Second
	}
	if c.Cooldown.Display == 0 {
		c.Cooldown.Display = 5 * time.Second
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.DataDir, "db", "sentinel.db")
	}

	if c.Evidence.Dir == "" {
		c.Evidence.Dir = filepath.Join(c.Storage.DataDir, "alerts")
	}
	if c.Evidence.Quality == 0 {
		c.Evidence.Quality = 90
	}
	if c.Evidence.RetentionDays == 0 {
		c.Evidence.RetentionDays = 7
	}
	if c.Evidence.CleanupSchedule == "" {
		c.Evidence.CleanupSchedule = "@hourly"
	}
	if c.Evidence.MaxDiskUsagePercent == 0 {
		c.Evidence.MaxDiskUsagePercent = 80
	}

	if c.Notifier.RuleName == "" {
		c.Notifier.RuleName = "Dangerous activity detection"
	}
	if c.Notifier.Location == "" {
		c.Notifier.Location = "Monitoring camera"
	}
	if c.Notifier.Severity == "" {
		c.Notifier.Severity = "high"
	}
	if c.Notifier.Console.MinSeverity == "" {
		c.Notifier.Console.MinSeverity = "low"
	}
	if c.Notifier.File.MinSeverity == "" {
		c.Notifier.File.MinSeverity = "low"
	}
	if c.Notifier.File.Path == "" {
		c.Notifier.File.Path = filepath.Join(c.Evidence.Dir, "alerts_log.txt")
	}
	if c.Notifier.Email.MinSeverity == "" {
		c.Notifier.Email.MinSeverity = "medium"
	}
	if c.Notifier.Email.SMTPPort == 0 {
		c.Notifier.Email.SMTPPort = 587
	}
	if c.Notifier.Webhook.MinSeverity == "" {
		c.Notifier.Webhook.MinSeverity = "medium"
	}
	if c.Notifier.Webhook.Method == "" {
		c.Notifier.Webhook.Method = "POST"
	}
	if c.Notifier.Webhook.Timeout == 0 {
		c.Notifier.Webhook.Timeout = 10 * time.Second
	}
	if c.Notifier.MQTT.MinSeverity == "" {
		c.Notifier.MQTT.MinSeverity = "medium"
	}
	if c.Notifier.MQTT.Topic == "" {
		c.Notifier.MQTT.Topic = "sentinel/alerts"
	}
	if c.Notifier.MQTT.ClientID == "" {
		c.Notifier.MQTT.ClientID = "sentinel-edge"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SENTINEL_VIDEO_SOURCE"); val != "" {
		cfg.Video.Source = val
	}
	if val := os.Getenv("SENTINEL_LLM_PROVIDER"); val != "" {
		cfg.Analysis.Provider = val
	}
	if val := os.Getenv("SENTINEL_SERVER_URL"); val != "" {
		cfg.Analysis.Server.URL = val
	}
	if val := os.Getenv("SENTINEL_DETECTOR_URL"); val != "" {
		cfg.Detector.ServiceURL = val
	}
	if val := os.Getenv("SENTINEL_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
}
