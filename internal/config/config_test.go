package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := writeConfig(t, "video:\n  source: ./clip.mp4\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "./clip.mp4", cfg.Video.Source)
	assert.Equal(t, 640, cfg.Video.Width)
	assert.Equal(t, 480, cfg.Video.Height)
	assert.True(t, cfg.Video.Loop(), "loop_video defaults to true")
	assert.Equal(t, ProviderRemote, cfg.Analysis.Provider)
	assert.Equal(t, "http://localhost:8000/chat", cfg.Analysis.Server.URL)
	assert.Equal(t, 640, cfg.Analysis.ImageSize)
	assert.Equal(t, 80, cfg.Analysis.JPEGQuality)
	assert.Equal(t, DefaultPrompt, cfg.Analysis.Prompt)
	assert.Equal(t, 5*time.Second, cfg.Cooldown.Upload)
	assert.Equal(t, 2*time.Second, cfg.Cooldown.Alert)
	assert.Equal(t, 5*time.Second, cfg.Cooldown.Display)
	assert.True(t, cfg.Evidence.Save())
	assert.True(t, cfg.Notifier.Active())
	assert.Equal(t, filepath.Join("data", "alerts"), filepath.Clean(cfg.Evidence.Dir))

	require.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
video:
  source: "1"
  loop_video: false
  target_fps: 15
analysis:
  provider: gemini
  gemini:
    api_key: secret
cooldown:
  upload: 10s
  alert: 1500ms
evidence:
  enabled: false
notifier:
  webhook:
    enabled: true
    url: http://hooks.local/alert
    min_severity: high
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Video.Loop())
	assert.Equal(t, 15.0, cfg.Video.TargetFPS)
	assert.Equal(t, ProviderGemini, cfg.Analysis.Provider)
	assert.Equal(t, "secret", cfg.Analysis.Gemini.APIKey)
	assert.Equal(t, 10*time.Second, cfg.Cooldown.Upload)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cooldown.Alert)
	assert.False(t, cfg.Evidence.Save())
	assert.True(t, cfg.Notifier.Webhook.Enabled)
	assert.Equal(t, "high", cfg.Notifier.Webhook.MinSeverity)
	assert.Equal(t, "POST", cfg.Notifier.Webhook.Method)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_VIDEO_SOURCE", "rtsp://cam.local/stream")
	t.Setenv("SENTINEL_SERVER_URL", "http://arbiter:9000/chat")

	cfg, err := Load(writeConfig(t, "video:\n  source: ./ignored.mp4\n"))
	require.NoError(t, err)

	assert.Equal(t, "rtsp://cam.local/stream", cfg.Video.Source)
	assert.Equal(t, "http://arbiter:9000/chat", cfg.Analysis.Server.URL)
}

func TestValidate_GeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Parse([]byte("analysis:\n  provider: gemini\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: chatty
analysis:
  provider: carrier-pigeon
  jpeg_quality: 101
notifier:
  severity: critical
  mqtt:
    enabled: true
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"log.level", "analysis.provider", "jpeg_quality", "notifier.severity", "mqtt.broker"} {
		assert.True(t, strings.Contains(msg, want), "expected %q in %q", want, msg)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	t.Setenv("SENTINEL_VIDEO_SOURCE", "")
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0", cfg.Video.Source)
	assert.Equal(t, ProviderRemote, cfg.Analysis.Provider)
	assert.Equal(t, "@hourly", cfg.Evidence.CleanupSchedule)
	assert.Equal(t, "tcp://localhost:1883", cfg.Notifier.MQTT.Broker)
	assert.False(t, cfg.Notifier.MQTT.Enabled)
	assert.Equal(t, 8090, cfg.Web.Port)
	require.NoError(t, cfg.Validate())
}
