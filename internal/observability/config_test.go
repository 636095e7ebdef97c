package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, 9090, config.Metrics.PrometheusPort)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "jaeger", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestLoadConfigNonExistentReturnsDefaults(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
observability:
  logging:
    level: debug
    format: text
  metrics:
    enabled: true
    prometheus_port: 8080
  tracing:
    enabled: true
    exporter: otlp
    sample_rate: 0.5
    service_name: takt-test
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, 8080, config.Metrics.PrometheusPort)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)
	assert.Equal(t, "takt-test", config.Tracing.ServiceName)
}

func TestLoadConfigPartialFileMergesWithDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
observability:
  logging:
    level: warn
  metrics:
    enabled: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, 9090, config.Metrics.PrometheusPort)
}

func TestSaveConfigRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	config := Config{
		Logging: LoggingConfig{Level: "debug", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, PrometheusPort: 8080},
		Tracing: TracingConfig{
			Enabled:        true,
			Exporter:       "jaeger",
			JaegerEndpoint: "http://localhost:14268/api/traces",
			SampleRate:     0.8,
			ServiceName:    "takt",
			ServiceVersion: "1.0.0",
		},
	}

	require.NoError(t, SaveConfig(config, configPath))
	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Logging.Level, loaded.Logging.Level)
	assert.Equal(t, config.Metrics.PrometheusPort, loaded.Metrics.PrometheusPort)
	assert.Equal(t, config.Tracing.SampleRate, loaded.Tracing.SampleRate)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0o644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestSaveConfigCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	require.NoError(t, SaveConfig(DefaultConfig(), configPath))
	_, err := os.Stat(filepath.Dir(configPath))
	require.NoError(t, err)
	_, err = os.Stat(configPath)
	require.NoError(t, err)
}
