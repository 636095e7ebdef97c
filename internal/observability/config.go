// Package observability wires optional tracing and metrics exporters
// around the Piece Engine and Task Supervisor. Nothing here is required
// for takt to run: SetupTracing and SetupMetrics are no-ops when
// Tracing.Enabled/Metrics.Enabled are false. DefaultConfig() leaves tracing
// disabled and enables metrics on :9090. Config
// shape is grounded on the teacher's internal/observability package.
package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoggingConfig selects the slog handler level/format; takt's own logger
// construction lives in internal/taktlog, this only records the preference
// for whichever CLI entry point wants to read it back.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// TracingConfig selects and configures an OpenTelemetry span exporter.
// Exporter is one of "jaeger", "otlp", "zipkin", or "none".
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	JaegerEndpoint string  `yaml:"jaeger_endpoint,omitempty"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint,omitempty"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint,omitempty"`
	SampleRate     float64 `yaml:"sample_rate"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version,omitempty"`
}

// Config is the top-level observability configuration, read from an
// "observability:" key so it can share a config.yaml with taktconfig.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type fileShape struct {
	Observability Config `yaml:"observability"`
}

// DefaultConfig returns the conservative, fully-local default: JSON
// logging at info level, Prometheus metrics on :9090, tracing disabled.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, PrometheusPort: 9090},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "jaeger",
			SampleRate:  1.0,
			ServiceName: "takt",
		},
	}
}

// LoadConfig reads path and merges it over DefaultConfig(); a missing file
// is not an error and yields the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read observability config %s: %w", path, err)
	}

	var shape fileShape
	shape.Observability = cfg
	if err := yaml.Unmarshal(raw, &shape); err != nil {
		return Config{}, fmt.Errorf("parse observability config %s: %w", path, err)
	}
	return shape.Observability, nil
}

// SaveConfig writes cfg to path, creating parent directories as needed.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create observability config dir: %w", err)
	}
	raw, err := yaml.Marshal(fileShape{Observability: cfg})
	if err != nil {
		return fmt.Errorf("marshal observability config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write observability config %s: %w", path, err)
	}
	return nil
}
