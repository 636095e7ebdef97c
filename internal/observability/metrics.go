package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SetupMetrics registers an OpenTelemetry Prometheus exporter as the
// global MeterProvider and starts a background HTTP server exposing
// /metrics on cfg.PrometheusPort. A no-op Shutdown is returned when
// cfg.Enabled is false. The returned Shutdown stops the HTTP server with
// http.Server.Shutdown and then shuts down the MeterProvider.
func SetupMetrics(cfg MetricsConfig) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("build prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()

	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		return provider.Shutdown(ctx)
	}, nil
}
