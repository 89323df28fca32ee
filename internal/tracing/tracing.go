// Package tracing initializes OpenTelemetry distributed tracing,
// activating config.TracingConfig's previously-unused fields.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"github.com/minisource/orchestrator/config"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// noopShutdown is returned when tracing is disabled or init fails, so
// callers can defer it unconditionally.
func noopShutdown(context.Context) error { return nil }

// Init configures the global tracer provider from cfg. When cfg.Enabled
// is false, tracing is a no-op and Init returns a no-op shutdown.
func Init(ctx context.Context, cfg config.TracingConfig, log *zap.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noopShutdown, fmt.Errorf("init otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("merge otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized", zap.String("endpoint", cfg.Endpoint), zap.Float64("sample_rate", cfg.SampleRate))
	return tp.Shutdown, nil
}
