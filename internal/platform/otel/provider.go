// Package otel wires OpenTelemetry tracing for mindtrain commands.
package otel

import (
	"context"
	"fmt"

	"github.com/louisbranch/mindtrain/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds the tracing settings read from the environment.
type Config struct {
	Enabled     bool    `env:"MINDTRAIN_OTEL_ENABLED" envDefault:"true"`
	Endpoint    string  `env:"MINDTRAIN_OTEL_ENDPOINT"`
	SampleRatio float64 `env:"MINDTRAIN_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Validate rejects sample ratios outside [0,1].
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("otel sample ratio %v outside [0,1]", c.SampleRatio)
	}
	return nil
}

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when MINDTRAIN_OTEL_ENDPOINT is empty or
// MINDTRAIN_OTEL_ENABLED is "false", Setup returns a no-op shutdown
// function and no global provider is registered.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return noop, err
	}
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
