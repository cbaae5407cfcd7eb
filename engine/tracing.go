package engine

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/waffledb/waffledb/config"
)

// newTracer builds the Tracer an Engine uses for its internal spans.
// With tracing disabled (the default for an embedded, unexported
// database) it is the zero-cost no-op tracer; enabling it swaps in a
// real SDK TracerProvider, sampled at cfg.SampleRate (1.0 when <= 0),
// with no SpanProcessor or exporter registered. Only the provider's
// Tracer and its Shutdown are returned; the provider itself is not.
func newTracer(cfg config.TracingConfig) (trace.Tracer, func() error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer("waffledb/engine"), func() error { return nil }
	}

	ratio := cfg.SampleRate
	if ratio <= 0 {
		ratio = 1.0
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	shutdown := func() error { return provider.Shutdown(context.Background()) }
	return provider.Tracer("waffledb/engine"), shutdown
}
