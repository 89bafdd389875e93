package cmd

import (
	"context"
	"fmt"

	"github.com/dukex/journey/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer exports spans over OTLP when enabled and returns a no-op tracer otherwise.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, enabled bool, name string) (trace.Tracer, otelhelper.ShutdownFunc) {
	if !enabled {
		return otelhelper.NewNoopTracer(), func(context.Context) error { return nil }
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, name)
	if err != nil {
		panic(fmt.Errorf("failed to initialize tracer: %w", err))
	}

	return tracer, shutdown
}
