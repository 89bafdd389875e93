package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_RecordsAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "journey.publish", attribute.String(JourneyIDKey, "morning"))
	SetError(span, errors.New("boom"), attribute.String(ActorKey, "editor"))
	span.End()

	spans := recorder.Ended()
	assert.Len(t, spans, 1)
	assert.Equal(t, "journey.publish", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(JourneyIDKey, "morning"))

	events := spans[0].Events()
	assert.Len(t, events, 1)
	assert.Equal(t, "exception", events[0].Name)
	assert.Contains(t, events[0].Attributes, attribute.String(ActorKey, "editor"))
}

func TestNewNoopTracer(t *testing.T) {
	_, span := StartSpan(context.Background(), NewNoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}
