package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/journey/pkg/cache"
	"github.com/dukex/journey/pkg/eventbus"
	"github.com/dukex/journey/pkg/metrics"
	"github.com/dukex/journey/pkg/otelhelper"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Options carries the collaborators shared by the services. Nil fields fall back to
// implementations that do nothing observable.
type Options struct {
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Metrics      *metrics.Metrics
	EventBus     eventbus.EventPublisher
	Cache        cache.DefinitionCache
	Participants ParticipantContextProvider
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Tracer == nil {
		o.Tracer = otelhelper.NewNoopTracer()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.New(prometheus.NewRegistry())
	}

	if o.Cache == nil {
		o.Cache = cache.NewMemoryCache()
	}

	if o.Participants == nil {
		o.Participants = NoParticipantContext{}
	}

	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}

	return o
}

// publish sends a notification after the mutation committed. Delivery failures are
// logged and never undo the mutation.
func (o Options) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.EventBus == nil {
		return
	}

	if err := o.EventBus.Publish(ctx, key, event); err != nil {
		o.Logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}

func requireActor(op, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return NewValidationError(op, "ACTOR_REQUIRED", "actor is required", ErrActorRequired)
	}

	return nil
}
