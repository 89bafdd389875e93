package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/journey/pkg/channels/gochannel"
	"github.com/dukex/journey/pkg/eventbus"
	"github.com/dukex/journey/pkg/events"
	"github.com/dukex/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_DeliversJourneyEvents(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.JourneyPublished, 1)

	require.NoError(t, bus.Handle(events.JourneyPublishedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.JourneyPublished)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "morning", events.JourneyPublished{
		BaseEvent:   events.NewBaseEvent(events.JourneyPublishedEvent, "morning"),
		Version:     4,
		PublishedBy: "editor",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, 4, event.Version)
		assert.Equal(t, "morning", event.JourneyID)
	case <-time.After(2 * time.Second):
		t.Fatal("journey.published was not delivered")
	}
}

func TestWatermillEventBus_DecodesEmittedTypesAsRunEvents(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.RunEvent, 1)

	require.NoError(t, bus.Handle("practice.finished", func(_ context.Context, event any) error {
		received <- event.(*events.RunEvent)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "run-1", events.NewRunEvent(&models.Event{
		ID: "evt-1", RunID: "run-1", JourneyID: "morning", Seq: 2, Type: "practice.finished",
		Payload: map[string]any{"minutes": float64(5)}, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, 2, event.Seq)
		assert.Equal(t, float64(5), event.Payload["minutes"])
	case <-time.After(2 * time.Second):
		t.Fatal("emitted event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
