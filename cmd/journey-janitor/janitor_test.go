package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/journey/pkg/cmd"
	"github.com/dukex/journey/pkg/events"
	"github.com/dukex/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	batches []int
	err     error
	calls   int
}

func (f *fakeSweeper) AbandonStaleRuns(_ context.Context, _ time.Duration, _ int) (int, error) {
	if f.calls >= len(f.batches) {
		return 0, f.err
	}

	count := f.batches[f.calls]
	f.calls++

	return count, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewJanitor_Validation(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		idleFor  time.Duration
		batch    int
		wantErr  string
	}{
		{name: "valid", schedule: "*/5 * * * *", idleFor: time.Hour, batch: 10},
		{name: "missing schedule", idleFor: time.Hour, batch: 10, wantErr: "schedule is required"},
		{name: "bad schedule", schedule: "every day", idleFor: time.Hour, batch: 10, wantErr: "invalid cron expression"},
		{name: "zero idle", schedule: "@hourly", batch: 10, wantErr: "idle duration"},
		{name: "zero batch", schedule: "@hourly", idleFor: time.Hour, wantErr: "batch size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			janitor, err := NewJanitor(&fakeSweeper{}, tt.schedule, tt.idleFor, tt.batch, discardLogger())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, janitor)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.schedule, janitor.Schedule)
		})
	}
}

func TestJanitor_SweepDrainsFullBatches(t *testing.T) {
	sweeper := &fakeSweeper{batches: []int{5, 5, 2}}

	janitor, err := NewJanitor(sweeper, "@hourly", time.Hour, 5, discardLogger())
	require.NoError(t, err)

	total, err := janitor.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, total)
	assert.Equal(t, 3, sweeper.calls)
}

func TestJanitor_SweepStopsOnError(t *testing.T) {
	sweeper := &fakeSweeper{batches: []int{5}, err: errors.New("store unavailable")}

	janitor, err := NewJanitor(sweeper, "@hourly", time.Hour, 5, discardLogger())
	require.NoError(t, err)

	total, err := janitor.Sweep(context.Background())
	require.Error(t, err)

	assert.Equal(t, 5, total)
}

func TestJanitor_StartAndStop(t *testing.T) {
	janitor, err := NewJanitor(&fakeSweeper{}, "@hourly", time.Hour, 5, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, janitor.Start(ctx))
	assert.Len(t, janitor.cron.Entries(), 1)
	require.NoError(t, janitor.Stop(ctx))
}

func TestJanitor_WatchFailures(t *testing.T) {
	bus := cmd.NewEventBus("gochannel", "", discardLogger())
	t.Cleanup(func() {
		_ = bus.Close()
	})

	janitor, err := NewJanitor(&fakeSweeper{}, "@hourly", time.Hour, 5, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, janitor.WatchFailures(ctx, bus))

	publish := func(eventType string) {
		err := bus.Publish(ctx, "run-1", events.NewRunEvent(&models.Event{
			ID: "evt-" + eventType, RunID: "run-1", JourneyID: "morning", StepID: "a", Type: eventType,
			Payload: map[string]any{"reason": "no matching transition"}, CreatedAt: time.Now().UTC(),
		}))
		require.NoError(t, err)
	}

	publish(models.EventRunFailed)
	publish(models.EventRunAbandoned)
	publish(models.EventStepCompleted)
	publish(models.EventRunFailed)

	assert.Eventually(t, func() bool {
		return janitor.FailedRuns() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
