// Package main provides the janitor that abandons runs nobody advanced for too long.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/journey/pkg/eventbus"
	"github.com/dukex/journey/pkg/events"
	"github.com/robfig/cron/v3"
)

// RunSweeper abandons running runs idle for longer than idleFor.
type RunSweeper interface {
	AbandonStaleRuns(ctx context.Context, idleFor time.Duration, limit int) (int, error)
}

type Janitor struct {
	Schedule string
	IdleFor  time.Duration
	Batch    int
	sweeper  RunSweeper
	cron     *cron.Cron
	logger   *slog.Logger
	failed   atomic.Int64
}

func NewJanitor(sweeper RunSweeper, schedule string, idleFor time.Duration, batch int, logger *slog.Logger) (*Janitor, error) {
	janitor := &Janitor{
		Schedule: schedule,
		IdleFor:  idleFor,
		Batch:    batch,
		sweeper:  sweeper,
		logger: logger.With(
			"module", "janitor",
			"schedule", schedule,
			"idle_for", idleFor.String(),
		),
	}
	if err := janitor.Validate(); err != nil {
		return nil, err
	}

	return janitor, nil
}

func (j *Janitor) Validate() error {
	if j.Schedule == "" {
		return errors.New("janitor schedule is required")
	}

	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	if j.IdleFor <= 0 {
		return errors.New("janitor idle duration must be positive")
	}

	if j.Batch <= 0 {
		return errors.New("janitor batch size must be positive")
	}

	return nil
}

func (j *Janitor) Start(ctx context.Context) error {
	j.logger.InfoContext(ctx, "Starting janitor")

	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := j.cron.AddFunc(j.Schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.ErrorContext(ctx, "Error abandoning stale runs", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for janitor: %w", err)
	}

	j.logger.InfoContext(ctx, "Added cron job for janitor", "id", id)
	j.cron.Start()

	return nil
}

// Sweep abandons stale runs batch by batch until a batch comes back short.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		count, err := j.sweeper.AbandonStaleRuns(ctx, j.IdleFor, j.Batch)
		total += count

		if err != nil {
			return total, err
		}

		if count < j.Batch {
			break
		}
	}

	if total > 0 {
		j.logger.InfoContext(ctx, "Abandoned stale runs", "count", total)
	}

	return total, nil
}

// WatchFailures logs every run that fails or is abandoned anywhere on the bus, with the
// reason the runtime recorded.
func (j *Janitor) WatchFailures(ctx context.Context, subscriber eventbus.EventSubscriber) error {
	for _, eventType := range []events.EventType{events.RunFailedEvent, events.RunAbandonedEvent} {
		if err := subscriber.Handle(eventType, j.runEnded); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	if err := subscriber.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	j.logger.InfoContext(ctx, "Watching run failures")

	return nil
}

func (j *Janitor) runEnded(ctx context.Context, event any) error {
	runEvent, ok := event.(*events.RunEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	if runEvent.Type == events.RunFailedEvent {
		j.failed.Add(1)
	}

	j.logger.WarnContext(ctx, "Run ended without completing",
		"event_type", runEvent.Type,
		"journey_id", runEvent.JourneyID,
		"run_id", runEvent.RunID,
		"step_id", runEvent.StepID,
		"reason", runEvent.Payload["reason"],
	)

	return nil
}

// FailedRuns is the number of run.failed events seen since WatchFailures.
func (j *Janitor) FailedRuns() int64 {
	return j.failed.Load()
}

func (j *Janitor) Stop(ctx context.Context) error {
	j.logger.InfoContext(ctx, "Stopping janitor")

	if j.cron != nil {
		<-j.cron.Stop().Done()
	}

	return nil
}
