// Package persistence provides the data storage abstraction layer for journeys, their versions and runs.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/journey/pkg/models"
)

type Persistence interface {
	Journeys() JourneyRepository
	Runs() RunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JourneyRepository stores journeys, their single draft, their published versions and the audit log.
// Every mutating method appends its audit entry in the same atomic unit as the mutation: if the audit
// write fails nothing is persisted.
type JourneyRepository interface {
	// CreateJourney stores a new journey. Returns ErrJourneyAlreadyExists for a duplicate id.
	CreateJourney(ctx context.Context, journey *models.Journey, entry *models.AuditLogEntry) error
	GetJourney(ctx context.Context, journeyID string) (*models.Journey, error)
	ListJourneys(ctx context.Context) ([]*models.Journey, error)

	GetDraft(ctx context.Context, journeyID string) (*models.Draft, error)
	// CreateDraft stores the first draft of a journey. Returns ErrDraftAlreadyExists if one is open.
	CreateDraft(ctx context.Context, draft *models.Draft, entry *models.AuditLogEntry) error
	// SaveDraft overwrites the open draft in place, keeping its draft id.
	SaveDraft(ctx context.Context, draft *models.Draft, entry *models.AuditLogEntry) error

	// Publish allocates the next version number, stores the snapshot, advances the journey pointer and
	// appends the audit entry atomically. The allocated version is written into version and into the
	// entry details. Returns ErrJourneyInconsistent when the pointer and the stored versions disagree.
	Publish(ctx context.Context, version *models.PublishedVersion, entry *models.AuditLogEntry) error
	GetVersion(ctx context.Context, journeyID string, version int) (*models.PublishedVersion, error)
	// ListVersions returns the published versions of a journey in ascending order.
	ListVersions(ctx context.Context, journeyID string) ([]*models.PublishedVersion, error)

	SetStatus(ctx context.Context, journeyID string, status models.JourneyStatus, entry *models.AuditLogEntry) error
	// Reconcile moves the pointer to the highest stored version and clears the inconsistent flag.
	Reconcile(ctx context.Context, journeyID string, entry *models.AuditLogEntry) (*models.Journey, error)

	// AppendAudit records an entry that has no accompanying mutation, such as a validation.
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	ListAudit(ctx context.Context, opts ListAuditOptions) ([]*models.AuditLogEntry, error)
}

// ListAuditOptions pages the audit log newest first. Entries created at or after Before are skipped.
type ListAuditOptions struct {
	JourneyID string
	Limit     int
	Before    time.Time
}

// RunRepository stores runs together with their step results and events.
type RunRepository interface {
	// CreateRun stores a new run with the events emitted while starting it.
	CreateRun(ctx context.Context, run *models.Run, events []*models.Event) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)

	// Advance loads the run under a per-run lock, passes it to fn and atomically persists the returned
	// update. Concurrent calls for the same run are serialized; calls for different runs never block
	// each other. When fn returns an error nothing is written and the error is returned unchanged.
	Advance(ctx context.Context, runID string, fn AdvanceFunc) (*models.Run, error)

	ListStepResults(ctx context.Context, runID string) ([]*models.StepResult, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)
}

// AdvanceFunc computes the next state of a locked run.
type AdvanceFunc func(run *models.Run) (*RunUpdate, error)

// RunUpdate is persisted atomically by Advance. StepResult may be nil.
type RunUpdate struct {
	Run        *models.Run
	StepResult *models.StepResult
	Events     []*models.Event
}

// RunFilter selects runs. Zero values match everything.
type RunFilter struct {
	JourneyID     string
	ParticipantID string
	Status        models.RunStatus
	UpdatedBefore time.Time
	Limit         int
}

// EventFilter selects events ordered by creation time then sequence. Zero values match everything.
type EventFilter struct {
	JourneyID string
	RunID     string
	Since     time.Time
	Until     time.Time
	Limit     int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}

	if limit > MaxListLimit {
		return MaxListLimit
	}

	return limit
}
