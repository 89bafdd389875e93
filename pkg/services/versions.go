package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/journey/pkg/events"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/otelhelper"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/validation"
	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
)

const publishAttempts = 3

// Versions owns every write to a journey's draft, published versions and status.
type Versions struct {
	persistence persistence.Persistence
	validator   *validation.Validator
	structs     *validator.Validate
	opts        Options
	logger      *slog.Logger
}

// NewVersions creates a new version store service.
func NewVersions(persistence persistence.Persistence, validator *validation.Validator, opts Options) *Versions {
	opts = opts.withDefaults()

	return &Versions{
		persistence: persistence,
		validator:   validator,
		structs:     models.NewValidator(),
		opts:        opts,
		logger:      opts.Logger.With("module", "versions"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (v *Versions) HealthCheck(ctx context.Context) (string, bool) {
	if v.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := v.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Validate checks a definition without touching any journey.
func (v *Versions) Validate(definition *models.JourneyDefinition, mode validation.Mode) validation.Result {
	result := v.validator.Validate(definition, mode)
	v.opts.Metrics.RecordValidation(string(mode), result.Valid)

	return result
}

// CreateJourney registers a new journey with no draft and no published version.
func (v *Versions) CreateJourney(ctx context.Context, journeyID, name, actor string) (*models.Journey, error) {
	ctx, span := otelhelper.StartSpan(ctx, v.opts.Tracer, "versions.create_journey",
		attribute.String(otelhelper.JourneyIDKey, journeyID))
	defer span.End()

	if err := requireActor("CreateJourney", actor); err != nil {
		return nil, err
	}

	journey := &models.Journey{ID: journeyID, Name: name, Status: models.JourneyStatusDraft}

	if err := v.structs.Struct(journey); err != nil {
		return nil, NewValidationError("CreateJourney", "INVALID_JOURNEY", err.Error(), ErrInvalidRequest)
	}

	entry := &models.AuditLogEntry{
		Action:    models.AuditActionCreate,
		CreatedBy: actor,
		Details:   map[string]any{"name": name},
	}

	if err := v.persistence.Journeys().CreateJourney(ctx, journey, entry); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create journey: %w", err)
	}

	v.logger.InfoContext(ctx, "Journey created", "journey_id", journeyID, "actor", actor)

	v.opts.publish(ctx, journeyID, events.JourneyCreated{
		BaseEvent: events.NewBaseEvent(events.JourneyCreatedEvent, journeyID),
		Name:      name,
		CreatedBy: actor,
	})

	return journey, nil
}

func (v *Versions) GetJourney(ctx context.Context, journeyID string) (*models.Journey, error) {
	return v.persistence.Journeys().GetJourney(ctx, journeyID)
}

func (v *Versions) ListJourneys(ctx context.Context) ([]*models.Journey, error) {
	return v.persistence.Journeys().ListJourneys(ctx)
}

// GetDraft returns the open draft without creating one.
func (v *Versions) GetDraft(ctx context.Context, journeyID string) (*models.Draft, error) {
	return v.persistence.Journeys().GetDraft(ctx, journeyID)
}

// GetOrCreateDraft returns the open draft, or creates one seeded from the current
// published definition, or from an empty skeleton when nothing was published yet.
// The boolean reports whether the draft was created by this call.
func (v *Versions) GetOrCreateDraft(ctx context.Context, journeyID, actor string) (*models.Draft, bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, v.opts.Tracer, "versions.get_or_create_draft",
		attribute.String(otelhelper.JourneyIDKey, journeyID))
	defer span.End()

	repo := v.persistence.Journeys()

	draft, err := repo.GetDraft(ctx, journeyID)
	if err == nil {
		return draft, false, nil
	}

	if !persistence.IsDraftNotFound(err) {
		return nil, false, err
	}

	if err := requireActor("GetOrCreateDraft", actor); err != nil {
		return nil, false, err
	}

	journey, err := repo.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, false, err
	}

	definition := models.NewJourneyDefinition(journey.ID, journey.Name)
	details := map[string]any{"draft_created": true}

	if journey.CurrentPublishedVersion > 0 {
		published, err := v.publishedDefinition(ctx, journeyID, journey.CurrentPublishedVersion)
		if err != nil {
			return nil, false, err
		}

		definition = published
		details["seeded_from_version"] = journey.CurrentPublishedVersion
	}

	draft = &models.Draft{
		JourneyID:  journeyID,
		Definition: definition,
		UpdatedBy:  actor,
	}

	entry := &models.AuditLogEntry{Action: models.AuditActionCreate, CreatedBy: actor, Details: details}

	if err := repo.CreateDraft(ctx, draft, entry); err != nil {
		if errors.Is(err, persistence.ErrDraftAlreadyExists) {
			// another editor opened it first
			existing, getErr := repo.GetDraft(ctx, journeyID)

			return existing, false, getErr
		}

		otelhelper.SetError(span, err)

		return nil, false, fmt.Errorf("failed to create draft: %w", err)
	}

	v.logger.InfoContext(ctx, "Draft created", "journey_id", journeyID, "draft_id", draft.DraftID, "actor", actor)

	return draft, true, nil
}

// UpdateDraft overwrites the draft after a draft-mode validation. The returned result
// carries the warnings of an accepted definition.
func (v *Versions) UpdateDraft(ctx context.Context, journeyID string, definition *models.JourneyDefinition, actor string) (*models.Draft, validation.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, v.opts.Tracer, "versions.update_draft",
		attribute.String(otelhelper.JourneyIDKey, journeyID),
		attribute.String(otelhelper.ActorKey, actor))
	defer span.End()

	if err := requireActor("UpdateDraft", actor); err != nil {
		return nil, validation.Result{}, err
	}

	if definition == nil {
		return nil, validation.Result{}, NewValidationError("UpdateDraft", "DEFINITION_REQUIRED", "definition is required", ErrDefinitionNil)
	}

	result := v.Validate(definition, validation.ModeDraft)
	if !result.Valid {
		return nil, result, newValidationFailure(validation.ModeDraft, result)
	}

	frozen, err := definition.Clone()
	if err != nil {
		return nil, result, err
	}

	draft := &models.Draft{
		JourneyID:  journeyID,
		Definition: frozen,
		UpdatedBy:  actor,
	}

	entry := &models.AuditLogEntry{
		Action:    models.AuditActionEdit,
		CreatedBy: actor,
		Details: map[string]any{
			"steps":    len(definition.Steps),
			"edges":    len(definition.Edges),
			"warnings": len(result.Warnings),
		},
	}

	if err := v.persistence.Journeys().SaveDraft(ctx, draft, entry); err != nil {
		otelhelper.SetError(span, err)

		return nil, result, fmt.Errorf("failed to save draft: %w", err)
	}

	return draft, result, nil
}

// ValidateDraft validates the open draft in mode and records the outcome in the audit log.
func (v *Versions) ValidateDraft(ctx context.Context, journeyID string, mode validation.Mode, actor string) (validation.Result, error) {
	if err := requireActor("ValidateDraft", actor); err != nil {
		return validation.Result{}, err
	}

	draft, err := v.persistence.Journeys().GetDraft(ctx, journeyID)
	if err != nil {
		return validation.Result{}, err
	}

	result := v.Validate(draft.Definition, mode)

	entry := &models.AuditLogEntry{
		JourneyID: journeyID,
		DraftID:   &draft.DraftID,
		Action:    models.AuditActionValidate,
		CreatedBy: actor,
		Details: map[string]any{
			"mode":     string(mode),
			"valid":    result.Valid,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		},
	}

	if err := v.persistence.Journeys().AppendAudit(ctx, entry); err != nil {
		return validation.Result{}, fmt.Errorf("failed to record validation: %w", err)
	}

	return result, nil
}

// Publish validates the draft in publish mode and commits it as the next version.
// Version collisions from concurrent publishers are retried.
func (v *Versions) Publish(ctx context.Context, journeyID, actor, releaseNotes string) (*models.PublishedVersion, error) {
	ctx, span := otelhelper.StartSpan(ctx, v.opts.Tracer, "versions.publish",
		attribute.String(otelhelper.JourneyIDKey, journeyID),
		attribute.String(otelhelper.ActorKey, actor))
	defer span.End()

	if err := requireActor("Publish", actor); err != nil {
		return nil, err
	}

	repo := v.persistence.Journeys()

	journey, err := repo.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if journey.Inconsistent {
		v.opts.Metrics.RecordPublish("blocked")

		return nil, NewConflictError("Publish", "JOURNEY_INCONSISTENT",
			"journey is marked inconsistent and must be reconciled before publishing", ErrJourneyInconsistent)
	}

	if journey.Status == models.JourneyStatusArchived {
		v.opts.Metrics.RecordPublish("blocked")

		return nil, NewConflictError("Publish", "JOURNEY_ARCHIVED", "archived journeys cannot be published", ErrJourneyArchived)
	}

	draft, err := repo.GetDraft(ctx, journeyID)
	if err != nil {
		if persistence.IsDraftNotFound(err) {
			return nil, NewConflictError("Publish", "NO_DRAFT", "journey has no draft to publish", ErrNoDraft)
		}

		return nil, err
	}

	result := v.Validate(draft.Definition, validation.ModePublish)
	if !result.Valid {
		v.opts.Metrics.RecordPublish("rejected")

		return nil, newValidationFailure(validation.ModePublish, result)
	}

	var version *models.PublishedVersion

	backoff := retry.WithMaxRetries(publishAttempts, retry.NewExponential(10*time.Millisecond))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		frozen, err := draft.Definition.Clone()
		if err != nil {
			return err
		}

		version = &models.PublishedVersion{
			JourneyID:    journeyID,
			Definition:   frozen,
			PublishedAt:  v.opts.Now(),
			PublishedBy:  actor,
			ReleaseNotes: releaseNotes,
		}

		entry := &models.AuditLogEntry{
			Action:    models.AuditActionPublish,
			DraftID:   &draft.DraftID,
			CreatedBy: actor,
			Details: map[string]any{
				"release_notes": releaseNotes,
				"warnings":      len(result.Warnings),
			},
		}

		err = repo.Publish(ctx, version, entry)
		if errors.Is(err, persistence.ErrVersionConflict) {
			v.logger.WarnContext(ctx, "Version collision while publishing, retrying", "journey_id", journeyID)

			return retry.RetryableError(err)
		}

		return err
	})
	if err != nil {
		otelhelper.SetError(span, err)

		if errors.Is(err, persistence.ErrJourneyInconsistent) {
			v.opts.Metrics.RecordInconsistency()
			v.opts.Metrics.RecordPublish("inconsistent")
			v.logger.ErrorContext(ctx, "Journey marked inconsistent", "journey_id", journeyID, "error", err)

			return nil, NewConflictError("Publish", "JOURNEY_INCONSISTENT", err.Error(), err)
		}

		v.opts.Metrics.RecordPublish("error")

		return nil, fmt.Errorf("failed to publish journey: %w", err)
	}

	v.opts.Metrics.RecordPublish("success")
	span.SetAttributes(attribute.Int(otelhelper.VersionKey, version.Version))

	if err := v.opts.Cache.Set(ctx, journeyID, version.Version, version.Definition); err != nil {
		v.logger.WarnContext(ctx, "Failed to cache published definition", "journey_id", journeyID, "version", version.Version, "error", err)
	}

	v.logger.InfoContext(ctx, "Journey published", "journey_id", journeyID, "version", version.Version, "actor", actor)

	v.opts.publish(ctx, journeyID, events.JourneyPublished{
		BaseEvent:    events.NewBaseEvent(events.JourneyPublishedEvent, journeyID),
		Version:      version.Version,
		PublishedBy:  actor,
		ReleaseNotes: releaseNotes,
	})

	return version, nil
}

// Rollback reseeds the draft from an older published version. The published pointer
// never moves backwards; the old definition goes live again only once it is published.
func (v *Versions) Rollback(ctx context.Context, journeyID string, version int, actor string) (*models.Draft, error) {
	ctx, span := otelhelper.StartSpan(ctx, v.opts.Tracer, "versions.rollback",
		attribute.String(otelhelper.JourneyIDKey, journeyID),
		attribute.Int(otelhelper.VersionKey, version))
	defer span.End()

	if err := requireActor("Rollback", actor); err != nil {
		return nil, err
	}

	definition, err := v.publishedDefinition(ctx, journeyID, version)
	if err != nil {
		return nil, err
	}

	draft := &models.Draft{
		JourneyID:  journeyID,
		Definition: definition,
		UpdatedBy:  actor,
	}

	entry := &models.AuditLogEntry{
		Action:    models.AuditActionRollback,
		CreatedBy: actor,
		Details:   map[string]any{"from_version": version},
	}

	if err := v.persistence.Journeys().SaveDraft(ctx, draft, entry); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to roll back draft: %w", err)
	}

	v.logger.InfoContext(ctx, "Draft rolled back", "journey_id", journeyID, "version", version, "actor", actor)

	return draft, nil
}

// SetStatus archives or restores a journey. Archived journeys accept no new runs.
func (v *Versions) SetStatus(ctx context.Context, journeyID string, status models.JourneyStatus, actor string) (*models.Journey, error) {
	if err := requireActor("SetStatus", actor); err != nil {
		return nil, err
	}

	repo := v.persistence.Journeys()

	journey, err := repo.GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.JourneyStatusArchived:
	case models.JourneyStatusDraft, models.JourneyStatusPublished:
		// restoring derives the status from whether anything was published
		status = models.JourneyStatusDraft
		if journey.CurrentPublishedVersion > 0 {
			status = models.JourneyStatusPublished
		}
	default:
		return nil, NewValidationError("SetStatus", "INVALID_STATUS", fmt.Sprintf("unknown status %q", status), ErrInvalidStatus)
	}

	entry := &models.AuditLogEntry{
		Action:    models.AuditActionStatus,
		CreatedBy: actor,
		Details:   map[string]any{"from": string(journey.Status), "to": string(status)},
	}

	if err := repo.SetStatus(ctx, journeyID, status, entry); err != nil {
		return nil, fmt.Errorf("failed to set status: %w", err)
	}

	v.opts.publish(ctx, journeyID, events.JourneyStatusChanged{
		BaseEvent: events.NewBaseEvent(events.JourneyStatusChangedEvent, journeyID),
		Status:    status,
		ChangedBy: actor,
	})

	return repo.GetJourney(ctx, journeyID)
}

// Reconcile realigns the published pointer with the stored versions and unblocks publishing.
func (v *Versions) Reconcile(ctx context.Context, journeyID, actor string) (*models.Journey, error) {
	if err := requireActor("Reconcile", actor); err != nil {
		return nil, err
	}

	entry := &models.AuditLogEntry{Action: models.AuditActionReconcile, CreatedBy: actor}

	journey, err := v.persistence.Journeys().Reconcile(ctx, journeyID, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile journey: %w", err)
	}

	v.logger.WarnContext(ctx, "Journey reconciled", "journey_id", journeyID, "version", journey.CurrentPublishedVersion, "actor", actor)

	v.opts.publish(ctx, journeyID, events.JourneyReconciled{
		BaseEvent:               events.NewBaseEvent(events.JourneyReconciledEvent, journeyID),
		CurrentPublishedVersion: journey.CurrentPublishedVersion,
		ReconciledBy:            actor,
	})

	return journey, nil
}

func (v *Versions) GetVersion(ctx context.Context, journeyID string, version int) (*models.PublishedVersion, error) {
	return v.persistence.Journeys().GetVersion(ctx, journeyID, version)
}

// GetCurrentVersion returns the version the published pointer refers to.
func (v *Versions) GetCurrentVersion(ctx context.Context, journeyID string) (*models.PublishedVersion, error) {
	journey, err := v.persistence.Journeys().GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if journey.CurrentPublishedVersion == 0 {
		return nil, NewConflictError("GetCurrentVersion", "NOT_PUBLISHED", "journey has never been published", ErrNoPublishedVersion)
	}

	return v.persistence.Journeys().GetVersion(ctx, journeyID, journey.CurrentPublishedVersion)
}

func (v *Versions) ListVersions(ctx context.Context, journeyID string) ([]*models.PublishedVersion, error) {
	return v.persistence.Journeys().ListVersions(ctx, journeyID)
}

// publishedDefinition returns a private copy of a published definition, reading through the cache.
func (v *Versions) publishedDefinition(ctx context.Context, journeyID string, version int) (*models.JourneyDefinition, error) {
	return loadPublishedDefinition(ctx, v.persistence, v.opts, journeyID, version)
}

func loadPublishedDefinition(ctx context.Context, p persistence.Persistence, opts Options, journeyID string, version int) (*models.JourneyDefinition, error) {
	definition, found, err := opts.Cache.Get(ctx, journeyID, version)
	if err != nil {
		opts.Logger.WarnContext(ctx, "Definition cache read failed", "journey_id", journeyID, "version", version, "error", err)
	}

	if found {
		return definition, nil
	}

	published, err := p.Journeys().GetVersion(ctx, journeyID, version)
	if err != nil {
		return nil, err
	}

	if err := opts.Cache.Set(ctx, journeyID, version, published.Definition); err != nil {
		opts.Logger.WarnContext(ctx, "Failed to cache published definition", "journey_id", journeyID, "version", version, "error", err)
	}

	return published.Definition.Clone()
}
