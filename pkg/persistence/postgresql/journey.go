package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/persistence/sqlbase"
	"github.com/google/uuid"
)

// JourneyRepository handles journey, draft, version and audit database operations.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJourneyRepository creates a new journey repository.
func NewJourneyRepository(db *sql.DB, logger *slog.Logger) *JourneyRepository {
	return &JourneyRepository{db: db, logger: logger}
}

const journeyColumns = `
			id
		  , name
		  , status
		  , current_published_version
		  , inconsistent
		  , created_at
		  , updated_at`

func scanJourney(row scanner) (*models.Journey, error) {
	var journey models.Journey

	err := row.Scan(
		&journey.ID,
		&journey.Name,
		&journey.Status,
		&journey.CurrentPublishedVersion,
		&journey.Inconsistent,
		&journey.CreatedAt,
		&journey.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &journey, nil
}

// insertAudit appends entry inside tx. It is the only write path to the audit log.
func insertAudit(ctx context.Context, tx *sql.Tx, entry *models.AuditLogEntry) error {
	if entry == nil {
		return nil
	}

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate audit entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	details, err := marshalJSON(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journey_audit_log (id, journey_id, draft_id, action, details, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.JourneyID, entry.DraftID, entry.Action, details, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// lockJourney selects the journey row FOR UPDATE.
func lockJourney(ctx context.Context, tx *sql.Tx, journeyID string) (*models.Journey, error) {
	row := tx.QueryRowContext(ctx, `SELECT`+journeyColumns+` FROM journeys WHERE id = $1 FOR UPDATE`, journeyID)

	journey, err := scanJourney(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJourneyNotFound
		}

		return nil, fmt.Errorf("failed to lock journey: %w", err)
	}

	return journey, nil
}

// CreateJourney inserts a journey and its creation audit entry.
func (r *JourneyRepository) CreateJourney(ctx context.Context, journey *models.Journey, entry *models.AuditLogEntry) error {
	now := time.Now().UTC()
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	if journey.Status == "" {
		journey.Status = models.JourneyStatusDraft
	}

	err := sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO journeys (id, name, status, current_published_version, inconsistent, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, journey.ID, journey.Name, journey.Status, journey.CurrentPublishedVersion, journey.Inconsistent, journey.CreatedAt, journey.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "journeys_pkey") {
				return persistence.ErrJourneyAlreadyExists
			}

			return fmt.Errorf("failed to insert journey: %w", err)
		}

		if entry != nil {
			entry.JourneyID = journey.ID
		}

		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return persistence.NewJourneyError("CreateJourney", journey.ID, err)
	}

	return nil
}

// GetJourney retrieves a journey by its ID.
func (r *JourneyRepository) GetJourney(ctx context.Context, journeyID string) (*models.Journey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+journeyColumns+` FROM journeys WHERE id = $1`, journeyID)

	journey, err := scanJourney(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJourneyError("GetJourney", journeyID, persistence.ErrJourneyNotFound)
		}

		return nil, persistence.NewJourneyError("GetJourney", journeyID, err)
	}

	return journey, nil
}

// ListJourneys returns every journey ordered by ID.
func (r *JourneyRepository) ListJourneys(ctx context.Context) ([]*models.Journey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+journeyColumns+` FROM journeys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}

	return journeys, nil
}

// GetDraft returns the open draft of a journey.
func (r *JourneyRepository) GetDraft(ctx context.Context, journeyID string) (*models.Draft, error) {
	var (
		draft      models.Draft
		definition []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT draft_id, journey_id, definition, updated_at, updated_by
		FROM journey_drafts
		WHERE journey_id = $1
	`, journeyID).Scan(&draft.DraftID, &draft.JourneyID, &definition, &draft.UpdatedAt, &draft.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, jErr := r.GetJourney(ctx, journeyID); jErr != nil {
				return nil, jErr
			}

			return nil, persistence.NewJourneyError("GetDraft", journeyID, persistence.ErrDraftNotFound)
		}

		return nil, persistence.NewJourneyError("GetDraft", journeyID, err)
	}

	if err := json.Unmarshal(definition, &draft.Definition); err != nil {
		return nil, persistence.NewJourneyError("GetDraft", journeyID, fmt.Errorf("failed to unmarshal definition: %w", err))
	}

	return &draft, nil
}

// CreateDraft inserts the first draft of a journey.
func (r *JourneyRepository) CreateDraft(ctx context.Context, draft *models.Draft, entry *models.AuditLogEntry) error {
	if draft.DraftID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate draft ID: %w", err)
		}

		draft.DraftID = id.String()
	}

	draft.UpdatedAt = time.Now().UTC()

	definition, err := json.Marshal(draft.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	err = sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockJourney(ctx, tx, draft.JourneyID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO journey_drafts (draft_id, journey_id, definition, updated_at, updated_by)
			VALUES ($1, $2, $3, $4, $5)
		`, draft.DraftID, draft.JourneyID, definition, draft.UpdatedAt, draft.UpdatedBy)
		if err != nil {
			if isUniqueViolation(err, "") {
				return persistence.ErrDraftAlreadyExists
			}

			return fmt.Errorf("failed to insert draft: %w", err)
		}

		if entry != nil {
			entry.JourneyID = draft.JourneyID
			entry.DraftID = &draft.DraftID
		}

		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return persistence.NewJourneyError("CreateDraft", draft.JourneyID, err)
	}

	return nil
}

// SaveDraft overwrites the open draft in place, creating it if the journey has none.
func (r *JourneyRepository) SaveDraft(ctx context.Context, draft *models.Draft, entry *models.AuditLogEntry) error {
	candidateID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate draft ID: %w", err)
	}

	if draft.DraftID == "" {
		draft.DraftID = candidateID.String()
	}

	draft.UpdatedAt = time.Now().UTC()

	definition, err := json.Marshal(draft.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	err = sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockJourney(ctx, tx, draft.JourneyID); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO journey_drafts (draft_id, journey_id, definition, updated_at, updated_by)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (journey_id) DO UPDATE SET
				definition = EXCLUDED.definition
			  , updated_at = EXCLUDED.updated_at
			  , updated_by = EXCLUDED.updated_by
			RETURNING draft_id
		`, draft.DraftID, draft.JourneyID, definition, draft.UpdatedAt, draft.UpdatedBy).Scan(&draft.DraftID)
		if err != nil {
			return fmt.Errorf("failed to save draft: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE journeys SET updated_at = $2 WHERE id = $1`, draft.JourneyID, draft.UpdatedAt); err != nil {
			return fmt.Errorf("failed to touch journey: %w", err)
		}

		if entry != nil {
			entry.JourneyID = draft.JourneyID
			entry.DraftID = &draft.DraftID
		}

		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return persistence.NewJourneyError("SaveDraft", draft.JourneyID, err)
	}

	return nil
}

// errInconsistentPointer aborts the publish transaction so the inconsistent flag can be set on its own.
var errInconsistentPointer = errors.New("published pointer does not match stored versions")

// Publish stores the next published version, advances the pointer and appends the audit entry in one
// transaction. The journey row lock serializes concurrent publishers; the unique constraint on
// (journey_id, version) rejects any collision that slips through.
func (r *JourneyRepository) Publish(ctx context.Context, version *models.PublishedVersion, entry *models.AuditLogEntry) error {
	journeyID := version.JourneyID

	definition, err := json.Marshal(version.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	var pointer, latest int

	err = sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		journey, err := lockJourney(ctx, tx, journeyID)
		if err != nil {
			return err
		}

		if journey.Inconsistent {
			return persistence.ErrJourneyInconsistent
		}

		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM journey_versions WHERE journey_id = $1`, journeyID).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to query latest version: %w", err)
		}

		pointer = journey.CurrentPublishedVersion
		if latest != pointer {
			return errInconsistentPointer
		}

		next := pointer + 1
		now := time.Now().UTC()

		version.Version = next
		if version.PublishedAt.IsZero() {
			version.PublishedAt = now
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO journey_versions (journey_id, version, definition, published_at, published_by, release_notes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, journeyID, next, definition, version.PublishedAt, version.PublishedBy, version.ReleaseNotes)
		if err != nil {
			if isUniqueViolation(err, "journey_versions_journey_version_key") {
				return persistence.ErrVersionConflict
			}

			return fmt.Errorf("failed to insert published version: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE journeys SET
				current_published_version = $2
			  , status = CASE WHEN status = 'draft' THEN 'published' ELSE status END
			  , updated_at = $3
			WHERE id = $1
		`, journeyID, next, now)
		if err != nil {
			return fmt.Errorf("failed to advance published pointer: %w", err)
		}

		if entry == nil {
			return nil
		}

		var draftID sql.NullString

		err = tx.QueryRowContext(ctx, `SELECT draft_id FROM journey_drafts WHERE journey_id = $1`, journeyID).Scan(&draftID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to query draft: %w", err)
		}

		if draftID.Valid {
			entry.DraftID = &draftID.String
		}

		if entry.Details == nil {
			entry.Details = make(map[string]any)
		}

		entry.JourneyID = journeyID
		entry.Details["version"] = next

		return insertAudit(ctx, tx, entry)
	})

	if errors.Is(err, errInconsistentPointer) {
		r.logger.ErrorContext(ctx, "journey marked inconsistent", "journey_id", journeyID, "pointer", pointer, "latest", latest)

		if _, mErr := r.db.ExecContext(ctx, `UPDATE journeys SET inconsistent = TRUE, updated_at = NOW() WHERE id = $1`, journeyID); mErr != nil {
			return persistence.NewJourneyError("Publish", journeyID, errors.Join(persistence.ErrJourneyInconsistent, mErr))
		}

		return &persistence.JourneyError{
			Op:        "Publish",
			JourneyID: journeyID,
			Err:       persistence.ErrJourneyInconsistent,
			Message:   fmt.Sprintf("pointer at version %d, latest stored version %d", pointer, latest),
		}
	}

	if err != nil {
		return persistence.NewVersionError("Publish", journeyID, version.Version, err)
	}

	return nil
}

func scanVersion(row scanner) (*models.PublishedVersion, error) {
	var (
		version    models.PublishedVersion
		definition []byte
	)

	err := row.Scan(&version.JourneyID, &version.Version, &definition, &version.PublishedAt, &version.PublishedBy, &version.ReleaseNotes)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(definition, &version.Definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &version, nil
}

// GetVersion returns a published version of a journey.
func (r *JourneyRepository) GetVersion(ctx context.Context, journeyID string, version int) (*models.PublishedVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT journey_id, version, definition, published_at, published_by, release_notes
		FROM journey_versions
		WHERE journey_id = $1 AND version = $2
	`, journeyID, version)

	published, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewVersionError("GetVersion", journeyID, version, persistence.ErrVersionNotFound)
		}

		return nil, persistence.NewVersionError("GetVersion", journeyID, version, err)
	}

	return published, nil
}

// ListVersions returns the published versions of a journey in ascending order.
func (r *JourneyRepository) ListVersions(ctx context.Context, journeyID string) ([]*models.PublishedVersion, error) {
	if _, err := r.GetJourney(ctx, journeyID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT journey_id, version, definition, published_at, published_by, release_notes
		FROM journey_versions
		WHERE journey_id = $1
		ORDER BY version
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.PublishedVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

// SetStatus changes the lifecycle status of a journey.
func (r *JourneyRepository) SetStatus(ctx context.Context, journeyID string, status models.JourneyStatus, entry *models.AuditLogEntry) error {
	err := sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockJourney(ctx, tx, journeyID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `UPDATE journeys SET status = $2, updated_at = $3 WHERE id = $1`, journeyID, status, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		if entry != nil {
			entry.JourneyID = journeyID
		}

		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return persistence.NewJourneyError("SetStatus", journeyID, err)
	}

	return nil
}

// Reconcile moves the pointer to the latest stored version and clears the inconsistent flag.
func (r *JourneyRepository) Reconcile(ctx context.Context, journeyID string, entry *models.AuditLogEntry) (*models.Journey, error) {
	var journey *models.Journey

	err := sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		locked, err := lockJourney(ctx, tx, journeyID)
		if err != nil {
			return err
		}

		var latest int

		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM journey_versions WHERE journey_id = $1`, journeyID).Scan(&latest)
		if err != nil {
			return fmt.Errorf("failed to query latest version: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE journeys SET
				current_published_version = $2
			  , inconsistent = FALSE
			  , status = CASE WHEN $2 > 0 AND status = 'draft' THEN 'published' ELSE status END
			  , updated_at = $3
			WHERE id = $1
			RETURNING`+journeyColumns, journeyID, latest, time.Now().UTC())

		journey, err = scanJourney(row)
		if err != nil {
			return fmt.Errorf("failed to reconcile journey: %w", err)
		}

		if entry == nil {
			return nil
		}

		if entry.Details == nil {
			entry.Details = make(map[string]any)
		}

		entry.JourneyID = journeyID
		entry.Details["from_version"] = locked.CurrentPublishedVersion
		entry.Details["to_version"] = latest

		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return nil, persistence.NewJourneyError("Reconcile", journeyID, err)
	}

	return journey, nil
}

// AppendAudit records an entry without any other change.
func (r *JourneyRepository) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	err := sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockJourney(ctx, tx, entry.JourneyID); err != nil {
			return err
		}

		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return persistence.NewJourneyError("AppendAudit", entry.JourneyID, err)
	}

	return nil
}

// ListAudit returns audit entries newest first.
func (r *JourneyRepository) ListAudit(ctx context.Context, opts persistence.ListAuditOptions) ([]*models.AuditLogEntry, error) {
	if _, err := r.GetJourney(ctx, opts.JourneyID); err != nil {
		return nil, err
	}

	before := sql.NullTime{Time: opts.Before, Valid: !opts.Before.IsZero()}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, journey_id, draft_id, action, details, created_by, created_at
		FROM journey_audit_log
		WHERE journey_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, opts.JourneyID, before, persistence.ClampLimit(opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.AuditLogEntry, 0)

	for rows.Next() {
		var (
			entry   models.AuditLogEntry
			draftID sql.NullString
			details []byte
		)

		err := rows.Scan(&entry.ID, &entry.JourneyID, &draftID, &entry.Action, &details, &entry.CreatedBy, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if draftID.Valid {
			entry.DraftID = &draftID.String
		}

		entry.Details, err = unmarshalMap(details)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}
