package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/persistence/sqlbase"
)

// RunRepository handles run, step result and event database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
			id
		  , journey_id
		  , version
		  , draft_id
		  , participant_id
		  , current_step_id
		  , status
		  , context
		  , participant
		  , failure_reason
		  , step_count
		  , event_count
		  , started_at
		  , updated_at
		  , finished_at`

func scanRun(row scanner) (*models.Run, error) {
	var (
		run         models.Run
		version     sql.NullInt64
		draftID     sql.NullString
		runContext  []byte
		participant []byte
		finishedAt  sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.JourneyID,
		&version,
		&draftID,
		&run.ParticipantID,
		&run.CurrentStepID,
		&run.Status,
		&runContext,
		&participant,
		&run.FailureReason,
		&run.StepCount,
		&run.EventCount,
		&run.StartedAt,
		&run.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if version.Valid {
		run.Version = int(version.Int64)
	}

	if draftID.Valid {
		run.DraftID = &draftID.String
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	if run.Context, err = unmarshalMap(runContext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
	}

	if run.Participant, err = unmarshalMap(participant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}

	return &run, nil
}

func nullableVersion(run *models.Run) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(run.Version), Valid: run.DraftID == nil}
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []*models.Event) error {
	for _, event := range events {
		payload, err := marshalJSON(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO journey_events (id, run_id, journey_id, seq, step_id, type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, event.ID, event.RunID, event.JourneyID, event.Seq, event.StepID, event.Type, payload, event.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "journey_events_run_seq_key") {
				return fmt.Errorf("%w: event seq %d", persistence.ErrSequenceConflict, event.Seq)
			}

			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return nil
}

func checkEventSequence(firstSeq int, events []*models.Event) error {
	for i, event := range events {
		if event.Seq != firstSeq+i {
			return fmt.Errorf("%w: event seq %d, expected %d", persistence.ErrSequenceConflict, event.Seq, firstSeq+i)
		}
	}

	return nil
}

// CreateRun inserts a run together with its start events.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run, events []*models.Event) error {
	runContext, err := marshalJSON(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	participant, err := marshalJSON(run.Participant)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	if err := checkEventSequence(0, events); err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	err = sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO journey_runs (
				id, journey_id, version, draft_id, participant_id, current_step_id, status, context, participant,
				failure_reason, step_count, event_count, started_at, updated_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, run.ID, run.JourneyID, nullableVersion(run), run.DraftID, run.ParticipantID, run.CurrentStepID, run.Status,
			runContext, participant, run.FailureReason, run.StepCount, run.EventCount, run.StartedAt, run.UpdatedAt, run.FinishedAt)
		if err != nil {
			if isUniqueViolation(err, "journey_runs_pkey") {
				return persistence.ErrRunAlreadyExists
			}

			return fmt.Errorf("failed to insert run: %w", err)
		}

		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// GetRun retrieves a run by its ID.
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+runColumns+` FROM journey_runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetRun", runID, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	return run, nil
}

// Advance locks the run row with SELECT ... FOR UPDATE, so submissions for the same run are serialized by
// the database while different runs never contend.
func (r *RunRepository) Advance(ctx context.Context, runID string, fn persistence.AdvanceFunc) (*models.Run, error) {
	var advanced *models.Run

	err := sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT`+runColumns+` FROM journey_runs WHERE id = $1 FOR UPDATE`, runID)

		current, err := scanRun(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.NewRunError("Advance", runID, persistence.ErrRunNotFound)
			}

			return persistence.NewRunError("Advance", runID, err)
		}

		nextIndex, nextSeq := current.StepCount, current.EventCount

		update, err := fn(current)
		if err != nil {
			return err
		}

		if update == nil || update.Run == nil {
			advanced = current
			return nil
		}

		next := update.Run

		runContext, err := marshalJSON(next.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal run context: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE journey_runs SET
				current_step_id = $2
			  , status = $3
			  , context = $4
			  , failure_reason = $5
			  , step_count = $6
			  , event_count = $7
			  , updated_at = $8
			  , finished_at = $9
			WHERE id = $1
		`, runID, next.CurrentStepID, next.Status, runContext, next.FailureReason, next.StepCount, next.EventCount, next.UpdatedAt, next.FinishedAt)
		if err != nil {
			return persistence.NewRunError("Advance", runID, fmt.Errorf("failed to update run: %w", err))
		}

		if result := update.StepResult; result != nil {
			if result.StepIndex != nextIndex {
				return persistence.NewRunError("Advance", runID,
					fmt.Errorf("%w: step index %d, expected %d", persistence.ErrSequenceConflict, result.StepIndex, nextIndex))
			}

			if err := r.insertStepResult(ctx, tx, result); err != nil {
				return persistence.NewRunError("Advance", runID, err)
			}
		}

		if err := checkEventSequence(nextSeq, update.Events); err != nil {
			return persistence.NewRunError("Advance", runID, err)
		}

		if err := insertEvents(ctx, tx, update.Events); err != nil {
			return persistence.NewRunError("Advance", runID, err)
		}

		advanced = next

		return nil
	})
	if err != nil {
		return nil, err
	}

	return advanced, nil
}

func (r *RunRepository) insertStepResult(ctx context.Context, tx *sql.Tx, result *models.StepResult) error {
	input, err := marshalJSON(result.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	output, err := marshalJSON(result.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journey_step_results (run_id, step_index, step_id, input, output, status, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, result.RunID, result.StepIndex, result.StepID, input, output, result.Status, result.StartedAt, result.FinishedAt)
	if err != nil {
		if isUniqueViolation(err, "journey_step_results_run_index_key") {
			return fmt.Errorf("%w: step index %d", persistence.ErrSequenceConflict, result.StepIndex)
		}

		return fmt.Errorf("failed to insert step result: %w", err)
	}

	return nil
}

// ListRuns returns runs matching filter, oldest first.
func (r *RunRepository) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.JourneyID != "" {
		add("journey_id = $%d", filter.JourneyID)
	}

	if filter.ParticipantID != "" {
		add("participant_id = $%d", filter.ParticipantID)
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	if !filter.UpdatedBefore.IsZero() {
		add("updated_at < $%d", filter.UpdatedBefore)
	}

	query := `SELECT` + runColumns + ` FROM journey_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, persistence.ClampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY started_at, id LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListStepResults returns the step results of a run ordered by step index.
func (r *RunRepository) ListStepResults(ctx context.Context, runID string) ([]*models.StepResult, error) {
	if _, err := r.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, step_index, step_id, input, output, status, started_at, finished_at
		FROM journey_step_results
		WHERE run_id = $1
		ORDER BY step_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	results := make([]*models.StepResult, 0)

	for rows.Next() {
		var (
			result        models.StepResult
			input, output []byte
		)

		err := rows.Scan(&result.RunID, &result.StepIndex, &result.StepID, &input, &output, &result.Status, &result.StartedAt, &result.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}

		if result.Input, err = unmarshalMap(input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
		}

		if result.Output, err = unmarshalMap(output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}

		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step results: %w", err)
	}

	return results, nil
}

// ListEvents returns events matching filter ordered by creation time and sequence.
func (r *RunRepository) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]*models.Event, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.RunID != "" {
		if _, err := r.GetRun(ctx, filter.RunID); err != nil {
			return nil, err
		}

		add("run_id = $%d", filter.RunID)
	}

	if filter.JourneyID != "" {
		add("journey_id = $%d", filter.JourneyID)
	}

	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}

	if !filter.Until.IsZero() {
		add("created_at < $%d", filter.Until)
	}

	query := `SELECT id, run_id, journey_id, seq, step_id, type, payload, created_at FROM journey_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, persistence.ClampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at, run_id, seq LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.Event, 0)

	for rows.Next() {
		var (
			event   models.Event
			payload []byte
		)

		err := rows.Scan(&event.ID, &event.RunID, &event.JourneyID, &event.Seq, &event.StepID, &event.Type, &payload, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if event.Payload, err = unmarshalMap(payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
