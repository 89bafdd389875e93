package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/events"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/otelhelper"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const abandonConcurrency = 4

// RunState is a run together with the step the participant is on. CurrentStep is nil
// once the run is terminal.
type RunState struct {
	Run         *models.Run  `json:"run"`
	CurrentStep *models.Step `json:"current_step"`
}

// Runtime drives runs forward. It keeps no state between calls: every transition
// happens inside RunRepository.Advance under the run's lock.
type Runtime struct {
	persistence persistence.Persistence
	conditions  *conditions.Registry
	opts        Options
	logger      *slog.Logger
}

// NewRuntime creates a new runtime interpreter.
func NewRuntime(persistence persistence.Persistence, registry *conditions.Registry, opts Options) *Runtime {
	opts = opts.withDefaults()

	return &Runtime{
		persistence: persistence,
		conditions:  registry,
		opts:        opts,
		logger:      opts.Logger.With("module", "runtime"),
	}
}

// StartRun creates a running run at the start step of the journey's current published
// version or, when useDraft is set, of its open draft.
func (r *Runtime) StartRun(ctx context.Context, journeyID, participantID string, useDraft bool) (*RunState, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.opts.Tracer, "runtime.start_run",
		attribute.String(otelhelper.JourneyIDKey, journeyID),
		attribute.String(otelhelper.ParticipantIDKey, participantID),
		attribute.Bool("journey.preview", useDraft))
	defer span.End()

	if strings.TrimSpace(participantID) == "" {
		return nil, NewValidationError("StartRun", "PARTICIPANT_REQUIRED", "participant id is required", ErrInvalidRequest)
	}

	journey, err := r.persistence.Journeys().GetJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		JourneyID:     journeyID,
		ParticipantID: participantID,
		Status:        models.RunStatusRunning,
		Context:       make(map[string]any),
	}

	var definition *models.JourneyDefinition

	if useDraft {
		draft, err := r.persistence.Journeys().GetDraft(ctx, journeyID)
		if err != nil {
			if persistence.IsDraftNotFound(err) {
				return nil, NewConflictError("StartRun", "NO_DRAFT", "journey has no draft to preview", ErrNoDraft)
			}

			return nil, err
		}

		definition = draft.Definition
		run.DraftID = &draft.DraftID
	} else {
		if journey.Status == models.JourneyStatusArchived {
			return nil, NewConflictError("StartRun", "JOURNEY_ARCHIVED", "archived journeys accept no new runs", ErrJourneyArchived)
		}

		if journey.CurrentPublishedVersion == 0 {
			return nil, NewConflictError("StartRun", "NOT_PUBLISHED", "journey has never been published", ErrNoPublishedVersion)
		}

		definition, err = loadPublishedDefinition(ctx, r.persistence, r.opts, journeyID, journey.CurrentPublishedVersion)
		if err != nil {
			return nil, err
		}

		run.Version = journey.CurrentPublishedVersion
	}

	startStepID := definition.StartStepID()

	start, err := definition.GetStep(startStepID)
	if err != nil {
		return nil, NewValidationError("StartRun", "NO_START_STEP", "definition has no start step", ErrInvalidRequest)
	}

	attributes, err := r.opts.Participants.ParticipantContext(ctx, participantID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load participant context: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	now := r.opts.Now()

	run.ID = id.String()
	run.CurrentStepID = startStepID
	run.Participant = attributes
	run.StartedAt = now
	run.UpdatedAt = now
	run.EventCount = 1

	started := &models.Event{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		JourneyID: journeyID,
		Seq:       0,
		StepID:    startStepID,
		Type:      models.EventRunStarted,
		Payload: map[string]any{
			"version": run.Version,
			"preview": run.IsPreview(),
		},
		CreatedAt: now,
	}

	if err := r.persistence.Runs().CreateRun(ctx, run, []*models.Event{started}); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	r.opts.Metrics.RecordRunStarted(run.IsPreview())
	r.logger.InfoContext(ctx, "Run started", "run_id", run.ID, "journey_id", journeyID, "version", run.Version, "participant_id", participantID)
	r.opts.publish(ctx, run.ID, events.NewRunEvent(started))

	return &RunState{Run: run, CurrentStep: start}, nil
}

// definitionFor returns the definition a run is bound to. Preview runs follow the
// live draft; published runs keep the version they started on.
func (r *Runtime) definitionFor(ctx context.Context, run *models.Run) (*models.JourneyDefinition, error) {
	if run.IsPreview() {
		draft, err := r.persistence.Journeys().GetDraft(ctx, run.JourneyID)
		if err != nil {
			return nil, err
		}

		return draft.Definition, nil
	}

	return loadPublishedDefinition(ctx, r.persistence, r.opts, run.JourneyID, run.Version)
}

// SubmitStepResult records the output of stepID and moves the run along the first
// outgoing edge whose condition holds. A submission for a step that is no longer
// current, or for a run that is no longer running, is rejected with ErrStaleSubmission
// and writes nothing.
func (r *Runtime) SubmitStepResult(ctx context.Context, runID, stepID string, output map[string]any) (*RunState, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.opts.Tracer, "runtime.submit_step_result",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.StepIDKey, stepID))
	defer span.End()

	begin := time.Now()

	if strings.TrimSpace(stepID) == "" {
		return nil, NewValidationError("SubmitStepResult", "STEP_REQUIRED", "step id is required", ErrInvalidRequest)
	}

	if output == nil {
		output = make(map[string]any)
	}

	current, err := r.persistence.Runs().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	definition, err := r.definitionFor(ctx, current)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load run definition: %w", err)
	}

	var update *persistence.RunUpdate

	run, err := r.persistence.Runs().Advance(ctx, runID, func(run *models.Run) (*persistence.RunUpdate, error) {
		if run.Status != models.RunStatusRunning {
			return nil, &ServiceError{
				Op:      "SubmitStepResult",
				Code:    "STALE_SUBMISSION",
				Message: fmt.Sprintf("run is %s", run.Status),
				Err:     errors.Join(ErrStaleSubmission, ErrRunNotRunning),
			}
		}

		if run.CurrentStepID != stepID {
			return nil, &ServiceError{
				Op:      "SubmitStepResult",
				Code:    "STALE_SUBMISSION",
				Message: fmt.Sprintf("step %q is not current, run is on %q", stepID, run.CurrentStepID),
				Err:     ErrStaleSubmission,
			}
		}

		next, err := r.advance(definition, run, output)
		if err != nil {
			return nil, err
		}

		update = next

		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleSubmission) {
			r.opts.Metrics.RecordStaleSubmission()
			r.logger.InfoContext(ctx, "Stale submission rejected", "run_id", runID, "step_id", stepID)
		} else {
			otelhelper.SetError(span, err)
		}

		return nil, err
	}

	stepType := "unknown"
	if step, err := definition.GetStep(stepID); err == nil {
		stepType = string(step.StepType)
	}

	r.opts.Metrics.RecordSubmission(stepType, string(update.StepResult.Status), time.Since(begin))

	if run.Status.IsTerminal() {
		r.opts.Metrics.RecordRunFinished(string(run.Status))

		if run.Status == models.RunStatusFailed {
			r.logger.WarnContext(ctx, "Run failed", "run_id", runID, "step_id", stepID, "reason", run.FailureReason)
		} else {
			r.logger.InfoContext(ctx, "Run completed", "run_id", runID, "steps", run.StepCount)
		}
	}

	for _, event := range update.Events {
		r.opts.publish(ctx, runID, events.NewRunEvent(event))
	}

	return r.state(definition, run), nil
}

// advance computes the next state of a running run after its current step produced output.
func (r *Runtime) advance(definition *models.JourneyDefinition, run *models.Run, output map[string]any) (*persistence.RunUpdate, error) {
	now := r.opts.Now()
	stepID := run.CurrentStepID

	next := *run
	next.Context = maps.Clone(run.Context)

	if next.Context == nil {
		next.Context = make(map[string]any)
	}

	seq := run.EventCount
	emitted := make([]*models.Event, 0, 3)

	addEvent := func(eventType, stepID string, payload map[string]any) {
		emitted = append(emitted, &models.Event{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			JourneyID: run.JourneyID,
			Seq:       seq,
			StepID:    stepID,
			Type:      eventType,
			Payload:   payload,
			CreatedAt: now,
		})
		seq++
	}

	result := &models.StepResult{
		RunID:      run.ID,
		StepID:     stepID,
		StepIndex:  run.StepCount,
		Input:      maps.Clone(run.Context),
		Output:     output,
		Status:     models.StepResultCompleted,
		StartedAt:  run.UpdatedAt,
		FinishedAt: now,
	}

	fail := func(reason string) error {
		if err := transitionRun(&next, triggerFail); err != nil {
			return err
		}

		next.FailureReason = reason
		addEvent(models.EventRunFailed, stepID, map[string]any{"reason": reason})

		return nil
	}

	var transitionErr error

	step, err := definition.GetStep(stepID)

	switch {
	case err != nil:
		result.Status = models.StepResultFailed
		transitionErr = fail(fmt.Sprintf("step %q is not part of the definition", stepID))
	case !step.StepType.IsKnown():
		result.Status = models.StepResultFailed
		transitionErr = fail(fmt.Sprintf("unknown step type %q on step %q", step.StepType, stepID))
	default:
		transitionErr = r.completeStep(definition, step, &next, output, addEvent, fail)
	}

	if transitionErr != nil {
		return nil, transitionErr
	}

	if next.Status.IsTerminal() {
		finished := now
		next.FinishedAt = &finished
	}

	next.StepCount = run.StepCount + 1
	next.EventCount = seq
	next.UpdatedAt = now

	return &persistence.RunUpdate{Run: &next, StepResult: result, Events: emitted}, nil
}

// completeStep applies the step's capture and emit declarations, then follows the first
// matching outgoing edge. A step without outgoing edges completes the run.
func (r *Runtime) completeStep(
	definition *models.JourneyDefinition,
	step *models.Step,
	next *models.Run,
	output map[string]any,
	addEvent func(eventType, stepID string, payload map[string]any),
	fail func(reason string) error,
) error {
	outputEnv := conditions.Env{Output: output}

	for _, field := range step.Capture {
		if value, ok := outputEnv.Lookup("output." + field); ok {
			next.Context[field] = value
		}
	}

	addEvent(models.EventStepCompleted, step.ID, map[string]any{
		"step_index": next.StepCount,
		"step_type":  string(step.StepType),
	})

	data := template.RunData(next, step.ID, output)

	for _, emit := range step.Emit {
		payload, err := template.RenderPayload(emit.Payload, data)
		if err != nil {
			return fail(fmt.Sprintf("emit %q on step %q: %v", emit.EventType, step.ID, err))
		}

		addEvent(emit.EventType, step.ID, payload)
	}

	edges := definition.OutgoingEdges(step.ID)
	if len(edges) == 0 {
		if err := transitionRun(next, triggerComplete); err != nil {
			return err
		}

		addEvent(models.EventRunCompleted, step.ID, map[string]any{"step_count": next.StepCount + 1})

		return nil
	}

	env := conditions.Env{
		StepID:      step.ID,
		Output:      output,
		Context:     next.Context,
		Participant: next.Participant,
	}

	for _, edge := range edges {
		matched, err := r.conditions.Evaluate(edge.EffectiveCondition(), env)
		if err != nil {
			return fail(fmt.Sprintf("condition on edge %s: %v", edge, err))
		}

		if !matched {
			continue
		}

		if _, err := definition.GetStep(edge.ToStepID); err != nil {
			return fail(fmt.Sprintf("edge %s leads to a missing step", edge))
		}

		next.CurrentStepID = edge.ToStepID
		addEvent(models.EventStepTransition, step.ID, map[string]any{
			"from":     step.ID,
			"to":       edge.ToStepID,
			"priority": edge.Priority,
		})

		return nil
	}

	return fail(fmt.Sprintf("no matching transition from step %q", step.ID))
}

func (r *Runtime) state(definition *models.JourneyDefinition, run *models.Run) *RunState {
	state := &RunState{Run: run}

	if run.Status == models.RunStatusRunning {
		if step, err := definition.GetStep(run.CurrentStepID); err == nil {
			state.CurrentStep = step
		}
	}

	return state
}

// AbandonRun cancels a running run. Abandoning a terminal run is a no-op.
func (r *Runtime) AbandonRun(ctx context.Context, runID, reason string) (*models.Run, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.opts.Tracer, "runtime.abandon_run",
		attribute.String(otelhelper.RunIDKey, runID))
	defer span.End()

	var abandoned *models.Event

	run, err := r.persistence.Runs().Advance(ctx, runID, func(run *models.Run) (*persistence.RunUpdate, error) {
		if run.Status.IsTerminal() {
			return nil, nil
		}

		next := *run
		if err := transitionRun(&next, triggerAbandon); err != nil {
			return nil, err
		}

		now := r.opts.Now()
		next.FinishedAt = &now
		next.UpdatedAt = now
		next.EventCount = run.EventCount + 1

		abandoned = &models.Event{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			JourneyID: run.JourneyID,
			Seq:       run.EventCount,
			StepID:    run.CurrentStepID,
			Type:      models.EventRunAbandoned,
			Payload:   map[string]any{"reason": reason},
			CreatedAt: now,
		}

		return &persistence.RunUpdate{Run: &next, Events: []*models.Event{abandoned}}, nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if abandoned != nil {
		r.opts.Metrics.RecordRunFinished(string(models.RunStatusAbandoned))
		r.logger.InfoContext(ctx, "Run abandoned", "run_id", runID, "reason", reason)
		r.opts.publish(ctx, runID, events.NewRunEvent(abandoned))
	}

	return run, nil
}

// AbandonStaleRuns abandons running runs that have not moved for idleFor. It returns the
// number of runs abandoned.
func (r *Runtime) AbandonStaleRuns(ctx context.Context, idleFor time.Duration, limit int) (int, error) {
	runs, err := r.persistence.Runs().ListRuns(ctx, persistence.RunFilter{
		Status:        models.RunStatusRunning,
		UpdatedBefore: r.opts.Now().Add(-idleFor),
		Limit:         limit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list idle runs: %w", err)
	}

	var abandoned atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(abandonConcurrency)

	reason := fmt.Sprintf("idle for more than %s", idleFor)

	for _, run := range runs {
		group.Go(func() error {
			updated, err := r.AbandonRun(groupCtx, run.ID, reason)
			if err != nil {
				return err
			}

			if updated.Status == models.RunStatusAbandoned {
				abandoned.Add(1)
			}

			return nil
		})
	}

	err = group.Wait()

	return int(abandoned.Load()), err
}

func (r *Runtime) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return r.persistence.Runs().GetRun(ctx, runID)
}

// CurrentStep returns the run with the step a resuming participant should see.
func (r *Runtime) CurrentStep(ctx context.Context, runID string) (*RunState, error) {
	run, err := r.persistence.Runs().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.IsTerminal() {
		return &RunState{Run: run}, nil
	}

	definition, err := r.definitionFor(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to load run definition: %w", err)
	}

	return r.state(definition, run), nil
}

func (r *Runtime) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	return r.persistence.Runs().ListRuns(ctx, filter)
}

func (r *Runtime) ListStepResults(ctx context.Context, runID string) ([]*models.StepResult, error) {
	return r.persistence.Runs().ListStepResults(ctx, runID)
}

func (r *Runtime) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]*models.Event, error) {
	return r.persistence.Runs().ListEvents(ctx, filter)
}
