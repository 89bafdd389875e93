package file

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
)

// runDocument is everything stored for one run.
type runDocument struct {
	Run     *models.Run          `json:"run"`
	Results []*models.StepResult `json:"results"`
	Events  []*models.Event      `json:"events"`
}

// RunRepository handles run-related file operations.
type RunRepository struct {
	root  string // File system root for storing runs
	locks *keyedMutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root, locks: newKeyedMutex()}
}

func (rr *RunRepository) path(runID string) string {
	return filepath.Join(rr.root, "runs", runID+".json")
}

func (rr *RunRepository) load(runID string) (*runDocument, error) {
	if err := validateID("run", runID); err != nil {
		return nil, err
	}

	var doc runDocument

	found, err := readDocument(rr.path(runID), &doc)
	if err != nil {
		return nil, err
	}

	if !found || doc.Run == nil {
		return nil, persistence.ErrRunNotFound
	}

	return &doc, nil
}

func checkEventSequence(doc *runDocument, events []*models.Event) error {
	for i, event := range events {
		if event.Seq != len(doc.Events)+i {
			return fmt.Errorf("%w: event seq %d, expected %d", persistence.ErrSequenceConflict, event.Seq, len(doc.Events)+i)
		}
	}

	return nil
}

// CreateRun stores a new run.
func (rr *RunRepository) CreateRun(_ context.Context, run *models.Run, events []*models.Event) error {
	if err := validateID("run", run.ID); err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	unlock := rr.locks.Lock(run.ID)
	defer unlock()

	if _, err := os.Stat(rr.path(run.ID)); err == nil {
		return persistence.NewRunError("CreateRun", run.ID, persistence.ErrRunAlreadyExists)
	}

	doc := &runDocument{
		Run:     run,
		Results: make([]*models.StepResult, 0),
		Events:  make([]*models.Event, 0),
	}

	if err := checkEventSequence(doc, events); err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	doc.Events = append(doc.Events, events...)

	if err := writeDocument(rr.path(run.ID), doc); err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// GetRun retrieves a run by its ID.
func (rr *RunRepository) GetRun(_ context.Context, runID string) (*models.Run, error) {
	doc, err := rr.load(runID)
	if err != nil {
		return nil, persistence.NewRunError("GetRun", runID, err)
	}

	return doc.Run, nil
}

// Advance serializes updates of one run through its lock.
func (rr *RunRepository) Advance(_ context.Context, runID string, fn persistence.AdvanceFunc) (*models.Run, error) {
	if err := validateID("run", runID); err != nil {
		return nil, persistence.NewRunError("Advance", runID, err)
	}

	unlock := rr.locks.Lock(runID)
	defer unlock()

	doc, err := rr.load(runID)
	if err != nil {
		return nil, persistence.NewRunError("Advance", runID, err)
	}

	update, err := fn(doc.Run)
	if err != nil {
		return nil, err
	}

	if update == nil || update.Run == nil {
		return doc.Run, nil
	}

	if result := update.StepResult; result != nil {
		if result.StepIndex != len(doc.Results) {
			return nil, persistence.NewRunError("Advance", runID,
				fmt.Errorf("%w: step index %d, expected %d", persistence.ErrSequenceConflict, result.StepIndex, len(doc.Results)))
		}

		doc.Results = append(doc.Results, result)
	}

	if err := checkEventSequence(doc, update.Events); err != nil {
		return nil, persistence.NewRunError("Advance", runID, err)
	}

	doc.Events = append(doc.Events, update.Events...)
	doc.Run = update.Run

	if err := writeDocument(rr.path(runID), doc); err != nil {
		return nil, persistence.NewRunError("Advance", runID, err)
	}

	return doc.Run, nil
}

func (rr *RunRepository) documents() ([]*runDocument, error) {
	dir := filepath.Join(rr.root, "runs")

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	docs := make([]*runDocument, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		doc, err := rr.load(strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// ListRuns returns runs matching filter, oldest first.
func (rr *RunRepository) ListRuns(_ context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	docs, err := rr.documents()
	if err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0)

	for _, doc := range docs {
		run := doc.Run

		if filter.JourneyID != "" && run.JourneyID != filter.JourneyID {
			continue
		}

		if filter.ParticipantID != "" && run.ParticipantID != filter.ParticipantID {
			continue
		}

		if filter.Status != "" && run.Status != filter.Status {
			continue
		}

		if !filter.UpdatedBefore.IsZero() && !run.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}

		runs = append(runs, run)
	}

	slices.SortStableFunc(runs, func(a, b *models.Run) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	limit := persistence.ClampLimit(filter.Limit)
	if len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// ListStepResults returns the step results of a run ordered by step index.
func (rr *RunRepository) ListStepResults(_ context.Context, runID string) ([]*models.StepResult, error) {
	doc, err := rr.load(runID)
	if err != nil {
		return nil, persistence.NewRunError("ListStepResults", runID, err)
	}

	return doc.Results, nil
}

// ListEvents returns events matching filter ordered by creation time and sequence.
func (rr *RunRepository) ListEvents(_ context.Context, filter persistence.EventFilter) ([]*models.Event, error) {
	var docs []*runDocument

	if filter.RunID != "" {
		doc, err := rr.load(filter.RunID)
		if err != nil {
			return nil, persistence.NewRunError("ListEvents", filter.RunID, err)
		}

		docs = []*runDocument{doc}
	} else {
		all, err := rr.documents()
		if err != nil {
			return nil, err
		}

		docs = all
	}

	events := make([]*models.Event, 0)

	for _, doc := range docs {
		for _, event := range doc.Events {
			if filter.JourneyID != "" && event.JourneyID != filter.JourneyID {
				continue
			}

			if !filter.Since.IsZero() && event.CreatedAt.Before(filter.Since) {
				continue
			}

			if !filter.Until.IsZero() && !event.CreatedAt.Before(filter.Until) {
				continue
			}

			events = append(events, event)
		}
	}

	slices.SortStableFunc(events, func(a, b *models.Event) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		if a.RunID == b.RunID {
			return cmp.Compare(a.Seq, b.Seq)
		}

		return strings.Compare(a.RunID, b.RunID)
	})

	limit := persistence.ClampLimit(filter.Limit)
	if len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}
