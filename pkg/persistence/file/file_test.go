package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, missing.HealthCheck(t.Context()), os.ErrNotExist)
}

func createJourney(t *testing.T, repo persistence.JourneyRepository, id string) *models.Journey {
	t.Helper()

	journey := &models.Journey{ID: id, Name: "Morning practice"}
	entry := &models.AuditLogEntry{Action: models.AuditActionCreate, CreatedBy: "editor"}

	require.NoError(t, repo.CreateJourney(t.Context(), journey, entry))

	return journey
}

func TestJourneyRepository_CreateAndGet(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Journeys()

	journey := createJourney(t, repo, "morning")
	assert.Equal(t, models.JourneyStatusDraft, journey.Status)
	assert.False(t, journey.CreatedAt.IsZero())

	stored, err := repo.GetJourney(t.Context(), "morning")
	require.NoError(t, err)
	assert.Equal(t, "Morning practice", stored.Name)

	err = repo.CreateJourney(t.Context(), &models.Journey{ID: "morning", Name: "Again"}, nil)
	assert.ErrorIs(t, err, persistence.ErrJourneyAlreadyExists)

	_, err = repo.GetJourney(t.Context(), "evening")
	assert.True(t, persistence.IsJourneyNotFound(err))

	_, err = repo.GetJourney(t.Context(), "../etc")
	require.Error(t, err)

	createJourney(t, repo, "evening")

	journeys, err := repo.ListJourneys(t.Context())
	require.NoError(t, err)
	require.Len(t, journeys, 2)
	assert.Equal(t, "evening", journeys[0].ID)
	assert.Equal(t, "morning", journeys[1].ID)
}

func TestJourneyRepository_Drafts(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Journeys()
	createJourney(t, repo, "morning")

	_, err := repo.GetDraft(t.Context(), "morning")
	assert.True(t, persistence.IsDraftNotFound(err))

	draft := &models.Draft{JourneyID: "morning", Definition: testutil.CreateTestDefinition(testutil.WithDefinitionID("morning")), UpdatedBy: "editor"}
	created := &models.AuditLogEntry{Action: models.AuditActionCreate, CreatedBy: "editor"}
	require.NoError(t, repo.CreateDraft(t.Context(), draft, created))
	require.NotEmpty(t, draft.DraftID)
	require.NotNil(t, created.DraftID)
	assert.Equal(t, draft.DraftID, *created.DraftID)

	err = repo.CreateDraft(t.Context(), &models.Draft{JourneyID: "morning"}, nil)
	assert.ErrorIs(t, err, persistence.ErrDraftAlreadyExists)

	edited := &models.Draft{JourneyID: "morning", DraftID: "ignored", Definition: testutil.CreateBranchingDefinition(), UpdatedBy: "other"}
	require.NoError(t, repo.SaveDraft(t.Context(), edited, &models.AuditLogEntry{Action: models.AuditActionEdit, CreatedBy: "other"}))
	assert.Equal(t, draft.DraftID, edited.DraftID)

	stored, err := repo.GetDraft(t.Context(), "morning")
	require.NoError(t, err)
	assert.Equal(t, "other", stored.UpdatedBy)
	assert.Contains(t, stored.Definition.Steps, "pick")

	err = repo.SaveDraft(t.Context(), &models.Draft{JourneyID: "unknown"}, nil)
	assert.True(t, persistence.IsJourneyNotFound(err))
}

func TestJourneyRepository_Publish(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Journeys()
	createJourney(t, repo, "morning")

	def := testutil.CreateTestDefinition(testutil.WithDefinitionID("morning"))

	for expected := 1; expected <= 3; expected++ {
		version := &models.PublishedVersion{JourneyID: "morning", Definition: def, PublishedBy: "editor"}
		entry := &models.AuditLogEntry{Action: models.AuditActionPublish, CreatedBy: "editor"}

		require.NoError(t, repo.Publish(t.Context(), version, entry))
		assert.Equal(t, expected, version.Version)
		assert.Equal(t, expected, entry.Details["version"])
	}

	journey, err := repo.GetJourney(t.Context(), "morning")
	require.NoError(t, err)
	assert.Equal(t, 3, journey.CurrentPublishedVersion)
	assert.Equal(t, models.JourneyStatusPublished, journey.Status)

	versions, err := repo.ListVersions(t.Context(), "morning")
	require.NoError(t, err)
	require.Len(t, versions, 3)

	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}

	v2, err := repo.GetVersion(t.Context(), "morning", 2)
	require.NoError(t, err)
	assert.Equal(t, def, v2.Definition)

	_, err = repo.GetVersion(t.Context(), "morning", 9)
	assert.True(t, persistence.IsVersionNotFound(err))
}

func TestJourneyRepository_Publish_ConcurrentVersionsNeverCollide(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Journeys()
	createJourney(t, repo, "morning")

	def := testutil.CreateTestDefinition(testutil.WithDefinitionID("morning"))

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			version := &models.PublishedVersion{JourneyID: "morning", Definition: def}
			assert.NoError(t, repo.Publish(t.Context(), version, &models.AuditLogEntry{Action: models.AuditActionPublish}))
		}()
	}

	wg.Wait()

	versions, err := repo.ListVersions(t.Context(), "morning")
	require.NoError(t, err)
	require.Len(t, versions, 8)

	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
	}
}

func TestJourneyRepository_Publish_InconsistentJourneyIsBlocked(t *testing.T) {
	root := t.TempDir()
	repo := NewJourneyRepository(root)
	createJourney(t, repo, "morning")

	def := testutil.CreateTestDefinition(testutil.WithDefinitionID("morning"))
	require.NoError(t, repo.Publish(t.Context(), &models.PublishedVersion{JourneyID: "morning", Definition: def}, nil))

	// simulate a partially applied publish: version stored, pointer not advanced
	doc, err := repo.load("morning")
	require.NoError(t, err)
	doc.Versions = append(doc.Versions, &models.PublishedVersion{JourneyID: "morning", Version: 2, Definition: def})
	require.NoError(t, writeDocument(repo.path("morning"), doc))

	err = repo.Publish(t.Context(), &models.PublishedVersion{JourneyID: "morning", Definition: def}, nil)
	require.ErrorIs(t, err, persistence.ErrJourneyInconsistent)

	journey, err := repo.GetJourney(t.Context(), "morning")
	require.NoError(t, err)
	assert.True(t, journey.Inconsistent)

	err = repo.Publish(t.Context(), &models.PublishedVersion{JourneyID: "morning", Definition: def}, nil)
	require.ErrorIs(t, err, persistence.ErrJourneyInconsistent)

	reconcile := &models.AuditLogEntry{Action: models.AuditActionReconcile, CreatedBy: "operator"}
	journey, err = repo.Reconcile(t.Context(), "morning", reconcile)
	require.NoError(t, err)
	assert.False(t, journey.Inconsistent)
	assert.Equal(t, 2, journey.CurrentPublishedVersion)
	assert.Equal(t, 1, reconcile.Details["from_version"])

	version := &models.PublishedVersion{JourneyID: "morning", Definition: def}
	require.NoError(t, repo.Publish(t.Context(), version, nil))
	assert.Equal(t, 3, version.Version)
}

func TestJourneyRepository_StatusAndAudit(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Journeys()
	createJourney(t, repo, "morning")

	require.NoError(t, repo.SetStatus(t.Context(), "morning", models.JourneyStatusArchived,
		&models.AuditLogEntry{Action: models.AuditActionStatus, CreatedBy: "editor", Details: map[string]any{"status": "archived"}}))

	journey, err := repo.GetJourney(t.Context(), "morning")
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusArchived, journey.Status)

	base := time.Now().UTC().Add(time.Hour)
	for i := 0; i < 5; i++ {
		entry := &models.AuditLogEntry{
			JourneyID: "morning",
			Action:    models.AuditActionValidate,
			CreatedBy: "editor",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Details:   map[string]any{"n": i},
		}
		require.NoError(t, repo.AppendAudit(t.Context(), entry))
	}

	all, err := repo.ListAudit(t.Context(), persistence.ListAuditOptions{JourneyID: "morning"})
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, float64(4), all[0].Details["n"])
	assert.Equal(t, models.AuditActionCreate, all[6].Action)

	page, err := repo.ListAudit(t.Context(), persistence.ListAuditOptions{JourneyID: "morning", Limit: 2, Before: all[1].CreatedAt})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, float64(2), page[0].Details["n"])
	assert.Equal(t, float64(1), page[1].Details["n"])
}

func newRun(id string) *models.Run {
	now := time.Now().UTC()

	return &models.Run{
		ID:            id,
		JourneyID:     "morning",
		Version:       1,
		ParticipantID: "participant-1",
		CurrentStepID: "a",
		Status:        models.RunStatusRunning,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

func startedEvent(run *models.Run) *models.Event {
	return &models.Event{ID: run.ID + "-0", RunID: run.ID, JourneyID: run.JourneyID, Seq: 0, Type: models.EventRunStarted, CreatedAt: run.StartedAt}
}

func TestRunRepository_CreateAndAdvance(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Runs()

	run := newRun("run-1")
	require.NoError(t, repo.CreateRun(t.Context(), run, []*models.Event{startedEvent(run)}))

	err := repo.CreateRun(t.Context(), newRun("run-1"), nil)
	assert.ErrorIs(t, err, persistence.ErrRunAlreadyExists)

	advanced, err := repo.Advance(t.Context(), "run-1", func(current *models.Run) (*persistence.RunUpdate, error) {
		next := *current
		next.CurrentStepID = "b"
		next.StepCount = 1
		next.EventCount = 2

		return &persistence.RunUpdate{
			Run:        &next,
			StepResult: &models.StepResult{RunID: current.ID, StepID: "a", StepIndex: 0, Status: models.StepResultCompleted},
			Events:     []*models.Event{{ID: "e1", RunID: current.ID, JourneyID: "morning", Seq: 1, Type: models.EventStepCompleted, CreatedAt: time.Now().UTC()}},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b", advanced.CurrentStepID)

	stored, err := repo.GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "b", stored.CurrentStepID)

	results, err := repo.ListStepResults(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, results, 1)

	events, err := repo.ListEvents(t.Context(), persistence.EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventRunStarted, events[0].Type)
}

func TestRunRepository_Advance_RejectsSequenceGaps(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Runs()

	run := newRun("run-1")
	require.NoError(t, repo.CreateRun(t.Context(), run, nil))

	_, err := repo.Advance(t.Context(), "run-1", func(current *models.Run) (*persistence.RunUpdate, error) {
		return &persistence.RunUpdate{Run: current, StepResult: &models.StepResult{StepIndex: 3}}, nil
	})
	assert.ErrorIs(t, err, persistence.ErrSequenceConflict)

	_, err = repo.Advance(t.Context(), "run-1", func(current *models.Run) (*persistence.RunUpdate, error) {
		return &persistence.RunUpdate{Run: current, Events: []*models.Event{{Seq: 5}}}, nil
	})
	assert.ErrorIs(t, err, persistence.ErrSequenceConflict)

	results, err := repo.ListStepResults(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunRepository_Advance_FuncErrorWritesNothing(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Runs()
	require.NoError(t, repo.CreateRun(t.Context(), newRun("run-1"), nil))

	boom := errors.New("boom")

	_, err := repo.Advance(t.Context(), "run-1", func(current *models.Run) (*persistence.RunUpdate, error) {
		current.CurrentStepID = "mutated"
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := repo.GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.CurrentStepID)

	_, err = repo.Advance(t.Context(), "missing", func(*models.Run) (*persistence.RunUpdate, error) { return nil, nil })
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_Advance_SerializesSameRun(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Runs()
	require.NoError(t, repo.CreateRun(t.Context(), newRun("run-1"), nil))

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.Advance(t.Context(), "run-1", func(current *models.Run) (*persistence.RunUpdate, error) {
				next := *current
				next.StepCount++

				return &persistence.RunUpdate{
					Run:        &next,
					StepResult: &models.StepResult{RunID: current.ID, StepID: "a", StepIndex: current.StepCount},
				}, nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	results, err := repo.ListStepResults(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, results, 10)

	for i, result := range results {
		assert.Equal(t, i, result.StepIndex)
	}
}

func TestRunRepository_ListRunsAndEvents(t *testing.T) {
	repo := NewPersistence(t.TempDir()).Runs()

	old := time.Now().UTC().Add(-2 * time.Hour)

	for i := 0; i < 3; i++ {
		run := newRun(fmt.Sprintf("run-%d", i))
		run.StartedAt = old.Add(time.Duration(i) * time.Minute)
		run.UpdatedAt = run.StartedAt

		if i == 2 {
			run.Status = models.RunStatusCompleted
			run.JourneyID = "evening"
		}

		require.NoError(t, repo.CreateRun(t.Context(), run, []*models.Event{startedEvent(run)}))
	}

	running, err := repo.ListRuns(t.Context(), persistence.RunFilter{Status: models.RunStatusRunning, UpdatedBefore: time.Now()})
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "run-0", running[0].ID)

	evening, err := repo.ListRuns(t.Context(), persistence.RunFilter{JourneyID: "evening"})
	require.NoError(t, err)
	require.Len(t, evening, 1)

	none, err := repo.ListRuns(t.Context(), persistence.RunFilter{UpdatedBefore: old})
	require.NoError(t, err)
	assert.Empty(t, none)

	events, err := repo.ListEvents(t.Context(), persistence.EventFilter{JourneyID: "morning"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	windowed, err := repo.ListEvents(t.Context(), persistence.EventFilter{Since: old.Add(30 * time.Second), Until: old.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "run-1", windowed[0].RunID)
}
