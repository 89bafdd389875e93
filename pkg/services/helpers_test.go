package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/persistence/file"
	"github.com/dukex/journey/pkg/services"
	"github.com/dukex/journey/pkg/validation"
	"github.com/stretchr/testify/require"
)

const actor = "editor@example.com"

// zeroTime pages the audit log from the newest entry.
var zeroTime time.Time

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Millisecond)

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testEnv struct {
	persistence persistence.Persistence
	versions    *services.Versions
	runtime     *services.Runtime
	audit       *services.Audit
	clock       *fakeClock
}

func newTestValidator(t *testing.T) *validation.Validator {
	t.Helper()

	v, err := validation.New(conditions.NewRegistry())
	require.NoError(t, err)

	return v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, mutate ...func(*services.Options)) *testEnv {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	clock := newFakeClock()

	opts := services.Options{Logger: testLogger(), Now: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}

	return &testEnv{
		persistence: p,
		versions:    services.NewVersions(p, newTestValidator(t), opts),
		runtime:     services.NewRuntime(p, conditions.NewRegistry(), opts),
		audit:       services.NewAudit(p),
		clock:       clock,
	}
}

// publishDefinition creates journeyID, saves definition as its draft and publishes it.
func (e *testEnv) publishDefinition(t *testing.T, journeyID string, definition *models.JourneyDefinition) *models.PublishedVersion {
	t.Helper()

	ctx := context.Background()

	if _, err := e.versions.GetJourney(ctx, journeyID); persistence.IsJourneyNotFound(err) {
		_, err := e.versions.CreateJourney(ctx, journeyID, "Journey "+journeyID, actor)
		require.NoError(t, err)
	}

	_, _, err := e.versions.UpdateDraft(ctx, journeyID, definition, actor)
	require.NoError(t, err)

	version, err := e.versions.Publish(ctx, journeyID, actor, "release")
	require.NoError(t, err)

	return version
}

// saveDraft stores definition as the draft of a new journey, bypassing validation.
func (e *testEnv) saveDraft(t *testing.T, journeyID string, definition *models.JourneyDefinition) {
	t.Helper()

	ctx := context.Background()

	_, err := e.versions.CreateJourney(ctx, journeyID, "Journey "+journeyID, actor)
	require.NoError(t, err)

	err = e.persistence.Journeys().SaveDraft(ctx, &models.Draft{JourneyID: journeyID, Definition: definition, UpdatedBy: actor}, nil)
	require.NoError(t, err)
}
