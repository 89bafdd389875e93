package mocks

import (
	"context"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockJourneyRepository is a mock implementation of persistence.JourneyRepository interface.
type MockJourneyRepository struct {
	mock.Mock
}

func (m *MockJourneyRepository) CreateJourney(ctx context.Context, journey *models.Journey, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, journey, entry)

	return args.Error(0)
}

func (m *MockJourneyRepository) GetJourney(ctx context.Context, journeyID string) (*models.Journey, error) {
	args := m.Called(ctx, journeyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Journey), args.Error(1)
}

func (m *MockJourneyRepository) ListJourneys(ctx context.Context) ([]*models.Journey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Journey), args.Error(1)
}

func (m *MockJourneyRepository) GetDraft(ctx context.Context, journeyID string) (*models.Draft, error) {
	args := m.Called(ctx, journeyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Draft), args.Error(1)
}

func (m *MockJourneyRepository) CreateDraft(ctx context.Context, draft *models.Draft, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, draft, entry)

	return args.Error(0)
}

func (m *MockJourneyRepository) SaveDraft(ctx context.Context, draft *models.Draft, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, draft, entry)

	return args.Error(0)
}

func (m *MockJourneyRepository) Publish(ctx context.Context, version *models.PublishedVersion, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, version, entry)

	return args.Error(0)
}

func (m *MockJourneyRepository) GetVersion(ctx context.Context, journeyID string, version int) (*models.PublishedVersion, error) {
	args := m.Called(ctx, journeyID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.PublishedVersion), args.Error(1)
}

func (m *MockJourneyRepository) ListVersions(ctx context.Context, journeyID string) ([]*models.PublishedVersion, error) {
	args := m.Called(ctx, journeyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.PublishedVersion), args.Error(1)
}

func (m *MockJourneyRepository) SetStatus(ctx context.Context, journeyID string, status models.JourneyStatus, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, journeyID, status, entry)

	return args.Error(0)
}

func (m *MockJourneyRepository) Reconcile(ctx context.Context, journeyID string, entry *models.AuditLogEntry) (*models.Journey, error) {
	args := m.Called(ctx, journeyID, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Journey), args.Error(1)
}

func (m *MockJourneyRepository) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockJourneyRepository) ListAudit(ctx context.Context, opts persistence.ListAuditOptions) ([]*models.AuditLogEntry, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AuditLogEntry), args.Error(1)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, run *models.Run, events []*models.Event) error {
	args := m.Called(ctx, run, events)

	return args.Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockRunRepository) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Run), args.Error(1)
}

func (m *MockRunRepository) Advance(ctx context.Context, runID string, fn persistence.AdvanceFunc) (*models.Run, error) {
	args := m.Called(ctx, runID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockRunRepository) ListStepResults(ctx context.Context, runID string) ([]*models.StepResult, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StepResult), args.Error(1)
}

func (m *MockRunRepository) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]*models.Event, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Event), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	JourneyRepo *MockJourneyRepository
	RunRepo     *MockRunRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		JourneyRepo: &MockJourneyRepository{},
		RunRepo:     &MockRunRepository{},
	}
}

func (m *MockPersistence) Journeys() persistence.JourneyRepository {
	return m.JourneyRepo
}

func (m *MockPersistence) Runs() persistence.RunRepository {
	return m.RunRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
