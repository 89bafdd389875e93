// Package events defines the messages published on the event bus after journey and run mutations commit.
package events

import (
	"time"

	"github.com/dukex/journey/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every journey and run notification.
const Topic = "journey.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Journey lifecycle events.
	JourneyCreatedEvent       EventType = "journey.created"
	JourneyPublishedEvent     EventType = "journey.published"
	JourneyStatusChangedEvent EventType = "journey.status_changed"
	JourneyReconciledEvent    EventType = "journey.reconciled"

	// Run lifecycle events mirror the persisted run event types.
	RunStartedEvent     EventType = EventType(models.EventRunStarted)
	StepCompletedEvent  EventType = EventType(models.EventStepCompleted)
	StepTransitionEvent EventType = EventType(models.EventStepTransition)
	RunCompletedEvent   EventType = EventType(models.EventRunCompleted)
	RunFailedEvent      EventType = EventType(models.EventRunFailed)
	RunAbandonedEvent   EventType = EventType(models.EventRunAbandoned)
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JourneyID string         `json:"journey_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, journeyID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		JourneyID: journeyID,
	}
}

type JourneyCreated struct {
	BaseEvent

	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

func (e JourneyCreated) GetType() EventType {
	return JourneyCreatedEvent
}

type JourneyPublished struct {
	BaseEvent

	Version      int    `json:"version"`
	PublishedBy  string `json:"published_by"`
	ReleaseNotes string `json:"release_notes,omitempty"`
}

func (e JourneyPublished) GetType() EventType {
	return JourneyPublishedEvent
}

type JourneyStatusChanged struct {
	BaseEvent

	Status    models.JourneyStatus `json:"status"`
	ChangedBy string               `json:"changed_by"`
}

func (e JourneyStatusChanged) GetType() EventType {
	return JourneyStatusChangedEvent
}

type JourneyReconciled struct {
	BaseEvent

	CurrentPublishedVersion int    `json:"current_published_version"`
	ReconciledBy            string `json:"reconciled_by"`
}

func (e JourneyReconciled) GetType() EventType {
	return JourneyReconciledEvent
}

// RunEvent is the bus form of a persisted run event, including the
// declarative events a step emits.
type RunEvent struct {
	BaseEvent

	RunID   string         `json:"run_id"`
	Seq     int            `json:"seq"`
	StepID  string         `json:"step_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (e RunEvent) GetType() EventType {
	return e.Type
}

// NewRunEvent converts a stored run event into its bus message.
func NewRunEvent(event *models.Event) *RunEvent {
	return &RunEvent{
		BaseEvent: BaseEvent{
			ID:        event.ID,
			Type:      EventType(event.Type),
			Timestamp: event.CreatedAt,
			JourneyID: event.JourneyID,
		},
		RunID:   event.RunID,
		Seq:     event.Seq,
		StepID:  event.StepID,
		Payload: event.Payload,
	}
}
