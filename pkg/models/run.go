package models

import "time"

// RunStatus represents the state of a run. Only running is non-terminal.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAbandoned RunStatus = "abandoned"
)

// IsTerminal reports whether no further transition is possible from the status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusAbandoned
}

// Run is one participant's traversal of a published version or, for previews, of a draft.
type Run struct {
	ID            string         `json:"run_id"`
	JourneyID     string         `json:"journey_id"`
	Version       int            `json:"version,omitempty"`
	DraftID       *string        `json:"draft_id,omitempty"`
	ParticipantID string         `json:"participant_id"`
	CurrentStepID string         `json:"current_step_id"`
	Status        RunStatus      `json:"status"`
	Context       map[string]any `json:"context,omitempty"`
	Participant   map[string]any `json:"participant,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	StepCount     int            `json:"step_count"`
	EventCount    int            `json:"event_count"`
	StartedAt     time.Time      `json:"started_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// IsPreview reports whether the run is bound to a draft rather than a published version.
func (r *Run) IsPreview() bool {
	return r.DraftID != nil
}

// StepResultStatus is the outcome of one step.
type StepResultStatus string

const (
	StepResultCompleted StepResultStatus = "completed"
	StepResultFailed    StepResultStatus = "failed"
)

// StepResult records one completed step within a run. StepIndex is gap-free per run.
type StepResult struct {
	RunID      string           `json:"run_id"`
	StepID     string           `json:"step_id"`
	StepIndex  int              `json:"step_index"`
	Input      map[string]any   `json:"input,omitempty"`
	Output     map[string]any   `json:"output,omitempty"`
	Status     StepResultStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Event types emitted by the runtime. Steps may emit additional domain event types.
const (
	EventRunStarted     = "run.started"
	EventStepCompleted  = "step.completed"
	EventStepTransition = "step.transition"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
	EventRunAbandoned   = "run.abandoned"
)

// Event is a timestamped fact emitted during a run. Seq is gap-free per run.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	JourneyID string         `json:"journey_id"`
	Seq       int            `json:"seq"`
	StepID    string         `json:"step_id,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
