package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StepType is the closed set of step kinds a journey can contain.
type StepType string

const (
	StepTypeContent    StepType = "content"    // renders content
	StepTypeExperience StepType = "experience" // guided practice the participant performs
	StepTypeDecision   StepType = "decision"   // branching point driven by a participant choice
	StepTypeAction     StepType = "action"     // requires a participant action outside the screen
)

// KnownStepTypes lists every step type the engine can run.
func KnownStepTypes() []StepType {
	return []StepType{StepTypeContent, StepTypeExperience, StepTypeDecision, StepTypeAction}
}

// IsKnown reports whether the step type is one of the known variants.
func (t StepType) IsKnown() bool {
	switch t {
	case StepTypeContent, StepTypeExperience, StepTypeDecision, StepTypeAction:
		return true
	default:
		return false
	}
}

// Step is a node in the journey graph.
type Step struct {
	ID       string     `json:"id"`
	StepType StepType   `json:"step_type"`
	Label    string     `json:"label,omitempty"`
	Payload  Payload    `json:"payload,omitempty"`
	Capture  []string   `json:"capture,omitempty"`
	Emit     []EmitSpec `json:"emit,omitempty"`
}

// EmitSpec declares a domain event the step emits when a result is submitted for it.
// String values in Payload are rendered as templates against the run.
type EmitSpec struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Payload is the type-specific configuration of a step, one variant per StepType.
type Payload interface {
	StepType() StepType
}

// ContentPayload configures a content step.
type ContentPayload struct {
	Title          string `json:"title,omitempty"`
	Body           string `json:"body,omitempty"`
	ScreenTemplate string `json:"screen_template,omitempty"`
}

func (ContentPayload) StepType() StepType { return StepTypeContent }

// ExperiencePayload configures a guided practice.
type ExperiencePayload struct {
	PracticeID      string `json:"practice_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	AudioSource     string `json:"audio_source,omitempty"`
	AudioRef        string `json:"audio_ref,omitempty"`
}

func (ExperiencePayload) StepType() StepType { return StepTypeExperience }

// Choice is one option offered by a decision step.
type Choice struct {
	ChoiceID         string   `json:"choice_id"`
	Label            string   `json:"label"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// DecisionPayload configures a decision step.
type DecisionPayload struct {
	Prompt  string   `json:"prompt,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
}

func (DecisionPayload) StepType() StepType { return StepTypeDecision }

// ActionPayload configures an action step.
type ActionPayload struct {
	ActionKey string         `json:"action_key,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

func (ActionPayload) StepType() StepType { return StepTypeAction }

// UnknownPayload keeps the raw payload of a step whose type is not known to the engine.
type UnknownPayload struct {
	Type StepType
	Raw  json.RawMessage
}

func (p UnknownPayload) StepType() StepType { return p.Type }

func (p UnknownPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}

	return p.Raw, nil
}

type stepJSON struct {
	ID       string          `json:"id"`
	StepType StepType        `json:"step_type"`
	Label    string          `json:"label,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Capture  []string        `json:"capture,omitempty"`
	Emit     []EmitSpec      `json:"emit,omitempty"`
}

// UnmarshalJSON decodes the payload into the variant selected by step_type.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := DecodePayload(raw.StepType, raw.Payload)
	if err != nil {
		return fmt.Errorf("step %q: %w", raw.ID, err)
	}

	*s = Step{
		ID:       raw.ID,
		StepType: raw.StepType,
		Label:    raw.Label,
		Payload:  payload,
		Capture:  raw.Capture,
		Emit:     raw.Emit,
	}

	return nil
}

// DecodePayload decodes a raw payload for the given step type. Unknown types produce an UnknownPayload
// instead of an error so validation can report them next to the step.
func DecodePayload(stepType StepType, raw json.RawMessage) (Payload, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	var payload Payload

	switch stepType {
	case StepTypeContent:
		payload = &ContentPayload{}
	case StepTypeExperience:
		payload = &ExperiencePayload{}
	case StepTypeDecision:
		payload = &DecisionPayload{}
	case StepTypeAction:
		payload = &ActionPayload{}
	default:
		if empty {
			return UnknownPayload{Type: stepType}, nil
		}

		return UnknownPayload{Type: stepType, Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	if !empty {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", stepType, err)
		}
	}

	return payload, nil
}
