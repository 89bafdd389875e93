// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/dukex/journey/pkg/models"
)

// CreateTestStep creates a step of the given type with a payload and label that pass publish validation.
func CreateTestStep(id string, stepType models.StepType, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:       id,
		StepType: stepType,
		Label:    fmt.Sprintf("Step %s", id),
	}

	switch stepType {
	case models.StepTypeContent:
		step.Payload = &models.ContentPayload{Title: "Welcome", Body: "Take a breath."}
	case models.StepTypeExperience:
		step.Payload = &models.ExperiencePayload{PracticeID: "box_breathing", DurationMinutes: 5}
	case models.StepTypeDecision:
		step.Payload = &models.DecisionPayload{
			Prompt: "How do you feel?",
			Choices: []models.Choice{
				{ChoiceID: "calm", Label: "Calm"},
				{ChoiceID: "restless", Label: "Restless"},
			},
		}
	case models.StepTypeAction:
		step.Payload = &models.ActionPayload{ActionKey: "log_practice"}
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithLabel sets the step label.
func WithLabel(label string) func(*models.Step) {
	return func(s *models.Step) {
		s.Label = label
	}
}

// WithPayload sets the step payload.
func WithPayload(payload models.Payload) func(*models.Step) {
	return func(s *models.Step) {
		s.Payload = payload
	}
}

// WithCapture sets the output fields captured into the run context.
func WithCapture(fields ...string) func(*models.Step) {
	return func(s *models.Step) {
		s.Capture = fields
	}
}

// WithEmit appends a declarative event to the step.
func WithEmit(eventType string, payload map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.Emit = append(s.Emit, models.EmitSpec{EventType: eventType, Payload: payload})
	}
}

// CreateTestDefinition creates a two step definition, content "a" followed by experience "b", that passes
// publish validation. Overrides are applied in order.
func CreateTestDefinition(overrides ...func(*models.JourneyDefinition)) *models.JourneyDefinition {
	def := &models.JourneyDefinition{
		ID:          "morning_practice",
		Name:        "Morning practice",
		EntryStepID: "a",
		Steps: map[string]*models.Step{
			"a": CreateTestStep("a", models.StepTypeContent),
			"b": CreateTestStep("b", models.StepTypeExperience),
		},
		Edges: []*models.Edge{
			{FromStepID: "a", ToStepID: "b", Condition: models.Always()},
		},
	}

	for _, override := range overrides {
		override(def)
	}

	return def
}

// WithDefinitionID sets the definition id.
func WithDefinitionID(id string) func(*models.JourneyDefinition) {
	return func(d *models.JourneyDefinition) {
		d.ID = id
	}
}

// WithStep adds or replaces a step.
func WithStep(step *models.Step) func(*models.JourneyDefinition) {
	return func(d *models.JourneyDefinition) {
		d.Steps[step.ID] = step
	}
}

// WithoutStep removes a step, leaving edges untouched.
func WithoutStep(id string) func(*models.JourneyDefinition) {
	return func(d *models.JourneyDefinition) {
		delete(d.Steps, id)
	}
}

// WithEdge appends an edge.
func WithEdge(from, to string, condition *models.Condition, priority int) func(*models.JourneyDefinition) {
	return func(d *models.JourneyDefinition) {
		d.Edges = append(d.Edges, &models.Edge{FromStepID: from, ToStepID: to, Condition: condition, Priority: priority})
	}
}

// WithoutEdges removes every edge.
func WithoutEdges() func(*models.JourneyDefinition) {
	return func(d *models.JourneyDefinition) {
		d.Edges = make([]*models.Edge, 0)
	}
}

// WithEntryStep sets the declared start step.
func WithEntryStep(id string) func(*models.JourneyDefinition) {
	return func(d *models.JourneyDefinition) {
		d.EntryStepID = id
	}
}

// CreateBranchingDefinition creates a definition with a decision step routing on the submitted choice:
// intro -> pick; pick -> calm when output.choice == "calm", otherwise pick -> done.
func CreateBranchingDefinition() *models.JourneyDefinition {
	return CreateTestDefinition(
		WithoutStep("a"),
		WithoutStep("b"),
		WithoutEdges(),
		WithEntryStep("intro"),
		WithStep(CreateTestStep("intro", models.StepTypeContent)),
		WithStep(CreateTestStep("pick", models.StepTypeDecision, WithCapture("choice"))),
		WithStep(CreateTestStep("calm", models.StepTypeExperience)),
		WithStep(CreateTestStep("done", models.StepTypeContent)),
		WithEdge("intro", "pick", models.Always(), 0),
		WithEdge("pick", "calm", models.Expression(`output.choice == "calm"`), 1),
		WithEdge("pick", "done", models.Always(), 2),
		WithEdge("calm", "done", nil, 0),
	)
}
