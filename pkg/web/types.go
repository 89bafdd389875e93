// Package web provides HTTP request and response types for the journey API.
package web

import (
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/services"
	"github.com/dukex/journey/pkg/validation"
)

// ActorHeader names the editor or system performing a mutation.
const ActorHeader = "X-Actor"

// CreateJourneyRequest represents the request body for registering a new journey.
type CreateJourneyRequest struct {
	ID   string `json:"id"   validate:"required,slug"`
	Name string `json:"name" validate:"required,min=3"`
}

// SetStatusRequest archives or restores a journey.
type SetStatusRequest struct {
	Status models.JourneyStatus `json:"status" validate:"required,oneof=draft published archived"`
}

// ValidateRequest validates a definition that is not stored anywhere.
type ValidateRequest struct {
	Mode       string                    `json:"mode"       validate:"omitempty,oneof=draft publish"`
	Definition *models.JourneyDefinition `json:"definition" validate:"required"`
}

// ValidateDraftRequest validates the stored draft.
type ValidateDraftRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=draft publish"`
}

// PublishRequest represents the request body for publishing the draft.
type PublishRequest struct {
	ReleaseNotes string `json:"release_notes" validate:"max=2000"`
}

// RollbackRequest names the published version the draft is reseeded from.
type RollbackRequest struct {
	Version int `json:"version" validate:"required,min=1"`
}

// StartRunRequest starts a run for a participant. Preview runs follow the draft.
type StartRunRequest struct {
	JourneyID     string `json:"journey_id"     validate:"required"`
	ParticipantID string `json:"participant_id" validate:"required"`
	Preview       bool   `json:"preview"`
}

// SubmitStepRequest carries the output of the step the participant finished.
type SubmitStepRequest struct {
	StepID string         `json:"step_id" validate:"required"`
	Output map[string]any `json:"output"`
}

// AbandonRunRequest represents the optional body of an abandon call.
type AbandonRunRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ValidationResponse is the outcome of a validation.
type ValidationResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// NewValidationResponse converts a validation result, never rendering nil lists.
func NewValidationResponse(result validation.Result) ValidationResponse {
	response := ValidationResponse{
		Valid:    result.Valid,
		Errors:   result.Errors,
		Warnings: result.Warnings,
	}

	if response.Errors == nil {
		response.Errors = []string{}
	}

	if response.Warnings == nil {
		response.Warnings = []string{}
	}

	return response
}

// DraftResponse is a stored draft together with the warnings of its last validation.
type DraftResponse struct {
	*models.Draft

	Warnings []string `json:"warnings"`
}

// RunResponse is a run together with the step the participant should see next.
type RunResponse struct {
	*models.Run

	CurrentStep *models.Step `json:"current_step"`
}

// NewRunResponse flattens a run state for the API.
func NewRunResponse(state *services.RunState) RunResponse {
	return RunResponse{Run: state.Run, CurrentStep: state.CurrentStep}
}
