// Package models defines the core domain models for versioned journey definitions and their runs.
package models

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrStepNotFound is returned when a step id is not a key of the definition's steps.
var ErrStepNotFound = errors.New("step not found")

// JourneyDefinition is the directed graph of a journey: steps keyed by id and ordered conditional edges.
type JourneyDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	EntryStepID string           `json:"entry_step_id,omitempty"`
	Steps       map[string]*Step `json:"steps"`
	Edges       []*Edge          `json:"edges"`
}

// Edge is a directed, conditional transition between two steps.
type Edge struct {
	FromStepID string     `json:"from_step_id"`
	ToStepID   string     `json:"to_step_id"`
	Condition  *Condition `json:"condition,omitempty"`
	Priority   int        `json:"priority"`
}

// EffectiveCondition returns the edge condition, treating a missing condition as "always".
func (e *Edge) EffectiveCondition() Condition {
	if e.Condition == nil || e.Condition.Type == "" {
		return Condition{Type: ConditionAlways}
	}

	return *e.Condition
}

// String renders the edge the way validation messages refer to it.
func (e *Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.FromStepID, e.ToStepID)
}

// NewJourneyDefinition returns an empty skeleton for the given journey.
func NewJourneyDefinition(id, name string) *JourneyDefinition {
	return &JourneyDefinition{
		ID:    id,
		Name:  name,
		Steps: make(map[string]*Step),
		Edges: make([]*Edge, 0),
	}
}

// GetStep returns the step with the given id.
func (d *JourneyDefinition) GetStep(id string) (*Step, error) {
	step, ok := d.Steps[id]
	if !ok || step == nil {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}

	return step, nil
}

// OutgoingEdges returns the edges leaving stepID in ascending priority, keeping declaration order on ties.
func (d *JourneyDefinition) OutgoingEdges(stepID string) []*Edge {
	outgoing := make([]*Edge, 0)

	for _, edge := range d.Edges {
		if edge != nil && edge.FromStepID == stepID {
			outgoing = append(outgoing, edge)
		}
	}

	slices.SortStableFunc(outgoing, func(a, b *Edge) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	return outgoing
}

// IsTerminal reports whether no edge leaves stepID.
func (d *JourneyDefinition) IsTerminal(stepID string) bool {
	for _, edge := range d.Edges {
		if edge != nil && edge.FromStepID == stepID {
			return false
		}
	}

	return true
}

// StartStepID returns the declared start step. Without an explicit entry step the origin of the first
// edge is used, and a single-step definition starts at its only step.
func (d *JourneyDefinition) StartStepID() string {
	if d.EntryStepID != "" {
		return d.EntryStepID
	}

	for _, edge := range d.Edges {
		if edge != nil && edge.FromStepID != "" {
			return edge.FromStepID
		}
	}

	if len(d.Steps) == 1 {
		for id := range d.Steps {
			return id
		}
	}

	return ""
}

// StepIDs returns the step ids in sorted order so callers iterate deterministically.
func (d *JourneyDefinition) StepIDs() []string {
	ids := make([]string, 0, len(d.Steps))
	for id := range d.Steps {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Clone returns a deep copy of the definition. Published versions are frozen from a clone.
func (d *JourneyDefinition) Clone() (*JourneyDefinition, error) {
	if d == nil {
		return nil, nil
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition: %w", err)
	}

	var clone JourneyDefinition
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	if clone.Steps == nil {
		clone.Steps = make(map[string]*Step)
	}

	if clone.Edges == nil {
		clone.Edges = make([]*Edge, 0)
	}

	return &clone, nil
}
