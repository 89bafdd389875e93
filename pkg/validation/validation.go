// Package validation checks journey definitions in two severities: draft mode guards structural soundness
// so work in progress can be saved, publish mode additionally guards everything a participant could trip on.
package validation

import (
	"embed"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Mode selects the severity of a validation pass.
type Mode string

const (
	ModeDraft   Mode = "draft"
	ModePublish Mode = "publish"
)

// ParseMode converts a user supplied mode, defaulting to draft.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDraft:
		return ModeDraft, nil
	case ModePublish:
		return ModePublish, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q", s)
	}
}

// Result is the outcome of a validation pass. Errors block the action, warnings never do.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type report struct {
	errors   []string
	warnings []string
}

func (r *report) errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *report) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *report) result() Result {
	errs := r.errors
	if errs == nil {
		errs = []string{}
	}

	warnings := r.warnings
	if warnings == nil {
		warnings = []string{}
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// Validator validates definitions. It holds no per-call state and is safe for concurrent use.
type Validator struct {
	conditions *conditions.Registry
	schemas    map[models.StepType]*gojsonschema.Schema
}

// New creates a validator using the given condition registry and the embedded payload schemas.
func New(registry *conditions.Registry) (*Validator, error) {
	if registry == nil {
		registry = conditions.NewRegistry()
	}

	schemas := make(map[models.StepType]*gojsonschema.Schema, len(models.KnownStepTypes()))

	for _, stepType := range models.KnownStepTypes() {
		raw, err := schemaFiles.ReadFile("schemas/" + string(stepType) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s payload schema: %w", stepType, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s payload schema: %w", stepType, err)
		}

		schemas[stepType] = schema
	}

	return &Validator{conditions: registry, schemas: schemas}, nil
}

// Validate checks def under mode. It never mutates def.
func (v *Validator) Validate(def *models.JourneyDefinition, mode Mode) Result {
	r := &report{}

	if def == nil {
		r.errorf("definition is required")
		return r.result()
	}

	v.checkStructure(def, r)

	structural := len(r.errors)

	v.checkPayloads(def, mode, r)
	v.checkDuplicateEdges(def, r)

	if structural > 0 {
		// graph checks on a broken graph only repeat the structural errors
		return r.result()
	}

	v.checkGraph(def, mode, r)

	return r.result()
}

func (v *Validator) checkStructure(def *models.JourneyDefinition, r *report) {
	if strings.TrimSpace(def.ID) == "" {
		r.errorf("definition id is required")
	}

	if strings.TrimSpace(def.Name) == "" {
		r.warnf("definition has no name")
	}

	if len(def.Steps) == 0 {
		r.errorf("definition must contain at least one step")
	}

	for _, id := range def.StepIDs() {
		step := def.Steps[id]

		switch {
		case step == nil:
			r.errorf("step %q is empty", id)
			continue
		case step.ID != id:
			r.errorf("step %q: id %q does not match its key", id, step.ID)
		}

		if !step.StepType.IsKnown() {
			r.errorf("step %q: unknown step_type %q", id, step.StepType)
		} else if step.Payload != nil && step.Payload.StepType() != step.StepType {
			r.errorf("step %q: %s payload does not match step_type %q", id, step.Payload.StepType(), step.StepType)
		}

		if strings.TrimSpace(step.Label) == "" {
			r.warnf("step %q has no label", id)
		}

		for i, capture := range step.Capture {
			if strings.TrimSpace(capture) == "" {
				r.errorf("step %q: capture %d is empty", id, i)
			}
		}

		for i, emit := range step.Emit {
			if strings.TrimSpace(emit.EventType) == "" {
				r.errorf("step %q: emit %d has no event_type", id, i)
			}
		}
	}

	for i, edge := range def.Edges {
		if edge == nil {
			r.errorf("edge %d is empty", i)
			continue
		}

		missing := make([]string, 0, 2)

		if _, ok := def.Steps[edge.FromStepID]; !ok {
			missing = append(missing, fmt.Sprintf("from_step_id %q", edge.FromStepID))
		}

		if _, ok := def.Steps[edge.ToStepID]; !ok {
			missing = append(missing, fmt.Sprintf("to_step_id %q", edge.ToStepID))
		}

		if len(missing) > 0 {
			r.errorf("edge %s references unknown step: %s", edge, strings.Join(missing, ", "))
		}

		if err := v.conditions.Check(edge.EffectiveCondition()); err != nil {
			r.errorf("edge %s: %v", edge, err)
		}
	}

	if def.EntryStepID != "" {
		if _, ok := def.Steps[def.EntryStepID]; !ok {
			r.errorf("entry_step_id %q does not exist in steps", def.EntryStepID)
		}
	}
}

// checkPayloads validates payloads against their JSON schema. Violations are warnings while drafting and
// errors when publishing.
func (v *Validator) checkPayloads(def *models.JourneyDefinition, mode Mode, r *report) {
	for _, id := range def.StepIDs() {
		step := def.Steps[id]
		if step == nil || !step.StepType.IsKnown() {
			continue
		}

		if step.Payload != nil && step.Payload.StepType() != step.StepType {
			continue
		}

		schema, ok := v.schemas[step.StepType]
		if !ok {
			continue
		}

		var document any = map[string]any{}
		if step.Payload != nil {
			document = step.Payload
		}

		result, err := schema.Validate(gojsonschema.NewGoLoader(document))
		if err != nil {
			r.errorf("step %q: payload could not be validated: %v", id, err)
			continue
		}

		for _, desc := range result.Errors() {
			message := fmt.Sprintf("step %q: payload %s: %s", id, desc.Field(), desc.Description())
			if mode == ModePublish {
				r.errorf("%s", message)
			} else {
				r.warnf("%s", message)
			}
		}

		if decision, ok := step.Payload.(*models.DecisionPayload); ok {
			seen := make(map[string]bool, len(decision.Choices))
			for _, choice := range decision.Choices {
				if seen[choice.ChoiceID] {
					r.warnf("step %q: duplicate choice_id %q", id, choice.ChoiceID)
				}

				seen[choice.ChoiceID] = true
			}
		}
	}
}

func (v *Validator) checkDuplicateEdges(def *models.JourneyDefinition, r *report) {
	seen := make(map[string]bool, len(def.Edges))

	for _, edge := range def.Edges {
		if edge == nil {
			continue
		}

		cond := edge.EffectiveCondition()
		key := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%v", edge.FromStepID, edge.ToStepID, cond.Type, cond.Expr, cond.EventName, cond.Field, cond.Value)

		if seen[key] {
			r.warnf("edge %s is declared more than once", edge)
		}

		seen[key] = true
	}
}

func (v *Validator) checkGraph(def *models.JourneyDefinition, mode Mode, r *report) {
	start := def.StartStepID()
	if start == "" {
		if mode == ModePublish {
			r.errorf("no start step: declare entry_step_id")
		} else {
			r.warnf("no start step: declare entry_step_id")
		}

		return
	}

	reachable := Reachable(def, start)

	for _, id := range def.StepIDs() {
		if reachable[id] {
			continue
		}

		if mode == ModePublish {
			r.errorf("step %q is unreachable from start step %q", id, start)
		} else {
			r.warnf("step %q is unreachable from start step %q", id, start)
		}
	}

	terminalReachable := false
	for id := range reachable {
		if def.IsTerminal(id) {
			terminalReachable = true
			break
		}
	}

	if !terminalReachable {
		if mode == ModePublish {
			r.errorf("no terminal step is reachable from start step %q", start)
		} else {
			r.warnf("no terminal step is reachable from start step %q", start)
		}
	}

	for _, id := range def.StepIDs() {
		outgoing := def.OutgoingEdges(id)
		if len(outgoing) == 0 {
			continue
		}

		satisfiable := slices.ContainsFunc(outgoing, func(edge *models.Edge) bool {
			return v.conditions.Satisfiable(edge.EffectiveCondition())
		})

		if !satisfiable {
			if mode == ModePublish {
				r.errorf("step %q has no satisfiable outgoing edge", id)
			} else {
				r.warnf("step %q has no satisfiable outgoing edge", id)
			}
		}

		for i, edge := range outgoing {
			if edge.EffectiveCondition().Type != models.ConditionAlways {
				continue
			}

			for _, shadowed := range outgoing[i+1:] {
				r.warnf("edge %s is never taken: %s always matches first", shadowed, edge)
			}

			break
		}
	}
}

// Reachable returns the set of steps reached by a breadth-first walk over edges from start.
func Reachable(def *models.JourneyDefinition, start string) map[string]bool {
	visited := make(map[string]bool, len(def.Steps))
	if _, ok := def.Steps[start]; !ok {
		return visited
	}

	visited[start] = true
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range def.OutgoingEdges(current) {
			if _, ok := def.Steps[edge.ToStepID]; !ok || visited[edge.ToStepID] {
				continue
			}

			visited[edge.ToStepID] = true
			queue = append(queue, edge.ToStepID)
		}
	}

	return visited
}
