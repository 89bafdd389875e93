// Package conditions evaluates edge conditions through a closed registry of evaluators, one per condition kind.
package conditions

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dukex/journey/pkg/models"
)

var (
	// ErrUnknownCondition indicates a condition kind with no registered evaluator.
	ErrUnknownCondition = errors.New("unknown condition type")

	// ErrInvalidCondition indicates a registered condition kind with missing or malformed parameters.
	ErrInvalidCondition = errors.New("invalid condition")
)

// Env is the data a condition is evaluated against: the submitted output, the run's captured context
// and the participant attributes supplied when the run started.
type Env struct {
	StepID      string
	Output      map[string]any
	Context     map[string]any
	Participant map[string]any
}

// Map returns the environment exposed to expressions.
func (e Env) Map() map[string]any {
	return map[string]any{
		"step_id":     e.StepID,
		"output":      nonNil(e.Output),
		"context":     nonNil(e.Context),
		"participant": nonNil(e.Participant),
	}
}

// Lookup resolves a dotted path, looking in the output first, then the run context, then the participant.
// A path may also be rooted explicitly at "output.", "context." or "participant.".
func (e Env) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	if root, rest, found := strings.Cut(path, "."); found {
		switch root {
		case "output":
			return lookupPath(e.Output, rest)
		case "context":
			return lookupPath(e.Context, rest)
		case "participant":
			return lookupPath(e.Participant, rest)
		}
	}

	for _, source := range []map[string]any{e.Output, e.Context, e.Participant} {
		if value, ok := lookupPath(source, path); ok {
			return value, true
		}
	}

	return nil, false
}

func lookupPath(data map[string]any, path string) (any, bool) {
	var current any = data

	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	return current, current != nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

// Evaluator implements one condition kind.
type Evaluator interface {
	// Check reports whether the condition is well formed.
	Check(cond models.Condition) error
	// Satisfiable reports whether the condition can ever evaluate to true, judged without run data.
	Satisfiable(cond models.Condition) bool
	// Evaluate decides the condition against a run environment.
	Evaluate(cond models.Condition, env Env) (bool, error)
}

// Registry maps condition kinds to evaluators. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[models.ConditionType]Evaluator
}

// NewRegistry returns a registry with every built-in condition kind registered.
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[models.ConditionType]Evaluator)}

	r.Register(models.ConditionAlways, constant(true))
	r.Register(models.ConditionNever, constant(false))
	r.Register(models.ConditionExpression, NewExpressionEvaluator())
	r.Register(models.ConditionEvent, eventEvaluator{})
	r.Register(models.ConditionFieldExists, fieldExistsEvaluator{})
	r.Register(models.ConditionFieldEquals, fieldEqualsEvaluator{})

	return r
}

// Register installs or replaces the evaluator for a kind.
func (r *Registry) Register(kind models.ConditionType, evaluator Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluators[kind] = evaluator
}

// Kinds returns the registered condition kinds.
func (r *Registry) Kinds() []models.ConditionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.ConditionType, 0, len(r.evaluators))
	for kind := range r.evaluators {
		kinds = append(kinds, kind)
	}

	return kinds
}

func (r *Registry) lookup(kind models.ConditionType) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	evaluator, ok := r.evaluators[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, kind)
	}

	return evaluator, nil
}

// Check validates a condition against its registered evaluator.
func (r *Registry) Check(cond models.Condition) error {
	evaluator, err := r.lookup(cond.Type)
	if err != nil {
		return err
	}

	return evaluator.Check(cond)
}

// Satisfiable reports whether a registered, well-formed condition can ever be true.
func (r *Registry) Satisfiable(cond models.Condition) bool {
	evaluator, err := r.lookup(cond.Type)
	if err != nil {
		return false
	}

	if evaluator.Check(cond) != nil {
		return false
	}

	return evaluator.Satisfiable(cond)
}

// Evaluate decides a condition against env.
func (r *Registry) Evaluate(cond models.Condition, env Env) (bool, error) {
	evaluator, err := r.lookup(cond.Type)
	if err != nil {
		return false, err
	}

	return evaluator.Evaluate(cond, env)
}

type constant bool

func (c constant) Check(models.Condition) error { return nil }

func (c constant) Satisfiable(models.Condition) bool { return bool(c) }

func (c constant) Evaluate(models.Condition, Env) (bool, error) { return bool(c), nil }

// eventEvaluator matches when the output names the event, either as "event" or inside an "events" list.
type eventEvaluator struct{}

func (eventEvaluator) Check(cond models.Condition) error {
	if strings.TrimSpace(cond.EventName) == "" {
		return fmt.Errorf("%w: event condition requires event_name", ErrInvalidCondition)
	}

	return nil
}

func (eventEvaluator) Satisfiable(models.Condition) bool { return true }

func (eventEvaluator) Evaluate(cond models.Condition, env Env) (bool, error) {
	if name, ok := env.Output["event"].(string); ok && name == cond.EventName {
		return true, nil
	}

	switch names := env.Output["events"].(type) {
	case []any:
		for _, name := range names {
			if s, ok := name.(string); ok && s == cond.EventName {
				return true, nil
			}
		}
	case []string:
		for _, name := range names {
			if name == cond.EventName {
				return true, nil
			}
		}
	}

	return false, nil
}

type fieldExistsEvaluator struct{}

func (fieldExistsEvaluator) Check(cond models.Condition) error {
	if strings.TrimSpace(cond.Field) == "" {
		return fmt.Errorf("%w: field_exists condition requires field", ErrInvalidCondition)
	}

	return nil
}

func (fieldExistsEvaluator) Satisfiable(models.Condition) bool { return true }

func (fieldExistsEvaluator) Evaluate(cond models.Condition, env Env) (bool, error) {
	_, ok := env.Lookup(cond.Field)

	return ok, nil
}

type fieldEqualsEvaluator struct{}

func (fieldEqualsEvaluator) Check(cond models.Condition) error {
	if strings.TrimSpace(cond.Field) == "" {
		return fmt.Errorf("%w: field_equals condition requires field", ErrInvalidCondition)
	}

	if cond.Value == nil {
		return fmt.Errorf("%w: field_equals condition requires value", ErrInvalidCondition)
	}

	return nil
}

func (fieldEqualsEvaluator) Satisfiable(models.Condition) bool { return true }

// Evaluate compares string renderings so JSON numbers and Go ints compare equal.
func (fieldEqualsEvaluator) Evaluate(cond models.Condition, env Env) (bool, error) {
	value, ok := env.Lookup(cond.Field)
	if !ok {
		return false, nil
	}

	return fmt.Sprint(value) == fmt.Sprint(cond.Value), nil
}
