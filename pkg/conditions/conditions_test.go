package conditions

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Evaluate(t *testing.T) {
	registry := NewRegistry()

	env := Env{
		StepID:      "choose",
		Output:      map[string]any{"choice": "calm", "score": 7, "event": "timer_done", "answers": map[string]any{"mood": "good"}},
		Context:     map[string]any{"streak": 3},
		Participant: map[string]any{"level": "beginner"},
	}

	tests := []struct {
		name     string
		cond     models.Condition
		expected bool
	}{
		{name: "always", cond: models.Condition{Type: models.ConditionAlways}, expected: true},
		{name: "never", cond: models.Condition{Type: models.ConditionNever}, expected: false},
		{name: "expression on output", cond: *models.Expression(`output.choice == "calm"`), expected: true},
		{name: "expression on context", cond: *models.Expression(`context.streak >= 3 && output.score > 5`), expected: true},
		{name: "expression on participant", cond: *models.Expression(`participant.level == "advanced"`), expected: false},
		{name: "expression on step id", cond: *models.Expression(`step_id == "choose"`), expected: true},
		{name: "expression literal false", cond: *models.Expression("false"), expected: false},
		{name: "event matches", cond: *models.OnEvent("timer_done"), expected: true},
		{name: "event does not match", cond: *models.OnEvent("skipped"), expected: false},
		{name: "field exists in output", cond: models.Condition{Type: models.ConditionFieldExists, Field: "answers.mood"}, expected: true},
		{name: "field exists in context", cond: models.Condition{Type: models.ConditionFieldExists, Field: "streak"}, expected: true},
		{name: "field missing", cond: models.Condition{Type: models.ConditionFieldExists, Field: "answers.energy"}, expected: false},
		{name: "field equals string", cond: models.Condition{Type: models.ConditionFieldEquals, Field: "choice", Value: "calm"}, expected: true},
		{name: "field equals number across types", cond: models.Condition{Type: models.ConditionFieldEquals, Field: "context.streak", Value: float64(3)}, expected: true},
		{name: "field equals mismatch", cond: models.Condition{Type: models.ConditionFieldEquals, Field: "participant.level", Value: "advanced"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := registry.Evaluate(tt.cond, env)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRegistry_Evaluate_EventList(t *testing.T) {
	registry := NewRegistry()

	result, err := registry.Evaluate(*models.OnEvent("b"), Env{Output: map[string]any{"events": []any{"a", "b"}}})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestRegistry_Evaluate_UndefinedVariablesAreNil(t *testing.T) {
	registry := NewRegistry()

	result, err := registry.Evaluate(*models.Expression(`output.missing == nil`), Env{})
	require.NoError(t, err)
	assert.True(t, result)
}

func TestRegistry_Check(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		name    string
		cond    models.Condition
		wantErr error
	}{
		{name: "always", cond: models.Condition{Type: models.ConditionAlways}},
		{name: "valid expression", cond: *models.Expression(`output.score > 3`)},
		{name: "empty expression", cond: models.Condition{Type: models.ConditionExpression}, wantErr: ErrInvalidCondition},
		{name: "syntax error", cond: *models.Expression(`output.score >`), wantErr: ErrInvalidCondition},
		{name: "non boolean expression", cond: *models.Expression(`1 + 2`), wantErr: ErrInvalidCondition},
		{name: "event without name", cond: models.Condition{Type: models.ConditionEvent}, wantErr: ErrInvalidCondition},
		{name: "field equals without value", cond: models.Condition{Type: models.ConditionFieldEquals, Field: "x"}, wantErr: ErrInvalidCondition},
		{name: "unknown kind", cond: models.Condition{Type: "webhook"}, wantErr: ErrUnknownCondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Check(tt.cond)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestRegistry_Satisfiable(t *testing.T) {
	registry := NewRegistry()

	assert.True(t, registry.Satisfiable(models.Condition{Type: models.ConditionAlways}))
	assert.True(t, registry.Satisfiable(*models.Expression(`output.score > 3`)))
	assert.True(t, registry.Satisfiable(*models.Expression("true")))
	assert.True(t, registry.Satisfiable(*models.OnEvent("done")))

	assert.False(t, registry.Satisfiable(models.Condition{Type: models.ConditionNever}))
	assert.False(t, registry.Satisfiable(*models.Expression("false")))
	assert.False(t, registry.Satisfiable(*models.Expression(`output.score >`)))
	assert.False(t, registry.Satisfiable(models.Condition{Type: "webhook"}))
}

func TestRegistry_Evaluate_UnknownKind(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Evaluate(models.Condition{Type: "webhook"}, Env{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCondition))
}

func TestRegistry_Register_OverridesKind(t *testing.T) {
	registry := NewRegistry()
	registry.Register(models.ConditionAlways, constant(false))

	result, err := registry.Evaluate(models.Condition{Type: models.ConditionAlways}, Env{})
	require.NoError(t, err)
	assert.False(t, result)
	assert.Len(t, registry.Kinds(), 6)
}

func TestExpressionEvaluator_CachesPrograms(t *testing.T) {
	evaluator := NewExpressionEvaluator()
	cond := *models.Expression(`output.n > 1`)

	for i := 0; i < 3; i++ {
		matched, err := evaluator.Evaluate(cond, Env{Output: map[string]any{"n": i}})
		require.NoError(t, err)
		assert.Equal(t, i > 1, matched)
	}

	assert.Equal(t, 1, evaluator.cache.Len())
}

func TestExpressionEvaluator_CacheIsBounded(t *testing.T) {
	evaluator := NewExpressionEvaluatorWithCacheSize(2)

	for i := 0; i < 10; i++ {
		cond := *models.Expression(fmt.Sprintf("output.n > %d", i))
		require.NoError(t, evaluator.Check(cond))
	}

	assert.Equal(t, 2, evaluator.cache.Len())
	assert.True(t, evaluator.cache.Contains("output.n > 9"))
	assert.False(t, evaluator.cache.Contains("output.n > 0"))

	matched, err := evaluator.Evaluate(*models.Expression("output.n > 0"), Env{Output: map[string]any{"n": 5}})
	require.NoError(t, err)
	assert.True(t, matched)

	assert.Equal(t, 2, evaluator.cache.Len())
}
