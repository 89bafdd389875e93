package validation

import (
	"strings"
	"testing"

	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()

	v, err := New(conditions.NewRegistry())
	require.NoError(t, err)

	return v
}

func TestValidate_ValidDefinition(t *testing.T) {
	v := newTestValidator(t)

	for _, def := range []*models.JourneyDefinition{testutil.CreateTestDefinition(), testutil.CreateBranchingDefinition()} {
		for _, mode := range []Mode{ModeDraft, ModePublish} {
			result := v.Validate(def, mode)
			assert.True(t, result.Valid, "%s: %v", mode, result.Errors)
			assert.Empty(t, result.Errors)
			assert.Empty(t, result.Warnings)
		}
	}
}

func TestValidate_DanglingEdge_SingleStructuralError(t *testing.T) {
	v := newTestValidator(t)
	def := testutil.CreateTestDefinition(testutil.WithEdge("b", "ghost", models.Always(), 0))

	result := v.Validate(def, ModeDraft)

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "b -> ghost")
	assert.Contains(t, result.Errors[0], `"ghost"`)
}

func TestValidate_UnreachableStep_BlocksPublishOnly(t *testing.T) {
	v := newTestValidator(t)
	def := testutil.CreateTestDefinition(
		testutil.WithStep(testutil.CreateTestStep("c", models.StepTypeContent)),
	)

	draft := v.Validate(def, ModeDraft)
	assert.True(t, draft.Valid)
	assert.Empty(t, draft.Errors)
	require.Len(t, draft.Warnings, 1)
	assert.Contains(t, draft.Warnings[0], `step "c" is unreachable`)

	publish := v.Validate(def, ModePublish)
	assert.False(t, publish.Valid)
	require.Len(t, publish.Errors, 1)
	assert.Contains(t, publish.Errors[0], `step "c" is unreachable`)
}

func TestValidate_Draft(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name          string
		def           *models.JourneyDefinition
		errorContains string
	}{
		{
			name:          "empty steps",
			def:           models.NewJourneyDefinition("empty", "Empty"),
			errorContains: "at least one step",
		},
		{
			name:          "missing id",
			def:           testutil.CreateTestDefinition(testutil.WithDefinitionID("")),
			errorContains: "definition id is required",
		},
		{
			name: "key does not match id",
			def: testutil.CreateTestDefinition(func(d *models.JourneyDefinition) {
				d.Steps["b"].ID = "a"
			}),
			errorContains: `id "a" does not match its key`,
		},
		{
			name: "unknown step type",
			def: testutil.CreateTestDefinition(testutil.WithStep(&models.Step{
				ID: "b", StepType: "hologram", Label: "Hologram",
				Payload: models.UnknownPayload{Type: "hologram"},
			})),
			errorContains: `unknown step_type "hologram"`,
		},
		{
			name: "payload variant does not match step type",
			def: testutil.CreateTestDefinition(testutil.WithStep(
				testutil.CreateTestStep("b", models.StepTypeExperience, testutil.WithPayload(&models.ContentPayload{Title: "x"})),
			)),
			errorContains: "content payload does not match",
		},
		{
			name: "unknown condition kind",
			def: testutil.CreateTestDefinition(func(d *models.JourneyDefinition) {
				d.Edges[0].Condition = &models.Condition{Type: "webhook"}
			}),
			errorContains: "unknown condition type",
		},
		{
			name: "expression does not compile",
			def: testutil.CreateTestDefinition(func(d *models.JourneyDefinition) {
				d.Edges[0].Condition = models.Expression("output.score >")
			}),
			errorContains: "edge a -> b",
		},
		{
			name:          "entry step missing",
			def:           testutil.CreateTestDefinition(testutil.WithEntryStep("nowhere")),
			errorContains: `entry_step_id "nowhere"`,
		},
		{
			name: "emit without event type",
			def: testutil.CreateTestDefinition(testutil.WithStep(
				testutil.CreateTestStep("b", models.StepTypeExperience, testutil.WithEmit("", nil)),
			)),
			errorContains: "has no event_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.def, ModeDraft)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Contains(t, result.Errors[0], tt.errorContains)

			publish := v.Validate(tt.def, ModePublish)
			assert.False(t, publish.Valid, "publish must be at least as strict as draft")
		})
	}
}

func TestValidate_PublishReadiness(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name          string
		def           *models.JourneyDefinition
		errorContains string
	}{
		{
			name: "no terminal step",
			def: testutil.CreateTestDefinition(
				testutil.WithEdge("b", "a", models.Always(), 0),
			),
			errorContains: "no terminal step",
		},
		{
			name: "only unsatisfiable edges",
			def: testutil.CreateTestDefinition(
				testutil.WithoutEdges(),
				testutil.WithoutStep("b"),
				testutil.WithEdge("a", "a", models.Expression("false"), 0),
			),
			errorContains: `step "a" has no satisfiable outgoing edge`,
		},
		{
			name: "missing publish required payload field",
			def: testutil.CreateTestDefinition(testutil.WithStep(
				testutil.CreateTestStep("b", models.StepTypeExperience, testutil.WithPayload(&models.ExperiencePayload{DurationMinutes: 5})),
			)),
			errorContains: "practice_id",
		},
		{
			name: "decision without choices",
			def: testutil.CreateTestDefinition(testutil.WithStep(
				testutil.CreateTestStep("b", models.StepTypeDecision, testutil.WithPayload(&models.DecisionPayload{Prompt: "?"})),
			)),
			errorContains: "choices",
		},
		{
			name: "no start step",
			def: testutil.CreateTestDefinition(
				testutil.WithEntryStep(""),
				testutil.WithoutEdges(),
			),
			errorContains: "no start step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := v.Validate(tt.def, ModeDraft)
			assert.True(t, draft.Valid, "draft errors: %v", draft.Errors)

			publish := v.Validate(tt.def, ModePublish)
			assert.False(t, publish.Valid)

			found := false
			for _, msg := range publish.Errors {
				if strings.Contains(msg, tt.errorContains) {
					found = true
				}
			}

			assert.True(t, found, "expected an error containing %q, got %v", tt.errorContains, publish.Errors)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	v := newTestValidator(t)

	def := testutil.CreateTestDefinition(
		testutil.WithStep(testutil.CreateTestStep("b", models.StepTypeExperience, testutil.WithLabel(""))),
		testutil.WithEdge("a", "b", models.Always(), 0),
		testutil.WithEdge("a", "b", models.OnEvent("skip"), 5),
	)

	result := v.Validate(def, ModePublish)
	assert.True(t, result.Valid, "%v", result.Errors)
	assert.Contains(t, result.Warnings, `step "b" has no label`)
	assert.Contains(t, result.Warnings, "edge a -> b is declared more than once")
	assert.Contains(t, result.Warnings, "edge a -> b is never taken: a -> b always matches first")
}

func TestValidate_PublishImpliesDraft(t *testing.T) {
	v := newTestValidator(t)

	defs := []*models.JourneyDefinition{
		testutil.CreateTestDefinition(),
		testutil.CreateBranchingDefinition(),
		testutil.CreateTestDefinition(testutil.WithEdge("b", "ghost", models.Always(), 0)),
		testutil.CreateTestDefinition(testutil.WithStep(testutil.CreateTestStep("c", models.StepTypeAction))),
		testutil.CreateTestDefinition(testutil.WithEdge("b", "a", models.Always(), 0)),
		models.NewJourneyDefinition("empty", "Empty"),
		nil,
	}

	for _, def := range defs {
		publish := v.Validate(def, ModePublish)
		draft := v.Validate(def, ModeDraft)

		if publish.Valid {
			assert.True(t, draft.Valid)
		}
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	v := newTestValidator(t)
	def := testutil.CreateBranchingDefinition()
	before, err := def.Clone()
	require.NoError(t, err)

	v.Validate(def, ModePublish)

	assert.Equal(t, before, def)
}

func TestReachable(t *testing.T) {
	def := testutil.CreateBranchingDefinition()

	reached := Reachable(def, "intro")
	assert.Len(t, reached, 4)

	reached = Reachable(def, "calm")
	assert.Equal(t, map[string]bool{"calm": true, "done": true}, reached)

	assert.Empty(t, Reachable(def, "missing"))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDraft, mode)

	mode, err = ParseMode("Publish")
	require.NoError(t, err)
	assert.Equal(t, ModePublish, mode)

	_, err = ParseMode("strict")
	require.Error(t, err)
}
