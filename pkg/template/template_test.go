package template

import (
	"testing"

	"github.com/dukex/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_FieldReferenceKeepsType(t *testing.T) {
	data := map[string]any{
		"name":   "John",
		"age":    30,
		"isNew":  true,
		"code":   "007",
		"output": map[string]any{"tags": []any{"sleep", "focus"}},
	}

	tests := []struct {
		template string
		expected any
	}{
		{"{{ .name }}", "John"},
		{"{{ .isNew }}", true},
		{"{{ .age }}", 30},
		{" {{ .code }} ", "007"},
		{"{{ .output.tags }}", []any{"sleep", "focus"}},
		{"{{ .output.missing }}", nil},
		{"{{ .absent.field }}", nil},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			result, err := Render(tt.template, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRender_TextThatLooksLikeJSON(t *testing.T) {
	for _, note := range []string{"[felt calm]", "{ok}", "[1, 2]", `{"a": 1}`, "42", "true"} {
		t.Run(note, func(t *testing.T) {
			data := map[string]any{"output": map[string]any{"note": note}}

			result, err := Render("{{ .output.note }}", data)
			require.NoError(t, err)
			assert.Equal(t, note, result)

			result, err = Render("note: {{ .output.note }}", data)
			require.NoError(t, err)
			assert.Equal(t, "note: "+note, result)
		})
	}
}

func TestRender_ErrorHandling(t *testing.T) {
	data := map[string]any{"test": "value"}

	_, err := Render("{{ .test ", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")

	_, err = Render("{{ nonexistent.field }}", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")

	result, err := Render("{ invalid..expression }}", data)
	require.NoError(t, err)
	assert.Equal(t, "{ invalid..expression }}", result)
}

func TestRender_StringInterpolation(t *testing.T) {
	data := map[string]any{
		"participant": map[string]any{"name": "Ana"},
		"step_id":     "breathe",
	}

	result, err := Render("{{.participant.name}} finished {{.step_id}}", data)
	require.NoError(t, err)
	assert.Equal(t, "Ana finished breathe", result)
}

func TestRunData(t *testing.T) {
	run := &models.Run{
		ID:            "run-1",
		JourneyID:     "morning",
		Version:       2,
		ParticipantID: "p-1",
		Context:       map[string]any{"choice": "calm"},
		Participant:   map[string]any{"tier": "free"},
	}

	data := RunData(run, "pick", map[string]any{"minutes": 5})

	result, err := Render("{{ .run.journey_id }}/{{ .run.version }}/{{ .context.choice }}/{{ .participant.tier }}/{{ .step_id }}", data)
	require.NoError(t, err)
	assert.Equal(t, "morning/2/calm/free/pick", result)
}

func TestRenderPayload(t *testing.T) {
	data := map[string]any{
		"output":  map[string]any{"minutes": 12, "mood": "rested"},
		"step_id": "breathe",
	}

	payload := map[string]any{
		"minutes": "{{ .output.minutes }}",
		"static":  "plain text",
		"count":   3,
		"nested": map[string]any{
			"mood": "{{ .output.mood }}",
		},
		"list": []any{"{{ .step_id }}", "fixed"},
	}

	rendered, err := RenderPayload(payload, data)
	require.NoError(t, err)

	assert.Equal(t, 12, rendered["minutes"])
	assert.Equal(t, "plain text", rendered["static"])
	assert.Equal(t, 3, rendered["count"])
	assert.Equal(t, map[string]any{"mood": "rested"}, rendered["nested"])
	assert.Equal(t, []any{"breathe", "fixed"}, rendered["list"])

	assert.Equal(t, "{{ .output.minutes }}", payload["minutes"], "input must not be modified")
}

func TestRenderPayload_Errors(t *testing.T) {
	_, err := RenderPayload(map[string]any{"bad": "{{ .x | missing }}"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "bad"`)

	rendered, err := RenderPayload(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, rendered)
}
