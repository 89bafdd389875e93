package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const breathingYAML = `
id: evening_wind_down
name: Evening wind down
entry_step_id: check_in
steps:
  check_in:
    id: check_in
    step_type: decision
    label: Check in
    capture: [choice]
    payload:
      prompt: How was today?
      choices:
        - choice_id: busy
          label: Busy
        - choice_id: calm
          label: Calm
  breathe:
    id: breathe
    step_type: experience
    label: Breathe
    payload:
      practice_id: box_breathing
      duration_minutes: 4
edges:
  - from_step_id: check_in
    to_step_id: breathe
    priority: 1
    condition:
      type: field_equals
      field: output.choice
      value: busy
`

func TestDecodeDefinition_YAML(t *testing.T) {
	definition, err := DecodeDefinition([]byte(breathingYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "evening_wind_down", definition.ID)
	assert.Equal(t, "check_in", definition.EntryStepID)
	require.Len(t, definition.Steps, 2)

	decision, ok := definition.Steps["check_in"].Payload.(*models.DecisionPayload)
	require.True(t, ok, "decision payload decoded as %T", definition.Steps["check_in"].Payload)
	assert.Len(t, decision.Choices, 2)
	assert.Equal(t, []string{"choice"}, definition.Steps["check_in"].Capture)

	experience, ok := definition.Steps["breathe"].Payload.(*models.ExperiencePayload)
	require.True(t, ok)
	assert.Equal(t, 4, experience.DurationMinutes)

	require.Len(t, definition.Edges, 1)
	assert.Equal(t, models.ConditionFieldEquals, definition.Edges[0].Condition.Type)
	assert.Equal(t, "busy", definition.Edges[0].Condition.Value)
}

func TestDecodeDefinition_Errors(t *testing.T) {
	_, err := DecodeDefinition([]byte("steps: [unterminated"), FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML definition")

	_, err = DecodeDefinition([]byte(`{"steps": 3}`), FormatJSON)
	require.Error(t, err)
}

func TestEncodeDefinition_RoundTripsThroughFiles(t *testing.T) {
	original := testutil.CreateBranchingDefinition()
	dir := t.TempDir()

	for _, name := range []string{"journey.yaml", "journey.json"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, EncodeDefinition(&buf, original, FormatFromPath(name)))

			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

			loaded, err := LoadDefinition(path)
			require.NoError(t, err)

			assert.Equal(t, original, loaded)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{"": FormatYAML, "yml": FormatYAML, "YAML": FormatYAML, "json": FormatJSON} {
		got, err := ParseFormat(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseFormat("toml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
