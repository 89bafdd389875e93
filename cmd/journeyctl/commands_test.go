package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/journey/pkg/config"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinition(t *testing.T, dir, name string, definition *models.JourneyDefinition) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, config.EncodeDefinition(&buf, definition, config.FormatFromPath(name)))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{"journeyctl"}, args...))

	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	valid := writeDefinition(t, dir, "valid.yaml", testutil.CreateTestDefinition())

	out, err := run(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "publish validation passed with 0 warning(s)")

	dangling := writeDefinition(t, dir, "dangling.json", testutil.CreateTestDefinition(
		testutil.WithEdge("b", "missing", nil, 0),
	))

	out, err = run(t, "validate", "--mode", "draft", dangling)
	require.ErrorIs(t, err, errInvalidDefinition)
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, "missing")

	_, err = run(t, "validate")
	require.Error(t, err)

	_, err = run(t, "validate", "--mode", "strict", valid)
	require.Error(t, err)
}

func TestImportAndExport(t *testing.T) {
	dir := t.TempDir()
	databaseURL := "file://" + filepath.Join(dir, "data")
	definition := testutil.CreateBranchingDefinition()
	path := writeDefinition(t, dir, "branching.yaml", definition)

	out, err := run(t, "import",
		"--database-url", databaseURL,
		"--journey", "wind_down",
		"--actor", "editor@example.com",
		"--publish",
		"--notes", "first cut",
		path,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Created journey wind_down")
	assert.Contains(t, out, "Published wind_down version 1")

	out, err = run(t, "import",
		"--database-url", databaseURL,
		"--journey", "wind_down",
		"--actor", "editor@example.com",
		path,
	)
	require.NoError(t, err)
	assert.NotContains(t, out, "Created journey")
	assert.Contains(t, out, "Saved draft of wind_down")

	out, err = run(t, "export", "--database-url", databaseURL, "--journey", "wind_down", "--format", "json")
	require.NoError(t, err)

	exported, err := config.DecodeDefinition([]byte(out), config.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, definition, exported)

	output := filepath.Join(dir, "draft.yaml")
	_, err = run(t, "export", "--database-url", databaseURL, "--journey", "wind_down", "--draft", "--output", output)
	require.NoError(t, err)

	draft, err := config.LoadDefinition(output)
	require.NoError(t, err)
	assert.Equal(t, definition, draft)

	_, err = run(t, "export", "--database-url", databaseURL, "--journey", "wind_down", "--version", "7")
	require.Error(t, err)
}
