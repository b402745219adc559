// Package cli — env_test.go tests the env command against environment
// specification files on disk.
package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

const sampleEnvFile = `name: pipeline
channels:
  - conda-forge
dependencies:
  - python=3.11
  - numpy
  - pip:
      - requests
      - hypothesis
`

// TestEnvCommand_ExplicitFile verifies inspecting a named file.
func TestEnvCommand_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environment.yml"), []byte(sampleEnvFile), 0o644))

	out, err := execCommand(t, "env", "environment.yml", "-C", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "environment.yml")
	assert.Contains(t, out, "pipeline")
}

// TestEnvCommand_FromConfig verifies that without arguments, the files
// referenced by the configured commands are discovered, along with the
// jobs referencing them.
func TestEnvCommand_FromConfig(t *testing.T) {
	dir := writeConfig(t, `language: python
python:
  - "3.11"
install:
  - conda env update -n pipeline -f environment.yml
script:
  - pytest
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environment.yml"), []byte(sampleEnvFile), 0o644))

	out, err := execCommand(t, "env", "-C", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "USED BY")
	assert.Contains(t, out, "environment.yml")
	assert.Contains(t, out, "pipeline")
	assert.Contains(t, out, "python-3.11")
}

// TestEnvCommand_NoReferences verifies the placeholder when no command
// references an environment file.
func TestEnvCommand_NoReferences(t *testing.T) {
	dir := writeConfig(t, `language: python
python:
  - "3.11"
script:
  - pytest
`)

	out, err := execCommand(t, "env", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No environment files referenced.")
}

// TestEnvCommand_Missing verifies a dangling reference is reported and
// fails the command.
func TestEnvCommand_Missing(t *testing.T) {
	dir := t.TempDir()

	out, err := execCommand(t, "env", "environment.yml", "-C", dir)

	assert.Contains(t, out, "(missing)")

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "does not exist")
}

// TestEnvCommand_Unparsable verifies a file that fails to parse is
// flagged without hiding the rest of the report.
func TestEnvCommand_Unparsable(t *testing.T) {
	dir := t.TempDir()
	// Valid YAML, but an environment file must carry a name.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environment.yml"), []byte("channels: [defaults]\n"), 0o644))

	out, err := execCommand(t, "env", "environment.yml", "-C", dir)

	assert.Contains(t, out, "(unparsable)")

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "has no name")
}

// TestEnvCommand_JSON verifies the machine-readable report.
func TestEnvCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "environment.yml"), []byte(sampleEnvFile), 0o644))

	out, err := execCommand(t, "env", "environment.yml", "-C", dir, "--json")
	require.NoError(t, err)

	var result struct {
		Files []struct {
			Path     string   `json:"path"`
			Name     string   `json:"name"`
			Channels []string `json:"channels"`
			Conda    int      `json:"condaPackages"`
			Pip      int      `json:"pipPackages"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Files, 1)
	assert.Equal(t, "environment.yml", result.Files[0].Path)
	assert.Equal(t, "pipeline", result.Files[0].Name)
	assert.Equal(t, []string{"conda-forge"}, result.Files[0].Channels)
	assert.Equal(t, 2, result.Files[0].Conda)
	assert.Equal(t, 2, result.Files[0].Pip)
}
