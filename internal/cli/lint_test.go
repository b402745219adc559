// Package cli — lint_test.go tests the lint command against real
// configuration files on disk.
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

// writeConfig drops a .stagehand.yml into a fresh workdir and returns
// the directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".stagehand.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return dir
}

// TestLintCommand_Valid verifies a well-formed configuration passes.
func TestLintCommand_Valid(t *testing.T) {
	dir := writeConfig(t, `language: python
python:
  - "3.11"
script:
  - pytest
`)

	out, err := execCommand(t, "lint", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, ".stagehand.yml: ok")
}

// TestLintCommand_Problems verifies schema problems are listed with
// their field paths and the command exits with a config error.
func TestLintCommand_Problems(t *testing.T) {
	dir := writeConfig(t, `language: ruby
python:
  - "3.11"
script:
  - pytest
`)

	out, err := execCommand(t, "lint", "-C", dir)

	assert.Contains(t, out, `language: unknown language "ruby"`)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "1 problem(s)")
}

// TestLintCommand_DependencyCycle verifies graph problems surface even
// when the schema itself is clean.
func TestLintCommand_DependencyCycle(t *testing.T) {
	dir := writeConfig(t, `language: python
jobs:
  - name: build
    needs: [test]
    script: [make build]
  - name: test
    needs: [build]
    script: [make test]
`)

	out, err := execCommand(t, "lint", "-C", dir)

	assert.Contains(t, out, "dependency cycle")

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// TestLintCommand_JSON verifies the machine-readable verdict.
func TestLintCommand_JSON(t *testing.T) {
	dir := writeConfig(t, `language: ruby
python:
  - "3.11"
script:
  - pytest
`)

	out, err := execCommand(t, "lint", "-C", dir, "--json")
	require.Error(t, err)

	var result struct {
		Path     string `json:"path"`
		Valid    bool   `json:"valid"`
		Problems []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"problems"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	require.Len(t, result.Problems, 1)
	assert.Equal(t, "language", result.Problems[0].Field)
}

// TestLintCommand_Diff verifies --diff prints a unified diff for a file
// that is not in canonical form.
func TestLintCommand_Diff(t *testing.T) {
	// script before python is valid YAML but not the canonical order.
	dir := writeConfig(t, `script:
  - pytest
language: python
python:
  - "3.11"
`)

	out, err := execCommand(t, "lint", "-C", dir, "--diff")
	require.NoError(t, err)
	assert.Contains(t, out, "(normalized)")
	assert.Contains(t, out, ".stagehand.yml: ok")
}

// TestLintCommand_NoConfig verifies the error when nothing is found.
func TestLintCommand_NoConfig(t *testing.T) {
	_, err := execCommand(t, "lint", "-C", t.TempDir())

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "no configuration file found")
}
