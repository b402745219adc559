package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// TestLocal verifies the host executor leaves everything to the job's
// own shell.
func TestLocal(t *testing.T) {
	var exec Executor = Local{}

	assert.Equal(t, "local", exec.Name())
	assert.NoError(t, exec.Prepare(context.Background()))
	assert.Nil(t, exec.Argv("run-1", &plan.Job{Name: "unit", Shell: plan.DefaultShell}))
	assert.NoError(t, exec.Close())
}

// TestDockerArgv verifies the container invocation stays a drop-in
// replacement for the local shell argv: same stdin contract, image
// resolved from the override, repository mounted as the workdir.
func TestDockerArgv(t *testing.T) {
	d := &Docker{image: "python:3.11", repoRoot: "/src/proj"}
	job := &plan.Job{Name: "unit", Shell: plan.DefaultShell}

	argv := d.Argv("2026_08_25_10_00_00", job)

	require.Greater(t, len(argv), 7)
	assert.Equal(t, []string{"docker", "run", "--rm", "-i"}, argv[:4])
	assert.Equal(t, []string{"python:3.11", "/bin/sh", "-s"}, argv[len(argv)-3:])
	assert.Contains(t, argv, "--label")
	assert.Contains(t, argv, "/src/proj:/ci")
}

// TestDockerArgv_JobImageWins verifies per-job images take precedence
// over the run-wide override.
func TestDockerArgv_JobImageWins(t *testing.T) {
	d := &Docker{image: "python:3.11", repoRoot: "/src/proj"}
	job := &plan.Job{Name: "unit", Shell: plan.DefaultShell, Image: "alpine:3.20"}

	argv := d.Argv("run-1", job)

	assert.Contains(t, argv, "alpine:3.20")
	assert.NotContains(t, argv, "python:3.11")
}

// TestDockerZeroValue verifies a disconnected Docker executor still
// satisfies the lifecycle calls, which keeps argv generation testable
// without a daemon.
func TestDockerZeroValue(t *testing.T) {
	d := &Docker{}

	assert.Equal(t, "docker", d.Name())
	assert.NoError(t, d.Prepare(context.Background()))
	assert.NoError(t, d.Close())
}
