package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/stagehand/internal/config"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// matrixConfig returns a two-version matrix with all three command
// phases, the shape most plans take.
func matrixConfig() *config.Config {
	return &config.Config{
		Language: "python",
		Python:   []string{"3.6", "3.7"},
		Shell:    "bash",
		Env:      config.Env{Global: []string{"PIPELINE_REMOTE=--runremote"}},
		Cache:    config.Cache{Directories: []string{"$HOME/miniconda"}},
		BeforeInstall: config.StepList{
			{Run: "wget https://example.test/miniconda.sh -O miniconda.sh"},
			{Name: "install miniconda", Run: "bash miniconda.sh -b -p $HOME/miniconda", Creates: "$HOME/miniconda"},
		},
		Install: config.StepList{
			{Run: "conda env update -n pipeline -f environment.yml"},
			{Run: "source activate pipeline"},
		},
		Script: config.StepList{
			{Run: "pip install ."},
			{Run: "pytest --runremote"},
		},
	}
}

// TestBuild_Matrix verifies matrix expansion: one job per version, named
// after the entry, with the composed environment and all phases.
func TestBuild_Matrix(t *testing.T) {
	p, err := Build(matrixConfig(), gitinfo.Info{}, Options{})
	require.NoError(t, err)

	require.Equal(t, []string{"python-3.6", "python-3.7"}, p.Names())

	j := p.Job("python-3.6")
	require.NotNil(t, j)
	assert.Equal(t, "3.6", j.RuntimeVersion)
	assert.Equal(t, "bash", j.Shell)
	assert.Equal(t, []string{"$HOME/miniconda"}, j.CacheDirs)
	assert.False(t, j.Skip)

	env := j.EnvMap()
	assert.Equal(t, "true", env["CI"])
	assert.Equal(t, "true", env["STAGEHAND"])
	assert.Equal(t, "python-3.6", env["STAGEHAND_JOB"])
	assert.Equal(t, "3.6", env["STAGEHAND_RUNTIME_VERSION"])
	assert.Equal(t, "--runremote", env["PIPELINE_REMOTE"])
}

// TestBuild_PhaseOrder verifies that steps are flattened in phase order
// with job-wide sequential indexes.
func TestBuild_PhaseOrder(t *testing.T) {
	p, err := Build(matrixConfig(), gitinfo.Info{}, Options{})
	require.NoError(t, err)

	j := p.Job("python-3.6")
	require.Len(t, j.Steps, 6)

	wantPhases := []model.Phase{
		model.PhaseBeforeInstall, model.PhaseBeforeInstall,
		model.PhaseInstall, model.PhaseInstall,
		model.PhaseScript, model.PhaseScript,
	}
	for i, s := range j.Steps {
		assert.Equal(t, i, s.Index, "step %d index", i)
		assert.Equal(t, wantPhases[i], s.Phase, "step %d phase", i)
	}

	assert.Equal(t, "install miniconda", j.Steps[1].Name)
	assert.Equal(t, "$HOME/miniconda", j.Steps[1].Creates)
	assert.Equal(t, "pytest --runremote", j.Steps[5].Run)

	script := j.PhaseSteps(model.PhaseScript)
	require.Len(t, script, 2)
	assert.Equal(t, "pip install .", script[0].Run)
}

// TestBuild_DefaultShell verifies the /bin/sh fallback.
func TestBuild_DefaultShell(t *testing.T) {
	cfg := matrixConfig()
	cfg.Shell = ""

	p, err := Build(cfg, gitinfo.Info{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultShell, p.Job("python-3.6").Shell)
}

// TestBuild_JobInheritance verifies the three override shapes: nil
// inherits the top-level phase, a non-empty list replaces it, and an
// empty list disables it.
func TestBuild_JobInheritance(t *testing.T) {
	cfg := matrixConfig()
	cfg.Python = []string{"3.6"}
	cfg.Jobs = []config.JobSpec{
		{
			Name:    "lint",
			Install: config.StepList{}, // disable
			Script:  config.StepList{{Run: "flake8 ."}},
		},
	}

	p, err := Build(cfg, gitinfo.Info{}, Options{})
	require.NoError(t, err)

	j := p.Job("lint")
	require.NotNil(t, j)

	// before_install inherited, install disabled, script replaced.
	assert.Len(t, j.PhaseSteps(model.PhaseBeforeInstall), 2)
	assert.Empty(t, j.PhaseSteps(model.PhaseInstall))
	script := j.PhaseSteps(model.PhaseScript)
	require.Len(t, script, 1)
	assert.Equal(t, "flake8 .", script[0].Run)

	// Indexes stay sequential across the remaining steps.
	for i, s := range j.Steps {
		assert.Equal(t, i, s.Index)
	}
}

// TestBuild_NeedsOrder verifies topological ordering with declaration
// order preserved among independent jobs.
func TestBuild_NeedsOrder(t *testing.T) {
	cfg := matrixConfig()
	cfg.Jobs = []config.JobSpec{
		{Name: "deploy", Needs: []string{"docs", "python-3.6"}, Script: config.StepList{{Run: "make deploy"}}},
		{Name: "docs", Script: config.StepList{{Run: "make docs"}}},
	}

	p, err := Build(cfg, gitinfo.Info{}, Options{})
	require.NoError(t, err)

	names := p.Names()
	assert.Equal(t, []string{"python-3.6", "python-3.7", "docs", "deploy"}, names)
	assert.Equal(t, []string{"docs", "python-3.6"}, p.Job("deploy").Needs)
}

// TestBuild_NeedsCycle verifies that a dependency cycle is rejected as a
// configuration error.
func TestBuild_NeedsCycle(t *testing.T) {
	cfg := &config.Config{
		Language: "generic",
		Jobs: []config.JobSpec{
			{Name: "a", Needs: []string{"b"}, Script: config.StepList{{Run: "true"}}},
			{Name: "b", Needs: []string{"a"}, Script: config.StepList{{Run: "true"}}},
		},
	}

	_, err := Build(cfg, gitinfo.Info{}, Options{})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "dependency cycle")
}

// TestBuild_NeedsUnknown verifies the unknown-reference error. Build
// must hold on its own even when Validate was not called first.
func TestBuild_NeedsUnknown(t *testing.T) {
	cfg := &config.Config{
		Language: "generic",
		Jobs: []config.JobSpec{
			{Name: "a", Needs: []string{"ghost"}, Script: config.StepList{{Run: "true"}}},
		},
	}

	_, err := Build(cfg, gitinfo.Info{}, Options{})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, `unknown job "ghost"`)
}

// TestBuild_JobCondition verifies that a false job condition keeps the
// job in the plan, marked skipped, with no steps.
func TestBuild_JobCondition(t *testing.T) {
	cfg := matrixConfig()
	cfg.Python = []string{"3.6"}
	cfg.Jobs = []config.JobSpec{
		{Name: "deploy", If: `branch == "main"`, Script: config.StepList{{Run: "make deploy"}}},
	}

	p, err := Build(cfg, gitinfo.Info{Branch: "feature"}, Options{})
	require.NoError(t, err)

	j := p.Job("deploy")
	require.NotNil(t, j)
	assert.True(t, j.Skip)
	assert.Contains(t, j.SkipReason, `branch == "main"`)
	assert.Empty(t, j.Steps)

	// Same plan on main: the job runs.
	p, err = Build(cfg, gitinfo.Info{Branch: "main"}, Options{})
	require.NoError(t, err)
	assert.False(t, p.Job("deploy").Skip)
}

// TestBuild_StepCondition verifies per-job step gating: the same step
// resolves differently across matrix entries.
func TestBuild_StepCondition(t *testing.T) {
	cfg := matrixConfig()
	cfg.Script = config.StepList{
		{Run: "pytest"},
		{Run: "pytest --runremote", If: `runtime == "3.6"`},
	}

	p, err := Build(cfg, gitinfo.Info{}, Options{})
	require.NoError(t, err)

	on36 := p.Job("python-3.6").PhaseSteps(model.PhaseScript)
	require.Len(t, on36, 2)
	assert.False(t, on36[1].Skip)

	on37 := p.Job("python-3.7").PhaseSteps(model.PhaseScript)
	require.Len(t, on37, 2)
	assert.True(t, on37[1].Skip)
	assert.Contains(t, on37[1].SkipReason, "runtime")
}

// TestBuild_ConditionError verifies that an expression referencing a
// missing env key fails the build instead of silently skipping.
func TestBuild_ConditionError(t *testing.T) {
	cfg := matrixConfig()
	cfg.Python = []string{"3.6"}
	cfg.Jobs = []config.JobSpec{
		{Name: "deploy", If: `env.NOPE == "1"`, Script: config.StepList{{Run: "true"}}},
	}

	_, err := Build(cfg, gitinfo.Info{}, Options{})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, `job "deploy"`)
}

// TestBuild_EnvPrecedence verifies later-wins composition across the
// runner, git, global, and job layers.
func TestBuild_EnvPrecedence(t *testing.T) {
	cfg := matrixConfig()
	cfg.Python = nil
	cfg.Env.Global = []string{"FOO=global", "BAR=1"}
	cfg.Jobs = []config.JobSpec{
		{Name: "lint", Env: []string{"FOO=job"}, Script: config.StepList{{Run: "true"}}},
	}

	p, err := Build(cfg, gitinfo.Info{Branch: "main", Commit: "abc123"}, Options{})
	require.NoError(t, err)

	j := p.Job("lint")
	env := j.EnvMap()
	assert.Equal(t, "job", env["FOO"])
	assert.Equal(t, "1", env["BAR"])
	assert.Equal(t, "main", env["STAGEHAND_BRANCH"])
	assert.Equal(t, "abc123", env["STAGEHAND_COMMIT"])

	// The entry keeps its first position with the winning value.
	assert.Contains(t, j.Env, "FOO=job")
	assert.NotContains(t, j.Env, "FOO=global")
}

// TestBuild_Only verifies plan restriction including transitive needs.
func TestBuild_Only(t *testing.T) {
	cfg := matrixConfig()
	cfg.Python = []string{"3.6"}
	cfg.Jobs = []config.JobSpec{
		{Name: "docs", Needs: []string{"python-3.6"}, Script: config.StepList{{Run: "make docs"}}},
		{Name: "deploy", Needs: []string{"docs"}, Script: config.StepList{{Run: "make deploy"}}},
	}

	p, err := Build(cfg, gitinfo.Info{}, Options{Only: []string{"deploy"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"python-3.6", "docs", "deploy"}, p.Names())

	p, err = Build(cfg, gitinfo.Info{}, Options{Only: []string{"docs"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"python-3.6", "docs"}, p.Names())
}

// TestBuild_OnlyUnknown verifies the usage error for a bad --only value.
func TestBuild_OnlyUnknown(t *testing.T) {
	_, err := Build(matrixConfig(), gitinfo.Info{}, Options{Only: []string{"nope"}})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitUsageError, cliErr.Code)
	assert.Contains(t, cliErr.Message, `unknown job "nope"`)
}

// TestComposeEnv verifies the fold directly.
func TestComposeEnv(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		want  []string
	}{
		{
			name:  "disjoint keeps order",
			lists: [][]string{{"A=1"}, {"B=2"}},
			want:  []string{"A=1", "B=2"},
		},
		{
			name:  "later wins in place",
			lists: [][]string{{"A=1", "B=2"}, {"A=3"}},
			want:  []string{"A=3", "B=2"},
		},
		{
			name:  "malformed entries dropped",
			lists: [][]string{{"A=1", "NOEQUALS"}},
			want:  []string{"A=1"},
		},
		{
			name:  "empty value kept",
			lists: [][]string{{"A="}},
			want:  []string{"A="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, composeEnv(tt.lists...))
		})
	}
}
