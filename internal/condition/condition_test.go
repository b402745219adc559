package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvaluate covers the expression surface jobs and steps actually use:
// equality on git state, env lookups, and boolean combinators.
func TestEvaluate(t *testing.T) {
	vars := Vars{
		Branch:  "main",
		Tag:     "",
		Commit:  "abc1234",
		OS:      "linux",
		Runtime: "3.6",
		Env:     map[string]string{"CI": "true", "DEPLOY": "false"},
	}

	tests := []struct {
		expr     string
		expected bool
	}{
		{``, true}, // empty condition always passes
		{`branch == "main"`, true},
		{`branch == "release"`, false},
		{`branch != "release"`, true},
		{`tag != ""`, false},
		{`os == "linux" && runtime == "3.6"`, true},
		{`os == "darwin" || runtime == "3.6"`, true},
		{`env.CI == "true"`, true},
		{`env["DEPLOY"] == "true"`, false},
		{`!(branch == "main")`, false},
		{`branch == "main" ? true : false`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// TestEvaluate_Errors verifies that malformed or unresolvable expressions
// are reported instead of defaulting to a boolean.
func TestEvaluate_Errors(t *testing.T) {
	vars := Vars{Branch: "main", Env: map[string]string{"CI": "true"}}

	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `branch == `},
		{"unknown variable", `pipeline == "x"`},
		{"missing env key", `env.MISSING == "1"`},
		{"non-boolean result", `branch`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expr, vars)
			assert.Error(t, err)
		})
	}
}

// TestEvaluate_StringBool checks cty's string-to-bool conversion, which
// lets a condition reference an env flag directly.
func TestEvaluate_StringBool(t *testing.T) {
	got, err := Evaluate(`env.FLAG`, Vars{Env: map[string]string{"FLAG": "true"}})
	require.NoError(t, err)
	assert.True(t, got)

	_, err = Evaluate(`env.FLAG`, Vars{Env: map[string]string{"FLAG": "yes"}})
	assert.Error(t, err, "only true/false strings convert to bool")
}

// TestValidate verifies parse-only checking used by lint.
func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(``))
	assert.NoError(t, Validate(`branch == "main"`))
	// Unknown variables are an evaluation-time concern; parsing accepts them.
	assert.NoError(t, Validate(`anything == "goes"`))
	assert.Error(t, Validate(`branch ==`))
	assert.Error(t, Validate(`(unclosed`))
}

// TestEvaluate_EmptyEnv ensures an empty environment still evaluates
// expressions that do not touch env.
func TestEvaluate_EmptyEnv(t *testing.T) {
	got, err := Evaluate(`branch == ""`, Vars{})
	require.NoError(t, err)
	assert.True(t, got)
}
