// Package condition evaluates the `if:` expressions that gate jobs and
// steps.
//
// Expressions use HCL syntax over a small, fixed variable set:
//
//	branch == "main" && env.CI == "true"
//	tag != ""
//	runtime == "3.6" || os == "linux"
//
// An empty expression is true. A malformed expression, or one referencing
// an unknown variable or env key, is an error — conditions never fail
// silently closed or open.
package condition

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Vars carries the values condition expressions may reference.
type Vars struct {
	// Branch, Tag, and Commit snapshot the git state at plan time.
	// Empty outside a git repository.
	Branch string
	Tag    string
	Commit string

	// OS is runtime.GOOS.
	OS string

	// Runtime is the job's matrix version (e.g. "3.6"), empty for jobs
	// without a runtime pin.
	Runtime string

	// Env is the job's effective environment. Both env.KEY and env["KEY"]
	// syntax work; referencing an absent key is an evaluation error.
	Env map[string]string
}

// ctyVariables converts Vars into the HCL evaluation context variable set.
func (v Vars) ctyVariables() map[string]cty.Value {
	envVal := cty.MapValEmpty(cty.String)
	if len(v.Env) > 0 {
		env := make(map[string]cty.Value, len(v.Env))
		for k, val := range v.Env {
			env[k] = cty.StringVal(val)
		}
		envVal = cty.MapVal(env)
	}

	return map[string]cty.Value{
		"branch":  cty.StringVal(v.Branch),
		"tag":     cty.StringVal(v.Tag),
		"commit":  cty.StringVal(v.Commit),
		"os":      cty.StringVal(v.OS),
		"runtime": cty.StringVal(v.Runtime),
		"env":     envVal,
	}
}

// Validate parses the expression without evaluating it. Used by
// configuration validation so `stagehand lint` catches syntax errors
// before any run.
func Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, diags := hclsyntax.ParseExpression([]byte(expr), "if", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return fmt.Errorf("invalid condition %q: %s", expr, diags.Error())
	}
	return nil
}

// Evaluate parses and evaluates the expression against vars, converting
// the result to a boolean. String results convert per cty rules ("true"
// and "false" only); anything else is an error.
func Evaluate(expr string, vars Vars) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(expr), "if", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return false, fmt.Errorf("invalid condition %q: %s", expr, diags.Error())
	}

	val, diags := parsed.Value(&hcl.EvalContext{Variables: vars.ctyVariables()})
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluating condition %q: %s", expr, diags.Error())
	}

	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition %q did not produce a boolean: %v", expr, err)
	}
	if boolVal.IsNull() {
		return false, fmt.Errorf("condition %q evaluated to null", expr)
	}
	return boolVal.True(), nil
}
