// validate.go provides schema validation for parsed configurations.
//
// Validation is separate from decoding: decoding rejects structural
// problems (unknown keys, wrong types), while Validate checks the semantic
// rules a structurally sound document can still break — empty matrices,
// dangling needs references, steps without commands. `stagehand lint`
// prints the full list; `stagehand run` refuses to start on a non-empty one.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mmr-tortoise/stagehand/internal/condition"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// ValidationError represents a specific validation failure in a
// configuration file.
type ValidationError struct {
	// Field is the configuration path that failed validation
	// (e.g. "jobs[2].needs").
	Field string

	// Message describes what's wrong with the field value.
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation error: %s: %s", e.Field, e.Message)
}

// knownLanguages are the runtime families the runner understands. The
// language selects the default docker executor image; "generic" opts out
// of any runtime assumption.
var knownLanguages = map[string]bool{
	"python":  true,
	"generic": true,
}

// MatrixJobName returns the job name for a version matrix entry.
func MatrixJobName(version string) string {
	return "python-" + version
}

// Validate performs semantic checks on a parsed configuration and returns
// a list of validation errors (empty list = valid configuration).
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// language is required and must be known.
	if c.Language == "" {
		add("language", "language is required")
	} else if !knownLanguages[c.Language] {
		add("language", "unknown language %q (valid: python, generic)", c.Language)
	}

	// The document must describe at least one job.
	if len(c.Python) == 0 && len(c.Jobs) == 0 {
		add("python", "nothing to run: declare a python version matrix or a jobs list")
	}

	// Matrix entries must be non-empty and unique (duplicates would
	// collide on the derived job name).
	seenVersions := make(map[string]bool)
	for i, v := range c.Python {
		field := fmt.Sprintf("python[%d]", i)
		if strings.TrimSpace(v) == "" {
			add(field, "version entry must not be empty")
			continue
		}
		if seenVersions[v] {
			add(field, "duplicate version %q", v)
		}
		seenVersions[v] = true
	}

	// Matrix jobs run the top-level script, so a declared matrix with no
	// script has nothing to do.
	if len(c.Python) > 0 && len(c.Script) == 0 {
		add("script", "script is required when a python matrix is declared")
	}

	errs = append(errs, validateEnvList("env.global", c.Env.Global)...)

	for i, dir := range c.Cache.Directories {
		if strings.TrimSpace(dir) == "" {
			add(fmt.Sprintf("cache.directories[%d]", i), "directory must not be empty")
		}
	}

	errs = append(errs, validateSteps("before_install", c.BeforeInstall)...)
	errs = append(errs, validateSteps("install", c.Install)...)
	errs = append(errs, validateSteps("script", c.Script)...)

	// Collect every name a needs entry may reference: matrix job names
	// plus explicit job names.
	validNames := make(map[string]bool, len(c.Python)+len(c.Jobs))
	for _, v := range c.Python {
		validNames[MatrixJobName(v)] = true
	}
	for _, j := range c.Jobs {
		validNames[j.Name] = true
	}

	seenJobs := make(map[string]bool)
	for i, j := range c.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)

		if err := model.ValidateJobName(j.Name); err != nil {
			add(field+".name", "%v", err)
		} else {
			if seenJobs[j.Name] {
				add(field+".name", "duplicate job name %q", j.Name)
			}
			if seenVersions[strings.TrimPrefix(j.Name, "python-")] && strings.HasPrefix(j.Name, "python-") {
				add(field+".name", "job name %q collides with a matrix job", j.Name)
			}
			seenJobs[j.Name] = true
		}

		if j.If != "" {
			if err := condition.Validate(j.If); err != nil {
				add(field+".if", "%v", err)
			}
		}

		for k, dep := range j.Needs {
			needsField := fmt.Sprintf("%s.needs[%d]", field, k)
			if dep == j.Name {
				add(needsField, "job cannot depend on itself")
				continue
			}
			if !validNames[dep] {
				add(needsField, "unknown job %q", dep)
			}
		}

		// A job must end up with a script: its own override or the
		// top-level one.
		if j.Script == nil && len(c.Script) == 0 {
			add(field+".script", "job %q has no script and no top-level script to inherit", j.Name)
		}
		if j.Script != nil && len(j.Script) == 0 {
			add(field+".script", "script override must not be empty")
		}

		errs = append(errs, validateEnvList(field+".env", j.Env)...)
		if j.BeforeInstall != nil {
			errs = append(errs, validateSteps(field+".before_install", j.BeforeInstall)...)
		}
		if j.Install != nil {
			errs = append(errs, validateSteps(field+".install", j.Install)...)
		}
		if j.Script != nil {
			errs = append(errs, validateSteps(field+".script", j.Script)...)
		}
	}

	if c.Notifications.StreamURL != "" {
		u, err := url.Parse(c.Notifications.StreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			add("notifications.stream_url", "must be an http(s) URL, got %q", c.Notifications.StreamURL)
		}
	}

	return errs
}

// validateSteps checks one phase's step list.
func validateSteps(field string, steps StepList) []ValidationError {
	var errs []ValidationError
	for i, s := range steps {
		stepField := fmt.Sprintf("%s[%d]", field, i)
		if strings.TrimSpace(s.Run) == "" {
			errs = append(errs, ValidationError{Field: stepField, Message: "step has no command"})
		}
		if s.If != "" {
			if err := condition.Validate(s.If); err != nil {
				errs = append(errs, ValidationError{Field: stepField + ".if", Message: err.Error()})
			}
		}
	}
	return errs
}

// validateEnvList checks that env entries look like KEY=VALUE.
func validateEnvList(field string, entries []string) []ValidationError {
	var errs []ValidationError
	for i, e := range entries {
		key, _, ok := strings.Cut(e, "=")
		if !ok || strings.TrimSpace(key) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: fmt.Sprintf("entry %q is not KEY=VALUE", e),
			})
		}
	}
	return errs
}
