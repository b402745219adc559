// Package cli — lint.go implements the "stagehand lint" command.
//
// The lint command checks the configuration without running anything:
// schema validation, condition expression syntax, job name and
// dependency checks, and — via --diff — the distance between the file
// on disk and its canonical rendering, including whatever a local
// override file changed.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/config"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// lintFlags holds the flag values for the lint command.
type lintFlags struct {
	// diff prints a unified diff between the file and its canonical
	// form instead of just validating.
	diff bool
}

// NewLintCommand creates the "lint" cobra command.
func NewLintCommand() *cobra.Command {
	flags := &lintFlags{}

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate the configuration",
		Long: `Validate the configuration file and the job graph built from it.

Problems are reported with their field paths. With --diff, a unified
diff against the canonical rendering is printed, which also surfaces
everything a .stagehand.local.json override changed.

Examples:
  stagehand lint
  stagehand lint --diff
  stagehand lint --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.diff, "diff", false, "Show a diff against the canonical form")

	return cmd
}

// runLint is the main logic function for the lint command.
func runLint(cmd *cobra.Command, flags *lintFlags) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	problems := cfg.Validate()

	// Graph problems (unknown needs, cycles) only surface when the
	// plan is built, so a clean schema still goes through a build.
	if len(problems) == 0 {
		root, err := resolveWorkdir()
		if err != nil {
			return err
		}
		git := gitinfo.Detect(cmd.Context(), root)
		if _, err := plan.Build(cfg, git, plan.Options{}); err != nil {
			problems = append(problems, config.ValidationError{Field: "jobs", Message: err.Error()})
		}
	}

	if flags.diff {
		diff, err := cfg.Diff()
		if err != nil {
			return err
		}
		if diff != "" {
			fmt.Fprint(out, diff)
		}
	}

	printLintResult(cmd, cfg.Path, problems)

	if len(problems) > 0 {
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("%s has %d problem(s)", cfg.Path, len(problems)))
	}
	return nil
}

// printLintResult outputs the validation verdict in text or JSON
// format, depending on the global --json flag.
func printLintResult(cmd *cobra.Command, path string, problems []config.ValidationError) {
	out := cmd.OutOrStdout()

	if IsJSONOutput() {
		type problemJSON struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		}
		result := struct {
			Path     string        `json:"path"`
			Valid    bool          `json:"valid"`
			Problems []problemJSON `json:"problems"`
		}{
			Path:     path,
			Valid:    len(problems) == 0,
			Problems: make([]problemJSON, 0, len(problems)),
		}
		for _, p := range problems {
			result.Problems = append(result.Problems, problemJSON{Field: p.Field, Message: p.Message})
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(problems) == 0 {
		fmt.Fprintf(out, "%s: ok\n", path)
		return
	}
	for _, p := range problems {
		fmt.Fprintf(out, "%s: %s: %s\n", path, p.Field, p.Message)
	}
}
