// Package cli — env.go implements the "stagehand env" command.
//
// The env command inspects the conda-style environment files the
// configured commands reference via -f/--file arguments: what each
// declares, how many packages, and whether the file is actually there.
// It answers "what would the install phase build" without running it.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/envfile"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// NewEnvCommand creates the "env" cobra command.
func NewEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env [file...]",
		Short: "Inspect referenced environment files",
		Long: `Inspect conda-style environment files.

Without arguments, every file referenced by the configured commands is
shown. Pass file paths to inspect specific files instead.

Examples:
  stagehand env
  stagehand env environment.yml
  stagehand env --json`,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnv(cmd, args)
		},
	}

	return cmd
}

// envSummary is what the command reports per environment file.
type envSummary struct {
	Path     string   `json:"path"`
	Missing  bool     `json:"missing,omitempty"`
	Problem  string   `json:"problem,omitempty"`
	Name     string   `json:"name,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Conda    int      `json:"condaPackages"`
	Pip      int      `json:"pipPackages"`
	Jobs     []string `json:"jobs,omitempty"`
}

// runEnv is the main logic function for the env command.
func runEnv(cmd *cobra.Command, args []string) error {
	root, err := resolveWorkdir()
	if err != nil {
		return err
	}

	var summaries []envSummary
	if len(args) > 0 {
		for _, path := range args {
			summaries = append(summaries, summarize(root, path, nil))
		}
	} else {
		summaries, err = collectFromConfig(cmd, root)
		if err != nil {
			return err
		}
	}

	printEnvResult(cmd, summaries)

	for _, s := range summaries {
		if s.Missing {
			return model.NewCLIError(model.ExitConfigError,
				fmt.Sprintf("environment file %s does not exist", s.Path))
		}
		if s.Problem != "" {
			return model.NewCLIError(model.ExitConfigError, s.Problem)
		}
	}
	return nil
}

// collectFromConfig walks the plan and gathers every environment file
// the job commands reference, remembering which jobs use which file.
func collectFromConfig(cmd *cobra.Command, root string) ([]envSummary, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	git := gitinfo.Detect(cmd.Context(), root)
	p, err := plan.Build(cfg, git, plan.Options{})
	if err != nil {
		return nil, err
	}

	// Refs are deduplicated per file but the job list keeps order, so
	// the output reads in plan order.
	jobsByFile := make(map[string][]string)
	var order []string
	for _, job := range p.Jobs {
		commands := make([]string, 0, len(job.Steps))
		for _, st := range job.Steps {
			commands = append(commands, st.Run)
		}
		for _, ref := range envfile.Refs(commands) {
			if _, seen := jobsByFile[ref]; !seen {
				order = append(order, ref)
			}
			jobsByFile[ref] = append(jobsByFile[ref], job.Name)
		}
	}

	summaries := make([]envSummary, 0, len(order))
	for _, ref := range order {
		summaries = append(summaries, summarize(root, ref, jobsByFile[ref]))
	}
	return summaries, nil
}

// summarize loads one environment file and reduces it to the report
// row. Missing or unparsable files are reported, not fatal, so one
// broken reference does not hide the others.
func summarize(root, path string, jobs []string) envSummary {
	s := envSummary{Path: path, Jobs: jobs}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, path)
	}

	f, err := envfile.Load(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.Missing = true
		} else {
			s.Problem = err.Error()
		}
		return s
	}

	s.Name = f.Name
	s.Channels = f.Channels
	s.Conda = len(f.Dependencies.Conda)
	s.Pip = len(f.Dependencies.Pip)
	return s
}

// printEnvResult outputs the summaries in text or JSON format,
// depending on the global --json flag.
func printEnvResult(cmd *cobra.Command, summaries []envSummary) {
	out := cmd.OutOrStdout()

	if IsJSONOutput() {
		result := struct {
			Files []envSummary `json:"files"`
		}{Files: summaries}
		if result.Files == nil {
			result.Files = make([]envSummary, 0)
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No environment files referenced.")
		return
	}

	fmt.Fprintf(out, "%-28s %-16s %-7s %-7s %s\n", "FILE", "NAME", "CONDA", "PIP", "USED BY")
	for _, s := range summaries {
		switch {
		case s.Missing:
			fmt.Fprintf(out, "%-28s %-16s %-7s %-7s %s\n", s.Path, "(missing)", "-", "-", strings.Join(s.Jobs, ","))
		case s.Problem != "":
			fmt.Fprintf(out, "%-28s %-16s %-7s %-7s %s\n", s.Path, "(unparsable)", "-", "-", strings.Join(s.Jobs, ","))
		default:
			fmt.Fprintf(out, "%-28s %-16s %-7d %-7d %s\n",
				s.Path, dash(s.Name), s.Conda, s.Pip, strings.Join(s.Jobs, ","))
		}
	}
}
