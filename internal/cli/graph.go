// Package cli — graph.go implements the "stagehand graph" command.
//
// The graph command renders the job dependency graph as DOT, either to
// stdout for piping into graphviz or to a file. When the journal holds
// a finished run, its per-job statuses and durations can be folded into
// the drawing with --last.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/journal"
	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// graphFlags holds the flag values for the graph command.
type graphFlags struct {
	// output is the destination file. Empty means stdout.
	output string

	// last colors the graph with the most recent run's results.
	last bool

	// only restricts the graph the same way `run --only` restricts
	// the plan.
	only []string
}

// NewGraphCommand creates the "graph" cobra command.
func NewGraphCommand() *cobra.Command {
	flags := &graphFlags{}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the job dependency graph as DOT",
		Long: `Render the job dependency graph in graphviz DOT format.

Examples:
  stagehand graph | dot -Tsvg -o plan.svg
  stagehand graph -o plan.dot
  stagehand graph --last`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write DOT to a file instead of stdout")
	cmd.Flags().BoolVar(&flags.last, "last", false, "Color nodes with the most recent run's results")
	cmd.Flags().StringSliceVar(&flags.only, "only", nil, "Graph only these jobs (plus their dependencies)")

	return cmd
}

// runGraph is the main logic function for the graph command.
func runGraph(cmd *cobra.Command, flags *graphFlags) error {
	root, err := resolveWorkdir()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("configuration has %d problem(s), run `stagehand lint`", len(problems)),
			&problems[0])
	}

	git := gitinfo.Detect(cmd.Context(), root)
	p, err := plan.Build(cfg, git, plan.Options{Only: flags.only})
	if err != nil {
		return err
	}

	drawer, err := plan.NewDrawerFromPlan(p)
	if err != nil {
		return err
	}

	if flags.last {
		if err := colorWithLastRun(drawer, root); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if flags.output != "" {
		f, err := os.Create(flags.output)
		if err != nil {
			return model.WrapCLIError(model.ExitUsageError,
				fmt.Sprintf("could not create %s", flags.output), err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	return drawer.Draw(out)
}

// colorWithLastRun folds the most recent journaled run's job statuses
// and durations into the drawing. Jobs the last run never touched stay
// uncolored.
func colorWithLastRun(drawer *plan.Drawer, root string) error {
	j, err := journal.Open(journal.DefaultDir(root))
	if err != nil {
		return model.WrapCLIError(model.ExitJournalError, "could not open run journal", err)
	}
	defer func() { _ = j.Close() }()

	runs, err := j.Runs()
	if err != nil {
		return model.WrapCLIError(model.ExitJournalError, "could not read run journal", err)
	}
	if len(runs) == 0 {
		return nil
	}

	last := runs[len(runs)-1]
	events, err := j.Read(journal.Filter{RunID: last.ID, Type: model.EventJobFinished})
	if err != nil {
		return model.WrapCLIError(model.ExitJournalError, "could not read run journal", err)
	}

	for _, ev := range events {
		// Jobs removed from the configuration since that run are not
		// in the drawing; ignore them rather than fail the render.
		if err := drawer.SetStatus(ev.Job, ev.Status); err != nil {
			continue
		}
		_ = drawer.SetDuration(ev.Job, ev.Duration)
	}
	return nil
}
