// Package cli — history.go implements the "stagehand history" command.
//
// The history command folds the append-only journal into one line per
// run: when it started, what it ran, and how the jobs ended. The prune
// subcommand truncates the journal down to the most recent runs.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/journal"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// historyFlags holds the flag values for the history command.
type historyFlags struct {
	// limit caps how many runs are shown, newest last. Zero means all.
	limit int

	// branch filters runs by the branch they were started on.
	branch string
}

// NewHistoryCommand creates the "history" cobra command.
func NewHistoryCommand() *cobra.Command {
	flags := &historyFlags{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		Long: `List past runs recorded in the journal.

Each run is shown with its ID, start time, branch, aggregate status,
and how its jobs ended.

Examples:
  stagehand history
  stagehand history --limit 5
  stagehand history --branch main --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 20, "Show at most this many runs (0 = all)")
	cmd.Flags().StringVar(&flags.branch, "branch", "", "Only show runs of this branch")

	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

// newHistoryPruneCommand creates the "history prune" subcommand.
func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop all but the most recent runs from the journal",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			removed, err := j.Prune(keep)
			if err != nil {
				return model.WrapCLIError(model.ExitJournalError, "could not prune journal", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d run(s), kept the %d most recent\n", removed, keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 20, "Number of runs to keep")

	return cmd
}

// runHistory is the main logic function for the history command.
func runHistory(cmd *cobra.Command, flags *historyFlags) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	runs, err := j.Runs()
	if err != nil {
		return model.WrapCLIError(model.ExitJournalError, "could not read run journal", err)
	}

	if flags.branch != "" {
		filtered := make([]journal.RunRecord, 0, len(runs))
		for _, run := range runs {
			if run.Branch == flags.branch {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}

	// Runs come back oldest first; the limit keeps the newest tail so
	// the most recent run is always the last line on screen.
	if flags.limit > 0 && len(runs) > flags.limit {
		runs = runs[len(runs)-flags.limit:]
	}

	printHistoryResult(cmd, runs)
	return nil
}

// openJournal opens the journal under the workdir.
func openJournal() (*journal.Journal, error) {
	root, err := resolveWorkdir()
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(journal.DefaultDir(root))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitJournalError, "could not open run journal", err)
	}
	return j, nil
}

// printHistoryResult outputs the run list in text or JSON format,
// depending on the global --json flag.
func printHistoryResult(cmd *cobra.Command, runs []journal.RunRecord) {
	out := cmd.OutOrStdout()

	if IsJSONOutput() {
		result := struct {
			Runs []journal.RunRecord `json:"runs"`
		}{
			// An empty slice keeps the JSON output at [] instead of null.
			Runs: runs,
		}
		if result.Runs == nil {
			result.Runs = make([]journal.RunRecord, 0)
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return
	}

	fmt.Fprintf(out, "%-25s %-20s %-16s %-9s %-14s %s\n",
		"RUN", "STARTED", "BRANCH", "STATUS", "JOBS", "DURATION")
	for _, run := range runs {
		fmt.Fprintf(out, "%-25s %-20s %-16s %-9s %-14s %s\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			dash(run.Branch),
			statusText(run),
			jobsCell(run),
			formatDuration(run.Duration),
		)
	}
}

// statusText renders the aggregate status, flagging runs the journal
// never saw finish.
func statusText(run journal.RunRecord) string {
	if run.Status == "" {
		return "unfinished"
	}
	return run.Status.String()
}

// jobsCell renders the job tally, e.g. "3/4 ok, 1 failed". Skips are
// only mentioned when present.
func jobsCell(run journal.RunRecord) string {
	cell := fmt.Sprintf("%d/%d ok", run.Passed, run.Planned)
	if run.Failed > 0 {
		cell += fmt.Sprintf(", %d failed", run.Failed)
	}
	if run.Skipped > 0 {
		cell += fmt.Sprintf(", %d skipped", run.Skipped)
	}
	return cell
}

// dash substitutes "-" for empty table cells.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
