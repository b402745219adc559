// Package cli — run.go implements the "stagehand run" command.
//
// The run command is the heart of the tool: it loads the configuration,
// expands it into a job plan, and drives the plan through the engine.
// Each job gets its cached directories restored, a single shell session
// for every configured command, and a cache save after a pass. Events
// are journaled and optionally forwarded to GitHub commit statuses or a
// socket.io stream.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/stagehand/internal/config"
	"github.com/mmr-tortoise/stagehand/internal/ctxlog"
	"github.com/mmr-tortoise/stagehand/internal/engine"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/journal"
	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/notify"
	"github.com/mmr-tortoise/stagehand/internal/plan"
	"github.com/mmr-tortoise/stagehand/internal/report"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	// jobs caps how many jobs execute concurrently.
	jobs int

	// executor picks where sessions run: "local" or "docker".
	executor string

	// image overrides the docker image for every job.
	image string

	// only restricts the run to the named jobs plus their transitive
	// dependencies.
	only []string

	// dryRun prints the composed session scripts without executing.
	dryRun bool

	// noCache skips the cache restore and save phases.
	noCache bool

	// noReport disables the run artifact directory.
	noReport bool

	// github posts commit statuses even when the configuration does
	// not ask for them.
	github bool

	// stream overrides the configured socket.io event endpoint.
	stream string
}

// NewRunCommand creates the "run" cobra command.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured build jobs",
		Long: `Run the configured build jobs in dependency order.

Each job executes its phases — before_install, install, script — in one
shell session, so exports and activated environments carry across
steps. A nonzero exit aborts the remaining steps of the job.

Examples:
  stagehand run
  stagehand run --jobs 4
  stagehand run --only python-3.11
  stagehand run --executor docker --image python:3.11-slim
  stagehand run --dry-run`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 1, "Number of jobs to run concurrently")
	cmd.Flags().StringVar(&flags.executor, "executor", "local", "Where sessions run: local, docker")
	cmd.Flags().StringVar(&flags.image, "image", "", "Override the docker image for all jobs")
	cmd.Flags().StringSliceVar(&flags.only, "only", nil, "Run only these jobs (plus their dependencies)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print session scripts instead of executing")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Skip cache restore and save")
	cmd.Flags().BoolVar(&flags.noReport, "no-report", false, "Do not write run artifacts")
	cmd.Flags().BoolVar(&flags.github, "github", false, "Post GitHub commit statuses")
	cmd.Flags().StringVar(&flags.stream, "stream", "", "Stream events to a socket.io URL")

	return cmd
}

// runRun is the main logic function for the run command. It assembles
// every collaborator the engine needs — plan, executor, journal, cache,
// notifiers, report directory — and maps the result onto an exit code.
func runRun(cmd *cobra.Command, flags *runFlags) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

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

	git := gitinfo.Detect(ctx, root)

	p, err := plan.Build(cfg, git, plan.Options{Only: flags.only})
	if err != nil {
		return err
	}

	exec, err := buildExecutor(flags, root)
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close() }()

	opts := engine.Options{
		Workdir:  root,
		Executor: exec,
		Parallel: flags.jobs,
		Output:   cmd.OutOrStdout(),
		Echo:     !quiet && !jsonOutput,
		DryRun:   flags.dryRun,
	}

	// Dry runs only print scripts; none of the stateful collaborators
	// are needed, and none of their files should appear on disk.
	if !flags.dryRun {
		j, err := journal.Open(journal.DefaultDir(root))
		if err != nil {
			return model.WrapCLIError(model.ExitJournalError, "could not open run journal", err)
		}
		defer func() { _ = j.Close() }()
		opts.Journal = j

		if !flags.noCache {
			mgr, err := openCache()
			if err != nil {
				return err
			}
			defer mgr.Close()
			opts.Cache = mgr
		}

		if !flags.noReport {
			opts.ReportDir = report.DefaultDir(root)
		}

		sink, err := buildNotifier(ctx, flags, cfg.Notifications, git)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()
		opts.Notifier = sink
	}

	res, err := engine.Run(ctx, p, git, opts)
	if err != nil {
		return err
	}

	printRunResult(cmd, res, opts.ReportDir)

	switch res.Status {
	case model.StatusPassed, model.StatusSkipped:
		return nil
	case model.StatusCanceled:
		logger.Warn("run canceled", "run", res.ID)
		return model.NewCLIError(model.ExitBuildFailed, fmt.Sprintf("run %s canceled", res.ID))
	default:
		return model.NewCLIError(model.ExitBuildFailed, fmt.Sprintf("run %s %s", res.ID, res.Status))
	}
}

// buildExecutor maps the --executor flag onto an engine executor.
func buildExecutor(flags *runFlags, root string) (engine.Executor, error) {
	switch flags.executor {
	case "local", "":
		return engine.Local{}, nil
	case "docker":
		return engine.NewDocker(flags.image, root)
	default:
		return nil, model.NewCLIError(model.ExitUsageError,
			fmt.Sprintf("unknown executor %q: valid values are local, docker", flags.executor))
	}
}

// buildNotifier assembles the event sinks: structured logging always,
// GitHub statuses and the socket.io stream when the flags or the
// configuration ask for them. Flags win over configuration.
func buildNotifier(ctx context.Context, flags *runFlags, cfg config.Notifications, git gitinfo.Info) (notify.Notifier, error) {
	logger := ctxlog.FromContext(ctx)
	sinks := []notify.Notifier{notify.NewLogNotifier(logger)}

	if flags.github || cfg.GitHubStatus {
		gh, err := notify.NewGitHubNotifier("", git)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, gh)
	}

	streamURL := flags.stream
	if streamURL == "" {
		streamURL = cfg.StreamURL
	}
	if streamURL != "" {
		stream, err := notify.NewStreamNotifier(logger, streamURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, stream)
	}

	return notify.NewMulti(sinks...), nil
}

// printRunResult outputs the run summary in text or JSON format,
// depending on the global --json flag.
func printRunResult(cmd *cobra.Command, res *model.RunResult, reportDir string) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}
	printRunResultText(cmd, res, reportDir)
}

// printRunResultText renders the per-job table plus the run total:
//
//	JOB           STATUS   DURATION  CACHE  REASON
//	python-3.11   passed   42s       hit
//	lint          skipped  -         -      dependency "python-3.11" failed
//
//	run 2026_08_25_10_30_00 passed (2 jobs, 43s)
func printRunResultText(cmd *cobra.Command, res *model.RunResult, reportDir string) {
	out := cmd.OutOrStdout()

	if len(res.Jobs) > 0 {
		fmt.Fprintf(out, "\n%-24s %-9s %-9s %-6s %s\n", "JOB", "STATUS", "DURATION", "CACHE", "REASON")
		for _, jr := range res.Jobs {
			fmt.Fprintf(out, "%-24s %-9s %-9s %-6s %s\n",
				jr.Name,
				jr.Status.String(),
				formatDuration(jr.Duration),
				cacheCell(jr),
				jr.Reason,
			)
		}
	}

	fmt.Fprintf(out, "\nrun %s %s (%d job(s), %s)\n",
		res.ID, res.Status.String(), len(res.Jobs), formatDuration(res.Duration))
	if reportDir != "" {
		fmt.Fprintf(out, "artifacts: %s\n", filepath.Join(reportDir, res.ID))
	}
}

// cacheCell renders the cache column: "hit", "miss" for jobs that went
// through the cache phases, "-" for the rest.
func cacheCell(jr model.JobResult) string {
	for _, st := range jr.Steps {
		if st.Phase == model.PhaseCacheRestore {
			if jr.CacheHit {
				return "hit"
			}
			return "miss"
		}
	}
	return "-"
}

// formatDuration renders durations for table cells: sub-second values
// keep millisecond precision, everything else rounds to tenths of a
// second. Zero renders as "-" so unstarted jobs do not claim runtime.
func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
