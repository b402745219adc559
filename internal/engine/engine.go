package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/stagehand/internal/cache"
	"github.com/mmr-tortoise/stagehand/internal/ctxlog"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/instant"
	"github.com/mmr-tortoise/stagehand/internal/journal"
	"github.com/mmr-tortoise/stagehand/internal/model"
	"github.com/mmr-tortoise/stagehand/internal/notify"
	"github.com/mmr-tortoise/stagehand/internal/plan"
	"github.com/mmr-tortoise/stagehand/internal/report"
	"github.com/mmr-tortoise/stagehand/internal/shell"
)

// Options configures a run.
type Options struct {
	// Workdir is the directory jobs execute in, normally the
	// repository root.
	Workdir string

	// Executor launches job sessions. Defaults to Local.
	Executor Executor

	// Parallel caps how many jobs run at once. Values below one mean
	// sequential execution.
	Parallel int

	// Cache restores and saves declared directories. Nil disables
	// caching.
	Cache *cache.Manager

	// Journal receives every lifecycle event. Optional.
	Journal *journal.Journal

	// Notifier receives every lifecycle event. Optional.
	Notifier notify.Notifier

	// ReportDir is the directory run artifacts are written under.
	// Empty disables artifacts.
	ReportDir string

	// Output receives echoed job output and dry-run scripts. Defaults
	// to io.Discard.
	Output io.Writer

	// Echo mirrors job output onto Output, one prefixed line at a
	// time. Job logs under the report directory are written either
	// way.
	Echo bool

	// DryRun prints each job's composed script instead of executing
	// anything.
	DryRun bool
}

// Run executes the plan and returns the aggregated result. The error
// reports runner breakage (executor setup, artifact directories); job
// failures are expressed in the result status instead.
func Run(ctx context.Context, p *plan.Plan, git gitinfo.Info, opts Options) (*model.RunResult, error) {
	logger := ctxlog.FromContext(ctx)
	if opts.Executor == nil {
		opts.Executor = Local{}
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}

	res := &model.RunResult{
		ID:        runID(opts.ReportDir),
		Repo:      repoDisplay(git, opts.Workdir),
		Branch:    git.Branch,
		Commit:    git.Commit,
		Tag:       git.Tag,
		StartedAt: time.Now(),
	}

	if opts.DryRun {
		printScripts(opts.Output, p, opts.Executor, res.ID)
		res.Status = model.StatusPassed
		res.Duration = time.Since(res.StartedAt)
		return res, nil
	}

	if err := opts.Executor.Prepare(ctx); err != nil {
		return nil, err
	}

	var rep *report.Writer
	if opts.ReportDir != "" {
		var err error
		rep, err = report.NewWriter(opts.ReportDir, res.ID)
		if err != nil {
			return nil, err
		}
	}

	r := &runner{
		plan:   p,
		opts:   opts,
		report: rep,
		logger: logger,
		emit:   newEmitter(res.ID, opts.Journal, opts.Notifier, logger),
		status: make(map[string]model.Status, len(p.Jobs)),
		done:   make(map[string]chan struct{}, len(p.Jobs)),
	}

	logger.Info("run started",
		"run", res.ID, "jobs", len(p.Jobs), "parallel", opts.Parallel, "executor", opts.Executor.Name())
	r.emit.send(ctx, model.Event{
		Type:   model.EventRunStarted,
		Jobs:   p.Names(),
		Repo:   res.Repo,
		Branch: res.Branch,
		Commit: res.Commit,
	})

	for _, jr := range r.execute(ctx) {
		res.Jobs = append(res.Jobs, jr)
		res.Merge(jr)
	}
	if res.Status == "" {
		res.Status = model.StatusPassed
	}
	res.Duration = time.Since(res.StartedAt)

	// The closing event and the artifacts must land even when the run
	// was interrupted, so they use a detached context.
	detached := context.WithoutCancel(ctx)
	r.emit.send(detached, model.Event{
		Type:     model.EventRunFinished,
		Status:   res.Status,
		Duration: res.Duration,
	})
	if opts.Journal != nil {
		if err := opts.Journal.Sync(); err != nil {
			logger.Warn("could not sync journal", "error", err)
		}
	}
	if rep != nil {
		if err := rep.Write(p, res); err != nil {
			logger.Warn("could not write run artifacts", "error", err)
		} else {
			logger.Info("run artifacts written", "dir", rep.Dir())
		}
	}
	logger.Info("run finished", "run", res.ID, "status", res.Status.String(), "duration", res.Duration)

	return res, nil
}

// runner holds the state shared between concurrently executing jobs.
type runner struct {
	plan   *plan.Plan
	opts   Options
	report *report.Writer
	logger *slog.Logger
	emit   *emitter

	mu     sync.Mutex
	status map[string]model.Status
	done   map[string]chan struct{}

	outMu sync.Mutex
}

// execute runs every job, honoring the dependency graph and the
// parallelism cap. Results come back in plan order regardless of
// completion order.
func (r *runner) execute(ctx context.Context) []model.JobResult {
	for _, job := range r.plan.Jobs {
		r.done[job.Name] = make(chan struct{})
	}

	results := make([]model.JobResult, len(r.plan.Jobs))

	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)

	// Plan order is topological, so a job waiting on its dependencies
	// can only be waiting on jobs submitted before it. The earliest
	// submitted waiter therefore always makes progress and the pool
	// cannot deadlock, even at limit one.
	for i, job := range r.plan.Jobs {
		g.Go(func() error {
			defer close(r.done[job.Name])
			jr := r.runJob(ctx, job)
			r.mu.Lock()
			r.status[job.Name] = jr.Status
			r.mu.Unlock()
			results[i] = jr
			return nil
		})
	}
	// Job goroutines never return errors; failures live in results.
	_ = g.Wait()

	return results
}

func (r *runner) runJob(ctx context.Context, job *plan.Job) model.JobResult {
	jr := model.JobResult{Name: job.Name, RuntimeVersion: job.RuntimeVersion}

	finish := func() model.JobResult {
		r.emit.send(ctx, model.Event{
			Type:     model.EventJobFinished,
			Job:      job.Name,
			Status:   jr.Status,
			Reason:   jr.Reason,
			CacheHit: jr.CacheHit,
			Duration: jr.Duration,
		})
		return jr
	}

	if job.Skip {
		jr.Status = model.StatusSkipped
		jr.Reason = job.SkipReason
		return finish()
	}

	if reason := r.waitForNeeds(ctx, job); reason != "" {
		jr.Status = model.StatusSkipped
		jr.Reason = reason
		return finish()
	}
	if ctx.Err() != nil {
		jr.Status = model.StatusCanceled
		jr.Reason = "run canceled"
		return finish()
	}

	jr.StartedAt = time.Now()
	r.emit.send(ctx, model.Event{Type: model.EventJobStarted, Job: job.Name})

	output, closeOutput := r.jobOutput(job.Name)
	defer closeOutput()

	caching := r.opts.Cache != nil && len(job.CacheDirs) > 0
	if caching {
		restore := r.restoreCache(ctx, job, &jr)
		jr.Steps = append(jr.Steps, restore)
		r.emit.send(ctx, model.Event{Type: model.EventStepFinished, Job: job.Name, Step: &restore})
		if ctx.Err() != nil {
			jr.Status = model.StatusCanceled
			jr.Reason = "run canceled"
			jr.Duration = time.Since(jr.StartedAt)
			return finish()
		}
	}

	sess := &shell.Session{
		Argv:   r.opts.Executor.Argv(r.emit.runID, job),
		Dir:    r.opts.Workdir,
		Output: output,
		OnStepEnd: func(sr model.StepResult) {
			r.emit.send(ctx, model.Event{Type: model.EventStepFinished, Job: job.Name, Step: &sr})
		},
	}

	steps, err := sess.Run(ctx, job)
	jr.Steps = append(jr.Steps, steps...)

	switch {
	case err != nil && ctx.Err() != nil:
		jr.Status = model.StatusCanceled
		jr.Reason = "run canceled"
	case err != nil:
		jr.Status = model.StatusErrored
		jr.Reason = err.Error()
	default:
		jr.Status = foldSteps(steps)
	}

	if caching && jr.Status == model.StatusPassed {
		save := r.saveCache(ctx, job)
		jr.Steps = append(jr.Steps, save)
		r.emit.send(ctx, model.Event{Type: model.EventStepFinished, Job: job.Name, Step: &save})
	}

	jr.Duration = time.Since(jr.StartedAt)
	return finish()
}

// waitForNeeds blocks until every dependency of the job has settled.
// It returns a non-empty skip reason when a dependency did not pass,
// and an empty string when the job may run or the context was
// canceled while waiting.
func (r *runner) waitForNeeds(ctx context.Context, job *plan.Job) string {
	for _, need := range job.Needs {
		select {
		case <-r.done[need]:
		case <-ctx.Done():
			return ""
		}
	}
	for _, need := range job.Needs {
		r.mu.Lock()
		status := r.status[need]
		r.mu.Unlock()
		if status != model.StatusPassed {
			return fmt.Sprintf("dependency %q %s", need, status)
		}
	}
	return ""
}

// restoreCache runs the restore pseudo-step. Cache trouble is logged
// and surfaces as an errored step, but never blocks the job: the cache
// is an accelerator, not a dependency.
func (r *runner) restoreCache(ctx context.Context, job *plan.Job, jr *model.JobResult) model.StepResult {
	step := model.StepResult{
		Job:       job.Name,
		Phase:     model.PhaseCacheRestore,
		Status:    model.StatusPassed,
		StartedAt: time.Now(),
	}
	hit, err := r.opts.Cache.Restore(ctx, job, r.opts.Workdir)
	step.Duration = time.Since(step.StartedAt)
	jr.CacheHit = hit
	if err != nil && ctx.Err() == nil {
		step.Status = model.StatusErrored
		r.logger.Warn("cache restore failed", "job", job.Name, "error", err)
	}
	return step
}

// saveCache runs the save pseudo-step after a passing job. A failed
// save leaves the job green; the next run simply misses the cache.
func (r *runner) saveCache(ctx context.Context, job *plan.Job) model.StepResult {
	step := model.StepResult{
		Job:       job.Name,
		Phase:     model.PhaseCacheSave,
		Status:    model.StatusPassed,
		StartedAt: time.Now(),
	}
	if err := r.opts.Cache.Save(ctx, job, r.opts.Workdir); err != nil {
		step.Status = model.StatusErrored
		r.logger.Warn("cache save failed", "job", job.Name, "error", err)
	}
	step.Duration = time.Since(step.StartedAt)
	return step
}

// jobOutput assembles the writer a job's session streams into: the log
// file under the report directory when artifacts are enabled, plus the
// prefixed echo when requested. The returned func flushes and closes
// everything.
func (r *runner) jobOutput(job string) (io.Writer, func()) {
	var writers []io.Writer
	var closers []io.Closer
	var pw *prefixWriter

	if r.report != nil {
		f, err := r.report.JobLog(job)
		if err != nil {
			r.logger.Warn("could not open job log", "job", job, "error", err)
		} else {
			writers = append(writers, f)
			closers = append(closers, f)
		}
	}
	if r.opts.Echo {
		pw = newPrefixWriter(r.opts.Output, job+" | ", &r.outMu)
		writers = append(writers, pw)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	return out, func() {
		if pw != nil {
			pw.Flush()
		}
		for _, c := range closers {
			_ = c.Close()
		}
	}
}

// foldSteps reduces a job's step results to the job status. Skipped
// steps never degrade the aggregate, so an all-skipped session still
// counts as passed.
func foldSteps(steps []model.StepResult) model.Status {
	status := model.StatusPassed
	for _, st := range steps {
		status = model.MergeStatus(status, st.Status)
	}
	return status
}

// runID picks a fresh timestamp-based identifier, probing the report
// directory so two runs started within the same second stay distinct.
func runID(reportDir string) string {
	now := instant.Now()
	if reportDir == "" {
		return now.String()
	}
	return instant.Unique(now, func(id string) bool {
		_, err := os.Stat(filepath.Join(reportDir, id))
		return err == nil
	}).String()
}

func repoDisplay(git gitinfo.Info, workdir string) string {
	if slug := git.Slug(); slug != "" {
		return slug
	}
	return workdir
}

// printScripts writes each job's composed session script without
// executing anything.
func printScripts(w io.Writer, p *plan.Plan, exec Executor, runID string) {
	const nonce = "0000000000000000"
	for _, job := range p.Jobs {
		if job.Skip {
			fmt.Fprintf(w, "# job %s: skipped (%s)\n\n", job.Name, job.SkipReason)
			continue
		}
		argv := exec.Argv(runID, job)
		if len(argv) == 0 {
			argv = []string{job.Shell, "-s"}
		}
		fmt.Fprintf(w, "# job %s: %s\n", job.Name, strings.Join(argv, " "))
		fmt.Fprintln(w, shell.Script(job, nonce))
	}
}
