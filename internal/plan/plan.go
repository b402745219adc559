package plan

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/mmr-tortoise/stagehand/internal/condition"
	"github.com/mmr-tortoise/stagehand/internal/config"
	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// DefaultShell is the session interpreter used when the configuration
// does not set one.
const DefaultShell = "/bin/sh"

// Options adjust plan construction.
type Options struct {
	// Only restricts the plan to the named jobs plus their transitive
	// dependencies. Empty means every job.
	Only []string
}

// Step is one fully resolved command of a job.
type Step struct {
	// Phase is the command phase the step belongs to.
	Phase model.Phase

	// Index is the job-wide sequential position of the step. The shell
	// session uses it to correlate output markers with steps.
	Index int

	// Name is the display label.
	Name string

	// Run is the command text, passed to the session verbatim.
	Run string

	// Creates is the optional path guard: the session skips the step
	// when the path already exists.
	Creates string

	// Skip marks steps whose condition evaluated to false. They are
	// reported but never reach the session.
	Skip bool

	// SkipReason says why Skip is set.
	SkipReason string
}

// Job is a fully resolved unit of execution. All inheritance and
// composition is done: the engine can run a Job without consulting the
// configuration again.
type Job struct {
	// Name identifies the job within the run ("python-3.6", "lint").
	Name string

	// RuntimeVersion is the matrix entry or the job's python pin. It is
	// exported as STAGEHAND_RUNTIME_VERSION and selects the default
	// docker image.
	RuntimeVersion string

	// Image is the configured docker executor image, if any.
	Image string

	// Shell is the session interpreter.
	Shell string

	// Needs lists the jobs that must pass before this one starts.
	Needs []string

	// Env is the composed environment as KEY=VALUE entries: runner
	// variables first, then repository metadata, then env.global, then
	// the job's own entries. Later entries win on duplicate keys.
	Env []string

	// Steps is the flattened command list, all phases in execution
	// order.
	Steps []Step

	// CacheDirs lists the directories the cache phases persist.
	CacheDirs []string

	// Skip marks jobs whose condition evaluated to false.
	Skip bool

	// SkipReason says why Skip is set.
	SkipReason string
}

// EnvMap returns the job environment with later duplicates folded in.
func (j *Job) EnvMap() map[string]string {
	env := make(map[string]string, len(j.Env))
	for _, entry := range j.Env {
		if key, val, ok := strings.Cut(entry, "="); ok {
			env[key] = val
		}
	}
	return env
}

// PhaseSteps returns the job's steps belonging to one phase.
func (j *Job) PhaseSteps(p model.Phase) []Step {
	var steps []Step
	for _, s := range j.Steps {
		if s.Phase == p {
			steps = append(steps, s)
		}
	}
	return steps
}

// Plan is the executable expansion of one configuration.
type Plan struct {
	// Jobs holds every job in topological order: a job always appears
	// after everything it needs.
	Jobs []*Job

	byName map[string]*Job
}

// Job returns the named job, or nil.
func (p *Plan) Job(name string) *Job {
	return p.byName[name]
}

// Names returns the job names in plan order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Jobs))
	for i, j := range p.Jobs {
		names[i] = j.Name
	}
	return names
}

// Build expands cfg into a Plan.
//
// Matrix jobs come first in declaration order, then explicit jobs; the
// final order is a stable topological sort of the needs graph, so
// declaration order is preserved wherever dependencies allow. Condition
// expressions are evaluated against the detected repository state; a
// false job condition keeps the job in the plan, marked Skip, so runs
// report it rather than silently dropping it.
func Build(cfg *config.Config, git gitinfo.Info, opts Options) (*Plan, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = DefaultShell
	}

	var jobs []*Job

	for _, version := range cfg.Python {
		j := &Job{
			Name:           config.MatrixJobName(version),
			RuntimeVersion: version,
			Shell:          shell,
			CacheDirs:      append([]string(nil), cfg.Cache.Directories...),
		}
		j.Env = composeEnv(runnerEnv(j.Name, version), gitEnv(git), cfg.Env.Global)
		if err := resolveSteps(j, cfg, nil, git); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	for i := range cfg.Jobs {
		spec := &cfg.Jobs[i]
		j := &Job{
			Name:           spec.Name,
			RuntimeVersion: spec.Python,
			Image:          spec.Image,
			Shell:          shell,
			Needs:          dedupe(spec.Needs),
			CacheDirs:      append([]string(nil), cfg.Cache.Directories...),
		}
		j.Env = composeEnv(runnerEnv(j.Name, spec.Python), gitEnv(git), cfg.Env.Global, spec.Env)

		if spec.If != "" {
			ok, err := condition.Evaluate(spec.If, conditionVars(j, git))
			if err != nil {
				return nil, model.WrapCLIError(model.ExitConfigError,
					fmt.Sprintf("job %q: invalid condition", spec.Name), err)
			}
			if !ok {
				j.Skip = true
				j.SkipReason = fmt.Sprintf("condition %q is false", spec.If)
			}
		}

		// Skipped jobs keep no steps; they exist for reporting and for
		// dependency propagation only.
		if !j.Skip {
			if err := resolveSteps(j, cfg, spec, git); err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, j)
	}

	ordered, err := sortJobs(jobs)
	if err != nil {
		return nil, err
	}

	p := &Plan{Jobs: ordered, byName: make(map[string]*Job, len(ordered))}
	for _, j := range p.Jobs {
		p.byName[j.Name] = j
	}

	if len(opts.Only) > 0 {
		return p.restrict(opts.Only)
	}
	return p, nil
}

// resolveSteps flattens the job's phase lists into Job.Steps. A job-level
// phase override replaces the top-level list; nil means inherit.
func resolveSteps(j *Job, cfg *config.Config, spec *config.JobSpec, git gitinfo.Info) error {
	vars := conditionVars(j, git)
	idx := 0
	for _, phase := range model.CommandPhases() {
		list := cfg.PhaseSteps(phase)
		if spec != nil {
			if override := spec.PhaseSteps(phase); override != nil {
				list = override
			}
		}
		for _, cs := range list {
			step := Step{
				Phase:   phase,
				Index:   idx,
				Name:    cs.Label(),
				Run:     cs.Run,
				Creates: cs.Creates,
			}
			if cs.If != "" {
				ok, err := condition.Evaluate(cs.If, vars)
				if err != nil {
					return model.WrapCLIError(model.ExitConfigError,
						fmt.Sprintf("job %q, %s step %d: invalid condition", j.Name, phase, idx), err)
				}
				if !ok {
					step.Skip = true
					step.SkipReason = fmt.Sprintf("condition %q is false", cs.If)
				}
			}
			j.Steps = append(j.Steps, step)
			idx++
		}
	}
	return nil
}

// conditionVars assembles the variables condition expressions see. Env
// holds the literal composed values; no shell expansion happens here.
func conditionVars(j *Job, git gitinfo.Info) condition.Vars {
	return condition.Vars{
		Branch:  git.Branch,
		Tag:     git.Tag,
		Commit:  git.Commit,
		OS:      runtime.GOOS,
		Runtime: j.RuntimeVersion,
		Env:     j.EnvMap(),
	}
}

// sortJobs orders jobs topologically by their needs edges, preserving
// declaration order among independent jobs. Cycles and unknown
// references surface as configuration errors.
func sortJobs(jobs []*Job) ([]*Job, error) {
	byName := make(map[string]*Job, len(jobs))
	declared := make(map[string]int, len(jobs))

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for i, j := range jobs {
		if err := g.AddVertex(j.Name); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, model.NewCLIError(model.ExitConfigError,
					fmt.Sprintf("duplicate job name %q", j.Name))
			}
			return nil, err
		}
		byName[j.Name] = j
		declared[j.Name] = i
	}

	for _, j := range jobs {
		for _, need := range j.Needs {
			err := g.AddEdge(need, j.Name)
			switch {
			case err == nil:
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, model.NewCLIError(model.ExitConfigError,
					fmt.Sprintf("dependency cycle between jobs %q and %q", need, j.Name))
			case errors.Is(err, graph.ErrVertexNotFound):
				return nil, model.NewCLIError(model.ExitConfigError,
					fmt.Sprintf("job %q needs unknown job %q", j.Name, need))
			default:
				return nil, fmt.Errorf("failed to add dependency %s -> %s: %w", need, j.Name, err)
			}
		}
	}

	names, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return declared[a] < declared[b]
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "job dependencies do not form a DAG", err)
	}

	ordered := make([]*Job, len(names))
	for i, name := range names {
		ordered[i] = byName[name]
	}
	return ordered, nil
}

// restrict returns the sub-plan containing the named jobs and their
// transitive dependencies, in the original order.
func (p *Plan) restrict(only []string) (*Plan, error) {
	keep := make(map[string]bool)

	var mark func(name string) error
	mark = func(name string) error {
		j := p.byName[name]
		if j == nil {
			return model.NewCLIError(model.ExitUsageError,
				fmt.Sprintf("unknown job %q (available: %s)", name, strings.Join(p.Names(), ", ")))
		}
		if keep[name] {
			return nil
		}
		keep[name] = true
		for _, need := range j.Needs {
			if err := mark(need); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range only {
		if err := mark(name); err != nil {
			return nil, err
		}
	}

	sub := &Plan{byName: make(map[string]*Job, len(keep))}
	for _, j := range p.Jobs {
		if keep[j.Name] {
			sub.Jobs = append(sub.Jobs, j)
			sub.byName[j.Name] = j
		}
	}
	return sub, nil
}

// runnerEnv returns the variables the runner itself exports into every
// job session.
func runnerEnv(jobName, version string) []string {
	env := []string{
		"CI=true",
		"STAGEHAND=true",
		"STAGEHAND_JOB=" + jobName,
	}
	if version != "" {
		env = append(env, "STAGEHAND_RUNTIME_VERSION="+version)
	}
	return env
}

// gitEnv renders the detected repository metadata as sorted KEY=VALUE
// entries.
func gitEnv(git gitinfo.Info) []string {
	m := git.Env()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + m[k]
	}
	return env
}

// composeEnv folds KEY=VALUE lists into one: later lists win on
// duplicate keys, first appearance fixes the position.
func composeEnv(lists ...[]string) []string {
	var order []string
	values := make(map[string]string)

	for _, list := range lists {
		for _, entry := range list {
			key, val, ok := strings.Cut(entry, "=")
			if !ok {
				// Malformed entries are rejected by validation; keep
				// composition total anyway.
				continue
			}
			if _, seen := values[key]; !seen {
				order = append(order, key)
			}
			values[key] = val
		}
	}

	env := make([]string, len(order))
	for i, key := range order {
		env[i] = key + "=" + values[key]
	}
	return env
}

// dedupe removes duplicate needs entries, keeping first positions.
func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
