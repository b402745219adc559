package engine

import (
	"context"
	"time"

	"github.com/mmr-tortoise/stagehand/internal/docker"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// Executor decides how a job's session process is launched.
type Executor interface {
	// Name identifies the executor in logs and reports.
	Name() string

	// Prepare verifies the executor can run jobs at all. It is called
	// once per run, before the first job starts.
	Prepare(ctx context.Context) error

	// Argv returns the session command for a job. Empty means the
	// job's own shell on the host.
	Argv(runID string, job *plan.Job) []string

	// Close releases executor resources after the run.
	Close() error
}

// Local runs jobs directly on the host.
type Local struct{}

func (Local) Name() string { return "local" }

func (Local) Prepare(context.Context) error { return nil }

func (Local) Argv(string, *plan.Job) []string { return nil }

func (Local) Close() error { return nil }

// Docker runs each job inside its own container. The session script is
// piped into `docker run -i` on stdin, so the container needs nothing
// beyond a shell.
type Docker struct {
	cli      *docker.Client
	image    string
	repoRoot string
}

// NewDocker connects to the Docker daemon. A non-empty image overrides
// the per-job image resolution.
func NewDocker(image, repoRoot string) (*Docker, error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	return &Docker{cli: cli, image: image, repoRoot: repoRoot}, nil
}

func (d *Docker) Name() string { return "docker" }

// Prepare pings the daemon so a stopped Docker fails the run up front
// rather than midway through the graph.
func (d *Docker) Prepare(ctx context.Context) error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Ping(ctx)
}

func (d *Docker) Argv(runID string, job *plan.Job) []string {
	image := docker.ResolveImage(job, d.image)
	return docker.RunArgs(job, image, d.repoRoot, runID, time.Now())
}

func (d *Docker) Close() error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Close()
}
