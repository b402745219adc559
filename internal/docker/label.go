package docker

import (
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// Label keys applied to every container the runner starts. Labels are
// the only state the runner keeps in Docker: `stagehand clean` finds
// leftovers purely by label, so no external bookkeeping file can drift
// out of sync with the daemon.
const (
	// LabelPrefix namespaces all runner labels away from those set by
	// other tools on the same host.
	LabelPrefix = "stagehand."

	// LabelManagedBy marks a container as started by the runner. This
	// is the label every discovery query filters on.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRun stores the run identifier the container belongs to.
	LabelRun = LabelPrefix + "run"

	// LabelJob stores the job name the container executes.
	LabelJob = LabelPrefix + "job"

	// LabelRepo stores the repository root the run was started from.
	LabelRepo = LabelPrefix + "repo"

	// LabelCreatedAt stores the container creation time, RFC 3339 in
	// UTC, so `clean --older-than` works without inspecting each
	// container.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy on runner containers.
const ManagedByValue = "stagehand"

// BuildLabels returns the label set for one job container.
func BuildLabels(runID, job, repoRoot string, now time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRun:       runID,
		LabelJob:       job,
		LabelRepo:      repoRoot,
		LabelCreatedAt: now.UTC().Format(time.RFC3339),
	}
}

// FilterArgs returns the Docker API filter matching all runner
// containers. The daemon filters server-side, so unrelated containers
// never cross the wire.
func FilterArgs() filters.Args {
	return filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)
}

// RunFilterArgs returns the filter matching the containers of a single
// run.
func RunFilterArgs(runID string) filters.Args {
	return filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
		filters.Arg("label", LabelRun+"="+runID),
	)
}

// ContainerInfo is the runner's view of one managed container,
// reconstructed from its labels.
type ContainerInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Run       string    `json:"run,omitempty"`
	Job       string    `json:"job,omitempty"`
	Repo      string    `json:"repo,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// infoFromSummary maps a Docker API container summary to ContainerInfo.
// The API reports names with a leading slash, which is stripped. A
// malformed created-at label leaves the field zero rather than failing
// the listing.
func infoFromSummary(c container.Summary) ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	info := ContainerInfo{
		ID:    c.ID,
		Name:  name,
		State: string(c.State),
		Run:   c.Labels[LabelRun],
		Job:   c.Labels[LabelJob],
		Repo:  c.Labels[LabelRepo],
	}
	if raw := c.Labels[LabelCreatedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.CreatedAt = t
		}
	}
	return info
}
