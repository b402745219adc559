package docker

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mmr-tortoise/stagehand/internal/cache"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// DefaultImage runs jobs that declare neither an image nor a runtime
// version.
const DefaultImage = "ubuntu:24.04"

// Workdir is where the repository is mounted inside the container.
const Workdir = "/ci"

// containerHome is the home directory inside job containers. Jobs run
// as root, which is the default user of the official images.
const containerHome = "/root"

// ResolveImage picks the container image for a job: the job's own
// image declaration wins, then the CLI-wide override, then the
// official python image matching the job's runtime version.
func ResolveImage(job *plan.Job, override string) string {
	switch {
	case job.Image != "":
		return job.Image
	case override != "":
		return override
	case job.RuntimeVersion != "":
		return "python:" + job.RuntimeVersion
	default:
		return DefaultImage
	}
}

// RunArgs assembles the `docker run` argv that executes one job. The
// session pipes the job script into the container's shell over stdin,
// so the returned argv is a drop-in replacement for the local shell
// argv. --rm removes the container when the shell exits; labels let
// `stagehand clean` find containers that outlived an interrupted run.
func RunArgs(job *plan.Job, image, repoRoot, runID string, now time.Time) []string {
	args := []string{"docker", "run", "--rm", "-i"}

	labels := BuildLabels(runID, job.Name, repoRoot, now)
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--label", key+"="+labels[key])
	}

	args = append(args, "-v", repoRoot+":"+Workdir, "-w", Workdir)
	for _, mount := range CacheMounts(job.CacheDirs) {
		args = append(args, "-v", mount)
	}

	return append(args, image, job.Shell, "-s")
}

// CacheMounts returns the bind specs that make each cached directory
// visible inside the container. Directories inside the repository are
// already covered by the workdir mount. Home-relative directories map
// onto the container's home so restored caches land on the paths the
// job's commands use; Docker creates missing host directories on
// mount, so a first run simply starts empty.
func CacheMounts(dirs []string) []string {
	var mounts []string
	for _, dir := range dirs {
		switch {
		case strings.HasPrefix(dir, "~"):
			host := cache.ExpandPath(dir)
			mounts = append(mounts, host+":"+containerHome+strings.TrimPrefix(dir, "~"))
		case filepath.IsAbs(dir):
			host := cache.ExpandPath(dir)
			mounts = append(mounts, host+":"+host)
		}
	}
	return mounts
}
