package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/mmr-tortoise/stagehand/internal/gitinfo"
	"github.com/mmr-tortoise/stagehand/internal/model"
)

// TokenEnv is the environment variable holding the GitHub API token.
const TokenEnv = "STAGEHAND_GITHUB_TOKEN"

// statusContext is the base context under which statuses appear on a
// commit. Job statuses append the job name.
const statusContext = "stagehand"

// GitHubNotifier posts commit statuses for the run and its jobs.
type GitHubNotifier struct {
	client *github.Client
	owner  string
	repo   string
	commit string
}

// NewGitHubNotifier builds a notifier for the detected repository. An
// empty token falls back to the TokenEnv environment variable.
func NewGitHubNotifier(token string, git gitinfo.Info) (*GitHubNotifier, error) {
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	if token == "" {
		return nil, model.NewCLIError(model.ExitUsageError,
			fmt.Sprintf("github notifications need an API token; set %s", TokenEnv))
	}
	if git.Owner == "" || git.Repo == "" || git.Commit == "" {
		return nil, model.NewCLIError(model.ExitGitError,
			"github notifications need a commit and an origin remote on github.com")
	}
	return &GitHubNotifier{
		client: github.NewClient(nil).WithAuthToken(token),
		owner:  git.Owner,
		repo:   git.Repo,
		commit: git.Commit,
	}, nil
}

// Notify posts the commit status derived from the event, if any.
func (n *GitHubNotifier) Notify(ctx context.Context, ev model.Event) error {
	status := statusForEvent(ev)
	if status == nil {
		return nil
	}
	_, _, err := n.client.Repositories.CreateStatus(ctx, n.owner, n.repo, n.commit, status)
	if err != nil {
		return model.WrapCLIError(model.ExitGitError, "could not create commit status", err)
	}
	return nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (n *GitHubNotifier) Close() error {
	return nil
}

// statusForEvent maps an event to the commit status it should post.
// Events that do not change the commit status return nil.
func statusForEvent(ev model.Event) *github.RepoStatus {
	switch ev.Type {
	case model.EventRunStarted:
		return &github.RepoStatus{
			State:       github.String("pending"),
			Context:     github.String(statusContext),
			Description: github.String(fmt.Sprintf("run %s started (%d jobs)", ev.RunID, len(ev.Jobs))),
		}
	case model.EventJobFinished:
		return &github.RepoStatus{
			State:       github.String(stateFor(ev.Status)),
			Context:     github.String(statusContext + "/" + ev.Job),
			Description: github.String(describe(ev)),
		}
	case model.EventRunFinished:
		return &github.RepoStatus{
			State:       github.String(stateFor(ev.Status)),
			Context:     github.String(statusContext),
			Description: github.String(describe(ev)),
		}
	default:
		return nil
	}
}

// stateFor translates a run status into one of GitHub's four states.
// Skipped counts as success: a job excluded by its condition is not a
// verdict on the commit.
func stateFor(status model.Status) string {
	switch status {
	case model.StatusPassed, model.StatusSkipped:
		return "success"
	case model.StatusFailed:
		return "failure"
	default:
		return "error"
	}
}

// describe renders the status description, capped at GitHub's
// 140-character limit.
func describe(ev model.Event) string {
	var desc string
	switch {
	case ev.Status == model.StatusSkipped && ev.Reason != "":
		desc = "skipped: " + ev.Reason
	case ev.Duration > 0:
		desc = fmt.Sprintf("%s in %s", ev.Status, ev.Duration.Round(time.Second))
	default:
		desc = ev.Status.String()
	}
	if len(desc) > 140 {
		desc = desc[:137] + "..."
	}
	return desc
}
