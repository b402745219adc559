// Package gitinfo probes the Git repository containing the working
// directory and exposes the metadata a build run records: branch, commit,
// tag, and the GitHub remote slug.
//
// Detection is best-effort by design. Builds must work in plain
// directories too, so a missing git binary, a non-repository directory,
// or an absent remote all degrade to empty fields rather than errors.
// We shell out to `git` rather than using a Go Git library because the
// probes are trivial plumbing commands and the CLI is guaranteed to
// agree with whatever produced the checkout.
package gitinfo

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mmr-tortoise/stagehand/internal/ctxlog"
)

// Info holds the detected repository metadata. Zero-valued fields mean
// the corresponding probe failed or does not apply (e.g. Tag is empty
// unless HEAD is exactly on a tag).
type Info struct {
	// Root is the absolute path to the top-level working tree directory.
	// Empty when dir is not inside a Git repository.
	Root string `json:"root,omitempty"`

	// Branch is the short branch name. Empty on a detached HEAD, which
	// is the usual state when a tag is checked out.
	Branch string `json:"branch,omitempty"`

	// Commit is the full SHA of HEAD.
	Commit string `json:"commit,omitempty"`

	// Tag is set when HEAD points exactly at a tag.
	Tag string `json:"tag,omitempty"`

	// RemoteURL is the fetch URL of the "origin" remote.
	RemoteURL string `json:"remoteUrl,omitempty"`

	// Owner and Repo are parsed from RemoteURL when it points at GitHub.
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
}

// Detect probes the repository containing dir. It never fails: probes
// that error leave their fields empty and log at debug level.
func Detect(ctx context.Context, dir string) Info {
	log := ctxlog.FromContext(ctx)

	var info Info

	root, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		// Not a repository (or no git at all). Nothing else can work.
		log.Debug("git detection skipped", "dir", dir, "error", err)
		return info
	}
	info.Root = strings.TrimSpace(root)

	if out, err := runGit(ctx, dir, "rev-parse", "HEAD"); err == nil {
		info.Commit = strings.TrimSpace(out)
	} else {
		// Repositories without a single commit have a root but no HEAD.
		log.Debug("git HEAD probe failed", "error", err)
	}

	if out, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		branch := strings.TrimSpace(out)
		// A detached HEAD reports the literal string "HEAD"; builds of a
		// tag or raw commit have no branch.
		if branch != "HEAD" {
			info.Branch = branch
		}
	}

	if out, err := runGit(ctx, dir, "describe", "--tags", "--exact-match", "HEAD"); err == nil {
		info.Tag = strings.TrimSpace(out)
	}

	if out, err := runGit(ctx, dir, "remote", "get-url", "origin"); err == nil {
		info.RemoteURL = strings.TrimSpace(out)
		info.Owner, info.Repo = ParseRemote(info.RemoteURL)
	}

	return info
}

// InRepo reports whether detection found a Git repository.
func (i Info) InRepo() bool {
	return i.Root != ""
}

// ShortCommit returns the abbreviated commit SHA used in display output.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// Slug returns "owner/repo" when the remote points at GitHub, else "".
func (i Info) Slug() string {
	if i.Owner == "" || i.Repo == "" {
		return ""
	}
	return i.Owner + "/" + i.Repo
}

// Env returns the repository metadata as environment variables for build
// steps. Only detected fields are included.
func (i Info) Env() map[string]string {
	env := make(map[string]string)
	if i.Branch != "" {
		env["STAGEHAND_BRANCH"] = i.Branch
	}
	if i.Commit != "" {
		env["STAGEHAND_COMMIT"] = i.Commit
	}
	if i.Tag != "" {
		env["STAGEHAND_TAG"] = i.Tag
	}
	if slug := i.Slug(); slug != "" {
		env["STAGEHAND_REPO_SLUG"] = slug
	}
	return env
}

// ParseRemote extracts the owner and repository name from a GitHub remote
// URL. It understands the three common forms:
//
//	git@github.com:owner/repo.git
//	https://github.com/owner/repo.git
//	ssh://git@github.com/owner/repo
//
// Non-GitHub remotes return empty strings.
func ParseRemote(remote string) (owner, repo string) {
	var path string
	switch {
	case strings.HasPrefix(remote, "git@github.com:"):
		path = strings.TrimPrefix(remote, "git@github.com:")
	case strings.HasPrefix(remote, "https://github.com/"):
		path = strings.TrimPrefix(remote, "https://github.com/")
	case strings.HasPrefix(remote, "ssh://git@github.com/"):
		path = strings.TrimPrefix(remote, "ssh://git@github.com/")
	default:
		return "", ""
	}

	path = strings.TrimSuffix(path, ".git")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ""
	}
	return parts[0], parts[1]
}

// runGit executes a git command in the given directory and returns its
// stdout. The -C flag makes git change directory itself, which avoids
// touching the process working directory and is safe under concurrency.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)

	// #nosec G204 — args are constructed internally, not from user input
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}
