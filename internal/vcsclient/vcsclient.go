// Package vcsclient implements the narrow VCSClient contract the Task
// Supervisor invokes at well-defined points: preparing an isolated working
// tree for a worktree-flagged task, and auto-committing/pushing on
// successful completion. Grounded on the teacher's narrow-interface
// pattern for external tool dependencies (a thin os/exec-backed adapter
// behind a small interface, the same shape as its ffmpeg.Executor).
package vcsclient

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Client is the narrow contract the Task Supervisor consumes.
type Client interface {
	PrepareWorktree(ctx context.Context, branch string) (dir string, err error)
	AutoCommitAndPush(ctx context.Context, dir, message string) error
}

// GitClient shells out to the git binary; no git SDK appears anywhere in
// the example corpus, so os/exec is the documented stdlib choice here
// (see DESIGN.md).
type GitClient struct {
	RepoRoot string
	Remote   string // defaults to "origin"
}

// New constructs a GitClient rooted at repoRoot.
func New(repoRoot string) *GitClient {
	return &GitClient{RepoRoot: repoRoot, Remote: "origin"}
}

// PrepareWorktree creates (or reuses) a git worktree checked out to branch
// under <repoRoot>/.takt/worktrees/<branch>, creating the branch from HEAD
// if it does not already exist.
func (g *GitClient) PrepareWorktree(ctx context.Context, branch string) (string, error) {
	if branch == "" {
		return "", fmt.Errorf("prepare worktree: branch name is required")
	}
	dir := fmt.Sprintf("%s/.takt/worktrees/%s", g.RepoRoot, sanitizeBranch(branch))

	if out, err := g.run(ctx, "worktree", "add", "-B", branch, dir); err != nil {
		if strings.Contains(out, "already exists") {
			return dir, nil
		}
		return "", fmt.Errorf("git worktree add: %w: %s", err, out)
	}
	return dir, nil
}

// AutoCommitAndPush stages everything under dir, commits with message if
// there is anything to commit, and pushes the current branch. A clean
// working tree (nothing to commit) is not an error.
func (g *GitClient) AutoCommitAndPush(ctx context.Context, dir, message string) error {
	if _, err := g.runIn(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	status, err := g.runIn(ctx, dir, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}

	if _, err := g.runIn(ctx, dir, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}

	branch, err := g.runIn(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("git rev-parse: %w", err)
	}
	branch = strings.TrimSpace(branch)

	if _, err := g.runIn(ctx, dir, "push", g.Remote, branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

func (g *GitClient) run(ctx context.Context, args ...string) (string, error) {
	return g.runIn(ctx, g.RepoRoot, args...)
}

func (g *GitClient) runIn(ctx context.Context, dir string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func sanitizeBranch(branch string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(branch)
}
