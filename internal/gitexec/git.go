package gitexec

import (
	"context"
	"fmt"
	"strings"
)

// Git runs git subcommands in one working tree.
type Git struct {
	runner Runner
	dir    string
}

// NewGit returns a Git bound to the repository at dir.
func NewGit(runner Runner, dir string) *Git {
	return &Git{runner: runner, dir: dir}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	if g.dir == "" {
		return "", fmt.Errorf("gitexec: repo directory is required")
	}
	res, err := g.runner.Run(ctx, g.dir, "git", args...)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// CurrentBranch returns the checked-out branch name. It works in a
// repository that has no commits yet.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("gitexec: current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		return "", fmt.Errorf("gitexec: current branch: HEAD is detached")
	}
	return branch, nil
}

// StatusPorcelain returns one line per changed path in the working tree.
func (g *Git) StatusPorcelain(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("gitexec: status: %w", err)
	}
	raw := strings.TrimRight(out, "\n")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}

// AddAll stages every change, including deletions.
func (g *Git) AddAll(ctx context.Context) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("gitexec: add: %w", err)
	}
	return nil
}

// Commit records the staged changes with message.
func (g *Git) Commit(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// HeadHash returns the full hash of HEAD.
func (g *Git) HeadHash(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitexec: rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Push pushes branch to origin.
func (g *Git) Push(ctx context.Context, branch string) error {
	if branch == "" {
		return fmt.Errorf("gitexec: branch name is required")
	}
	if _, err := g.run(ctx, "push", "origin", branch); err != nil {
		return fmt.Errorf("gitexec: push %q: %w", branch, err)
	}
	return nil
}

// RemoteURL returns the fetch URL of remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := g.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", fmt.Errorf("gitexec: remote %q: %w", remote, err)
	}
	return strings.TrimSpace(out), nil
}
