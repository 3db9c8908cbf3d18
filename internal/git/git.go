// Package git wraps the git CLI behind a small Runner interface so the sync
// engine's retry policy can be unit-tested without a real repository.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner is the version-control surface the sync engine needs. One Runner
// operates on one repository clone.
type Runner interface {
	// Pull fast-forwards the clone from its remote.
	Pull(ctx context.Context) error

	// AddAll stages every change in the clone.
	AddAll(ctx context.Context) error

	// Commit records staged changes. Returns false, nil when there was
	// nothing to commit.
	Commit(ctx context.Context, message string) (bool, error)

	// Push publishes local commits. A rejected push (remote moved on) is a
	// normal outcome during concurrent operation, not a fault.
	Push(ctx context.Context) error

	// PullRebase replays local commits on top of the updated remote.
	PullRebase(ctx context.Context) error

	// Conflicts lists unmerged paths after a failed rebase.
	Conflicts(ctx context.Context) ([]string, error)

	// AbortRebase returns the clone to its pre-rebase state.
	AbortRebase(ctx context.Context) error
}

// CLI runs git commands in a fixed directory.
type CLI struct {
	// Dir is the repository clone the commands run in.
	Dir string
}

// NewCLI creates a Runner over the repository at dir.
func NewCLI(dir string) *CLI {
	return &CLI{Dir: dir}
}

// run executes a git command and returns trimmed combined output.
func (c *CLI) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.Dir

	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return "", fmt.Errorf("git not found in PATH\nAccord requires Git to be installed.\nInstall Git: https://git-scm.com/downloads")
		}
		if text == "" {
			text = err.Error()
		}
		return text, fmt.Errorf("git %s failed: %s", args[0], text)
	}
	return text, nil
}

// Pull implements Runner.
func (c *CLI) Pull(ctx context.Context) error {
	_, err := c.run(ctx, "pull", "--ff-only")
	return err
}

// AddAll implements Runner.
func (c *CLI) AddAll(ctx context.Context) error {
	_, err := c.run(ctx, "add", "-A")
	return err
}

// Commit implements Runner.
func (c *CLI) Commit(ctx context.Context, message string) (bool, error) {
	// Nothing staged means nothing to publish, and that is fine
	if clean, err := c.isClean(ctx); err != nil {
		return false, err
	} else if clean {
		return false, nil
	}

	if _, err := c.run(ctx, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Push implements Runner.
func (c *CLI) Push(ctx context.Context) error {
	_, err := c.run(ctx, "push")
	return err
}

// PullRebase implements Runner.
func (c *CLI) PullRebase(ctx context.Context) error {
	_, err := c.run(ctx, "pull", "--rebase")
	return err
}

// Conflicts implements Runner.
func (c *CLI) Conflicts(ctx context.Context) ([]string, error) {
	output, err := c.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, nil
	}
	return strings.Split(output, "\n"), nil
}

// AbortRebase implements Runner.
func (c *CLI) AbortRebase(ctx context.Context) error {
	_, err := c.run(ctx, "rebase", "--abort")
	return err
}

// isClean reports whether the clone has no staged, unstaged or untracked
// changes.
func (c *CLI) isClean(ctx context.Context) (bool, error) {
	output, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return output == "", nil
}

// Root returns the absolute path of the repository root containing dir.
func Root(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return "", fmt.Errorf("git not found in PATH\nAccord requires Git to be installed.\nInstall Git: https://git-scm.com/downloads")
		}
		return "", fmt.Errorf("not a git repository: %s", dir)
	}
	return strings.TrimSpace(string(output)), nil
}

// ValidateContext checks that dir is the root of a git repository. Returns a
// user-friendly error for the CLI when it is not: accord must be initialized
// at the repository root so the .accord tree travels with the history.
func ValidateContext(ctx context.Context, dir string) error {
	root, err := Root(ctx, dir)
	if err != nil {
		return fmt.Errorf("not a git repository\n\nAccord coordinates state through git history.\n\nRun 'git init' first, then 'accord init'")
	}

	if filepath.Clean(dir) != filepath.Clean(root) {
		return fmt.Errorf("must run from the git repository root\n\nGit root: %s\nCurrent directory: %s\n\nPlease cd to the git root and run 'accord init'", root, dir)
	}

	return nil
}
