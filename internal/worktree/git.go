package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/logging"
)

// CommandExecutor abstracts command execution so tests can mock git.
type CommandExecutor interface {
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Git implements Manager and CommitManager with the git CLI.
type Git struct {
	repoDir  string
	executor CommandExecutor
	logger   *logging.Logger
}

var (
	_ Manager       = (*Git)(nil)
	_ CommitManager = (*Git)(nil)
)

// NewGit creates a Git rooted at the repository directory.
func NewGit(repoDir string, logger *logging.Logger) *Git {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Git{repoDir: repoDir, executor: &CLICommandExecutor{}, logger: logger}
}

// NewGitWithExecutor creates a Git with a custom executor for tests.
func NewGitWithExecutor(repoDir string, executor CommandExecutor, logger *logging.Logger) *Git {
	g := NewGit(repoDir, logger)
	g.executor = executor
	return g
}

// Provision creates a worktree at path with a new branch off baseBranch.
// An existing directory at path means another run owns it.
func (g *Git) Provision(path, branch, baseBranch string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", errors.Wrap(errors.ErrWorktreeExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.NewGitError("failed to create worktree parent directory", err).
			WithWorktree(path)
	}

	output, err := g.executor.Run(g.repoDir, "git", "worktree", "add", "-b", branch, path, baseBranch)
	if err != nil {
		return "", errors.NewGitError("failed to add worktree", err).
			WithWorktree(path).WithBranch(branch).WithGitOutput(string(output))
	}

	output, err = g.executor.Run(path, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to resolve base commit", err).
			WithWorktree(path).WithGitOutput(string(output))
	}

	baseCommit := strings.TrimSpace(string(output))
	g.logger.Debug("worktree provisioned",
		"path", path, "branch", branch, "base_commit", baseCommit)
	return baseCommit, nil
}

// Remove removes the worktree, discarding any local state.
func (g *Git) Remove(path string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		return errors.NewGitError("failed to remove worktree", err).
			WithWorktree(path).WithGitOutput(string(output))
	}
	return nil
}

// MergeBranch merges branch into the worktree's current branch. On
// conflict the merge is aborted so the worktree stays usable, and
// ErrMergeConflict is returned for dependency-status propagation.
func (g *Git) MergeBranch(path, branch string) error {
	output, err := g.executor.Run(path, "git", "merge", "--no-edit", branch)
	if err == nil {
		return nil
	}

	if strings.Contains(string(output), "CONFLICT") {
		if abortOut, abortErr := g.executor.Run(path, "git", "merge", "--abort"); abortErr != nil {
			g.logger.Error("failed to abort conflicted merge",
				"worktree", path, "branch", branch, "output", string(abortOut))
		}
		return errors.NewGitError("merge conflict", errors.ErrMergeConflict).
			WithWorktree(path).WithBranch(branch).WithGitOutput(string(output)).
			WithRetryable(false)
	}
	return errors.NewGitError("failed to merge branch", err).
		WithWorktree(path).WithBranch(branch).WithGitOutput(string(output))
}

// RebaseOnBase rebases the worktree's branch onto baseBranch. A conflict
// aborts the rebase and surfaces as ErrMergeConflict.
func (g *Git) RebaseOnBase(path, baseBranch string) error {
	output, err := g.executor.Run(path, "git", "rebase", baseBranch)
	if err == nil {
		return nil
	}

	if strings.Contains(string(output), "CONFLICT") {
		if abortOut, abortErr := g.executor.Run(path, "git", "rebase", "--abort"); abortErr != nil {
			g.logger.Error("failed to abort conflicted rebase",
				"worktree", path, "output", string(abortOut))
		}
		return errors.NewGitError("rebase conflict", errors.ErrMergeConflict).
			WithWorktree(path).WithBranch(baseBranch).WithGitOutput(string(output)).
			WithRetryable(false)
	}
	return errors.NewGitError("failed to rebase", err).
		WithWorktree(path).WithBranch(baseBranch).WithGitOutput(string(output))
}

// List returns the paths of all worktrees in the repository.
func (g *Git) List() ([]string, error) {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithGitOutput(string(output))
	}

	var paths []string
	for _, line := range strings.Split(string(output), "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

// CommitAll stages and commits all changes. Nothing to commit is not an
// error: agents legitimately finish phases without touching files.
func (g *Git) CommitAll(path, message string) error {
	output, err := g.executor.Run(path, "git", "add", "-A")
	if err != nil {
		return errors.NewGitError("failed to stage changes", err).
			WithWorktree(path).WithGitOutput(string(output))
	}

	output, err = g.executor.Run(path, "git", "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return errors.NewGitError("failed to commit changes", err).
			WithWorktree(path).WithGitOutput(string(output))
	}
	return nil
}

// Push pushes the current branch to origin with upstream tracking.
func (g *Git) Push(path string) error {
	output, err := g.executor.Run(path, "git", "push", "-u", "origin", "HEAD")
	if err != nil {
		return errors.NewGitError("failed to push branch", err).
			WithWorktree(path).WithGitOutput(string(output))
	}
	return nil
}

// Diff returns the diff against baseBranch since divergence.
func (g *Git) Diff(path, baseBranch string) (string, error) {
	output, err := g.executor.Run(path, "git", "diff", baseBranch+"...HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to diff against base", err).
			WithWorktree(path).WithBranch(baseBranch).WithGitOutput(string(output))
	}
	return string(output), nil
}

// IsClean reports whether the worktree has no uncommitted changes.
func (g *Git) IsClean(path string) (bool, error) {
	output, err := g.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check status", err).
			WithWorktree(path).WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) == 0, nil
}
