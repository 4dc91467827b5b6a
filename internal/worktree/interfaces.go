// Package worktree provides git worktree and commit operations.
//
// Each work item gets an isolated worktree on its own branch for the
// run's duration. The interfaces abstract the git CLI so tests can mock
// operations without real repositories.
package worktree

// Manager defines worktree lifecycle operations.
type Manager interface {
	// Provision creates a worktree at path with a new branch from the
	// base branch and returns the base commit it branched from.
	Provision(path, branch, baseBranch string) (baseCommit string, err error)

	// Remove removes the worktree and its administrative state.
	Remove(path string) error

	// MergeBranch merges the named branch into the worktree's current
	// branch. A conflict aborts the merge and returns ErrMergeConflict.
	MergeBranch(path, branch string) error

	// RebaseOnBase rebases the worktree's branch onto the base branch.
	RebaseOnBase(path, baseBranch string) error

	// List returns the paths of all worktrees in the repository.
	List() ([]string, error)
}

// CommitManager defines commit-level operations inside a worktree.
type CommitManager interface {
	// CommitAll stages and commits everything. Nothing to commit is not
	// an error.
	CommitAll(path, message string) error

	// Push pushes the worktree's branch to origin, setting upstream.
	Push(path string) error

	// Diff returns the diff against the base branch since divergence.
	Diff(path, baseBranch string) (string, error)

	// IsClean reports whether the worktree has no uncommitted changes.
	IsClean(path string) (bool, error)
}
