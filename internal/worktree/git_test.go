package worktree

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/rowanlane/convoy/internal/errors"
)

// fakeExecutor records commands and returns scripted responses keyed by
// the git subcommand.
type fakeExecutor struct {
	calls     [][]string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	output string
	err    error
}

func (f *fakeExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{dir, name}, args...))
	if len(args) > 0 {
		if resp, ok := f.responses[args[0]]; ok {
			return []byte(resp.output), resp.err
		}
	}
	return nil, nil
}

func (f *fakeExecutor) sawSubcommand(sub string) bool {
	for _, call := range f.calls {
		if len(call) > 2 && call[2] == sub {
			return true
		}
	}
	return false
}

func TestProvision(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"rev-parse": {output: "abc123def\n"},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	path := filepath.Join(t.TempDir(), "item-42")
	baseCommit, err := g.Provision(path, "convoy/42", "main")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if baseCommit != "abc123def" {
		t.Errorf("baseCommit = %q", baseCommit)
	}

	want := []string{"/repo", "git", "worktree", "add", "-b", "convoy/42", path, "main"}
	if !slices.Equal(fake.calls[0], want) {
		t.Errorf("first call = %v, want %v", fake.calls[0], want)
	}
}

func TestProvisionExistingPath(t *testing.T) {
	g := NewGitWithExecutor("/repo", &fakeExecutor{}, nil)

	dir := t.TempDir()
	_, err := g.Provision(dir, "convoy/42", "main")
	if !errors.Is(err, errors.ErrWorktreeExists) {
		t.Errorf("Provision() on existing dir error = %v, want ErrWorktreeExists", err)
	}
}

func TestMergeBranchConflict(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"merge": {
			output: "CONFLICT (content): Merge conflict in a.go\n",
			err:    fmt.Errorf("exit status 1"),
		},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	err := g.MergeBranch("/w/42", "convoy/41")
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("MergeBranch() error = %v, want ErrMergeConflict", err)
	}
	if errors.IsRetryable(err) {
		t.Error("merge conflict should not be retryable")
	}

	// The conflicted merge must be aborted so the worktree stays usable.
	aborted := false
	for _, call := range fake.calls {
		if len(call) > 3 && call[2] == "merge" && call[3] == "--abort" {
			aborted = true
		}
	}
	if !aborted {
		t.Error("conflicted merge was not aborted")
	}
}

func TestMergeBranchOtherFailure(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"merge": {output: "fatal: not a git repository\n", err: fmt.Errorf("exit status 128")},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	err := g.MergeBranch("/w/42", "convoy/41")
	if err == nil || errors.Is(err, errors.ErrMergeConflict) {
		t.Errorf("MergeBranch() error = %v, want plain GitError", err)
	}
}

func TestRebaseConflict(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"rebase": {
			output: "CONFLICT (content): Merge conflict in b.go\n",
			err:    fmt.Errorf("exit status 1"),
		},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	if err := g.RebaseOnBase("/w/42", "main"); !errors.Is(err, errors.ErrMergeConflict) {
		t.Errorf("RebaseOnBase() error = %v, want ErrMergeConflict", err)
	}
}

func TestCommitAllNothingToCommit(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"commit": {
			output: "nothing to commit, working tree clean\n",
			err:    fmt.Errorf("exit status 1"),
		},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	if err := g.CommitAll("/w/42", "checkpoint work"); err != nil {
		t.Errorf("CommitAll() with clean tree error = %v, want nil", err)
	}
	if !fake.sawSubcommand("add") {
		t.Error("CommitAll should stage before committing")
	}
}

func TestIsClean(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"status": {output: " M internal/auth/logout.go\n"},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	clean, err := g.IsClean("/w/42")
	if err != nil {
		t.Fatal(err)
	}
	if clean {
		t.Error("IsClean() = true with modified files")
	}
}

func TestList(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"worktree": {output: strings.Join([]string{
			"worktree /repo",
			"HEAD abc",
			"",
			"worktree /w/42",
			"HEAD def",
			"",
		}, "\n")},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	paths, err := g.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(paths, []string{"/repo", "/w/42"}) {
		t.Errorf("List() = %v", paths)
	}
}

func TestDiff(t *testing.T) {
	fake := &fakeExecutor{responses: map[string]fakeResponse{
		"diff": {output: "diff --git a/a.go b/a.go\n"},
	}}
	g := NewGitWithExecutor("/repo", fake, nil)

	diff, err := g.Diff("/w/42", "main")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(diff, "diff --git") {
		t.Errorf("Diff() = %q", diff)
	}
	want := []string{"/w/42", "git", "diff", "main...HEAD"}
	if !slices.Equal(fake.calls[0], want) {
		t.Errorf("call = %v, want %v", fake.calls[0], want)
	}
}
