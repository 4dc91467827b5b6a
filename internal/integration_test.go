// Package internal carries cross-package tests that wire the real fleet
// coordinator, pipeline, and driver together, faking only the process
// boundaries: the agent subprocess, git, and the issue platform.
package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rowanlane/convoy/internal/agent"
	"github.com/rowanlane/convoy/internal/budget"
	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/driver"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/event"
	"github.com/rowanlane/convoy/internal/fleet"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/pipeline"
	"github.com/rowanlane/convoy/internal/retry"
	"github.com/rowanlane/convoy/internal/worktree"
)

var (
	_ worktree.Manager       = (*integManager)(nil)
	_ worktree.CommitManager = (*integManager)(nil)
)

const integPlan = `{
  "summary": "two independent tasks",
  "tasks": [
    {"id": "t1", "name": "first", "description": "do the first thing", "files": ["first.go"], "complexity": "low"},
    {"id": "t2", "name": "second", "description": "do the second thing", "files": ["second.go"], "complexity": "low"}
  ]
}`

// integLauncher scripts every agent role's behavior.
type integLauncher struct {
	mu    sync.Mutex
	deps  map[string][]string // itemID -> dependency ids
	calls []agent.Invocation
}

func (l *integLauncher) Launch(ctx context.Context, inv agent.Invocation, worktreePath string) agent.Result {
	l.mu.Lock()
	l.calls = append(l.calls, inv)
	l.mu.Unlock()

	res := agent.Result{Success: true, TokenUsage: 100, OutputPath: inv.OutputPath}
	var content string
	switch inv.Agent {
	case "dependency-mapper":
		ids := l.deps[inv.ItemID]
		quoted := make([]string, len(ids))
		for i, id := range ids {
			quoted[i] = `"` + id + `"`
		}
		content = `{"depends_on": [` + strings.Join(quoted, ", ") + `]}`
	case "analyzer":
		content = "## Findings\n\nStraightforward change.\n"
	case "planner":
		content = integPlan
	case "implementer":
		return res // tasks produce commits, not artifacts
	case "verifier":
		content = "build ok\nall tests pass\n"
	case "composer":
		content = "Implements the item.\n\nCloses #" + inv.ItemID + ".\n"
	}
	if inv.OutputPath != "" {
		if err := os.WriteFile(inv.OutputPath, []byte(content), 0644); err != nil {
			res.Success = false
			res.Err = err
			return res
		}
		res.OutputExists = true
	}
	return res
}

type integManager struct {
	mu     sync.Mutex
	merged []string
}

func (m *integManager) Provision(path, branch, baseBranch string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return "base-sha", nil
}

func (m *integManager) Remove(path string) error { return nil }

func (m *integManager) MergeBranch(path, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged = append(m.merged, branch)
	return nil
}

func (m *integManager) RebaseOnBase(path, baseBranch string) error { return nil }
func (m *integManager) List() ([]string, error)                    { return nil, nil }

func (m *integManager) CommitAll(path, message string) error { return nil }
func (m *integManager) Push(path string) error               { return nil }
func (m *integManager) Diff(path, baseBranch string) (string, error) {
	return "", nil
}
func (m *integManager) IsClean(path string) (bool, error) { return true, nil }

type integProvider struct {
	items []issue.WorkItem

	mu  sync.Mutex
	prs []issue.PullRequest
}

func (p *integProvider) Connect(ctx context.Context) error   { return nil }
func (p *integProvider) Disconnect() error                   { return nil }
func (p *integProvider) CheckAuth(ctx context.Context) error { return nil }

func (p *integProvider) FetchIssues(ctx context.Context, label string) ([]issue.WorkItem, error) {
	return p.items, nil
}

func (p *integProvider) GetIssue(ctx context.Context, id string) (*issue.WorkItem, error) {
	return nil, errors.NewNotFoundError("issue", id)
}

func (p *integProvider) CreatePR(ctx context.Context, pr issue.PullRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prs = append(p.prs, pr)
	return "https://example.com/pr/" + pr.Head, nil
}

func (p *integProvider) CommentIssue(ctx context.Context, id, body string) error { return nil }

// TestFullRun drives two dependent items end to end through the real
// coordinator, pipeline, and driver.
func TestFullRun(t *testing.T) {
	dir := t.TempDir()

	provider := &integProvider{items: []issue.WorkItem{
		{ID: "1", Title: "add parser", State: "open"},
		{ID: "2", Title: "use parser", Body: "depends on #1", State: "open"},
	}}
	launcher := &integLauncher{deps: map[string][]string{"2": {"1"}}}
	manager := &integManager{}

	store, err := checkpoint.NewStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewBus()
	guard := budget.NewGuard(config.BudgetConfig{}, bus, nil)

	var finishedMu sync.Mutex
	var finished []string
	bus.Subscribe("item.finished", func(e event.Event) {
		finishedMu.Lock()
		defer finishedMu.Unlock()
		finished = append(finished, e.(event.ItemFinishedEvent).ItemID)
	})

	drv := driver.New(driver.Options{
		Launcher:   launcher,
		Provider:   provider,
		Commits:    manager,
		Store:      store,
		Guard:      guard,
		BaseBranch: "main",
		DepsDir:    filepath.Join(dir, "deps"),
	})

	pipe := pipeline.New(pipeline.Options{
		Store:            store,
		Governor:         retry.NewGovernor(retry.NewManager(), nil),
		Guard:            guard,
		Bus:              bus,
		Executor:         drv,
		TaskExecutor:     drv,
		MaxPhaseAttempts: 2,
		MaxTaskAttempts:  2,
		MaxParallelTasks: 2,
	})

	coordinator := fleet.NewCoordinator(fleet.Options{
		Config: config.Config{
			Fleet:  config.FleetConfig{MaxParallelIssues: 2, DAGMode: true},
			Branch: config.BranchConfig{Prefix: "convoy/", Base: "main"},
			Paths: config.PathsConfig{
				ProgressDir: dir,
				WorktreeDir: filepath.Join(dir, "worktrees"),
			},
		},
		Provider:  provider,
		Worktrees: manager,
		Runner:    pipe,
		Store:     store,
		Guard:     guard,
		Bus:       bus,
		Extractor: drv,
		RepoPath:  dir,
	})

	res, err := coordinator.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := res.Count(checkpoint.StatusCompleted); got != 2 {
		t.Fatalf("completed = %d, want 2; items = %+v", got, res.Items)
	}
	if len(res.Waves) != 2 {
		t.Errorf("waves = %v, want item 2 after item 1", res.Waves)
	}

	// Item 2 built on item 1's branch.
	if len(manager.merged) != 1 || manager.merged[0] != "convoy/1" {
		t.Errorf("merged = %v, want [convoy/1]", manager.merged)
	}

	// One PR per item, targeting the base branch.
	if len(provider.prs) != 2 {
		t.Fatalf("prs = %+v, want 2", provider.prs)
	}
	for _, pr := range provider.prs {
		if pr.Base != "main" || !strings.HasPrefix(pr.Head, "convoy/") {
			t.Errorf("pr = %+v", pr)
		}
	}
	for id, rec := range res.Items {
		if rec.PRURL == "" {
			t.Errorf("item %s has no PR URL", id)
		}
	}

	// Checkpoints report both items done.
	for _, id := range []string{"1", "2"} {
		rp, err := store.GetResumePoint(id)
		if err != nil {
			t.Fatal(err)
		}
		if !rp.Done {
			t.Errorf("item %s resume point = %+v, want done", id, rp)
		}
	}

	finishedMu.Lock()
	defer finishedMu.Unlock()
	if len(finished) != 2 {
		t.Errorf("item finished events = %v, want 2", finished)
	}
}
