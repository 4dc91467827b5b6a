// Package fleet coordinates a full run: fetching work items, sequencing
// them into waves, and driving each through its pipeline with bounded
// parallelism.
//
// The coordinator owns the fleet checkpoint. All fleet-level mutations
// happen on the coordinating goroutine; item pipelines run concurrently
// and report back over a channel.
package fleet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rowanlane/convoy/internal/budget"
	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/dag"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/event"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/logging"
	"github.com/rowanlane/convoy/internal/pipeline"
	"github.com/rowanlane/convoy/internal/worktree"
)

// PipelineRunner drives one item to a terminal outcome. Satisfied by
// *pipeline.Pipeline; faked in tests.
type PipelineRunner interface {
	Run(ctx context.Context, item issue.WorkItem, pc pipeline.Context) pipeline.Result
}

// Options configures a Coordinator.
type Options struct {
	Config    config.Config
	Provider  issue.Provider
	Worktrees worktree.Manager
	Runner    PipelineRunner
	Store     *checkpoint.Store
	Guard     *budget.Guard
	Bus       *event.Bus
	Logger    *logging.Logger

	// Extractor resolves cross-item dependencies. Required for DAG mode;
	// ignored otherwise.
	Extractor dag.Extractor

	// RepoPath is the root of the repository being worked on.
	RepoPath string
}

// Coordinator runs the fleet.
type Coordinator struct {
	opts        Options
	logger      *logging.Logger
	maxParallel int
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	maxParallel := opts.Config.Fleet.MaxParallelIssues
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Coordinator{opts: opts, logger: opts.Logger, maxParallel: maxParallel}
}

// Result summarizes a fleet run.
type Result struct {
	RunID       string
	Items       map[string]checkpoint.ItemRecord
	ItemOrder   []string
	Waves       [][]string
	TotalTokens int64
	Duration    time.Duration
	Interrupted bool
}

// Count returns how many items ended in any of the given statuses.
func (r *Result) Count(statuses ...checkpoint.ItemStatus) int {
	n := 0
	for _, rec := range r.Items {
		if slices.Contains(statuses, rec.Status) {
			n++
		}
	}
	return n
}

// itemOutcome is a message from an item goroutine to the coordinator:
// first "holding a slot, now running" (started), then the terminal
// outcome.
type itemOutcome struct {
	item    issue.WorkItem
	started bool
	wave    int
	resumed bool
	branch  string
	status  checkpoint.ItemStatus
	reason  string
	pres    pipeline.Result
}

// Run executes the fleet to completion. It returns an error for
// structural failures (provider, checkpoint corruption, dependency
// cycles) and for interruption; per-item failures are recorded in the
// Result instead.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	progressDir := c.progressDir()

	fc, err := checkpoint.LoadFleetCheckpoint(progressDir)
	if err != nil {
		return nil, err
	}
	if fc == nil {
		if err := os.MkdirAll(progressDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create progress directory: %w", err)
		}
		fc = checkpoint.NewFleetCheckpoint(progressDir, uuid.NewString())
	}
	logger := c.logger.WithFleet(fc.RunID)
	if fc.ResumeCount > 0 {
		logger.Info("resuming fleet run", "resume_count", fc.ResumeCount)
	}

	if err := c.opts.Provider.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = c.opts.Provider.Disconnect() }()
	if err := c.opts.Provider.CheckAuth(ctx); err != nil {
		return nil, err
	}

	items, err := c.opts.Provider.FetchIssues(ctx, c.opts.Config.Platform.IssueLabel)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		logger.Info("no matching work items", "label", c.opts.Config.Platform.IssueLabel)
		return c.result(fc, nil, start, false), nil
	}

	byID := make(map[string]issue.WorkItem, len(items))
	for i := range items {
		byID[items[i].ID] = items[i]
	}

	var graph *dag.Graph
	var waves [][]string
	if c.opts.Config.Fleet.DAGMode && c.opts.Extractor != nil {
		graph, err = dag.Resolve(ctx, items, c.opts.RepoPath, c.opts.Extractor, logger)
		if err != nil {
			return nil, err
		}
		waves = graph.Waves()
		logger.Info("dependency graph resolved", "items", graph.Size(), "waves", len(waves))
	} else {
		wave := make([]string, 0, len(items))
		for i := range items {
			wave = append(wave, items[i].ID)
		}
		waves = [][]string{wave}
	}

	for waveIdx, wave := range waves {
		for _, id := range wave {
			fc.RegisterItem(id, byID[id].Title, waveIdx)
		}
	}
	if err := fc.Save(); err != nil {
		return nil, err
	}

	var interrupted bool
	var inFlight []string

	for waveIdx, wave := range waves {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		if c.opts.Guard != nil {
			if err := c.opts.Guard.CheckFleet(); err != nil {
				logger.Warn("fleet token ceiling reached, not launching further waves",
					"wave", waveIdx, "error", err)
				break
			}
		}

		c.publish(event.NewWaveStartedEvent(waveIdx, wave))
		logger.Info("wave started", "wave", waveIdx, "items", len(wave))

		sem := make(chan struct{}, c.maxParallel)
		results := make(chan itemOutcome)
		launched := 0

		for _, id := range wave {
			if ctx.Err() != nil {
				interrupted = true
				break
			}

			status := fc.ItemStatusOf(id)
			if status.IsTerminal() {
				logger.Info("item already terminal, skipping",
					"item_id", id, "status", string(status))
				continue
			}
			if held, reason := dependencyHold(fc, graph, id); held != "" {
				logger.Warn("item held by failed dependency",
					"item_id", id, "status", string(held), "reason", reason)
				c.recordStatus(fc, id, held, reason, logger)
				c.publish(event.NewItemFinishedEvent(id, string(held), ""))
				continue
			}

			resumed := status == checkpoint.StatusInProgress

			// An item is marked in-progress only once its goroutine holds
			// a semaphore slot; until then the checkpoint keeps reporting
			// it as queued.
			launched++
			go func(item issue.WorkItem, wave int, resumed bool) {
				sem <- struct{}{}
				defer func() { <-sem }()
				results <- itemOutcome{item: item, started: true, wave: wave, resumed: resumed}
				results <- c.runItem(ctx, item, graph)
			}(byID[id], waveIdx, resumed)
		}

		for i := 0; i < 2*launched; i++ {
			out := <-results
			if out.started {
				c.recordStatus(fc, out.item.ID, checkpoint.StatusInProgress, "", logger)
				c.publish(event.NewItemStartedEvent(out.item.ID, out.wave, out.resumed))
				continue
			}
			c.applyOutcome(fc, &out, logger)
			if errors.Is(out.pres.Err, errors.ErrInterrupted) {
				interrupted = true
				inFlight = append(inFlight, out.item.ID)
			}
		}
		if interrupted {
			break
		}
	}

	completed := len(fc.ItemsByStatus(checkpoint.StatusCompleted, checkpoint.StatusCodeComplete))
	failed := len(fc.ItemsByStatus(
		checkpoint.StatusFailed, checkpoint.StatusBlocked, checkpoint.StatusBudgetExceeded,
		checkpoint.StatusDepFailed, checkpoint.StatusDepBlocked,
		checkpoint.StatusDepMergeConflict, checkpoint.StatusDepBuildBroken))
	c.publish(event.NewFleetFinishedEvent(fc.RunID, interrupted, completed, failed))
	logger.Info("fleet run finished",
		"completed", completed, "failed", failed,
		"total_tokens", fc.TotalTokens, "interrupted", interrupted,
		"duration", time.Since(start).Round(time.Second).String())

	res := c.result(fc, waves, start, interrupted)
	if interrupted {
		slices.Sort(inFlight)
		return res, errors.NewInterruptionError(inFlight, ctx.Err())
	}
	return res, nil
}

// runItem prepares an item's workspace and drives its pipeline. Runs on
// an item goroutine; it must not touch the fleet checkpoint.
func (c *Coordinator) runItem(ctx context.Context, item issue.WorkItem, graph *dag.Graph) itemOutcome {
	out := itemOutcome{item: item}
	logger := c.logger.WithItem(item.ID)

	state, err := c.opts.Store.Load(item.ID)
	if err != nil {
		out.status = checkpoint.StatusFailed
		out.reason = err.Error()
		return out
	}

	branch := c.opts.Config.Branch.Prefix + item.ID
	path := filepath.Join(c.worktreeDir(), "item-"+item.ID)
	var baseCommit string

	if wt := state.Worktree; wt != nil && wt.Path != "" {
		path, branch, baseCommit = wt.Path, wt.Branch, wt.BaseCommit
		logger.Info("reusing provisioned worktree", "path", path, "branch", branch)
	} else {
		baseCommit, err = c.opts.Worktrees.Provision(path, branch, c.opts.Config.Branch.Base)
		if err != nil {
			out.status = checkpoint.StatusFailed
			out.reason = "worktree provisioning: " + err.Error()
			return out
		}
		info := checkpoint.WorktreeInfo{Path: path, Branch: branch, BaseCommit: baseCommit}
		if err := c.opts.Store.SetWorktreeInfo(item.ID, info); err != nil {
			logger.Error("failed to record worktree info", "error", err)
		}
	}
	out.branch = branch

	// Pull in finished upstream work so this item builds on top of it.
	// Re-merging an already merged branch on resume is a no-op.
	if graph != nil {
		for _, dep := range graph.DependenciesOf(item.ID) {
			depBranch := c.opts.Config.Branch.Prefix + dep
			if err := c.opts.Worktrees.MergeBranch(path, depBranch); err != nil {
				if errors.Is(err, errors.ErrMergeConflict) {
					out.status = checkpoint.StatusDepMergeConflict
					out.reason = fmt.Sprintf("conflict merging branch %s of item %s", depBranch, dep)
				} else {
					out.status = checkpoint.StatusFailed
					out.reason = fmt.Sprintf("merging branch %s: %v", depBranch, err)
				}
				return out
			}
		}
	}

	artifactDir := filepath.Join(c.progressDir(), "artifacts", item.ID)
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		out.status = checkpoint.StatusFailed
		out.reason = "artifact directory: " + err.Error()
		return out
	}

	res := c.opts.Runner.Run(ctx, item, pipeline.Context{
		ItemID:       item.ID,
		Item:         item,
		ArtifactDir:  artifactDir,
		WorktreePath: path,
		BaseCommit:   baseCommit,
	})
	out.pres = res

	switch {
	case errors.Is(res.Err, errors.ErrInterrupted):
		// Leave in-progress so a resume re-enters at the checkpoint.
		out.status = checkpoint.StatusInProgress
		out.reason = "interrupted"
	case errors.Is(res.Err, errors.ErrAllTasksBlocked):
		out.status = checkpoint.StatusBlocked
		out.reason = res.Err.Error()
	default:
		out.status = res.Outcome.FleetStatus()
		if res.Err != nil {
			out.reason = res.Err.Error()
		}
	}
	return out
}

// applyOutcome records an item's terminal state. Coordinator goroutine
// only.
func (c *Coordinator) applyOutcome(fc *checkpoint.FleetCheckpoint, out *itemOutcome, logger *logging.Logger) {
	if err := fc.SetItemStatus(out.item.ID, out.status, out.reason); err != nil {
		logger.Error("failed to record item status", "item_id", out.item.ID, "error", err)
	}
	if err := fc.SetItemResult(out.item.ID, out.pres.PRURL, out.branch, out.pres.Tokens); err != nil {
		logger.Error("failed to record item result", "item_id", out.item.ID, "error", err)
	}
	if err := fc.Save(); err != nil {
		logger.Error("failed to save fleet checkpoint", "error", err)
	}
	c.publish(event.NewItemFinishedEvent(out.item.ID, string(out.status), out.pres.PRURL))

	if out.status == checkpoint.StatusCompleted || out.status == checkpoint.StatusCodeComplete {
		logger.Info("item finished",
			"item_id", out.item.ID, "status", string(out.status),
			"pr_url", out.pres.PRURL, "tokens", out.pres.Tokens)
	} else {
		logger.Warn("item did not complete",
			"item_id", out.item.ID, "status", string(out.status), "reason", out.reason)
	}
}

// dependencyHold decides whether an item may run given its upstream
// items' statuses. Returns the propagated status and reason when it may
// not, or an empty status when it may.
func dependencyHold(fc *checkpoint.FleetCheckpoint, graph *dag.Graph, id string) (checkpoint.ItemStatus, string) {
	if graph == nil {
		return "", ""
	}
	for _, dep := range graph.DependenciesOf(id) {
		switch st := fc.ItemStatusOf(dep); st {
		case checkpoint.StatusCompleted, checkpoint.StatusCodeComplete:
			// Upstream work exists on its branch.
		case checkpoint.StatusFailed, checkpoint.StatusDepFailed:
			return checkpoint.StatusDepFailed, fmt.Sprintf("dependency %s failed", dep)
		default:
			return checkpoint.StatusDepBlocked,
				fmt.Sprintf("dependency %s ended %s", dep, string(st))
		}
	}
	return "", ""
}

func (c *Coordinator) recordStatus(fc *checkpoint.FleetCheckpoint, id string, status checkpoint.ItemStatus, reason string, logger *logging.Logger) {
	if err := fc.SetItemStatus(id, status, reason); err != nil {
		logger.Error("failed to record item status", "item_id", id, "error", err)
	}
	if err := fc.Save(); err != nil {
		logger.Error("failed to save fleet checkpoint", "error", err)
	}
}

func (c *Coordinator) result(fc *checkpoint.FleetCheckpoint, waves [][]string, start time.Time, interrupted bool) *Result {
	items := make(map[string]checkpoint.ItemRecord, len(fc.Items))
	for id, rec := range fc.Items {
		items[id] = rec
	}
	return &Result{
		RunID:       fc.RunID,
		Items:       items,
		ItemOrder:   slices.Clone(fc.ItemOrder),
		Waves:       waves,
		TotalTokens: fc.TotalTokens,
		Duration:    time.Since(start),
		Interrupted: interrupted,
	}
}

func (c *Coordinator) publish(e event.Event) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(e)
	}
}

func (c *Coordinator) progressDir() string {
	return c.opts.Config.Paths.ResolveProgressDir(c.opts.RepoPath)
}

func (c *Coordinator) worktreeDir() string {
	return c.opts.Config.Paths.ResolveWorktreeDir(c.opts.RepoPath)
}
