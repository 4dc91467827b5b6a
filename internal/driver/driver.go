// Package driver implements the pipeline's executors on top of the agent
// launcher. It builds phase and task prompts, launches the agent inside
// the item's worktree, meters token usage into the checkpoint ledger and
// budget guard, and composes the pull request for the final phase.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rowanlane/convoy/internal/agent"
	"github.com/rowanlane/convoy/internal/budget"
	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/logging"
	"github.com/rowanlane/convoy/internal/pipeline"
	"github.com/rowanlane/convoy/internal/plan"
	"github.com/rowanlane/convoy/internal/worktree"
)

// PRFile is the artifact recording the composed pull request URL.
const PRFile = "pr.txt"

// agentRoles maps phase ordinals to the agent role invoked for them.
var agentRoles = map[int]string{
	pipeline.PhaseAnalysis:       "analyzer",
	pipeline.PhasePlanning:       "planner",
	pipeline.PhaseImplementation: "implementer",
	pipeline.PhaseVerification:   "verifier",
	pipeline.PhasePRComposition:  "composer",
}

// Options configures a Driver.
type Options struct {
	Launcher agent.Launcher
	Provider issue.Provider
	Commits  worktree.CommitManager
	Store    *checkpoint.Store
	Guard    *budget.Guard
	Logger   *logging.Logger

	// BaseBranch is the branch pull requests target.
	BaseBranch string

	// DepsDir is where dependency extraction artifacts are written.
	DepsDir string
}

// Driver satisfies pipeline.Executor, pipeline.TaskExecutor, and
// dag.Extractor.
type Driver struct {
	opts   Options
	logger *logging.Logger
}

// New creates a Driver.
func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Driver{opts: opts, logger: opts.Logger}
}

var _ pipeline.Executor = (*Driver)(nil)
var _ pipeline.TaskExecutor = (*Driver)(nil)

// Execute runs one phase. Phases 1-4 launch the agent with a
// phase-specific prompt and expect the phase artifact; PR composition
// commits, pushes, and opens the pull request itself.
func (d *Driver) Execute(ctx context.Context, phase pipeline.Descriptor, pc pipeline.Context) (string, error) {
	if phase.Ordinal == pipeline.PhasePRComposition {
		return d.composePR(ctx, pc)
	}

	outputPath := filepath.Join(pc.ArtifactDir, phase.Artifact)
	res := d.opts.Launcher.Launch(ctx, agent.Invocation{
		ItemID:     pc.ItemID,
		Agent:      agentRoles[phase.Ordinal],
		Phase:      phase.Ordinal,
		Prompt:     phasePrompt(phase, pc, outputPath),
		OutputPath: outputPath,
	}, pc.WorktreePath)
	d.meter(pc.ItemID, agentRoles[phase.Ordinal], phase.Ordinal, res)

	if res.Err != nil {
		return "", errors.NewPipelineError("agent run failed", res.Err).
			WithItemID(pc.ItemID).WithPhase(phase.Name)
	}
	if !res.OutputExists {
		return "", errors.NewPipelineError(
			fmt.Sprintf("agent produced no %s artifact", phase.Artifact), nil).
			WithItemID(pc.ItemID).WithPhase(phase.Name)
	}
	return outputPath, nil
}

// ExecuteTask runs one implementation task through the agent.
func (d *Driver) ExecuteTask(ctx context.Context, taskID string, pc pipeline.Context) error {
	p, err := plan.ParseFile(filepath.Join(pc.ArtifactDir, plan.FileName), pc.ItemID)
	if err != nil {
		return errors.NewPipelineError("failed to load plan for task", err).
			WithItemID(pc.ItemID).WithPhase("implementation").WithRetryable(false)
	}
	task := p.TaskByID(taskID)
	if task == nil {
		return errors.NewPipelineError("task not in plan: "+taskID, nil).
			WithItemID(pc.ItemID).WithPhase("implementation").WithRetryable(false)
	}

	res := d.opts.Launcher.Launch(ctx, agent.Invocation{
		ItemID: pc.ItemID,
		Agent:  "implementer",
		Phase:  pipeline.PhaseImplementation,
		Prompt: taskPrompt(task, pc),
	}, pc.WorktreePath)
	d.meter(pc.ItemID, "implementer", pipeline.PhaseImplementation, res)

	if res.Err != nil {
		return errors.NewPipelineError("task agent run failed", res.Err).
			WithItemID(pc.ItemID).WithPhase("implementation")
	}

	// Commit the task's work so later tasks and phases see it.
	msg := fmt.Sprintf("item %s: %s", pc.ItemID, task.Name)
	if err := d.opts.Commits.CommitAll(pc.WorktreePath, msg); err != nil {
		return errors.NewPipelineError("failed to commit task work", err).
			WithItemID(pc.ItemID).WithPhase("implementation")
	}
	return nil
}

// composePR finishes an item: optional agent-written PR body, then
// commit, push, and pull request creation. The URL is written to the
// pr.txt artifact.
func (d *Driver) composePR(ctx context.Context, pc pipeline.Context) (string, error) {
	bodyPath := filepath.Join(pc.ArtifactDir, "pr-body.md")
	res := d.opts.Launcher.Launch(ctx, agent.Invocation{
		ItemID:     pc.ItemID,
		Agent:      "composer",
		Phase:      pipeline.PhasePRComposition,
		Prompt:     composePrompt(pc, bodyPath),
		OutputPath: bodyPath,
	}, pc.WorktreePath)
	d.meter(pc.ItemID, "composer", pipeline.PhasePRComposition, res)
	if res.Err != nil {
		return "", errors.NewPipelineError("PR body agent run failed", res.Err).
			WithItemID(pc.ItemID).WithPhase("pr-composition")
	}

	body := fmt.Sprintf("Closes #%s.", pc.ItemID)
	if data, err := os.ReadFile(bodyPath); err == nil && len(data) > 0 {
		body = string(data)
	}

	branch := ""
	if state := d.opts.Store.GetState(pc.ItemID); state != nil && state.Worktree != nil {
		branch = state.Worktree.Branch
	}
	if branch == "" {
		return "", errors.NewPipelineError("no worktree branch recorded", nil).
			WithItemID(pc.ItemID).WithPhase("pr-composition").WithRetryable(false)
	}

	if err := d.opts.Commits.CommitAll(pc.WorktreePath, fmt.Sprintf("item %s: finish up", pc.ItemID)); err != nil {
		return "", errors.NewPipelineError("final commit failed", err).
			WithItemID(pc.ItemID).WithPhase("pr-composition")
	}
	if err := d.opts.Commits.Push(pc.WorktreePath); err != nil {
		return "", errors.NewPipelineError("push failed", err).
			WithItemID(pc.ItemID).WithPhase("pr-composition")
	}

	title := pc.Item.Title
	if title == "" {
		title = "Work item " + pc.ItemID
	}
	url, err := d.opts.Provider.CreatePR(ctx, issue.PullRequest{
		Title: title,
		Body:  body,
		Head:  branch,
		Base:  d.opts.BaseBranch,
	})
	if err != nil {
		return "", errors.NewPipelineError("pull request creation failed", err).
			WithItemID(pc.ItemID).WithPhase("pr-composition")
	}

	outputPath := filepath.Join(pc.ArtifactDir, PRFile)
	if err := os.WriteFile(outputPath, []byte(url+"\n"), 0644); err != nil {
		return "", errors.NewPipelineError("failed to record PR URL", err).
			WithItemID(pc.ItemID).WithPhase("pr-composition")
	}

	if err := d.opts.Provider.CommentIssue(ctx, pc.ItemID, "Opened "+url); err != nil {
		d.logger.Warn("failed to comment PR link on issue",
			"item_id", pc.ItemID, "error", err)
	}
	return outputPath, nil
}

// depsFile is the shape the dependency mapping agent writes.
type depsFile struct {
	DependsOn []string `json:"depends_on"`
}

// ExtractDependencies asks the agent which items must land before this
// one, reading its answer from a JSON artifact.
func (d *Driver) ExtractDependencies(ctx context.Context, item issue.WorkItem, repoPath string) ([]string, error) {
	if err := os.MkdirAll(d.opts.DepsDir, 0755); err != nil {
		return nil, err
	}
	outputPath := filepath.Join(d.opts.DepsDir, "deps-"+item.ID+".json")

	res := d.opts.Launcher.Launch(ctx, agent.Invocation{
		ItemID:     item.ID,
		Agent:      "dependency-mapper",
		Prompt:     dependencyPrompt(item, outputPath),
		OutputPath: outputPath,
	}, repoPath)
	d.meter(item.ID, "dependency-mapper", 0, res)
	if res.Err != nil {
		return nil, res.Err
	}
	if !res.OutputExists {
		// No declaration means no dependencies.
		return nil, nil
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, err
	}
	var df depsFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("unparseable dependency artifact %s: %w", outputPath, err)
	}
	out := make([]string, 0, len(df.DependsOn))
	for _, dep := range df.DependsOn {
		dep = strings.TrimSpace(strings.TrimPrefix(dep, "#"))
		if dep != "" {
			out = append(out, dep)
		}
	}
	return out, nil
}

// meter records an invocation's token usage in the checkpoint ledger and
// the budget guard. Failed runs are metered too: their tokens were spent.
func (d *Driver) meter(itemID, role string, phase int, res agent.Result) {
	if res.TokenUsage <= 0 {
		return
	}
	if d.opts.Store != nil {
		rec := checkpoint.TokenRecord{
			ItemID:       itemID,
			Agent:        role,
			Phase:        phase,
			Tokens:       res.TokenUsage,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			Timestamp:    time.Now(),
		}
		if err := d.opts.Store.RecordTokenUsage(itemID, rec); err != nil {
			d.logger.Error("failed to record token usage",
				"item_id", itemID, "error", err)
		}
	}
	if d.opts.Guard != nil {
		d.opts.Guard.Record(itemID, res.TokenUsage)
	}
}
