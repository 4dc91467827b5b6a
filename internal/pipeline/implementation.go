package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/gate"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/logging"
	"github.com/rowanlane/convoy/internal/plan"
	"github.com/rowanlane/convoy/internal/retry"
	"github.com/rowanlane/convoy/internal/taskqueue"
)

// taskResult crosses from a task goroutine back to the coordinating
// goroutine, which owns all checkpoint mutations.
type taskResult struct {
	taskID string
	err    error
}

// runImplementation drives the implementation phase: parse the plan,
// restore scheduler state from the checkpoint, then execute file-disjoint
// batches of ready tasks. Agents run concurrently within a batch; all
// checkpoint bookkeeping happens on the coordinating goroutine.
//
// A task that exhausts its attempts is blocked, which transitively blocks
// its dependents. The phase succeeds as long as at least one task
// completed; zero completed with blocked tasks is a phase failure.
func (p *Pipeline) runImplementation(ctx context.Context, item issue.WorkItem, pc Context, logger *logging.Logger) (string, error) {
	pl, err := plan.ParseFile(artifactPath(pc, gate.PlanFile), item.ID)
	if err != nil {
		return "", errors.NewPipelineError("cannot run implementation without a valid plan", err).
			WithItemID(item.ID).WithPhase("implementation").WithRetryable(false)
	}

	sched := taskqueue.NewScheduler(pl)
	state := p.opts.Store.GetState(item.ID)
	if state != nil {
		sched.Restore(state.CompletedTasks, state.BlockedTasks)
	}

	for !sched.IsComplete() {
		if err := ctx.Err(); err != nil {
			return "", errors.Wrapf(errors.ErrInterrupted, "item %s implementation", item.ID)
		}

		batch, err := sched.SelectBatch(p.opts.MaxParallelTasks)
		if err != nil {
			return "", err
		}

		results := make(chan taskResult, len(batch))
		for _, st := range batch {
			if err := p.opts.Store.StartTask(item.ID, st.ID); err != nil {
				return "", err
			}
			taskID := st.ID
			go func() {
				results <- taskResult{taskID: taskID, err: p.runTask(ctx, item, taskID, pc)}
			}()
		}

		for range batch {
			res := <-results
			if res.err == nil {
				if err := p.opts.Store.CompleteTask(item.ID, res.taskID); err != nil {
					return "", err
				}
				if _, err := sched.Complete(res.taskID); err != nil {
					return "", err
				}
				logger.Info("task completed", "task", res.taskID)
				continue
			}

			if isBudgetExceeded(res.err) || errors.Is(res.err, errors.ErrInterrupted) {
				return "", res.err
			}

			if err := p.opts.Store.BlockTask(item.ID, res.taskID); err != nil {
				return "", err
			}
			blocked, err := sched.MarkBlocked(res.taskID, res.err.Error())
			if err != nil {
				return "", err
			}
			for _, id := range blocked {
				if err := p.opts.Store.StartTask(item.ID, id); err == nil {
					_ = p.opts.Store.BlockTask(item.ID, id)
				}
			}
			logger.Warn("task blocked",
				"task", res.taskID, "dependents_blocked", len(blocked), "error", res.err)
		}
	}

	completed := sched.CompletedIDs()
	blockedIDs := sched.BlockedIDs()
	if len(completed) == 0 && len(blockedIDs) > 0 {
		return "", errors.Wrapf(errors.ErrAllTasksBlocked,
			"all implementation tasks blocked for item %s", item.ID)
	}

	path := artifactPath(pc, gate.ImplementationFile)
	if err := writeImplementationReport(path, pl, completed, blockedIDs); err != nil {
		return "", err
	}
	logger.Info("implementation finished",
		"completed", len(completed), "blocked", len(blockedIDs), "total", len(pl.Tasks))
	return path, nil
}

// runTask executes one task under retry and budget governance.
func (p *Pipeline) runTask(ctx context.Context, item issue.WorkItem, taskID string, pc Context) error {
	outcome := p.opts.Governor.Execute(ctx, retry.Spec{
		ScopeID:     "item-" + item.ID + "/task-" + taskID,
		MaxAttempts: p.opts.MaxTaskAttempts,
		Fn: func(ctx context.Context, attempt int) error {
			attemptCtx := pc
			attemptCtx.Attempt = attempt
			if err := p.opts.TaskExecutor.ExecuteTask(ctx, taskID, attemptCtx); err != nil {
				return err
			}
			return p.checkBudget(item.ID)
		},
	})
	if outcome.Success {
		return nil
	}
	return outcome.Err
}

func writeImplementationReport(path string, pl *plan.Plan, completed, blocked []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Implementation Report\n\n")
	fmt.Fprintf(&b, "%d/%d completed, %d blocked\n\n", len(completed), len(pl.Tasks), len(blocked))
	for _, id := range completed {
		if t := pl.TaskByID(id); t != nil {
			fmt.Fprintf(&b, "- [x] %s: %s\n", t.ID, t.Name)
		}
	}
	for _, id := range blocked {
		if t := pl.TaskByID(id); t != nil {
			fmt.Fprintf(&b, "- [ ] %s: %s (blocked)\n", t.ID, t.Name)
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.NewPipelineError("failed to write implementation report", err).
			WithPhase("implementation")
	}
	return nil
}
