package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rowanlane/convoy/internal/budget"
	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/event"
	"github.com/rowanlane/convoy/internal/gate"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/logging"
	"github.com/rowanlane/convoy/internal/retry"
)

// Outcome is a pipeline's terminal result for one item.
type Outcome string

const (
	// OutcomeSuccess means all five phases completed.
	OutcomeSuccess Outcome = "success"

	// OutcomeCodeComplete means implementation and verification finished
	// but PR composition failed. Reported distinctly so finished work is
	// never silently lost.
	OutcomeCodeComplete Outcome = "code-complete"

	// OutcomeFailed means a critical phase or gate failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeBudgetExceeded means a token ceiling halted the item.
	OutcomeBudgetExceeded Outcome = "budget-exceeded"
)

// FleetStatus maps the outcome to its fleet checkpoint status.
func (o Outcome) FleetStatus() checkpoint.ItemStatus {
	switch o {
	case OutcomeSuccess:
		return checkpoint.StatusCompleted
	case OutcomeCodeComplete:
		return checkpoint.StatusCodeComplete
	case OutcomeBudgetExceeded:
		return checkpoint.StatusBudgetExceeded
	}
	return checkpoint.StatusFailed
}

// Result reports one pipeline run.
type Result struct {
	ItemID      string
	Outcome     Outcome
	FailedPhase int // ordinal of the failing phase, 0 on success
	PRURL       string
	Tokens      int64
	Duration    time.Duration
	Resumed     bool
	Err         error
}

// Options configures a Pipeline.
type Options struct {
	Store            *checkpoint.Store
	Governor         *retry.Governor
	Guard            *budget.Guard
	Bus              *event.Bus
	Logger           *logging.Logger
	Executor         Executor
	TaskExecutor     TaskExecutor
	MaxPhaseAttempts int
	MaxTaskAttempts  int
	MaxParallelTasks int
}

// Pipeline drives one item through the phase sequence.
type Pipeline struct {
	opts   Options
	logger *logging.Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Governor == nil {
		opts.Governor = retry.NewGovernor(nil, opts.Logger)
	}
	if opts.MaxPhaseAttempts < 1 {
		opts.MaxPhaseAttempts = 1
	}
	if opts.MaxTaskAttempts < 1 {
		opts.MaxTaskAttempts = 1
	}
	if opts.MaxParallelTasks < 1 {
		opts.MaxParallelTasks = 1
	}
	return &Pipeline{opts: opts, logger: opts.Logger}
}

// Run drives the item to a terminal outcome. Fresh runs start at phase 1;
// resumed runs re-enter at the checkpoint's resume point with completed
// phases skipped. Interruption surfaces as an error wrapping
// ErrInterrupted rather than a fabricated outcome.
func (p *Pipeline) Run(ctx context.Context, item issue.WorkItem, pc Context) Result {
	start := time.Now()
	logger := p.logger.WithItem(item.ID)
	res := Result{ItemID: item.ID, Outcome: OutcomeSuccess}

	state, err := p.opts.Store.Load(item.ID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	res.Resumed = state.ResumeCount > 0
	if res.Resumed {
		p.seedBudget(item.ID, state)
		rp := state.GetResumePoint()
		if rp.Done {
			logger.Info("item already complete, nothing to do")
			res.Duration = time.Since(start)
			res.Tokens = state.TotalTokens()
			return res
		}
		logger.Info("resuming from checkpoint",
			"phase", rp.Phase, "completed_tasks", len(rp.CompletedTasks), "resume_count", state.ResumeCount)
	}

	for _, phase := range Phases() {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeFailed
			res.FailedPhase = phase.Ordinal
			res.Err = errors.Wrapf(errors.ErrInterrupted, "item %s before phase %s", item.ID, phase.Name)
			break
		}

		done, err := p.opts.Store.IsPhaseCompleted(item.ID, phase.Ordinal)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.FailedPhase = phase.Ordinal
			res.Err = err
			break
		}
		if done {
			logger.Info("phase already complete, skipping", "phase", phase.Name)
			p.publish(event.NewPhaseStartedEvent(item.ID, phase.Name, true))
			continue
		}

		if stop := p.runPhase(ctx, item, phase, pc, &res, logger); stop {
			break
		}
	}

	state = p.opts.Store.GetState(item.ID)
	if state != nil {
		res.Tokens = state.TotalTokens()
	}
	res.Duration = time.Since(start)
	return res
}

// runPhase executes one phase end to end: budget check, governed
// execution, gate evaluation, checkpoint completion. Returns true when
// the pipeline must stop.
func (p *Pipeline) runPhase(ctx context.Context, item issue.WorkItem, phase Descriptor, pc Context, res *Result, logger *logging.Logger) bool {
	phaseLogger := logger.WithPhase(phase.Name)

	if err := p.checkBudget(item.ID); err != nil {
		res.Outcome = OutcomeBudgetExceeded
		res.FailedPhase = phase.Ordinal
		res.Err = err
		return true
	}

	if err := p.opts.Store.StartPhase(item.ID, phase.Ordinal); err != nil {
		res.Outcome = OutcomeFailed
		res.FailedPhase = phase.Ordinal
		res.Err = err
		return true
	}
	p.publish(event.NewPhaseStartedEvent(item.ID, phase.Name, false))
	phaseLogger.Info("phase started")

	var outputPath string
	var attempts int
	var execErr error

	if phase.Ordinal == PhaseImplementation && p.opts.TaskExecutor != nil {
		outputPath, execErr = p.runImplementation(ctx, item, pc, phaseLogger)
		attempts = 1
	} else {
		outcome := p.opts.Governor.Execute(ctx, retry.Spec{
			ScopeID:     "item-" + item.ID + "/phase-" + phase.Name,
			MaxAttempts: p.opts.MaxPhaseAttempts,
			Fn: func(ctx context.Context, attempt int) error {
				attemptCtx := pc
				attemptCtx.Attempt = attempt
				path, err := p.opts.Executor.Execute(ctx, phase, attemptCtx)
				if err != nil {
					return err
				}
				outputPath = path
				return p.checkBudget(item.ID)
			},
		})
		attempts = outcome.Attempts
		if !outcome.Success {
			execErr = outcome.Err
		}
	}

	if execErr != nil {
		return p.failPhase(item, phase, res, execErr, attempts, phaseLogger)
	}
	if err := p.checkBudget(item.ID); err != nil {
		res.Outcome = OutcomeBudgetExceeded
		res.FailedPhase = phase.Ordinal
		res.Err = err
		return true
	}

	gateStatus := ""
	if phase.Gate != nil {
		gres := phase.Gate(gate.Input{
			ItemID:       item.ID,
			ArtifactDir:  pc.ArtifactDir,
			WorktreePath: pc.WorktreePath,
			BaseCommit:   pc.BaseCommit,
		})
		gateStatus = string(gres.Status)
		if err := p.opts.Store.RecordGateResult(item.ID, phase.Ordinal, gres.Record()); err != nil {
			phaseLogger.Error("failed to record gate result", "error", err)
		}
		switch gres.Status {
		case checkpoint.GateFail:
			err := errors.Wrapf(errors.ErrGateFailed, "phase %s: %s", phase.Name, strings.Join(gres.Errors, "; "))
			return p.failPhase(item, phase, res, err, attempts, phaseLogger)
		case checkpoint.GateWarn:
			phaseLogger.Warn("gate passed with warnings", "warnings", strings.Join(gres.Warnings, "; "))
		}
	}

	if err := p.opts.Store.CompletePhase(item.ID, phase.Ordinal, outputPath); err != nil {
		return p.failPhase(item, phase, res, err, attempts, phaseLogger)
	}

	if phase.Ordinal == PhasePRComposition {
		res.PRURL = readPRURL(outputPath)
	}

	p.publish(event.NewPhaseCompletedEvent(item.ID, phase.Name, true, gateStatus, attempts))
	phaseLogger.Info("phase completed", "attempts", attempts, "gate", gateStatus)
	return false
}

// failPhase records a phase failure and decides whether the item is
// failed outright or code-complete (non-critical PR composition failing
// after the code phases finished).
func (p *Pipeline) failPhase(item issue.WorkItem, phase Descriptor, res *Result, err error, attempts int, logger *logging.Logger) bool {
	p.publish(event.NewPhaseCompletedEvent(item.ID, phase.Name, false, "", attempts))
	logger.Error("phase failed", "attempts", attempts, "error", err)

	res.FailedPhase = phase.Ordinal
	res.Err = err
	switch {
	case isBudgetExceeded(err):
		res.Outcome = OutcomeBudgetExceeded
	case !phase.Critical:
		res.Outcome = OutcomeCodeComplete
	default:
		res.Outcome = OutcomeFailed
	}
	return true
}

func (p *Pipeline) checkBudget(itemID string) error {
	if p.opts.Guard == nil {
		return nil
	}
	return p.opts.Guard.Check(itemID)
}

func (p *Pipeline) seedBudget(itemID string, state *checkpoint.State) {
	if p.opts.Guard != nil {
		p.opts.Guard.Seed(itemID, state.TotalTokens())
	}
}

func (p *Pipeline) publish(e event.Event) {
	if p.opts.Bus != nil {
		p.opts.Bus.Publish(e)
	}
}

func isBudgetExceeded(err error) bool {
	var bErr *errors.BudgetExceededError
	return errors.As(err, &bErr)
}

// readPRURL reads the PR URL artifact written by the composition phase.
func readPRURL(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			return line
		}
	}
	return ""
}

// artifactPath returns the conventional path of a phase artifact.
func artifactPath(pc Context, name string) string {
	return filepath.Join(pc.ArtifactDir, name)
}
