package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rowanlane/convoy/internal/budget"
	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/config"
	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/gate"
	"github.com/rowanlane/convoy/internal/issue"
)

const twoTaskPlan = `{"tasks": [
	{"id": "t1", "name": "first", "files": ["a.go"]},
	{"id": "t2", "name": "second", "files": ["b.go"]}
]}`

// fakeExecutor writes each phase's expected artifact and returns its
// path. Failures are scripted per phase name.
type fakeExecutor struct {
	mu       sync.Mutex
	plan     string
	failures map[string]int // phase name -> remaining failures
	calls    []string
}

func (f *fakeExecutor) Execute(ctx context.Context, phase Descriptor, pc Context) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, phase.Name)
	remaining := f.failures[phase.Name]
	if remaining > 0 {
		f.failures[phase.Name] = remaining - 1
	}
	f.mu.Unlock()
	if remaining > 0 {
		return "", fmt.Errorf("%s agent exited non-zero", phase.Name)
	}

	var content string
	name := phase.Artifact
	switch phase.Ordinal {
	case PhasePlanning:
		content = f.plan
	case PhasePRComposition:
		name = "pr.txt"
		content = "https://example.com/pr/7\n"
	default:
		content = phase.Name + " done\n"
	}
	path := filepath.Join(pc.ArtifactDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// fakeTaskExecutor fails scripted attempts per task, then succeeds.
type fakeTaskExecutor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (f *fakeTaskExecutor) ExecuteTask(ctx context.Context, taskID string, pc Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[taskID]++
	if f.failures[taskID] > 0 {
		f.failures[taskID]--
		return fmt.Errorf("task %s agent failed", taskID)
	}
	return nil
}

type testEnv struct {
	pipeline *Pipeline
	store    *checkpoint.Store
	exec     *fakeExecutor
	taskExec *fakeTaskExecutor
	pc       Context
}

func newTestEnv(t *testing.T, planJSON string, budgetCfg config.BudgetConfig) *testEnv {
	t.Helper()
	progressDir := t.TempDir()
	store, err := checkpoint.NewStore(progressDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	artifactDir := filepath.Join(progressDir, "artifacts", "42")
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		t.Fatal(err)
	}

	exec := &fakeExecutor{plan: planJSON, failures: make(map[string]int)}
	taskExec := &fakeTaskExecutor{failures: make(map[string]int)}
	p := New(Options{
		Store:            store,
		Guard:            budget.NewGuard(budgetCfg, nil, nil),
		Executor:         exec,
		TaskExecutor:     taskExec,
		MaxPhaseAttempts: 2,
		MaxTaskAttempts:  2,
		MaxParallelTasks: 2,
	})
	return &testEnv{
		pipeline: p,
		store:    store,
		exec:     exec,
		taskExec: taskExec,
		pc: Context{
			ItemID:       "42",
			ArtifactDir:  artifactDir,
			WorktreePath: t.TempDir(),
		},
	}
}

func item42() issue.WorkItem {
	return issue.WorkItem{ID: "42", Title: "Fix logout"}
}

func TestPhasesDescriptors(t *testing.T) {
	phases := Phases()
	if len(phases) != checkpoint.PhaseCount {
		t.Fatalf("len(Phases()) = %d, want %d", len(phases), checkpoint.PhaseCount)
	}
	for i, d := range phases {
		if d.Ordinal != i+1 {
			t.Errorf("phase %d ordinal = %d", i, d.Ordinal)
		}
		wantGate := gate.ForBoundary(d.Ordinal) != nil
		if (d.Gate != nil) != wantGate {
			t.Errorf("phase %s gate wired = %v, want %v", d.Name, d.Gate != nil, wantGate)
		}
		if wantCritical := d.Ordinal != PhasePRComposition; d.Critical != wantCritical {
			t.Errorf("phase %s critical = %v, want %v", d.Name, d.Critical, wantCritical)
		}
	}
	if phases[len(phases)-1].Gate != nil {
		t.Error("final phase should have no gate")
	}
}

func TestRunAllPhasesSucceed(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q (err %v), want success", res.Outcome, res.Err)
	}
	if res.PRURL != "https://example.com/pr/7" {
		t.Errorf("PRURL = %q", res.PRURL)
	}

	state := env.store.GetState("42")
	for phase := 1; phase <= checkpoint.PhaseCount; phase++ {
		if !state.IsPhaseCompleted(phase) {
			t.Errorf("phase %d not marked complete", phase)
		}
	}
	if len(state.CompletedTasks) != 2 {
		t.Errorf("completed tasks = %v, want both", state.CompletedTasks)
	}
	if env.taskExec.calls["t1"] != 1 || env.taskExec.calls["t2"] != 1 {
		t.Errorf("task calls = %v", env.taskExec.calls)
	}
}

func TestRunTaskRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.taskExec.failures["t1"] = 1

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q (err %v), want success after retry", res.Outcome, res.Err)
	}
	if env.taskExec.calls["t1"] != 2 {
		t.Errorf("t1 attempts = %d, want 2", env.taskExec.calls["t1"])
	}

	state := env.store.GetState("42")
	if !state.IsTaskCompleted("t1") {
		t.Error("t1 should be completed, not blocked")
	}
	if len(state.BlockedTasks) != 0 {
		t.Errorf("blocked tasks = %v, want none", state.BlockedTasks)
	}
}

func TestRunTaskExhaustedIsBlockedPhaseStillSucceeds(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.taskExec.failures["t1"] = 99

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q (err %v), want success with one task blocked", res.Outcome, res.Err)
	}

	state := env.store.GetState("42")
	if !state.IsTaskCompleted("t2") {
		t.Error("t2 should be completed")
	}
	if len(state.BlockedTasks) != 1 || state.BlockedTasks[0] != "t1" {
		t.Errorf("blocked tasks = %v, want [t1]", state.BlockedTasks)
	}
}

func TestRunAllTasksBlockedFailsPhase(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.taskExec.failures["t1"] = 99
	env.taskExec.failures["t2"] = 99

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", res.Outcome)
	}
	if res.FailedPhase != PhaseImplementation {
		t.Errorf("failed phase = %d, want implementation", res.FailedPhase)
	}
	if !errors.Is(res.Err, errors.ErrAllTasksBlocked) {
		t.Errorf("err = %v, want ErrAllTasksBlocked", res.Err)
	}
}

func TestRunPhaseRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.exec.failures["analysis"] = 1

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %q (err %v), want success", res.Outcome, res.Err)
	}

	attempts := 0
	for _, name := range env.exec.calls {
		if name == "analysis" {
			attempts++
		}
	}
	if attempts != 2 {
		t.Errorf("analysis attempts = %d, want 2", attempts)
	}
}

func TestRunCriticalPhaseFailureHalts(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.exec.failures["analysis"] = 99

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeFailed || res.FailedPhase != PhaseAnalysis {
		t.Fatalf("result = %+v, want failed at analysis", res)
	}

	for _, name := range env.exec.calls {
		if name != "analysis" {
			t.Errorf("phase %s ran after critical failure", name)
		}
	}
}

func TestRunPRCompositionFailureIsCodeComplete(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.exec.failures["pr-composition"] = 99

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeCodeComplete {
		t.Fatalf("outcome = %q, want code-complete", res.Outcome)
	}
	if res.Outcome.FleetStatus() != checkpoint.StatusCodeComplete {
		t.Errorf("fleet status = %q", res.Outcome.FleetStatus())
	}

	// Implementation and verification results are preserved.
	state := env.store.GetState("42")
	if !state.IsPhaseCompleted(PhaseVerification) {
		t.Error("verification should remain complete")
	}
}

func TestRunGateFailureAborts(t *testing.T) {
	env := newTestEnv(t, `{"tasks": []}`, config.BudgetConfig{})

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeFailed || res.FailedPhase != PhasePlanning {
		t.Fatalf("result outcome=%q phase=%d, want failed at planning gate", res.Outcome, res.FailedPhase)
	}
	if !errors.Is(res.Err, errors.ErrGateFailed) {
		t.Errorf("err = %v, want ErrGateFailed", res.Err)
	}

	state := env.store.GetState("42")
	rec, ok := state.GateResults[PhasePlanning]
	if !ok || rec.Status != checkpoint.GateFail {
		t.Errorf("gate record = %+v", rec)
	}
}

func TestRunResumeSkipsCompletedPhases(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	env.exec.failures["verification"] = 99

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeFailed || res.FailedPhase != PhaseVerification {
		t.Fatalf("first run = %+v, want failure at verification", res)
	}
	firstCalls := len(env.exec.calls)

	// Second run from a fresh process: phases 1-3 skip, verification
	// reruns and succeeds.
	store2, err := checkpoint.NewStore(env.store.Dir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	env.exec.failures["verification"] = 0
	p2 := New(Options{
		Store:            store2,
		Executor:         env.exec,
		TaskExecutor:     env.taskExec,
		MaxPhaseAttempts: 2,
		MaxTaskAttempts:  2,
		MaxParallelTasks: 2,
	})

	res2 := p2.Run(context.Background(), item42(), env.pc)
	if res2.Outcome != OutcomeSuccess {
		t.Fatalf("resumed run outcome = %q (err %v), want success", res2.Outcome, res2.Err)
	}
	if !res2.Resumed {
		t.Error("Resumed = false on second run")
	}

	resumedCalls := env.exec.calls[firstCalls:]
	for _, name := range resumedCalls {
		if name == "analysis" || name == "planning" {
			t.Errorf("completed phase %s re-executed on resume", name)
		}
	}
	if env.taskExec.calls["t1"] != 1 {
		t.Errorf("t1 re-executed on resume: %d calls", env.taskExec.calls["t1"])
	}
}

func TestRunBudgetExceededHalts(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{TokenLimitPerItem: 100})
	env.pipeline.opts.Guard.Record("42", 150)

	res := env.pipeline.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeBudgetExceeded {
		t.Fatalf("outcome = %q, want budget-exceeded", res.Outcome)
	}
	if len(env.exec.calls) != 0 {
		t.Errorf("phases ran despite exhausted budget: %v", env.exec.calls)
	}
}

func TestRunInterruptedBeforePhase(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := env.pipeline.Run(ctx, item42(), env.pc)
	if !errors.Is(res.Err, errors.ErrInterrupted) {
		t.Errorf("err = %v, want ErrInterrupted", res.Err)
	}
}

func TestRunAlreadyCompleteItem(t *testing.T) {
	env := newTestEnv(t, twoTaskPlan, config.BudgetConfig{})
	if res := env.pipeline.Run(context.Background(), item42(), env.pc); res.Outcome != OutcomeSuccess {
		t.Fatalf("first run failed: %+v", res)
	}

	store2, err := checkpoint.NewStore(env.store.Dir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	execCalls := len(env.exec.calls)
	p2 := New(Options{Store: store2, Executor: env.exec, TaskExecutor: env.taskExec})

	res := p2.Run(context.Background(), item42(), env.pc)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("rerun outcome = %q", res.Outcome)
	}
	if len(env.exec.calls) != execCalls {
		t.Error("completed item re-executed phases")
	}
}
