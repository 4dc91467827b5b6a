// Package checkpoint provides durable, resumable progress records for
// work items and the fleet. One JSON file per item plus one fleet file,
// written atomically (write-temp, then rename) under a cross-process file
// lock, with a stable schema consumed by external status tooling.
//
// Mutations go through constrained transition methods that validate
// against current state, so an invalid transition (completing a
// never-started task, re-completing a phase) is never serialized.
package checkpoint

import (
	"fmt"
	"slices"
	"time"

	"github.com/rowanlane/convoy/internal/errors"
)

// PhaseCount is the number of pipeline phases. Phases are identified by
// ordinals 1..PhaseCount.
const PhaseCount = 5

// GateStatus classifies a quality gate outcome.
type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateWarn GateStatus = "warn"
	GateFail GateStatus = "fail"
)

// GateRecord captures a gate outcome for the checkpoint schema.
type GateRecord struct {
	Status   GateStatus `json:"status"`
	Warnings []string   `json:"warnings,omitempty"`
	Errors   []string   `json:"errors,omitempty"`
}

// TokenRecord is one metered agent invocation. Records are append-only;
// aggregates are always recomputed from the list, never cached destructively.
type TokenRecord struct {
	ItemID       string    `json:"item_id"`
	Agent        string    `json:"agent"`
	Phase        int       `json:"phase"`
	Tokens       int64     `json:"tokens"`
	InputTokens  int64     `json:"input_tokens,omitempty"`
	OutputTokens int64     `json:"output_tokens,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// WorktreeInfo records the git workspace assigned to an item.
type WorktreeInfo struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseCommit string `json:"base_commit"`
}

// ResumePoint tells a resuming pipeline where to re-enter.
type ResumePoint struct {
	// Done is true when all phases are complete.
	Done bool
	// Phase is the lowest incomplete phase ordinal (1..5) when not Done.
	Phase int
	// CompletedTasks pre-seeds the scheduler on implementation resume.
	CompletedTasks []string
	// BlockedTasks pre-seeds terminally failed tasks.
	BlockedTasks []string
}

// State is the per-item checkpoint. Version guards future schema changes.
type State struct {
	Version string `json:"version"`
	ItemID  string `json:"item_id"`

	// CurrentPhase is the phase currently in progress, 0 if none started.
	CurrentPhase int `json:"current_phase"`

	// CompletedPhases lists completed phase ordinals in ascending order.
	// StartPhase enforces that they always form a prefix of 1..5.
	CompletedPhases []int `json:"completed_phases"`

	// PhaseOutputs maps phase ordinal (as produced by the executor) to the
	// artifact path it reported.
	PhaseOutputs map[int]string `json:"phase_outputs,omitempty"`

	// GateResults maps phase ordinal to its recorded gate outcome.
	GateResults map[int]GateRecord `json:"gate_results,omitempty"`

	// Task bookkeeping for the implementation phase.
	CurrentTasks   []string `json:"current_tasks,omitempty"`
	CompletedTasks []string `json:"completed_tasks,omitempty"`
	BlockedTasks   []string `json:"blocked_tasks,omitempty"`
	FailedTasks    []string `json:"failed_tasks,omitempty"`

	// TokenUsage is the append-only metering ledger.
	TokenUsage []TokenRecord `json:"token_usage,omitempty"`

	// Worktree is set once the item's workspace is provisioned.
	Worktree *WorktreeInfo `json:"worktree,omitempty"`

	// ResumeCount is incremented each time a prior checkpoint is loaded.
	ResumeCount int `json:"resume_count"`

	UpdatedAt time.Time `json:"updated_at"`
}

// newState creates a fresh checkpoint for an item.
func newState(itemID string) *State {
	return &State{
		Version:      "1",
		ItemID:       itemID,
		PhaseOutputs: make(map[int]string),
		GateResults:  make(map[int]GateRecord),
	}
}

func validPhase(phase int) error {
	if phase < 1 || phase > PhaseCount {
		return errors.NewValidationError(fmt.Sprintf("phase ordinal %d out of range 1..%d", phase, PhaseCount)).
			WithField("phase").WithValue(phase)
	}
	return nil
}

// StartPhase records that a phase began. Re-entering the current phase
// (on resume) is allowed; starting a completed phase is not, and neither
// is skipping ahead: every earlier phase must already be complete, so
// CompletedPhases stays a prefix of 1..5.
func (s *State) StartPhase(phase int) error {
	if err := validPhase(phase); err != nil {
		return err
	}
	if s.IsPhaseCompleted(phase) {
		return errors.NewValidationError(fmt.Sprintf("phase %d already completed", phase)).
			WithField("phase").WithValue(phase)
	}
	for p := 1; p < phase; p++ {
		if !s.IsPhaseCompleted(p) {
			return errors.NewValidationError(
				fmt.Sprintf("cannot start phase %d with phase %d incomplete", phase, p)).
				WithField("phase").WithValue(phase)
		}
	}
	s.CurrentPhase = phase
	s.touch()
	return nil
}

// CompletePhase records a phase's completion and its output artifact.
//
// Two invariants are enforced here: the phase must have been started, and
// a phase with task bookkeeping is never marked complete when zero tasks
// completed while some are blocked. That situation is a phase failure,
// not a completion.
func (s *State) CompletePhase(phase int, outputPath string) error {
	if err := validPhase(phase); err != nil {
		return err
	}
	if s.CurrentPhase != phase {
		return errors.Wrapf(errors.ErrPhaseNotStarted, "cannot complete phase %d (current phase %d)", phase, s.CurrentPhase)
	}
	if s.IsPhaseCompleted(phase) {
		return errors.NewValidationError(fmt.Sprintf("phase %d already completed", phase)).
			WithField("phase").WithValue(phase)
	}
	if len(s.CompletedTasks) == 0 && len(s.BlockedTasks) > 0 {
		return errors.Wrap(errors.ErrAllTasksBlocked, fmt.Sprintf("refusing to complete phase %d", phase))
	}

	s.CompletedPhases = append(s.CompletedPhases, phase)
	slices.Sort(s.CompletedPhases)
	if outputPath != "" {
		s.PhaseOutputs[phase] = outputPath
	}
	s.CurrentPhase = 0
	s.touch()
	return nil
}

// StartTask records an implementation task starting.
func (s *State) StartTask(taskID string) error {
	if slices.Contains(s.CompletedTasks, taskID) {
		return errors.NewValidationError(fmt.Sprintf("task %q already completed", taskID)).
			WithField("task").WithValue(taskID)
	}
	if slices.Contains(s.BlockedTasks, taskID) {
		return errors.NewValidationError(fmt.Sprintf("task %q is blocked", taskID)).
			WithField("task").WithValue(taskID)
	}
	if !slices.Contains(s.CurrentTasks, taskID) {
		s.CurrentTasks = append(s.CurrentTasks, taskID)
	}
	s.touch()
	return nil
}

// CompleteTask records a task finishing successfully. Completing a task
// twice is idempotent so a replayed mutation after a crash-resume yields
// the same state as running it once.
func (s *State) CompleteTask(taskID string) error {
	if slices.Contains(s.CompletedTasks, taskID) {
		return nil
	}
	if !slices.Contains(s.CurrentTasks, taskID) {
		return errors.Wrapf(errors.ErrTaskNotStarted, "cannot complete task %q", taskID)
	}
	s.CurrentTasks = slices.DeleteFunc(s.CurrentTasks, func(id string) bool { return id == taskID })
	s.CompletedTasks = append(s.CompletedTasks, taskID)
	s.touch()
	return nil
}

// BlockTask records a task as terminally failed within its phase.
func (s *State) BlockTask(taskID string) error {
	if slices.Contains(s.BlockedTasks, taskID) {
		return nil
	}
	if !slices.Contains(s.CurrentTasks, taskID) {
		return errors.Wrapf(errors.ErrTaskNotStarted, "cannot block task %q", taskID)
	}
	s.CurrentTasks = slices.DeleteFunc(s.CurrentTasks, func(id string) bool { return id == taskID })
	s.BlockedTasks = append(s.BlockedTasks, taskID)
	s.FailedTasks = append(s.FailedTasks, taskID)
	s.touch()
	return nil
}

// RecordTokenUsage appends a metering record.
func (s *State) RecordTokenUsage(rec TokenRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.ItemID = s.ItemID
	s.TokenUsage = append(s.TokenUsage, rec)
	s.touch()
}

// RecordGateResult stores the gate outcome for a phase.
func (s *State) RecordGateResult(phase int, rec GateRecord) error {
	if err := validPhase(phase); err != nil {
		return err
	}
	s.GateResults[phase] = rec
	s.touch()
	return nil
}

// SetWorktreeInfo records the item's provisioned workspace.
func (s *State) SetWorktreeInfo(info WorktreeInfo) {
	s.Worktree = &info
	s.touch()
}

// IsPhaseCompleted reports whether the phase has completed.
func (s *State) IsPhaseCompleted(phase int) bool {
	return slices.Contains(s.CompletedPhases, phase)
}

// IsTaskCompleted reports whether the task has completed.
func (s *State) IsTaskCompleted(taskID string) bool {
	return slices.Contains(s.CompletedTasks, taskID)
}

// GetResumePoint returns the lowest incomplete phase along with task
// bookkeeping to pre-seed the scheduler, or Done when all phases finished.
func (s *State) GetResumePoint() ResumePoint {
	for phase := 1; phase <= PhaseCount; phase++ {
		if !s.IsPhaseCompleted(phase) {
			return ResumePoint{
				Phase:          phase,
				CompletedTasks: slices.Clone(s.CompletedTasks),
				BlockedTasks:   slices.Clone(s.BlockedTasks),
			}
		}
	}
	return ResumePoint{Done: true}
}

// TotalTokens recomputes cumulative token usage from the ledger.
func (s *State) TotalTokens() int64 {
	var total int64
	for i := range s.TokenUsage {
		total += s.TokenUsage[i].Tokens
	}
	return total
}

// TokensByPhase recomputes per-phase token usage from the ledger.
func (s *State) TokensByPhase() map[int]int64 {
	out := make(map[int]int64)
	for i := range s.TokenUsage {
		out[s.TokenUsage[i].Phase] += s.TokenUsage[i].Tokens
	}
	return out
}

// TokensByAgent recomputes per-agent token usage from the ledger.
func (s *State) TokensByAgent() map[string]int64 {
	out := make(map[string]int64)
	for i := range s.TokenUsage {
		out[s.TokenUsage[i].Agent] += s.TokenUsage[i].Tokens
	}
	return out
}

func (s *State) touch() {
	s.UpdatedAt = time.Now()
}
