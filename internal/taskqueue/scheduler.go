package taskqueue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	convoyerrors "github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/plan"
)

// Sentinel errors returned by scheduler operations.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Scheduler manages a plan's tasks with dependency-aware, file-disjoint
// batch selection. All methods are safe for concurrent use.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*ScheduledTask
	order []string // task IDs in plan order
}

// NewScheduler creates a Scheduler from a validated plan. Tasks with no
// dependencies start ready; the rest start pending.
func NewScheduler(p *plan.Plan) *Scheduler {
	tasks := make(map[string]*ScheduledTask, len(p.Tasks))
	order := make([]string, 0, len(p.Tasks))
	for i := range p.Tasks {
		t := p.Tasks[i]
		tasks[t.ID] = &ScheduledTask{Task: t, Status: TaskPending}
		order = append(order, t.ID)
	}

	s := &Scheduler{tasks: tasks, order: order}
	s.refreshReady()
	return s
}

// Restore replays checkpoint bookkeeping into the scheduler: completed
// tasks are marked completed, blocked tasks blocked, and readiness is
// recomputed. Unknown IDs are ignored so a stale checkpoint cannot wedge
// a resumed run.
func (s *Scheduler) Restore(completed, blocked []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range completed {
		if t, ok := s.tasks[id]; ok {
			t.Status = TaskCompleted
		}
	}
	for _, id := range blocked {
		if t, ok := s.tasks[id]; ok {
			t.Status = TaskBlocked
			t.BlockReason = "blocked in previous run"
		}
	}
	s.propagateBlocks()
	s.refreshReady()
}

// Ready returns copies of all tasks currently in the ready state, in plan
// order.
func (s *Scheduler) Ready() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ScheduledTask
	for _, id := range s.order {
		if s.tasks[id].Status == TaskReady {
			out = append(out, *s.tasks[id])
		}
	}
	return out
}

// SelectBatch picks up to maxParallel ready tasks whose target file
// patterns are pairwise disjoint, greedily in plan order, and marks them
// in progress. Tasks already in progress also constrain the batch: a
// ready task conflicting with running work is skipped.
//
// An empty batch with pending or ready tasks remaining and nothing in
// progress means the scheduler is stuck; that returns ErrSchedulerStuck.
func (s *Scheduler) SelectBatch(maxParallel int) ([]ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxParallel < 1 {
		maxParallel = 1
	}

	var picked []*ScheduledTask
	inProgress := s.byStatus(TaskInProgress)

	for _, id := range s.order {
		if len(picked) >= maxParallel {
			break
		}
		t := s.tasks[id]
		if t.Status != TaskReady {
			continue
		}
		if conflictsWithAny(t, inProgress) || conflictsWithAny(t, picked) {
			continue
		}
		picked = append(picked, t)
	}

	if len(picked) == 0 && len(inProgress) == 0 && s.remaining() > 0 {
		return nil, convoyerrors.Wrap(convoyerrors.ErrSchedulerStuck,
			fmt.Sprintf("%d tasks remain but none can be selected", s.remaining()))
	}

	now := time.Now()
	out := make([]ScheduledTask, 0, len(picked))
	for _, t := range picked {
		t.Status = TaskInProgress
		t.StartedAt = &now
		out = append(out, *t)
	}
	return out, nil
}

// Complete marks an in-progress task as completed and returns the IDs of
// tasks that became ready as a result.
func (s *Scheduler) Complete(taskID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != TaskInProgress {
		return nil, fmt.Errorf("%w: cannot complete task %s in status %s", ErrInvalidTransition, taskID, t.Status)
	}
	now := time.Now()
	t.Status = TaskCompleted
	t.FinishedAt = &now

	return s.refreshReady(), nil
}

// MarkBlocked marks an in-progress task as terminally failed and
// transitively blocks every task that depends on it. Returns the IDs of
// the newly blocked dependents.
func (s *Scheduler) MarkBlocked(taskID, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != TaskInProgress {
		return nil, fmt.Errorf("%w: cannot block task %s in status %s", ErrInvalidTransition, taskID, t.Status)
	}
	now := time.Now()
	t.Status = TaskBlocked
	t.FinishedAt = &now
	t.BlockReason = reason

	return s.propagateBlocks(), nil
}

// IsComplete reports whether every task reached a terminal state.
func (s *Scheduler) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining() == 0
}

// Status returns a snapshot of state counts.
func (s *Scheduler) Status() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := QueueStatus{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.Status {
		case TaskPending:
			st.Pending++
		case TaskReady:
			st.Ready++
		case TaskInProgress:
			st.InProgress++
		case TaskCompleted:
			st.Completed++
		case TaskBlocked:
			st.Blocked++
		}
	}
	return st
}

// CompletedIDs returns the IDs of completed tasks in plan order.
func (s *Scheduler) CompletedIDs() []string {
	return s.idsWithStatus(TaskCompleted)
}

// BlockedIDs returns the IDs of blocked tasks in plan order.
func (s *Scheduler) BlockedIDs() []string {
	return s.idsWithStatus(TaskBlocked)
}

func (s *Scheduler) idsWithStatus(status TaskStatus) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, id := range s.order {
		if s.tasks[id].Status == status {
			out = append(out, id)
		}
	}
	return out
}

// remaining counts tasks not yet terminal. Caller must hold the mutex.
func (s *Scheduler) remaining() int {
	n := 0
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// byStatus returns tasks in the given status. Caller must hold the mutex.
func (s *Scheduler) byStatus(status TaskStatus) []*ScheduledTask {
	var out []*ScheduledTask
	for _, id := range s.order {
		if s.tasks[id].Status == status {
			out = append(out, s.tasks[id])
		}
	}
	return out
}

// refreshReady promotes pending tasks whose dependencies all completed.
// Readiness is monotonic: a ready task never demotes back to pending.
// Returns the IDs promoted by this call. Caller must hold the mutex.
func (s *Scheduler) refreshReady() []string {
	var promoted []string
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != TaskPending {
			continue
		}
		ready := true
		for _, depID := range t.DependsOn {
			dep, ok := s.tasks[depID]
			if !ok || dep.Status != TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			t.Status = TaskReady
			promoted = append(promoted, id)
		}
	}
	return promoted
}

// propagateBlocks blocks every pending or ready task with a blocked
// dependency, transitively. Returns the newly blocked IDs. Caller must
// hold the mutex.
func (s *Scheduler) propagateBlocks() []string {
	var blocked []string
	for changed := true; changed; {
		changed = false
		for _, id := range s.order {
			t := s.tasks[id]
			if t.Status != TaskPending && t.Status != TaskReady {
				continue
			}
			for _, depID := range t.DependsOn {
				dep, ok := s.tasks[depID]
				if ok && dep.Status == TaskBlocked {
					t.Status = TaskBlocked
					t.BlockReason = fmt.Sprintf("dependency %s blocked", depID)
					blocked = append(blocked, id)
					changed = true
					break
				}
			}
		}
	}
	return blocked
}
