// Package plan defines the implementation plan produced by the Planning
// phase: the task list the Implementation phase schedules and executes.
//
// A plan is a JSON artifact written by the planning agent. Tasks reference
// each other by ID through DependsOn and name the files they intend to
// touch; the scheduler uses those file sets to keep concurrent agent runs
// off each other's files.
package plan

import "time"

// Complexity is the planning agent's estimate for a task.
type Complexity string

const (
	// ComplexityLow is a simple, well-scoped task.
	ComplexityLow Complexity = "low"

	// ComplexityMedium may touch multiple files but has clear boundaries.
	ComplexityMedium Complexity = "medium"

	// ComplexityHigh is significant work; candidates for splitting.
	ComplexityHigh Complexity = "high"
)

// String returns the string representation of the complexity.
func (c Complexity) String() string {
	return string(c)
}

// Task is a single unit of implementation work.
type Task struct {
	// ID uniquely identifies the task within its plan.
	ID string `json:"id"`

	// Name is a short human-readable title.
	Name string `json:"name"`

	// Description tells the executing agent what to do.
	Description string `json:"description"`

	// Files are the paths (optionally glob patterns) the task will touch.
	Files []string `json:"files"`

	// DependsOn lists IDs of tasks that must complete first.
	// Dependencies may only reference tasks in the same plan.
	DependsOn []string `json:"depends_on"`

	// Complexity is the planner's effort estimate.
	Complexity Complexity `json:"complexity"`

	// AcceptanceCriteria describe what "done" means for the task.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// Plan is the full implementation plan for one work item.
type Plan struct {
	// ItemID is the work item this plan belongs to.
	ItemID string `json:"item_id"`

	// Summary is the planning agent's one-paragraph description.
	Summary string `json:"summary"`

	// Tasks is the ordered task list.
	Tasks []Task `json:"tasks"`

	// CreatedAt records when the plan was parsed.
	CreatedAt time.Time `json:"created_at"`
}

// TaskByID returns the task with the given ID, or nil.
func (p *Plan) TaskByID(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// TaskIDs returns the IDs of all tasks in plan order.
func (p *Plan) TaskIDs() []string {
	ids := make([]string, len(p.Tasks))
	for i := range p.Tasks {
		ids[i] = p.Tasks[i].ID
	}
	return ids
}
