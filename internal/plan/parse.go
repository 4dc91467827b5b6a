package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileName is the plan artifact name written by the planning phase.
const FileName = "plan.json"

// ParseFile reads and parses a plan artifact.
//
// It handles alternative field names the planning agent may generate:
//   - "depends" as alias for "depends_on"
//   - "title" as alias for "name"
//   - "target_files" as alias for "files"
func ParseFile(path, itemID string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data, itemID)
}

// flexibleTask tolerates the field-name drift agents produce.
type flexibleTask struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Files              []string   `json:"files"`
	TargetFiles        []string   `json:"target_files"`
	DependsOn          []string   `json:"depends_on"`
	Depends            []string   `json:"depends"`
	Complexity         Complexity `json:"complexity"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
}

func (f *flexibleTask) toTask() Task {
	t := Task{
		ID:                 f.ID,
		Name:               f.Name,
		Description:        f.Description,
		Files:              f.Files,
		DependsOn:          f.DependsOn,
		Complexity:         f.Complexity,
		AcceptanceCriteria: f.AcceptanceCriteria,
	}
	if t.Name == "" {
		t.Name = f.Title
	}
	if len(t.Files) == 0 {
		t.Files = f.TargetFiles
	}
	if t.DependsOn == nil {
		t.DependsOn = f.Depends
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	if t.Complexity == "" {
		t.Complexity = ComplexityMedium
	}
	return t
}

// Parse parses plan JSON. Both the root-level format
// {"summary": ..., "tasks": [...]} and the nested {"plan": {...}} format
// are accepted.
func Parse(data []byte, itemID string) (*Plan, error) {
	var raw struct {
		Summary string         `json:"summary"`
		Tasks   []flexibleTask `json:"tasks"`
		Plan    *struct {
			Summary string         `json:"summary"`
			Tasks   []flexibleTask `json:"tasks"`
		} `json:"plan"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	summary := raw.Summary
	tasks := raw.Tasks
	if len(tasks) == 0 && raw.Plan != nil {
		summary = raw.Plan.Summary
		tasks = raw.Plan.Tasks
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("plan contains no tasks")
	}

	p := &Plan{
		ItemID:    itemID,
		Summary:   summary,
		Tasks:     make([]Task, 0, len(tasks)),
		CreatedAt: time.Now(),
	}
	for i := range tasks {
		p.Tasks = append(p.Tasks, tasks[i].toTask())
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks plan structure: unique IDs, resolvable same-plan
// dependencies, at least one target file per task, and an acyclic
// dependency graph.
func Validate(p *Plan) error {
	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		t := &p.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
		if len(t.Files) == 0 {
			return fmt.Errorf("task %q names no target files", t.ID)
		}
	}

	for i := range p.Tasks {
		t := &p.Tasks[i]
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
		}
	}

	if cycle := findCycle(p.Tasks); cycle != nil {
		return fmt.Errorf("dependency cycle among tasks: %v", cycle)
	}
	return nil
}

// findCycle runs a coloring DFS over the task graph and returns the IDs on
// the first cycle found, or nil for acyclic graphs.
func findCycle(tasks []Task) []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the recursion stack
		black = 2 // fully explored
	)

	deps := make(map[string][]string, len(tasks))
	for i := range tasks {
		deps[tasks[i].ID] = tasks[i].DependsOn
	}

	color := make(map[string]int, len(tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case grey:
				// Slice the recursion stack from the first occurrence of dep.
				for i, s := range stack {
					if s == dep {
						cycle = append([]string(nil), stack[i:]...)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for i := range tasks {
		if color[tasks[i].ID] == white {
			if visit(tasks[i].ID) {
				return cycle
			}
		}
	}
	return nil
}
