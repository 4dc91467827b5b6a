package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validPlan = `{
	"summary": "Add logout support",
	"tasks": [
		{"id": "t1", "name": "Add handler", "description": "...",
		 "files": ["internal/auth/logout.go"], "depends_on": [], "complexity": "low"},
		{"id": "t2", "name": "Wire route", "description": "...",
		 "files": ["internal/server/routes.go"], "depends_on": ["t1"], "complexity": "medium"}
	]
}`

func TestParseValidPlan(t *testing.T) {
	p, err := Parse([]byte(validPlan), "42")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.ItemID != "42" {
		t.Errorf("ItemID = %q, want 42", p.ItemID)
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(p.Tasks))
	}
	if p.Tasks[1].DependsOn[0] != "t1" {
		t.Errorf("t2 deps = %v, want [t1]", p.Tasks[1].DependsOn)
	}
	if got := p.TaskByID("t1"); got == nil || got.Name != "Add handler" {
		t.Errorf("TaskByID(t1) = %+v", got)
	}
	if got := p.TaskByID("nope"); got != nil {
		t.Errorf("TaskByID(nope) = %+v, want nil", got)
	}
}

func TestParseFieldAliases(t *testing.T) {
	data := `{
		"plan": {
			"summary": "s",
			"tasks": [
				{"id": "t1", "title": "Aliased", "target_files": ["a.go"], "depends": []}
			]
		}
	}`

	p, err := Parse([]byte(data), "1")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	task := p.Tasks[0]
	if task.Name != "Aliased" {
		t.Errorf("Name = %q, want title alias applied", task.Name)
	}
	if len(task.Files) != 1 || task.Files[0] != "a.go" {
		t.Errorf("Files = %v, want target_files alias applied", task.Files)
	}
	if task.Complexity != ComplexityMedium {
		t.Errorf("Complexity = %q, want default medium", task.Complexity)
	}
	if task.DependsOn == nil {
		t.Error("DependsOn should never be nil after parsing")
	}
}

func TestParseRejectsInvalidPlans(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "not json",
			data:    "not json at all",
			wantErr: "parse plan JSON",
		},
		{
			name:    "no tasks",
			data:    `{"summary": "s", "tasks": []}`,
			wantErr: "no tasks",
		},
		{
			name: "duplicate ids",
			data: `{"tasks": [
				{"id": "t1", "files": ["a.go"]},
				{"id": "t1", "files": ["b.go"]}
			]}`,
			wantErr: "duplicate task id",
		},
		{
			name: "unknown dependency",
			data: `{"tasks": [
				{"id": "t1", "files": ["a.go"], "depends_on": ["ghost"]}
			]}`,
			wantErr: "unknown task",
		},
		{
			name: "self dependency",
			data: `{"tasks": [
				{"id": "t1", "files": ["a.go"], "depends_on": ["t1"]}
			]}`,
			wantErr: "depends on itself",
		},
		{
			name: "no files",
			data: `{"tasks": [
				{"id": "t1", "depends_on": []}
			]}`,
			wantErr: "no target files",
		},
		{
			name: "cycle",
			data: `{"tasks": [
				{"id": "t1", "files": ["a.go"], "depends_on": ["t2"]},
				{"id": "t2", "files": ["b.go"], "depends_on": ["t1"]}
			]}`,
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "1")
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(validPlan), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := ParseFile(path, "42")
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(p.Tasks) != 2 {
		t.Errorf("got %d tasks, want 2", len(p.Tasks))
	}

	if _, err := ParseFile(filepath.Join(dir, "missing.json"), "42"); err == nil {
		t.Error("ParseFile() on missing file should error")
	}
}
