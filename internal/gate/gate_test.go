package gate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rowanlane/convoy/internal/checkpoint"
)

func writeArtifact(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestForBoundary(t *testing.T) {
	for phase := 1; phase <= 4; phase++ {
		if ForBoundary(phase) == nil {
			t.Errorf("ForBoundary(%d) = nil, want gate", phase)
		}
	}
	if ForBoundary(5) != nil {
		t.Error("ForBoundary(5) should be nil, final phase has no gate")
	}
}

func TestAnalysisGate(t *testing.T) {
	dir := t.TempDir()
	in := Input{ItemID: "42", ArtifactDir: dir}

	res := AnalysisGate(in)
	if res.Status != checkpoint.GateFail {
		t.Errorf("missing artifact: status = %q, want fail", res.Status)
	}

	writeArtifact(t, dir, AnalysisFile, "")
	if res = AnalysisGate(in); res.Status != checkpoint.GateFail {
		t.Errorf("empty artifact: status = %q, want fail", res.Status)
	}

	writeArtifact(t, dir, AnalysisFile, "## Findings\nThe bug is in logout.\n")
	if res = AnalysisGate(in); res.Status != checkpoint.GatePass {
		t.Errorf("valid artifact: status = %q, want pass", res.Status)
	}
}

func TestPlanGateInvalidPlan(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, PlanFile, `{"tasks": []}`)

	res := PlanGate(Input{ItemID: "42", ArtifactDir: dir})
	if res.Status != checkpoint.GateFail {
		t.Fatalf("status = %q, want fail", res.Status)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "plan invalid") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestPlanGateWarnsOnMissingTargets(t *testing.T) {
	artifacts := t.TempDir()
	worktree := t.TempDir()

	if err := os.MkdirAll(filepath.Join(worktree, "internal/auth"), 0755); err != nil {
		t.Fatal(err)
	}
	writeArtifact(t, filepath.Join(worktree, "internal/auth"), "logout.go", "package auth\n")

	writeArtifact(t, artifacts, PlanFile, `{"tasks": [
		{"id": "t1", "files": ["internal/auth/logout.go"]},
		{"id": "t2", "files": ["internal/auth/session.go"]},
		{"id": "t3", "files": ["internal/**"]}
	]}`)

	res := PlanGate(Input{ItemID: "42", ArtifactDir: artifacts, WorktreePath: worktree})
	if res.Status != checkpoint.GateWarn {
		t.Fatalf("status = %q, want warn", res.Status)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "t2") {
		t.Errorf("warnings = %v, want one about t2 only", res.Warnings)
	}
}

func TestPlanGatePassesCleanPlan(t *testing.T) {
	artifacts := t.TempDir()
	worktree := t.TempDir()
	writeArtifact(t, worktree, "a.go", "package a\n")
	writeArtifact(t, artifacts, PlanFile, `{"tasks": [{"id": "t1", "files": ["a.go"]}]}`)

	res := PlanGate(Input{ItemID: "42", ArtifactDir: artifacts, WorktreePath: worktree})
	if res.Status != checkpoint.GatePass {
		t.Errorf("status = %q, want pass (warnings %v, errors %v)", res.Status, res.Warnings, res.Errors)
	}
}

func TestImplementationGateMissingWorktree(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, ImplementationFile, "3 tasks completed\n")

	res := ImplementationGate(Input{
		ItemID:       "42",
		ArtifactDir:  dir,
		WorktreePath: filepath.Join(dir, "gone"),
	})
	if res.Status != checkpoint.GateFail {
		t.Errorf("status = %q, want fail for missing worktree", res.Status)
	}

	res = ImplementationGate(Input{ItemID: "42", ArtifactDir: dir, WorktreePath: dir})
	if res.Status != checkpoint.GatePass {
		t.Errorf("status = %q, want pass", res.Status)
	}
}

func TestVerificationGate(t *testing.T) {
	dir := t.TempDir()
	in := Input{ItemID: "42", ArtifactDir: dir}

	if res := VerificationGate(in); res.Status != checkpoint.GateFail {
		t.Errorf("missing report: status = %q, want fail", res.Status)
	}
	writeArtifact(t, dir, VerificationFile, "build ok, tests ok\n")
	if res := VerificationGate(in); res.Status != checkpoint.GatePass {
		t.Errorf("status = %q, want pass", res.Status)
	}

	writeArtifact(t, dir, VerificationFile, "build ok\nFAIL: TestThing panics\n")
	res := VerificationGate(in)
	if res.Status != checkpoint.GateFail {
		t.Errorf("flagged failure: status = %q, want fail", res.Status)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "FAIL: TestThing panics" {
		t.Errorf("Errors = %v", res.Errors)
	}
}

func TestResultRecord(t *testing.T) {
	res := Result{Status: checkpoint.GateWarn, Warnings: []string{"w"}}
	rec := res.Record()
	if rec.Status != checkpoint.GateWarn || len(rec.Warnings) != 1 {
		t.Errorf("Record() = %+v", rec)
	}
}
