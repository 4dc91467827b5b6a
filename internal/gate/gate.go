// Package gate evaluates structural quality checks between phases.
//
// A gate inspects the artifacts the preceding phase was required to
// produce: present, non-empty, parseable, internally consistent. Gates
// classify only, they never mutate state. There are four boundaries
// (1→2 through 4→5); the final phase has no gate after it.
package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowanlane/convoy/internal/checkpoint"
	"github.com/rowanlane/convoy/internal/plan"
)

// Artifact names each phase writes into the item's artifact directory.
const (
	AnalysisFile       = "analysis.md"
	PlanFile           = plan.FileName
	ImplementationFile = "implementation.md"
	VerificationFile   = "verification.md"
)

// Input carries everything a gate may inspect.
type Input struct {
	// ItemID identifies the work item under evaluation.
	ItemID string

	// ArtifactDir is the item's artifact directory under the progress dir.
	ArtifactDir string

	// WorktreePath is the item's git workspace.
	WorktreePath string

	// BaseCommit is the commit the workspace branched from, when known.
	BaseCommit string
}

// Result is a gate's classification of the preceding phase's output.
type Result struct {
	Status   checkpoint.GateStatus
	Warnings []string
	Errors   []string
}

// Record converts the result to its checkpoint representation.
func (r Result) Record() checkpoint.GateRecord {
	return checkpoint.GateRecord{Status: r.Status, Warnings: r.Warnings, Errors: r.Errors}
}

func pass() Result { return Result{Status: checkpoint.GatePass} }

func fail(errs ...string) Result {
	return Result{Status: checkpoint.GateFail, Errors: errs}
}

func warn(warnings ...string) Result {
	return Result{Status: checkpoint.GateWarn, Warnings: warnings}
}

// Gate evaluates the boundary after one phase.
type Gate func(in Input) Result

// ForBoundary returns the gate guarding the exit of the given phase
// ordinal, or nil when the phase has none.
func ForBoundary(phase int) Gate {
	switch phase {
	case 1:
		return AnalysisGate
	case 2:
		return PlanGate
	case 3:
		return ImplementationGate
	case 4:
		return VerificationGate
	}
	return nil
}

// AnalysisGate (1→2) requires a non-empty analysis report.
func AnalysisGate(in Input) Result {
	return requireArtifact(in, AnalysisFile)
}

// PlanGate (2→3) requires a parseable, structurally valid plan. Literal
// task paths missing from the worktree are warned about, not failed:
// plans legitimately name files that do not exist yet.
func PlanGate(in Input) Result {
	path := filepath.Join(in.ArtifactDir, PlanFile)
	p, err := plan.ParseFile(path, in.ItemID)
	if err != nil {
		return fail(fmt.Sprintf("plan invalid: %v", err))
	}

	var warnings []string
	for i := range p.Tasks {
		t := &p.Tasks[i]
		for _, f := range t.Files {
			if isGlobPattern(f) {
				continue
			}
			if _, err := os.Stat(filepath.Join(in.WorktreePath, f)); os.IsNotExist(err) {
				warnings = append(warnings,
					fmt.Sprintf("task %s targets %s which does not exist yet", t.ID, f))
			}
		}
	}
	if len(warnings) > 0 {
		return warn(warnings...)
	}
	return pass()
}

// ImplementationGate (3→4) requires a non-empty implementation report and
// an existing worktree to verify against.
func ImplementationGate(in Input) Result {
	if in.WorktreePath != "" {
		if _, err := os.Stat(in.WorktreePath); err != nil {
			return fail(fmt.Sprintf("worktree %s missing: %v", in.WorktreePath, err))
		}
	}
	return requireArtifact(in, ImplementationFile)
}

// VerificationGate (4→5) requires a non-empty verification report that
// does not flag hard failures. The verifier marks those with a line
// starting "FAIL".
func VerificationGate(in Input) Result {
	if res := requireArtifact(in, VerificationFile); res.Status != checkpoint.GatePass {
		return res
	}

	data, err := os.ReadFile(filepath.Join(in.ArtifactDir, VerificationFile))
	if err != nil {
		return fail(fmt.Sprintf("unreadable artifact %s: %v", VerificationFile, err))
	}
	var failures []string
	for _, line := range strings.Split(string(data), "\n") {
		if line := strings.TrimSpace(line); strings.HasPrefix(line, "FAIL") {
			failures = append(failures, line)
		}
	}
	if len(failures) > 0 {
		return fail(failures...)
	}
	return pass()
}

func requireArtifact(in Input, name string) Result {
	path := filepath.Join(in.ArtifactDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return fail(fmt.Sprintf("required artifact %s missing: %v", name, err))
	}
	if info.Size() == 0 {
		return fail(fmt.Sprintf("required artifact %s is empty", name))
	}
	return pass()
}

func isGlobPattern(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
