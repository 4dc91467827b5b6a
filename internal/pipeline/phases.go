// Package pipeline drives one work item through the fixed five-phase
// sequence: Analysis, Planning, Implementation, IntegrationVerification,
// PRComposition.
//
// Every transition is recorded in the checkpoint store before the next
// step begins, so a killed process resumes exactly where it stopped.
// Retry and budget governance wrap every phase executor uniformly; a
// phase cannot accidentally skip the budget check.
package pipeline

import (
	"context"

	"github.com/rowanlane/convoy/internal/gate"
	"github.com/rowanlane/convoy/internal/issue"
)

// Phase ordinals.
const (
	PhaseAnalysis = iota + 1
	PhasePlanning
	PhaseImplementation
	PhaseVerification
	PhasePRComposition
)

// Descriptor is the static definition of one phase.
type Descriptor struct {
	// Ordinal is the 1-based phase id.
	Ordinal int

	// Name is the phase's stable name.
	Name string

	// Critical phases halt the pipeline on failure. Only PRComposition
	// is non-critical: completed implementation work survives a failed
	// PR creation as the code-complete outcome.
	Critical bool

	// Artifact is the file the phase writes into the item's artifact
	// directory, empty for phases without a fixed artifact.
	Artifact string

	// Gate guards this phase's exit, nil for the final phase.
	Gate gate.Gate
}

// Phases returns the fixed phase sequence. Gates come from
// gate.ForBoundary, which yields nil for the final phase.
func Phases() []Descriptor {
	return []Descriptor{
		{Ordinal: PhaseAnalysis, Name: "analysis", Critical: true, Artifact: gate.AnalysisFile, Gate: gate.ForBoundary(PhaseAnalysis)},
		{Ordinal: PhasePlanning, Name: "planning", Critical: true, Artifact: gate.PlanFile, Gate: gate.ForBoundary(PhasePlanning)},
		{Ordinal: PhaseImplementation, Name: "implementation", Critical: true, Artifact: gate.ImplementationFile, Gate: gate.ForBoundary(PhaseImplementation)},
		{Ordinal: PhaseVerification, Name: "verification", Critical: true, Artifact: gate.VerificationFile, Gate: gate.ForBoundary(PhaseVerification)},
		{Ordinal: PhasePRComposition, Name: "pr-composition", Critical: false, Gate: gate.ForBoundary(PhasePRComposition)},
	}
}

// PhaseName returns the stable name for a phase ordinal.
func PhaseName(ordinal int) string {
	for _, d := range Phases() {
		if d.Ordinal == ordinal {
			return d.Name
		}
	}
	return "unknown"
}

// Context carries everything a phase executor needs.
type Context struct {
	// ItemID identifies the work item.
	ItemID string

	// Item is the full work item, for executors that build prompts from
	// its title and body.
	Item issue.WorkItem

	// ArtifactDir is the item's artifact directory under the progress dir.
	ArtifactDir string

	// WorktreePath is the item's git workspace.
	WorktreePath string

	// BaseCommit is the commit the workspace branched from.
	BaseCommit string

	// Attempt is the retry attempt number, starting at 1. Executors use
	// it to vary recovery behavior past the first try.
	Attempt int
}

// Executor runs one phase's agent work and returns the path of the
// artifact it produced. An error is a phase failure, consumed by the
// retry governor.
type Executor interface {
	Execute(ctx context.Context, phase Descriptor, pc Context) (outputPath string, err error)
}

// TaskExecutor runs one implementation task inside the worktree.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, taskID string, pc Context) error
}
