package driver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rowanlane/convoy/internal/gate"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/pipeline"
	"github.com/rowanlane/convoy/internal/plan"
)

// phasePrompt builds the instruction fed to the agent for phases 1-4.
// Later phases reference the artifacts earlier phases wrote.
func phasePrompt(phase pipeline.Descriptor, pc pipeline.Context, outputPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s for work item %s.\n\n", agentRoles[phase.Ordinal], pc.ItemID)
	writeItem(&b, pc.Item)

	switch phase.Ordinal {
	case pipeline.PhaseAnalysis:
		b.WriteString("Analyze the repository in the current directory and determine what this item requires: ")
		b.WriteString("affected packages, risks, and the approach you recommend.\n")
	case pipeline.PhasePlanning:
		fmt.Fprintf(&b, "Read the analysis at %s.\n", artifact(pc, gate.AnalysisFile))
		b.WriteString("Break the work into tasks. Each task needs: id, name, description, ")
		b.WriteString("files (paths or glob patterns it will touch), depends_on (task ids), ")
		b.WriteString("complexity (low|medium|high), and acceptance_criteria.\n")
		fmt.Fprintf(&b, "Write the plan as JSON to %s with shape {\"summary\": ..., \"tasks\": [...]}.\n", outputPath)
		return b.String()
	case pipeline.PhaseVerification:
		fmt.Fprintf(&b, "Read the plan at %s and the implementation summary at %s.\n",
			artifact(pc, plan.FileName), artifact(pc, gate.ImplementationFile))
		b.WriteString("Verify the integrated result: build it, run the tests, and confirm the ")
		b.WriteString("acceptance criteria. Report failures explicitly; an empty report is not a pass.\n")
	}

	fmt.Fprintf(&b, "Write your report as markdown to %s.\n", outputPath)
	return b.String()
}

// taskPrompt builds the instruction for one implementation task.
func taskPrompt(task *plan.Task, pc pipeline.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the implementer for work item %s, task %s: %s.\n\n", pc.ItemID, task.ID, task.Name)
	b.WriteString(task.Description)
	b.WriteString("\n\n")
	if len(task.Files) > 0 {
		fmt.Fprintf(&b, "Only touch these paths: %s.\n", strings.Join(task.Files, ", "))
	}
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Done means:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	fmt.Fprintf(&b, "The full plan is at %s. Leave the worktree compiling.\n", artifact(pc, plan.FileName))
	return b.String()
}

// composePrompt asks the agent for a pull request body.
func composePrompt(pc pipeline.Context, outputPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the PR composer for work item %s.\n\n", pc.ItemID)
	writeItem(&b, pc.Item)
	fmt.Fprintf(&b, "Read the verification report at %s and the implementation summary at %s.\n",
		artifact(pc, gate.VerificationFile), artifact(pc, gate.ImplementationFile))
	fmt.Fprintf(&b, "Write a pull request description as markdown to %s. ", outputPath)
	fmt.Fprintf(&b, "State what changed and why, and include \"Closes #%s\".\n", pc.ItemID)
	return b.String()
}

// dependencyPrompt asks which sibling items must land first.
func dependencyPrompt(item issue.WorkItem, outputPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Determine which other tracked work items item %s depends on.\n\n", item.ID)
	writeItem(&b, item)
	b.WriteString("Look for explicit references (\"depends on\", \"blocked by\", \"after #N\") ")
	b.WriteString("and structural dependencies implied by the description.\n")
	fmt.Fprintf(&b, "Write JSON to %s with shape {\"depends_on\": [\"<id>\", ...]}. ", outputPath)
	b.WriteString("Use an empty list when there are none.\n")
	return b.String()
}

func writeItem(b *strings.Builder, item issue.WorkItem) {
	if item.Title != "" {
		fmt.Fprintf(b, "Title: %s\n", item.Title)
	}
	if item.Body != "" {
		fmt.Fprintf(b, "Description:\n%s\n", item.Body)
	}
	b.WriteString("\n")
}

func artifact(pc pipeline.Context, name string) string {
	return filepath.Join(pc.ArtifactDir, name)
}
