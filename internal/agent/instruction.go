package agent

import (
	"fmt"

	"github.com/justmebob123/autonomy-sub005/internal/coordinator"
)

// phaseInstructions holds the task description fed to the agent for each
// phase. The agent decides how to do the work; these state what done means.
var phaseInstructions = map[coordinator.Phase]string{
	coordinator.PhasePlanning: `Survey the current state of the project and produce or refine the work plan.
Break pending work into concrete tasks and note anything that blocks them.`,

	coordinator.PhaseCoding: `Implement the next planned task. Make the smallest change that completes it,
keep the build green and report every file you create or modify.`,

	coordinator.PhaseQA: `Run the test suite and exercise the recent changes. Report failures as issues;
fix trivial test-only breakage directly.`,

	coordinator.PhaseDebugging: `Reproduce and fix the most recently reported failure. Prefer the root cause
over a workaround and state what was wrong.`,

	coordinator.PhaseRefactoring: `Improve the structure of recently touched code without changing behavior.
Stop if the test suite is not green.`,

	coordinator.PhaseDocumentation: `Bring the documentation in line with the current behavior of the code.
Cover anything changed since the last documentation pass.`,

	coordinator.PhaseInvestigation: `Investigate the open question named in the objective and write up what you
find. Do not change production code in this phase.`,
}

// BuildInstruction renders the stdin payload for an agent invocation.
func BuildInstruction(req coordinator.Request) string {
	task, ok := phaseInstructions[req.Phase]
	if !ok {
		task = "Perform the " + string(req.Phase) + " phase."
	}

	out := fmt.Sprintf("# Phase: %s\n\n%s\n", req.Phase, task)
	if req.ObjectiveID != "" {
		out += fmt.Sprintf("\n## Objective %s\n%s\n", req.ObjectiveID, req.Objective)
	}
	out += `
## Output contract
Emit JSON lines on stdout. Progress: {"type":"progress","message":...}.
Issues: {"type":"issue","message":...}. Finish with exactly one
{"type":"result","success":bool,"task_id":...,"files_created":[...],"files_modified":[...],"message":...}.
`
	return out
}
