package coordinator

import (
	"context"
	"errors"
)

// Phase identifies a pipeline phase. Dispatch goes through the registered
// runner table keyed by these values, never through formatted string lookup.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePlanning      Phase = "planning"
	PhaseCoding        Phase = "coding"
	PhaseQA            Phase = "qa"
	PhaseDebugging     Phase = "debugging"
	PhaseRefactoring   Phase = "refactoring"
	PhaseDocumentation Phase = "documentation"
	PhaseInvestigation Phase = "investigation"
	PhaseDone          Phase = "done"
)

// Phases lists the real work phases, excluding the synthetic idle/done
// states.
var Phases = []Phase{
	PhasePlanning,
	PhaseCoding,
	PhaseQA,
	PhaseDebugging,
	PhaseRefactoring,
	PhaseDocumentation,
	PhaseInvestigation,
}

// ErrUnknownPhase reports a phase with no registered runner.
var ErrUnknownPhase = errors.New("unknown phase")

// ErrPhaseInvocation wraps a failed or panicked external phase call. It is
// recoverable: the run is recorded as failed and the loop continues.
var ErrPhaseInvocation = errors.New("phase invocation")

// PhaseResult is the uniform outcome contract for every phase. The agent
// behind the call is an external collaborator; only this shape matters here.
type PhaseResult struct {
	Success       bool     `json:"success"`
	TaskID        string   `json:"task_id,omitempty"`
	FilesCreated  []string `json:"files_created,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// HasFileChanges reports whether the phase produced any file changes.
func (r PhaseResult) HasFileChanges() bool {
	return len(r.FilesCreated) > 0 || len(r.FilesModified) > 0
}

// Request carries everything a runner needs for one invocation.
type Request struct {
	RunID       string
	Phase       Phase
	ObjectiveID string
	Objective   string // description of the selected objective, if any
	Summary     map[string]any
}

// PhaseRunner executes a single phase. The call blocks until the phase is
// finished; the coordinator imposes no timeout of its own.
type PhaseRunner interface {
	Name() Phase
	Run(ctx context.Context, req Request) (PhaseResult, error)
}
