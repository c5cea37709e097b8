package agent

import (
	"context"
	"sync"

	"github.com/justmebob123/autonomy-sub005/internal/coordinator"
)

// ScriptedRunner replays a fixed sequence of results, cycling when the
// script is exhausted. It backs dry runs and tests, where spawning the real
// agent is unwanted.
type ScriptedRunner struct {
	phase  coordinator.Phase
	script []coordinator.PhaseResult

	mu   sync.Mutex
	next int
}

// NewScriptedRunner builds a runner for the phase. An empty script always
// reports a successful run with no file changes.
func NewScriptedRunner(phase coordinator.Phase, script ...coordinator.PhaseResult) *ScriptedRunner {
	if len(script) == 0 {
		script = []coordinator.PhaseResult{{Success: true, Message: "scripted"}}
	}
	return &ScriptedRunner{phase: phase, script: script}
}

// Name implements coordinator.PhaseRunner.
func (s *ScriptedRunner) Name() coordinator.Phase { return s.phase }

// Run returns the next scripted result.
func (s *ScriptedRunner) Run(_ context.Context, _ coordinator.Request) (coordinator.PhaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.script[s.next%len(s.script)]
	s.next++
	return r, nil
}

// Invocations reports how many times the runner has been called.
func (s *ScriptedRunner) Invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
