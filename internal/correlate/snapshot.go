package correlate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot is the engine's persisted form: a bounded cache of recent
// history and patterns, sufficient to warm the derived structures after a
// restart. Pairwise correlations are recomputed, not stored.
type Snapshot struct {
	History         []ExecutionRecord          `json:"phase_history"`
	Transitions     map[string]TransitionStats `json:"transition_matrix"`
	SuccessPatterns map[string][]Pattern       `json:"success_patterns"`
	FailurePatterns map[string][]Pattern       `json:"failure_patterns"`
}

// Snapshot captures the engine state, trimmed to the retention bounds.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.history
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	snap := Snapshot{
		History:         append([]ExecutionRecord(nil), history...),
		Transitions:     make(map[string]TransitionStats, len(e.transitions)),
		SuccessPatterns: make(map[string][]Pattern, len(e.successPatterns)),
		FailurePatterns: make(map[string][]Pattern, len(e.failurePatterns)),
	}
	for k, stats := range e.transitions {
		snap.Transitions[k.String()] = *stats
	}
	for phase, patterns := range e.successPatterns {
		snap.SuccessPatterns[phase] = trimPatterns(patterns)
	}
	for phase, patterns := range e.failurePatterns {
		snap.FailurePatterns[phase] = trimPatterns(patterns)
	}
	return snap
}

func trimPatterns(patterns []Pattern) []Pattern {
	if len(patterns) > maxPatternsPerPhase {
		patterns = patterns[len(patterns)-maxPatternsPerPhase:]
	}
	return append([]Pattern(nil), patterns...)
}

// Restore replaces the engine state with a previously captured snapshot and
// recomputes pairwise correlations from the restored history.
func (e *Engine) Restore(snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	transitions := make(map[transitionKey]*TransitionStats, len(snap.Transitions))
	for key, stats := range snap.Transitions {
		prev, next, ok := strings.Cut(key, ":")
		if !ok {
			return fmt.Errorf("restore correlation data: bad transition key %q", key)
		}
		s := stats
		transitions[transitionKey{Prev: prev, Next: next}] = &s
	}

	e.history = append([]ExecutionRecord(nil), snap.History...)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	e.transitions = transitions
	e.successPatterns = make(map[string][]Pattern, len(snap.SuccessPatterns))
	for phase, patterns := range snap.SuccessPatterns {
		e.successPatterns[phase] = trimPatterns(patterns)
	}
	e.failurePatterns = make(map[string][]Pattern, len(snap.FailurePatterns))
	for phase, patterns := range snap.FailurePatterns {
		e.failurePatterns[phase] = trimPatterns(patterns)
	}
	e.correlations = make(map[transitionKey]Correlation)
	e.analyzeCorrelationsLocked()
	return nil
}

// MarshalData serializes the snapshot for storage.
func (e *Engine) MarshalData() ([]byte, error) {
	data, err := json.Marshal(e.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal correlation data: %w", err)
	}
	return data, nil
}

// UnmarshalData restores the engine from stored snapshot bytes.
func (e *Engine) UnmarshalData(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal correlation data: %w", err)
	}
	return e.Restore(snap)
}
