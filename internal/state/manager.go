// Package state owns the pipeline's persistent state. A single Manager
// instance holds the PipelineState aggregate; every other component reads
// through accessors and mutates only through Manager methods.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStateCorruption marks a persisted state blob that failed to
// deserialize. Loads fail closed: no partially populated state is ever
// returned. Not auto-recovered.
var ErrStateCorruption = errors.New("state corruption")

// maxMetricSamples bounds each named performance-metric series.
const maxMetricSamples = 100

// Manager is the single writer for PipelineState. Reads are safe from any
// goroutine; all mutation happens through Manager methods under the lock.
type Manager struct {
	mu    sync.RWMutex
	state *PipelineState
	log   *zap.Logger
}

// NewManager creates a manager around a fresh state for the given run.
func NewManager(runID string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		state: NewPipelineState(runID),
		log:   log,
	}
}

// RunID returns the identifier of the current pipeline run.
func (m *Manager) RunID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.RunID
}

// RecordRun appends a run record for the phase, creating the phase state on
// first use, and updates the ordered phase sequence.
func (m *Manager) RecordRun(phase string, success bool, taskID string, filesCreated, filesModified []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.state.Phases[phase]
	if !ok {
		ps = newPhaseState(phase)
		m.state.Phases[phase] = ps
	}
	ps.recordRun(PhaseRunRecord{
		Timestamp:     time.Now(),
		Success:       success,
		TaskID:        taskID,
		FilesCreated:  filesCreated,
		FilesModified: filesModified,
	})

	m.state.PhaseSequence = append(m.state.PhaseSequence, phase)
	if len(m.state.PhaseSequence) > maxPhaseSequence {
		m.state.PhaseSequence = m.state.PhaseSequence[len(m.state.PhaseSequence)-maxPhaseSequence:]
	}
	m.state.Updated = time.Now()

	m.log.Debug("recorded phase run",
		zap.String("phase", phase),
		zap.Bool("success", success),
		zap.Int("runs", ps.Runs),
	)
}

// GetPhaseState returns a snapshot of the phase's state, creating a
// zero-valued default on first access. It never errors.
func (m *Manager) GetPhaseState(phase string) PhaseState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.state.Phases[phase]
	if !ok {
		ps = newPhaseState(phase)
		m.state.Phases[phase] = ps
	}
	snap := *ps
	snap.RunHistory = make([]PhaseRunRecord, len(ps.RunHistory))
	copy(snap.RunHistory, ps.RunHistory)
	return snap
}

// PhaseNames returns the known phase names, sorted for stable output.
func (m *Manager) PhaseNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.state.Phases))
	for name := range m.state.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IncrementNoUpdate bumps the phase's no-progress counter and returns the
// new value.
func (m *Manager) IncrementNoUpdate(phase string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.state.Phases[phase]
	if !ok {
		ps = newPhaseState(phase)
		m.state.Phases[phase] = ps
	}
	ps.NoUpdateCount++
	return ps.NoUpdateCount
}

// ResetNoUpdate clears the phase's no-progress counter.
func (m *Manager) ResetNoUpdate(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps, ok := m.state.Phases[phase]; ok {
		ps.NoUpdateCount = 0
	}
}

// RecentPhases returns up to n most recent executed phase names, oldest
// first.
func (m *Manager) RecentPhases(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seq := m.state.PhaseSequence
	if len(seq) > n {
		seq = seq[len(seq)-n:]
	}
	return append([]string(nil), seq...)
}

// AddObjective registers a new objective.
func (m *Manager) AddObjective(obj *Objective) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now()
	}
	if obj.Status == "" {
		obj.Status = ObjectivePending
	}
	m.state.Objectives = append(m.state.Objectives, obj)
	m.state.Updated = time.Now()
}

// SetObjectiveStatus transitions the objective with the given ID. It reports
// whether the objective was found.
func (m *Manager) SetObjectiveStatus(id string, status ObjectiveStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, obj := range m.state.Objectives {
		if obj.ID == id {
			obj.Status = status
			m.state.Updated = time.Now()
			return true
		}
	}
	return false
}

// OpenObjectives returns copies of all pending or active objectives, in
// creation order.
func (m *Manager) OpenObjectives() []Objective {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make([]Objective, 0, len(m.state.Objectives))
	for _, obj := range m.state.Objectives {
		if obj.Open() {
			open = append(open, *obj)
		}
	}
	return open
}

// RecordMetric appends a sample to the named performance-metric series,
// creating the series on first use and trimming it to the newest samples.
func (m *Manager) RecordMetric(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	series, ok := m.state.PerformanceMetrics[name]
	if !ok {
		series = make([]MetricSample, 0, maxMetricSamples)
	}
	series = append(series, MetricSample{Value: value, Timestamp: time.Now()})
	if len(series) > maxMetricSamples {
		series = series[len(series)-maxMetricSamples:]
	}
	m.state.PerformanceMetrics[name] = series
}

// AddPattern records a learned pattern under the given category, creating
// the category on first use.
func (m *Manager) AddPattern(category, pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, ok := m.state.LearnedPatterns[category]
	if !ok {
		list = make([]string, 0, 8)
	}
	m.state.LearnedPatterns[category] = append(list, pattern)
}

// Serialize marshals the full state to JSON.
func (m *Manager) Serialize() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.Marshal(m.state)
	if err != nil {
		return nil, fmt.Errorf("serialize pipeline state: %w", err)
	}
	return data, nil
}

// Deserialize replaces the managed state with the decoded blob. A blob that
// fails to decode or violates counter invariants fails closed with
// ErrStateCorruption and leaves the current state untouched.
func (m *Manager) Deserialize(data []byte) error {
	var loaded PipelineState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: decode pipeline state: %v", ErrStateCorruption, err)
	}
	loaded.normalize()

	for name, ps := range loaded.Phases {
		if ps.Runs != ps.Successes+ps.Failures {
			return fmt.Errorf("%w: phase %q counters inconsistent (%d != %d + %d)",
				ErrStateCorruption, name, ps.Runs, ps.Successes, ps.Failures)
		}
		if len(ps.RunHistory) > MaxRunHistory {
			return fmt.Errorf("%w: phase %q history exceeds cap (%d)",
				ErrStateCorruption, name, len(ps.RunHistory))
		}
	}
	for _, obj := range loaded.Objectives {
		for _, v := range obj.Profile {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: objective %q profile component out of range: %v",
					ErrStateCorruption, obj.ID, v)
			}
		}
	}

	m.mu.Lock()
	m.state = &loaded
	m.mu.Unlock()

	m.log.Info("pipeline state loaded",
		zap.String("run_id", loaded.RunID),
		zap.Int("phases", len(loaded.Phases)),
		zap.Int("objectives", len(loaded.Objectives)),
	)
	return nil
}

// Summary returns a plain-map digest of the state for status output and the
// HTTP API.
func (m *Manager) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	phases := make(map[string]any, len(m.state.Phases))
	for name, ps := range m.state.Phases {
		phases[name] = map[string]any{
			"runs":            ps.Runs,
			"successes":       ps.Successes,
			"failures":        ps.Failures,
			"success_rate":    ps.SuccessRate(),
			"no_update_count": ps.NoUpdateCount,
			"last_run":        ps.LastRun,
		}
	}
	open := 0
	for _, obj := range m.state.Objectives {
		if obj.Open() {
			open++
		}
	}
	return map[string]any{
		"run_id":           m.state.RunID,
		"updated":          m.state.Updated,
		"phases":           phases,
		"objectives_total": len(m.state.Objectives),
		"objectives_open":  open,
	}
}
