package state

import (
	"time"
)

// PhaseRunRecord is one entry in a phase's run history. Records are
// immutable once appended.
type PhaseRunRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	TaskID        string    `json:"task_id,omitempty"`
	FilesCreated  []string  `json:"files_created,omitempty"`
	FilesModified []string  `json:"files_modified,omitempty"`
}

// MaxRunHistory caps the per-phase run history; the oldest record is
// evicted first.
const MaxRunHistory = 20

// PhaseState tracks run statistics for a single phase. Instances are created
// lazily and mutated only through the state Manager.
type PhaseState struct {
	Name          string           `json:"name"`
	LastRun       time.Time        `json:"last_run"`
	Runs          int              `json:"runs"`
	Successes     int              `json:"successes"`
	Failures      int              `json:"failures"`
	RunHistory    []PhaseRunRecord `json:"run_history"`
	NoUpdateCount int              `json:"no_update_count"`
}

func newPhaseState(name string) *PhaseState {
	return &PhaseState{
		Name:       name,
		RunHistory: make([]PhaseRunRecord, 0, MaxRunHistory),
	}
}

// recordRun appends a run record, updates counters and trims the history.
func (p *PhaseState) recordRun(rec PhaseRunRecord) {
	p.LastRun = rec.Timestamp
	p.Runs++
	if rec.Success {
		p.Successes++
	} else {
		p.Failures++
	}
	p.RunHistory = append(p.RunHistory, rec)
	if len(p.RunHistory) > MaxRunHistory {
		p.RunHistory = p.RunHistory[len(p.RunHistory)-MaxRunHistory:]
	}
}

// ConsecutiveFailures counts trailing failures, scanning from the end of
// history until the first success.
func (p *PhaseState) ConsecutiveFailures() int {
	count := 0
	for i := len(p.RunHistory) - 1; i >= 0; i-- {
		if p.RunHistory[i].Success {
			break
		}
		count++
	}
	return count
}

// ConsecutiveSuccesses counts trailing successes, scanning from the end of
// history until the first failure.
func (p *PhaseState) ConsecutiveSuccesses() int {
	count := 0
	for i := len(p.RunHistory) - 1; i >= 0; i-- {
		if !p.RunHistory[i].Success {
			break
		}
		count++
	}
	return count
}

// RecentSuccessRate returns successes/len over the last window records, or
// over the whole history if it is shorter.
func (p *PhaseState) RecentSuccessRate(window int) float64 {
	recent := p.RunHistory
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) == 0 {
		return 0
	}
	successes := 0
	for _, r := range recent {
		if r.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(recent))
}

// SuccessRate is the aggregate success rate over all recorded runs.
func (p *PhaseState) SuccessRate() float64 {
	if p.Runs == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Runs)
}

// IsImproving reports whether the recent-half success rate exceeds the
// older-half rate over the last 2*window records. With fewer than 2*window
// records there is not enough signal and it returns false.
func (p *PhaseState) IsImproving(window int) bool {
	if len(p.RunHistory) < window*2 {
		return false
	}
	older := p.RunHistory[len(p.RunHistory)-window*2 : len(p.RunHistory)-window]
	recent := p.RunHistory[len(p.RunHistory)-window:]
	return successRate(recent) > successRate(older)
}

// IsDegrading is the mirror of IsImproving.
func (p *PhaseState) IsDegrading(window int) bool {
	if len(p.RunHistory) < window*2 {
		return false
	}
	older := p.RunHistory[len(p.RunHistory)-window*2 : len(p.RunHistory)-window]
	recent := p.RunHistory[len(p.RunHistory)-window:]
	return successRate(recent) < successRate(older)
}

// IsOscillating reports whether the last 2*threshold records (or all, if
// fewer) flip between success and failure at least threshold times.
func (p *PhaseState) IsOscillating(threshold int) bool {
	recent := p.RunHistory
	if len(recent) > threshold*2 {
		recent = recent[len(recent)-threshold*2:]
	}
	changes := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Success != recent[i-1].Success {
			changes++
		}
	}
	return changes >= threshold
}

func successRate(records []PhaseRunRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	successes := 0
	for _, r := range records {
		if r.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(records))
}

// ObjectiveStatus is the lifecycle state of an objective.
type ObjectiveStatus string

const (
	ObjectivePending   ObjectiveStatus = "pending"
	ObjectiveActive    ObjectiveStatus = "active"
	ObjectiveCompleted ObjectiveStatus = "completed"
	ObjectiveAbandoned ObjectiveStatus = "abandoned"
)

// Objective is a tracked unit of pending work, positioned in the
// 7-dimension health space by the objective manager.
type Objective struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Profile     Profile         `json:"dimensional_profile"`
	Status      ObjectiveStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Open reports whether the objective still has pending work.
func (o *Objective) Open() bool {
	return o.Status == ObjectivePending || o.Status == ObjectiveActive
}

// MetricSample is one observation of a named performance metric.
type MetricSample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PipelineState is the root aggregate for a pipeline run. There is exactly
// one instance per run, owned and mutated by the Manager; everything else
// reads through accessors.
//
// Every map field is an ordinary map created explicitly; any code that may
// hit a missing key checks and creates it at the mutation site. Nothing here
// auto-creates entries on read, so the structure round-trips through JSON
// without behavior changes.
type PipelineState struct {
	RunID              string                    `json:"run_id"`
	Updated            time.Time                 `json:"updated"`
	Phases             map[string]*PhaseState    `json:"phases"`
	Objectives         []*Objective              `json:"objectives"`
	PhaseSequence      []string                  `json:"phase_sequence"`
	PerformanceMetrics map[string][]MetricSample `json:"performance_metrics"`
	LearnedPatterns    map[string][]string       `json:"learned_patterns"`
}

// maxPhaseSequence bounds the ordered log of executed phase names kept for
// correlation context.
const maxPhaseSequence = 200

// NewPipelineState creates a fresh state with all containers initialized.
func NewPipelineState(runID string) *PipelineState {
	return &PipelineState{
		RunID:              runID,
		Updated:            time.Now(),
		Phases:             make(map[string]*PhaseState),
		Objectives:         make([]*Objective, 0),
		PhaseSequence:      make([]string, 0),
		PerformanceMetrics: make(map[string][]MetricSample),
		LearnedPatterns:    make(map[string][]string),
	}
}

// normalize re-creates any container a decoder left nil and backfills the
// per-phase name field. Called after deserialization so accessors never see
// nil maps.
func (s *PipelineState) normalize() {
	if s.Phases == nil {
		s.Phases = make(map[string]*PhaseState)
	}
	for name, ps := range s.Phases {
		if ps == nil {
			s.Phases[name] = newPhaseState(name)
			continue
		}
		if ps.Name == "" {
			ps.Name = name
		}
		if ps.RunHistory == nil {
			ps.RunHistory = make([]PhaseRunRecord, 0, MaxRunHistory)
		}
	}
	if s.Objectives == nil {
		s.Objectives = make([]*Objective, 0)
	}
	if s.PhaseSequence == nil {
		s.PhaseSequence = make([]string, 0)
	}
	if s.PerformanceMetrics == nil {
		s.PerformanceMetrics = make(map[string][]MetricSample)
	}
	if s.LearnedPatterns == nil {
		s.LearnedPatterns = make(map[string][]string)
	}
}
