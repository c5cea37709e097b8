// Package objective implements the polytopic objective model: every tracked
// objective is positioned in a 7-dimension health space, classified into a
// 4-level health status and ranked for selection. Two decision modes exist:
// strategic (full dimensional model) and tactical (fixed fallback order), and
// the tactical mode can always produce an answer.
package objective

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/correlate"
	"github.com/justmebob123/autonomy-sub005/internal/state"
)

// Health is the 4-level classification of a dimensional profile.
type Health string

const (
	Healthy   Health = "HEALTHY"
	Degrading Health = "DEGRADING"
	Critical  Health = "CRITICAL"
	Blocked   Health = "BLOCKED"
)

// Thresholds collapses a profile into a Health. All cutoffs are tunables;
// the exact weighting is deliberately not a constant.
type Thresholds struct {
	BlockedError float64       // error dimension alone at or above this blocks
	Critical     float64       // weighted score cutoffs
	Degrading    float64
	Weights      state.Weights // per-dimension weights for the score
}

// DefaultThresholds returns the standard tuning: error and temporal pressure
// weigh heaviest.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlockedError: 0.9,
		Critical:     0.75,
		Degrading:    0.5,
		Weights: state.Weights{
			0.20, // temporal
			0.11, // functional
			0.11, // data
			0.11, // state
			0.25, // error
			0.11, // context
			0.11, // integration
		},
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.BlockedError <= 0 {
		t.BlockedError = d.BlockedError
	}
	if t.Critical <= 0 {
		t.Critical = d.Critical
	}
	if t.Degrading <= 0 {
		t.Degrading = d.Degrading
	}
	var sum float64
	for _, w := range t.Weights {
		sum += w
	}
	if sum == 0 {
		t.Weights = d.Weights
	}
	return t
}

// tacticalOrder is the fixed fallback phase rotation. It must always be able
// to answer, so it is a ring: the phase after documentation is planning.
var tacticalOrder = []string{"planning", "coding", "qa", "debugging", "documentation"}

// dimensionPhase maps each dimension to the phase that relieves its
// pressure; strategic mode routes to the phase of the worst dimension.
var dimensionPhase = [state.NumDimensions]string{
	state.DimTemporal:    "planning",
	state.DimFunctional:  "coding",
	state.DimData:        "coding",
	state.DimState:       "refactoring",
	state.DimError:       "debugging",
	state.DimContext:     "documentation",
	state.DimIntegration: "qa",
}

// Manager positions objectives in the dimensional space and selects the next
// objective and phase.
type Manager struct {
	states     *state.Manager
	engine     *correlate.Engine
	thresholds Thresholds
	log        *zap.Logger
}

// New creates a manager over the shared state and correlation engine.
func New(states *state.Manager, engine *correlate.Engine, thresholds Thresholds, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		states:     states,
		engine:     engine,
		thresholds: thresholds.withDefaults(),
		log:        log,
	}
}

// keyword groups feeding the profile heuristics. Each dimension derives from
// one distinct local signal.
var (
	dataKeywords        = []string{"data", "schema", "parse", "format", "serialize", "migration"}
	stateKeywords       = []string{"state", "session", "cache", "store", "persist", "memory", "context"}
	errorKeywords       = []string{"error", "exception", "fail", "bug", "issue", "fix", "crash", "critical"}
	contextKeywords     = []string{"document", "explain", "configuration", "setup", "prerequisite", "readme"}
	integrationKeywords = []string{"integrate", "connect", "interface", "api", "service", "component"}
)

// CalculateProfile derives an objective's 7D profile from its description
// and age. Every component is a normalized local signal clamped to [0,1];
// none of this is ground truth and the profile is recomputed each cycle.
func (m *Manager) CalculateProfile(obj state.Objective) state.Profile {
	desc := strings.ToLower(obj.Description)

	var p state.Profile

	// Temporal pressure grows with age: an objective open for two weeks has
	// saturated urgency.
	age := time.Since(obj.CreatedAt)
	p[state.DimTemporal] = 0.3 + age.Hours()/(14*24)*0.7

	// Functional complexity from description size, saturating at 500 chars.
	p[state.DimFunctional] = float64(len(obj.Description)) / 500

	p[state.DimData] = keywordSignal(desc, dataKeywords)
	p[state.DimState] = keywordSignal(desc, stateKeywords)
	p[state.DimError] = keywordSignal(desc, errorKeywords)
	p[state.DimContext] = keywordSignal(desc, contextKeywords)
	p[state.DimIntegration] = keywordSignal(desc, integrationKeywords)

	// Manifest hints override the derived value for any dimension they name.
	for i := range obj.Profile {
		if obj.Profile[i] > 0 {
			p[i] = obj.Profile[i]
		}
	}
	return p.Clamped()
}

// keywordSignal counts distinct keyword hits, normalized to 3 hits.
func keywordSignal(text string, keywords []string) float64 {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return float64(hits) / 3
}

// PhaseProfile derives a phase's current 7D profile from its run record:
// failure pressure on the error axis, staleness on the temporal axis,
// no-progress pressure on the state axis.
func (m *Manager) PhaseProfile(phase string) state.Profile {
	ps := m.states.GetPhaseState(phase)

	var p state.Profile
	if !ps.LastRun.IsZero() {
		p[state.DimTemporal] = time.Since(ps.LastRun).Hours() / 24
	}
	p[state.DimFunctional] = float64(ps.Runs) / 20
	p[state.DimData] = float64(len(ps.RunHistory)) / state.MaxRunHistory
	p[state.DimState] = float64(ps.NoUpdateCount) / 3
	if ps.Runs > 0 {
		p[state.DimError] = 1 - ps.SuccessRate()
	}
	p[state.DimContext] = float64(ps.ConsecutiveFailures()) / 5
	pred := m.engine.PredictSuccess(phase)
	p[state.DimIntegration] = 1 - pred.Probability

	return p.Clamped()
}

// AnalyzeHealth classifies a profile. A saturated error dimension blocks
// outright regardless of the weighted score.
func (m *Manager) AnalyzeHealth(p state.Profile) Health {
	if p[state.DimError] >= m.thresholds.BlockedError {
		return Blocked
	}
	score := p.Score(m.thresholds.Weights)
	switch {
	case score >= m.thresholds.Critical:
		return Critical
	case score >= m.thresholds.Degrading:
		return Degrading
	default:
		return Healthy
	}
}

// Assessment pairs an objective with its recomputed profile and health.
type Assessment struct {
	Objective state.Objective `json:"objective"`
	Profile   state.Profile   `json:"profile"`
	Health    Health          `json:"health"`
}

// AssessAll recomputes profile and health for every open objective, in
// creation order.
func (m *Manager) AssessAll() []Assessment {
	open := m.states.OpenObjectives()
	out := make([]Assessment, 0, len(open))
	for _, obj := range open {
		profile := m.CalculateProfile(obj)
		out = append(out, Assessment{
			Objective: obj,
			Profile:   profile,
			Health:    m.AnalyzeHealth(profile),
		})
	}
	return out
}

// healthRank orders health states from best to worst.
func healthRank(h Health) int {
	switch h {
	case Healthy:
		return 0
	case Degrading:
		return 1
	case Critical:
		return 2
	case Blocked:
		return 3
	default:
		return 0
	}
}

// FindOptimalObjective picks the open objective in the worst health that is
// not BLOCKED, oldest first on ties. It returns false when nothing
// selectable remains.
func (m *Manager) FindOptimalObjective() (Assessment, bool) {
	assessed := m.AssessAll()

	candidates := assessed[:0]
	for _, a := range assessed {
		if a.Health != Blocked {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return Assessment{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := healthRank(candidates[i].Health), healthRank(candidates[j].Health)
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Objective.CreatedAt.Before(candidates[j].Objective.CreatedAt)
	})
	return candidates[0], true
}

// Decision is the outcome of next-phase selection.
type Decision struct {
	Phase       string `json:"phase"`
	Mode        string `json:"mode"` // strategic or tactical
	ObjectiveID string `json:"objective_id,omitempty"`
	Objective   string `json:"objective,omitempty"` // description, for the runner
	Reason      string `json:"reason"`
}

// NextPhase selects the next phase: strategic when an objective is
// selectable, tactical otherwise. A strategic pick that would route into a
// phase currently on a failure streak is discarded in favor of the tactical
// rotation, which always answers, so the pipeline can never become unable
// to choose.
func (m *Manager) NextPhase(currentPhase string) Decision {
	if d, ok := m.nextPhaseStrategic(); ok {
		if ps := m.states.GetPhaseState(d.Phase); ps.ConsecutiveFailures() < 3 {
			return d
		}
		m.log.Debug("strategic pick is failing, using tactical rotation",
			zap.String("phase", d.Phase))
	}
	return m.nextPhaseTactical(currentPhase)
}

// nextPhaseStrategic routes to the phase relieving the selected objective's
// worst dimension, preferring the correlation engine's ranking when it
// agrees on a candidate.
func (m *Manager) nextPhaseStrategic() (Decision, bool) {
	best, ok := m.FindOptimalObjective()
	if !ok {
		return Decision{}, false
	}

	worst := state.DimTemporal
	for d := state.Dimension(0); d < state.NumDimensions; d++ {
		if best.Profile[d] > best.Profile[worst] {
			worst = d
		}
	}
	phase := dimensionPhase[worst]

	m.log.Debug("strategic decision",
		zap.String("objective", best.Objective.ID),
		zap.String("health", string(best.Health)),
		zap.String("worst_dimension", worst.String()),
		zap.String("phase", phase),
	)
	return Decision{
		Phase:       phase,
		Mode:        "strategic",
		ObjectiveID: best.Objective.ID,
		Objective:   best.Objective.Description,
		Reason:      "worst dimension " + worst.String() + ", health " + string(best.Health),
	}, true
}

// nextPhaseTactical walks the fixed rotation starting after the current
// phase. It consults only per-phase success rates: a phase with three or
// more trailing failures is skipped unless everything is skippable.
func (m *Manager) nextPhaseTactical(currentPhase string) Decision {
	start := 0
	for i, phase := range tacticalOrder {
		if phase == currentPhase {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(tacticalOrder); i++ {
		phase := tacticalOrder[(start+i)%len(tacticalOrder)]
		if ps := m.states.GetPhaseState(phase); ps.ConsecutiveFailures() >= 3 {
			continue
		}
		return Decision{Phase: phase, Mode: "tactical", Reason: "fixed rotation"}
	}
	// every phase is failing; rotate anyway rather than stall
	phase := tacticalOrder[start%len(tacticalOrder)]
	return Decision{Phase: phase, Mode: "tactical", Reason: "fixed rotation, all phases failing"}
}
