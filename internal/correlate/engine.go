// Package correlate learns phase-transition statistics and success/failure
// patterns from execution history, predicts success probability for a
// candidate phase and recommends phase sequences.
//
// Everything here is derived data: the engine can always be rebuilt from
// scratch by replaying history, and its persisted form is a bounded decaying
// cache, not an audit log.
package correlate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxHistory          = 1000 // execution records kept
	maxPatternsPerPhase = 100  // success/failure patterns kept per phase
	patternWindow       = 4    // preceding phases captured per outcome
	recentWindow        = 5    // phases considered "recent" for matching
	similarityThreshold = 0.6  // Jaccard cutoff for a pattern match
	confidenceDivisor   = 10.0 // confidence = min(1, matches/10)
	minTransitionObs    = 3    // observations before a transition counts
	sequentialRate      = 0.7  // success rate marking a sequential dependency
	prerequisiteShare   = 0.5  // presence share marking a prerequisite
	recentPenalty       = 0.7  // score multiplier for recently executed phases
	pairWindow          = 5    // sliding window for pairwise correlation
	minPairObs          = 3    // co-occurring windows required
	correlationCutoff   = 0.6  // strength required to record a correlation
	analyzeEvery        = 10   // recompute pairwise correlations every N records
)

// ExecutionRecord is one observed phase outcome.
type ExecutionRecord struct {
	Phase     string    `json:"phase"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Pattern is the tuple of phases that preceded an outcome, oldest first.
type Pattern []string

type transitionKey struct {
	Prev string
	Next string
}

func (k transitionKey) String() string {
	return fmt.Sprintf("%s:%s", k.Prev, k.Next)
}

// TransitionStats counts outcomes observed for one (prev, next) edge.
// Derived and rebuildable; never authoritative.
type TransitionStats struct {
	Total     int `json:"total"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

func (s TransitionStats) successRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total)
}

// Prediction is the output of PredictSuccess.
type Prediction struct {
	Phase          string  `json:"phase"`
	Probability    float64 `json:"success_probability"`
	Confidence     float64 `json:"confidence"`
	Basis          string  `json:"basis"` // pattern_matching, transition_history or no_data
	Observations   int     `json:"observations"`
	SuccessMatches int     `json:"success_matches,omitempty"`
	FailureMatches int     `json:"failure_matches,omitempty"`
}

// Dependency links a source phase whose prior execution predicts success of
// the target.
type Dependency struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Type         string  `json:"type"` // sequential or prerequisite
	Strength     float64 `json:"strength"`
	Observations int     `json:"observations"`
}

// Correlation is a discovered success co-occurrence between two phases.
type Correlation struct {
	PhaseA    string    `json:"phase_a"`
	PhaseB    string    `json:"phase_b"`
	Type      string    `json:"correlation_type"`
	Strength  float64   `json:"strength"`
	Evidence  int       `json:"evidence_count"`
	Timestamp time.Time `json:"timestamp"`
}

// Recommendation ranks a candidate phase for execution.
type Recommendation struct {
	Phase        string       `json:"phase"`
	Score        float64      `json:"score"`
	Probability  float64      `json:"success_probability"`
	Confidence   float64      `json:"confidence"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Rationale    string       `json:"rationale"`
}

// objectivePhases maps objective labels to candidate phases.
var objectivePhases = map[string][]string{
	"implement_features":   {"planning", "coding"},
	"fix_bugs":             {"debugging", "qa"},
	"improve_quality":      {"qa", "refactoring"},
	"optimize_performance": {"investigation", "refactoring"},
	"update_docs":          {"documentation"},
	"analyze_architecture": {"investigation", "planning"},
}

// Engine accumulates execution history and derives transition statistics,
// patterns and correlations from it.
type Engine struct {
	mu              sync.Mutex
	history         []ExecutionRecord
	transitions     map[transitionKey]*TransitionStats
	successPatterns map[string][]Pattern
	failurePatterns map[string][]Pattern
	correlations    map[transitionKey]Correlation
	log             *zap.Logger
}

// New creates an empty engine.
func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		history:         make([]ExecutionRecord, 0, maxHistory),
		transitions:     make(map[transitionKey]*TransitionStats),
		successPatterns: make(map[string][]Pattern),
		failurePatterns: make(map[string][]Pattern),
		correlations:    make(map[transitionKey]Correlation),
		log:             log,
	}
}

// RecordExecution feeds one phase outcome into the engine: the history log,
// the outcome's preceding-phase pattern and the transition matrix all
// update, and pairwise correlations recompute periodically.
func (e *Engine) RecordExecution(phase string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	preceding := e.recentPhasesLocked(patternWindow)

	e.history = append(e.history, ExecutionRecord{
		Phase:     phase,
		Success:   success,
		Timestamp: time.Now(),
	})
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}

	pattern := Pattern(preceding)
	if success {
		e.successPatterns[phase] = appendBounded(e.successPatterns[phase], pattern)
	} else {
		e.failurePatterns[phase] = appendBounded(e.failurePatterns[phase], pattern)
	}

	if len(e.history) >= 2 {
		prev := e.history[len(e.history)-2].Phase
		key := transitionKey{Prev: prev, Next: phase}
		stats, ok := e.transitions[key]
		if !ok {
			stats = &TransitionStats{}
			e.transitions[key] = stats
		}
		stats.Total++
		if success {
			stats.Successes++
		} else {
			stats.Failures++
		}
	}

	if len(e.history)%analyzeEvery == 0 {
		e.analyzeCorrelationsLocked()
	}
}

func appendBounded(patterns []Pattern, p Pattern) []Pattern {
	patterns = append(patterns, p)
	if len(patterns) > maxPatternsPerPhase {
		patterns = patterns[len(patterns)-maxPatternsPerPhase:]
	}
	return patterns
}

// recentPhasesLocked returns up to n phase names preceding the next record,
// oldest first.
func (e *Engine) recentPhasesLocked(n int) []string {
	start := len(e.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, n)
	for _, r := range e.history[start:] {
		out = append(out, r.Phase)
	}
	return out
}

// PredictSuccess estimates the probability that the phase would succeed now.
// Pattern matches against stored success/failure tuples are preferred; with
// none, the transition matrix for (last phase, phase) is consulted; with no
// data at all the result is the neutral {0.5, 0, "no_data"}.
func (e *Engine) PredictSuccess(phase string) Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictLocked(phase)
}

func (e *Engine) predictLocked(phase string) Prediction {
	recent := Pattern(e.recentPhasesLocked(recentWindow))

	successMatches := countMatches(recent, e.successPatterns[phase])
	failureMatches := countMatches(recent, e.failurePatterns[phase])
	total := successMatches + failureMatches

	if total == 0 {
		if len(e.history) > 0 {
			prev := e.history[len(e.history)-1].Phase
			if stats, ok := e.transitions[transitionKey{Prev: prev, Next: phase}]; ok {
				return Prediction{
					Phase:        phase,
					Probability:  stats.successRate(),
					Confidence:   min1(float64(stats.Total) / confidenceDivisor),
					Basis:        "transition_history",
					Observations: stats.Total,
				}
			}
		}
		return Prediction{
			Phase:       phase,
			Probability: 0.5,
			Confidence:  0,
			Basis:       "no_data",
		}
	}

	prob := float64(successMatches) / float64(total)

	// Blend in prerequisite satisfaction when dependencies are known.
	deps := e.dependenciesLocked()[phase]
	metPrereqs, totalPrereqs := 0, 0
	for _, dep := range deps {
		if dep.Type != "prerequisite" {
			continue
		}
		totalPrereqs++
		if contains(recent, dep.Source) {
			metPrereqs++
		}
	}
	if totalPrereqs > 0 {
		prob = prob*0.7 + float64(metPrereqs)/float64(totalPrereqs)*0.3
	}

	return Prediction{
		Phase:          phase,
		Probability:    prob,
		Confidence:     min1(float64(total) / confidenceDivisor),
		Basis:          "pattern_matching",
		Observations:   total,
		SuccessMatches: successMatches,
		FailureMatches: failureMatches,
	}
}

func countMatches(recent Pattern, patterns []Pattern) int {
	n := 0
	for _, p := range patterns {
		if Jaccard(recent, p) > similarityThreshold {
			n++
		}
	}
	return n
}

// Jaccard is the set similarity of two phase tuples: |A∩B| / |A∪B|.
// Identical tuples score 1.0, disjoint tuples 0.0, empty tuples 0.0.
func Jaccard(a, b Pattern) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// AnalyzeDependencies derives, per target phase, the dependencies the data
// currently supports: "sequential" edges with at least minTransitionObs
// observations and a success rate above sequentialRate, and "prerequisite"
// phases appearing in more than half the target's success patterns.
func (e *Engine) AnalyzeDependencies() map[string][]Dependency {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dependenciesLocked()
}

func (e *Engine) dependenciesLocked() map[string][]Dependency {
	deps := make(map[string][]Dependency)

	keys := make([]transitionKey, 0, len(e.transitions))
	for k := range e.transitions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Prev != keys[j].Prev {
			return keys[i].Prev < keys[j].Prev
		}
		return keys[i].Next < keys[j].Next
	})
	for _, k := range keys {
		stats := e.transitions[k]
		if stats.Total < minTransitionObs {
			continue
		}
		if rate := stats.successRate(); rate > sequentialRate {
			deps[k.Next] = append(deps[k.Next], Dependency{
				Source:       k.Prev,
				Target:       k.Next,
				Type:         "sequential",
				Strength:     rate,
				Observations: stats.Total,
			})
		}
	}

	phases := make([]string, 0, len(e.successPatterns))
	for phase := range e.successPatterns {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		patterns := e.successPatterns[phase]
		if len(patterns) < minTransitionObs {
			continue
		}
		counts := make(map[string]int)
		for _, p := range patterns {
			for _, name := range p {
				counts[name]++
			}
		}
		for _, name := range topPhases(counts, 3) {
			share := float64(counts[name]) / float64(len(patterns))
			if share > prerequisiteShare {
				deps[phase] = append(deps[phase], Dependency{
					Source:       name,
					Target:       phase,
					Type:         "prerequisite",
					Strength:     share,
					Observations: counts[name],
				})
			}
		}
	}
	return deps
}

// topPhases returns up to n phase names by descending count, name ascending
// on ties for stable output.
func topPhases(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// RecommendSequence ranks candidate phases for the given objective labels.
// Score is probability*confidence, boosted 10% per satisfied dependency and
// cut to 70% when the phase already ran within the last three steps.
func (e *Engine) RecommendSequence(objectives []string, currentPhase string) []Recommendation {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make(map[string]struct{})
	for _, obj := range objectives {
		for _, phase := range objectivePhases[obj] {
			candidates[phase] = struct{}{}
		}
	}
	if len(candidates) == 0 {
		for _, phase := range []string{"planning", "coding", "qa"} {
			candidates[phase] = struct{}{}
		}
	}

	deps := e.dependenciesLocked()
	recent5 := e.recentPhasesLocked(recentWindow)
	recent3 := e.recentPhasesLocked(3)

	recs := make([]Recommendation, 0, len(candidates))
	for phase := range candidates {
		pred := e.predictLocked(phase)
		score := pred.Probability * pred.Confidence

		met := 0
		for _, dep := range deps[phase] {
			if contains(recent5, dep.Source) {
				met++
			}
		}
		if met > 0 {
			score *= 1.0 + 0.1*float64(met)
		}
		if contains(recent3, phase) {
			score *= recentPenalty
		}

		recs = append(recs, Recommendation{
			Phase:        phase,
			Score:        score,
			Probability:  pred.Probability,
			Confidence:   pred.Confidence,
			Dependencies: deps[phase],
			Rationale:    rationale(pred, deps[phase], met, contains(recent3, phase)),
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Phase < recs[j].Phase
	})
	return recs
}

func rationale(pred Prediction, deps []Dependency, met int, recentlyRun bool) string {
	var parts []string
	switch {
	case pred.Probability > 0.8:
		parts = append(parts, fmt.Sprintf("high success probability (%.0f%%)", pred.Probability*100))
	case pred.Probability > 0.6:
		parts = append(parts, fmt.Sprintf("good success probability (%.0f%%)", pred.Probability*100))
	default:
		parts = append(parts, fmt.Sprintf("moderate success probability (%.0f%%)", pred.Probability*100))
	}
	if len(deps) > 0 {
		if met == len(deps) {
			parts = append(parts, "all prerequisites met")
		} else if met > 0 {
			parts = append(parts, fmt.Sprintf("%d/%d prerequisites met", met, len(deps)))
		}
	}
	if !recentlyRun {
		parts = append(parts, "not recently executed")
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// PairCorrelation returns the discovered correlation between two phases, if
// any. The pair is unordered.
func (e *Engine) PairCorrelation(phaseA, phaseB string) (Correlation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.correlations[pairKey(phaseA, phaseB)]
	return c, ok
}

func pairKey(a, b string) transitionKey {
	if b < a {
		a, b = b, a
	}
	return transitionKey{Prev: a, Next: b}
}

// analyzeCorrelationsLocked recomputes pairwise success correlations over
// sliding windows of the history.
func (e *Engine) analyzeCorrelationsLocked() {
	if len(e.history) < analyzeEvery {
		return
	}
	seen := make(map[string]struct{})
	phases := make([]string, 0, 8)
	for _, r := range e.history {
		if _, ok := seen[r.Phase]; !ok {
			seen[r.Phase] = struct{}{}
			phases = append(phases, r.Phase)
		}
	}
	sort.Strings(phases)

	for i, a := range phases {
		for _, b := range phases[i+1:] {
			e.analyzePairLocked(a, b)
		}
	}
}

func (e *Engine) analyzePairLocked(phaseA, phaseB string) {
	cooccurring := 0
	bothSucceed := 0
	for i := 0; i < len(e.history)-1; i++ {
		end := i + pairWindow
		if end > len(e.history) {
			end = len(e.history)
		}
		window := e.history[i:end]

		hasA, hasB := false, false
		allOK := true
		for _, r := range window {
			if r.Phase == phaseA {
				hasA = true
				if !r.Success {
					allOK = false
				}
			}
			if r.Phase == phaseB {
				hasB = true
				if !r.Success {
					allOK = false
				}
			}
		}
		if hasA && hasB {
			cooccurring++
			if allOK {
				bothSucceed++
			}
		}
	}
	if cooccurring < minPairObs {
		return
	}
	strength := float64(bothSucceed) / float64(cooccurring)
	if strength > correlationCutoff {
		e.correlations[pairKey(phaseA, phaseB)] = Correlation{
			PhaseA:    phaseA,
			PhaseB:    phaseB,
			Type:      "success_correlation",
			Strength:  strength,
			Evidence:  cooccurring,
			Timestamp: time.Now(),
		}
		e.log.Debug("discovered phase correlation",
			zap.String("phase_a", phaseA),
			zap.String("phase_b", phaseB),
			zap.Float64("strength", strength),
		)
	}
}

// PhaseStatistics summarizes the engine's view of one phase.
func (e *Engine) PhaseStatistics(phase string) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	total, successes := 0, 0
	preds := make(map[string]int)
	succs := make(map[string]int)
	for i, r := range e.history {
		if r.Phase != phase {
			continue
		}
		total++
		if r.Success {
			successes++
		}
		if i > 0 {
			preds[e.history[i-1].Phase]++
		}
		if i < len(e.history)-1 {
			succs[e.history[i+1].Phase]++
		}
	}
	stats := map[string]any{
		"phase":            phase,
		"total_executions": total,
	}
	if total > 0 {
		stats["successes"] = successes
		stats["failures"] = total - successes
		stats["success_rate"] = float64(successes) / float64(total)
		stats["common_predecessors"] = topPhases(preds, 3)
		stats["common_successors"] = topPhases(succs, 3)
	} else {
		stats["success_rate"] = 0.0
	}
	return stats
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
