// Package loopdetect classifies a phase's run history and decides when the
// coordinator must force a transition away from a stuck phase.
package loopdetect

import (
	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/state"
)

// Thresholds tunes the detection cascade. Zero values are replaced with the
// defaults from DefaultThresholds.
type Thresholds struct {
	MaxNoUpdate         int     // forced after this many no-progress runs
	ImprovingWindow     int     // half-window for the improving comparison
	MaxConsecutiveFails int     // forced after this many trailing failures
	OscillationFlips    int     // flips among the last 2*n records
	MinRunsForRate      int     // aggregate-rate rule needs at least this many runs
	MinSuccessRate      float64 // forced below this aggregate rate
}

// DefaultThresholds returns the standard cascade tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxNoUpdate:         3,
		ImprovingWindow:     5,
		MaxConsecutiveFails: 3,
		OscillationFlips:    3,
		MinRunsForRate:      3,
		MinSuccessRate:      0.3,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxNoUpdate <= 0 {
		t.MaxNoUpdate = d.MaxNoUpdate
	}
	if t.ImprovingWindow <= 0 {
		t.ImprovingWindow = d.ImprovingWindow
	}
	if t.MaxConsecutiveFails <= 0 {
		t.MaxConsecutiveFails = d.MaxConsecutiveFails
	}
	if t.OscillationFlips <= 0 {
		t.OscillationFlips = d.OscillationFlips
	}
	if t.MinRunsForRate <= 0 {
		t.MinRunsForRate = d.MinRunsForRate
	}
	if t.MinSuccessRate <= 0 {
		t.MinSuccessRate = d.MinSuccessRate
	}
	return t
}

// Trend is a coarse classification of a phase's recent history.
type Trend string

const (
	TrendImproving   Trend = "improving"
	TrendDegrading   Trend = "degrading"
	TrendOscillating Trend = "oscillating"
	TrendStuck       Trend = "stuck"
	TrendStable      Trend = "stable"
)

// Detector evaluates phase histories against the cascade. It reads and
// resets counters through the state manager.
type Detector struct {
	states     *state.Manager
	thresholds Thresholds
	log        *zap.Logger
}

// New creates a detector over the given state manager.
func New(states *state.Manager, thresholds Thresholds, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		states:     states,
		thresholds: thresholds.withDefaults(),
		log:        log,
	}
}

// ShouldForceTransition runs the detection cascade over the phase's history.
// The rule order is contractual: earlier rules override later ones, so an
// improving phase is never forced out by its aggregate rate, and a phase
// whose latest run made real progress is never forced out at all. The reason
// string names the rule that fired.
func (d *Detector) ShouldForceTransition(phase string) (bool, string) {
	ps := d.states.GetPhaseState(phase)
	th := d.thresholds

	// 1. Latest run succeeded and changed files: progress, clear the
	// no-progress counter.
	if last, ok := lastRecord(ps); ok && last.Success && hasFileChanges(last) {
		d.states.ResetNoUpdate(phase)
		return false, "recent progress"
	}

	// 2. Too many runs without progress.
	if ps.NoUpdateCount >= th.MaxNoUpdate {
		d.log.Info("forcing transition: no progress",
			zap.String("phase", phase),
			zap.Int("no_update_count", ps.NoUpdateCount),
		)
		return true, "no updates"
	}

	// 3. A genuinely improving phase is left alone.
	if ps.IsImproving(th.ImprovingWindow) {
		return false, "improving"
	}

	// 4. Hard failure streak.
	if ps.ConsecutiveFailures() >= th.MaxConsecutiveFails {
		d.log.Info("forcing transition: failure streak",
			zap.String("phase", phase),
			zap.Int("consecutive_failures", ps.ConsecutiveFailures()),
		)
		return true, "consecutive failures"
	}

	// 5. Flip-flopping between success and failure.
	if ps.IsOscillating(th.OscillationFlips) {
		d.log.Info("forcing transition: oscillating", zap.String("phase", phase))
		return true, "oscillating"
	}

	// 6. Persistently low aggregate rate.
	if ps.Runs >= th.MinRunsForRate && ps.SuccessRate() < th.MinSuccessRate {
		d.log.Info("forcing transition: low success rate",
			zap.String("phase", phase),
			zap.Float64("success_rate", ps.SuccessRate()),
		)
		return true, "low success rate"
	}

	return false, "progressing"
}

// Classify reports the phase's coarse trend for status output. It shares
// helpers with the cascade but has no side effects.
func (d *Detector) Classify(phase string) Trend {
	ps := d.states.GetPhaseState(phase)
	th := d.thresholds

	switch {
	case ps.IsOscillating(th.OscillationFlips):
		return TrendOscillating
	case ps.IsImproving(th.ImprovingWindow):
		return TrendImproving
	case ps.IsDegrading(th.ImprovingWindow):
		return TrendDegrading
	case ps.ConsecutiveFailures() >= th.MaxConsecutiveFails || ps.NoUpdateCount >= th.MaxNoUpdate:
		return TrendStuck
	default:
		return TrendStable
	}
}

func lastRecord(ps state.PhaseState) (state.PhaseRunRecord, bool) {
	if len(ps.RunHistory) == 0 {
		return state.PhaseRunRecord{}, false
	}
	return ps.RunHistory[len(ps.RunHistory)-1], true
}

func hasFileChanges(rec state.PhaseRunRecord) bool {
	return len(rec.FilesCreated) > 0 || len(rec.FilesModified) > 0
}
