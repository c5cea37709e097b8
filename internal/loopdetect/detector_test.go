package loopdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/justmebob123/autonomy-sub005/internal/state"
)

func setup(outcomes ...bool) (*Detector, *state.Manager) {
	m := state.NewManager("run-test", nil)
	for _, ok := range outcomes {
		m.RecordRun("coding", ok, "", nil, nil)
	}
	return New(m, Thresholds{}, nil), m
}

func TestCascadeCases(t *testing.T) {
	cases := []struct {
		name     string
		outcomes []bool
		want     bool
	}{
		{"all failures", []bool{false, false, false, false, false}, true},
		{"recovering streak", []bool{false, false, false, true, true}, false},
		{"trailing failures", []bool{true, true, false, false, false}, true},
		{"oscillating", []bool{true, false, true, false, true}, true},
		{"single recent failure", []bool{true, true, true, true, false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _ := setup(tc.outcomes...)
			forced, reason := d.ShouldForceTransition("coding")
			assert.Equal(t, tc.want, forced, "reason: %s", reason)
		})
	}
}

func TestRecentProgressOverridesEverything(t *testing.T) {
	m := state.NewManager("run-test", nil)
	// a terrible history, then one success that modified files
	for i := 0; i < 6; i++ {
		m.RecordRun("coding", false, "", nil, nil)
	}
	m.RecordRun("coding", true, "task-1", nil, []string{"main.go"})
	for i := 0; i < 3; i++ {
		m.IncrementNoUpdate("coding")
	}

	d := New(m, Thresholds{}, nil)
	forced, reason := d.ShouldForceTransition("coding")
	assert.False(t, forced)
	assert.Equal(t, "recent progress", reason)
	assert.Zero(t, m.GetPhaseState("coding").NoUpdateCount, "progress resets the counter")
}

func TestNoUpdateCountForces(t *testing.T) {
	d, m := setup(true, true)
	for i := 0; i < 3; i++ {
		m.IncrementNoUpdate("coding")
	}
	forced, reason := d.ShouldForceTransition("coding")
	assert.True(t, forced)
	assert.Equal(t, "no updates", reason)
}

func TestImprovingOverridesAggregateRate(t *testing.T) {
	// older half all failures, recent half all successes: aggregate 0.5 but
	// improving, so the low-rate rule never gets a say
	d, _ := setup(false, false, false, false, false, true, true, true, true, true)
	forced, reason := d.ShouldForceTransition("coding")
	assert.False(t, forced)
	assert.Equal(t, "improving", reason)
}

func TestLowAggregateRateForces(t *testing.T) {
	// one success then mostly failures, but never 3 trailing failures and
	// fewer flips than the oscillation threshold
	d, _ := setup(false, false, true, false, false)
	forced, reason := d.ShouldForceTransition("coding")
	assert.True(t, forced)
	assert.Equal(t, "low success rate", reason)
}

func TestEmptyHistoryDoesNotForce(t *testing.T) {
	d, _ := setup()
	forced, _ := d.ShouldForceTransition("coding")
	assert.False(t, forced)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		outcomes []bool
		want     Trend
	}{
		{"oscillating", []bool{true, false, true, false, true, false}, TrendOscillating},
		{"improving", []bool{false, false, false, false, false, true, true, true, true, true}, TrendImproving},
		{"degrading", []bool{true, true, true, true, true, true, true, false, false, true}, TrendDegrading},
		{"stable", []bool{true, true, true}, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _ := setup(tc.outcomes...)
			assert.Equal(t, tc.want, d.Classify("coding"))
		})
	}
}
