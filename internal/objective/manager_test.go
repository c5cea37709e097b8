package objective

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justmebob123/autonomy-sub005/internal/correlate"
	"github.com/justmebob123/autonomy-sub005/internal/state"
)

func newManager(t *testing.T) (*Manager, *state.Manager) {
	t.Helper()
	states := state.NewManager("run-test", nil)
	return New(states, correlate.New(nil), Thresholds{}, nil), states
}

func TestCalculateProfileInRange(t *testing.T) {
	m, _ := newManager(t)
	obj := state.Objective{
		ID:          "o1",
		Description: "fix the error in the session cache store, integrate with the api service and document the setup",
		CreatedAt:   time.Now().Add(-30 * 24 * time.Hour),
	}
	p := m.CalculateProfile(obj)
	for i, v := range p {
		assert.GreaterOrEqual(t, v, 0.0, "dimension %d", i)
		assert.LessOrEqual(t, v, 1.0, "dimension %d", i)
	}
	// a month-old objective has saturated temporal pressure
	assert.Equal(t, 1.0, p[state.DimTemporal])
	// error, state, integration and context keywords are all present
	assert.Greater(t, p[state.DimError], 0.0)
	assert.Greater(t, p[state.DimState], 0.0)
	assert.Greater(t, p[state.DimIntegration], 0.0)
	assert.Greater(t, p[state.DimContext], 0.0)
}

func TestHintsOverrideDerivedProfile(t *testing.T) {
	m, _ := newManager(t)
	obj := state.Objective{
		ID:          "o1",
		Description: "plain work item",
		CreatedAt:   time.Now(),
		Profile:     state.Profile{0, 0, 0.8, 0, 0, 0, 0},
	}
	p := m.CalculateProfile(obj)
	assert.Equal(t, 0.8, p[state.DimData])
}

func TestAnalyzeHealth(t *testing.T) {
	m, _ := newManager(t)
	cases := []struct {
		name    string
		profile state.Profile
		want    Health
	}{
		{"all calm", state.Profile{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}, Healthy},
		{"elevated", state.Profile{0.6, 0.5, 0.5, 0.5, 0.6, 0.5, 0.5}, Degrading},
		{"severe", state.Profile{0.9, 0.8, 0.8, 0.8, 0.8, 0.8, 0.8}, Critical},
		{"error saturated", state.Profile{0.1, 0.1, 0.1, 0.1, 0.95, 0.1, 0.1}, Blocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.AnalyzeHealth(tc.profile))
		})
	}
}

func TestFindOptimalObjectivePrefersWorstNotBlocked(t *testing.T) {
	m, states := newManager(t)
	now := time.Now()
	states.AddObjective(&state.Objective{
		ID: "healthy", Description: "tidy up naming",
		Profile:   state.Profile{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1},
		CreatedAt: now.Add(-3 * time.Hour),
	})
	states.AddObjective(&state.Objective{
		ID: "critical", Description: "stabilize the release",
		Profile:   state.Profile{0.9, 0.8, 0.8, 0.8, 0.85, 0.8, 0.8},
		CreatedAt: now.Add(-2 * time.Hour),
	})
	states.AddObjective(&state.Objective{
		ID: "blocked", Description: "unreachable work",
		Profile:   state.Profile{0.9, 0.9, 0.9, 0.9, 0.95, 0.9, 0.9},
		CreatedAt: now.Add(-1 * time.Hour),
	})

	best, ok := m.FindOptimalObjective()
	require.True(t, ok)
	assert.Equal(t, "critical", best.Objective.ID, "worst health wins, blocked excluded")
}

func TestFindOptimalObjectiveTieBreaksOldest(t *testing.T) {
	m, states := newManager(t)
	now := time.Now()
	profile := state.Profile{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	states.AddObjective(&state.Objective{
		ID: "newer", Description: "later item", Profile: profile, CreatedAt: now,
	})
	states.AddObjective(&state.Objective{
		ID: "older", Description: "earlier item", Profile: profile, CreatedAt: now.Add(-time.Hour),
	})

	best, ok := m.FindOptimalObjective()
	require.True(t, ok)
	assert.Equal(t, "older", best.Objective.ID)
}

func TestFindOptimalObjectiveAllBlocked(t *testing.T) {
	m, states := newManager(t)
	states.AddObjective(&state.Objective{
		ID: "blocked", Description: "stuck",
		Profile:   state.Profile{0.9, 0.9, 0.9, 0.9, 0.95, 0.9, 0.9},
		CreatedAt: time.Now(),
	})
	_, ok := m.FindOptimalObjective()
	assert.False(t, ok)
}

func TestNextPhaseStrategic(t *testing.T) {
	m, states := newManager(t)
	states.AddObjective(&state.Objective{
		ID: "o1", Description: "work item",
		// error is the worst dimension: strategic mode routes to debugging
		Profile:   state.Profile{0.2, 0.2, 0.2, 0.2, 0.8, 0.2, 0.2},
		CreatedAt: time.Now(),
	})

	d := m.NextPhase("coding")
	assert.Equal(t, "strategic", d.Mode)
	assert.Equal(t, "debugging", d.Phase)
	assert.Equal(t, "o1", d.ObjectiveID)
}

func TestNextPhaseTacticalFallback(t *testing.T) {
	m, _ := newManager(t)

	d := m.NextPhase("planning")
	assert.Equal(t, "tactical", d.Mode)
	assert.Equal(t, "coding", d.Phase, "rotation continues after the current phase")

	d = m.NextPhase("documentation")
	assert.Equal(t, "planning", d.Phase, "rotation wraps around")

	d = m.NextPhase("unknown-phase")
	assert.Equal(t, "planning", d.Phase, "unknown current phase starts at the top")
}

func TestNextPhaseTacticalSkipsFailingPhase(t *testing.T) {
	m, states := newManager(t)
	for i := 0; i < 3; i++ {
		states.RecordRun("coding", false, "", nil, nil)
	}
	d := m.NextPhase("planning")
	assert.Equal(t, "qa", d.Phase, "a phase with a failure streak is skipped")
}

func TestNextPhaseTacticalAlwaysAnswers(t *testing.T) {
	m, states := newManager(t)
	for _, phase := range tacticalOrder {
		for i := 0; i < 3; i++ {
			states.RecordRun(phase, false, "", nil, nil)
		}
	}
	d := m.NextPhase("planning")
	assert.NotEmpty(t, d.Phase, "tactical mode must never fail to choose")
	assert.Equal(t, "tactical", d.Mode)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objectives.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
objectives:
  - id: obj-1
    description: implement the importer
    hints:
      data: 0.7
  - description: fix startup crash
`), 0o644))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, manifest.Objectives, 2)

	states := state.NewManager("run-test", nil)
	ids := manifest.Seed(states)
	require.Len(t, ids, 2)
	assert.Equal(t, "obj-1", ids[0])
	assert.NotEmpty(t, ids[1], "missing ID is generated")

	open := states.OpenObjectives()
	require.Len(t, open, 2)
	assert.Equal(t, 0.7, open[0].Profile[state.DimData])
}

func TestLoadManifestRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing description": "objectives:\n  - id: x\n",
		"unknown dimension":   "objectives:\n  - description: ok\n    hints:\n      bogus: 0.5\n",
		"out of range hint":   "objectives:\n  - description: ok\n    hints:\n      error: 1.5\n",
		"not yaml":            "objectives: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "m.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadManifest(path)
			assert.Error(t, err)
		})
	}
}
