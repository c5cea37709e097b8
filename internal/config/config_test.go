package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".autonomy/pipeline.db", cfg.Database)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Loop.MaxConsecutiveFails)
	assert.Equal(t, 0.3, cfg.Loop.MinSuccessRate)
	assert.Equal(t, 0.9, cfg.Health.BlockedError)
	assert.Equal(t, 0.75, cfg.Health.Critical)
	assert.Equal(t, 0.5, cfg.Health.Degrading)
	assert.Equal(t, 0.25, cfg.Health.Weights["error"])
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: /tmp/test.db
log:
  level: debug
  format: json
agent:
  command: my-agent
  scripted: true
loop:
  max_iterations: 25
health:
  critical: 0.8
server:
  enabled: true
  addr: 0.0.0.0:9000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.True(t, cfg.Agent.Scripted)
	assert.Equal(t, 25, cfg.Loop.MaxIterations)
	assert.Equal(t, 0.8, cfg.Health.Critical)
	// untouched values keep their defaults
	assert.Equal(t, 3, cfg.Loop.MaxNoUpdate)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AUTONOMY_LOG_LEVEL", "warn")
	t.Setenv("AUTONOMY_LOOP_MAX_ITERATIONS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"inverted health cutoffs": "health:\n  critical: 0.4\n  degrading: 0.6\n",
		"bad blocked error":       "health:\n  blocked_error: 1.5\n",
		"negative weight":         "health:\n  weights:\n    error: -0.1\n",
		"bad success rate":        "loop:\n  min_success_rate: 2.0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "autonomy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestMissingFileIsError(t *testing.T) {
	_, err := Load("/nonexistent/autonomy.yaml")
	assert.Error(t, err)
}
