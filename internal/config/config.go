// Package config loads pipeline configuration from file, environment and
// defaults via viper. Everything the design leaves tunable lives here:
// loop-detection thresholds, health cutoffs and dimension weights.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Database string `mapstructure:"database"`
	Manifest string `mapstructure:"manifest"`
	Log      Log    `mapstructure:"log"`
	Agent    Agent  `mapstructure:"agent"`
	Loop     Loop   `mapstructure:"loop"`
	Health   Health `mapstructure:"health"`
	Server   Server `mapstructure:"server"`
}

// Log configures the logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Agent configures the external agent command.
type Agent struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"workdir"`
	// Scripted replaces the external agent with the built-in scripted
	// runner, for dry runs.
	Scripted bool `mapstructure:"scripted"`
}

// Loop tunes the control loop and the stuck-detection cascade.
type Loop struct {
	MaxIterations       int     `mapstructure:"max_iterations"`
	IdleThreshold       int     `mapstructure:"idle_threshold"`
	MaxNoUpdate         int     `mapstructure:"max_no_update"`
	ImprovingWindow     int     `mapstructure:"improving_window"`
	MaxConsecutiveFails int     `mapstructure:"max_consecutive_fails"`
	OscillationFlips    int     `mapstructure:"oscillation_flips"`
	MinRunsForRate      int     `mapstructure:"min_runs_for_rate"`
	MinSuccessRate      float64 `mapstructure:"min_success_rate"`
}

// Health tunes the 7D health classification. The exact weighting is a
// deliberate tunable, not a constant.
type Health struct {
	BlockedError float64            `mapstructure:"blocked_error"`
	Critical     float64            `mapstructure:"critical"`
	Degrading    float64            `mapstructure:"degrading"`
	Weights      map[string]float64 `mapstructure:"weights"`
}

// Server configures the HTTP/websocket endpoint.
type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", ".autonomy/pipeline.db")
	v.SetDefault("manifest", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("agent.command", "agent")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.workdir", "")
	v.SetDefault("agent.scripted", false)

	v.SetDefault("loop.max_iterations", 0)
	v.SetDefault("loop.idle_threshold", 3)
	v.SetDefault("loop.max_no_update", 3)
	v.SetDefault("loop.improving_window", 5)
	v.SetDefault("loop.max_consecutive_fails", 3)
	v.SetDefault("loop.oscillation_flips", 3)
	v.SetDefault("loop.min_runs_for_rate", 3)
	v.SetDefault("loop.min_success_rate", 0.3)

	v.SetDefault("health.blocked_error", 0.9)
	v.SetDefault("health.critical", 0.75)
	v.SetDefault("health.degrading", 0.5)
	v.SetDefault("health.weights", map[string]float64{
		"temporal":    0.20,
		"functional":  0.11,
		"data":        0.11,
		"state":       0.11,
		"error":       0.25,
		"context":     0.11,
		"integration": 0.11,
	})

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:8780")
}

// Load reads configuration. path may be empty, in which case only defaults
// and AUTONOMY_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTONOMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Health.BlockedError <= 0 || c.Health.BlockedError > 1 {
		return fmt.Errorf("config: health.blocked_error must be in (0,1], got %v", c.Health.BlockedError)
	}
	if c.Health.Critical <= c.Health.Degrading {
		return fmt.Errorf("config: health.critical (%v) must exceed health.degrading (%v)",
			c.Health.Critical, c.Health.Degrading)
	}
	for name, w := range c.Health.Weights {
		if w < 0 {
			return fmt.Errorf("config: health.weights.%s is negative", name)
		}
	}
	if c.Loop.MinSuccessRate < 0 || c.Loop.MinSuccessRate > 1 {
		return fmt.Errorf("config: loop.min_success_rate must be in [0,1], got %v", c.Loop.MinSuccessRate)
	}
	return nil
}
