package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/agent"
	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/config"
	"github.com/justmebob123/autonomy-sub005/internal/coordinator"
	"github.com/justmebob123/autonomy-sub005/internal/correlate"
	"github.com/justmebob123/autonomy-sub005/internal/loopdetect"
	"github.com/justmebob123/autonomy-sub005/internal/objective"
	"github.com/justmebob123/autonomy-sub005/internal/server"
	"github.com/justmebob123/autonomy-sub005/internal/state"
	"github.com/justmebob123/autonomy-sub005/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		runID    string
		resume   bool
		manifest string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start (or resume) the pipeline loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if manifest != "" {
				cfg.Manifest = manifest
			}
			return runPipeline(cfg, log, runID, resume)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: generated)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the most recent run")
	cmd.Flags().StringVar(&manifest, "manifest", "", "objective manifest (overrides config)")
	return cmd
}

func runPipeline(cfg *config.Config, log *zap.Logger, runID string, resume bool) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if resume {
		latest, err := st.LatestRunID()
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		runID = latest
	} else if runID == "" {
		runID = uuid.New().String()
	}

	b := bus.New(log)
	states := state.NewManager(runID, log)
	engine := correlate.New(log)

	if resume {
		if err := restoreRun(st, runID, states, engine); err != nil {
			return err
		}
		log.Info("resumed run", zap.String("run_id", runID))
	}

	detector := loopdetect.New(states, loopdetect.Thresholds{
		MaxNoUpdate:         cfg.Loop.MaxNoUpdate,
		ImprovingWindow:     cfg.Loop.ImprovingWindow,
		MaxConsecutiveFails: cfg.Loop.MaxConsecutiveFails,
		OscillationFlips:    cfg.Loop.OscillationFlips,
		MinRunsForRate:      cfg.Loop.MinRunsForRate,
		MinSuccessRate:      cfg.Loop.MinSuccessRate,
	}, log)
	objectives := objective.New(states, engine, objective.Thresholds{
		BlockedError: cfg.Health.BlockedError,
		Critical:     cfg.Health.Critical,
		Degrading:    cfg.Health.Degrading,
		Weights:      state.WeightsFromMap(cfg.Health.Weights),
	}, log)

	if cfg.Manifest != "" {
		m, err := objective.LoadManifest(cfg.Manifest)
		if err != nil {
			return err
		}
		ids := m.Seed(states)
		log.Info("seeded objectives", zap.Int("count", len(ids)))
	}

	coord := coordinator.New(states, b, detector, engine, objectives, st, coordinator.Options{
		MaxIterations: cfg.Loop.MaxIterations,
		IdleThreshold: cfg.Loop.IdleThreshold,
	}, log)
	registerRunners(coord, cfg, b, log)

	if cfg.Server.Enabled {
		srv := server.New(states, objectives, b, st, log)
		defer srv.Close()
		go func() {
			if err := srv.Start(cfg.Server.Addr); err != nil {
				log.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = coord.Run(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		log.Info("pipeline interrupted", zap.Int("iterations", coord.Iterations()))
		return nil
	}
	return err
}

// registerRunners installs one runner per work phase: the external agent
// command, or the scripted stand-in for dry runs.
func registerRunners(coord *coordinator.Coordinator, cfg *config.Config, b *bus.Bus, log *zap.Logger) {
	for _, phase := range coordinator.Phases {
		if cfg.Agent.Scripted {
			coord.RegisterPhase(agent.NewScriptedRunner(phase))
			continue
		}
		coord.RegisterPhase(agent.NewExecRunner(phase, agent.Config{
			Command: cfg.Agent.Command,
			Args:    cfg.Agent.Args,
			WorkDir: cfg.Agent.WorkDir,
		}, b, log))
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if dir := filepath.Dir(cfg.Database); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return store.NewSQLiteStore(cfg.Database)
}

// restoreRun loads persisted state and correlation history for runID. A run
// with no correlation blob yet is fine; a corrupt state blob is not.
func restoreRun(st store.Store, runID string, states *state.Manager, engine *correlate.Engine) error {
	blob, err := st.LoadState(runID)
	if err != nil {
		return fmt.Errorf("load state for %s: %w", runID, err)
	}
	if err := states.Deserialize(blob); err != nil {
		return err
	}
	data, err := st.LoadCorrelationData(runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load correlation data for %s: %w", runID, err)
	}
	return engine.UnmarshalData(data)
}
