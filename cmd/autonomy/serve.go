package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/correlate"
	"github.com/justmebob123/autonomy-sub005/internal/objective"
	"github.com/justmebob123/autonomy-sub005/internal/server"
	"github.com/justmebob123/autonomy-sub005/internal/state"
	"github.com/justmebob123/autonomy-sub005/internal/store"
)

func newServeCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API over a stored run, without running the loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if runID == "" {
				runID, err = st.LatestRunID()
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no stored runs to serve")
					}
					return err
				}
			}

			states := state.NewManager(runID, log)
			engine := correlate.New(log)
			if err := restoreRun(st, runID, states, engine); err != nil {
				return err
			}
			objectives := objective.New(states, engine, objective.Thresholds{
				BlockedError: cfg.Health.BlockedError,
				Critical:     cfg.Health.Critical,
				Degrading:    cfg.Health.Degrading,
				Weights:      state.WeightsFromMap(cfg.Health.Weights),
			}, log)

			srv := server.New(states, objectives, bus.New(log), st, log)
			defer srv.Close()
			return srv.Start(cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to serve (default: most recent)")
	return cmd
}
