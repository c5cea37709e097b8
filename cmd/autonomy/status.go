package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/justmebob123/autonomy-sub005/internal/state"
)

func newStatusCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored runs and per-phase results",
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
				runs, err := st.ListRuns()
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No runs recorded.")
					return nil
				}
				for _, r := range runs {
					fmt.Printf("%-40s  updated %s\n", r.ID, r.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			}

			blob, err := st.LoadState(runID)
			if err != nil {
				return err
			}
			states := state.NewManager(runID, log)
			if err := states.Deserialize(blob); err != nil {
				return err
			}
			for k, v := range states.Summary() {
				fmt.Printf("%-20s %v\n", k, v)
			}

			phaseRuns, err := st.ListPhaseRuns(runID, 20)
			if err != nil {
				return err
			}
			if len(phaseRuns) > 0 {
				fmt.Println("\nRecent phase runs (newest first):")
				for _, pr := range phaseRuns {
					status := "ok"
					if !pr.Success {
						status = "FAIL"
					}
					fmt.Printf("  %-15s %-5s %8s  %s\n", pr.Phase, status, pr.Duration.Round(time.Millisecond), pr.Message)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "show details for one run")
	return cmd
}
