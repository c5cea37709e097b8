// Command autonomy runs the self-directing pipeline: it selects phases,
// invokes the external agent, tracks per-phase health and breaks loops.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/config"
	"github.com/justmebob123/autonomy-sub005/internal/logging"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "autonomy",
		Short:         "Autonomous multi-phase pipeline controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML)")

	root.AddCommand(newRunCmd(), newStatusCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger, the shared preamble of
// every subcommand.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
