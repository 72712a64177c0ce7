package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
)

// configEnv overrides the default config path when --config is not given.
const configEnv = "INDIPANEL_CONFIG"

// newRootCmd builds the command tree. Running without a subcommand serves.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "indipanel",
		Short: "INDI instrument-control bridge",
		Long: `indipanel connects to an INDI server (indiserver), mirrors its device
and property tree, saves image BLOBs under the images directory, and exposes
connect, disconnect, raw commands, imaging jobs, and state snapshots over an
HTTP and WebSocket API.

Configuration is read from --config, else $INDIPANEL_CONFIG, else
configs/config.yaml. A missing file at the default path runs on defaults.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newTokenCmd(&configPath))

	return root
}

// loadConfig resolves the config path and loads it. Only the implicit
// default path may be missing.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path, optional := flagPath, false
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		path, optional = config.DefaultPath, true
	}

	cfg, err := config.Load(path, optional)
	return cfg, path, err
}
