// Package cmd implements the CLI commands of segindex.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mediaindex/internal/config"
	"mediaindex/internal/logger"
)

// app is the state shared by the commands once the configuration is read.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  logger.Logger
}

// Execute runs the root command.
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "segindex",
		Short: "Segment index engine for DASH and Smooth streams",
		Long: `segindex builds segment indexes from DASH MPDs and Smooth timelines.

It serves live HLS playlists of the configured DASH channels, refreshing
their manifests as the origin publishes them, and inspects local manifests
and fixtures offline.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd)
	}

	// The logging flags are not bound to viper so that they only override
	// the configuration when set.
	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./segindex.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")

	rootCmd.AddCommand(
		newServeCmd(a),
		newSegmentsCmd(a),
		newPlaylistCmd(a),
		newMergeCmd(a),
		newSmoothCmd(a),
	)
	return rootCmd
}

// setup loads the configuration and sets up the logger. Flags take
// precedence over the environment, which takes precedence over the file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	a.cfg = cfg
	a.logger = logger.NewWithWriter(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return nil
}
