package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zeusync/entsim/internal/core/config"
)

var configPath string // Path to a YAML config file

var rootCmd = &cobra.Command{
	Use:           "entsim",
	Short:         "Entity simulation runtime",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves defaults, the optional file and ENTSIM_* overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.AddCommand(runCmd, configCmd)
}
