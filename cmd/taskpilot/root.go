package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Tool-using coding agent",
	Long: `taskpilot drives a language model through a task one tool call at a time.

The model reads and edits files, runs commands and calls tools exposed by
capability (MCP) servers until it signals completion. In plan mode only
read-only tools are available; act mode allows changes.

Configuration is read from ~/.config/taskpilot/config.yaml, a .taskpilot.yaml
found in the working directory or a parent, and TASKPILOT_* environment
variables.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Read configuration from this file only")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honors --config, falling back to the layered lookup.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
