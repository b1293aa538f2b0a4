package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/config"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify taskpilot configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/taskpilot/config.yaml
Project-specific overrides can be placed in .taskpilot.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// configKeys lists the keys shown by `taskpilot config`, in order.
var configKeys = []string{
	"provider.name",
	"provider.model",
	"provider.api_key",
	"provider.base_url",
	"provider.context_window",
	"provider.max_tokens",
	"modes.plan.model",
	"modes.act.model",
	"mode",
	"work_dir",
	"auto_approval.enabled",
	"auto_approval.tools",
	"auto_approval.allow_risky_commands",
	"auto_approval.max_requests",
	"capabilities.settings_file",
	"capabilities.watch",
	"timeouts.block_wait",
	"timeouts.command",
	"limits.max_consecutive_mistakes",
	"limits.max_context_retries",
	"limits.max_requests",
	"logging.file",
	"logging.level",
	"ledger.path",
	"metrics.addr",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(out io.Writer, cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Fprintf(out, "%s: %s\n", key, value)
	}
	fmt.Fprintf(out, "\napi key source: %s\n", config.GetAPIKeySource(cfg))
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "provider.name":
		return cfg.Provider.Name, nil
	case "provider.model":
		return cfg.Provider.Model, nil
	case "provider.api_key":
		key, err := config.GetAPIKey(cfg)
		if err != nil || key == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(key), nil
	case "provider.base_url":
		return cfg.Provider.BaseURL, nil
	case "provider.context_window":
		return strconv.Itoa(cfg.Provider.ContextWindow), nil
	case "provider.max_tokens":
		return strconv.Itoa(cfg.Provider.MaxTokens), nil
	case "modes.plan.model":
		return cfg.ModelFor(models.ModePlan), nil
	case "modes.act.model":
		return cfg.ModelFor(models.ModeAct), nil
	case "mode":
		return cfg.Mode, nil
	case "work_dir":
		return cfg.WorkDir, nil
	case "auto_approval.enabled":
		return strconv.FormatBool(cfg.AutoApproval.Enabled), nil
	case "auto_approval.tools":
		return strings.Join(cfg.AutoApproval.Tools, ","), nil
	case "auto_approval.allow_risky_commands":
		return strconv.FormatBool(cfg.AutoApproval.AllowRiskyCommands), nil
	case "auto_approval.max_requests":
		return strconv.Itoa(cfg.AutoApproval.MaxRequests), nil
	case "capabilities.settings_file":
		return settingsPath(cfg), nil
	case "capabilities.watch":
		return strconv.FormatBool(cfg.Capabilities.Watch), nil
	case "timeouts.block_wait":
		return cfg.Timeouts.BlockWait.String(), nil
	case "timeouts.command":
		return cfg.Timeouts.Command.String(), nil
	case "limits.max_consecutive_mistakes":
		return strconv.Itoa(cfg.Limits.MaxConsecutiveMistakes), nil
	case "limits.max_context_retries":
		return strconv.Itoa(cfg.Limits.MaxContextRetries), nil
	case "limits.max_requests":
		return strconv.Itoa(cfg.Limits.MaxRequests), nil
	case "logging.file":
		return cfg.Logging.File, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "ledger.path":
		return cfg.Ledger.Path, nil
	case "metrics.addr":
		return cfg.Metrics.Addr, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key and
// validates the result.
func setConfigValue(cfg *config.Config, key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "provider.name":
		cfg.Provider.Name = value
	case "provider.model":
		cfg.Provider.Model = value
	case "provider.api_key":
		if err := config.ValidateAPIKey(cfg.Provider.Name, value); err != nil {
			return err
		}
		cfg.Provider.APIKey = value
	case "provider.base_url":
		cfg.Provider.BaseURL = value
	case "provider.context_window":
		cfg.Provider.ContextWindow, err = parseInt(key, value)
	case "provider.max_tokens":
		cfg.Provider.MaxTokens, err = parseInt(key, value)
	case "modes.plan.model":
		cfg.Modes.Plan.Model = value
	case "modes.act.model":
		cfg.Modes.Act.Model = value
	case "mode":
		cfg.Mode = value
	case "work_dir":
		cfg.WorkDir = value
	case "auto_approval.enabled":
		cfg.AutoApproval.Enabled, err = parseBool(key, value)
	case "auto_approval.tools":
		cfg.AutoApproval.Tools = splitList(value)
	case "auto_approval.allow_risky_commands":
		cfg.AutoApproval.AllowRiskyCommands, err = parseBool(key, value)
	case "auto_approval.max_requests":
		cfg.AutoApproval.MaxRequests, err = parseInt(key, value)
	case "capabilities.settings_file":
		cfg.Capabilities.SettingsFile = value
	case "capabilities.watch":
		cfg.Capabilities.Watch, err = parseBool(key, value)
	case "timeouts.block_wait":
		cfg.Timeouts.BlockWait, err = parseDuration(key, value)
	case "timeouts.command":
		cfg.Timeouts.Command, err = parseDuration(key, value)
	case "limits.max_consecutive_mistakes":
		cfg.Limits.MaxConsecutiveMistakes, err = parseInt(key, value)
	case "limits.max_context_retries":
		cfg.Limits.MaxContextRetries, err = parseInt(key, value)
	case "limits.max_requests":
		cfg.Limits.MaxRequests, err = parseInt(key, value)
	case "logging.file":
		cfg.Logging.File = value
	case "logging.level":
		cfg.Logging.Level = value
	case "ledger.path":
		cfg.Ledger.Path = value
	case "metrics.addr":
		cfg.Metrics.Addr = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	return b, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
