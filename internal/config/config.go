// Package config handles configuration loading and management for taskpilot.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// ProjectConfigName is the per-project override file searched for upward
// from the working directory.
const ProjectConfigName = ".taskpilot.yaml"

// Config holds all configuration for taskpilot.
type Config struct {
	Provider     ProviderConfig     `mapstructure:"provider"`
	Modes        ModesConfig        `mapstructure:"modes"`
	Mode         string             `mapstructure:"mode"`
	WorkDir      string             `mapstructure:"work_dir"`
	AutoApproval AutoApprovalConfig `mapstructure:"auto_approval"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	Limits       LimitsConfig       `mapstructure:"limits"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ProviderConfig selects the language-model provider.
type ProviderConfig struct {
	Name          string `mapstructure:"name"`
	Model         string `mapstructure:"model"`
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
	ContextWindow int    `mapstructure:"context_window"`
	MaxTokens     int    `mapstructure:"max_tokens"`
}

// ModesConfig holds per-mode overrides.
type ModesConfig struct {
	Plan ModeConfig `mapstructure:"plan"`
	Act  ModeConfig `mapstructure:"act"`
}

// ModeConfig overrides provider settings for one mode.
type ModeConfig struct {
	// Model replaces provider.model when set.
	Model string `mapstructure:"model"`
}

// AutoApprovalConfig controls which tool calls run without confirmation.
type AutoApprovalConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Tools              []string `mapstructure:"tools"`
	AllowRiskyCommands bool     `mapstructure:"allow_risky_commands"`
	// MaxRequests caps consecutive auto-approved calls (0 = no cap).
	MaxRequests       int    `mapstructure:"max_requests"`
	RiskyPatternsFile string `mapstructure:"risky_patterns_file"`
}

// CapabilitiesConfig locates the capability server settings.
type CapabilitiesConfig struct {
	SettingsFile string `mapstructure:"settings_file"`
	Watch        bool   `mapstructure:"watch"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	// BlockWait bounds how long a turn waits for its blocks to finish presenting.
	BlockWait time.Duration `mapstructure:"block_wait"`
	Command   time.Duration `mapstructure:"command"`
}

// LimitsConfig bounds a task's loop.
type LimitsConfig struct {
	MaxConsecutiveMistakes int `mapstructure:"max_consecutive_mistakes"`
	MaxContextRetries      int `mapstructure:"max_context_retries"`
	// MaxRequests caps provider requests per task (0 = unlimited).
	MaxRequests int `mapstructure:"max_requests"`
}

// LoggingConfig holds debug log settings. An empty File disables logging.
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// LedgerConfig holds the event ledger location. An empty Path disables it.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, TASKPILOT_*)
// 2. Project config (.taskpilot.yaml in current directory or parent)
// 3. User config (~/.config/taskpilot/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Provider.APIKey = expandEnv(cfg.Provider.APIKey)
	cfg.Capabilities.SettingsFile = expandPath(cfg.Capabilities.SettingsFile)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Ledger.Path = expandPath(cfg.Ledger.Path)
	cfg.AutoApproval.RiskyPatternsFile = expandPath(cfg.AutoApproval.RiskyPatternsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if !models.Mode(c.Mode).Valid() {
		return fmt.Errorf("invalid mode %q: expected plan or act", c.Mode)
	}
	if c.Timeouts.BlockWait <= 0 {
		return fmt.Errorf("timeouts.block_wait must be positive")
	}
	if c.Limits.MaxConsecutiveMistakes < 1 {
		return fmt.Errorf("limits.max_consecutive_mistakes must be at least 1")
	}
	if c.Limits.MaxContextRetries < 0 || c.Limits.MaxRequests < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// ModelFor returns the model used in mode.
func (c *Config) ModelFor(mode models.Mode) string {
	var override string
	switch mode {
	case models.ModePlan:
		override = c.Modes.Plan.Model
	case models.ModeAct:
		override = c.Modes.Act.Model
	}
	if override != "" {
		return override
	}
	return c.Provider.Model
}

// LLMConfig returns the provider config for mode. The API key is resolved
// with GetAPIKey; a missing key is left for the provider to reject.
func (c *Config) LLMConfig(mode models.Mode) llm.Config {
	key, _ := GetAPIKey(c)
	return llm.Config{
		Provider:      c.Provider.Name,
		Model:         c.ModelFor(mode),
		APIKey:        key,
		BaseURL:       c.Provider.BaseURL,
		AWSRegion:     c.Provider.AWSRegion,
		AWSProfile:    c.Provider.AWSProfile,
		ContextWindow: c.Provider.ContextWindow,
		MaxTokens:     c.Provider.MaxTokens,
	}
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(GetUserConfigPath())

	v.Set("provider.name", cfg.Provider.Name)
	v.Set("provider.model", cfg.Provider.Model)
	v.Set("provider.api_key", cfg.Provider.APIKey)
	v.Set("provider.base_url", cfg.Provider.BaseURL)
	v.Set("provider.aws_region", cfg.Provider.AWSRegion)
	v.Set("provider.aws_profile", cfg.Provider.AWSProfile)
	v.Set("provider.context_window", cfg.Provider.ContextWindow)
	v.Set("provider.max_tokens", cfg.Provider.MaxTokens)
	v.Set("modes.plan.model", cfg.Modes.Plan.Model)
	v.Set("modes.act.model", cfg.Modes.Act.Model)
	v.Set("mode", cfg.Mode)
	v.Set("work_dir", cfg.WorkDir)
	v.Set("auto_approval.enabled", cfg.AutoApproval.Enabled)
	v.Set("auto_approval.tools", cfg.AutoApproval.Tools)
	v.Set("auto_approval.allow_risky_commands", cfg.AutoApproval.AllowRiskyCommands)
	v.Set("auto_approval.max_requests", cfg.AutoApproval.MaxRequests)
	v.Set("auto_approval.risky_patterns_file", cfg.AutoApproval.RiskyPatternsFile)
	v.Set("capabilities.settings_file", cfg.Capabilities.SettingsFile)
	v.Set("capabilities.watch", cfg.Capabilities.Watch)
	v.Set("timeouts.block_wait", cfg.Timeouts.BlockWait.String())
	v.Set("timeouts.command", cfg.Timeouts.Command.String())
	v.Set("limits.max_consecutive_mistakes", cfg.Limits.MaxConsecutiveMistakes)
	v.Set("limits.max_context_retries", cfg.Limits.MaxContextRetries)
	v.Set("limits.max_requests", cfg.Limits.MaxRequests)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("ledger.path", cfg.Ledger.Path)
	v.Set("metrics.addr", cfg.Metrics.Addr)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultSettingsFile is the capability server settings file in the user config dir.
func DefaultSettingsFile() string {
	return filepath.Join(getUserConfigDir(), "mcp_settings.json")
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.aws_region", "")
	v.SetDefault("provider.aws_profile", "")
	v.SetDefault("provider.context_window", 0)
	v.SetDefault("provider.max_tokens", d.Provider.MaxTokens)

	v.SetDefault("modes.plan.model", "")
	v.SetDefault("modes.act.model", "")
	v.SetDefault("mode", d.Mode)
	v.SetDefault("work_dir", "")

	v.SetDefault("auto_approval.enabled", d.AutoApproval.Enabled)
	v.SetDefault("auto_approval.tools", d.AutoApproval.Tools)
	v.SetDefault("auto_approval.allow_risky_commands", false)
	v.SetDefault("auto_approval.max_requests", d.AutoApproval.MaxRequests)
	v.SetDefault("auto_approval.risky_patterns_file", "")

	v.SetDefault("capabilities.settings_file", d.Capabilities.SettingsFile)
	v.SetDefault("capabilities.watch", d.Capabilities.Watch)

	v.SetDefault("timeouts.block_wait", d.Timeouts.BlockWait.String())
	v.SetDefault("timeouts.command", d.Timeouts.Command.String())

	v.SetDefault("limits.max_consecutive_mistakes", d.Limits.MaxConsecutiveMistakes)
	v.SetDefault("limits.max_context_retries", d.Limits.MaxContextRetries)
	v.SetDefault("limits.max_requests", 0)

	v.SetDefault("logging.file", "")
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("ledger.path", "")
	v.SetDefault("metrics.addr", "")
}

// getUserConfigDir returns the XDG config directory for taskpilot.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskpilot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskpilot")
	}
	return filepath.Join(home, ".config", "taskpilot")
}

// findProjectConfig searches for .taskpilot.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands ${VAR} references and a leading ~/.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:      "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Mode: string(models.ModeAct),
		AutoApproval: AutoApprovalConfig{
			Tools:       []string{"read_file", "list_files"},
			MaxRequests: 20,
		},
		Capabilities: CapabilitiesConfig{
			SettingsFile: DefaultSettingsFile(),
			Watch:        true,
		},
		Timeouts: TimeoutsConfig{
			BlockWait: 5 * time.Minute,
			Command:   2 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxConsecutiveMistakes: 3,
			MaxContextRetries:      3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
