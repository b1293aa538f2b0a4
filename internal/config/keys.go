package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when the selected provider needs a key and none is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// apiKeyEnv maps providers to the environment variable holding their key.
// Providers absent from the map authenticate another way.
var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// keyPrefixes are the expected key prefixes per provider.
var keyPrefixes = map[string]string{
	"anthropic": "sk-ant-",
	"openai":    "sk-",
}

// RequiresAPIKey reports whether provider authenticates with an API key.
func RequiresAPIKey(provider string) bool {
	_, ok := apiKeyEnv[provider]
	return ok
}

// APIKeyEnv returns the environment variable for provider's key, or "".
func APIKeyEnv(provider string) string {
	return apiKeyEnv[provider]
}

// GetAPIKey returns the API key for the configured provider.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if cfg == nil {
		return "", ErrNoAPIKey
	}
	provider := cfg.Provider.Name
	if env := apiKeyEnv[provider]; env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}
	if key := configKey(cfg); key != "" {
		return key, nil
	}
	if !RequiresAPIKey(provider) {
		return "", nil
	}
	return "", fmt.Errorf("%w for %s (set %s or provider.api_key)", ErrNoAPIKey, provider, apiKeyEnv[provider])
}

func configKey(cfg *Config) string {
	if cfg.Provider.APIKey == "" {
		return ""
	}
	key := os.ExpandEnv(cfg.Provider.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey performs basic format validation for provider's key.
// It does not verify the key with the provider.
func ValidateAPIKey(provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if prefix := keyPrefixes[provider]; prefix != "" && !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("invalid API key format: expected %q prefix", prefix)
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the provider's API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if cfg == nil {
		return KeySourceNone
	}
	if env := apiKeyEnv[cfg.Provider.Name]; env != "" && os.Getenv(env) != "" {
		return KeySourceEnv
	}
	if configKey(cfg) != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
