package config

import (
	"errors"
	"testing"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

		cfg := Default()
		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-test-key" {
			t.Errorf("expected 'sk-ant-test-key', got %q", key)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := Default()
		cfg.Provider.APIKey = "sk-ant-config-key"
		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if key != "sk-ant-config-key" {
			t.Errorf("expected 'sk-ant-config-key', got %q", key)
		}
	})

	t.Run("per provider variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-wrong")
		t.Setenv("OPENAI_API_KEY", "sk-openai-key")

		cfg := Default()
		cfg.Provider.Name = "openai"
		key, err := GetAPIKey(cfg)
		if err != nil || key != "sk-openai-key" {
			t.Errorf("expected openai key, got %q (%v)", key, err)
		}
	})

	t.Run("unexpanded reference is ignored", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := Default()
		cfg.Provider.APIKey = "${TASKPILOT_UNSET_VARIABLE_FOR_TEST}"
		if _, err := GetAPIKey(cfg); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		_, err := GetAPIKey(Default())
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("keyless provider", func(t *testing.T) {
		cfg := Default()
		cfg.Provider.Name = "ollama"
		key, err := GetAPIKey(cfg)
		if err != nil || key != "" {
			t.Errorf("expected no key and no error, got %q (%v)", key, err)
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		wantErr  bool
	}{
		{"valid anthropic", "anthropic", "sk-ant-REDACTED", false},
		{"valid openai", "openai", "sk-proj-abcdefghijklmnopqrst", false},
		{"empty", "anthropic", "", true},
		{"wrong prefix", "anthropic", "sk-proj-abcdefghijklmnopqrst", true},
		{"too short", "anthropic", "sk-ant-abc", true},
		{"no prefix rule", "bedrock", "abcdefghijklmnopqrstuv", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.provider, tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.expected {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}

func TestGetAPIKeySource(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	if src := GetAPIKeySource(Default()); src != KeySourceEnv {
		t.Errorf("expected environment source, got %s", src)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := Default()
	cfg.Provider.APIKey = "sk-ant-config"
	if src := GetAPIKeySource(cfg); src != KeySourceConfig {
		t.Errorf("expected config source, got %s", src)
	}

	if src := GetAPIKeySource(Default()); src != KeySourceNone {
		t.Errorf("expected no source, got %s", src)
	}
}
