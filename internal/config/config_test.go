package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider.Name != "anthropic" {
		t.Errorf("expected default provider 'anthropic', got %q", cfg.Provider.Name)
	}
	if cfg.Mode != "act" {
		t.Errorf("expected default mode 'act', got %q", cfg.Mode)
	}
	if cfg.Timeouts.BlockWait != 5*time.Minute {
		t.Errorf("expected block_wait 5m, got %v", cfg.Timeouts.BlockWait)
	}
	if cfg.Limits.MaxConsecutiveMistakes != 3 {
		t.Errorf("expected 3 max mistakes, got %d", cfg.Limits.MaxConsecutiveMistakes)
	}
	if cfg.Limits.MaxRequests != 0 {
		t.Errorf("expected unlimited requests, got %d", cfg.Limits.MaxRequests)
	}
	if cfg.AutoApproval.Enabled {
		t.Error("expected auto-approval disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
provider:
  name: openai
  model: gpt-4o
  api_key: ${TASKPILOT_TEST_KEY}
  context_window: 64000
modes:
  plan:
    model: gpt-4o-mini
mode: plan
auto_approval:
  enabled: true
  tools: [read_file, execute_command]
  max_requests: 5
timeouts:
  block_wait: 90s
  command: 30s
limits:
  max_consecutive_mistakes: 5
  max_requests: 40
ledger:
  path: ${TASKPILOT_TEST_DIR}/ledger.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("TASKPILOT_TEST_KEY", "sk-from-env")
	t.Setenv("TASKPILOT_TEST_DIR", tmpDir)

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Provider.Name != "openai" || cfg.Provider.Model != "gpt-4o" {
		t.Errorf("unexpected provider %+v", cfg.Provider)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("expected expanded api key, got %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.ContextWindow != 64000 {
		t.Errorf("expected context window 64000, got %d", cfg.Provider.ContextWindow)
	}
	if cfg.Mode != "plan" {
		t.Errorf("expected mode plan, got %q", cfg.Mode)
	}
	if !cfg.AutoApproval.Enabled || cfg.AutoApproval.MaxRequests != 5 {
		t.Errorf("unexpected auto approval %+v", cfg.AutoApproval)
	}
	if !reflect.DeepEqual(cfg.AutoApproval.Tools, []string{"read_file", "execute_command"}) {
		t.Errorf("unexpected tools %v", cfg.AutoApproval.Tools)
	}
	if cfg.Timeouts.BlockWait != 90*time.Second || cfg.Timeouts.Command != 30*time.Second {
		t.Errorf("unexpected timeouts %+v", cfg.Timeouts)
	}
	if cfg.Limits.MaxConsecutiveMistakes != 5 || cfg.Limits.MaxRequests != 40 {
		t.Errorf("unexpected limits %+v", cfg.Limits)
	}
	// Unset values keep their defaults.
	if cfg.Limits.MaxContextRetries != 3 {
		t.Errorf("expected default context retries 3, got %d", cfg.Limits.MaxContextRetries)
	}
	if cfg.Ledger.Path != filepath.Join(tmpDir, "ledger.db") {
		t.Errorf("expected expanded ledger path, got %q", cfg.Ledger.Path)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"bad mode", "mode: build\n"},
		{"zero block wait", "timeouts:\n  block_wait: 0s\n"},
		{"zero mistakes", "limits:\n  max_consecutive_mistakes: 0\n"},
		{"negative requests", "limits:\n  max_requests: -1\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFromPath(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := LoadFromPath(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("provider:\n  model: claude-opus-4-20250514\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKPILOT_PROVIDER_MODEL", "claude-3-5-haiku-20241022")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Provider.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("expected env override, got %q", cfg.Provider.Model)
	}
}

func TestModelForAndLLMConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key-123456")

	cfg := Default()
	cfg.Modes.Plan.Model = "claude-3-5-haiku-20241022"

	if got := cfg.ModelFor(models.ModePlan); got != "claude-3-5-haiku-20241022" {
		t.Errorf("plan model = %q", got)
	}
	if got := cfg.ModelFor(models.ModeAct); got != cfg.Provider.Model {
		t.Errorf("act model = %q, want provider model", got)
	}

	lc := cfg.LLMConfig(models.ModePlan)
	if lc.Provider != "anthropic" || lc.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("unexpected llm config %+v", lc)
	}
	if lc.APIKey != "sk-ant-env-key-123456" {
		t.Errorf("expected key from env, got %q", lc.APIKey)
	}
	if lc.MaxTokens != 8192 {
		t.Errorf("expected max tokens 8192, got %d", lc.MaxTokens)
	}
}

func TestSaveAndLoad(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	cfg := Default()
	cfg.Provider.Name = "ollama"
	cfg.Provider.Model = "llama3.1"
	cfg.Provider.BaseURL = "http://localhost:11434"
	cfg.Timeouts.BlockWait = 45 * time.Second
	cfg.Metrics.Addr = ":9090"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	want := filepath.Join(xdg, "taskpilot", "config.yaml")
	if GetUserConfigPath() != want {
		t.Errorf("GetUserConfigPath = %q, want %q", GetUserConfigPath(), want)
	}

	loaded, err := LoadFromPath(want)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Provider.Name != "ollama" || loaded.Provider.BaseURL != "http://localhost:11434" {
		t.Errorf("unexpected provider %+v", loaded.Provider)
	}
	if loaded.Timeouts.BlockWait != 45*time.Second {
		t.Errorf("expected block_wait 45s, got %v", loaded.Timeouts.BlockWait)
	}
	if loaded.Metrics.Addr != ":9090" {
		t.Errorf("expected metrics addr, got %q", loaded.Metrics.Addr)
	}
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ProjectConfigName), []byte("mode: plan\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	got := GetProjectConfigPath()
	if filepath.Base(got) != ProjectConfigName {
		t.Fatalf("expected project config to be found, got %q", got)
	}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "plan" {
		t.Errorf("expected project override mode plan, got %q", cfg.Mode)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs/debug.log"); got != filepath.Join(home, "logs", "debug.log") {
		t.Errorf("expandPath(~) = %q", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(abs) = %q", got)
	}
}
