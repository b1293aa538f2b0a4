package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/config"
	"github.com/ShayCichocki/taskpilot/internal/hub"
)

var (
	initForce    bool
	initProvider string
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a project for taskpilot",
	Long: `Prepare a directory for use with taskpilot.

This command:
  - Checks that an API key is available for the configured provider
  - Creates a .taskpilot.yaml template with project overrides
  - Creates a .taskpilotrules file for project instructions
  - Creates an empty capability server settings file if none exists

The directory argument is optional and defaults to the current directory.

Examples:
  taskpilot init                     # Initialize current directory
  taskpilot init ./myproject         # Initialize specific directory
  taskpilot init --provider ollama   # Template for a local model
  taskpilot init --force             # Overwrite existing templates`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing project files")
	initCmd.Flags().StringVar(&initProvider, "provider", "", "Provider for the project template (anthropic, bedrock, openai, ollama)")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initializing taskpilot in %s...\n\n", absPath)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if initProvider != "" {
		cfg.Provider.Name = initProvider
	}

	switch {
	case !config.RequiresAPIKey(cfg.Provider.Name):
		printStatus(out, "✓", fmt.Sprintf("Provider %s needs no API key", cfg.Provider.Name), color.FgGreen)
	case config.GetAPIKeySource(cfg) == config.KeySourceNone:
		printStatus(out, "⚠", fmt.Sprintf("%s not set (you can set it later)", config.APIKeyEnv(cfg.Provider.Name)), color.FgYellow)
	default:
		printStatus(out, "✓", fmt.Sprintf("API key found in %s", config.GetAPIKeySource(cfg)), color.FgGreen)
	}

	created, err := writeTemplate(filepath.Join(absPath, config.ProjectConfigName), projectTemplate(cfg.Provider.Name), initForce)
	if err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	reportCreated(out, created, config.ProjectConfigName)

	created, err = writeTemplate(filepath.Join(absPath, rulesFile), rulesTemplate, initForce)
	if err != nil {
		return fmt.Errorf("creating rules file: %w", err)
	}
	reportCreated(out, created, rulesFile)

	settings := settingsPath(cfg)
	if err := os.MkdirAll(filepath.Dir(settings), 0700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	created, err = writeTemplate(settings, settingsTemplate, false)
	if err != nil {
		return fmt.Errorf("creating capability settings: %w", err)
	}
	reportCreated(out, created, settings)
	if servers, err := hub.LoadSettings(settings); err != nil {
		printStatus(out, "✗", fmt.Sprintf("Capability settings invalid: %v", err), color.FgRed)
	} else {
		printStatus(out, "✓", fmt.Sprintf("%d capability server(s) configured", len(servers)), color.FgGreen)
	}

	fmt.Fprintf(out, "\n%s taskpilot initialization complete!\n\n", color.GreenString("✓"))
	fmt.Fprintln(out, "Next steps:")
	if env := config.APIKeyEnv(cfg.Provider.Name); env != "" && config.GetAPIKeySource(cfg) == config.KeySourceNone {
		fmt.Fprintln(out, "  - Set your API key:")
		fmt.Fprintf(out, "      export %s=your-key-here\n", env)
	}
	fmt.Fprintln(out, "  - Run a task:")
	fmt.Fprintln(out, `      taskpilot run "describe this project"`)
	return nil
}

// writeTemplate writes content to path unless it exists and force is false.
// It reports whether the file was written.
func writeTemplate(path, content string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, err
	}
	return true, nil
}

func reportCreated(out io.Writer, created bool, name string) {
	if created {
		printStatus(out, "✓", "Created "+name, color.FgGreen)
		return
	}
	printStatus(out, "-", name+" already exists", color.Faint)
}

func projectTemplate(provider string) string {
	return fmt.Sprintf(`# taskpilot project configuration
# This file overrides defaults from ~/.config/taskpilot/config.yaml

provider:
  name: %s
#   model: claude-sonnet-4-20250514
#   context_window: 200000

# modes:
#   plan:
#     model: claude-opus-4-20250514

# auto_approval:
#   enabled: true
#   tools: [read_file, list_files]
#   max_requests: 20

# limits:
#   max_consecutive_mistakes: 3
#   max_requests: 50

# ledger:
#   path: ~/.local/share/taskpilot/ledger.db
`, provider)
}

const rulesTemplate = `# Project instructions for taskpilot.
# Everything in this file is added to the system prompt.
`

const settingsTemplate = `{
  // Capability (MCP) servers. Each entry is started or connected on run.
  // "filesystem": {
  //   "command": "npx",
  //   "args": ["-y", "@modelcontextprotocol/server-filesystem", "."],
  //   "autoApprove": ["read_file"],
  // },
  "mcpServers": {}
}
`

// printStatus prints a status line with color
func printStatus(out io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(out, "%s %s\n", c.Sprint(symbol), message)
}
