package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/hub"
	"github.com/ShayCichocki/taskpilot/internal/version"
)

var (
	serversTimeout time.Duration
	serversTools   bool
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Show capability server status",
	Long: `Connect to every capability server in the settings file and report
its status, tool and resource counts and recent errors.

The settings file is capabilities.settings_file in the configuration
(default ~/.config/taskpilot/mcp_settings.json).`,
	RunE: runServers,
}

func init() {
	serversCmd.Flags().DurationVar(&serversTimeout, "timeout", 30*time.Second, "How long to wait for servers to connect")
	serversCmd.Flags().BoolVar(&serversTools, "tools", false, "List each server's tools")
}

func runServers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := settingsPath(cfg)
	servers, err := hub.LoadSettings(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(servers) == 0 {
		fmt.Fprintf(out, "No capability servers configured in %s\n", path)
		return nil
	}

	h := hub.New(hub.Options{
		Connector: hub.NewMCPConnector(hub.MCPOptions{ClientName: "taskpilot", ClientVersion: version.Get()}),
	})
	defer h.Dispose()

	ctx, cancel := context.WithTimeout(cmd.Context(), serversTimeout)
	defer cancel()
	if err := h.Initialize(ctx, servers); err != nil {
		return fmt.Errorf("connect servers: %w", err)
	}

	fmt.Fprint(out, renderServers(h.Connections(), serversTools))
	return nil
}

var (
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	connectingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	disabledStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Italic(true)
	toolStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).PaddingLeft(2)
)

func statusStyle(c hub.Connection) (lipgloss.Style, string) {
	switch {
	case c.Disabled:
		return disabledStyle, "disabled"
	case c.Status == hub.StatusConnected:
		return connectedStyle, string(c.Status)
	case c.Status == hub.StatusConnecting:
		return connectingStyle, string(c.Status)
	default:
		return disconnectedStyle, string(c.Status)
	}
}

// renderServers lays connections out as aligned columns.
func renderServers(conns []hub.Connection, withTools bool) string {
	nameWidth := len("NAME")
	for _, c := range conns {
		nameWidth = max(nameWidth, lipgloss.Width(c.Name))
	}
	col := func(s string, w int) string {
		return lipgloss.NewStyle().Width(w).Render(s)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(col("NAME", nameWidth+2) + col("STATUS", 14) + col("TOOLS", 7) + col("RESOURCES", 11)))
	b.WriteString("\n")
	for _, c := range conns {
		style, status := statusStyle(c)
		b.WriteString(col(c.Name, nameWidth+2))
		b.WriteString(style.Render(col(status, 14)))
		b.WriteString(col(strconv.Itoa(len(c.Tools)), 7))
		b.WriteString(col(strconv.Itoa(len(c.Resources)+len(c.ResourceTemplates)), 11))
		b.WriteString("\n")
		if c.Error != "" {
			last := c.Error
			if i := strings.LastIndex(last, "\n"); i >= 0 {
				last = last[i+1:]
			}
			b.WriteString(errorStyle.Render("  " + last))
			b.WriteString("\n")
		}
		if withTools {
			writeTools(&b, c)
		}
	}
	return b.String()
}

func writeTools(w io.StringWriter, c hub.Connection) {
	for _, t := range c.Tools {
		line := c.Name + "/" + t.Name
		if t.AutoApprove {
			line += " (auto)"
		}
		w.WriteString(toolStyle.Render(line))
		w.WriteString("\n")
	}
}
