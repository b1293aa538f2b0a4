// Package dispatch routes tool invocations to the local registry or to a
// capability server.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/hub"
	"github.com/ShayCichocki/taskpilot/internal/tools"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Separator splits a remote tool name into server and tool.
const Separator = "/"

// Hub is the part of the capability hub the dispatcher needs.
type Hub interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*hub.CallResult, error)
	Connections() []hub.Connection
	IsAutoApproved(server, tool string) bool
}

// Dispatcher executes tools by name.
type Dispatcher struct {
	tools  *tools.Registry
	hub    Hub
	logger *slog.Logger
}

// New creates a dispatcher. h may be nil when no capability servers are configured.
func New(registry *tools.Registry, h Hub, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{tools: registry, hub: h, logger: logger.With("component", "dispatch")}
}

// SplitRemote splits "server/tool". ok is false for local names.
func SplitRemote(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, Separator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// IsReadOnly reports whether name is a local tool that does not modify
// anything. Remote tools are never considered read-only.
func (d *Dispatcher) IsReadOnly(name string) bool {
	if _, _, remote := SplitRemote(name); remote {
		return false
	}
	t, ok := d.tools.Get(name)
	return ok && t.ReadOnly()
}

// IsServerApproved reports whether name is a remote tool its server lists
// in autoApprove.
func (d *Dispatcher) IsServerApproved(name string) bool {
	server, tool, ok := SplitRemote(name)
	if !ok || d.hub == nil {
		return false
	}
	return d.hub.IsAutoApproved(server, tool)
}

// Execute runs the named tool. It never returns an error: unknown names and
// failures come back as failed results.
func (d *Dispatcher) Execute(ctx context.Context, name string, input json.RawMessage) models.ToolResult {
	start := time.Now()
	var res models.ToolResult
	if server, tool, ok := SplitRemote(name); ok {
		res = d.executeRemote(ctx, server, tool, input)
	} else {
		res = d.tools.Execute(ctx, name, input)
	}
	d.logger.Debug("tool executed",
		"tool", name,
		"success", res.Success,
		"duration", time.Since(start),
	)
	return res
}

func (d *Dispatcher) executeRemote(ctx context.Context, server, tool string, input json.RawMessage) models.ToolResult {
	if d.hub == nil {
		return models.Failed("No capability servers are configured (requested %s%s%s)", server, Separator, tool)
	}
	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return models.Failed("Invalid arguments for %s%s%s: %v", server, Separator, tool, err)
		}
	}
	res, err := d.hub.CallTool(ctx, server, tool, args)
	if err != nil {
		return models.Failed("Error calling %s%s%s: %v", server, Separator, tool, err)
	}
	return Normalize(res)
}

// Normalize converts a remote call result to a ToolResult: text contents
// are joined by newlines, images become attachments and embedded resource
// text is inlined.
func Normalize(res *hub.CallResult) models.ToolResult {
	if res == nil {
		return models.Succeeded("")
	}
	var parts []string
	var attachments []models.ContentBlock
	for _, c := range res.Content {
		switch c.Type {
		case hub.ContentText:
			parts = append(parts, c.Text)
		case hub.ContentImage:
			attachments = append(attachments, models.ImageBlock(c.MIMEType, c.Data))
		case hub.ContentResource:
			switch {
			case c.Text != "":
				parts = append(parts, fmt.Sprintf("[Resource: %s]\n%s", c.URI, c.Text))
			case strings.HasPrefix(c.MIMEType, "image/") && c.Data != "":
				attachments = append(attachments, models.ImageBlock(c.MIMEType, c.Data))
			default:
				parts = append(parts, fmt.Sprintf("[Resource: %s]", c.URI))
			}
		}
	}
	out := models.ToolResult{
		Success:     !res.IsError,
		Content:     strings.Join(parts, "\n"),
		Attachments: attachments,
	}
	return out
}

// DescribeRemote lists the tools of every connected server in the
// "server/tool" form the model uses to call them.
func (d *Dispatcher) DescribeRemote() string {
	if d.hub == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range d.hub.Connections() {
		if c.Status != hub.StatusConnected || len(c.Tools) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### %s\n", c.Name)
		for _, t := range c.Tools {
			fmt.Fprintf(&b, "- %s%s%s: %s\n", c.Name, Separator, t.Name, t.Description)
			if len(t.InputSchema) > 0 {
				fmt.Fprintf(&b, "  Input schema: %s\n", t.InputSchema)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
