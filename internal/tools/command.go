package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

type executeCommand struct{ env Env }

func (t *executeCommand) Name() string   { return "execute_command" }
func (t *executeCommand) ReadOnly() bool { return false }
func (t *executeCommand) Description() string {
	return "Run a shell command in the working directory. Returns stdout, stderr and the exit code."
}
func (t *executeCommand) Parameters() []Parameter {
	return []Parameter{
		{Name: "command", Description: "Shell command to run", Required: true},
		{Name: "timeout", Description: "Timeout in seconds (defaults to the configured command timeout)"},
	}
}

func (t *executeCommand) Execute(ctx context.Context, input json.RawMessage) models.ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := decode(input, &params); err != nil {
		return models.Failed("Invalid parameters: %v", err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return models.Failed("Missing required parameter: command")
	}

	timeout := t.env.CommandTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
	}

	res, err := t.env.Runner.RunShell(ctx, t.env.WorkDir, params.Command, timeout)
	if err != nil {
		return models.Failed("Failed to run command: %v", err)
	}

	var out strings.Builder
	if res.Stdout != "" {
		fmt.Fprintf(&out, "stdout:\n%s\n", strings.TrimRight(res.Stdout, "\n"))
	}
	if res.Stderr != "" {
		fmt.Fprintf(&out, "stderr:\n%s\n", strings.TrimRight(res.Stderr, "\n"))
	}
	if res.TimedOut {
		fmt.Fprintf(&out, "Command timed out after %v", timeout)
		return models.ToolResult{Content: truncate(out.String())}
	}
	fmt.Fprintf(&out, "exit code: %d", res.ExitCode)

	return models.ToolResult{Success: res.ExitCode == 0, Content: truncate(out.String())}
}

type attemptCompletion struct{}

func (attemptCompletion) Name() string   { return CompletionTool }
func (attemptCompletion) ReadOnly() bool { return true }
func (attemptCompletion) Description() string {
	return "Signal that the task is complete and present the final result to the user."
}
func (attemptCompletion) Parameters() []Parameter {
	return []Parameter{
		{Name: "result", Description: "Final summary of what was accomplished", Required: true},
	}
}

func (attemptCompletion) Execute(_ context.Context, input json.RawMessage) models.ToolResult {
	var params struct {
		Result string `json:"result"`
	}
	if err := decode(input, &params); err != nil {
		return models.Failed("Invalid parameters: %v", err)
	}
	if strings.TrimSpace(params.Result) == "" {
		return models.Failed("Missing required parameter: result")
	}
	return models.Succeeded(params.Result)
}
