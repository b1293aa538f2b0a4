// Package tools implements the local tools the model can invoke.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/taskpilot/internal/exec"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// CompletionTool is the name of the tool that ends a task.
const CompletionTool = "attempt_completion"

// maxOutput caps tool output returned to the model.
const maxOutput = 30000

// Parameter documents one input field of a tool.
type Parameter struct {
	Name        string
	Description string
	Required    bool
}

// Tool is a locally executed capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	// ReadOnly tools are allowed in plan mode.
	ReadOnly() bool
	Execute(ctx context.Context, input json.RawMessage) models.ToolResult
}

// Env is shared by the built-in tools.
type Env struct {
	WorkDir        string
	Runner         exec.CommandRunner
	CommandTimeout time.Duration
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry returns a registry holding every built-in tool.
func NewDefaultRegistry(env Env) *Registry {
	if env.Runner == nil {
		env.Runner = exec.NewRunner()
	}
	if env.CommandTimeout <= 0 {
		env.CommandTimeout = 2 * time.Minute
	}
	r := NewRegistry()
	r.Register(&readFile{env: env})
	r.Register(&writeToFile{env: env})
	r.Register(&replaceInFile{env: env})
	r.Register(&listFiles{env: env})
	r.Register(&executeCommand{env: env})
	r.Register(attemptCompletion{})
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Execute runs the named tool. Unknown names produce a failed result.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) models.ToolResult {
	t, ok := r.Get(name)
	if !ok {
		return models.Failed("Unknown tool: %s", name)
	}
	return t.Execute(ctx, input)
}

// Describe renders the registry for a system prompt.
func (r *Registry) Describe(readOnlyOnly bool) string {
	var b strings.Builder
	for _, t := range r.List() {
		if readOnlyOnly && !t.ReadOnly() {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\nParameters:\n", t.Name(), t.Description())
		for _, p := range t.Parameters() {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", p.Name, req, p.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return json.Unmarshal(input, v)
}

// truncate caps s at maxOutput bytes without splitting a UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	cut := maxOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (output truncated)"
}
