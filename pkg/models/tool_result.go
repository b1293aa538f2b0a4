package models

import "fmt"

// ToolResult is the outcome of one tool invocation.
// Failures are data: they go back to the model like any other result.
type ToolResult struct {
	Success     bool           `json:"success"`
	Content     string         `json:"content"`
	Attachments []ContentBlock `json:"attachments,omitempty"`
}

// Succeeded returns a successful result with the given content.
func Succeeded(content string) ToolResult {
	return ToolResult{Success: true, Content: content}
}

// Failed returns a failed result with a formatted message.
func Failed(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...)}
}

// Blocks renders the result as user content for the tool named name:
// a "[name] Result:" text block followed by any image attachments.
func (r ToolResult) Blocks(name string) []ContentBlock {
	status := ""
	if !r.Success {
		status = " (error)"
	}
	content := r.Content
	if content == "" {
		content = "(no output)"
	}
	blocks := []ContentBlock{TextBlock(fmt.Sprintf("[%s] Result%s:\n%s", name, status, content))}
	return append(blocks, r.Attachments...)
}
