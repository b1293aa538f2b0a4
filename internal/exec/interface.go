// Package exec runs shell commands for tools.
package exec

import (
	"context"
	"time"
)

// Result is the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// CommandRunner runs shell commands. Tests substitute fakes.
type CommandRunner interface {
	// RunShell executes command through "sh -c" in workDir, killing it
	// after timeout. A non-zero exit is reported in Result, not as an error.
	RunShell(ctx context.Context, workDir, command string, timeout time.Duration) (Result, error)
}
