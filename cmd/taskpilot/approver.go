package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/ShayCichocki/taskpilot/internal/approval"
)

// promptApprover asks on the terminal before a tool runs.
type promptApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPromptApprover(in *bufio.Reader, out io.Writer) *promptApprover {
	return &promptApprover{in: in, out: out}
}

// Approve implements approval.Approver. Anything but y or yes denies.
func (a *promptApprover) Approve(ctx context.Context, req approval.Request) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	desc := req.Description
	if desc == "" {
		desc = req.Tool
	}
	fmt.Fprintf(a.out, "%s %s [y/N] ", color.YellowString("?"), desc)

	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
