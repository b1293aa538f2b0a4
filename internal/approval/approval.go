// Package approval decides whether a tool invocation may run without asking
// the user.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tidwall/gjson"
)

// Policy controls auto-approval.
type Policy struct {
	Enabled bool
	// Tools lists local tool names that may run without confirmation.
	Tools []string
	// AllowRiskyCommands lets execute_command run risky commands unasked.
	AllowRiskyCommands bool
	// MaxRequests caps consecutive auto-approved invocations; 0 means no cap.
	MaxRequests int
}

// Request describes one invocation awaiting a decision.
type Request struct {
	Tool        string
	Input       json.RawMessage
	Description string
	// ServerApproved is set for remote tools listed in the server's autoApprove.
	ServerApproved bool
	Remote         bool
}

// Approver asks for explicit confirmation.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req Request) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// AlwaysApprove approves everything.
var AlwaysApprove = ApproverFunc(func(context.Context, Request) (bool, error) { return true, nil })

// Decision is the outcome of evaluating a request.
type Decision struct {
	Approved bool
	// Auto is true when no confirmation was requested.
	Auto   bool
	Reason string
}

// Gate applies a Policy and falls back to an Approver.
type Gate struct {
	policy   Policy
	detector *Detector
	approver Approver
	logger   *slog.Logger

	mu              sync.Mutex
	consecutiveAuto int
}

// NewGate creates a gate. A nil detector uses the defaults; a nil approver
// denies everything that is not auto-approved.
func NewGate(policy Policy, detector *Detector, approver Approver, logger *slog.Logger) *Gate {
	if detector == nil {
		detector = NewDetector()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		policy:   policy,
		detector: detector,
		approver: approver,
		logger:   logger.With("component", "approval"),
	}
}

// Reset clears the consecutive auto-approval counter.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutiveAuto = 0
}

// ConsecutiveAuto returns the number of auto-approvals since the last
// explicit approval.
func (g *Gate) ConsecutiveAuto() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveAuto
}

// needsConfirmation returns a reason when req cannot be auto-approved.
func (g *Gate) needsConfirmation(req Request) string {
	if !g.policy.Enabled {
		return "auto-approval disabled"
	}
	if g.policy.MaxRequests > 0 && g.consecutiveAuto >= g.policy.MaxRequests {
		return fmt.Sprintf("reached %d consecutive auto-approved requests", g.policy.MaxRequests)
	}
	if req.Remote {
		if req.ServerApproved {
			return ""
		}
		return "remote tool not in server autoApprove list"
	}
	if !slices.Contains(g.policy.Tools, req.Tool) {
		return "tool not in auto-approve list"
	}
	switch req.Tool {
	case "execute_command":
		if g.policy.AllowRiskyCommands {
			return ""
		}
		if risky, pattern := g.detector.RiskyCommand(gjson.GetBytes(req.Input, "command").String()); risky {
			return "risky command: " + pattern
		}
	case "write_to_file", "replace_in_file":
		if sensitive, pattern := g.detector.SensitivePath(gjson.GetBytes(req.Input, "path").String()); sensitive {
			return "sensitive path: " + pattern
		}
	}
	return ""
}

// Check decides req, asking the approver when needed.
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	g.mu.Lock()
	reason := g.needsConfirmation(req)
	if reason == "" {
		g.consecutiveAuto++
		g.mu.Unlock()
		return Decision{Approved: true, Auto: true}, nil
	}
	g.mu.Unlock()

	if g.approver == nil {
		return Decision{Reason: reason}, nil
	}
	g.logger.Debug("requesting approval", "tool", req.Tool, "reason", reason)
	ok, err := g.approver.Approve(ctx, req)
	if err != nil {
		return Decision{Reason: reason}, fmt.Errorf("approve %s: %w", req.Tool, err)
	}
	if ok {
		g.Reset()
	}
	return Decision{Approved: ok, Reason: reason}, nil
}
