package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/approval"
	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// ProviderFactory builds the provider used in a mode.
type ProviderFactory func(mode models.Mode) (llm.Provider, error)

// Dispatcher executes tools by name. Failures are results, never errors.
type Dispatcher interface {
	Execute(ctx context.Context, name string, input json.RawMessage) models.ToolResult
	// IsReadOnly reports whether a local tool may run in plan mode.
	IsReadOnly(name string) bool
	// IsServerApproved reports whether a remote tool is in its server's autoApprove list.
	IsServerApproved(name string) bool
	// DescribeRemote lists remote tools for the system prompt.
	DescribeRemote() string
}

// ToolCatalog describes the local tools for the system prompt.
type ToolCatalog interface {
	Describe(readOnlyOnly bool) string
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Providers builds the provider for a mode.
	Providers ProviderFactory
	// Dispatcher executes tool invocations.
	Dispatcher Dispatcher
	// Tools describes the local tools.
	Tools ToolCatalog
}

// Limits bounds a task's loop.
type Limits struct {
	// MaxConsecutiveMistakes stops the task once reached.
	MaxConsecutiveMistakes int
	// MaxContextRetries bounds retries after a context-window overflow.
	MaxContextRetries int
	// MaxRequests caps provider requests per task; 0 means unlimited.
	MaxRequests int
}

// DefaultLimits are used when WithLimits is not given.
var DefaultLimits = Limits{
	MaxConsecutiveMistakes: 3,
	MaxContextRetries:      3,
}

// DefaultBlockWait bounds how long a turn waits for presentation to finish.
const DefaultBlockWait = 5 * time.Minute

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	mode         models.Mode
	logger       *slog.Logger
	gate         *approval.Gate
	limits       Limits
	blockWait    time.Duration
	metrics      *Metrics
	observers    []Observer
	workDir      string
	instructions string
	now          func() time.Time
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		mode:      models.ModeAct,
		logger:    slog.New(slog.DiscardHandler),
		limits:    DefaultLimits,
		blockWait: DefaultBlockWait,
		now:       time.Now,
	}
}

// WithMode sets the initial mode.
func WithMode(m models.Mode) Option {
	return func(o *orchestratorOptions) { o.mode = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *orchestratorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithApprovalGate requires tool calls to pass g. Without a gate every
// call runs.
func WithApprovalGate(g *approval.Gate) Option {
	return func(o *orchestratorOptions) { o.gate = g }
}

// WithLimits sets the loop limits.
func WithLimits(l Limits) Option {
	return func(o *orchestratorOptions) { o.limits = l }
}

// WithBlockWait sets how long a turn waits for its blocks to be presented.
func WithBlockWait(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.blockWait = d
		}
	}
}

// WithMetrics sets the metrics sink. The default registers with the global
// Prometheus registry.
func WithMetrics(m *Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithObservers registers observers at construction.
func WithObservers(obs ...Observer) Option {
	return func(o *orchestratorOptions) { o.observers = append(o.observers, obs...) }
}

// WithWorkDir names the working directory in the system prompt.
func WithWorkDir(dir string) Option {
	return func(o *orchestratorOptions) { o.workDir = dir }
}

// WithInstructions appends user instructions to the system prompt.
func WithInstructions(s string) Option {
	return func(o *orchestratorOptions) { o.instructions = s }
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) { o.now = now }
}
