package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/contextmgr"
	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/internal/parser"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var (
	// ErrToolWaitTimeout means presentation of a turn did not finish in time.
	ErrToolWaitTimeout = errors.New("timed out waiting for tool execution")
	// ErrTooManyMistakes means the model kept failing to make progress.
	ErrTooManyMistakes = errors.New("too many consecutive mistakes")
	// ErrRequestLimit means the task used its request budget.
	ErrRequestLimit = errors.New("request limit reached")
	// ErrNoTask is returned by ContinueTask before any task was started.
	ErrNoTask = errors.New("no task to continue")
	// ErrTaskAborted is returned by ContinueTask for an aborted task.
	ErrTaskAborted = errors.New("task was aborted")
	// ErrTaskRunning is returned by ContinueTask while the loop is running.
	ErrTaskRunning = errors.New("task is already running")
	// ErrInvalidMode is returned for a mode other than plan or act.
	ErrInvalidMode = errors.New("invalid mode")
)

// Orchestrator runs one task at a time.
type Orchestrator struct {
	opts       orchestratorOptions
	providers  ProviderFactory
	dispatcher Dispatcher
	tools      ToolCatalog
	logger     *slog.Logger
	metrics    *Metrics

	mu       sync.Mutex
	mode     models.Mode
	provider llm.Provider
	task     *Task
	// pending is closed when a presenter abandoned by a timed-out turn
	// has finished its tool call.
	pending <-chan struct{}

	// loopMu is held for the lifetime of a task loop.
	loopMu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates an Orchestrator and builds the provider for the initial mode.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Providers == nil || req.Dispatcher == nil || req.Tools == nil {
		return nil, errors.New("orchestrator: providers, dispatcher and tools are required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, o.mode)
	}

	provider, err := req.Providers(o.mode)
	if err != nil {
		return nil, fmt.Errorf("build provider for %s mode: %w", o.mode, err)
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = defaultMetrics()
	}

	return &Orchestrator{
		opts:       o,
		providers:  req.Providers,
		dispatcher: req.Dispatcher,
		tools:      req.Tools,
		logger:     o.logger.With("component", "orchestrator"),
		metrics:    metrics,
		mode:       o.mode,
		provider:   provider,
		observers:  append([]Observer(nil), o.observers...),
	}, nil
}

// Mode returns the current mode.
func (o *Orchestrator) Mode() models.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SwitchMode rebuilds the provider for mode. History is untouched; a
// running loop picks up the change on its next request.
func (o *Orchestrator) SwitchMode(mode models.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	provider, err := o.providers(mode)
	if err != nil {
		return fmt.Errorf("build provider for %s mode: %w", mode, err)
	}
	o.mu.Lock()
	o.mode = mode
	o.provider = provider
	o.mu.Unlock()
	o.logger.Info("mode switched", "mode", mode, "model", provider.Model().ID)
	return nil
}

func (o *Orchestrator) current() (llm.Provider, models.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.provider, o.mode
}

func (o *Orchestrator) currentTask() *Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.task
}

// CurrentTask returns a snapshot of the active task.
func (o *Orchestrator) CurrentTask() (TaskInfo, bool) {
	t := o.currentTask()
	if t == nil {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// StartTask aborts any previous task, waits for its loop to exit and runs
// a new task until it completes, fails or is aborted. An aborted task
// returns nil.
func (o *Orchestrator) StartTask(ctx context.Context, text string, images ...models.ContentBlock) error {
	if prev := o.currentTask(); prev != nil {
		o.abortTask(prev)
	}
	o.loopMu.Lock()
	defer o.loopMu.Unlock()

	t := newTask()
	o.mu.Lock()
	o.task = t
	mode := o.mode
	o.mu.Unlock()

	if o.opts.gate != nil {
		o.opts.gate.Reset()
	}
	t.appendUser(taskContent(text, images))

	o.logger.Info("task started", "task", t.ID, "mode", mode)
	o.emit(Event{Type: EventTaskStarted, TaskID: t.ID, Message: text})
	return o.run(ctx, t)
}

// ContinueTask appends user feedback to the current task and resumes its
// loop.
func (o *Orchestrator) ContinueTask(ctx context.Context, text string, images ...models.ContentBlock) error {
	t := o.currentTask()
	if t == nil {
		return ErrNoTask
	}
	if t.aborted.Load() {
		return ErrTaskAborted
	}
	if !o.loopMu.TryLock() {
		return ErrTaskRunning
	}
	defer o.loopMu.Unlock()

	t.clearMistakes()
	t.appendUser(feedbackContent(text, images))
	o.logger.Info("task resumed", "task", t.ID)
	return o.run(ctx, t)
}

// Abort stops the current task. It is idempotent: the task emits exactly
// one task_aborted event. Tool calls already running finish first.
func (o *Orchestrator) Abort() {
	if t := o.currentTask(); t != nil {
		o.abortTask(t)
	}
}

func (o *Orchestrator) abortTask(t *Task) {
	if !t.requestAbort() {
		return
	}
	o.logger.Info("abort requested", "task", t.ID)
	if !t.isRunning() {
		o.finishAbort(t)
	}
}

func (o *Orchestrator) finishAbort(t *Task) {
	if !t.abortEmitted.CompareAndSwap(false, true) {
		return
	}
	t.setState(models.TaskStateAborted)
	o.metrics.incTask(string(models.TaskStateAborted))
	usage := t.tokens.Total()
	o.emit(Event{Type: EventTaskAborted, TaskID: t.ID, Usage: &usage})
}

// Notify reports a capability server message on the current task.
func (o *Orchestrator) Notify(server, level, message string) {
	taskID := ""
	if t := o.currentTask(); t != nil {
		taskID = t.ID
	}
	o.emit(Event{
		Type:    EventMessage,
		TaskID:  taskID,
		Source:  server,
		Message: fmt.Sprintf("[%s] %s", level, message),
	})
}

// run is the task loop. It returns nil on completion or abort.
func (o *Orchestrator) run(ctx context.Context, t *Task) (err error) {
	t.begin()
	defer func() {
		t.end()
		if t.aborted.Load() {
			o.finishAbort(t)
			err = nil
		}
	}()

	if err := o.awaitTools(ctx); err != nil {
		return o.fail(t, err)
	}

	retries := 0
	for {
		if t.aborted.Load() {
			return nil
		}
		t.setState(models.TaskStateRunning)

		if max := o.opts.limits.MaxRequests; max > 0 && t.requestCount() >= max {
			return o.fail(t, fmt.Errorf("%w: %d requests", ErrRequestLimit, max))
		}

		provider, mode := o.current()
		meta := t.ctx.Metadata(t.messages(), provider.Model(), t.truncationRange())
		if meta.ShouldCompact && t.compact(contextmgr.KeepHalf, o.opts.now) {
			o.metrics.incCompaction("budget")
			o.logger.Info("history compacted",
				"task", t.ID,
				"estimate", meta.EstimatedTokens,
				"max_allowed", meta.Window.MaxAllowed,
				"range_end", t.truncationRange().End,
			)
			meta = t.ctx.Metadata(t.messages(), provider.Model(), t.truncationRange())
		}

		out, err := o.turn(ctx, t, provider, mode, meta.View)
		if t.aborted.Load() {
			return nil
		}
		if err != nil {
			if errors.Is(err, llm.ErrContextWindowExceeded) && !out.streamed {
				if retries >= o.opts.limits.MaxContextRetries {
					return o.fail(t, fmt.Errorf("still exceeded after %d truncations: %w", retries, err))
				}
				retries++
				t.compact(contextmgr.KeepQuarter, o.opts.now)
				o.metrics.incCompaction("overflow")
				o.logger.Warn("context window exceeded, truncating", "task", t.ID, "attempt", retries)
				continue
			}
			return o.fail(t, err)
		}
		retries = 0

		if out.p.completed {
			content, _ := out.p.outcome()
			t.appendUser(content)
			o.complete(t, out.p.completionText)
			return nil
		}

		content, mistake := out.p.outcome()
		t.appendUser(content)
		if !mistake {
			t.clearMistakes()
			continue
		}
		if n := t.addMistake(); n >= o.opts.limits.MaxConsecutiveMistakes {
			return o.fail(t, fmt.Errorf("%w: %d in a row", ErrTooManyMistakes, n))
		}
	}
}

type turnOutput struct {
	// streamed is true once any content chunk arrived.
	streamed bool
	p        *presenter
}

// turn runs one request: it streams the response, feeds the presenter and
// waits for presentation to finish.
func (o *Orchestrator) turn(ctx context.Context, t *Task, provider llm.Provider, mode models.Mode, view []models.Message) (turnOutput, error) {
	var out turnOutput

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if t.aborted.Load() {
		return out, nil
	}

	n := t.nextRequest()
	t.setState(models.TaskStateStreaming)
	o.logger.Debug("request", "task", t.ID, "n", n, "provider", provider.Name(), "messages", len(view))

	start := time.Now()
	stream, err := provider.Stream(streamCtx, llm.Request{System: o.systemPrompt(mode), Messages: view})
	if err != nil {
		o.metrics.observeRequest(provider.Name(), "error", time.Since(start))
		return out, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	p := newPresenter(o, t, mode, context.WithoutCancel(ctx))
	go p.run()

	var buf strings.Builder
	for {
		if t.aborted.Load() {
			p.stop()
			o.waitPresenter(p)
			o.settleTurn(t, p, interruptedResult)
			return out, nil
		}
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.stop()
			o.waitPresenter(p)
			o.settleTurn(t, p, interruptedResult)
			o.metrics.observeRequest(provider.Name(), "error", time.Since(start))
			return out, fmt.Errorf("stream: %w", err)
		}

		switch chunk.Type {
		case llm.ChunkText:
			if !out.streamed {
				t.setState(models.TaskStatePresenting)
			}
			out.streamed = true
			buf.WriteString(chunk.Text)
			p.update(parser.Parse(buf.String()), false)
		case llm.ChunkReasoning:
			out.streamed = true
			o.emit(Event{Type: EventMessage, TaskID: t.ID, Message: chunk.Text, Reasoning: true, Partial: true})
		case llm.ChunkUsage:
			if chunk.Usage != nil {
				t.tokens.Add(*chunk.Usage)
				o.metrics.addUsage(*chunk.Usage)
			}
		}
	}
	o.metrics.observeRequest(provider.Name(), "success", time.Since(start))

	final := parser.Finalize(parser.Parse(buf.String()))
	if len(final) == 0 {
		t.appendAssistant([]models.ContentBlock{models.TextBlock(emptyResponseText)})
	} else {
		t.appendAssistant(final)
	}
	p.update(final, true)

	t.setState(models.TaskStateAwaitingToolCompletion)
	if err := o.waitPresenter(p); err != nil {
		o.settleTurn(t, p, timedOutResult)
		return out, err
	}
	out.p = p
	return out, nil
}

// waitPresenter races the presenter's completion against the block wait.
func (o *Orchestrator) waitPresenter(p *presenter) error {
	timer := time.NewTimer(o.opts.blockWait)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		p.stop()
		return fmt.Errorf("%w after %v", ErrToolWaitTimeout, o.opts.blockWait)
	}
}

// settleTurn records the part of an interrupted turn the model must see:
// the blocks it produced and one result per tool call among them. A
// presenter still inside a tool call becomes pending so that the next
// turn waits for it.
func (o *Orchestrator) settleTurn(t *Task, p *presenter, reason string) {
	assistant, results := p.settle(reason)
	if len(assistant) > 0 {
		t.appendAssistant(assistant)
	}
	if len(results) > 0 {
		t.appendUser(results)
	}

	select {
	case <-p.done:
	default:
		o.mu.Lock()
		o.pending = p.done
		o.mu.Unlock()
		o.logger.Warn("tool still running after the turn ended", "task", t.ID, "reason", reason)
	}
}

// awaitTools blocks until a tool left running by an interrupted turn has
// finished, so that tool calls never overlap.
func (o *Orchestrator) awaitTools(ctx context.Context) error {
	o.mu.Lock()
	pending := o.pending
	o.mu.Unlock()
	if pending == nil {
		return nil
	}

	select {
	case <-pending:
	case <-ctx.Done():
		return fmt.Errorf("waiting for a running tool: %w", ctx.Err())
	}
	o.mu.Lock()
	if o.pending == pending {
		o.pending = nil
	}
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) complete(t *Task, result string) {
	t.setState(models.TaskStateCompleted)
	o.metrics.incTask(string(models.TaskStateCompleted))
	usage := t.tokens.Total()
	o.logger.Info("task completed", "task", t.ID, "requests", t.requestCount(), "cost", usage.Cost)
	o.emit(Event{Type: EventTaskCompleted, TaskID: t.ID, Message: result, Usage: &usage})
}

// fail records err as the task's terminal error and emits it.
func (o *Orchestrator) fail(t *Task, err error) error {
	t.setState(models.TaskStateErrored)
	o.metrics.incTask(string(models.TaskStateErrored))
	o.metrics.incError(errorKind(err))
	o.logger.Error("task failed", "task", t.ID, "error", err)
	usage := t.tokens.Total()
	o.emit(Event{Type: EventError, TaskID: t.ID, Message: err.Error(), Err: err, Usage: &usage})
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, llm.ErrContextWindowExceeded):
		return "context_window"
	case errors.Is(err, llm.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrToolWaitTimeout):
		return "tool_wait_timeout"
	case errors.Is(err, ErrTooManyMistakes):
		return "mistakes"
	case errors.Is(err, ErrRequestLimit):
		return "request_limit"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "provider"
}
