package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/approval"
	"github.com/ShayCichocki/taskpilot/internal/dispatch"
	"github.com/ShayCichocki/taskpilot/internal/tools"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// presenter walks the parsed blocks of one response with an explicit
// cursor. It only advances past complete blocks, so every block is
// presented once and tools run strictly in order. done is closed once the
// stream has ended and the cursor is exhausted, or after stop.
type presenter struct {
	o    *Orchestrator
	t    *Task
	mode models.Mode
	// ctx is detached from the stream so tools outlive the request.
	ctx context.Context

	mu          sync.Mutex
	blocks      []models.ContentBlock
	final       bool
	streamDone  bool
	stopped     bool
	settled     bool
	cursor      int
	partialText string

	// results holds the rendered results of the first resolved tool_use
	// blocks in cursor order.
	results  []models.ContentBlock
	resolved int

	wake chan struct{}
	done chan struct{}

	// Read only after done is closed.
	toolUsed       bool
	failures       int
	denied         bool
	completed      bool
	completionText string
}

func newPresenter(o *Orchestrator, t *Task, mode models.Mode, ctx context.Context) *presenter {
	return &presenter{
		o:    o,
		t:    t,
		mode: mode,
		ctx:  ctx,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// update replaces the block list. final marks the end of the stream.
func (p *presenter) update(blocks []models.ContentBlock, final bool) {
	p.mu.Lock()
	p.blocks = blocks
	if final {
		p.final = true
		p.streamDone = true
	}
	p.mu.Unlock()
	p.signal()
}

// stop makes the presenter exit after the block in progress.
func (p *presenter) stop() {
	p.mu.Lock()
	p.stopped = true
	p.streamDone = true
	p.mu.Unlock()
	p.signal()
}

func (p *presenter) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next returns the block under the cursor. wait is true when the presenter
// must block until the next update.
func (p *presenter) next() (block models.ContentBlock, more, wait bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.t.aborted.Load() {
		return models.ContentBlock{}, false, false
	}
	if p.cursor >= len(p.blocks) {
		return models.ContentBlock{}, !p.streamDone, !p.streamDone
	}
	return p.blocks[p.cursor], true, false
}

func (p *presenter) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor++
	p.partialText = ""
}

func (p *presenter) run() {
	defer close(p.done)
	for {
		block, more, wait := p.next()
		if !more {
			return
		}
		if wait {
			<-p.wake
			continue
		}
		if block.Partial {
			p.presentPartial(block)
			<-p.wake
			continue
		}
		switch block.Type {
		case models.BlockText:
			p.o.emit(Event{Type: EventMessage, TaskID: p.t.ID, Message: block.Text})
		case models.BlockToolUse:
			p.presentTool(block)
		}
		p.advance()
	}
}

// presentPartial emits streaming text once per change.
func (p *presenter) presentPartial(block models.ContentBlock) {
	if block.Type != models.BlockText {
		return
	}
	p.mu.Lock()
	changed := block.Text != p.partialText
	p.partialText = block.Text
	p.mu.Unlock()
	if changed {
		p.o.emit(Event{Type: EventMessage, TaskID: p.t.ID, Message: block.Text, Partial: true})
	}
}

func (p *presenter) presentTool(block models.ContentBlock) {
	name := block.Name
	if p.completed {
		// Nothing after a completion is executed.
		p.resolve(name, models.Failed("%s", ignoredResult))
		return
	}
	p.toolUsed = true
	call := &ToolCall{Name: name, Input: block.Input, Description: dispatch.Describe(name, block.Input)}

	var res models.ToolResult
	switch {
	case p.denied:
		res = models.Failed(skippedResult)
		p.o.metrics.incToolOutcome(name, "skipped")
	case p.mode == models.ModePlan && name != tools.CompletionTool && !p.o.dispatcher.IsReadOnly(name):
		res = models.Failed("Tool %s is not available in plan mode. Use read-only tools, or ask the user to switch to act mode.", name)
		p.failures++
		p.o.metrics.incToolOutcome(name, "refused")
	default:
		approved, auto := p.approve(call, block)
		call.Auto = auto
		if !approved {
			p.denied = true
			res = models.Failed(deniedResult)
			p.o.metrics.incToolOutcome(name, "denied")
			break
		}
		start := time.Now()
		res = p.o.dispatcher.Execute(p.ctx, name, block.Input)
		p.o.metrics.observeTool(name, res.Success, time.Since(start))
		if !res.Success {
			p.failures++
		}
		if name == tools.CompletionTool && res.Success {
			p.completed = true
			p.completionText = res.Content
		}
	}

	p.o.logger.Debug("tool presented", "task", p.t.ID, "tool", name, "success", res.Success)
	p.resolve(name, res)
	p.o.emit(Event{Type: EventToolExecuted, TaskID: p.t.ID, Tool: call, Result: &res})
}

// resolve records res as the result of the tool call under the cursor.
// A settled presenter no longer records anything.
func (p *presenter) resolve(name string, res models.ToolResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.results = append(p.results, res.Blocks(name)...)
	p.resolved++
}

// settle freezes the record of a turn that was cut short. It returns the
// assistant blocks to keep, or nil when the full response was already
// recorded, and one result per tool_use block among them: the recorded
// ones first, then a failed result carrying reason for every call that
// had not finished. Before the stream ended only blocks up to the cursor
// count, and a partial tool block is dropped.
func (p *presenter) settle(reason string) (assistant, results []models.ContentBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = true

	end := len(p.blocks)
	if !p.final {
		end = min(p.cursor+1, len(p.blocks))
	}
	results = append(results, p.results...)
	seen := 0
	for _, b := range p.blocks[:end] {
		if b.Partial {
			if b.Type == models.BlockText {
				b.Partial = false
				assistant = append(assistant, b)
			}
			continue
		}
		assistant = append(assistant, b)
		if b.Type != models.BlockToolUse {
			continue
		}
		if seen++; seen > p.resolved {
			results = append(results, models.Failed("%s", reason).Blocks(b.Name)...)
		}
	}
	if p.final {
		assistant = nil
	}
	return assistant, results
}

// approve consults the gate. The completion tool and a missing gate need
// no approval.
func (p *presenter) approve(call *ToolCall, block models.ContentBlock) (approved, auto bool) {
	gate := p.o.opts.gate
	if gate == nil || call.Name == tools.CompletionTool {
		return true, true
	}
	_, _, remote := dispatch.SplitRemote(call.Name)
	decision, err := gate.Check(p.ctx, approval.Request{
		Tool:           call.Name,
		Input:          block.Input,
		Description:    call.Description,
		Remote:         remote,
		ServerApproved: remote && p.o.dispatcher.IsServerApproved(call.Name),
	})
	if err != nil {
		p.o.logger.Warn("approval failed", "task", p.t.ID, "tool", call.Name, "error", err)
		return false, false
	}
	return decision.Approved, decision.Auto
}

// outcome returns the next user content and whether the turn was a mistake.
func (p *presenter) outcome() ([]models.ContentBlock, bool) {
	if !p.toolUsed {
		return []models.ContentBlock{models.TextBlock(noToolUsedNudge)}, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results, p.failures > 0
}
