package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator"
)

// eventPrinter renders orchestrator events to a terminal.
type eventPrinter struct {
	out     io.Writer
	verbose bool

	mu sync.Mutex
	// partial is the streamed text already written for the current block.
	partial string

	toolStyle   *color.Color
	okStyle     *color.Color
	failStyle   *color.Color
	warnStyle   *color.Color
	dimStyle    *color.Color
	sourceStyle *color.Color
}

func newEventPrinter(out io.Writer, verbose bool) *eventPrinter {
	return &eventPrinter{
		out:         out,
		verbose:     verbose,
		toolStyle:   color.New(color.FgBlue, color.Bold),
		okStyle:     color.New(color.FgGreen),
		failStyle:   color.New(color.FgRed),
		warnStyle:   color.New(color.FgYellow),
		dimStyle:    color.New(color.Faint),
		sourceStyle: color.New(color.FgCyan),
	}
}

// OnEvent implements orchestrator.Observer.
func (p *eventPrinter) OnEvent(e orchestrator.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case orchestrator.EventTaskStarted:
		p.dimStyle.Fprintf(p.out, "task %s\n", e.TaskID)
	case orchestrator.EventMessage:
		p.message(e)
	case orchestrator.EventToolExecuted:
		p.endPartial()
		p.tool(e)
	case orchestrator.EventTaskCompleted:
		p.endPartial()
		fmt.Fprintf(p.out, "\n%s Task completed\n", p.okStyle.Sprint("✓"))
		if e.Message != "" {
			fmt.Fprintln(p.out, e.Message)
		}
		p.usage(e.Usage)
	case orchestrator.EventTaskAborted:
		p.endPartial()
		fmt.Fprintf(p.out, "\n%s Task aborted\n", p.warnStyle.Sprint("⚠"))
		p.usage(e.Usage)
	case orchestrator.EventError:
		p.endPartial()
		fmt.Fprintf(p.out, "\n%s %s\n", p.failStyle.Sprint("✗"), e.Message)
		p.usage(e.Usage)
	}
	return nil
}

func (p *eventPrinter) message(e orchestrator.Event) {
	switch {
	case e.Source != "":
		p.endPartial()
		fmt.Fprintf(p.out, "%s %s\n", p.sourceStyle.Sprintf("[%s]", e.Source), e.Message)
	case e.Reasoning:
		if p.verbose {
			p.dimStyle.Fprint(p.out, e.Message)
		}
	case e.Partial:
		if !strings.HasPrefix(e.Message, p.partial) {
			p.endPartial()
		}
		fmt.Fprint(p.out, strings.TrimPrefix(e.Message, p.partial))
		p.partial = e.Message
	default:
		if p.partial != "" && strings.HasPrefix(e.Message, p.partial) {
			fmt.Fprintln(p.out, strings.TrimPrefix(e.Message, p.partial))
			p.partial = ""
			return
		}
		p.endPartial()
		fmt.Fprintln(p.out, e.Message)
	}
}

// endPartial terminates a streamed block that never got its final text.
func (p *eventPrinter) endPartial() {
	if p.partial != "" {
		fmt.Fprintln(p.out)
		p.partial = ""
	}
}

func (p *eventPrinter) tool(e orchestrator.Event) {
	if e.Tool == nil {
		return
	}
	mark := p.okStyle.Sprint("✓")
	if e.Result != nil && !e.Result.Success {
		mark = p.failStyle.Sprint("✗")
	}
	desc := e.Tool.Description
	if desc == "" {
		desc = e.Tool.Name
	}
	line := fmt.Sprintf("%s %s", mark, p.toolStyle.Sprint(desc))
	if e.Tool.Auto {
		line += p.dimStyle.Sprint(" (auto)")
	}
	fmt.Fprintln(p.out, line)

	if e.Result != nil && !e.Result.Success {
		first, _, _ := strings.Cut(e.Result.Content, "\n")
		fmt.Fprintf(p.out, "  %s\n", p.failStyle.Sprint(first))
	}
}

func (p *eventPrinter) usage(u *llm.Usage) {
	if u == nil || (u.InputTokens == 0 && u.OutputTokens == 0) {
		return
	}
	p.dimStyle.Fprintf(p.out, "tokens: %s in, %s out, $%.4f\n",
		formatNumber(int(u.InputTokens)), formatNumber(int(u.OutputTokens)), u.Cost)
}
