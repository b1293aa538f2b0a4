package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskStarted indicates a task has started.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates the model signalled completion.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskAborted is the terminal event of an aborted task.
	EventTaskAborted EventType = "task_aborted"
	// EventToolExecuted reports one presented tool invocation and its result.
	EventToolExecuted EventType = "tool_executed"
	// EventError reports an error that stopped the loop.
	EventError EventType = "error"
	// EventMessage carries model text, reasoning or server notifications.
	EventMessage EventType = "message"
)

// ToolCall describes a presented tool invocation.
type ToolCall struct {
	Name        string          `json:"name"`
	Input       json.RawMessage `json:"input"`
	Description string          `json:"description"`
	// Auto is true when the call ran without explicit approval.
	Auto bool `json:"auto"`
}

// Event is emitted to every observer.
type Event struct {
	Type      EventType
	TaskID    string
	Timestamp time.Time
	// Message is text for message events and the result for task_completed.
	Message string
	// Partial marks a text message that is still streaming.
	Partial bool
	// Reasoning marks a message carrying model reasoning.
	Reasoning bool
	// Source names the capability server for notification messages.
	Source string
	Tool   *ToolCall
	Result *models.ToolResult
	Err    error
	// Usage is the task's accumulated usage on terminal events.
	Usage *llm.Usage
}

// Observer receives events synchronously. Errors are logged and do not
// affect the task.
type Observer interface {
	OnEvent(Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event) error

// OnEvent calls f.
func (f ObserverFunc) OnEvent(e Event) error { return f(e) }

// AddObserver registers an observer for all future events.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, obs)
}

// emit delivers e to every observer in registration order.
func (o *Orchestrator) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	o.obsMu.RLock()
	observers := append([]Observer(nil), o.observers...)
	o.obsMu.RUnlock()

	for _, obs := range observers {
		if err := deliver(obs, e); err != nil {
			o.logger.Warn("observer failed", "event", e.Type, "task", e.TaskID, "error", err)
		}
	}
}

// deliver isolates a single observer so a panic cannot reach the loop.
func deliver(obs Observer, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.OnEvent(e)
}

// Attrs returns the event as slog attributes for structured logging.
func (e Event) Attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("task", e.TaskID),
	}
	if e.Tool != nil {
		attrs = append(attrs, slog.String("tool", e.Tool.Name))
	}
	if e.Result != nil {
		attrs = append(attrs, slog.Bool("success", e.Result.Success))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	return attrs
}
