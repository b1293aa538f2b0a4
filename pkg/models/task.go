// Package models holds the data types shared across taskpilot packages.
package models

// Mode selects which system prompt, model and tool set a task runs with.
type Mode string

const (
	// ModePlan restricts the task to read-only tools.
	ModePlan Mode = "plan"
	// ModeAct allows every registered tool.
	ModeAct Mode = "act"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModePlan, ModeAct:
		return true
	default:
		return false
	}
}

// TaskState is the lifecycle state of a task loop.
type TaskState string

const (
	TaskStateIdle                   TaskState = "idle"
	TaskStateRunning                TaskState = "running"
	TaskStateStreaming              TaskState = "streaming"
	TaskStatePresenting             TaskState = "presenting"
	TaskStateAwaitingToolCompletion TaskState = "awaiting_tool_completion"
	TaskStateCompleted              TaskState = "completed"
	TaskStateAborted                TaskState = "aborted"
	TaskStateErrored                TaskState = "errored"
)

// Terminal returns true if no further iterations run from this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateAborted, TaskStateErrored:
		return true
	default:
		return false
	}
}
