package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskpilot/internal/contextmgr"
	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Task is the state of one conversation with the model. Only the loop
// goroutine mutates history and counters; the mutex guards reads from
// other goroutines.
type Task struct {
	ID string

	mu         sync.Mutex
	state      models.TaskState
	history    []models.Message
	truncation contextmgr.Range
	requests   int
	mistakes   int
	running    bool

	ctx    *contextmgr.Manager
	tokens *llm.TokenTracker

	aborted      atomic.Bool
	abortEmitted atomic.Bool
}

// TaskInfo is a read-only snapshot of a task.
type TaskInfo struct {
	ID         string
	State      models.TaskState
	Messages   []models.Message
	Truncation contextmgr.Range
	Requests   int
	Mistakes   int
	Usage      llm.Usage
}

func newTask() *Task {
	return &Task{
		ID:         uuid.NewString(),
		state:      models.TaskStateIdle,
		truncation: contextmgr.EmptyRange(),
		ctx:        contextmgr.New(),
		tokens:     llm.NewTokenTracker(),
	}
}

func (t *Task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskInfo{
		ID:         t.ID,
		State:      t.state,
		Messages:   append([]models.Message(nil), t.history...),
		Truncation: t.truncation,
		Requests:   t.requests,
		Mistakes:   t.mistakes,
		Usage:      t.tokens.Total(),
	}
}

func (t *Task) setState(s models.TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// State returns the current state.
func (t *Task) State() models.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Message(nil), t.history...)
}

// appendUser adds user content, merging it into a trailing user message
// so that roles alternate. The merged message gets a fresh ID because its
// content changed.
func (t *Task) appendUser(content []models.ContentBlock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.history); n > 0 && t.history[n-1].Role == models.RoleUser {
		merged := append(append([]models.ContentBlock(nil), t.history[n-1].Content...), content...)
		t.history[n-1] = models.NewMessage(models.RoleUser, merged...)
		return
	}
	t.history = append(t.history, models.NewMessage(models.RoleUser, content...))
}

func (t *Task) appendAssistant(content []models.ContentBlock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, models.NewMessage(models.RoleAssistant, content...))
}

func (t *Task) truncationRange() contextmgr.Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncation
}

// compact advances the truncation range with keep and records the notice.
// It reports whether any more messages were hidden.
func (t *Task) compact(keep contextmgr.Keep, now func() time.Time) bool {
	t.mu.Lock()
	next := contextmgr.NextTruncationRange(t.history, t.truncation, keep)
	grew := next.End > t.truncation.End
	t.truncation = next
	t.mu.Unlock()
	if grew {
		t.ctx.ApplyNotice(now())
	}
	return grew
}

func (t *Task) nextRequest() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	return t.requests
}

func (t *Task) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests
}

// addMistake increments the consecutive mistake counter and returns it.
func (t *Task) addMistake() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mistakes++
	return t.mistakes
}

func (t *Task) clearMistakes() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mistakes = 0
}

// begin marks the loop as running.
func (t *Task) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
}

func (t *Task) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
}

func (t *Task) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// requestAbort sets the abort flag. The loop notices it before the next
// request and after the chunk being read; a network call in flight is
// left to finish. It reports whether this call set the flag.
func (t *Task) requestAbort() bool {
	return t.aborted.CompareAndSwap(false, true)
}
