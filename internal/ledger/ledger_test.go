package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func record(t *testing.T, l *Ledger, events ...orchestrator.Event) {
	t.Helper()
	for _, e := range events {
		if err := l.Record(e); err != nil {
			t.Fatalf("Record(%s): %v", e.Type, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}
	l.Close()

	// Migrations must be idempotent.
	l, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l.Close()
}

func TestRecord_CompletedTask(t *testing.T) {
	l := setupLedger(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := models.Succeeded("file contents")

	record(t, l,
		orchestrator.Event{Type: orchestrator.EventTaskStarted, TaskID: "t1", Message: "read a file", Timestamp: ts},
		orchestrator.Event{Type: orchestrator.EventMessage, TaskID: "t1", Message: "Read", Partial: true, Timestamp: ts},
		orchestrator.Event{Type: orchestrator.EventMessage, TaskID: "t1", Message: "Reading now.", Timestamp: ts},
		orchestrator.Event{
			Type:      orchestrator.EventToolExecuted,
			TaskID:    "t1",
			Tool:      &orchestrator.ToolCall{Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
			Result:    &res,
			Timestamp: ts.Add(time.Second),
		},
		orchestrator.Event{
			Type:      orchestrator.EventTaskCompleted,
			TaskID:    "t1",
			Message:   "done",
			Usage:     &llm.Usage{InputTokens: 120, OutputTokens: 30, Cost: 0.01},
			Timestamp: ts.Add(2 * time.Second),
		},
	)

	task, err := l.Task("t1")
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task == nil {
		t.Fatal("task not recorded")
	}
	if task.Status != StatusCompleted || task.Result != "done" || task.Prompt != "read a file" {
		t.Errorf("task = %+v", task)
	}
	if task.InputTokens != 120 || task.OutputTokens != 30 || task.Cost != 0.01 {
		t.Errorf("usage = %d/%d/%v", task.InputTokens, task.OutputTokens, task.Cost)
	}
	if !task.StartedAt.Equal(ts) {
		t.Errorf("StartedAt = %v, want %v", task.StartedAt, ts)
	}
	if task.FinishedAt == nil || !task.FinishedAt.Equal(ts.Add(2*time.Second)) {
		t.Errorf("FinishedAt = %v", task.FinishedAt)
	}

	events, err := l.Events("t1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	wantTypes := []string{"task_started", "message", "tool_executed", "task_completed"}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %q, want %q", i, events[i].Type, want)
		}
	}
	tool := events[2]
	if tool.Tool != "read_file" || tool.ToolInput != `{"path":"a.txt"}` || tool.Message != "file contents" {
		t.Errorf("tool event = %+v", tool)
	}
	if tool.Success == nil || !*tool.Success {
		t.Errorf("tool success = %v", tool.Success)
	}
}

func TestRecord_FailedAndAbortedTasks(t *testing.T) {
	l := setupLedger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record(t, l,
		orchestrator.Event{Type: orchestrator.EventTaskStarted, TaskID: "failed", Message: "one", Timestamp: base},
		orchestrator.Event{Type: orchestrator.EventError, TaskID: "failed", Message: "rate limited", Err: errors.New("rate limited"), Timestamp: base},
		orchestrator.Event{Type: orchestrator.EventTaskStarted, TaskID: "aborted", Message: "two", Timestamp: base.Add(time.Minute)},
		orchestrator.Event{Type: orchestrator.EventTaskAborted, TaskID: "aborted", Timestamp: base.Add(time.Minute)},
	)

	tasks, err := l.Tasks(0)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != "aborted" || tasks[0].Status != StatusAborted {
		t.Errorf("newest task = %+v", tasks[0])
	}
	if tasks[1].ID != "failed" || tasks[1].Status != StatusFailed || tasks[1].Error != "rate limited" {
		t.Errorf("oldest task = %+v", tasks[1])
	}

	limited, err := l.Tasks(1)
	if err != nil {
		t.Fatalf("Tasks(1): %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "aborted" {
		t.Errorf("Tasks(1) = %+v", limited)
	}
}

func TestRecord_IgnoresUnknownTasks(t *testing.T) {
	l := setupLedger(t)
	record(t, l,
		orchestrator.Event{Type: orchestrator.EventMessage, Source: "fs", Message: "[info] between tasks"},
		orchestrator.Event{Type: orchestrator.EventToolExecuted, TaskID: "missing", Tool: &orchestrator.ToolCall{Name: "read_file"}},
	)

	events, err := l.Events("missing")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events for unknown task = %+v", events)
	}
	task, err := l.Task("missing")
	if err != nil || task != nil {
		t.Errorf("Task(missing) = %v, %v", task, err)
	}
}

func TestRun_ConsumesChannel(t *testing.T) {
	l := setupLedger(t)
	obs := orchestrator.NewChannelObserver(8)

	done := make(chan struct{})
	go func() {
		l.Run(context.Background(), obs.Events())
		close(done)
	}()

	obs.OnEvent(orchestrator.Event{Type: orchestrator.EventTaskStarted, TaskID: "t1", Message: "go"})
	obs.OnEvent(orchestrator.Event{Type: orchestrator.EventTaskCompleted, TaskID: "t1", Message: "ok"})
	obs.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}

	task, err := l.Task("t1")
	if err != nil || task == nil {
		t.Fatalf("Task: %v, %v", task, err)
	}
	if task.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
}
