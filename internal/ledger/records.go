package ledger

import (
	"database/sql"
	"fmt"
	"time"
)

// Status is the recorded outcome of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// TaskRecord is one row of the tasks table.
type TaskRecord struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	Status       Status     `json:"status"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	Cost         float64    `json:"cost"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// EventRecord is one row of the events table.
type EventRecord struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Source    string    `json:"source,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	ToolInput string    `json:"tool_input,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Tasks returns the most recently started tasks, newest first.
// A limit of 0 or less returns every task.
func (l *Ledger) Tasks(limit int) ([]TaskRecord, error) {
	query := `SELECT id, prompt, status, result, error, input_tokens, output_tokens, cost, started_at, finished_at
		FROM tasks ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	rows, err := l.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Task returns the task with the given ID, or nil if it is not recorded.
func (l *Ledger) Task(id string) (*TaskRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	row := l.conn.QueryRow(`SELECT id, prompt, status, result, error, input_tokens, output_tokens, cost, started_at, finished_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Events returns the recorded events of a task in order.
func (l *Ledger) Events(taskID string) ([]EventRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows, err := l.conn.Query(`SELECT id, task_id, type, message, source, tool, tool_input, success, created_at
		FROM events WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var message, source, tool, input sql.NullString
		var success sql.NullBool
		var created string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &message, &source, &tool, &input, &success, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Message = message.String
		e.Source = source.String
		e.Tool = tool.String
		e.ToolInput = input.String
		if success.Valid {
			ok := success.Bool
			e.Success = &ok
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (TaskRecord, error) {
	var t TaskRecord
	var result, errText, finished sql.NullString
	var started string
	if err := s.Scan(&t.ID, &t.Prompt, &t.Status, &result, &errText, &t.InputTokens, &t.OutputTokens, &t.Cost, &started, &finished); err != nil {
		if err == sql.ErrNoRows {
			return t, err
		}
		return t, fmt.Errorf("scan task: %w", err)
	}
	t.Result = result.String
	t.Error = errText.String

	var err error
	if t.StartedAt, err = parseTime(started); err != nil {
		return t, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		ft, err := parseTime(finished.String)
		if err != nil {
			return t, fmt.Errorf("parse finished_at: %w", err)
		}
		t.FinishedAt = &ft
	}
	return t, nil
}
