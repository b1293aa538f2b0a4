// Package ledger records orchestrator events in a SQLite database so past
// tasks can be listed and replayed after the process exits.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/taskpilot/internal/orchestrator"
)

// Ledger wraps an SQLite connection holding tasks and their events.
type Ledger struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// DefaultPath returns the ledger location under the XDG data directory.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskpilot", "ledger.db")
}

// Open opens the ledger at path, creating parent directories, and applies
// pending migrations. WAL mode is enabled so readers do not block the writer.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Ledger{conn: conn, path: path, logger: logger.With("component", "ledger")}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) migrate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := l.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Events},
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := l.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	result TEXT,
	error TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV2Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	message TEXT,
	source TEXT,
	tool TEXT,
	tool_input TEXT,
	success INTEGER,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
`

// Run records events from ch until it is closed or ctx is done.
// Partial messages are skipped; only their final text is kept.
func (l *Ledger) Run(ctx context.Context, ch <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := l.Record(e); err != nil {
				l.logger.Warn("record event", "type", e.Type, "task", e.TaskID, "error", err)
			}
		}
	}
}

// Record stores one event. Events without a task ID, such as capability
// notifications between tasks, are ignored.
func (l *Ledger) Record(e orchestrator.Event) error {
	if e.TaskID == "" || (e.Type == orchestrator.EventMessage && e.Partial) {
		return nil
	}

	return l.transaction(func(tx *sql.Tx) error {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		switch e.Type {
		case orchestrator.EventTaskStarted:
			if _, err := tx.Exec(
				"INSERT OR IGNORE INTO tasks (id, prompt, status, started_at) VALUES (?, ?, ?, ?)",
				e.TaskID, e.Message, StatusRunning, formatTime(ts),
			); err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
		case orchestrator.EventTaskCompleted, orchestrator.EventTaskAborted, orchestrator.EventError:
			if err := finishTask(tx, e, ts); err != nil {
				return err
			}
		}

		var tool, input sql.NullString
		var success sql.NullBool
		if e.Tool != nil {
			tool = sql.NullString{String: e.Tool.Name, Valid: true}
			input = sql.NullString{String: string(e.Tool.Input), Valid: len(e.Tool.Input) > 0}
		}
		if e.Result != nil {
			success = sql.NullBool{Bool: e.Result.Success, Valid: true}
		}
		message := e.Message
		if e.Result != nil && message == "" {
			message = e.Result.Content
		}

		_, err := tx.Exec(
			`INSERT INTO events (task_id, type, message, source, tool, tool_input, success, created_at)
			 SELECT ?, ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM tasks WHERE id = ?)`,
			e.TaskID, string(e.Type), message, e.Source, tool, input, success, formatTime(ts), e.TaskID,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

func finishTask(tx *sql.Tx, e orchestrator.Event, ts time.Time) error {
	status := StatusCompleted
	var result, errText sql.NullString
	switch e.Type {
	case orchestrator.EventTaskCompleted:
		result = sql.NullString{String: e.Message, Valid: true}
	case orchestrator.EventTaskAborted:
		status = StatusAborted
	case orchestrator.EventError:
		status = StatusFailed
		errText = sql.NullString{String: e.Message, Valid: true}
	}

	var in, out int64
	var cost float64
	if e.Usage != nil {
		in, out, cost = e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.Cost
	}
	_, err := tx.Exec(
		`UPDATE tasks SET status = ?, result = ?, error = ?, input_tokens = ?, output_tokens = ?, cost = ?, finished_at = ?
		 WHERE id = ?`,
		status, result, errText, in, out, cost, formatTime(ts), e.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", e.TaskID, err)
	}
	return nil
}

func (l *Ledger) transaction(fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
