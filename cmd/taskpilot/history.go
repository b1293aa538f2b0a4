package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/ledger"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show recorded tasks",
	Long: `List recent tasks from the event ledger.

With a task ID, prints that task's recorded events in order.
The ledger location is ledger.path in the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of tasks to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Ledger.Path
	if path == "" {
		path = ledger.DefaultPath()
	}
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "No tasks recorded. Run 'taskpilot run <task>' to start.")
		return nil
	}

	l, err := ledger.Open(path, nil)
	if err != nil {
		return err
	}
	defer l.Close()

	if len(args) == 1 {
		return displayTaskEvents(out, l, args[0])
	}
	return displayRecentTasks(out, l, historyLimit)
}

func displayRecentTasks(out io.Writer, l *ledger.Ledger, limit int) error {
	tasks, err := l.Tasks(limit)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks recorded.")
		return nil
	}

	fmt.Fprintln(out, "Recent Tasks:")
	for _, t := range tasks {
		elapsed := formatDuration(time.Since(t.StartedAt))
		fmt.Fprintf(out, "  %s: %s %q (%s ago, %s tokens)\n",
			t.ID, statusColor(t.Status).Sprint(t.Status), truncateLine(t.Prompt, 60), elapsed,
			formatNumber(int(t.InputTokens+t.OutputTokens)))
	}
	return nil
}

func displayTaskEvents(out io.Writer, l *ledger.Ledger, id string) error {
	task, err := l.Task(id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", id)
	}

	fmt.Fprintf(out, "Task: %s\n", task.ID)
	fmt.Fprintf(out, "  Prompt: %s\n", task.Prompt)
	fmt.Fprintf(out, "  Status: %s\n", statusColor(task.Status).Sprint(task.Status))
	if task.FinishedAt != nil {
		fmt.Fprintf(out, "  Duration: %s\n", formatDuration(task.FinishedAt.Sub(task.StartedAt)))
	}
	fmt.Fprintf(out, "  Tokens: %s in, %s out ($%.4f)\n",
		formatNumber(int(task.InputTokens)), formatNumber(int(task.OutputTokens)), task.Cost)
	if task.Result != "" {
		fmt.Fprintf(out, "  Result: %s\n", task.Result)
	}
	if task.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", task.Error)
	}

	events, err := l.Events(id)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	fmt.Fprintln(out)
	for _, e := range events {
		line := e.Message
		if e.Tool != "" {
			mark := "✓"
			if e.Success != nil && !*e.Success {
				mark = "✗"
			}
			line = fmt.Sprintf("%s %s %s", mark, e.Tool, e.ToolInput)
		}
		fmt.Fprintf(out, "  %s %-15s %s\n", e.CreatedAt.Local().Format("15:04:05"), e.Type, truncateLine(line, 100))
	}
	return nil
}

func statusColor(s ledger.Status) *color.Color {
	switch s {
	case ledger.StatusCompleted:
		return color.New(color.FgGreen)
	case ledger.StatusFailed:
		return color.New(color.FgRed)
	case ledger.StatusAborted:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// truncateLine keeps the first line of s, cut to max runes.
func truncateLine(s string, max int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		result.WriteString(",")
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
