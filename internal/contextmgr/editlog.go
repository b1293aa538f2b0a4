package contextmgr

import (
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// TruncationNotice replaces the first block of the first assistant message
// once history has been elided.
const TruncationNotice = "[NOTE] Some previous conversation history with the user has been removed to stay within the context window. " +
	"The initial task is kept for continuity and the most recent messages follow."

const (
	noticeMessage = 1
	noticeBlock   = 0
)

type editKey struct {
	message int
	block   int
}

// Edit is one timestamped text override.
type Edit struct {
	Timestamp time.Time
	Text      string
}

// EditLog is a sparse set of text overrides keyed by message and block index.
// The newest edit for a key wins when overlaid.
type EditLog struct {
	edits map[editKey][]Edit
}

// NewEditLog creates an empty log.
func NewEditLog() *EditLog {
	return &EditLog{edits: make(map[editKey][]Edit)}
}

// Add records an override for the block at (message, block).
func (l *EditLog) Add(message, block int, ts time.Time, text string) {
	key := editKey{message, block}
	entries := append(l.edits[key], Edit{Timestamp: ts, Text: text})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	l.edits[key] = entries
}

// Has reports whether any edit exists for (message, block).
func (l *EditLog) Has(message, block int) bool {
	return len(l.edits[editKey{message, block}]) > 0
}

// Len returns the number of edited blocks.
func (l *EditLog) Len() int {
	return len(l.edits)
}

// Overlay returns messages with edits applied. Edited messages are copied
// and given a derived ID; the input slice and its messages are untouched.
func (l *EditLog) Overlay(messages []models.Message) []models.Message {
	if len(l.edits) == 0 {
		return messages
	}

	out := make([]models.Message, len(messages))
	copy(out, messages)

	for key, entries := range l.edits {
		if key.message >= len(out) || len(entries) == 0 {
			continue
		}
		latest := entries[len(entries)-1]
		msg := out[key.message]

		content := make([]models.ContentBlock, len(msg.Content))
		copy(content, msg.Content)
		switch {
		case key.block < len(content) && content[key.block].Type == models.BlockText:
			content[key.block].Text = latest.Text
		case key.block <= len(content):
			content = append(content[:key.block], append([]models.ContentBlock{models.TextBlock(latest.Text)}, content[key.block:]...)...)
		default:
			continue
		}

		msg.Content = content
		msg.ID = fmt.Sprintf("%s#edit-%d", msg.ID, latest.Timestamp.UnixNano())
		out[key.message] = msg
	}
	return out
}
