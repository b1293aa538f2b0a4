// Package contextmgr decides how much conversation history is sent to the
// model. It estimates token usage, computes truncation ranges that keep
// user/assistant turns paired, and overlays truncation notices onto the
// model-facing view without mutating stored history.
package contextmgr

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

const (
	// charsPerToken is the text-to-token heuristic.
	charsPerToken = 4
	// imageTokens is the flat cost charged per image block.
	imageTokens = 1000
	// reserveRatio is the share of the window usable by the prompt.
	reserveRatio = 0.8
	// defaultCacheSize bounds the per-message estimate cache.
	defaultCacheSize = 4096
)

// Window describes a model's context budget.
type Window struct {
	Window     int
	MaxAllowed int
}

// WindowInfo returns the window for model with 20% reserved for the response.
func WindowInfo(model llm.ModelInfo) Window {
	window := model.ContextWindow
	if window <= 0 {
		window = llm.DefaultContextWindow
	}
	return Window{
		Window:     window,
		MaxAllowed: int(float64(window) * reserveRatio),
	}
}

// ShouldCompact reports whether the estimate has reached the budget.
func ShouldCompact(estimate, maxAllowed int) bool {
	return estimate >= maxAllowed
}

// Metadata is everything the orchestrator needs for one iteration.
type Metadata struct {
	View            []models.Message
	EstimatedTokens int
	Window          Window
	ShouldCompact   bool
}

// Manager holds the per-task edit log and the estimate cache.
type Manager struct {
	mu    sync.Mutex
	edits *EditLog
	cache *lru.Cache[string, int]
}

// New creates a Manager with an empty edit log.
func New() *Manager {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, int](defaultCacheSize)
	return &Manager{
		edits: NewEditLog(),
		cache: cache,
	}
}

// EstimateTokens approximates the token count of messages.
func (m *Manager) EstimateTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.estimateMessage(msg)
	}
	return total
}

func (m *Manager) estimateMessage(msg models.Message) int {
	if msg.ID != "" {
		if n, ok := m.cache.Get(msg.ID); ok {
			return n
		}
	}
	n := EstimateMessage(msg)
	if msg.ID != "" {
		m.cache.Add(msg.ID, n)
	}
	return n
}

// EstimateMessage approximates a single message without caching.
func EstimateMessage(msg models.Message) int {
	chars := 0
	images := 0
	for _, b := range msg.Content {
		switch b.Type {
		case models.BlockText:
			chars += len(b.Text)
		case models.BlockToolUse:
			chars += len(b.Name) + len(b.Input)
		case models.BlockImage:
			images++
		}
	}
	return (chars+charsPerToken-1)/charsPerToken + images*imageTokens
}

// ApplyNotice records the truncation notice once. Later calls are no-ops
// until ClearNotices.
func (m *Manager) ApplyNotice(ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edits.Has(noticeMessage, noticeBlock) {
		return false
	}
	m.edits.Add(noticeMessage, noticeBlock, ts, TruncationNotice)
	return true
}

// ClearNotices drops every recorded edit.
func (m *Manager) ClearNotices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = NewEditLog()
}

// HasNotice reports whether a truncation notice is recorded.
func (m *Manager) HasNotice() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits.Has(noticeMessage, noticeBlock)
}

// Metadata builds the view for r with edits overlaid and estimates it.
// It does not modify messages or the manager's edit log.
func (m *Manager) Metadata(messages []models.Message, model llm.ModelInfo, r Range) Metadata {
	m.mu.Lock()
	overlaid := m.edits.Overlay(messages)
	m.mu.Unlock()

	view := TruncatedView(overlaid, r)
	estimate := m.EstimateTokens(view)
	window := WindowInfo(model)

	return Metadata{
		View:            view,
		EstimatedTokens: estimate,
		Window:          window,
		ShouldCompact:   ShouldCompact(estimate, window.MaxAllowed),
	}
}
