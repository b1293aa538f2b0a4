package llm

import "sync"

// TokenTracker accumulates usage across requests.
type TokenTracker struct {
	mu    sync.Mutex
	total Usage
	calls int
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records one request's usage.
func (t *TokenTracker) Add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.InputTokens += u.InputTokens
	t.total.OutputTokens += u.OutputTokens
	t.total.CacheWriteTokens += u.CacheWriteTokens
	t.total.CacheReadTokens += u.CacheReadTokens
	t.total.Cost += u.Cost
	t.calls++
}

// Total returns the accumulated usage.
func (t *TokenTracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Calls returns the number of recorded requests.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears all tracked usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = Usage{}
	t.calls = 0
}
