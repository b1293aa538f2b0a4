// Package llm adapts language-model vendors to a single streaming interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var (
	// ErrContextWindowExceeded means the prompt did not fit the model's window.
	ErrContextWindowExceeded = errors.New("context window exceeded")
	// ErrRateLimited means the provider rejected the request for capacity.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnsupportedProvider is returned for a provider name with no factory.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrMissingAPIKey is returned when a provider needs a key and has none.
	ErrMissingAPIKey = errors.New("missing API key")
)

// ChunkType tags a stream chunk.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkUsage     ChunkType = "usage"
	ChunkReasoning ChunkType = "reasoning"
)

// Usage is token accounting for one request.
type Usage struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int64   `json:"cache_read_tokens,omitempty"`
	Cost             float64 `json:"cost"`
}

// Chunk is one unit of streamed output.
type Chunk struct {
	Type  ChunkType
	Text  string
	Usage *Usage
}

// Request is a single model call.
type Request struct {
	System   string
	Messages []models.Message
}

// Stream yields chunks until Next returns io.EOF.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Provider opens streams against one configured model.
type Provider interface {
	Name() string
	Model() ModelInfo
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ProviderError carries the provider's status and message and unwraps
// to one of the package sentinels when the failure is classifiable.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Kind       error
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap exposes both the classification and the underlying error.
func (e *ProviderError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// contextOverflowMarkers are lowercase substrings vendors use when a prompt
// exceeds the window.
var contextOverflowMarkers = []string{
	"prompt is too long",
	"context length",
	"context_length_exceeded",
	"maximum context",
	"context window",
	"too many tokens",
	"input is too long",
}

// classify maps a status code and message onto a sentinel, or nil.
func classify(status int, message string) error {
	lower := strings.ToLower(message)
	for _, marker := range contextOverflowMarkers {
		if strings.Contains(lower, marker) {
			return ErrContextWindowExceeded
		}
	}
	switch status {
	case http.StatusTooManyRequests, 529:
		return ErrRateLimited
	case http.StatusRequestEntityTooLarge:
		return ErrContextWindowExceeded
	}
	return nil
}

// newProviderError wraps err with its classification.
func newProviderError(provider string, status int, message string, err error) *ProviderError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Kind:       classify(status, message),
		Err:        err,
	}
}

// IsContextWindowExceeded reports whether err is a context overflow.
func IsContextWindowExceeded(err error) bool {
	return errors.Is(err, ErrContextWindowExceeded)
}

// IsRateLimited reports whether err is a capacity rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
