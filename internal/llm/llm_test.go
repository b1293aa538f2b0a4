package llm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    error
	}{
		{"anthropic overflow", 400, "prompt is too long: 210000 tokens > 200000 maximum", ErrContextWindowExceeded},
		{"openai overflow", 400, "This model's maximum context length is 128000 tokens", ErrContextWindowExceeded},
		{"payload too large", 413, "request too large", ErrContextWindowExceeded},
		{"rate limited", 429, "slow down", ErrRateLimited},
		{"overloaded", 529, "overloaded", ErrRateLimited},
		{"server error", 500, "internal", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.status, tt.message); got != tt.want {
				t.Errorf("classify(%d, %q) = %v, want %v", tt.status, tt.message, got, tt.want)
			}
		})
	}
}

func TestProviderError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("stream: %w", newProviderError("anthropic", 429, "rate limit", cause))

	if !IsRateLimited(err) {
		t.Error("expected rate limited")
	}
	if IsContextWindowExceeded(err) {
		t.Error("did not expect context overflow")
	}
	if !errors.Is(err, cause) {
		t.Error("expected underlying cause to unwrap")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 429 {
		t.Errorf("errors.As = %+v", pe)
	}
}

func TestRegistry_Build(t *testing.T) {
	r := DefaultRegistry()

	if _, err := r.Build(Config{Provider: "vertex"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := r.Build(Config{Provider: "anthropic"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	p, err := r.Build(Config{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Name() != "openai" || p.Model().ContextWindow != 128000 {
		t.Errorf("unexpected provider %s %+v", p.Name(), p.Model())
	}

	want := []string{"anthropic", "bedrock", "ollama", "openai"}
	got := r.Names()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestLookupModel(t *testing.T) {
	known := LookupModel("claude-sonnet-4-20250514", 0)
	if known.ContextWindow != 200000 || known.ID != "claude-sonnet-4-20250514" {
		t.Errorf("known model = %+v", known)
	}
	unknown := LookupModel("my-local-model", 0)
	if unknown.ContextWindow != DefaultContextWindow {
		t.Errorf("unknown window = %d", unknown.ContextWindow)
	}
	override := LookupModel("gpt-4o", 32000)
	if override.ContextWindow != 32000 {
		t.Errorf("override window = %d", override.ContextWindow)
	}
}

func TestModelInfo_Cost(t *testing.T) {
	m := ModelInfo{InputPrice: 3, OutputPrice: 15}
	got := m.Cost(Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	if math.Abs(got-4.5) > 1e-9 {
		t.Errorf("Cost() = %v, want 4.5", got)
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(Usage{InputTokens: 10, OutputTokens: 5, Cost: 0.1})
	tr.Add(Usage{InputTokens: 1, OutputTokens: 2, Cost: 0.2})

	total := tr.Total()
	if total.InputTokens != 11 || total.OutputTokens != 7 || tr.Calls() != 2 {
		t.Errorf("Total() = %+v calls=%d", total, tr.Calls())
	}
	tr.Reset()
	if tr.Total() != (Usage{}) || tr.Calls() != 0 {
		t.Error("Reset() did not clear")
	}
}

func TestBedrockModelID(t *testing.T) {
	if got := bedrockModelID("claude-sonnet-4-20250514"); got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("bedrockModelID() = %q", got)
	}
	if got := bedrockModelID("us.anthropic.custom-v1:0"); got != "us.anthropic.custom-v1:0" {
		t.Errorf("bedrock ids should pass through, got %q", got)
	}
}

func TestAnthropicMessages_PreservesRoles(t *testing.T) {
	msgs := []models.Message{
		models.NewMessage(models.RoleUser, models.TextBlock("task"), models.ImageBlock("image/png", "aGk=")),
		models.NewMessage(models.RoleAssistant, models.TextBlock("ok"), models.ToolUseBlock("list_files", nil)),
		models.NewMessage(models.RoleUser),
	}
	params := anthropicMessages(msgs)
	if len(params) != 3 {
		t.Fatalf("expected 3 params, got %d", len(params))
	}
	if params[0].Role != "user" || params[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", params[0].Role, params[1].Role)
	}
	if len(params[0].Content) != 2 {
		t.Errorf("expected text and image blocks, got %d", len(params[0].Content))
	}
	if len(params[2].Content) != 1 {
		t.Error("empty message should get a placeholder block")
	}
}

func TestOllamaProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama3.1","message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3.1","message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama3.1","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":7,"eval_count":3}`)
	}))
	defer srv.Close()

	p, err := NewOllama(Config{BaseURL: srv.URL, Model: "llama3.1"})
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}
	stream, err := p.Stream(t.Context(), Request{
		System:   "be brief",
		Messages: []models.Message{models.NewMessage(models.RoleUser, models.TextBlock("hi"))},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	var text string
	var usage *Usage
	for {
		c, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		switch c.Type {
		case ChunkText:
			text += c.Text
		case ChunkUsage:
			usage = c.Usage
		}
	}
	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if usage == nil || usage.InputTokens != 7 || usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAIProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi "}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"there"},"finish_reason":"stop"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	stream, err := p.Stream(t.Context(), Request{
		System:   "sys",
		Messages: []models.Message{models.NewMessage(models.RoleUser, models.TextBlock("hi"))},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	var text string
	var usage *Usage
	for {
		c, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if c.Type == ChunkText {
			text += c.Text
		}
		if c.Type == ChunkUsage {
			usage = c.Usage
		}
	}
	if text != "Hi there" {
		t.Errorf("text = %q", text)
	}
	if usage == nil || usage.InputTokens != 12 || usage.OutputTokens != 4 || usage.Cost <= 0 {
		t.Errorf("usage = %+v", usage)
	}
}
