package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/taskpilot/internal/dispatch"
	"github.com/ShayCichocki/taskpilot/internal/llm"
	"github.com/ShayCichocki/taskpilot/internal/tools"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// response scripts one provider request.
type response struct {
	chunks  []llm.Chunk
	openErr error
	nextErr error
	// hold blocks Next after chunks until it is closed, then the stream
	// goes on with after.
	hold  chan struct{}
	after []llm.Chunk
}

type fakeProvider struct {
	mu        sync.Mutex
	model     llm.ModelInfo
	responses []response
	requests  []llm.Request
	ctxs      []context.Context
	opened    chan int
	held      chan int
}

func newFakeProvider(responses ...response) *fakeProvider {
	return &fakeProvider{
		model:     llm.ModelInfo{ID: "fake-model", ContextWindow: 200000, MaxTokens: 4096},
		responses: responses,
		opened:    make(chan int, 64),
		held:      make(chan int, 64),
	}
}

func (f *fakeProvider) Name() string         { return "fake" }
func (f *fakeProvider) Model() llm.ModelInfo { return f.model }

func (f *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	idx := len(f.requests)
	req.Messages = append([]models.Message(nil), req.Messages...)
	f.requests = append(f.requests, req)
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()
	f.opened <- idx

	if idx >= len(f.responses) {
		return nil, errors.New("unexpected request")
	}
	r := f.responses[idx]
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &fakeStream{ctx: ctx, r: r, idx: idx, held: f.held}, nil
}

func (f *fakeProvider) request(i int) llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// streamContext returns the context request i was streamed with.
func (f *fakeProvider) streamContext(i int) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[i]
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeStream struct {
	ctx      context.Context
	r        response
	idx      int
	i        int
	held     chan int
	released bool
}

func (s *fakeStream) Next() (llm.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if s.i < len(s.r.chunks) {
		c := s.r.chunks[s.i]
		s.i++
		return c, nil
	}
	if s.r.hold != nil && !s.released {
		s.held <- s.idx
		select {
		case <-s.r.hold:
		case <-s.ctx.Done():
			return llm.Chunk{}, s.ctx.Err()
		}
		s.released = true
		s.r.chunks = append(s.r.chunks[:len(s.r.chunks):len(s.r.chunks)], s.r.after...)
		return s.Next()
	}
	if s.r.nextErr != nil {
		return llm.Chunk{}, s.r.nextErr
	}
	return llm.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

// text splits s into text chunks of size bytes.
func text(s string, size int) []llm.Chunk {
	var chunks []llm.Chunk
	for len(s) > 0 {
		n := min(size, len(s))
		chunks = append(chunks, llm.Chunk{Type: llm.ChunkText, Text: s[:n]})
		s = s[n:]
	}
	return chunks
}

func reply(s string) response { return response{chunks: text(s, 5)} }

func toolUse(name, input string) string {
	return `<tool_use name="` + name + `">` + input + `</tool_use>`
}

func completion(result string) response {
	return reply(toolUse(tools.CompletionTool, `{"result":"`+result+`"}`))
}

type executed struct {
	name  string
	input string
}

type recordingDispatcher struct {
	*dispatch.Dispatcher
	mu    sync.Mutex
	calls []executed
}

func (d *recordingDispatcher) Execute(ctx context.Context, name string, input json.RawMessage) models.ToolResult {
	d.mu.Lock()
	d.calls = append(d.calls, executed{name, string(input)})
	d.mu.Unlock()
	return d.Dispatcher.Execute(ctx, name, input)
}

func (d *recordingDispatcher) executed() []executed {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]executed(nil), d.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// slowTool blocks until release is closed.
type slowTool struct {
	release chan struct{}
}

func (slowTool) Name() string                  { return "slow_tool" }
func (slowTool) Description() string           { return "Blocks." }
func (slowTool) Parameters() []tools.Parameter { return nil }
func (slowTool) ReadOnly() bool                { return true }
func (s slowTool) Execute(context.Context, json.RawMessage) models.ToolResult {
	<-s.release
	return models.Succeeded("finally")
}

type harness struct {
	orch     *Orchestrator
	provider *fakeProvider
	disp     *recordingDispatcher
	registry *tools.Registry
	events   *recorder
	dir      string
	reg      *prometheus.Registry
}

func newHarness(t *testing.T, provider *fakeProvider, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"a.txt": "alpha", "b.txt": "bravo"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	registry := tools.NewDefaultRegistry(tools.Env{WorkDir: dir})
	disp := &recordingDispatcher{Dispatcher: dispatch.New(registry, nil, nil)}
	events := &recorder{}
	reg := prometheus.NewRegistry()

	base := []Option{
		WithMetrics(MustNewMetrics(reg)),
		WithObservers(events),
		WithWorkDir(dir),
		WithBlockWait(5e9),
	}
	orch, err := New(RequiredConfig{
		Providers:  func(models.Mode) (llm.Provider, error) { return provider, nil },
		Dispatcher: disp,
		Tools:      registry,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{orch: orch, provider: provider, disp: disp, registry: registry, events: events, dir: dir, reg: reg}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		if e.Type == EventMessage {
			continue
		}
		out = append(out, e.Type)
	}
	return out
}
