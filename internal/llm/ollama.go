package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/ShayCichocki/taskpilot/internal/parser"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

const defaultOllamaModel = "llama3.1"

// OllamaProvider streams from a local or remote Ollama server.
type OllamaProvider struct {
	client *api.Client
	model  ModelInfo
}

// NewOllama creates a provider. An empty BaseURL uses OLLAMA_HOST.
func NewOllama(cfg Config) (Provider, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse ollama base url: %w", err)
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
		client = c
	}

	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		client: client,
		model:  withMaxTokens(LookupModel(model, cfg.ContextWindow), cfg.MaxTokens),
	}, nil
}

func (p *OllamaProvider) Name() string     { return "ollama" }
func (p *OllamaProvider) Model() ModelInfo { return p.model }

// Stream runs the callback-based Chat call on a goroutine and exposes its
// responses through a channel.
func (p *OllamaProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessages(req.Messages)...)

	streaming := true
	chatReq := &api.ChatRequest{
		Model:    p.model.ID,
		Messages: messages,
		Stream:   &streaming,
		Options:  map[string]any{"num_ctx": p.model.ContextWindow},
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &ollamaStream{
		chunks: make(chan Chunk, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(s.done)
		defer close(s.chunks)
		s.err = p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Thinking != "" {
				if err := s.send(ctx, Chunk{Type: ChunkReasoning, Text: resp.Message.Thinking}); err != nil {
					return err
				}
			}
			if resp.Message.Content != "" {
				if err := s.send(ctx, Chunk{Type: ChunkText, Text: resp.Message.Content}); err != nil {
					return err
				}
			}
			if resp.Done {
				usage := Usage{
					InputTokens:  int64(resp.PromptEvalCount),
					OutputTokens: int64(resp.EvalCount),
				}
				usage.Cost = p.model.Cost(usage)
				return s.send(ctx, Chunk{Type: ChunkUsage, Usage: &usage})
			}
			return nil
		})
	}()

	return s, nil
}

type ollamaStream struct {
	chunks chan Chunk
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

func (s *ollamaStream) send(ctx context.Context, c Chunk) error {
	select {
	case s.chunks <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ollamaStream) Next() (Chunk, error) {
	if c, ok := <-s.chunks; ok {
		return c, nil
	}
	<-s.done
	if s.err != nil {
		return Chunk{}, ollamaError(s.err)
	}
	return Chunk{}, io.EOF
}

func (s *ollamaStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func ollamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return newProviderError("ollama", statusErr.StatusCode, statusErr.ErrorMessage, err)
	}
	return newProviderError("ollama", 0, err.Error(), err)
}

func ollamaMessages(msgs []models.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		m := api.Message{Role: string(msg.Role), Content: parser.RenderText(msg.Content)}
		for _, b := range msg.Content {
			if b.Type != models.BlockImage {
				continue
			}
			if raw, err := base64.StdEncoding.DecodeString(b.Data); err == nil {
				m.Images = append(m.Images, api.ImageData(raw))
			}
		}
		out = append(out, m)
	}
	return out
}
