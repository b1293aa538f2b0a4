package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/ShayCichocki/taskpilot/internal/parser"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider streams from the Chat Completions API. BaseURL allows any
// compatible endpoint.
type OpenAIProvider struct {
	client openai.Client
	model  ModelInfo
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  withMaxTokens(LookupModel(model, cfg.ContextWindow), cfg.MaxTokens),
	}, nil
}

func (p *OpenAIProvider) Name() string     { return "openai" }
func (p *OpenAIProvider) Model() ModelInfo { return p.model }

// Stream opens a streaming chat completion with usage reporting enabled.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openAIMessages(req.Messages)...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model.ID),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if p.model.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.model.MaxTokens))
	}

	return &openAIStream{
		model:  p.model,
		stream: p.client.Chat.Completions.NewStreaming(ctx, params),
	}, nil
}

type openAIStream struct {
	model   ModelInfo
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	pending []Chunk
}

func (s *openAIStream) Next() (Chunk, error) {
	for len(s.pending) == 0 {
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return Chunk{}, openAIError(err)
			}
			return Chunk{}, io.EOF
		}
		chunk := s.stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, Chunk{Type: ChunkText, Text: choice.Delta.Content})
			}
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			cached := chunk.Usage.PromptTokensDetails.CachedTokens
			usage := Usage{
				InputTokens:     chunk.Usage.PromptTokens - cached,
				OutputTokens:    chunk.Usage.CompletionTokens,
				CacheReadTokens: cached,
			}
			usage.Cost = s.model.Cost(usage)
			s.pending = append(s.pending, Chunk{Type: ChunkUsage, Usage: &usage})
		}
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	return next, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newProviderError("openai", apiErr.StatusCode, apiErr.Error(), err)
	}
	return newProviderError("openai", 0, err.Error(), err)
}

func openAIMessages(msgs []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleAssistant {
			out = append(out, openai.AssistantMessage(parser.RenderText(msg.Content)))
			continue
		}

		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Content))
		for _, b := range msg.Content {
			if b.Type == models.BlockImage {
				url := fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data)
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
				continue
			}
			if text := parser.Render(b); text != "" {
				parts = append(parts, openai.TextContentPart(text))
			}
		}
		if len(parts) == 0 {
			parts = append(parts, openai.TextContentPart("(empty)"))
		}
		out = append(out, openai.UserMessage(parts))
	}
	return out
}
