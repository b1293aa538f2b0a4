package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/taskpilot/internal/parser"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider streams from the Anthropic Messages API, directly or
// through AWS Bedrock.
type AnthropicProvider struct {
	name   string
	client anthropic.Client
	model  ModelInfo
}

// NewAnthropic creates a provider using an Anthropic API key.
func NewAnthropic(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		name:   "anthropic",
		client: anthropic.NewClient(opts...),
		model:  withMaxTokens(LookupModel(model, cfg.ContextWindow), cfg.MaxTokens),
	}, nil
}

// NewBedrock creates a provider that signs requests with AWS credentials.
func NewBedrock(cfg Config) (Provider, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSProfile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	info := withMaxTokens(LookupModel(model, cfg.ContextWindow), cfg.MaxTokens)
	info.ID = bedrockModelID(model)

	return &AnthropicProvider{
		name:   "bedrock",
		client: anthropic.NewClient(bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...)),
		model:  info,
	}, nil
}

// bedrockModelID converts an Anthropic model name to its cross-region
// Bedrock inference profile. Unknown names pass through.
func bedrockModelID(model string) string {
	if strings.Contains(model, "anthropic.") {
		return model
	}
	profiles := map[string]string{
		"claude-sonnet-4-20250514":   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		"claude-sonnet-4-5-20250929": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"claude-opus-4-20250514":     "us.anthropic.claude-opus-4-20250514-v1:0",
		"claude-3-5-haiku-20241022":  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if id, ok := profiles[model]; ok {
		return id
	}
	return model
}

func (p *AnthropicProvider) Name() string     { return p.name }
func (p *AnthropicProvider) Model() ModelInfo { return p.model }

// Stream opens a streaming Messages request.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model.ID),
		MaxTokens: int64(p.model.MaxTokens),
		Messages:  anthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return &anthropicStream{
		provider: p.name,
		model:    p.model,
		stream:   p.client.Messages.NewStreaming(ctx, params),
	}, nil
}

type anthropicStream struct {
	provider  string
	model     ModelInfo
	stream    *ssestream.Stream[anthropic.MessageStreamEventUnion]
	msg       anthropic.Message
	usageSent bool
}

func (s *anthropicStream) Next() (Chunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if err := s.msg.Accumulate(event); err != nil {
			return Chunk{}, fmt.Errorf("accumulate stream event: %w", err)
		}
		variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				return Chunk{Type: ChunkText, Text: delta.Text}, nil
			}
		case anthropic.ThinkingDelta:
			if delta.Thinking != "" {
				return Chunk{Type: ChunkReasoning, Text: delta.Thinking}, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return Chunk{}, anthropicError(s.provider, err)
	}
	if !s.usageSent {
		s.usageSent = true
		usage := Usage{
			InputTokens:      s.msg.Usage.InputTokens,
			OutputTokens:     s.msg.Usage.OutputTokens,
			CacheWriteTokens: s.msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  s.msg.Usage.CacheReadInputTokens,
		}
		usage.Cost = s.model.Cost(usage)
		return Chunk{Type: ChunkUsage, Usage: &usage}, nil
	}
	return Chunk{}, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

func anthropicError(provider string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newProviderError(provider, apiErr.StatusCode, apiErr.Error(), err)
	}
	return newProviderError(provider, 0, err.Error(), err)
}

// anthropicMessages converts history to API params. Assistant turns are
// sent as rendered text so inline tool invocations round-trip.
func anthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleAssistant {
			if text := parser.RenderText(msg.Content); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
		} else {
			for _, b := range msg.Content {
				switch b.Type {
				case models.BlockImage:
					blocks = append(blocks, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
				default:
					if text := parser.Render(b); text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(text))
					}
				}
			}
		}
		if len(blocks) == 0 {
			blocks = append(blocks, anthropic.NewTextBlock("(empty)"))
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func withMaxTokens(info ModelInfo, maxTokens int) ModelInfo {
	if maxTokens > 0 {
		info.MaxTokens = maxTokens
	}
	return info
}
