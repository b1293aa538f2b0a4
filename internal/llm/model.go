package llm

// DefaultContextWindow is used when a model does not report its window.
const DefaultContextWindow = 128000

// ModelInfo describes a model's limits and pricing.
// Prices are in USD per million tokens.
type ModelInfo struct {
	ID              string
	ContextWindow   int
	MaxTokens       int
	InputPrice      float64
	OutputPrice     float64
	CacheWritePrice float64
	CacheReadPrice  float64
}

// knownModels holds limits and prices for the models we ship defaults for.
var knownModels = map[string]ModelInfo{
	"claude-sonnet-4-20250514": {
		ContextWindow:   200000,
		MaxTokens:       8192,
		InputPrice:      3,
		OutputPrice:     15,
		CacheWritePrice: 3.75,
		CacheReadPrice:  0.3,
	},
	"claude-opus-4-20250514": {
		ContextWindow:   200000,
		MaxTokens:       8192,
		InputPrice:      15,
		OutputPrice:     75,
		CacheWritePrice: 18.75,
		CacheReadPrice:  1.5,
	},
	"claude-3-5-haiku-20241022": {
		ContextWindow:   200000,
		MaxTokens:       8192,
		InputPrice:      0.8,
		OutputPrice:     4,
		CacheWritePrice: 1,
		CacheReadPrice:  0.08,
	},
	"anthropic.claude-sonnet-4-20250514-v1:0": {
		ContextWindow:   200000,
		MaxTokens:       8192,
		InputPrice:      3,
		OutputPrice:     15,
		CacheWritePrice: 3.75,
		CacheReadPrice:  0.3,
	},
	"gpt-4o": {
		ContextWindow:  128000,
		MaxTokens:      16384,
		InputPrice:     2.5,
		OutputPrice:    10,
		CacheReadPrice: 1.25,
	},
	"gpt-4o-mini": {
		ContextWindow:  128000,
		MaxTokens:      16384,
		InputPrice:     0.15,
		OutputPrice:    0.6,
		CacheReadPrice: 0.075,
	},
	"gpt-4.1": {
		ContextWindow:  1047576,
		MaxTokens:      32768,
		InputPrice:     2,
		OutputPrice:    8,
		CacheReadPrice: 0.5,
	},
}

// LookupModel returns the known info for id. Unknown models get the
// default context window and zero pricing. A non-zero contextWindow
// overrides the table.
func LookupModel(id string, contextWindow int) ModelInfo {
	info, ok := knownModels[id]
	if !ok {
		info = ModelInfo{ContextWindow: DefaultContextWindow, MaxTokens: 4096}
	}
	info.ID = id
	if contextWindow > 0 {
		info.ContextWindow = contextWindow
	}
	return info
}

// Cost returns the USD cost of a usage record for this model.
func (m ModelInfo) Cost(u Usage) float64 {
	const perMillion = 1_000_000.0
	return float64(u.InputTokens)*m.InputPrice/perMillion +
		float64(u.OutputTokens)*m.OutputPrice/perMillion +
		float64(u.CacheWriteTokens)*m.CacheWritePrice/perMillion +
		float64(u.CacheReadTokens)*m.CacheReadPrice/perMillion
}
