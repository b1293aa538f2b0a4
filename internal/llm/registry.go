package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a provider.
type Config struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	AWSRegion     string
	AWSProfile    string
	ContextWindow int
	MaxTokens     int
}

// Factory builds a provider from config.
type Factory func(cfg Config) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in provider.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("anthropic", NewAnthropic)
	r.Register("bedrock", NewBedrock)
	r.Register("openai", NewOpenAI)
	r.Register("ollama", NewOllama)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the provider named by cfg.Provider.
func (r *Registry) Build(cfg Config) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", cfg.Provider, err)
	}
	return p, nil
}
