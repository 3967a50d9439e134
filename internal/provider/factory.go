package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"ava/internal/config"
	"ava/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.constructors["claude"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey:    pc.APIKey,
			APIURL:    pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:    pc.APIKey,
			APIBase:   pc.APIBase,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("provider %s: no constructor registered", name)
	}

	p := ctor(pc, f.logger)
	f.cache[name] = p
	return p, nil
}

// Default returns the configured default provider. When a fallback provider
// is configured and enabled, the two are chained with failover.
func (f *Factory) Default() (domain.Provider, error) {
	primary, err := f.Get("")
	if err != nil {
		return nil, err
	}
	name := f.cfg.General.FallbackProvider
	if name == "" || name == f.cfg.General.DefaultProvider {
		return primary, nil
	}
	fallback, err := f.Get(name)
	if err != nil {
		f.logger.Warn("fallback provider unavailable", "provider", name, "err", err)
		return primary, nil
	}
	return NewFailoverProvider([]domain.Provider{primary, fallback}, f.logger), nil
}
