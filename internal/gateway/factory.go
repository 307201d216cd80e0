package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"mathbot/internal/bus"
	"mathbot/internal/config"
)

// BackendConstructor creates a backend from the model config.
type BackendConstructor func(ctx context.Context, mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (Backend, error)

// Factory builds the configured backend. The backend is chosen once at startup.
type Factory struct {
	constructors map[string]BackendConstructor
	mu           sync.RWMutex
	logger       *slog.Logger
}

// NewFactory creates a factory with the built-in backends registered.
func NewFactory(logger *slog.Logger) *Factory {
	f := &Factory{
		constructors: make(map[string]BackendConstructor),
		logger:       logger,
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a backend constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor BackendConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["anthropic"] = func(_ context.Context, mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (Backend, error) {
		return NewAnthropic(AnthropicConfig{APIKey: mc.APIKey, Model: mc.Name, BaseURL: mc.BaseURL, MaxTokens: mc.MaxTokens, HTTPClient: hc, Logger: logger}), nil
	}
	f.constructors["openai"] = func(_ context.Context, mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (Backend, error) {
		return NewOpenAI(OpenAIConfig{APIKey: mc.APIKey, Model: mc.Name, BaseURL: mc.BaseURL, MaxTokens: mc.MaxTokens, HTTPClient: hc, Logger: logger}), nil
	}
	f.constructors["gemini"] = func(ctx context.Context, mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (Backend, error) {
		return NewGemini(ctx, GeminiConfig{APIKey: mc.APIKey, Model: mc.Name, BaseURL: mc.BaseURL, MaxTokens: mc.MaxTokens, HTTPClient: hc, Logger: logger})
	}
}

// Names lists the registered backends.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.constructors))
	for n := range f.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Backend creates the backend named by mc.Backend.
func (f *Factory) Backend(ctx context.Context, mc config.ModelConfig, hc *http.Client) (Backend, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[mc.Backend]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model backend: %s", mc.Backend)
	}
	if mc.Name == "" {
		mc.Name = config.DefaultModelName(mc.Backend)
	}
	return ctor(ctx, mc, hc, f.logger.With("backend", mc.Backend))
}

// Gateway assembles the gateway described by cfg.
func (f *Factory) Gateway(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	timeout := time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second
	backend, err := f.Backend(ctx, cfg.Model, SharedHTTPClient(2*timeout))
	if err != nil {
		return nil, err
	}
	gc := Config{
		Backend:         backend,
		Timeout:         timeout,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerCooldown: time.Duration(cfg.Gateway.BreakerCooldownSeconds) * time.Second,
		Logger:          f.logger,
	}
	for _, o := range opts {
		o(&gc)
	}
	return New(gc), nil
}

// Option adjusts the gateway config built by Factory.Gateway.
type Option func(*Config)

// WithEvents publishes call outcomes on eb.
func WithEvents(eb *bus.EventBus) Option {
	return func(c *Config) { c.Events = eb }
}
