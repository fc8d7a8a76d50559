package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrProviderUnavailable is returned by [Resolver.Resolve] when no
// provider in the chain could be constructed.
var ErrProviderUnavailable = errors.New("no llm provider available")

// errNoCredential marks a provider skipped because its credential is unset.
var errNoCredential = errors.New("credential not configured")

// Config is the runtime model configuration for a turn. It is owned by
// the agent and may be replaced between turns.
type Config struct {
	Provider              string   `json:"provider"`
	Model                 string   `json:"model,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty"`
	MaxTokens             int      `json:"maxTokens,omitempty"`
	EnableMessageRewriter *bool    `json:"enableMessageRewriter,omitempty"`
}

// RewriterEnabled reports whether the message rewriter should run.
// Unset means enabled.
func (c Config) RewriterEnabled() bool {
	return c.EnableMessageRewriter == nil || *c.EnableMessageRewriter
}

// Providers lists the provider names a Config may select.
var Providers = []string{"anthropic", "openai", "gemini", "ollama"}

// Validate checks a config supplied by a client.
func (c Config) Validate() error {
	known := false
	for _, p := range Providers {
		if c.Provider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("provider must be one of %s", strings.Join(Providers, ", "))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 || c.MaxTokens > 32768 {
		return errors.New("maxTokens must be between 0 and 32768")
	}
	return nil
}

// Merge returns c with every field set in overlay replacing its own.
func (c Config) Merge(overlay *Config) Config {
	if overlay == nil {
		return c
	}
	if overlay.Provider != "" {
		c.Provider = overlay.Provider
		// A model name belongs to its provider.
		c.Model = ""
	}
	if overlay.Model != "" {
		c.Model = overlay.Model
	}
	if overlay.Temperature != nil {
		c.Temperature = overlay.Temperature
	}
	if overlay.MaxTokens > 0 {
		c.MaxTokens = overlay.MaxTokens
	}
	if overlay.EnableMessageRewriter != nil {
		c.EnableMessageRewriter = overlay.EnableMessageRewriter
	}
	return c
}

// ProviderSpec is what a factory needs to construct one provider client.
type ProviderSpec struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// credential returns the value whose presence makes the provider usable.
// Ollama needs only an endpoint; every other provider needs a key.
func (s ProviderSpec) credential() string {
	if s.Name == "ollama" {
		return s.BaseURL
	}
	return s.APIKey
}

// Factory builds a client from a spec. It must not perform network I/O.
type Factory func(ctx context.Context, spec ProviderSpec, logger *slog.Logger) (Client, error)

// Handle is a resolved, callable model.
type Handle struct {
	Client   Client
	Provider string
	Model    string
}

// Attempt records why one provider in the chain was not used.
type Attempt struct {
	Provider string
	Err      error
}

// UnavailableError lists every failed attempt. It unwraps to
// [ErrProviderUnavailable].
type UnavailableError struct {
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("%s (%s)", ErrProviderUnavailable, strings.Join(parts, "; "))
}

func (e *UnavailableError) Unwrap() error { return ErrProviderUnavailable }

// defaultModels is used when neither the turn config nor the provider
// settings name a model.
var defaultModels = map[string]string{
	"anthropic": "claude-3-5-haiku-latest",
	"openai":    "gpt-4o-mini",
	"gemini":    "gemini-2.0-flash",
	"ollama":    "qwen2.5:7b",
}

// DefaultFactories returns the built-in client constructors.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		"anthropic": func(_ context.Context, s ProviderSpec, l *slog.Logger) (Client, error) {
			return NewAnthropicClient(s.APIKey, s.BaseURL, l), nil
		},
		"openai": func(_ context.Context, s ProviderSpec, l *slog.Logger) (Client, error) {
			return NewOpenAIClient(s.APIKey, s.BaseURL, l), nil
		},
		"gemini": func(ctx context.Context, s ProviderSpec, l *slog.Logger) (Client, error) {
			return NewGeminiClient(ctx, s.APIKey, l)
		},
		"ollama": func(_ context.Context, s ProviderSpec, l *slog.Logger) (Client, error) {
			return NewOllamaClient(s.BaseURL, l), nil
		},
	}
}

// Resolver picks a working provider for a turn: the configured primary
// first, then the fallback chain in order.
type Resolver struct {
	specs     map[string]ProviderSpec
	fallback  []string
	factories map[string]Factory
	logger    *slog.Logger
}

// NewResolver creates a resolver over the given provider specs. A nil
// factories map uses [DefaultFactories].
func NewResolver(specs []ProviderSpec, fallback []string, factories map[string]Factory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if factories == nil {
		factories = DefaultFactories()
	}
	m := make(map[string]ProviderSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &Resolver{
		specs:     m,
		fallback:  fallback,
		factories: factories,
		logger:    logger,
	}
}

// Chain returns the provider order tried for the given primary.
func (r *Resolver) Chain(primary string) []string {
	seen := make(map[string]bool)
	var chain []string
	for _, name := range append([]string{primary}, r.fallback...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

// Resolve constructs the first usable provider client. Providers without
// a credential are skipped without I/O. The model in cfg only applies to
// the primary provider; fallbacks use their own default model.
func (r *Resolver) Resolve(ctx context.Context, cfg Config) (*Handle, error) {
	var attempts []Attempt

	for _, name := range r.Chain(cfg.Provider) {
		spec, ok := r.specs[name]
		if !ok {
			spec = ProviderSpec{Name: name}
		}
		if spec.credential() == "" {
			attempts = append(attempts, Attempt{Provider: name, Err: errNoCredential})
			continue
		}
		factory, ok := r.factories[name]
		if !ok {
			attempts = append(attempts, Attempt{Provider: name, Err: fmt.Errorf("unknown provider")})
			continue
		}

		client, err := factory(ctx, spec, r.logger)
		if err != nil {
			r.logger.Warn("provider construction failed, trying next",
				"provider", name, "error", err)
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}

		model := spec.DefaultModel
		if name == cfg.Provider && cfg.Model != "" {
			model = cfg.Model
		}
		if model == "" {
			model = defaultModels[name]
		}

		if name != cfg.Provider {
			r.logger.Info("using fallback provider",
				"primary", cfg.Provider, "provider", name, "model", model)
		}
		return &Handle{Client: client, Provider: name, Model: model}, nil
	}

	err := &UnavailableError{Attempts: attempts}
	r.logger.Error("provider resolution failed", "error", err)
	return nil, err
}
