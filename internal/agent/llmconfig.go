package agent

import (
	"fmt"
	"sync"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

// ConfigHolder owns the active LLM configuration. It is read on every
// turn and replaced by PUT /chat.
type ConfigHolder struct {
	mu  sync.RWMutex
	cfg llm.Config
}

// NewConfigHolder creates a holder with the startup configuration.
func NewConfigHolder(initial llm.Config) *ConfigHolder {
	return &ConfigHolder{cfg: initial}
}

// Get returns the active configuration.
func (h *ConfigHolder) Get() llm.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Replace validates cfg and makes it the active configuration.
func (h *ConfigHolder) Replace(cfg llm.Config) (llm.Config, error) {
	if err := cfg.Validate(); err != nil {
		return llm.Config{}, fmt.Errorf("invalid llm config: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	return cfg, nil
}

// Effective returns the active configuration with a per-turn overlay
// applied. The overlay is validated but never stored.
func (h *ConfigHolder) Effective(overlay *llm.Config) (llm.Config, error) {
	cfg := h.Get().Merge(overlay)
	if overlay != nil {
		if err := cfg.Validate(); err != nil {
			return llm.Config{}, fmt.Errorf("invalid llm config: %w", err)
		}
	}
	return cfg, nil
}
