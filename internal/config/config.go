// Package config handles agent service configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from the --config flag) is checked first.
// Then: ./config.yaml, ~/.config/vanaci/config.yaml, /etc/vanaci/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vanaci", "config.yaml"))
	}

	paths = append(paths, "/etc/vanaci/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all service configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	LLM       LLMConfig       `yaml:"llm"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Session   SessionConfig   `yaml:"session"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text, json, tint
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig is the startup model configuration. It seeds the agent's
// mutable runtime configuration.
type LLMConfig struct {
	Provider              string   `yaml:"provider"` // anthropic, openai, gemini, ollama
	Model                 string   `yaml:"model"`
	Temperature           *float64 `yaml:"temperature"`
	MaxTokens             int      `yaml:"max_tokens"`
	EnableMessageRewriter *bool    `yaml:"enable_message_rewriter"`

	// Fallback lists providers tried after the primary, in order.
	Fallback []string `yaml:"fallback"`

	// Pricing maps model names to token prices for the usage ledger.
	// Models not listed are recorded at zero cost.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the USD price per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Gemini    ProviderConfig `yaml:"gemini"`
	Ollama    ProviderConfig `yaml:"ollama"`
}

// ProviderConfig is the credential and endpoint for one provider. For
// Ollama the base URL is the credential.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxIterations        int    `yaml:"max_iterations"`
	HistoryLimit         int    `yaml:"history_limit"`
	SummarizeBeforeFinal *bool  `yaml:"summarize_before_final"`
	SupportContact       string `yaml:"support_contact"`
	RewriteTimeoutSec    int    `yaml:"rewrite_timeout_sec"`
	StoreName            string `yaml:"store_name"`
}

// SessionConfig defines the session cache and durable store.
type SessionConfig struct {
	// Driver is the database/sql driver: "sqlite3" (cgo, default) or
	// "sqlite" (pure Go). Empty Path disables the durable store.
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	CacheCapacity int    `yaml:"cache_capacity"`
	CacheTTL      string `yaml:"cache_ttl"`
	SweepSchedule string `yaml:"sweep_schedule"`
}

// TTL parses CacheTTL, defaulting to 30 minutes.
func (s SessionConfig) TTL() time.Duration {
	if d, err := time.ParseDuration(s.CacheTTL); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// CatalogConfig points at an optional YAML product seed file.
type CatalogConfig struct {
	SeedFile string `yaml:"seed_file"`
}

// MQTTConfig defines the optional telemetry publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TopicPrefix        string `yaml:"topic_prefix"`
	ClientID           string `yaml:"client_id"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file. Environment variables are
// expanded before parsing, then defaults fill anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnvCredentials()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration usable without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvCredentials()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Temperature == nil {
		t := 0.3
		c.LLM.Temperature = &t
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.EnableMessageRewriter == nil {
		on := true
		c.LLM.EnableMessageRewriter = &on
	}
	if c.LLM.Fallback == nil {
		c.LLM.Fallback = []string{"openai", "anthropic", "gemini", "ollama"}
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = 20
	}
	if c.Agent.SummarizeBeforeFinal == nil {
		on := true
		c.Agent.SummarizeBeforeFinal = &on
	}
	if c.Agent.SupportContact == "" {
		c.Agent.SupportContact = "nosso atendimento pelo WhatsApp"
	}
	if c.Agent.RewriteTimeoutSec == 0 {
		c.Agent.RewriteTimeoutSec = 8
	}
	if c.Agent.StoreName == "" {
		c.Agent.StoreName = "Vanaci Farma"
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "sqlite3"
	}
	if c.Session.CacheCapacity == 0 {
		c.Session.CacheCapacity = 1000
	}
	if c.Session.SweepSchedule == "" {
		c.Session.SweepSchedule = "@every 1m"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "vanaci/agent"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// applyEnvCredentials fills empty provider credentials from the
// conventional environment variables.
func (c *Config) applyEnvCredentials() {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Providers.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.Providers.Ollama.BaseURL, "OLLAMA_URL")
}

// KnownProviders lists the provider names accepted in configuration.
var KnownProviders = []string{"anthropic", "openai", "gemini", "ollama"}

// IsKnownProvider reports whether name is one of KnownProviders.
func IsKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if !IsKnownProvider(c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(KnownProviders, ", "))
	}
	for _, p := range c.LLM.Fallback {
		if !IsKnownProvider(p) {
			return fmt.Errorf("llm.fallback entry %q is not one of %s", p, strings.Join(KnownProviders, ", "))
		}
	}
	if t := *c.LLM.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("llm.temperature %v out of range [0, 2]", t)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	switch c.Session.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("session.driver %q must be sqlite3 or sqlite", c.Session.Driver)
	}
	switch c.LogFormat {
	case "text", "json", "tint":
	default:
		return fmt.Errorf("log_format %q must be text, json, or tint", c.LogFormat)
	}
	for model, p := range c.LLM.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("llm.pricing %q: prices must not be negative", model)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
