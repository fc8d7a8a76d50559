// Package dependency wires the agent service graph using go.uber.org/dig.
package dependency

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/dig"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/api"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/commerce"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/config"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/mqtt"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/rewriter"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/session"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/tools"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/usage"
)

// Container holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	service    *agent.Service
	server     *api.Server
	sweeper    *session.Sweeper
	publisher  *mqtt.Publisher
	ledger     *usage.Store
	storefront tools.Storefront
	db         *session.SQLiteStore
}

func (c *Container) Service() *agent.Service      { return c.service }
func (c *Container) Server() *api.Server          { return c.server }
func (c *Container) Sweeper() *session.Sweeper    { return c.sweeper }
func (c *Container) Storefront() tools.Storefront { return c.storefront }

// Publisher returns the telemetry publisher, or nil when MQTT is disabled.
func (c *Container) Publisher() *mqtt.Publisher { return c.publisher }

// Usage returns the usage ledger, or nil when sessions are memory-only.
func (c *Container) Usage() *usage.Store { return c.ledger }

// Close releases the session database.
func (c *Container) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Option adjusts how the container is built.
type Option func(*options)

type options struct {
	factories map[string]llm.Factory
}

// WithFactories replaces the provider client constructors.
func WithFactories(f map[string]llm.Factory) Option {
	return func(o *options) { o.factories = f }
}

// providerFactories is a named map so dig can inject the constructor set.
type providerFactories map[string]llm.Factory

// New builds and wires every service from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	o := options{factories: llm.DefaultFactories()}
	for _, opt := range opts {
		opt(&o)
	}

	d := dig.New()
	providers := []any{
		func() *config.Config { return cfg },
		func() *slog.Logger { return logger },
		func() providerFactories { return providerFactories(o.factories) },
		newCatalog,
		commerce.NewCarts,
		commerce.NewCheckout,
		newStorefront,
		newToolRegistry,
		newSQLiteStore,
		newSessionStore,
		newSweeper,
		newResolver,
		newRewriter,
		newLoop,
		newConfigHolder,
		newService,
		newUsageStore,
		newPublisher,
		newServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		svc *agent.Service,
		srv *api.Server,
		sweeper *session.Sweeper,
		pub *mqtt.Publisher,
		ledger *usage.Store,
		shop tools.Storefront,
		db *session.SQLiteStore,
	) {
		result = &Container{
			service:    svc,
			server:     srv,
			sweeper:    sweeper,
			publisher:  pub,
			ledger:     ledger,
			storefront: shop,
			db:         db,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newCatalog(cfg *config.Config, logger *slog.Logger) (*commerce.Catalog, error) {
	c, err := commerce.LoadCatalog(cfg.Catalog.SeedFile)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", "products", c.Len(), "seed_file", cfg.Catalog.SeedFile)
	return c, nil
}

func newStorefront(catalog *commerce.Catalog, carts *commerce.Carts, checkout *commerce.Checkout) tools.Storefront {
	return tools.Storefront{Catalog: catalog, Carts: carts, Checkout: checkout}
}

func newToolRegistry(shop tools.Storefront) *tools.Registry {
	r := tools.NewRegistry()
	tools.RegisterStorefront(r, shop)
	return r
}

// newSQLiteStore opens the durable session store. An empty path, or a
// database that cannot be opened, leaves the service memory-only.
func newSQLiteStore(cfg *config.Config, logger *slog.Logger) *session.SQLiteStore {
	if cfg.Session.Path == "" {
		logger.Warn("session.path not set, sessions are kept in memory only")
		return nil
	}
	db, err := session.OpenDB(cfg.Session.Driver, cfg.Session.Path)
	if err == nil {
		var store *session.SQLiteStore
		if store, err = session.NewSQLiteStore(db); err == nil {
			logger.Info("session database opened", "driver", cfg.Session.Driver, "path", cfg.Session.Path)
			return store
		}
		err = errors.Join(err, db.Close())
	}
	logger.Error("session database unavailable, sessions are kept in memory only",
		"driver", cfg.Session.Driver, "path", cfg.Session.Path, "error", err)
	return nil
}

func newSessionStore(cfg *config.Config, db *session.SQLiteStore, logger *slog.Logger) *session.Store {
	var durable session.Durable
	if db != nil {
		durable = db
	}
	return session.NewStore(durable, session.Config{
		CacheSize:   cfg.Session.CacheCapacity,
		TTL:         cfg.Session.TTL(),
		MaxMessages: cfg.Agent.HistoryLimit,
	}, logger.With("component", "session"))
}

func newSweeper(cfg *config.Config, store *session.Store, logger *slog.Logger) (*session.Sweeper, error) {
	return session.NewSweeper(store, cfg.Session.SweepSchedule, logger.With("component", "sweeper"))
}

// providerSpecs lists the configured providers in a stable order.
func providerSpecs(cfg *config.Config) []llm.ProviderSpec {
	p := cfg.Providers
	return []llm.ProviderSpec{
		{Name: "anthropic", APIKey: p.Anthropic.APIKey, BaseURL: p.Anthropic.BaseURL, DefaultModel: p.Anthropic.DefaultModel},
		{Name: "openai", APIKey: p.OpenAI.APIKey, BaseURL: p.OpenAI.BaseURL, DefaultModel: p.OpenAI.DefaultModel},
		{Name: "gemini", APIKey: p.Gemini.APIKey, BaseURL: p.Gemini.BaseURL, DefaultModel: p.Gemini.DefaultModel},
		{Name: "ollama", APIKey: p.Ollama.APIKey, BaseURL: p.Ollama.BaseURL, DefaultModel: p.Ollama.DefaultModel},
	}
}

func newResolver(cfg *config.Config, factories providerFactories, logger *slog.Logger) *llm.Resolver {
	return llm.NewResolver(providerSpecs(cfg), cfg.LLM.Fallback, factories, logger.With("component", "llm"))
}

func newRewriter(cfg *config.Config, logger *slog.Logger) *rewriter.Rewriter {
	timeout := time.Duration(cfg.Agent.RewriteTimeoutSec) * time.Second
	return rewriter.New(timeout, logger.With("component", "rewriter"))
}

func newLoop(cfg *config.Config, registry *tools.Registry, logger *slog.Logger) *agent.Loop {
	return agent.NewLoop(registry, agent.LoopConfig{
		MaxIterations:        cfg.Agent.MaxIterations,
		SummarizeBeforeFinal: cfg.Agent.SummarizeBeforeFinal == nil || *cfg.Agent.SummarizeBeforeFinal,
	}, logger.With("component", "agent"))
}

// newConfigHolder seeds the runtime LLM configuration from the file.
func newConfigHolder(cfg *config.Config) (*agent.ConfigHolder, error) {
	initial := llm.Config{
		Provider:              cfg.LLM.Provider,
		Model:                 cfg.LLM.Model,
		Temperature:           cfg.LLM.Temperature,
		MaxTokens:             cfg.LLM.MaxTokens,
		EnableMessageRewriter: cfg.LLM.EnableMessageRewriter,
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("llm config: %w", err)
	}
	return agent.NewConfigHolder(initial), nil
}

func newService(
	cfg *config.Config,
	store *session.Store,
	resolver *llm.Resolver,
	rw *rewriter.Rewriter,
	loop *agent.Loop,
	holder *agent.ConfigHolder,
	logger *slog.Logger,
) *agent.Service {
	return agent.NewService(store, resolver, rw, loop, holder, agent.ServiceConfig{
		StoreName:      cfg.Agent.StoreName,
		SupportContact: cfg.Agent.SupportContact,
	}, logger.With("component", "agent"))
}

// newUsageStore opens the usage ledger on the session database and
// registers it as a turn observer. It returns nil when there is no
// database.
func newUsageStore(cfg *config.Config, db *session.SQLiteStore, svc *agent.Service, logger *slog.Logger) *usage.Store {
	if db == nil {
		return nil
	}
	ledger, err := usage.NewStore(db.DB(), cfg.LLM.Pricing, logger.With("component", "usage"))
	if err != nil {
		logger.Error("usage ledger unavailable", "error", err)
		return nil
	}
	svc.AddObserver(ledger)
	return ledger
}

// newPublisher builds the telemetry publisher and registers it as a turn
// observer. It returns nil when MQTT is disabled.
func newPublisher(cfg *config.Config, svc *agent.Service, logger *slog.Logger) (*mqtt.Publisher, error) {
	if !cfg.MQTT.Enabled {
		return nil, nil
	}
	if cfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	pub := mqtt.New(cfg.MQTT, instanceID, mqtt.NewDailyTokens(nil), svc, logger.With("component", "mqtt"))
	svc.AddObserver(pub)
	return pub, nil
}

func newServer(cfg *config.Config, svc *agent.Service, ledger *usage.Store, logger *slog.Logger) *api.Server {
	srv := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, svc, logger.With("component", "api"))
	if ledger != nil {
		srv.SetUsage(ledger)
	}
	return srv
}
