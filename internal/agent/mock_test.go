package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/commerce"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/rewriter"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/session"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/tools"
)

// mockLLM replays scripted responses and records every request.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      map[int]error
	panics    map[int]any
	callIndex int
	calls     []*llm.ChatRequest
	streamed  int
}

func (m *mockLLM) next(req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.callIndex
	m.callIndex++
	m.calls = append(m.calls, req)
	if v, ok := m.panics[i]; ok {
		panic(v)
	}
	if err := m.errs[i]; err != nil {
		return nil, err
	}
	if i >= len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", i)
	}
	return m.responses[i], nil
}

func (m *mockLLM) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return m.next(req)
}

func (m *mockLLM) ChatStream(_ context.Context, req *llm.ChatRequest, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.streamed++
	m.mu.Unlock()
	if cb != nil {
		for _, tok := range strings.SplitAfter(resp.Message.Content, " ") {
			if tok != "" {
				cb(llm.StreamEvent{Kind: llm.KindToken, Token: tok})
			}
		}
		for i := range resp.Message.ToolCalls {
			cb(llm.StreamEvent{Kind: llm.KindToolCall, ToolCall: &resp.Message.ToolCalls[i]})
		}
		cb(llm.StreamEvent{Kind: llm.KindDone, Response: resp})
	}
	return resp, nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockLLM) call(i int) *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

func textResp(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func toolResp(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		InputTokens:  100,
		OutputTokens: 10,
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	svc      *Service
	store    *session.Store
	registry *tools.Registry
	shop     tools.Storefront
	holder   *ConfigHolder
}

type envOption func(*envConfig)

type envConfig struct {
	durable  session.Durable
	specs    []llm.ProviderSpec
	register func(*tools.Registry)
}

func withDurable(d session.Durable) envOption { return func(c *envConfig) { c.durable = d } }

func withSpecs(specs ...llm.ProviderSpec) envOption { return func(c *envConfig) { c.specs = specs } }

func withTools(fn func(*tools.Registry)) envOption { return func(c *envConfig) { c.register = fn } }

// newTestEnv builds a service whose "openai" provider is mock. The
// rewriter is disabled unless a turn enables it.
func newTestEnv(t *testing.T, mock *mockLLM, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{specs: []llm.ProviderSpec{{Name: "openai", APIKey: "test-key"}}}
	for _, o := range opts {
		o(&cfg)
	}
	logger := testLogger()

	catalog := commerce.NewCatalog([]commerce.Product{
		{ID: "dip", Name: "Dipirona 500mg", Category: "analgésicos", Price: 890, Stock: 10, Symptoms: []string{"dor", "febre"}, Tags: []string{"dipirona"}},
		{ID: "par", Name: "Paracetamol 750mg", Category: "analgésicos", Price: 1450, Stock: 10, Symptoms: []string{"febre"}},
	})
	carts := commerce.NewCarts(catalog)
	shop := tools.Storefront{Catalog: catalog, Carts: carts, Checkout: commerce.NewCheckout(catalog, carts)}
	reg := tools.NewRegistry()
	tools.RegisterStorefront(reg, shop)
	if cfg.register != nil {
		cfg.register(reg)
	}

	factories := map[string]llm.Factory{
		"openai": func(context.Context, llm.ProviderSpec, *slog.Logger) (llm.Client, error) { return mock, nil },
	}
	resolver := llm.NewResolver(cfg.specs, []string{"openai", "anthropic"}, factories, logger)

	store := session.NewStore(cfg.durable, session.Config{CacheSize: 100}, logger)
	off := false
	holder := NewConfigHolder(llm.Config{Provider: "openai", EnableMessageRewriter: &off})
	loop := NewLoop(reg, LoopConfig{SummarizeBeforeFinal: true}, logger)
	svc := NewService(store, resolver, rewriter.New(0, logger), loop, holder,
		ServiceConfig{StoreName: "Vanaci", SupportContact: "(11) 4000-0000"}, logger)

	return &testEnv{svc: svc, store: store, registry: reg, shop: shop, holder: holder}
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = string(e.Type)
	}
	return out
}
