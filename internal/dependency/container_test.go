package dependency

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/config"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

type echoClient struct{}

func (echoClient) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return &llm.ChatResponse{Model: "echo", Message: llm.Message{Role: llm.RoleAssistant, Content: "eco: " + last.Content}}, nil
}

func (c echoClient) ChatStream(ctx context.Context, req *llm.ChatRequest, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return c.Chat(ctx, req)
}

func testFactories() Option {
	return WithFactories(map[string]llm.Factory{
		"openai": func(context.Context, llm.ProviderSpec, *slog.Logger) (llm.Client, error) { return echoClient{}, nil },
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Provider = "openai"
	cfg.LLM.Fallback = []string{"openai"}
	off := false
	cfg.LLM.EnableMessageRewriter = &off
	cfg.Providers.OpenAI.APIKey = "test-key"
	cfg.Session.Driver = "sqlite"
	cfg.Session.Path = filepath.Join(t.TempDir(), "sessions.db")
	cfg.DataDir = t.TempDir()
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_SessionsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := New(cfg, testLogger(), testFactories())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Service().Chat(ctx, agent.TurnRequest{SessionID: "s1", Message: "olá"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Response != "eco: olá" {
		t.Errorf("Response = %q", res.Response)
	}
	if st := c.Service().Stats().Sessions; !st.Durable || st.Degraded {
		t.Errorf("session stats = %+v", st)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := New(cfg, testLogger(), testFactories())
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	defer c2.Close()

	ledger := c2.Usage()
	if ledger == nil {
		t.Fatal("usage ledger should be wired with a session database")
	}
	report, err := ledger.Report(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Total.Turns != 1 || report.ByProvider["openai"] == nil {
		t.Errorf("usage report after restart = %+v", report)
	}

	msgs, err := c2.Service().History(ctx, "s1", false)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "eco: olá" {
		t.Errorf("history after restart = %+v", msgs)
	}
}

func TestNew_MemoryOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Path = ""

	c, err := New(cfg, testLogger(), testFactories())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if c.Service().Stats().Sessions.Durable {
		t.Error("store should be memory-only without a path")
	}
	if c.Publisher() != nil {
		t.Error("publisher should be nil when mqtt is disabled")
	}
	if c.Usage() != nil {
		t.Error("usage ledger needs the session database")
	}
	if c.Storefront().Catalog.Len() == 0 {
		t.Error("demo catalog should be loaded")
	}
	if c.Server() == nil || c.Sweeper() == nil {
		t.Error("server and sweeper should be wired")
	}
}

func TestNew_UnopenableDatabaseDegrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Path = filepath.Join(t.TempDir(), "missing", "dir", "sessions.db")

	c, err := New(cfg, testLogger(), testFactories())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if c.Service().Stats().Sessions.Durable {
		t.Error("unopenable database should leave the store memory-only")
	}
}

func TestNew_MQTTWiresObserver(t *testing.T) {
	cfg := testConfig(t)
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "mqtt://127.0.0.1:1883"

	c, err := New(cfg, testLogger(), testFactories())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	pub := c.Publisher()
	if pub == nil {
		t.Fatal("publisher should be built when mqtt is enabled")
	}

	if _, err := c.Service().Chat(context.Background(), agent.TurnRequest{Message: "olá"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if snap := pub.Snapshot(); snap.Today.Turns != 1 || snap.Provider != "openai" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad sweep schedule", func(c *config.Config) { c.Session.SweepSchedule = "every now and then" }, "sweep"},
		{"mqtt without broker", func(c *config.Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
		{"missing catalog seed", func(c *config.Config) { c.Catalog.SeedFile = "/nonexistent/catalog.yaml" }, "catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg, testLogger(), testFactories())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
