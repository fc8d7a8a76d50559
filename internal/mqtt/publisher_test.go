package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/eclipse/paho.golang/paho"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/config"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []*paho.Publish
	err  error
}

func (f *fakeConn) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, p)
	return &paho.PublishResponse{}, nil
}

type fakeStats struct{}

func (fakeStats) Stats() agent.Stats { return agent.Stats{Turns: 7, ToolCalls: 3} }

func (fakeStats) Config() llm.Config { return llm.Config{Provider: "openai", Model: "gpt-4o-mini"} }

func newTestPublisher(c conn) *Publisher {
	p := New(config.MQTTConfig{TopicPrefix: "loja/agent"}, "0190a6c4-7b1e-7c3d-9f00-123456789abc",
		NewDailyTokens(nil), fakeStats{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.conn = c
	return p
}

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", id)
	}
}

func TestLoadOrCreateInstanceID_ReturnsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q", second, first)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		configured, instance, want string
	}{
		{"custom", "whatever", "custom"},
		{"", "0190a6c4-7b1e-7c3d-9f00-123456789abc", "vanaci-agent-123456789abc"},
		{"", "abc", "vanaci-agent-abc"},
	}
	for _, tt := range tests {
		if got := clientID(tt.configured, tt.instance); got != tt.want {
			t.Errorf("clientID(%q, %q) = %q, want %q", tt.configured, tt.instance, got, tt.want)
		}
	}
}

func TestNew_DefaultTopicPrefix(t *testing.T) {
	p := New(config.MQTTConfig{}, "id", nil, nil, nil)
	if got := p.statsTopic(); got != "vanaci/agent/stats" {
		t.Errorf("statsTopic() = %q", got)
	}
	if p.tokens == nil {
		t.Error("nil tokens should get a default accumulator")
	}
}

func TestObserveTurn_PublishesSummary(t *testing.T) {
	fc := &fakeConn{}
	p := newTestPublisher(fc)

	p.ObserveTurn(context.Background(), agent.TurnSummary{
		SessionID: "s1", ToolCalls: 2, InputTokens: 100, OutputTokens: 20, Provider: "openai",
	})

	if len(fc.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.sent))
	}
	msg := fc.sent[0]
	if msg.Topic != "loja/agent/turns" || msg.Retain {
		t.Errorf("topic = %q retain = %v", msg.Topic, msg.Retain)
	}
	var got agent.TurnSummary
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.SessionID != "s1" || got.ToolCalls != 2 {
		t.Errorf("payload = %+v", got)
	}

	u := p.tokens.Snapshot()
	if u.Turns != 1 || u.ToolCalls != 2 || u.InputTokens != 100 || u.OutputTokens != 20 {
		t.Errorf("usage = %+v", u)
	}
}

func TestObserveTurn_WithoutConnectionStillCounts(t *testing.T) {
	p := newTestPublisher(nil)
	p.ObserveTurn(context.Background(), agent.TurnSummary{Failed: true})

	if u := p.tokens.Snapshot(); u.Turns != 1 || u.Failures != 1 {
		t.Errorf("usage = %+v", u)
	}
}

func TestObserveTurn_PublishErrorIgnored(t *testing.T) {
	fc := &fakeConn{err: errors.New("not connected")}
	p := newTestPublisher(fc)

	p.ObserveTurn(context.Background(), agent.TurnSummary{SessionID: "s1"})
	if u := p.tokens.Snapshot(); u.Turns != 1 {
		t.Errorf("usage = %+v", u)
	}
}

func TestPublishStats(t *testing.T) {
	fc := &fakeConn{}
	p := newTestPublisher(fc)
	p.tokens.OnTurn(agent.TurnSummary{InputTokens: 5, OutputTokens: 6})

	p.publishStats(context.Background())

	if len(fc.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(fc.sent))
	}
	msg := fc.sent[0]
	if msg.Topic != "loja/agent/stats" || !msg.Retain {
		t.Errorf("topic = %q retain = %v", msg.Topic, msg.Retain)
	}
	var snap Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if snap.Provider != "openai" || snap.Model != "gpt-4o-mini" || snap.Agent.Turns != 7 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Today.InputTokens != 5 || snap.Today.OutputTokens != 6 {
		t.Errorf("today = %+v", snap.Today)
	}
	if snap.InstanceID == "" || snap.Version == "" {
		t.Errorf("identity missing: %+v", snap)
	}
}

func TestStop_NotStarted(t *testing.T) {
	p := newTestPublisher(nil)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}
