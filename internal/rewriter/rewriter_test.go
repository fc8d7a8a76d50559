package rewriter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

type mockLLM struct {
	content string
	err     error
	delay   time.Duration
	calls   []*llm.ChatRequest
}

func (m *mockLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.calls = append(m.calls, req)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: m.content}}, nil
}

func (m *mockLLM) ChatStream(ctx context.Context, req *llm.ChatRequest, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return m.Chat(ctx, req)
}

func TestUnclear(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"olá", false},
		{"obrigada!", false},
		{"dipirona", true},
		{"tem dipiroma", true},
		{"quero ver meu carinho agora por favor", true},
		{"vc tem pq eu preciso de remédio para dor", true},
		{"qto custa", true},
		{"mano tem aquele remédio de dor de cabeça kkk", true},
		{"mano tem aquele remédio de dor de cabeça kkk?", false},
		{"Gostaria de adicionar duas caixas de dipirona ao carrinho.", false},
		{"Quais são as promoções desta semana?", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Unclear(tt.text); got != tt.want {
				t.Errorf("Unclear(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestRewrite_ClearMessageSkipsModel(t *testing.T) {
	m := &mockLLM{content: "should not be used"}
	r := New(0, nil)

	got := r.Rewrite(t.Context(), m, "test-model", "Quais são as promoções desta semana?")
	if got.WasRewritten || got.Text != "Quais são as promoções desta semana?" {
		t.Errorf("got %+v", got)
	}
	if len(m.calls) != 0 {
		t.Errorf("model called %d times for a clear message", len(m.calls))
	}
}

func TestRewrite_Success(t *testing.T) {
	m := &mockLLM{content: `Reescrita: "Quanto custa a dipirona?"`}
	r := New(0, nil)

	got := r.Rewrite(t.Context(), m, "test-model", "qto custa dipiroma")
	if !got.WasRewritten {
		t.Fatal("expected rewrite")
	}
	if got.Text != "Quanto custa a dipirona?" {
		t.Errorf("text = %q", got.Text)
	}

	if len(m.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(m.calls))
	}
	req := m.calls[0]
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", req.Temperature)
	}
	if req.MaxTokens != 200 {
		t.Errorf("max tokens = %d, want 200", req.MaxTokens)
	}
	if len(req.Tools) != 0 {
		t.Error("rewrite call must not offer tools")
	}
	if !strings.Contains(req.Messages[0].Content, "qto custa dipiroma") {
		t.Error("prompt should carry the raw message")
	}
}

func TestRewrite_FallsBackToOriginal(t *testing.T) {
	raw := "qto custa dipiroma"
	tests := []struct {
		name string
		mock *mockLLM
	}{
		{"model error", &mockLLM{err: errors.New("boom")}},
		{"too short", &mockLLM{content: "a"}},
		{"too long", &mockLLM{content: strings.Repeat("x", 4*len(raw)+201)}},
		{"empty", &mockLLM{content: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(0, nil).Rewrite(t.Context(), tt.mock, "m", raw)
			if got.WasRewritten || got.Text != raw {
				t.Errorf("got %+v, want original", got)
			}
		})
	}
}

func TestRewrite_Timeout(t *testing.T) {
	m := &mockLLM{content: "Quanto custa?", delay: time.Second}
	r := New(20*time.Millisecond, nil)

	start := time.Now()
	got := r.Rewrite(t.Context(), m, "m", "qto custa")
	if got.WasRewritten || got.Text != "qto custa" {
		t.Errorf("got %+v, want original after timeout", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("rewrite took %v, timeout not applied", elapsed)
	}
}

func TestCleanup(t *testing.T) {
	tests := []struct{ in, want string }{
		{`"Quanto custa?"`, "Quanto custa?"},
		{"Mensagem: Quero dipirona", "Quero dipirona"},
		{"```\nQuero dipirona\n```", "Quero dipirona"},
		{"Quero dipirona\nExplicação: corrigi", "Quero dipirona"},
	}
	for _, tt := range tests {
		if got := cleanup(tt.in); got != tt.want {
			t.Errorf("cleanup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
