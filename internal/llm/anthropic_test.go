package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "Você é a assistente da farmácia."},
		{Role: RoleUser, Content: "Olá!"},
		{Role: RoleAssistant, Content: "Oi! Como posso ajudar?"},
		{Role: RoleUser, Content: "Tem dipirona?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "Você é a assistente da farmácia." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Adicione 2 dipirona e veja o carrinho"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Name: "add_to_cart", Arguments: map[string]any{"product_id": "dip-500", "quantity": 2}},
				{ID: "toolu_2", Name: "view_cart"},
			},
		},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)

	// user, assistant with tool_use, one merged user with both tool_results
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	assistantContent, ok := result[1].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected assistant content to be []anthropicContent")
	}
	if len(assistantContent) != 2 {
		t.Fatalf("expected 2 tool_use blocks, got %d", len(assistantContent))
	}
	if assistantContent[0].Type != "tool_use" || assistantContent[0].ID != "toolu_1" {
		t.Errorf("unexpected first block: %+v", assistantContent[0])
	}
	if args, ok := assistantContent[1].Input.(map[string]any); !ok || args == nil {
		t.Errorf("nil arguments should become an empty object, got %#v", assistantContent[1].Input)
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected tool result content to be []anthropicContent")
	}
	if len(results) != 2 {
		t.Fatalf("expected consecutive tool results merged into one turn, got %d blocks", len(results))
	}
	if results[0].ToolUseID != "toolu_1" || results[1].ToolUseID != "toolu_2" {
		t.Errorf("tool_use_ids = %q, %q", results[0].ToolUseID, results[1].ToolUseID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "search_products",
				"description": "Search the catalog",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
					},
					"required": []string{"query"},
				},
			},
		},
		{"type": "function"},
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "search_products" {
		t.Errorf("expected tool name search_products, got %s", result[0].Name)
	}
	if result[0].Description != "Search the catalog" {
		t.Errorf("expected description, got %s", result[0].Description)
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude-sonnet-4-20250514",
		Role:  "assistant",
		Content: []anthropicContent{
			{Type: "text", Text: "Vou verificar."},
			{
				Type:  "tool_use",
				ID:    "toolu_xyz789",
				Name:  "search_products",
				Input: map[string]any{"query": "dipirona"},
			},
		},
		StopReason: "tool_use",
		Usage:      anthropicUsage{InputTokens: 100, OutputTokens: 20},
	}

	result := convertFromAnthropic(resp)

	if result.Message.Content != "Vou verificar." {
		t.Errorf("unexpected content: %q", result.Message.Content)
	}
	if len(result.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.Message.ToolCalls))
	}
	tc := result.Message.ToolCalls[0]
	if tc.ID != "toolu_xyz789" || tc.Name != "search_products" {
		t.Errorf("tool call = %+v", tc)
	}
	if result.InputTokens != 100 || result.OutputTokens != 20 {
		t.Errorf("usage = %d/%d", result.InputTokens, result.OutputTokens)
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*OllamaClient)(nil)
	var _ Client = (*GeminiClient)(nil)
}

func TestAnthropicChatStream(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"model":"claude-test","usage":{"input_tokens":50}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Vou "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"buscar."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"search_products"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"dipirona\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":15}}`,
		`{"type":"message_stop"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !req.Stream || req.Temperature == nil || *req.Temperature != 0.2 {
			t.Errorf("request stream=%v temperature=%v", req.Stream, req.Temperature)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	}))
	defer srv.Close()

	temp := 0.2
	c := NewAnthropicClient("sk-ant", srv.URL+"/v1", nil)

	var tokens strings.Builder
	var calls []ToolCall
	resp, err := c.ChatStream(t.Context(), &ChatRequest{
		Model:       "claude-test",
		Messages:    []Message{{Role: RoleUser, Content: "dipirona"}},
		Temperature: &temp,
	}, func(ev StreamEvent) {
		switch ev.Kind {
		case KindToken:
			tokens.WriteString(ev.Token)
		case KindToolCall:
			calls = append(calls, *ev.ToolCall)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if tokens.String() != "Vou buscar." {
		t.Errorf("tokens = %q", tokens.String())
	}
	if len(calls) != 1 || calls[0].Arguments["query"] != "dipirona" {
		t.Fatalf("tool calls = %+v", calls)
	}
	if resp.StopReason != "tool_use" || resp.InputTokens != 50 || resp.OutputTokens != 15 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnthropicChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", srv.URL, nil)
	_, err := c.Chat(t.Context(), &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want 429 error", err)
	}
}
