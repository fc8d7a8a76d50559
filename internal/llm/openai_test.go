package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToOpenAI(t *testing.T) {
	msgs := convertToOpenAI([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "view_cart"}}},
		{Role: RoleTool, ToolCallID: "c1", Content: `{"success":true}`},
	})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[1].Content != nil {
		t.Errorf("tool-call-only assistant content should be null, got %q", *msgs[1].Content)
	}
	if msgs[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("nil arguments = %q, want {}", msgs[1].ToolCalls[0].Function.Arguments)
	}
	if msgs[2].ToolCallID != "c1" {
		t.Errorf("tool_call_id = %q", msgs[2].ToolCallID)
	}
}

func TestOpenAIChatStream_ToolCallDeltas(t *testing.T) {
	chunks := []string{
		`{"model":"gpt-test","choices":[{"delta":{"content":"Um "}}]}`,
		`{"choices":[{"delta":{"content":"momento."}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"add_to_cart","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"product_id\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"dip-500\",\"quantity\":2}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":40,"completion_tokens":9}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-o" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req openAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream || req.ToolChoice != "auto" {
			t.Errorf("stream=%v tool_choice=%q", req.Stream, req.ToolChoice)
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-o", srv.URL+"/v1", nil)
	var order []StreamEventKind
	resp, err := c.ChatStream(t.Context(), &ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: RoleUser, Content: "adicione 2 dipirona"}},
		Tools:    []map[string]any{{"type": "function", "function": map[string]any{"name": "add_to_cart"}}},
	}, func(ev StreamEvent) { order = append(order, ev.Kind) })
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	want := []StreamEventKind{KindToken, KindToken, KindToolCall, KindDone}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("event order = %v, want %v", order, want)
	}
	if resp.Message.Content != "Um momento." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_a" || tc.Arguments["product_id"] != "dip-500" || tc.Arguments["quantity"] != float64(2) {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 40 || resp.OutputTokens != 9 || resp.StopReason != "tool_calls" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIChat_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"Olá!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL, nil)
	resp, err := c.Chat(t.Context(), &ChatRequest{Model: "gpt-test", Messages: []Message{{Role: RoleUser, Content: "olá"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Olá!" || len(resp.Message.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp.Message)
	}
}
