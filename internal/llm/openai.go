package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/httpkit"
)

const openAIAPIURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. An empty baseURL uses the public API.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = openAIAPIURL
	}
	logger = logger.With("provider", "openai")
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		httpClient: httpkit.NewStreamingClient(120*time.Second, logger),
	}
}

type openAIRequest struct {
	Model         string              `json:"model"`
	Messages      []openAIMessage     `json:"messages"`
	Tools         []map[string]any    `json:"tools,omitempty"`
	ToolChoice    string              `json:"tool_choice,omitempty"`
	Temperature   *float64            `json:"temperature,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
	StreamOptions *openAIStreamOption `json:"stream_options,omitempty"`
}

type openAIStreamOption struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		Delta        openAIMessage `json:"delta"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream sends a chat request, optionally streaming tokens via callback.
func (c *OpenAIClient) ChatStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	body := openAIRequest{
		Model:       req.Model,
		Messages:    convertToOpenAI(req.Messages),
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if len(req.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	if stream {
		body.StreamOptions = &openAIStreamOption{IncludeUsage: true}
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(body.Messages),
		"tools", len(body.Tools),
		"stream", stream,
	)

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		var raw openAIResponse
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(raw.Choices) == 0 {
			return nil, fmt.Errorf("openai response has no choices")
		}
		out := &ChatResponse{
			Model: raw.Model,
			Message: Message{
				Role:      RoleAssistant,
				Content:   deref(raw.Choices[0].Message.Content),
				ToolCalls: convertFromOpenAIToolCalls(raw.Choices[0].Message.ToolCalls),
			},
			StopReason: raw.Choices[0].FinishReason,
		}
		if raw.Usage != nil {
			out.InputTokens = raw.Usage.PromptTokens
			out.OutputTokens = raw.Usage.CompletionTokens
		}
		return out, nil
	}
	return c.handleStreaming(ctx, resp.Body, callback)
}

func (c *OpenAIClient) handleStreaming(ctx context.Context, body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		content    strings.Builder
		partial    = map[int]*openAIToolCall{}
		stopReason string
		out        = &ChatResponse{}
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage != nil {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if text := deref(choice.Delta.Content); text != "" {
				content.WriteString(text)
				callback(StreamEvent{Kind: KindToken, Token: text})
			}
			for _, d := range choice.Delta.ToolCalls {
				tc, ok := partial[d.Index]
				if !ok {
					tc = &openAIToolCall{Index: d.Index}
					partial[d.Index] = tc
				}
				if d.ID != "" {
					tc.ID = d.ID
				}
				if d.Function.Name != "" {
					tc.Function.Name = d.Function.Name
				}
				tc.Function.Arguments += d.Function.Arguments
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	indexes := make([]int, 0, len(partial))
	for i := range partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	assembled := make([]openAIToolCall, 0, len(indexes))
	for _, i := range indexes {
		assembled = append(assembled, *partial[i])
	}

	out.Message = Message{
		Role:      RoleAssistant,
		Content:   content.String(),
		ToolCalls: convertFromOpenAIToolCalls(assembled),
	}
	out.StopReason = stopReason
	for i := range out.Message.ToolCalls {
		callback(StreamEvent{Kind: KindToolCall, ToolCall: &out.Message.ToolCalls[i]})
	}
	callback(StreamEvent{Kind: KindDone, Response: out})

	c.logger.Debug("stream complete",
		"model", out.Model,
		"stop_reason", stopReason,
		"content_len", content.Len(),
		"tool_calls", len(out.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", out.Message.Content)
	return out, nil
}

func convertToOpenAI(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		msg := openAIMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		content := m.Content
		if m.Role == RoleAssistant && content == "" && len(m.ToolCalls) > 0 {
			msg.Content = nil
		} else {
			msg.Content = &content
		}
		for i, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil || tc.Arguments == nil {
				args = []byte("{}")
			}
			wire := openAIToolCall{Index: i, ID: tc.ID, Type: "function"}
			wire.Function.Name = tc.Name
			wire.Function.Arguments = string(args)
			msg.ToolCalls = append(msg.ToolCalls, wire)
		}
		out = append(out, msg)
	}
	return out
}

func convertFromOpenAIToolCalls(calls []openAIToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		args := map[string]any{}
		if strings.TrimSpace(c.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": c.Function.Arguments}
			}
		}
		out = append(out, ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: args})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
