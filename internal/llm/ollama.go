// Package llm provides LLM client implementations for the providers the
// agent can route to, plus the resolver that picks one per turn.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/httpkit"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaClient is a client for the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	logger = logger.With("provider", "ollama")
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		// Large local models with tools need time before the first byte.
		httpClient: httpkit.NewStreamingClient(5*time.Minute, logger),
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama returns an object, not a string
	} `json:"function"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream sends a chat request to Ollama. If callback is non-nil,
// tokens are streamed to it as newline-delimited JSON chunks arrive.
func (c *OllamaClient) ChatStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	body := ollamaRequest{
		Model:    req.Model,
		Messages: convertToOllama(req.Messages),
		Stream:   stream,
		Tools:    req.Tools,
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, errBody)
	}

	validTools := extractToolNames(req.Tools)

	if !stream {
		var raw ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return finishOllama(&raw, raw.Message.Content, validTools), nil
	}

	var final ollamaResponse
	var toolCalls []ollamaToolCall
	var content strings.Builder
	decoder := json.NewDecoder(resp.Body)

	for {
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			callback(StreamEvent{Kind: KindToken, Token: chunk.Message.Content})
		}
		// Tool calls come in the final message.
		if len(chunk.Message.ToolCalls) > 0 {
			toolCalls = chunk.Message.ToolCalls
		}
		if chunk.Done {
			final = chunk
			break
		}
	}
	final.Message.ToolCalls = toolCalls

	out := finishOllama(&final, content.String(), validTools)
	for i := range out.Message.ToolCalls {
		callback(StreamEvent{Kind: KindToolCall, ToolCall: &out.Message.ToolCalls[i]})
	}
	callback(StreamEvent{Kind: KindDone, Response: out})
	return out, nil
}

// finishOllama converts a final Ollama response, falling back to parsing
// tool calls out of the text when the model did not use native tool_calls.
func finishOllama(raw *ollamaResponse, content string, validTools []string) *ChatResponse {
	out := &ChatResponse{
		Model:        raw.Model,
		CreatedAt:    raw.CreatedAt,
		StopReason:   raw.DoneReason,
		InputTokens:  raw.PromptEvalCount,
		OutputTokens: raw.EvalCount,
		Message: Message{
			Role:    RoleAssistant,
			Content: content,
		},
	}
	for i, tc := range raw.Message.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%s_%d", tc.Function.Name, i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(out.Message.ToolCalls) == 0 && content != "" {
		if parsed := parseTextToolCalls(content, validTools); len(parsed) > 0 {
			out.Message.ToolCalls = parsed
			out.Message.Content = ""
		}
	}
	return out
}

func convertToOllama(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msg := ollamaMessage{Role: m.Role, Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			var w ollamaToolCall
			w.Function.Name = tc.Name
			w.Function.Arguments = tc.Arguments
			msg.ToolCalls = append(msg.ToolCalls, w)
		}
		out = append(out, msg)
	}
	return out
}

// extractToolNames returns the function names from OpenAI-format tool
// definitions. Malformed entries are skipped.
func extractToolNames(tools []map[string]any) []string {
	if len(tools) == 0 {
		return nil
	}
	names := []string{}
	for _, tool := range tools {
		if name, _, _, ok := functionParts(tool); ok {
			names = append(names, name)
		}
	}
	return names
}

type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls extracts tool calls that a model wrote into its
// content instead of the native tool_calls field. Handled shapes:
//   - a JSON object {"name": ..., "arguments": {...}}
//   - a JSON array of such objects
//   - concatenated objects {...}{...} with optional trailing prose
//   - <tool_call>...</tool_call> tags
//   - tool_name {json}
//
// When validTools is non-empty, calls naming other tools are dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	var raw []textToolCall

	var arr []textToolCall
	if err := json.Unmarshal([]byte(content), &arr); err == nil {
		raw = arr
	} else if strings.HasPrefix(content, "{") {
		dec := json.NewDecoder(strings.NewReader(content))
		for {
			var one textToolCall
			if err := dec.Decode(&one); err != nil {
				break
			}
			raw = append(raw, one)
		}
	} else if i := strings.Index(content, "{"); i > 0 {
		name := strings.TrimSpace(content[:i])
		if !strings.ContainsAny(name, " \n\t") {
			dec := json.NewDecoder(strings.NewReader(content[i:]))
			var args map[string]any
			if err := dec.Decode(&args); err == nil {
				raw = append(raw, textToolCall{Name: name, Arguments: args})
			}
		}
	}

	allowed := make(map[string]bool, len(validTools))
	for _, n := range validTools {
		allowed[n] = true
	}

	var result []ToolCall
	for _, c := range raw {
		if c.Name == "" {
			continue
		}
		if len(allowed) > 0 && !allowed[c.Name] {
			continue
		}
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		result = append(result, ToolCall{
			ID:        fmt.Sprintf("call_%s_%d", c.Name, len(result)),
			Name:      c.Name,
			Arguments: args,
		})
	}
	return result
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}
