package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiClient implements Client using the Google Gen AI SDK.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini client against the Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, logger: logger.With("provider", "gemini")}, nil
}

// Chat sends a non-streaming generateContent request.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	contents, config := c.prepare(req)

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	acc := &geminiAccumulator{}
	acc.add(resp, nil)
	out := acc.response(req.Model)

	c.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"tool_calls", len(out.Message.ToolCalls),
	)
	return out, nil
}

// ChatStream streams a generateContent request. Tool calls are emitted
// as they arrive; Gemini never splits one call across chunks.
func (c *GeminiClient) ChatStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, req)
	}
	contents, config := c.prepare(req)

	acc := &geminiAccumulator{}
	for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		acc.add(resp, callback)
	}

	out := acc.response(req.Model)
	callback(StreamEvent{Kind: KindDone, Response: out})

	c.logger.Debug("stream complete",
		"model", out.Model,
		"stop_reason", out.StopReason,
		"content_len", len(out.Message.Content),
		"tool_calls", len(out.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", out.Message.Content)
	return out, nil
}

func (c *GeminiClient) prepare(req *ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, system := convertToGemini(req.Messages)

	config := &genai.GenerateContentConfig{
		Tools: convertToolsToGemini(req.Tools),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature != nil {
		config.Temperature = ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(contents),
		"tools", len(req.Tools),
	)
	return contents, config
}

type geminiAccumulator struct {
	content    strings.Builder
	toolCalls  []ToolCall
	stopReason string
	model      string
	usageIn    int
	usageOut   int
}

func (a *geminiAccumulator) add(resp *genai.GenerateContentResponse, callback StreamCallback) {
	if resp == nil {
		return
	}
	if resp.ModelVersion != "" {
		a.model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		a.usageIn = int(resp.UsageMetadata.PromptTokenCount)
		a.usageOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason != "" {
			a.stopReason = string(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" && !part.Thought {
				a.content.WriteString(part.Text)
				if callback != nil {
					callback(StreamEvent{Kind: KindToken, Token: part.Text})
				}
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				args := fc.Args
				if args == nil {
					args = map[string]any{}
				}
				tc := ToolCall{ID: id, Name: fc.Name, Arguments: args}
				a.toolCalls = append(a.toolCalls, tc)
				if callback != nil {
					callback(StreamEvent{Kind: KindToolCall, ToolCall: &tc})
				}
			}
		}
	}
}

func (a *geminiAccumulator) response(requested string) *ChatResponse {
	model := a.model
	if model == "" {
		model = requested
	}
	return &ChatResponse{
		Model: model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   a.content.String(),
			ToolCalls: a.toolCalls,
		},
		StopReason:   a.stopReason,
		InputTokens:  a.usageIn,
		OutputTokens: a.usageOut,
	}
}

// convertToGemini maps internal messages to genai contents. System
// messages become the system instruction. Consecutive tool results are
// grouped into one user turn so they line up with the calls that
// produced them.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var systemParts []string
	var contents []*genai.Content
	toolNames := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				toolNames[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		case RoleTool:
			name := msg.ToolName
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     name,
				Response: toolResponsePayload(msg.Content),
			}}
			if n := len(contents); n > 0 && contents[n-1].Role == "user" && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})

		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, strings.Join(systemParts, "\n\n")
}

func isFunctionResponseTurn(c *genai.Content) bool {
	return len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

// toolResponsePayload wraps tool output as the object Gemini expects.
// JSON objects pass through; anything else is nested under "result".
func toolResponsePayload(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": content}
}

func convertToolsToGemini(tools []map[string]any) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, tool := range tools {
		name, desc, params, ok := functionParts(tool)
		if !ok {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 name,
			Description:          desc,
			ParametersJsonSchema: params,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func ptr[T any](v T) *T { return &v }
