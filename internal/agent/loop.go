// Package agent implements the storefront agent: the bounded
// generate/tool-execute loop, its streaming events, the runtime LLM
// configuration, and the turn service that ties sessions, providers, and
// tools together.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/prompts"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/session"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/tools"
)

// DefaultMaxIterations bounds the model calls that may request tools in
// one turn.
const DefaultMaxIterations = 5

// digestLimit caps the tool-result data kept when the working list is
// summarized before the finalizing call.
const digestLimit = 600

// LoopConfig tunes the loop.
type LoopConfig struct {
	MaxIterations        int
	SummarizeBeforeFinal bool
}

// Loop drives one turn: model call, tool execution, reinjection, until
// the model answers in text or the iteration cap forces a final answer.
type Loop struct {
	tools                *tools.Registry
	logger               *slog.Logger
	maxIterations        int
	summarizeBeforeFinal bool
}

// NewLoop creates a loop over the given tool registry.
func NewLoop(registry *tools.Registry, cfg LoopConfig, logger *slog.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tools:                registry,
		logger:               logger,
		maxIterations:        cfg.MaxIterations,
		summarizeBeforeFinal: cfg.SummarizeBeforeFinal,
	}
}

// Input is everything one run needs.
type Input struct {
	Client      llm.Client
	Model       string
	Temperature *float64
	MaxTokens   int

	// Messages is the working list: system prompt, replayed history, and
	// the current user message.
	Messages []llm.Message
	Turn     *tools.Turn

	// Emit, when set, selects streaming mode.
	Emit Emitter

	// Apology is the answer used when a model call fails.
	Apology string
}

// Output is the result of a run. Response is empty only when the client
// disconnected before an answer was produced.
type Output struct {
	Response string
	// Streamed is set when Response already reached the client as text
	// events.
	Streamed bool
	// Records mirrors tool activity for the session log, in order.
	Records []session.Message

	Iterations   int
	ToolCalls    int
	ForcedFinal  bool
	Failed       bool
	Disconnected bool
	InputTokens  int
	OutputTokens int
}

// Run executes the loop. It never returns an error: model failures
// become the apology and exhaustion goes through the finalizing call.
func (l *Loop) Run(ctx context.Context, in Input) *Output {
	out := &Output{}
	emit := guard(ctx, in.Emit)
	working := append([]llm.Message(nil), in.Messages...)
	toolDefs := l.tools.List()

	for out.Iterations < l.maxIterations {
		if ctx.Err() != nil {
			out.Disconnected = true
			return out
		}
		out.Iterations++

		resp, streamed, err := l.generate(ctx, in, working, toolDefs, emit)
		if err != nil {
			if ctx.Err() != nil {
				out.Disconnected = true
				return out
			}
			l.logger.Error("model call failed",
				"iteration", out.Iterations, "model", in.Model, "error", err)
			out.Response = in.Apology
			out.Failed = true
			return out
		}
		out.InputTokens += resp.InputTokens
		out.OutputTokens += resp.OutputTokens

		text := strings.TrimSpace(resp.Message.Content)
		calls := assignCallIDs(resp.Message.ToolCalls)

		if len(calls) == 0 {
			if text == "" {
				l.logger.Warn("model returned neither text nor tool calls, finalizing",
					"iteration", out.Iterations)
				break
			}
			out.Response = text
			out.Streamed = streamed
			return out
		}

		working = append(working, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		working = l.executeAll(ctx, in.Turn, calls, working, out, emit)

		if ctx.Err() != nil {
			out.Disconnected = true
			return out
		}
	}

	return l.finalize(ctx, in, working, out)
}

// generate makes one model call, streaming tokens when an emitter is set.
func (l *Loop) generate(ctx context.Context, in Input, working []llm.Message, toolDefs []map[string]any, emit Emitter) (*llm.ChatResponse, bool, error) {
	req := &llm.ChatRequest{
		Model:       in.Model,
		Messages:    working,
		Tools:       toolDefs,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}
	l.logger.Log(ctx, llm.LevelTrace, "model request",
		"model", in.Model, "messages", len(working), "tools", len(toolDefs))

	if emit == nil {
		resp, err := in.Client.Chat(ctx, req)
		return resp, false, err
	}

	streamed := false
	resp, err := in.Client.ChatStream(ctx, req, func(ev llm.StreamEvent) {
		if ev.Kind == llm.KindToken && ev.Token != "" {
			streamed = true
			emit(textEvent(ev.Token))
		}
	})
	return resp, streamed, err
}

// executeAll runs a batch of tool calls sequentially. Each call runs on a
// context detached from cancellation so a disconnect never leaves a
// cart half-updated.
func (l *Loop) executeAll(ctx context.Context, turn *tools.Turn, calls []llm.ToolCall, working []llm.Message, out *Output, emit Emitter) []llm.Message {
	toolCtx := context.WithoutCancel(ctx)

	records := make([]session.ToolCall, 0, len(calls))
	for _, c := range calls {
		records = append(records, session.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	out.Records = append(out.Records, session.NewToolCalls(records))

	for _, c := range calls {
		out.ToolCalls++
		if emit != nil {
			emit(toolCallEvent(c.ID, c.Name, c.Arguments))
		}

		start := time.Now()
		res, err := l.tools.Execute(toolCtx, turn, c.Name, c.Arguments)
		if err != nil {
			l.logger.Warn("tool call failed",
				"tool", c.Name, "call_id", c.ID, "error", err)
		}
		l.logger.Debug("tool executed",
			"tool", c.Name, "success", res.Success, "elapsed", time.Since(start).Round(time.Millisecond))

		if emit != nil {
			emit(toolResultEvent(c.ID, c.Name, res))
		}
		working = append(working, llm.Message{
			Role:       llm.RoleTool,
			Content:    res.JSON(),
			ToolCallID: c.ID,
			ToolName:   c.Name,
		})
		out.Records = append(out.Records, session.NewToolResult(session.ToolResult{
			ToolCallID: c.ID,
			Name:       c.Name,
			Success:    res.Success,
			Message:    res.Message,
			Data:       res.Data,
		}))
	}
	return working
}

// finalize makes the single tool-less call that turns whatever the loop
// gathered into an answer.
func (l *Loop) finalize(ctx context.Context, in Input, working []llm.Message, out *Output) *Output {
	out.ForcedFinal = true
	if ctx.Err() != nil {
		out.Disconnected = true
		return out
	}
	working = flattenForFinal(working, l.summarizeBeforeFinal)
	working = append(working, llm.Message{Role: llm.RoleUser, Content: prompts.ForcedFinalInstruction})

	resp, err := in.Client.Chat(ctx, &llm.ChatRequest{
		Model:       in.Model,
		Messages:    working,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		out.Disconnected = true
		return out
	case err != nil:
		l.logger.Error("finalizing call failed", "model", in.Model, "error", err)
		out.Response = prompts.FinalFallback
		return out
	}
	out.InputTokens += resp.InputTokens
	out.OutputTokens += resp.OutputTokens

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		l.logger.Warn("finalizing call returned no text, using fallback")
		text = prompts.FinalFallback
	}
	out.Response = text
	return out
}

// assignCallIDs keeps provider IDs and generates one for calls that lack
// an ID or repeat one already used in this batch.
func assignCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}

// flattenForFinal rewrites tool traffic as plain assistant text. The
// finalizing call defines no tools, and providers reject tool-use blocks
// in a request without tool definitions. With summarize, tool payloads
// become bounded digests.
func flattenForFinal(working []llm.Message, summarize bool) []llm.Message {
	out := make([]llm.Message, 0, len(working))
	for _, m := range working {
		switch {
		case m.Role == llm.RoleSystem:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		case m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0:
			text := toolCallText(m.ToolCalls)
			if c := strings.TrimSpace(m.Content); c != "" {
				text = c + "\n" + text
			}
			out = appendTurn(out, llm.Message{Role: llm.RoleAssistant, Content: text})
		case m.Role == llm.RoleTool:
			text := fmt.Sprintf("[resultado de %s] %s", m.ToolName, m.Content)
			if summarize {
				text = digest(m.ToolName, m.Content)
			}
			out = appendTurn(out, llm.Message{Role: llm.RoleAssistant, Content: text})
		default:
			out = appendTurn(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

// toolCallText renders a batch of calls the way history replay does.
func toolCallText(calls []llm.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		args, err := json.Marshal(c.Arguments)
		if err != nil || c.Arguments == nil {
			args = []byte("{}")
		}
		parts = append(parts, c.Name+string(args))
	}
	return prompts.ToolCallPlaceholder + " " + strings.Join(parts, "; ")
}

func digest(name, payload string) string {
	var res struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return prompts.ToolResultPlaceholder(name, false, truncate(payload, digestLimit))
	}
	s := prompts.ToolResultPlaceholder(name, res.Success, res.Message)
	if len(res.Data) > 0 && string(res.Data) != "null" {
		s += fmt.Sprintf(" | dados: %s", truncate(string(res.Data), digestLimit))
	}
	return s
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
