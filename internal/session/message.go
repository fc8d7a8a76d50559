package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/prompts"
)

// Role identifies who produced a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind distinguishes plain conversation text from tool records.
type Kind string

// Message kinds.
const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// ToolCall is a structured record of one tool invocation requested by
// the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is a structured record of one tool execution.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

// Message is one append-only entry in a session log. Content is never
// empty: tool records carry a synthesized placeholder.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Kind       Kind        `json:"kind"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	ToolCalls  []ToolCall  `json:"toolCalls,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// NewText creates a text message.
func NewText(role Role, content string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Kind:      KindText,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolCalls creates an assistant tool-call record.
func NewToolCalls(calls []ToolCall) Message {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	content := prompts.ToolCallPlaceholder
	if len(names) > 0 {
		content += " " + strings.Join(names, ", ")
	}
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      RoleAssistant,
		Kind:      KindToolCall,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ToolCalls: calls,
	}
}

// NewToolResult creates an assistant tool-result record.
func NewToolResult(r ToolResult) Message {
	return Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Role:       RoleAssistant,
		Kind:       KindToolResult,
		Content:    prompts.ToolResultPlaceholder(r.Name, r.Success, r.Message),
		Timestamp:  time.Now().UTC(),
		ToolResult: &r,
	}
}

// UserVisible reports whether the message belongs in the customer-facing
// history view.
func (m Message) UserVisible() bool {
	return m.Kind == KindText && (m.Role == RoleUser || m.Role == RoleAssistant)
}

// Replay renders the message as text for the model's working list. Tool
// records become compact assistant text so a log truncated between a
// call and its result still replays as a well-formed conversation.
func (m Message) Replay() string {
	if m.Kind != KindToolCall {
		return m.Content
	}
	parts := make([]string, 0, len(m.ToolCalls))
	for _, c := range m.ToolCalls {
		args, err := json.Marshal(c.Arguments)
		if err != nil || c.Arguments == nil {
			args = []byte("{}")
		}
		parts = append(parts, c.Name+string(args))
	}
	if len(parts) == 0 {
		return m.Content
	}
	return prompts.ToolCallPlaceholder + " " + strings.Join(parts, "; ")
}
