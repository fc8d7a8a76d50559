package agent

import (
	"context"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/tools"
)

// EventType names a streaming event.
type EventType string

// Streaming event types, in the order a turn produces them: text for a
// phase, then tool_call/tool_result per call, repeated, then one end.
const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventEnd        EventType = "end"
	EventError      EventType = "error"
)

// Event is one streaming frame. Only the fields of its type are set.
type Event struct {
	Type EventType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_call, tool_result
	ToolCallID string         `json:"toolCallId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     *tools.Result  `json:"result,omitempty"`

	// end
	SessionID string         `json:"sessionId,omitempty"`
	Response  string         `json:"response,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Actions   []tools.Action `json:"actions,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Emitter receives events synchronously. It returns only after the frame
// is written, so a slow client slows the provider stream instead of
// buffering without bound.
type Emitter func(Event)

// guard drops events once ctx is done. A nil emitter stays nil.
func guard(ctx context.Context, emit Emitter) Emitter {
	if emit == nil {
		return nil
	}
	return func(e Event) {
		if ctx.Err() != nil {
			return
		}
		emit(e)
	}
}

func textEvent(text string) Event {
	return Event{Type: EventText, Text: text}
}

func toolCallEvent(id, name string, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{Type: EventToolCall, ToolCallID: id, Name: name, Args: args}
}

func toolResultEvent(id, name string, res tools.Result) Event {
	return Event{Type: EventToolResult, ToolCallID: id, Name: name, Result: &res}
}

func endEvent(sessionID, response string, ts time.Time, actions []tools.Action) Event {
	return Event{Type: EventEnd, SessionID: sessionID, Response: response, Timestamp: &ts, Actions: actions}
}

// ErrorEvent builds the terminal error frame.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
