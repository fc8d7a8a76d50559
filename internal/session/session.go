// Package session stores conversation sessions: an LRU+TTL cache in
// front of a durable SQLite store, with per-session locks that
// serialize turns.
package session

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrSessionNotFound is returned when a session ID has no stored session.
var ErrSessionNotFound = errors.New("session not found")

// DefaultMaxMessages is how many messages a session keeps after a turn.
const DefaultMaxMessages = 20

// Session is one conversation with a storefront visitor.
type Session struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func newSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Messages: []Message{}, Context: map[string]any{}, CreatedAt: now, UpdatedAt: now}
}

// Append adds messages to the log.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
}

// MergeContext copies client page context into the session.
func (s *Session) MergeContext(ctx map[string]any) {
	if len(ctx) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]any, len(ctx))
	}
	maps.Copy(s.Context, ctx)
}

// Truncate keeps the most recent max messages.
func (s *Session) Truncate(max int) {
	if max > 0 && len(s.Messages) > max {
		s.Messages = slices.Clone(s.Messages[len(s.Messages)-max:])
	}
}

// History returns the user-visible text messages, or the full log when
// includeTools is set.
func (s *Session) History(includeTools bool) []Message {
	if includeTools {
		return slices.Clone(s.Messages)
	}
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.UserVisible() {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a copy that shares no slices or maps with s. Message
// payloads (tool arguments, result data) are treated as immutable.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = slices.Clone(s.Messages)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	c.Context = maps.Clone(s.Context)
	return &c
}
