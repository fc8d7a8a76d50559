// Package llm provides the provider-neutral chat client interface, the
// concrete provider clients, and the provider resolver that picks one of
// them for a turn.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. Text tokens are handed to
	// callback as they arrive; the callback runs on the reading goroutine,
	// so a slow callback slows consumption of the provider stream.
	ChatStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*ChatResponse, error)
}
