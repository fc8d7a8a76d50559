// Package tools defines the tool registry the agent loop executes model
// tool calls against, and the storefront tool set.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// Result is what a tool returns to the model. A failed result is fed
// back to the model exactly like a successful one.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// OK builds a successful result.
func OK(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a failed result.
func Fail(message string) Result {
	return Result{Success: false, Message: message}
}

// JSON renders the result for the model. Marshal failures degrade to a
// failed result rather than an error.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(Fail("result could not be encoded: " + err.Error()))
	}
	return string(b)
}

// Handler executes one tool call for a turn.
type Handler func(ctx context.Context, turn *Turn, args map[string]any) (Result, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools. It is built once at startup and read
// concurrently by turns.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in OpenAI function format, sorted by name so
// prompts are stable across requests.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.Get(name)
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// Execute runs a tool call. It always returns a usable Result: unknown
// tools, invalid arguments, handler errors, and panics become failed
// results. The returned error carries the underlying cause for logging.
func (r *Registry) Execute(ctx context.Context, turn *Turn, name string, args map[string]any) (res Result, err error) {
	tool := r.Get(name)
	if tool == nil {
		err = &ErrToolUnavailable{ToolName: name}
		return Fail(err.Error()), err
	}
	if args == nil {
		args = map[string]any{}
	}
	if verr := ValidateArguments(tool.InputSchema, args); verr != nil {
		err = fmt.Errorf("%s: %w", name, verr)
		return Fail("invalid arguments: " + verr.Error()), err
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v\n%s", name, p, debug.Stack())
			res = Fail("tool failed unexpectedly")
		}
	}()

	res, err = tool.Handler(ctx, turn, args)
	if err != nil {
		return Fail(err.Error()), fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}
