package tools

import "sync"

// Action is a UI side effect produced by a tool, returned to the client
// alongside the reply (navigate, refresh the cart, open checkout).
type Action struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Action types emitted by the storefront tools.
const (
	ActionNavigate     = "navigate"
	ActionCartUpdated  = "cart_updated"
	ActionShowProducts = "show_products"
	ActionCheckout     = "checkout"
)

// Turn is the per-turn context handed to every tool handler. It replaces
// ambient request state: handlers read the session they act on and the
// client's page context from it, and record UI actions on it.
type Turn struct {
	SessionID string
	// Context is client-supplied page state (current route, selected
	// product). It is read-only for handlers.
	Context map[string]any

	mu      sync.Mutex
	actions []Action
}

// NewTurn creates the tool context for one turn.
func NewTurn(sessionID string, pageContext map[string]any) *Turn {
	return &Turn{SessionID: sessionID, Context: pageContext}
}

// Emit records a UI action.
func (t *Turn) Emit(a Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = append(t.actions, a)
}

// Actions returns the recorded actions in emission order.
func (t *Turn) Actions() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Action(nil), t.actions...)
}

// ContextString returns a string value from the page context.
func (t *Turn) ContextString(key string) string {
	if t == nil || t.Context == nil {
		return ""
	}
	s, _ := t.Context[key].(string)
	return s
}
