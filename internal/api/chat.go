package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/session"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/tools"
)

// maxBodyBytes bounds request bodies. Messages are limited to 10000
// characters; the rest is page context.
const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /chat and of each WebSocket frame.
type ChatRequest struct {
	Message    string         `json:"message"`
	SessionID  string         `json:"sessionId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Streaming  bool           `json:"streaming,omitempty"`
	LLMConfig  *llm.Config    `json:"llmConfig,omitempty"`
	RenderHTML bool           `json:"renderHtml,omitempty"`
}

func (c ChatRequest) turn() agent.TurnRequest {
	return agent.TurnRequest{
		SessionID: c.SessionID,
		Message:   c.Message,
		Context:   c.Context,
		LLMConfig: c.LLMConfig,
	}
}

// ChatResponse is the non-streaming reply.
type ChatResponse struct {
	Response     string         `json:"response"`
	SessionID    string         `json:"sessionId"`
	Timestamp    time.Time      `json:"timestamp"`
	Actions      []tools.Action `json:"actions,omitempty"`
	ResponseHTML string         `json:"responseHtml,omitempty"`
}

// HistoryResponse is returned by GET /chat?action=history.
type HistoryResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []session.Message `json:"messages"`
}

// ContextResponse is returned by GET /chat?action=context.
type ContextResponse struct {
	SessionID string         `json:"sessionId"`
	Context   map[string]any `json:"context"`
}

// ConfigResponse carries the active LLM configuration.
type ConfigResponse struct {
	Success   bool       `json:"success"`
	LLMConfig llm.Config `json:"llmConfig"`
}

// configUpdate is the body of PUT /chat.
type configUpdate struct {
	LLMConfig *llm.Config `json:"llmConfig"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleChatPost(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Provider resolution happens here, so a failure is still a plain
	// 500 even for streaming requests.
	p, err := s.svc.Begin(r.Context(), req.turn())
	if err != nil {
		s.writeError(w, s.turnError(err))
		return
	}

	if req.Streaming {
		s.streamTurn(w, r, p)
		return
	}

	res := p.Run(r.Context(), nil)
	resp := ChatResponse{
		Response:  res.Response,
		SessionID: res.SessionID,
		Timestamp: res.Timestamp,
		Actions:   res.Actions,
	}
	if req.RenderHTML {
		html, err := renderHTML(res.Response)
		if err != nil {
			s.logger.Warn("markdown render failed", "session", res.SessionID, "error", err)
		}
		resp.ResponseHTML = html
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	if sessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	action := q.Get("action")
	if action == "" {
		action = "history"
	}

	var body any
	switch action {
	case "history":
		includeTools, _ := strconv.ParseBool(q.Get("includeTools"))
		msgs, err := s.svc.History(r.Context(), sessionID, includeTools)
		if err != nil {
			s.logger.Error("load history failed", "session", sessionID, "error", err)
			s.internalError(w)
			return
		}
		body = HistoryResponse{SessionID: sessionID, Messages: msgs}
	case "context":
		bag, err := s.svc.SessionContext(r.Context(), sessionID)
		if err != nil {
			s.logger.Error("load context failed", "session", sessionID, "error", err)
			s.internalError(w)
			return
		}
		body = ContextResponse{SessionID: sessionID, Context: bag}
	case "config":
		body = ConfigResponse{Success: true, LLMConfig: s.svc.Config()}
	default:
		s.errorResponse(w, http.StatusBadRequest, "unknown action "+strconv.Quote(action)+", want history, context or config")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if err := s.svc.Clear(r.Context(), sessionID); err != nil {
		s.logger.Error("clear session failed", "session", sessionID, "error", err)
		s.internalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"success": true, "sessionId": sessionID}, s.logger)
}

func (s *Server) handleChatPut(w http.ResponseWriter, r *http.Request) {
	var body configUpdate
	if err := decodeBody(w, r, &body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.LLMConfig == nil {
		s.errorResponse(w, http.StatusBadRequest, "llmConfig is required")
		return
	}
	cfg, err := s.svc.SetConfig(*body.LLMConfig)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ConfigResponse{Success: true, LLMConfig: cfg}, s.logger)
}
