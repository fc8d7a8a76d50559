package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
)

// handleChatWebSocket serves turns over a WebSocket. Each text frame
// from the client is a [ChatRequest]; the server answers with one JSON
// frame per agent event, ending with an end or error frame. Turns on one
// connection run one at a time.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx := r.Context()
	for {
		var req ChatRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if !s.wsTurn(ctx, ws, req) {
			return
		}
	}
}

// wsTurn runs one turn and reports whether the connection is still
// writable.
func (s *Server) wsTurn(ctx context.Context, ws *websocket.Conn, req ChatRequest) bool {
	p, err := s.svc.Begin(ctx, req.turn())
	if err != nil {
		body := s.turnError(err)
		msg := body.Response
		if msg == "" {
			msg = body.Error.Message
		}
		return s.wsWrite(ws, agent.ErrorEvent(msg)) == nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	alive := true
	p.Run(ctx, func(e agent.Event) {
		if !alive {
			return
		}
		if err := s.wsWrite(ws, e); err != nil {
			s.logger.Debug("websocket write failed", "session", p.SessionID(), "error", err)
			alive = false
			cancel()
		}
	})
	return alive
}

func (s *Server) wsWrite(ws *websocket.Conn, e agent.Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(e)
}
