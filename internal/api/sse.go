package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

var errStreamClosed = errors.New("stream closed")

// sseWriter writes agent events as Server-Sent Events frames. Every
// frame is flushed before send returns.
type sseWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
	failed bool
}

// newSSEWriter writes the stream headers and the 200 status.
func newSSEWriter(w http.ResponseWriter, logger *slog.Logger) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	return &sseWriter{w: w, rc: http.NewResponseController(w), logger: logger}
}

// send writes one `data: <json>` frame. After the first write failure
// every later call fails without writing.
func (s *sseWriter) send(e agent.Event) error {
	if s.failed {
		return errStreamClosed
	}
	// Multi-iteration tool loops outlive a fixed write timeout.
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.logger.Log(context.Background(), llm.LevelTrace, "failed to reset write deadline", "error", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to marshal SSE event", "type", e.Type, "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.failed = true
		return fmt.Errorf("write SSE frame: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		s.failed = true
		return fmt.Errorf("flush SSE frame: %w", err)
	}
	return nil
}

// streamTurn runs a started turn over SSE. A failed write cancels the
// turn so the loop stops calling the model.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, p *agent.PendingTurn) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sw := newSSEWriter(w, s.logger)
	res := p.Run(ctx, func(e agent.Event) {
		if err := sw.send(e); err != nil {
			s.logger.Debug("client stream closed", "session", p.SessionID(), "error", err)
			cancel()
		}
	})
	s.logger.Debug("stream finished",
		"session", res.SessionID, "disconnected", res.Summary.Disconnected)
}
