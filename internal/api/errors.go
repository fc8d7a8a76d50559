package api

import (
	"errors"
	"net/http"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

// Error types in the error envelope.
const (
	errTypeInvalidRequest      = "invalid_request_error"
	errTypeProviderUnavailable = "provider_unavailable"
	errTypeInternal            = "internal_error"
)

// ErrorDetail is the body of the error envelope.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// ErrorResponse is the error envelope. Response carries the customer
// facing apology when the failure happened while serving a turn.
type ErrorResponse struct {
	Error    ErrorDetail `json:"error"`
	Response string      `json:"response,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.writeError(w, ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errTypeInvalidRequest,
		Code:    code,
	}})
}

func (s *Server) writeError(w http.ResponseWriter, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Error.Code)
	writeJSON(w, body, s.logger)
}

func (s *Server) internalError(w http.ResponseWriter) {
	s.writeError(w, ErrorResponse{Error: ErrorDetail{
		Message: "internal error",
		Type:    errTypeInternal,
		Code:    http.StatusInternalServerError,
	}})
}

// turnError maps a failure to start a turn onto the error envelope.
// Provider and storage error text never reaches the client.
func (s *Server) turnError(err error) ErrorResponse {
	switch {
	case errors.Is(err, agent.ErrInvalidRequest):
		return ErrorResponse{Error: ErrorDetail{
			Message: err.Error(),
			Type:    errTypeInvalidRequest,
			Code:    http.StatusBadRequest,
		}}
	case errors.Is(err, llm.ErrProviderUnavailable):
		s.logger.Error("no llm provider available", "error", err)
		return ErrorResponse{
			Error: ErrorDetail{
				Message: "no language model provider is available",
				Type:    errTypeProviderUnavailable,
				Code:    http.StatusInternalServerError,
			},
			Response: s.svc.Apology(),
		}
	default:
		s.logger.Error("turn failed to start", "error", err)
		return ErrorResponse{
			Error: ErrorDetail{
				Message: "internal error",
				Type:    errTypeInternal,
				Code:    http.StatusInternalServerError,
			},
			Response: s.svc.Apology(),
		}
	}
}
