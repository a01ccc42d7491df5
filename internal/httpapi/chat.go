package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/welli/internal/chat"
	"github.com/ent0n29/welli/internal/completion"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Text string `json:"text"`
}

type clearRequest struct {
	SessionID string `json:"session_id"`
}

type historySummary struct {
	Messages int `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.chat.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{Text: reply.Text})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	if err := s.chat.Clear(r.Context(), req.SessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	n, err := s.chat.HistoryCount(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, historySummary{Messages: n})
}

// chatErrorStatus maps an exchange failure to its HTTP status and error code.
func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, chat.ErrNonMedical):
		return http.StatusBadRequest, "non_medical"
	case errors.Is(err, chat.ErrEmptyGeneration):
		return http.StatusBadGateway, "empty_generation"
	case errors.Is(err, chat.ErrGeneration):
		return http.StatusInternalServerError, "generation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondChatError(w http.ResponseWriter, err error) {
	status, code := chatErrorStatus(err)
	respondJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      code,
		Retryable: completion.IsRetryable(err),
	})
}
