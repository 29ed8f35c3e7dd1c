package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/colloquy/internal/conversation"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/memory"
)

// messageRequest is the body of a blocking turn.
type messageRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var body messageRequest
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.turns.Send(r.Context(), conversation.TurnRequest{
		SessionID: id,
		UserID:    body.UserID,
		Content:   body.Content,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, conversation.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "content is required")
	case errors.Is(err, conversation.ErrTurnTimeout):
		writeJSON(w, http.StatusGatewayTimeout, res)
	case r.Context().Err() != nil:
		observe.Logger(r.Context()).Debug("api: client went away during turn", "session_id", id)
	default:
		writeJSON(w, http.StatusInternalServerError, res)
	}
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := s.turns.History(r.Context(), id, limit)
	if err != nil {
		observe.Logger(r.Context()).Error("api: load history failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if msgs == nil {
		msgs = []memory.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "messages": msgs})
}
