package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/colloquy/internal/conversation"
	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/observe"
)

// streamRequest is the body of a streamed turn: the first websocket frame or
// the SSE request body.
type streamRequest struct {
	UserID        string `json:"userId"`
	Content       string `json:"content"`
	ShowThinking  *bool  `json:"showThinking,omitempty"`
	ShowCompleted *bool  `json:"showCompleted,omitempty"`
	TypingDelayMS *int   `json:"typingDelayMs,omitempty"`
}

func (r streamRequest) toConversation(sessionID string) conversation.StreamRequest {
	req := conversation.StreamRequest{
		SessionID:     sessionID,
		UserID:        r.UserID,
		Content:       r.Content,
		ShowThinking:  r.ShowThinking,
		ShowCompleted: r.ShowCompleted,
	}
	if r.TypingDelayMS != nil && *r.TypingDelayMS >= 0 {
		d := time.Duration(*r.TypingDelayMS) * time.Millisecond
		req.TypingDelay = &d
	}
	return req
}

// ─────────────────────────────────────────────────────────────────────────────
// Websocket
// ─────────────────────────────────────────────────────────────────────────────

// streamWebsocket upgrades the connection, reads one request frame, runs the
// turn and forwards every event as a JSON text frame. The server closes the
// connection once the turn is over.
func (s *Server) streamWebsocket(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	log := observe.Logger(r.Context()).With("session_id", id)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originHosts,
	})
	if err != nil {
		log.Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	typ, data, err := conn.Read(r.Context())
	if err != nil {
		log.Debug("api: read request frame failed", "err", err)
		return
	}
	var body streamRequest
	if typ != websocket.MessageText || json.Unmarshal(data, &body) != nil {
		conn.Close(websocket.StatusUnsupportedData, "invalid request frame")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		conn.Close(websocket.StatusPolicyViolation, "content is required")
		return
	}

	// Further client frames are not expected; CloseRead cancels ctx when the
	// client closes or drops the connection.
	ctx := conn.CloseRead(r.Context())

	ch, err := s.streams.Start(ctx, body.toConversation(id))
	if err != nil {
		if errors.Is(err, event.ErrStreamActive) {
			conn.Close(websocket.StatusTryAgainLater, "session is already streaming")
			return
		}
		log.Error("api: start stream failed", "err", err)
		conn.Close(websocket.StatusInternalError, "stream unavailable")
		return
	}

	for e := range ch.Events() {
		writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		err := wsjson.Write(writeCtx, conn, e)
		cancel()
		if err != nil {
			log.Debug("api: websocket write failed", "err", err)
			ch.Close()
			drain(ch)
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// ─────────────────────────────────────────────────────────────────────────────
// Server-Sent Events
// ─────────────────────────────────────────────────────────────────────────────

// streamSSE runs the turn and writes its events as text/event-stream. Each
// event is "event: <type>" followed by "data: <json>".
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var body streamRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	log := observe.Logger(r.Context()).With("session_id", id)

	ch, err := s.streams.Start(r.Context(), body.toConversation(id))
	if err != nil {
		if errors.Is(err, event.ErrStreamActive) {
			writeError(w, http.StatusConflict, "session is already streaming")
			return
		}
		log.Error("api: start stream failed", "err", err)
		writeError(w, http.StatusInternalServerError, "stream unavailable")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Debug("api: flush not supported", "err", err)
	}

	for e := range ch.Events() {
		if err := writeSSE(w, e); err != nil {
			log.Debug("api: sse write failed", "err", err)
			ch.Close()
			drain(ch)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Debug("api: sse flush failed", "err", err)
			ch.Close()
			drain(ch)
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("api: encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

// drain consumes what is left in a closed channel.
func drain(ch *event.Channel) {
	for range ch.Events() {
	}
}
