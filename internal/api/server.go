// Package api exposes the conversation pipeline over HTTP.
//
// Routes:
//
//	POST /v1/sessions/{sessionID}/messages   blocking turn
//	GET  /v1/sessions/{sessionID}/messages   stored history
//	GET  /v1/sessions/{sessionID}/stream     streamed turn over a websocket
//	POST /v1/sessions/{sessionID}/stream     streamed turn as Server-Sent Events
//	GET  /v1/tools                           tools the backend currently offers
//
// Error bodies are {"error": "..."} and never carry internal error text.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/colloquy/internal/conversation"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/memory"
	"github.com/MrWong99/colloquy/pkg/types"
)

const (
	// maxBodyBytes caps request bodies and websocket frames.
	maxBodyBytes = 1 << 20

	// maxSessionIDLen bounds the {sessionID} path segment.
	maxSessionIDLen = 128

	// RequestIDHeader carries the per-request identifier.
	RequestIDHeader = "X-Request-ID"
)

// Turns runs blocking turns and reads history.
type Turns interface {
	Send(ctx context.Context, req conversation.TurnRequest) (conversation.Result, error)
	History(ctx context.Context, sessionID string, limit int) ([]memory.StoredMessage, error)
}

// ToolLister lists the tools of the active backend.
type ToolLister interface {
	AvailableTools(ctx context.Context) ([]types.ToolDefinition, error)
}

var (
	_ Turns      = (*conversation.TurnService)(nil)
	_ ToolLister = (conversation.ToolBackend)(nil)
)

// Server holds the handlers. Create it with [New] and mount it with
// [Server.Register].
type Server struct {
	turns   Turns
	streams *conversation.StreamController
	tools   ToolLister

	mcp          http.Handler
	originHosts  []string
	writeTimeout time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithMCPHandler mounts h under /mcp, publishing the local business functions
// to external MCP clients.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithOriginPatterns authorises cross-origin websocket clients from the given
// host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originHosts = append(s.originHosts, patterns...) }
}

// New returns a server over the given conversation services.
func New(turns Turns, streams *conversation.StreamController, tools ToolLister, opts ...Option) *Server {
	s := &Server{
		turns:        turns,
		streams:      streams,
		tools:        tools,
		writeTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/{sessionID}/messages", s.postMessage)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/messages", s.getMessages)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/stream", s.streamWebsocket)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/stream", s.streamSSE)
	mux.HandleFunc("GET /v1/tools", s.listTools)
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
}

// RequestID makes sure every request carries an X-Request-ID, generating
// one when the client did not send it, and echoes it on the response. The ID
// is stored in the request context for [observe.Logger] and spans.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observe.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	defs, err := s.tools.AvailableTools(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("api: list tools failed", "err", err)
		writeError(w, http.StatusBadGateway, "tool provider unavailable")
		return
	}
	if defs == nil {
		defs = []types.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

// sessionID returns the validated {sessionID} path value.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("sessionID")
	if id == "" || len(id) > maxSessionIDLen {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
