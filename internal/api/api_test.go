package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/colloquy/internal/api"
	"github.com/MrWong99/colloquy/internal/conversation"
	"github.com/MrWong99/colloquy/internal/entity"
	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/functions"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/memory"
	memorymock "github.com/MrWong99/colloquy/pkg/memory/mock"
	"github.com/MrWong99/colloquy/pkg/provider/llm"
	llmmock "github.com/MrWong99/colloquy/pkg/provider/llm/mock"
	"github.com/MrWong99/colloquy/pkg/types"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

type fixture struct {
	srv   *httptest.Server
	store memory.MessageStore
}

type fixtureOpts struct {
	store       memory.MessageStore
	turnTimeout time.Duration
}

// newFixture serves the full pipeline over provider and a registry holding
// the entity functions.
func newFixture(t *testing.T, provider llm.Provider, o fixtureOpts) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	entities := entity.NewMemStore()
	if _, err := entities.Add(context.Background(), entity.Entity{Kind: entity.KindClient, Name: "Acme Corp"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg := functions.NewRegistry()
	if err := functions.RegisterEntityFunctions(reg, entities); err != nil {
		t.Fatalf("RegisterEntityFunctions: %v", err)
	}
	backend := conversation.NewRegistryBackend(reg)

	store := o.store
	if store == nil {
		store = memory.NewMemStore()
	}
	orch := conversation.NewOrchestrator(
		conversation.NewCatalog(backend, conversation.CatalogConfig{Enabled: true}),
		conversation.NewRequester(provider, conversation.RequesterConfig{ProviderName: "mock"}, m),
		conversation.NewCoordinator(conversation.NewDispatcher(backend, conversation.DispatcherConfig{}, m), conversation.CoordinatorConfig{}),
		conversation.OrchestratorConfig{TurnTimeout: o.turnTimeout},
		conversation.WithMetrics(m),
	)
	streams := conversation.NewStreamController(orch, store, event.NewHub(16), conversation.StreamConfig{ShowCompleted: true}, m)
	t.Cleanup(streams.Wait)

	s := api.New(conversation.NewTurnService(orch, store, 0), streams, backend)
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(api.RequestID(mux))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func textReply(s string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: s}}
}

// blockingProvider blocks every call until release is closed.
func blockingProvider(release <-chan struct{}) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			select {
			case <-release:
				return &llm.CompletionResponse{Content: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

type resultBody struct {
	Response     string              `json:"response"`
	UIComponents []types.UIComponent `json:"uiComponents"`
	HasError     bool                `json:"hasError"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Blocking turns
// ──────────────────────────────────────────────────────────────────────────────

func TestPostMessage(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		ToolCalls: []types.ToolCall{{Name: "find_entity", Arguments: `{"name":"Acme"}`}},
	}}
	f := newFixture(t, p, fixtureOpts{})

	resp := f.post(t, "/v1/sessions/s1/messages", `{"userId":"u1","content":"who is Acme?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Error("response has no request id")
	}
	got := decode[resultBody](t, resp)
	if got.Response != "✅ find_entity: Acme Corp" || got.HasError {
		t.Errorf("body = %+v", got)
	}
	if len(got.UIComponents) != 1 || got.UIComponents[0].Type != "entity-detail" {
		t.Errorf("uiComponents = %+v", got.UIComponents)
	}

	history := decode[struct {
		Messages []memory.StoredMessage `json:"messages"`
	}](t, f.get(t, "/v1/sessions/s1/messages"))
	if len(history.Messages) != 2 || history.Messages[0].UserID != "u1" || history.Messages[1].Role != types.RoleAssistant {
		t.Errorf("history = %+v", history.Messages)
	}
}

func TestPostMessageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provider   llm.Provider
		opts       fixtureOpts
		path       string
		body       string
		wantStatus int
		wantText   string
	}{
		{
			name:       "empty content",
			provider:   textReply("x"),
			path:       "/v1/sessions/s1/messages",
			body:       `{"content":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			provider:   textReply("x"),
			path:       "/v1/sessions/s1/messages",
			body:       `{"content":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			provider:   textReply("x"),
			path:       "/v1/sessions/s1/messages",
			body:       `{"content":"hi","admin":true}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "session id too long",
			provider:   textReply("x"),
			path:       "/v1/sessions/" + strings.Repeat("a", 200) + "/messages",
			body:       `{"content":"hi"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "turn timeout",
			provider:   blockingProvider(make(chan struct{})),
			opts:       fixtureOpts{turnTimeout: 30 * time.Millisecond},
			path:       "/v1/sessions/s1/messages",
			body:       `{"content":"hi"}`,
			wantStatus: http.StatusGatewayTimeout,
			wantText:   conversation.DefaultTimeoutText,
		},
		{
			name:       "store failure",
			provider:   textReply("x"),
			opts:       fixtureOpts{store: &memorymock.Store{SaveMessageErr: errors.New("disk full")}},
			path:       "/v1/sessions/s1/messages",
			body:       `{"content":"hi"}`,
			wantStatus: http.StatusInternalServerError,
			wantText:   conversation.DefaultFailureText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.provider, tt.opts)
			resp := f.post(t, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantText == "" {
				return
			}
			got := decode[resultBody](t, resp)
			if got.Response != tt.wantText || !got.HasError {
				t.Errorf("body = %+v", got)
			}
			if strings.Contains(got.Response, "disk full") {
				t.Error("internal error text leaked")
			}
		})
	}
}

func TestGetMessagesLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, textReply("ok"), fixtureOpts{})
	for _, msg := range []string{"one", "two"} {
		if resp := f.post(t, "/v1/sessions/s1/messages", `{"content":"`+msg+`"}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("POST status = %d", resp.StatusCode)
		}
	}

	got := decode[struct {
		SessionID string                 `json:"sessionId"`
		Messages  []memory.StoredMessage `json:"messages"`
	}](t, f.get(t, "/v1/sessions/s1/messages?limit=2"))
	if got.SessionID != "s1" || len(got.Messages) != 2 || got.Messages[0].Content != "two" {
		t.Errorf("body = %+v", got)
	}

	if resp := f.get(t, "/v1/sessions/s1/messages?limit=-1"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", resp.StatusCode)
	}

	empty := decode[struct {
		Messages []memory.StoredMessage `json:"messages"`
	}](t, f.get(t, "/v1/sessions/nobody/messages"))
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Errorf("unknown session messages = %#v, want empty list", empty.Messages)
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()
	f := newFixture(t, textReply("x"), fixtureOpts{})

	got := decode[struct {
		Tools []types.ToolDefinition `json:"tools"`
	}](t, f.get(t, "/v1/tools"))
	if len(got.Tools) != 4 {
		t.Fatalf("tools = %d, want 4", len(got.Tools))
	}
	for _, def := range got.Tools {
		if def.Source != types.SourceRegistry {
			t.Errorf("%s source = %q, want registry", def.Name, def.Source)
		}
	}
}

func TestRequestIDIsKept(t *testing.T) {
	t.Parallel()
	f := newFixture(t, textReply("x"), fixtureOpts{})

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/tools", nil)
	req.Header.Set(api.RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(api.RequestIDHeader); got != "req-42" {
		t.Errorf("request id = %q, want req-42", got)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Streamed turns
// ──────────────────────────────────────────────────────────────────────────────

func wsURL(f *fixture, path string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
}

func TestStreamWebsocket(t *testing.T) {
	t.Parallel()
	f := newFixture(t, textReply("hello there"), fixtureOpts{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f, "/v1/sessions/s1/stream"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, map[string]any{"userId": "u1", "content": "hi", "typingDelayMs": 0}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var got []event.Event
	for {
		var e event.Event
		err := wsjson.Read(ctx, conn, &e)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("read: %v", err)
			}
			break
		}
		got = append(got, e)
	}

	var reply strings.Builder
	for _, e := range got {
		if e.Type == event.TypeMessage && e.ContentType == event.ContentAssistant {
			reply.WriteString(e.Content)
		}
	}
	if reply.String() != "hello there" {
		t.Errorf("assistant chunks = %q", reply.String())
	}
	if got[0].Type != event.TypeStatus || got[0].Content != "processing" {
		t.Errorf("first event = %+v", got[0])
	}
	if last := got[len(got)-1]; last.Type != event.TypeCompleted || last.SessionID != "s1" {
		t.Errorf("last event = %+v", last)
	}
}

func TestStreamWebsocketRejectsBadFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  websocket.StatusCode
	}{
		{name: "not json", frame: "hello", want: websocket.StatusUnsupportedData},
		{name: "empty content", frame: `{"content":""}`, want: websocket.StatusPolicyViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, textReply("x"), fixtureOpts{})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, _, err := websocket.Dial(ctx, wsURL(f, "/v1/sessions/s1/stream"), nil)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer conn.CloseNow()
			if err := conn.Write(ctx, websocket.MessageText, []byte(tt.frame)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			_, _, err = conn.Read(ctx)
			if got := websocket.CloseStatus(err); got != tt.want {
				t.Errorf("close status = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

// readSSE parses an event stream into its events.
func readSSE(t *testing.T, resp *http.Response) []event.Event {
	t.Helper()
	var (
		out  []event.Event
		name string
	)
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var e event.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if string(e.Type) != name {
				t.Errorf("event name %q does not match payload type %q", name, e.Type)
			}
			out = append(out, e)
		}
	}
	return out
}

func TestStreamSSE(t *testing.T) {
	t.Parallel()
	f := newFixture(t, textReply("one two"), fixtureOpts{})

	resp := f.post(t, "/v1/sessions/s1/stream", `{"content":"hi","showCompleted":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	got := readSSE(t, resp)
	want := []event.Type{event.TypeStatus, event.TypeMessage, event.TypeMessage, event.TypeMessage}
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %d", got, len(want))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i].Type, want[i])
		}
	}
}

func TestStreamAlreadyActive(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	f := newFixture(t, blockingProvider(release), fixtureOpts{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f, "/v1/sessions/s1/stream"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	if err := wsjson.Write(ctx, conn, map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	// The user echo is emitted before the model is called, so the session
	// is streaming once it arrives.
	for {
		var e event.Event
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Type == event.TypeMessage {
			break
		}
	}

	resp := f.post(t, "/v1/sessions/s1/stream", `{"content":"again"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second stream status = %d, want 409", resp.StatusCode)
	}

	second, _, err := websocket.Dial(ctx, wsURL(f, "/v1/sessions/s1/stream"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.CloseNow()
	if err := wsjson.Write(ctx, second, map[string]string{"content": "again"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, _, err := second.Read(ctx); websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Errorf("second websocket close = %v, want try again later", err)
	}

	close(release)
	for {
		var e event.Event
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Errorf("first stream ended with %v", err)
			}
			break
		}
	}
}
