// Package mcphost provides a concrete implementation of the [mcp.Host] interface.
//
// It connects to MCP servers via stdio or streamable-HTTP transports using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk), maintains a
// concurrent-safe in-memory tool registry, and tracks per-tool latency through
// rolling-window percentiles.
//
// Typical usage:
//
//	h := mcphost.New()
//
//	// Register an external MCP server.
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "crm",
//	    Transport: mcp.TransportStreamableHTTP,
//	    URL:       "https://crm.example.com/mcp",
//	})
//
//	// Or register a built-in Go function.
//	h.RegisterBuiltin(mcphost.BuiltinTool{...})
//
//	tools, err := h.AvailableTools(ctx)
//	result, err := h.ExecuteTool(ctx, "find_entity", map[string]any{"name": "Acme"})
//
//	h.Close()
package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/colloquy/internal/mcp"
	"github.com/MrWong99/colloquy/pkg/types"
)

// defaultWindowSize is the default capacity of each tool's rolling window.
const defaultWindowSize = 100

// toolEntry holds all metadata for a single registered tool.
type toolEntry struct {
	def          types.ToolDefinition
	serverName   string
	measurements *rollingWindow

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host is a concrete implementation of [mcp.Host].
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The official SDK allows
	// a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client

	windowSize int
}

var _ mcp.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithWindowSize sets the number of recent calls kept per tool for latency
// statistics. Non-positive values are ignored.
func WithWindowSize(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.windowSize = n
		}
	}
}

// New creates and returns a ready-to-use Host.
func New(opts ...Option) *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "colloquy-mcphost", Version: "1.0.0"},
		nil,
	)
	h := &Host{
		tools:      make(map[string]toolEntry),
		servers:    make(map[string]serverConn),
		client:     client,
		windowSize: defaultWindowSize,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the host. If a server with the same Name is already
// registered, the old connection is closed and replaced.
//
// For [mcp.TransportStdio] transport: cfg.Command is split on spaces into
// executable + args; cfg.Env is appended to the current process environment.
//
// For [mcp.TransportStreamableHTTP] transport: cfg.URL is the endpoint address
// and cfg.Token, when set, is sent as a bearer token.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp host: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	return h.connect(ctx, cfg.Name, transport)
}

// ConnectTransport registers a server reachable over an already constructed
// SDK transport. It is used for in-process servers and tests.
func (h *Host) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	if name == "" {
		return fmt.Errorf("mcp host: server name must not be empty")
	}
	return h.connect(ctx, name, transport)
}

func buildTransport(cfg mcp.ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcp host: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	default:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp host: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		t := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.Token != "" {
			t.HTTPClient = &http.Client{Transport: &bearerTransport{token: cfg.Token, base: http.DefaultTransport}}
		}
		return t, nil
	}
}

func (h *Host) connect(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: failed to connect to server %q: %w", name, err)
	}

	discovered, err := listTools(ctx, session)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("mcp host: failed to list tools for server %q: %w", name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[name]; ok {
		_ = old.session.Close()
	}
	h.servers[name] = serverConn{session: session}
	h.replaceServerTools(name, discovered)
	return nil
}

// listTools drains the SDK's paginated tool iterator.
func listTools(ctx context.Context, session *mcpsdk.ClientSession) ([]mcpsdk.Tool, error) {
	var out []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		out = append(out, *tool)
	}
	return out, nil
}

// replaceServerTools swaps the catalogue of serverName for discovered while
// keeping the latency history of tools that are still present.
// Callers must hold h.mu for writing.
func (h *Host) replaceServerTools(serverName string, discovered []mcpsdk.Tool) {
	keep := make(map[string]*rollingWindow)
	for name, t := range h.tools {
		if t.serverName == serverName {
			keep[name] = t.measurements
			delete(h.tools, name)
		}
	}
	for _, tool := range discovered {
		window := keep[tool.Name]
		if window == nil {
			window = newRollingWindow(h.windowSize)
		}
		h.tools[tool.Name] = toolEntry{
			def: types.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaToMap(tool.InputSchema),
				Source:      types.SourceMCP,
			},
			serverName:   serverName,
			measurements: window,
		}
	}
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// AvailableTools re-lists the tools of every connected server so the
// catalogue reflects the servers' current state, then returns all tools
// (external and built-in) sorted by name.
func (h *Host) AvailableTools(ctx context.Context) ([]types.ToolDefinition, error) {
	h.mu.RLock()
	sessions := make(map[string]*mcpsdk.ClientSession, len(h.servers))
	for name, conn := range h.servers {
		sessions[name] = conn.session
	}
	h.mu.RUnlock()

	for name, session := range sessions {
		discovered, err := listTools(ctx, session)
		if err != nil {
			return nil, fmt.Errorf("mcp host: list tools for server %q: %w", name, err)
		}
		h.mu.Lock()
		if _, still := h.servers[name]; still {
			h.replaceServerTools(name, discovered)
		}
		h.mu.Unlock()
	}

	h.mu.RLock()
	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	slices.SortFunc(defs, func(a, b types.ToolDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return defs, nil
}

// ExecuteTool calls the named tool with args and returns the result.
//
// A non-nil *ToolResult is returned on success even when [mcp.ToolResult.IsError]
// is true (application-level error). A Go error is returned only on transport
// or protocol failure, or when the tool is unknown.
func (h *Host) ExecuteTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", mcp.ErrToolNotFound, name)
	}

	start := time.Now()

	var result *mcp.ToolResult
	var execErr error

	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}

	durationMs := time.Since(start).Milliseconds()
	entry.measurements.Record(durationMs, execErr != nil || (result != nil && result.IsError))

	if execErr != nil {
		return nil, execErr
	}
	result.DurationMs = durationMs
	result.ServerName = entry.serverName
	return result, nil
}

// executeBuiltin calls the in-process handler for a builtin tool.
func (h *Host) executeBuiltin(ctx context.Context, entry toolEntry, args map[string]any) (*mcp.ToolResult, error) {
	res, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &mcp.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if res == nil {
		return &mcp.ToolResult{}, nil
	}
	return res, nil
}

// executeMCPTool routes the call to the appropriate server session.
func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args map[string]any) (*mcp.ToolResult, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call to tool %q failed: %w", entry.def.Name, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	res := &mcp.ToolResult{
		Content: sb.String(),
		IsError: callResult.IsError,
	}
	if callResult.StructuredContent != nil {
		res.Data = schemaToMap(callResult.StructuredContent)
	}
	if tag, ok := callResult.Meta[mcp.MetaUIComponent].(string); ok {
		res.UIComponent = tag
	}
	return res, nil
}

// Stats returns per-tool latency statistics for every tool called at least once.
func (h *Host) Stats() []mcp.ToolStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]mcp.ToolStats, 0, len(h.tools))
	for name, e := range h.tools {
		if e.measurements.Count() == 0 {
			continue
		}
		out = append(out, mcp.ToolStats{
			Name:       name,
			ServerName: e.serverName,
			P50Ms:      e.measurements.P50(),
			P99Ms:      e.measurements.P99(),
			CallCount:  e.measurements.Count(),
			ErrorRate:  e.measurements.ErrorRate(),
		})
	}
	slices.SortFunc(out, func(a, b mcp.ToolStats) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Close shuts down all server connections and releases associated resources.
// After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp host: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}

	h.tools = make(map[string]toolEntry)

	return firstErr
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// bearerTransport adds a static Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}
