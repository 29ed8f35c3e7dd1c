// Package mcp defines the interface for a Model Context Protocol (MCP) host.
//
// The MCP host manages connections to one or more MCP servers, exposes their
// combined tool catalogue, and executes tool calls by name. It is the remote
// tool-protocol provider of the conversation pipeline.
//
// Lifecycle:
//
//  1. Call [Host.RegisterServer] for each MCP server to connect to.
//  2. Use [Host.AvailableTools] to enumerate the current catalogue.
//  3. Use [Host.ExecuteTool] to run tools on behalf of a conversation turn.
//  4. Call [Host.Close] to release all connections.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"
	"errors"

	"github.com/MrWong99/colloquy/pkg/types"
)

// ErrToolNotFound is returned by [Host.ExecuteTool] when no registered server
// offers a tool with the requested name.
var ErrToolNotFound = errors.New("mcp: tool not found")

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is the human-readable identifier for this server.
	// Must be unique within a single [Host]. Used in log messages and errors.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable path (and optional arguments) used when
	// Transport is "stdio".
	// Example: "/usr/local/bin/mcp-server --config /etc/mcp.json"
	Command string

	// URL is the endpoint address used when Transport is "streamable-http".
	// Example: "https://tools.example.com/mcp"
	URL string

	// Token is an optional static bearer token sent with every
	// streamable-http request.
	Token string

	// Env holds additional environment variables injected into the server
	// process when Transport is "stdio". May be nil.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output.
	Content string

	// Data is the tool's structured output, if any.
	Data map[string]any

	// UIComponent is the optional client-side rendering tag, read from the
	// result's `_meta` under [MetaUIComponent].
	UIComponent string

	// IsError indicates that the tool returned an application-level error
	// (as opposed to a transport or protocol failure returned via the Go error
	// return value). When IsError is true, Content contains the error message.
	IsError bool

	// ServerName identifies the server that handled the call.
	ServerName string

	// DurationMs is the wall-clock time in milliseconds from when the request
	// was dispatched until the full response was received.
	DurationMs int64
}

// ToolStats captures the measured runtime performance of a single tool over a
// rolling window of recent calls.
type ToolStats struct {
	Name       string
	ServerName string
	P50Ms      int64
	P99Ms      int64
	CallCount  int
	ErrorRate  float64
}

// Host manages connections to MCP servers and routes tool calls.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue into the host. If a server with the same Name is
	// already registered it is reconnected rather than duplicated.
	//
	// Returns an error if the transport cannot be established or the initial
	// tool listing request fails.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// AvailableTools returns the current tool catalogue of every registered
	// server, sorted by name. Returns an error if any server fails to list
	// its tools.
	AvailableTools(ctx context.Context) ([]types.ToolDefinition, error)

	// ExecuteTool calls the named tool with args.
	//
	// A non-nil *ToolResult is returned on success even when
	// [ToolResult.IsError] is true (application-level error). A Go error is
	// returned only on transport or protocol failure, or [ErrToolNotFound].
	ExecuteTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// Stats returns latency statistics for every tool that has been called.
	Stats() []ToolStats

	// Close shuts down all server connections and releases associated resources.
	// After Close returns the Host must not be used again.
	Close() error
}
