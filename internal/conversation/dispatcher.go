package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/functions"
	"github.com/MrWong99/colloquy/internal/mcp"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/types"
)

// ToolOutcome is the formatted result of one tool call.
type ToolOutcome struct {
	// Name is the called tool.
	Name string

	// Success is false when the backend failed or the tool reported an error.
	Success bool

	// Text is the line shown in the conversation: "✅ name: result" or
	// "❌ name: error".
	Text string

	// Result is the raw tool output of a successful call.
	Result string

	// Error is the failure text of an unsuccessful call.
	Error string

	// Data is the structured payload of a successful call.
	Data map[string]any

	// UIComponent is the component tag of a successful call, if any.
	UIComponent string

	// Source is the provider family that handled the call.
	Source types.ToolSource
}

func succeeded(name string, source types.ToolSource, inv Invocation) ToolOutcome {
	return ToolOutcome{
		Name:        name,
		Success:     true,
		Text:        "✅ " + name + ": " + inv.Text,
		Result:      inv.Text,
		Data:        inv.Data,
		UIComponent: inv.UIComponent,
		Source:      source,
	}
}

func failed(name string, source types.ToolSource, msg string) ToolOutcome {
	return ToolOutcome{
		Name:   name,
		Text:   "❌ " + name + ": " + msg,
		Error:  msg,
		Source: source,
	}
}

// DispatcherConfig configures a [Dispatcher].
type DispatcherConfig struct {
	// ToolTimeout bounds a single tool call. Zero means no extra bound.
	ToolTimeout time.Duration
}

// Dispatcher runs a single tool call against the configured [ToolBackend].
// It is stateless per call and safe for concurrent use.
type Dispatcher struct {
	backend ToolBackend
	cfg     DispatcherConfig
	metrics *observe.Metrics
}

// NewDispatcher returns a dispatcher bound to backend.
func NewDispatcher(backend ToolBackend, cfg DispatcherConfig, metrics *observe.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{backend: backend, cfg: cfg, metrics: metrics}
}

// Dispatch executes call and never fails: every error becomes a failed
// [ToolOutcome]. A successful outcome carrying a UI component is pushed to
// sink right away.
func (d *Dispatcher) Dispatch(ctx context.Context, call types.ToolCall, sessionID string, sink event.Sink) ToolOutcome {
	log := observe.Logger(ctx).With("session_id", sessionID, "tool", call.Name)
	args := ParseArguments(ctx, call.Arguments)
	source := d.backend.Source()

	callCtx := ctx
	if d.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	inv, err := d.backend.Invoke(callCtx, call.Name, args)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		d.metrics.RecordToolCall(ctx, call.Name, string(source), "error", elapsed)
		log.Warn("conversation: tool call failed", "err", err)
		return failed(call.Name, source, toolErrorText(err))
	case inv.Failed:
		d.metrics.RecordToolCall(ctx, call.Name, string(source), "error", elapsed)
		log.Info("conversation: tool reported an error", "error", inv.Text)
		return failed(call.Name, source, inv.Text)
	}

	d.metrics.RecordToolCall(ctx, call.Name, string(source), "ok", elapsed)
	out := succeeded(call.Name, source, inv)
	if out.UIComponent != "" && sink != nil {
		if err := sink.Emit(ctx, event.UIComponent(sessionID, out.UIComponent, out.Data)); err != nil {
			log.Debug("conversation: ui component event dropped", "err", err)
		}
	}
	return out
}

// toolErrorText maps a backend error to the short text shown in the
// conversation. Transport and handler errors can carry addresses and internal
// detail, so only the error class is reported; the error itself is logged.
func toolErrorText(err error) string {
	switch {
	case errors.Is(err, mcp.ErrToolNotFound), errors.Is(err, functions.ErrUnknownFunction):
		return "tool not found"
	case errors.Is(err, functions.ErrInvalidArguments):
		return "invalid arguments"
	case errors.Is(err, context.DeadlineExceeded):
		return "tool timed out"
	case errors.Is(err, context.Canceled):
		return "tool call cancelled"
	default:
		return "tool unavailable"
	}
}

// ParseArguments decodes the model's raw JSON arguments. Blank or malformed
// input yields an empty map so the tool still runs.
//
// TODO: surface malformed arguments as a failed outcome once clients no longer
// depend on tools running with defaults; for now the decode error is only
// logged.
func ParseArguments(ctx context.Context, raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		observe.Logger(ctx).Warn("conversation: malformed tool arguments replaced by an empty object",
			"raw", raw,
			"err", err,
		)
		return map[string]any{}
	}
	return args
}
