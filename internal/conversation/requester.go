package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/provider/llm"
	"github.com/MrWong99/colloquy/pkg/types"
)

const (
	// DefaultFallbackText replaces a model reply that carries neither text nor
	// tool calls.
	DefaultFallbackText = "I could not understand the request."

	// DefaultRequestFailedText is the user-safe text of a failed model request.
	DefaultRequestFailedText = "The AI service request failed."

	// defaultSandboxReply is the canned reply of the sandbox requester.
	defaultSandboxReply = "Sandbox mode: the request was received successfully."
)

// ErrRequestFailed matches every [*RequestError] via [errors.Is].
var ErrRequestFailed = errors.New("conversation: model request failed")

// RequestError is returned by a [Requester] when the model call failed. The
// cause is kept for logging; only [RequestError.SafeMessage] may be shown to
// users.
type RequestError struct {
	// Safe is the user-facing text.
	Safe string

	// Err is the internal cause.
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("conversation: model request failed: %v", e.Err)
}

// Unwrap exposes both [ErrRequestFailed] and the cause to [errors.Is].
func (e *RequestError) Unwrap() []error {
	return []error{ErrRequestFailed, e.Err}
}

// SafeMessage returns the text that may be shown to users.
func (e *RequestError) SafeMessage() string {
	if e.Safe == "" {
		return DefaultRequestFailedText
	}
	return e.Safe
}

// ParsedReply is the model's answer: either plain text or a non-empty list
// of tool calls.
type ParsedReply struct {
	Text      string
	ToolCalls []types.ToolCall
}

// HasToolCalls reports whether the model requested at least one tool.
func (r ParsedReply) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Requester sends one turn's history to the model.
type Requester interface {
	// Send performs a single model call. A failure is always returned as a
	// [*RequestError].
	Send(ctx context.Context, sessionID string, history []types.Message, tools []types.ToolDefinition) (ParsedReply, error)
}

// RequesterConfig configures an [LLMRequester].
type RequesterConfig struct {
	// ProviderName labels metrics and logs.
	ProviderName string

	// SystemPrompt is prepended to every request when non-empty.
	SystemPrompt string

	// Temperature and MaxTokens are passed through to the provider.
	Temperature *float64
	MaxTokens   int

	// FallbackText replaces an empty reply. Defaults to [DefaultFallbackText].
	FallbackText string

	// FailureText is the safe message of a [*RequestError]. Defaults to
	// [DefaultRequestFailedText].
	FailureText string
}

func (c *RequesterConfig) setDefaults() {
	if c.ProviderName == "" {
		c.ProviderName = "llm"
	}
	if c.FallbackText == "" {
		c.FallbackText = DefaultFallbackText
	}
	if c.FailureText == "" {
		c.FailureText = DefaultRequestFailedText
	}
}

// LLMRequester is the [Requester] backed by an [llm.Provider].
type LLMRequester struct {
	provider llm.Provider
	cfg      RequesterConfig
	metrics  *observe.Metrics
}

var _ Requester = (*LLMRequester)(nil)

// NewRequester returns a requester that calls provider once per turn.
func NewRequester(provider llm.Provider, cfg RequesterConfig, metrics *observe.Metrics) *LLMRequester {
	cfg.setDefaults()
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &LLMRequester{provider: provider, cfg: cfg, metrics: metrics}
}

// Send implements [Requester]. Function-role messages are dropped before the
// request is built, and tools are only offered when the list is non-empty.
func (r *LLMRequester) Send(ctx context.Context, sessionID string, history []types.Message, tools []types.ToolDefinition) (ParsedReply, error) {
	req := llm.CompletionRequest{
		Messages:     modelHistory(history),
		SystemPrompt: r.cfg.SystemPrompt,
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
	}
	if len(tools) > 0 {
		req.Tools = tools
	}

	start := time.Now()
	resp, err := r.provider.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, r.cfg.ProviderName, "llm", "error", elapsed)
		r.metrics.RecordProviderError(ctx, r.cfg.ProviderName, "llm")
		observe.Logger(ctx).Error("conversation: model request failed",
			"session_id", sessionID,
			"provider", r.cfg.ProviderName,
			"err", err,
		)
		return ParsedReply{}, &RequestError{Safe: r.cfg.FailureText, Err: err}
	}
	r.metrics.RecordProviderRequest(ctx, r.cfg.ProviderName, "llm", "ok", elapsed)

	if len(resp.ToolCalls) > 0 {
		return ParsedReply{ToolCalls: resp.ToolCalls}, nil
	}
	if resp.Content == "" {
		return ParsedReply{Text: r.cfg.FallbackText}, nil
	}
	return ParsedReply{Text: resp.Content}, nil
}

// modelHistory returns history without function-role messages.
func modelHistory(history []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		if m.Role == types.RoleFunction {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SandboxRequester answers every turn with a fixed reply and never contacts a
// model. It is selected explicitly by configuration for demos and tests.
type SandboxRequester struct {
	// Reply is the canned answer. An empty Reply uses a built-in default.
	Reply string
}

var _ Requester = SandboxRequester{}

// Send implements [Requester].
func (s SandboxRequester) Send(context.Context, string, []types.Message, []types.ToolDefinition) (ParsedReply, error) {
	if s.Reply == "" {
		return ParsedReply{Text: defaultSandboxReply}, nil
	}
	return ParsedReply{Text: s.Reply}, nil
}
