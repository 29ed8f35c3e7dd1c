// Package conversation implements the conversation turn pipeline.
//
// A turn sends the session history to the language model through a
// [Requester]. A plain-text reply ends the turn. A reply requesting tools
// starts a single tool round: the [Coordinator] runs every call through the
// [Dispatcher], which routes it to the one [ToolBackend] (MCP or the local
// function registry) chosen when the pipeline was wired. The outcomes are
// folded into a [Result].
//
// The [Orchestrator] is the only place, together with the [StreamController],
// that turns panics into results. Everything below it returns values.
//
// Two entry points exist:
//
//   - [Orchestrator.RunBlocking] runs a turn under the configured deadline and
//     returns the [Result].
//   - [StreamController.Start] runs a turn in the background and pushes
//     progress, UI component and paced reply events to a live channel.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/types"
)

const (
	// DefaultFailureText is returned when a turn fails unexpectedly.
	DefaultFailureText = "conversation processing failed, please try again later"

	// DefaultTimeoutText is returned when a turn exceeds its deadline.
	DefaultTimeoutText = "response timed out"

	// DefaultTurnTimeout bounds a turn when no timeout is configured.
	DefaultTurnTimeout = 30 * time.Second
)

// ErrTurnTimeout is returned by [Orchestrator.RunBlocking] when the turn
// deadline passed before a result was available.
var ErrTurnTimeout = errors.New("conversation: turn timed out")

// Result is the outcome of one turn.
type Result struct {
	// Text is the reply shown to the user.
	Text string `json:"response"`

	// UIComponents holds the components of successful tool outcomes in the
	// order they were produced. Never nil.
	UIComponents []types.UIComponent `json:"uiComponents"`

	// HasError is true when the model call or any tool call failed.
	HasError bool `json:"hasError"`
}

func textResult(text string) Result {
	return Result{Text: text, UIComponents: []types.UIComponent{}}
}

func errorResult(text string) Result {
	return Result{Text: text, UIComponents: []types.UIComponent{}, HasError: true}
}

// OrchestratorConfig configures an [Orchestrator].
type OrchestratorConfig struct {
	// TurnTimeout bounds [Orchestrator.RunBlocking]. Defaults to
	// [DefaultTurnTimeout].
	TurnTimeout time.Duration

	// FailureText and TimeoutText are the user-safe failure messages.
	FailureText string
	TimeoutText string
}

func (c *OrchestratorConfig) setDefaults() {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.FailureText == "" {
		c.FailureText = DefaultFailureText
	}
	if c.TimeoutText == "" {
		c.TimeoutText = DefaultTimeoutText
	}
}

// Orchestrator drives a single turn from history to [Result].
type Orchestrator struct {
	catalog     *Catalog
	requester   Requester
	coordinator *Coordinator
	cfg         OrchestratorConfig
	metrics     *observe.Metrics
}

// OrchestratorOption is a functional option for [NewOrchestrator].
type OrchestratorOption func(*Orchestrator)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(catalog *Catalog, requester Requester, coordinator *Coordinator, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		catalog:     catalog,
		requester:   requester,
		coordinator: coordinator,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() OrchestratorConfig { return o.cfg }

// Run executes one turn. It never panics and never fails: every problem is
// reported through [Result.HasError] with a user-safe text. sink may be nil.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, history []types.Message, sink event.Sink) (res Result) {
	if sink == nil {
		sink = event.Nop{}
	}
	ctx, span := observe.StartSpan(ctx, "conversation.turn",
		trace.WithAttributes(observe.AttrSessionID.String(sessionID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("conversation: turn panicked",
				"session_id", sessionID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			res = errorResult(o.cfg.FailureText)
		}
	}()

	tools := o.catalog.ListAvailable(ctx)

	reply, err := o.requester.Send(ctx, sessionID, history, tools)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return errorResult(reqErr.SafeMessage())
		}
		observe.Logger(ctx).Error("conversation: requester failed", "session_id", sessionID, "err", err)
		return errorResult(o.cfg.FailureText)
	}

	if !reply.HasToolCalls() {
		return textResult(reply.Text)
	}

	agg := o.coordinator.ExecuteAll(ctx, reply.ToolCalls, sessionID, sink)
	return Result{
		Text:         agg.Text(),
		UIComponents: agg.UIComponents(),
		HasError:     agg.HasError,
	}
}

// RunBlocking runs a turn and waits at most the configured turn timeout for
// its result. On timeout it returns the timeout text with [ErrTurnTimeout];
// when ctx is cancelled first it returns the failure text with ctx's error.
// The returned Result is always usable.
func (o *Orchestrator) RunBlocking(ctx context.Context, sessionID string, history []types.Message, sink event.Sink) (Result, error) {
	start := time.Now()
	res, err := o.runWithDeadline(ctx, sessionID, history, sink)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrTurnTimeout):
		outcome = "timeout"
	case err != nil || res.HasError:
		outcome = "error"
	}
	o.metrics.RecordTurn(ctx, "blocking", outcome, time.Since(start))
	return res, err
}

// runWithDeadline runs the turn in its own goroutine and stops waiting once
// the turn timeout or ctx ends. The abandoned goroutine exits as soon as its
// cancelled calls return.
func (o *Orchestrator) runWithDeadline(ctx context.Context, sessionID string, history []types.Message, sink event.Sink) (Result, error) {
	turnCtx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- o.Run(turnCtx, sessionID, history, sink) }()

	select {
	case res := <-done:
		// A turn that lost the race against its own deadline reports the
		// timeout rather than whatever the cancelled call produced.
		if res.HasError && turnCtx.Err() != nil {
			return o.interrupted(ctx, turnCtx)
		}
		return res, nil
	case <-turnCtx.Done():
		return o.interrupted(ctx, turnCtx)
	}
}

// interrupted builds the result of a turn whose context ended.
func (o *Orchestrator) interrupted(parent, turnCtx context.Context) (Result, error) {
	if parent.Err() == nil && errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
		return errorResult(o.cfg.TimeoutText), ErrTurnTimeout
	}
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errorResult(o.cfg.TimeoutText), ErrTurnTimeout
		}
		return errorResult(o.cfg.FailureText), err
	}
	return errorResult(o.cfg.FailureText), turnCtx.Err()
}
