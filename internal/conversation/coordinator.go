package conversation

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/colloquy/internal/event"
	"github.com/MrWong99/colloquy/internal/observe"
	"github.com/MrWong99/colloquy/pkg/types"
)

// ToolsCompleteText is the aggregate text of a tool round without outcomes.
const ToolsCompleteText = "tool execution complete"

// Aggregate is the merged result of one tool round.
type Aggregate struct {
	// Outcomes holds one entry per call, in call order.
	Outcomes []ToolOutcome

	// HasError is true when at least one outcome failed.
	HasError bool
}

// Text joins the outcome lines in call order.
func (a Aggregate) Text() string {
	if len(a.Outcomes) == 0 {
		return ToolsCompleteText
	}
	lines := make([]string, len(a.Outcomes))
	for i, o := range a.Outcomes {
		lines[i] = o.Text
	}
	return strings.Join(lines, "\n")
}

// UIComponents returns the components of successful outcomes in call order.
func (a Aggregate) UIComponents() []types.UIComponent {
	out := []types.UIComponent{}
	for _, o := range a.Outcomes {
		if o.Success && o.UIComponent != "" {
			out = append(out, types.UIComponent{Type: o.UIComponent, Payload: o.Data})
		}
	}
	return out
}

// CoordinatorConfig configures a [Coordinator].
type CoordinatorConfig struct {
	// Parallel runs the calls of a round concurrently. Aggregation order is
	// call order either way.
	Parallel bool

	// MaxConcurrency caps parallel calls. Zero or less means unlimited.
	MaxConcurrency int
}

// Coordinator executes every tool call of a round through a [Dispatcher].
type Coordinator struct {
	dispatcher *Dispatcher
	cfg        CoordinatorConfig
}

// NewCoordinator returns a coordinator using dispatcher.
func NewCoordinator(dispatcher *Dispatcher, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{dispatcher: dispatcher, cfg: cfg}
}

// ExecuteAll runs all calls. A failing call never stops its siblings, and
// the result holds exactly len(calls) outcomes.
func (c *Coordinator) ExecuteAll(ctx context.Context, calls []types.ToolCall, sessionID string, sink event.Sink) Aggregate {
	outcomes := make([]ToolOutcome, len(calls))

	if c.cfg.Parallel && len(calls) > 1 {
		var g errgroup.Group
		if c.cfg.MaxConcurrency > 0 {
			g.SetLimit(c.cfg.MaxConcurrency)
		}
		for i, call := range calls {
			g.Go(func() error {
				outcomes[i] = c.execute(ctx, call, sessionID, sink)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, call := range calls {
			outcomes[i] = c.execute(ctx, call, sessionID, sink)
		}
	}

	agg := Aggregate{Outcomes: outcomes}
	for _, o := range outcomes {
		if !o.Success {
			agg.HasError = true
			break
		}
	}
	return agg
}

// execute dispatches one call. A panicking backend becomes a failed outcome
// so that parallel goroutines cannot take the process down.
func (c *Coordinator) execute(ctx context.Context, call types.ToolCall, sessionID string, sink event.Sink) (out ToolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("conversation: tool call panicked",
				"session_id", sessionID,
				"tool", call.Name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			out = failed(call.Name, c.dispatcher.backend.Source(), "internal error")
		}
	}()
	return c.dispatcher.Dispatch(ctx, call, sessionID, sink)
}
