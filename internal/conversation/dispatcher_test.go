package conversation_test

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/colloquy/internal/conversation"
	"github.com/MrWong99/colloquy/internal/event"
	eventmock "github.com/MrWong99/colloquy/internal/event/mock"
	"github.com/MrWong99/colloquy/internal/functions"
	"github.com/MrWong99/colloquy/internal/mcp"
	mcpmock "github.com/MrWong99/colloquy/internal/mcp/mock"
	"github.com/MrWong99/colloquy/pkg/types"
)

func TestParseArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"blank", "  \n", map[string]any{}},
		{"object", `{"name":"Acme","limit":3}`, map[string]any{"name": "Acme", "limit": float64(3)}},
		{"malformed", `{"name":`, map[string]any{}},
		{"array", `[1,2]`, map[string]any{}},
		{"null", `null`, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := conversation.ParseArguments(context.Background(), tt.raw)
			if got == nil {
				t.Fatal("ParseArguments returned nil")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestDispatchRegistrySuccessEmitsUIComponent(t *testing.T) {
	t.Parallel()
	d := conversation.NewDispatcher(conversation.NewRegistryBackend(newEntityRegistry(t)), conversation.DispatcherConfig{}, testMetrics(t))
	sink := &eventmock.Sink{}

	out := d.Dispatch(context.Background(), call("find_entity", `{"name":"Acme"}`), "s1", sink)

	if !out.Success || out.Text != "✅ find_entity: Acme Corp" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Source != types.SourceRegistry || out.UIComponent != functions.UIEntityDetail {
		t.Errorf("Source = %q UIComponent = %q", out.Source, out.UIComponent)
	}
	events := sink.Events()
	if len(events) != 1 || events[0].Type != event.TypeUIComponent {
		t.Fatalf("events = %+v, want one ui_component", events)
	}
	if events[0].Component != functions.UIEntityDetail || events[0].SessionID != "s1" || events[0].Data["name"] != "Acme Corp" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestDispatchRegistryFailures(t *testing.T) {
	t.Parallel()
	reg := newEntityRegistry(t)
	registerFunc(t, reg, "explode", func(context.Context, map[string]any) (*functions.Result, error) {
		return nil, errBoom
	})
	d := conversation.NewDispatcher(conversation.NewRegistryBackend(reg), conversation.DispatcherConfig{}, testMetrics(t))

	tests := []struct {
		name     string
		call     types.ToolCall
		wantText string
	}{
		{"handler error", call("explode", ""), "❌ explode: tool unavailable"},
		{"unknown function", call("nope", "{}"), "❌ nope: tool not found"},
		{"not found", call("find_entity", `{"name":"Globex"}`), `❌ find_entity: no record named "Globex"`},
		{"blank name", call("find_entity", `{"name":"  "}`), "❌ find_entity: name must not be empty"},
		{"schema violation", call("find_entity", `{"name":"Acme","kind":"planet"}`), "❌ find_entity: invalid arguments"},
		{"malformed args run with an empty object", call("find_entity", `{"name":`), "❌ find_entity: invalid arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &eventmock.Sink{}
			out := d.Dispatch(context.Background(), tt.call, "s1", sink)
			if out.Success {
				t.Fatalf("outcome = %+v, want failure", out)
			}
			if out.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", out.Text, tt.wantText)
			}
			if out.Error == "" {
				t.Error("Error must be set on failure")
			}
			if len(sink.Events()) != 0 {
				t.Errorf("failed call emitted events: %v", sink.Events())
			}
		})
	}
}

func TestDispatchMCP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		host        *mcpmock.Host
		wantSuccess bool
		wantText    string
		wantEvents  int
	}{
		{
			name: "success with ui",
			host: &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{
				Content: "Acme Corp", UIComponent: "entity-detail", Data: map[string]any{"name": "Acme Corp"},
			}},
			wantSuccess: true, wantText: "✅ find_entity: Acme Corp", wantEvents: 1,
		},
		{
			name:        "success without ui",
			host:        &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: "3 clients"}},
			wantSuccess: true, wantText: "✅ find_entity: 3 clients",
		},
		{
			name:     "application error",
			host:     &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: "name is required", IsError: true}},
			wantText: "❌ find_entity: name is required",
		},
		{
			name:     "transport error",
			host:     &mcpmock.Host{ExecuteToolErr: fmt.Errorf("%w: %q", mcp.ErrToolNotFound, "find_entity")},
			wantText: "❌ find_entity: tool not found",
		},
		{
			name: "dial error",
			host: &mcpmock.Host{ExecuteToolErr: fmt.Errorf("mcp host: call %q on %q: %w", "find_entity", "crm",
				&net.OpError{Op: "dial", Net: "tcp", Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 3, 17), Port: 8931}, Err: errBoom})},
			wantText: "❌ find_entity: tool unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := conversation.NewDispatcher(conversation.NewMCPBackend(tt.host), conversation.DispatcherConfig{}, testMetrics(t))
			sink := &eventmock.Sink{}
			out := d.Dispatch(context.Background(), call("find_entity", `{"name":"Acme"}`), "s1", sink)

			if out.Success != tt.wantSuccess || out.Text != tt.wantText {
				t.Errorf("outcome = %+v, want success=%v text=%q", out, tt.wantSuccess, tt.wantText)
			}
			if out.Source != types.SourceMCP {
				t.Errorf("Source = %q, want mcp", out.Source)
			}
			if strings.Contains(out.Text+out.Error, "10.0.3.17") {
				t.Errorf("outcome leaks the server address: %+v", out)
			}
			if got := len(sink.Events()); got != tt.wantEvents {
				t.Errorf("events = %d, want %d", got, tt.wantEvents)
			}
			calls := tt.host.Calls()
			if len(calls) != 1 || calls[0].Args[0] != "find_entity" {
				t.Fatalf("host calls = %+v", calls)
			}
			if args := calls[0].Args[1].(map[string]any); args["name"] != "Acme" {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestDispatchEmitErrorDoesNotFailCall(t *testing.T) {
	t.Parallel()
	host := &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: "ok", UIComponent: "report"}}
	d := conversation.NewDispatcher(conversation.NewMCPBackend(host), conversation.DispatcherConfig{}, testMetrics(t))
	sink := &eventmock.Sink{EmitErr: event.ErrChannelClosed}

	if out := d.Dispatch(context.Background(), call("entity_report", ""), "s1", sink); !out.Success {
		t.Errorf("outcome = %+v, want success", out)
	}
}

func TestDispatchNilSink(t *testing.T) {
	t.Parallel()
	host := &mcpmock.Host{ExecuteToolResult: &mcp.ToolResult{Content: "ok", UIComponent: "report"}}
	d := conversation.NewDispatcher(conversation.NewMCPBackend(host), conversation.DispatcherConfig{}, testMetrics(t))

	if out := d.Dispatch(context.Background(), call("entity_report", ""), "s1", nil); !out.Success {
		t.Errorf("outcome = %+v, want success", out)
	}
}

func TestDispatchToolTimeout(t *testing.T) {
	t.Parallel()
	host := &mcpmock.Host{
		ExecuteToolFunc: func(ctx context.Context, _ string, _ map[string]any) (*mcp.ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := conversation.NewDispatcher(conversation.NewMCPBackend(host), conversation.DispatcherConfig{ToolTimeout: 20 * time.Millisecond}, testMetrics(t))

	out := d.Dispatch(context.Background(), call("slow", ""), "s1", nil)
	if out.Success || out.Text != "❌ slow: tool timed out" {
		t.Errorf("outcome = %+v, want deadline failure", out)
	}
}

func TestDispatchUnreachableTwiceIsIndependent(t *testing.T) {
	t.Parallel()
	host := &mcpmock.Host{ExecuteToolErr: errBoom}
	d := conversation.NewDispatcher(conversation.NewMCPBackend(host), conversation.DispatcherConfig{}, testMetrics(t))

	var wg sync.WaitGroup
	outs := make([]conversation.ToolOutcome, 2)
	for i := range outs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i] = d.Dispatch(context.Background(), call("find_entity", `{"name":"Acme"}`), "s1", nil)
		}()
	}
	wg.Wait()

	for i, out := range outs {
		if out.Success || out.Text != "❌ find_entity: tool unavailable" {
			t.Errorf("outcome %d = %+v", i, out)
		}
	}
	if host.CallCount("ExecuteTool") != 2 {
		t.Errorf("ExecuteTool calls = %d, want 2", host.CallCount("ExecuteTool"))
	}
}

func TestSelectBackend(t *testing.T) {
	t.Parallel()
	host := &mcpmock.Host{}
	reg := functions.NewRegistry()

	b, err := conversation.SelectBackend(true, host, reg)
	if err != nil || b.Source() != types.SourceMCP {
		t.Errorf("SelectBackend(true) = %v, %v", b, err)
	}
	b, err = conversation.SelectBackend(false, host, reg)
	if err != nil || b.Source() != types.SourceRegistry {
		t.Errorf("SelectBackend(false) = %v, %v", b, err)
	}
	if _, err := conversation.SelectBackend(true, nil, reg); err == nil {
		t.Error("expected error for mcp without host")
	}
	if _, err := conversation.SelectBackend(false, host, nil); err == nil {
		t.Error("expected error for registry without registry")
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	defs := []types.ToolDefinition{{Name: "find_entity"}}

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		host := &mcpmock.Host{AvailableToolsResult: defs}
		c := conversation.NewCatalog(conversation.NewMCPBackend(host), conversation.CatalogConfig{Enabled: false})
		if got := c.ListAvailable(context.Background()); len(got) != 0 {
			t.Errorf("ListAvailable = %v, want empty", got)
		}
		if host.CallCount("AvailableTools") != 0 {
			t.Error("disabled catalog contacted the provider")
		}
	})
	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		host := &mcpmock.Host{AvailableToolsResult: defs}
		c := conversation.NewCatalog(conversation.NewMCPBackend(host), conversation.CatalogConfig{Enabled: true})
		if got := c.ListAvailable(context.Background()); len(got) != 1 || got[0].Name != "find_entity" {
			t.Errorf("ListAvailable = %v", got)
		}
	})
	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		host := &mcpmock.Host{AvailableToolsErr: errBoom}
		c := conversation.NewCatalog(conversation.NewMCPBackend(host), conversation.CatalogConfig{Enabled: true})
		if got := c.ListAvailable(context.Background()); len(got) != 0 {
			t.Errorf("ListAvailable = %v, want empty", got)
		}
	})
	t.Run("registry", func(t *testing.T) {
		t.Parallel()
		c := conversation.NewCatalog(conversation.NewRegistryBackend(newEntityRegistry(t)), conversation.CatalogConfig{Enabled: true})
		got := c.ListAvailable(context.Background())
		if len(got) != 4 || got[0].Source != types.SourceRegistry {
			t.Errorf("ListAvailable = %v, want 4 registry tools", got)
		}
	})
}
