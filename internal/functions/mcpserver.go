package functions

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/colloquy/internal/mcp"
	"github.com/MrWong99/colloquy/internal/mcp/mcphost"
)

// MCPServer publishes every function currently in r as a tool on a new MCP
// server. Functions registered afterwards are not picked up.
//
// Results carry the text as content, Data as structured content and the UI
// component tag under the [mcp.MetaUIComponent] meta key, which is where
// mcphost reads it back from.
func (r *Registry) MCPServer(impl *mcpsdk.Implementation) *mcpsdk.Server {
	srv := mcpsdk.NewServer(impl, nil)
	for _, def := range r.Definitions() {
		srv.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, r.mcpHandler(def.Name))
	}
	return srv
}

func (r *Registry) mcpHandler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("invalid arguments"), nil
			}
		}

		res, err := r.Execute(ctx, name, args)
		if err != nil {
			return errorResult(PublicMessage(ctx, name, err)), nil
		}

		out := &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Text}},
		}
		if res.Data != nil {
			out.StructuredContent = res.Data
		}
		if res.UIComponent != "" {
			out.Meta = mcpsdk.Meta{mcp.MetaUIComponent: res.UIComponent}
		}
		return out, nil
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}

// RegisterBuiltins mounts every function of r into h as an in-process tool,
// so the MCP routing strategy can reach the local functions without a
// network hop.
func RegisterBuiltins(h *mcphost.Host, r *Registry) error {
	for _, def := range r.Definitions() {
		name := def.Name
		err := h.RegisterBuiltin(mcphost.BuiltinTool{
			Definition: def,
			Handler: func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error) {
				res, err := r.Execute(ctx, name, args)
				if err != nil {
					return &mcp.ToolResult{Content: PublicMessage(ctx, name, err), IsError: true}, nil
				}
				return &mcp.ToolResult{
					Content:     res.Text,
					Data:        res.Data,
					UIComponent: res.UIComponent,
				}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("functions: register builtin %q: %w", name, err)
		}
	}
	return nil
}
