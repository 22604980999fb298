package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Decoder turns MCP tool arguments into the Endpoint request.
type Decoder func(args json.RawMessage) (any, error)

// DecodeJSON returns a Decoder unmarshalling into a fresh *T. Empty
// arguments decode to the zero value.
func DecodeJSON[T any]() Decoder {
	return func(args json.RawMessage) (any, error) {
		var v T
		if len(args) == 0 || string(args) == "null" {
			return &v, nil
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
}

// RegisterMCPTool exposes an Endpoint as an MCP tool. The response is
// returned as JSON text; decode and endpoint failures become tool errors
// rather than protocol errors.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode Decoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, TransportMCP)

		in, err := decode(req.Params.Arguments)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		resp, err := endpoint(ctx, in)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// InputSchema builds an object schema for a tool.
func InputSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
