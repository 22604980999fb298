package annotator

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pinpoint/kit"
)

// RegisterMCP exposes the session to agents as MCP tools.
func RegisterMCP(srv *mcp.Server, s *Session) {
	eps := NewEndpoints(s)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pinpoint_resolve",
		Description: "Resolve where annotations should be drawn on the current page. Returns one position per annotation with its match type (exact, maybe_stale, none), document and viewport coordinates.",
		InputSchema: kit.InputSchema(map[string]any{
			"annotations": map[string]any{
				"type":        "array",
				"description": "Annotations with id, location and optional coords_relative_to_target",
				"items":       map[string]any{"type": "object"},
			},
			"strict": map[string]any{"type": "boolean", "description": "Only accept exact matches"},
		}, "annotations"),
	}, eps.Resolve, kit.DecodeJSON[ResolveRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pinpoint_screenshot",
		Description: "Screenshot the current page, optionally with a pin drawn at a viewport point. Returns the image URL (or data URL), size and a text excerpt.",
		InputSchema: kit.InputSchema(map[string]any{
			"annotation_id": map[string]any{"type": "string", "description": "Names the uploaded image"},
			"point": map[string]any{
				"type":       "object",
				"properties": map[string]any{"x": map[string]any{"type": "number"}, "y": map[string]any{"type": "number"}},
			},
			"blurred": map[string]any{"type": "boolean", "description": "Also produce a blurred version"},
		}),
	}, eps.Screenshot, kit.DecodeJSON[ScreenshotRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pinpoint_list_annotations",
		Description: "List stored annotations, filtered by location subset, source, thread or commit state.",
		InputSchema: kit.InputSchema(map[string]any{
			"location":       map[string]any{"type": "object", "description": "Keep annotations whose location contains these keys"},
			"source_id":      map[string]any{"type": "string"},
			"thread_id":      map[string]any{"type": "string"},
			"committed_only": map[string]any{"type": "boolean"},
			"limit":          map[string]any{"type": "integer"},
		}),
	}, eps.List, kit.DecodeJSON[ListRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pinpoint_encode_coordinates",
		Description: "Encode a viewport point into an opaque string that survives scrolling and layout changes.",
		InputSchema: kit.InputSchema(map[string]any{
			"x": map[string]any{"type": "number"},
			"y": map[string]any{"type": "number"},
		}, "x", "y"),
	}, eps.Encode, kit.DecodeJSON[EncodeRequest]())
}

// NewMCPServer returns an MCP server carrying the session's tools.
func NewMCPServer(s *Session, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "pinpoint", Version: version}, nil)
	RegisterMCP(srv, s)
	return srv
}

// MCPHandler serves the session's tools over streamable HTTP.
func MCPHandler(s *Session, version string) http.Handler {
	srv := NewMCPServer(s, version)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}
