package api

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/seqbrowse/kit"
)

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var sessionIDProp = map[string]any{"type": "string", "description": "Browse session ID"}

// RegisterMCP registers the session tools on an MCP server.
func (a *API) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seq_state",
		Description: "Current browser state of a session: selected branch, playback flags, last mirror sync.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}, a.state, kit.DecodeArgs[sessionRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seq_select",
		Description: "Move the selection of a session. The mirror follows the selected branch.",
		InputSchema: inputSchema(map[string]any{
			"session_id":  sessionIDProp,
			"op":          map[string]any{"type": "string", "enum": []any{"first", "last", "next", "previous", "relative", "explicit", "seek"}},
			"delta":       map[string]any{"type": "integer", "description": "Offset for op=relative"},
			"position":    map[string]any{"type": "integer", "description": "Position for op=explicit"},
			"index_value": map[string]any{"type": "string", "description": "Index value for op=seek"},
			"exact":       map[string]any{"type": "boolean", "description": "Require an exact index match for op=seek"},
		}, []string{"session_id", "op"}),
	}, a.sel, kit.DecodeArgs[selectRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seq_playback",
		Description: "Start, stop or tune playback. Absent fields are left unchanged.",
		InputSchema: inputSchema(map[string]any{
			"session_id":    sessionIDProp,
			"active":        map[string]any{"type": "boolean"},
			"looped":        map[string]any{"type": "boolean"},
			"rate_fps":      map[string]any{"type": "number", "description": "Items per second, > 0"},
			"item_skipping": map[string]any{"type": "boolean"},
		}, []string{"session_id"}),
	}, a.playback, kit.DecodeArgs[playbackRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seq_tick",
		Description: "Advance a playing session by one item.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}, a.tick, kit.DecodeArgs[sessionRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "seq_mirror",
		Description: "List the mirrored children of a session with their source data names.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}, a.mirror, kit.DecodeArgs[sessionRequest])
}
