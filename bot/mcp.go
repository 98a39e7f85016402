package bot

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/itembot/idgen"
	"github.com/hazyhaar/itembot/kit"
)

// RegisterMCP registers the item_search tool on srv.
func RegisterMCP(srv *mcp.Server, s *Searcher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	tool := &mcp.Tool{
		Name:        "item_search",
		Description: "Find the first catalog item whose description contains the query (case-insensitive) and resolve its image URL.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Substring to look for in item descriptions"},
			},
			"required": []string{"query"},
		},
	}

	endpoint := kit.Chain(kit.Logging(logger, "item_search"))(s.Endpoint())
	newID := idgen.Prefixed("mcp_", idgen.Default)

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r SearchRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		id := newID()
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithRequestID(ctx, id) },
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
