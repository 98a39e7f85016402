package bot

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/itembot/observability"
)

var testMCPImpl = &mcp.Implementation{Name: "itembot-test", Version: "0.1.0"}

func mcpSession(t *testing.T, app *App) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	RegisterMCP(srv, app.Searcher, nil)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callSearch(t *testing.T, session *mcp.ClientSession, query string) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "item_search",
		Arguments: map[string]any{"query": query},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	return res
}

func TestMCP_ItemSearch(t *testing.T) {
	app := newTestApp(t, map[string]string{"101": "https://cdn/101.png"}, "")
	session := mcpSession(t, app)

	res := callSearch(t, session, "potion")
	if err := res.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	var out SearchResult
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Found || out.Item.Description != "Healing Potion" || out.ImageURL != "https://cdn/101.png" {
		t.Fatalf("result: %+v", out)
	}
}

func TestMCP_ItemSearchMiss(t *testing.T) {
	app := newTestApp(t, nil, "")
	session := mcpSession(t, app)

	res := callSearch(t, session, "nonexistent")
	if res.IsError {
		t.Fatalf("a miss is not a tool error: %v", res.GetError())
	}
	var out SearchResult
	json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out)
	if out.Found {
		t.Fatalf("result: %+v", out)
	}
}

func TestMCP_EmptyQueryIsToolError(t *testing.T) {
	app := newTestApp(t, nil, "")
	session := mcpSession(t, app)
	if res := callSearch(t, session, "  "); !res.IsError {
		t.Fatal("expected tool error for empty query")
	}
}

func TestMCP_StampsRequestID(t *testing.T) {
	app := newTestApp(t, nil, "")
	session := mcpSession(t, app)
	callSearch(t, session, "potion")

	evs, err := app.Events.Recent(context.Background(), observability.EventSearch, 1)
	if err != nil || len(evs) != 1 {
		t.Fatalf("events: %v, %v", evs, err)
	}
	id, _ := evs[0].Details["request_id"].(string)
	if !strings.HasPrefix(id, "mcp_") {
		t.Fatalf("request id: %q", id)
	}
	if evs[0].Details["transport"] != "mcp" {
		t.Fatalf("transport: %v", evs[0].Details["transport"])
	}
}
