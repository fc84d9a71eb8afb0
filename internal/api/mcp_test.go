package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	router := testRouter()
	d := NewDispatcher(testTruth(), nil, nil, router, &fakeBackend{reply: "mcp answer"}, NewMetrics(), nil)
	return MCPDeps{
		Dispatcher: d,
		Router:     router,
		Health:     staticHealth{up: map[string]bool{"fast": true, "big": false}},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Ask(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"query": "explain goroutine scheduling",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var parsed struct {
		Response string      `json:"response"`
		Meta     RoutingMeta `json:"meta"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Response != "mcp answer" {
		t.Errorf("response = %q", parsed.Response)
	}
	if parsed.Meta.QueryType != "technical" || parsed.Meta.Mode != "rag" {
		t.Errorf("meta = %+v", parsed.Meta)
	}
}

func TestMCPTool_Ask_RequiresQuery(t *testing.T) {
	handler := mcpAsk(newTestMCPDeps(t))
	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected tool error without query")
	}
}

func TestMCPTool_Classify(t *testing.T) {
	handler := mcpClassify(newTestMCPDeps(t))

	result, err := handler(context.Background(), makeCallToolRequest("classify", map[string]interface{}{
		"query": "refactor this function",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["query_type"] != "code" {
		t.Errorf("query_type = %v", parsed["query_type"])
	}
	if parsed["pool"] != "big" {
		t.Errorf("pool = %v", parsed["pool"])
	}
}

func TestMCPResource_Status(t *testing.T) {
	handler := mcpResourceStatus(newTestMCPDeps(t))

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "crossbar://status"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	text := contents[0].(mcp.TextResourceContents).Text

	var status struct {
		Pools map[string]struct {
			Reachable bool `json:"reachable"`
		} `json:"pools"`
	}
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Pools["fast"].Reachable || status.Pools["big"].Reachable {
		t.Errorf("pool reachability wrong: %+v", status.Pools)
	}
}
