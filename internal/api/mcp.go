package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/crossbarhq/crossbar/internal/route"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Dispatcher *Dispatcher
	Router     *route.Router
	Health     route.Health
	Store      *vecstore.Store
}

// NewMCPServer creates an MCP server exposing the gateway to agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"crossbar",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("crossbar routes queries to local model pools with a semantic cache and live repo context."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Run a query through the routing pipeline and return the answer with its decision trail."),
			mcp.WithString("query", mcp.Description("The question or command to run"), mcp.Required()),
			mcp.WithBoolean("force_deep", mcp.Description("Route to the big pool regardless of classification")),
			mcp.WithBoolean("skip_cache", mcp.Description("Bypass the semantic cache for this query")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("classify",
			mcp.WithDescription("Classify a query and show where it would be routed, without calling a model."),
			mcp.WithString("query", mcp.Description("The query to classify"), mcp.Required()),
		),
		mcpClassify(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"crossbar://status",
			"Gateway Status",
			mcp.WithResourceDescription("Pool reachability and store counts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		forceDeep := req.GetBool("force_deep", false)
		skipCache := req.GetBool("skip_cache", false)

		result, err := deps.Dispatcher.Dispatch(ctx, Request{
			Query:     query,
			ForceDeep: forceDeep,
			SkipCache: skipCache,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"response": result.Text,
			"meta":     result.Meta,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClassify(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		cls := deps.Dispatcher.classifyQuery(query)
		out := map[string]any{
			"query_type": cls.QueryType,
			"mode":       cls.RoutedMode,
			"confidence": cls.Confidence,
			"reason":     cls.Reason,
		}
		if decision, err := deps.Router.Route(cls, false); err == nil {
			out["pool"] = decision.Pool
			out["model"] = decision.Model
		} else {
			out["routing_error"] = err.Error()
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal classification: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		status := map[string]any{}

		pools := map[string]any{}
		for _, p := range deps.Router.Pools() {
			pools[p.Name] = map[string]any{
				"endpoint":  p.Endpoint,
				"model":     p.Model,
				"reachable": deps.Health == nil || deps.Health.Reachable(p.Name),
			}
		}
		status["pools"] = pools

		if deps.Store != nil {
			if n, err := deps.Store.CountChunks(ctx); err == nil {
				status["corpus_chunks"] = n
			}
			if n, err := deps.Store.CountCacheEntries(ctx); err == nil {
				status["cache_entries"] = n
			}
		}

		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
