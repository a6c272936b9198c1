package system_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/engine"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/tools/common"
)

const defaultLogLimit = 100

// connectionStatus is the get_connection_status result.
type connectionStatus struct {
	Account string `json:"account,omitempty"`
	engine.Status
}

// RegisterSystemTools registers the status, cache and log tools.
func RegisterSystemTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	statusTool := mcp.NewTool("get_connection_status",
		mcp.WithDescription("Get the server connection state, the sync state of every folder and the mutations still waiting for the server"),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("get_connection_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleConnectionStatus(ctx, request, sc)
		}))

	clearTool := mcp.NewTool("clear_cache",
		mcp.WithDescription("Drop all cached messages. Folders are kept; the next sync fetches everything again"),
	)
	s.AddTool(clearTool, common.InstrumentedToolHandler("clear_cache", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleClearCache(ctx, request, sc)
		}))

	logsTool := mcp.NewTool("get_logs",
		mcp.WithDescription("Get recent server log entries, oldest first"),
		mcp.WithString("level",
			mcp.Description("Minimum level (default: debug)"),
			mcp.Enum("debug", "info", "warn", "error"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default: 100)"),
		),
	)
	s.AddTool(logsTool, common.InstrumentedToolHandler("get_logs", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetLogs(ctx, request, sc)
		}))

	return nil
}

func handleConnectionStatus(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	return common.JSONResult(connectionStatus{
		Account: sc.Account(),
		Status:  sc.Engine().Status(),
	})
}

func handleClearCache(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	n := sc.Engine().ClearCache(ctx)
	return common.JSONResult(map[string]int{"cleared": n})
}

func handleGetLogs(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	levelName, err := common.String(args, "level", "")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	level, ok := logging.ParseLevel(levelName)
	if !ok {
		return common.InvalidInput("unknown log level %q", levelName), nil
	}
	limit, err := common.Int(args, "limit", defaultLogLimit)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	logs := sc.Logs()
	if logs == nil {
		return common.JSONResult([]logging.Entry{})
	}
	return common.JSONResult(logs.Entries(level, limit))
}
