package analytics_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/tools/common"
)

const (
	defaultTop           = 10
	defaultContactsLimit = 100
	defaultTrendDays     = 30
)

// RegisterAnalyticsTools registers the mailbox analytics tools. They are
// answered from incrementally maintained aggregates and never contact the
// server.
func RegisterAnalyticsTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	statsTool := mcp.NewTool("get_email_stats",
		mcp.WithDescription("Get totals for the cached mailbox: messages, unread, starred, with attachments and per folder"),
	)
	s.AddTool(statsTool, common.InstrumentedToolHandler("get_email_stats", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetStats(ctx, request, sc)
		}))

	reportTool := mcp.NewTool("get_email_analytics",
		mcp.WithDescription("Get a mailbox report: totals, volume over the analytics window, busiest day, top senders and top recipients"),
		mcp.WithNumber("top",
			mcp.Description("Size of the top senders and recipients lists (default: 10)"),
		),
	)
	s.AddTool(reportTool, common.InstrumentedToolHandler("get_email_analytics", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetAnalytics(ctx, request, sc)
		}))

	contactsTool := mcp.NewTool("get_contacts",
		mcp.WithDescription("List the addresses you exchange mail with, most frequent first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of contacts (default: 100)"),
		),
	)
	s.AddTool(contactsTool, common.InstrumentedToolHandler("get_contacts", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetContacts(ctx, request, sc)
		}))

	trendsTool := mcp.NewTool("get_volume_trends",
		mcp.WithDescription("Get received and sent message counts per day, oldest first"),
		mcp.WithNumber("days",
			mcp.Description("Number of days ending today (default: 30)"),
		),
	)
	s.AddTool(trendsTool, common.InstrumentedToolHandler("get_volume_trends", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetTrends(ctx, request, sc)
		}))

	return nil
}

func handleGetStats(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	stats, err := sc.Engine().Stats()
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(stats)
}

func handleGetAnalytics(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	top, err := common.Int(request.GetArguments(), "top", defaultTop)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	report, err := sc.Engine().Report(top)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(report)
}

func handleGetContacts(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	limit, err := common.Int(request.GetArguments(), "limit", defaultContactsLimit)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	contacts, err := sc.Engine().Contacts(limit)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(contacts)
}

func handleGetTrends(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	days, err := common.Int(request.GetArguments(), "days", defaultTrendDays)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	trends, err := sc.Engine().Trends(days)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(trends)
}
