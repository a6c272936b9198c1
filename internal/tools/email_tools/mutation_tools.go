package email_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/tools/batch"
	"github.com/teemow/mailmirror/internal/tools/common"
)

const emailIDDescription = "Email ID (string) or array of email IDs"

// mutation applies one change to one message.
type mutation func(ctx context.Context, id string) (any, error)

func registerMutationTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	markReadTool := mcp.NewTool("mark_email_read",
		mcp.WithDescription("Mark one or more emails as read or unread. The change is applied locally at once and rolled back if the server rejects it"),
		mcp.WithString("emailId",
			mcp.Required(),
			mcp.Description(emailIDDescription),
		),
		mcp.WithBoolean("isRead",
			mcp.Description("true marks as read (default), false as unread"),
		),
	)
	s.AddTool(markReadTool, common.InstrumentedToolHandler("mark_email_read", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleMarkRead(ctx, request, sc)
		}))

	starTool := mcp.NewTool("star_email",
		mcp.WithDescription("Star or unstar one or more emails"),
		mcp.WithString("emailId",
			mcp.Required(),
			mcp.Description(emailIDDescription),
		),
		mcp.WithBoolean("isStarred",
			mcp.Description("true stars (default), false removes the star"),
		),
	)
	s.AddTool(starTool, common.InstrumentedToolHandler("star_email", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleStar(ctx, request, sc)
		}))

	moveTool := mcp.NewTool("move_email",
		mcp.WithDescription("Move one or more emails to another folder"),
		mcp.WithString("emailId",
			mcp.Required(),
			mcp.Description(emailIDDescription),
		),
		mcp.WithString("targetFolder",
			mcp.Required(),
			mcp.Description("Destination folder, e.g. Archive or Folders/Receipts"),
		),
	)
	s.AddTool(moveTool, common.InstrumentedToolHandler("move_email", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleMove(ctx, request, sc)
		}))

	deleteTool := mcp.NewTool("delete_email",
		mcp.WithDescription("Permanently delete one or more emails. Repeating a delete succeeds"),
		mcp.WithString("emailId",
			mcp.Required(),
			mcp.Description(emailIDDescription),
		),
	)
	s.AddTool(deleteTool, common.InstrumentedToolHandler("delete_email", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDelete(ctx, request, sc)
		}))
}

func handleMarkRead(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	read, err := common.Bool(request.GetArguments(), "isRead", true)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	return applyMutation(ctx, request, func(ctx context.Context, id string) (any, error) {
		return sc.Engine().SetRead(ctx, id, read)
	})
}

func handleStar(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	starred, err := common.Bool(request.GetArguments(), "isStarred", true)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	return applyMutation(ctx, request, func(ctx context.Context, id string) (any, error) {
		return sc.Engine().SetStarred(ctx, id, starred)
	})
}

func handleMove(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	folder, err := common.RequiredString(request.GetArguments(), "targetFolder")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	return applyMutation(ctx, request, func(ctx context.Context, id string) (any, error) {
		return sc.Engine().Move(ctx, id, folder)
	})
}

func handleDelete(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	return applyMutation(ctx, request, func(ctx context.Context, id string) (any, error) {
		if err := sc.Engine().Delete(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "deleted": true}, nil
	})
}

// applyMutation runs fn for the emailId argument. A single id yields the
// updated message or a kind-prefixed error; several ids yield a batch
// summary, which is an error result only when every id failed.
func applyMutation(ctx context.Context, request mcp.CallToolRequest, fn mutation) (*mcp.CallToolResult, error) {
	ids, err := batch.ParseStringOrArray(request.GetArguments()["emailId"], "emailId")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	if len(ids) == 1 {
		res, err := fn(ctx, ids[0])
		if err != nil {
			return common.ErrorResult(err), nil
		}
		return common.JSONResult(res)
	}

	results := batch.ProcessBatch(ctx, ids, batch.DefaultConcurrency, fn)
	summary := batch.Summarize(results)
	if summary.Failed == summary.Total {
		return mcp.NewToolResultError(batch.FormatResults(results)), nil
	}
	return common.JSONResult(summary)
}
