package folder_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/syncer"
	"github.com/teemow/mailmirror/internal/tools/common"
)

// syncReport is the sync_emails result. Error joins the failures of
// individual folders when others succeeded.
type syncReport struct {
	Results []syncer.Result `json:"results"`
	Error   string          `json:"error,omitempty"`
}

// RegisterFolderTools registers the folder listing and sync tools.
// Syncing only reads from the server and is available in read-only mode.
func RegisterFolderTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	getFoldersTool := mcp.NewTool("get_folders",
		mcp.WithDescription("List cached folders with message and unread counts"),
	)
	s.AddTool(getFoldersTool, common.InstrumentedToolHandler("get_folders", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetFolders(ctx, request, sc)
		}))

	syncFoldersTool := mcp.NewTool("sync_folders",
		mcp.WithDescription("Refresh the folder list from the server"),
	)
	s.AddTool(syncFoldersTool, common.InstrumentedToolHandler("sync_folders", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSyncFolders(ctx, request, sc)
		}))

	syncEmailsTool := mcp.NewTool("sync_emails",
		mcp.WithDescription("Sync messages from the server into the cache. Concurrent requests for the same folder share one sync"),
		mcp.WithString("folder",
			mcp.Description("Folder to sync (default: all folders)"),
		),
		mcp.WithBoolean("full",
			mcp.Description("Re-fetch the whole folder instead of only new messages (default: false)"),
		),
	)
	s.AddTool(syncEmailsTool, common.InstrumentedToolHandler("sync_emails", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSyncEmails(ctx, request, sc)
		}))

	return nil
}

func handleGetFolders(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	return common.JSONResult(sc.Engine().ListFolders())
}

func handleSyncFolders(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	folders, err := sc.Engine().SyncFolders(ctx)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(folders)
}

func handleSyncEmails(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	folder, err := common.String(args, "folder", "")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	full, err := common.Bool(args, "full", false)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	mode := mailbox.SyncIncremental
	if full {
		mode = mailbox.SyncFull
	}

	if folder != "" {
		res, err := sc.Engine().SyncFolder(ctx, folder, mode)
		if err != nil {
			return common.ErrorResult(err), nil
		}
		return common.JSONResult(syncReport{Results: []syncer.Result{res}})
	}

	results, err := sc.Engine().SyncAll(ctx, mode)
	if err != nil && allFailed(results) {
		return common.ErrorResult(err), nil
	}
	report := syncReport{Results: results}
	if report.Results == nil {
		report.Results = []syncer.Result{}
	}
	if err != nil {
		report.Error = err.Error()
	}
	return common.JSONResult(report)
}

func allFailed(results []syncer.Result) bool {
	for _, r := range results {
		if r.State != syncer.StateFailed {
			return false
		}
	}
	return true
}
