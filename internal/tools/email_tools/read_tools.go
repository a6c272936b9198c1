package email_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/query"
	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/tools/common"
)

const (
	defaultFolder      = "INBOX"
	defaultSearchLimit = 100
)

// messageWithBody is the get_email_by_id result.
type messageWithBody struct {
	*mailbox.Message
	// BodyLoaded is false when the body could not be fetched and only the
	// cached envelope is returned.
	BodyLoaded bool `json:"bodyLoaded"`
}

func registerReadTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	getEmailsTool := mcp.NewTool("get_emails",
		mcp.WithDescription("List cached emails in a folder, newest first"),
		mcp.WithString("folder",
			mcp.Description("Folder to list (default: INBOX)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of emails to return (default: 50, max: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of emails to skip (default: 0)"),
		),
	)
	s.AddTool(getEmailsTool, common.InstrumentedToolHandler("get_emails", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetEmails(ctx, request, sc)
		}))

	getEmailTool := mcp.NewTool("get_email_by_id",
		mcp.WithDescription("Get one email including its body. The body is fetched from the server on first access and cached"),
		mcp.WithString("emailId",
			mcp.Required(),
			mcp.Description("The email ID as returned by get_emails or search_emails"),
		),
	)
	s.AddTool(getEmailTool, common.InstrumentedToolHandler("get_email_by_id", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetEmailByID(ctx, request, sc)
		}))

	searchTool := mcp.NewTool("search_emails",
		mcp.WithDescription("Search cached emails. All criteria are optional and combined with AND; text matches are case-insensitive substrings"),
		mcp.WithString("query",
			mcp.Description("Free text matched against subject, snippet and sender"),
		),
		mcp.WithString("folder",
			mcp.Description("Restrict to one folder"),
		),
		mcp.WithString("from",
			mcp.Description("Sender address or name contains"),
		),
		mcp.WithString("to",
			mcp.Description("Recipient (To or Cc) address or name contains"),
		),
		mcp.WithString("subject",
			mcp.Description("Subject contains"),
		),
		mcp.WithBoolean("hasAttachment",
			mcp.Description("Only emails with (true) or without (false) attachments"),
		),
		mcp.WithBoolean("isRead",
			mcp.Description("Only read (true) or unread (false) emails"),
		),
		mcp.WithBoolean("isStarred",
			mcp.Description("Only starred (true) or unstarred (false) emails"),
		),
		mcp.WithString("dateFrom",
			mcp.Description("Earliest date, YYYY-MM-DD or RFC 3339"),
		),
		mcp.WithString("dateTo",
			mcp.Description("Latest date, YYYY-MM-DD (inclusive) or RFC 3339"),
		),
		mcp.WithString("sortBy",
			mcp.Description("Sort order: date (newest first, default), date_asc, subject or from"),
			mcp.Enum(query.SortDate, query.SortDateAsc, query.SortSubject, query.SortFrom),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 100, max: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of results to skip (default: 0)"),
		),
	)
	s.AddTool(searchTool, common.InstrumentedToolHandler("search_emails", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSearchEmails(ctx, request, sc)
		}))
}

func pageFromArgs(args map[string]any, defaultLimit int) (query.Page, error) {
	limit, err := common.Int(args, "limit", defaultLimit)
	if err != nil {
		return query.Page{}, err
	}
	offset, err := common.Int(args, "offset", 0)
	if err != nil {
		return query.Page{}, err
	}
	return query.Page{Offset: offset, Limit: limit}, nil
}

// summaries drops cached bodies from list results.
func summaries(res query.Result[*mailbox.Message]) query.Result[*mailbox.Message] {
	items := make([]*mailbox.Message, len(res.Items))
	for i, m := range res.Items {
		c := *m
		c.Body = nil
		items[i] = &c
	}
	res.Items = items
	return res
}

func handleGetEmails(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	folder, err := common.String(args, "folder", defaultFolder)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	page, err := pageFromArgs(args, 0)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	res, err := sc.Engine().ListMessages(folder, page)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(summaries(res))
}

func handleGetEmailByID(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	id, err := common.RequiredString(request.GetArguments(), "emailId")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	msg, hydrated, err := sc.Engine().GetMessage(ctx, id)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(messageWithBody{Message: msg, BodyLoaded: hydrated})
}

func handleSearchEmails(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	f, sortBy, err := filterFromArgs(args)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	page, err := pageFromArgs(args, defaultSearchLimit)
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	res, err := sc.Engine().Search(f, page, sortBy)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(summaries(res))
}

func filterFromArgs(args map[string]any) (query.Filter, string, error) {
	var f query.Filter
	var err error

	strs := []struct {
		name string
		dst  *string
	}{
		{"query", &f.Text},
		{"folder", &f.Folder},
		{"from", &f.From},
		{"to", &f.To},
		{"subject", &f.Subject},
	}
	for _, s := range strs {
		if *s.dst, err = common.String(args, s.name, ""); err != nil {
			return f, "", err
		}
	}

	bools := []struct {
		name string
		dst  **bool
	}{
		{"hasAttachment", &f.HasAttach},
		{"isRead", &f.Read},
		{"isStarred", &f.Starred},
	}
	for _, b := range bools {
		if *b.dst, err = common.OptionalBool(args, b.name); err != nil {
			return f, "", err
		}
	}

	if f.DateFrom, err = common.Date(args, "dateFrom", false); err != nil {
		return f, "", err
	}
	if f.DateTo, err = common.Date(args, "dateTo", true); err != nil {
		return f, "", err
	}

	sortBy, err := common.String(args, "sortBy", query.SortDate)
	if err != nil {
		return f, "", err
	}
	return f, sortBy, nil
}
