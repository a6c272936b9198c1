package email_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/sender"
	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/tools/common"
)

var errNoMailer = mailbox.Errorf(mailbox.KindRemoteUnavailable, "send", "", "outbound mail is not configured")

func registerSendTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	sendTool := mcp.NewTool("send_email",
		mcp.WithDescription("Send an email through the configured SMTP server"),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient addresses, comma separated or as an array"),
		),
		mcp.WithString("cc",
			mcp.Description("CC addresses, comma separated or as an array"),
		),
		mcp.WithString("bcc",
			mcp.Description("BCC addresses, comma separated or as an array"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject line"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Message body"),
		),
		mcp.WithBoolean("isHtml",
			mcp.Description("Treat body as HTML (default: false)"),
		),
		mcp.WithString("priority",
			mcp.Description("Message priority"),
			mcp.Enum(sender.PriorityHigh, sender.PriorityNormal, sender.PriorityLow),
		),
		mcp.WithString("replyTo",
			mcp.Description("Reply-To address"),
		),
		mcp.WithArray("attachments",
			mcp.Description("Attachments as objects with filename, content (base64) and an optional contentType"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filename":    map[string]any{"type": "string"},
					"content":     map[string]any{"type": "string"},
					"contentType": map[string]any{"type": "string"},
				},
				"required": []string{"filename", "content"},
			}),
		),
	)
	s.AddTool(sendTool, common.InstrumentedToolHandler("send_email", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSendEmail(ctx, request, sc)
		}))

	testTool := mcp.NewTool("send_test_email",
		mcp.WithDescription("Send a short test email to check outbound delivery"),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient address"),
		),
		mcp.WithString("customMessage",
			mcp.Description("Optional text to use as the body"),
		),
	)
	s.AddTool(testTool, common.InstrumentedToolHandler("send_test_email", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSendTestEmail(ctx, request, sc)
		}))
}

// addressList accepts a comma separated string or an array of addresses.
func addressList(args map[string]any, name string) ([]string, error) {
	switch v := args[name].(type) {
	case nil:
		return nil, nil
	case string:
		list, err := sender.ParseAddressList(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return list, nil
	case []string:
		return addressList(map[string]any{name: strings.Join(v, ",")}, name)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain only strings", name)
			}
			parts = append(parts, s)
		}
		return addressList(map[string]any{name: strings.Join(parts, ",")}, name)
	default:
		return nil, fmt.Errorf("%s must be a string or an array of strings", name)
	}
}

func attachments(args map[string]any) ([]sender.Attachment, error) {
	raw, ok := args["attachments"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("attachments: %w", err)
	}
	var out []sender.Attachment
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("attachments must be an array of objects with filename and content")
	}
	return out, nil
}

func emailFromArgs(args map[string]any) (sender.Email, error) {
	var e sender.Email
	var err error

	if e.To, err = addressList(args, "to"); err != nil {
		return e, err
	}
	if e.Cc, err = addressList(args, "cc"); err != nil {
		return e, err
	}
	if e.Bcc, err = addressList(args, "bcc"); err != nil {
		return e, err
	}
	if e.Subject, err = common.RequiredString(args, "subject"); err != nil {
		return e, err
	}
	if e.Body, err = common.String(args, "body", ""); err != nil {
		return e, err
	}
	if e.IsHTML, err = common.Bool(args, "isHtml", false); err != nil {
		return e, err
	}
	if e.Priority, err = common.String(args, "priority", ""); err != nil {
		return e, err
	}
	if e.ReplyTo, err = common.String(args, "replyTo", ""); err != nil {
		return e, err
	}
	if e.Attachments, err = attachments(args); err != nil {
		return e, err
	}
	return e, nil
}

func handleSendEmail(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	mailer := sc.Mailer()
	if mailer == nil {
		return common.ErrorResult(errNoMailer), nil
	}

	email, err := emailFromArgs(request.GetArguments())
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	res, err := mailer.Send(ctx, email)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(res)
}

func handleSendTestEmail(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	mailer := sc.Mailer()
	if mailer == nil {
		return common.ErrorResult(errNoMailer), nil
	}

	args := request.GetArguments()
	to, err := common.RequiredString(args, "to")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}
	msg, err := common.String(args, "customMessage", "")
	if err != nil {
		return common.InvalidInput("%v", err), nil
	}

	res, err := mailer.SendTest(ctx, to, msg)
	if err != nil {
		return common.ErrorResult(err), nil
	}
	return common.JSONResult(res)
}
