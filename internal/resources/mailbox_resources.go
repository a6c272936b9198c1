package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailmirror/internal/server"
)

const (
	AccountURI = "mailbox://account"
	FoldersURI = "mailbox://folders"
)

type accountInfo struct {
	Account          string `json:"account"`
	Connected        bool   `json:"connected"`
	CachedMessages   int    `json:"cachedMessages"`
	PendingMutations int    `json:"pendingMutations"`
	SendConfigured   bool   `json:"sendConfigured"`
}

// RegisterMailboxResources registers the account and folder resources.
func RegisterMailboxResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	accountResource := mcp.NewResource(
		AccountURI,
		"Mailbox Account",
		mcp.WithResourceDescription("The mirrored account, its connection state and cache size"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(accountResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleAccount(ctx, request, sc)
	})

	foldersResource := mcp.NewResource(
		FoldersURI,
		"Mailbox Folders",
		mcp.WithResourceDescription("Cached folders with message and unread counts"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(foldersResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleFolders(ctx, request, sc)
	})

	return nil
}

func handleAccount(_ context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	st := sc.Engine().Status()
	return jsonContents(request.Params.URI, accountInfo{
		Account:          sc.Account(),
		Connected:        st.Connected,
		CachedMessages:   st.CachedMessages,
		PendingMutations: len(st.Pending),
		SendConfigured:   sc.Mailer() != nil,
	})
}

func handleFolders(_ context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, sc.Engine().ListFolders())
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
