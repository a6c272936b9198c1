package folder_tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/mailbox/mailboxtest"
	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/syncer"
	"github.com/teemow/mailmirror/internal/tools/tooltest"
)

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest, *server.ServerContext) (*mcp.CallToolResult, error), sc *server.ServerContext, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	return tooltest.Call(t, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return h(ctx, req, sc)
	}, args)
}

func newRemote() *mailboxtest.Remote {
	remote := mailboxtest.New()
	remote.AddFolder("Archive")
	unread := mailboxtest.Msg("a", "INBOX", 1)
	read := mailboxtest.Msg("b", "INBOX", 2)
	read.Read = true
	remote.Put(unread, read, mailboxtest.Msg("c", "Archive", 3))
	return remote
}

func TestRegisterFolderTools(t *testing.T) {
	env := tooltest.New(t, mailboxtest.New())
	s := mcpserver.NewMCPServer("test", "1.0.0", mcpserver.WithToolCapabilities(true))
	require.NoError(t, RegisterFolderTools(s, env.SC))

	tools := s.ListTools()
	assert.Len(t, tools, 3)
	for _, name := range []string{"get_folders", "sync_folders", "sync_emails"} {
		assert.Contains(t, tools, name)
	}
}

func TestHandleGetFolders(t *testing.T) {
	env := tooltest.Synced(t, newRemote())

	var folders []mailbox.Folder
	tooltest.Decode(t, call(t, handleGetFolders, env.SC, nil), &folders)
	require.Len(t, folders, 2)
	assert.Equal(t, "Archive", folders[0].ID)
	assert.Equal(t, 1, folders[0].Total)
	assert.Equal(t, "INBOX", folders[1].ID)
	assert.Equal(t, 2, folders[1].Total)
	assert.Equal(t, 1, folders[1].Unread)
}

func TestHandleGetFolders_Empty(t *testing.T) {
	env := tooltest.New(t, mailboxtest.New())

	res := call(t, handleGetFolders, env.SC, nil)
	assert.False(t, res.IsError)
	assert.Equal(t, "[]", tooltest.Text(t, res))
}

func TestHandleSyncFolders(t *testing.T) {
	remote := newRemote()
	env := tooltest.Synced(t, remote)
	remote.AddFolder("Receipts")

	var folders []mailbox.Folder
	tooltest.Decode(t, call(t, handleSyncFolders, env.SC, nil), &folders)
	ids := make([]string, 0, len(folders))
	for _, f := range folders {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"Archive", "INBOX", "Receipts"}, ids)
}

func TestHandleSyncEmails(t *testing.T) {
	remote := newRemote()
	env := tooltest.Synced(t, remote)
	remote.Put(mailboxtest.Msg("d", "INBOX", 4))

	var report syncReport
	tooltest.Decode(t, call(t, handleSyncEmails, env.SC, map[string]any{"folder": "INBOX"}), &report)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "INBOX", report.Results[0].Folder)
	assert.Equal(t, mailbox.SyncIncremental, report.Results[0].Mode)
	assert.Equal(t, 1, report.Results[0].Added)
	assert.Empty(t, report.Error)

	tooltest.Decode(t, call(t, handleSyncEmails, env.SC, map[string]any{"full": true}), &report)
	require.Len(t, report.Results, 2)
	for _, r := range report.Results {
		assert.Equal(t, mailbox.SyncFull, r.Mode)
		assert.Equal(t, syncer.StateSynced, r.State)
	}

	_, _, err := env.SC.Engine().GetMessage(t.Context(), "d")
	assert.NoError(t, err)
}

func TestHandleSyncEmails_Errors(t *testing.T) {
	remote := newRemote()
	env := tooltest.Synced(t, remote)

	res := call(t, handleSyncEmails, env.SC, map[string]any{"full": "sometimes"})
	assert.True(t, res.IsError)
	assert.Contains(t, tooltest.Text(t, res), "InvalidInput:")

	remote.SetError(mailboxtest.OpFetchRange, mailbox.Errorf(mailbox.KindRemoteRejected, "fetch range", "", "mailbox locked"))
	res = call(t, handleSyncEmails, env.SC, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, tooltest.Text(t, res), "RemoteRejected:")
	remote.SetError(mailboxtest.OpFetchRange, nil)

	require.NoError(t, env.SC.Engine().Disconnect())
	res = call(t, handleSyncEmails, env.SC, map[string]any{"folder": "INBOX"})
	assert.True(t, res.IsError)
	assert.Contains(t, tooltest.Text(t, res), "RemoteUnavailable:")

	res = call(t, handleSyncFolders, env.SC, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, tooltest.Text(t, res), "RemoteUnavailable:")
}
