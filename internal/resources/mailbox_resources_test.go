package resources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/mailbox/mailboxtest"
	"github.com/teemow/mailmirror/internal/tools/tooltest"
)

func read(t *testing.T, contents []mcp.ResourceContents, err error, uri string, v any) {
	t.Helper()
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(*mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, uri, text.URI)
	assert.Equal(t, "application/json", text.MIMEType)
	require.NoError(t, json.Unmarshal([]byte(text.Text), v))
}

func request(uri string) mcp.ReadResourceRequest {
	var req mcp.ReadResourceRequest
	req.Params.URI = uri
	return req
}

func newRemote() *mailboxtest.Remote {
	remote := mailboxtest.New()
	remote.AddFolder("Archive")
	remote.Put(mailboxtest.Msg("a", "INBOX", 1), mailboxtest.Msg("b", "Archive", 2))
	return remote
}

func TestHandleAccount(t *testing.T) {
	env := tooltest.New(t, newRemote())

	var info accountInfo
	contents, err := handleAccount(context.Background(), request(AccountURI), env.SC)
	read(t, contents, err, AccountURI, &info)
	assert.Equal(t, tooltest.Self, info.Account)
	assert.False(t, info.Connected)
	assert.Zero(t, info.CachedMessages)
	assert.True(t, info.SendConfigured)

	require.NoError(t, env.SC.Engine().Connect(t.Context()))
	_, err = env.SC.Engine().SyncAll(t.Context(), mailbox.SyncFull)
	require.NoError(t, err)

	contents, err = handleAccount(context.Background(), request(AccountURI), env.SC)
	read(t, contents, err, AccountURI, &info)
	assert.True(t, info.Connected)
	assert.Equal(t, 2, info.CachedMessages)
	assert.Zero(t, info.PendingMutations)
}

func TestHandleFolders(t *testing.T) {
	env := tooltest.Synced(t, newRemote())

	var folders []mailbox.Folder
	contents, err := handleFolders(context.Background(), request(FoldersURI), env.SC)
	read(t, contents, err, FoldersURI, &folders)
	require.Len(t, folders, 2)
	assert.Equal(t, "Archive", folders[0].ID)
	assert.Equal(t, "INBOX", folders[1].ID)
}
