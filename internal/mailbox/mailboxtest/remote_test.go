package mailboxtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/mailbox"
)

func TestRemote_FetchRangeIncremental(t *testing.T) {
	ctx := context.Background()
	r := New()
	r.Put(Msg("1", "INBOX", 1), Msg("2", "INBOX", 2))

	full, err := r.FetchRange(ctx, "INBOX", "")
	require.NoError(t, err)
	assert.True(t, full.Complete)
	assert.Len(t, full.Messages, 2)

	r.Put(Msg("3", "INBOX", 3))
	inc, err := r.FetchRange(ctx, "INBOX", full.Cursor)
	require.NoError(t, err)
	assert.False(t, inc.Complete)
	require.Len(t, inc.Messages, 1)
	assert.Equal(t, "3", inc.Messages[0].ID)

	again, err := r.FetchRange(ctx, "INBOX", inc.Cursor)
	require.NoError(t, err)
	assert.Empty(t, again.Messages)
	assert.Equal(t, inc.Cursor, again.Cursor)
}

func TestRemote_ErrorsAndCalls(t *testing.T) {
	ctx := context.Background()
	r := New()
	r.Put(Msg("1", "INBOX", 1))

	boom := errors.New("boom")
	r.SetError(OpSetFlag, boom)
	assert.ErrorIs(t, r.SetFlag(ctx, "1", mailbox.FlagRead, true), boom)
	r.SetError(OpSetFlag, nil)
	assert.NoError(t, r.SetFlag(ctx, "1", mailbox.FlagRead, true))
	assert.True(t, r.Message("1").Read)
	assert.Equal(t, 2, r.Calls(OpSetFlag))

	assert.ErrorIs(t, r.Delete(ctx, "missing"), mailbox.ErrNotFound)
	assert.ErrorIs(t, r.Move(ctx, "1", "Nowhere"), mailbox.ErrRemoteRejected)
}
