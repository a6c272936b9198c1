package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/analytics"
	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/mailbox/mailboxtest"
	"github.com/teemow/mailmirror/internal/query"
)

var testNow = mailboxtest.BaseTime.Add(48 * time.Hour)

func testConfig() Config {
	return Config{
		Query:            query.DefaultLimits(),
		AnalyticsEnabled: true,
		Analytics: analytics.Config{
			WindowDays:    30,
			SelfAddresses: []string{"me@example.com"},
			SentFolders:   []string{"Sent"},
		},
		FetchTimeout: time.Second,
		WaitBudget:   time.Second,
	}
}

func newEngine(t *testing.T, remote *mailboxtest.Remote, cfg Config) *Engine {
	t.Helper()
	e, err := New(remote, cfg)
	require.NoError(t, err)
	if e.analytics != nil {
		e.analytics.SetClock(func() time.Time { return testNow })
	}
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// assertConsistent compares the incremental aggregates with a replay of
// the current cache contents.
func assertConsistent(t *testing.T, e *Engine) {
	t.Helper()
	oracle := analytics.New(testConfig().Analytics, nil)
	oracle.SetClock(func() time.Time { return testNow })
	oracle.RecomputeFromScratch(e.store.Messages())

	assert.Equal(t, oracle.Report(10), e.analytics.Report(10))
	assert.Equal(t, oracle.Contacts(0), e.analytics.Contacts(0))
}

func seedRemote() *mailboxtest.Remote {
	remote := mailboxtest.New()
	remote.AddFolder("Archive", "Sent")
	sent := mailboxtest.Msg("s1", "Sent", 30)
	sent.From = mailbox.Address{Email: "me@example.com"}
	sent.To = []mailbox.Address{{Name: "Bob", Email: "bob@example.com"}}
	starred := mailboxtest.Msg("i2", "INBOX", 20)
	starred.Starred = true
	starred.Attachments = []mailbox.Attachment{{Filename: "x.pdf"}}
	remote.Put(mailboxtest.Msg("i1", "INBOX", 10), starred, mailboxtest.Msg("a1", "Archive", 5), sent)
	return remote
}

func TestEngine_SyncMutateStaysConsistent(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote()
	e := newEngine(t, remote, testConfig())

	require.NoError(t, e.Connect(ctx))
	_, err := e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)
	assertConsistent(t, e)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalMessages)
	assert.Equal(t, 1, stats.Starred)
	assert.Equal(t, 1, stats.WithAttachments)

	_, err = e.SetRead(ctx, "i1", true)
	require.NoError(t, err)
	_, err = e.Move(ctx, "i2", "Archive")
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, "a1"))
	assertConsistent(t, e)

	remote.Put(mailboxtest.Msg("i3", "INBOX", 40))
	remote.Drop("s1")
	_, err = e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)
	assertConsistent(t, e)

	remote.SetError(mailboxtest.OpSetFlag, mailbox.E(mailbox.KindRemoteRejected, "set flag", "i3", nil))
	_, err = e.SetStarred(ctx, "i3", true)
	require.Error(t, err)
	assertConsistent(t, e)

	stats, err = e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 1, stats.Starred, "rejected star is rolled back")
}

func TestEngine_FolderRemovalWaitsForPendingMutation(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote()
	e := newEngine(t, remote, testConfig())

	require.NoError(t, e.Connect(ctx))
	_, err := e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)

	// The folder vanishes on the server while the flag change is in flight.
	remote.SetHook(mailboxtest.OpSetFlag, func(ctx context.Context) error {
		remote.RemoveFolder("Archive")
		folders, err := e.SyncFolders(ctx)
		if err != nil {
			return err
		}
		for _, f := range folders {
			if f.ID == "Archive" {
				return errors.New("removed folder still listed")
			}
		}
		return nil
	})
	_, err = e.SetRead(ctx, "a1", true)
	assert.Equal(t, mailbox.KindNotFound, mailbox.KindOf(err))
	remote.SetHook(mailboxtest.OpSetFlag, nil)

	msg, ok := e.store.GetMessage("a1")
	require.True(t, ok, "pinned message survives the folder removal")
	assert.False(t, msg.Read, "rejected mutation is rolled back")
	assertConsistent(t, e)

	_, err = e.SyncFolders(ctx)
	require.NoError(t, err)
	_, ok = e.store.GetMessage("a1")
	assert.False(t, ok)
	_, ok = e.store.Folder("Archive")
	assert.False(t, ok)
	assertConsistent(t, e)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMessages)
}

func TestEngine_EvictionsReachAnalytics(t *testing.T) {
	ctx := context.Background()
	remote := mailboxtest.New()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		remote.Put(mailboxtest.Msg(id, "INBOX", len(id)))
	}
	cfg := testConfig()
	cfg.Cache = cache.Limits{MaxMessages: 3}
	e := newEngine(t, remote, cfg)

	require.NoError(t, e.Connect(ctx))
	_, err := e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)

	assert.Equal(t, 3, e.store.Len())
	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMessages)
	assertConsistent(t, e)
}

func TestEngine_ClearCacheRecomputes(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, seedRemote(), testConfig())
	require.NoError(t, e.Connect(ctx))
	_, err := e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)

	assert.Equal(t, 4, e.ClearCache(ctx))
	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
	assert.Len(t, e.ListFolders(), 3, "folders survive a clear")

	_, err = e.SyncAll(ctx, mailbox.SyncIncremental)
	require.NoError(t, err)
	stats, err = e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalMessages)
	assertConsistent(t, e)
}

func TestEngine_GetMessageHydrates(t *testing.T) {
	ctx := context.Background()
	remote := mailboxtest.New()
	m := mailboxtest.Msg("1", "INBOX", 1)
	m.Body = &mailbox.Body{Text: "body"}
	remote.Put(m)
	e := newEngine(t, remote, testConfig())

	_, _, err := e.GetMessage(ctx, "")
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))

	require.NoError(t, e.Connect(ctx))
	_, err = e.SyncFolder(ctx, "INBOX", mailbox.SyncFull)
	require.NoError(t, err)

	got, hydrated, err := e.GetMessage(ctx, "1")
	require.NoError(t, err)
	assert.True(t, hydrated)
	assert.Equal(t, "body", got.Body.Text)

	page, err := e.ListMessages("INBOX", query.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, query.DefaultLimit, page.Limit)
}

func TestEngine_DisconnectedReadsServeCache(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote()
	e := newEngine(t, remote, testConfig())
	require.NoError(t, e.Connect(ctx))
	_, err := e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)

	require.NoError(t, e.Disconnect())
	_, err = e.SyncAll(ctx, mailbox.SyncIncremental)
	assert.True(t, errors.Is(err, mailbox.ErrRemoteUnavailable))

	page, err := e.ListMessages("INBOX", query.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	res, err := e.Search(query.Filter{Starred: ptr(true)}, query.Page{}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	msg, hydrated, err := e.GetMessage(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, hydrated)
	assert.Nil(t, msg.Body)

	_, err = e.SetRead(ctx, "i1", true)
	assert.Equal(t, mailbox.KindRemoteUnavailable, mailbox.KindOf(err))

	st := e.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, 4, st.CachedMessages)
	assert.Empty(t, st.Pending)
	assert.Len(t, st.Folders, 3)
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "cache.db")

	e, err := New(seedRemote(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(ctx))
	require.NoError(t, e.Connect(ctx))
	_, err = e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)
	cursor := e.store.Cursor("INBOX")
	require.NoError(t, e.Close(ctx))

	restored := newEngine(t, mailboxtest.New(), cfg)
	assert.Equal(t, 4, restored.store.Len())
	assert.Equal(t, cursor, restored.store.Cursor("INBOX"))
	stats, err := restored.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalMessages)
}

func TestEngine_SnapshotSkipsUnconfirmedMutations(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "cache.db")

	remote := seedRemote()
	e := newEngine(t, remote, cfg)
	require.NoError(t, e.Connect(ctx))
	_, err := e.SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)

	midFlight := cache.New(cache.Limits{})
	remote.SetHook(mailboxtest.OpSetFlag, func(context.Context) error {
		if err := e.Persist(ctx); err != nil {
			return err
		}
		return e.snapshot.Load(ctx, midFlight)
	})
	msg, err := e.SetRead(ctx, "i1", true)
	require.NoError(t, err)
	assert.True(t, msg.Read)

	saved, ok := midFlight.GetMessage("i1")
	require.True(t, ok)
	assert.False(t, saved.Read, "snapshot taken mid-flight holds the confirmed state")
	assert.Equal(t, 4, midFlight.Len())

	remote.SetHook(mailboxtest.OpSetFlag, nil)
	require.NoError(t, e.Persist(ctx))
	confirmed := cache.New(cache.Limits{})
	require.NoError(t, e.snapshot.Load(ctx, confirmed))
	saved, ok = confirmed.GetMessage("i1")
	require.True(t, ok)
	assert.True(t, saved.Read)
}

func TestEngine_AnalyticsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AnalyticsEnabled = false
	e := newEngine(t, mailboxtest.New(), cfg)

	_, err := e.Stats()
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
	_, err = e.Report(5)
	assert.Error(t, err)
	_, err = e.Trends(7)
	assert.Error(t, err)
	_, err = e.Contacts(5)
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
