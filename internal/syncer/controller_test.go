package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/mailbox/mailboxtest"
)

type recorder struct {
	mu      sync.Mutex
	changes []cache.Change
}

func (r *recorder) record(_ context.Context, ch cache.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ch)
}

func (r *recorder) counts() (added, updated, removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.changes {
		added += len(ch.Added)
		updated += len(ch.Updated)
		removed += len(ch.Removed)
	}
	return
}

func newConnected(t *testing.T, remote *mailboxtest.Remote) (*Controller, *cache.Store, *recorder) {
	t.Helper()
	store := cache.New(cache.Limits{})
	rec := &recorder{}
	ctrl := New(remote, store, Options{FetchTimeout: time.Second, OnChange: rec.record})
	require.NoError(t, ctrl.Connect(context.Background()))
	return ctrl, store, rec
}

func cachedIDs(store *cache.Store, folder string) []string {
	msgs, _ := store.ListFolder(folder, 0, 0)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestSyncFolder_FullRemovesMissing(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("2", "INBOX", 2), mailboxtest.Msg("3", "INBOX", 3), mailboxtest.Msg("4", "INBOX", 4))
	ctrl, store, rec := newConnected(t, remote)

	store.Apply(cache.Batch{Upserts: []*mailbox.Message{
		mailboxtest.Msg("1", "INBOX", 1),
		mailboxtest.Msg("2", "INBOX", 2),
		mailboxtest.Msg("3", "INBOX", 3),
	}})

	res, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"2", "3", "4"}, cachedIDs(store, "INBOX"))
	f, ok := store.Folder("INBOX")
	require.True(t, ok)
	assert.Equal(t, 3, f.Total)
	assert.Equal(t, StateSynced, res.State)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Removed)

	added, _, removed := rec.counts()
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
}

func TestSyncFolder_Idempotent(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1), mailboxtest.Msg("b", "INBOX", 2))
	ctrl, store, _ := newConnected(t, remote)

	first, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)
	before := store.Messages()

	for _, mode := range []mailbox.SyncMode{mailbox.SyncIncremental, mailbox.SyncFull} {
		res, err := ctrl.SyncFolder(context.Background(), "INBOX", mode)
		require.NoError(t, err)
		assert.Equal(t, first.Cursor, res.Cursor, mode)
		assert.Zero(t, res.Added+res.Updated+res.Removed, mode)
	}
	assert.Equal(t, before, store.Messages())
}

func TestSyncFolder_IncrementalFetchesNewer(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1))
	ctrl, store, _ := newConnected(t, remote)

	_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncIncremental)
	require.NoError(t, err)

	remote.Put(mailboxtest.Msg("b", "INBOX", 2))
	remote.Drop("a")

	res, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncIncremental)
	require.NoError(t, err)
	assert.Equal(t, mailbox.SyncIncremental, res.Mode)
	assert.Equal(t, 1, res.Added)
	assert.Zero(t, res.Removed, "incremental sync never removes")
	assert.ElementsMatch(t, []string{"a", "b"}, cachedIDs(store, "INBOX"))

	res, err = ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, []string{"b"}, cachedIDs(store, "INBOX"))
}

func TestSyncFolder_UpdatesFlags(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1))
	ctrl, store, rec := newConnected(t, remote)
	_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)

	m := mailboxtest.Msg("a", "INBOX", 1)
	m.Read = true
	remote.Put(m)

	res, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	got, ok := store.GetMessage("a")
	require.True(t, ok)
	assert.True(t, got.Read)
	f, _ := store.Folder("INBOX")
	assert.Equal(t, 0, f.Unread)

	_, updated, _ := rec.counts()
	assert.Equal(t, 1, updated)
}

func TestSyncFolder_RemoteFailureLeavesCache(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      mailbox.Kind
		wantConnected bool
	}{
		{
			name:          "unavailable disconnects",
			err:           errors.New("connection reset"),
			wantKind:      mailbox.KindRemoteUnavailable,
			wantConnected: false,
		},
		{
			name:          "rejected keeps session",
			err:           mailbox.E(mailbox.KindRemoteRejected, "fetch", "INBOX", nil),
			wantKind:      mailbox.KindRemoteRejected,
			wantConnected: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := mailboxtest.New()
			remote.Put(mailboxtest.Msg("a", "INBOX", 1))
			ctrl, store, _ := newConnected(t, remote)
			first, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
			require.NoError(t, err)

			remote.Put(mailboxtest.Msg("b", "INBOX", 2))
			remote.SetError(mailboxtest.OpFetchRange, tt.err)

			res, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncIncremental)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, mailbox.KindOf(err))
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.wantConnected, ctrl.Connected())
			assert.Equal(t, []string{"a"}, cachedIDs(store, "INBOX"))
			assert.Equal(t, first.Cursor, store.Cursor("INBOX"))

			st := ctrl.Status()
			require.Len(t, st.Folders, 1)
			assert.Equal(t, StateFailed, st.Folders[0].State)
			assert.NotEmpty(t, st.Folders[0].LastError)
		})
	}
}

func TestSyncFolder_DisconnectedFailsFast(t *testing.T) {
	remote := mailboxtest.New()
	ctrl := New(remote, cache.New(cache.Limits{}), Options{})

	_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mailbox.ErrRemoteUnavailable))
	assert.Zero(t, remote.Calls(mailboxtest.OpFetchRange))

	_, err = ctrl.SyncAll(context.Background(), mailbox.SyncFull)
	assert.True(t, errors.Is(err, mailbox.ErrRemoteUnavailable))
	assert.Zero(t, remote.Calls(mailboxtest.OpListFolders))
}

func TestSyncFolder_InvalidInput(t *testing.T) {
	ctrl, _, _ := newConnected(t, mailboxtest.New())

	_, err := ctrl.SyncFolder(context.Background(), "", mailbox.SyncFull)
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))

	_, err = ctrl.SyncFolder(context.Background(), "INBOX", "partial")
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
}

func TestSyncFolder_CoalescesConcurrentRequests(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1))
	ctrl, _, _ := newConnected(t, remote)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	remote.SetHook(mailboxtest.OpFetchRange, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 1, remote.Calls(mailboxtest.OpFetchRange))
}

func TestSyncFolder_WaiterStopsOnOwnContext(t *testing.T) {
	remote := mailboxtest.New()
	ctrl, _, _ := newConnected(t, remote)

	started := make(chan struct{})
	release := make(chan struct{})
	remote.SetHook(mailboxtest.OpFetchRange, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ctrl.SyncFolder(ctx, "INBOX", mailbox.SyncFull)
	assert.True(t, errors.Is(err, context.Canceled))

	close(release)
	assert.NoError(t, <-done)
}

func TestSyncFolder_StarterCancelDoesNotFailSharedSync(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1))
	ctrl, store, _ := newConnected(t, remote)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	remote.SetHook(mailboxtest.OpFetchRange, func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	// A tool call with a short deadline starts the sync.
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := ctrl.SyncFolder(ctx, "INBOX", mailbox.SyncFull)
		first <- err
	}()
	<-started

	// The scheduler joins the same sync.
	second := make(chan Result, 1)
	secondErr := make(chan error, 1)
	go func() {
		res, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
		second <- res
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-first
	require.Error(t, err)
	assert.Equal(t, mailbox.KindRemoteUnavailable, mailbox.KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))

	close(release)
	require.NoError(t, <-secondErr)
	res := <-second
	assert.Equal(t, StateSynced, res.State)
	assert.Equal(t, 1, res.Added)

	assert.Equal(t, StateSynced, ctrl.state("INBOX"))
	assert.Equal(t, []string{"a"}, cachedIDs(store, "INBOX"))
	assert.NotEmpty(t, store.Cursor("INBOX"))
	assert.True(t, ctrl.Connected(), "a caller giving up is not a lost session")
	assert.Equal(t, 1, remote.Calls(mailboxtest.OpFetchRange))
}

func TestSyncFolder_SkipsPinned(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1))
	ctrl, store, _ := newConnected(t, remote)
	_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)

	local, _ := store.GetMessage("a")
	local.Read = true
	store.UpsertMessage(local)
	store.Pin("a")
	remote.Drop("a")

	_, err = ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)
	got, ok := store.GetMessage("a")
	require.True(t, ok, "pinned message survives a full sync")
	assert.True(t, got.Read)

	store.Unpin("a")
	_, err = ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)
	_, ok = store.GetMessage("a")
	assert.False(t, ok)
}

func TestSyncAll_RemovesVanishedFolders(t *testing.T) {
	remote := mailboxtest.New()
	remote.AddFolder("Archive", "Old")
	remote.Put(mailboxtest.Msg("a", "INBOX", 1), mailboxtest.Msg("b", "Archive", 2), mailboxtest.Msg("c", "Old", 3))
	ctrl, store, _ := newConnected(t, remote)

	results, err := ctrl.SyncAll(context.Background(), mailbox.SyncFull)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, store.Len())

	remote.RemoveFolder("Old")
	results, err = ctrl.SyncAll(context.Background(), mailbox.SyncIncremental)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	_, ok := store.Folder("Old")
	assert.False(t, ok)
	_, ok = store.GetMessage("c")
	assert.False(t, ok)

	var folders []string
	for _, fs := range ctrl.Status().Folders {
		folders = append(folders, fs.Folder)
	}
	assert.Equal(t, []string{"Archive", "INBOX"}, folders)
}

func TestSyncAll_JoinsFolderErrors(t *testing.T) {
	remote := mailboxtest.New()
	remote.AddFolder("Archive")
	ctrl, _, _ := newConnected(t, remote)
	remote.SetError(mailboxtest.OpFetchRange, mailbox.E(mailbox.KindRemoteRejected, "fetch", "", nil))

	results, err := ctrl.SyncAll(context.Background(), mailbox.SyncFull)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mailbox.ErrRemoteRejected))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StateFailed, r.State)
	}
}

func TestHydrate(t *testing.T) {
	remote := mailboxtest.New()
	full := mailboxtest.Msg("a", "INBOX", 1)
	full.Body = &mailbox.Body{Text: "hello"}
	full.Attachments = []mailbox.Attachment{{Filename: "a.pdf", ContentType: "application/pdf", Size: 10}}
	remote.Put(full)
	ctrl, store, _ := newConnected(t, remote)
	_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)

	m, hydrated, err := ctrl.Hydrate(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, hydrated)
	require.NotNil(t, m.Body)
	assert.Equal(t, "hello", m.Body.Text)
	assert.Len(t, m.Attachments, 1)

	cached, _ := store.GetMessage("a")
	require.NotNil(t, cached.Body, "body is kept in the cache")

	_, hydrated, err = ctrl.Hydrate(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, hydrated)
	assert.Equal(t, 1, remote.Calls(mailboxtest.OpFetchByID))

	_, _, err = ctrl.Hydrate(context.Background(), "missing")
	assert.True(t, errors.Is(err, mailbox.ErrNotFound))
}

func TestHydrate_FallsBackToCache(t *testing.T) {
	remote := mailboxtest.New()
	remote.Put(mailboxtest.Msg("a", "INBOX", 1))
	ctrl, _, _ := newConnected(t, remote)
	_, err := ctrl.SyncFolder(context.Background(), "INBOX", mailbox.SyncFull)
	require.NoError(t, err)

	remote.SetError(mailboxtest.OpFetchByID, errors.New("timeout"))
	m, hydrated, err := ctrl.Hydrate(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, hydrated)
	assert.Nil(t, m.Body)
	assert.False(t, ctrl.Connected())

	m, hydrated, err = ctrl.Hydrate(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, hydrated)
	assert.Equal(t, "a", m.ID)
	assert.Equal(t, 1, remote.Calls(mailboxtest.OpFetchByID), "disconnected hydrate does not call the remote")
}

func TestConnectDisconnect(t *testing.T) {
	remote := mailboxtest.New()
	remote.SetError(mailboxtest.OpConnect, errors.New("refused"))
	ctrl := New(remote, cache.New(cache.Limits{}), Options{})

	err := ctrl.Connect(context.Background())
	assert.Equal(t, mailbox.KindRemoteUnavailable, mailbox.KindOf(err))
	assert.False(t, ctrl.Connected())

	remote.SetError(mailboxtest.OpConnect, nil)
	require.NoError(t, ctrl.Connect(context.Background()))
	assert.True(t, ctrl.Connected())
	assert.Equal(t, StateUnsynced, ctrl.Status().Folders[0].State)

	require.NoError(t, ctrl.Disconnect())
	assert.False(t, ctrl.Status().Connected)
}
