package reconcile

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

type fixture struct {
	remote  *mailboxtest.Remote
	store   *cache.Store
	rec     *Reconciler
	mu      sync.Mutex
	changes []cache.Change
	lost    []error
}

func newFixture(t *testing.T, opts Options, msgs ...*mailbox.Message) *fixture {
	t.Helper()
	f := &fixture{remote: mailboxtest.New(), store: cache.New(cache.Limits{})}
	f.remote.Put(msgs...)
	f.store.Apply(cache.Batch{Upserts: msgs})

	opts.OnChange = func(_ context.Context, ch cache.Change) {
		f.mu.Lock()
		f.changes = append(f.changes, ch)
		f.mu.Unlock()
	}
	opts.OnUnavailable = func(err error) {
		f.mu.Lock()
		f.lost = append(f.lost, err)
		f.mu.Unlock()
	}
	f.rec = New(f.remote, f.store, opts)
	return f
}

func (f *fixture) changeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes)
}

func TestSetRead_Confirmed(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))

	m, err := f.rec.SetRead(context.Background(), "1", true)
	require.NoError(t, err)
	assert.True(t, m.Read)
	assert.True(t, f.remote.Message("1").Read)

	cached, _ := f.store.GetMessage("1")
	assert.True(t, cached.Read)
	folder, _ := f.store.Folder("INBOX")
	assert.Equal(t, 0, folder.Unread)

	require.Equal(t, 1, f.changeCount())
	up := f.changes[0].Updated
	require.Len(t, up, 1)
	assert.False(t, up[0].Before.Read)
	assert.True(t, up[0].After.Read)

	assert.Empty(t, f.rec.Pending())
	assert.False(t, f.store.Pinned("1"))
}

func TestSetStarred_NoopStillCallsRemote(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))

	_, err := f.rec.SetStarred(context.Background(), "1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.Calls(mailboxtest.OpSetFlag))
}

func TestMutation_PendingWhileInFlight(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))

	f.remote.SetHook(mailboxtest.OpSetFlag, func(context.Context) error {
		pending := f.rec.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, mailbox.MutationSetStarred, pending[0].Kind)
		assert.Equal(t, "1", pending[0].MessageID)
		assert.NotEmpty(t, pending[0].ID)
		assert.True(t, f.store.Pinned("1"))

		cached, _ := f.store.GetMessage("1")
		assert.True(t, cached.Starred, "optimistic state is visible")
		return nil
	})

	_, err := f.rec.SetStarred(context.Background(), "1", true)
	require.NoError(t, err)
}

func TestMove_RollbackOnRejection(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1), mailboxtest.Msg("2", "Archive", 2))
	f.remote.SetError(mailboxtest.OpMove, mailbox.E(mailbox.KindRemoteRejected, "move", "1", nil))

	_, err := f.rec.Move(context.Background(), "1", "Archive")
	require.Error(t, err)
	assert.Equal(t, mailbox.KindRemoteRejected, mailbox.KindOf(err))

	cached, _ := f.store.GetMessage("1")
	assert.Equal(t, "INBOX", cached.FolderID)
	inbox, _ := f.store.Folder("INBOX")
	archive, _ := f.store.Folder("Archive")
	assert.Equal(t, 1, inbox.Total)
	assert.Equal(t, 1, archive.Total)
	assert.Zero(t, f.changeCount())
	assert.Empty(t, f.lost, "a rejection is not a lost session")
}

func TestMove_TimeoutRestoresFolder(t *testing.T) {
	f := newFixture(t, Options{RemoteTimeout: 20 * time.Millisecond},
		mailboxtest.Msg("5", "INBOX", 1), mailboxtest.Msg("6", "Archive", 1))
	f.remote.SetHook(mailboxtest.OpMove, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := f.rec.Move(context.Background(), "5", "Archive")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mailbox.ErrRemoteUnavailable))

	cached, _ := f.store.GetMessage("5")
	assert.Equal(t, "INBOX", cached.FolderID)
	assert.Len(t, f.lost, 1)
	assert.Empty(t, f.rec.Pending())
	assert.False(t, f.store.Pinned("5"))
}

func TestMove_UnknownFolderTriggersSync(t *testing.T) {
	var synced []string
	var store *cache.Store
	f := newFixture(t, Options{
		EnsureFolder: func(_ context.Context, folder string) error {
			synced = append(synced, folder)
			if folder == "Projects" {
				store.UpsertFolder(mailbox.Folder{ID: folder})
				return nil
			}
			return mailbox.E(mailbox.KindRemoteRejected, "sync", folder, nil)
		},
	}, mailboxtest.Msg("1", "INBOX", 1))
	store = f.store
	f.remote.AddFolder("Projects")

	m, err := f.rec.Move(context.Background(), "1", "Projects")
	require.NoError(t, err)
	assert.Equal(t, "Projects", m.FolderID)
	assert.Equal(t, "Projects", f.remote.Message("1").FolderID)

	_, err = f.rec.Move(context.Background(), "1", "Nowhere")
	assert.Equal(t, mailbox.KindRemoteRejected, mailbox.KindOf(err))
	assert.Equal(t, []string{"Projects", "Nowhere"}, synced)
	assert.Equal(t, 1, f.remote.Calls(mailboxtest.OpMove))
}

func TestMove_SameFolderIsNoop(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))

	m, err := f.rec.Move(context.Background(), "1", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "INBOX", m.FolderID)
	assert.Zero(t, f.remote.Calls(mailboxtest.OpMove))

	_, err = f.rec.Move(context.Background(), "1", "")
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
}

func TestMutation_NotFoundMakesNoRemoteCall(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.rec.SetRead(context.Background(), "missing", true)
	assert.True(t, errors.Is(err, mailbox.ErrNotFound))
	err = f.rec.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, mailbox.ErrNotFound))
	assert.Zero(t, f.remote.Calls(mailboxtest.OpSetFlag))
	assert.Zero(t, f.remote.Calls(mailboxtest.OpDelete))

	_, err = f.rec.SetRead(context.Background(), "", true)
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
}

func TestDelete_Tombstone(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))

	require.NoError(t, f.rec.Delete(context.Background(), "1"))
	_, ok := f.store.GetMessage("1")
	assert.False(t, ok)
	assert.Nil(t, f.remote.Message("1"))
	require.Equal(t, 1, f.changeCount())
	assert.Len(t, f.changes[0].Removed, 1)

	require.NoError(t, f.rec.Delete(context.Background(), "1"), "repeated delete succeeds")
	assert.Equal(t, 1, f.remote.Calls(mailboxtest.OpDelete))
	assert.Equal(t, 1, f.changeCount())
}

func TestDelete_RemoteNotFoundIsSatisfied(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))
	f.remote.Drop("1")

	require.NoError(t, f.rec.Delete(context.Background(), "1"))
	_, ok := f.store.GetMessage("1")
	assert.False(t, ok)
}

func TestDelete_RollbackRestoresMessage(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))
	f.remote.SetError(mailboxtest.OpDelete, errors.New("broken pipe"))

	err := f.rec.Delete(context.Background(), "1")
	assert.Equal(t, mailbox.KindRemoteUnavailable, mailbox.KindOf(err))
	_, ok := f.store.GetMessage("1")
	assert.True(t, ok)
	folder, _ := f.store.Folder("INBOX")
	assert.Equal(t, 1, folder.Total)
}

func TestMutation_ConflictAfterWaitBudget(t *testing.T) {
	f := newFixture(t, Options{WaitBudget: 20 * time.Millisecond}, mailboxtest.Msg("1", "INBOX", 1))

	started := make(chan struct{})
	release := make(chan struct{})
	f.remote.SetHook(mailboxtest.OpSetFlag, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.rec.SetRead(context.Background(), "1", true)
		done <- err
	}()
	<-started

	_, err := f.rec.Move(context.Background(), "1", "Archive")
	assert.Equal(t, mailbox.KindConflict, mailbox.KindOf(err))

	close(release)
	require.NoError(t, <-done)
}

func TestMutation_NoLostUpdate(t *testing.T) {
	f := newFixture(t, Options{}, mailboxtest.Msg("1", "INBOX", 1))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(read bool) {
			defer wg.Done()
			_, err := f.rec.SetRead(context.Background(), "1", read)
			assert.NoError(t, err)
		}(i%2 == 0)
	}
	wg.Wait()

	cached, _ := f.store.GetMessage("1")
	assert.Equal(t, f.remote.Message("1").Read, cached.Read)
	assert.Equal(t, 20, f.changeCount())
}

func TestMutation_DisconnectedLeavesCache(t *testing.T) {
	f := newFixture(t, Options{Connected: func() bool { return false }}, mailboxtest.Msg("1", "INBOX", 1))

	_, err := f.rec.SetRead(context.Background(), "1", true)
	assert.Equal(t, mailbox.KindRemoteUnavailable, mailbox.KindOf(err))
	cached, _ := f.store.GetMessage("1")
	assert.False(t, cached.Read)
	assert.Zero(t, f.remote.Calls(mailboxtest.OpSetFlag))
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Empty(t, k.locks)
}
