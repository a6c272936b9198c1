package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
)

const (
	// DefaultWaitBudget bounds how long a mutation waits for another one on
	// the same message.
	DefaultWaitBudget = 10 * time.Second
	// DefaultRemoteTimeout bounds the remote call of a mutation.
	DefaultRemoteTimeout = 30 * time.Second

	tombstoneTTL = 24 * time.Hour
	maxTombstone = 10000
)

// Options configures a Reconciler.
type Options struct {
	WaitBudget    time.Duration
	RemoteTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *instrumentation.Metrics

	// Connected gates remote calls; nil means always connected.
	Connected func() bool
	// EnsureFolder makes a folder known to the cache before a move into it.
	EnsureFolder func(ctx context.Context, folder string) error
	// OnUnavailable is told about remote failures of kind RemoteUnavailable.
	OnUnavailable func(err error)
	// OnChange receives confirmed mutations as cache changes.
	OnChange func(ctx context.Context, change cache.Change)
}

// Reconciler runs the optimistic mutation protocol.
type Reconciler struct {
	remote mailbox.RemoteClient
	store  *cache.Store
	opts   Options
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time

	mu         sync.Mutex
	pending    map[string]*mailbox.PendingMutation
	tombstones map[string]time.Time
}

// New creates a Reconciler.
func New(remote mailbox.RemoteClient, store *cache.Store, opts Options) *Reconciler {
	if opts.WaitBudget <= 0 {
		opts.WaitBudget = DefaultWaitBudget
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{
		remote:     remote,
		store:      store,
		opts:       opts,
		logger:     logging.WithComponent(opts.Logger, "reconcile"),
		locks:      newKeyedMutex(),
		now:        time.Now,
		pending:    make(map[string]*mailbox.PendingMutation),
		tombstones: make(map[string]time.Time),
	}
}

// SetRead sets or clears the read flag of a message.
func (r *Reconciler) SetRead(ctx context.Context, id string, read bool) (*mailbox.Message, error) {
	return r.setFlag(ctx, mailbox.MutationSetRead, mailbox.FlagRead, id, read)
}

// SetStarred sets or clears the starred flag of a message.
func (r *Reconciler) SetStarred(ctx context.Context, id string, starred bool) (*mailbox.Message, error) {
	return r.setFlag(ctx, mailbox.MutationSetStarred, mailbox.FlagStarred, id, starred)
}

func (r *Reconciler) setFlag(ctx context.Context, kind mailbox.MutationKind, flag mailbox.Flag, id string, value bool) (*mailbox.Message, error) {
	return r.run(ctx, &mailbox.PendingMutation{Kind: kind, MessageID: id, Value: value},
		func(m *mailbox.Message) {
			if flag == mailbox.FlagRead {
				m.Read = value
			} else {
				m.Starred = value
			}
		},
		func(ctx context.Context) error { return r.remote.SetFlag(ctx, id, flag, value) },
	)
}

// Move moves a message to folder. Moving into the current folder succeeds
// without a remote call.
func (r *Reconciler) Move(ctx context.Context, id, folder string) (*mailbox.Message, error) {
	if folder == "" {
		r.opts.Metrics.RecordMutation(ctx, string(mailbox.MutationMove), instrumentation.OutcomeRejected)
		return nil, mailbox.Errorf(mailbox.KindInvalidInput, "move", id, "destination folder is required")
	}
	return r.run(ctx, &mailbox.PendingMutation{Kind: mailbox.MutationMove, MessageID: id, Folder: folder},
		func(m *mailbox.Message) { m.FolderID = folder },
		func(ctx context.Context) error { return r.remote.Move(ctx, id, folder) },
	)
}

// Delete removes a message. Deleting an id this engine already deleted, or
// one the remote no longer has, succeeds.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	_, err := r.run(ctx, &mailbox.PendingMutation{Kind: mailbox.MutationDelete, MessageID: id},
		nil,
		func(ctx context.Context) error { return r.remote.Delete(ctx, id) },
	)
	return err
}

// Pending returns the outstanding mutations, oldest first.
func (r *Reconciler) Pending() []mailbox.PendingMutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mailbox.PendingMutation, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// run executes the protocol for p. A nil mutate means delete.
func (r *Reconciler) run(ctx context.Context, p *mailbox.PendingMutation, mutate func(*mailbox.Message), call func(context.Context) error) (*mailbox.Message, error) {
	op := string(p.Kind)
	id := p.MessageID
	if id == "" {
		r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeRejected)
		return nil, mailbox.Errorf(mailbox.KindInvalidInput, op, "", "message id is required")
	}

	wctx, cancel := context.WithTimeout(ctx, r.opts.WaitBudget)
	unlock, err := r.locks.lock(wctx, id)
	cancel()
	if err != nil {
		r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeRejected)
		return nil, mailbox.Errorf(mailbox.KindConflict, op, id, "another mutation is in progress: %v", err)
	}
	defer unlock()

	before, ok := r.store.GetMessage(id)
	if !ok {
		if mutate == nil && r.tombstoned(id) {
			r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeIdempotent)
			return nil, nil
		}
		r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeRejected)
		return nil, mailbox.E(mailbox.KindNotFound, op, id, nil)
	}

	if p.Kind == mailbox.MutationMove {
		if before.FolderID == p.Folder {
			r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeIdempotent)
			return before, nil
		}
		if err := r.ensureFolder(ctx, p.Folder); err != nil {
			r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeRejected)
			return nil, err
		}
	}

	if r.opts.Connected != nil && !r.opts.Connected() {
		r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeRejected)
		return nil, mailbox.Errorf(mailbox.KindRemoteUnavailable, op, id, "not connected")
	}

	p.ID = uuid.NewString()
	p.Before = before
	p.CreatedAt = r.now()
	r.begin(p)
	defer r.finish(p)

	// Optimistic local apply.
	var after *mailbox.Message
	if mutate != nil {
		after = before.Clone()
		mutate(after)
		r.store.Apply(cache.Batch{Upserts: []*mailbox.Message{after}})
	} else {
		r.store.Apply(cache.Batch{Removes: []string{id}})
	}

	cctx, cancel := context.WithTimeout(ctx, r.opts.RemoteTimeout)
	err = call(cctx)
	cancel()
	err = mailbox.AsRemote(op, id, err)

	if mutate == nil && mailbox.KindOf(err) == mailbox.KindNotFound {
		r.logger.Debug("message already gone on remote", logging.MessageID(id))
		err = nil
	}
	if err != nil {
		r.rollback(ctx, p)
		if mailbox.KindOf(err) == mailbox.KindRemoteUnavailable && r.opts.OnUnavailable != nil {
			r.opts.OnUnavailable(err)
		}
		r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeRolledBack)
		r.logger.Warn("mutation rolled back", logging.Operation(op), logging.MessageID(id), logging.Err(err))
		return nil, err
	}

	r.confirm(ctx, p)
	r.opts.Metrics.RecordMutation(ctx, op, instrumentation.OutcomeConfirmed)
	r.logger.Debug("mutation confirmed", logging.Operation(op), logging.MessageID(id))
	if mutate == nil {
		return nil, nil
	}
	if cur, ok := r.store.GetMessage(id); ok {
		return cur, nil
	}
	return after, nil
}

func (r *Reconciler) ensureFolder(ctx context.Context, folder string) error {
	if _, ok := r.store.Folder(folder); ok {
		return nil
	}
	if r.opts.EnsureFolder == nil {
		return mailbox.Errorf(mailbox.KindNotFound, "move", folder, "unknown folder")
	}
	if err := r.opts.EnsureFolder(ctx, folder); err != nil {
		return err
	}
	if _, ok := r.store.Folder(folder); !ok {
		return mailbox.Errorf(mailbox.KindNotFound, "move", folder, "unknown folder")
	}
	return nil
}

func (r *Reconciler) begin(p *mailbox.PendingMutation) {
	r.store.Pin(p.MessageID)
	r.mu.Lock()
	r.pending[p.ID] = p
	r.mu.Unlock()
}

func (r *Reconciler) finish(p *mailbox.PendingMutation) {
	r.mu.Lock()
	delete(r.pending, p.ID)
	r.mu.Unlock()
	r.store.Unpin(p.MessageID)
}

// rollback restores the snapshot taken before the optimistic apply. A
// message that left the cache meanwhile (cleared) is not brought back,
// except for deletes, whose optimistic apply is the removal itself.
func (r *Reconciler) rollback(_ context.Context, p *mailbox.PendingMutation) {
	if p.Kind == mailbox.MutationDelete {
		r.store.Apply(cache.Batch{Upserts: []*mailbox.Message{p.Before}})
		return
	}
	if _, ok := r.store.GetMessage(p.MessageID); ok {
		r.store.Apply(cache.Batch{Upserts: []*mailbox.Message{p.Before}})
	}
}

// confirm reports the net effect of a confirmed mutation.
func (r *Reconciler) confirm(ctx context.Context, p *mailbox.PendingMutation) {
	var change cache.Change
	if p.Kind == mailbox.MutationDelete {
		r.tombstone(p.MessageID)
		change.Removed = []*mailbox.Message{p.Before}
	} else {
		cur, ok := r.store.GetMessage(p.MessageID)
		if !ok {
			return
		}
		change.Updated = []cache.Update{{Before: p.Before, After: cur}}
	}
	if r.opts.OnChange != nil {
		r.opts.OnChange(ctx, change)
	}
}

func (r *Reconciler) tombstone(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if len(r.tombstones) >= maxTombstone {
		for k, at := range r.tombstones {
			if now.Sub(at) > tombstoneTTL {
				delete(r.tombstones, k)
			}
		}
		// Still full: drop an arbitrary entry.
		for k := range r.tombstones {
			if len(r.tombstones) < maxTombstone {
				break
			}
			delete(r.tombstones, k)
		}
	}
	r.tombstones[id] = now
}

func (r *Reconciler) tombstoned(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.tombstones[id]
	return ok && r.now().Sub(at) <= tombstoneTTL
}
