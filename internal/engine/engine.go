package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/mailmirror/internal/analytics"
	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/query"
	"github.com/teemow/mailmirror/internal/reconcile"
	"github.com/teemow/mailmirror/internal/syncer"
)

// Config configures an Engine.
type Config struct {
	Cache            cache.Limits
	Query            query.Limits
	Analytics        analytics.Config
	AnalyticsEnabled bool

	FetchTimeout time.Duration
	WaitBudget   time.Duration

	// SnapshotPath enables SQLite persistence of the cache when set.
	SnapshotPath string

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Status is the engine-wide view used by the connection status tool.
type Status struct {
	Connected      bool                      `json:"connected"`
	Folders        []syncer.FolderStatus     `json:"folders"`
	Pending        []mailbox.PendingMutation `json:"pendingMutations"`
	CachedMessages int                       `json:"cachedMessages"`
}

// Engine is the mailbox cache and sync engine.
type Engine struct {
	store     *cache.Store
	ctrl      *syncer.Controller
	rec       *reconcile.Reconciler
	query     *query.Engine
	analytics *analytics.Aggregator
	snapshot  *cache.SQLiteSnapshot

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// New wires an engine around remote. Call Open before use and Close when
// done.
func New(remote mailbox.RemoteClient, cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		store:   cache.New(cfg.Cache),
		logger:  logging.WithComponent(cfg.Logger, "engine"),
		metrics: cfg.Metrics,
	}
	remote = instrument(remote, cfg.Metrics)

	if cfg.AnalyticsEnabled {
		e.analytics = analytics.New(cfg.Analytics, e.store.Messages)
	}
	e.store.OnEvict(e.evicted)

	e.ctrl = syncer.New(remote, e.store, syncer.Options{
		FetchTimeout: cfg.FetchTimeout,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
		OnChange:     e.changed,
	})
	e.rec = reconcile.New(remote, e.store, reconcile.Options{
		WaitBudget:    cfg.WaitBudget,
		RemoteTimeout: cfg.FetchTimeout,
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
		Connected:     e.ctrl.Connected,
		EnsureFolder: func(ctx context.Context, folder string) error {
			_, err := e.ctrl.SyncFolder(ctx, folder, mailbox.SyncIncremental)
			return err
		},
		OnUnavailable: e.ctrl.MarkUnavailable,
		OnChange:      e.changed,
	})
	e.query = query.New(e.store, cfg.Query)

	if cfg.SnapshotPath != "" {
		snap, err := cache.OpenSnapshot(cfg.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache snapshot: %w", err)
		}
		e.snapshot = snap
	}
	return e, nil
}

// Open loads the persisted snapshot, if any.
func (e *Engine) Open(ctx context.Context) error {
	if e.snapshot == nil {
		return nil
	}
	if err := e.snapshot.Load(ctx, e.store); err != nil {
		return fmt.Errorf("failed to load cache snapshot: %w", err)
	}
	msgs := e.store.Messages()
	if e.analytics != nil {
		e.analytics.RecomputeFromScratch(msgs)
	}
	e.metrics.AddCachedMessages(ctx, len(msgs))
	e.logger.Info("cache snapshot loaded", slog.Int("messages", len(msgs)), slog.Int("folders", len(e.store.Folders())))
	return nil
}

// Close saves the snapshot and disconnects.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.ctrl.Connected() {
		errs = append(errs, e.ctrl.Disconnect())
	}
	if e.snapshot != nil {
		errs = append(errs, e.Persist(ctx), e.snapshot.Close())
	}
	return errors.Join(errs...)
}

// Persist writes the cache to the snapshot when persistence is enabled.
func (e *Engine) Persist(ctx context.Context) error {
	if e.snapshot == nil {
		return nil
	}
	if err := e.snapshot.Save(ctx, e.store, e.rec.Pending()); err != nil {
		e.logger.Warn("failed to save cache snapshot", logging.Err(err))
		return err
	}
	return nil
}

// Connect opens the remote session and discovers folders.
func (e *Engine) Connect(ctx context.Context) error { return e.ctrl.Connect(ctx) }

// Disconnect closes the remote session.
func (e *Engine) Disconnect() error { return e.ctrl.Disconnect() }

// Connected reports the connection flag.
func (e *Engine) Connected() bool { return e.ctrl.Connected() }

// SyncFolder syncs one folder and persists the result.
func (e *Engine) SyncFolder(ctx context.Context, folder string, mode mailbox.SyncMode) (syncer.Result, error) {
	res, err := e.ctrl.SyncFolder(ctx, folder, mode)
	if err == nil {
		_ = e.Persist(ctx)
	}
	return res, err
}

// SyncAll syncs every folder and persists whatever succeeded.
func (e *Engine) SyncAll(ctx context.Context, mode mailbox.SyncMode) ([]syncer.Result, error) {
	results, err := e.ctrl.SyncAll(ctx, mode)
	if len(results) > 0 {
		_ = e.Persist(ctx)
	}
	return results, err
}

// SyncFolders refreshes the folder list.
func (e *Engine) SyncFolders(ctx context.Context) ([]mailbox.Folder, error) {
	return e.ctrl.SyncFolders(ctx)
}

// NewScheduler returns a background scheduler over this engine's
// controller that persists after every round.
func (e *Engine) NewScheduler(cfg syncer.SchedulerConfig) *syncer.Scheduler {
	next := cfg.OnRound
	cfg.OnRound = func(ctx context.Context, results []syncer.Result, err error) {
		if len(results) > 0 {
			_ = e.Persist(ctx)
		}
		if next != nil {
			next(ctx, results, err)
		}
	}
	return syncer.NewScheduler(e.ctrl, cfg)
}

// Status reports connection, per-folder sync state and pending mutations.
func (e *Engine) Status() Status {
	st := e.ctrl.Status()
	return Status{
		Connected:      st.Connected,
		Folders:        st.Folders,
		Pending:        e.rec.Pending(),
		CachedMessages: e.store.Len(),
	}
}

// ListMessages returns one page of a folder from the cache.
func (e *Engine) ListMessages(folder string, p query.Page) (query.Result[*mailbox.Message], error) {
	return e.query.ListMessages(folder, p)
}

// GetMessage returns a message with its body, fetching the body on first
// access. When the remote is unreachable the cached envelope is returned
// and hydrated is false.
func (e *Engine) GetMessage(ctx context.Context, id string) (msg *mailbox.Message, hydrated bool, err error) {
	if _, err := e.query.GetMessage(id); err != nil {
		return nil, false, err
	}
	return e.ctrl.Hydrate(ctx, id)
}

// Search filters the cache. It never syncs.
func (e *Engine) Search(f query.Filter, p query.Page, sortBy string) (query.Result[*mailbox.Message], error) {
	return e.query.Search(f, p, sortBy)
}

// ListFolders returns the cached folders with counts.
func (e *Engine) ListFolders() []mailbox.Folder {
	return e.query.ListFolders()
}

// QueryLimits returns the configured page sizes.
func (e *Engine) QueryLimits() query.Limits {
	return e.query.Limits()
}

func (e *Engine) SetRead(ctx context.Context, id string, read bool) (*mailbox.Message, error) {
	return e.rec.SetRead(ctx, id, read)
}

func (e *Engine) SetStarred(ctx context.Context, id string, starred bool) (*mailbox.Message, error) {
	return e.rec.SetStarred(ctx, id, starred)
}

func (e *Engine) Move(ctx context.Context, id, folder string) (*mailbox.Message, error) {
	return e.rec.Move(ctx, id, folder)
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.rec.Delete(ctx, id)
}

var errAnalyticsDisabled = mailbox.Errorf(mailbox.KindInvalidInput, "analytics", "", "analytics are disabled")

// Stats returns mailbox totals.
func (e *Engine) Stats() (analytics.Stats, error) {
	if e.analytics == nil {
		return analytics.Stats{}, errAnalyticsDisabled
	}
	return e.analytics.Stats(), nil
}

// Report returns the combined analytics view with top lists of size top.
func (e *Engine) Report(top int) (analytics.Report, error) {
	if e.analytics == nil {
		return analytics.Report{}, errAnalyticsDisabled
	}
	return e.analytics.Report(top), nil
}

// Trends returns daily volumes for the last days days.
func (e *Engine) Trends(days int) ([]analytics.DayVolume, error) {
	if e.analytics == nil {
		return nil, errAnalyticsDisabled
	}
	return e.analytics.Trends(days), nil
}

// Contacts returns up to limit contacts by interaction count.
func (e *Engine) Contacts(limit int) ([]analytics.Contact, error) {
	if e.analytics == nil {
		return nil, errAnalyticsDisabled
	}
	return e.analytics.Contacts(limit), nil
}

// ClearCache drops all cached messages and cursors. Analytics are
// recomputed lazily on the next query.
func (e *Engine) ClearCache(ctx context.Context) int {
	removed := e.store.Clear()
	if e.analytics != nil {
		e.analytics.Invalidate()
	}
	e.metrics.AddCachedMessages(ctx, -len(removed))
	_ = e.Persist(ctx)
	e.logger.Info("cache cleared", slog.Int("messages", len(removed)))
	return len(removed)
}

func (e *Engine) changed(ctx context.Context, ch cache.Change) {
	if e.analytics != nil {
		if len(ch.Added) > 0 {
			e.analytics.MessagesAdded(ch.Added)
		}
		for _, u := range ch.Updated {
			e.analytics.MessageMutated(u.Before, u.After)
		}
		if len(ch.Removed) > 0 {
			e.analytics.MessagesRemoved(ch.Removed)
		}
	}
	e.metrics.AddCachedMessages(ctx, len(ch.Added)-len(ch.Removed))
}

func (e *Engine) evicted(msgs []*mailbox.Message) {
	if e.analytics != nil {
		e.analytics.MessagesRemoved(msgs)
	}
	ctx := context.Background()
	e.metrics.AddCachedMessages(ctx, -len(msgs))
	e.metrics.RecordEvictions(ctx, len(msgs))
	e.logger.Debug("evicted messages from cache", slog.Int("count", len(msgs)))
}
