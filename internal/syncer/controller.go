package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// DefaultFetchTimeout bounds a single remote call made by a sync.
const DefaultFetchTimeout = 30 * time.Second

// State is the sync state of one folder.
type State string

const (
	StateUnsynced State = "unsynced"
	StateSyncing  State = "syncing"
	StateSynced   State = "synced"
	StateFailed   State = "sync_failed"
)

// Result describes one finished folder sync.
type Result struct {
	Folder  string           `json:"folder"`
	Mode    mailbox.SyncMode `json:"mode"`
	State   State            `json:"state"`
	Added   int              `json:"added"`
	Updated int              `json:"updated"`
	Removed int              `json:"removed"`
	Cursor  mailbox.Cursor   `json:"cursor,omitempty"`
}

// FolderStatus is the observable sync state of a folder.
type FolderStatus struct {
	Folder    string         `json:"folder"`
	State     State          `json:"state"`
	LastSync  time.Time      `json:"lastSync,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Cursor    mailbox.Cursor `json:"cursor,omitempty"`
}

// Status is the connection flag plus every known folder's state.
type Status struct {
	Connected bool           `json:"connected"`
	Folders   []FolderStatus `json:"folders"`
}

// ChangeFunc receives what a merge did to the cache. Evictions are not
// included; the store reports those through its own hook.
type ChangeFunc func(ctx context.Context, change cache.Change)

// Options configures a Controller.
type Options struct {
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *instrumentation.Metrics
	OnChange     ChangeFunc
}

// Controller synchronizes folders between a RemoteClient and a Store.
type Controller struct {
	remote   mailbox.RemoteClient
	store    *cache.Store
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	onChange ChangeFunc

	group     singleflight.Group
	connected atomic.Bool

	mu     sync.Mutex
	status map[string]*FolderStatus
}

// New creates a disconnected Controller.
func New(remote mailbox.RemoteClient, store *cache.Store, opts Options) *Controller {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		remote:   remote,
		store:    store,
		timeout:  opts.FetchTimeout,
		logger:   logging.WithComponent(opts.Logger, "syncer"),
		metrics:  opts.Metrics,
		onChange: opts.OnChange,
		status:   make(map[string]*FolderStatus),
	}
}

// Connected reports whether the remote session is believed to be up.
func (c *Controller) Connected() bool {
	return c.connected.Load()
}

// Connect opens the remote session and refreshes the folder list.
func (c *Controller) Connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.remote.Connect(cctx); err != nil {
		c.connected.Store(false)
		return mailbox.AsRemote("connect", "", err)
	}
	c.connected.Store(true)
	c.logger.Info("connected to remote mailbox")

	if _, err := c.SyncFolders(ctx); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the remote session. Cached data stays readable.
func (c *Controller) Disconnect() error {
	c.connected.Store(false)
	if err := c.remote.Disconnect(); err != nil {
		return mailbox.AsRemote("disconnect", "", err)
	}
	c.logger.Info("disconnected from remote mailbox")
	return nil
}

// SyncFolders refreshes the cached folder list from the remote and drops
// folders that no longer exist there, together with their messages.
func (c *Controller) SyncFolders(ctx context.Context) ([]mailbox.Folder, error) {
	if !c.Connected() {
		return nil, mailbox.Errorf(mailbox.KindRemoteUnavailable, "sync folders", "", "not connected")
	}

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	remote, err := c.remote.ListFolders(lctx)
	cancel()
	if err != nil {
		return nil, c.remoteFailed(mailbox.AsRemote("sync folders", "", err))
	}

	seen := make(map[string]struct{}, len(remote))
	batch := cache.Batch{SkipPinned: true}
	for _, rf := range remote {
		seen[rf.ID] = struct{}{}
		batch.Folders = append(batch.Folders, mailbox.Folder{ID: rf.ID, Name: rf.Name})
	}
	for _, f := range c.store.Folders() {
		if _, ok := seen[f.ID]; !ok {
			batch.RemoveFolders = append(batch.RemoveFolders, f.ID)
		}
	}

	change := c.store.Apply(batch)
	c.emit(ctx, change)

	var removed, deferred []string
	for _, id := range batch.RemoveFolders {
		if _, ok := c.store.Folder(id); ok {
			deferred = append(deferred, id)
		} else {
			removed = append(removed, id)
		}
	}

	c.mu.Lock()
	for _, id := range removed {
		delete(c.status, id)
	}
	for id := range seen {
		if _, ok := c.status[id]; !ok {
			c.status[id] = &FolderStatus{Folder: id, State: StateUnsynced}
		}
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		c.logger.Info("removed folders gone from remote",
			slog.Any("folders", removed), slog.Int("messages", len(change.Removed)))
	}
	if len(deferred) > 0 {
		c.logger.Info("keeping removed folders until pending mutations resolve", slog.Any("folders", deferred))
	}

	folders := make([]mailbox.Folder, 0, len(seen))
	for _, f := range c.store.Folders() {
		if _, ok := seen[f.ID]; ok {
			folders = append(folders, f)
		}
	}
	return folders, nil
}

// SyncFolder syncs one folder. Requests for a folder that is already
// syncing wait for that sync and share its outcome; each caller may stop
// waiting when its own ctx is done. The shared sync itself is detached
// from the caller that started it and bounded by the fetch timeout.
func (c *Controller) SyncFolder(ctx context.Context, folderID string, mode mailbox.SyncMode) (Result, error) {
	if folderID == "" {
		return Result{}, mailbox.Errorf(mailbox.KindInvalidInput, "sync", "", "folder is required")
	}
	switch mode {
	case "":
		mode = mailbox.SyncIncremental
	case mailbox.SyncFull, mailbox.SyncIncremental:
	default:
		return Result{}, mailbox.Errorf(mailbox.KindInvalidInput, "sync", folderID, "unknown sync mode %q", mode)
	}
	if !c.Connected() {
		return Result{Folder: folderID, Mode: mode, State: c.state(folderID)},
			mailbox.Errorf(mailbox.KindRemoteUnavailable, "sync", folderID, "not connected")
	}

	ch := c.group.DoChan(folderID, func() (any, error) {
		return c.syncFolder(context.WithoutCancel(ctx), folderID, mode)
	})
	select {
	case <-ctx.Done():
		return Result{Folder: folderID, Mode: mode, State: c.state(folderID)},
			mailbox.E(mailbox.KindRemoteUnavailable, "sync", folderID, ctx.Err())
	case r := <-ch:
		res, _ := r.Val.(Result)
		return res, r.Err
	}
}

// SyncAll refreshes the folder list, then syncs every folder concurrently.
// Failures of individual folders are joined into the returned error.
func (c *Controller) SyncAll(ctx context.Context, mode mailbox.SyncMode) ([]Result, error) {
	folders, err := c.SyncFolders(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(folders))
	errs := make([]error, len(folders))
	var g errgroup.Group
	for i, f := range folders {
		g.Go(func() error {
			results[i], errs[i] = c.SyncFolder(ctx, f.ID, mode)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Hydrate fetches the full body and attachment manifest of a cached
// message. When the remote cannot be reached the cached copy is returned
// without a body and hydrated is false.
func (c *Controller) Hydrate(ctx context.Context, id string) (msg *mailbox.Message, hydrated bool, err error) {
	cached, ok := c.store.GetMessage(id)
	if !ok {
		return nil, false, mailbox.E(mailbox.KindNotFound, "get message", id, nil)
	}
	if cached.Body != nil {
		return cached, true, nil
	}
	if !c.Connected() {
		return cached, false, nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	full, err := c.remote.FetchByID(fctx, id)
	cancel()
	if err != nil {
		err = mailbox.AsRemote("hydrate", id, err)
		if mailbox.KindOf(err) == mailbox.KindNotFound {
			return nil, false, err
		}
		c.remoteFailed(err)
		c.logger.Warn("serving cached message without body", logging.MessageID(id), logging.Err(err))
		return cached, false, nil
	}

	// Keep local state the remote fetch does not own.
	full.ID = cached.ID
	if full.FolderID == "" {
		full.FolderID = cached.FolderID
	}
	if full.Body == nil {
		full.Body = &mailbox.Body{}
	}
	change := c.store.Apply(cache.Batch{Upserts: []*mailbox.Message{full}, SkipPinned: true})
	c.emit(ctx, change)

	if m, ok := c.store.GetMessage(id); ok && m.Body != nil {
		return m, true, nil
	}
	// Pinned by a pending mutation: hand back the fetched copy without
	// overwriting the optimistic state.
	cached.Body = full.Body
	cached.Attachments = full.Attachments
	return cached, true, nil
}

// Status returns the connection flag and per-folder state, sorted by folder.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Connected: c.Connected(), Folders: make([]FolderStatus, 0, len(c.status))}
	for _, fs := range c.status {
		st.Folders = append(st.Folders, *fs)
	}
	sort.Slice(st.Folders, func(i, j int) bool { return st.Folders[i].Folder < st.Folders[j].Folder })
	return st
}

func (c *Controller) syncFolder(ctx context.Context, folderID string, mode mailbox.SyncMode) (Result, error) {
	start := time.Now()
	c.setState(folderID, StateSyncing, nil)
	res := Result{Folder: folderID, Mode: mode}

	cursor := c.store.Cursor(folderID)
	if mode == mailbox.SyncFull {
		cursor = ""
	}

	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	fetched, err := c.remote.FetchRange(fctx, folderID, cursor)
	cancel()
	if err != nil {
		err = c.remoteFailed(mailbox.AsRemote("sync", folderID, err))
		c.setState(folderID, StateFailed, err)
		res.State = StateFailed
		c.metrics.RecordSync(ctx, folderID, string(mode), instrumentation.StatusError, 0, 0, 0)
		c.logger.Warn("folder sync failed", logging.Folder(folderID), logging.Mode(string(mode)), logging.Err(err))
		return res, err
	}

	if fetched.Complete {
		res.Mode = mailbox.SyncFull
	}
	batch := cache.Batch{
		Folders:      []mailbox.Folder{{ID: folderID}},
		CursorFolder: folderID,
		Cursor:       fetched.Cursor,
		SkipPinned:   true,
	}
	if fetched.Complete {
		batch.RetainFolder = folderID
		batch.Retain = make(map[string]struct{}, len(fetched.Messages))
	}
	for _, m := range fetched.Messages {
		if m.FolderID == "" {
			m.FolderID = folderID
		}
		batch.Upserts = append(batch.Upserts, m)
		if batch.Retain != nil {
			batch.Retain[m.ID] = struct{}{}
		}
	}

	change := c.store.Apply(batch)
	c.emit(ctx, change)

	res.State = StateSynced
	res.Cursor = fetched.Cursor
	res.Added, res.Updated, res.Removed = len(change.Added), len(change.Updated), len(change.Removed)
	c.setState(folderID, StateSynced, nil)

	c.metrics.RecordSync(ctx, folderID, string(res.Mode), instrumentation.StatusSuccess, res.Added, res.Updated, res.Removed)
	c.logger.Debug("folder synced",
		logging.Folder(folderID),
		logging.Mode(string(res.Mode)),
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	return res, nil
}

// remoteFailed drops the connected flag on RemoteUnavailable and returns err.
func (c *Controller) remoteFailed(err error) error {
	if mailbox.KindOf(err) == mailbox.KindRemoteUnavailable && c.connected.Swap(false) {
		c.logger.Warn("remote mailbox unreachable, marking disconnected", logging.Err(err))
	}
	return err
}

// MarkUnavailable lets other components report a lost session.
func (c *Controller) MarkUnavailable(err error) {
	c.remoteFailed(err)
}

func (c *Controller) emit(ctx context.Context, change cache.Change) {
	if c.onChange == nil || (len(change.Added) == 0 && len(change.Updated) == 0 && len(change.Removed) == 0) {
		return
	}
	change.Evicted = nil
	c.onChange(ctx, change)
}

func (c *Controller) state(folderID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fs, ok := c.status[folderID]; ok {
		return fs.State
	}
	return StateUnsynced
}

func (c *Controller) setState(folderID string, state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := c.status[folderID]
	if !ok {
		fs = &FolderStatus{Folder: folderID}
		c.status[folderID] = fs
	}
	fs.State = state
	switch state {
	case StateSynced:
		fs.LastSync = time.Now()
		fs.LastError = ""
		fs.Cursor = c.store.Cursor(folderID)
	case StateFailed:
		fs.LastError = fmt.Sprint(err)
	}
}
