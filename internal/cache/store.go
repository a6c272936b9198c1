package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/teemow/mailmirror/internal/mailbox"
)

// Limits bounds the store size. Zero values disable a bound.
type Limits struct {
	MaxMessages int
	MaxBytes    int64
}

// Batch is a set of writes applied atomically.
type Batch struct {
	Folders       []mailbox.Folder
	RemoveFolders []string
	Upserts       []*mailbox.Message
	Removes       []string

	// RetainFolder with a non-nil Retain set removes every message of the
	// folder whose id is not in Retain. Used for full listings.
	RetainFolder string
	Retain       map[string]struct{}

	// CursorFolder gets Cursor and a LastSynced stamp when non-empty.
	CursorFolder string
	Cursor       mailbox.Cursor

	// SkipPinned leaves pinned messages untouched.
	SkipPinned bool
}

// Update pairs the previous and new version of a message.
type Update struct {
	Before *mailbox.Message
	After  *mailbox.Message
}

// Change reports what a write did. Messages are copies.
type Change struct {
	Added   []*mailbox.Message
	Updated []Update
	Removed []*mailbox.Message
	Evicted []*mailbox.Message
}

// Store is the in-memory cache.
type Store struct {
	mu       sync.RWMutex
	limits   Limits
	folders  map[string]*mailbox.Folder
	messages map[string]*mailbox.Message
	byFolder map[string]map[string]struct{}
	pins     map[string]int
	bytes    int64
	now      func() time.Time

	onEvict func([]*mailbox.Message)
}

// New creates an empty store.
func New(limits Limits) *Store {
	return &Store{
		limits:   limits,
		folders:  make(map[string]*mailbox.Folder),
		messages: make(map[string]*mailbox.Message),
		byFolder: make(map[string]map[string]struct{}),
		pins:     make(map[string]int),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for synced-at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// OnEvict registers fn to receive evicted messages. It is called after the
// write lock is released.
func (s *Store) OnEvict(fn func([]*mailbox.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// GetMessage returns a copy of the message with id.
func (s *Store) GetMessage(id string) (*mailbox.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ListFolder returns one page of a folder, newest first with ties broken by
// id, and the folder's total. A non-positive limit returns everything from
// offset on.
func (s *Store) ListFolder(folderID string, offset, limit int) ([]*mailbox.Message, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byFolder[folderID]
	all := make([]*mailbox.Message, 0, len(ids))
	for id := range ids {
		all = append(all, s.messages[id])
	}
	SortNewestFirst(all)

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*mailbox.Message{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	page := make([]*mailbox.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		page = append(page, m.Clone())
	}
	return page, total
}

// Messages returns copies of every cached message in listing order.
func (s *Store) Messages() []*mailbox.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*mailbox.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	SortNewestFirst(out)
	return out
}

// Len returns the number of cached messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Folder returns a copy of a folder.
func (s *Store) Folder(id string) (mailbox.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return mailbox.Folder{}, false
	}
	return *f, true
}

// Folders returns all folders sorted by id.
func (s *Store) Folders() []mailbox.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mailbox.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cursor returns the folder's sync cursor, empty if never synced.
func (s *Store) Cursor(folderID string) mailbox.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.folders[folderID]; ok {
		return f.Cursor
	}
	return ""
}

// Pin marks a message as having an outstanding mutation.
func (s *Store) Pin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[id]++
}

// Unpin releases one Pin.
func (s *Store) Unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[id] <= 1 {
		delete(s.pins, id)
		return
	}
	s.pins[id]--
}

// Pinned reports whether id has an outstanding mutation.
func (s *Store) Pinned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pins[id] > 0
}

// UpsertMessage inserts or replaces a single message as is.
func (s *Store) UpsertMessage(m *mailbox.Message) Change {
	return s.Apply(Batch{Upserts: []*mailbox.Message{m}})
}

// RemoveMessage deletes a message and returns what was removed.
func (s *Store) RemoveMessage(id string) (*mailbox.Message, bool) {
	ch := s.Apply(Batch{Removes: []string{id}})
	if len(ch.Removed) == 0 {
		return nil, false
	}
	return ch.Removed[0], true
}

// UpsertFolder creates or renames a folder; counts are left alone.
func (s *Store) UpsertFolder(f mailbox.Folder) {
	s.Apply(Batch{Folders: []mailbox.Folder{f}})
}

// RemoveFolder drops a folder and all of its messages.
func (s *Store) RemoveFolder(id string) Change {
	return s.Apply(Batch{RemoveFolders: []string{id}})
}

// Apply performs every write of b under one lock.
func (s *Store) Apply(b Batch) Change {
	s.mu.Lock()
	var ch Change
	now := s.now()

	for _, f := range b.Folders {
		s.ensureFolder(f.ID, f.Name)
	}

	for _, id := range b.RemoveFolders {
		kept := 0
		for mid := range s.byFolder[id] {
			if b.SkipPinned && s.pins[mid] > 0 {
				kept++
				continue
			}
			ch.Removed = append(ch.Removed, s.remove(mid))
		}
		// A folder still holding pinned messages is dropped by a later
		// write once the pins are released.
		if kept > 0 {
			continue
		}
		delete(s.byFolder, id)
		delete(s.folders, id)
	}

	for _, in := range b.Upserts {
		if b.SkipPinned && s.pins[in.ID] > 0 {
			continue
		}
		s.upsert(in, now, &ch)
	}

	for _, id := range b.Removes {
		if b.SkipPinned && s.pins[id] > 0 {
			continue
		}
		if _, ok := s.messages[id]; ok {
			ch.Removed = append(ch.Removed, s.remove(id))
		}
	}

	if b.Retain != nil {
		for id := range s.byFolder[b.RetainFolder] {
			if _, keep := b.Retain[id]; keep {
				continue
			}
			if b.SkipPinned && s.pins[id] > 0 {
				continue
			}
			ch.Removed = append(ch.Removed, s.remove(id))
		}
	}

	if b.CursorFolder != "" {
		f := s.ensureFolder(b.CursorFolder, "")
		f.Cursor = b.Cursor
		f.LastSynced = now
	}

	ch.Evicted = s.evict()
	ch.foldEvicted()
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil && len(ch.Evicted) > 0 {
		onEvict(ch.Evicted)
	}
	return ch
}

// foldEvicted nets out messages evicted by the same batch that wrote them,
// so that replaying Added, Updated and Evicted in any order agrees with the
// store. A message added and evicted disappears from both lists; an updated
// one that is evicted is reported as its previous version.
func (ch *Change) foldEvicted() {
	if len(ch.Evicted) == 0 {
		return
	}
	gone := make(map[string]int, len(ch.Evicted))
	for i, m := range ch.Evicted {
		gone[m.ID] = i
	}

	added := ch.Added[:0]
	for _, m := range ch.Added {
		if i, ok := gone[m.ID]; ok {
			ch.Evicted[i] = nil
			continue
		}
		added = append(added, m)
	}
	ch.Added = added

	updated := ch.Updated[:0]
	for _, u := range ch.Updated {
		if i, ok := gone[u.After.ID]; ok {
			if ch.Evicted[i] != nil {
				ch.Evicted[i] = u.Before
			}
			continue
		}
		updated = append(updated, u)
	}
	ch.Updated = updated

	evicted := ch.Evicted[:0]
	for _, m := range ch.Evicted {
		if m != nil {
			evicted = append(evicted, m)
		}
	}
	ch.Evicted = evicted
}

// Clear drops every message and cursor. Folder entries survive with zero
// counts so the folder list stays visible until the next sync.
func (s *Store) Clear() []*mailbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]*mailbox.Message, 0, len(s.messages))
	for _, m := range s.messages {
		removed = append(removed, m)
	}
	s.messages = make(map[string]*mailbox.Message)
	s.byFolder = make(map[string]map[string]struct{})
	s.bytes = 0
	for _, f := range s.folders {
		f.Total, f.Unread, f.Cursor = 0, 0, ""
		f.LastSynced = time.Time{}
	}
	return removed
}

// Dump returns copies of all folders and messages for persistence. Messages
// under a pending mutation are dumped in their state before it, the state a
// rollback would restore, so a restart never loads an unconfirmed change.
func (s *Store) Dump(pending []mailbox.PendingMutation) ([]mailbox.Folder, []*mailbox.Message) {
	folders, msgs := s.Folders(), s.Messages()
	if len(pending) == 0 {
		return folders, msgs
	}

	before := make(map[string]mailbox.PendingMutation, len(pending))
	for _, p := range pending {
		if p.Before == nil {
			continue
		}
		// The earliest mutation holds the last confirmed state.
		if _, ok := before[p.MessageID]; !ok {
			before[p.MessageID] = p
		}
	}
	for i, m := range msgs {
		if p, ok := before[m.ID]; ok {
			msgs[i] = p.Before.Clone()
			delete(before, m.ID)
		}
	}
	for _, p := range before {
		if p.Kind == mailbox.MutationDelete {
			msgs = append(msgs, p.Before.Clone())
		}
	}
	return folders, msgs
}

// Restore replaces the store contents with a dump. Counts are recomputed
// from the messages, not taken from the folders.
func (s *Store) Restore(folders []mailbox.Folder, msgs []*mailbox.Message) {
	s.mu.Lock()
	s.folders = make(map[string]*mailbox.Folder, len(folders))
	s.messages = make(map[string]*mailbox.Message, len(msgs))
	s.byFolder = make(map[string]map[string]struct{})
	s.bytes = 0
	for _, f := range folders {
		nf := f
		nf.Total, nf.Unread = 0, 0
		s.folders[f.ID] = &nf
	}
	for _, m := range msgs {
		s.add(m.Clone())
	}
	evicted := s.evict()
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil && len(evicted) > 0 {
		onEvict(evicted)
	}
}

func (s *Store) ensureFolder(id, name string) *mailbox.Folder {
	f, ok := s.folders[id]
	if !ok {
		if name == "" {
			name = id
		}
		f = &mailbox.Folder{ID: id, Name: name}
		s.folders[id] = f
	} else if name != "" {
		f.Name = name
	}
	return f
}

func (s *Store) upsert(in *mailbox.Message, now time.Time, ch *Change) {
	old, exists := s.messages[in.ID]
	if !exists {
		m := in.Clone()
		if m.SyncedAt.IsZero() {
			m.SyncedAt = now
		}
		s.add(m)
		ch.Added = append(ch.Added, m.Clone())
		return
	}

	if old.SameRemoteState(in) && (in.Body == nil || old.Body != nil) {
		return
	}

	before := old.Clone()
	m := in.Clone()
	if m.Body == nil {
		m.Body = old.Body
	}
	if m.SyncedAt.IsZero() {
		m.SyncedAt = now
	}
	s.remove(in.ID)
	s.add(m)
	ch.Updated = append(ch.Updated, Update{Before: before, After: m.Clone()})
}

func (s *Store) add(m *mailbox.Message) {
	f := s.ensureFolder(m.FolderID, "")
	s.messages[m.ID] = m
	set, ok := s.byFolder[m.FolderID]
	if !ok {
		set = make(map[string]struct{})
		s.byFolder[m.FolderID] = set
	}
	set[m.ID] = struct{}{}
	f.Total++
	if !m.Read {
		f.Unread++
	}
	s.bytes += EstimateSize(m)
}

func (s *Store) remove(id string) *mailbox.Message {
	m := s.messages[id]
	delete(s.messages, id)
	if set, ok := s.byFolder[m.FolderID]; ok {
		delete(set, id)
	}
	if f, ok := s.folders[m.FolderID]; ok {
		f.Total--
		if !m.Read {
			f.Unread--
		}
	}
	s.bytes -= EstimateSize(m)
	return m
}
