// Package mailboxtest provides an in-memory mailbox.RemoteClient for tests.
package mailboxtest

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/teemow/mailmirror/internal/mailbox"
)

// Operation names accepted by SetError, SetHook and Calls.
const (
	OpConnect     = "Connect"
	OpListFolders = "ListFolders"
	OpFetchRange  = "FetchRange"
	OpFetchByID   = "FetchByID"
	OpSetFlag     = "SetFlag"
	OpMove        = "Move"
	OpDelete      = "Delete"
)

type entry struct {
	msg *mailbox.Message
	seq uint64
}

// Remote is a map-backed remote mailbox. Every message carries a sequence
// number that grows whenever it is added or moved, which makes it behave
// like IMAP UIDs for incremental fetches.
type Remote struct {
	mu        sync.Mutex
	folders   map[string]bool
	messages  map[string]*entry
	seq       uint64
	errs      map[string]error
	hooks     map[string]func(ctx context.Context) error
	calls     map[string]int
	connected bool
}

// New returns an empty remote with an INBOX folder.
func New() *Remote {
	r := &Remote{
		folders:  map[string]bool{},
		messages: map[string]*entry{},
		errs:     map[string]error{},
		hooks:    map[string]func(ctx context.Context) error{},
		calls:    map[string]int{},
	}
	r.folders["INBOX"] = true
	return r
}

// AddFolder creates a folder on the remote.
func (r *Remote) AddFolder(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.folders[id] = true
	}
}

// RemoveFolder deletes a folder and every message in it.
func (r *Remote) RemoveFolder(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.folders, id)
	for mid, e := range r.messages {
		if e.msg.FolderID == id {
			delete(r.messages, mid)
		}
	}
}

// Put adds or replaces messages. Replacing keeps the sequence number
// unless the folder changed.
func (r *Remote) Put(msgs ...*mailbox.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.folders[m.FolderID] = true
		if e, ok := r.messages[m.ID]; ok && e.msg.FolderID == m.FolderID {
			e.msg = m.Clone()
			continue
		}
		r.seq++
		r.messages[m.ID] = &entry{msg: m.Clone(), seq: r.seq}
	}
}

// Drop removes a message without going through Delete.
func (r *Remote) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, id)
}

// Message returns a copy of the remote state of a message, or nil.
func (r *Remote) Message(id string) *mailbox.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.messages[id]; ok {
		return e.msg.Clone()
	}
	return nil
}

// SetError makes every call of op fail with err until cleared with nil.
func (r *Remote) SetError(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, op)
		return
	}
	r.errs[op] = err
}

// SetHook installs fn to run before op, outside the remote's lock.
// A non-nil return fails the call.
func (r *Remote) SetHook(op string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.hooks, op)
		return
	}
	r.hooks[op] = fn
}

// Calls reports how many times op was invoked.
func (r *Remote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *Remote) enter(ctx context.Context, op string) error {
	r.mu.Lock()
	r.calls[op]++
	hook := r.hooks[op]
	err := r.errs[op]
	r.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return herr
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Remote) Connect(ctx context.Context) error {
	if err := r.enter(ctx, OpConnect); err != nil {
		return err
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

func (r *Remote) Disconnect() error {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	return nil
}

func (r *Remote) ListFolders(ctx context.Context) ([]mailbox.RemoteFolder, error) {
	if err := r.enter(ctx, OpListFolders); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mailbox.RemoteFolder, 0, len(r.folders))
	for id := range r.folders {
		out = append(out, mailbox.RemoteFolder{ID: id, Name: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Remote) FetchRange(ctx context.Context, folder string, cursor mailbox.Cursor) (*mailbox.FetchResult, error) {
	if err := r.enter(ctx, OpFetchRange); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.folders[folder] {
		return nil, mailbox.E(mailbox.KindRemoteRejected, "fetch range", folder, nil)
	}

	var after uint64
	complete := true
	if cursor != "" {
		if v, err := strconv.ParseUint(string(cursor), 10, 64); err == nil {
			after = v
			complete = false
		}
	}

	res := &mailbox.FetchResult{Complete: complete}
	high := after
	var seqs []uint64
	byseq := map[uint64]*mailbox.Message{}
	for _, e := range r.messages {
		if e.msg.FolderID != folder || e.seq <= after {
			continue
		}
		seqs = append(seqs, e.seq)
		byseq[e.seq] = e.msg
		if e.seq > high {
			high = e.seq
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, s := range seqs {
		m := byseq[s].Clone()
		m.Body = nil
		res.Messages = append(res.Messages, m)
	}
	res.Cursor = mailbox.Cursor(strconv.FormatUint(high, 10))
	return res, nil
}

func (r *Remote) FetchByID(ctx context.Context, id string) (*mailbox.Message, error) {
	if err := r.enter(ctx, OpFetchByID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.messages[id]
	if !ok {
		return nil, mailbox.E(mailbox.KindNotFound, "fetch by id", id, nil)
	}
	return e.msg.Clone(), nil
}

func (r *Remote) SetFlag(ctx context.Context, id string, flag mailbox.Flag, value bool) error {
	if err := r.enter(ctx, OpSetFlag); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.messages[id]
	if !ok {
		return mailbox.E(mailbox.KindNotFound, "set flag", id, nil)
	}
	switch flag {
	case mailbox.FlagRead:
		e.msg.Read = value
	case mailbox.FlagStarred:
		e.msg.Starred = value
	default:
		return mailbox.Errorf(mailbox.KindRemoteRejected, "set flag", id, "unknown flag %q", flag)
	}
	return nil
}

func (r *Remote) Move(ctx context.Context, id, folder string) error {
	if err := r.enter(ctx, OpMove); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.messages[id]
	if !ok {
		return mailbox.E(mailbox.KindNotFound, "move", id, nil)
	}
	if !r.folders[folder] {
		return mailbox.Errorf(mailbox.KindRemoteRejected, "move", id, "no such folder %q", folder)
	}
	r.seq++
	e.msg.FolderID = folder
	e.seq = r.seq
	return nil
}

func (r *Remote) Delete(ctx context.Context, id string) error {
	if err := r.enter(ctx, OpDelete); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return mailbox.E(mailbox.KindNotFound, "delete", id, nil)
	}
	delete(r.messages, id)
	return nil
}

var _ mailbox.RemoteClient = (*Remote)(nil)
