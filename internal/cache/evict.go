package cache

import (
	"sort"

	"github.com/teemow/mailmirror/internal/mailbox"
)

// messageOverhead approximates the fixed per-entry cost in bytes.
const messageOverhead = 256

// EstimateSize approximates the memory held by a cached message.
func EstimateSize(m *mailbox.Message) int64 {
	n := messageOverhead + len(m.ID) + len(m.FolderID) + len(m.Subject) + len(m.Snippet)
	n += len(m.From.Name) + len(m.From.Email)
	for _, a := range m.To {
		n += len(a.Name) + len(a.Email)
	}
	for _, a := range m.Cc {
		n += len(a.Name) + len(a.Email)
	}
	for _, a := range m.Attachments {
		n += len(a.Filename) + len(a.ContentType) + 8
	}
	if m.Body != nil {
		n += len(m.Body.Text) + len(m.Body.HTML)
	}
	return int64(n)
}

func (s *Store) overLimit() bool {
	if s.limits.MaxMessages > 0 && len(s.messages) > s.limits.MaxMessages {
		return true
	}
	return s.limits.MaxBytes > 0 && s.bytes > s.limits.MaxBytes
}

// evict removes the oldest-synced unpinned messages until the store is
// within its limits. Caller holds the write lock.
func (s *Store) evict() []*mailbox.Message {
	if !s.overLimit() {
		return nil
	}

	candidates := make([]*mailbox.Message, 0, len(s.messages))
	for id, m := range s.messages {
		if s.pins[id] == 0 {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.SyncedAt.Equal(b.SyncedAt) {
			return a.SyncedAt.Before(b.SyncedAt)
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})

	var evicted []*mailbox.Message
	for _, m := range candidates {
		if !s.overLimit() {
			break
		}
		evicted = append(evicted, s.remove(m.ID))
	}
	return evicted
}

// SortNewestFirst orders messages by date descending, then id ascending.
func SortNewestFirst(msgs []*mailbox.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Date.Equal(msgs[j].Date) {
			return msgs[i].Date.After(msgs[j].Date)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
