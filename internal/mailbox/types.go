package mailbox

import (
	"strings"
	"time"
)

// Flag names a boolean message flag that can be changed remotely.
type Flag string

const (
	FlagRead    Flag = "read"
	FlagStarred Flag = "starred"
)

// Cursor is an opaque per-folder marker for incremental sync.
// The empty cursor forces a full listing.
type Cursor string

// Address is a single mailbox address as it appears in an envelope.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Normalized returns the lower-cased, trimmed address used as aggregate key.
func (a Address) Normalized() string {
	return NormalizeAddress(a.Email)
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// NormalizeAddress lower-cases and trims an email address.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(addr)
}

// Attachment is manifest metadata; content is never cached.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Body holds the lazily fetched message content.
type Body struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// Folder is a cached remote mailbox folder.
type Folder struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Total      int       `json:"total"`
	Unread     int       `json:"unread"`
	Cursor     Cursor    `json:"cursor,omitempty"`
	LastSynced time.Time `json:"lastSynced,omitempty"`
}

// Message is a cached message. ID is unique across all folders.
type Message struct {
	ID          string       `json:"id"`
	FolderID    string       `json:"folder"`
	From        Address      `json:"from"`
	To          []Address    `json:"to,omitempty"`
	Cc          []Address    `json:"cc,omitempty"`
	Subject     string       `json:"subject"`
	Date        time.Time    `json:"date"`
	Read        bool         `json:"read"`
	Starred     bool         `json:"starred"`
	Snippet     string       `json:"snippet,omitempty"`
	Body        *Body        `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Size        int64        `json:"size"`
	SyncedAt    time.Time    `json:"syncedAt"`
}

// HasAttachments reports whether the manifest lists any attachment.
func (m *Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Clone returns a deep copy so callers never share slices with the cache.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.To = append([]Address(nil), m.To...)
	c.Cc = append([]Address(nil), m.Cc...)
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Body != nil {
		b := *m.Body
		c.Body = &b
	}
	return &c
}

// SameRemoteState reports whether two versions of a message differ in
// anything a sync can change. Sync-local fields (SyncedAt, Body) are ignored.
func (m *Message) SameRemoteState(o *Message) bool {
	if m.FolderID != o.FolderID || m.Read != o.Read || m.Starred != o.Starred {
		return false
	}
	if m.Subject != o.Subject || !m.Date.Equal(o.Date) || m.From != o.From || m.Size != o.Size {
		return false
	}
	if len(m.Attachments) != len(o.Attachments) {
		return false
	}
	return equalAddresses(m.To, o.To) && equalAddresses(m.Cc, o.Cc)
}

func equalAddresses(a, b []Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RemoteFolder is a folder as reported by the remote store.
type RemoteFolder struct {
	ID   string
	Name string
}

// FetchResult is the outcome of a ranged fetch.
// Complete is true when Messages is the full folder listing.
type FetchResult struct {
	Messages []*Message
	Cursor   Cursor
	Complete bool
}

// SyncMode selects between full and incremental folder sync.
type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

// MutationKind enumerates the reconciled mutating operations.
type MutationKind string

const (
	MutationSetRead    MutationKind = "set_read"
	MutationSetStarred MutationKind = "set_starred"
	MutationMove       MutationKind = "move"
	MutationDelete     MutationKind = "delete"
)

// PendingMutation is a local change awaiting remote confirmation.
type PendingMutation struct {
	ID        string       `json:"id"`
	Kind      MutationKind `json:"kind"`
	MessageID string       `json:"messageId"`
	// Value carries the desired flag value for flag mutations.
	Value bool `json:"value,omitempty"`
	// Folder carries the destination for moves.
	Folder    string    `json:"folder,omitempty"`
	Before    *Message  `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
