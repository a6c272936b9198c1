package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultBufferSize is the number of records a Buffer retains.
const DefaultBufferSize = 1000

// Entry is one buffered log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

type ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// Buffer is a slog.Handler that forwards to an inner handler and keeps the
// last records in a ring. Handlers derived with WithAttrs and WithGroup
// share the ring.
type Buffer struct {
	inner  slog.Handler
	ring   *ring
	attrs  []slog.Attr
	prefix string
}

// NewBuffer wraps inner. A nil inner only buffers.
func NewBuffer(inner slog.Handler, size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{inner: inner, ring: &ring{entries: make([]Entry, size)}}
}

// Enabled buffers everything the inner handler accepts, and at least info.
func (b *Buffer) Enabled(ctx context.Context, level slog.Level) bool {
	if b.inner == nil {
		return level >= slog.LevelInfo
	}
	return b.inner.Enabled(ctx, level)
}

func (b *Buffer) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	if len(b.attrs) > 0 || r.NumAttrs() > 0 {
		e.Attrs = make(map[string]string, len(b.attrs)+r.NumAttrs())
		for _, a := range b.attrs {
			flatten(e.Attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(e.Attrs, b.prefix, a)
			return true
		})
	}
	b.ring.add(e)

	if b.inner == nil {
		return nil
	}
	return b.inner.Handle(ctx, r)
}

func (b *Buffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	nb := *b
	nb.attrs = make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	nb.attrs = append(nb.attrs, b.attrs...)
	for _, a := range attrs {
		if b.prefix != "" {
			a.Key = b.prefix + a.Key
		}
		nb.attrs = append(nb.attrs, a)
	}
	if b.inner != nil {
		nb.inner = b.inner.WithAttrs(attrs)
	}
	return &nb
}

func (b *Buffer) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	nb := *b
	nb.prefix = b.prefix + name + "."
	if b.inner != nil {
		nb.inner = b.inner.WithGroup(name)
	}
	return &nb
}

// Entries returns up to limit records at or above minLevel, newest last.
// limit <= 0 returns all retained records.
func (b *Buffer) Entries(minLevel slog.Level, limit int) []Entry {
	all := b.ring.snapshot()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(e.Level)); err != nil || lvl >= minLevel {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.ring.mu.Lock()
	defer b.ring.mu.Unlock()
	if b.ring.full {
		return len(b.ring.entries)
	}
	return b.ring.next
}

// ParseLevel accepts debug, info, warn, warning and error in any case.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range group {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}
