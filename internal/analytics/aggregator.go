package analytics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teemow/mailmirror/internal/mailbox"
)

const dayLayout = "2006-01-02"

// DefaultWindowDays is the trailing window used when none is configured.
const DefaultWindowDays = 90

// Config configures an Aggregator.
type Config struct {
	// WindowDays is the trailing window for daily volume buckets.
	WindowDays int
	// SelfAddresses are the account's own addresses; mail from them is sent.
	SelfAddresses []string
	// SentFolders hold sent mail regardless of the From header.
	SentFolders []string
}

type folderCount struct {
	total, unread int
}

type contactState struct {
	name     string
	sent     map[string]time.Time
	received map[string]time.Time
}

type state struct {
	total, unread, starred, withAttachments int

	folders  map[string]*folderCount
	days     map[string]*DayVolume
	contacts map[string]*contactState
}

func newState() *state {
	return &state{
		folders:  make(map[string]*folderCount),
		days:     make(map[string]*DayVolume),
		contacts: make(map[string]*contactState),
	}
}

// Aggregator maintains analytics incrementally.
type Aggregator struct {
	mu     sync.Mutex
	window int
	self   map[string]bool
	sent   map[string]bool
	now    func() time.Time
	source func() []*mailbox.Message

	dirty bool
	st    *state
}

// New creates an Aggregator. source supplies the full cache contents for
// lazy recomputation after Invalidate; it may be nil.
func New(cfg Config, source func() []*mailbox.Message) *Aggregator {
	window := cfg.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	a := &Aggregator{
		window: window,
		self:   make(map[string]bool),
		sent:   make(map[string]bool),
		now:    time.Now,
		source: source,
		st:     newState(),
	}
	for _, addr := range cfg.SelfAddresses {
		a.self[mailbox.NormalizeAddress(addr)] = true
	}
	for _, f := range cfg.SentFolders {
		a.sent[f] = true
	}
	return a
}

// SetClock replaces the time source used for windowing.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// WindowDays returns the configured trailing window.
func (a *Aggregator) WindowDays() int {
	return a.window
}

// MessagesAdded records messages that entered the cache.
func (a *Aggregator) MessagesAdded(msgs []*mailbox.Message) {
	a.apply(msgs, 1)
}

// MessagesRemoved records messages that left the cache.
func (a *Aggregator) MessagesRemoved(msgs []*mailbox.Message) {
	a.apply(msgs, -1)
}

// MessageMutated records a change of one cached message.
func (a *Aggregator) MessageMutated(before, after *mailbox.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dirty {
		return
	}
	cutoff := a.cutoff()
	a.st.apply(before, -1, cutoff, a.isSent(before))
	a.st.apply(after, 1, cutoff, a.isSent(after))
}

// Invalidate drops the incremental state; the next query recomputes it
// from the source.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirty = true
	a.st = newState()
}

// RecomputeFromScratch rebuilds all aggregates by replaying msgs.
func (a *Aggregator) RecomputeFromScratch(msgs []*mailbox.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebuild(msgs)
}

func (a *Aggregator) rebuild(msgs []*mailbox.Message) {
	st := newState()
	cutoff := a.cutoff()
	for _, m := range msgs {
		st.apply(m, 1, cutoff, a.isSent(m))
	}
	a.st = st
	a.dirty = false
}

func (a *Aggregator) apply(msgs []*mailbox.Message, sign int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dirty {
		return
	}
	cutoff := a.cutoff()
	for _, m := range msgs {
		a.st.apply(m, sign, cutoff, a.isSent(m))
	}
}

// fresh recomputes after Invalidate and prunes expired buckets.
// Caller holds the lock.
func (a *Aggregator) fresh() {
	if a.dirty && a.source != nil {
		a.rebuild(a.source())
	}
	cutoff := a.cutoff().Format(dayLayout)
	for day := range a.st.days {
		if day < cutoff {
			delete(a.st.days, day)
		}
	}
}

// cutoff is the first day inside the window.
func (a *Aggregator) cutoff() time.Time {
	today := a.now().UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(a.window - 1))
}

func (a *Aggregator) isSent(m *mailbox.Message) bool {
	return a.sent[m.FolderID] || a.self[m.From.Normalized()]
}

func (st *state) apply(m *mailbox.Message, sign int, cutoff time.Time, sent bool) {
	st.total += sign
	if !m.Read {
		st.unread += sign
	}
	if m.Starred {
		st.starred += sign
	}
	if m.HasAttachments() {
		st.withAttachments += sign
	}

	fc, ok := st.folders[m.FolderID]
	if !ok {
		fc = &folderCount{}
		st.folders[m.FolderID] = fc
	}
	fc.total += sign
	if !m.Read {
		fc.unread += sign
	}
	if fc.total == 0 && fc.unread == 0 {
		delete(st.folders, m.FolderID)
	}

	if !m.Date.Before(cutoff) {
		key := m.Date.UTC().Format(dayLayout)
		dv, ok := st.days[key]
		if !ok {
			dv = &DayVolume{Date: key}
			st.days[key] = dv
		}
		if sent {
			dv.Sent += sign
		} else {
			dv.Received += sign
		}
		dv.Total += sign
		if dv.Sent == 0 && dv.Received == 0 {
			delete(st.days, key)
		}
	}

	if sent {
		for _, addr := range append(append([]mailbox.Address(nil), m.To...), m.Cc...) {
			st.touch(addr, m.ID, m.Date, sign, true)
		}
	} else {
		st.touch(m.From, m.ID, m.Date, sign, false)
	}
}

func (st *state) touch(addr mailbox.Address, msgID string, at time.Time, sign int, sent bool) {
	key := addr.Normalized()
	if key == "" {
		return
	}
	c, ok := st.contacts[key]
	if !ok {
		if sign < 0 {
			return
		}
		c = &contactState{sent: map[string]time.Time{}, received: map[string]time.Time{}}
		st.contacts[key] = c
	}
	if addr.Name != "" && sign > 0 {
		c.name = addr.Name
	}
	target := c.received
	if sent {
		target = c.sent
	}
	if sign > 0 {
		target[msgID] = at
	} else {
		delete(target, msgID)
	}
	if len(c.sent) == 0 && len(c.received) == 0 {
		delete(st.contacts, key)
	}
}

func (c *contactState) summary(addr string) Contact {
	out := Contact{Address: addr, Name: c.name, Sent: len(c.sent), Received: len(c.received)}
	out.Total = out.Sent + out.Received
	for _, t := range c.sent {
		if t.After(out.LastInteraction) {
			out.LastInteraction = t
		}
	}
	for _, t := range c.received {
		if t.After(out.LastInteraction) {
			out.LastInteraction = t
		}
	}
	return out
}

// Stats returns mailbox totals.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fresh()
	return a.stats()
}

func (a *Aggregator) stats() Stats {
	s := Stats{
		TotalMessages:   a.st.total,
		Unread:          a.st.unread,
		Starred:         a.st.starred,
		WithAttachments: a.st.withAttachments,
		Contacts:        len(a.st.contacts),
		Folders:         make([]FolderStats, 0, len(a.st.folders)),
	}
	for id, fc := range a.st.folders {
		s.Folders = append(s.Folders, FolderStats{Folder: id, Total: fc.total, Unread: fc.unread})
	}
	sort.Slice(s.Folders, func(i, j int) bool { return s.Folders[i].Folder < s.Folders[j].Folder })
	return s
}

// Trends returns one entry per day for the last days days, oldest first,
// including empty days. days is clamped to the window.
func (a *Aggregator) Trends(days int) []DayVolume {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fresh()
	return a.trends(days)
}

func (a *Aggregator) trends(days int) []DayVolume {
	if days <= 0 || days > a.window {
		days = a.window
	}
	today := a.now().UTC().Truncate(24 * time.Hour)
	out := make([]DayVolume, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := today.AddDate(0, 0, -i).Format(dayLayout)
		if dv, ok := a.st.days[key]; ok {
			out = append(out, *dv)
		} else {
			out = append(out, DayVolume{Date: key})
		}
	}
	return out
}

// Contacts returns up to limit contacts by interaction count. A
// non-positive limit returns all of them.
func (a *Aggregator) Contacts(limit int) []Contact {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fresh()
	return a.contacts(limit, func(c Contact) int { return c.Total })
}

func (a *Aggregator) contacts(limit int, score func(Contact) int) []Contact {
	out := make([]Contact, 0, len(a.st.contacts))
	for addr, c := range a.st.contacts {
		s := c.summary(addr)
		if score(s) > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si > sj
		}
		if !out[i].LastInteraction.Equal(out[j].LastInteraction) {
			return out[i].LastInteraction.After(out[j].LastInteraction)
		}
		return strings.Compare(out[i].Address, out[j].Address) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Report returns the combined analytics view.
func (a *Aggregator) Report(top int) Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fresh()

	r := Report{
		Stats:         a.stats(),
		WindowDays:    a.window,
		TopSenders:    a.contacts(top, func(c Contact) int { return c.Received }),
		TopRecipients: a.contacts(top, func(c Contact) int { return c.Sent }),
	}
	for _, dv := range a.trends(a.window) {
		r.ReceivedInWindow += dv.Received
		r.SentInWindow += dv.Sent
		if dv.Total > 0 && (r.BusiestDay == nil || dv.Total > r.BusiestDay.Total) {
			d := dv
			r.BusiestDay = &d
		}
	}
	r.AveragePerDay = float64(r.ReceivedInWindow+r.SentInWindow) / float64(a.window)
	return r
}
