package query

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/mailbox/mailboxtest"
)

func ptr[T any](v T) *T { return &v }

func ids(msgs []*mailbox.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func newEngine(msgs ...*mailbox.Message) *Engine {
	store := cache.New(cache.Limits{})
	store.Apply(cache.Batch{Upserts: msgs})
	return New(store, DefaultLimits())
}

func TestLimits_Clamp(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		in     Page
		want   Page
	}{
		{"defaults", DefaultLimits(), Page{}, Page{Offset: 0, Limit: 50}},
		{"clamped", DefaultLimits(), Page{Limit: 500}, Page{Limit: 100}},
		{"negative offset", DefaultLimits(), Page{Offset: -5, Limit: 10}, Page{Offset: 0, Limit: 10}},
		{"negative limit", DefaultLimits(), Page{Limit: -1}, Page{Limit: 50}},
		{"custom", Limits{Default: 20, Max: 30}, Page{Limit: 40}, Page{Limit: 30}},
		{"default above max", Limits{Default: 80, Max: 30}, Page{}, Page{Limit: 30}},
		{"zero limits", Limits{}, Page{Limit: 1000}, Page{Limit: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.limits.Clamp(tt.in))
		})
	}
}

func TestListMessages_PaginationStable(t *testing.T) {
	var msgs []*mailbox.Message
	for i := 0; i < 25; i++ {
		msgs = append(msgs, mailboxtest.Msg(fmt.Sprintf("m%02d", i), "INBOX", i%7))
	}
	e := newEngine(msgs...)

	first, err := e.ListMessages("INBOX", Page{Offset: 0, Limit: 10})
	require.NoError(t, err)
	second, err := e.ListMessages("INBOX", Page{Offset: 10, Limit: 10})
	require.NoError(t, err)
	all, err := e.ListMessages("INBOX", Page{Offset: 0, Limit: 20})
	require.NoError(t, err)

	assert.Equal(t, ids(all.Items), append(ids(first.Items), ids(second.Items)...))
	assert.Equal(t, 25, first.Total)
	assert.True(t, second.HasMore)

	last, err := e.ListMessages("INBOX", Page{Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.False(t, last.HasMore)

	past, err := e.ListMessages("INBOX", Page{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
}

func TestListMessages_Errors(t *testing.T) {
	e := newEngine(mailboxtest.Msg("1", "INBOX", 1))

	_, err := e.ListMessages("", Page{})
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
	_, err = e.ListMessages("Nope", Page{})
	assert.Equal(t, mailbox.KindNotFound, mailbox.KindOf(err))

	_, err = e.GetMessage("missing")
	assert.Equal(t, mailbox.KindNotFound, mailbox.KindOf(err))
	m, err := e.GetMessage("1")
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)
}

func TestSearch_Filters(t *testing.T) {
	a := mailboxtest.Msg("a", "INBOX", 1)
	a.Subject = "Quarterly report"
	a.Read = true
	b := mailboxtest.Msg("b", "INBOX", 2)
	b.Starred = true
	b.Snippet = "see the attached invoice"
	b.Attachments = []mailbox.Attachment{{Filename: "invoice.pdf"}}
	c := mailboxtest.Msg("c", "Archive", 3)
	c.From = mailbox.Address{Name: "Alice", Email: "alice@corp.example"}
	c.Cc = []mailbox.Address{{Email: "boss@corp.example"}}
	e := newEngine(a, b, c)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"c", "b", "a"}},
		{"folder", Filter{Folder: "INBOX"}, []string{"b", "a"}},
		{"from substring", Filter{From: "ALICE"}, []string{"c"}},
		{"recipient includes cc", Filter{To: "boss@"}, []string{"c"}},
		{"subject", Filter{Subject: "quarterly"}, []string{"a"}},
		{"text over snippet", Filter{Text: "invoice"}, []string{"b"}},
		{"text over sender", Filter{Text: "senderb@"}, []string{"b"}},
		{"read", Filter{Read: ptr(true)}, []string{"a"}},
		{"unread", Filter{Read: ptr(false)}, []string{"c", "b"}},
		{"starred", Filter{Starred: ptr(true)}, []string{"b"}},
		{"attachments", Filter{HasAttach: ptr(true)}, []string{"b"}},
		{"no attachments", Filter{HasAttach: ptr(false)}, []string{"c", "a"}},
		{"date range", Filter{
			DateFrom: mailboxtest.BaseTime.Add(90 * time.Minute),
			DateTo:   mailboxtest.BaseTime.Add(3 * time.Hour),
		}, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Search(tt.filter, Page{}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Items))
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestSearch_Sort(t *testing.T) {
	a := mailboxtest.Msg("a", "INBOX", 1)
	a.Subject = "beta"
	a.From = mailbox.Address{Email: "zed@example.com"}
	b := mailboxtest.Msg("b", "INBOX", 2)
	b.Subject = "Alpha"
	b.From = mailbox.Address{Email: "amy@example.com"}
	c := mailboxtest.Msg("c", "INBOX", 3)
	c.Subject = "gamma"
	c.From = mailbox.Address{Email: "max@example.com"}
	e := newEngine(a, b, c)

	tests := map[string][]string{
		"":          {"c", "b", "a"},
		SortDate:    {"c", "b", "a"},
		SortDateAsc: {"a", "b", "c"},
		SortSubject: {"b", "a", "c"},
		SortFrom:    {"b", "c", "a"},
	}
	for key, want := range tests {
		res, err := e.Search(Filter{}, Page{}, key)
		require.NoError(t, err, key)
		assert.Equal(t, want, ids(res.Items), key)
	}

	_, err := e.Search(Filter{}, Page{}, "size")
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
}

func TestSearch_InvalidDateRange(t *testing.T) {
	e := newEngine()
	_, err := e.Search(Filter{
		DateFrom: mailboxtest.BaseTime,
		DateTo:   mailboxtest.BaseTime.Add(-time.Hour),
	}, Page{}, "")
	assert.Equal(t, mailbox.KindInvalidInput, mailbox.KindOf(err))
}

func TestSearch_Paginates(t *testing.T) {
	var msgs []*mailbox.Message
	for i := 0; i < 120; i++ {
		msgs = append(msgs, mailboxtest.Msg(fmt.Sprintf("m%03d", i), "INBOX", i))
	}
	e := newEngine(msgs...)

	res, err := e.Search(Filter{}, Page{Limit: 1000}, "")
	require.NoError(t, err)
	assert.Len(t, res.Items, MaxLimit)
	assert.Equal(t, 120, res.Total)
	assert.True(t, res.HasMore)

	res, err = e.Search(Filter{}, Page{Offset: 100, Limit: 50}, "")
	require.NoError(t, err)
	assert.Len(t, res.Items, 20)
	assert.False(t, res.HasMore)
}
