package query

import (
	"sort"
	"strings"
	"time"

	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// Sort keys accepted by Search.
const (
	SortDate    = "date"
	SortDateAsc = "date_asc"
	SortSubject = "subject"
	SortFrom    = "from"
)

// Filter narrows a search. Zero fields do not filter; substring matches are
// case-insensitive.
type Filter struct {
	Folder    string
	From      string
	To        string
	Subject   string
	Text      string
	DateFrom  time.Time
	DateTo    time.Time
	Read      *bool
	Starred   *bool
	HasAttach *bool
}

// Validate rejects inverted date ranges.
func (f Filter) Validate() error {
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateFrom.After(f.DateTo) {
		return mailbox.Errorf(mailbox.KindInvalidInput, "search", "", "dateFrom %s is after dateTo %s",
			f.DateFrom.Format(time.RFC3339), f.DateTo.Format(time.RFC3339))
	}
	return nil
}

func (f Filter) compile() func(*mailbox.Message) bool {
	from := strings.ToLower(f.From)
	to := strings.ToLower(f.To)
	subject := strings.ToLower(f.Subject)
	text := strings.ToLower(f.Text)

	return func(m *mailbox.Message) bool {
		if f.Folder != "" && m.FolderID != f.Folder {
			return false
		}
		if f.Read != nil && m.Read != *f.Read {
			return false
		}
		if f.Starred != nil && m.Starred != *f.Starred {
			return false
		}
		if f.HasAttach != nil && m.HasAttachments() != *f.HasAttach {
			return false
		}
		if !f.DateFrom.IsZero() && m.Date.Before(f.DateFrom) {
			return false
		}
		if !f.DateTo.IsZero() && m.Date.After(f.DateTo) {
			return false
		}
		if from != "" && !containsAddr(from, m.From) {
			return false
		}
		if to != "" && !containsAddr(to, append(append([]mailbox.Address(nil), m.To...), m.Cc...)...) {
			return false
		}
		if subject != "" && !strings.Contains(strings.ToLower(m.Subject), subject) {
			return false
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(m.Subject), text) &&
			!containsAddr(text, m.From) &&
			!strings.Contains(strings.ToLower(m.Snippet), text) {
			return false
		}
		return true
	}
}

func containsAddr(needle string, addrs ...mailbox.Address) bool {
	for _, a := range addrs {
		if strings.Contains(strings.ToLower(a.Name), needle) || strings.Contains(strings.ToLower(a.Email), needle) {
			return true
		}
	}
	return false
}

// sortMessages orders msgs by key. Ties fall back to listing order.
func sortMessages(msgs []*mailbox.Message, key string) error {
	switch key {
	case "", SortDate:
		cache.SortNewestFirst(msgs)
	case SortDateAsc:
		sort.SliceStable(msgs, func(i, j int) bool {
			if !msgs[i].Date.Equal(msgs[j].Date) {
				return msgs[i].Date.Before(msgs[j].Date)
			}
			return msgs[i].ID < msgs[j].ID
		})
	case SortSubject:
		cache.SortNewestFirst(msgs)
		sort.SliceStable(msgs, func(i, j int) bool {
			return strings.ToLower(msgs[i].Subject) < strings.ToLower(msgs[j].Subject)
		})
	case SortFrom:
		cache.SortNewestFirst(msgs)
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].From.Normalized() < msgs[j].From.Normalized()
		})
	default:
		return mailbox.Errorf(mailbox.KindInvalidInput, "search", "", "unknown sort key %q", key)
	}
	return nil
}
