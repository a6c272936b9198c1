package query

import (
	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// Engine serves listings and searches over a Store.
type Engine struct {
	store  *cache.Store
	limits Limits
}

// New creates a query engine.
func New(store *cache.Store, limits Limits) *Engine {
	return &Engine{store: store, limits: limits}
}

// Limits returns the configured page sizes.
func (e *Engine) Limits() Limits {
	return e.limits
}

// ListMessages returns one page of a folder in listing order.
func (e *Engine) ListMessages(folder string, p Page) (Result[*mailbox.Message], error) {
	if folder == "" {
		return Result[*mailbox.Message]{}, mailbox.Errorf(mailbox.KindInvalidInput, "list", "", "folder is required")
	}
	if _, ok := e.store.Folder(folder); !ok {
		return Result[*mailbox.Message]{}, mailbox.E(mailbox.KindNotFound, "list", folder, nil)
	}
	p = e.limits.Clamp(p)
	items, total := e.store.ListFolder(folder, p.Offset, p.Limit)
	return Result[*mailbox.Message]{
		Items:   items,
		Total:   total,
		Offset:  p.Offset,
		Limit:   p.Limit,
		HasMore: p.Offset+len(items) < total,
	}, nil
}

// GetMessage returns the cached copy of a message.
func (e *Engine) GetMessage(id string) (*mailbox.Message, error) {
	if id == "" {
		return nil, mailbox.Errorf(mailbox.KindInvalidInput, "get message", "", "id is required")
	}
	m, ok := e.store.GetMessage(id)
	if !ok {
		return nil, mailbox.E(mailbox.KindNotFound, "get message", id, nil)
	}
	return m, nil
}

// Search filters all cached messages, sorts them by sortBy and returns
// one page.
func (e *Engine) Search(f Filter, p Page, sortBy string) (Result[*mailbox.Message], error) {
	if err := f.Validate(); err != nil {
		return Result[*mailbox.Message]{}, err
	}
	match := f.compile()

	var hits []*mailbox.Message
	if f.Folder != "" {
		hits, _ = e.store.ListFolder(f.Folder, 0, 0)
	} else {
		hits = e.store.Messages()
	}
	n := 0
	for _, m := range hits {
		if match(m) {
			hits[n] = m
			n++
		}
	}
	hits = hits[:n]

	if err := sortMessages(hits, sortBy); err != nil {
		return Result[*mailbox.Message]{}, err
	}
	return paginate(hits, e.limits.Clamp(p)), nil
}

// ListFolders returns every cached folder with its counts.
func (e *Engine) ListFolders() []mailbox.Folder {
	return e.store.Folders()
}
