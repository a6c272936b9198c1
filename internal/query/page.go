package query

const (
	// DefaultLimit is the page size when none is given.
	DefaultLimit = 50
	// MaxLimit is the largest page size served; larger requests are clamped.
	MaxLimit = 100
)

// Page selects a window of results.
type Page struct {
	Offset int
	Limit  int
}

// Limits holds the configured page sizes.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the built-in page sizes.
func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: MaxLimit}
}

// Clamp normalizes p: a non-positive limit becomes the default, a limit
// above the maximum becomes the maximum and a negative offset becomes 0.
func (l Limits) Clamp(p Page) Page {
	def, hi := l.Default, l.Max
	if hi <= 0 {
		hi = MaxLimit
	}
	if def <= 0 || def > hi {
		def = min(DefaultLimit, hi)
	}
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > hi {
		p.Limit = hi
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Result is one page of messages.
type Result[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

func paginate[T any](all []T, p Page) Result[T] {
	total := len(all)
	res := Result[T]{Total: total, Offset: p.Offset, Limit: p.Limit, Items: []T{}}
	if p.Offset >= total {
		return res
	}
	end := min(p.Offset+p.Limit, total)
	res.Items = all[p.Offset:end]
	res.HasMore = end < total
	return res
}
