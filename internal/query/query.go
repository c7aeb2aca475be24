package query

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidQuery indicates a query request with out-of-range parameters.
var ErrInvalidQuery = errors.New("query: invalid query")

// PaginationData is the cursor pair returned with every page. An empty Next
// means the frontier has been reached.
type PaginationData struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"prev,omitempty"`
}

// CanLoadMore reports whether a next cursor is present.
func (p PaginationData) CanLoadMore() bool {
	return p.Next != ""
}

// Configuration is the filter and sort a page was actually fetched with.
type Configuration[T any] struct {
	Filter *Filter[T]
	Sort   []Sort[T]
}

// Query is an immutable request descriptor. Derive follow-up queries with
// the With* helpers rather than editing a shared value.
type Query[T any] struct {
	Filter   *Filter[T]
	Sort     []Sort[T]
	Limit    int
	Next     string
	Previous string
}

// WithCursors returns a copy of q with both cursors replaced.
func (q Query[T]) WithCursors(next, previous string) Query[T] {
	q.Sort = append([]Sort[T](nil), q.Sort...)
	q.Next = next
	q.Previous = previous
	return q
}

// WithLimit returns a copy of q with limit replaced.
func (q Query[T]) WithLimit(limit int) Query[T] {
	q.Sort = append([]Sort[T](nil), q.Sort...)
	q.Limit = limit
	return q
}

// WithConfiguration returns a copy of q carrying cfg's filter and sort.
func (q Query[T]) WithConfiguration(cfg Configuration[T]) Query[T] {
	q.Filter = cfg.Filter
	q.Sort = append([]Sort[T](nil), cfg.Sort...)
	return q
}

// Configuration returns the filter and sort of q.
func (q Query[T]) Configuration() Configuration[T] {
	return Configuration[T]{
		Filter: q.Filter,
		Sort:   append([]Sort[T](nil), q.Sort...),
	}
}

// Request is the wire form of a Query.
type Request struct {
	Filter   map[string]any `json:"filter,omitempty"`
	Sort     []SortRequest  `json:"sort,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Next     string         `json:"next,omitempty"`
	Previous string         `json:"prev,omitempty"`
}

// Encode converts q into its wire form.
func (q Query[T]) Encode() Request {
	return Request{
		Filter:   q.Filter.Encode(),
		Sort:     EncodeSort(q.Sort),
		Limit:    q.Limit,
		Next:     q.Next,
		Previous: q.Previous,
	}
}

// DecodeRequest rebuilds a typed query from its wire form.
func DecodeRequest[T any](request Request, catalog Catalog[T]) (Query[T], error) {
	filter, err := ParseFilter(request.Filter, catalog)
	if err != nil {
		return Query[T]{}, err
	}
	sorts, err := ParseSort(request.Sort, catalog)
	if err != nil {
		return Query[T]{}, err
	}
	if request.Limit < 0 {
		return Query[T]{}, fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return Query[T]{
		Filter:   filter,
		Sort:     sorts,
		Limit:    request.Limit,
		Next:     request.Next,
		Previous: request.Previous,
	}, nil
}

// Page is one fetched slice of a remote result set.
type Page[T any] struct {
	Items      []T
	Pagination PaginationData
}

// PageResponse is the wire form of a Page.
type PageResponse[T any] struct {
	Items    []T    `json:"items"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"prev,omitempty"`
}

// Page converts the wire response into a Page.
func (r PageResponse[T]) Page() Page[T] {
	return Page[T]{
		Items:      r.Items,
		Pagination: PaginationData{Next: r.Next, Previous: r.Previous},
	}
}

// NewPageResponse converts a Page into its wire form.
func NewPageResponse[T any](page Page[T]) PageResponse[T] {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	return PageResponse[T]{Items: items, Next: page.Pagination.Next, Previous: page.Pagination.Previous}
}

// Fetcher is the repository collaborator that resolves a query into a page.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, q Query[T]) (Page[T], error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc[T any] func(ctx context.Context, q Query[T]) (Page[T], error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, q Query[T]) (Page[T], error) {
	return f(ctx, q)
}
