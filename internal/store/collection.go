package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100

	cursorPrefix = "offset:"
)

// ErrInvalidCursor indicates a cursor this store did not issue.
var ErrInvalidCursor = errors.New("store: invalid cursor")

// Collection is the typed view of the records of one entity type. It
// implements query.Fetcher[T] by evaluating the decoded filter and sort
// locally, which keeps server and client semantics identical.
type Collection[T collection.Identifiable] struct {
	service    *Service
	entityType string
	catalog    query.Catalog[T]
	keys       func(T) Keys
}

// NewCollection binds entityType to service. keys extracts the indexed
// columns of an entity; nil stores none.
func NewCollection[T collection.Identifiable](service *Service, entityType string, catalog query.Catalog[T], keys func(T) Keys) *Collection[T] {
	if keys == nil {
		keys = func(T) Keys { return Keys{} }
	}
	return &Collection[T]{service: service, entityType: entityType, catalog: catalog, keys: keys}
}

// Catalog returns the fields and sorts the collection accepts in queries.
func (c *Collection[T]) Catalog() query.Catalog[T] {
	return c.catalog
}

// Save stores entity under its identity.
func (c *Collection[T]) Save(ctx context.Context, entity T) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return newServiceError(opPut, "encode_failed", err)
	}
	return c.service.Put(ctx, c.entityType, entity.Identity(), c.keys(entity), payload)
}

// Get loads the entity stored under id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	record, err := c.service.Take(ctx, c.entityType, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.decode(record, opTake)
}

// Delete removes the entity stored under id and returns its last snapshot.
func (c *Collection[T]) Delete(ctx context.Context, id string) (T, error) {
	record, err := c.service.Remove(ctx, c.entityType, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.decode(record, opRemove)
}

// List returns every entity narrowed by keys, in creation order.
func (c *Collection[T]) List(ctx context.Context, keys Keys) ([]T, error) {
	records, err := c.service.List(ctx, c.entityType, keys)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(records))
	for _, record := range records {
		entity, err := c.decode(record, opList)
		if err != nil {
			return nil, err
		}
		items = append(items, entity)
	}
	return items, nil
}

// FetchPage filters, sorts and pages the stored entities. Cursors are
// opaque offsets; Next wins when both are set.
func (c *Collection[T]) FetchPage(ctx context.Context, q query.Query[T]) (query.Page[T], error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	start := 0
	switch {
	case q.Next != "":
		offset, err := decodeCursor(q.Next)
		if err != nil {
			return query.Page[T]{}, newServiceError(opQuery, "invalid_cursor", err)
		}
		start = offset
	case q.Previous != "":
		offset, err := decodeCursor(q.Previous)
		if err != nil {
			return query.Page[T]{}, newServiceError(opQuery, "invalid_cursor", err)
		}
		start = offset
	}

	all, err := c.List(ctx, Keys{})
	if err != nil {
		return query.Page[T]{}, err
	}
	matched := make([]T, 0, len(all))
	for _, entity := range all {
		if q.Filter.Matches(entity) {
			matched = append(matched, entity)
		}
	}
	if compare := query.Comparator(c.catalog.SortOrDefault(q.Sort)); compare != nil {
		slices.SortStableFunc(matched, compare)
	}

	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+limit, len(matched))
	page := query.Page[T]{Items: append([]T{}, matched[start:end]...)}
	if end < len(matched) {
		page.Pagination.Next = encodeCursor(end)
	}
	if start > 0 {
		page.Pagination.Previous = encodeCursor(max(0, start-limit))
	}

	c.service.loggerOrDefault().Debug("store page served",
		zap.String("entity_type", c.entityType),
		zap.Int("matched", len(matched)),
		zap.Int("offset", start),
		zap.Int("page_size", len(page.Items)),
	)
	return page, nil
}

func (c *Collection[T]) decode(record Record, operation string) (T, error) {
	var entity T
	if err := json.Unmarshal([]byte(record.PayloadJSON), &entity); err != nil {
		c.service.logError(operation, "decode_failed", err,
			zap.String("entity_type", record.EntityType),
			zap.String("entity_id", record.EntityID))
		return entity, newServiceError(operation, "decode_failed", err)
	}
	return entity, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	value, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}
	return offset, nil
}
