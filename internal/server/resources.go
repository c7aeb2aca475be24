package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/store"
)

var (
	errInvalidRequest = errors.New("invalid request body")
	errForbidden      = errors.New("caller does not own the entity")
	errConflict       = errors.New("entity already exists")
	errUnsupported    = errors.New("operation not supported for resource")
)

// resource is the untyped surface the router dispatches to.
type resource interface {
	query(ctx context.Context, body []byte) (any, error)
	create(ctx context.Context, caller string, body []byte) (any, error)
	update(ctx context.Context, caller, id string, body []byte) (any, error)
	remove(ctx context.Context, caller, id string) (any, error)
}

// entityResource serves one entity type. Hooks left nil fall back to storing
// the payload as sent.
type entityResource[T collection.Identifiable] struct {
	items *store.Collection[T]
	// prepare assigns server-owned fields to a new entity.
	prepare func(ctx context.Context, caller string, entity T) (T, error)
	// merge combines the stored snapshot with an update payload.
	merge func(ctx context.Context, caller string, existing, incoming T) (T, error)
	// owner names the user allowed to change or delete an entity; empty
	// means anyone.
	owner func(T) string
	// changed runs after every write: counters elsewhere, then events.
	changed func(ctx context.Context, kind events.Kind, previous, entity T) error
	// present shapes query results before they leave the server.
	present func(ctx context.Context, items []T) ([]T, error)
}

func (r *entityResource[T]) query(ctx context.Context, body []byte) (any, error) {
	var request query.Request
	if len(body) > 0 {
		if err := json.Unmarshal(body, &request); err != nil {
			return nil, errInvalidRequest
		}
	}
	q, err := query.DecodeRequest(request, r.items.Catalog())
	if err != nil {
		return nil, err
	}
	page, err := r.items.FetchPage(ctx, q)
	if err != nil {
		return nil, err
	}
	if r.present != nil {
		items, err := r.present(ctx, page.Items)
		if err != nil {
			return nil, err
		}
		page.Items = items
	}
	return query.NewPageResponse(page), nil
}

func (r *entityResource[T]) create(ctx context.Context, caller string, body []byte) (any, error) {
	var entity T
	if err := json.Unmarshal(body, &entity); err != nil {
		return nil, errInvalidRequest
	}
	if r.prepare != nil {
		prepared, err := r.prepare(ctx, caller, entity)
		if err != nil {
			return nil, err
		}
		entity = prepared
	}
	if entity.Identity() == "" {
		return nil, errInvalidRequest
	}
	if _, err := r.items.Get(ctx, entity.Identity()); err == nil {
		return nil, errConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := r.items.Save(ctx, entity); err != nil {
		return nil, err
	}
	var previous T
	if err := r.notify(ctx, events.KindAdded, previous, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *entityResource[T]) update(ctx context.Context, caller, id string, body []byte) (any, error) {
	existing, err := r.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(caller, existing); err != nil {
		return nil, err
	}
	var incoming T
	if err := json.Unmarshal(body, &incoming); err != nil {
		return nil, errInvalidRequest
	}
	entity := incoming
	if r.merge != nil {
		if entity, err = r.merge(ctx, caller, existing, incoming); err != nil {
			return nil, err
		}
	}
	if entity.Identity() != existing.Identity() {
		return nil, errInvalidRequest
	}
	if err := r.items.Save(ctx, entity); err != nil {
		return nil, err
	}
	if err := r.notify(ctx, events.KindUpdated, existing, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *entityResource[T]) remove(ctx context.Context, caller, id string) (any, error) {
	existing, err := r.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(caller, existing); err != nil {
		return nil, err
	}
	deleted, err := r.items.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.notify(ctx, events.KindDeleted, deleted, deleted); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *entityResource[T]) authorize(caller string, entity T) error {
	if r.owner == nil {
		return nil
	}
	if owner := r.owner(entity); owner != "" && owner != caller {
		return errForbidden
	}
	return nil
}

func (r *entityResource[T]) notify(ctx context.Context, kind events.Kind, previous, entity T) error {
	if r.changed == nil {
		return nil
	}
	return r.changed(ctx, kind, previous, entity)
}

// errorStatus maps service errors onto HTTP statuses and wire codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, query.ErrInvalidFilter),
		errors.Is(err, query.ErrUnknownField),
		errors.Is(err, store.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errUnsupported):
		return http.StatusMethodNotAllowed, "unsupported"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
