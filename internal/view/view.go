// Package view keeps a locally held, paginated collection in step with a
// remote result set. A View merges fetched pages, applies change events in
// arrival order and notifies listeners after every mutation.
package view

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

var noOpLogger = zap.NewNop()

// State is an immutable snapshot of a view.
type State[T any] struct {
	Items         []T
	Pagination    query.PaginationData
	Configuration query.Configuration[T]
	Loaded        bool
}

// CanLoadMore reports whether QueryMore would issue a request.
func (s State[T]) CanLoadMore() bool {
	return s.Pagination.CanLoadMore()
}

// Config wires a view to its collaborators.
type Config[T collection.Identifiable] struct {
	Query       query.Query[T]
	Fetcher     query.Fetcher[T]
	Rules       Rules[T]
	Nesting     *collection.Nesting[T]
	DefaultSort []query.Sort[T]
	Events      events.Source
	Logger      *zap.Logger
	// ForceRefetch treats the filter as not locally evaluable.
	ForceRefetch bool
	// OnError receives failures of refetches triggered by events.
	OnError func(error)
}

type listener[T any] struct {
	id int64
	fn func(State[T])
}

// View is a single-writer collection. Page merges and event applications
// serialise on one mutex; fetch round trips serialise on another so the
// cursor read, the request and the merge of one page are never interleaved
// with another page.
type View[T collection.Identifiable] struct {
	base         query.Query[T]
	fetcher      query.Fetcher[T]
	rules        Rules[T]
	nesting      *collection.Nesting[T]
	compare      collection.Comparator[T]
	source       events.Source
	logger       *zap.Logger
	forceRefetch bool
	onError      func(error)

	fetchMu  sync.Mutex
	mu       sync.Mutex
	state    State[T]
	snapshot atomic.Pointer[State[T]]

	listenersMu  sync.Mutex
	listeners    []listener[T]
	nextListener int64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	cleanup     func()
	done        chan struct{}
}

// New builds a view. The query's sort, or DefaultSort when the query has
// none, defines the order of held items.
func New[T collection.Identifiable](cfg Config[T]) (*View[T], error) {
	if cfg.Fetcher == nil {
		return nil, newError(opNew, "missing_fetcher", errMissingFetcher)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	sorts := cfg.Query.Sort
	if len(sorts) == 0 {
		sorts = cfg.DefaultSort
	}

	v := &View[T]{
		base:         cfg.Query.WithCursors("", ""),
		fetcher:      cfg.Fetcher,
		rules:        cfg.Rules,
		nesting:      cfg.Nesting,
		compare:      query.Comparator(sorts),
		source:       cfg.Events,
		logger:       logger.With(zap.String("entity_type", string(cfg.Rules.Type))),
		forceRefetch: cfg.ForceRefetch,
		onError:      cfg.OnError,
	}
	v.state = State[T]{Items: []T{}, Configuration: v.base.Configuration()}
	initial := v.state
	v.snapshot.Store(&initial)
	return v, nil
}

// State returns the latest published snapshot. It is safe to call from an
// OnChange listener.
func (v *View[T]) State() State[T] {
	return *v.snapshot.Load()
}

// Items returns the held collection.
func (v *View[T]) Items() []T {
	return v.State().Items
}

// Get fetches the first page with cursors cleared and merges it into the
// held collection, so locally applied events survive a refresh. It returns
// the held collection after the merge.
func (v *View[T]) Get(ctx context.Context) ([]T, error) {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	request := v.base.WithCursors("", "")
	page, err := v.fetcher.FetchPage(ctx, request)
	if err != nil {
		v.logger.Error("view fetch failed", zap.String("operation", opGet), zap.Error(err))
		return nil, newError(opGet, "fetch_failed", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, newError(opGet, "cancelled", ctxErr)
	}

	v.mu.Lock()
	v.state.Items = v.mergeLocked(v.state.Items, page.Items)
	v.state.Pagination = page.Pagination
	v.state.Configuration = request.Configuration()
	v.state.Loaded = true
	items := v.state.Items
	v.publishLocked()
	v.mu.Unlock()

	v.logger.Debug("view page merged",
		zap.String("operation", opGet),
		zap.Int("page_size", len(page.Items)),
		zap.Bool("can_load_more", page.Pagination.CanLoadMore()),
	)
	return items, nil
}

// QueryMore fetches the page after the stored next cursor with the
// configuration of the last fetch. limit overrides the query limit when
// positive. With no next cursor it returns an empty slice without a request.
func (v *View[T]) QueryMore(ctx context.Context, limit int) ([]T, error) {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	current := v.State()
	if !current.CanLoadMore() {
		return []T{}, nil
	}
	request := v.base.WithConfiguration(current.Configuration).WithCursors(current.Pagination.Next, "")
	if limit > 0 {
		request = request.WithLimit(limit)
	}

	page, err := v.fetcher.FetchPage(ctx, request)
	if err != nil {
		v.logger.Error("view fetch failed", zap.String("operation", opQueryMore), zap.Error(err))
		return nil, newError(opQueryMore, "fetch_failed", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, newError(opQueryMore, "cancelled", ctxErr)
	}

	v.mu.Lock()
	v.state.Items = v.mergeLocked(v.state.Items, page.Items)
	v.state.Pagination = page.Pagination
	v.state.Configuration = request.Configuration()
	v.state.Loaded = true
	v.publishLocked()
	v.mu.Unlock()

	items := page.Items
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Apply routes one change event and applies the resulting action. Errors
// are only returned by refetches the event triggers.
func (v *View[T]) Apply(ctx context.Context, event events.ChangeEvent) error {
	v.mu.Lock()
	action := Route(v.rules, event, v.routeContextLocked())
	if action.Kind == ActionRefresh && collection.IndexOf(v.state.Items, action.Entity.Identity()) < 0 {
		action = Action[T]{Kind: ActionRefetch}
	}
	if action.Kind == ActionRefetch {
		v.mu.Unlock()
		return v.refetch(ctx, event)
	}
	changed := v.applyLocked(action)
	if changed {
		v.publishLocked()
	}
	v.mu.Unlock()

	if action.Kind != ActionIgnore {
		v.logger.Debug("view event applied",
			zap.String("event_kind", string(event.Kind)),
			zap.String("event_id", event.ID),
			zap.Stringer("action", action.Kind),
			zap.Bool("changed", changed),
		)
	}
	return nil
}

// OnChange registers fn to receive every snapshot published after a
// mutation. Listeners run on the mutating goroutine while the view is
// locked, in registration order; they may read State but must not call
// Get, QueryMore or Apply.
func (v *View[T]) OnChange(fn func(State[T])) func() {
	v.listenersMu.Lock()
	v.nextListener++
	id := v.nextListener
	v.listeners = append(v.listeners, listener[T]{id: id, fn: fn})
	v.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.listenersMu.Lock()
			defer v.listenersMu.Unlock()
			for index, entry := range v.listeners {
				if entry.id == id {
					v.listeners = append(v.listeners[:index:index], v.listeners[index+1:]...)
					return
				}
			}
		})
	}
}

// Start subscribes to the configured event source and applies events in
// arrival order until ctx ends or Close is called. Without a source, or
// while already consuming, it does nothing.
func (v *View[T]) Start(ctx context.Context) {
	v.lifecycleMu.Lock()
	defer v.lifecycleMu.Unlock()
	if v.source == nil || v.running() {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, cleanup := v.source.Subscribe(runCtx)
	done := make(chan struct{})
	v.cancel = cancel
	v.cleanup = cleanup
	v.done = done

	go func() {
		defer close(done)
		for event := range stream {
			// refetch failures are already logged and reported through OnError
			_ = v.Apply(runCtx, event)
		}
	}()
}

// running reports whether a consumer started earlier is still applying
// events. The caller holds lifecycleMu.
func (v *View[T]) running() bool {
	if v.done == nil {
		return false
	}
	select {
	case <-v.done:
		v.cleanup()
		v.cancel()
		v.cancel, v.cleanup, v.done = nil, nil, nil
		return false
	default:
		return true
	}
}

// Close stops event consumption and waits for the consumer to exit. Held
// state is kept and a later Start subscribes again.
func (v *View[T]) Close() {
	v.lifecycleMu.Lock()
	defer v.lifecycleMu.Unlock()
	if v.done == nil {
		return
	}
	v.cancel()
	v.cleanup()
	<-v.done
	v.cancel, v.cleanup, v.done = nil, nil, nil
}

func (v *View[T]) refetch(ctx context.Context, event events.ChangeEvent) error {
	v.logger.Debug("view refetch triggered",
		zap.String("event_kind", string(event.Kind)),
		zap.String("event_id", event.ID),
	)
	if _, err := v.Get(ctx); err != nil {
		wrapped := newError(opRefetch, "get_failed", err)
		v.logger.Warn("view refetch failed", zap.Error(wrapped))
		if v.onError != nil {
			v.onError(wrapped)
		}
		return wrapped
	}
	return nil
}

func (v *View[T]) routeContextLocked() RouteContext[T] {
	filter := v.state.Configuration.Filter
	return RouteContext[T]{
		Filter:  filter,
		Refetch: v.forceRefetch || !filter.LocallyEvaluable(),
		Opaque:  v.forceRefetch,
		Nested:  v.nesting != nil,
	}
}

func (v *View[T]) applyLocked(action Action[T]) bool {
	items := v.state.Items
	var (
		next    []T
		changed bool
	)
	switch action.Kind {
	case ActionInsert:
		next, changed = collection.Insert(items, v.carry(items, action.Entity), v.compare), true
	case ActionUpsert:
		next, changed = collection.Upsert(items, v.carry(items, action.Entity), v.compare), true
	case ActionReplace, ActionRefresh:
		if collection.IndexOf(items, action.Entity.Identity()) < 0 {
			return false
		}
		next, changed = collection.Replace(items, v.carry(items, action.Entity), v.compare), true
	case ActionRemove:
		next, changed = collection.Remove(items, action.ID, v.nesting)
	case ActionRemoveIDs:
		next, changed = collection.RemoveIDs(items, collection.NewIDSet(action.IDs...), v.nesting)
	case ActionRemoveAll:
		next, changed = collection.RemoveAll(items)
	case ActionMerge:
		next, changed = v.mergeLocked(items, action.Entities), true
	case ActionUpdate:
		if action.Mutate == nil {
			return false
		}
		next, changed = collection.Update(items, action.ID, v.nesting, v.compare, action.Mutate)
	case ActionInsertChild:
		next, changed = v.insertChild(items, action.ParentID, action.Entity)
	case ActionRemoveChild:
		next, changed = v.removeChild(items, action.ParentID, action.ID)
	case ActionMapAll:
		if action.Map == nil {
			return false
		}
		next, changed = collection.MapAll(items, v.nesting, action.Map)
		if changed && !collection.IsSorted(next, v.compare, nil) {
			next = collection.Merge(nil, next, v.compare)
		}
	default:
		return false
	}
	if changed {
		v.state.Items = next
	}
	return changed
}

func (v *View[T]) childCompare() collection.Comparator[T] {
	if v.nesting != nil && v.nesting.Compare != nil {
		return v.nesting.Compare
	}
	return v.compare
}

func (v *View[T]) insertChild(items []T, parentID string, child T) ([]T, bool) {
	if v.nesting == nil {
		return items, false
	}
	nesting, compare := v.nesting, v.childCompare()
	return collection.Update(items, parentID, nesting, v.compare, func(parent T) T {
		children := nesting.Children(parent)
		existed := collection.IndexOf(children, child.Identity()) >= 0
		parent = nesting.WithChildren(parent, collection.Insert(children, child, compare))
		if !existed && v.rules.OnChildAdded != nil {
			parent = v.rules.OnChildAdded(parent, child)
		}
		return parent
	})
}

func (v *View[T]) removeChild(items []T, parentID, childID string) ([]T, bool) {
	nesting := v.nesting
	removed := false
	next, found := collection.Update(items, parentID, nesting, v.compare, func(parent T) T {
		pruned, ok := collection.Remove(nesting.Children(parent), childID, nesting)
		if !ok {
			return parent
		}
		removed = true
		parent = nesting.WithChildren(parent, pruned)
		if v.rules.OnChildRemoved != nil {
			parent = v.rules.OnChildRemoved(parent, childID)
		}
		return parent
	})
	if found && removed {
		return next, true
	}
	return collection.Remove(items, childID, nesting)
}

func (v *View[T]) mergeLocked(items, incoming []T) []T {
	if v.rules.Carry != nil && len(items) > 0 {
		carried := make([]T, len(incoming))
		for index, entity := range incoming {
			carried[index] = v.carry(items, entity)
		}
		incoming = carried
	}
	return collection.Merge(items, incoming, v.compare)
}

func (v *View[T]) carry(items []T, entity T) T {
	if v.rules.Carry == nil {
		return entity
	}
	if held, ok := collection.Find(items, entity.Identity(), nil); ok {
		return v.rules.Carry(held, entity)
	}
	return entity
}

// publishLocked stores a new snapshot and notifies listeners. Callers hold mu.
func (v *View[T]) publishLocked() {
	snapshot := v.state
	v.snapshot.Store(&snapshot)

	v.listenersMu.Lock()
	current := append([]listener[T](nil), v.listeners...)
	v.listenersMu.Unlock()

	for _, entry := range current {
		entry.fn(snapshot)
	}
}
