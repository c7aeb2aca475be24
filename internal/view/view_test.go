package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

type note struct {
	ID         string
	UserID     string
	UserName   string
	CreatedAt  int
	Likes      int
	ReplyCount int
	Pinned     bool
	FeedIDs    []string
	Replies    []note
}

func (n note) Identity() string {
	return n.ID
}

var (
	noteUserID  = query.NewField("user_id", func(n note) any { return n.UserID })
	noteFeeds   = query.NewRemoteField("feeds", func(n note) any { return n.FeedIDs })
	noteCreated = query.NewSortField("created_at", func(n note) int { return n.CreatedAt })
	newestFirst = []query.Sort[note]{query.Desc(noteCreated)}

	noteReplies = &collection.Nesting[note]{
		Children: func(n note) []note { return n.Replies },
		WithChildren: func(n note, replies []note) note {
			n.Replies = replies
			return n
		},
		Compare: query.Comparator([]query.Sort[note]{query.Asc(noteCreated)}),
	}
)

func noteRules() Rules[note] {
	return Rules[note]{
		Type:           events.EntityComment,
		ReactionTarget: string(events.EntityComment),
		ApplyReaction: func(n note, event events.ChangeEvent) note {
			switch event.Kind {
			case events.KindReactionAdded:
				n.Likes++
			case events.KindReactionRemoved:
				n.Likes--
			}
			return n
		},
		ApplyUser: func(n note, user any) (note, bool) {
			renamed, ok := user.(note)
			if !ok || n.UserID != renamed.UserID || n.UserName == renamed.UserName {
				return n, false
			}
			n.UserName = renamed.UserName
			return n, true
		},
		Carry: func(held, incoming note) note {
			incoming.Pinned = held.Pinned
			return incoming
		},
		OnChildAdded: func(parent, _ note) note {
			parent.ReplyCount++
			return parent
		},
		OnChildRemoved: func(parent note, _ string) note {
			parent.ReplyCount--
			return parent
		},
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages []query.Page[note]
	err   error
	calls []query.Query[note]
}

func (f *fakeFetcher) FetchPage(ctx context.Context, q query.Query[note]) (query.Page[note], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	if f.err != nil {
		return query.Page[note]{}, f.err
	}
	if len(f.pages) == 0 {
		return query.Page[note]{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestView(t *testing.T, fetcher query.Fetcher[note], mutate func(*Config[note])) *View[note] {
	t.Helper()
	cfg := Config[note]{
		Query:       query.Query[note]{Limit: 10},
		Fetcher:     fetcher,
		Rules:       noteRules(),
		DefaultSort: newestFirst,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := New(cfg)
	require.NoError(t, err)
	return v
}

func noteIDs(items []note) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestNewRequiresFetcher(t *testing.T) {
	_, err := New(Config[note]{})

	var viewErr *Error
	require.ErrorAs(t, err, &viewErr)
	assert.Equal(t, "view.new.missing_fetcher", viewErr.Code())
}

func TestAddedEventInsertsNewestFirst(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{
		Items:      []note{{ID: "c1", CreatedAt: 0}},
		Pagination: query.PaginationData{Next: "cur"},
	}}}
	v := newTestView(t, fetcher, nil)

	_, err := v.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, v.Apply(context.Background(), events.Added(events.EntityComment, events.Scope{}, note{ID: "c2", CreatedAt: 1})))

	assert.Equal(t, []string{"c2", "c1"}, noteIDs(v.Items()))
	assert.True(t, v.State().CanLoadMore())
}

func TestUpdatedEventEvictsEntityLeavingFilter(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "a1", UserID: "u1"}}}}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.Query.Filter = query.Equal(noteUserID, "u1")
	})

	_, err := v.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, v.Apply(context.Background(), events.Updated(events.EntityComment, events.Scope{}, note{ID: "a1", UserID: "u2"})))

	assert.Empty(t, v.Items())
}

func TestAddedEventOutsideFilterIsIgnored(t *testing.T) {
	v := newTestView(t, &fakeFetcher{}, func(cfg *Config[note]) {
		cfg.Query.Filter = query.Equal(noteUserID, "u1")
	})

	require.NoError(t, v.Apply(context.Background(), events.Added(events.EntityComment, events.Scope{}, note{ID: "x", UserID: "u9"})))

	assert.Empty(t, v.Items())
}

func TestQueryMoreWithoutCursorSkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "c1"}}}}}
	v := newTestView(t, fetcher, nil)
	_, err := v.Get(context.Background())
	require.NoError(t, err)
	before := v.State()

	items, err := v.QueryMore(context.Background(), 5)

	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, before.Items, v.State().Items)
}

func TestQueryMoreCarriesCursorAndOverwritesPagination(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{
		{Items: []note{{ID: "c3", CreatedAt: 3}, {ID: "c2", CreatedAt: 2}}, Pagination: query.PaginationData{Next: "n1", Previous: "p0"}},
		{Items: []note{{ID: "c2", CreatedAt: 2}, {ID: "c1", CreatedAt: 1}}},
	}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.Query.Filter = query.Equal(noteUserID, "")
		cfg.Query.Sort = newestFirst
	})

	_, err := v.Get(context.Background())
	require.NoError(t, err)
	items, err := v.QueryMore(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"c2", "c1"}, noteIDs(items))
	assert.Equal(t, []string{"c3", "c2", "c1"}, noteIDs(v.Items()))
	assert.False(t, v.State().CanLoadMore())

	require.Len(t, fetcher.calls, 2)
	follow := fetcher.calls[1]
	assert.Equal(t, "n1", follow.Next)
	assert.Empty(t, follow.Previous)
	assert.Equal(t, 2, follow.Limit)
	assert.Equal(t, query.OperatorEqual, follow.Filter.Operator())
	require.Len(t, follow.Sort, 1)
	assert.Equal(t, "created_at", follow.Sort[0].Field.Name)

	again, err := v.QueryMore(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, fetcher.calls, 2)
}

func TestChildAddedInsertsReplyUnderParent(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{
		{ID: "c2", CreatedAt: 5},
		{ID: "c1", CreatedAt: 1, Replies: []note{{ID: "r1", CreatedAt: 2}, {ID: "r3", CreatedAt: 4}}, ReplyCount: 2},
	}}}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) { cfg.Nesting = noteReplies })
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	event := events.Child(events.KindChildAdded, events.EntityComment, events.Scope{}, "c1", note{ID: "r2", CreatedAt: 3})
	require.NoError(t, v.Apply(context.Background(), event))

	items := v.Items()
	require.Len(t, items, 2)
	parent, ok := collection.Find(items, "c1", nil)
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r2", "r3"}, noteIDs(parent.Replies))
	assert.Equal(t, 3, parent.ReplyCount)

	require.NoError(t, v.Apply(context.Background(), event))
	parent, _ = collection.Find(v.Items(), "c1", nil)
	assert.Equal(t, 3, parent.ReplyCount, "a repeated child event must not double count")
}

func TestChildEventsRouteToNestedParent(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{
		{ID: "c1", Replies: []note{{ID: "r1"}}},
	}}}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) { cfg.Nesting = noteReplies })
	_, err := v.Get(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Apply(ctx, events.Child(events.KindChildAdded, events.EntityComment, events.Scope{}, "r1", note{ID: "rr1"})))
	nested, ok := collection.Find(v.Items(), "rr1", noteReplies)
	require.True(t, ok)
	assert.Equal(t, "rr1", nested.ID)

	require.NoError(t, v.Apply(ctx, events.Child(events.KindChildUpdated, events.EntityComment, events.Scope{}, "r1", note{ID: "rr1", UserName: "edited"})))
	nested, _ = collection.Find(v.Items(), "rr1", noteReplies)
	assert.Equal(t, "edited", nested.UserName)

	require.NoError(t, v.Apply(ctx, events.Child(events.KindChildDeleted, events.EntityComment, events.Scope{}, "r1", note{ID: "rr1"})))
	assert.False(t, collection.Contains(v.Items(), "rr1", noteReplies))
}

func TestReactionForUnknownEntityIsNoOp(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "c1"}}}}}
	v := newTestView(t, fetcher, nil)
	_, err := v.Get(context.Background())
	require.NoError(t, err)
	notified := 0
	v.OnChange(func(State[note]) { notified++ })
	before := v.State().Items

	event := events.Reaction(events.KindReactionAdded, events.Scope{ObjectType: "comment"}, "missing", nil)
	require.NoError(t, v.Apply(context.Background(), event))

	assert.Equal(t, before, v.Items())
	assert.Zero(t, notified)
}

func TestReactionUpdatesNestedTarget(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "c1", Replies: []note{{ID: "r1"}}}}}}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) { cfg.Nesting = noteReplies })
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Apply(context.Background(), events.Reaction(events.KindReactionAdded, events.Scope{ObjectType: "comment"}, "r1", nil)))
	require.NoError(t, v.Apply(context.Background(), events.Reaction(events.KindReactionAdded, events.Scope{ObjectType: "activity"}, "r1", nil)))

	reply, ok := collection.Find(v.Items(), "r1", noteReplies)
	require.True(t, ok)
	assert.Equal(t, 1, reply.Likes)
}

func TestRepeatedUpdateIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "c3", CreatedAt: 3}, {ID: "c2", CreatedAt: 2}, {ID: "c1", CreatedAt: 1}}}}}
	v := newTestView(t, fetcher, nil)
	_, err := v.Get(context.Background())
	require.NoError(t, err)
	event := events.Updated(events.EntityComment, events.Scope{}, note{ID: "c1", CreatedAt: 4})

	require.NoError(t, v.Apply(context.Background(), event))
	once := v.Items()
	require.NoError(t, v.Apply(context.Background(), event))

	assert.Equal(t, once, v.Items())
	assert.Equal(t, []string{"c1", "c3", "c2"}, noteIDs(once))
}

func TestUpdateCarriesLocalState(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "c1", Pinned: true}}}}}
	v := newTestView(t, fetcher, nil)
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Apply(context.Background(), events.Updated(events.EntityComment, events.Scope{}, note{ID: "c1", UserName: "new"})))

	assert.True(t, v.Items()[0].Pinned)
	assert.Equal(t, "new", v.Items()[0].UserName)
}

func TestDeleteAndBatchEvents(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "c1", CreatedAt: 1}, {ID: "c2", CreatedAt: 2}}}}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.Query.Filter = query.Equal(noteUserID, "")
	})
	_, err := v.Get(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Apply(ctx, events.BatchAdded(events.EntityComment, events.Scope{}, []any{
		note{ID: "c3", CreatedAt: 3},
		note{ID: "c4", CreatedAt: 4, UserID: "filtered"},
		note{ID: "c1", CreatedAt: 1},
	})))
	assert.Equal(t, []string{"c3", "c2", "c1"}, noteIDs(v.Items()))

	require.NoError(t, v.Apply(ctx, events.BatchRemoved(events.EntityComment, events.Scope{}, []string{"c1", "c3", "zz"})))
	assert.Equal(t, []string{"c2"}, noteIDs(v.Items()))

	require.NoError(t, v.Apply(ctx, events.Deleted(events.EntityComment, events.Scope{}, "c2", nil)))
	assert.Empty(t, v.Items())
}

func TestEventsForOtherTypesOrScopesAreIgnored(t *testing.T) {
	v := newTestView(t, &fakeFetcher{}, func(cfg *Config[note]) {
		cfg.Rules.InScope = func(event events.ChangeEvent) bool { return event.Scope.ObjectID == "a1" }
	})
	ctx := context.Background()

	require.NoError(t, v.Apply(ctx, events.Added(events.EntityActivity, events.Scope{ObjectID: "a1"}, note{ID: "x"})))
	require.NoError(t, v.Apply(ctx, events.Added(events.EntityComment, events.Scope{ObjectID: "a2"}, note{ID: "y"})))
	require.NoError(t, v.Apply(ctx, events.Added(events.EntityComment, events.Scope{ObjectID: "a1"}, note{ID: "z"})))

	assert.Equal(t, []string{"z"}, noteIDs(v.Items()))
}

func TestUserUpdatedFansOutToNestedEntities(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{
		{ID: "c1", UserID: "u1", UserName: "old", Replies: []note{{ID: "r1", UserID: "u1", UserName: "old"}, {ID: "r2", UserID: "u2"}}},
	}}}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) { cfg.Nesting = noteReplies })
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Apply(context.Background(), events.UserUpdated(note{UserID: "u1", UserName: "new"})))

	items := v.Items()
	assert.Equal(t, "new", items[0].UserName)
	assert.Equal(t, "new", items[0].Replies[0].UserName)
	assert.Empty(t, items[0].Replies[1].UserName)
}

func TestRemoteOnlyFilterTriggersRefetch(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{
		{Items: []note{{ID: "a1", CreatedAt: 1}}},
		{Items: []note{{ID: "a2", CreatedAt: 2}, {ID: "a1", CreatedAt: 1}}},
	}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.Query.Filter = query.In(noteFeeds, "user:1")
	})
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Apply(context.Background(), events.Added(events.EntityComment, events.Scope{}, note{ID: "a2", CreatedAt: 2})))

	assert.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, []string{"a2", "a1"}, noteIDs(v.Items()))
}

func TestUpdatedEventEvictsUnderRemoteOnlyFilter(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{
		{Items: []note{{ID: "a1", UserID: "u1", FeedIDs: []string{"user:1"}}}},
	}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.Query.Filter = query.And(query.In(noteFeeds, "user:1"), query.Equal(noteUserID, "u1"))
	})
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Apply(context.Background(), events.Updated(events.EntityComment, events.Scope{}, note{ID: "a1", UserID: "u2", FeedIDs: []string{"user:1"}})))

	assert.Empty(t, v.Items())
	assert.Equal(t, 1, fetcher.callCount())
}

func TestUpdatedEventWithoutLocalVerdictRefreshesOrRefetches(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{
		{Items: []note{{ID: "a1", UserID: "u1", CreatedAt: 1}}},
		{Items: []note{{ID: "a2", UserID: "u1", CreatedAt: 2}, {ID: "a1", UserID: "u1", CreatedAt: 1}}},
	}}
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.Query.Filter = query.And(query.In(noteFeeds, "user:1"), query.Equal(noteUserID, "u1"))
	})
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Apply(context.Background(), events.Updated(events.EntityComment, events.Scope{}, note{ID: "a1", UserID: "u1", CreatedAt: 1, Likes: 3})))
	assert.Equal(t, 1, fetcher.callCount(), "a held entity is refreshed in place")
	assert.Equal(t, 3, v.Items()[0].Likes)

	require.NoError(t, v.Apply(context.Background(), events.Updated(events.EntityComment, events.Scope{}, note{ID: "a2", UserID: "u1", CreatedAt: 2})))
	assert.Equal(t, 2, fetcher.callCount(), "an absent entity asks the server")
	assert.Equal(t, []string{"a2", "a1"}, noteIDs(v.Items()))
}

func TestRefetchFailureIsReportedAndStateKept(t *testing.T) {
	fetcher := &fakeFetcher{pages: []query.Page[note]{{Items: []note{{ID: "a1"}}}}}
	var reported error
	v := newTestView(t, fetcher, func(cfg *Config[note]) {
		cfg.ForceRefetch = true
		cfg.OnError = func(err error) { reported = err }
	})
	_, err := v.Get(context.Background())
	require.NoError(t, err)
	fetcher.err = errors.New("backend down")

	err = v.Apply(context.Background(), events.Added(events.EntityComment, events.Scope{}, note{ID: "a2"}))

	var viewErr *Error
	require.ErrorAs(t, err, &viewErr)
	assert.Equal(t, "view.refetch.get_failed", viewErr.Code())
	assert.Equal(t, err, reported)
	assert.Equal(t, []string{"a1"}, noteIDs(v.Items()))
}

func TestFetchFailureLeavesStateUnchanged(t *testing.T) {
	cause := errors.New("timeout")
	fetcher := &fakeFetcher{err: cause}
	v := newTestView(t, fetcher, nil)

	_, err := v.Get(context.Background())

	require.ErrorIs(t, err, cause)
	var viewErr *Error
	require.ErrorAs(t, err, &viewErr)
	assert.Equal(t, "view.get.fetch_failed", viewErr.Code())
	assert.False(t, v.State().Loaded)
	assert.Empty(t, v.Items())
}

func TestCancelledCallerDiscardsPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := query.FetcherFunc[note](func(context.Context, query.Query[note]) (query.Page[note], error) {
		cancel()
		return query.Page[note]{Items: []note{{ID: "late"}}}, nil
	})
	v := newTestView(t, fetcher, nil)

	_, err := v.Get(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, v.Items())
}

func TestOnChangeDeliversSnapshotsUntilUnsubscribed(t *testing.T) {
	v := newTestView(t, &fakeFetcher{}, nil)
	var seen [][]string
	unsubscribe := v.OnChange(func(state State[note]) {
		seen = append(seen, noteIDs(state.Items))
		assert.Equal(t, noteIDs(state.Items), noteIDs(v.State().Items))
	})
	ctx := context.Background()

	require.NoError(t, v.Apply(ctx, events.Added(events.EntityComment, events.Scope{}, note{ID: "c1", CreatedAt: 1})))
	unsubscribe()
	unsubscribe()
	require.NoError(t, v.Apply(ctx, events.Added(events.EntityComment, events.Scope{}, note{ID: "c2", CreatedAt: 2})))

	assert.Equal(t, [][]string{{"c1"}}, seen)
}

func TestStartAppliesBusEventsInOrder(t *testing.T) {
	bus := events.NewBus()
	v := newTestView(t, &fakeFetcher{}, func(cfg *Config[note]) { cfg.Events = bus })
	changes := make(chan State[note], 64)
	v.OnChange(func(state State[note]) { changes <- state })

	v.Start(context.Background())
	defer v.Close()

	bus.Publish(events.Added(events.EntityComment, events.Scope{}, note{ID: "c1", CreatedAt: 1}))
	bus.Publish(events.Added(events.EntityComment, events.Scope{}, note{ID: "c2", CreatedAt: 2}))
	bus.Publish(events.Deleted(events.EntityComment, events.Scope{}, "c1", nil))

	var last State[note]
	for received := 0; received < 3; received++ {
		select {
		case last = <-changes:
		case <-time.After(time.Second):
			t.Fatalf("expected change %d within deadline", received+1)
		}
	}
	assert.Equal(t, []string{"c2"}, noteIDs(last.Items))
}

func TestViewRestartsAfterClose(t *testing.T) {
	bus := events.NewBus()
	v := newTestView(t, &fakeFetcher{}, func(cfg *Config[note]) { cfg.Events = bus })

	v.Start(context.Background())
	v.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	changes := make(chan State[note], 8)
	v.OnChange(func(state State[note]) { changes <- state })
	v.Start(context.Background())
	defer v.Close()
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Publish(events.Added(events.EntityComment, events.Scope{}, note{ID: "c1"}))
	select {
	case state := <-changes:
		assert.Equal(t, []string{"c1"}, noteIDs(state.Items))
	case <-time.After(time.Second):
		t.Fatalf("expected the restarted view to apply events")
	}
}

func TestConcurrentEventsAndPagesKeepInvariants(t *testing.T) {
	pages := make([]query.Page[note], 0, 20)
	for index := 0; index < 20; index++ {
		pages = append(pages, query.Page[note]{
			Items:      []note{{ID: string(rune('a' + index)), CreatedAt: index}},
			Pagination: query.PaginationData{Next: "more"},
		})
	}
	fetcher := &fakeFetcher{pages: pages}
	v := newTestView(t, fetcher, nil)
	_, err := v.Get(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for index := 0; index < 19; index++ {
			_, _ = v.QueryMore(context.Background(), 0)
		}
	}()
	go func() {
		defer wg.Done()
		for index := 0; index < 20; index++ {
			_ = v.Apply(context.Background(), events.Updated(events.EntityComment, events.Scope{}, note{ID: string(rune('a' + index)), CreatedAt: 100 - index}))
		}
	}()
	wg.Wait()

	items := v.Items()
	assert.True(t, collection.IsSorted(items, query.Comparator(newestFirst), nil))
	seen := map[string]bool{}
	for _, item := range items {
		assert.False(t, seen[item.ID], "duplicate %s", item.ID)
		seen[item.ID] = true
	}
}

func TestRouteIsPure(t *testing.T) {
	rules := noteRules()
	rc := RouteContext[note]{Filter: query.Equal(noteUserID, "u1")}

	added := Route(rules, events.Added(events.EntityComment, events.Scope{}, note{ID: "c1", UserID: "u1"}), rc)
	assert.Equal(t, ActionInsert, added.Kind)

	evicted := Route(rules, events.Updated(events.EntityComment, events.Scope{}, note{ID: "c1", UserID: "u2"}), rc)
	assert.Equal(t, ActionRemove, evicted.Kind)
	assert.Equal(t, "c1", evicted.ID)

	flat := Route(rules, events.Child(events.KindChildAdded, events.EntityComment, events.Scope{}, "c1", note{ID: "r1", UserID: "u1"}), rc)
	assert.Equal(t, ActionInsert, flat.Kind, "without nesting a child is an ordinary member")

	rc.Nested = true
	nested := Route(rules, events.Child(events.KindChildAdded, events.EntityComment, events.Scope{}, "c1", note{ID: "r1"}), rc)
	assert.Equal(t, ActionInsertChild, nested.Kind)
	assert.Equal(t, "c1", nested.ParentID)

	rc.Refetch = true
	assert.Equal(t, ActionIgnore, Route(rules, events.Added(events.EntityComment, events.Scope{}, note{ID: "c9", UserID: "u2"}), rc).Kind)
	assert.Equal(t, ActionRemove, Route(rules, events.Updated(events.EntityComment, events.Scope{}, note{ID: "c9", UserID: "u2"}), rc).Kind)

	rc.Opaque = true
	assert.Equal(t, ActionRefetch, Route(rules, events.Added(events.EntityComment, events.Scope{}, note{ID: "c9"}), rc).Kind)
	assert.Equal(t, ActionRefresh, Route(rules, events.Updated(events.EntityComment, events.Scope{}, note{ID: "c9"}), rc).Kind)
	assert.Equal(t, "ignore", ActionIgnore.String())
}

func TestReactionSubjectViewHoldsReactions(t *testing.T) {
	rules := Rules[note]{Type: events.EntityReaction}
	rc := RouteContext[note]{}

	added := Route(rules, events.Reaction(events.KindReactionAdded, events.Scope{ObjectType: "activity"}, "a1", note{ID: "rx"}), rc)
	assert.Equal(t, ActionInsert, added.Kind)

	removed := Route(rules, events.Reaction(events.KindReactionRemoved, events.Scope{ObjectType: "activity"}, "a1", note{ID: "rx"}), rc)
	assert.Equal(t, ActionRemove, removed.Kind)
	assert.Equal(t, "rx", removed.ID)
}
