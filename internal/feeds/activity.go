package feeds

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Activity is a post distributed to one or more feeds.
type Activity struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Text         string         `json:"text,omitempty"`
	UserID       string         `json:"user_id"`
	User         User           `json:"user"`
	Feeds        []string       `json:"feeds"`
	Visibility   string         `json:"visibility,omitempty"`
	InterestTags []string       `json:"interest_tags,omitempty"`
	Mentions     []string       `json:"mentioned_user_ids,omitempty"`
	Poll         *Poll          `json:"poll,omitempty"`
	Popularity   int            `json:"popularity"`
	CommentCount int            `json:"comment_count"`
	Bookmarks    int            `json:"bookmark_count"`
	OwnBookmarks []Bookmark     `json:"own_bookmarks,omitempty"`
	Custom       map[string]any `json:"custom,omitempty"`
	ReactionSummary
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Activity) Identity() string {
	return a.ID
}

// WithReaction folds a reaction event into the activity's summary.
func (a Activity) WithReaction(kind events.Kind, reaction Reaction, currentUserID string) Activity {
	a.ReactionSummary = a.ReactionSummary.Apply(kind, reaction, currentUserID)
	return a
}

// WithBookmark folds a bookmark event into the bookmark count and own bookmarks.
func (a Activity) WithBookmark(kind events.Kind, bookmark Bookmark, currentUserID string) Activity {
	own := currentUserID != "" && bookmark.UserID == currentUserID
	switch kind {
	case events.KindAdded:
		a.Bookmarks++
		if own {
			a.OwnBookmarks = upsertByID(a.OwnBookmarks, bookmark)
		}
	case events.KindUpdated:
		if own {
			a.OwnBookmarks = upsertByID(a.OwnBookmarks, bookmark)
		}
	case events.KindDeleted:
		a.Bookmarks = adjust(a.Bookmarks, -1)
		if own {
			a.OwnBookmarks = removeByID(a.OwnBookmarks, bookmark.ID)
		}
	}
	return a
}

// WithCommentDelta adjusts the comment count.
func (a Activity) WithCommentDelta(delta int) Activity {
	a.CommentCount = adjust(a.CommentCount, delta)
	return a
}

var (
	ActivityFieldID           = query.NewField("id", func(a Activity) any { return a.ID })
	ActivityFieldType         = query.NewField("activity_type", func(a Activity) any { return a.Type })
	ActivityFieldUserID       = query.NewField("user_id", func(a Activity) any { return a.UserID })
	ActivityFieldText         = query.NewField("text", func(a Activity) any { return a.Text })
	ActivityFieldVisibility   = query.NewField("visibility", func(a Activity) any { return a.Visibility })
	ActivityFieldInterestTags = query.NewField("interest_tags", func(a Activity) any { return a.InterestTags })
	ActivityFieldMentions     = query.NewField("mentioned_user_ids", func(a Activity) any { return a.Mentions })
	ActivityFieldPopularity   = query.NewField("popularity", func(a Activity) any { return a.Popularity })
	ActivityFieldCreatedAt    = query.NewField("created_at", func(a Activity) any { return timeValue(a.CreatedAt) })
	// Feed membership is decided by server-side fan-out, so the local copy
	// of Feeds cannot admit an activity.
	ActivityFieldFeeds = query.NewRemoteField("feeds", func(a Activity) any { return a.Feeds })

	ActivitySortCreatedAt     = query.NewTimeSortField("created_at", func(a Activity) time.Time { return a.CreatedAt })
	ActivitySortPopularity    = query.NewSortField("popularity", func(a Activity) int { return a.Popularity })
	ActivitySortReactionCount = query.NewSortField("reaction_count", func(a Activity) int { return a.ReactionCount })
	ActivitySortCommentCount  = query.NewSortField("comment_count", func(a Activity) int { return a.CommentCount })

	ActivityCatalog = query.NewCatalog(
		[]query.Field[Activity]{
			ActivityFieldID, ActivityFieldType, ActivityFieldUserID, ActivityFieldText,
			ActivityFieldVisibility, ActivityFieldInterestTags, ActivityFieldMentions,
			ActivityFieldPopularity, ActivityFieldCreatedAt, ActivityFieldFeeds,
		},
		[]query.SortField[Activity]{ActivitySortCreatedAt, ActivitySortPopularity, ActivitySortReactionCount, ActivitySortCommentCount},
		query.Desc(ActivitySortCreatedAt),
	)
)

// ActivityRules routes activity events plus the reaction, comment, bookmark
// and poll events that change denormalised activity fields. Deleting the
// scoped feed empties the view.
func ActivityRules(opts Options) view.Rules[Activity] {
	userID := opts.CurrentUserID
	return view.Rules[Activity]{
		Type:           events.EntityActivity,
		Cast:           castEntity[Activity],
		InScope:        inScope(opts.Scope),
		ReactionTarget: ObjectActivity,
		ApplyReaction: func(activity Activity, event events.ChangeEvent) Activity {
			reaction, ok := castEntity[Reaction](event.Entity)
			if !ok {
				return activity
			}
			return activity.WithReaction(event.Kind, reaction, userID)
		},
		ApplyUser: func(activity Activity, user any) (Activity, bool) {
			changed := false
			if next, ok := activity.User.refresh(user); ok {
				activity.User = next
				changed = true
			}
			if summary, ok := activity.ReactionSummary.refreshUser(user); ok {
				activity.ReactionSummary = summary
				changed = true
			}
			return activity, changed
		},
		Carry: func(held, incoming Activity) Activity {
			incoming.OwnReactions = held.OwnReactions
			incoming.OwnBookmarks = held.OwnBookmarks
			if held.Poll != nil && incoming.Poll != nil && held.Poll.ID == incoming.Poll.ID {
				poll := *incoming.Poll
				poll.OwnVotes = held.Poll.OwnVotes
				incoming.Poll = &poll
			}
			return incoming
		},
		Extra: func(event events.ChangeEvent) (view.Action[Activity], bool) {
			return activityCrossTypeAction(event, userID, opts.Scope.FeedID)
		},
	}
}

func activityCrossTypeAction(event events.ChangeEvent, userID, feedID string) (view.Action[Activity], bool) {
	switch event.Type {
	case events.EntityFeed:
		if event.Kind != events.KindDeleted || feedID == "" || event.Scope.FeedID != feedID {
			return view.Action[Activity]{}, false
		}
		return view.Action[Activity]{Kind: view.ActionRemoveAll}, true
	case events.EntityComment:
		if event.Scope.ObjectType != ObjectActivity || event.Scope.ObjectID == "" {
			return view.Action[Activity]{}, false
		}
		delta := 0
		switch event.Kind {
		case events.KindAdded, events.KindChildAdded:
			delta = 1
		case events.KindDeleted, events.KindChildDeleted:
			delta = -1
		default:
			return view.Action[Activity]{}, false
		}
		return view.Action[Activity]{Kind: view.ActionUpdate, ID: event.Scope.ObjectID, Mutate: func(activity Activity) Activity {
			return activity.WithCommentDelta(delta)
		}}, true
	case events.EntityBookmark:
		bookmark, ok := castEntity[Bookmark](event.Entity)
		if !ok || bookmark.ActivityID == "" {
			return view.Action[Activity]{}, false
		}
		kind := event.Kind
		return view.Action[Activity]{Kind: view.ActionUpdate, ID: bookmark.ActivityID, Mutate: func(activity Activity) Activity {
			return activity.WithBookmark(kind, bookmark, userID)
		}}, true
	case events.EntityPoll:
		poll, ok := castEntity[Poll](event.Entity)
		if !ok || event.Kind != events.KindUpdated {
			return view.Action[Activity]{}, false
		}
		return view.Action[Activity]{Kind: view.ActionMapAll, Map: func(activity Activity) (Activity, bool) {
			if activity.Poll == nil || activity.Poll.ID != poll.ID {
				return activity, false
			}
			next := poll
			next.OwnVotes = activity.Poll.OwnVotes
			activity.Poll = &next
			return activity, true
		}}, true
	case events.EntityPollVote:
		vote, ok := castEntity[PollVote](event.Entity)
		if !ok {
			return view.Action[Activity]{}, false
		}
		kind := event.Kind
		return view.Action[Activity]{Kind: view.ActionMapAll, Map: func(activity Activity) (Activity, bool) {
			if activity.Poll == nil || activity.Poll.ID != vote.PollID {
				return activity, false
			}
			next := activity.Poll.WithVote(kind, vote, userID)
			activity.Poll = &next
			return activity, true
		}}, true
	}
	return view.Action[Activity]{}, false
}

// NewActivityView builds a live view over activities. A query filtering on
// feeds is not locally evaluable, so added activities trigger a refetch.
func NewActivityView(fetcher query.Fetcher[Activity], q query.Query[Activity], opts Options) (*view.View[Activity], error) {
	return newView(fetcher, q, ActivityCatalog, ActivityRules(opts), nil, opts)
}

// NewFeedActivityView follows the activities of one feed. Events are scoped
// to the feed, so the feed filter itself never forces a refetch.
func NewFeedActivityView(fetcher query.Fetcher[Activity], feedID string, q query.Query[Activity], opts Options) (*view.View[Activity], error) {
	opts.Scope = events.Scope{FeedID: feedID}
	return newView[Activity](feedFetcher{feedID: feedID, next: fetcher}, q, ActivityCatalog, ActivityRules(opts), nil, opts)
}

// feedFetcher adds the feed membership filter to the wire query only.
type feedFetcher struct {
	feedID string
	next   query.Fetcher[Activity]
}

func (f feedFetcher) FetchPage(ctx context.Context, q query.Query[Activity]) (query.Page[Activity], error) {
	q.Filter = query.And(query.In(ActivityFieldFeeds, f.feedID), q.Filter)
	return f.next.FetchPage(ctx, q)
}
