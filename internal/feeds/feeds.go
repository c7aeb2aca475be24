// Package feeds binds the generic view engine to the concrete entities of a
// feeds backend: activities, comments, reactions, bookmarks, follows,
// members, polls, feeds and moderation configs.
package feeds

import (
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Object types carried in event scopes.
const (
	ObjectActivity = string(events.EntityActivity)
	ObjectComment  = string(events.EntityComment)
	ObjectPoll     = string(events.EntityPoll)
)

// Resource names used in repository URLs, e.g. POST /api/activities/query.
const (
	ResourceActivities        = "activities"
	ResourceComments          = "comments"
	ResourceReactions         = "reactions"
	ResourceBookmarks         = "bookmarks"
	ResourceBookmarkFolders   = "bookmark_folders"
	ResourceFollows           = "follows"
	ResourceMembers           = "members"
	ResourcePolls             = "polls"
	ResourcePollVotes         = "poll_votes"
	ResourceFeeds             = "feeds"
	ResourceModerationConfigs = "moderation_configs"
	ResourceUsers             = "users"
)

// Options are the collaborators shared by every view constructor.
type Options struct {
	// CurrentUserID decides which reactions, bookmarks and votes are "own".
	CurrentUserID string
	// Scope restricts events to one feed or object; empty fields match anything.
	Scope        events.Scope
	Events       events.Source
	Logger       *zap.Logger
	ForceRefetch bool
	OnError      func(error)
}

func scopeMatches(want, got events.Scope) bool {
	if want.FeedID != "" && want.FeedID != got.FeedID {
		return false
	}
	if want.ObjectID != "" && want.ObjectID != got.ObjectID {
		return false
	}
	if want.ObjectType != "" && want.ObjectType != got.ObjectType {
		return false
	}
	return true
}

func inScope(scope events.Scope) func(events.ChangeEvent) bool {
	return func(event events.ChangeEvent) bool {
		return scopeMatches(scope, event.Scope)
	}
}

func newView[T collection.Identifiable](
	fetcher query.Fetcher[T],
	q query.Query[T],
	catalog query.Catalog[T],
	rules view.Rules[T],
	nesting *collection.Nesting[T],
	opts Options,
) (*view.View[T], error) {
	return view.New(view.Config[T]{
		Query:        q,
		Fetcher:      fetcher,
		Rules:        rules,
		Nesting:      nesting,
		DefaultSort:  catalog.DefaultSort(),
		Events:       opts.Events,
		Logger:       opts.Logger,
		ForceRefetch: opts.ForceRefetch,
		OnError:      opts.OnError,
	})
}

// castEntity accepts both values and pointers on the event payload.
func castEntity[T any](payload any) (T, bool) {
	switch typed := payload.(type) {
	case T:
		return typed, true
	case *T:
		if typed != nil {
			return *typed, true
		}
	}
	var zero T
	return zero, false
}

func timeValue(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}

func upsertByID[T collection.Identifiable](items []T, item T) []T {
	if index := collection.IndexOf(items, item.Identity()); index >= 0 {
		result := append([]T(nil), items...)
		result[index] = item
		return result
	}
	return append(append([]T(nil), items...), item)
}

func removeByID[T collection.Identifiable](items []T, id string) []T {
	result, _ := collection.Remove(items, id, nil)
	if len(result) == 0 {
		return nil
	}
	return result
}

func adjust(count, delta int) int {
	count += delta
	if count < 0 {
		return 0
	}
	return count
}
