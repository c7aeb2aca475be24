package server

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/feeds"
	"github.com/MarcoPoloResearchLab/feeds/internal/store"
)

// backend owns one typed collection per entity type and keeps denormalised
// fields consistent across them. Own-state fields (own reactions, own
// bookmarks, own votes) are never stored; clients carry them locally.
type backend struct {
	service   *store.Service
	publisher events.Publisher
	logger    *zap.Logger

	activities *store.Collection[feeds.Activity]
	comments   *store.Collection[feeds.Comment]
	reactions  *store.Collection[feeds.Reaction]
	bookmarks  *store.Collection[feeds.Bookmark]
	folders    *store.Collection[feeds.BookmarkFolder]
	follows    *store.Collection[feeds.Follow]
	members    *store.Collection[feeds.Member]
	polls      *store.Collection[feeds.Poll]
	votes      *store.Collection[feeds.PollVote]
	feedList   *store.Collection[feeds.Feed]
	moderation *store.Collection[feeds.ModerationConfig]
	users      *store.Collection[feeds.User]
}

func newBackend(service *store.Service, publisher events.Publisher, logger *zap.Logger) *backend {
	return &backend{
		service:   service,
		publisher: publisher,
		logger:    logger,

		activities: store.NewCollection(service, string(events.EntityActivity), feeds.ActivityCatalog, func(a feeds.Activity) store.Keys {
			return store.Keys{UserID: a.UserID}
		}),
		comments: store.NewCollection(service, string(events.EntityComment), feeds.CommentCatalog, func(c feeds.Comment) store.Keys {
			return store.Keys{ParentID: c.ParentID, ObjectID: c.ObjectID, UserID: c.UserID}
		}),
		reactions: store.NewCollection(service, string(events.EntityReaction), feeds.ReactionCatalog, func(r feeds.Reaction) store.Keys {
			return store.Keys{ObjectID: r.TargetID(), UserID: r.UserID}
		}),
		bookmarks: store.NewCollection(service, string(events.EntityBookmark), feeds.BookmarkCatalog, func(b feeds.Bookmark) store.Keys {
			return store.Keys{ParentID: b.FolderID, ObjectID: b.ActivityID, UserID: b.UserID}
		}),
		folders: store.NewCollection(service, string(events.EntityBookmarkFolder), feeds.BookmarkFolderCatalog, func(f feeds.BookmarkFolder) store.Keys {
			return store.Keys{UserID: f.UserID}
		}),
		follows: store.NewCollection(service, string(events.EntityFollow), feeds.FollowCatalog, func(f feeds.Follow) store.Keys {
			return store.Keys{FeedID: f.SourceFeed, ObjectID: f.TargetFeed}
		}),
		members: store.NewCollection(service, string(events.EntityMember), feeds.MemberCatalog, func(m feeds.Member) store.Keys {
			return store.Keys{FeedID: m.FeedID, UserID: m.UserID}
		}),
		polls: store.NewCollection(service, string(events.EntityPoll), feeds.PollCatalog, func(p feeds.Poll) store.Keys {
			return store.Keys{UserID: p.UserID}
		}),
		votes: store.NewCollection(service, string(events.EntityPollVote), feeds.PollVoteCatalog, func(v feeds.PollVote) store.Keys {
			return store.Keys{ObjectID: v.PollID, UserID: v.UserID}
		}),
		feedList: store.NewCollection(service, string(events.EntityFeed), feeds.FeedCatalog, func(f feeds.Feed) store.Keys {
			return store.Keys{FeedID: f.ID, UserID: f.CreatedByID}
		}),
		moderation: store.NewCollection[feeds.ModerationConfig](service, string(events.EntityModerationConfig), feeds.ModerationConfigCatalog, nil),
		users:      store.NewCollection[feeds.User](service, string(events.EntityUser), feeds.UserCatalog, nil),
	}
}

// resources returns the router's resource table.
func (b *backend) resources() map[string]resource {
	return map[string]resource{
		feeds.ResourceActivities:        b.activityResource(),
		feeds.ResourceComments:          b.commentResource(),
		feeds.ResourceReactions:         b.reactionResource(),
		feeds.ResourceBookmarks:         b.bookmarkResource(),
		feeds.ResourceBookmarkFolders:   b.folderResource(),
		feeds.ResourceFollows:           b.followResource(),
		feeds.ResourceMembers:           b.memberResource(),
		feeds.ResourcePolls:             b.pollResource(),
		feeds.ResourcePollVotes:         b.voteResource(),
		feeds.ResourceFeeds:             b.feedResource(),
		feeds.ResourceModerationConfigs: b.moderationResource(),
		feeds.ResourceUsers:             b.userResource(),
	}
}

func (b *backend) publish(event events.ChangeEvent) {
	b.publisher.Publish(event)
}

func (b *backend) newID(existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	return b.service.NewID()
}

// profile returns the stored profile of userID, or a bare one.
func (b *backend) profile(ctx context.Context, userID string) feeds.User {
	user, err := b.users.Get(ctx, userID)
	if err != nil {
		return feeds.User{ID: userID}
	}
	return user
}

// mutate rewrites one stored entity in place without publishing. A missing
// entity is not an error.
func mutate[T collection.Identifiable](ctx context.Context, items *store.Collection[T], id string, fn func(T) T) error {
	if id == "" {
		return nil
	}
	entity, err := items.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return items.Save(ctx, fn(entity))
}

// mutateAll rewrites every stored entity fn reports as changed.
func mutateAll[T collection.Identifiable](ctx context.Context, items *store.Collection[T], keys store.Keys, fn func(T) (T, bool)) ([]T, error) {
	all, err := items.List(ctx, keys)
	if err != nil {
		return nil, err
	}
	var changed []T
	for _, entity := range all {
		next, ok := fn(entity)
		if !ok {
			continue
		}
		if err := items.Save(ctx, next); err != nil {
			return nil, err
		}
		changed = append(changed, next)
	}
	return changed, nil
}

// acceptedFollowers returns the feeds following feedID.
func (b *backend) acceptedFollowers(ctx context.Context, feedID string) ([]string, error) {
	follows, err := b.follows.List(ctx, store.Keys{ObjectID: feedID})
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, follow := range follows {
		if follow.Status == feeds.FollowAccepted {
			sources = append(sources, follow.SourceFeed)
		}
	}
	return sources, nil
}

// fanOut delivers the activities of a followed feed to the follower feed,
// or withdraws them when delivered is false, and announces the batch.
func (b *backend) fanOut(ctx context.Context, follow feeds.Follow, delivered bool) error {
	changed, err := mutateAll(ctx, b.activities, store.Keys{}, func(activity feeds.Activity) (feeds.Activity, bool) {
		if !slices.Contains(activity.Feeds, follow.TargetFeed) {
			return activity, false
		}
		present := slices.Contains(activity.Feeds, follow.SourceFeed)
		switch {
		case delivered && !present:
			activity.Feeds = append(slices.Clone(activity.Feeds), follow.SourceFeed)
			return activity, true
		case !delivered && present:
			activity.Feeds = slices.DeleteFunc(slices.Clone(activity.Feeds), func(feedID string) bool {
				return feedID == follow.SourceFeed
			})
			return activity, true
		}
		return activity, false
	})
	if err != nil || len(changed) == 0 {
		return err
	}
	if delivered {
		b.publish(feeds.ActivitiesAdded(follow.SourceFeed, changed))
		return nil
	}
	ids := make([]string, 0, len(changed))
	for _, activity := range changed {
		ids = append(ids, activity.ID)
	}
	b.publish(feeds.ActivitiesRemoved(follow.SourceFeed, ids))
	return nil
}

// refreshUser rewrites embedded copies of user across every collection that
// embeds profiles, using the same rules client views apply.
func (b *backend) refreshUser(ctx context.Context, user feeds.User) error {
	none := feeds.Options{}
	if _, err := mutateAll(ctx, b.activities, store.Keys{}, func(a feeds.Activity) (feeds.Activity, bool) {
		return feeds.ActivityRules(none).ApplyUser(a, user)
	}); err != nil {
		return err
	}
	if _, err := mutateAll(ctx, b.comments, store.Keys{}, func(c feeds.Comment) (feeds.Comment, bool) {
		return feeds.CommentRules(none).ApplyUser(c, user)
	}); err != nil {
		return err
	}
	if _, err := mutateAll(ctx, b.reactions, store.Keys{UserID: user.ID}, func(r feeds.Reaction) (feeds.Reaction, bool) {
		return feeds.ReactionRules(none).ApplyUser(r, user)
	}); err != nil {
		return err
	}
	if _, err := mutateAll(ctx, b.bookmarks, store.Keys{UserID: user.ID}, func(bm feeds.Bookmark) (feeds.Bookmark, bool) {
		return feeds.BookmarkRules(none).ApplyUser(bm, user)
	}); err != nil {
		return err
	}
	if _, err := mutateAll(ctx, b.members, store.Keys{UserID: user.ID}, func(m feeds.Member) (feeds.Member, bool) {
		return feeds.MemberRules(none).ApplyUser(m, user)
	}); err != nil {
		return err
	}
	if _, err := mutateAll(ctx, b.votes, store.Keys{UserID: user.ID}, func(v feeds.PollVote) (feeds.PollVote, bool) {
		return feeds.PollVoteRules(none).ApplyUser(v, user)
	}); err != nil {
		return err
	}
	_, err := mutateAll(ctx, b.feedList, store.Keys{UserID: user.ID}, func(f feeds.Feed) (feeds.Feed, bool) {
		return feeds.FeedRules(none).ApplyUser(f, user)
	})
	return err
}
