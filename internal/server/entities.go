package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/feeds"
	"github.com/MarcoPoloResearchLab/feeds/internal/store"
)

const (
	followersOnlyVisibility = "followers"
	defaultMemberRole       = "member"
	maxReplyDepth           = 8
)

func (b *backend) activityResource() *entityResource[feeds.Activity] {
	return &entityResource[feeds.Activity]{
		items: b.activities,
		prepare: func(ctx context.Context, caller string, activity feeds.Activity) (feeds.Activity, error) {
			id, err := b.newID(activity.ID)
			if err != nil {
				return activity, err
			}
			activity.ID = id
			activity.UserID = caller
			activity.User = b.profile(ctx, caller)
			if activity.Type == "" {
				activity.Type = "post"
			}
			if len(activity.Feeds) == 0 {
				activity.Feeds = []string{feeds.FeedID("user", caller)}
			}
			for _, feedID := range slices.Clone(activity.Feeds) {
				followers, err := b.acceptedFollowers(ctx, feedID)
				if err != nil {
					return activity, err
				}
				for _, follower := range followers {
					if !slices.Contains(activity.Feeds, follower) {
						activity.Feeds = append(activity.Feeds, follower)
					}
				}
			}
			if activity.Poll != nil {
				poll, err := b.polls.Get(ctx, activity.Poll.ID)
				if err != nil {
					return activity, fmt.Errorf("%w: poll %s: %w", errInvalidRequest, activity.Poll.ID, err)
				}
				poll.OwnVotes = nil
				activity.Poll = &poll
			}
			activity.CommentCount = 0
			activity.Bookmarks = 0
			activity.OwnBookmarks = nil
			activity.ReactionSummary = feeds.ReactionSummary{}
			now := b.service.Now()
			activity.CreatedAt, activity.UpdatedAt = now, now
			return activity, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.Activity) (feeds.Activity, error) {
			existing.Text = incoming.Text
			existing.Visibility = incoming.Visibility
			existing.InterestTags = incoming.InterestTags
			existing.Mentions = incoming.Mentions
			existing.Popularity = incoming.Popularity
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(activity feeds.Activity) string { return activity.UserID },
		changed: func(_ context.Context, kind events.Kind, _, activity feeds.Activity) error {
			build := feeds.ActivityAdded
			switch kind {
			case events.KindUpdated:
				build = feeds.ActivityUpdated
			case events.KindDeleted:
				build = feeds.ActivityDeleted
			}
			if len(activity.Feeds) == 0 {
				b.publish(build("", activity))
				return nil
			}
			for _, feedID := range activity.Feeds {
				b.publish(build(feedID, activity))
			}
			return nil
		},
	}
}

func (b *backend) commentResource() *entityResource[feeds.Comment] {
	return &entityResource[feeds.Comment]{
		items: b.comments,
		prepare: func(ctx context.Context, caller string, comment feeds.Comment) (feeds.Comment, error) {
			id, err := b.newID(comment.ID)
			if err != nil {
				return comment, err
			}
			comment.ID = id
			if comment.ParentID != "" {
				parent, err := b.comments.Get(ctx, comment.ParentID)
				if err != nil {
					return comment, fmt.Errorf("%w: parent %s: %w", errInvalidRequest, comment.ParentID, err)
				}
				comment.ObjectID, comment.ObjectType = parent.ObjectID, parent.ObjectType
			}
			if comment.ObjectID == "" || comment.ObjectType == "" {
				return comment, fmt.Errorf("%w: comment needs an object", errInvalidRequest)
			}
			comment.UserID = caller
			comment.User = b.profile(ctx, caller)
			comment.ReplyCount, comment.Upvotes, comment.Downvotes = 0, 0, 0
			comment.Replies = nil
			comment.ReactionSummary = feeds.ReactionSummary{}
			now := b.service.Now()
			comment.CreatedAt, comment.UpdatedAt = now, now
			return comment, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.Comment) (feeds.Comment, error) {
			existing.Text = incoming.Text
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(comment feeds.Comment) string { return comment.UserID },
		changed: func(ctx context.Context, kind events.Kind, _, comment feeds.Comment) error {
			switch kind {
			case events.KindAdded, events.KindDeleted:
				delta := 1
				if kind == events.KindDeleted {
					delta = -1
				}
				if err := b.countComment(ctx, comment, delta); err != nil {
					return err
				}
			}
			switch kind {
			case events.KindAdded:
				b.publish(feeds.CommentAdded(comment))
			case events.KindUpdated:
				b.publish(feeds.CommentUpdated(comment))
			case events.KindDeleted:
				b.publish(feeds.CommentDeleted(comment))
			}
			return nil
		},
		present: func(ctx context.Context, comments []feeds.Comment) ([]feeds.Comment, error) {
			out := make([]feeds.Comment, 0, len(comments))
			for _, comment := range comments {
				nested, err := b.attachReplies(ctx, comment, 0)
				if err != nil {
					return nil, err
				}
				out = append(out, nested)
			}
			return out, nil
		},
	}
}

// countComment keeps the parent's reply count and the activity's comment
// count in step with a stored comment.
func (b *backend) countComment(ctx context.Context, comment feeds.Comment, delta int) error {
	if err := mutate(ctx, b.comments, comment.ParentID, func(parent feeds.Comment) feeds.Comment {
		parent.ReplyCount = max(0, parent.ReplyCount+delta)
		return parent
	}); err != nil {
		return err
	}
	if comment.ObjectType != feeds.ObjectActivity {
		return nil
	}
	return mutate(ctx, b.activities, comment.ObjectID, func(activity feeds.Activity) feeds.Activity {
		return activity.WithCommentDelta(delta)
	})
}

func (b *backend) attachReplies(ctx context.Context, comment feeds.Comment, depth int) (feeds.Comment, error) {
	if comment.ReplyCount == 0 || depth >= maxReplyDepth {
		return comment, nil
	}
	replies, err := b.comments.List(ctx, store.Keys{ParentID: comment.ID})
	if err != nil {
		return comment, err
	}
	slices.SortStableFunc(replies, feeds.CommentReplies.Compare)
	for index, reply := range replies {
		if replies[index], err = b.attachReplies(ctx, reply, depth+1); err != nil {
			return comment, err
		}
	}
	comment.Replies = replies
	return comment, nil
}

// reactionResource upserts on create: a repeated reaction of the same type
// is an update, not a conflict.
type reactionResource struct {
	*entityResource[feeds.Reaction]
	backend *backend
}

func (b *backend) reactionResource() *reactionResource {
	return &reactionResource{
		backend: b,
		entityResource: &entityResource[feeds.Reaction]{
			items: b.reactions,
			merge: func(_ context.Context, _ string, existing, incoming feeds.Reaction) (feeds.Reaction, error) {
				existing.Custom = incoming.Custom
				existing.UpdatedAt = b.service.Now()
				return existing, nil
			},
			owner: func(reaction feeds.Reaction) string { return reaction.UserID },
			changed: func(ctx context.Context, kind events.Kind, _, reaction feeds.Reaction) error {
				reactionKind := events.KindReactionAdded
				switch kind {
				case events.KindUpdated:
					reactionKind = events.KindReactionUpdated
				case events.KindDeleted:
					reactionKind = events.KindReactionRemoved
				}
				if err := b.countReaction(ctx, reactionKind, reaction); err != nil {
					return err
				}
				b.publish(feeds.ReactionChanged(reactionKind, reaction))
				return nil
			},
		},
	}
}

func (r *reactionResource) create(ctx context.Context, caller string, body []byte) (any, error) {
	var reaction feeds.Reaction
	if err := json.Unmarshal(body, &reaction); err != nil {
		return nil, errInvalidRequest
	}
	return r.backend.react(ctx, r.entityResource, caller, reaction.TargetType(), reaction.TargetID(), reaction)
}

// react stores caller's reaction on a target and reports it as added or
// updated.
func (b *backend) react(ctx context.Context, items *entityResource[feeds.Reaction], caller, targetType, targetID string, reaction feeds.Reaction) (feeds.Reaction, error) {
	if reaction.Type == "" || targetID == "" {
		return reaction, fmt.Errorf("%w: reaction needs a type and a target", errInvalidRequest)
	}
	reaction.ActivityID, reaction.CommentID = "", ""
	switch targetType {
	case feeds.ObjectActivity:
		if _, err := b.activities.Get(ctx, targetID); err != nil {
			return reaction, err
		}
		reaction.ActivityID = targetID
	case feeds.ObjectComment:
		if _, err := b.comments.Get(ctx, targetID); err != nil {
			return reaction, err
		}
		reaction.CommentID = targetID
	default:
		return reaction, fmt.Errorf("%w: reaction target %q", errInvalidRequest, targetType)
	}
	reaction.ID = feeds.ReactionID(targetType, targetID, caller, reaction.Type)
	reaction.UserID = caller
	reaction.User = b.profile(ctx, caller)
	now := b.service.Now()
	reaction.CreatedAt, reaction.UpdatedAt = now, now

	kind := events.KindAdded
	previous, err := b.reactions.Get(ctx, reaction.ID)
	switch {
	case err == nil:
		kind = events.KindUpdated
		reaction.CreatedAt = previous.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return reaction, err
	}
	if err := b.reactions.Save(ctx, reaction); err != nil {
		return reaction, err
	}
	return reaction, items.notify(ctx, kind, previous, reaction)
}

func (b *backend) countReaction(ctx context.Context, kind events.Kind, reaction feeds.Reaction) error {
	if reaction.CommentID != "" {
		return mutate(ctx, b.comments, reaction.CommentID, func(comment feeds.Comment) feeds.Comment {
			return comment.WithReaction(kind, reaction, "")
		})
	}
	return mutate(ctx, b.activities, reaction.ActivityID, func(activity feeds.Activity) feeds.Activity {
		return activity.WithReaction(kind, reaction, "")
	})
}

func (b *backend) bookmarkResource() *entityResource[feeds.Bookmark] {
	return &entityResource[feeds.Bookmark]{
		items: b.bookmarks,
		prepare: func(ctx context.Context, caller string, bookmark feeds.Bookmark) (feeds.Bookmark, error) {
			if _, err := b.activities.Get(ctx, bookmark.ActivityID); err != nil {
				return bookmark, fmt.Errorf("%w: activity %s: %w", errInvalidRequest, bookmark.ActivityID, err)
			}
			id, err := b.newID(bookmark.ID)
			if err != nil {
				return bookmark, err
			}
			bookmark.ID = id
			bookmark.UserID = caller
			bookmark.User = b.profile(ctx, caller)
			if bookmark, err = b.fileBookmark(ctx, caller, bookmark); err != nil {
				return bookmark, err
			}
			now := b.service.Now()
			bookmark.CreatedAt, bookmark.UpdatedAt = now, now
			return bookmark, nil
		},
		merge: func(ctx context.Context, caller string, existing, incoming feeds.Bookmark) (feeds.Bookmark, error) {
			existing.FolderID = incoming.FolderID
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return b.fileBookmark(ctx, caller, existing)
		},
		owner: func(bookmark feeds.Bookmark) string { return bookmark.UserID },
		changed: func(ctx context.Context, kind events.Kind, _, bookmark feeds.Bookmark) error {
			if err := mutate(ctx, b.activities, bookmark.ActivityID, func(activity feeds.Activity) feeds.Activity {
				return activity.WithBookmark(kind, bookmark, "")
			}); err != nil {
				return err
			}
			b.publish(feeds.BookmarkChanged(kind, bookmark))
			return nil
		},
	}
}

// fileBookmark embeds the bookmark's folder, which caller must own.
func (b *backend) fileBookmark(ctx context.Context, caller string, bookmark feeds.Bookmark) (feeds.Bookmark, error) {
	bookmark.Folder = nil
	if bookmark.FolderID == "" {
		return bookmark, nil
	}
	folder, err := b.folders.Get(ctx, bookmark.FolderID)
	if err != nil {
		return bookmark, fmt.Errorf("%w: folder %s: %w", errInvalidRequest, bookmark.FolderID, err)
	}
	if folder.UserID != caller {
		return bookmark, errForbidden
	}
	bookmark.Folder = &folder
	return bookmark, nil
}

func (b *backend) folderResource() *entityResource[feeds.BookmarkFolder] {
	return &entityResource[feeds.BookmarkFolder]{
		items: b.folders,
		prepare: func(_ context.Context, caller string, folder feeds.BookmarkFolder) (feeds.BookmarkFolder, error) {
			if folder.Name == "" {
				return folder, fmt.Errorf("%w: folder needs a name", errInvalidRequest)
			}
			id, err := b.newID(folder.ID)
			if err != nil {
				return folder, err
			}
			folder.ID = id
			folder.UserID = caller
			now := b.service.Now()
			folder.CreatedAt, folder.UpdatedAt = now, now
			return folder, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.BookmarkFolder) (feeds.BookmarkFolder, error) {
			if incoming.Name != "" {
				existing.Name = incoming.Name
			}
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(folder feeds.BookmarkFolder) string { return folder.UserID },
		changed: func(ctx context.Context, kind events.Kind, _, folder feeds.BookmarkFolder) error {
			if kind != events.KindAdded {
				if _, err := mutateAll(ctx, b.bookmarks, store.Keys{ParentID: folder.ID}, func(bookmark feeds.Bookmark) (feeds.Bookmark, bool) {
					if kind == events.KindDeleted {
						bookmark.FolderID = ""
						bookmark.Folder = nil
						return bookmark, true
					}
					refiled := folder
					bookmark.Folder = &refiled
					return bookmark, true
				}); err != nil {
					return err
				}
			}
			b.publish(feeds.BookmarkFolderChanged(kind, folder))
			return nil
		},
	}
}

func (b *backend) followResource() *entityResource[feeds.Follow] {
	return &entityResource[feeds.Follow]{
		items: b.follows,
		prepare: func(ctx context.Context, caller string, follow feeds.Follow) (feeds.Follow, error) {
			if _, _, ok := feeds.SplitFeedID(follow.SourceFeed); !ok {
				return follow, fmt.Errorf("%w: source feed %q", errInvalidRequest, follow.SourceFeed)
			}
			target, err := b.feedList.Get(ctx, follow.TargetFeed)
			if err != nil {
				return follow, fmt.Errorf("%w: target feed %s: %w", errInvalidRequest, follow.TargetFeed, err)
			}
			if source, err := b.feedList.Get(ctx, follow.SourceFeed); err == nil && source.CreatedByID != caller {
				return follow, errForbidden
			}
			follow.Status = feeds.FollowAccepted
			if target.Visibility == followersOnlyVisibility && target.CreatedByID != caller {
				follow.Status = feeds.FollowPending
			}
			now := b.service.Now()
			follow.CreatedAt, follow.UpdatedAt = now, now
			return follow, nil
		},
		merge: func(ctx context.Context, caller string, existing, incoming feeds.Follow) (feeds.Follow, error) {
			if incoming.Status != "" && incoming.Status != existing.Status {
				target, err := b.feedList.Get(ctx, existing.TargetFeed)
				if err != nil {
					return existing, err
				}
				if target.CreatedByID != caller {
					return existing, errForbidden
				}
				if incoming.Status != feeds.FollowAccepted && incoming.Status != feeds.FollowRejected {
					return existing, fmt.Errorf("%w: follow status %q", errInvalidRequest, incoming.Status)
				}
				existing.Status = incoming.Status
			}
			existing.PushPreference = incoming.PushPreference
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		changed: func(ctx context.Context, kind events.Kind, previous, follow feeds.Follow) error {
			wasAccepted := kind != events.KindAdded && previous.Status == feeds.FollowAccepted
			isAccepted := kind != events.KindDeleted && follow.Status == feeds.FollowAccepted
			if kind == events.KindUpdated && previous.Status == follow.Status {
				return nil
			}
			if wasAccepted != isAccepted {
				counted := events.KindAdded
				if wasAccepted {
					counted = events.KindDeleted
				}
				for _, feedID := range []string{follow.SourceFeed, follow.TargetFeed} {
					if err := mutate(ctx, b.feedList, feedID, func(feed feeds.Feed) feeds.Feed {
						next, _ := feed.WithFollow(counted, previousOr(previous, follow, wasAccepted))
						return next
					}); err != nil {
						return err
					}
				}
				if err := b.fanOut(ctx, follow, isAccepted); err != nil {
					return err
				}
			}
			b.publish(feeds.FollowChanged(kind, follow))
			return nil
		},
	}
}

// previousOr picks the follow whose accepted status is being counted.
func previousOr(previous, current feeds.Follow, usePrevious bool) feeds.Follow {
	if usePrevious {
		return previous
	}
	return current
}

func (b *backend) memberResource() *entityResource[feeds.Member] {
	return &entityResource[feeds.Member]{
		items: b.members,
		prepare: func(ctx context.Context, caller string, member feeds.Member) (feeds.Member, error) {
			feed, err := b.feedList.Get(ctx, member.FeedID)
			if err != nil {
				return member, fmt.Errorf("%w: feed %s: %w", errInvalidRequest, member.FeedID, err)
			}
			if member.UserID == "" {
				member.UserID = caller
			}
			if member.UserID != caller && feed.CreatedByID != caller {
				return member, errForbidden
			}
			member.User = b.profile(ctx, member.UserID)
			if member.Role == "" {
				member.Role = defaultMemberRole
			}
			if member.Status == "" {
				member.Status = feeds.MemberActive
			}
			now := b.service.Now()
			member.CreatedAt, member.UpdatedAt = now, now
			return member, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.Member) (feeds.Member, error) {
			if incoming.Role != "" {
				existing.Role = incoming.Role
			}
			if incoming.Status != "" {
				existing.Status = incoming.Status
			}
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(member feeds.Member) string { return member.UserID },
		changed: func(ctx context.Context, kind events.Kind, _, member feeds.Member) error {
			delta := 0
			switch kind {
			case events.KindAdded:
				delta = 1
			case events.KindDeleted:
				delta = -1
			}
			if delta != 0 {
				if err := mutate(ctx, b.feedList, member.FeedID, func(feed feeds.Feed) feeds.Feed {
					return feed.WithMemberDelta(delta)
				}); err != nil {
					return err
				}
			}
			b.publish(feeds.MemberChanged(kind, member))
			return nil
		},
	}
}

func (b *backend) pollResource() *entityResource[feeds.Poll] {
	return &entityResource[feeds.Poll]{
		items: b.polls,
		prepare: func(_ context.Context, caller string, poll feeds.Poll) (feeds.Poll, error) {
			if poll.Name == "" {
				return poll, fmt.Errorf("%w: poll needs a name", errInvalidRequest)
			}
			id, err := b.newID(poll.ID)
			if err != nil {
				return poll, err
			}
			poll.ID = id
			poll.UserID = caller
			poll.Options = slices.Clone(poll.Options)
			for index := range poll.Options {
				if poll.Options[index].ID == "" {
					poll.Options[index].ID = "o" + strconv.Itoa(index+1)
				}
			}
			poll.VoteCount, poll.AnswersCount = 0, 0
			poll.VoteCountsByOption = nil
			poll.OwnVotes = nil
			now := b.service.Now()
			poll.CreatedAt, poll.UpdatedAt = now, now
			return poll, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.Poll) (feeds.Poll, error) {
			existing.Name = incoming.Name
			existing.Description = incoming.Description
			existing.IsClosed = incoming.IsClosed
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(poll feeds.Poll) string { return poll.UserID },
		changed: func(ctx context.Context, kind events.Kind, _, poll feeds.Poll) error {
			if kind == events.KindUpdated {
				if err := b.embedPoll(ctx, poll); err != nil {
					return err
				}
			}
			b.publish(feeds.PollChanged(kind, poll))
			return nil
		},
	}
}

// embedPoll refreshes the poll snapshot held by activities.
func (b *backend) embedPoll(ctx context.Context, poll feeds.Poll) error {
	_, err := mutateAll(ctx, b.activities, store.Keys{UserID: poll.UserID}, func(activity feeds.Activity) (feeds.Activity, bool) {
		if activity.Poll == nil || activity.Poll.ID != poll.ID {
			return activity, false
		}
		embedded := poll
		activity.Poll = &embedded
		return activity, true
	})
	return err
}

func (b *backend) voteResource() *entityResource[feeds.PollVote] {
	return &entityResource[feeds.PollVote]{
		items: b.votes,
		prepare: func(ctx context.Context, caller string, vote feeds.PollVote) (feeds.PollVote, error) {
			poll, err := b.polls.Get(ctx, vote.PollID)
			if err != nil {
				return vote, fmt.Errorf("%w: poll %s: %w", errInvalidRequest, vote.PollID, err)
			}
			if err := validateVote(poll, vote); err != nil {
				return vote, err
			}
			id, err := b.newID(vote.ID)
			if err != nil {
				return vote, err
			}
			vote.ID = id
			vote.UserID = caller
			vote.User = b.profile(ctx, caller)
			now := b.service.Now()
			vote.CreatedAt, vote.UpdatedAt = now, now
			return vote, nil
		},
		merge: func(ctx context.Context, _ string, existing, incoming feeds.PollVote) (feeds.PollVote, error) {
			poll, err := b.polls.Get(ctx, existing.PollID)
			if err != nil {
				return existing, err
			}
			existing.OptionID = incoming.OptionID
			existing.AnswerText = incoming.AnswerText
			if err := validateVote(poll, existing); err != nil {
				return existing, err
			}
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(vote feeds.PollVote) string { return vote.UserID },
		changed: func(ctx context.Context, kind events.Kind, previous, vote feeds.PollVote) error {
			var recounted feeds.Poll
			if err := mutate(ctx, b.polls, vote.PollID, func(poll feeds.Poll) feeds.Poll {
				if kind == events.KindUpdated {
					poll = poll.WithVote(events.KindDeleted, previous, "")
					poll = poll.WithVote(events.KindAdded, vote, "")
				} else {
					poll = poll.WithVote(kind, vote, "")
				}
				recounted = poll
				return poll
			}); err != nil {
				return err
			}
			if recounted.ID != "" {
				if err := b.embedPoll(ctx, recounted); err != nil {
					return err
				}
			}
			b.publish(feeds.PollVoteChanged(kind, vote))
			return nil
		},
	}
}

func validateVote(poll feeds.Poll, vote feeds.PollVote) error {
	if poll.IsClosed {
		return fmt.Errorf("%w: poll %s is closed", errInvalidRequest, poll.ID)
	}
	if vote.IsAnswer {
		if !poll.AllowAnswers || vote.AnswerText == "" {
			return fmt.Errorf("%w: poll %s does not take this answer", errInvalidRequest, poll.ID)
		}
		return nil
	}
	if !slices.ContainsFunc(poll.Options, func(option feeds.PollOption) bool { return option.ID == vote.OptionID }) {
		return fmt.Errorf("%w: unknown option %q", errInvalidRequest, vote.OptionID)
	}
	return nil
}

func (b *backend) feedResource() *entityResource[feeds.Feed] {
	return &entityResource[feeds.Feed]{
		items: b.feedList,
		prepare: func(ctx context.Context, caller string, feed feeds.Feed) (feeds.Feed, error) {
			if feed.ID == "" {
				if feed.GroupID == "" {
					return feed, fmt.Errorf("%w: feed needs an id or a group", errInvalidRequest)
				}
				id, err := b.service.NewID()
				if err != nil {
					return feed, err
				}
				feed.ID = feeds.FeedID(feed.GroupID, id)
			}
			groupID, _, ok := feeds.SplitFeedID(feed.ID)
			if !ok {
				return feed, fmt.Errorf("%w: feed id %q", errInvalidRequest, feed.ID)
			}
			feed.GroupID = groupID
			feed.CreatedByID = caller
			feed.CreatedBy = b.profile(ctx, caller)
			feed.FollowerCount, feed.FollowingCount, feed.MemberCount = 0, 0, 0
			now := b.service.Now()
			feed.CreatedAt, feed.UpdatedAt = now, now
			return feed, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.Feed) (feeds.Feed, error) {
			existing.Name = incoming.Name
			existing.Description = incoming.Description
			existing.Visibility = incoming.Visibility
			existing.Custom = incoming.Custom
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		owner: func(feed feeds.Feed) string { return feed.CreatedByID },
		changed: func(_ context.Context, kind events.Kind, _, feed feeds.Feed) error {
			b.publish(feeds.FeedChanged(kind, feed))
			return nil
		},
	}
}

func (b *backend) moderationResource() *entityResource[feeds.ModerationConfig] {
	return &entityResource[feeds.ModerationConfig]{
		items: b.moderation,
		prepare: func(_ context.Context, _ string, config feeds.ModerationConfig) (feeds.ModerationConfig, error) {
			now := b.service.Now()
			config.CreatedAt, config.UpdatedAt = now, now
			return config, nil
		},
		merge: func(_ context.Context, _ string, existing, incoming feeds.ModerationConfig) (feeds.ModerationConfig, error) {
			existing.Team = incoming.Team
			existing.Async = incoming.Async
			existing.Rules = incoming.Rules
			existing.UpdatedAt = b.service.Now()
			return existing, nil
		},
		changed: func(_ context.Context, kind events.Kind, _, config feeds.ModerationConfig) error {
			b.publish(feeds.ModerationConfigChanged(kind, config))
			return nil
		},
	}
}

// userResource lets callers maintain their own profile. Updates upsert and
// refresh every embedded copy before announcing the new profile.
type userResource struct {
	*entityResource[feeds.User]
	backend *backend
}

func (b *backend) userResource() *userResource {
	return &userResource{
		backend:        b,
		entityResource: &entityResource[feeds.User]{items: b.users},
	}
}

func (r *userResource) create(ctx context.Context, caller string, body []byte) (any, error) {
	return r.update(ctx, caller, caller, body)
}

func (r *userResource) update(ctx context.Context, caller, id string, body []byte) (any, error) {
	if id != caller {
		return nil, errForbidden
	}
	var user feeds.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, errInvalidRequest
	}
	b := r.backend
	now := b.service.Now()
	user.ID = caller
	user.CreatedAt, user.UpdatedAt = now, now
	if existing, err := b.users.Get(ctx, caller); err == nil {
		user.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := b.users.Save(ctx, user); err != nil {
		return nil, err
	}
	if err := b.refreshUser(ctx, user); err != nil {
		return nil, err
	}
	b.publish(feeds.UserUpdated(user))
	return user, nil
}

func (r *userResource) remove(context.Context, string, string) (any, error) {
	return nil, errUnsupported
}
