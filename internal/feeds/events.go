package feeds

import (
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
)

// ActivityAdded announces an activity delivered to feedID.
func ActivityAdded(feedID string, activity Activity) events.ChangeEvent {
	return events.Added(events.EntityActivity, events.Scope{FeedID: feedID}, activity)
}

// ActivityUpdated announces a fresh activity snapshot in feedID.
func ActivityUpdated(feedID string, activity Activity) events.ChangeEvent {
	return events.Updated(events.EntityActivity, events.Scope{FeedID: feedID}, activity)
}

// ActivityDeleted announces the removal of an activity from feedID.
func ActivityDeleted(feedID string, activity Activity) events.ChangeEvent {
	return events.Deleted(events.EntityActivity, events.Scope{FeedID: feedID}, activity.ID, activity)
}

// ActivitiesRemoved announces a batch removal from feedID, e.g. after an unfollow.
func ActivitiesRemoved(feedID string, ids []string) events.ChangeEvent {
	return events.BatchRemoved(events.EntityActivity, events.Scope{FeedID: feedID}, ids)
}

// ActivitiesAdded announces a batch delivered to feedID, e.g. after a follow.
func ActivitiesAdded(feedID string, activities []Activity) events.ChangeEvent {
	payload := make([]any, 0, len(activities))
	for _, activity := range activities {
		payload = append(payload, activity)
	}
	return events.BatchAdded(events.EntityActivity, events.Scope{FeedID: feedID}, payload)
}

// CommentAdded announces a comment. Replies become child events keyed on
// their immediate parent.
func CommentAdded(comment Comment) events.ChangeEvent {
	if comment.ParentID != "" {
		return events.Child(events.KindChildAdded, events.EntityComment, comment.Scope(), comment.ParentID, comment)
	}
	return events.Added(events.EntityComment, comment.Scope(), comment)
}

// CommentUpdated announces a fresh comment snapshot.
func CommentUpdated(comment Comment) events.ChangeEvent {
	if comment.ParentID != "" {
		return events.Child(events.KindChildUpdated, events.EntityComment, comment.Scope(), comment.ParentID, comment)
	}
	return events.Updated(events.EntityComment, comment.Scope(), comment)
}

// CommentDeleted announces a removed comment.
func CommentDeleted(comment Comment) events.ChangeEvent {
	if comment.ParentID != "" {
		return events.Child(events.KindChildDeleted, events.EntityComment, comment.Scope(), comment.ParentID, comment)
	}
	return events.Deleted(events.EntityComment, comment.Scope(), comment.ID, comment)
}

// ReactionChanged announces a reaction added, updated or removed on its target.
func ReactionChanged(kind events.Kind, reaction Reaction) events.ChangeEvent {
	scope := events.Scope{ObjectID: reaction.TargetID(), ObjectType: reaction.TargetType()}
	return events.Reaction(kind, scope, reaction.TargetID(), reaction)
}

// BookmarkChanged announces a bookmark added, updated or deleted.
func BookmarkChanged(kind events.Kind, bookmark Bookmark) events.ChangeEvent {
	scope := events.Scope{ObjectID: bookmark.ActivityID, ObjectType: ObjectActivity}
	return entityChanged(kind, events.EntityBookmark, scope, bookmark.ID, bookmark)
}

// BookmarkFolderChanged announces a folder added, updated or deleted.
func BookmarkFolderChanged(kind events.Kind, folder BookmarkFolder) events.ChangeEvent {
	return entityChanged(kind, events.EntityBookmarkFolder, events.Scope{}, folder.ID, folder)
}

// FollowChanged announces a follow created, accepted or rejected, or removed.
func FollowChanged(kind events.Kind, follow Follow) events.ChangeEvent {
	return entityChanged(kind, events.EntityFollow, events.Scope{FeedID: follow.SourceFeed}, follow.Identity(), follow)
}

// MemberChanged announces a membership change in its feed.
func MemberChanged(kind events.Kind, member Member) events.ChangeEvent {
	return entityChanged(kind, events.EntityMember, events.Scope{FeedID: member.FeedID}, member.Identity(), member)
}

// PollChanged announces a poll created, updated or deleted.
func PollChanged(kind events.Kind, poll Poll) events.ChangeEvent {
	return entityChanged(kind, events.EntityPoll, events.Scope{ObjectID: poll.ID, ObjectType: ObjectPoll}, poll.ID, poll)
}

// PollVoteChanged announces a vote cast, changed or removed.
func PollVoteChanged(kind events.Kind, vote PollVote) events.ChangeEvent {
	return entityChanged(kind, events.EntityPollVote, vote.Scope(), vote.ID, vote)
}

// FeedChanged announces a feed created, updated or deleted.
func FeedChanged(kind events.Kind, feed Feed) events.ChangeEvent {
	return entityChanged(kind, events.EntityFeed, events.Scope{FeedID: feed.ID}, feed.ID, feed)
}

// ModerationConfigChanged announces a moderation config change.
func ModerationConfigChanged(kind events.Kind, config ModerationConfig) events.ChangeEvent {
	return entityChanged(kind, events.EntityModerationConfig, events.Scope{}, config.Key, config)
}

// UserUpdated announces a changed profile to every view embedding it.
func UserUpdated(user User) events.ChangeEvent {
	return events.UserUpdated(user)
}

func entityChanged(kind events.Kind, entityType events.EntityType, scope events.Scope, id string, entity any) events.ChangeEvent {
	switch kind {
	case events.KindDeleted:
		return events.Deleted(entityType, scope, id, entity)
	case events.KindUpdated:
		return events.Updated(entityType, scope, entity)
	default:
		return events.Added(entityType, scope, entity)
	}
}

// NewCodec returns a codec that decodes every entity type of this package.
func NewCodec() *events.Codec {
	codec := events.NewCodec()
	events.RegisterType[Activity](codec, events.EntityActivity)
	events.RegisterType[Comment](codec, events.EntityComment)
	events.RegisterType[Reaction](codec, events.EntityReaction)
	events.RegisterType[Bookmark](codec, events.EntityBookmark)
	events.RegisterType[BookmarkFolder](codec, events.EntityBookmarkFolder)
	events.RegisterType[Follow](codec, events.EntityFollow)
	events.RegisterType[Member](codec, events.EntityMember)
	events.RegisterType[Poll](codec, events.EntityPoll)
	events.RegisterType[PollVote](codec, events.EntityPollVote)
	events.RegisterType[Feed](codec, events.EntityFeed)
	events.RegisterType[ModerationConfig](codec, events.EntityModerationConfig)
	events.RegisterType[User](codec, events.EntityUser)
	return codec
}
