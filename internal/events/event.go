// Package events defines the change notifications that keep views current
// and the in-process bus that fans them out to every subscribed view.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the shape category of a change event. Routing is generic over the
// kind; the entity type only selects which views care.
type Kind string

const (
	KindAdded           Kind = "added"
	KindUpdated         Kind = "updated"
	KindDeleted         Kind = "deleted"
	KindBatchAdded      Kind = "batch_added"
	KindBatchRemoved    Kind = "batch_removed"
	KindChildAdded      Kind = "child_added"
	KindChildUpdated    Kind = "child_updated"
	KindChildDeleted    Kind = "child_deleted"
	KindReactionAdded   Kind = "reaction_added"
	KindReactionUpdated Kind = "reaction_updated"
	KindReactionRemoved Kind = "reaction_removed"
	KindUserUpdated     Kind = "user_updated"
)

// IsReaction reports whether k is one of the reaction kinds.
func (k Kind) IsReaction() bool {
	return k == KindReactionAdded || k == KindReactionUpdated || k == KindReactionRemoved
}

// IsChild reports whether k mutates a child collection.
func (k Kind) IsChild() bool {
	return k == KindChildAdded || k == KindChildUpdated || k == KindChildDeleted
}

// EntityType names the type of the entity an event carries.
type EntityType string

const (
	EntityActivity         EntityType = "activity"
	EntityComment          EntityType = "comment"
	EntityReaction         EntityType = "reaction"
	EntityBookmark         EntityType = "bookmark"
	EntityBookmarkFolder   EntityType = "bookmark_folder"
	EntityFollow           EntityType = "follow"
	EntityMember           EntityType = "member"
	EntityPoll             EntityType = "poll"
	EntityPollVote         EntityType = "poll_vote"
	EntityFeed             EntityType = "feed"
	EntityModerationConfig EntityType = "moderation_config"
	EntityUser             EntityType = "user"
)

// Scope locates where the mutated entity lives on the server.
type Scope struct {
	FeedID     string `json:"feed_id,omitempty"`
	ObjectID   string `json:"object_id,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
}

// ChangeEvent is one remote mutation. Which payload fields are set depends
// on Kind: Entity for single-entity kinds, Entities for batch_added,
// EntityIDs for batch_removed, ParentID for child and reaction kinds.
type ChangeEvent struct {
	ID        string
	Kind      Kind
	Type      EntityType
	Entity    any
	Entities  []any
	EntityID  string
	EntityIDs []string
	ParentID  string
	Scope     Scope
	CreatedAt time.Time
}

type identifiable interface {
	Identity() string
}

// TargetID returns the identity the event is about: EntityID when set,
// otherwise the identity of Entity.
func (e ChangeEvent) TargetID() string {
	if e.EntityID != "" {
		return e.EntityID
	}
	if entity, ok := e.Entity.(identifiable); ok {
		return entity.Identity()
	}
	return ""
}

// Stamp fills ID and CreatedAt when they are missing.
func Stamp(event ChangeEvent, now time.Time) ChangeEvent {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now.UTC()
	}
	return event
}

// Added describes a new entity.
func Added(entityType EntityType, scope Scope, entity any) ChangeEvent {
	return ChangeEvent{Kind: KindAdded, Type: entityType, Scope: scope, Entity: entity}
}

// Updated describes a fresh snapshot of an existing entity.
func Updated(entityType EntityType, scope Scope, entity any) ChangeEvent {
	return ChangeEvent{Kind: KindUpdated, Type: entityType, Scope: scope, Entity: entity}
}

// Deleted describes a removed entity. entity may be nil when only the id is known.
func Deleted(entityType EntityType, scope Scope, id string, entity any) ChangeEvent {
	return ChangeEvent{Kind: KindDeleted, Type: entityType, Scope: scope, EntityID: id, Entity: entity}
}

// BatchAdded describes several new entities of one type.
func BatchAdded(entityType EntityType, scope Scope, entities []any) ChangeEvent {
	return ChangeEvent{Kind: KindBatchAdded, Type: entityType, Scope: scope, Entities: entities}
}

// BatchRemoved describes several removed entities of one type.
func BatchRemoved(entityType EntityType, scope Scope, ids []string) ChangeEvent {
	return ChangeEvent{Kind: KindBatchRemoved, Type: entityType, Scope: scope, EntityIDs: append([]string(nil), ids...)}
}

// Child describes a mutation of an entity held in parentID's child collection.
func Child(kind Kind, entityType EntityType, scope Scope, parentID string, entity any) ChangeEvent {
	event := ChangeEvent{Kind: kind, Type: entityType, Scope: scope, ParentID: parentID, Entity: entity}
	if kind == KindChildDeleted {
		if identified, ok := entity.(identifiable); ok {
			event.EntityID = identified.Identity()
		}
	}
	return event
}

// Reaction describes a reaction mutation attached to the entity targetID
// whose type is scope.ObjectType.
func Reaction(kind Kind, scope Scope, targetID string, reaction any) ChangeEvent {
	return ChangeEvent{Kind: kind, Type: EntityReaction, Scope: scope, ParentID: targetID, Entity: reaction}
}

// UserUpdated describes a changed user profile embedded in many entities.
func UserUpdated(user any) ChangeEvent {
	return ChangeEvent{Kind: KindUserUpdated, Type: EntityUser, Entity: user}
}
