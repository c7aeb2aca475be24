package feeds

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

const latestReactionsLimit = 10

// Reaction is a typed reaction of one user on an activity or a comment.
type Reaction struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	User       User           `json:"user"`
	ActivityID string         `json:"activity_id,omitempty"`
	CommentID  string         `json:"comment_id,omitempty"`
	Custom     map[string]any `json:"custom,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (r Reaction) Identity() string {
	return r.ID
}

// TargetType returns the object type the reaction is attached to.
func (r Reaction) TargetType() string {
	if r.CommentID != "" {
		return ObjectComment
	}
	return ObjectActivity
}

// TargetID returns the id of the object the reaction is attached to.
func (r Reaction) TargetID() string {
	if r.CommentID != "" {
		return r.CommentID
	}
	return r.ActivityID
}

// ReactionID derives the identity of a reaction. A user holds at most one
// reaction of each type per target.
func ReactionID(targetType, targetID, userID, reactionType string) string {
	return fmt.Sprintf("%s:%s:%s:%s", targetType, targetID, userID, reactionType)
}

// ReactionGroup aggregates the reactions of one type.
type ReactionGroup struct {
	Count           int       `json:"count"`
	FirstReactionAt time.Time `json:"first_reaction_at"`
	LastReactionAt  time.Time `json:"last_reaction_at"`
}

// ReactionSummary is the denormalised reaction state of activities and comments.
type ReactionSummary struct {
	ReactionCount   int                      `json:"reaction_count"`
	ReactionGroups  map[string]ReactionGroup `json:"reaction_groups,omitempty"`
	LatestReactions []Reaction               `json:"latest_reactions,omitempty"`
	OwnReactions    []Reaction               `json:"own_reactions,omitempty"`
}

// Apply folds one reaction event into the summary. Own reactions change
// only when the reaction belongs to currentUserID.
func (s ReactionSummary) Apply(kind events.Kind, reaction Reaction, currentUserID string) ReactionSummary {
	own := currentUserID != "" && reaction.UserID == currentUserID
	groups := make(map[string]ReactionGroup, len(s.ReactionGroups)+1)
	for key, group := range s.ReactionGroups {
		groups[key] = group
	}

	switch kind {
	case events.KindReactionAdded:
		if _, seen := findReaction(s.LatestReactions, reaction.ID); seen {
			return s.Apply(events.KindReactionUpdated, reaction, currentUserID)
		}
		group := groups[reaction.Type]
		group.Count++
		if group.FirstReactionAt.IsZero() {
			group.FirstReactionAt = reaction.CreatedAt
		}
		group.LastReactionAt = reaction.CreatedAt
		groups[reaction.Type] = group
		s.ReactionCount++
		s.LatestReactions = prependLatest(s.LatestReactions, reaction)
		if own {
			s.OwnReactions = upsertByID(s.OwnReactions, reaction)
		}
	case events.KindReactionUpdated:
		if _, seen := findReaction(s.LatestReactions, reaction.ID); seen {
			s.LatestReactions = upsertByID(s.LatestReactions, reaction)
		}
		if own {
			s.OwnReactions = upsertByID(s.OwnReactions, reaction)
		}
	case events.KindReactionRemoved:
		if group, ok := groups[reaction.Type]; ok {
			group.Count--
			if group.Count <= 0 {
				delete(groups, reaction.Type)
			} else {
				groups[reaction.Type] = group
			}
		}
		s.ReactionCount = adjust(s.ReactionCount, -1)
		s.LatestReactions = removeByID(s.LatestReactions, reaction.ID)
		if own {
			s.OwnReactions = removeByID(s.OwnReactions, reaction.ID)
		}
	}
	if len(groups) == 0 {
		groups = nil
	}
	s.ReactionGroups = groups
	return s
}

func findReaction(reactions []Reaction, id string) (Reaction, bool) {
	for _, reaction := range reactions {
		if reaction.ID == id {
			return reaction, true
		}
	}
	return Reaction{}, false
}

func prependLatest(latest []Reaction, reaction Reaction) []Reaction {
	result := make([]Reaction, 0, len(latest)+1)
	result = append(result, reaction)
	for _, existing := range latest {
		if existing.ID != reaction.ID {
			result = append(result, existing)
		}
	}
	if len(result) > latestReactionsLimit {
		result = result[:latestReactionsLimit]
	}
	return result
}

func (s ReactionSummary) refreshUser(user any) (ReactionSummary, bool) {
	changed := false
	refresh := func(reactions []Reaction) []Reaction {
		var result []Reaction
		for index, reaction := range reactions {
			next, ok := reaction.User.refresh(user)
			if !ok {
				continue
			}
			if result == nil {
				result = append([]Reaction(nil), reactions...)
			}
			result[index].User = next
			changed = true
		}
		if result == nil {
			return reactions
		}
		return result
	}
	s.LatestReactions = refresh(s.LatestReactions)
	s.OwnReactions = refresh(s.OwnReactions)
	return s, changed
}

var (
	ReactionFieldType       = query.NewField("reaction_type", func(r Reaction) any { return r.Type })
	ReactionFieldUserID     = query.NewField("user_id", func(r Reaction) any { return r.UserID })
	ReactionFieldActivityID = query.NewField("activity_id", func(r Reaction) any { return r.ActivityID })
	ReactionFieldCommentID  = query.NewField("comment_id", func(r Reaction) any { return r.CommentID })
	ReactionFieldCreatedAt  = query.NewField("created_at", func(r Reaction) any { return timeValue(r.CreatedAt) })

	ReactionSortCreatedAt = query.NewTimeSortField("created_at", func(r Reaction) time.Time { return r.CreatedAt })

	ReactionCatalog = query.NewCatalog(
		[]query.Field[Reaction]{ReactionFieldType, ReactionFieldUserID, ReactionFieldActivityID, ReactionFieldCommentID, ReactionFieldCreatedAt},
		[]query.SortField[Reaction]{ReactionSortCreatedAt},
		query.Desc(ReactionSortCreatedAt),
	)
)

// ReactionRules configures views whose members are reactions on one target.
func ReactionRules(opts Options) view.Rules[Reaction] {
	return view.Rules[Reaction]{
		Type:    events.EntityReaction,
		Cast:    castEntity[Reaction],
		InScope: inScope(opts.Scope),
		ApplyUser: func(reaction Reaction, user any) (Reaction, bool) {
			next, ok := reaction.User.refresh(user)
			if !ok {
				return reaction, false
			}
			reaction.User = next
			return reaction, true
		},
	}
}

// NewActivityReactionView lists the reactions on one activity.
func NewActivityReactionView(fetcher query.Fetcher[Reaction], activityID string, q query.Query[Reaction], opts Options) (*view.View[Reaction], error) {
	opts.Scope = events.Scope{ObjectID: activityID, ObjectType: ObjectActivity}
	q.Filter = query.And(query.Equal(ReactionFieldActivityID, activityID), q.Filter)
	return newView(fetcher, q, ReactionCatalog, ReactionRules(opts), nil, opts)
}

// NewCommentReactionView lists the reactions on one comment.
func NewCommentReactionView(fetcher query.Fetcher[Reaction], commentID string, q query.Query[Reaction], opts Options) (*view.View[Reaction], error) {
	opts.Scope = events.Scope{ObjectID: commentID, ObjectType: ObjectComment}
	q.Filter = query.And(query.Equal(ReactionFieldCommentID, commentID), q.Filter)
	return newView(fetcher, q, ReactionCatalog, ReactionRules(opts), nil, opts)
}
