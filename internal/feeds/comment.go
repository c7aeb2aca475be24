package feeds

import (
	"fmt"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Comment is a threaded comment on an object. Replies are comments whose
// ParentID names another comment.
type Comment struct {
	ID         string         `json:"id"`
	ObjectID   string         `json:"object_id"`
	ObjectType string         `json:"object_type"`
	ParentID   string         `json:"parent_id,omitempty"`
	Text       string         `json:"text"`
	UserID     string         `json:"user_id"`
	User       User           `json:"user"`
	ReplyCount int            `json:"reply_count"`
	Upvotes    int            `json:"upvote_count"`
	Downvotes  int            `json:"downvote_count"`
	Score      float64        `json:"score"`
	Custom     map[string]any `json:"custom,omitempty"`
	Replies    []Comment      `json:"replies,omitempty"`
	ReactionSummary
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Comment) Identity() string {
	return c.ID
}

// Scope returns the event scope of the comment's thread.
func (c Comment) Scope() events.Scope {
	return events.Scope{ObjectID: c.ObjectID, ObjectType: c.ObjectType}
}

// WithReaction folds a reaction event into the comment's summary and votes.
func (c Comment) WithReaction(kind events.Kind, reaction Reaction, currentUserID string) Comment {
	c.ReactionSummary = c.ReactionSummary.Apply(kind, reaction, currentUserID)
	delta := 0
	switch kind {
	case events.KindReactionAdded:
		delta = 1
	case events.KindReactionRemoved:
		delta = -1
	}
	switch reaction.Type {
	case ReactionUpvote:
		c.Upvotes = adjust(c.Upvotes, delta)
	case ReactionDownvote:
		c.Downvotes = adjust(c.Downvotes, delta)
	}
	return c
}

// Vote reaction types feed the best and controversial sorts.
const (
	ReactionUpvote   = "upvote"
	ReactionDownvote = "downvote"
)

// Confidence is the lower bound of the Wilson score interval of the
// upvote ratio.
func (c Comment) Confidence() float64 {
	total := float64(c.Upvotes + c.Downvotes)
	if total == 0 {
		return 0
	}
	const z = 1.96
	positive := float64(c.Upvotes) / total
	return (positive + z*z/(2*total) - z*math.Sqrt((positive*(1-positive)+z*z/(4*total))/total)) / (1 + z*z/total)
}

// Controversy is high when votes are many and evenly split.
func (c Comment) Controversy() float64 {
	if c.Upvotes == 0 || c.Downvotes == 0 {
		return 0
	}
	magnitude := float64(c.Upvotes + c.Downvotes)
	balance := math.Min(float64(c.Upvotes), float64(c.Downvotes)) / math.Max(float64(c.Upvotes), float64(c.Downvotes))
	return math.Pow(magnitude, balance)
}

var (
	CommentFieldID         = query.NewField("id", func(c Comment) any { return c.ID })
	CommentFieldObjectID   = query.NewField("object_id", func(c Comment) any { return c.ObjectID })
	CommentFieldObjectType = query.NewField("object_type", func(c Comment) any { return c.ObjectType })
	CommentFieldParentID   = query.NewField("parent_id", func(c Comment) any { return c.ParentID })
	CommentFieldUserID     = query.NewField("user_id", func(c Comment) any { return c.UserID })
	CommentFieldText       = query.NewField("comment_text", func(c Comment) any { return c.Text })
	CommentFieldScore      = query.NewField("score", func(c Comment) any { return c.Score })
	CommentFieldCreatedAt  = query.NewField("created_at", func(c Comment) any { return timeValue(c.CreatedAt) })

	CommentSortCreatedAt     = query.NewTimeSortField("created_at", func(c Comment) time.Time { return c.CreatedAt })
	CommentSortReactionCount = query.NewSortField("reaction_count", func(c Comment) int { return c.ReactionCount })
	CommentSortConfidence    = query.NewSortField("confidence", func(c Comment) float64 { return c.Confidence() })
	CommentSortControversy   = query.NewSortField("controversy", func(c Comment) float64 { return c.Controversy() })
	CommentSortReplyCount    = query.NewSortField("reply_count", func(c Comment) int { return c.ReplyCount })

	CommentCatalog = query.NewCatalog(
		[]query.Field[Comment]{
			CommentFieldID, CommentFieldObjectID, CommentFieldObjectType, CommentFieldParentID,
			CommentFieldUserID, CommentFieldText, CommentFieldScore, CommentFieldCreatedAt,
		},
		[]query.SortField[Comment]{CommentSortCreatedAt, CommentSortReactionCount, CommentSortConfidence, CommentSortControversy, CommentSortReplyCount},
		query.Desc(CommentSortCreatedAt),
	)

	// CommentReplies nests replies under their parent, oldest first.
	CommentReplies = &collection.Nesting[Comment]{
		Children: func(c Comment) []Comment { return c.Replies },
		WithChildren: func(c Comment, replies []Comment) Comment {
			c.Replies = replies
			return c
		},
		Compare: query.Comparator([]query.Sort[Comment]{query.Asc(CommentSortCreatedAt)}),
	}
)

// CommentSortMode names a product-level comment ordering.
type CommentSortMode string

const (
	CommentSortFirst         CommentSortMode = "first"
	CommentSortLast          CommentSortMode = "last"
	CommentSortTop           CommentSortMode = "top"
	CommentSortBest          CommentSortMode = "best"
	CommentSortControversial CommentSortMode = "controversial"
)

// CommentSort expands a sort mode into sort fields. Ties fall back to
// newest first.
func CommentSort(mode CommentSortMode) ([]query.Sort[Comment], error) {
	newest := query.Desc(CommentSortCreatedAt)
	switch mode {
	case CommentSortFirst:
		return []query.Sort[Comment]{query.Asc(CommentSortCreatedAt)}, nil
	case CommentSortLast, "":
		return []query.Sort[Comment]{newest}, nil
	case CommentSortTop:
		return []query.Sort[Comment]{query.Desc(CommentSortReactionCount), newest}, nil
	case CommentSortBest:
		return []query.Sort[Comment]{query.Desc(CommentSortConfidence), newest}, nil
	case CommentSortControversial:
		return []query.Sort[Comment]{query.Desc(CommentSortControversy), newest}, nil
	}
	return nil, fmt.Errorf("%w: comment sort %q", query.ErrInvalidQuery, mode)
}

// CommentRules routes comment events for one thread. Reactions on any held
// comment, including replies, update its summary in place.
func CommentRules(opts Options) view.Rules[Comment] {
	userID := opts.CurrentUserID
	return view.Rules[Comment]{
		Type:           events.EntityComment,
		Cast:           castEntity[Comment],
		InScope:        inScope(opts.Scope),
		ReactionTarget: ObjectComment,
		ApplyReaction: func(comment Comment, event events.ChangeEvent) Comment {
			reaction, ok := castEntity[Reaction](event.Entity)
			if !ok {
				return comment
			}
			return comment.WithReaction(event.Kind, reaction, userID)
		},
		ApplyUser: func(comment Comment, user any) (Comment, bool) {
			changed := false
			if next, ok := comment.User.refresh(user); ok {
				comment.User = next
				changed = true
			}
			if summary, ok := comment.ReactionSummary.refreshUser(user); ok {
				comment.ReactionSummary = summary
				changed = true
			}
			return comment, changed
		},
		Carry: func(held, incoming Comment) Comment {
			incoming.OwnReactions = held.OwnReactions
			if incoming.Replies == nil {
				incoming.Replies = held.Replies
			}
			return incoming
		},
		OnChildAdded: func(parent, _ Comment) Comment {
			parent.ReplyCount++
			return parent
		},
		OnChildRemoved: func(parent Comment, _ string) Comment {
			parent.ReplyCount = adjust(parent.ReplyCount, -1)
			return parent
		},
	}
}

// NewCommentView follows the comment thread of one object. Replies are
// nested under their immediate parent at any depth.
func NewCommentView(fetcher query.Fetcher[Comment], objectType, objectID string, q query.Query[Comment], opts Options) (*view.View[Comment], error) {
	opts.Scope = events.Scope{ObjectID: objectID, ObjectType: objectType}
	q.Filter = query.And(
		query.Equal(CommentFieldObjectID, objectID),
		query.Equal(CommentFieldObjectType, objectType),
		query.Exists(CommentFieldParentID, false),
		q.Filter,
	)
	return newView(fetcher, q, CommentCatalog, CommentRules(opts), CommentReplies, opts)
}

// NewCommentReplyView lists the direct replies of one comment as a flat
// collection.
func NewCommentReplyView(fetcher query.Fetcher[Comment], parentID string, q query.Query[Comment], opts Options) (*view.View[Comment], error) {
	q.Filter = query.And(query.Equal(CommentFieldParentID, parentID), q.Filter)
	return newView(fetcher, q, CommentCatalog, CommentRules(opts), nil, opts)
}
