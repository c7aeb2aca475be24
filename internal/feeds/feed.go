package feeds

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Feed is a named stream of activities such as "user:alice".
type Feed struct {
	ID             string         `json:"id"`
	GroupID        string         `json:"group_id"`
	Name           string         `json:"name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Visibility     string         `json:"visibility,omitempty"`
	CreatedByID    string         `json:"created_by_id"`
	CreatedBy      User           `json:"created_by"`
	FollowerCount  int            `json:"follower_count"`
	FollowingCount int            `json:"following_count"`
	MemberCount    int            `json:"member_count"`
	Custom         map[string]any `json:"custom,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (f Feed) Identity() string {
	return f.ID
}

// FeedID joins a feed group and an id into the "group:id" form.
func FeedID(groupID, id string) string {
	return groupID + ":" + id
}

// SplitFeedID splits "group:id" into its parts.
func SplitFeedID(feedID string) (groupID, id string, ok bool) {
	groupID, id, ok = strings.Cut(feedID, ":")
	return groupID, id, ok && groupID != "" && id != ""
}

// WithFollow adjusts follower and following counts for an accepted follow
// that starts or ends at this feed.
func (f Feed) WithFollow(kind events.Kind, follow Follow) (Feed, bool) {
	delta := 0
	switch kind {
	case events.KindAdded:
		if follow.Status == FollowAccepted {
			delta = 1
		}
	case events.KindDeleted:
		if follow.Status == FollowAccepted {
			delta = -1
		}
	case events.KindUpdated:
		// follow updates are published on status transitions only
		if follow.Status == FollowAccepted {
			delta = 1
		}
	}
	if delta == 0 {
		return f, false
	}
	changed := false
	if follow.TargetFeed == f.ID {
		f.FollowerCount = adjust(f.FollowerCount, delta)
		changed = true
	}
	if follow.SourceFeed == f.ID {
		f.FollowingCount = adjust(f.FollowingCount, delta)
		changed = true
	}
	return f, changed
}

// WithMemberDelta adjusts the member count.
func (f Feed) WithMemberDelta(delta int) Feed {
	f.MemberCount = adjust(f.MemberCount, delta)
	return f
}

var (
	FeedFieldID          = query.NewField("id", func(f Feed) any { return f.ID })
	FeedFieldGroupID     = query.NewField("group_id", func(f Feed) any { return f.GroupID })
	FeedFieldName        = query.NewField("name", func(f Feed) any { return f.Name })
	FeedFieldDescription = query.NewField("description", func(f Feed) any { return f.Description })
	FeedFieldVisibility  = query.NewField("visibility", func(f Feed) any { return f.Visibility })
	FeedFieldCreatedByID = query.NewField("created_by_id", func(f Feed) any { return f.CreatedByID })
	FeedFieldCreatedAt   = query.NewField("created_at", func(f Feed) any { return timeValue(f.CreatedAt) })

	FeedSortCreatedAt     = query.NewTimeSortField("created_at", func(f Feed) time.Time { return f.CreatedAt })
	FeedSortFollowerCount = query.NewSortField("follower_count", func(f Feed) int { return f.FollowerCount })
	FeedSortMemberCount   = query.NewSortField("member_count", func(f Feed) int { return f.MemberCount })

	FeedCatalog = query.NewCatalog(
		[]query.Field[Feed]{FeedFieldID, FeedFieldGroupID, FeedFieldName, FeedFieldDescription, FeedFieldVisibility, FeedFieldCreatedByID, FeedFieldCreatedAt},
		[]query.SortField[Feed]{FeedSortCreatedAt, FeedSortFollowerCount, FeedSortMemberCount},
		query.Desc(FeedSortCreatedAt),
	)
)

// FeedRules routes feed events plus the follow and member events that
// change feed counters.
func FeedRules(opts Options) view.Rules[Feed] {
	return view.Rules[Feed]{
		Type:    events.EntityFeed,
		Cast:    castEntity[Feed],
		InScope: inScope(opts.Scope),
		ApplyUser: func(feed Feed, user any) (Feed, bool) {
			next, ok := feed.CreatedBy.refresh(user)
			if !ok {
				return feed, false
			}
			feed.CreatedBy = next
			return feed, true
		},
		Extra: func(event events.ChangeEvent) (view.Action[Feed], bool) {
			switch event.Type {
			case events.EntityFollow:
				follow, ok := castEntity[Follow](event.Entity)
				if !ok {
					return view.Action[Feed]{}, false
				}
				kind := event.Kind
				return view.Action[Feed]{Kind: view.ActionMapAll, Map: func(feed Feed) (Feed, bool) {
					return feed.WithFollow(kind, follow)
				}}, true
			case events.EntityMember:
				member, ok := castEntity[Member](event.Entity)
				if !ok {
					return view.Action[Feed]{}, false
				}
				delta := 0
				switch event.Kind {
				case events.KindAdded:
					delta = 1
				case events.KindDeleted:
					delta = -1
				default:
					return view.Action[Feed]{}, false
				}
				return view.Action[Feed]{Kind: view.ActionUpdate, ID: member.FeedID, Mutate: func(feed Feed) Feed {
					return feed.WithMemberDelta(delta)
				}}, true
			}
			return view.Action[Feed]{}, false
		},
	}
}

// NewFeedView builds a live view over feeds.
func NewFeedView(fetcher query.Fetcher[Feed], q query.Query[Feed], opts Options) (*view.View[Feed], error) {
	return newView(fetcher, q, FeedCatalog, FeedRules(opts), nil, opts)
}
