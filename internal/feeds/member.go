package feeds

import (
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Member statuses.
const (
	MemberActive   = "member"
	MemberPending  = "pending"
	MemberRejected = "rejected"
)

// Member is a user's membership of a feed.
type Member struct {
	FeedID    string         `json:"feed_id"`
	UserID    string         `json:"user_id"`
	User      User           `json:"user"`
	Role      string         `json:"role"`
	Status    string         `json:"status"`
	Custom    map[string]any `json:"custom,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (m Member) Identity() string {
	return MemberID(m.FeedID, m.UserID)
}

// MemberID builds the identity of a feed membership.
func MemberID(feedID, userID string) string {
	return feedID + "/" + userID
}

var (
	MemberFieldFeedID    = query.NewField("feed_id", func(m Member) any { return m.FeedID })
	MemberFieldUserID    = query.NewField("user_id", func(m Member) any { return m.UserID })
	MemberFieldRole      = query.NewField("role", func(m Member) any { return m.Role })
	MemberFieldStatus    = query.NewField("status", func(m Member) any { return m.Status })
	MemberFieldCreatedAt = query.NewField("created_at", func(m Member) any { return timeValue(m.CreatedAt) })

	MemberSortCreatedAt = query.NewTimeSortField("created_at", func(m Member) time.Time { return m.CreatedAt })
	MemberSortUserID    = query.NewSortField("user_id", func(m Member) string { return m.UserID })

	MemberCatalog = query.NewCatalog(
		[]query.Field[Member]{MemberFieldFeedID, MemberFieldUserID, MemberFieldRole, MemberFieldStatus, MemberFieldCreatedAt},
		[]query.SortField[Member]{MemberSortCreatedAt, MemberSortUserID},
		query.Desc(MemberSortCreatedAt),
	)
)

// MemberRules routes membership events.
func MemberRules(opts Options) view.Rules[Member] {
	return view.Rules[Member]{
		Type:    events.EntityMember,
		Cast:    castEntity[Member],
		InScope: inScope(opts.Scope),
		ApplyUser: func(member Member, user any) (Member, bool) {
			next, ok := member.User.refresh(user)
			if !ok {
				return member, false
			}
			member.User = next
			return member, true
		},
	}
}

// NewMemberView follows the members of one feed.
func NewMemberView(fetcher query.Fetcher[Member], feedID string, q query.Query[Member], opts Options) (*view.View[Member], error) {
	opts.Scope = events.Scope{FeedID: feedID}
	q.Filter = query.And(query.Equal(MemberFieldFeedID, feedID), q.Filter)
	return newView(fetcher, q, MemberCatalog, MemberRules(opts), nil, opts)
}
