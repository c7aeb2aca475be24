package feeds

import (
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Follow statuses.
const (
	FollowAccepted = "accepted"
	FollowPending  = "pending"
	FollowRejected = "rejected"
)

// Follow links a source feed to a target feed it receives activities from.
type Follow struct {
	SourceFeed     string         `json:"source_feed"`
	TargetFeed     string         `json:"target_feed"`
	Status         string         `json:"status"`
	PushPreference string         `json:"push_preference,omitempty"`
	RequestMessage string         `json:"request_message,omitempty"`
	Custom         map[string]any `json:"custom,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Identity is derived from both ends; a pair of feeds has at most one follow.
func (f Follow) Identity() string {
	return FollowID(f.SourceFeed, f.TargetFeed)
}

// FollowID builds the identity of a follow between two feeds.
func FollowID(sourceFeed, targetFeed string) string {
	return sourceFeed + "->" + targetFeed
}

var (
	FollowFieldSourceFeed = query.NewField("source_feed", func(f Follow) any { return f.SourceFeed })
	FollowFieldTargetFeed = query.NewField("target_feed", func(f Follow) any { return f.TargetFeed })
	FollowFieldStatus     = query.NewField("status", func(f Follow) any { return f.Status })
	FollowFieldCreatedAt  = query.NewField("created_at", func(f Follow) any { return timeValue(f.CreatedAt) })

	FollowSortCreatedAt = query.NewTimeSortField("created_at", func(f Follow) time.Time { return f.CreatedAt })

	FollowCatalog = query.NewCatalog(
		[]query.Field[Follow]{FollowFieldSourceFeed, FollowFieldTargetFeed, FollowFieldStatus, FollowFieldCreatedAt},
		[]query.SortField[Follow]{FollowSortCreatedAt},
		query.Desc(FollowSortCreatedAt),
	)
)

// FollowRules routes follow events. A status change re-checks admission, so
// an accepted request leaves a pending-requests view.
func FollowRules(opts Options) view.Rules[Follow] {
	return view.Rules[Follow]{
		Type:    events.EntityFollow,
		Cast:    castEntity[Follow],
		InScope: inScope(opts.Scope),
	}
}

// NewFollowView builds a live view over follows.
func NewFollowView(fetcher query.Fetcher[Follow], q query.Query[Follow], opts Options) (*view.View[Follow], error) {
	return newView(fetcher, q, FollowCatalog, FollowRules(opts), nil, opts)
}

// NewFollowRequestView lists pending follow requests addressed to feedID.
func NewFollowRequestView(fetcher query.Fetcher[Follow], feedID string, q query.Query[Follow], opts Options) (*view.View[Follow], error) {
	q.Filter = query.And(
		query.Equal(FollowFieldTargetFeed, feedID),
		query.Equal(FollowFieldStatus, FollowPending),
		q.Filter,
	)
	return newView(fetcher, q, FollowCatalog, FollowRules(opts), nil, opts)
}
