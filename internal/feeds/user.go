package feeds

import (
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

// User is the profile snapshot embedded in most entities.
type User struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Image     string         `json:"image,omitempty"`
	Custom    map[string]any `json:"custom,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (u User) Identity() string {
	return u.ID
}

// refresh swaps an embedded copy for updated when both describe the same user.
func (u User) refresh(updated any) (User, bool) {
	next, ok := castEntity[User](updated)
	if !ok || next.ID == "" || next.ID != u.ID {
		return u, false
	}
	if u.Name == next.Name && u.Image == next.Image && u.UpdatedAt.Equal(next.UpdatedAt) {
		return u, false
	}
	return next, true
}

var (
	UserFieldID   = query.NewField("id", func(u User) any { return u.ID })
	UserFieldName = query.NewField("name", func(u User) any { return u.Name })

	UserSortCreatedAt = query.NewTimeSortField("created_at", func(u User) time.Time { return u.CreatedAt })
	UserSortName      = query.NewSortField("name", func(u User) string { return u.Name })

	UserCatalog = query.NewCatalog(
		[]query.Field[User]{UserFieldID, UserFieldName},
		[]query.SortField[User]{UserSortCreatedAt, UserSortName},
		query.Asc(UserSortName),
	)
)
