package feeds

import (
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// ModerationConfig holds the moderation rules applied under one key.
type ModerationConfig struct {
	Key       string         `json:"key"`
	Team      string         `json:"team,omitempty"`
	Async     bool           `json:"async"`
	Rules     map[string]any `json:"rules,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (c ModerationConfig) Identity() string {
	return c.Key
}

var (
	ModerationConfigFieldKey       = query.NewField("key", func(c ModerationConfig) any { return c.Key })
	ModerationConfigFieldTeam      = query.NewField("team", func(c ModerationConfig) any { return c.Team })
	ModerationConfigFieldCreatedAt = query.NewField("created_at", func(c ModerationConfig) any { return timeValue(c.CreatedAt) })
	ModerationConfigFieldUpdatedAt = query.NewField("updated_at", func(c ModerationConfig) any { return timeValue(c.UpdatedAt) })

	ModerationConfigSortKey       = query.NewSortField("key", func(c ModerationConfig) string { return c.Key })
	ModerationConfigSortCreatedAt = query.NewTimeSortField("created_at", func(c ModerationConfig) time.Time { return c.CreatedAt })
	ModerationConfigSortUpdatedAt = query.NewTimeSortField("updated_at", func(c ModerationConfig) time.Time { return c.UpdatedAt })

	ModerationConfigCatalog = query.NewCatalog(
		[]query.Field[ModerationConfig]{ModerationConfigFieldKey, ModerationConfigFieldTeam, ModerationConfigFieldCreatedAt, ModerationConfigFieldUpdatedAt},
		[]query.SortField[ModerationConfig]{ModerationConfigSortKey, ModerationConfigSortCreatedAt, ModerationConfigSortUpdatedAt},
		query.Desc(ModerationConfigSortCreatedAt),
	)
)

func ModerationConfigRules(opts Options) view.Rules[ModerationConfig] {
	return view.Rules[ModerationConfig]{
		Type:    events.EntityModerationConfig,
		Cast:    castEntity[ModerationConfig],
		InScope: inScope(opts.Scope),
	}
}

// NewModerationConfigView builds a live view over moderation configs.
func NewModerationConfigView(fetcher query.Fetcher[ModerationConfig], q query.Query[ModerationConfig], opts Options) (*view.View[ModerationConfig], error) {
	return newView(fetcher, q, ModerationConfigCatalog, ModerationConfigRules(opts), nil, opts)
}
