package feeds

import (
	"time"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

// Bookmark saves an activity for a user, optionally inside a folder.
type Bookmark struct {
	ID         string          `json:"id"`
	ActivityID string          `json:"activity_id"`
	UserID     string          `json:"user_id"`
	User       User            `json:"user"`
	FolderID   string          `json:"folder_id,omitempty"`
	Folder     *BookmarkFolder `json:"folder,omitempty"`
	Custom     map[string]any  `json:"custom,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (b Bookmark) Identity() string {
	return b.ID
}

// BookmarkFolder groups bookmarks of one user.
type BookmarkFolder struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	UserID    string         `json:"user_id"`
	Custom    map[string]any `json:"custom,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (f BookmarkFolder) Identity() string {
	return f.ID
}

var (
	BookmarkFieldActivityID = query.NewField("activity_id", func(b Bookmark) any { return b.ActivityID })
	BookmarkFieldUserID     = query.NewField("user_id", func(b Bookmark) any { return b.UserID })
	BookmarkFieldFolderID   = query.NewField("folder_id", func(b Bookmark) any { return b.FolderID })
	BookmarkFieldCreatedAt  = query.NewField("created_at", func(b Bookmark) any { return timeValue(b.CreatedAt) })

	BookmarkSortCreatedAt = query.NewTimeSortField("created_at", func(b Bookmark) time.Time { return b.CreatedAt })
	BookmarkSortUpdatedAt = query.NewTimeSortField("updated_at", func(b Bookmark) time.Time { return b.UpdatedAt })

	BookmarkCatalog = query.NewCatalog(
		[]query.Field[Bookmark]{BookmarkFieldActivityID, BookmarkFieldUserID, BookmarkFieldFolderID, BookmarkFieldCreatedAt},
		[]query.SortField[Bookmark]{BookmarkSortCreatedAt, BookmarkSortUpdatedAt},
		query.Desc(BookmarkSortCreatedAt),
	)

	BookmarkFolderFieldUserID    = query.NewField("user_id", func(f BookmarkFolder) any { return f.UserID })
	BookmarkFolderFieldName      = query.NewField("folder_name", func(f BookmarkFolder) any { return f.Name })
	BookmarkFolderFieldCreatedAt = query.NewField("created_at", func(f BookmarkFolder) any { return timeValue(f.CreatedAt) })

	BookmarkFolderSortCreatedAt = query.NewTimeSortField("created_at", func(f BookmarkFolder) time.Time { return f.CreatedAt })
	BookmarkFolderSortName      = query.NewSortField("folder_name", func(f BookmarkFolder) string { return f.Name })

	BookmarkFolderCatalog = query.NewCatalog(
		[]query.Field[BookmarkFolder]{BookmarkFolderFieldUserID, BookmarkFolderFieldName, BookmarkFolderFieldCreatedAt},
		[]query.SortField[BookmarkFolder]{BookmarkFolderSortCreatedAt, BookmarkFolderSortName},
		query.Desc(BookmarkFolderSortCreatedAt),
	)
)

// BookmarkRules routes bookmark events. Folder renames and deletions are
// mirrored into the folder copy embedded in each bookmark.
func BookmarkRules(opts Options) view.Rules[Bookmark] {
	return view.Rules[Bookmark]{
		Type:    events.EntityBookmark,
		Cast:    castEntity[Bookmark],
		InScope: inScope(opts.Scope),
		ApplyUser: func(bookmark Bookmark, user any) (Bookmark, bool) {
			next, ok := bookmark.User.refresh(user)
			if !ok {
				return bookmark, false
			}
			bookmark.User = next
			return bookmark, true
		},
		Extra: func(event events.ChangeEvent) (view.Action[Bookmark], bool) {
			if event.Type != events.EntityBookmarkFolder {
				return view.Action[Bookmark]{}, false
			}
			folderID := event.TargetID()
			folder, hasFolder := castEntity[BookmarkFolder](event.Entity)
			switch event.Kind {
			case events.KindUpdated:
				if !hasFolder {
					return view.Action[Bookmark]{}, false
				}
				return view.Action[Bookmark]{Kind: view.ActionMapAll, Map: func(bookmark Bookmark) (Bookmark, bool) {
					if bookmark.FolderID != folderID {
						return bookmark, false
					}
					copied := folder
					bookmark.Folder = &copied
					return bookmark, true
				}}, true
			case events.KindDeleted:
				return view.Action[Bookmark]{Kind: view.ActionMapAll, Map: func(bookmark Bookmark) (Bookmark, bool) {
					if bookmark.FolderID != folderID {
						return bookmark, false
					}
					bookmark.FolderID = ""
					bookmark.Folder = nil
					return bookmark, true
				}}, true
			}
			return view.Action[Bookmark]{}, false
		},
	}
}

// NewBookmarkView builds a live view over bookmarks.
func NewBookmarkView(fetcher query.Fetcher[Bookmark], q query.Query[Bookmark], opts Options) (*view.View[Bookmark], error) {
	return newView(fetcher, q, BookmarkCatalog, BookmarkRules(opts), nil, opts)
}

// BookmarkFolderRules routes bookmark folder events.
func BookmarkFolderRules(opts Options) view.Rules[BookmarkFolder] {
	return view.Rules[BookmarkFolder]{
		Type:    events.EntityBookmarkFolder,
		Cast:    castEntity[BookmarkFolder],
		InScope: inScope(opts.Scope),
	}
}

// NewBookmarkFolderView builds a live view over bookmark folders.
func NewBookmarkFolderView(fetcher query.Fetcher[BookmarkFolder], q query.Query[BookmarkFolder], opts Options) (*view.View[BookmarkFolder], error) {
	return newView(fetcher, q, BookmarkFolderCatalog, BookmarkFolderRules(opts), nil, opts)
}
