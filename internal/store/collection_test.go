package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

type post struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Score  int    `json:"score"`
}

func (p post) Identity() string {
	return p.ID
}

var (
	postFieldAuthor = query.NewField("author", func(p post) any { return p.Author })
	postSortScore   = query.NewSortField("score", func(p post) int { return p.Score })
	postCatalog     = query.NewCatalog([]query.Field[post]{postFieldAuthor}, []query.SortField[post]{postSortScore}, query.Desc(postSortScore))
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("id-%03d", s.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Unix(1700000000, 0)
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDs{},
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func newPosts(t *testing.T, service *Service) *Collection[post] {
	t.Helper()
	return NewCollection(service, "post", postCatalog, func(p post) Keys { return Keys{UserID: p.Author} })
}

func mustSave(t *testing.T, posts *Collection[post], items ...post) {
	t.Helper()
	for _, item := range items {
		if err := posts.Save(context.Background(), item); err != nil {
			t.Fatalf("save %s: %v", item.ID, err)
		}
	}
}

func TestCollectionSaveGetDelete(t *testing.T) {
	posts := newPosts(t, newTestService(t))
	ctx := context.Background()
	mustSave(t, posts, post{ID: "p1", Author: "ada", Score: 1})
	mustSave(t, posts, post{ID: "p1", Author: "ada", Score: 5})

	stored, err := posts.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Score != 5 {
		t.Fatalf("expected replaced snapshot, got %+v", stored)
	}

	deleted, err := posts.Delete(ctx, "p1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != "p1" {
		t.Fatalf("expected deleted snapshot, got %+v", deleted)
	}

	_, err = posts.Get(ctx, "p1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "store.take.not_found" {
		t.Fatalf("unexpected error code: %v", err)
	}
	if _, err := posts.Delete(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCollectionFetchPageFiltersSortsAndPaginates(t *testing.T) {
	posts := newPosts(t, newTestService(t))
	ctx := context.Background()
	for index := 1; index <= 5; index++ {
		mustSave(t, posts, post{ID: fmt.Sprintf("p%d", index), Author: "ada", Score: index})
	}
	mustSave(t, posts, post{ID: "other", Author: "bob", Score: 100})

	q := query.Query[post]{Filter: query.Equal(postFieldAuthor, "ada"), Limit: 2}
	first, err := posts.FetchPage(ctx, q)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "p5" || first.Items[1].ID != "p4" {
		t.Fatalf("unexpected first page %+v", first.Items)
	}
	if first.Pagination.Next == "" || first.Pagination.Previous != "" {
		t.Fatalf("unexpected first pagination %+v", first.Pagination)
	}

	second, err := posts.FetchPage(ctx, q.WithCursors(first.Pagination.Next, ""))
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 2 || second.Items[0].ID != "p3" {
		t.Fatalf("unexpected second page %+v", second.Items)
	}

	last, err := posts.FetchPage(ctx, q.WithCursors(second.Pagination.Next, ""))
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(last.Items) != 1 || last.Items[0].ID != "p1" || last.Pagination.Next != "" {
		t.Fatalf("unexpected last page %+v %+v", last.Items, last.Pagination)
	}

	back, err := posts.FetchPage(ctx, q.WithCursors("", last.Pagination.Previous))
	if err != nil {
		t.Fatalf("previous page: %v", err)
	}
	if len(back.Items) != 2 || back.Items[0].ID != "p3" {
		t.Fatalf("unexpected previous page %+v", back.Items)
	}
}

func TestCollectionFetchPageRejectsForeignCursor(t *testing.T) {
	posts := newPosts(t, newTestService(t))
	_, err := posts.FetchPage(context.Background(), query.Query[post]{Next: "not-a-cursor"})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestCollectionFetchPageClampsLimit(t *testing.T) {
	posts := newPosts(t, newTestService(t))
	for index := 0; index < DefaultPageLimit+1; index++ {
		mustSave(t, posts, post{ID: fmt.Sprintf("p%03d", index), Author: "ada", Score: index})
	}
	page, err := posts.FetchPage(context.Background(), query.Query[post]{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page.Items) != DefaultPageLimit || page.Pagination.Next == "" {
		t.Fatalf("expected default limit page, got %d items", len(page.Items))
	}
}

func TestListNarrowsByKeys(t *testing.T) {
	posts := newPosts(t, newTestService(t))
	mustSave(t, posts, post{ID: "p1", Author: "ada"}, post{ID: "p2", Author: "bob"}, post{ID: "p3", Author: "ada"})

	items, err := posts.List(context.Background(), Keys{UserID: "ada"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != "p1" || items[1].ID != "p3" {
		t.Fatalf("expected ada's posts in creation order, got %+v", items)
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "store.service.new.missing_database" {
		t.Fatalf("unexpected error %v", err)
	}

	service := newTestService(t)
	id, err := service.NewID()
	if err != nil || id != "id-001" {
		t.Fatalf("unexpected id %q %v", id, err)
	}
	if _, err := NewUUIDProvider().NewID(); err != nil {
		t.Fatalf("uuid provider: %v", err)
	}
}
