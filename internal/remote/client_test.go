package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/feeds/internal/feeds"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL + "/", Token: "token-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestResourceFetchPageEncodesQuery(t *testing.T) {
	var received query.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/activities/query" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "a1"}, {"id": "a2"}},
			"next":  "cursor-2",
		})
	})

	activities, err := NewResource[feeds.Activity](client, feeds.ResourceActivities)
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	q := query.Query[feeds.Activity]{
		Filter: query.Equal(feeds.ActivityFieldUserID, "u1"),
		Sort:   []query.Sort[feeds.Activity]{query.Desc(feeds.ActivitySortPopularity)},
		Limit:  2,
		Next:   "cursor-1",
	}
	page, err := activities.FetchPage(context.Background(), q)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}

	if len(page.Items) != 2 || page.Items[1].ID != "a2" {
		t.Fatalf("unexpected items %+v", page.Items)
	}
	if page.Pagination.Next != "cursor-2" || page.Pagination.Previous != "" {
		t.Fatalf("unexpected pagination %+v", page.Pagination)
	}
	if received.Limit != 2 || received.Next != "cursor-1" {
		t.Fatalf("unexpected request %+v", received)
	}
	if len(received.Sort) != 1 || received.Sort[0].Field != "popularity" {
		t.Fatalf("unexpected sort %+v", received.Sort)
	}
	if _, ok := received.Filter["user_id"]; !ok {
		t.Fatalf("expected user_id filter, got %v", received.Filter)
	}
}

func TestResourceReturnsTypedErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found"}`))
	})
	comments, err := NewResource[feeds.Comment](client, feeds.ResourceComments)
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}

	_, err = comments.Delete(context.Background(), "missing")
	var remoteErr *Error
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if remoteErr.Status != http.StatusNotFound || remoteErr.Code != "not_found" {
		t.Fatalf("unexpected error %+v", remoteErr)
	}
	if StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", StatusOf(err))
	}
}

func TestAuthenticateStoresToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body tokenRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "issued-for-" + body.UserID, TokenType: "Bearer"})
	})

	if err := client.Authenticate(context.Background(), "u7"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if client.Token() != "issued-for-u7" {
		t.Fatalf("unexpected token %q", client.Token())
	}
}

func TestAddReactionPostsToTarget(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/reactions/comment/c1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body reactionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(feeds.Reaction{ID: "r1", Type: body.Type, CommentID: "c1"})
	})

	reaction, err := client.AddReaction(context.Background(), feeds.ObjectComment, "c1", feeds.ReactionUpvote)
	if err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	if reaction.Type != feeds.ReactionUpvote || reaction.TargetType() != feeds.ObjectComment {
		t.Fatalf("unexpected reaction %+v", reaction)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "  "}); err == nil {
		t.Fatal("expected error for empty base url")
	}
	client, err := NewClient(Config{BaseURL: "http://localhost:8080"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := NewResource[feeds.Feed](client, ""); err == nil {
		t.Fatal("expected error for empty resource name")
	}
}
