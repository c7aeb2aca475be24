package server

import (
	"bytes"
	contextpkg "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/feeds/internal/auth"
	"github.com/MarcoPoloResearchLab/feeds/internal/database"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/store"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("id-%03d", s.next), nil
}

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testBackend struct {
	url    string
	tokens *auth.TokenIssuer
	bus    *events.Bus
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "feeds.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	clock := &tickingClock{now: time.Unix(1700000000, 0)}
	service, err := store.NewService(store.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		t.Fatalf("new store service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "feeds-auth",
		Audience:      "feeds-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}
	bus := events.NewBus()
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		Store:        service,
		Bus:          bus,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testBackend{url: server.URL, tokens: tokens, bus: bus}
}

// call sends body as JSON on behalf of user and returns the status and the
// raw response body. An empty user sends no credentials.
func (b *testBackend) call(t *testing.T, user, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, b.url+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, _, err := b.tokens.IssueToken(contextpkg.Background(), user)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return response.StatusCode, payload
}

// mustCall is call that requires a 200 and decodes the response into out.
func (b *testBackend) mustCall(t *testing.T, user, method, path string, body, out any) {
	t.Helper()
	status, payload := b.call(t, user, method, path, body)
	if status != http.StatusOK {
		t.Fatalf("%s %s: expected 200, got %d: %s", method, path, status, payload)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(payload, out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
}

func (b *testBackend) subscribe(t *testing.T) <-chan events.ChangeEvent {
	t.Helper()
	ctx, cancel := contextpkg.WithCancel(contextpkg.Background())
	t.Cleanup(cancel)
	stream, _ := b.bus.Subscribe(ctx)
	return stream
}

func nextEvent(t *testing.T, stream <-chan events.ChangeEvent) events.ChangeEvent {
	t.Helper()
	select {
	case event := <-stream:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return events.ChangeEvent{}
}

func errorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error body %s: %v", payload, err)
	}
	return body.Error
}

func TestIssueTokenRequiresUserID(t *testing.T) {
	backend := newTestBackend(t)

	status, payload := backend.call(t, "", http.MethodPost, "/auth/token", map[string]string{})
	if status != http.StatusBadRequest || errorCode(t, payload) != "invalid_request" {
		t.Fatalf("expected invalid_request, got %d %s", status, payload)
	}

	var response tokenResponsePayload
	backend.mustCall(t, "", http.MethodPost, "/auth/token", map[string]string{"user_id": "alice"}, &response)
	if response.TokenType != "Bearer" || response.ExpiresIn <= 0 {
		t.Fatalf("unexpected token response %+v", response)
	}
	subject, err := backend.tokens.ValidateToken(response.AccessToken)
	if err != nil || subject != "alice" {
		t.Fatalf("expected token for alice, got %q (%v)", subject, err)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	backend := newTestBackend(t)

	status, _ := backend.call(t, "", http.MethodPost, "/api/activities/query", map[string]any{})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", status)
	}

	token, _, err := backend.tokens.IssueToken(contextpkg.Background(), "alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	status, payload := backend.call(t, "", http.MethodPost, "/api/activities/query?access_token="+token, map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("expected query parameter token to be accepted, got %d %s", status, payload)
	}
	if strings.TrimSpace(string(payload)) != `{"items":[]}` {
		t.Fatalf("unexpected empty page: %s", payload)
	}
}

func TestUnknownResourceAndInvalidQuery(t *testing.T) {
	backend := newTestBackend(t)

	status, payload := backend.call(t, "alice", http.MethodPost, "/api/widgets/query", map[string]any{})
	if status != http.StatusNotFound || errorCode(t, payload) != "unknown_resource" {
		t.Fatalf("expected unknown_resource, got %d %s", status, payload)
	}

	status, payload = backend.call(t, "alice", http.MethodPost, "/api/activities/query", map[string]any{
		"filter": map[string]any{"colour": map[string]any{"$eq": "red"}},
	})
	if status != http.StatusBadRequest || errorCode(t, payload) != "invalid_query" {
		t.Fatalf("expected invalid_query, got %d %s", status, payload)
	}

	status, payload = backend.call(t, "alice", http.MethodPost, "/api/activities/query", map[string]any{"next": "not-a-cursor"})
	if status != http.StatusBadRequest || errorCode(t, payload) != "invalid_query" {
		t.Fatalf("expected invalid_query for a foreign cursor, got %d %s", status, payload)
	}

	status, _ = backend.call(t, "alice", http.MethodPost, "/api/activities/search", map[string]any{})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown action, got %d", status)
	}
}

func TestCORSPreflightAllowsWriteMethods(t *testing.T) {
	backend := newTestBackend(t)

	request, err := http.NewRequest(http.MethodOptions, backend.url+"/api/activities/a1", http.NoBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, response.StatusCode)
	}
	allowMethods := response.Header.Get("Access-Control-Allow-Methods")
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		if !strings.Contains(allowMethods, method) {
			t.Fatalf("expected Access-Control-Allow-Methods to include %s, got %q", method, allowMethods)
		}
	}
	allowHeaders := response.Header.Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/realtime", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: fmt.Errorf("token has invalid claims: %w", jwt.ErrTokenExpired)},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/realtime?access_token=forged", http.NoBody)
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %+v", entries)
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingTokenManager) {
		t.Fatalf("expected missing token manager, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{TokenManager: stubTokenManager{}}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{TokenManager: stubTokenManager{}, Store: &store.Service{}}); !errors.Is(err, errMissingBus) {
		t.Fatalf("expected missing bus, got %v", err)
	}
}

type stubTokenManager struct {
	validateErr error
}

func (s stubTokenManager) IssueToken(contextpkg.Context, string) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	return "", s.validateErr
}
