// Package remote talks to a feeds backend over HTTP. Resources implement
// query.Fetcher so they plug straight into views.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/feeds"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second
)

var (
	errMissingBaseURL  = errors.New("base url is required")
	errMissingResource = errors.New("resource name is required")
	noOpLogger         = zap.NewNop()
)

// Error is a non-2xx answer from the backend.
type Error struct {
	Operation string
	Status    int
	Code      string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: http %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Operation, e.Status, e.Code)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Status
	}
	return 0
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client holds the connection settings shared by every resource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: defaultHTTPConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{Transport: transport, Timeout: defaultHTTPTimeout}
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{baseURL: base, httpClient: httpClient, logger: logger, token: cfg.Token}, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token used by later requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Authenticate obtains a development token for userID and stores it.
func (c *Client) Authenticate(ctx context.Context, userID string) error {
	var response tokenResponse
	if err := c.do(ctx, "remote.authenticate", http.MethodPost, "/auth/token", tokenRequest{UserID: userID}, &response); err != nil {
		return err
	}
	c.SetToken(response.AccessToken)
	return nil
}

type reactionRequest struct {
	Type   string         `json:"type"`
	Custom map[string]any `json:"custom,omitempty"`
}

// AddReaction adds or refreshes the caller's reaction of reactionType on a
// target. targetType is feeds.ObjectActivity or feeds.ObjectComment.
func (c *Client) AddReaction(ctx context.Context, targetType, targetID, reactionType string) (feeds.Reaction, error) {
	var reaction feeds.Reaction
	path := fmt.Sprintf("/api/%s/%s/%s", feeds.ResourceReactions, url.PathEscape(targetType), url.PathEscape(targetID))
	err := c.do(ctx, "remote.add_reaction", http.MethodPost, path, reactionRequest{Type: reactionType}, &reaction)
	return reaction, err
}

// UpdateUser replaces the profile of a user and fans the change out to
// every entity embedding it.
func (c *Client) UpdateUser(ctx context.Context, user feeds.User) (feeds.User, error) {
	var updated feeds.User
	path := fmt.Sprintf("/api/%s/%s", feeds.ResourceUsers, url.PathEscape(user.ID))
	err := c.do(ctx, "remote.update_user", http.MethodPut, path, user, &updated)
	return updated, err
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("remote request failed",
			zap.String("operation", operation),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", operation, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		var decoded errorBody
		_ = json.Unmarshal(payload, &decoded)
		remoteErr := &Error{Operation: operation, Status: response.StatusCode, Code: decoded.Error}
		c.logger.Debug("remote request rejected",
			zap.String("operation", operation),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("code", decoded.Error),
		)
		return remoteErr
	}
	if result == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, result); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

// Resource is the repository of one entity type. It implements
// query.Fetcher[T].
type Resource[T any] struct {
	client *Client
	name   string
}

// NewResource binds a resource name such as feeds.ResourceActivities to client.
func NewResource[T any](client *Client, name string) (*Resource[T], error) {
	if strings.TrimSpace(name) == "" {
		return nil, errMissingResource
	}
	return &Resource[T]{client: client, name: name}, nil
}

// FetchPage posts the encoded query and decodes one page.
func (r *Resource[T]) FetchPage(ctx context.Context, q query.Query[T]) (query.Page[T], error) {
	var response query.PageResponse[T]
	path := fmt.Sprintf("/api/%s/query", r.name)
	if err := r.client.do(ctx, "remote.query."+r.name, http.MethodPost, path, q.Encode(), &response); err != nil {
		return query.Page[T]{}, err
	}
	return response.Page(), nil
}

// Create stores a new entity and returns the snapshot the backend assigned.
func (r *Resource[T]) Create(ctx context.Context, entity T) (T, error) {
	var created T
	path := fmt.Sprintf("/api/%s", r.name)
	err := r.client.do(ctx, "remote.create."+r.name, http.MethodPost, path, entity, &created)
	return created, err
}

// Update replaces the entity stored under id.
func (r *Resource[T]) Update(ctx context.Context, id string, entity T) (T, error) {
	var updated T
	path := fmt.Sprintf("/api/%s/%s", r.name, url.PathEscape(id))
	err := r.client.do(ctx, "remote.update."+r.name, http.MethodPut, path, entity, &updated)
	return updated, err
}

// Delete removes the entity stored under id and returns its last snapshot.
func (r *Resource[T]) Delete(ctx context.Context, id string) (T, error) {
	var deleted T
	path := fmt.Sprintf("/api/%s/%s", r.name, url.PathEscape(id))
	err := r.client.do(ctx, "remote.delete."+r.name, http.MethodDelete, path, nil, &deleted)
	return deleted, err
}
