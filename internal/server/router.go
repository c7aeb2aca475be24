package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/feeds"
	"github.com/MarcoPoloResearchLab/feeds/internal/realtime"
	"github.com/MarcoPoloResearchLab/feeds/internal/store"
)

const (
	userIDContextKey = "feeds_user_id"
	queryPathSegment = "query"
	maxRequestBytes  = 1 << 20
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingStore         = errors.New("store service dependency required")
	errMissingBus           = errors.New("event bus dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the backend's bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager TokenManager
	Store        *store.Service
	Bus          *events.Bus
	Logger       *zap.Logger
	// HeartbeatInterval overrides the realtime ping period.
	HeartbeatInterval time.Duration
}

// NewHTTPHandler builds the development backend: a JSON repository per
// entity type plus a websocket stream of every change it makes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Bus == nil {
		return nil, errMissingBus
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hub, err := realtime.NewHub(realtime.HubConfig{
		Source:            deps.Bus,
		Logger:            logger,
		HeartbeatInterval: deps.HeartbeatInterval,
	})
	if err != nil {
		return nil, err
	}

	router := gin.New()
	// member ids contain '/', escaped by clients
	router.UseRawPath = true
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	backend := newBackend(deps.Store, deps.Bus, logger)
	handler := &httpHandler{
		tokens:    deps.TokenManager,
		backend:   backend,
		resources: backend.resources(),
		logger:    logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/realtime", gin.WrapH(hub))
	protected.POST("/api/:resource", handler.handleCreate)
	protected.POST("/api/:resource/:id", handler.handleQuery)
	protected.POST("/api/:resource/:id/:target", handler.handleReact)
	protected.PUT("/api/:resource/:id", handler.handleUpdate)
	protected.DELETE("/api/:resource/:id", handler.handleDelete)

	return router, nil
}

type httpHandler struct {
	tokens    TokenManager
	backend   *backend
	resources map[string]resource
	logger    *zap.Logger
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleIssueToken trusts the claimed user id. The backend exists for local
// development and tests only.
func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleQuery(c *gin.Context) {
	if c.Param("id") != queryPathSegment {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.serve(c, func(ctx context.Context, r resource, caller string, body []byte) (any, error) {
		return r.query(ctx, body)
	})
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	h.serve(c, func(ctx context.Context, r resource, caller string, body []byte) (any, error) {
		return r.create(ctx, caller, body)
	})
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	id := c.Param("id")
	h.serve(c, func(ctx context.Context, r resource, caller string, body []byte) (any, error) {
		return r.update(ctx, caller, id, body)
	})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	id := c.Param("id")
	h.serve(c, func(ctx context.Context, r resource, caller string, _ []byte) (any, error) {
		return r.remove(ctx, caller, id)
	})
}

// handleReact serves POST /api/reactions/:targetType/:targetID.
func (h *httpHandler) handleReact(c *gin.Context) {
	if c.Param("resource") != feeds.ResourceReactions {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	targetType, targetID := c.Param("id"), c.Param("target")
	h.serve(c, func(ctx context.Context, r resource, caller string, body []byte) (any, error) {
		reactions, ok := r.(*reactionResource)
		if !ok {
			return nil, errUnsupported
		}
		var reaction feeds.Reaction
		if err := json.Unmarshal(body, &reaction); err != nil {
			return nil, errInvalidRequest
		}
		return h.backend.react(ctx, reactions.entityResource, caller, targetType, targetID, reaction)
	})
}

type resourceCall func(ctx context.Context, r resource, caller string, body []byte) (any, error)

func (h *httpHandler) serve(c *gin.Context, call resourceCall) {
	name := c.Param("resource")
	r, ok := h.resources[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_resource"})
		return
	}
	caller := c.GetString(userIDContextKey)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := call(c.Request.Context(), r, caller, body)
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("resource request failed",
				zap.String("resource", name),
				zap.String("method", c.Request.Method),
				zap.Error(err),
			)
		} else {
			h.logger.Debug("resource request rejected",
				zap.String("resource", name),
				zap.String("code", code),
				zap.Error(err),
			)
		}
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(http.StatusOK, result)
}

// authorizeRequest accepts a bearer header, or an access_token query
// parameter for websocket clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	var token string
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
