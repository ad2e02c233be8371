package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/feed"
	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	actorContextKey  = "feedsync_actor"
	requestIDHeader  = "X-Request-ID"
	maxRequestIDSize = 64
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingFeedService   = errors.New("feed service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type FeedService interface {
	ListPosts(ctx context.Context, actor string) ([]posts.Post, error)
	SavePost(ctx context.Context, actor string, dto posts.Post) (posts.Post, error)
	RemovePost(ctx context.Context, id int64) error
	LikePost(ctx context.Context, actor string, id int64) (posts.Post, error)
	UnlikePost(ctx context.Context, actor string, id int64) (posts.Post, error)
}

type Dependencies struct {
	TokenManager TokenValidator
	FeedService  FeedService
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.FeedService == nil {
		return nil, errMissingFeedService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens: deps.TokenManager,
		feed:   deps.FeedService,
		logger: logger,
	}
	router.Use(handler.logRequest)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/api/posts")
	protected.Use(handler.authorizeRequest)
	protected.GET("", handler.handleListPosts)
	protected.POST("", handler.handleSavePost)
	protected.DELETE("/:id", handler.handleRemovePost)
	protected.POST("/:id/likes", handler.handleLikePost)
	protected.DELETE("/:id/likes", handler.handleUnlikePost)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	tokens TokenValidator
	feed   FeedService
	logger *zap.Logger
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	actor := c.GetString(actorContextKey)
	result, err := h.feed.ListPosts(c.Request.Context(), actor)
	if err != nil {
		h.respondServiceError(c, "failed to list posts", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSavePost(c *gin.Context) {
	var request posts.Post
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	saved, err := h.feed.SavePost(c.Request.Context(), c.GetString(actorContextKey), request)
	if err != nil {
		h.respondServiceError(c, "failed to save post", err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleRemovePost(c *gin.Context) {
	id, ok := parsePostID(c)
	if !ok {
		return
	}
	if err := h.feed.RemovePost(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, "failed to remove post", err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *httpHandler) handleLikePost(c *gin.Context) {
	id, ok := parsePostID(c)
	if !ok {
		return
	}
	updated, err := h.feed.LikePost(c.Request.Context(), c.GetString(actorContextKey), id)
	if err != nil {
		h.respondServiceError(c, "failed to like post", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleUnlikePost(c *gin.Context) {
	id, ok := parsePostID(c)
	if !ok {
		return
	}
	updated, err := h.feed.UnlikePost(c.Request.Context(), c.GetString(actorContextKey), id)
	if err != nil {
		h.respondServiceError(c, "failed to unlike post", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	payload := gin.H{"error": "internal_error"}
	var serviceErr *feed.ServiceError
	if errors.As(err, &serviceErr) {
		payload["code"] = serviceErr.Code()
	}

	switch {
	case errors.Is(err, feed.ErrPostNotFound):
		payload["error"] = "not_found"
		c.JSON(http.StatusNotFound, payload)
	case errors.Is(err, feed.ErrInvalidPost), errors.Is(err, feed.ErrInvalidActor):
		payload["error"] = "invalid_request"
		c.JSON(http.StatusBadRequest, payload)
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, payload)
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
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
	c.Set(actorContextKey, subject)
	c.Next()
}

func (h *httpHandler) logRequest(c *gin.Context) {
	started := time.Now()
	requestID := c.GetHeader(requestIDHeader)
	if len(requestID) > maxRequestIDSize {
		requestID = requestID[:maxRequestIDSize]
	}
	if requestID != "" {
		c.Header(requestIDHeader, requestID)
	}
	c.Next()
	h.logger.Debug("request handled",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(started)))
}

func parsePostID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return 0, false
	}
	return id, true
}
