// Package server exposes the search and write pipelines over HTTP.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/driftboard/contentdb/internal/cerrors"
	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/metrics"
	"github.com/driftboard/contentdb/internal/search"
	"github.com/driftboard/contentdb/internal/types"
	"github.com/driftboard/contentdb/internal/writer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDContextKey = "contentdb_user_id"

var (
	errMissingSearcher     = errors.New("search executor dependency required")
	errMissingWriter       = errors.New("writer dependency required")
	errMissingBuilder      = errors.New("search builder dependency required")
	errMissingTokenManager = errors.New("token manager dependency required")
)

// TokenValidator checks a bearer token and resolves the acting user id.
type TokenValidator interface {
	ValidateToken(token string) (int64, error)
}

// Dependencies carries the collaborators the HTTP layer routes into.
type Dependencies struct {
	Searcher *search.Executor
	Builder  *search.Builder
	Writer   *writer.Writer
	Registry *types.Registry
	Tokens   TokenValidator
	Bus      *events.Bus
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// NewHTTPHandler wires the full route table.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Searcher == nil {
		return nil, errMissingSearcher
	}
	if deps.Builder == nil {
		return nil, errMissingBuilder
	}
	if deps.Writer == nil {
		return nil, errMissingWriter
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	registry := deps.Registry
	if registry == nil {
		registry = types.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		searcher: deps.Searcher,
		builder:  deps.Builder,
		writer:   deps.Writer,
		registry: registry,
		tokens:   deps.Tokens,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		logger:   logger,
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/about/search", handler.handleAbout)

	// Search accepts anonymous callers; the permission layer treats them
	// as the everyone identity.
	router.POST("/api/search", handler.identifyRequest, handler.handleSearch)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/write/:kind", handler.handleWrite)
	protected.DELETE("/delete/:kind/:id", handler.handleDelete)
	protected.POST("/content/restore/:revision", handler.handleRestore)
	protected.POST("/message/rethread", handler.handleRethread)
	protected.GET("/live/events", handler.handleLiveEvents)

	return router, nil
}

type httpHandler struct {
	searcher *search.Executor
	builder  *search.Builder
	writer   *writer.Writer
	registry *types.Registry
	tokens   TokenValidator
	bus      *events.Bus
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// identifyRequest resolves the bearer token when present but lets anonymous
// callers through with user id zero.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Set(userIDContextKey, int64(0))
		c.Next()
		return
	}
	h.authorizeRequest(c)
}

// authorizeRequest requires a valid bearer token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing or invalid"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requesterID(c *gin.Context) int64 {
	return c.GetInt64(userIDContextKey)
}

func (h *httpHandler) handleAbout(c *gin.Context) {
	c.JSON(http.StatusOK, h.builder.About())
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	var batch search.SearchRequestBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	started := time.Now()
	results, err := h.searcher.SearchRestricted(c.Request.Context(), batch, h.requesterID(c))
	if h.metrics != nil {
		elapsed := time.Since(started).Seconds()
		for _, request := range batch.Requests {
			h.metrics.ObserveSearch(request.Type, err, elapsed)
		}
	}
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *httpHandler) handleWrite(c *gin.Context) {
	kind := types.RequestKind(c.Param("kind"))
	descriptor, err := h.registry.Describe(kind)
	if err != nil {
		h.renderError(c, err)
		return
	}
	instance := descriptor.NewView()
	view, ok := instance.(types.View)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "kind is read only"})
		return
	}
	if err := c.ShouldBindJSON(instance); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	action := types.ActionUpdate
	if view.ViewID() == 0 {
		action = types.ActionCreate
	}
	requesterID := h.requesterID(c)
	started := time.Now()
	result, err := h.writer.Write(c.Request.Context(), view, requesterID, c.Query("message"))
	if h.metrics != nil {
		h.metrics.ObserveWrite(string(kind), string(action), err, time.Since(started).Seconds())
	}
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	kind := types.RequestKind(c.Param("kind"))
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	requesterID := h.requesterID(c)
	started := time.Now()
	result, err := h.writer.Delete(c.Request.Context(), kind, id, requesterID, c.Query("message"))
	if h.metrics != nil {
		h.metrics.ObserveWrite(string(kind), string(types.ActionDelete), err, time.Since(started).Seconds())
	}
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	revisionID, err := strconv.ParseInt(c.Param("revision"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.writer.RestoreRevision(c.Request.Context(), revisionID, h.requesterID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type rethreadPayload struct {
	MessageIDs []int64 `json:"messageIds"`
	ContentID  int64   `json:"contentId"`
}

func (h *httpHandler) handleRethread(c *gin.Context) {
	var request rethreadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	results, err := h.writer.RethreadMessages(c.Request.Context(), request.MessageIDs, request.ContentID, h.requesterID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": results})
}

// handleLiveEvents streams committed mutations as server-sent events until
// the client disconnects.
func (h *httpHandler) handleLiveEvents(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live events disabled"})
		return
	}
	stream, cleanup := h.bus.Subscribe(c.Request.Context())
	defer cleanup()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent("live", event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) renderError(c *gin.Context, err error) {
	status := statusForCategory(cerrors.CategoryOf(err))
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusForCategory(category cerrors.Category) int {
	switch category {
	case cerrors.CategoryArgument:
		return http.StatusBadRequest
	case cerrors.CategoryRequest:
		return http.StatusUnprocessableEntity
	case cerrors.CategoryForbidden, cerrors.CategoryBanned:
		return http.StatusForbidden
	case cerrors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
