// Package contextapi mounts the /api/context REST endpoints.
package contextapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/recallstack/memory-infra/internal/model"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	"github.com/recallstack/memory-infra/internal/service"
)

const (
	defaultSuggestLimit = 5
	maxSuggestLimit     = 20
)

// MountRoutes mounts the context endpoints on the given router.
func MountRoutes(r *gin.Engine, builder *service.ContextBuilder) {
	g := r.Group("/api/context")

	g.POST("/retrieve", func(c *gin.Context) { retrieve(c, builder) })
	g.POST("/voice", func(c *gin.Context) { voiceContext(c, builder) })
	g.GET("/suggest", func(c *gin.Context) { suggest(c, builder) })
	g.POST("/preview", func(c *gin.Context) { preview(c, builder) })
}

func retrieve(c *gin.Context, builder *service.ContextBuilder) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req model.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := builder.RetrieveContext(c.Request.Context(), userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func voiceContext(c *gin.Context, builder *service.ContextBuilder) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req model.VoiceContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	voice, err := builder.BuildVoiceContext(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	if voice == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Voice profile not found"})
		return
	}
	c.JSON(http.StatusOK, voice)
}

func suggest(c *gin.Context, builder *service.ContextBuilder) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	entryID := c.Query("entry_id")
	if entryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entry_id is required"})
		return
	}
	limit := defaultSuggestLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxSuggestLimit {
		limit = maxSuggestLimit
	}

	sources, err := builder.SuggestRelated(c.Request.Context(), userID, entryID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sources)
}

func preview(c *gin.Context, builder *service.ContextBuilder) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	promptTemplate := c.Query("prompt_template")
	if promptTemplate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt_template is required"})
		return
	}
	var req model.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := builder.Preview(c.Request.Context(), userID, &req, promptTemplate)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func requireUserID(c *gin.Context) (string, bool) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return "", false
	}
	return userID, true
}

func handleError(c *gin.Context, err error) {
	var verr *registrystore.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
		return
	}
	var serr *registrystore.StorageError
	if errors.As(err, &serr) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	var cerr *registrystore.CapabilityError
	if errors.As(err, &cerr) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": cerr.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
