// Package memoryapi mounts the /api/memory REST endpoints.
package memoryapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/recallstack/memory-infra/internal/model"
	registrystore "github.com/recallstack/memory-infra/internal/registry/store"
	registryvector "github.com/recallstack/memory-infra/internal/registry/vector"
	"github.com/recallstack/memory-infra/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	defaultEventsLimit = 100
	maxEventsLimit     = 500
)

// Deps are the services the memory endpoints dispatch to.
type Deps struct {
	Records     registrystore.RecordStore
	Vectors     registryvector.VectorStore
	Aggregator  *service.Aggregator
	Compounding *service.Compounding
	Stats       *service.Stats
	Maintenance *service.Maintenance
}

// MountRoutes mounts the memory endpoints on the given router.
func MountRoutes(r *gin.Engine, deps Deps) {
	g := r.Group("/api/memory")

	g.POST("/ingest", func(c *gin.Context) { ingest(c, deps) })
	g.POST("/ingest/bulk", func(c *gin.Context) { ingestBulk(c, deps) })
	g.GET("/entries", func(c *gin.Context) { listEntries(c, deps) })
	g.GET("/entries/:entry_id", func(c *gin.Context) { getEntry(c, deps) })
	g.DELETE("/entries/:entry_id", func(c *gin.Context) { deleteEntry(c, deps) })
	g.GET("/stats", func(c *gin.Context) { getStats(c, deps) })
	g.GET("/health", func(c *gin.Context) { getHealth(c, deps) })
	g.GET("/events", func(c *gin.Context) { listEvents(c, deps) })
	g.POST("/compact", func(c *gin.Context) { compact(c, deps) })
}

func ingest(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req model.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := deps.Aggregator.Ingest(c.Request.Context(), userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func ingestBulk(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var req model.BulkIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := deps.Aggregator.IngestBulk(c.Request.Context(), userID, req.Entries)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func listEntries(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit := clampedIntQuery(c, "limit", defaultListLimit, 1, maxListLimit)
	offset := clampedIntQuery(c, "offset", 0, 0, 1<<30)
	sortBy := c.DefaultQuery("sort_by", registrystore.SortByIndexedAt)
	contentType := c.Query("content_type")

	entries, err := deps.Records.List(c.Request.Context(), userID, contentType, limit, offset, sortBy)
	if err != nil {
		handleError(c, err)
		return
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func getEntry(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	entryID := c.Param("entry_id")
	entry, err := deps.Records.Get(c.Request.Context(), userID, entryID)
	if err != nil {
		handleError(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}
	// The read counts as an access; the response reflects the entry as read.
	if err := deps.Compounding.OnContentAccessed(c.Request.Context(), userID, entryID, c.Query("access_context")); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func deleteEntry(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	entryID := c.Param("entry_id")
	deleted, err := deps.Records.Delete(c.Request.Context(), userID, entryID)
	if err != nil {
		handleError(c, err)
		return
	}
	if _, err := deps.Vectors.Delete(c.Request.Context(), userID, entryID); err != nil {
		handleError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func getStats(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	stats, err := deps.Stats.GetStats(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func getHealth(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	report, err := deps.Stats.GetHealthReport(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func listEvents(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit := clampedIntQuery(c, "limit", defaultEventsLimit, 1, maxEventsLimit)
	events, err := deps.Compounding.History(c.Request.Context(), userID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	if events == nil {
		events = []model.CompoundingEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func compact(c *gin.Context, deps Deps) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	removeStale := c.Query("remove_stale") == "true"
	mergeDuplicates := c.Query("merge_duplicates") == "true"

	result, err := deps.Maintenance.Compact(c.Request.Context(), userID, removeStale, mergeDuplicates)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func requireUserID(c *gin.Context) (string, bool) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return "", false
	}
	return userID, true
}

func clampedIntQuery(c *gin.Context, name string, def, min, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func handleError(c *gin.Context, err error) {
	var verr *registrystore.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
		return
	}
	var nferr *registrystore.NotFoundError
	if errors.As(err, &nferr) {
		c.JSON(http.StatusNotFound, gin.H{"error": nferr.Error()})
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
