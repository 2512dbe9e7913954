package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	inventorydomain "github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
)

// SystemHealth returns the full health snapshot.
func (r *Router) SystemHealth(c *gin.Context) {
	report := r.monitor.CheckSystemHealth(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// AlertStats returns the per-day alert dispatch counters plus the
// delivery-status breakdown from the audit trail.
func (r *Router) AlertStats(c *gin.Context) {
	days := queryInt(c, "days", 7)
	stats, err := r.alerts.Stats(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	deliveries, err := r.alerts.DeliveryCounts(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "stats": stats, "deliveries": deliveries})
}

// ListDeadLetters returns the newest dead-letter entries.
func (r *Router) ListDeadLetters(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	entries, err := r.deadLetters.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "deadLetters": entries})
}

// QueueDepths reports ready/delayed counts per lane.
func (r *Router) QueueDepths(c *gin.Context) {
	lanes := []string{
		queue.LaneInventory,
		queue.LanePriceSync,
		queue.LaneOrderSync,
		queue.LaneNotification,
		queue.LaneMaintenance,
	}

	type depth struct {
		Ready   int64 `json:"ready"`
		Delayed int64 `json:"delayed"`
	}
	out := make(map[string]depth, len(lanes))
	for _, lane := range lanes {
		ready, delayed, err := r.queue.Depth(c.Request.Context(), lane)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out[lane] = depth{Ready: ready, Delayed: delayed}
	}
	c.JSON(http.StatusOK, gin.H{"lanes": out})
}

type triggerRequest struct {
	Lane    string         `json:"lane" binding:"required"`
	Name    string         `json:"name" binding:"required"`
	Payload map[string]any `json:"payload"`
}

// TriggerJob enqueues a one-off high-priority job; the caller polls
// queue state for the outcome.
func (r *Router) TriggerJob(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := r.scheduler.TriggerNow(c.Request.Context(), req.Lane, req.Name, req.Payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

type autoStatusRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetAutoStatus toggles the compensating-action opt-in of a listing.
func (r *Router) SetAutoStatus(c *gin.Context) {
	var req autoStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := r.inventory.SetAutoStatusEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, inventorydomain.ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listingId": id, "autoStatusEnabled": *req.Enabled})
}

// ForceResume resumes a paused listing immediately, bypassing the
// dwell time.
func (r *Router) ForceResume(c *gin.Context) {
	id := c.Param("id")
	err := r.inventory.ForceResumeListing(c.Request.Context(), id)
	switch {
	case errors.Is(err, inventorydomain.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, inventorydomain.ErrNotPaused):
		c.JSON(http.StatusConflict, gin.H{"error": "listing is not paused"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"listingId": id, "status": "ACTIVE"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
