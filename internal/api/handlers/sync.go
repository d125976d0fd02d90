package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"blingsync/internal/events"
	"blingsync/internal/logger"
	"blingsync/internal/repository"
	blingapi "blingsync/internal/services/bling"
)

// SyncHandler lists past runs and queues new ones for the worker.
type SyncHandler struct {
	runs      *repository.RunLog
	publisher events.Publisher
	logger    *logger.Logger
}

// NewSyncHandler takes a nil publisher when Kafka is not configured.
func NewSyncHandler(runs *repository.RunLog, publisher events.Publisher, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{runs: runs, publisher: publisher, logger: logger}
}

func (h *SyncHandler) Runs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.runs.Recent(c.Request.Context(), c.Query("resource"), limit)
	if err != nil {
		h.logger.Error("Listing sync runs: %v", err)
		respondError(c, err, "Failed to fetch sync runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}

type syncRequest struct {
	Resources []string `json:"resources"`
}

func (h *SyncHandler) Request(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync requests need KAFKA_BROKERS"})
		return
	}

	var req syncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	for _, r := range req.Resources {
		if r != blingapi.ResourceProducts && r != blingapi.ResourceContacts {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown resource " + strconv.Quote(r)})
			return
		}
	}

	e, err := events.New(events.TypeSyncRequested, "", events.SyncRequest{
		Resources: req.Resources,
		Requester: c.ClientIP(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build sync request"})
		return
	}
	if err := h.publisher.Publish(c.Request.Context(), e); err != nil {
		h.logger.Error("Publishing sync request: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to queue sync request"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"request_id": e.ID, "resources": req.Resources})
}
