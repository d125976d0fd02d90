package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"blingsync/internal/logger"
)

// ContactClient fetches a single contact from Bling.
type ContactClient interface {
	GetContact(ctx context.Context, id int64) (map[string]interface{}, error)
}

// ContactHandler looks contacts up live in Bling, bypassing the local table.
type ContactHandler struct {
	client ContactClient
	logger *logger.Logger
}

func NewContactHandler(client ContactClient, logger *logger.Logger) *ContactHandler {
	return &ContactHandler{client: client, logger: logger}
}

func (h *ContactHandler) Get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	contact, err := h.client.GetContact(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("Looking up contact %d: %v", id, err)
		respondError(c, err, "Failed to fetch contact")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": contact})
}
