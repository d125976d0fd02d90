package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "blingsync/internal/errors"
)

// statusFor maps an error kind to the HTTP status returned to API clients.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrReauthorizationRequired, apperrors.ErrAuthExpired:
		return http.StatusUnauthorized
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrNetwork, apperrors.ErrNonRetryable, apperrors.ErrDataShape:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, message string) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   message,
		"code":    apperrors.CodeOrDefault(err, "INTERNAL"),
	})
}

// pagination reads page and limit, limit capped at 100.
func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}
