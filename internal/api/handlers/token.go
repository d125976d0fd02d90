package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/logger"
	"blingsync/internal/token"
)

const (
	TokenValid          = "valid"
	TokenExpired        = "expired"
	TokenNotInitialized = "not_initialized"

	// Without an expiry the token is assumed to be refreshed five hours
	// after it was obtained.
	assumedRefreshAfter = 5 * time.Hour
	refreshAhead        = time.Hour
)

// Refresher is what the token endpoints need from token.Refresher.
type Refresher interface {
	Refresh(ctx context.Context, stale token.Pair) (token.Pair, error)
	State() token.State
}

// TokenHandler reports and renews the stored Bling token.
type TokenHandler struct {
	store     token.Store
	refresher Refresher
	logger    *logger.Logger
	now       func() time.Time
}

func NewTokenHandler(store token.Store, refresher Refresher, logger *logger.Logger) *TokenHandler {
	return &TokenHandler{store: store, refresher: refresher, logger: logger, now: time.Now}
}

// TokenInfo is the monitor view of a pair. The token itself is masked.
type TokenInfo struct {
	AccessToken    string      `json:"access_token,omitempty"`
	LastRefresh    *time.Time  `json:"last_refresh"`
	NextRefresh    *time.Time  `json:"next_refresh"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	Status         string      `json:"status"`
	RefresherState token.State `json:"refresher_state,omitempty"`
}

func (h *TokenHandler) info(p token.Pair, found bool) TokenInfo {
	var info TokenInfo
	if h.refresher != nil {
		info.RefresherState = h.refresher.State()
	}
	if !found || p.IsZero() || p.ObtainedAt.IsZero() {
		info.Status = TokenNotInitialized
		if p.AccessToken != "" {
			info.AccessToken = p.Masked()
		}
		return info
	}

	last := p.ObtainedAt
	next := last.Add(assumedRefreshAfter)
	if !p.ExpiresAt.IsZero() {
		expires := p.ExpiresAt
		info.ExpiresAt = &expires
		next = expires.Add(-refreshAhead)
	}
	info.AccessToken = p.Masked()
	info.LastRefresh = &last
	info.NextRefresh = &next

	if h.now().After(next) {
		info.Status = TokenExpired
	} else {
		info.Status = TokenValid
	}
	return info
}

func (h *TokenHandler) Status(c *gin.Context) {
	p, err := h.store.Get(c.Request.Context())
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		h.logger.Error("Reading stored token: %v", err)
		respondError(c, err, "Failed to read token")
		return
	}
	c.JSON(http.StatusOK, h.info(p, err == nil))
}

func (h *TokenHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()

	current, err := h.store.Get(ctx)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		respondError(c, err, "Failed to read token")
		return
	}

	p, err := h.refresher.Refresh(ctx, current)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrReauthorizationRequired) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Bling authorization must be granted again",
				"code":    apperrors.ErrReauthorizationRequired,
			})
			return
		}
		h.logger.Error("Token refresh failed: %v", err)
		respondError(c, err, "Failed to refresh token")
		return
	}

	h.logger.Info("Token refreshed through the API; expires at %s", p.ExpiresAt.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   h.info(p, true),
	})
}
