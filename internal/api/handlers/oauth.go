package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"blingsync/internal/logger"
	"blingsync/internal/token"
)

const stateTTL = 10 * time.Minute

// Authorizer runs the authorization code grant against Bling.
type Authorizer interface {
	AuthCodeURL(state string) string
	Authorize(ctx context.Context, code string) (token.Pair, error)
}

// OAuthHandler lets an operator grant access again once the refresh token
// was rejected.
type OAuthHandler struct {
	authorizer Authorizer
	logger     *logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

func NewOAuthHandler(authorizer Authorizer, logger *logger.Logger) *OAuthHandler {
	return &OAuthHandler{
		authorizer: authorizer,
		logger:     logger,
		now:        time.Now,
		states:     make(map[string]time.Time),
	}
}

// Authorize starts the flow and returns the consent URL.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	state, err := token.NewState()
	if err != nil {
		h.logger.Error("Failed to generate OAuth state: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authorization URL"})
		return
	}

	h.mu.Lock()
	now := h.now()
	for s, expires := range h.states {
		if now.After(expires) {
			delete(h.states, s)
		}
	}
	h.states[state] = now.Add(stateTTL)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"auth_url": h.authorizer.AuthCodeURL(state),
		"state":    state,
		"message":  "Open auth_url and grant access; Bling redirects back to the callback",
	})
}

// Callback exchanges the code Bling redirected back with.
func (h *OAuthHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
		return
	}
	if !h.consume(state) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown or expired state"})
		return
	}

	p, err := h.authorizer.Authorize(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("Failed to exchange authorization code: %v", err)
		respondError(c, err, "Failed to exchange authorization code")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Bling access granted",
		"access_token": p.Masked(),
	})
}

func (h *OAuthHandler) consume(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	expires, ok := h.states[state]
	delete(h.states, state)
	return ok && !h.now().After(expires)
}
