package token

import (
	"context"
	"time"
)

// Pair is the OAuth2 credential set. Bling invalidates a refresh token as soon
// as it is exchanged, so a Pair is always replaced whole.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ObtainedAt   time.Time `json:"obtained_at"`
	// ExpiresAt is zero when the token endpoint did not send expires_in.
	ExpiresAt time.Time `json:"expires_at"`
}

func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Expired reports whether the access token is past its expiry, counting skew
// as already expired. Unknown expiry is never expired.
func (p Pair) Expired(now time.Time, skew time.Duration) bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(p.ExpiresAt)
}

// Masked shows the first ten characters of the access token.
func (p Pair) Masked() string {
	return Mask(p.AccessToken)
}

func Mask(s string) string {
	if len(s) <= 10 {
		return s[:len(s)/2] + "..."
	}
	return s[:10] + "..."
}

// Store persists the current Pair.
type Store interface {
	// Get returns a NOT_FOUND AppError when no pair was ever stored.
	Get(ctx context.Context) (Pair, error)
	// Put writes both tokens or neither.
	Put(ctx context.Context, p Pair) error
}
