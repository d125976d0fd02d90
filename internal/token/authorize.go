package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/oauth2"

	apperrors "blingsync/internal/errors"
)

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// AuthCodeURL is the Bling consent page an operator opens after the refresh
// token was rejected.
func (r *Refresher) AuthCodeURL(state string) string {
	return r.oauth.AuthCodeURL(state)
}

// Authorize exchanges an authorization code for a new pair, stores it and
// makes it current. It runs under the refresh lock so no other process
// rotates the pair meanwhile.
func (r *Refresher) Authorize(ctx context.Context, code string) (Pair, error) {
	if code == "" {
		return Pair{}, apperrors.New(apperrors.ErrNonRetryable, "empty authorization code")
	}

	unlock, err := r.locker.Lock(ctx, r.lockKey())
	if err != nil {
		return Pair{}, apperrors.Wrap(apperrors.CodeOrDefault(err, apperrors.ErrNetwork), "acquire refresh lock", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("Failed to release refresh lock: %v", err)
		}
	}()

	tok, err := r.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, r.cfg.HTTPClient), code)
	if err != nil {
		return Pair{}, classifyTokenError(err)
	}

	p := Pair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   r.now().UTC(),
		ExpiresAt:    tok.Expiry,
	}
	if err := r.commit(ctx, p); err != nil {
		return Pair{}, err
	}
	r.log.Info("Bling access granted again")
	return p, nil
}
