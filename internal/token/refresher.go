package token

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/logger"
)

type State string

const (
	StateValid      State = "VALID"
	StateRefreshing State = "REFRESHING"
	StateFailed     State = "FAILED"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	// AuthURL is the consent page used to grant access again.
	AuthURL    string
	HTTPClient *http.Client

	// MaxRetry bounds token endpoint attempts on network failures.
	MaxRetry  int
	FailDelay time.Duration
	// PersistRetries bounds Store.Put attempts after a successful exchange.
	PersistRetries int
	// Skew refreshes access tokens this long before they expire.
	Skew time.Duration
}

// Refresher hands out a usable access token and rotates the pair when needed.
// Every exchange is persisted before the new pair is returned.
type Refresher struct {
	cfg    Config
	store  Store
	locker Locker
	log    *logger.Logger
	oauth  *oauth2.Config

	group singleflight.Group

	mu      sync.Mutex
	current Pair
	pending *Pair
	state   State

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRefresher(cfg Config, store Store, locker Locker, log *logger.Logger) *Refresher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = 3
	}
	if cfg.Skew == 0 {
		cfg.Skew = time.Minute
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	return &Refresher{
		cfg:    cfg,
		store:  store,
		locker: locker,
		log:    log,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		state: StateValid,
		now:   time.Now,
		sleep: sleepContext,
	}
}

func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Refresher) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Token returns the current pair, loading it from the store on first use and
// refreshing it when the access token has expired.
func (r *Refresher) Token(ctx context.Context) (Pair, error) {
	if err := r.flushPending(ctx); err != nil {
		return Pair{}, err
	}

	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if current.IsZero() {
		stored, err := r.store.Get(ctx)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return Pair{}, apperrors.Wrap(apperrors.ErrReauthorizationRequired, "no stored token pair; authorize the application", err)
			}
			return Pair{}, err
		}
		r.adopt(stored)
		current = stored
	}

	if current.Expired(r.now(), r.cfg.Skew) {
		r.log.Info("Access token expired at %s, refreshing", current.ExpiresAt.Format(time.RFC3339))
		return r.Refresh(ctx, current)
	}
	return current, nil
}

// Refresh exchanges stale's refresh token for a new pair. Concurrent callers
// in this process share one exchange, and the cross-process lock makes a
// caller that lost the race adopt the pair the winner stored.
func (r *Refresher) Refresh(ctx context.Context, stale Pair) (Pair, error) {
	v, err, _ := r.group.Do(r.cfg.ClientID, func() (interface{}, error) {
		return r.refresh(ctx, stale)
	})
	if err != nil {
		return Pair{}, err
	}
	return v.(Pair), nil
}

func (r *Refresher) refresh(ctx context.Context, stale Pair) (Pair, error) {
	if err := r.flushPending(ctx); err != nil {
		return Pair{}, err
	}

	r.setState(StateRefreshing)

	unlock, err := r.locker.Lock(ctx, r.lockKey())
	if err != nil {
		r.setState(StateFailed)
		return Pair{}, apperrors.Wrap(apperrors.CodeOrDefault(err, apperrors.ErrNetwork), "acquire refresh lock", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("Failed to release refresh lock: %v", err)
		}
	}()

	input := stale
	stored, err := r.store.Get(ctx)
	switch {
	case err == nil:
		if stale.RefreshToken != "" && stored.RefreshToken != stale.RefreshToken {
			r.log.Info("Token pair was already rotated by another process, adopting it")
			r.adopt(stored)
			return stored, nil
		}
		input = stored
	case apperrors.Is(err, apperrors.ErrNotFound):
		if stale.RefreshToken == "" {
			r.setState(StateFailed)
			return Pair{}, apperrors.Wrap(apperrors.ErrReauthorizationRequired, "no refresh token available", err)
		}
	default:
		r.setState(StateFailed)
		return Pair{}, err
	}

	fresh, rotated, err := r.exchangeWithRetry(ctx, input.RefreshToken)
	if err != nil {
		r.setState(StateFailed)
		if apperrors.Is(err, apperrors.ErrReauthorizationRequired) {
			r.log.Critical("Bling rejected the refresh token; the application must be authorized again")
		}
		return Pair{}, err
	}
	if err := r.commit(ctx, fresh); err != nil {
		return Pair{}, err
	}
	if !rotated {
		// The old refresh token is spent; this access token is the last one.
		r.setState(StateFailed)
		r.log.Critical("Token endpoint returned no refresh token; the application must be authorized again before this access token expires")
		return fresh, nil
	}
	if fresh.ExpiresAt.IsZero() {
		r.log.Info("Token refreshed")
	} else {
		r.log.Info("Token refreshed, valid until %s", fresh.ExpiresAt.Format(time.RFC3339))
	}
	return fresh, nil
}

// Close writes a pair that is still only held in memory.
func (r *Refresher) Close(ctx context.Context) error {
	return r.flushPending(ctx)
}

// commit persists a freshly exchanged pair and makes it current. When the
// store keeps failing the pair is held as pending, since the old refresh
// token is already spent.
func (r *Refresher) commit(ctx context.Context, fresh Pair) error {
	r.log.Redact(fresh.AccessToken, fresh.RefreshToken)

	if err := r.persist(ctx, fresh); err != nil {
		r.mu.Lock()
		r.current = fresh
		r.pending = &fresh
		r.state = StateFailed
		r.mu.Unlock()
		r.log.Critical("New token pair could not be saved; it is held in memory until it can be: %v", err)
		return apperrors.Wrap(apperrors.ErrPersistence, "persist new token pair", err)
	}

	r.adopt(fresh)
	return nil
}

func (r *Refresher) lockKey() string {
	return "blingsync:token-refresh:" + r.cfg.ClientID
}

func (r *Refresher) adopt(p Pair) {
	r.log.Redact(p.AccessToken, p.RefreshToken)
	r.mu.Lock()
	r.current = p
	r.pending = nil
	r.state = StateValid
	r.mu.Unlock()
}

func (r *Refresher) flushPending(ctx context.Context) error {
	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if pending == nil {
		return nil
	}

	if err := r.persist(ctx, *pending); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "persist pending token pair", err)
	}
	r.log.Info("Pending token pair saved")
	r.adopt(*pending)
	return nil
}

func (r *Refresher) persist(ctx context.Context, p Pair) error {
	var err error
	for attempt := 1; attempt <= r.cfg.PersistRetries; attempt++ {
		if err = r.store.Put(ctx, p); err == nil {
			return nil
		}
		r.log.Warn("Saving token pair failed (attempt %d/%d): %v", attempt, r.cfg.PersistRetries, err)
		if attempt < r.cfg.PersistRetries {
			if serr := r.sleep(ctx, r.cfg.FailDelay); serr != nil {
				return serr
			}
		}
	}
	return err
}

// exchangeWithRetry reports whether the response carried a refresh token of
// its own.
func (r *Refresher) exchangeWithRetry(ctx context.Context, refreshToken string) (Pair, bool, error) {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxRetry; attempt++ {
		var (
			p       Pair
			rotated bool
		)
		if p, rotated, err = r.exchange(ctx, refreshToken); err == nil {
			return p, rotated, nil
		}
		if !apperrors.Retryable(err) {
			return Pair{}, false, err
		}
		r.log.Warn("Token endpoint failed (attempt %d/%d): %v", attempt, r.cfg.MaxRetry, err)
		if attempt < r.cfg.MaxRetry {
			if serr := r.sleep(ctx, r.cfg.FailDelay); serr != nil {
				return Pair{}, false, serr
			}
		}
	}
	return Pair{}, false, err
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (Pair, bool, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.cfg.HTTPClient)
	tok, err := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Pair{}, false, classifyTokenError(err)
	}

	// x/oauth2 carries the old refresh token over when none is returned, so
	// look at the raw response.
	returned, _ := tok.Extra("refresh_token").(string)
	if returned != "" && returned == refreshToken {
		r.log.Warn("Token endpoint returned the same refresh token; keeping it")
	}

	return Pair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   r.now().UTC(),
		ExpiresAt:    tok.Expiry,
	}, returned != "", nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return apperrors.Wrap(apperrors.ErrReauthorizationRequired, "refresh token rejected", err)
		case http.StatusTooManyRequests:
			return apperrors.Wrap(apperrors.ErrRateLimited, "token endpoint rate limited", err)
		}
	}
	return apperrors.Wrap(apperrors.ErrNetwork, "token endpoint request failed", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
