package bling

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy decides how long to wait before repeating a failed request.
// One value is shared by every call the client makes.
type RetryPolicy struct {
	// MaxRetry counts attempts per request; server-directed waits do not count.
	MaxRetry int
	// FailDelay is the pause after a 5xx or a connection error.
	FailDelay time.Duration
	// BackoffCap bounds the exponential wait used for 429 without Retry-After.
	BackoffCap time.Duration
	// MaxServerWaits bounds consecutive Retry-After waits for one request.
	MaxServerWaits int

	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetry:       3,
		FailDelay:      5 * time.Second,
		BackoffCap:     30 * time.Second,
		MaxServerWaits: 10,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetry <= 0 {
		p.MaxRetry = d.MaxRetry
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = d.BackoffCap
	}
	if p.MaxServerWaits <= 0 {
		p.MaxServerWaits = d.MaxServerWaits
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) }
	}
	return p
}

// Backoff is 2^attempt seconds plus jitter, capped at BackoffCap.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := time.Duration(1<<attempt)*time.Second + p.Jitter()
	if d > p.BackoffCap {
		d = p.BackoffCap
	}
	return d
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
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
