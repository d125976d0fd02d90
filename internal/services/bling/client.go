package bling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/logger"
	"blingsync/internal/token"
)

// TokenSource is what the client needs from the token refresher.
type TokenSource interface {
	Token(ctx context.Context) (token.Pair, error)
	Refresh(ctx context.Context, stale token.Pair) (token.Pair, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	policy     RetryPolicy
	logger     *logger.Logger
}

func NewClient(baseURL string, tokens TokenSource, policy RetryPolicy, timeout time.Duration, logger *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		policy: policy.withDefaults(),
		logger: logger,
	}
}

// GetPage fetches one page of a list endpoint.
func (c *Client) GetPage(ctx context.Context, path string, page, limit int, filters url.Values) ([]map[string]interface{}, error) {
	q := url.Values{}
	for k, v := range filters {
		q[k] = v
	}
	q.Set("pagina", strconv.Itoa(page))
	q.Set("limite", strconv.Itoa(limit))

	body, err := c.get(ctx, path, q)
	if err != nil {
		return nil, err
	}

	var resp ListResponse
	if err := decode(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataShape, fmt.Sprintf("decode %s page %d", path, page), err)
	}
	return resp.Data, nil
}

// GetProducts fetches a page of /produtos.
func (c *Client) GetProducts(ctx context.Context, page, limit int, filters url.Values) ([]map[string]interface{}, error) {
	return c.GetPage(ctx, "/produtos", page, limit, filters)
}

// GetProduct fetches a single product by ID
func (c *Client) GetProduct(ctx context.Context, id int64) (map[string]interface{}, error) {
	return c.getOne(ctx, fmt.Sprintf("/produtos/%d", id))
}

// GetContacts fetches a page of /contatos.
func (c *Client) GetContacts(ctx context.Context, page, limit int, filters url.Values) ([]map[string]interface{}, error) {
	return c.GetPage(ctx, "/contatos", page, limit, filters)
}

// GetContact fetches a single contact by ID
func (c *Client) GetContact(ctx context.Context, id int64) (map[string]interface{}, error) {
	return c.getOne(ctx, fmt.Sprintf("/contatos/%d", id))
}

func (c *Client) getOne(ctx context.Context, path string) (map[string]interface{}, error) {
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var resp DetailResponse
	if err := decode(body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDataShape, "decode "+path, err)
	}
	if resp.Data == nil {
		return nil, apperrors.Newf(apperrors.ErrDataShape, "%s returned no data", path)
	}
	return resp.Data, nil
}

// get runs one GET under the retry policy and returns the response body.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	pair, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var (
		attempts    int
		serverWaits int
		refreshed   bool
	)
	for {
		status, header, body, err := c.send(ctx, endpoint, pair.AccessToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempts++
			if attempts >= c.policy.MaxRetry {
				return nil, apperrors.Wrap(apperrors.ErrNetwork, fmt.Sprintf("GET %s failed after %d attempts", path, attempts), err)
			}
			c.logger.Warn("GET %s failed (attempt %d/%d): %v", path, attempts, c.policy.MaxRetry, err)
			if err := c.policy.Sleep(ctx, c.policy.FailDelay); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return body, nil

		case status == http.StatusUnauthorized:
			if refreshed {
				return nil, apperrors.Newf(apperrors.ErrAuthExpired, "GET %s still unauthorized after token refresh", path)
			}
			c.logger.Info("GET %s returned 401, refreshing token", path)
			pair, err = c.tokens.Refresh(ctx, pair)
			if err != nil {
				if apperrors.Fatal(err) {
					return nil, err
				}
				return nil, apperrors.Wrap(apperrors.ErrAuthExpired, "token refresh after 401 failed", err)
			}
			refreshed = true

		case status == http.StatusTooManyRequests:
			if wait, ok := retryAfter(header, time.Now()); ok && serverWaits < c.policy.MaxServerWaits {
				serverWaits++
				c.logger.Warn("GET %s rate limited, retrying after %s", path, wait)
				if err := c.policy.Sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			attempts++
			if attempts >= c.policy.MaxRetry {
				return nil, apperrors.Newf(apperrors.ErrRateLimited, "GET %s rate limited after %d attempts", path, attempts)
			}
			wait := c.policy.Backoff(attempts)
			c.logger.Warn("GET %s rate limited (attempt %d/%d), backing off %s", path, attempts, c.policy.MaxRetry, wait)
			if err := c.policy.Sleep(ctx, wait); err != nil {
				return nil, err
			}

		case status >= 500:
			attempts++
			if attempts >= c.policy.MaxRetry {
				return nil, apperrors.Newf(apperrors.ErrNetwork, "GET %s returned %d after %d attempts", path, status, attempts)
			}
			c.logger.Warn("GET %s returned %d (attempt %d/%d)", path, status, attempts, c.policy.MaxRetry)
			if err := c.policy.Sleep(ctx, c.policy.FailDelay); err != nil {
				return nil, err
			}

		case status == http.StatusNotFound:
			return nil, apperrors.Newf(apperrors.ErrNotFound, "GET %s: not found", path)

		default:
			return nil, apperrors.Newf(apperrors.ErrNonRetryable, "GET %s failed: %d - %s", path, status, snippet(body))
		}
	}
}

func (c *Client) send(ctx context.Context, endpoint, accessToken string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func decode(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
