package bling

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"blingsync/internal/logger"
	"blingsync/internal/token"
)

type fakeTokens struct {
	mu         sync.Mutex
	current    token.Pair
	refreshes  int
	refreshErr error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{current: token.Pair{AccessToken: "at-0", RefreshToken: "rt-0"}}
}

func (f *fakeTokens) Token(ctx context.Context) (token.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTokens) Refresh(ctx context.Context, stale token.Pair) (token.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return token.Pair{}, f.refreshErr
	}
	f.current = token.Pair{
		AccessToken:  "at-" + strconv.Itoa(f.refreshes),
		RefreshToken: "rt-" + strconv.Itoa(f.refreshes),
	}
	return f.current, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func testLogger() *logger.Logger {
	l, _ := logger.NewWithOptions(logger.Options{Level: "debug", Output: io.Discard})
	return l
}

func testPolicy(rec *sleepRecorder) RetryPolicy {
	return RetryPolicy{
		MaxRetry:       3,
		FailDelay:      5 * time.Second,
		BackoffCap:     30 * time.Second,
		MaxServerWaits: 10,
		Sleep:          rec.Sleep,
		Jitter:         func() time.Duration { return 0 },
	}
}

func newTestClient(t *testing.T, h http.Handler, tokens TokenSource, rec *sleepRecorder) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, tokens, testPolicy(rec), 5*time.Second, testLogger())
}

// catalogHandler serves /produtos pages out of total generated products and
// counts list and detail requests.
type catalogHandler struct {
	mu       sync.Mutex
	total    int
	pageReqs int
	details  int
	failPage int // page that always answers 503, 0 for none
}

func (h *catalogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r.URL.Path != "/produtos" {
		var id int
		if _, err := fmt.Sscanf(r.URL.Path, "/produtos/%d", &id); err != nil || id < 1 || id > h.total {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.details++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":%s}`, productJSON(id, true))
		return
	}

	h.pageReqs++
	page, _ := strconv.Atoi(r.URL.Query().Get("pagina"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limite"))
	if page == h.failPage {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	start := (page - 1) * limit
	end := start + limit
	if end > h.total {
		end = h.total
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"data":[`)
	for id := start + 1; id <= end; id++ {
		if id > start+1 {
			io.WriteString(w, ",")
		}
		io.WriteString(w, productJSON(id, false))
	}
	io.WriteString(w, `]}`)
}

func productJSON(id int, detail bool) string {
	if !detail {
		return fmt.Sprintf(`{"id":%d,"codigo":"SKU-%d","nome":"Produto %d","preco":"10,50","tipo":"P","situacao":"A","formato":"S","estoque":{"saldoVirtualTotal":%d}}`,
			id, id, id, id%7)
	}
	return fmt.Sprintf(`{"id":%d,"codigo":"SKU-%d","nome":"Produto %d","preco":10.5,"tipo":"P","situacao":"A","formato":"S",`+
		`"estoque":{"saldoVirtualTotal":%d},"pesoLiquido":"0,25","pesoBruto":0.3,`+
		`"dimensoes":{"largura":"10","altura":"5,5","profundidade":2},`+
		`"midia":{"imagens":{"internas":[{"link":"https://cdn.example/%d.jpg"}]}},"categoria":{"id":42}}`,
		id, id, id, id%7, id)
}
