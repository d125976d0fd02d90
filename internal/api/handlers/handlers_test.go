package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/events"
	"blingsync/internal/logger"
	"blingsync/internal/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logger.Logger {
	l, _ := logger.NewWithOptions(logger.Options{Output: io.Discard})
	return l
}

type memStore struct {
	pair token.Pair
}

func (m *memStore) Get(ctx context.Context) (token.Pair, error) {
	if m.pair.IsZero() {
		return token.Pair{}, apperrors.New(apperrors.ErrNotFound, "no token stored")
	}
	return m.pair, nil
}

func (m *memStore) Put(ctx context.Context, p token.Pair) error {
	m.pair = p
	return nil
}

type fakeRefresher struct {
	store *memStore
	err   error
	stale []token.Pair
}

func (f *fakeRefresher) Refresh(ctx context.Context, stale token.Pair) (token.Pair, error) {
	f.stale = append(f.stale, stale)
	if f.err != nil {
		return token.Pair{}, f.err
	}
	now := time.Now()
	p := token.Pair{AccessToken: "fresh-access-token-xyz", RefreshToken: "fresh-refresh", ObtainedAt: now, ExpiresAt: now.Add(6 * time.Hour)}
	f.store.pair = p
	return p, nil
}

func (f *fakeRefresher) State() token.State { return token.StateValid }

func do(t *testing.T, h gin.HandlerFunc, method, path, route, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := gin.New()
	r.Handle(method, route, h)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestTokenStatus(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		pair       token.Pair
		wantStatus string
		wantNext   time.Time
	}{
		{"not initialized", token.Pair{}, TokenNotInitialized, time.Time{}},
		{
			"valid with expiry",
			token.Pair{AccessToken: "abcdefghijklmnop", RefreshToken: "r", ObtainedAt: now.Add(-time.Hour), ExpiresAt: now.Add(5 * time.Hour)},
			TokenValid, now.Add(4 * time.Hour),
		},
		{
			"expired without expiry",
			token.Pair{AccessToken: "abcdefghijklmnop", RefreshToken: "r", ObtainedAt: now.Add(-6 * time.Hour)},
			TokenExpired, now.Add(-time.Hour),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTokenHandler(&memStore{pair: tt.pair}, nil, testLogger())
			h.now = func() time.Time { return now }

			w, body := do(t, h.Status, http.MethodGet, "/token", "/token", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status code = %d", w.Code)
			}
			if body["status"] != tt.wantStatus {
				t.Fatalf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if tt.wantNext.IsZero() {
				if body["next_refresh"] != nil {
					t.Fatalf("next_refresh = %v", body["next_refresh"])
				}
				return
			}
			if body["access_token"] != "abcdefghij..." {
				t.Fatalf("access_token = %v", body["access_token"])
			}
			if body["next_refresh"] != tt.wantNext.Format(time.RFC3339) {
				t.Fatalf("next_refresh = %v, want %s", body["next_refresh"], tt.wantNext.Format(time.RFC3339))
			}
		})
	}
}

func TestTokenRefresh(t *testing.T) {
	store := &memStore{pair: token.Pair{AccessToken: "old-access-token", RefreshToken: "old-refresh", ObtainedAt: time.Now().Add(-7 * time.Hour)}}
	ref := &fakeRefresher{store: store}
	h := NewTokenHandler(store, ref, testLogger())

	w, body := do(t, h.Refresh, http.MethodPost, "/token/refresh", "/token/refresh", "")
	if w.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("code = %d body = %v", w.Code, body)
	}
	if len(ref.stale) != 1 || ref.stale[0].RefreshToken != "old-refresh" {
		t.Fatalf("refresh called with %+v", ref.stale)
	}
	info := body["token"].(map[string]interface{})
	if info["status"] != TokenValid || info["access_token"] != "fresh-acce..." {
		t.Fatalf("token = %v", info)
	}
	if strings.Contains(w.Body.String(), "fresh-refresh") {
		t.Fatal("response leaks the refresh token")
	}
}

func TestTokenRefreshNeedsReauthorization(t *testing.T) {
	store := &memStore{}
	ref := &fakeRefresher{store: store, err: apperrors.New(apperrors.ErrReauthorizationRequired, "invalid_grant")}
	h := NewTokenHandler(store, ref, testLogger())

	w, body := do(t, h.Refresh, http.MethodPost, "/token/refresh", "/token/refresh", "")
	if w.Code != http.StatusUnauthorized || body["code"] != string(apperrors.ErrReauthorizationRequired) {
		t.Fatalf("code = %d body = %v", w.Code, body)
	}
}

type fakeContacts struct {
	err error
}

func (f fakeContacts) GetContact(ctx context.Context, id int64) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"id": id, "nome": "Cliente"}, nil
}

func TestContactLookup(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"found", "/contacts/42", nil, http.StatusOK},
		{"bad id", "/contacts/abc", nil, http.StatusBadRequest},
		{"missing", "/contacts/42", apperrors.New(apperrors.ErrNotFound, "404"), http.StatusNotFound},
		{"auth", "/contacts/42", apperrors.New(apperrors.ErrAuthExpired, "401"), http.StatusUnauthorized},
		{"upstream down", "/contacts/42", apperrors.New(apperrors.ErrNetwork, "503"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewContactHandler(fakeContacts{err: tt.err}, testLogger())
			w, _ := do(t, h.Get, http.MethodGet, tt.path, "/contacts/:id", "")
			if w.Code != tt.want {
				t.Fatalf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

type capturePublisher struct {
	events []events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, evs ...events.Event) error {
	p.events = append(p.events, evs...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestSyncRequest(t *testing.T) {
	pub := &capturePublisher{}
	h := NewSyncHandler(nil, pub, testLogger())

	w, body := do(t, h.Request, http.MethodPost, "/sync", "/sync", `{"resources":["contacts"]}`)
	if w.Code != http.StatusAccepted || body["request_id"] == nil {
		t.Fatalf("code = %d body = %v", w.Code, body)
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.TypeSyncRequested {
		t.Fatalf("events = %+v", pub.events)
	}
	var req events.SyncRequest
	if err := json.Unmarshal(pub.events[0].Data, &req); err != nil || len(req.Resources) != 1 || req.Resources[0] != "contacts" {
		t.Fatalf("request = %+v err = %v", req, err)
	}

	if w, _ := do(t, h.Request, http.MethodPost, "/sync", "/sync", `{"resources":["orders"]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown resource code = %d", w.Code)
	}

	disabled := NewSyncHandler(nil, nil, testLogger())
	if w, _ := do(t, disabled.Request, http.MethodPost, "/sync", "/sync", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("without kafka code = %d", w.Code)
	}
}

type fakeAuthorizer struct {
	codes []string
}

func (f *fakeAuthorizer) AuthCodeURL(state string) string {
	return "https://www.bling.com.br/Api/v3/oauth/authorize?state=" + state
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, code string) (token.Pair, error) {
	f.codes = append(f.codes, code)
	return token.Pair{AccessToken: "granted-access-token", RefreshToken: "granted-refresh"}, nil
}

func TestOAuthFlow(t *testing.T) {
	auth := &fakeAuthorizer{}
	h := NewOAuthHandler(auth, testLogger())
	now := time.Now()
	h.now = func() time.Time { return now }

	w, body := do(t, h.Authorize, http.MethodGet, "/oauth/authorize", "/oauth/authorize", "")
	if w.Code != http.StatusOK {
		t.Fatalf("authorize code = %d", w.Code)
	}
	state := body["state"].(string)
	if !strings.HasSuffix(body["auth_url"].(string), "state="+state) {
		t.Fatalf("auth_url = %v", body["auth_url"])
	}

	if w, _ := do(t, h.Callback, http.MethodGet, "/oauth/callback?code=c1&state=forged", "/oauth/callback", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("forged state code = %d", w.Code)
	}

	w, body = do(t, h.Callback, http.MethodGet, "/oauth/callback?code=c1&state="+state, "/oauth/callback", "")
	if w.Code != http.StatusOK || body["access_token"] != "granted-ac..." {
		t.Fatalf("callback = %d %v", w.Code, body)
	}
	if len(auth.codes) != 1 || auth.codes[0] != "c1" {
		t.Fatalf("codes = %v", auth.codes)
	}

	// A state is single use.
	if w, _ := do(t, h.Callback, http.MethodGet, "/oauth/callback?code=c1&state="+state, "/oauth/callback", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("replayed state code = %d", w.Code)
	}

	_, body = do(t, h.Authorize, http.MethodGet, "/oauth/authorize", "/oauth/authorize", "")
	now = now.Add(stateTTL + time.Second)
	if w, _ := do(t, h.Callback, http.MethodGet, "/oauth/callback?code=c2&state="+body["state"].(string), "/oauth/callback", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expired state code = %d", w.Code)
	}
}
