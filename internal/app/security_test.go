package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	ctx := context.Background()
	if !l.Allow(ctx, "k") || !l.Allow(ctx, "k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow(ctx, "k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow(ctx, "other") {
		t.Fatalf("other keys have their own window")
	}
}

func TestIPRateLimiterWindowResets(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if !l.Allow(ctx, "k") {
		t.Fatalf("first request should pass")
	}
	if l.Allow(ctx, "k") {
		t.Fatalf("second request in the window should be blocked")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow(ctx, "k") {
		t.Fatalf("request after the window should pass")
	}
}

type recordingLimiter struct {
	keys  []string
	allow bool
}

func (l *recordingLimiter) Allow(_ context.Context, key string) bool {
	l.keys = append(l.keys, key)
	return l.allow
}

func TestRateLimitMiddlewareKeysByScopeAndIP(t *testing.T) {
	l := &recordingLimiter{allow: false}
	next := RateLimitMiddleware(l, "public")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/r/ABCD2345", nil)
	req.RemoteAddr = "10.1.2.3:53211"
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if len(l.keys) != 1 || l.keys[0] != "public|10.1.2.3" {
		t.Fatalf("unexpected limiter keys %v", l.keys)
	}
}

func TestCSRFMiddlewareEnforced(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/questionnaires/1/publish", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "abc"})
	req.Header.Set(csrfHeaderName, "abc")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCSRFMiddlewareRejectsMissingToken(t *testing.T) {
	mw := CSRFMiddleware(true)
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/questionnaires/1/publish", nil)
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	next := CORSMiddleware("https://forms.example.cz/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/questionnaires", nil)
	req.Header.Set("Origin", "https://forms.example.cz")
	w := httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://forms.example.cz" {
		t.Fatalf("unexpected preflight response %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/questionnaires", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	next.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be allowed")
	}
}

func TestRedisRateLimiter(t *testing.T) {
	addr := os.Getenv("DRP_TEST_REDIS_ADDR")
	if os.Getenv("DRP_INTEGRATION") != "1" || addr == "" {
		t.Skip("set DRP_INTEGRATION=1 and DRP_TEST_REDIS_ADDR to run")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "")
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer client.Close()

	key := "test|" + time.Now().Format("150405.000000000")
	l := NewRedisRateLimiter(client, 2, time.Minute)
	if !l.Allow(ctx, key) || !l.Allow(ctx, key) {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow(ctx, key) {
		t.Fatalf("third request should be blocked")
	}
	_ = client.Del(ctx, rateLimitKeyPrefix+key).Err()
}
