package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		JWTSecret:       "test-secret",
		JWTTTL:          time.Hour,
		UploadMaxBytes:  1 << 20,
		RateLimitWindow: time.Minute,
		PublicRateLimit: 100,
		LoginRateLimit:  10,
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	h := NewRouter(testConfig(), nil, Deps{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected healthz %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "drp_uptime_seconds") {
		t.Fatalf("unexpected metrics %d %s", w.Code, w.Body.String())
	}
}

func TestRouterOperatorRoutesRequireToken(t *testing.T) {
	h := NewRouter(testConfig(), nil, Deps{})
	for _, path := range []string{
		"/api/v1/questionnaires",
		"/api/v1/questionnaires/1/export?format=csv",
		"/api/v1/questionnaires/1/respondents",
		"/api/v1/admin/users",
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func TestRouterRateLimitsRespondentRoutes(t *testing.T) {
	h := NewRouter(testConfig(), nil, Deps{PublicLimiter: denyAll{}})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/r/ABCD2345", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}
