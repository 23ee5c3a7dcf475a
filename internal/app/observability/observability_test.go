package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/questionnaires/123/respondents/9": "/api/v1/questionnaires/{id}/respondents/{id}",
		"/api/v1/r/ABCD2345/submit":                "/api/v1/r/{token}/submit",
		"":                                         "/",
	}
	for in, want := range tests {
		if got := normalizedPath(in); got != want {
			t.Fatalf("normalizedPath(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestExtractQuestionnaireID(t *testing.T) {
	if id := extractQuestionnaireID("/api/v1/questionnaires/456/publish"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractQuestionnaireID("/api/v1/r/ABCD2345"); id != 0 {
		t.Fatalf("expected 0 for respondent path, got %d", id)
	}
}

func TestMetricsHandlerCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/questionnaires/7/publish", nil))
	}

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `drp_http_requests_total{method="POST",path="/api/v1/questionnaires/{id}/publish",status="201"} 2`
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("metrics missing %q:\n%s", want, w.Body.String())
	}
}

func TestRespondentWriteKind(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodPut, "/api/v1/r/ABCD2345/autosave", "autosave"},
		{http.MethodPost, "/api/v1/r/ABCD2345/submit", "submit"},
		{http.MethodPost, "/api/v1/r/ABCD2345/files", "file_upload"},
		{http.MethodDelete, "/api/v1/r/ABCD2345/files/f-1", "file_delete"},
		{http.MethodGet, "/api/v1/r/ABCD2345/submission", ""},
		{http.MethodPost, "/api/v1/questionnaires/1/publish", ""},
	}
	for _, tc := range tests {
		if got := respondentWriteKind(tc.method, tc.path); got != tc.want {
			t.Fatalf("%s %s: got %q, want %q", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestMetricsHandlerCountsRespondentWrites(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-Locked") != "" {
			SetOutcome(r.Context(), "locked")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/r/ABCD2345/submit", nil))
	locked := httptest.NewRequest(http.MethodPost, "/api/v1/r/ABCD2345/submit", nil)
	locked.Header.Set("X-Test-Locked", "1")
	h.ServeHTTP(httptest.NewRecorder(), locked)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/v1/r/ABCD2345/autosave", nil))

	w := httptest.NewRecorder()
	c.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		`drp_respondent_writes_total{kind="submit",outcome="ok"} 1`,
		`drp_respondent_writes_total{kind="submit",outcome="locked"} 1`,
		`drp_respondent_writes_total{kind="autosave",outcome="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "ABCD2345") {
		t.Fatalf("metrics must not contain tokens")
	}
}

func TestSetOutcomeOutsideWriteIsNoop(t *testing.T) {
	SetOutcome(context.Background(), "locked")
}
