package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"drp/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

// writeKey labels a respondent write by route kind and outcome.
type writeKey struct {
	Kind    string
	Outcome string
}

type Collector struct {
	db *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	writeStats   map[writeKey]int64
	startedAt    time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:           db,
		requestStats: make(map[key]stat),
		writeStats:   make(map[writeKey]int64),
		startedAt:    time.Now(),
	}
}

type outcomeCtxKey struct{}

type outcomeSlot struct {
	code string
}

// SetOutcome labels the respondent write in flight with a reason code, such
// as locked or stale_revision. It is a no-op outside a respondent write.
func SetOutcome(ctx context.Context, code string) {
	if slot, ok := ctx.Value(outcomeCtxKey{}).(*outcomeSlot); ok {
		slot.code = code
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		kind := respondentWriteKind(r.Method, r.URL.Path)
		var slot *outcomeSlot
		if kind != "" {
			slot = &outcomeSlot{}
			r = r.WithContext(context.WithValue(r.Context(), outcomeCtxKey{}, slot))
		}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		if slot != nil {
			c.writeStats[writeKey{Kind: kind, Outcome: writeOutcome(slot.code, rec.status)}]++
		}
		c.mu.Unlock()

		requestID := middleware.GetReqID(r.Context())
		userID := int64(0)
		if u, ok := auth.CurrentUser(r.Context()); ok {
			userID = u.ID
		}
		questionnaireID := extractQuestionnaireID(r.URL.Path)

		entry := map[string]any{
			"request_id":       requestID,
			"user_id":          userID,
			"questionnaire_id": questionnaireID,
			"method":           r.Method,
			"path":             path,
			"status":           rec.status,
			"latency_ms":       latencyMS,
			"remote_ip":        strings.TrimSpace(r.RemoteAddr),
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", string(b))
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	writesCopy := make(map[writeKey]int64, len(c.writeStats))
	for k, v := range c.writeStats {
		writesCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# drp observability metrics\n")
	sb.WriteString("# TYPE drp_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("drp_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE drp_http_requests_total counter\n")
	sb.WriteString("# TYPE drp_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE drp_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("drp_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("drp_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		sb.WriteString(fmt.Sprintf("drp_http_request_latency_ms_avg{%s} %.3f\n", labels, avg))
	}

	writeKeys := make([]writeKey, 0, len(writesCopy))
	for k := range writesCopy {
		writeKeys = append(writeKeys, k)
	}
	sort.Slice(writeKeys, func(i, j int) bool {
		if writeKeys[i].Kind != writeKeys[j].Kind {
			return writeKeys[i].Kind < writeKeys[j].Kind
		}
		return writeKeys[i].Outcome < writeKeys[j].Outcome
	})
	sb.WriteString("# TYPE drp_respondent_writes_total counter\n")
	for _, k := range writeKeys {
		sb.WriteString(fmt.Sprintf("drp_respondent_writes_total{kind=\"%s\",outcome=\"%s\"} %d\n", k.Kind, k.Outcome, writesCopy[k]))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE drp_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("drp_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE drp_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("drp_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE drp_db_idle_connections gauge\n")
		sb.WriteString(fmt.Sprintf("drp_db_idle_connections %d\n", dbs.Idle))
		sb.WriteString("# TYPE drp_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("drp_db_wait_count %d\n", dbs.WaitCount))
		sb.WriteString("# TYPE drp_db_wait_duration_ms counter\n")
		sb.WriteString(fmt.Sprintf("drp_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath replaces numeric segments and respondent tokens so paths
// can be used as metric labels without leaking access codes.
func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && parts[i-1] == "r" {
			parts[i] = "{token}"
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractQuestionnaireID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "questionnaires" {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

// respondentWriteKind names the respondent route a request writes through,
// or returns "" for every other request.
func respondentWriteKind(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "r" {
			continue
		}
		rest := parts[i+2:]
		switch {
		case method == http.MethodPut && len(rest) == 1 && rest[0] == "autosave":
			return "autosave"
		case method == http.MethodPost && len(rest) == 1 && rest[0] == "submit":
			return "submit"
		case method == http.MethodPost && len(rest) == 1 && rest[0] == "files":
			return "file_upload"
		case method == http.MethodDelete && len(rest) == 2 && rest[0] == "files":
			return "file_delete"
		}
		return ""
	}
	return ""
}

func writeOutcome(code string, status int) string {
	switch {
	case code != "":
		return code
	case status < http.StatusBadRequest:
		return "ok"
	default:
		return "http_" + strconv.Itoa(status)
	}
}
