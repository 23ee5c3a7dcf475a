package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"drp/internal/app/apiresp"
	"drp/internal/auth"

	"github.com/go-chi/chi/v5"
)

var contentTypes = map[string]string{
	FormatCSV:    "text/csv; charset=utf-8",
	FormatLong:   "text/csv; charset=utf-8",
	FormatXLSX:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatBundle: "application/zip",
}

type Handler struct {
	svc exportService
}

type exportService interface {
	Export(ctx context.Context, questionnaireID, actorID int64, format string, w io.Writer) (string, error)
	Preview(ctx context.Context, questionnaireID int64) (*Table, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc exportService) *Handler {
	return &Handler{svc: svc}
}

// Download renders ?format=csv|xlsx|bundle|long (csv by default) as an
// attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	qid, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = FormatCSV
	}
	if format == "zip" {
		format = FormatBundle
	}

	var buf bytes.Buffer
	name, err := h.svc.Export(r.Context(), qid, user.ID, format, &buf)
	if err != nil {
		writeServiceError(w, r, "download", err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	qid, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Preview(r.Context(), qid)
	if err != nil {
		writeServiceError(w, r, "preview", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{
		"header":  t.Header,
		"records": t.Records,
	}})
}

func questionnaireID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid questionnaire id"})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrUnknownFormat):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "format must be one of csv, xlsx, bundle, long"})
	case errors.Is(err, ErrQuestionnaireNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("export: %s: %v", op, err)
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
