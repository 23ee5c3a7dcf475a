package submission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"drp/internal/app/apiresp"
	"drp/internal/app/observability"
	"drp/internal/form"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	svc            respondentService
	maxUploadBytes int64
	validate       *validator.Validate
}

type respondentService interface {
	Form(ctx context.Context, token string) (*FormView, error)
	LogAccess(ctx context.Context, token string, entry AccessEntry) error
	GetSubmission(ctx context.Context, token string) (*SubmissionState, error)
	Autosave(ctx context.Context, token string, in WriteInput) (*Submission, error)
	Submit(ctx context.Context, token string, in WriteInput) (*Submission, error)
	AttachFile(ctx context.Context, token, questionID string, up Upload) (*File, error)
	DetachFile(ctx context.Context, token, fileID string) error
	OpenFile(ctx context.Context, token, fileID string) (*File, io.ReadCloser, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type writeRequest struct {
	Answers          form.Answers `json:"answers" validate:"required"`
	ExpectedRevision *int64       `json:"expected_revision" validate:"omitempty,min=0"`
}

type browserInfo struct {
	ScreenWidth  *int   `json:"screenWidth" validate:"omitempty,min=0,max=100000"`
	ScreenHeight *int   `json:"screenHeight" validate:"omitempty,min=0,max=100000"`
	Timezone     string `json:"timezone" validate:"max=100"`
	Platform     string `json:"platform" validate:"max=100"`
	IsMobile     bool   `json:"isMobile"`
}

type accessRequest struct {
	BrowserInfo browserInfo `json:"browserInfo"`
}

func NewHandler(svc respondentService, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxFileBytes
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes, validate: validator.New()}
}

func (h *Handler) Form(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Form(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid browser info"})
		return
	}

	entry := AccessEntry{
		IP:             r.RemoteAddr,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Referer:        r.Referer(),
		ScreenWidth:    req.BrowserInfo.ScreenWidth,
		ScreenHeight:   req.BrowserInfo.ScreenHeight,
		Timezone:       req.BrowserInfo.Timezone,
		Platform:       req.BrowserInfo.Platform,
		IsMobile:       req.BrowserInfo.IsMobile,
	}
	if err := h.svc.LogAccess(r.Context(), chi.URLParam(r, "token"), entry); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{"logged": true}})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetSubmission(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: state})
}

func (h *Handler) Autosave(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeWrite(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Autosave(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sub})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeWrite(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Submit(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sub})
}

func (h *Handler) decodeWrite(w http.ResponseWriter, r *http.Request) (WriteInput, bool) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return WriteInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "answers is required"})
		return WriteInput{}, false
	}
	return WriteInput{Answers: req.Answers, ExpectedRevision: req.ExpectedRevision}, true
}

func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, r, ErrFileTooLarge)
			return
		}
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid multipart form"})
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	questionID := strings.TrimSpace(r.FormValue("question_id"))
	if questionID == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "question_id is required"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "file is required"})
		return
	}
	defer file.Close()

	saved, err := h.svc.AttachFile(r.Context(), chi.URLParam(r, "token"), questionID, Upload{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Body:     file,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: saved})
}

func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	meta, rc, err := h.svc.OpenFile(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.OriginalName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("submission: stream file %s: %v", meta.ID, err)
	}
}

func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DetachFile(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "fileID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{"deleted": true}})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	fail := func(status int, code, message string, details any) {
		observability.SetOutcome(r.Context(), code)
		apiresp.WriteFailure(w, r, status, code, message, details)
	}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		fail(http.StatusUnprocessableEntity, "validation_failed", "some required fields are empty", verr.Errors)
	case errors.Is(err, ErrRespondentNotFound):
		fail(http.StatusNotFound, "not_found", "invalid or expired link", nil)
	case errors.Is(err, ErrLocked):
		fail(http.StatusForbidden, "locked", err.Error(), nil)
	case errors.Is(err, ErrNotYetValid):
		fail(http.StatusForbidden, "not_yet_valid", err.Error(), nil)
	case errors.Is(err, ErrExpired):
		fail(http.StatusForbidden, "expired", err.Error(), nil)
	case errors.Is(err, ErrQuestionnaireClosed):
		fail(http.StatusForbidden, "questionnaire_closed", err.Error(), nil)
	case errors.Is(err, ErrAlreadySubmitted):
		fail(http.StatusConflict, "already_submitted", err.Error(), nil)
	case errors.Is(err, ErrFilesFrozen):
		fail(http.StatusConflict, "files_frozen", err.Error(), nil)
	case errors.Is(err, ErrStaleRevision):
		fail(http.StatusConflict, "stale_revision", err.Error(), nil)
	case errors.Is(err, ErrTooManyFiles):
		fail(http.StatusConflict, "too_many_files", err.Error(), nil)
	case errors.Is(err, ErrNoPublishedVersion):
		fail(http.StatusNotFound, "not_published", err.Error(), nil)
	case errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrFileNotFound):
		fail(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, ErrFileTooLarge):
		fail(http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
	case errors.Is(err, ErrFileTypeNotAllowed):
		fail(http.StatusUnsupportedMediaType, "file_type_not_allowed", err.Error(), nil)
	default:
		observability.SetOutcome(r.Context(), "internal_error")
		log.Printf("submission: %s %s: %v", r.Method, redactedPath(r), err)
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

// redactedPath is the request path with the access token masked.
func redactedPath(r *http.Request) string {
	token := chi.URLParam(r, "token")
	if token == "" {
		return r.URL.Path
	}
	return strings.ReplaceAll(r.URL.Path, token, "{token}")
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
