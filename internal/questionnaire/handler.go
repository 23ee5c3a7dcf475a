package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"drp/internal/app/apiresp"
	"drp/internal/auth"
	"drp/internal/form"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	svc      questionnaireService
	validate *validator.Validate
}

type questionnaireService interface {
	Create(ctx context.Context, in CreateInput) (*Questionnaire, error)
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id int64) (*Questionnaire, error)
	UpdateMetadata(ctx context.Context, in UpdateMetadataInput) (*Questionnaire, error)
	UpdateDefinition(ctx context.Context, id, actorID int64, def form.Definition) (*Questionnaire, error)
	Archive(ctx context.Context, id, actorID int64) error
	Delete(ctx context.Context, id, actorID int64) error
	Clone(ctx context.Context, id, actorID int64, title string) (*Questionnaire, error)
	Publish(ctx context.Context, id, actorID int64) (*Version, error)
	ListVersions(ctx context.Context, id int64) ([]VersionInfo, error)
	GetVersion(ctx context.Context, id int64, number int) (*Version, error)
	Dashboard(ctx context.Context, id int64) (*Dashboard, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	CreateTemplate(ctx context.Context, in CreateTemplateInput) (*Template, error)
	GetTemplate(ctx context.Context, id int64) (*Template, error)
	UpdateTemplate(ctx context.Context, id int64, in CreateTemplateInput) (*Template, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"max=5000"`
	TemplateID  *int64 `json:"template_id" validate:"omitempty,gt=0"`
}

type updateMetadataRequest struct {
	Title       string         `json:"title" validate:"required,max=255"`
	Description string         `json:"description" validate:"max=5000"`
	Settings    *form.Settings `json:"settings"`
	TemplateID  *int64         `json:"template_id" validate:"omitempty,gt=0"`
}

type cloneRequest struct {
	Title string `json:"title" validate:"max=255"`
}

type templateRequest struct {
	Name   string `json:"name" validate:"required,max=255"`
	CSS    string `json:"css"`
	Layout string `json:"layout"`
}

func NewHandler(svc questionnaireService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "title is required"})
		return
	}

	item, err := h.svc.Create(r.Context(), CreateInput{
		Title:       req.Title,
		Description: req.Description,
		TemplateID:  req.TemplateID,
		CreatedBy:   user.ID,
	})
	if err != nil {
		writeServiceError(w, r, "create", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, "list", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	var req updateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "title is required"})
		return
	}

	item, err := h.svc.UpdateMetadata(r.Context(), UpdateMetadataInput{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Settings:    req.Settings,
		TemplateID:  req.TemplateID,
		ActorID:     user.ID,
	})
	if err != nil {
		writeServiceError(w, r, "update metadata", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	var def form.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid definition document"})
		return
	}

	item, err := h.svc.UpdateDefinition(r.Context(), id, user.ID, def)
	if err != nil {
		writeServiceError(w, r, "update definition", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Archive(r.Context(), id, user.ID); err != nil {
		writeServiceError(w, r, "archive", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": StatusArchived}})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id, user.ID); err != nil {
		writeServiceError(w, r, "delete", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) Clone(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	var req cloneRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "title is too long"})
		return
	}

	item, err := h.svc.Clone(r.Context(), id, user.ID, req.Title)
	if err != nil {
		writeServiceError(w, r, "clone", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Publish(r.Context(), id, user.ID)
	if err != nil {
		writeServiceError(w, r, "publish", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: v})
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListVersions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "list versions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || number <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid version"})
		return
	}
	v, err := h.svc.GetVersion(r.Context(), id, number)
	if err != nil {
		writeServiceError(w, r, "get version", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: v})
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := questionnaireID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Dashboard(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "dashboard", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: d})
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListTemplates(r.Context())
	if err != nil {
		writeServiceError(w, r, "list templates", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	req, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}
	t, err := h.svc.CreateTemplate(r.Context(), CreateTemplateInput{
		Name:      req.Name,
		CSS:       req.CSS,
		Layout:    req.Layout,
		CreatedBy: user.ID,
	})
	if err != nil {
		writeServiceError(w, r, "create template", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: t})
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "templateID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid template id"})
		return
	}
	t, err := h.svc.GetTemplate(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get template", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: t})
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "templateID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid template id"})
		return
	}
	req, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}
	t, err := h.svc.UpdateTemplate(r.Context(), id, CreateTemplateInput{Name: req.Name, CSS: req.CSS, Layout: req.Layout})
	if err != nil {
		writeServiceError(w, r, "update template", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: t})
}

func (h *Handler) decodeTemplate(w http.ResponseWriter, r *http.Request) (templateRequest, bool) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "template name is required"})
		return req, false
	}
	return req, true
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
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuestionnaireNotFound), errors.Is(err, ErrVersionNotFound), errors.Is(err, ErrTemplateNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrArchived):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("questionnaire: %s: %v", op, err)
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
