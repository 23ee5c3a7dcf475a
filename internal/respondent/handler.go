package respondent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"drp/internal/app/apiresp"
	"drp/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxImportBytes = 16 << 20

type Handler struct {
	svc      respondentService
	validate *validator.Validate
}

type respondentService interface {
	List(ctx context.Context, questionnaireID int64) ([]Respondent, error)
	Create(ctx context.Context, questionnaireID, actorID int64, in Input) (*Respondent, error)
	Import(ctx context.Context, questionnaireID, actorID int64, rows []Input) ([]Created, error)
	ImportExcel(ctx context.Context, questionnaireID, actorID int64, r io.Reader) (*ImportReport, error)
	ExportExcel(ctx context.Context, questionnaireID int64) ([]byte, error)
	Update(ctx context.Context, questionnaireID, respondentID, actorID int64, in Input) (*Respondent, error)
	BulkUpdateValidity(ctx context.Context, questionnaireID, actorID int64, ids []int64, from, until *time.Time) (int64, error)
	Delete(ctx context.Context, questionnaireID, respondentID, actorID int64) error
	RotateToken(ctx context.Context, questionnaireID, respondentID, actorID int64) (string, error)
	Lock(ctx context.Context, questionnaireID, respondentID, actorID int64) error
	Unlock(ctx context.Context, questionnaireID, respondentID, actorID int64) error
	Rebind(ctx context.Context, questionnaireID, respondentID, actorID int64) (*RebindResult, error)
	SubmissionDetail(ctx context.Context, questionnaireID, respondentID int64) (*Detail, error)
	SendInvitations(ctx context.Context, questionnaireID, actorID int64, ids []int64) (*InvitationReport, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type respondentRequest struct {
	Name         string     `json:"name" validate:"required,max=255"`
	ICO          string     `json:"ico" validate:"omitempty,len=8,numeric"`
	Email        string     `json:"email" validate:"omitempty,email,max=255"`
	InternalNote string     `json:"internal_note" validate:"max=2000"`
	ValidFrom    *time.Time `json:"valid_from"`
	ValidUntil   *time.Time `json:"valid_until"`
}

func (r respondentRequest) input() Input {
	return Input{
		Name:         r.Name,
		ICO:          r.ICO,
		Email:        r.Email,
		InternalNote: r.InternalNote,
		ValidFrom:    r.ValidFrom,
		ValidUntil:   r.ValidUntil,
	}
}

type importRequest struct {
	Respondents []Input `json:"respondents" validate:"required,min=1,max=5000"`
}

type bulkValidityRequest struct {
	RespondentIDs []int64    `json:"respondent_ids" validate:"required,min=1,dive,gt=0"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
}

type invitationsRequest struct {
	RespondentIDs []int64 `json:"respondent_ids" validate:"dive,gt=0"`
}

func NewHandler(svc respondentService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	qid, ok := pathID(w, r, "id", "invalid questionnaire id")
	if !ok {
		return
	}
	items, err := h.svc.List(r.Context(), qid)
	if err != nil {
		writeServiceError(w, r, "list", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRespondent(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Create(r.Context(), qid, user.ID, req.input())
	if err != nil {
		writeServiceError(w, r, "create", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "respondents array is required"})
		return
	}
	created, err := h.svc.Import(r.Context(), qid, user.ID, req.Respondents)
	if err != nil {
		writeServiceError(w, r, "import", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: map[string]any{"imported": created}})
}

func (h *Handler) ImportExcel(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportExcel(r.Context(), qid, user.ID, file)
	if err != nil {
		writeServiceError(w, r, "import excel", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}

func (h *Handler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	qid, ok := pathID(w, r, "id", "invalid questionnaire id")
	if !ok {
		return
	}
	b, err := h.svc.ExportExcel(r.Context(), qid)
	if err != nil {
		writeServiceError(w, r, "export excel", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="respondents-%d.xlsx"`, qid))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "respondentID", "invalid respondent id")
	if !ok {
		return
	}
	req, ok := h.decodeRespondent(w, r)
	if !ok {
		return
	}
	item, err := h.svc.Update(r.Context(), qid, rid, user.ID, req.input())
	if err != nil {
		writeServiceError(w, r, "update", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) BulkUpdateValidity(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	var req bulkValidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "respondent_ids are required"})
		return
	}
	n, err := h.svc.BulkUpdateValidity(r.Context(), qid, user.ID, req.RespondentIDs, req.ValidFrom, req.ValidUntil)
	if err != nil {
		writeServiceError(w, r, "bulk update", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]int64{"updated": n}})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "respondentID", "invalid respondent id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), qid, rid, user.ID); err != nil {
		writeServiceError(w, r, "delete", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) RotateToken(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "respondentID", "invalid respondent id")
	if !ok {
		return
	}
	token, err := h.svc.RotateToken(r.Context(), qid, rid, user.ID)
	if err != nil {
		writeServiceError(w, r, "rotate token", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"token": token}})
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

func (h *Handler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "respondentID", "invalid respondent id")
	if !ok {
		return
	}
	var err error
	if locked {
		err = h.svc.Lock(r.Context(), qid, rid, user.ID)
	} else {
		err = h.svc.Unlock(r.Context(), qid, rid, user.ID)
	}
	if err != nil {
		writeServiceError(w, r, "set locked", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]bool{"locked": locked}})
}

func (h *Handler) Rebind(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "respondentID", "invalid respondent id")
	if !ok {
		return
	}
	res, err := h.svc.Rebind(r.Context(), qid, rid, user.ID)
	if err != nil {
		writeServiceError(w, r, "rebind", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: res})
}

func (h *Handler) SubmissionDetail(w http.ResponseWriter, r *http.Request) {
	qid, ok := pathID(w, r, "id", "invalid questionnaire id")
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "respondentID", "invalid respondent id")
	if !ok {
		return
	}
	d, err := h.svc.SubmissionDetail(r.Context(), qid, rid)
	if err != nil {
		writeServiceError(w, r, "submission detail", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: d})
}

func (h *Handler) SendInvitations(w http.ResponseWriter, r *http.Request) {
	user, qid, ok := operatorAndQuestionnaire(w, r)
	if !ok {
		return
	}
	var req invitationsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "respondent_ids must be positive"})
		return
	}
	report, err := h.svc.SendInvitations(r.Context(), qid, user.ID, req.RespondentIDs)
	if err != nil {
		writeServiceError(w, r, "send invitations", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func (h *Handler) decodeRespondent(w http.ResponseWriter, r *http.Request) (respondentRequest, bool) {
	var req respondentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "name is required; ico must have 8 digits; email must be valid"})
		return req, false
	}
	return req, true
}

func operatorAndQuestionnaire(w http.ResponseWriter, r *http.Request) (*auth.User, int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return nil, 0, false
	}
	qid, ok := pathID(w, r, "id", "invalid questionnaire id")
	if !ok {
		return nil, 0, false
	}
	return user, qid, true
}

func pathID(w http.ResponseWriter, r *http.Request, key, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: msg})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrRespondentNotFound), errors.Is(err, ErrQuestionnaireNotFound), errors.Is(err, ErrNoSubmission):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrNoPublishedVersion):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrMailerDisabled):
		writeJSON(w, r, http.StatusServiceUnavailable, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("respondent: %s: %v", op, err)
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
