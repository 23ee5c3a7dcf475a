package respondent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drp/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockRespondentService struct {
	listFn            func(ctx context.Context, questionnaireID int64) ([]Respondent, error)
	createFn          func(ctx context.Context, questionnaireID, actorID int64, in Input) (*Respondent, error)
	importFn          func(ctx context.Context, questionnaireID, actorID int64, rows []Input) ([]Created, error)
	importExcelFn     func(ctx context.Context, questionnaireID, actorID int64, r io.Reader) (*ImportReport, error)
	exportExcelFn     func(ctx context.Context, questionnaireID int64) ([]byte, error)
	updateFn          func(ctx context.Context, questionnaireID, respondentID, actorID int64, in Input) (*Respondent, error)
	bulkFn            func(ctx context.Context, questionnaireID, actorID int64, ids []int64, from, until *time.Time) (int64, error)
	deleteFn          func(ctx context.Context, questionnaireID, respondentID, actorID int64) error
	rotateFn          func(ctx context.Context, questionnaireID, respondentID, actorID int64) (string, error)
	lockFn            func(ctx context.Context, questionnaireID, respondentID, actorID int64) error
	unlockFn          func(ctx context.Context, questionnaireID, respondentID, actorID int64) error
	rebindFn          func(ctx context.Context, questionnaireID, respondentID, actorID int64) (*RebindResult, error)
	detailFn          func(ctx context.Context, questionnaireID, respondentID int64) (*Detail, error)
	sendInvitationsFn func(ctx context.Context, questionnaireID, actorID int64, ids []int64) (*InvitationReport, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockRespondentService) List(ctx context.Context, questionnaireID int64) ([]Respondent, error) {
	if m.listFn == nil {
		return nil, errNotImplemented
	}
	return m.listFn(ctx, questionnaireID)
}

func (m *mockRespondentService) Create(ctx context.Context, questionnaireID, actorID int64, in Input) (*Respondent, error) {
	if m.createFn == nil {
		return nil, errNotImplemented
	}
	return m.createFn(ctx, questionnaireID, actorID, in)
}

func (m *mockRespondentService) Import(ctx context.Context, questionnaireID, actorID int64, rows []Input) ([]Created, error) {
	if m.importFn == nil {
		return nil, errNotImplemented
	}
	return m.importFn(ctx, questionnaireID, actorID, rows)
}

func (m *mockRespondentService) ImportExcel(ctx context.Context, questionnaireID, actorID int64, r io.Reader) (*ImportReport, error) {
	if m.importExcelFn == nil {
		return nil, errNotImplemented
	}
	return m.importExcelFn(ctx, questionnaireID, actorID, r)
}

func (m *mockRespondentService) ExportExcel(ctx context.Context, questionnaireID int64) ([]byte, error) {
	if m.exportExcelFn == nil {
		return nil, errNotImplemented
	}
	return m.exportExcelFn(ctx, questionnaireID)
}

func (m *mockRespondentService) Update(ctx context.Context, questionnaireID, respondentID, actorID int64, in Input) (*Respondent, error) {
	if m.updateFn == nil {
		return nil, errNotImplemented
	}
	return m.updateFn(ctx, questionnaireID, respondentID, actorID, in)
}

func (m *mockRespondentService) BulkUpdateValidity(ctx context.Context, questionnaireID, actorID int64, ids []int64, from, until *time.Time) (int64, error) {
	if m.bulkFn == nil {
		return 0, errNotImplemented
	}
	return m.bulkFn(ctx, questionnaireID, actorID, ids, from, until)
}

func (m *mockRespondentService) Delete(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
	if m.deleteFn == nil {
		return errNotImplemented
	}
	return m.deleteFn(ctx, questionnaireID, respondentID, actorID)
}

func (m *mockRespondentService) RotateToken(ctx context.Context, questionnaireID, respondentID, actorID int64) (string, error) {
	if m.rotateFn == nil {
		return "", errNotImplemented
	}
	return m.rotateFn(ctx, questionnaireID, respondentID, actorID)
}

func (m *mockRespondentService) Lock(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
	if m.lockFn == nil {
		return errNotImplemented
	}
	return m.lockFn(ctx, questionnaireID, respondentID, actorID)
}

func (m *mockRespondentService) Unlock(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
	if m.unlockFn == nil {
		return errNotImplemented
	}
	return m.unlockFn(ctx, questionnaireID, respondentID, actorID)
}

func (m *mockRespondentService) Rebind(ctx context.Context, questionnaireID, respondentID, actorID int64) (*RebindResult, error) {
	if m.rebindFn == nil {
		return nil, errNotImplemented
	}
	return m.rebindFn(ctx, questionnaireID, respondentID, actorID)
}

func (m *mockRespondentService) SubmissionDetail(ctx context.Context, questionnaireID, respondentID int64) (*Detail, error) {
	if m.detailFn == nil {
		return nil, errNotImplemented
	}
	return m.detailFn(ctx, questionnaireID, respondentID)
}

func (m *mockRespondentService) SendInvitations(ctx context.Context, questionnaireID, actorID int64, ids []int64) (*InvitationReport, error) {
	if m.sendInvitationsFn == nil {
		return nil, errNotImplemented
	}
	return m.sendInvitationsFn(ctx, questionnaireID, actorID, ids)
}

func operatorRequest(method, target string, body io.Reader, kv ...string) *http.Request {
	r := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = auth.ContextWithUser(ctx, &auth.User{ID: 5, Role: auth.RoleUser})
	return r.WithContext(ctx)
}

func TestCreateValidatesRequest(t *testing.T) {
	var got Input
	h := NewHandler(&mockRespondentService{
		createFn: func(ctx context.Context, questionnaireID, actorID int64, in Input) (*Respondent, error) {
			got = in
			return &Respondent{ID: 1, QuestionnaireID: questionnaireID, Name: in.Name, Token: "ABCD2345"}, nil
		},
	})

	for _, body := range []string{
		`{"ico":"12345678"}`,
		`{"name":"Acme","ico":"123"}`,
		`{"name":"Acme","email":"nope"}`,
	} {
		w := httptest.NewRecorder()
		h.Create(w, operatorRequest(http.MethodPost, "/api/v1/questionnaires/3/respondents", bytes.NewBufferString(body), "id", "3"))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.Create(w, operatorRequest(http.MethodPost, "/api/v1/questionnaires/3/respondents",
		bytes.NewBufferString(`{"name":"Acme","ico":"12345678","valid_from":"2026-05-01T00:00:00Z"}`), "id", "3"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got.Name != "Acme" || got.ValidFrom == nil || got.ValidFrom.Year() != 2026 {
		t.Fatalf("unexpected input %+v", got)
	}
}

func TestRespondentErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: ErrRespondentNotFound, want: http.StatusNotFound},
		{err: ErrNoSubmission, want: http.StatusNotFound},
		{err: ErrAlreadySubmitted, want: http.StatusConflict},
		{err: ErrNoPublishedVersion, want: http.StatusConflict},
		{err: ErrInvalidInput, want: http.StatusBadRequest},
		{err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		h := NewHandler(&mockRespondentService{
			rebindFn: func(ctx context.Context, questionnaireID, respondentID, actorID int64) (*RebindResult, error) {
				return nil, tc.err
			},
		})
		w := httptest.NewRecorder()
		h.Rebind(w, operatorRequest(http.MethodPost, "/api/v1/questionnaires/3/respondents/8/rebind", nil, "id", "3", "respondentID", "8"))
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestLockAndUnlockRouteToService(t *testing.T) {
	var calls []string
	h := NewHandler(&mockRespondentService{
		lockFn: func(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
			calls = append(calls, "lock")
			return nil
		},
		unlockFn: func(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
			calls = append(calls, "unlock")
			return nil
		},
	})
	w := httptest.NewRecorder()
	h.Lock(w, operatorRequest(http.MethodPost, "/x", nil, "id", "3", "respondentID", "8"))
	w2 := httptest.NewRecorder()
	h.Unlock(w2, operatorRequest(http.MethodPost, "/x", nil, "id", "3", "respondentID", "8"))
	if w.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Fatalf("unexpected codes %d %d", w.Code, w2.Code)
	}
	if strings.Join(calls, ",") != "lock,unlock" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestBulkUpdateValidityRequiresIDs(t *testing.T) {
	var gotIDs []int64
	h := NewHandler(&mockRespondentService{
		bulkFn: func(ctx context.Context, questionnaireID, actorID int64, ids []int64, from, until *time.Time) (int64, error) {
			gotIDs = ids
			return int64(len(ids)), nil
		},
	})

	w := httptest.NewRecorder()
	h.BulkUpdateValidity(w, operatorRequest(http.MethodPut, "/x", bytes.NewBufferString(`{"respondent_ids":[]}`), "id", "3"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.BulkUpdateValidity(w, operatorRequest(http.MethodPut, "/x", bytes.NewBufferString(`{"respondent_ids":[4,5],"valid_until":"2026-06-30T22:00:00Z"}`), "id", "3"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(gotIDs) != 2 || gotIDs[1] != 5 {
		t.Fatalf("unexpected ids %v", gotIDs)
	}
}

func TestImportExcelMultipart(t *testing.T) {
	var gotBody string
	h := NewHandler(&mockRespondentService{
		importExcelFn: func(ctx context.Context, questionnaireID, actorID int64, r io.Reader) (*ImportReport, error) {
			b, _ := io.ReadAll(r)
			gotBody = string(b)
			return &ImportReport{TotalRows: 1, SuccessRows: 1}, nil
		},
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "respondents.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("xlsx-bytes"))
	_ = mw.Close()

	req := operatorRequest(http.MethodPost, "/x", &buf, "id", "3")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ImportExcel(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotBody != "xlsx-bytes" {
		t.Fatalf("service got %q", gotBody)
	}
}

func TestExportExcelHeaders(t *testing.T) {
	h := NewHandler(&mockRespondentService{
		exportExcelFn: func(ctx context.Context, questionnaireID int64) ([]byte, error) { return []byte("PK"), nil },
	})
	w := httptest.NewRecorder()
	h.ExportExcel(w, operatorRequest(http.MethodGet, "/x", nil, "id", "3"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "respondents-3.xlsx") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
}

func TestSendInvitationsWithoutMailer(t *testing.T) {
	h := NewHandler(&mockRespondentService{
		sendInvitationsFn: func(ctx context.Context, questionnaireID, actorID int64, ids []int64) (*InvitationReport, error) {
			return nil, ErrMailerDisabled
		},
	})
	w := httptest.NewRecorder()
	h.SendInvitations(w, operatorRequest(http.MethodPost, "/x", nil, "id", "3"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
