package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"drp/internal/audit"
	"drp/internal/form"

	"github.com/google/uuid"
)

const defaultMaxFileBytes = 50 << 20

type auditor interface {
	Log(ctx context.Context, e audit.Entry)
}

type ServiceConfig struct {
	Files        FileStore
	Audit        auditor
	MaxFileBytes int64
	Now          func() time.Time
}

type Service struct {
	store        Store
	files        FileStore
	audit        auditor
	maxFileBytes int64
	now          func() time.Time
}

func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:        store,
		files:        cfg.Files,
		audit:        cfg.Audit,
		maxFileBytes: cfg.MaxFileBytes,
		now:          cfg.Now,
	}
}

// HashToken is the lookup key of a respondent link token. Tokens are matched
// case-insensitively.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(token))))
	return hex.EncodeToString(sum[:])
}

type WriteInput struct {
	Answers form.Answers
	// ExpectedRevision rejects the write when the stored submission moved on.
	// Nil means last writer wins.
	ExpectedRevision *int64
}

type RespondentView struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Locked         bool       `json:"locked"`
	ValidityStatus string     `json:"validity_status"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	CanEdit        bool       `json:"can_edit"`
}

// FormView is everything a respondent client needs to render the form.
type FormView struct {
	Respondent        RespondentView         `json:"respondent"`
	QuestionnaireCode string                 `json:"questionnaire_code"`
	Title             string                 `json:"title"`
	Settings          form.Settings          `json:"settings"`
	VersionNumber     int                    `json:"version_number"`
	BoundVersion      *int                   `json:"bound_version,omitempty"`
	LatestVersion     int                    `json:"latest_version"`
	VersionMismatch   bool                   `json:"version_mismatch"`
	UnknownAnswerKeys []string               `json:"unknown_answer_keys"`
	Definition        form.Definition        `json:"definition"`
	TemplateCSS       string                 `json:"template_css"`
	TemplateLayout    string                 `json:"template_layout"`
	Submission        *Submission            `json:"submission,omitempty"`
	Files             []File                 `json:"files"`
	Visible           []form.VisibleQuestion `json:"visible_questions"`
	Decision          form.Decision          `json:"decision"`
}

type SubmissionState struct {
	Submission     *Submission `json:"submission"`
	Files          []File      `json:"files"`
	ValidityStatus string      `json:"validity_status"`
	CanEdit        bool        `json:"can_edit"`
}

type session struct {
	respondent    *Respondent
	questionnaire *Questionnaire
	submission    *Submission
	version       *Version
	latest        *Version
}

func (s *Service) withTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// open resolves the token and loads the version the respondent works
// against: the bound one when a submission exists, else the latest.
func (s *Service) open(ctx context.Context, tx Tx, token string) (*session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrRespondentNotFound
	}
	r, err := tx.RespondentByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	q, err := tx.Questionnaire(ctx, r.QuestionnaireID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrRespondentNotFound
	}
	sub, err := tx.Submission(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	latest, err := tx.LatestVersion(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	sess := &session{respondent: r, questionnaire: q, submission: sub, latest: latest, version: latest}
	if sub != nil && sub.VersionID != nil {
		bound, err := tx.Version(ctx, *sub.VersionID)
		if err != nil {
			return nil, err
		}
		if bound != nil {
			sess.version = bound
		}
	}
	return sess, nil
}

func (s *Service) Form(ctx context.Context, token string) (*FormView, error) {
	now := s.now()
	var out *FormView
	err := s.withTx(ctx, func(tx Tx) error {
		sess, err := s.open(ctx, tx, token)
		if err != nil {
			return err
		}
		if sess.version == nil {
			return ErrNoPublishedVersion
		}
		files, err := tx.Files(ctx, sess.respondent.ID)
		if err != nil {
			return err
		}

		r := sess.respondent
		q := sess.questionnaire
		answers := form.Answers{}
		if sess.submission != nil && sess.submission.Answers != nil {
			answers = sess.submission.Answers
		}
		def := sess.version.Definition
		decision := form.Evaluate(def.Logic, answers)

		view := &FormView{
			Respondent: RespondentView{
				Name:           r.Name,
				Status:         r.Status,
				Locked:         r.Locked,
				ValidityStatus: Validity(*r, now),
				ValidFrom:      r.ValidFrom,
				ValidUntil:     r.ValidUntil,
				CanEdit:        q.Status != "archived" && CanEdit(*r, sess.submission, q.Settings.AllowResubmit, now),
			},
			QuestionnaireCode: q.Code,
			Title:             q.Title,
			Settings:          q.Settings,
			VersionNumber:     sess.version.Number,
			UnknownAnswerKeys: form.UnknownAnswerKeys(def, answers),
			Definition:        def,
			TemplateCSS:       sess.version.TemplateCSS,
			TemplateLayout:    sess.version.TemplateLayout,
			Submission:        sess.submission,
			Files:             files,
			Visible:           form.VisibleQuestions(def, answers),
			Decision:          decision,
		}
		if sess.latest != nil {
			view.LatestVersion = sess.latest.Number
		}
		if sess.submission != nil && sess.submission.VersionID != nil {
			n := sess.version.Number
			view.BoundVersion = &n
			view.VersionMismatch = sess.latest != nil && sess.latest.Number != n
		}
		out = view
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LogAccess records a visit and stamps the first access once.
func (s *Service) LogAccess(ctx context.Context, token string, entry AccessEntry) error {
	now := s.now()
	return s.withTx(ctx, func(tx Tx) error {
		r, err := tx.RespondentByTokenHash(ctx, HashToken(token))
		if err != nil {
			return err
		}
		if r.FirstAccessedAt == nil {
			if err := tx.StampFirstAccess(ctx, r.ID, now); err != nil {
				return err
			}
		}
		entry.RespondentID = r.ID
		return tx.InsertAccess(ctx, entry)
	})
}

func (s *Service) GetSubmission(ctx context.Context, token string) (*SubmissionState, error) {
	now := s.now()
	var out *SubmissionState
	err := s.withTx(ctx, func(tx Tx) error {
		sess, err := s.open(ctx, tx, token)
		if err != nil {
			return err
		}
		files, err := tx.Files(ctx, sess.respondent.ID)
		if err != nil {
			return err
		}
		out = &SubmissionState{
			Submission:     sess.submission,
			Files:          files,
			ValidityStatus: Validity(*sess.respondent, now),
			CanEdit:        sess.questionnaire.Status != "archived" && CanEdit(*sess.respondent, sess.submission, sess.questionnaire.Settings.AllowResubmit, now),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Autosave stores partial answers without validation.
func (s *Service) Autosave(ctx context.Context, token string, in WriteInput) (*Submission, error) {
	return s.write(ctx, token, in, writeAutosave)
}

// Submit validates the answers against the bound version and finalizes the
// submission.
func (s *Service) Submit(ctx context.Context, token string, in WriteInput) (*Submission, error) {
	return s.write(ctx, token, in, writeSubmit)
}

func (s *Service) write(ctx context.Context, token string, in WriteInput, kind writeKind) (*Submission, error) {
	now := s.now()
	var (
		saved *Submission
		sess  *session
	)
	err := s.withTx(ctx, func(tx Tx) error {
		var err error
		sess, err = s.open(ctx, tx, token)
		if err != nil {
			return err
		}
		r := sess.respondent
		if sess.questionnaire.Status == "archived" {
			return ErrQuestionnaireClosed
		}

		plan, err := planWrite(*r, sess.submission, kind, sess.questionnaire.Settings.AllowResubmit, in.ExpectedRevision, now)
		if err != nil {
			return err
		}
		if sess.version == nil {
			return ErrNoPublishedVersion
		}
		def := sess.version.Definition
		answers := in.Answers
		if answers == nil {
			answers = form.Answers{}
		}

		if kind == writeSubmit {
			files, err := tx.Files(ctx, r.ID)
			if err != nil {
				return err
			}
			res := form.ValidateAnswers(def, form.WithFiles(def, answers, namesByQuestion(files)))
			if !res.Valid {
				return &ValidationError{Errors: res.Errors}
			}
		}

		sub := sess.submission
		if plan.create {
			versionID := sess.version.ID
			sub = &Submission{RespondentID: r.ID, VersionID: &versionID}
		}
		sub.Answers = answers
		sub.Status = plan.submissionStatus
		if plan.stampSubmittedAt {
			at := now
			sub.SubmittedAt = &at
		}
		if err := tx.SaveSubmission(ctx, sub); err != nil {
			return err
		}
		if r.Status != plan.respondentStatus {
			if err := tx.SetRespondentStatus(ctx, r.ID, plan.respondentStatus); err != nil {
				return err
			}
		}
		if err := tx.UpsertProjection(ctx, r.ID, form.Project(def, answers)); err != nil {
			return err
		}
		saved = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if kind == writeSubmit {
		s.logAudit(ctx, sess, "submission_submitted", map[string]any{
			"submission_id":  saved.ID,
			"version_number": sess.version.Number,
			"revision":       saved.Revision,
		})
	}
	return saved, nil
}

func (s *Service) AttachFile(ctx context.Context, token, questionID string, up Upload) (*File, error) {
	if s.files == nil {
		return nil, fmt.Errorf("attach file: no file store configured")
	}
	if !MimeAllowed(up.MimeType) {
		return nil, ErrFileTypeNotAllowed
	}
	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = "file"
	}

	now := s.now()
	var (
		stored string
		out    *File
		sess   *session
	)
	err := s.withTx(ctx, func(tx Tx) error {
		var err error
		sess, err = s.open(ctx, tx, token)
		if err != nil {
			return err
		}
		r := sess.respondent
		if sess.questionnaire.Status == "archived" {
			return ErrQuestionnaireClosed
		}
		if err := checkAttach(*r, sess.submission, now); err != nil {
			return err
		}
		if sess.version == nil {
			return ErrNoPublishedVersion
		}
		lq, ok := sess.version.Definition.Question(questionID)
		if !ok || lq.Type != form.TypeFile {
			return ErrQuestionNotFound
		}

		files, err := tx.Files(ctx, r.ID)
		if err != nil {
			return err
		}
		names := namesByQuestion(files)[questionID]
		if lq.MaxFiles > 0 && len(names) >= lq.MaxFiles {
			return ErrTooManyFiles
		}

		sub := sess.submission
		if sub == nil {
			versionID := sess.version.ID
			sub = &Submission{RespondentID: r.ID, VersionID: &versionID, Status: SubmissionDraft, Answers: form.Answers{}}
			if err := tx.SaveSubmission(ctx, sub); err != nil {
				return err
			}
		}
		if r.Status == StatusInvited {
			if err := tx.SetRespondentStatus(ctx, r.ID, StatusInProgress); err != nil {
				return err
			}
		}

		storedName, size, err := s.files.Save(ctx, name, up.Body, s.maxFileBytes)
		if err != nil {
			return err
		}
		stored = storedName

		f := &File{
			ID:           uuid.NewString(),
			RespondentID: r.ID,
			SubmissionID: sub.ID,
			QuestionID:   questionID,
			OriginalName: name,
			StoredName:   storedName,
			MimeType:     up.MimeType,
			Size:         size,
			CreatedAt:    now,
		}
		if err := tx.InsertFile(ctx, f); err != nil {
			return err
		}
		names = append(names, name)
		if err := tx.UpsertProjection(ctx, r.ID, []form.Pair{{
			QuestionID: questionID,
			Variable:   lq.VariableName(),
			Value:      form.FileValue(names),
		}}); err != nil {
			return err
		}
		out = f
		return nil
	})
	if err != nil {
		if stored != "" {
			if rmErr := s.files.Remove(ctx, stored); rmErr != nil {
				log.Printf("submission: cleanup stored file %s: %v", stored, rmErr)
			}
		}
		return nil, err
	}

	s.logAudit(ctx, sess, "file_uploaded", map[string]any{
		"file_id":     out.ID,
		"question_id": questionID,
		"name":        out.OriginalName,
		"size":        out.Size,
	})
	return out, nil
}

func (s *Service) DetachFile(ctx context.Context, token, fileID string) error {
	now := s.now()
	var (
		removed *File
		sess    *session
	)
	err := s.withTx(ctx, func(tx Tx) error {
		var err error
		sess, err = s.open(ctx, tx, token)
		if err != nil {
			return err
		}
		r := sess.respondent
		if sess.questionnaire.Status == "archived" {
			return ErrQuestionnaireClosed
		}
		if err := checkAttach(*r, sess.submission, now); err != nil {
			return err
		}

		files, err := tx.Files(ctx, r.ID)
		if err != nil {
			return err
		}
		remaining := make([]File, 0, len(files))
		for i := range files {
			if files[i].ID == fileID {
				f := files[i]
				removed = &f
				continue
			}
			remaining = append(remaining, files[i])
		}
		if removed == nil {
			return ErrFileNotFound
		}
		if err := tx.DeleteFile(ctx, r.ID, fileID); err != nil {
			return err
		}

		variable := removed.QuestionID
		if sess.version != nil {
			if lq, ok := sess.version.Definition.Question(removed.QuestionID); ok {
				variable = lq.VariableName()
			}
		}
		return tx.UpsertProjection(ctx, r.ID, []form.Pair{{
			QuestionID: removed.QuestionID,
			Variable:   variable,
			Value:      form.FileValue(namesByQuestion(remaining)[removed.QuestionID]),
		}})
	})
	if err != nil {
		return err
	}

	if s.files != nil {
		if err := s.files.Remove(ctx, removed.StoredName); err != nil {
			log.Printf("submission: remove stored file %s: %v", removed.StoredName, err)
		}
	}
	s.logAudit(ctx, sess, "file_deleted", map[string]any{
		"file_id":     removed.ID,
		"question_id": removed.QuestionID,
	})
	return nil
}

// OpenFile returns a respondent's own file. The caller closes the reader.
func (s *Service) OpenFile(ctx context.Context, token, fileID string) (*File, io.ReadCloser, error) {
	if s.files == nil {
		return nil, nil, ErrFileNotFound
	}
	var found *File
	err := s.withTx(ctx, func(tx Tx) error {
		r, err := tx.RespondentByTokenHash(ctx, HashToken(token))
		if err != nil {
			return err
		}
		files, err := tx.Files(ctx, r.ID)
		if err != nil {
			return err
		}
		for i := range files {
			if files[i].ID == fileID {
				f := files[i]
				found = &f
				return nil
			}
		}
		return ErrFileNotFound
	})
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.files.Open(ctx, found.StoredName)
	if err != nil {
		return nil, nil, err
	}
	return found, rc, nil
}

func (s *Service) logAudit(ctx context.Context, sess *session, action string, details map[string]any) {
	if s.audit == nil || sess == nil {
		return
	}
	s.audit.Log(ctx, audit.Entry{
		QuestionnaireID: sess.questionnaire.ID,
		ActorType:       audit.ActorRespondent,
		ActorID:         sess.respondent.ID,
		Action:          action,
		EntityType:      "respondent",
		EntityID:        strconv.FormatInt(sess.respondent.ID, 10),
		Details:         details,
	})
}

func namesByQuestion(files []File) map[string][]string {
	out := make(map[string][]string)
	for _, f := range files {
		out[f.QuestionID] = append(out[f.QuestionID], f.OriginalName)
	}
	return out
}
