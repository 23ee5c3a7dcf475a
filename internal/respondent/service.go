package respondent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"drp/internal/audit"
	"drp/internal/form"
	"drp/internal/submission"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrRespondentNotFound    = errors.New("respondent not found")
	ErrQuestionnaireNotFound = errors.New("questionnaire not found")
	ErrNoSubmission          = errors.New("respondent has no submission")
	ErrAlreadySubmitted      = errors.New("submission is already submitted")
	ErrNoPublishedVersion    = errors.New("questionnaire has no published version")
	ErrMailerDisabled        = errors.New("invitation mail is not configured")
)

var icoPattern = regexp.MustCompile(`^\d{8}$`)

type auditLog interface {
	Log(ctx context.Context, e audit.Entry)
}

type fileRemover interface {
	Remove(ctx context.Context, storedName string) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Service struct {
	db       *sql.DB
	audit    auditLog
	files    fileRemover
	mailer   InvitationMailer
	baseURL  string
	validate *validator.Validate
	now      func() time.Time
}

type ServiceConfig struct {
	Audit  auditLog
	Files  fileRemover
	Mailer InvitationMailer
	// PublicBaseURL prefixes respondent links in invitation mail.
	PublicBaseURL string
}

type Respondent struct {
	ID               int64      `json:"id"`
	QuestionnaireID  int64      `json:"questionnaire_id"`
	Name             string     `json:"name"`
	ICO              string     `json:"ico"`
	Email            string     `json:"email"`
	InternalNote     string     `json:"internal_note"`
	Token            string     `json:"token"`
	Status           string     `json:"status"`
	Locked           bool       `json:"locked"`
	Validity         string     `json:"validity"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	FirstAccessedAt  *time.Time `json:"first_accessed_at,omitempty"`
	SubmissionStatus *string    `json:"submission_status,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	VersionNumber    *int       `json:"version_number,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Input struct {
	Name         string     `json:"name"`
	ICO          string     `json:"ico"`
	Email        string     `json:"email"`
	InternalNote string     `json:"internal_note"`
	ValidFrom    *time.Time `json:"valid_from"`
	ValidUntil   *time.Time `json:"valid_until"`
}

type Created struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type SubmissionDetail struct {
	ID            int64             `json:"id"`
	Status        string            `json:"status"`
	Answers       form.Answers      `json:"answers"`
	Revision      int64             `json:"revision"`
	VersionNumber *int              `json:"version_number,omitempty"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Files         []submission.File `json:"files"`
}

type Detail struct {
	Respondent Respondent        `json:"respondent"`
	Submission *SubmissionDetail `json:"submission"`
}

type RebindResult struct {
	RespondentID  int64 `json:"respondent_id"`
	FromVersion   *int  `json:"from_version,omitempty"`
	VersionNumber int   `json:"version_number"`
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	return &Service{
		db:       db,
		audit:    cfg.Audit,
		files:    cfg.Files,
		mailer:   cfg.Mailer,
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Service) removeFiles(ctx context.Context, stored []string) {
	if s.files == nil {
		return
	}
	for _, name := range stored {
		if err := s.files.Remove(ctx, name); err != nil {
			log.Printf("respondent: remove stored file %s: %v", name, err)
		}
	}
}

func (s *Service) normalize(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ICO = strings.TrimSpace(in.ICO)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.InternalNote = strings.TrimSpace(in.InternalNote)

	if in.Name == "" {
		return in, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len([]rune(in.Name)) > 255 {
		return in, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	if in.Email != "" {
		if err := s.validate.Var(in.Email, "email"); err != nil {
			return in, fmt.Errorf("%w: invalid email %q", ErrInvalidInput, in.Email)
		}
	}
	if in.ICO != "" && !icoPattern.MatchString(in.ICO) {
		return in, fmt.Errorf("%w: ico must have 8 digits", ErrInvalidInput)
	}
	if err := checkWindow(in.ValidFrom, in.ValidUntil); err != nil {
		return in, err
	}
	return in, nil
}

func checkWindow(from, until *time.Time) error {
	if from != nil && until != nil && from.After(*until) {
		return fmt.Errorf("%w: valid_from must not be after valid_until", ErrInvalidInput)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, questionnaireID, actorID int64, in Input) (*Respondent, error) {
	if questionnaireID <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	created, err := insertRespondent(ctx, s.db, questionnaireID, in)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, questionnaireID, actorID, "respondent_created", created.ID, map[string]any{"name": in.Name})
	return s.Get(ctx, questionnaireID, created.ID)
}

// Import inserts all rows in one transaction. Rows without a name are
// skipped; any other invalid row aborts the import.
func (s *Service) Import(ctx context.Context, questionnaireID, actorID int64, rows []Input) ([]Created, error) {
	if questionnaireID <= 0 || len(rows) == 0 {
		return nil, fmt.Errorf("%w: respondents are required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]Created, 0, len(rows))
	for i, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			continue
		}
		row, err := s.normalize(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		created, err := insertRespondent(ctx, tx, questionnaireID, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, *created)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}

	s.logAudit(ctx, questionnaireID, actorID, "respondents_imported", 0, map[string]any{"count": len(out)})
	return out, nil
}

// insertRespondent draws tokens until one is free. ON CONFLICT keeps the
// surrounding transaction usable after a collision.
func insertRespondent(ctx context.Context, q queryer, questionnaireID int64, in Input) (*Created, error) {
	for attempt := 0; attempt < 5; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, err
		}
		var id int64
		err = q.QueryRowContext(ctx, `
			INSERT INTO respondents (questionnaire_id, name, ico, email, internal_note, token, token_hash, valid_from, valid_until, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (token_hash) DO NOTHING
			RETURNING id
		`, questionnaireID, in.Name, in.ICO, in.Email, in.InternalNote, token, submission.HashToken(token),
			nullTime(in.ValidFrom), nullTime(in.ValidUntil)).Scan(&id)
		if err == nil {
			return &Created{ID: id, Name: in.Name, Token: token}, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if isForeignKeyViolation(err) {
			return nil, ErrQuestionnaireNotFound
		}
		return nil, fmt.Errorf("insert respondent: %w", err)
	}
	return nil, errors.New("could not allocate a unique token")
}

const respondentColumns = `
	r.id, r.questionnaire_id, r.name, r.ico, r.email, r.internal_note, r.token, r.status, r.locked,
	r.valid_from, r.valid_until, r.first_accessed_at, r.created_at, r.updated_at,
	s.status, s.submitted_at, v.version_number`

const respondentJoins = `
	FROM respondents r
	LEFT JOIN submissions s ON s.respondent_id = r.id
	LEFT JOIN questionnaire_versions v ON v.id = s.questionnaire_version_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Service) scanRespondent(row rowScanner) (*Respondent, error) {
	var (
		r           Respondent
		validFrom   sql.NullTime
		validUntil  sql.NullTime
		firstAccess sql.NullTime
		subStatus   sql.NullString
		submittedAt sql.NullTime
		version     sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.QuestionnaireID, &r.Name, &r.ICO, &r.Email, &r.InternalNote, &r.Token, &r.Status, &r.Locked,
		&validFrom, &validUntil, &firstAccess, &r.CreatedAt, &r.UpdatedAt,
		&subStatus, &submittedAt, &version); err != nil {
		return nil, err
	}
	r.ValidFrom = timePtr(validFrom)
	r.ValidUntil = timePtr(validUntil)
	r.FirstAccessedAt = timePtr(firstAccess)
	r.SubmittedAt = timePtr(submittedAt)
	if subStatus.Valid {
		v := subStatus.String
		r.SubmissionStatus = &v
	}
	if version.Valid {
		n := int(version.Int64)
		r.VersionNumber = &n
	}
	r.Validity = submission.Validity(submission.Respondent{ValidFrom: r.ValidFrom, ValidUntil: r.ValidUntil}, s.now())
	return &r, nil
}

func (s *Service) List(ctx context.Context, questionnaireID int64) ([]Respondent, error) {
	if questionnaireID <= 0 {
		return nil, ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+respondentColumns+respondentJoins+`
		WHERE r.questionnaire_id = $1
		ORDER BY r.created_at DESC, r.id DESC
	`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("list respondents: %w", err)
	}
	defer rows.Close()

	out := make([]Respondent, 0)
	for rows.Next() {
		r, err := s.scanRespondent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan respondent: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate respondents: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, questionnaireID, respondentID int64) (*Respondent, error) {
	if respondentID <= 0 {
		return nil, ErrInvalidInput
	}
	r, err := s.scanRespondent(s.db.QueryRowContext(ctx, `SELECT `+respondentColumns+respondentJoins+`
		WHERE r.id = $1 AND r.questionnaire_id = $2
	`, respondentID, questionnaireID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRespondentNotFound
		}
		return nil, fmt.Errorf("load respondent: %w", err)
	}
	return r, nil
}

func (s *Service) Update(ctx context.Context, questionnaireID, respondentID, actorID int64, in Input) (*Respondent, error) {
	if respondentID <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE respondents
		SET name = $3,
			ico = $4,
			email = $5,
			internal_note = $6,
			valid_from = $7,
			valid_until = $8,
			updated_at = now()
		WHERE id = $1 AND questionnaire_id = $2
	`, respondentID, questionnaireID, in.Name, in.ICO, in.Email, in.InternalNote, nullTime(in.ValidFrom), nullTime(in.ValidUntil))
	if err != nil {
		return nil, fmt.Errorf("update respondent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRespondentNotFound
	}
	s.logAudit(ctx, questionnaireID, actorID, "respondent_updated", respondentID, map[string]any{"name": in.Name})
	return s.Get(ctx, questionnaireID, respondentID)
}

// BulkUpdateValidity sets the same window on several respondents of one
// questionnaire and returns how many rows changed.
func (s *Service) BulkUpdateValidity(ctx context.Context, questionnaireID, actorID int64, ids []int64, from, until *time.Time) (int64, error) {
	if questionnaireID <= 0 || len(ids) == 0 {
		return 0, fmt.Errorf("%w: respondent ids are required", ErrInvalidInput)
	}
	if err := checkWindow(from, until); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE respondents
		SET valid_from = $3,
			valid_until = $4,
			updated_at = now()
		WHERE questionnaire_id = $1 AND id = ANY($2)
	`, questionnaireID, ids, nullTime(from), nullTime(until))
	if err != nil {
		return 0, fmt.Errorf("bulk update respondents: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logAudit(ctx, questionnaireID, actorID, "respondents_bulk_updated", 0, map[string]any{"count": n})
	return n, nil
}

// Delete removes the respondent with its submission, projection rows and
// files. Stored files are removed after the rows are gone.
func (s *Service) Delete(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
	if respondentID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	err = tx.QueryRowContext(ctx, `
		SELECT name FROM respondents WHERE id = $1 AND questionnaire_id = $2 FOR UPDATE
	`, respondentID, questionnaireID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRespondentNotFound
		}
		return fmt.Errorf("lock respondent: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT stored_name FROM file_uploads WHERE respondent_id = $1`, respondentID)
	if err != nil {
		return fmt.Errorf("query stored files: %w", err)
	}
	stored := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return fmt.Errorf("scan stored file: %w", err)
		}
		stored = append(stored, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate stored files: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM respondents WHERE id = $1`, respondentID); err != nil {
		return fmt.Errorf("delete respondent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.removeFiles(ctx, stored)
	s.logAudit(ctx, questionnaireID, actorID, "respondent_deleted", respondentID, map[string]any{"name": name, "files": len(stored)})
	return nil
}

// RotateToken replaces the link token. The old link stops working at once.
func (s *Service) RotateToken(ctx context.Context, questionnaireID, respondentID, actorID int64) (string, error) {
	if respondentID <= 0 {
		return "", ErrInvalidInput
	}
	for attempt := 0; attempt < 5; attempt++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE respondents
			SET token = $3, token_hash = $4, updated_at = now()
			WHERE id = $1 AND questionnaire_id = $2
		`, respondentID, questionnaireID, token, submission.HashToken(token))
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return "", fmt.Errorf("rotate token: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", ErrRespondentNotFound
		}
		s.logAudit(ctx, questionnaireID, actorID, "token_rotated", respondentID, nil)
		return token, nil
	}
	return "", errors.New("could not allocate a unique token")
}

func (s *Service) Lock(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
	return s.setLocked(ctx, questionnaireID, respondentID, actorID, true)
}

func (s *Service) Unlock(ctx context.Context, questionnaireID, respondentID, actorID int64) error {
	return s.setLocked(ctx, questionnaireID, respondentID, actorID, false)
}

func (s *Service) setLocked(ctx context.Context, questionnaireID, respondentID, actorID int64, locked bool) error {
	if respondentID <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE respondents
		SET locked = $3, updated_at = now()
		WHERE id = $1 AND questionnaire_id = $2
	`, respondentID, questionnaireID, locked)
	if err != nil {
		return fmt.Errorf("set locked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRespondentNotFound
	}
	action := "respondent_unlocked"
	if locked {
		action = "respondent_locked"
	}
	s.logAudit(ctx, questionnaireID, actorID, action, respondentID, nil)
	return nil
}

// Rebind moves a draft submission to the latest published version. Answer
// keys that the new version does not know are kept but no longer rendered.
func (s *Service) Rebind(ctx context.Context, questionnaireID, respondentID, actorID int64) (*RebindResult, error) {
	if respondentID <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		subID       int64
		status      string
		fromVersion sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, s.status, v.version_number
		FROM respondents r
		JOIN submissions s ON s.respondent_id = r.id
		LEFT JOIN questionnaire_versions v ON v.id = s.questionnaire_version_id
		WHERE r.id = $1 AND r.questionnaire_id = $2
		FOR UPDATE OF s
	`, respondentID, questionnaireID).Scan(&subID, &status, &fromVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, gerr := s.Get(ctx, questionnaireID, respondentID); gerr != nil {
				return nil, gerr
			}
			return nil, ErrNoSubmission
		}
		return nil, fmt.Errorf("lock submission: %w", err)
	}
	if status == submission.SubmissionSubmitted {
		return nil, ErrAlreadySubmitted
	}

	var (
		versionID int64
		number    int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, version_number
		FROM questionnaire_versions
		WHERE questionnaire_id = $1
		ORDER BY version_number DESC
		LIMIT 1
	`, questionnaireID).Scan(&versionID, &number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoPublishedVersion
		}
		return nil, fmt.Errorf("load latest version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE submissions
		SET questionnaire_version_id = $2, updated_at = now()
		WHERE id = $1
	`, subID, versionID); err != nil {
		return nil, fmt.Errorf("rebind submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rebind: %w", err)
	}

	out := &RebindResult{RespondentID: respondentID, VersionNumber: number}
	if fromVersion.Valid {
		n := int(fromVersion.Int64)
		out.FromVersion = &n
	}
	s.logAudit(ctx, questionnaireID, actorID, "submission_rebound", respondentID, map[string]any{
		"from_version": out.FromVersion,
		"to_version":   number,
	})
	return out, nil
}

func (s *Service) SubmissionDetail(ctx context.Context, questionnaireID, respondentID int64) (*Detail, error) {
	r, err := s.Get(ctx, questionnaireID, respondentID)
	if err != nil {
		return nil, err
	}
	out := &Detail{Respondent: *r}

	var (
		sub         SubmissionDetail
		raw         []byte
		submittedAt sql.NullTime
		version     sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT s.id, s.status, s.data, s.revision, v.version_number, s.submitted_at, s.created_at, s.updated_at
		FROM submissions s
		LEFT JOIN questionnaire_versions v ON v.id = s.questionnaire_version_id
		WHERE s.respondent_id = $1
	`, respondentID).Scan(&sub.ID, &sub.Status, &raw, &sub.Revision, &version, &submittedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	sub.Answers = form.Answers{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sub.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	sub.SubmittedAt = timePtr(submittedAt)
	if version.Valid {
		n := int(version.Int64)
		sub.VersionNumber = &n
	}

	files, err := s.listFiles(ctx, respondentID)
	if err != nil {
		return nil, err
	}
	sub.Files = files
	out.Submission = &sub
	return out, nil
}

func (s *Service) listFiles(ctx context.Context, respondentID int64) ([]submission.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, respondent_id, submission_id, question_id, original_name, stored_name, mime_type, size_bytes, created_at
		FROM file_uploads
		WHERE respondent_id = $1
		ORDER BY created_at ASC
	`, respondentID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	out := make([]submission.File, 0)
	for rows.Next() {
		var f submission.File
		if err := rows.Scan(&f.ID, &f.RespondentID, &f.SubmissionID, &f.QuestionID, &f.OriginalName, &f.StoredName, &f.MimeType, &f.Size, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

func (s *Service) logAudit(ctx context.Context, questionnaireID, actorID int64, action string, respondentID int64, details map[string]any) {
	if s.audit == nil {
		return
	}
	entityType, entityID := "questionnaire", fmt.Sprintf("%d", questionnaireID)
	if respondentID > 0 {
		entityType, entityID = "respondent", fmt.Sprintf("%d", respondentID)
	}
	s.audit.Log(ctx, audit.Entry{
		QuestionnaireID: questionnaireID,
		ActorType:       audit.ActorOperator,
		ActorID:         actorID,
		Action:          action,
		EntityType:      entityType,
		EntityID:        entityID,
		Details:         details,
	})
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
