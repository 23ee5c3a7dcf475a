package questionnaire

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"drp/internal/audit"
	"drp/internal/form"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrQuestionnaireNotFound  = errors.New("questionnaire not found")
	ErrArchived               = errors.New("questionnaire is archived")
	ErrVersionNotFound        = errors.New("version not found")
	ErrTemplateNotFound       = errors.New("template not found")
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type auditLog interface {
	Log(ctx context.Context, e audit.Entry)
	Recent(ctx context.Context, questionnaireID int64, limit int) ([]audit.Record, error)
}

type fileRemover interface {
	Remove(ctx context.Context, storedName string) error
}

type Service struct {
	db    *sql.DB
	audit auditLog
	files fileRemover
	now   func() time.Time
}

type Template struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CSS       string    `json:"css"`
	Layout    string    `json:"layout"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Questionnaire struct {
	ID              int64            `json:"id"`
	Code            string           `json:"code"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Status          string           `json:"status"`
	Definition      form.Definition  `json:"definition"`
	Settings        form.Settings    `json:"settings"`
	TemplateID      *int64           `json:"template_id,omitempty"`
	Template        *Template        `json:"template,omitempty"`
	VersionsCount   int              `json:"versions_count"`
	RespondentStats map[string]int64 `json:"respondent_stats,omitempty"`
	CreatedBy       *int64           `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type Summary struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Status          string    `json:"status"`
	RespondentCount int64     `json:"respondent_count"`
	AccessedCount   int64     `json:"accessed_count"`
	SubmittedCount  int64     `json:"submitted_count"`
	LatestVersion   *int      `json:"latest_version,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Version is an immutable published snapshot.
type Version struct {
	ID              int64           `json:"id"`
	QuestionnaireID int64           `json:"questionnaire_id"`
	Number          int             `json:"version_number"`
	Definition      form.Definition `json:"definition"`
	TemplateCSS     string          `json:"template_css"`
	TemplateLayout  string          `json:"template_layout"`
	PublishedBy     *int64          `json:"published_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type VersionInfo struct {
	ID        int64     `json:"id"`
	Number    int       `json:"version_number"`
	CreatedAt time.Time `json:"published_at"`
}

type CreateInput struct {
	Title       string
	Description string
	TemplateID  *int64
	CreatedBy   int64
}

type UpdateMetadataInput struct {
	ID          int64
	Title       string
	Description string
	Settings    *form.Settings
	TemplateID  *int64
	ActorID     int64
}

type CreateTemplateInput struct {
	Name      string
	CSS       string
	Layout    string
	CreatedBy int64
}

func NewService(db *sql.DB, auditLogger auditLog, files fileRemover) *Service {
	return &Service{db: db, audit: auditLogger, files: files, now: time.Now}
}

// generateCode builds QNR-<year>-<8 upper hex>.
func generateCode(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("QNR-%d-%s", now.Year(), strings.ToUpper(hex.EncodeToString(b))), nil
}

func normalizeTitle(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len([]rune(v)) > 255 {
		return "", fmt.Errorf("%w: title is too long", ErrInvalidInput)
	}
	return v, nil
}

func normalizeSettings(s form.Settings) (form.Settings, error) {
	if s.AutosaveSeconds == 0 {
		s.AutosaveSeconds = form.DefaultSettings().AutosaveSeconds
	}
	if s.AutosaveSeconds < 2 || s.AutosaveSeconds > 3600 {
		return s, fmt.Errorf("%w: autosaveSeconds must be between 2 and 3600", ErrInvalidInput)
	}
	return s, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Questionnaire, error) {
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return nil, err
	}
	def, err := json.Marshal(form.DefaultDefinition())
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	settings, err := json.Marshal(form.DefaultSettings())
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	var id int64
	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateCode(s.now())
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO questionnaires (code, title, description, status, definition, settings, template_id, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, 'draft', $4::jsonb, $5::jsonb, $6, NULLIF($7, 0), now(), now())
			RETURNING id
		`, code, title, strings.TrimSpace(in.Description), string(def), string(settings), nullInt64Ptr(in.TemplateID), in.CreatedBy).Scan(&id)
		if err == nil {
			break
		}
		if isForeignKeyViolation(err) {
			return nil, ErrTemplateNotFound
		}
		if !isUniqueViolation(err) || attempt == 2 {
			return nil, fmt.Errorf("create questionnaire: %w", err)
		}
	}

	s.logAudit(ctx, id, in.CreatedBy, "created", map[string]any{"title": title})
	return s.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			q.id, q.code, q.title, q.description, q.status, q.created_at, q.updated_at,
			COALESCE(r.total, 0),
			COALESCE(r.accessed, 0),
			COALESCE(r.submitted, 0),
			v.latest
		FROM questionnaires q
		LEFT JOIN (
			SELECT questionnaire_id,
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE first_accessed_at IS NOT NULL) AS accessed,
				COUNT(*) FILTER (WHERE status = 'submitted') AS submitted
			FROM respondents
			GROUP BY questionnaire_id
		) r ON r.questionnaire_id = q.id
		LEFT JOIN (
			SELECT questionnaire_id, MAX(version_number) AS latest
			FROM questionnaire_versions
			GROUP BY questionnaire_id
		) v ON v.questionnaire_id = q.id
		ORDER BY q.updated_at DESC, q.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list questionnaires: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			it     Summary
			latest sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.Code, &it.Title, &it.Description, &it.Status, &it.CreatedAt, &it.UpdatedAt,
			&it.RespondentCount, &it.AccessedCount, &it.SubmittedCount, &latest); err != nil {
			return nil, fmt.Errorf("scan questionnaire: %w", err)
		}
		if latest.Valid {
			n := int(latest.Int64)
			it.LatestVersion = &n
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questionnaires: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Questionnaire, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	var (
		q           Questionnaire
		rawDef      []byte
		rawSettings []byte
		templateID  sql.NullInt64
		createdBy   sql.NullInt64
		tName       sql.NullString
		tCSS        sql.NullString
		tLayout     sql.NullString
		tCreated    sql.NullTime
		tUpdated    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT q.id, q.code, q.title, q.description, q.status, q.definition, q.settings,
			q.template_id, q.created_by, q.created_at, q.updated_at,
			t.name, t.css, t.layout, t.created_at, t.updated_at,
			(SELECT COUNT(*) FROM questionnaire_versions WHERE questionnaire_id = q.id)
		FROM questionnaires q
		LEFT JOIN templates t ON t.id = q.template_id
		WHERE q.id = $1
	`, id).Scan(&q.ID, &q.Code, &q.Title, &q.Description, &q.Status, &rawDef, &rawSettings,
		&templateID, &createdBy, &q.CreatedAt, &q.UpdatedAt,
		&tName, &tCSS, &tLayout, &tCreated, &tUpdated, &q.VersionsCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionnaireNotFound
		}
		return nil, fmt.Errorf("load questionnaire: %w", err)
	}

	def, err := form.Parse(rawDef)
	if err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	q.Definition = def
	q.Settings = form.ParseSettings(rawSettings)
	if createdBy.Valid {
		v := createdBy.Int64
		q.CreatedBy = &v
	}
	if templateID.Valid {
		v := templateID.Int64
		q.TemplateID = &v
		q.Template = &Template{
			ID:        v,
			Name:      tName.String,
			CSS:       tCSS.String,
			Layout:    tLayout.String,
			CreatedAt: tCreated.Time,
			UpdatedAt: tUpdated.Time,
		}
	}

	stats, err := s.respondentStats(ctx, id)
	if err != nil {
		return nil, err
	}
	q.RespondentStats = stats
	return &q, nil
}

func (s *Service) respondentStats(ctx context.Context, id int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM respondents
		WHERE questionnaire_id = $1
		GROUP BY status
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query respondent stats: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan respondent stats: %w", err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate respondent stats: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateMetadata(ctx context.Context, in UpdateMetadataInput) (*Questionnaire, error) {
	if in.ID <= 0 {
		return nil, ErrInvalidInput
	}
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return nil, err
	}

	var settingsRaw any
	if in.Settings != nil {
		settings, err := normalizeSettings(*in.Settings)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("encode settings: %w", err)
		}
		settingsRaw = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE questionnaires
		SET title = $2,
			description = $3,
			settings = COALESCE($4::jsonb, settings),
			template_id = $5,
			updated_at = now()
		WHERE id = $1
	`, in.ID, title, strings.TrimSpace(in.Description), settingsRaw, nullInt64Ptr(in.TemplateID))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("update questionnaire: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQuestionnaireNotFound
	}

	s.logAudit(ctx, in.ID, in.ActorID, "metadata_updated", map[string]any{"title": title})
	return s.Get(ctx, in.ID)
}

// UpdateDefinition replaces the draft definition. Published snapshots are
// untouched until the next Publish.
func (s *Service) UpdateDefinition(ctx context.Context, id, actorID int64, def form.Definition) (*Questionnaire, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	if err := form.CheckDefinition(def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockQuestionnaire(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if status == StatusArchived {
		return nil, ErrArchived
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE questionnaires
		SET definition = $2::jsonb,
			updated_at = now()
		WHERE id = $1
	`, id, string(raw)); err != nil {
		return nil, fmt.Errorf("update definition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit definition: %w", err)
	}

	s.logAudit(ctx, id, actorID, "definition_updated", map[string]any{
		"blocks":    len(def.Blocks),
		"questions": len(def.Questions()),
		"rules":     len(def.Logic),
	})
	return s.Get(ctx, id)
}

func (s *Service) Archive(ctx context.Context, id, actorID int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE questionnaires
		SET status = 'archived',
			updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("archive questionnaire: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionnaireNotFound
	}
	s.logAudit(ctx, id, actorID, "archived", nil)
	return nil
}

// Delete removes a questionnaire together with its respondents, answers,
// projection rows and uploaded files.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockQuestionnaire(ctx, tx, id); err != nil {
		return err
	}

	stored, err := storedFileNames(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM respondents WHERE questionnaire_id = $1`, id); err != nil {
		return fmt.Errorf("delete respondents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questionnaires WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete questionnaire: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.removeFiles(ctx, stored)
	s.logAudit(ctx, 0, actorID, "deleted", map[string]any{"questionnaire_id": id, "files": len(stored)})
	return nil
}

func (s *Service) removeFiles(ctx context.Context, stored []string) {
	if s.files == nil {
		return
	}
	for _, name := range stored {
		if err := s.files.Remove(ctx, name); err != nil {
			log.Printf("questionnaire: remove stored file %s: %v", name, err)
		}
	}
}

func storedFileNames(ctx context.Context, tx *sql.Tx, questionnaireID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT f.stored_name
		FROM file_uploads f
		JOIN respondents r ON r.id = f.respondent_id
		WHERE r.questionnaire_id = $1
	`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("query stored files: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan stored file: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored files: %w", err)
	}
	return out, nil
}

func (s *Service) Clone(ctx context.Context, id, actorID int64, title string) (*Questionnaire, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = src.Title + " (copy)"
	}
	title, err = normalizeTitle(title)
	if err != nil {
		return nil, err
	}

	def, err := json.Marshal(src.Definition)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	settings, err := json.Marshal(src.Settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	var newID int64
	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateCode(s.now())
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO questionnaires (code, title, description, status, definition, settings, template_id, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, 'draft', $4::jsonb, $5::jsonb, $6, NULLIF($7, 0), now(), now())
			RETURNING id
		`, code, title, src.Description, string(def), string(settings), nullInt64Ptr(src.TemplateID), actorID).Scan(&newID)
		if err == nil {
			break
		}
		if !isUniqueViolation(err) || attempt == 2 {
			return nil, fmt.Errorf("clone questionnaire: %w", err)
		}
	}

	s.logAudit(ctx, newID, actorID, "cloned", map[string]any{"original_id": id})
	return s.Get(ctx, newID)
}

func lockQuestionnaire(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM questionnaires WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrQuestionnaireNotFound
		}
		return "", fmt.Errorf("lock questionnaire: %w", err)
	}
	return status, nil
}

func (s *Service) logAudit(ctx context.Context, questionnaireID, actorID int64, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entityID := ""
	if questionnaireID > 0 {
		entityID = fmt.Sprintf("%d", questionnaireID)
	}
	s.audit.Log(ctx, audit.Entry{
		QuestionnaireID: questionnaireID,
		ActorType:       audit.ActorOperator,
		ActorID:         actorID,
		Action:          action,
		EntityType:      "questionnaire",
		EntityID:        entityID,
		Details:         details,
	})
}

func nullInt64Ptr(v *int64) any {
	if v == nil || *v <= 0 {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
