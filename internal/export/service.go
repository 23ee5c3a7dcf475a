package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"drp/internal/audit"
	"drp/internal/form"
)

var (
	ErrQuestionnaireNotFound = errors.New("questionnaire not found")
	ErrUnknownFormat         = errors.New("unknown export format")
)

const (
	FormatCSV    = "csv"
	FormatXLSX   = "xlsx"
	FormatBundle = "bundle"
	FormatLong   = "long"

	// StatusNotStarted is reported for respondents without a submission.
	StatusNotStarted = "not_started"
)

type auditLog interface {
	Log(ctx context.Context, e audit.Entry)
}

type fileOpener interface {
	Open(ctx context.Context, storedName string) (io.ReadCloser, error)
}

type Service struct {
	db    *sql.DB
	audit auditLog
	files fileOpener
}

func NewService(db *sql.DB, auditLogger auditLog, files fileOpener) *Service {
	return &Service{db: db, audit: auditLogger, files: files}
}

// Dataset is everything an export renders: the definition answers are read
// against, one row per respondent and the uploaded file metadata.
type Dataset struct {
	QuestionnaireID int64
	Code            string
	Title           string
	VersionNumber   *int
	Definition      form.Definition
	TemplateCSS     string
	Rows            []Row
	Files           []File
}

type Row struct {
	RespondentID int64
	Name         string
	ICO          string
	Status       string
	SubmittedAt  *time.Time
	Answers      form.Answers
}

type File struct {
	RespondentID   int64
	RespondentName string
	QuestionID     string
	OriginalName   string
	StoredName     string
	MimeType       string
	SizeBytes      int64
	CreatedAt      time.Time
}

// LongRow is one projection row as stored.
type LongRow struct {
	RespondentID int64
	Name         string
	Variable     string
	Value        string
	UpdatedAt    time.Time
}

// Load reads the latest published version of a questionnaire, or its draft
// definition when nothing was published yet, together with all respondents.
func (s *Service) Load(ctx context.Context, questionnaireID int64) (*Dataset, error) {
	if questionnaireID <= 0 {
		return nil, ErrQuestionnaireNotFound
	}
	ds := &Dataset{QuestionnaireID: questionnaireID}
	var draftDef []byte
	var draftCSS string
	err := s.db.QueryRowContext(ctx, `
SELECT q.code, q.title, q.definition, COALESCE(t.css, '')
FROM questionnaires q
LEFT JOIN templates t ON t.id = q.template_id
WHERE q.id = $1`, questionnaireID).Scan(&ds.Code, &ds.Title, &draftDef, &draftCSS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuestionnaireNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load questionnaire: %w", err)
	}

	rawDef := draftDef
	ds.TemplateCSS = draftCSS
	var (
		versionNumber int
		versionDef    []byte
		versionCSS    string
	)
	err = s.db.QueryRowContext(ctx, `
SELECT version_number, definition, template_css
FROM questionnaire_versions
WHERE questionnaire_id = $1
ORDER BY version_number DESC
LIMIT 1`, questionnaireID).Scan(&versionNumber, &versionDef, &versionCSS)
	switch {
	case err == nil:
		rawDef = versionDef
		ds.TemplateCSS = versionCSS
		ds.VersionNumber = &versionNumber
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load latest version: %w", err)
	}
	if ds.Definition, err = form.Parse(rawDef); err != nil {
		return nil, err
	}

	if ds.Rows, err = s.loadRows(ctx, questionnaireID); err != nil {
		return nil, err
	}
	if ds.Files, err = s.loadFiles(ctx, questionnaireID); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *Service) loadRows(ctx context.Context, questionnaireID int64) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.name, r.ico, COALESCE(s.status, ''), s.submitted_at, COALESCE(s.data, '{}'::jsonb)
FROM respondents r
LEFT JOIN submissions s ON s.respondent_id = r.id
WHERE r.questionnaire_id = $1
ORDER BY r.id ASC`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("query export rows: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var (
			it          Row
			submittedAt sql.NullTime
			raw         []byte
		)
		if err := rows.Scan(&it.RespondentID, &it.Name, &it.ICO, &it.Status, &submittedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		if it.Status == "" {
			it.Status = StatusNotStarted
		}
		if submittedAt.Valid {
			t := submittedAt.Time
			it.SubmittedAt = &t
		}
		it.Answers = form.Answers{}
		if err := json.Unmarshal(raw, &it.Answers); err != nil {
			return nil, fmt.Errorf("decode answers of respondent %d: %w", it.RespondentID, err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export rows: %w", err)
	}
	return out, nil
}

func (s *Service) loadFiles(ctx context.Context, questionnaireID int64) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT f.respondent_id, r.name, f.question_id, f.original_name, f.stored_name, f.mime_type, f.size_bytes, f.created_at
FROM file_uploads f
JOIN respondents r ON r.id = f.respondent_id
WHERE r.questionnaire_id = $1
ORDER BY f.respondent_id ASC, f.created_at ASC`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("query export files: %w", err)
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.RespondentID, &f.RespondentName, &f.QuestionID, &f.OriginalName, &f.StoredName, &f.MimeType, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export files: %w", err)
	}
	return out, nil
}

// LoadLong reads the flat projection rows of a questionnaire.
func (s *Service) LoadLong(ctx context.Context, questionnaireID int64) ([]LongRow, error) {
	if _, err := s.code(ctx, questionnaireID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT e.respondent_id, r.name, e.variable, e.value, e.updated_at
FROM data_eav e
JOIN respondents r ON r.id = e.respondent_id
WHERE r.questionnaire_id = $1
ORDER BY e.respondent_id ASC, e.variable ASC`, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("query projection rows: %w", err)
	}
	defer rows.Close()

	out := make([]LongRow, 0)
	for rows.Next() {
		var it LongRow
		if err := rows.Scan(&it.RespondentID, &it.Name, &it.Variable, &it.Value, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan projection row: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projection rows: %w", err)
	}
	return out, nil
}

// Export renders one format into w and records the export in the audit log.
// It returns the file name the output should be offered under.
func (s *Service) Export(ctx context.Context, questionnaireID, actorID int64, format string, w io.Writer) (string, error) {
	var (
		name string
		err  error
	)
	switch format {
	case FormatLong:
		name, err = s.exportLong(ctx, questionnaireID, w)
	case FormatCSV, FormatXLSX, FormatBundle:
		var ds *Dataset
		if ds, err = s.Load(ctx, questionnaireID); err != nil {
			return "", err
		}
		switch format {
		case FormatCSV:
			name, err = ds.Code+"-export.csv", WriteCSV(w, BuildTable(ds))
		case FormatXLSX:
			name, err = ds.Code+"-export.xlsx", WriteXLSX(w, ds)
		default:
			name, err = ds.Code+"-bundle.zip", s.WriteBundle(ctx, w, ds)
		}
	default:
		return "", ErrUnknownFormat
	}
	if err != nil {
		return "", err
	}

	if s.audit != nil {
		s.audit.Log(ctx, audit.Entry{
			QuestionnaireID: questionnaireID,
			ActorType:       audit.ActorOperator,
			ActorID:         actorID,
			Action:          "exported",
			EntityType:      "questionnaire",
			EntityID:        strconv.FormatInt(questionnaireID, 10),
			Details:         map[string]any{"format": format},
		})
	}
	return name, nil
}

func (s *Service) exportLong(ctx context.Context, questionnaireID int64, w io.Writer) (string, error) {
	code, err := s.code(ctx, questionnaireID)
	if err != nil {
		return "", err
	}
	rows, err := s.LoadLong(ctx, questionnaireID)
	if err != nil {
		return "", err
	}
	return code + "-long.csv", WriteLongCSV(w, rows)
}

func (s *Service) code(ctx context.Context, questionnaireID int64) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT code FROM questionnaires WHERE id = $1`, questionnaireID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrQuestionnaireNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load questionnaire code: %w", err)
	}
	return code, nil
}

// Preview returns the wide table without rendering a file.
func (s *Service) Preview(ctx context.Context, questionnaireID int64) (*Table, error) {
	ds, err := s.Load(ctx, questionnaireID)
	if err != nil {
		return nil, err
	}
	t := BuildTable(ds)
	return &t, nil
}
