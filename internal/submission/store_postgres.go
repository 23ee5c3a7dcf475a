package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"drp/internal/form"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

func (t *pgTx) RespondentByTokenHash(ctx context.Context, tokenHash string) (*Respondent, error) {
	var (
		r           Respondent
		validFrom   sql.NullTime
		validUntil  sql.NullTime
		firstAccess sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, questionnaire_id, name, status, locked, valid_from, valid_until, first_accessed_at
		FROM respondents
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(&r.ID, &r.QuestionnaireID, &r.Name, &r.Status, &r.Locked, &validFrom, &validUntil, &firstAccess)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRespondentNotFound
		}
		return nil, fmt.Errorf("load respondent: %w", err)
	}
	r.ValidFrom = nullTimePtr(validFrom)
	r.ValidUntil = nullTimePtr(validUntil)
	r.FirstAccessedAt = nullTimePtr(firstAccess)
	return &r, nil
}

func (t *pgTx) Questionnaire(ctx context.Context, id int64) (*Questionnaire, error) {
	var (
		q        Questionnaire
		settings []byte
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, code, title, status, settings
		FROM questionnaires
		WHERE id = $1
	`, id).Scan(&q.ID, &q.Code, &q.Title, &q.Status, &settings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load questionnaire: %w", err)
	}
	q.Settings = form.ParseSettings(settings)
	return &q, nil
}

func (t *pgTx) LatestVersion(ctx context.Context, questionnaireID int64) (*Version, error) {
	return t.scanVersion(t.tx.QueryRowContext(ctx, `
		SELECT id, version_number, definition, template_css, template_layout, created_at
		FROM questionnaire_versions
		WHERE questionnaire_id = $1
		ORDER BY version_number DESC
		LIMIT 1
	`, questionnaireID))
}

func (t *pgTx) Version(ctx context.Context, id int64) (*Version, error) {
	return t.scanVersion(t.tx.QueryRowContext(ctx, `
		SELECT id, version_number, definition, template_css, template_layout, created_at
		FROM questionnaire_versions
		WHERE id = $1
	`, id))
}

func (t *pgTx) scanVersion(row *sql.Row) (*Version, error) {
	var (
		v   Version
		raw []byte
	)
	if err := row.Scan(&v.ID, &v.Number, &raw, &v.TemplateCSS, &v.TemplateLayout, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load version: %w", err)
	}
	def, err := form.Parse(raw)
	if err != nil {
		return nil, err
	}
	v.Definition = def
	return &v, nil
}

func (t *pgTx) Submission(ctx context.Context, respondentID int64) (*Submission, error) {
	var (
		sub         Submission
		versionID   sql.NullInt64
		data        []byte
		submittedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, respondent_id, questionnaire_version_id, status, data, revision, submitted_at, created_at, updated_at
		FROM submissions
		WHERE respondent_id = $1
		FOR UPDATE
	`, respondentID).Scan(&sub.ID, &sub.RespondentID, &versionID, &sub.Status, &data, &sub.Revision, &submittedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if versionID.Valid {
		v := versionID.Int64
		sub.VersionID = &v
	}
	sub.SubmittedAt = nullTimePtr(submittedAt)
	sub.Answers = form.Answers{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &sub.Answers); err != nil {
			return nil, fmt.Errorf("decode submission data: %w", err)
		}
	}
	return &sub, nil
}

func (t *pgTx) SaveSubmission(ctx context.Context, sub *Submission) error {
	answers := sub.Answers
	if answers == nil {
		answers = form.Answers{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode submission data: %w", err)
	}
	var versionID any
	if sub.VersionID != nil {
		versionID = *sub.VersionID
	}
	var submittedAt any
	if sub.SubmittedAt != nil {
		submittedAt = *sub.SubmittedAt
	}

	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO submissions (
			respondent_id,
			questionnaire_version_id,
			status,
			data,
			revision,
			submitted_at,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4::jsonb, 1, $5, now(), now())
		ON CONFLICT (respondent_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			revision = submissions.revision + 1,
			submitted_at = COALESCE(EXCLUDED.submitted_at, submissions.submitted_at),
			updated_at = now()
		RETURNING id, revision, created_at, updated_at
	`, sub.RespondentID, versionID, sub.Status, string(data), submittedAt).Scan(&sub.ID, &sub.Revision, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}
	return nil
}

func (t *pgTx) SetRespondentStatus(ctx context.Context, respondentID int64, status string) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE respondents
		SET status = $2,
			updated_at = now()
		WHERE id = $1
	`, respondentID, status); err != nil {
		return fmt.Errorf("update respondent status: %w", err)
	}
	return nil
}

func (t *pgTx) StampFirstAccess(ctx context.Context, respondentID int64, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE respondents
		SET first_accessed_at = $2
		WHERE id = $1 AND first_accessed_at IS NULL
	`, respondentID, at); err != nil {
		return fmt.Errorf("stamp first access: %w", err)
	}
	return nil
}

func (t *pgTx) InsertAccess(ctx context.Context, e AccessEntry) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO access_log (
			respondent_id,
			ip_address,
			user_agent,
			accept_language,
			referer,
			screen_width,
			screen_height,
			timezone,
			platform,
			is_mobile,
			accessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, now())
	`, e.RespondentID, e.IP, truncate(e.UserAgent, 1000), truncate(e.AcceptLanguage, 255), truncate(e.Referer, 1000),
		e.ScreenWidth, e.ScreenHeight, truncate(e.Timezone, 100), truncate(e.Platform, 100), e.IsMobile); err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertProjection(ctx context.Context, respondentID int64, pairs []form.Pair) error {
	for _, p := range pairs {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO data_eav (respondent_id, variable, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (respondent_id, variable)
			DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = now()
		`, respondentID, p.Variable, p.Value); err != nil {
			return fmt.Errorf("upsert projection %s: %w", p.Variable, err)
		}
	}
	return nil
}

func (t *pgTx) Files(ctx context.Context, respondentID int64) ([]File, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, respondent_id, submission_id, question_id, original_name, stored_name, mime_type, size_bytes, created_at
		FROM file_uploads
		WHERE respondent_id = $1
		ORDER BY created_at ASC, id ASC
	`, respondentID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		var f File
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

func (t *pgTx) InsertFile(ctx context.Context, f *File) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO file_uploads (
			id,
			respondent_id,
			submission_id,
			question_id,
			original_name,
			stored_name,
			mime_type,
			size_bytes,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.RespondentID, f.SubmissionID, f.QuestionID, f.OriginalName, f.StoredName, f.MimeType, f.Size, f.CreatedAt); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteFile(ctx context.Context, respondentID int64, fileID string) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM file_uploads
		WHERE id = $1 AND respondent_id = $2
	`, fileID, respondentID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFileNotFound
	}
	return nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
