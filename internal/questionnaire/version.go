package questionnaire

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"drp/internal/form"
)

// Publish snapshots the current definition and template as the next version.
// The snapshot insert and the status change commit together.
func (s *Service) Publish(ctx context.Context, id, actorID int64) (*Version, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status  string
		rawDef  []byte
		css     sql.NullString
		layout  sql.NullString
		current int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT q.status, q.definition, t.css, t.layout
		FROM questionnaires q
		LEFT JOIN templates t ON t.id = q.template_id
		WHERE q.id = $1
		FOR UPDATE OF q
	`, id).Scan(&status, &rawDef, &css, &layout)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionnaireNotFound
		}
		return nil, fmt.Errorf("lock questionnaire: %w", err)
	}
	def, snapshot, err := prepareSnapshot(status, rawDef)
	if err != nil {
		return nil, err
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0)
		FROM questionnaire_versions
		WHERE questionnaire_id = $1
	`, id).Scan(&current); err != nil {
		return nil, fmt.Errorf("query latest version: %w", err)
	}

	v := nextVersion(id, current, def, css.String, layout.String, actorID)
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO questionnaire_versions (questionnaire_id, version_number, definition, template_css, template_layout, published_by, created_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, NULLIF($6, 0), now())
		RETURNING id, created_at
	`, id, v.Number, string(snapshot), v.TemplateCSS, v.TemplateLayout, actorID).Scan(&v.ID, &v.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE questionnaires
		SET status = 'published',
			updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}

	s.logAudit(ctx, id, actorID, "published", map[string]any{"version": v.Number})
	return &v, nil
}

// prepareSnapshot checks that a questionnaire in status can be published and
// returns its parsed definition with the JSON stored in the version row.
func prepareSnapshot(status string, rawDef []byte) (form.Definition, []byte, error) {
	if status == StatusArchived {
		return form.Definition{}, nil, ErrArchived
	}
	def, err := form.Parse(rawDef)
	if err != nil {
		return form.Definition{}, nil, fmt.Errorf("decode definition: %w", err)
	}
	if err := form.CheckDefinition(def); err != nil {
		return form.Definition{}, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	snapshot, err := json.Marshal(def)
	if err != nil {
		return form.Definition{}, nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return def, snapshot, nil
}

// nextVersion builds the version that follows current, the highest number
// published so far (0 when none). Numbers are never reused.
func nextVersion(questionnaireID int64, current int, def form.Definition, css, layout string, actorID int64) Version {
	v := Version{
		QuestionnaireID: questionnaireID,
		Number:          current + 1,
		Definition:      def,
		TemplateCSS:     css,
		TemplateLayout:  layout,
	}
	if actorID > 0 {
		a := actorID
		v.PublishedBy = &a
	}
	return v
}

func (s *Service) ListVersions(ctx context.Context, id int64) ([]VersionInfo, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	if err := s.ensureExists(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_number, created_at
		FROM questionnaire_versions
		WHERE questionnaire_id = $1
		ORDER BY version_number DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]VersionInfo, 0)
	for rows.Next() {
		var it VersionInfo
		if err := rows.Scan(&it.ID, &it.Number, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func (s *Service) GetVersion(ctx context.Context, id int64, number int) (*Version, error) {
	if id <= 0 || number <= 0 {
		return nil, ErrInvalidInput
	}

	var (
		v           Version
		raw         []byte
		publishedBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, questionnaire_id, version_number, definition, template_css, template_layout, published_by, created_at
		FROM questionnaire_versions
		WHERE questionnaire_id = $1 AND version_number = $2
	`, id, number).Scan(&v.ID, &v.QuestionnaireID, &v.Number, &raw, &v.TemplateCSS, &v.TemplateLayout, &publishedBy, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("load version: %w", err)
	}
	def, err := form.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode version definition: %w", err)
	}
	v.Definition = def
	if publishedBy.Valid {
		p := publishedBy.Int64
		v.PublishedBy = &p
	}
	return &v, nil
}

func (s *Service) ensureExists(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM questionnaires WHERE id = $1`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionnaireNotFound
		}
		return fmt.Errorf("check questionnaire: %w", err)
	}
	return nil
}
