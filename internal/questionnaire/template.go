package questionnaire

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func normalizeTemplate(in CreateTemplateInput) (CreateTemplateInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("%w: template name is required", ErrInvalidInput)
	}
	if len([]rune(in.Name)) > 255 {
		return in, fmt.Errorf("%w: template name is too long", ErrInvalidInput)
	}
	return in, nil
}

func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, css, layout, created_at, updated_at
		FROM templates
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := make([]Template, 0)
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.CSS, &t.Layout, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (s *Service) CreateTemplate(ctx context.Context, in CreateTemplateInput) (*Template, error) {
	in, err := normalizeTemplate(in)
	if err != nil {
		return nil, err
	}
	var t Template
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO templates (name, css, layout, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), now(), now())
		RETURNING id, name, css, layout, created_at, updated_at
	`, in.Name, in.CSS, in.Layout, in.CreatedBy).Scan(&t.ID, &t.Name, &t.CSS, &t.Layout, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return &t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var t Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, css, layout, created_at, updated_at
		FROM templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.CSS, &t.Layout, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("load template: %w", err)
	}
	return &t, nil
}

// UpdateTemplate changes the live template only. Published versions keep
// the styling they were snapshotted with.
func (s *Service) UpdateTemplate(ctx context.Context, id int64, in CreateTemplateInput) (*Template, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := normalizeTemplate(in)
	if err != nil {
		return nil, err
	}
	var t Template
	err = s.db.QueryRowContext(ctx, `
		UPDATE templates
		SET name = $2, css = $3, layout = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, css, layout, created_at, updated_at
	`, id, in.Name, in.CSS, in.Layout).Scan(&t.ID, &t.Name, &t.CSS, &t.Layout, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("update template: %w", err)
	}
	return &t, nil
}
