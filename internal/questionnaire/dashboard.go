package questionnaire

import (
	"context"
	"fmt"
	"time"

	"drp/internal/audit"
)

type RecentSubmission struct {
	RespondentID int64     `json:"respondent_id"`
	Name         string    `json:"name"`
	ICO          string    `json:"ico"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

type Dashboard struct {
	QuestionnaireID   int64              `json:"questionnaire_id"`
	Status            string             `json:"status"`
	Respondents       map[string]int64   `json:"respondents"`
	Submissions       map[string]int64   `json:"submissions"`
	Versions          []VersionInfo      `json:"versions"`
	RecentSubmissions []RecentSubmission `json:"recent_submissions"`
	Activity          []audit.Record     `json:"activity"`
}

const (
	dashboardRecentSubmissions = 5
	dashboardActivity          = 10
)

func (s *Service) Dashboard(ctx context.Context, id int64) (*Dashboard, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		QuestionnaireID: id,
		Status:          q.Status,
		Submissions:     map[string]int64{},
	}

	var total, accessed, locked int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE first_accessed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE locked)
		FROM respondents
		WHERE questionnaire_id = $1
	`, id).Scan(&total, &accessed, &locked); err != nil {
		return nil, fmt.Errorf("count respondents: %w", err)
	}
	d.Respondents = map[string]int64{
		"total":    total,
		"accessed": accessed,
		"locked":   locked,
	}
	for status, n := range q.RespondentStats {
		d.Respondents[status] = n
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.status, COUNT(*)
		FROM submissions s
		JOIN respondents r ON r.id = s.respondent_id
		WHERE r.questionnaire_id = $1
		GROUP BY s.status
	`, id)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		d.Submissions[status] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate submission counts: %w", err)
	}
	rows.Close()

	d.Versions, err = s.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	recent, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.ico, s.submitted_at
		FROM submissions s
		JOIN respondents r ON r.id = s.respondent_id
		WHERE r.questionnaire_id = $1
			AND s.status = 'submitted'
			AND s.submitted_at IS NOT NULL
		ORDER BY s.submitted_at DESC
		LIMIT $2
	`, id, dashboardRecentSubmissions)
	if err != nil {
		return nil, fmt.Errorf("query recent submissions: %w", err)
	}
	defer recent.Close()

	d.RecentSubmissions = make([]RecentSubmission, 0, dashboardRecentSubmissions)
	for recent.Next() {
		var it RecentSubmission
		if err := recent.Scan(&it.RespondentID, &it.Name, &it.ICO, &it.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan recent submission: %w", err)
		}
		d.RecentSubmissions = append(d.RecentSubmissions, it)
	}
	if err := recent.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent submissions: %w", err)
	}

	d.Activity = []audit.Record{}
	if s.audit != nil {
		activity, err := s.audit.Recent(ctx, id, dashboardActivity)
		if err != nil {
			return nil, err
		}
		d.Activity = activity
	}
	return d, nil
}
