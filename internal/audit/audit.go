package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

const (
	ActorOperator   = "operator"
	ActorRespondent = "respondent"
)

type Entry struct {
	// QuestionnaireID scopes the entry for dashboards; zero when the action
	// is not tied to a questionnaire.
	QuestionnaireID int64
	ActorType       string
	ActorID         int64
	Action          string
	EntityType      string
	EntityID        string
	Details         map[string]any
}

type Record struct {
	ID              int64           `json:"id"`
	QuestionnaireID *int64          `json:"questionnaire_id,omitempty"`
	ActorType       string          `json:"actor_type"`
	ActorID         *int64          `json:"actor_id,omitempty"`
	Action          string          `json:"action"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Details         json.RawMessage `json:"details"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log records an entry. A failed insert is logged and otherwise ignored; the
// audited operation has already committed.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil || l.db == nil {
		return
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		log.Printf("audit: encode details for %s: %v", e.Action, err)
		return
	}
	var actorID, questionnaireID any
	if e.ActorID > 0 {
		actorID = e.ActorID
	}
	if e.QuestionnaireID > 0 {
		questionnaireID = e.QuestionnaireID
	}
	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (questionnaire_id, actor_type, actor_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, now())
	`, questionnaireID, e.ActorType, actorID, e.Action, e.EntityType, e.EntityID, string(b)); err != nil {
		log.Printf("audit: write %s %s/%s: %v", e.Action, e.EntityType, e.EntityID, err)
	}
}

// Recent lists the newest entries scoped to a questionnaire.
func (l *Logger) Recent(ctx context.Context, questionnaireID int64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, questionnaire_id, actor_type, actor_id, action, entity_type, entity_id, details, created_at
		FROM audit_log
		WHERE questionnaire_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, questionnaireID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec     Record
			qID     sql.NullInt64
			actorID sql.NullInt64
			details []byte
		)
		if err := rows.Scan(&rec.ID, &qID, &rec.ActorType, &actorID, &rec.Action, &rec.EntityType, &rec.EntityID, &details, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if qID.Valid {
			v := qID.Int64
			rec.QuestionnaireID = &v
		}
		if actorID.Valid {
			v := actorID.Int64
			rec.ActorID = &v
		}
		rec.Details = json.RawMessage(details)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}
