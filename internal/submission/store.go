package submission

import (
	"context"
	"time"

	"drp/internal/form"
)

// Respondent is the identity and validity input of every lifecycle
// operation. Tokens are resolved by the store, never by the lifecycle.
type Respondent struct {
	ID              int64      `json:"id"`
	QuestionnaireID int64      `json:"questionnaire_id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	Locked          bool       `json:"locked"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	FirstAccessedAt *time.Time `json:"first_accessed_at,omitempty"`
}

type Questionnaire struct {
	ID       int64
	Code     string
	Title    string
	Status   string
	Settings form.Settings
}

// Version is a published, read-only definition snapshot.
type Version struct {
	ID             int64
	Number         int
	Definition     form.Definition
	TemplateCSS    string
	TemplateLayout string
	CreatedAt      time.Time
}

type Submission struct {
	ID           int64        `json:"id"`
	RespondentID int64        `json:"respondent_id"`
	VersionID    *int64       `json:"version_id,omitempty"`
	Status       string       `json:"status"`
	Answers      form.Answers `json:"answers"`
	Revision     int64        `json:"revision"`
	SubmittedAt  *time.Time   `json:"submitted_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type File struct {
	ID           string    `json:"id"`
	RespondentID int64     `json:"respondent_id"`
	SubmissionID int64     `json:"submission_id"`
	QuestionID   string    `json:"question_id"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"-"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

type AccessEntry struct {
	RespondentID   int64
	IP             string
	UserAgent      string
	AcceptLanguage string
	Referer        string
	ScreenWidth    *int
	ScreenHeight   *int
	Timezone       string
	Platform       string
	IsMobile       bool
}

// Store opens transactions; every lifecycle operation runs inside one.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the answer store and definition source as seen from one transaction.
// Lookups that find nothing return (nil, nil) unless noted otherwise.
type Tx interface {
	// RespondentByTokenHash locks the respondent row. Returns
	// ErrRespondentNotFound when no respondent owns the hash.
	RespondentByTokenHash(ctx context.Context, tokenHash string) (*Respondent, error)
	Questionnaire(ctx context.Context, id int64) (*Questionnaire, error)
	LatestVersion(ctx context.Context, questionnaireID int64) (*Version, error)
	Version(ctx context.Context, id int64) (*Version, error)

	Submission(ctx context.Context, respondentID int64) (*Submission, error)
	// SaveSubmission inserts or updates by respondent, bumping the revision
	// and filling ID, Revision and timestamps on sub.
	SaveSubmission(ctx context.Context, sub *Submission) error
	SetRespondentStatus(ctx context.Context, respondentID int64, status string) error
	StampFirstAccess(ctx context.Context, respondentID int64, at time.Time) error
	InsertAccess(ctx context.Context, entry AccessEntry) error

	// UpsertProjection writes one row per (respondent, variable).
	UpsertProjection(ctx context.Context, respondentID int64, pairs []form.Pair) error

	Files(ctx context.Context, respondentID int64) ([]File, error)
	InsertFile(ctx context.Context, f *File) error
	DeleteFile(ctx context.Context, respondentID int64, fileID string) error

	Commit() error
	Rollback() error
}
