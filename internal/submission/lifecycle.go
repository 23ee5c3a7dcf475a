package submission

import (
	"errors"
	"fmt"
	"time"

	"drp/internal/form"
)

var (
	ErrRespondentNotFound  = errors.New("respondent not found")
	ErrLocked              = errors.New("respondent is locked")
	ErrNotYetValid         = errors.New("link is not valid yet")
	ErrExpired             = errors.New("link has expired")
	ErrAlreadySubmitted    = errors.New("submission already submitted")
	ErrValidationFailed    = errors.New("validation failed")
	ErrFilesFrozen         = errors.New("files cannot change after submit")
	ErrStaleRevision       = errors.New("submission was changed by another write")
	ErrNoPublishedVersion  = errors.New("questionnaire has no published version")
	ErrQuestionNotFound    = errors.New("file question not found")
	ErrTooManyFiles        = errors.New("file limit reached for question")
	ErrFileNotFound        = errors.New("file not found")
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileTypeNotAllowed  = errors.New("file type not allowed")
	ErrQuestionnaireClosed = errors.New("questionnaire is archived")
)

const (
	StatusInvited    = "invited"
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"

	SubmissionDraft     = "draft"
	SubmissionSubmitted = "submitted"

	ValidityValid       = "valid"
	ValidityNotYetValid = "not_yet_valid"
	ValidityExpired     = "expired"
)

// ValidationError carries the per-question errors of a rejected submit.
type ValidationError struct {
	Errors []form.FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) missing", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// Validity places now relative to the respondent's window. Either bound may
// be open.
func Validity(r Respondent, now time.Time) string {
	if r.ValidFrom != nil && r.ValidFrom.After(now) {
		return ValidityNotYetValid
	}
	if r.ValidUntil != nil && r.ValidUntil.Before(now) {
		return ValidityExpired
	}
	return ValidityValid
}

// CheckWritable is the guard shared by every respondent write. The lock is
// checked before the window.
func CheckWritable(r Respondent, now time.Time) error {
	if r.Locked {
		return ErrLocked
	}
	switch Validity(r, now) {
	case ValidityNotYetValid:
		return ErrNotYetValid
	case ValidityExpired:
		return ErrExpired
	}
	return nil
}

type writeKind int

const (
	writeAutosave writeKind = iota
	writeSubmit
)

type writePlan struct {
	create           bool
	submissionStatus string
	respondentStatus string
	stampSubmittedAt bool
}

// planWrite decides the transitions of an answer write without touching
// storage. Validation of a submit happens after the plan is accepted.
func planWrite(r Respondent, sub *Submission, kind writeKind, allowResubmit bool, expectedRevision *int64, now time.Time) (writePlan, error) {
	if err := CheckWritable(r, now); err != nil {
		return writePlan{}, err
	}

	if expectedRevision != nil {
		current := int64(0)
		if sub != nil {
			current = sub.Revision
		}
		if *expectedRevision != current {
			return writePlan{}, ErrStaleRevision
		}
	}

	submitted := sub != nil && sub.Status == SubmissionSubmitted
	if submitted && !allowResubmit {
		return writePlan{}, ErrAlreadySubmitted
	}

	p := writePlan{create: sub == nil}
	switch kind {
	case writeSubmit:
		p.submissionStatus = SubmissionSubmitted
		p.respondentStatus = StatusSubmitted
		p.stampSubmittedAt = true
	default:
		p.submissionStatus = SubmissionDraft
		p.respondentStatus = StatusInProgress
	}
	return p, nil
}

// checkAttach guards file changes: the write guard plus frozen files once the
// submission is final.
func checkAttach(r Respondent, sub *Submission, now time.Time) error {
	if err := CheckWritable(r, now); err != nil {
		return err
	}
	if sub != nil && sub.Status == SubmissionSubmitted {
		return ErrFilesFrozen
	}
	return nil
}

// CanEdit reports whether the respondent can currently change answers.
func CanEdit(r Respondent, sub *Submission, allowResubmit bool, now time.Time) bool {
	if CheckWritable(r, now) != nil {
		return false
	}
	if sub != nil && sub.Status == SubmissionSubmitted && !allowResubmit {
		return false
	}
	return true
}
