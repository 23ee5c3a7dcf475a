package form

import "fmt"

type FieldError struct {
	QuestionID string `json:"questionId"`
	BlockID    string `json:"blockId"`
	Message    string `json:"message"`
}

type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

// ValidateAnswers checks every visible, required and enabled question for a
// non-empty answer. Visibility is computed from the answers being validated.
func ValidateAnswers(def Definition, answers Answers) Result {
	errs := make([]FieldError, 0)
	for _, vq := range VisibleQuestions(def, answers) {
		if !vq.IsRequired || vq.IsDisabled {
			continue
		}
		if IsEmpty(answers[vq.ID]) {
			errs = append(errs, FieldError{
				QuestionID: vq.ID,
				BlockID:    vq.BlockID,
				Message:    fmt.Sprintf("Field \"%s\" is required", vq.DisplayName()),
			})
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// WithFiles returns a copy of answers where every file question that has
// attachments and no answer of its own carries the attached file names, so
// required file questions validate against what was uploaded.
func WithFiles(def Definition, answers Answers, files map[string][]string) Answers {
	out := make(Answers, len(answers)+len(files))
	for k, v := range answers {
		out[k] = v
	}
	for _, lq := range def.Questions() {
		if lq.Type != TypeFile {
			continue
		}
		names := files[lq.ID]
		if len(names) == 0 || !IsEmpty(out[lq.ID]) {
			continue
		}
		out[lq.ID] = names
	}
	return out
}
