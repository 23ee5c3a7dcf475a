package form

// VisibleQuestion is a question as presented to a respondent, annotated with
// its effective state after the rules ran.
type VisibleQuestion struct {
	Question
	BlockID    string `json:"blockId"`
	BlockTitle string `json:"blockTitle"`
	IsRequired bool   `json:"isRequired"`
	IsDisabled bool   `json:"isDisabled"`
}

// VisibleQuestions runs the rules once and lists the questions that remain
// visible, in document order. Questions of a hidden block are skipped without
// looking at their own hide state.
func VisibleQuestions(def Definition, answers Answers) []VisibleQuestion {
	return resolveVisible(def, Evaluate(def.Logic, answers))
}

func resolveVisible(def Definition, d Decision) []VisibleQuestion {
	out := make([]VisibleQuestion, 0)
	for _, b := range def.Blocks {
		if d.BlockHidden(b.ID) {
			continue
		}
		for _, q := range b.Questions {
			if d.QuestionHidden(q.ID) {
				continue
			}
			out = append(out, VisibleQuestion{
				Question:   q,
				BlockID:    b.ID,
				BlockTitle: b.Title,
				IsRequired: q.Required || d.Required(q.ID),
				IsDisabled: d.Disabled(q.ID),
			})
		}
	}
	return out
}
