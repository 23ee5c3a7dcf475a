package form

import "testing"

func surveyDefinition() Definition {
	return Definition{
		Blocks: []Block{
			{ID: "b1", Title: "Basics", Questions: []Question{
				{ID: "q1", Type: TypeRadio, Label: "Has employees", Required: true, Options: []Option{{Label: "A"}, {Label: "B"}}},
				{ID: "q2", Type: TypeShortText, Label: "Employee count"},
			}},
			{ID: "b2", Title: "Details", Questions: []Question{
				{ID: "q3", Type: TypeLongText, Required: true},
			}},
		},
		Logic: []Rule{
			{Condition: &Condition{QuestionID: "q1", Operator: OpEqual, Value: "A"}, Actions: []Action{{Type: ActionRequire, Target: "q2"}}},
			{Condition: &Condition{QuestionID: "q1", Operator: OpEqual, Value: "B"}, Actions: []Action{{Type: ActionHide, Target: "b2", TargetKind: TargetBlock}}},
		},
	}
}

func TestValidateAnswersConditionalRequire(t *testing.T) {
	def := surveyDefinition()

	res := ValidateAnswers(def, Answers{"q1": "B"})
	if !res.Valid || len(res.Errors) != 0 {
		t.Fatalf("expected valid result, got %+v", res)
	}

	res = ValidateAnswers(def, Answers{"q1": "A", "q3": "text"})
	if res.Valid || len(res.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", res)
	}
	e := res.Errors[0]
	if e.QuestionID != "q2" || e.BlockID != "b1" {
		t.Fatalf("unexpected error target %+v", e)
	}
	if e.Message != `Field "Employee count" is required` {
		t.Fatalf("unexpected message %q", e.Message)
	}
}

func TestValidateAnswersUsesIDWithoutLabel(t *testing.T) {
	res := ValidateAnswers(surveyDefinition(), Answers{"q1": "A", "q2": "4"})
	if len(res.Errors) != 1 || res.Errors[0].Message != `Field "q3" is required` {
		t.Fatalf("unexpected errors %+v", res.Errors)
	}
}

func TestValidateAnswersSkipsHiddenAndDisabled(t *testing.T) {
	def := Definition{
		Blocks: []Block{{ID: "b1", Title: "B", Questions: []Question{
			{ID: "gate", Type: TypeShortText},
			{ID: "hidden", Type: TypeShortText, Required: true},
			{ID: "disabled", Type: TypeShortText, Required: true},
		}}},
		Logic: []Rule{{
			Condition: &Condition{QuestionID: "gate", Operator: OpIsEmpty},
			Actions: []Action{
				{Type: ActionHide, Target: "hidden"},
				{Type: ActionDisable, Target: "disabled"},
			},
		}},
	}
	if res := ValidateAnswers(def, Answers{}); !res.Valid {
		t.Fatalf("hidden and disabled questions must not be flagged: %+v", res.Errors)
	}
	if res := ValidateAnswers(def, Answers{"gate": "x"}); len(res.Errors) != 2 {
		t.Fatalf("expected both questions flagged once the gate is answered, got %+v", res.Errors)
	}
}

func TestVisibleQuestionsHiddenBlockBeatsShow(t *testing.T) {
	def := Definition{
		Blocks: []Block{
			{ID: "b1", Title: "One", Questions: []Question{{ID: "q1", Type: TypeShortText}}},
			{ID: "b2", Title: "Two", Questions: []Question{{ID: "q2", Type: TypeShortText}}},
		},
		Logic: []Rule{{
			Condition: &ConditionGroup{},
			Actions: []Action{
				{Type: ActionHide, Target: "b2", TargetKind: TargetBlock},
				{Type: ActionShow, Target: "q2"},
			},
		}},
	}
	got := VisibleQuestions(def, nil)
	if len(got) != 1 || got[0].ID != "q1" {
		t.Fatalf("expected only q1 visible, got %+v", got)
	}
}

func TestVisibleQuestionsAnnotations(t *testing.T) {
	got := VisibleQuestions(surveyDefinition(), Answers{"q1": "A"})
	if len(got) != 3 {
		t.Fatalf("expected 3 visible questions, got %d", len(got))
	}
	if got[1].ID != "q2" || !got[1].IsRequired || got[1].BlockTitle != "Basics" {
		t.Fatalf("unexpected annotation %+v", got[1])
	}
	if got[2].BlockID != "b2" {
		t.Fatalf("document order not preserved: %+v", got)
	}
}

func TestWithFilesFillsRequiredFileQuestion(t *testing.T) {
	def := Definition{Blocks: []Block{{ID: "b", Title: "B", Questions: []Question{
		{ID: "doc", Type: TypeFile, Required: true},
	}}}}
	answers := Answers{}
	if ValidateAnswers(def, answers).Valid {
		t.Fatalf("required file question without uploads should fail")
	}
	merged := WithFiles(def, answers, map[string][]string{"doc": {"a.pdf"}})
	if !ValidateAnswers(def, merged).Valid {
		t.Fatalf("uploaded file should satisfy the required check")
	}
	if _, ok := answers["doc"]; ok {
		t.Fatalf("WithFiles must not modify its input")
	}
}
