package form

import (
	"errors"
	"testing"
)

func TestCheckDefinition(t *testing.T) {
	valid := surveyDefinition()
	if err := CheckDefinition(valid); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
	if err := CheckDefinition(DefaultDefinition()); err != nil {
		t.Fatalf("default definition should pass, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(d *Definition)
	}{
		{name: "no blocks", mutate: func(d *Definition) { d.Blocks = nil }},
		{name: "duplicate question", mutate: func(d *Definition) {
			d.Blocks[1].Questions = append(d.Blocks[1].Questions, Question{ID: "q1", Type: TypeShortText})
		}},
		{name: "unknown type", mutate: func(d *Definition) { d.Blocks[0].Questions[1].Type = "date" }},
		{name: "radio without options", mutate: func(d *Definition) { d.Blocks[0].Questions[0].Options = nil }},
		{name: "unknown operator", mutate: func(d *Definition) {
			d.Logic[0].Condition = &Condition{QuestionID: "q1", Operator: "like"}
		}},
		{name: "unknown action", mutate: func(d *Definition) { d.Logic[0].Actions[0].Type = "explode" }},
		{name: "dangling question target", mutate: func(d *Definition) { d.Logic[0].Actions[0].Target = "nope" }},
		{name: "dangling block target", mutate: func(d *Definition) { d.Logic[1].Actions[0].Target = "b9" }},
		{name: "block target declared as question", mutate: func(d *Definition) { d.Logic[1].Actions[0].TargetKind = TargetQuestion }},
		{name: "in without list", mutate: func(d *Definition) {
			d.Logic[0].Condition = &Condition{QuestionID: "q1", Operator: OpIn, Value: "A"}
		}},
		{name: "shared variable", mutate: func(d *Definition) { d.Blocks[0].Questions[1].Variable = "q1" }},
		{name: "scale range", mutate: func(d *Definition) {
			d.Blocks[0].Questions[1] = Question{ID: "q2", Type: TypeScale, Scale: &ScaleConfig{Min: 5, Max: 1}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := surveyDefinition()
			tc.mutate(&d)
			err := CheckDefinition(d)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("expected ErrInvalidDefinition, got %v", err)
			}
		})
	}
}
