package form

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDefinition = errors.New("invalid definition")

// CheckDefinition is the edit-time structural check. Evaluation tolerates
// everything rejected here; saving a definition does not.
func CheckDefinition(def Definition) error {
	if len(def.Blocks) == 0 {
		return invalid("definition needs at least one block")
	}

	blockIDs := make(map[string]struct{}, len(def.Blocks))
	questionIDs := make(map[string]struct{})
	for i, b := range def.Blocks {
		if strings.TrimSpace(b.ID) == "" {
			return invalid("block %d has no id", i+1)
		}
		if strings.TrimSpace(b.Title) == "" {
			return invalid("block %q has no title", b.ID)
		}
		if _, dup := blockIDs[b.ID]; dup {
			return invalid("duplicate block id %q", b.ID)
		}
		blockIDs[b.ID] = struct{}{}

		for j, q := range b.Questions {
			if strings.TrimSpace(q.ID) == "" {
				return invalid("question %d in block %q has no id", j+1, b.ID)
			}
			if _, dup := questionIDs[q.ID]; dup {
				return invalid("duplicate question id %q", q.ID)
			}
			questionIDs[q.ID] = struct{}{}
			if err := checkQuestion(q); err != nil {
				return err
			}
		}
	}

	variables := make(map[string]string)
	for _, lq := range def.Questions() {
		v := lq.VariableName()
		if other, dup := variables[v]; dup {
			return invalid("questions %q and %q share variable %q", other, lq.ID, v)
		}
		variables[v] = lq.ID
	}

	for i, r := range def.Logic {
		if r.Condition == nil {
			return invalid("rule %d has no condition", i+1)
		}
		if err := checkExpr(r.Condition, questionIDs); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
		if len(r.Actions) == 0 {
			return invalid("rule %d has no actions", i+1)
		}
		for _, a := range r.Actions {
			if !a.Type.Known() {
				return invalid("rule %d: unknown action type %q", i+1, a.Type)
			}
			if a.TargetKind != "" && a.TargetKind != TargetQuestion && a.TargetKind != TargetBlock {
				return invalid("rule %d: unknown target type %q", i+1, a.TargetKind)
			}
			if a.Kind() == TargetBlock {
				if _, ok := blockIDs[a.Target]; !ok {
					return invalid("rule %d: unknown block %q", i+1, a.Target)
				}
				continue
			}
			if _, ok := questionIDs[a.Target]; !ok {
				return invalid("rule %d: unknown question %q", i+1, a.Target)
			}
		}
	}
	return nil
}

func checkQuestion(q Question) error {
	if !q.Type.Known() {
		return invalid("question %q has unknown type %q", q.ID, q.Type)
	}
	switch q.Type {
	case TypeRadio, TypeCheckbox:
		if len(q.Options) == 0 {
			return invalid("question %q needs options", q.ID)
		}
		for _, o := range q.Options {
			if strings.TrimSpace(o.Label) == "" {
				return invalid("question %q has an option without label", q.ID)
			}
		}
	case TypeScale:
		if q.Scale != nil && q.Scale.Min >= q.Scale.Max {
			return invalid("question %q scale min must be below max", q.ID)
		}
	case TypeFile:
		if q.MaxFiles < 0 {
			return invalid("question %q has negative maxFiles", q.ID)
		}
	}
	return nil
}

func checkExpr(e Expr, questionIDs map[string]struct{}) error {
	switch n := e.(type) {
	case *Condition:
		if !n.Operator.Known() {
			return invalid("unknown operator %q", n.Operator)
		}
		if _, ok := questionIDs[n.QuestionID]; !ok {
			return invalid("condition refers to unknown question %q", n.QuestionID)
		}
		if (n.Operator == OpIn || n.Operator == OpNotIn) && !isList(n.Value) {
			return invalid("operator %q on %q needs a list value", n.Operator, n.QuestionID)
		}
	case *ConditionGroup:
		if n.Logic != "" && n.Logic != LogicAnd && n.Logic != LogicOr {
			return invalid("unknown group logic %q", n.Logic)
		}
		for _, child := range n.Conditions {
			if err := checkExpr(child, questionIDs); err != nil {
				return err
			}
		}
	default:
		return invalid("empty condition")
	}
	return nil
}

func isList(v any) bool {
	_, ok := asList(v)
	return ok
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}
