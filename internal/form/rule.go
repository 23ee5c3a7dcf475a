package form

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpIsEmpty      Operator = "isEmpty"
	OpNotEmpty     Operator = "notEmpty"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
)

func (o Operator) Known() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual,
		OpIn, OpNotIn, OpIsEmpty, OpNotEmpty, OpContains, OpNotContains:
		return true
	}
	return false
}

// Unary operators ignore the condition value.
func (o Operator) Unary() bool {
	return o == OpIsEmpty || o == OpNotEmpty
}

type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

type ActionType string

const (
	ActionHide      ActionType = "hide"
	ActionShow      ActionType = "show"
	ActionDisable   ActionType = "disable"
	ActionEnable    ActionType = "enable"
	ActionRequire   ActionType = "require"
	ActionUnrequire ActionType = "unrequire"
	ActionClear     ActionType = "clear"
)

func (a ActionType) Known() bool {
	switch a {
	case ActionHide, ActionShow, ActionDisable, ActionEnable, ActionRequire, ActionUnrequire, ActionClear:
		return true
	}
	return false
}

type TargetKind string

const (
	TargetQuestion TargetKind = "question"
	TargetBlock    TargetKind = "block"
)

type Action struct {
	Type       ActionType `json:"type"`
	Target     string     `json:"target"`
	TargetKind TargetKind `json:"targetType,omitempty"`
}

// Kind resolves the target kind, defaulting to question.
func (a Action) Kind() TargetKind {
	if a.TargetKind == TargetBlock {
		return TargetBlock
	}
	return TargetQuestion
}

// Expr is a node of a rule condition tree. It is either a *Condition or a
// *ConditionGroup.
type Expr interface {
	expr()
}

type Condition struct {
	QuestionID string   `json:"questionId"`
	Operator   Operator `json:"operator"`
	Value      any      `json:"value,omitempty"`
}

func (*Condition) expr() {}

type ConditionGroup struct {
	Logic      Logic
	Conditions []Expr
}

func (*ConditionGroup) expr() {}

func (g ConditionGroup) MarshalJSON() ([]byte, error) {
	conds := g.Conditions
	if conds == nil {
		conds = []Expr{}
	}
	return json.Marshal(struct {
		Logic      Logic  `json:"logic,omitempty"`
		Conditions []Expr `json:"conditions"`
	}{Logic: g.Logic, Conditions: conds})
}

func (g *ConditionGroup) UnmarshalJSON(data []byte) error {
	var wire struct {
		Logic      Logic             `json:"logic"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	g.Logic = wire.Logic
	g.Conditions = make([]Expr, 0, len(wire.Conditions))
	for i, raw := range wire.Conditions {
		e, err := decodeExpr(raw)
		if err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		g.Conditions = append(g.Conditions, e)
	}
	return nil
}

// Rule pairs a condition tree with the actions applied when it holds.
type Rule struct {
	ID        string
	Condition Expr
	Actions   []Action
}

func (r Rule) MarshalJSON() ([]byte, error) {
	actions := r.Actions
	if actions == nil {
		actions = []Action{}
	}
	return json.Marshal(struct {
		ID        string   `json:"id,omitempty"`
		Condition Expr     `json:"condition"`
		Actions   []Action `json:"actions"`
	}{ID: r.ID, Condition: r.Condition, Actions: actions})
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID        string          `json:"id"`
		Condition json.RawMessage `json:"condition"`
		Actions   []Action        `json:"actions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	cond, err := decodeExpr(wire.Condition)
	if err != nil {
		return fmt.Errorf("rule %q condition: %w", wire.ID, err)
	}
	r.ID = wire.ID
	r.Condition = cond
	r.Actions = wire.Actions
	return nil
}

// decodeExpr picks the group variant whenever the object carries a non-null
// "conditions" key. A missing or null node decodes to nil.
func decodeExpr(raw json.RawMessage) (Expr, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	if children := bytes.TrimSpace(fields["conditions"]); len(children) > 0 && !bytes.Equal(children, []byte("null")) {
		g := &ConditionGroup{}
		if err := json.Unmarshal(trimmed, g); err != nil {
			return nil, err
		}
		return g, nil
	}
	c := &Condition{}
	if err := json.Unmarshal(trimmed, c); err != nil {
		return nil, err
	}
	return c, nil
}
