package form

import (
	"encoding/json"
	"log"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

// with and without never mutate the receiver; a Decision shares sets between
// snapshots and only copies the one that changes.
func (s idSet) with(id string) idSet {
	if s.has(id) {
		return s
	}
	out := make(idSet, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out[id] = struct{}{}
	return out
}

func (s idSet) without(id string) idSet {
	if !s.has(id) {
		return s
	}
	out := make(idSet, len(s))
	for k := range s {
		if k != id {
			out[k] = struct{}{}
		}
	}
	return out
}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decision is the outcome of running a rule list against a set of answers.
// The zero value hides, disables, requires and clears nothing.
type Decision struct {
	hiddenBlocks    idSet
	hiddenQuestions idSet
	disabled        idSet
	required        idSet
	cleared         idSet
}

func (d Decision) BlockHidden(id string) bool    { return d.hiddenBlocks.has(id) }
func (d Decision) QuestionHidden(id string) bool { return d.hiddenQuestions.has(id) }
func (d Decision) Disabled(id string) bool       { return d.disabled.has(id) }
func (d Decision) Required(id string) bool       { return d.required.has(id) }
func (d Decision) Cleared(id string) bool        { return d.cleared.has(id) }

type DecisionView struct {
	HiddenBlocks    []string `json:"hiddenBlocks"`
	HiddenQuestions []string `json:"hiddenQuestions"`
	Disabled        []string `json:"disabledQuestions"`
	Required        []string `json:"requiredQuestions"`
	Cleared         []string `json:"clearedQuestions"`
}

func (d Decision) View() DecisionView {
	return DecisionView{
		HiddenBlocks:    d.hiddenBlocks.sorted(),
		HiddenQuestions: d.hiddenQuestions.sorted(),
		Disabled:        d.disabled.sorted(),
		Required:        d.required.sorted(),
		Cleared:         d.cleared.sorted(),
	}
}

func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.View())
}

func (d Decision) apply(a Action) Decision {
	switch a.Type {
	case ActionHide:
		if a.Kind() == TargetBlock {
			d.hiddenBlocks = d.hiddenBlocks.with(a.Target)
		} else {
			d.hiddenQuestions = d.hiddenQuestions.with(a.Target)
		}
	case ActionShow:
		if a.Kind() == TargetBlock {
			d.hiddenBlocks = d.hiddenBlocks.without(a.Target)
		} else {
			d.hiddenQuestions = d.hiddenQuestions.without(a.Target)
		}
	case ActionDisable:
		d.disabled = d.disabled.with(a.Target)
	case ActionEnable:
		d.disabled = d.disabled.without(a.Target)
	case ActionRequire:
		d.required = d.required.with(a.Target)
	case ActionUnrequire:
		d.required = d.required.without(a.Target)
	case ActionClear:
		d.cleared = d.cleared.with(a.Target)
	default:
		log.Printf("form: ignoring unknown action type %q on %q", a.Type, a.Target)
	}
	return d
}

// Evaluate folds the rules in order over an empty Decision. A later action on
// the same target and category overrides an earlier one.
func Evaluate(rules []Rule, answers Answers) Decision {
	var d Decision
	for _, rule := range rules {
		if rule.Condition == nil || rule.Actions == nil {
			continue
		}
		if !Holds(rule.Condition, answers) {
			continue
		}
		for _, a := range rule.Actions {
			d = d.apply(a)
		}
	}
	return d
}

// Holds reports whether a condition tree is satisfied by the answers.
// An empty group holds.
func Holds(e Expr, answers Answers) bool {
	switch n := e.(type) {
	case *Condition:
		if n == nil {
			return false
		}
		return evalCondition(*n, answers)
	case *ConditionGroup:
		if n == nil {
			return false
		}
		if len(n.Conditions) == 0 {
			return true
		}
		if n.Logic == LogicOr {
			for _, child := range n.Conditions {
				if Holds(child, answers) {
					return true
				}
			}
			return false
		}
		for _, child := range n.Conditions {
			if !Holds(child, answers) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func evalCondition(c Condition, answers Answers) bool {
	answer := answers[c.QuestionID]

	switch c.Operator {
	case OpEqual:
		return strictEqual(answer, c.Value)
	case OpNotEqual:
		return !strictEqual(answer, c.Value)
	case OpGreater:
		return compareNumbers(answer, c.Value, func(a, b float64) bool { return a > b })
	case OpLess:
		return compareNumbers(answer, c.Value, func(a, b float64) bool { return a < b })
	case OpGreaterEqual:
		return compareNumbers(answer, c.Value, func(a, b float64) bool { return a >= b })
	case OpLessEqual:
		return compareNumbers(answer, c.Value, func(a, b float64) bool { return a <= b })
	case OpIn:
		allowed, ok := asList(c.Value)
		return ok && listHas(allowed, answer)
	case OpNotIn:
		allowed, ok := asList(c.Value)
		return ok && !listHas(allowed, answer)
	case OpIsEmpty:
		return IsEmpty(answer)
	case OpNotEmpty:
		return !IsEmpty(answer)
	case OpContains:
		items, ok := asList(answer)
		return ok && listHas(items, c.Value)
	case OpNotContains:
		items, ok := asList(answer)
		return !ok || !listHas(items, c.Value)
	default:
		log.Printf("form: unknown operator %q in condition on %q", c.Operator, c.QuestionID)
		return false
	}
}

// IsEmpty is the emptiness predicate shared by the unary operators and the
// required-field check: nil, "" and zero-length lists are empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		return ok && af == bf
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toNumber coerces an operand for the relational operators. Blank strings,
// nil and anything unparsable fail the comparison.
func toNumber(v any) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, true
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func compareNumbers(a, b any, cmp func(a, b float64) bool) bool {
	af, ok := toNumber(a)
	if !ok {
		return false
	}
	bf, ok := toNumber(b)
	if !ok {
		return false
	}
	return cmp(af, bf)
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func listHas(items []any, v any) bool {
	for _, it := range items {
		if strictEqual(it, v) {
			return true
		}
	}
	return false
}
