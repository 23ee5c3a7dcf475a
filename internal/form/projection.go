package form

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// ValueSeparator joins multi-valued technical values (checkbox items and
// attached file names).
const ValueSeparator = ";"

// Pair is one flat (variable, value) row derived from an answer.
type Pair struct {
	QuestionID string `json:"question_id"`
	Variable   string `json:"variable"`
	Value      string `json:"value"`
}

// Project flattens answers into one pair per answered non-file question, in
// document order. Answer keys the definition does not know are dropped.
func Project(def Definition, answers Answers) []Pair {
	out := make([]Pair, 0, len(answers))
	for _, lq := range def.Questions() {
		if lq.Type == TypeFile {
			continue
		}
		answer, ok := answers[lq.ID]
		if !ok {
			continue
		}
		out = append(out, Pair{
			QuestionID: lq.ID,
			Variable:   lq.VariableName(),
			Value:      TechnicalValue(lq.Question, answer),
		})
	}
	return out
}

// TechnicalValue resolves an answer to the value written to projection rows
// and export columns. Radio labels and checkbox items resolve to the option's
// configured value when a label or id matches, and pass through otherwise.
func TechnicalValue(q Question, answer any) string {
	switch q.Type {
	case TypeRadio:
		return resolveOption(q, answer)
	case TypeCheckbox:
		items, ok := asList(answer)
		if !ok {
			return Stringify(answer)
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, resolveOption(q, it))
		}
		return strings.Join(parts, ValueSeparator)
	default:
		return Stringify(answer)
	}
}

func resolveOption(q Question, v any) string {
	s, ok := v.(string)
	if !ok {
		return Stringify(v)
	}
	for _, opt := range q.Options {
		if opt.Label == s || (opt.ID != "" && opt.ID == s) {
			if opt.Value != "" {
				return opt.Value
			}
			break
		}
	}
	return s
}

// FileValue is the projected value of a file question.
func FileValue(names []string) string {
	return strings.Join(names, ValueSeparator)
}

// Stringify renders any decoded answer as text. It never fails: unknown shapes
// fall back to their JSON encoding.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	}
	if f, ok := numeric(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if items, ok := asList(v); ok {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = Stringify(it)
		}
		return strings.Join(parts, ",")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// UnknownAnswerKeys lists answer keys that name no question of def, sorted.
func UnknownAnswerKeys(def Definition, answers Answers) []string {
	known := make(map[string]struct{})
	for _, lq := range def.Questions() {
		known[lq.ID] = struct{}{}
	}
	out := make([]string, 0)
	for k := range answers {
		if _, ok := known[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
