package form

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type QuestionType string

const (
	TypeShortText QuestionType = "short_text"
	TypeLongText  QuestionType = "long_text"
	TypeRadio     QuestionType = "radio"
	TypeCheckbox  QuestionType = "checkbox"
	TypeScale     QuestionType = "scale"
	TypeFile      QuestionType = "file"
)

func (t QuestionType) Known() bool {
	switch t {
	case TypeShortText, TypeLongText, TypeRadio, TypeCheckbox, TypeScale, TypeFile:
		return true
	}
	return false
}

// Answers maps question id to the respondent's value. Text and radio answers
// are strings, checkbox answers are lists, scale answers are numbers.
type Answers map[string]any

// Definition is the structural document of a questionnaire. It is stored as
// JSON both on the live questionnaire row and inside every published version.
type Definition struct {
	Blocks []Block `json:"blocks"`
	Logic  []Rule  `json:"logic"`
}

type Block struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

type Question struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Label       string       `json:"label"`
	Description string       `json:"description,omitempty"`
	Variable    string       `json:"variable,omitempty"`
	Required    bool         `json:"required"`
	Options     []Option     `json:"options,omitempty"`
	Scale       *ScaleConfig `json:"scale,omitempty"`
	MaxFiles    int          `json:"maxFiles,omitempty"`
}

// VariableName is the export column for the question; the id is used when no
// variable was configured.
func (q Question) VariableName() string {
	if q.Variable != "" {
		return q.Variable
	}
	return q.ID
}

// DisplayName is what error messages show for the question.
func (q Question) DisplayName() string {
	if q.Label != "" {
		return q.Label
	}
	return q.ID
}

type Option struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

type ScaleConfig struct {
	Min    float64      `json:"min"`
	Max    float64      `json:"max"`
	Step   float64      `json:"step,omitempty"`
	Points []ScalePoint `json:"points,omitempty"`
}

type ScalePoint struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// Settings are per-questionnaire behaviour switches read at write time.
type Settings struct {
	AutosaveSeconds int  `json:"autosaveSeconds"`
	AllowResubmit   bool `json:"allowResubmit"`
}

func DefaultSettings() Settings {
	return Settings{AutosaveSeconds: 10, AllowResubmit: false}
}

func DefaultDefinition() Definition {
	return Definition{
		Blocks: []Block{{
			ID:        "block-1",
			Title:     "General information",
			Questions: []Question{},
		}},
		Logic: []Rule{},
	}
}

// LocatedQuestion is a question together with the block that owns it.
type LocatedQuestion struct {
	Question
	BlockID    string `json:"blockId"`
	BlockTitle string `json:"blockTitle"`
}

// Questions flattens every question in document order.
func (d Definition) Questions() []LocatedQuestion {
	out := make([]LocatedQuestion, 0)
	for _, b := range d.Blocks {
		for _, q := range b.Questions {
			out = append(out, LocatedQuestion{Question: q, BlockID: b.ID, BlockTitle: b.Title})
		}
	}
	return out
}

func (d Definition) Question(id string) (LocatedQuestion, bool) {
	for _, b := range d.Blocks {
		for _, q := range b.Questions {
			if q.ID == id {
				return LocatedQuestion{Question: q, BlockID: b.ID, BlockTitle: b.Title}, true
			}
		}
	}
	return LocatedQuestion{}, false
}

func (d Definition) hasBlock(id string) bool {
	for _, b := range d.Blocks {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Parse decodes a stored definition document. Empty input yields an empty
// definition rather than an error.
func Parse(raw []byte) (Definition, error) {
	var def Definition
	if len(bytes.TrimSpace(raw)) == 0 {
		return def, nil
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

func ParseSettings(raw []byte) Settings {
	s := DefaultSettings()
	if len(bytes.TrimSpace(raw)) == 0 {
		return s
	}
	_ = json.Unmarshal(raw, &s)
	return s
}
