package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"drp/internal/form"
)

func sampleDataset() *Dataset {
	submitted := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	return &Dataset{
		QuestionnaireID: 7,
		Code:            "QNR-2026-0A1B2C3D",
		TemplateCSS:     "body { color: #333; }",
		Definition: form.Definition{
			Blocks: []form.Block{{
				ID:    "b1",
				Title: "General",
				Questions: []form.Question{
					{ID: "q1", Type: form.TypeShortText, Label: "Company", Variable: "company"},
					{ID: "q2", Type: form.TypeCheckbox, Label: "Channels", Variable: "channels", Options: []form.Option{
						{ID: "o1", Label: "Yes", Value: "Y"},
						{ID: "o2", Label: "Maybe", Value: "M"},
					}},
					{ID: "q3", Type: form.TypeRadio, Label: "Size", Required: true, Options: []form.Option{
						{ID: "s", Label: "Small", Value: "1"},
						{ID: "l", Label: "Large"},
					}},
					{ID: "q4", Type: form.TypeFile, Label: "Statement", Variable: "statement"},
				},
			}},
		},
		Rows: []Row{
			{
				RespondentID: 1,
				Name:         `Acme "North"`,
				ICO:          "01234567",
				Status:       "submitted",
				SubmittedAt:  &submitted,
				Answers: form.Answers{
					"q1": "Acme",
					"q2": []any{"Yes", "Maybe"},
					"q3": "Small",
				},
			},
			{RespondentID: 2, Name: "Beta", Status: StatusNotStarted, Answers: form.Answers{}},
		},
		Files: []File{
			{RespondentID: 1, RespondentName: `Acme "North"`, QuestionID: "q4", OriginalName: "report.pdf", StoredName: "a.pdf", MimeType: "application/pdf", SizeBytes: 3},
			{RespondentID: 1, RespondentName: `Acme "North"`, QuestionID: "q4", OriginalName: "annex.pdf", StoredName: "b.pdf", MimeType: "application/pdf", SizeBytes: 4},
		},
	}
}

func TestBuildTableMatchesProjection(t *testing.T) {
	ds := sampleDataset()
	table := BuildTable(ds)

	wantHeader := []string{"respondent", "ico", "status", "submitted_at", "company", "channels", "q3", "statement"}
	if strings.Join(table.Header, ",") != strings.Join(wantHeader, ",") {
		t.Fatalf("unexpected header %v", table.Header)
	}

	col := make(map[string]int)
	for i, h := range table.Header {
		col[h] = i
	}
	first := table.Records[0]
	for _, p := range form.Project(ds.Definition, ds.Rows[0].Answers) {
		if got := first[col[p.Variable]]; got != p.Value {
			t.Fatalf("variable %s: export %q, projection %q", p.Variable, got, p.Value)
		}
	}
	if first[col["channels"]] != "Y;M" {
		t.Fatalf("expected Y;M, got %q", first[col["channels"]])
	}
	if first[col["statement"]] != form.FileValue([]string{"report.pdf", "annex.pdf"}) {
		t.Fatalf("unexpected file column %q", first[col["statement"]])
	}
	if first[col["submitted_at"]] != "2026-03-04T09:30:00Z" {
		t.Fatalf("unexpected submitted_at %q", first[col["submitted_at"]])
	}

	second := table.Records[1]
	if second[col["status"]] != StatusNotStarted || second[col["company"]] != "" || second[col["statement"]] != "" {
		t.Fatalf("unexpected empty row %v", second)
	}
}

func TestWriteCSVQuotesEveryField(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, BuildTable(sampleDataset())); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\ufeff") {
		t.Fatalf("missing BOM")
	}
	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\ufeff"), "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], `"respondent","ico","status","submitted_at","company"`) {
		t.Fatalf("unexpected header line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], `"Acme ""North""","01234567","submitted"`) {
		t.Fatalf("unexpected data line %q", lines[1])
	}
	if !strings.Contains(lines[1], `"Y;M"`) {
		t.Fatalf("checkbox value missing from %q", lines[1])
	}
}

func TestWriteLongCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []LongRow{
		{RespondentID: 1, Name: "Acme, a.s.", Variable: "channels", Value: "Y;M", UpdatedAt: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)},
	}
	if err := WriteLongCSV(&buf, rows); err != nil {
		t.Fatalf("WriteLongCSV: %v", err)
	}
	want := "\ufeffrespondent_id,respondent,variable,value,updated_at\r\n1,\"Acme, a.s.\",channels,Y;M,2026-03-04T09:00:00Z\r\n"
	if buf.String() != want {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestOptionsCodebook(t *testing.T) {
	got := optionsCodebook([]form.Option{{ID: "s", Label: "Small", Value: "1"}, {ID: "l", Label: "Large"}})
	if got != `1="Small"; l="Large"` {
		t.Fatalf("unexpected codebook options %q", got)
	}
}
