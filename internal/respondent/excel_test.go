package respondent

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func buildSheet(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestParseImportRowsFromWorkbook(t *testing.T) {
	buf := buildSheet(t, [][]any{
		{"Name", "ICO", "Email", "valid_from", "valid_until"},
		{"Acme", "12345678", "info@acme.cz", "2026-05-01", "2026-05-31 23:59"},
		{"", "", "", "", ""},
		{"", "87654321", "", "", ""},
		{"Bad Date", "", "", "tomorrow", ""},
		{"Beta", "", "", "", ""},
	})

	rows, err := readSheetRows(buf)
	if err != nil {
		t.Fatalf("readSheetRows: %v", err)
	}
	inputs, report, err := parseImportRows(rows, time.UTC)
	if err != nil {
		t.Fatalf("parseImportRows: %v", err)
	}

	if report.TotalRows != 4 {
		t.Fatalf("expected 4 non-blank rows, got %d", report.TotalRows)
	}
	if report.FailedRows != 2 || len(report.Errors) != 2 {
		t.Fatalf("expected 2 failed rows, got %+v", report)
	}
	if report.Errors[0].Row != 4 || report.Errors[1].Row != 5 {
		t.Fatalf("unexpected error rows %+v", report.Errors)
	}
	if len(inputs) != 2 || inputs[0].Name != "Acme" || inputs[1].Name != "Beta" {
		t.Fatalf("unexpected inputs %+v", inputs)
	}

	acme := inputs[0]
	if acme.Row != 2 || acme.ICO != "12345678" || acme.Email != "info@acme.cz" {
		t.Fatalf("unexpected first row %+v", acme)
	}
	wantFrom := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	wantUntil := time.Date(2026, 5, 31, 23, 59, 0, 0, time.UTC)
	if acme.ValidFrom == nil || !acme.ValidFrom.Equal(wantFrom) {
		t.Fatalf("unexpected valid_from %v", acme.ValidFrom)
	}
	if acme.ValidUntil == nil || !acme.ValidUntil.Equal(wantUntil) {
		t.Fatalf("unexpected valid_until %v", acme.ValidUntil)
	}
}

func TestParseImportRowsRequiresNameColumn(t *testing.T) {
	_, _, err := parseImportRows([][]string{{"ico", "email"}, {"12345678", ""}}, time.UTC)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, _, err = parseImportRows([][]string{{"name"}}, time.UTC)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for header-only sheet, got %v", err)
	}
}

func TestReadSheetRowsRejectsGarbage(t *testing.T) {
	if _, err := readSheetRows(bytes.NewBufferString("name,ico\nAcme,1")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseTimeLoose(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2026-01-02T10:00:00Z", want: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)},
		{in: "2026-01-02 10:00", want: time.Date(2026, 1, 2, 10, 0, 0, 0, loc)},
		{in: "02.01.2026", want: time.Date(2026, 1, 2, 0, 0, 0, 0, loc)},
	}
	for _, tc := range tests {
		got, err := parseTimeLoose(tc.in, loc)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got == nil || !got.Equal(tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}
	if got, err := parseTimeLoose("  ", loc); err != nil || got != nil {
		t.Fatalf("blank should be nil, got %v %v", got, err)
	}
	if _, err := parseTimeLoose("soon", loc); err == nil {
		t.Fatalf("expected error for unparsable date")
	}
}
