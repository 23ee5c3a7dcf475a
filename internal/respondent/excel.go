package respondent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

type ImportRowError struct {
	Row   int    `json:"row"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Created     []Created        `json:"created"`
	Errors      []ImportRowError `json:"errors"`
}

var excelHeaders = []string{"name", "ico", "email", "internal_note", "valid_from", "valid_until", "token", "status", "locked", "first_accessed_at", "submitted_at"}

var importTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

// parseTimeLoose accepts the formats operators commonly type into a sheet.
// Values without a zone are read in loc.
func parseTimeLoose(v string, loc *time.Location) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range importTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// ExportExcel writes the respondent list of a questionnaire, tokens included,
// in the layout ImportExcel reads back.
func (s *Service) ExportExcel(ctx context.Context, questionnaireID int64) ([]byte, error) {
	items, err := s.List(ctx, questionnaireID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, h := range excelHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		values := []any{
			it.Name,
			it.ICO,
			it.Email,
			it.InternalNote,
			formatTime(it.ValidFrom),
			formatTime(it.ValidUntil),
			it.Token,
			it.Status,
			it.Locked,
			formatTime(it.FirstAccessedAt),
			formatTime(it.SubmittedAt),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "K", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportExcel creates one respondent per sheet row. Rows are independent: a
// bad row is reported and the rest still import.
func (s *Service) ImportExcel(ctx context.Context, questionnaireID, actorID int64, r io.Reader) (*ImportReport, error) {
	if questionnaireID <= 0 {
		return nil, ErrInvalidInput
	}
	rows, err := readSheetRows(r)
	if err != nil {
		return nil, err
	}
	inputs, report, err := parseImportRows(rows, time.Local)
	if err != nil {
		return nil, err
	}

	for _, in := range inputs {
		normalized, err := s.normalize(in.Input)
		if err != nil {
			report.fail(in.Row, in.Name, strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "))
			continue
		}
		created, err := insertRespondent(ctx, s.db, questionnaireID, normalized)
		if err != nil {
			if errors.Is(err, ErrQuestionnaireNotFound) {
				return nil, err
			}
			report.fail(in.Row, in.Name, "could not create respondent")
			continue
		}
		report.SuccessRows++
		report.Created = append(report.Created, *created)
	}

	s.logAudit(ctx, questionnaireID, actorID, "respondents_imported", 0, map[string]any{
		"count":  report.SuccessRows,
		"failed": report.FailedRows,
		"source": "xlsx",
	})
	return report, nil
}

func (r *ImportReport) fail(row int, name, msg string) {
	r.FailedRows++
	r.Errors = append(r.Errors, ImportRowError{Row: row, Name: name, Error: msg})
}

type importRow struct {
	Input
	Row int
}

func readSheetRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open excel file", ErrInvalidInput)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

// parseImportRows maps sheet rows by header name. Rows with every cell blank
// are ignored; rows without a name are reported.
func parseImportRows(rows [][]string, loc *time.Location) ([]importRow, *ImportReport, error) {
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}
	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := header["name"]; !ok {
		return nil, nil, fmt.Errorf("%w: missing required column: name", ErrInvalidInput)
	}

	report := &ImportReport{Created: make([]Created, 0), Errors: make([]ImportRowError, 0)}
	out := make([]importRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		rowNo := i + 1
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		name := get("name")
		if name == "" {
			report.fail(rowNo, "", "name is required")
			continue
		}
		from, err := parseTimeLoose(get("valid_from"), loc)
		if err != nil {
			report.fail(rowNo, name, "valid_from: "+err.Error())
			continue
		}
		until, err := parseTimeLoose(get("valid_until"), loc)
		if err != nil {
			report.fail(rowNo, name, "valid_until: "+err.Error())
			continue
		}
		out = append(out, importRow{
			Row: rowNo,
			Input: Input{
				Name:         name,
				ICO:          get("ico"),
				Email:        get("email"),
				InternalNote: get("internal_note"),
				ValidFrom:    from,
				ValidUntil:   until,
			},
		})
	}
	return out, report, nil
}
