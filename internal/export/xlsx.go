package export

import (
	"fmt"
	"io"
	"strings"

	"drp/internal/form"

	"github.com/xuri/excelize/v2"
)

const (
	sheetData     = "Data"
	sheetCodebook = "Codebook"
	sheetFiles    = "Files"
)

// WriteXLSX renders the data table, a codebook mapping variables to labels
// and option values, and the uploaded file list as three sheets.
func WriteXLSX(w io.Writer, ds *Dataset) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetData); err != nil {
		return fmt.Errorf("rename data sheet: %w", err)
	}
	for _, name := range []string{sheetCodebook, sheetFiles} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E0E0E0"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	t := BuildTable(ds)
	data := make([][]any, 0, len(t.Records)+1)
	data = append(data, stringsToRow(t.Header))
	for _, rec := range t.Records {
		data = append(data, stringsToRow(rec))
	}
	if err := writeSheet(f, sheetData, data, headerStyle, 20); err != nil {
		return err
	}

	codebook := [][]any{{"Variable", "Type", "Label", "Required", "Block", "Options"}}
	for _, q := range ds.Definition.Questions() {
		required := "No"
		if q.Required {
			required = "Yes"
		}
		codebook = append(codebook, []any{q.VariableName(), string(q.Type), q.Label, required, q.BlockTitle, optionsCodebook(q.Options)})
	}
	if err := writeSheet(f, sheetCodebook, codebook, headerStyle, 25); err != nil {
		return err
	}

	files := [][]any{{"Respondent", "Question", "File name", "Type", "Size (bytes)"}}
	for _, fl := range ds.Files {
		files = append(files, []any{fl.RespondentName, fl.QuestionID, fl.OriginalName, fl.MimeType, fl.SizeBytes})
	}
	if err := writeSheet(f, sheetFiles, files, headerStyle, 25); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any, headerStyle int, width float64) error {
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	lastCol, _ := excelize.ColumnNumberToName(len(rows[0]))
	lastHeader, _ := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err := f.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	_ = f.SetColWidth(sheet, "A", lastCol, width)
	return nil
}

func stringsToRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// optionsCodebook renders options as value="label" pairs.
func optionsCodebook(opts []form.Option) string {
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		value := o.Value
		if value == "" {
			value = o.ID
		}
		parts = append(parts, fmt.Sprintf("%s=%q", value, o.Label))
	}
	return strings.Join(parts, "; ")
}
