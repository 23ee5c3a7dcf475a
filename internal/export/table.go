package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"drp/internal/form"
)

const utf8BOM = "\ufeff"

var baseHeaders = []string{"respondent", "ico", "status", "submitted_at"}

// Table is the wide layout shared by CSV, the XLSX data sheet and the
// bundle: one row per respondent, one column per question variable.
type Table struct {
	Header  []string
	Records [][]string
}

// BuildTable resolves every answer through form.TechnicalValue, the same
// routine the continuous projection uses, so both produce identical values.
// File questions list the original names of the uploaded files.
func BuildTable(ds *Dataset) Table {
	questions := ds.Definition.Questions()
	header := make([]string, 0, len(baseHeaders)+len(questions))
	header = append(header, baseHeaders...)
	for _, q := range questions {
		header = append(header, q.VariableName())
	}

	names := fileNames(ds.Files)
	records := make([][]string, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Name, row.ICO, row.Status, formatTimestamp(row.SubmittedAt))
		for _, q := range questions {
			rec = append(rec, cellValue(q.Question, row, names))
		}
		records = append(records, rec)
	}
	return Table{Header: header, Records: records}
}

func cellValue(q form.Question, row Row, names map[fileKey][]string) string {
	if q.Type == form.TypeFile {
		if files := names[fileKey{row.RespondentID, q.ID}]; len(files) > 0 {
			return form.FileValue(files)
		}
		return ""
	}
	answer, ok := row.Answers[q.ID]
	if !ok {
		return ""
	}
	return form.TechnicalValue(q, answer)
}

type fileKey struct {
	respondentID int64
	questionID   string
}

func fileNames(files []File) map[fileKey][]string {
	out := make(map[fileKey][]string)
	for _, f := range files {
		k := fileKey{f.RespondentID, f.QuestionID}
		out[k] = append(out[k], f.OriginalName)
	}
	return out
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteCSV writes t with a UTF-8 byte order mark. Every field is quoted.
func WriteCSV(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(utf8BOM); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err := writeQuotedLine(bw, t.Header); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, rec := range t.Records {
		if err := writeQuotedLine(bw, rec); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func writeQuotedLine(bw *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(quoteField(f)); err != nil {
			return err
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

func quoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteLongCSV writes projection rows in long format, one line per
// (respondent, variable) pair.
func WriteLongCSV(w io.Writer, rows []LongRow) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write long csv: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write([]string{"respondent_id", "respondent", "variable", "value", "updated_at"}); err != nil {
		return fmt.Errorf("write long csv: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			strconv.FormatInt(r.RespondentID, 10),
			r.Name,
			r.Variable,
			r.Value,
			r.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write long csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write long csv: %w", err)
	}
	return nil
}
