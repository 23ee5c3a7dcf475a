package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"
	"strconv"
	"strings"
)

// WriteBundle writes a zip archive with the definition, the template CSS, the
// CSV export and every uploaded file under files/<respondent>/<question>/.
// Files missing from storage are skipped.
func (s *Service) WriteBundle(ctx context.Context, w io.Writer, ds *Dataset) error {
	zw := zip.NewWriter(w)

	def, err := json.MarshalIndent(ds.Definition, "", "  ")
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	if err := addZipEntry(zw, "questionnaire-definition.json", bytes.NewReader(def)); err != nil {
		return err
	}
	if strings.TrimSpace(ds.TemplateCSS) != "" {
		if err := addZipEntry(zw, "template.css", strings.NewReader(ds.TemplateCSS)); err != nil {
			return err
		}
	}

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, BuildTable(ds)); err != nil {
		return err
	}
	if err := addZipEntry(zw, "export.csv", &csvBuf); err != nil {
		return err
	}

	if s.files != nil {
		used := make(map[string]int)
		for _, f := range ds.Files {
			name := uniqueEntryName(used, path.Join("files", respondentDir(f), safeSegment(f.QuestionID, "question"), safeSegment(f.OriginalName, "file")))
			body, err := s.files.Open(ctx, f.StoredName)
			if err != nil {
				log.Printf("export: bundle skips %s: %v", f.StoredName, err)
				continue
			}
			err = addZipEntry(zw, name, body)
			_ = body.Close()
			if err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish bundle: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, name string, body io.Reader) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(fw, body); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func respondentDir(f File) string {
	return safeSegment(f.RespondentName, strconv.FormatInt(f.RespondentID, 10))
}

// safeSegment turns s into a single path element.
func safeSegment(s, fallback string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}

func uniqueEntryName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	dir, file := path.Split(name)
	ext := path.Ext(file)
	return fmt.Sprintf("%s%s-%d%s", dir, strings.TrimSuffix(file, ext), n+1, ext)
}
