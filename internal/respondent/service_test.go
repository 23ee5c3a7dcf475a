package respondent

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

func TestGenerateTokenAlphabet(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		tok, err := generateToken()
		if err != nil {
			t.Fatalf("generateToken: %v", err)
		}
		if len(tok) != tokenLength {
			t.Fatalf("expected %d chars, got %q", tokenLength, tok)
		}
		for _, c := range tok {
			if !strings.ContainsRune(tokenAlphabet, c) {
				t.Fatalf("token %q has char %q outside the alphabet", tok, c)
			}
		}
		seen[tok] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("too many duplicate tokens: %d unique of 50", len(seen))
	}
	for _, c := range "IO01" {
		if strings.ContainsRune(tokenAlphabet, c) {
			t.Fatalf("alphabet must not contain %q", c)
		}
	}
}

func TestNormalizeInput(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(48 * time.Hour)

	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{name: "minimal", in: Input{Name: "Acme s.r.o."}},
		{name: "full", in: Input{Name: "Acme", ICO: "12345678", Email: "Info@Acme.CZ", ValidFrom: &from, ValidUntil: &until}},
		{name: "open ended", in: Input{Name: "Acme", ValidFrom: &from}},
		{name: "missing name", in: Input{Name: "  "}, wantErr: true},
		{name: "short ico", in: Input{Name: "Acme", ICO: "1234567"}, wantErr: true},
		{name: "alpha ico", in: Input{Name: "Acme", ICO: "1234567a"}, wantErr: true},
		{name: "bad email", in: Input{Name: "Acme", Email: "not-an-email"}, wantErr: true},
		{name: "inverted window", in: Input{Name: "Acme", ValidFrom: &until, ValidUntil: &from}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.normalize(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Email != strings.ToLower(strings.TrimSpace(tc.in.Email)) {
				t.Fatalf("email not normalized: %q", got.Email)
			}
		})
	}
}

func TestRespondentLink(t *testing.T) {
	svc := NewService(nil, ServiceConfig{PublicBaseURL: "https://forms.example.cz/ "})
	if got := svc.respondentLink("ABCD2345"); got != "https://forms.example.cz/r/ABCD2345" {
		t.Fatalf("unexpected link %q", got)
	}
	if got := NewService(nil, ServiceConfig{}).respondentLink("ABCD2345"); got != "" {
		t.Fatalf("expected empty link without base url, got %q", got)
	}
}

type failingRemover struct {
	removed []string
}

func (f *failingRemover) Remove(ctx context.Context, storedName string) error {
	f.removed = append(f.removed, storedName)
	if storedName == "gone.pdf" {
		return errors.New("no such file")
	}
	return nil
}

func TestRemoveFilesLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	files := &failingRemover{}
	svc := &Service{files: files}
	svc.removeFiles(context.Background(), []string{"gone.pdf", "b.pdf"})

	if len(files.removed) != 2 {
		t.Fatalf("every file should be attempted, got %v", files.removed)
	}
	if !strings.Contains(buf.String(), "respondent: remove stored file gone.pdf: no such file") {
		t.Fatalf("unexpected log output %q", buf.String())
	}

	(&Service{}).removeFiles(context.Background(), []string{"x"})
}
