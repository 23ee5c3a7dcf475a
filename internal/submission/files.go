package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var allowedMimeTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain":                   {},
	"text/csv":                     {},
	"image/jpeg":                   {},
	"image/png":                    {},
	"image/gif":                    {},
	"application/zip":              {},
	"application/x-rar-compressed": {},
}

func MimeAllowed(mime string) bool {
	base := strings.TrimSpace(strings.ToLower(strings.SplitN(mime, ";", 2)[0]))
	_, ok := allowedMimeTypes[base]
	return ok
}

// Upload is an incoming file as received from the transport.
type Upload struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// FileStore keeps uploaded bytes outside the database.
type FileStore interface {
	// Save writes at most maxBytes and returns the stored name and size.
	// Larger bodies fail with ErrFileTooLarge and leave nothing behind.
	Save(ctx context.Context, originalName string, body io.Reader, maxBytes int64) (string, int64, error)
	Open(ctx context.Context, storedName string) (io.ReadCloser, error)
	Remove(ctx context.Context, storedName string) error
}

type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) Dir() string { return d.dir }

func (d *DiskStore) Save(ctx context.Context, originalName string, body io.Reader, maxBytes int64) (string, int64, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(d.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create stored file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > maxBytes {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrFileTooLarge) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("write stored file: %w", err)
	}
	return name, n, nil
}

func (d *DiskStore) Open(ctx context.Context, storedName string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(storedName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

func (d *DiskStore) Remove(ctx context.Context, storedName string) error {
	if err := os.Remove(d.path(storedName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stored file: %w", err)
	}
	return nil
}

func (d *DiskStore) path(storedName string) string {
	return filepath.Join(d.dir, filepath.Base(storedName))
}
