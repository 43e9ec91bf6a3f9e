package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

const (
	partialPrefix = ".copycat-"
	partialSuffix = ".part"
)

var errUploadClosed = errors.New("upload already finished")

func isPartialName(name string) bool {
	return strings.HasPrefix(name, partialPrefix)
}

// Upload is an in-flight file. Content is written to a hidden temp file in
// the upload directory without holding the store lock; Commit publishes it
// under the reserved name.
type Upload struct {
	s    *Store
	name string
	tmp  *os.File
	done bool
}

// Begin reserves a unique name derived from name and opens a temp file for
// the content. The caller must finish with Commit or Abort.
func (s *Store) Begin(name string) (*Upload, error) {
	clean := SecureFilename(name)
	if clean == "" {
		clean = PlaceholderName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unique, err := s.uniqueNameLocked(clean)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(s.uploadDir, partialPrefix+"*"+partialSuffix)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	s.pending[unique] = struct{}{}
	return &Upload{s: s, name: unique, tmp: tmp}, nil
}

// uniqueNameLocked appends _1, _2, ... before the extension until the name
// is free on disk and not reserved by another upload.
func (s *Store) uniqueNameLocked(clean string) (string, error) {
	for n := 0; ; n++ {
		candidate := candidateName(clean, n)
		if _, reserved := s.pending[candidate]; reserved {
			continue
		}
		_, err := os.Lstat(filepath.Join(s.uploadDir, candidate))
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
}

// Name returns the reserved filename.
func (u *Upload) Name() string { return u.name }

func (u *Upload) Write(p []byte) (int, error) {
	if u.done {
		return 0, errUploadClosed
	}
	return u.tmp.Write(p)
}

// ReadFrom copies r into the upload until EOF.
func (u *Upload) ReadFrom(r io.Reader) (int64, error) {
	if u.done {
		return 0, errUploadClosed
	}
	return io.Copy(u.tmp, r)
}

// Commit moves the content into place, appends the name to the file list
// and persists.
func (u *Upload) Commit() error {
	if u.done {
		return errUploadClosed
	}
	u.done = true
	s := u.s
	tmpPath := u.tmp.Name()

	if err := u.tmp.Sync(); err != nil {
		_ = u.tmp.Close()
		u.release(tmpPath)
		return fmt.Errorf("sync %s: %w", u.name, err)
	}
	if err := u.tmp.Close(); err != nil {
		u.release(tmpPath)
		return fmt.Errorf("close %s: %w", u.name, err)
	}

	s.mu.Lock()
	delete(s.pending, u.name)
	if err := os.Rename(tmpPath, filepath.Join(s.uploadDir, u.name)); err != nil {
		s.mu.Unlock()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish %s: %w", u.name, err)
	}
	if !slices.Contains(s.files, u.name) {
		s.files = append(s.files, u.name)
	}
	s.persistLocked()
	s.mu.Unlock()

	logging.Info("file_saved", zap.String("file", u.name))
	s.notify(Change{Kind: KindFiles, Action: "file_add", Resource: u.name})
	return nil
}

// Abort discards the content and releases the reserved name. Safe to call
// after Commit.
func (u *Upload) Abort() {
	if u.done {
		return
	}
	u.done = true
	_ = u.tmp.Close()
	u.release(u.tmp.Name())
}

func (u *Upload) release(tmpPath string) {
	_ = os.Remove(tmpPath)
	u.s.mu.Lock()
	delete(u.s.pending, u.name)
	u.s.mu.Unlock()
}
