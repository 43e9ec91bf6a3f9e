// Package store owns the shared clipboard and file list and mirrors both to
// a JSON state file and the upload directory.
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
	"sync"
	"time"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

var (
	ErrEmptyText       = errors.New("no text provided")
	ErrNotFound        = errors.New("file not found")
	ErrIndexOutOfRange = errors.New("index out of range")
)

const (
	DefaultUploadDir    = "uploads"
	DefaultDataFile     = "data.json"
	DefaultMaxClipboard = 100

	timestampLayout = "2006-01-02 15:04:05"
)

// Kind names the list a Change touched.
type Kind string

const (
	KindClipboard Kind = "clipboard"
	KindFiles     Kind = "files"
)

// Change describes one committed mutation.
type Change struct {
	Kind     Kind
	Action   string
	Resource string
}

// Options configures Open. Zero values select the defaults.
type Options struct {
	UploadDir    string
	DataFile     string
	MaxClipboard int
	Now          func() time.Time
}

// Store serializes every mutation of the clipboard and file lists behind a
// single mutex and rewrites the state file after each one.
type Store struct {
	mu           sync.Mutex
	uploadDir    string
	dataFile     string
	maxClipboard int
	now          func() time.Time

	clipboard []string
	files     []string
	pending   map[string]struct{}

	obsMu     sync.RWMutex
	observers []func(Change)
}

// Open prepares the upload directory and loads any previously saved state.
func Open(opts Options) (*Store, error) {
	if opts.UploadDir == "" {
		opts.UploadDir = DefaultUploadDir
	}
	if opts.DataFile == "" {
		opts.DataFile = DefaultDataFile
	}
	if opts.MaxClipboard <= 0 {
		opts.MaxClipboard = DefaultMaxClipboard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir, err := filepath.Abs(opts.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	s := &Store{
		uploadDir:    dir,
		dataFile:     opts.DataFile,
		maxClipboard: opts.MaxClipboard,
		now:          opts.Now,
		clipboard:    []string{},
		files:        []string{},
		pending:      make(map[string]struct{}),
	}
	s.load()
	return s, nil
}

// UploadDir returns the absolute upload directory.
func (s *Store) UploadDir() string { return s.uploadDir }

// DataFile returns the state file path.
func (s *Store) DataFile() string { return s.dataFile }

// Subscribe registers fn to run after every committed mutation. fn runs
// outside the store lock and must not block.
func (s *Store) Subscribe(fn func(Change)) {
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(c Change) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, fn := range s.observers {
		fn(c)
	}
}

// Path resolves a stored filename to its location on disk.
func (s *Store) Path(name string) (string, error) {
	if !validStoredName(name) {
		return "", ErrNotFound
	}
	return filepath.Join(s.uploadDir, name), nil
}

// Snapshot returns a copy of both lists.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Clipboard: slices.Clone(s.clipboard),
		Files:     slices.Clone(s.files),
	}
}

// AddFile stores the content of r under a unique name derived from name and
// returns that name.
func (s *Store) AddFile(name string, r io.Reader) (string, error) {
	up, err := s.Begin(name)
	if err != nil {
		return "", err
	}
	if _, err := up.ReadFrom(r); err != nil {
		up.Abort()
		return "", err
	}
	if err := up.Commit(); err != nil {
		return "", err
	}
	return up.Name(), nil
}

// RemoveFile deletes name from disk and from the list. ErrNotFound is
// returned only when neither held it.
func (s *Store) RemoveFile(name string) error {
	if !validStoredName(name) {
		return ErrNotFound
	}

	s.mu.Lock()
	onDisk := false
	path := filepath.Join(s.uploadDir, name)
	if info, err := os.Lstat(path); err == nil && info.Mode().IsRegular() {
		if err := os.Remove(path); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("remove %s: %w", name, err)
		}
		onDisk = true
	}

	inList := false
	if i := slices.Index(s.files, name); i >= 0 {
		s.files = slices.Delete(s.files, i, i+1)
		inList = true
	}
	if !onDisk && !inList {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.persistLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: KindFiles, Action: "file_remove", Resource: name})
	return nil
}

// ResetFiles deletes every listed file and clears the list. Individual
// removal failures are logged and skipped.
func (s *Store) ResetFiles() int {
	s.mu.Lock()
	for _, name := range s.files {
		if !validStoredName(name) {
			continue
		}
		err := os.Remove(filepath.Join(s.uploadDir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("reset_remove_failed", zap.String("file", name), zap.Error(err))
		}
	}
	removed := len(s.files)
	s.files = []string{}
	s.persistLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: KindFiles, Action: "files_reset"})
	return removed
}

// ListFiles reconciles the list with the upload directory and returns a
// copy. When the two disagree the directory wins.
func (s *Store) ListFiles() ([]string, error) {
	s.mu.Lock()
	onDisk, err := s.scanLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	changed := !sameSet(s.files, onDisk)
	if changed {
		logging.Warn("file_list_out_of_sync",
			zap.Int("memory", len(s.files)),
			zap.Int("disk", len(onDisk)),
		)
		s.files = onDisk
		s.persistLocked()
	}
	out := slices.Clone(s.files)
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: KindFiles, Action: "files_reconciled"})
	}
	return out, nil
}

// scanLocked lists regular files in the upload directory, sorted, skipping
// partial uploads.
func (s *Store) scanLocked() ([]string, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || isPartialName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Clipboard returns a copy of the clipboard, oldest first.
func (s *Store) Clipboard() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.clipboard)
}

// AddClipboardEntry timestamps text and appends it, evicting the oldest
// entries beyond the cap.
func (s *Store) AddClipboardEntry(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	s.mu.Lock()
	entry := "[" + s.now().Format(timestampLayout) + "] " + text
	s.clipboard = append(s.clipboard, entry)
	if over := len(s.clipboard) - s.maxClipboard; over > 0 {
		s.clipboard = slices.Delete(s.clipboard, 0, over)
	}
	s.persistLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: KindClipboard, Action: "clipboard_add"})
	return entry, nil
}

// DeleteClipboardEntry removes the entry at index and returns it.
func (s *Store) DeleteClipboardEntry(index int) (string, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.clipboard) {
		s.mu.Unlock()
		return "", ErrIndexOutOfRange
	}
	removed := s.clipboard[index]
	s.clipboard = slices.Delete(s.clipboard, index, index+1)
	s.persistLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: KindClipboard, Action: "clipboard_delete", Resource: fmt.Sprint(index)})
	return removed, nil
}

// ResetClipboard empties the clipboard.
func (s *Store) ResetClipboard() {
	s.mu.Lock()
	s.clipboard = []string{}
	s.persistLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: KindClipboard, Action: "clipboard_reset"})
}

func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, v := range a {
		as[v] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, v := range b {
		bs[v] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for v := range bs {
		if _, ok := as[v]; !ok {
			return false
		}
	}
	return true
}
