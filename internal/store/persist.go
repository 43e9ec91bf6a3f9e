package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

// State is the on-disk document.
type State struct {
	Clipboard []string `json:"clipboard"`
	Files     []string `json:"files"`
}

// load reads the state file. A missing or unreadable file leaves the store
// empty.
func (s *Store) load() {
	data, err := os.ReadFile(s.dataFile)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Info("state_file_absent", zap.String("path", s.dataFile))
		return
	}
	if err != nil {
		logging.Warn("state_load_failed", zap.String("path", s.dataFile), zap.Error(err))
		return
	}

	var st State
	if err := json.Unmarshal(bytes.TrimSpace(data), &st); err != nil {
		logging.Warn("state_load_failed", zap.String("path", s.dataFile), zap.Error(err))
		return
	}
	if st.Clipboard != nil {
		s.clipboard = st.Clipboard
	}
	if over := len(s.clipboard) - s.maxClipboard; over > 0 {
		s.clipboard = s.clipboard[over:]
	}
	if st.Files != nil {
		s.files = st.Files
	}
	logging.Info("state_loaded",
		zap.String("path", s.dataFile),
		zap.Int("clipboard", len(s.clipboard)),
		zap.Int("files", len(s.files)),
	)
}

// persistLocked rewrites the state file. Failures are logged and swallowed
// so the in-memory mutation still stands.
func (s *Store) persistLocked() {
	st := State{Clipboard: s.clipboard, Files: s.files}
	if err := writeState(s.dataFile, st); err != nil {
		logging.Warn("state_save_failed", zap.String("path", s.dataFile), zap.Error(err))
	}
}

// writeState replaces path atomically: encode to a temp file in the same
// directory, fsync, then rename over the target.
func writeState(path string, st State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".copycat-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
