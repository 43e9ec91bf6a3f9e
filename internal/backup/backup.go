// Package backup writes scheduled, compressed snapshots of the persisted
// clipboard and file lists, prunes old ones, and optionally copies each
// snapshot to an S3-compatible bucket.
package backup

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"copycat/internal/logging"
	"copycat/internal/metrics"
	"copycat/internal/store"
)

const (
	filePrefix = "copycat-backup-"
	fileSuffix = ".json.gz"
	stampFmt   = "20060102-150405.000"
)

// Config contains configuration for backup operations.
type Config struct {
	Interval      time.Duration // Backup interval (e.g., 24h for daily)
	RetentionDays int           // Number of days to retain backups
	Dir           string        // Directory to store backup files
}

// Source supplies the state to back up.
type Source interface {
	Snapshot() store.State
}

// Uploader copies a finished backup off the machine.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) error
}

// Snapshot is the content of one backup file.
type Snapshot struct {
	CreatedAt time.Time   `json:"created_at"`
	Version   string      `json:"version,omitempty"`
	State     store.State `json:"state"`
}

// Info contains metadata about a backup file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size_bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager handles scheduled backups.
type Manager struct {
	cfg      Config
	src      Source
	uploader Uploader
	version  string
	now      func() time.Time
}

// NewManager creates a backup manager. uploader may be nil.
func NewManager(cfg Config, src Source, uploader Uploader, version string) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if uploader != nil {
		uploader = &guardedUploader{next: uploader, cb: newCircuitBreaker(3, 6*cfg.Interval)}
	}
	return &Manager{
		cfg:      cfg,
		src:      src,
		uploader: uploader,
		version:  version,
		now:      time.Now,
	}
}

// Run backs up immediately and then on every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if err := os.MkdirAll(m.cfg.Dir, 0o750); err != nil {
		logging.Error("backup_dir_create_failed", zap.String("dir", m.cfg.Dir), zap.Error(err))
		return
	}

	logging.Info("backup_scheduler_started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("retention_days", m.cfg.RetentionDays),
		zap.String("backup_dir", m.cfg.Dir),
		zap.Bool("remote", m.uploader != nil),
	)

	if _, err := m.Backup(ctx); err != nil {
		logging.Error("initial_backup_failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("backup_scheduler_stopped")
			return
		case <-ticker.C:
			if _, err := m.Backup(ctx); err != nil {
				logging.Error("scheduled_backup_failed", zap.Error(err))
			}
		}
	}
}

// Backup writes one snapshot, uploads it when an uploader is set, and prunes
// expired snapshots. It returns the local path. A failed upload is logged and
// does not fail the backup.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	start := m.now()
	name := filePrefix + start.UTC().Format(stampFmt) + fileSuffix
	path := filepath.Join(m.cfg.Dir, name)

	snap := Snapshot{
		CreatedAt: start.UTC(),
		Version:   m.version,
		State:     m.src.Snapshot(),
	}
	if err := writeSnapshot(path, snap); err != nil {
		metrics.RecordBackup("local", false)
		return "", fmt.Errorf("backup failed: %w", err)
	}
	metrics.RecordBackup("local", true)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat backup file: %w", err)
	}
	logging.Info("backup_completed",
		zap.String("filename", name),
		zap.Int64("size_bytes", info.Size()),
		zap.Int("clipboard_entries", len(snap.State.Clipboard)),
		zap.Int("files", len(snap.State.Files)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	if m.uploader != nil {
		if err := m.uploader.Upload(ctx, path, name); errors.Is(err, ErrCircuitOpen) {
			logging.Warn("backup_upload_skipped", zap.String("filename", name), zap.Error(err))
		} else if err != nil {
			metrics.RecordBackup("s3", false)
			logging.Error("backup_upload_failed", zap.String("filename", name), zap.Error(err))
		} else {
			metrics.RecordBackup("s3", true)
			logging.Info("backup_uploaded", zap.String("filename", name))
		}
	}

	if err := m.prune(); err != nil {
		logging.Warn("backup_prune_failed", zap.Error(err))
	}
	return path, nil
}

func writeSnapshot(path string, snap Snapshot) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".copycat-backup-*.tmp")
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err = enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err = gz.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// prune removes backup files older than the retention period.
func (m *Manager) prune() error {
	if m.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := m.now().AddDate(0, 0, -m.cfg.RetentionDays)

	backups, err := m.List()
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range backups {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.cfg.Dir, b.Filename)); err != nil {
			errs = append(errs, err)
			continue
		}
		logging.Info("removed_old_backup",
			zap.String("file", b.Filename),
			zap.Duration("age", m.now().Sub(b.Timestamp)),
		)
	}
	return errors.Join(errs...)
}

// List returns the available backup files sorted by date (newest first).
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ts, err := time.Parse(stampFmt, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			ts = info.ModTime()
		}
		backups = append(backups, Info{
			Filename:  name,
			Size:      info.Size(),
			Timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}
