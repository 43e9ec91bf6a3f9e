package server

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"copycat/internal/db"
	"copycat/internal/logging"
	"copycat/internal/store"
)

// CleanupConfig holds configuration for the retention job.
type CleanupConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
	Store    *store.Store
	Auditor  Auditor
	Now      func() time.Time
}

// StartCleanupJob periodically removes stored files whose modification time
// is older than MaxAge. It blocks until ctx is done; MaxAge <= 0 disables it.
func StartCleanupJob(ctx context.Context, cfg CleanupConfig) {
	log := logging.L().With(zap.String("job", "cleanup"))
	if cfg.MaxAge <= 0 {
		log.Info("cleanup_disabled")
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	log.Info("cleanup_starting",
		zap.Duration("interval", cfg.Interval),
		zap.Duration("max_age", cfg.MaxAge),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start
	runCleanup(ctx, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup_shutting_down")
			return
		case <-ticker.C:
			runCleanup(ctx, cfg)
		}
	}
}

// runCleanup returns the number of files removed.
func runCleanup(ctx context.Context, cfg CleanupConfig) int {
	log := logging.L().With(zap.String("job", "cleanup"))
	start := time.Now()
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	cutoff := now().Add(-cfg.MaxAge)

	files, err := cfg.Store.ListFiles()
	if err != nil {
		log.Warn("cleanup_list_failed", zap.Error(err))
		return 0
	}

	deleted := 0
	for _, name := range files {
		if ctx.Err() != nil {
			break
		}
		path, err := cfg.Store.Path(name)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := cfg.Store.RemoveFile(name); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Warn("cleanup_delete_failed", zap.String("file", name), zap.Error(err))
			}
			continue
		}
		log.Info("cleanup_deleted_expired_file",
			zap.String("file", name),
			zap.Duration("age", now().Sub(info.ModTime())),
		)
		if cfg.Auditor != nil {
			if err := cfg.Auditor.Record(ctx, db.AuditEvent{
				Action:   db.ActionCleanup,
				Resource: name,
				Success:  true,
			}); err != nil {
				log.Warn("audit_record_failed", zap.Error(err))
			}
		}
		deleted++
	}

	log.Info("cleanup_complete",
		zap.Int("deleted", deleted),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return deleted
}
