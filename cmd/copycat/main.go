package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"copycat/internal/backup"
	"copycat/internal/config"
	"copycat/internal/db"
	"copycat/internal/lan"
	"copycat/internal/logging"
	"copycat/internal/server"
	"copycat/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Sync() }()

	// SIGINT (Ctrl+C) or SIGTERM (container stop) starts a graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("fatal", zap.Error(err))
		_ = logging.Sync()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	st, err := store.Open(store.Options{
		UploadDir: cfg.UploadDir,
		DataFile:  cfg.DataFile,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	snap := st.Snapshot()
	logging.Info("store_loaded",
		zap.String("upload_dir", st.UploadDir()),
		zap.String("data_file", st.DataFile()),
		zap.Int("files", len(snap.Files)),
		zap.Int("clipboard_entries", len(snap.Clipboard)),
	)

	var opts []server.Option
	var auditor server.Auditor

	// Audit trail (optional)
	if cfg.DatabaseURL != "" {
		dbConn, err := db.OpenDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer func() { _ = dbConn.Close() }()

		logging.Info("running_migrations")
		if err := db.RunMigrations(ctx, dbConn); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		logging.Info("migrations_complete")

		audit := db.NewAuditLog(dbConn)
		auditor = audit
		opts = append(opts,
			server.WithAuditor(audit),
			server.WithHealthCheck("database", audit.Ping),
		)
	}

	// Backups (optional)
	if cfg.Backup.Enabled {
		var uploader backup.Uploader
		if cfg.S3.Configured() {
			mu, err := backup.NewMinioUploader(ctx, backup.S3Config{
				Endpoint:  cfg.S3.Endpoint,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
				Bucket:    cfg.S3.Bucket,
				Prefix:    cfg.S3.Prefix,
			})
			if err != nil {
				return fmt.Errorf("minio: %w", err)
			}
			uploader = mu
			opts = append(opts, server.WithHealthCheck("minio", mu.Ping))
		}
		mgr := backup.NewManager(backup.Config{
			Interval:      cfg.Backup.Interval,
			RetentionDays: cfg.Backup.RetentionDays,
			Dir:           cfg.Backup.Dir,
		}, st, uploader, version)
		go mgr.Run(ctx)
	}

	// Retention cleanup (optional)
	go server.StartCleanupJob(ctx, server.CleanupConfig{
		Interval: cfg.Cleanup.Interval,
		MaxAge:   cfg.Cleanup.MaxAge,
		Store:    st,
		Auditor:  auditor,
	})

	lanURL := cfg.PublicURL
	if lanURL == "" {
		if u, err := lan.URL(cfg.Addr); err != nil {
			logging.Warn("lan_address_unknown", zap.Error(err))
		} else {
			lanURL = u
		}
	}

	if cfg.MDNS {
		instance := getenvDefault("COPYCAT_INSTANCE", "")
		if instance == "" {
			instance, _ = os.Hostname()
		}
		if instance == "" {
			instance = "CopyCat"
		}
		if err := lan.Advertise(ctx, instance, cfg.Addr, version); err != nil {
			logging.Warn("mdns_failed", zap.Error(err))
		}
	}

	srv := server.New(server.Config{
		Addr:         cfg.Addr,
		MaxBodyBytes: cfg.MaxBodyBytes,
		FetchTimeout: cfg.FetchTimeout,
		PublicURL:    cfg.PublicURL,
		LANURL:       lanURL,
		RateLimit:    cfg.RateLimit,
		Version:      version,
	}, st, opts...)

	// Start the HTTP server in a background goroutine.
	// run keeps watching ctx while the server runs.
	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting",
			zap.String("addr", cfg.Addr),
			zap.String("lan_url", lanURL),
			zap.String("version", version),
		)
		errCh <- srv.Start()
	}()

	if cfg.QR && lanURL != "" {
		fmt.Fprintf(os.Stdout, "\nOpen %s on another device, or scan:\n", lanURL)
		lan.PrintQR(os.Stdout, lanURL)
	}

	select {
	case <-ctx.Done():
		logging.Info("shutting_down")
		stop()
		// Give the server 5 seconds to finish in-flight requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logging.Info("shutdown_complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
