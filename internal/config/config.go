// Package config loads runtime settings from defaults, an optional YAML
// file, an optional .env file and COPYCAT_* environment variables, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix         = "COPYCAT_"
	DefaultConfigFile = "copycat.yaml"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Dir           string        `yaml:"dir"`
	RetentionDays int           `yaml:"retention_days"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// Configured reports whether any S3 setting was supplied.
func (c S3Config) Configured() bool {
	return c.Endpoint != "" || c.AccessKey != "" || c.SecretKey != "" || c.Bucket != ""
}

type CleanupConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// Config is the full runtime configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	UploadDir    string        `yaml:"upload_dir"`
	DataFile     string        `yaml:"data_file"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	PublicURL    string        `yaml:"public_url"`
	RateLimit    bool          `yaml:"rate_limit"`
	MDNS         bool          `yaml:"mdns"`
	QR           bool          `yaml:"qr"`
	DatabaseURL  string        `yaml:"database_url"`

	Log     LogConfig     `yaml:"log"`
	Backup  BackupConfig  `yaml:"backup"`
	S3      S3Config      `yaml:"s3"`
	Cleanup CleanupConfig `yaml:"cleanup"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:         ":5000",
		UploadDir:    "uploads",
		DataFile:     "data.json",
		MaxBodyBytes: 10 << 30,
		FetchTimeout: 15 * time.Second,
		RateLimit:    true,
		QR:           true,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Backup: BackupConfig{
			Interval:      24 * time.Hour,
			Dir:           "backups",
			RetentionDays: 7,
		},
		Cleanup: CleanupConfig{
			Interval: time.Hour,
		},
	}
}

// Load builds and validates the configuration.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path := os.Getenv(envPrefix + "CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFile(&cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	v := NewValidator()
	applyEnv(&cfg, v)
	cfg.Validate(v)
	if err := v.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile overlays the YAML document at path onto cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, v *Validator) {
	envString(&cfg.Addr, "ADDR")
	envString(&cfg.UploadDir, "UPLOAD_DIR")
	envString(&cfg.DataFile, "DATA_FILE")
	envInt64(&cfg.MaxBodyBytes, "MAX_BODY_BYTES", v)
	envDuration(&cfg.FetchTimeout, "FETCH_TIMEOUT", v)
	envString(&cfg.PublicURL, "PUBLIC_URL")
	envBool(&cfg.RateLimit, "RATE_LIMIT", v)
	envBool(&cfg.MDNS, "MDNS", v)
	envBool(&cfg.QR, "QR", v)

	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.DatabaseURL = raw
	}

	envString(&cfg.Log.Level, "LOG_LEVEL")
	envString(&cfg.Log.Format, "LOG_FORMAT")

	envBool(&cfg.Backup.Enabled, "BACKUP_ENABLED", v)
	envDuration(&cfg.Backup.Interval, "BACKUP_INTERVAL", v)
	envString(&cfg.Backup.Dir, "BACKUP_DIR")
	envInt(&cfg.Backup.RetentionDays, "BACKUP_RETENTION_DAYS", v)

	envString(&cfg.S3.Endpoint, "S3_ENDPOINT")
	envString(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	envString(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	envString(&cfg.S3.Bucket, "S3_BUCKET")
	envString(&cfg.S3.Prefix, "S3_PREFIX")

	envDuration(&cfg.Cleanup.MaxAge, "CLEANUP_MAX_AGE", v)
	envDuration(&cfg.Cleanup.Interval, "CLEANUP_INTERVAL", v)
}

// Validate records every invalid setting on v.
func (c Config) Validate(v *Validator) {
	v.ValidateListenAddr(envPrefix+"ADDR", c.Addr)
	v.ValidateNotEmpty(envPrefix+"UPLOAD_DIR", c.UploadDir)
	v.ValidateNotEmpty(envPrefix+"DATA_FILE", c.DataFile)
	v.ValidatePositive(envPrefix+"MAX_BODY_BYTES", c.MaxBodyBytes)
	v.ValidatePositive(envPrefix+"FETCH_TIMEOUT", int64(c.FetchTimeout))
	v.ValidateURL(envPrefix+"PUBLIC_URL", c.PublicURL)
	v.ValidateEnum(envPrefix+"LOG_LEVEL", c.Log.Level, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum(envPrefix+"LOG_FORMAT", c.Log.Format, []string{"console", "json"})

	if c.Backup.Enabled {
		v.ValidatePositive(envPrefix+"BACKUP_INTERVAL", int64(c.Backup.Interval))
		v.ValidateNotEmpty(envPrefix+"BACKUP_DIR", c.Backup.Dir)
		v.ValidatePositive(envPrefix+"BACKUP_RETENTION_DAYS", int64(c.Backup.RetentionDays))
	}
	if c.S3.Configured() {
		v.ValidateNotEmpty(envPrefix+"S3_ENDPOINT", c.S3.Endpoint)
		v.ValidateNotEmpty(envPrefix+"S3_ACCESS_KEY", c.S3.AccessKey)
		v.ValidateNotEmpty(envPrefix+"S3_SECRET_KEY", c.S3.SecretKey)
		v.ValidateNotEmpty(envPrefix+"S3_BUCKET", c.S3.Bucket)
	}
	if c.Cleanup.MaxAge < 0 {
		v.AddError(envPrefix+"CLEANUP_MAX_AGE", "must not be negative")
	}
	if c.Cleanup.MaxAge > 0 {
		v.ValidatePositive(envPrefix+"CLEANUP_INTERVAL", int64(c.Cleanup.Interval))
	}
}

func envString(dst *string, key string) {
	if raw := os.Getenv(envPrefix + key); raw != "" {
		*dst = raw
	}
}

func envBool(dst *bool, key string, v *Validator) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		v.AddError(envPrefix+key, "must be true or false")
		return
	}
	*dst = b
}

func envInt64(dst *int64, key string, v *Validator) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		v.AddError(envPrefix+key, "must be a valid integer")
		return
	}
	*dst = n
}

func envInt(dst *int, key string, v *Validator) {
	n := int64(*dst)
	envInt64(&n, key, v)
	*dst = int(n)
}

func envDuration(dst *time.Duration, key string, v *Validator) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		v.AddError(envPrefix+key, "must be a duration such as 30s or 1h")
		return
	}
	*dst = d
}
