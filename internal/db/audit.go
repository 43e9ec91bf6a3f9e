package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction names a store mutation.
type AuditAction string

const (
	ActionFileUpload      AuditAction = "file_upload"
	ActionFileFetch       AuditAction = "file_fetch"
	ActionFileDelete      AuditAction = "file_delete"
	ActionFilesReset      AuditAction = "files_reset"
	ActionClipboardAdd    AuditAction = "clipboard_add"
	ActionClipboardDelete AuditAction = "clipboard_delete"
	ActionClipboardReset  AuditAction = "clipboard_reset"
	ActionCleanup         AuditAction = "cleanup_delete"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	ID        uuid.UUID   `json:"id"`
	Action    AuditAction `json:"action"`
	Resource  string      `json:"resource,omitempty"`
	ClientIP  string      `json:"client_ip,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Success   bool        `json:"success"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditLog writes audit events to PostgreSQL.
type AuditLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db, now: time.Now}
}

// Record inserts e, filling in ID and CreatedAt when unset.
func (a *AuditLog) Record(ctx context.Context, e AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.now().UTC()
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, resource, client_ip, user_agent, request_id, success, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, string(e.Action), e.Resource, e.ClientIP, e.UserAgent, e.RequestID, e.Success, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (a *AuditLog) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
