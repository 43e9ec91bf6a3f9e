package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"copycat/internal/db"
	"copycat/internal/logging"
)

// Auditor persists a trail of mutations.
type Auditor interface {
	Record(ctx context.Context, e db.AuditEvent) error
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, db.AuditEvent) error { return nil }

// record writes one audit event for r. The write outlives a cancelled
// request but is bounded; failures are only logged.
func (s *Server) record(r *http.Request, action db.AuditAction, resource string, success bool, detail string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()

	err := s.audit.Record(ctx, db.AuditEvent{
		Action:    action,
		Resource:  resource,
		ClientIP:  getClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
		Success:   success,
		Detail:    detail,
	})
	if err != nil {
		logging.WithContext(r.Context()).Warn("audit_record_failed",
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}
