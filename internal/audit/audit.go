// Package audit records security-relevant events (register, login, logout,
// logout-all, refresh-token reuse, key rotation) through a dedicated slog
// logger tagged log_type=AUDIT_TRAIL, the same split the teacher keeps
// between its application logger and JSONAuditLogger so aggregators can
// route audit trail lines to a separate index.
package audit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes one audit log line.
type EventType string

const (
	EventRegister             EventType = "REGISTER"
	EventLogin                EventType = "LOGIN"
	EventLoginFailed          EventType = "LOGIN_FAILED"
	EventLogout               EventType = "LOGOUT"
	EventLogoutAll            EventType = "LOGOUT_ALL"
	EventRefreshReuseDetected EventType = "REFRESH_REUSE_DETECTED"
	EventKeyRotated           EventType = "KEY_ROTATED"
	EventSessionRevoked       EventType = "SESSION_REVOKED"
)

// LogParams carries the identifying fields of one audit event. Metadata is
// free-form and only ever contains non-sensitive fields (never passwords,
// tokens or hashes).
type LogParams struct {
	ActorID   uuid.UUID
	TargetID  uuid.UUID
	TenantID  uuid.UUID
	SessionID uuid.UUID
	Metadata  map[string]string
}

// Service is the audit logging contract composed into the orchestrator.
type Service interface {
	Log(ctx context.Context, event EventType, params LogParams)
}

// SlogService writes every event as a structured JSON line through its own
// handler instance, independent of the application logger, the same as
// the teacher's JSONAuditLogger.
type SlogService struct {
	logger *slog.Logger
}

// NewSlogService builds a SlogService writing to stdout.
func NewSlogService() *SlogService {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &SlogService{logger: slog.New(handler)}
}

func (s *SlogService) Log(ctx context.Context, event EventType, params LogParams) {
	fields := []any{
		slog.String("log_type", "AUDIT_TRAIL"),
		slog.String("action", string(event)),
		slog.Time("timestamp_utc", time.Now().UTC()),
	}
	if params.ActorID != uuid.Nil {
		fields = append(fields, slog.String("actor_id", params.ActorID.String()))
	}
	if params.TargetID != uuid.Nil {
		fields = append(fields, slog.String("target_id", params.TargetID.String()))
	}
	if params.TenantID != uuid.Nil {
		fields = append(fields, slog.String("tenant_id", params.TenantID.String()))
	}
	if params.SessionID != uuid.Nil {
		fields = append(fields, slog.String("session_id", params.SessionID.String()))
	}
	for k, v := range params.Metadata {
		fields = append(fields, slog.String("meta_"+k, v))
	}
	s.logger.InfoContext(ctx, "audit_event", fields...)
}

// NoopService discards every event, used in tests that don't assert on
// audit output, mirroring the teacher's MockAuditLogger.
type NoopService struct{}

func (NoopService) Log(ctx context.Context, event EventType, params LogParams) {}

var (
	_ Service = (*SlogService)(nil)
	_ Service = NoopService{}
)
