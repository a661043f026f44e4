package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBService persists every event to the audit_logs table in addition to
// emitting the slog line, the same two-destination pattern as the
// teacher's DBLogger (DB write plus a logged fallback on failure so an
// event is never silently lost).
type DBService struct {
	pool   *pgxpool.Pool
	slog   *SlogService
	logger *slog.Logger
}

// NewDBService wraps pool; logger is used only for the failure-fallback path.
func NewDBService(pool *pgxpool.Pool, logger *slog.Logger) *DBService {
	return &DBService{pool: pool, slog: NewSlogService(), logger: logger}
}

func (s *DBService) Log(ctx context.Context, event EventType, params LogParams) {
	s.slog.Log(ctx, event, params)

	metadataJSON, err := json.Marshal(params.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, target_id, tenant_id, session_id, action, metadata)
		VALUES (NULLIF($1, '00000000-0000-0000-0000-000000000000')::uuid, NULLIF($2, '00000000-0000-0000-0000-000000000000')::uuid,
		        NULLIF($3, '00000000-0000-0000-0000-000000000000')::uuid, NULLIF($4, '00000000-0000-0000-0000-000000000000')::uuid,
		        $5, $6)
	`, params.ActorID, params.TargetID, params.TenantID, params.SessionID, string(event), metadataJSON)
	if err != nil {
		s.logger.Error("audit_db_insert_failed", "action", event, "error", err, "actor_id", params.ActorID)
	}
}

var _ Service = (*DBService)(nil)
