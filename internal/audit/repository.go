package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates triage_audit_events. Revoke UPDATE and DELETE on it for the
// application role.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS triage_audit_events (
  id         TEXT PRIMARY KEY,
  type       TEXT NOT NULL,
  actor_id   TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT '',
  session_id TEXT NOT NULL DEFAULT '',
  call_id    TEXT NOT NULL DEFAULT '',
  lead_id    TEXT NOT NULL DEFAULT '',
  message    TEXT NOT NULL DEFAULT '',
  metadata   JSONB,
  created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS triage_audit_events_call ON triage_audit_events (call_id, created_at)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO triage_audit_events
  (id, type, actor_id, actor_role, session_id, call_id, lead_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::jsonb, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.Type, e.ActorID, e.ActorRole, e.SessionID, e.CallID, e.LeadID,
		e.Message, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
