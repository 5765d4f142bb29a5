package calls

// Schema creates the calls table used by PostgresStore. Statements are
// idempotent so they can run on every boot when auto-migration is enabled.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS calls (
  id               TEXT PRIMARY KEY,
  phone_number     TEXT NOT NULL DEFAULT '',
  phone_key        TEXT NOT NULL DEFAULT '',
  customer_name    TEXT NOT NULL DEFAULT '',
  status           TEXT NOT NULL,
  attempt_count    INT  NOT NULL DEFAULT 1,
  last_attempt     TIMESTAMPTZ NOT NULL,
  notes            TEXT NOT NULL DEFAULT '',
  is_processed     BOOLEAN NOT NULL DEFAULT FALSE,
  processed_action TEXT NOT NULL DEFAULT '',
  contact_id       TEXT NOT NULL DEFAULT '',
  deal_id          TEXT NOT NULL DEFAULT '',
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS calls_missed_phone_key ON calls (phone_key, created_at DESC) WHERE status = 'missed'`,
	`CREATE INDEX IF NOT EXISTS calls_created_at ON calls (created_at)`,
}
