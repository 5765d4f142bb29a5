package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// The table layout is in Schema. phone_key holds NormalizePhone(phone_number)
// so the consolidator lookup is an index scan.

const callColumns = `id, phone_number, customer_name, status, attempt_count, last_attempt, notes,
is_processed, processed_action, contact_id, deal_id, created_at, updated_at`

// PostgresStore is the production Store: rows live in Postgres, change
// notifications travel through the Notifier after each committed write.
type PostgresStore struct {
	db       *sql.DB
	notifier Notifier
	log      *slog.Logger
	clock    func() time.Time
}

func NewPostgresStore(db *sql.DB, notifier Notifier, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{db: db, notifier: notifier, log: log, clock: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (Call, error) {
	var c Call
	err := r.Scan(
		&c.ID,
		&c.PhoneNumber,
		&c.CustomerName,
		&c.Status,
		&c.AttemptCount,
		&c.LastAttempt,
		&c.Notes,
		&c.IsProcessed,
		&c.ProcessedAction,
		&c.ContactID,
		&c.DealID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

// storeErr classifies driver errors into the calls taxonomy.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return Call{}, storeErr("get", err)
	}
	return c, nil
}

func (s *PostgresStore) FindLatestMissed(ctx context.Context, phoneKey, excludeID string) (Call, bool, error) {
	if phoneKey == "" {
		return Call{}, false, nil
	}
	q := `SELECT ` + callColumns + `
FROM calls
WHERE phone_key = $1 AND status = $2 AND id <> $3
ORDER BY created_at DESC
LIMIT 1`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, phoneKey, StatusMissed, excludeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, storeErr("find missed", err)
	}
	return c, true, nil
}

func (s *PostgresStore) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, storeErr("list scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, c Call) (Call, error) {
	if err := validateNew(c); err != nil {
		return Call{}, err
	}
	now := s.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastAttempt.IsZero() {
		c.LastAttempt = c.CreatedAt
	}
	if c.AttemptCount == 0 {
		c.AttemptCount = 1
	}
	c.UpdatedAt = now

	const q = `
INSERT INTO calls (
  id, phone_number, phone_key, customer_name, status, attempt_count, last_attempt, notes,
  is_processed, processed_action, contact_id, deal_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (id) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.PhoneNumber,
		NormalizePhone(c.PhoneNumber),
		c.CustomerName,
		c.Status,
		c.AttemptCount,
		c.LastAttempt,
		c.Notes,
		c.IsProcessed,
		c.ProcessedAction,
		c.ContactID,
		c.DealID,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return Call{}, storeErr("insert", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Call{}, ErrConflict
	}
	s.publish(ctx, c)
	return c, nil
}

// Patch builds an UPDATE from the set fields. With ExpectStatus the status check
// is part of the WHERE clause, so two sessions racing on the same row cannot both win.
func (s *PostgresStore) Patch(ctx context.Context, id string, p Patch) (Call, error) {
	sets := make([]string, 0, 7)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.AttemptCount != nil {
		add("attempt_count", *p.AttemptCount)
	}
	if p.LastAttempt != nil {
		add("last_attempt", *p.LastAttempt)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.IsProcessed != nil {
		add("is_processed", *p.IsProcessed)
	}
	if p.ProcessedAction != nil {
		add("processed_action", *p.ProcessedAction)
	}
	add("updated_at", s.clock().UTC())

	where := "id = $1"
	if p.ExpectStatus != nil {
		args = append(args, *p.ExpectStatus)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	q := `UPDATE calls SET ` + strings.Join(sets, ", ") + ` WHERE ` + where + ` RETURNING ` + callColumns
	c, err := scanCall(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Call{}, storeErr("patch", err)
		}
		if p.ExpectStatus == nil {
			return Call{}, ErrNotFound
		}
		// Distinguish a vanished row from a lost race.
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return Call{}, gerr
		}
		return Call{}, ErrConflict
	}
	s.publish(ctx, c)
	return c, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(ctx, Call{ID: id, Deleted: true, UpdatedAt: s.clock().UTC()})
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, id string) (Subscription, error) {
	if s.notifier == nil {
		return nil, fmt.Errorf("%w: notifier not configured", ErrStoreUnavailable)
	}
	return s.notifier.Subscribe(ctx, id)
}

// publish is best-effort: the row is already committed, and subscribers that
// miss this message will see the next one.
func (s *PostgresStore) publish(ctx context.Context, c Call) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, c); err != nil {
		s.log.Warn("call change publish failed", "call_id", c.ID, "err", err)
	}
}
