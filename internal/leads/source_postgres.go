package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NOTE: This source assumes the CRM's leads table:
//
//	leads (id, name, email, phone, company, message, source, status, created_at)
//
// It only reads; conversion and status changes belong to the CRUD layer.

type PostgresFetcher struct {
	db *sql.DB
}

func NewPostgresFetcher(db *sql.DB) *PostgresFetcher {
	return &PostgresFetcher{db: db}
}

func (f *PostgresFetcher) FetchLatestIncoming(ctx context.Context) (Lead, bool, error) {
	const q = `
SELECT id, name, email, phone, company, message, source, status, created_at
FROM leads
WHERE status = $1
ORDER BY created_at DESC
LIMIT 1
`
	var l Lead
	err := f.db.QueryRowContext(ctx, q, StatusNew).Scan(
		&l.ID,
		&l.Name,
		&l.Email,
		&l.Phone,
		&l.Company,
		&l.Message,
		&l.Source,
		&l.Status,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, false, nil
		}
		return Lead{}, false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return l, true, nil
}
