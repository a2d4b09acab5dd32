package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// LedgerRow is one payments row as the export sees it. Amount is in minor units.
type LedgerRow struct {
	ID         int64          `db:"id"`
	Reference  string         `db:"reference"`
	UserID     int64          `db:"user_id"`
	Email      sql.NullString `db:"email"`
	Type       string         `db:"type"`
	Status     string         `db:"status"`
	Amount     int64          `db:"amount"`
	Currency   string         `db:"currency"`
	Gateway    sql.NullString `db:"gateway"`
	Method     sql.NullString `db:"method"`
	RefundOfID sql.NullInt64  `db:"refund_of_id"`
	PaidAt     sql.NullTime   `db:"paid_at"`
	CreatedAt  time.Time      `db:"created_at"`
}

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const ledgerQuery = `
SELECT id, reference, user_id, email, type, status, amount, currency, gateway, method,
       refund_of_id, paid_at, created_at
FROM payments
WHERE created_at >= ? AND created_at < ?
ORDER BY created_at ASC, id ASC`

// Payments lists every payment created in [from, to).
func (s *Store) Payments(ctx context.Context, from, to time.Time) ([]LedgerRow, error) {
	var rows []LedgerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(ledgerQuery), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("select ledger rows: %w", err)
	}
	return rows, nil
}
