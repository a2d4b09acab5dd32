package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type StalePayment struct {
	ID        int64     `db:"id"`
	Reference string    `db:"reference"`
	Gateway   string    `db:"gateway"`
	CreatedAt time.Time `db:"created_at"`
}

type PendingStore struct {
	db *sqlx.DB
}

func NewPendingStore(db *sqlx.DB) *PendingStore {
	return &PendingStore{db: db}
}

const stalePendingQuery = `
SELECT id, reference, gateway, created_at
FROM payments
WHERE status = 'PENDING'
  AND refund_of_id IS NULL
  AND created_at < ?
ORDER BY created_at ASC, id ASC
LIMIT ?`

// StalePending returns the oldest PENDING payments created before the cutoff.
func (s *PendingStore) StalePending(ctx context.Context, before time.Time, limit int) ([]StalePayment, error) {
	var rows []StalePayment
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(stalePendingQuery), before.UTC(), limit); err != nil {
		return nil, fmt.Errorf("select stale pending payments: %w", err)
	}
	return rows, nil
}
