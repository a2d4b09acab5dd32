package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/webhook"
	webhookpkg "github.com/frahmantamala/enrollment-payments/internal/webhook"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) webhookpkg.RepositoryAPI {
	return &EventRepository{db: db}
}

// Claim inserts ev, or takes over an existing row with the same key when it is FAILED or
// has sat in PROCESSING since before staleBefore. On return ev holds the stored row.
func (r *EventRepository) Claim(ctx context.Context, ev *webhook.Event, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_key"}}, DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = r.db.WithContext(ctx).Model(&webhook.Event{}).
		Where("event_key = ? AND (state = ? OR (state = ? AND updated_at < ?))",
			ev.EventKey, webhook.StateFailed, webhook.StateProcessing, staleBefore).
		Updates(map[string]interface{}{
			"state":      webhook.StateProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}

	var stored webhook.Event
	if err := r.db.WithContext(ctx).Where("event_key = ?", ev.EventKey).First(&stored).Error; err != nil {
		return false, err
	}
	*ev = stored
	return res.RowsAffected == 1, nil
}

func (r *EventRepository) Finish(ctx context.Context, id int64, state webhook.State, lastError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"state":        state,
		"processed_at": now,
		"updated_at":   now,
		"last_error":   nil,
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	return r.db.WithContext(ctx).Model(&webhook.Event{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *EventRepository) ListFailed(ctx context.Context, limit int) ([]webhook.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []webhook.Event
	err := r.db.WithContext(ctx).
		Where("state = ?", webhook.StateFailed).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
