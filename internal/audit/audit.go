package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/audit"
)

const (
	ActionPaymentCreated          = "payment.created"
	ActionPaymentCompleted        = "payment.completed"
	ActionPaymentFailed           = "payment.failed"
	ActionPaymentRefunded         = "payment.refunded"
	ActionPaymentReconfirmed      = "payment.reconfirmed"
	ActionPaymentAmountMismatch   = "payment.amount_mismatch"
	ActionEnrollmentActivated     = "enrollment.activated"
	ActionEnrollmentSuspended     = "enrollment.suspended"
	ActionInstallmentPaid         = "installment.paid"
	ActionApplicationCreated      = "application.created"
	ActionApplicationReviewed     = "application.reviewed"
	ActionWebhookUnknownReference = "webhook.unknown_reference"
	ActionWebhookRejected         = "webhook.rejected"
	ActionActivationFailed        = "activation.failed"
)

// Record is one audit line: who did what to which resource, with before/after status.
type Record struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	FromStatus   string
	ToStatus     string
	Amount       *int64
	Metadata     map[string]interface{}
}

// Recorder writes audit entries. Passing a transaction makes the entry commit or
// roll back with the change it describes.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, rec Record) error {
	db := tx
	if db == nil {
		db = r.db
	}

	entry := audit.Entry{
		Actor:        rec.Actor,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		FromStatus:   optional(rec.FromStatus),
		ToStatus:     optional(rec.ToStatus),
		Amount:       rec.Amount,
	}
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		entry.Metadata = raw
	}

	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.ErrorContext(ctx, "failed to write audit entry",
			"action", rec.Action,
			"resource_id", rec.ResourceID,
			"error", err)
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// List returns entries for one resource, oldest first.
func (r *Recorder) List(ctx context.Context, resourceType, resourceID string) ([]audit.Entry, error) {
	var entries []audit.Entry
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
