package payment

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/enrollment-payments/internal/activation"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
)

// RepositoryAPI is the payment store. TransitionStatus is a conditional update on the
// current status and reports whether this caller won.
type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI
	Create(ctx context.Context, p *payment.Payment) error
	GetByID(ctx context.Context, id int64) (*payment.Payment, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*payment.Payment, error)
	GetByReference(ctx context.Context, reference string) (*payment.Payment, error)
	GetByReferenceForUpdate(ctx context.Context, reference string) (*payment.Payment, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*payment.Payment, error)
	TransitionStatus(ctx context.Context, id int64, from, to payment.Status, fields map[string]interface{}) (bool, error)
	LinkEnrollment(ctx context.Context, id, enrollmentID int64) error
}

// ActivationEngine applies downstream effects inside the ledger transaction.
type ActivationEngine interface {
	Activate(ctx context.Context, tx *gorm.DB, p *payment.Payment, actor string) (*activation.Outcome, error)
	Revoke(ctx context.Context, tx *gorm.DB, p *payment.Payment, actor string) (*activation.Outcome, error)
}

// Pricing reports what a new payment must carry, in minor units.
type Pricing interface {
	AmountDue(ctx context.Context, t payment.Type, courseID, installmentID *int64) (int64, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, rec audit.Record) error
}

var transitions = map[payment.Status][]payment.Status{
	payment.StatusPending:   {payment.StatusCompleted, payment.StatusFailed},
	payment.StatusCompleted: {payment.StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the payment state machine.
func CanTransition(from, to payment.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionResult is what a ledger transition did. Changed is false for idempotent repeats.
type TransitionResult struct {
	Payment *payment.Payment
	Changed bool
	Outcome *activation.Outcome
}

type RefundResult struct {
	Original *payment.Payment `json:"original"`
	Refund   *payment.Payment `json:"refund"`
}

// CreatePendingParams describes a new PENDING payment. Amount is in minor units.
type CreatePendingParams struct {
	UserID        int64
	Email         string
	Type          payment.Type
	Amount        int64
	Currency      string
	Reference     string
	Gateway       string
	CourseID      *int64
	ApplicationID *int64
	EnrollmentID  *int64
	InstallmentID *int64
	Metadata      map[string]interface{}
}

// Clock is swapped in tests.
type Clock func() time.Time
