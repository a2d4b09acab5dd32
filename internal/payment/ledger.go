package payment

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/activation"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/enrollment-payments/internal/core/events"
	"github.com/frahmantamala/enrollment-payments/internal/core/reference"
)

// Ledger owns payment state. Each transition runs in one transaction together with its
// activation effects and audit entry; events are published only after commit.
type Ledger struct {
	db        *gorm.DB
	repo      RepositoryAPI
	engine    ActivationEngine
	audit     AuditRecorder
	publisher events.Publisher
	logger    *slog.Logger
	now       Clock
}

func NewLedger(db *gorm.DB, repo RepositoryAPI, engine ActivationEngine, auditRecorder AuditRecorder, publisher events.Publisher, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:        db,
		repo:      repo,
		engine:    engine,
		audit:     auditRecorder,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePending inserts a PENDING payment. A reused reference fails with DUPLICATE_REFERENCE
// and leaves nothing behind.
func (l *Ledger) CreatePending(ctx context.Context, params CreatePendingParams, actor string) (*payment.Payment, error) {
	if params.Reference == "" {
		return nil, errors.NewValidationFieldError("reference", "reference is required", errors.ErrCodeValidationFailed)
	}
	if params.Amount <= 0 {
		return nil, errors.NewValidationFieldError("amount", "amount must be positive", errors.ErrCodeInvalidAmount)
	}
	if !params.Type.Valid() {
		return nil, errors.NewValidationFieldError("type", "unknown payment type", errors.ErrCodeValidationFailed)
	}

	p := &payment.Payment{
		UserID:        params.UserID,
		Email:         params.Email,
		Type:          params.Type,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Status:        payment.StatusPending,
		Reference:     params.Reference,
		Gateway:       params.Gateway,
		CourseID:      params.CourseID,
		ApplicationID: params.ApplicationID,
		EnrollmentID:  params.EnrollmentID,
		InstallmentID: params.InstallmentID,
	}
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal payment metadata: %w", err)
		}
		p.Metadata = datatypes.JSON(raw)
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.repo.WithTx(tx).Create(ctx, p); err != nil {
			return err
		}
		amount := p.Amount
		return l.audit.Record(ctx, tx, audit.Record{
			Actor:        actor,
			Action:       audit.ActionPaymentCreated,
			ResourceType: "payment",
			ResourceID:   p.Reference,
			ToStatus:     string(p.Status),
			Amount:       &amount,
			Metadata:     map[string]interface{}{"type": p.Type, "gateway": p.Gateway},
		})
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrDuplicateReference) {
			l.logger.WarnContext(ctx, "duplicate payment reference", "reference", p.Reference)
		}
		return nil, err
	}

	l.logger.InfoContext(ctx, "pending payment created",
		"payment_id", p.ID,
		"reference", p.Reference,
		"type", p.Type,
		"amount", p.Amount)
	return p, nil
}

// MarkCompleted moves PENDING to COMPLETED and runs activation in the same transaction.
// Repeating it on a COMPLETED payment is a successful no-op that keeps the stored metadata.
func (l *Ledger) MarkCompleted(ctx context.Context, ref string, paidAt time.Time, metadata json.RawMessage, method string, actor string) (*TransitionResult, error) {
	result := &TransitionResult{}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		p, err := repo.GetByReferenceForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		result.Payment = p

		switch p.Status {
		case payment.StatusCompleted:
			return l.reconfirmed(ctx, tx, p, metadata, actor)
		case payment.StatusPending:
		default:
			l.logger.WarnContext(ctx, "illegal payment transition",
				"reference", ref,
				"from", p.Status,
				"to", payment.StatusCompleted,
				"actor", actor)
			return errors.NewIllegalTransitionError(string(p.Status), string(payment.StatusCompleted))
		}

		if paidAt.IsZero() {
			paidAt = l.now()
		}
		fields := map[string]interface{}{"paid_at": paidAt}
		if len(metadata) > 0 {
			fields["metadata"] = datatypes.JSON(metadata)
		}
		if method != "" {
			fields["method"] = method
		}

		won, err := repo.TransitionStatus(ctx, p.ID, payment.StatusPending, payment.StatusCompleted, fields)
		if err != nil {
			return err
		}
		if !won {
			return l.lostRace(ctx, repo, result, ref, payment.StatusCompleted)
		}

		p.Status = payment.StatusCompleted
		p.PaidAt = &paidAt
		if len(metadata) > 0 {
			p.Metadata = datatypes.JSON(metadata)
		}
		if method != "" {
			p.Method = &method
		}

		outcome, err := l.engine.Activate(ctx, tx, p, actor)
		if err != nil {
			return err
		}
		if outcome.LinkEnrollmentID != nil && p.EnrollmentID == nil {
			if err := repo.LinkEnrollment(ctx, p.ID, *outcome.LinkEnrollmentID); err != nil {
				return err
			}
			p.EnrollmentID = outcome.LinkEnrollmentID
		}

		amount := p.Amount
		if err := l.audit.Record(ctx, tx, audit.Record{
			Actor:        actor,
			Action:       audit.ActionPaymentCompleted,
			ResourceType: "payment",
			ResourceID:   p.Reference,
			FromStatus:   string(payment.StatusPending),
			ToStatus:     string(payment.StatusCompleted),
			Amount:       &amount,
		}); err != nil {
			return err
		}

		result.Changed = true
		result.Outcome = outcome
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrActivationFailed) {
			l.escalate(ctx, ref, actor, err)
		}
		return nil, err
	}

	if result.Changed {
		l.publishCompleted(ctx, result)
	}
	return result, nil
}

func (l *Ledger) reconfirmed(ctx context.Context, tx *gorm.DB, p *payment.Payment, metadata json.RawMessage, actor string) error {
	if len(metadata) == 0 || jsonEqual(p.Metadata, metadata) {
		return nil
	}

	l.logger.WarnContext(ctx, "completed payment reconfirmed with different gateway metadata",
		"reference", p.Reference,
		"actor", actor)
	return l.audit.Record(ctx, tx, audit.Record{
		Actor:        actor,
		Action:       audit.ActionPaymentReconfirmed,
		ResourceType: "payment",
		ResourceID:   p.Reference,
		FromStatus:   string(p.Status),
		ToStatus:     string(p.Status),
		Metadata: map[string]interface{}{
			"metadata_mismatch": true,
			"received":          json.RawMessage(metadata),
		},
	})
}

// lostRace handles a conditional update that matched no row: another writer moved the
// payment first. Landing on the same target is success; anything else is illegal.
func (l *Ledger) lostRace(ctx context.Context, repo RepositoryAPI, result *TransitionResult, ref string, target payment.Status) error {
	current, err := repo.GetByReference(ctx, ref)
	if err != nil {
		return err
	}
	result.Payment = current
	if current.Status == target {
		l.logger.InfoContext(ctx, "payment already transitioned by a concurrent writer",
			"reference", ref,
			"status", current.Status)
		return nil
	}
	return errors.NewIllegalTransitionError(string(current.Status), string(target))
}

// MarkFailed moves PENDING to FAILED. Repeating it on a FAILED payment is a no-op.
func (l *Ledger) MarkFailed(ctx context.Context, ref string, metadata json.RawMessage, reason string, actor string) (*TransitionResult, error) {
	result := &TransitionResult{}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		p, err := repo.GetByReferenceForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		result.Payment = p

		switch p.Status {
		case payment.StatusFailed:
			return nil
		case payment.StatusPending:
		default:
			l.logger.WarnContext(ctx, "illegal payment transition",
				"reference", ref,
				"from", p.Status,
				"to", payment.StatusFailed,
				"actor", actor)
			return errors.NewIllegalTransitionError(string(p.Status), string(payment.StatusFailed))
		}

		fields := map[string]interface{}{}
		if len(metadata) > 0 {
			fields["metadata"] = datatypes.JSON(metadata)
		}
		won, err := repo.TransitionStatus(ctx, p.ID, payment.StatusPending, payment.StatusFailed, fields)
		if err != nil {
			return err
		}
		if !won {
			return l.lostRace(ctx, repo, result, ref, payment.StatusFailed)
		}
		p.Status = payment.StatusFailed
		if len(metadata) > 0 {
			p.Metadata = datatypes.JSON(metadata)
		}

		amount := p.Amount
		if err := l.audit.Record(ctx, tx, audit.Record{
			Actor:        actor,
			Action:       audit.ActionPaymentFailed,
			ResourceType: "payment",
			ResourceID:   p.Reference,
			FromStatus:   string(payment.StatusPending),
			ToStatus:     string(payment.StatusFailed),
			Amount:       &amount,
			Metadata:     map[string]interface{}{"reason": reason},
		}); err != nil {
			return err
		}

		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		p := result.Payment
		l.logger.InfoContext(ctx, "payment failed", "reference", p.Reference, "reason", reason, "actor", actor)
		l.publish(ctx, events.NewPaymentFailedEvent(p.ID, p.Reference, p.UserID, p.Email, p.Amount, p.Currency, reason))
	}
	return result, nil
}

// Refund marks a COMPLETED payment REFUNDED, keeping its amount, and inserts the negative
// counter-entry REFUND_<reference>. A nil amount refunds the full original.
func (l *Ledger) Refund(ctx context.Context, paymentID int64, amount *int64, reason string, actor string) (*RefundResult, error) {
	result := &RefundResult{}
	var outcome *activation.Outcome

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)

		original, err := repo.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if original.IsRefund() {
			return errors.NewRefundAmountInvalidError("a refund entry cannot itself be refunded")
		}
		if !CanTransition(original.Status, payment.StatusRefunded) {
			l.logger.WarnContext(ctx, "illegal payment transition",
				"reference", original.Reference,
				"from", original.Status,
				"to", payment.StatusRefunded,
				"actor", actor)
			return errors.NewIllegalTransitionError(string(original.Status), string(payment.StatusRefunded))
		}

		refundAmount := original.Amount
		if amount != nil {
			refundAmount = *amount
		}
		if refundAmount <= 0 || refundAmount > original.Amount {
			return errors.NewRefundAmountInvalidError(
				fmt.Sprintf("refund amount must be greater than 0 and at most %d", original.Amount))
		}

		won, err := repo.TransitionStatus(ctx, original.ID, payment.StatusCompleted, payment.StatusRefunded, nil)
		if err != nil {
			return err
		}
		if !won {
			return errors.NewIllegalTransitionError(string(original.Status), string(payment.StatusRefunded))
		}
		original.Status = payment.StatusRefunded

		meta, err := json.Marshal(map[string]interface{}{
			"refund_of":    original.Reference,
			"refund_of_id": original.ID,
			"reason":       reason,
			"actor":        actor,
		})
		if err != nil {
			return fmt.Errorf("marshal refund metadata: %w", err)
		}
		now := l.now()
		refund := &payment.Payment{
			UserID:        original.UserID,
			Email:         original.Email,
			Type:          original.Type,
			Amount:        -refundAmount,
			Currency:      original.Currency,
			Status:        payment.StatusCompleted,
			Reference:     reference.Refund(original.Reference),
			Gateway:       original.Gateway,
			CourseID:      original.CourseID,
			ApplicationID: original.ApplicationID,
			EnrollmentID:  original.EnrollmentID,
			InstallmentID: original.InstallmentID,
			RefundOfID:    &original.ID,
			PaidAt:        &now,
			Metadata:      datatypes.JSON(meta),
		}
		if err := repo.Create(ctx, refund); err != nil {
			return err
		}

		outcome, err = l.engine.Revoke(ctx, tx, original, actor)
		if err != nil {
			return err
		}

		if err := l.audit.Record(ctx, tx, audit.Record{
			Actor:        actor,
			Action:       audit.ActionPaymentRefunded,
			ResourceType: "payment",
			ResourceID:   original.Reference,
			FromStatus:   string(payment.StatusCompleted),
			ToStatus:     string(payment.StatusRefunded),
			Amount:       &refundAmount,
			Metadata: map[string]interface{}{
				"reason":           reason,
				"refund_reference": refund.Reference,
				"refund_id":        strconv.FormatInt(refund.ID, 10),
			},
		}); err != nil {
			return err
		}

		result.Original = original
		result.Refund = refund
		return nil
	})
	if err != nil {
		return nil, err
	}

	o, r := result.Original, result.Refund
	l.logger.InfoContext(ctx, "payment refunded",
		"reference", o.Reference,
		"refund_reference", r.Reference,
		"amount", -r.Amount,
		"actor", actor)
	l.publish(ctx, events.NewPaymentRefundedEvent(o.ID, r.ID, o.Reference, r.Reference, o.UserID, o.Email, -r.Amount, o.Currency, reason, actor))
	if outcome != nil && outcome.Suspended && outcome.Enrollment != nil {
		e := outcome.Enrollment
		l.publish(ctx, events.NewEnrollmentSuspendedEvent(e.ID, e.UserID, e.CourseID, o.Email, o.Reference))
	}
	return result, nil
}

func (l *Ledger) publishCompleted(ctx context.Context, result *TransitionResult) {
	p := result.Payment
	paidAt := l.now()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	l.logger.InfoContext(ctx, "payment completed",
		"reference", p.Reference,
		"type", p.Type,
		"amount", p.Amount)
	l.publish(ctx, events.NewPaymentCompletedEvent(p.ID, p.Reference, p.UserID, p.Email, string(p.Type), p.Amount, p.Currency, p.Gateway, paidAt, p.EnrollmentID))

	if o := result.Outcome; o != nil && o.Activated && o.Enrollment != nil {
		e := o.Enrollment
		l.publish(ctx, events.NewEnrollmentActivatedEvent(e.ID, e.UserID, e.CourseID, p.Email, p.Reference))
	}
}

// publish is best-effort: the transition is already committed.
func (l *Ledger) publish(ctx context.Context, event events.Event) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish event",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"error", err)
	}
}

// escalate records an activation failure outside the rolled-back transaction so an
// operator can find it.
func (l *Ledger) escalate(ctx context.Context, ref, actor string, cause error) {
	l.logger.ErrorContext(ctx, "payment activation failed, transition rolled back",
		"reference", ref,
		"actor", actor,
		"error", cause)
	if err := l.audit.Record(ctx, nil, audit.Record{
		Actor:        actor,
		Action:       audit.ActionActivationFailed,
		ResourceType: "payment",
		ResourceID:   ref,
		Metadata:     map[string]interface{}{"error": cause.Error()},
	}); err != nil {
		l.logger.ErrorContext(ctx, "failed to record activation failure", "reference", ref, "error", err)
	}
}

func jsonEqual(stored datatypes.JSON, incoming json.RawMessage) bool {
	if bytes.Equal(stored, incoming) {
		return true
	}
	var a, b interface{}
	if json.Unmarshal(stored, &a) != nil || json.Unmarshal(incoming, &b) != nil {
		return false
	}
	ra, _ := json.Marshal(a)
	rb, _ := json.Marshal(b)
	return bytes.Equal(ra, rb)
}
