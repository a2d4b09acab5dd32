// Package activation applies the downstream effects of a payment transition. Every
// method runs inside the caller's transaction; a returned error must roll it back.
package activation

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	enrollmentpkg "github.com/frahmantamala/enrollment-payments/internal/enrollment"
)

// Outcome describes what an activation or revocation changed.
type Outcome struct {
	// Enrollment is the enrollment the payment resolved to, if any.
	Enrollment *enrollment.Enrollment
	// LinkEnrollmentID is set when the payment row should be linked to Enrollment.
	LinkEnrollmentID *int64
	Activated        bool
	Suspended        bool
	InstallmentPaid  bool
}

type Engine struct {
	repo   enrollmentpkg.RepositoryAPI
	audit  enrollmentpkg.AuditRecorder
	logger *slog.Logger
}

func NewEngine(repo enrollmentpkg.RepositoryAPI, auditRecorder enrollmentpkg.AuditRecorder, logger *slog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		audit:  auditRecorder,
		logger: logger,
	}
}

// Activate applies the effect of p reaching COMPLETED.
func (e *Engine) Activate(ctx context.Context, tx *gorm.DB, p *payment.Payment, actor string) (*Outcome, error) {
	repo := e.repo.WithTx(tx)

	var (
		out *Outcome
		err error
	)
	switch p.Type {
	case payment.TypeApplicationFee:
		// Joined to an application when the application is created.
		return &Outcome{}, nil
	case payment.TypeTuition:
		out, err = e.activateTuition(ctx, tx, repo, p, actor)
	case payment.TypeInstallment:
		out, err = e.activateInstallment(ctx, tx, repo, p, actor)
	default:
		err = fmt.Errorf("unknown payment type %q", p.Type)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "activation failed",
			"reference", p.Reference,
			"payment_type", p.Type,
			"error", err)
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeActivationFailed {
			return nil, appErr
		}
		return nil, errors.NewActivationFailedError("payment activation failed", err)
	}
	return out, nil
}

func (e *Engine) activateTuition(ctx context.Context, tx *gorm.DB, repo enrollmentpkg.RepositoryAPI, p *payment.Payment, actor string) (*Outcome, error) {
	enr, linked, err := e.resolveTuitionEnrollment(ctx, repo, p)
	if err != nil {
		return nil, err
	}
	if enr.UserID != p.UserID {
		return nil, errors.NewActivationFailedError(
			fmt.Sprintf("enrollment %d does not belong to user %d", enr.ID, p.UserID), nil)
	}
	course, err := repo.GetCourse(ctx, enr.CourseID)
	if err != nil {
		return nil, missing(err, fmt.Sprintf("course %d not found", enr.CourseID))
	}
	if p.Amount < course.Price {
		return nil, errors.NewActivationFailedError(
			fmt.Sprintf("course %d costs %d, payment carries %d", course.ID, course.Price, p.Amount), nil)
	}

	out := &Outcome{Enrollment: enr}
	if linked {
		out.LinkEnrollmentID = &enr.ID
	}
	activated, err := e.setEnrollmentStatus(ctx, tx, repo, enr, enrollment.StatusActive, p, actor)
	if err != nil {
		return nil, err
	}
	out.Activated = activated
	return out, nil
}

// AmountDue is the minor-unit amount a new payment of type t must carry: the course price
// for TUITION, the course fee for APPLICATION_FEE and the installment amount for INSTALLMENT.
func (e *Engine) AmountDue(ctx context.Context, t payment.Type, courseID, installmentID *int64) (int64, error) {
	switch t {
	case payment.TypeInstallment:
		if installmentID == nil {
			return 0, errors.NewValidationFieldError("installment_id", "installment_id is required", errors.ErrCodeValidationFailed)
		}
		inst, err := e.repo.GetInstallment(ctx, *installmentID)
		if err != nil {
			return 0, err
		}
		return inst.Amount, nil
	case payment.TypeTuition, payment.TypeApplicationFee:
		if courseID == nil {
			return 0, errors.NewValidationFieldError("course_id", "course_id is required", errors.ErrCodeValidationFailed)
		}
		course, err := e.repo.GetCourse(ctx, *courseID)
		if err != nil {
			return 0, err
		}
		if t == payment.TypeTuition {
			return course.Price, nil
		}
		if !enrollmentpkg.ApplicationFeeRequired(course) {
			return 0, errors.NewValidationFieldError("type", "course has no application fee", errors.ErrCodeValidationFailed)
		}
		return course.ApplicationFee, nil
	default:
		return 0, errors.NewValidationFieldError("type", "unknown payment type", errors.ErrCodeValidationFailed)
	}
}

// resolveTuitionEnrollment prefers the payment's own link and falls back to (user, course).
// linked reports whether the fallback was used.
func (e *Engine) resolveTuitionEnrollment(ctx context.Context, repo enrollmentpkg.RepositoryAPI, p *payment.Payment) (*enrollment.Enrollment, bool, error) {
	if p.EnrollmentID != nil {
		enr, err := repo.GetEnrollmentForUpdate(ctx, *p.EnrollmentID)
		if err != nil {
			return nil, false, missing(err, fmt.Sprintf("enrollment %d not found", *p.EnrollmentID))
		}
		return enr, false, nil
	}
	if p.CourseID == nil {
		return nil, false, errors.NewActivationFailedError("tuition payment is linked to neither an enrollment nor a course", nil)
	}
	enr, err := repo.FindEnrollmentForUpdate(ctx, p.UserID, *p.CourseID)
	if err != nil {
		return nil, false, missing(err, fmt.Sprintf("no enrollment for user %d in course %d", p.UserID, *p.CourseID))
	}
	return enr, true, nil
}

// activateInstallment locks the installment and then its plan. Holding the plan lock means
// concurrent installment payments for one plan evaluate the policy one after the other.
func (e *Engine) activateInstallment(ctx context.Context, tx *gorm.DB, repo enrollmentpkg.RepositoryAPI, p *payment.Payment, actor string) (*Outcome, error) {
	if p.InstallmentID == nil {
		return nil, errors.NewActivationFailedError("installment payment has no installment", nil)
	}

	inst, err := repo.GetInstallmentForUpdate(ctx, *p.InstallmentID)
	if err != nil {
		return nil, missing(err, fmt.Sprintf("installment %d not found", *p.InstallmentID))
	}
	plan, err := repo.GetInstallmentPlanForUpdate(ctx, inst.PlanID)
	if err != nil {
		return nil, missing(err, fmt.Sprintf("installment plan %d not found", inst.PlanID))
	}
	if plan.UserID != p.UserID {
		return nil, errors.NewActivationFailedError(
			fmt.Sprintf("installment plan %d does not belong to user %d", plan.ID, p.UserID), nil)
	}
	if inst.Status == enrollment.InstallmentPaid {
		return nil, errors.NewActivationFailedError(
			fmt.Sprintf("installment %d is already paid", inst.ID), nil)
	}
	if inst.Amount != p.Amount {
		return nil, errors.NewActivationFailedError(
			fmt.Sprintf("installment %d expects %d, payment carries %d", inst.ID, inst.Amount, p.Amount), nil)
	}

	paidAt := time.Now().UTC()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	if err := repo.UpdateInstallmentStatus(ctx, inst.ID, enrollment.InstallmentPaid, &paidAt); err != nil {
		return nil, err
	}
	amount := inst.Amount
	if err := e.audit.Record(ctx, tx, audit.Record{
		Actor:        actor,
		Action:       audit.ActionInstallmentPaid,
		ResourceType: "installment",
		ResourceID:   strconv.FormatInt(inst.ID, 10),
		FromStatus:   string(inst.Status),
		ToStatus:     string(enrollment.InstallmentPaid),
		Amount:       &amount,
		Metadata: map[string]interface{}{
			"plan_id":            plan.ID,
			"installment_number": inst.InstallmentNumber,
			"reference":          p.Reference,
		},
	}); err != nil {
		return nil, err
	}

	out := &Outcome{InstallmentPaid: true}

	// Re-read every installment inside this transaction rather than counting in memory.
	rows, err := repo.ListInstallments(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	if !enrollmentpkg.PolicySatisfied(plan, rows) {
		e.logger.InfoContext(ctx, "installment paid, activation policy not yet met",
			"plan_id", plan.ID,
			"installment_number", inst.InstallmentNumber,
			"policy", plan.ActivationPolicy)
		return out, nil
	}

	enr, err := e.resolvePlanEnrollment(ctx, repo, plan)
	if err != nil {
		return nil, err
	}
	out.Enrollment = enr
	out.LinkEnrollmentID = &enr.ID

	activated, err := e.setEnrollmentStatus(ctx, tx, repo, enr, enrollment.StatusActive, p, actor)
	if err != nil {
		return nil, err
	}
	out.Activated = activated
	return out, nil
}

func (e *Engine) resolvePlanEnrollment(ctx context.Context, repo enrollmentpkg.RepositoryAPI, plan *enrollment.InstallmentPlan) (*enrollment.Enrollment, error) {
	if plan.EnrollmentID != nil {
		enr, err := repo.GetEnrollmentForUpdate(ctx, *plan.EnrollmentID)
		if err != nil {
			return nil, missing(err, fmt.Sprintf("enrollment %d for plan %d not found", *plan.EnrollmentID, plan.ID))
		}
		return enr, nil
	}

	enr, err := repo.FindEnrollmentForUpdate(ctx, plan.UserID, plan.CourseID)
	if err != nil {
		return nil, missing(err, fmt.Sprintf("no enrollment for plan %d", plan.ID))
	}
	if err := repo.LinkPlanEnrollment(ctx, plan.ID, enr.ID); err != nil {
		return nil, err
	}
	plan.EnrollmentID = &enr.ID
	return enr, nil
}

// Revoke undoes the effect of a refunded payment p, inside the refund transaction.
func (e *Engine) Revoke(ctx context.Context, tx *gorm.DB, p *payment.Payment, actor string) (*Outcome, error) {
	repo := e.repo.WithTx(tx)

	var (
		out *Outcome
		err error
	)
	switch p.Type {
	case payment.TypeTuition:
		out, err = e.revokeTuition(ctx, tx, repo, p, actor)
	case payment.TypeInstallment:
		out, err = e.revokeInstallment(ctx, tx, repo, p, actor)
	default:
		return &Outcome{}, nil
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "revocation failed",
			"reference", p.Reference,
			"payment_type", p.Type,
			"error", err)
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeActivationFailed {
			return nil, appErr
		}
		return nil, errors.NewActivationFailedError("payment revocation failed", err)
	}
	return out, nil
}

func (e *Engine) revokeTuition(ctx context.Context, tx *gorm.DB, repo enrollmentpkg.RepositoryAPI, p *payment.Payment, actor string) (*Outcome, error) {
	enr, _, err := e.resolveTuitionEnrollment(ctx, repo, p)
	if err != nil {
		if stderrors.Is(err, errors.ErrActivationFailed) && p.EnrollmentID == nil {
			e.logger.WarnContext(ctx, "refunded tuition has no enrollment to suspend", "reference", p.Reference)
			return &Outcome{}, nil
		}
		return nil, err
	}

	suspended, err := e.setEnrollmentStatus(ctx, tx, repo, enr, enrollment.StatusSuspended, p, actor)
	if err != nil {
		return nil, err
	}
	return &Outcome{Enrollment: enr, Suspended: suspended}, nil
}

// revokeInstallment returns the installment to PENDING and suspends the enrollment only
// when the plan's policy stops holding.
func (e *Engine) revokeInstallment(ctx context.Context, tx *gorm.DB, repo enrollmentpkg.RepositoryAPI, p *payment.Payment, actor string) (*Outcome, error) {
	if p.InstallmentID == nil {
		return &Outcome{}, nil
	}
	inst, err := repo.GetInstallmentForUpdate(ctx, *p.InstallmentID)
	if err != nil {
		return nil, missing(err, fmt.Sprintf("installment %d not found", *p.InstallmentID))
	}
	plan, err := repo.GetInstallmentPlanForUpdate(ctx, inst.PlanID)
	if err != nil {
		return nil, missing(err, fmt.Sprintf("installment plan %d not found", inst.PlanID))
	}

	before, err := repo.ListInstallments(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	heldBefore := enrollmentpkg.PolicySatisfied(plan, before)

	if inst.Status == enrollment.InstallmentPaid {
		if err := repo.UpdateInstallmentStatus(ctx, inst.ID, enrollment.InstallmentPending, nil); err != nil {
			return nil, err
		}
		if err := e.audit.Record(ctx, tx, audit.Record{
			Actor:        actor,
			Action:       audit.ActionPaymentRefunded,
			ResourceType: "installment",
			ResourceID:   strconv.FormatInt(inst.ID, 10),
			FromStatus:   string(enrollment.InstallmentPaid),
			ToStatus:     string(enrollment.InstallmentPending),
			Metadata:     map[string]interface{}{"reference": p.Reference},
		}); err != nil {
			return nil, err
		}
	}

	after, err := repo.ListInstallments(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	if !heldBefore || enrollmentpkg.PolicySatisfied(plan, after) {
		return &Outcome{}, nil
	}

	enr, err := e.resolvePlanEnrollment(ctx, repo, plan)
	if err != nil {
		return nil, err
	}
	suspended, err := e.setEnrollmentStatus(ctx, tx, repo, enr, enrollment.StatusSuspended, p, actor)
	if err != nil {
		return nil, err
	}
	return &Outcome{Enrollment: enr, Suspended: suspended}, nil
}

// setEnrollmentStatus moves enr to target and audits it. COMPLETED enrollments are never
// reactivated. It reports whether the status changed.
func (e *Engine) setEnrollmentStatus(ctx context.Context, tx *gorm.DB, repo enrollmentpkg.RepositoryAPI, enr *enrollment.Enrollment, target enrollment.Status, p *payment.Payment, actor string) (bool, error) {
	if enr.Status == target {
		return false, nil
	}
	if target == enrollment.StatusActive && enr.Status == enrollment.StatusCompleted {
		return false, nil
	}

	from := enr.Status
	if err := repo.UpdateEnrollmentStatus(ctx, enr.ID, target); err != nil {
		return false, err
	}
	enr.Status = target

	action := audit.ActionEnrollmentActivated
	if target == enrollment.StatusSuspended {
		action = audit.ActionEnrollmentSuspended
	}
	if err := e.audit.Record(ctx, tx, audit.Record{
		Actor:        actor,
		Action:       action,
		ResourceType: "enrollment",
		ResourceID:   strconv.FormatInt(enr.ID, 10),
		FromStatus:   string(from),
		ToStatus:     string(target),
		Metadata: map[string]interface{}{
			"reference":    p.Reference,
			"payment_type": p.Type,
		},
	}); err != nil {
		return false, err
	}

	e.logger.InfoContext(ctx, "enrollment status changed",
		"enrollment_id", enr.ID,
		"from", from,
		"to", target,
		"reference", p.Reference)
	return true, nil
}

func missing(err error, message string) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Type == errors.ErrorTypeNotFound {
		return errors.NewActivationFailedError(message, err)
	}
	return err
}
