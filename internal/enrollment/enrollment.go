package enrollment

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
)

// RepositoryAPI is the enrollment store. The ForUpdate reads take a row lock on
// databases that support one; callers must be inside a transaction for it to matter.
type RepositoryAPI interface {
	WithTx(tx *gorm.DB) RepositoryAPI

	GetCourse(ctx context.Context, id int64) (*enrollment.Course, error)

	CreateApplication(ctx context.Context, app *enrollment.Application) error
	GetApplicationForUpdate(ctx context.Context, id int64) (*enrollment.Application, error)
	FindApplication(ctx context.Context, userID, courseID int64) (*enrollment.Application, error)
	UpdateApplicationReview(ctx context.Context, app *enrollment.Application) error

	FindUnlinkedFeePayment(ctx context.Context, userID, courseID, minAmount int64) (*payment.Payment, error)
	LinkFeePayment(ctx context.Context, paymentID, applicationID int64) error

	CreateEnrollment(ctx context.Context, e *enrollment.Enrollment) error
	GetEnrollmentForUpdate(ctx context.Context, id int64) (*enrollment.Enrollment, error)
	FindEnrollmentForUpdate(ctx context.Context, userID, courseID int64) (*enrollment.Enrollment, error)
	UpdateEnrollmentStatus(ctx context.Context, id int64, status enrollment.Status) error

	CreateInstallmentPlan(ctx context.Context, plan *enrollment.InstallmentPlan) error
	GetInstallmentPlan(ctx context.Context, id int64) (*enrollment.InstallmentPlan, error)
	GetInstallmentPlanForUpdate(ctx context.Context, id int64) (*enrollment.InstallmentPlan, error)
	LinkPlanEnrollment(ctx context.Context, planID, enrollmentID int64) error
	GetInstallment(ctx context.Context, id int64) (*enrollment.Installment, error)
	GetInstallmentForUpdate(ctx context.Context, id int64) (*enrollment.Installment, error)
	ListInstallments(ctx context.Context, planID int64) ([]enrollment.Installment, error)
	UpdateInstallmentStatus(ctx context.Context, id int64, status enrollment.InstallmentStatus, paidAt *time.Time) error
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// AuditRecorder writes audit entries inside the caller's transaction.
type AuditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, rec audit.Record) error
}

// PolicySatisfied re-evaluates a plan's activation rule against the given installment rows.
// ALL_PAID needs every installment PAID. UPFRONT needs installments 1..UpfrontCount PAID.
func PolicySatisfied(plan *enrollment.InstallmentPlan, installments []enrollment.Installment) bool {
	if len(installments) == 0 {
		return false
	}

	switch plan.ActivationPolicy {
	case enrollment.PolicyUpfront:
		if plan.UpfrontCount <= 0 {
			return false
		}
		seen := 0
		for _, inst := range installments {
			if inst.InstallmentNumber > plan.UpfrontCount {
				continue
			}
			if inst.Status != enrollment.InstallmentPaid {
				return false
			}
			seen++
		}
		return seen == plan.UpfrontCount
	default:
		if len(installments) != plan.InstallmentCount {
			return false
		}
		for _, inst := range installments {
			if inst.Status != enrollment.InstallmentPaid {
				return false
			}
		}
		return true
	}
}

// ApplicationFeeRequired reports whether applying to course needs a paid fee first.
func ApplicationFeeRequired(course *enrollment.Course) bool {
	return course.ApplicationFee > 0
}
