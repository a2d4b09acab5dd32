package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	enrollmentpkg "github.com/frahmantamala/enrollment-payments/internal/enrollment"
)

// EnrollmentRepository implements enrollment.RepositoryAPI using GORM
type EnrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) enrollmentpkg.RepositoryAPI {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) WithTx(tx *gorm.DB) enrollmentpkg.RepositoryAPI {
	return &EnrollmentRepository{db: tx}
}

func (r *EnrollmentRepository) locked(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *EnrollmentRepository) GetCourse(ctx context.Context, id int64) (*enrollment.Course, error) {
	var c enrollment.Course
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, errors.NewNotFoundError("course not found", errors.ErrCodeCourseNotFound))
	}
	return &c, nil
}

func (r *EnrollmentRepository) CreateApplication(ctx context.Context, app *enrollment.Application) error {
	err := r.db.WithContext(ctx).Create(app).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.NewConflictError("an application for this course already exists", errors.ErrCodeApplicationExists)
	}
	return err
}

func (r *EnrollmentRepository) GetApplicationForUpdate(ctx context.Context, id int64) (*enrollment.Application, error) {
	var app enrollment.Application
	if err := r.locked(ctx).First(&app, id).Error; err != nil {
		return nil, notFound(err, errors.NewNotFoundError("application not found", errors.ErrCodeApplicationNotFound))
	}
	return &app, nil
}

func (r *EnrollmentRepository) FindApplication(ctx context.Context, userID, courseID int64) (*enrollment.Application, error) {
	var app enrollment.Application
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&app).Error
	if err != nil {
		return nil, notFound(err, errors.NewNotFoundError("application not found", errors.ErrCodeApplicationNotFound))
	}
	return &app, nil
}

func (r *EnrollmentRepository) UpdateApplicationReview(ctx context.Context, app *enrollment.Application) error {
	return r.db.WithContext(ctx).Model(&enrollment.Application{}).
		Where("id = ?", app.ID).
		Updates(map[string]interface{}{
			"status":      app.Status,
			"reviewed_by": app.ReviewedBy,
			"reviewed_at": app.ReviewedAt,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// FindUnlinkedFeePayment returns the oldest completed application fee for (user, course)
// that covers minAmount and that no application has claimed yet, or nil. Refunded fees
// are REFUNDED and their negative counter-entries never qualify.
func (r *EnrollmentRepository) FindUnlinkedFeePayment(ctx context.Context, userID, courseID, minAmount int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.locked(ctx).
		Where("user_id = ? AND course_id = ? AND type = ? AND status = ? AND application_id IS NULL",
			userID, courseID, payment.TypeApplicationFee, payment.StatusCompleted).
		Where("refund_of_id IS NULL AND amount > 0 AND amount >= ?", minAmount).
		Order("id ASC").
		First(&p).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LinkFeePayment sets application_id once; a second claim on the same payment is a conflict.
func (r *EnrollmentRepository) LinkFeePayment(ctx context.Context, paymentID, applicationID int64) error {
	res := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ? AND application_id IS NULL", paymentID).
		Updates(map[string]interface{}{
			"application_id": applicationID,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.NewConflictError("application fee payment is already linked", errors.ErrCodeApplicationFeeRequired)
	}
	return nil
}

func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, e *enrollment.Enrollment) error {
	err := r.db.WithContext(ctx).Create(e).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.NewConflictError("enrollment already exists", errors.ErrCodeValidationFailed)
	}
	return err
}

func (r *EnrollmentRepository) GetEnrollmentForUpdate(ctx context.Context, id int64) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	if err := r.locked(ctx).First(&e, id).Error; err != nil {
		return nil, notFound(err, errors.NewNotFoundError("enrollment not found", errors.ErrCodeEnrollmentNotFound))
	}
	return &e, nil
}

func (r *EnrollmentRepository) FindEnrollmentForUpdate(ctx context.Context, userID, courseID int64) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	err := r.locked(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&e).Error
	if err != nil {
		return nil, notFound(err, errors.NewNotFoundError("enrollment not found", errors.ErrCodeEnrollmentNotFound))
	}
	return &e, nil
}

func (r *EnrollmentRepository) UpdateEnrollmentStatus(ctx context.Context, id int64, status enrollment.Status) error {
	res := r.db.WithContext(ctx).Model(&enrollment.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.NewNotFoundError("enrollment not found", errors.ErrCodeEnrollmentNotFound)
	}
	return nil
}

// CreateInstallmentPlan inserts the plan and its installments in one statement batch.
func (r *EnrollmentRepository) CreateInstallmentPlan(ctx context.Context, plan *enrollment.InstallmentPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *EnrollmentRepository) GetInstallmentPlan(ctx context.Context, id int64) (*enrollment.InstallmentPlan, error) {
	var plan enrollment.InstallmentPlan
	err := r.db.WithContext(ctx).
		Preload("Installments", func(db *gorm.DB) *gorm.DB {
			return db.Order("installment_number ASC")
		}).
		First(&plan, id).Error
	if err != nil {
		return nil, notFound(err, errors.NewNotFoundError("installment plan not found", errors.ErrCodePlanNotFound))
	}
	return &plan, nil
}

func (r *EnrollmentRepository) GetInstallmentPlanForUpdate(ctx context.Context, id int64) (*enrollment.InstallmentPlan, error) {
	var plan enrollment.InstallmentPlan
	if err := r.locked(ctx).First(&plan, id).Error; err != nil {
		return nil, notFound(err, errors.NewNotFoundError("installment plan not found", errors.ErrCodePlanNotFound))
	}
	return &plan, nil
}

func (r *EnrollmentRepository) LinkPlanEnrollment(ctx context.Context, planID, enrollmentID int64) error {
	return r.db.WithContext(ctx).Model(&enrollment.InstallmentPlan{}).
		Where("id = ?", planID).
		Updates(map[string]interface{}{
			"enrollment_id": enrollmentID,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *EnrollmentRepository) GetInstallment(ctx context.Context, id int64) (*enrollment.Installment, error) {
	var inst enrollment.Installment
	if err := r.db.WithContext(ctx).First(&inst, id).Error; err != nil {
		return nil, notFound(err, errors.NewNotFoundError("installment not found", errors.ErrCodePlanNotFound))
	}
	return &inst, nil
}

func (r *EnrollmentRepository) GetInstallmentForUpdate(ctx context.Context, id int64) (*enrollment.Installment, error) {
	var inst enrollment.Installment
	if err := r.locked(ctx).First(&inst, id).Error; err != nil {
		return nil, notFound(err, errors.NewNotFoundError("installment not found", errors.ErrCodePlanNotFound))
	}
	return &inst, nil
}

// ListInstallments reads the plan's installments fresh from the current transaction.
func (r *EnrollmentRepository) ListInstallments(ctx context.Context, planID int64) ([]enrollment.Installment, error) {
	var installments []enrollment.Installment
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("installment_number ASC").
		Find(&installments).Error
	return installments, err
}

func (r *EnrollmentRepository) UpdateInstallmentStatus(ctx context.Context, id int64, status enrollment.InstallmentStatus, paidAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&enrollment.Installment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"paid_at":    paidAt,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *EnrollmentRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&enrollment.Installment{}).
		Where("status = ? AND due_date < ?", enrollment.InstallmentPending, now.UTC()).
		Updates(map[string]interface{}{
			"status":     enrollment.InstallmentOverdue,
			"updated_at": now.UTC(),
		})
	return res.RowsAffected, res.Error
}

func notFound(err error, appErr *errors.AppError) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return appErr
	}
	return err
}
