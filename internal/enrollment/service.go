package enrollment

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
)

type ServiceAPI interface {
	CreateApplication(ctx context.Context, actor errors.Actor, dto *CreateApplicationDTO) (*enrollment.Application, error)
	ReviewApplication(ctx context.Context, actor errors.Actor, applicationID int64, dto *ReviewApplicationDTO) (*ReviewResult, error)
	CreateInstallmentPlan(ctx context.Context, actor errors.Actor, dto *CreateInstallmentPlanDTO) (*enrollment.InstallmentPlan, error)
	GetInstallmentPlan(ctx context.Context, actor errors.Actor, planID int64) (*enrollment.InstallmentPlan, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	db     *gorm.DB
	repo   RepositoryAPI
	audit  AuditRecorder
	codec  money.Codec
	logger *slog.Logger
}

func NewService(db *gorm.DB, repo RepositoryAPI, auditRecorder AuditRecorder, codec money.Codec, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		audit:  auditRecorder,
		codec:  codec,
		logger: logger,
	}
}

// CreateApplication enforces one application per (user, course). Fee-gated courses need a
// completed, still unlinked APPLICATION_FEE payment, which is linked to the new application.
func (s *Service) CreateApplication(ctx context.Context, actor errors.Actor, dto *CreateApplicationDTO) (*enrollment.Application, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	var created *enrollment.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		course, err := repo.GetCourse(ctx, dto.CourseID)
		if err != nil {
			return err
		}

		existing, err := repo.FindApplication(ctx, actor.UserID, course.ID)
		if err != nil && !stderrors.Is(err, errors.ErrApplicationNotFound) {
			return err
		}
		if existing != nil {
			return errors.NewConflictError("an application for this course already exists", errors.ErrCodeApplicationExists)
		}

		app := &enrollment.Application{
			UserID:   actor.UserID,
			CourseID: course.ID,
			Status:   enrollment.ApplicationPending,
		}
		if len(dto.FormData) > 0 {
			app.FormData = datatypes.JSON(dto.FormData)
		}

		var feePaymentID *int64
		if ApplicationFeeRequired(course) {
			fee, err := repo.FindUnlinkedFeePayment(ctx, actor.UserID, course.ID, course.ApplicationFee)
			if err != nil {
				return err
			}
			if fee == nil {
				return errors.NewApplicationFeeRequiredError()
			}
			feePaymentID = &fee.ID
		}

		if err := repo.CreateApplication(ctx, app); err != nil {
			return err
		}

		if feePaymentID != nil {
			if err := repo.LinkFeePayment(ctx, *feePaymentID, app.ID); err != nil {
				return err
			}
		}

		meta := map[string]interface{}{"course_id": course.ID}
		if feePaymentID != nil {
			meta["fee_payment_id"] = *feePaymentID
		}
		if err := s.audit.Record(ctx, tx, audit.Record{
			Actor:        actor.String(),
			Action:       audit.ActionApplicationCreated,
			ResourceType: "application",
			ResourceID:   strconv.FormatInt(app.ID, 10),
			ToStatus:     string(app.Status),
			Metadata:     meta,
		}); err != nil {
			return err
		}

		created = app
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "create application failed",
			"user_id", actor.UserID,
			"course_id", dto.CourseID,
			"error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "application created",
		"application_id", created.ID,
		"user_id", created.UserID,
		"course_id", created.CourseID)
	return created, nil
}

// ReviewApplication decides a PENDING application. Approval creates a PENDING enrollment
// that waits for its tuition or installment payment.
func (s *Service) ReviewApplication(ctx context.Context, actor errors.Actor, applicationID int64, dto *ReviewApplicationDTO) (*ReviewResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	result := &ReviewResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		app, err := repo.GetApplicationForUpdate(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Status != enrollment.ApplicationPending {
			return errors.NewConflictError(
				fmt.Sprintf("application already %s", app.Status), errors.ErrCodeApplicationReviewed)
		}

		from := app.Status
		reviewer := actor.String()
		now := time.Now().UTC()
		app.Status = enrollment.ApplicationStatus(dto.Decision)
		app.ReviewedBy = &reviewer
		app.ReviewedAt = &now
		if err := repo.UpdateApplicationReview(ctx, app); err != nil {
			return err
		}

		if app.Status == enrollment.ApplicationApproved {
			enr, err := repo.FindEnrollmentForUpdate(ctx, app.UserID, app.CourseID)
			if err != nil && !stderrors.Is(err, errors.ErrEnrollmentNotFound) {
				return err
			}
			if enr == nil {
				enr = &enrollment.Enrollment{
					UserID:        app.UserID,
					CourseID:      app.CourseID,
					ApplicationID: &app.ID,
					Status:        enrollment.StatusPending,
				}
				if err := repo.CreateEnrollment(ctx, enr); err != nil {
					return err
				}
			}
			result.Enrollment = enr
		}

		meta := map[string]interface{}{}
		if dto.Note != "" {
			meta["note"] = dto.Note
		}
		if err := s.audit.Record(ctx, tx, audit.Record{
			Actor:        reviewer,
			Action:       audit.ActionApplicationReviewed,
			ResourceType: "application",
			ResourceID:   strconv.FormatInt(app.ID, 10),
			FromStatus:   string(from),
			ToStatus:     string(app.Status),
			Metadata:     meta,
		}); err != nil {
			return err
		}

		result.Application = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "application reviewed",
		"application_id", applicationID,
		"decision", dto.Decision,
		"reviewer", actor.String())
	return result, nil
}

// CreateInstallmentPlan stores an explicit schedule. Amounts must sum to the total and due
// dates must not go backwards.
func (s *Service) CreateInstallmentPlan(ctx context.Context, actor errors.Actor, dto *CreateInstallmentPlanDTO) (*enrollment.InstallmentPlan, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	plan, err := s.buildPlan(dto)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		course, err := repo.GetCourse(ctx, plan.CourseID)
		if err != nil {
			return err
		}
		if plan.Currency == "" {
			plan.Currency = course.Currency
		}
		if plan.Currency != course.Currency {
			return invalidPlan("currency %s does not match course currency %s", plan.Currency, course.Currency)
		}

		if plan.EnrollmentID != nil {
			enr, err := repo.GetEnrollmentForUpdate(ctx, *plan.EnrollmentID)
			if err != nil {
				return err
			}
			if enr.UserID != plan.UserID || enr.CourseID != plan.CourseID {
				return invalidPlan("enrollment %d belongs to a different user or course", enr.ID)
			}
		}

		return repo.CreateInstallmentPlan(ctx, plan)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "create installment plan failed",
			"user_id", dto.UserID,
			"course_id", dto.CourseID,
			"error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "installment plan created",
		"plan_id", plan.ID,
		"user_id", plan.UserID,
		"installments", plan.InstallmentCount,
		"policy", plan.ActivationPolicy,
		"created_by", actor.String())
	return plan, nil
}

func (s *Service) buildPlan(dto *CreateInstallmentPlanDTO) (*enrollment.InstallmentPlan, error) {
	total, err := s.codec.ToMinorUnits(dto.TotalAmount)
	if err != nil {
		return nil, errors.NewValidationFieldError("total_amount", err.Error(), errors.ErrCodeInvalidAmount)
	}

	policy := enrollment.ActivationPolicy(dto.ActivationPolicy)
	count := len(dto.Installments)
	switch policy {
	case enrollment.PolicyUpfront:
		if dto.UpfrontCount < 1 || dto.UpfrontCount > count {
			return nil, invalidPlan("upfront_count must be between 1 and %d", count)
		}
	case enrollment.PolicyAllPaid:
		if dto.UpfrontCount != 0 {
			return nil, invalidPlan("upfront_count is only valid with the %s policy", enrollment.PolicyUpfront)
		}
	}

	plan := &enrollment.InstallmentPlan{
		UserID:           dto.UserID,
		CourseID:         dto.CourseID,
		EnrollmentID:     dto.EnrollmentID,
		TotalAmount:      total,
		Currency:         dto.Currency,
		InstallmentCount: count,
		ActivationPolicy: policy,
		UpfrontCount:     dto.UpfrontCount,
		Installments:     make([]enrollment.Installment, 0, count),
	}

	var sum int64
	var lastDue time.Time
	for i, inst := range dto.Installments {
		amount, err := s.codec.ToMinorUnits(inst.Amount)
		if err != nil {
			return nil, errors.NewValidationFieldError(fmt.Sprintf("installments[%d].amount", i), err.Error(), errors.ErrCodeInvalidAmount)
		}
		due := inst.DueDate.UTC()
		if i > 0 && due.Before(lastDue) {
			return nil, invalidPlan("installment %d is due before installment %d", i+1, i)
		}
		lastDue = due
		sum += amount

		plan.Installments = append(plan.Installments, enrollment.Installment{
			InstallmentNumber: i + 1,
			Amount:            amount,
			DueDate:           due,
			Status:            enrollment.InstallmentPending,
		})
	}

	if sum != total {
		return nil, invalidPlan("installments sum to %s, expected %s", s.codec.Format(sum), s.codec.Format(total))
	}
	return plan, nil
}

// GetInstallmentPlan hides other students' plans behind the same not-found as a missing id.
func (s *Service) GetInstallmentPlan(ctx context.Context, actor errors.Actor, planID int64) (*enrollment.InstallmentPlan, error) {
	plan, err := s.repo.GetInstallmentPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && plan.UserID != actor.UserID {
		s.logger.WarnContext(ctx, "installment plan access denied",
			"plan_id", planID,
			"user_id", actor.UserID)
		return nil, errors.NewNotFoundError("installment plan not found", errors.ErrCodePlanNotFound)
	}
	return plan, nil
}

// MarkOverdue flags unpaid installments whose due date has passed. Overdue installments stay payable.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.MarkOverdue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "mark overdue installments failed", "error", err)
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "installments marked overdue", "count", n)
	}
	return n, nil
}

func invalidPlan(format string, args ...interface{}) *errors.AppError {
	return errors.NewValidationError(fmt.Sprintf(format, args...), errors.ErrCodePlanInvalid)
}

// PlanSummary renders a plan for API responses with the total in major units.
func PlanSummary(plan *enrollment.InstallmentPlan, codec money.Codec) *InstallmentPlanResponse {
	return &InstallmentPlanResponse{
		InstallmentPlan:  plan,
		TotalAmountMajor: codec.Format(plan.TotalAmount),
	}
}
