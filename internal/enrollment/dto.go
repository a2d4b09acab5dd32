package enrollment

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/common/validation"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
)

type CreateApplicationDTO struct {
	CourseID int64           `json:"course_id"`
	FormData json.RawMessage `json:"form_data,omitempty"`
}

func (d *CreateApplicationDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("course_id", d.CourseID).Required().MinInt(1, errors.ErrCodeValidationFailed)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ReviewApplicationDTO struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

func (d *ReviewApplicationDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("decision", d.Decision).Required().
		OneOf(string(enrollment.ApplicationApproved), string(enrollment.ApplicationRejected))
	v.Field("note", d.Note).MaxLength(500)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type InstallmentDTO struct {
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// CreateInstallmentPlanDTO carries amounts in major units; the service converts them.
type CreateInstallmentPlanDTO struct {
	UserID           int64            `json:"user_id"`
	CourseID         int64            `json:"course_id"`
	EnrollmentID     *int64           `json:"enrollment_id,omitempty"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	Currency         string           `json:"currency,omitempty"`
	ActivationPolicy string           `json:"activation_policy"`
	UpfrontCount     int              `json:"upfront_count,omitempty"`
	Installments     []InstallmentDTO `json:"installments"`
}

func (d *CreateInstallmentPlanDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("user_id", d.UserID).Required()
	v.Field("course_id", d.CourseID).Required()
	v.Field("total_amount", d.TotalAmount).Required().Positive()
	v.Field("activation_policy", d.ActivationPolicy).Required().
		OneOf(string(enrollment.PolicyAllPaid), string(enrollment.PolicyUpfront))
	v.Field("installments", len(d.Installments)).MinInt(1, errors.ErrCodePlanInvalid)

	for i, inst := range d.Installments {
		name := "installments[" + strconv.Itoa(i) + "]"
		v.Field(name+".amount", inst.Amount).Required().Positive()
		v.Field(name+".due_date", inst.DueDate).Required()
	}

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type InstallmentPlanResponse struct {
	*enrollment.InstallmentPlan
	TotalAmountMajor string `json:"total_amount_major"`
}

type ReviewResult struct {
	Application *enrollment.Application `json:"application"`
	Enrollment  *enrollment.Enrollment  `json:"enrollment,omitempty"`
}
