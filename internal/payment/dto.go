package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/common/validation"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/enrollment-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
)

// InitializePaymentDTO carries the amount in major units.
type InitializePaymentDTO struct {
	Email         string                 `json:"email"`
	Type          string                 `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency,omitempty"`
	Gateway       string                 `json:"gateway,omitempty"`
	UserID        *int64                 `json:"user_id,omitempty"`
	CourseID      *int64                 `json:"course_id,omitempty"`
	EnrollmentID  *int64                 `json:"enrollment_id,omitempty"`
	InstallmentID *int64                 `json:"installment_id,omitempty"`
	CallbackURL   string                 `json:"callback_url,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (d *InitializePaymentDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().Email()
	v.Field("type", d.Type).Required().
		OneOf(string(payment.TypeApplicationFee), string(payment.TypeTuition), string(payment.TypeInstallment))
	v.Field("amount", d.Amount).Required().Positive()
	v.Field("currency", d.Currency).MaxLength(3)

	switch payment.Type(d.Type) {
	case payment.TypeApplicationFee, payment.TypeTuition:
		v.Field("course_id", d.CourseID).Required()
	case payment.TypeInstallment:
		v.Field("installment_id", d.InstallmentID).Required()
	}

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type RefundDTO struct {
	Reason string           `json:"reason"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

func (d *RefundDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("reason", d.Reason).Required().MaxLength(500)
	v.Field("amount", d.Amount).Positive()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type InitializeResponse struct {
	PaymentID        int64           `json:"payment_id"`
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Gateway          string          `json:"gateway"`
}

// ReconcileResult is the verdict of one verify-then-transition pass.
type ReconcileResult struct {
	Payment       *payment.Payment                       `json:"payment"`
	GatewayStatus paymentgatewaytypes.VerificationStatus `json:"gateway_status,omitempty"`
	Changed       bool                                   `json:"changed"`
}

// View is the client-facing shape of a payment. Amounts are major units.
type View struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	Type          payment.Type    `json:"type"`
	Status        payment.Status  `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Gateway       string          `json:"gateway"`
	Method        string          `json:"method,omitempty"`
	CourseID      *int64          `json:"course_id,omitempty"`
	ApplicationID *int64          `json:"application_id,omitempty"`
	EnrollmentID  *int64          `json:"enrollment_id,omitempty"`
	InstallmentID *int64          `json:"installment_id,omitempty"`
	RefundOfID    *int64          `json:"refund_of_id,omitempty"`
	PaidAt        string          `json:"paid_at,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

func ToView(p *payment.Payment, codec money.Codec) View {
	v := View{
		ID:            p.ID,
		Reference:     p.Reference,
		Type:          p.Type,
		Status:        p.Status,
		Amount:        codec.FromMinorUnits(p.Amount),
		Currency:      strings.ToUpper(p.Currency),
		Gateway:       p.Gateway,
		CourseID:      p.CourseID,
		ApplicationID: p.ApplicationID,
		EnrollmentID:  p.EnrollmentID,
		InstallmentID: p.InstallmentID,
		RefundOfID:    p.RefundOfID,
		CreatedAt:     p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if p.Method != nil {
		v.Method = *p.Method
	}
	if p.PaidAt != nil {
		v.PaidAt = p.PaidAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func ToViews(payments []*payment.Payment, codec money.Codec) []View {
	views := make([]View, 0, len(payments))
	for _, p := range payments {
		views = append(views, ToView(p, codec))
	}
	return views
}

type RefundResponse struct {
	Original View `json:"original"`
	Refund   View `json:"refund"`
}

// minorAmount converts a boundary amount, reporting precision problems as a field error.
func minorAmount(codec money.Codec, field string, amount decimal.Decimal) (int64, error) {
	minor, err := codec.ToMinorUnits(amount)
	if err != nil {
		return 0, errors.NewValidationFieldError(field, err.Error(), errors.ErrCodeInvalidAmount)
	}
	return minor, nil
}
