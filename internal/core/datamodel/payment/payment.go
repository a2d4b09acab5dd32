package payment

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

type Type string

const (
	TypeApplicationFee Type = "APPLICATION_FEE"
	TypeTuition        Type = "TUITION"
	TypeInstallment    Type = "INSTALLMENT"
)

func (t Type) Valid() bool {
	switch t {
	case TypeApplicationFee, TypeTuition, TypeInstallment:
		return true
	}
	return false
}

// Payment is one monetary movement. Amount is in minor units and negative for refund rows.
type Payment struct {
	ID            int64          `json:"id" gorm:"primaryKey"`
	UserID        int64          `json:"user_id" gorm:"column:user_id;not null;index"`
	Email         string         `json:"email" gorm:"column:email"`
	Type          Type           `json:"type" gorm:"column:type;not null"`
	Amount        int64          `json:"amount" gorm:"column:amount;not null"`
	Currency      string         `json:"currency" gorm:"column:currency;not null"`
	Status        Status         `json:"status" gorm:"column:status;not null;index"`
	Reference     string         `json:"reference" gorm:"column:reference;not null;uniqueIndex"`
	Gateway       string         `json:"gateway" gorm:"column:gateway"`
	Method        *string        `json:"method,omitempty" gorm:"column:method"`
	CourseID      *int64         `json:"course_id,omitempty" gorm:"column:course_id;index"`
	ApplicationID *int64         `json:"application_id,omitempty" gorm:"column:application_id"`
	EnrollmentID  *int64         `json:"enrollment_id,omitempty" gorm:"column:enrollment_id"`
	InstallmentID *int64         `json:"installment_id,omitempty" gorm:"column:installment_id"`
	RefundOfID    *int64         `json:"refund_of_id,omitempty" gorm:"column:refund_of_id;index"`
	PaidAt        *time.Time     `json:"paid_at,omitempty" gorm:"column:paid_at"`
	Metadata      datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata"`
	CreatedAt     time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsRefund() bool {
	return p.RefundOfID != nil
}
