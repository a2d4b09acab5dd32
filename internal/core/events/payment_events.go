package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted    = "payment.completed"
	EventTypePaymentFailed       = "payment.failed"
	EventTypePaymentRefunded     = "payment.refunded"
	EventTypeEnrollmentActivated = "enrollment.activated"
	EventTypeEnrollmentSuspended = "enrollment.suspended"
)

func newBaseEvent(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID    int64     `json:"payment_id"`
	Reference    string    `json:"reference"`
	UserID       int64     `json:"user_id"`
	Email        string    `json:"email"`
	PaymentType  string    `json:"payment_type"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Gateway      string    `json:"gateway"`
	PaidAt       time.Time `json:"paid_at"`
	EnrollmentID *int64    `json:"enrollment_id,omitempty"`
}

func NewPaymentCompletedEvent(paymentID int64, reference string, userID int64, email, paymentType string, amount int64, currency, gateway string, paidAt time.Time, enrollmentID *int64) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentCompleted, map[string]interface{}{
			"payment_id":    paymentID,
			"reference":     reference,
			"user_id":       userID,
			"payment_type":  paymentType,
			"amount":        amount,
			"currency":      currency,
			"gateway":       gateway,
			"paid_at":       paidAt,
			"enrollment_id": enrollmentID,
		}),
		PaymentID:    paymentID,
		Reference:    reference,
		UserID:       userID,
		Email:        email,
		PaymentType:  paymentType,
		Amount:       amount,
		Currency:     currency,
		Gateway:      gateway,
		PaidAt:       paidAt,
		EnrollmentID: enrollmentID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID int64  `json:"payment_id"`
	Reference string `json:"reference"`
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason"`
}

func NewPaymentFailedEvent(paymentID int64, reference string, userID int64, email string, amount int64, currency, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentFailed, map[string]interface{}{
			"payment_id": paymentID,
			"reference":  reference,
			"user_id":    userID,
			"amount":     amount,
			"currency":   currency,
			"reason":     reason,
		}),
		PaymentID: paymentID,
		Reference: reference,
		UserID:    userID,
		Email:     email,
		Amount:    amount,
		Currency:  currency,
		Reason:    reason,
	}
}

type PaymentRefundedEvent struct {
	BaseEvent
	PaymentID       int64  `json:"payment_id"`
	RefundPaymentID int64  `json:"refund_payment_id"`
	Reference       string `json:"reference"`
	RefundReference string `json:"refund_reference"`
	UserID          int64  `json:"user_id"`
	Email           string `json:"email"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Reason          string `json:"reason"`
	Actor           string `json:"actor"`
}

func NewPaymentRefundedEvent(paymentID, refundPaymentID int64, reference, refundReference string, userID int64, email string, amount int64, currency, reason, actor string) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentRefunded, map[string]interface{}{
			"payment_id":        paymentID,
			"refund_payment_id": refundPaymentID,
			"reference":         reference,
			"refund_reference":  refundReference,
			"user_id":           userID,
			"amount":            amount,
			"currency":          currency,
			"reason":            reason,
			"actor":             actor,
		}),
		PaymentID:       paymentID,
		RefundPaymentID: refundPaymentID,
		Reference:       reference,
		RefundReference: refundReference,
		UserID:          userID,
		Email:           email,
		Amount:          amount,
		Currency:        currency,
		Reason:          reason,
		Actor:           actor,
	}
}

// EnrollmentChangedEvent covers both activation and suspension; Type tells them apart.
type EnrollmentChangedEvent struct {
	BaseEvent
	EnrollmentID     int64  `json:"enrollment_id"`
	UserID           int64  `json:"user_id"`
	CourseID         int64  `json:"course_id"`
	Email            string `json:"email"`
	PaymentReference string `json:"payment_reference"`
}

func NewEnrollmentActivatedEvent(enrollmentID, userID, courseID int64, email, paymentReference string) *EnrollmentChangedEvent {
	return newEnrollmentChanged(EventTypeEnrollmentActivated, enrollmentID, userID, courseID, email, paymentReference)
}

func NewEnrollmentSuspendedEvent(enrollmentID, userID, courseID int64, email, paymentReference string) *EnrollmentChangedEvent {
	return newEnrollmentChanged(EventTypeEnrollmentSuspended, enrollmentID, userID, courseID, email, paymentReference)
}

func newEnrollmentChanged(eventType string, enrollmentID, userID, courseID int64, email, paymentReference string) *EnrollmentChangedEvent {
	return &EnrollmentChangedEvent{
		BaseEvent: newBaseEvent(eventType, map[string]interface{}{
			"enrollment_id":     enrollmentID,
			"user_id":           userID,
			"course_id":         courseID,
			"payment_reference": paymentReference,
		}),
		EnrollmentID:     enrollmentID,
		UserID:           userID,
		CourseID:         courseID,
		Email:            email,
		PaymentReference: paymentReference,
	}
}
