package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
	ErrorTypeIntegrity    ErrorType = "INTEGRITY_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidDate      ErrorCode = "INVALID_DATE"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"

	ErrCodeDuplicateReference  ErrorCode = "DUPLICATE_REFERENCE"
	ErrCodeIllegalTransition   ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeGatewayError        ErrorCode = "GATEWAY_ERROR"
	ErrCodeSignatureInvalid    ErrorCode = "SIGNATURE_INVALID"
	ErrCodeActivationFailed    ErrorCode = "ACTIVATION_FAILED"
	ErrCodeRefundAmountInvalid ErrorCode = "REFUND_AMOUNT_INVALID"
	ErrCodeAmountMismatch      ErrorCode = "AMOUNT_MISMATCH"
	ErrCodeUnknownGateway      ErrorCode = "UNKNOWN_GATEWAY"

	ErrCodePaymentNotFound        ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeEnrollmentNotFound     ErrorCode = "ENROLLMENT_NOT_FOUND"
	ErrCodeApplicationNotFound    ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeApplicationExists      ErrorCode = "APPLICATION_EXISTS"
	ErrCodeApplicationFeeRequired ErrorCode = "APPLICATION_FEE_REQUIRED"
	ErrCodeApplicationReviewed    ErrorCode = "APPLICATION_ALREADY_REVIEWED"
	ErrCodeCourseNotFound         ErrorCode = "COURSE_NOT_FOUND"
	ErrCodePlanNotFound           ErrorCode = "INSTALLMENT_PLAN_NOT_FOUND"
	ErrCodePlanInvalid            ErrorCode = "INSTALLMENT_PLAN_INVALID"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
		messages := make([]string, len(validationErrors.Errors))
		for i, err := range validationErrors.Errors {
			messages[i] = err.Message
		}
		return strings.Join(messages, "; ")
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewDuplicateReferenceError(reference string) *AppError {
	return NewConflictError(fmt.Sprintf("payment reference %s already exists", reference), ErrCodeDuplicateReference)
}

func NewIllegalTransitionError(from, to string) *AppError {
	return NewConflictError(fmt.Sprintf("illegal payment transition %s -> %s", from, to), ErrCodeIllegalTransition)
}

// NewGatewayError keeps the provider failure as the cause; only the generic message reaches clients.
func NewGatewayError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeGatewayError,
		Message:    "Payment provider is unavailable, please try again",
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

func NewSignatureInvalidError() *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       ErrCodeSignatureInvalid,
		Message:    "invalid webhook signature",
		StatusCode: http.StatusBadRequest,
	}
}

func NewActivationFailedError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       ErrCodeActivationFailed,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewRefundAmountInvalidError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeRefundAmountInvalid,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewAmountMismatchError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       ErrCodeAmountMismatch,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewApplicationFeeRequiredError() *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeApplicationFeeRequired,
		Message:    "a completed application fee payment is required",
		StatusCode: http.StatusPaymentRequired,
	}
}

// Sentinels for errors.Is checks. Never mutate them; build a fresh error to return.
var (
	ErrDuplicateReference  = &AppError{Code: ErrCodeDuplicateReference}
	ErrIllegalTransition   = &AppError{Code: ErrCodeIllegalTransition}
	ErrGateway             = &AppError{Code: ErrCodeGatewayError}
	ErrSignatureInvalid    = &AppError{Code: ErrCodeSignatureInvalid}
	ErrActivationFailed    = &AppError{Code: ErrCodeActivationFailed}
	ErrRefundAmountInvalid = &AppError{Code: ErrCodeRefundAmountInvalid}
	ErrAmountMismatch      = &AppError{Code: ErrCodeAmountMismatch}
	ErrPaymentNotFound     = &AppError{Code: ErrCodePaymentNotFound}
	ErrUnknownGateway      = &AppError{Code: ErrCodeUnknownGateway}

	ErrCourseNotFound          = &AppError{Code: ErrCodeCourseNotFound}
	ErrEnrollmentNotFound      = &AppError{Code: ErrCodeEnrollmentNotFound}
	ErrApplicationNotFound     = &AppError{Code: ErrCodeApplicationNotFound}
	ErrApplicationExists       = &AppError{Code: ErrCodeApplicationExists}
	ErrApplicationFeeRequired  = &AppError{Code: ErrCodeApplicationFeeRequired}
	ErrApplicationReviewed     = &AppError{Code: ErrCodeApplicationReviewed}
	ErrInstallmentPlanNotFound = &AppError{Code: ErrCodePlanNotFound}
	ErrInstallmentPlanInvalid  = &AppError{Code: ErrCodePlanInvalid}
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
