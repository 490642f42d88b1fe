package settlement

import (
	"errors"
	"fmt"
)

// SettlementError represents a settlement-specific failure. Every failure
// aborts the entire invocation; no partial effects persist.
type SettlementError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	cause error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SettlementError) Unwrap() error {
	return e.cause
}

// Common error codes
const (
	// Input validation
	ErrCodeInvalidPaymentAmount       = "invalid_payment_amount"
	ErrCodeInvalidNativePaymentAmount = "invalid_native_payment_amount"
	ErrCodePaymentExpired             = "payment_expired"
	ErrCodeInvalidAddress             = "invalid_address"
	ErrCodeInvalidServiceFeePercent   = "invalid_service_fee_percent"

	// Collaborator failure
	ErrCodeInvalidExchangeAddress         = "invalid_exchange_address"
	ErrCodeExchangeCallFailed             = "exchange_call_failed"
	ErrCodeSweepExcessNativeFailed        = "sweep_excess_native_failed"
	ErrCodeServiceFeeNativePaymentFailed  = "service_fee_native_payment_failed"
	ErrCodeReceiverNativePaymentFailed    = "receiver_native_payment_failed"
	ErrCodeReceiverCallFailed             = "receiver_call_failed"
	ErrCodeTokenTransferFailed            = "token_transfer_failed"
	ErrCodeFundsAcquisitionFailed         = "funds_acquisition_failed"

	// Operational state
	ErrCodePaused            = "engine_paused"
	ErrCodeReentrantCall     = "reentrant_call"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeSettlementAborted = "settlement_aborted"
)

// NewSettlementError creates a new settlement error.
func NewSettlementError(code, message string, details map[string]interface{}) *SettlementError {
	return &SettlementError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// wrapSettlementError attaches a collaborator failure as the error cause so
// callers can still reach it through errors.Unwrap.
func wrapSettlementError(code, message string, cause error) *SettlementError {
	return &SettlementError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// ErrorCode extracts the settlement error code from err, or "" when err is
// not a settlement error.
func ErrorCode(err error) string {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
