package domain

import "errors"

var (
	ErrNotFound          = errors.New("transaction_not_found")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrNotRetryable      = errors.New("transaction_not_retryable")
	ErrNotRefundable     = errors.New("transaction_not_refundable")
)
