// internal/ledgerview/errors.go
package ledgerview

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by View operations; match with errors.Is.
var (
	ErrBusy                = errors.New("a balance operation is already in progress")
	ErrPartialPayment      = errors.New("payment recorded but balance not updated")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyPaid         = errors.New("month already paid")
	ErrFutureMonth         = errors.New("month is in the future")
	ErrInvalidMonth        = errors.New("month is not in the current year")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidOperation    = errors.New("invalid balance operation")
)

// Operator-facing messages.
const (
	MsgBusy                     = "Another balance operation is in progress."
	MsgInsufficientForMonth     = "Insufficient balance to pay for this month."
	MsgInsufficientForOperation = "Insufficient balance for this operation"
	MsgInvalidAmount            = "Please enter a valid amount"
	MsgInvalidOperation         = "Please choose add or subtract"
	MsgInvalidMonth             = "Please choose a month of the current year."
	MsgAlreadyPaid              = "This month has already been paid."
	MsgFutureMonth              = "Future months cannot be paid yet."
	MsgCreatePaymentFailed      = "Failed to create payment. Please try again."
	MsgUpdateBalanceFailed      = "Failed to update balance. Please try again."
	MsgLoadFailed               = "Failed to load member data. Please try again."
	MsgBalanceAdded             = "Balance added successfully"
	MsgBalanceDeducted          = "Balance deducted successfully"
)

func paymentSucceeded(monthLabel string) string {
	return fmt.Sprintf("Payment for %s processed successfully", monthLabel)
}

// ValidationError is a request refused locally, before any Member API call.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, msg string) *ValidationError {
	return &ValidationError{Err: err, Message: msg}
}
