/*
errors.go - Centralized error types for the settlement engine

ERROR CATEGORIES:
  1. Validation - bad amount, bad kind, bad id
  2. NotFound   - user, obligation, payment or transaction absent
  3. Conflict   - over-settlement, premature settle mark, concurrent balance write
  4. Storage    - wrapped database errors, surfaced unchanged

Numeric edge cases are not errors: a repayment larger than everything
outstanding returns a non-zero Remaining.
*/
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidInput  = errors.New("invalid input")

	ErrObligationNotFound  = errors.New("obligation not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrOverSettlement is returned when a write would push the settled total
	// of an obligation past its amount.
	ErrOverSettlement = errors.New("settlement exceeds outstanding amount")

	// ErrOutstandingBalance is returned when an obligation is marked settled
	// before its settled total reaches its amount.
	ErrOutstandingBalance = errors.New("obligation still has an outstanding amount")

	// ErrConcurrentModification is returned when a compare-and-set on the
	// cached balance loses against a concurrent writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// OverSettlementError provides details about a rejected settlement.
type OverSettlementError struct {
	ObligationID ObligationID
	Amount       decimal.Decimal
	Settled      decimal.Decimal
	Requested    decimal.Decimal
}

func (e *OverSettlementError) Error() string {
	return fmt.Sprintf("obligation %d: requested %s but only %s of %s outstanding",
		e.ObligationID, e.Requested, e.Amount.Sub(e.Settled), e.Amount)
}

func (e *OverSettlementError) Unwrap() error {
	return ErrOverSettlement
}

func invalidAmount(field string, v decimal.Decimal) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf("must be > 0, got %s", v), Err: ErrInvalidAmount}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObligationNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsConflict returns true if the request clashed with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverSettlement) ||
		errors.Is(err, ErrOutstandingBalance) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
