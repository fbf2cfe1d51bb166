/*
errors.go - Centralized error types for the balance engine

PURPOSE:
  All error types in one place. Callers branch with errors.Is/errors.As;
  the structured types carry enough context to render a useful message
  without re-querying the store.

ERROR CATEGORIES:
  1. Balance errors - missing row, insufficient days
  2. Ledger errors - duplicate idempotency key
  3. Concurrency errors - optimistic-lock conflicts
  4. Input errors - malformed amounts, rules, period keys

PROPAGATION POLICY:
  The engine never partially applies a mutation: on any error, neither the
  balance row nor the ledger is modified. Every error is reported
  synchronously to the caller; nothing is queued, retried, or swallowed.
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBalanceNotFound is returned when consuming against a year that has no
	// balance row. The engine never creates a balance on consumption, only on
	// accrual or adjustment.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInsufficientBalance is returned when a consumption or negative
	// adjustment would drive RemainingDays below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when a versioned balance write
	// loses a race. The whole operation is safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidAmount is returned for non-positive consumption or zero
	// adjustment amounts.
	ErrInvalidAmount = errors.New("invalid day amount")

	// ErrInvalidRule is returned when an accrual rule fails validation.
	ErrInvalidRule = errors.New("invalid accrual rule")

	// ErrInvalidPeriodKey is returned when a period key does not match the
	// rule's accrual period ("YYYY" for yearly, "YYYY-MM" for monthly).
	ErrInvalidPeriodKey = errors.New("invalid period key")

	// ErrInvalidYearRange is returned when a carry-forward target year does
	// not follow its source year.
	ErrInvalidYearRange = errors.New("invalid year range")

	// ErrEmployeeNotFound is returned by registry lookups.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrRuleNotFound is returned when no accrual rule exists for a leave type.
	ErrRuleNotFound = errors.New("accrual rule not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s/%d: available %s, requested %s",
		e.EmployeeID, e.LeaveTypeID, e.Year, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// BalanceNotFoundError identifies the missing row.
type BalanceNotFoundError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

func (e *BalanceNotFoundError) Error() string {
	return fmt.Sprintf("balance not found for %s/%s/%d", e.EmployeeID, e.LeaveTypeID, e.Year)
}

func (e *BalanceNotFoundError) Unwrap() error { return ErrBalanceNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a full retry of the
// operation. Engine operations are safe to retry as a whole: accruals dedup on
// the period key and consumptions dedup on the reference id.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an engine or store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrInvalidPeriodKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}
