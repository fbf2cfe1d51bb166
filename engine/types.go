/*
Package engine implements the leave-balance ledger and accrual engine.

PURPOSE:
  This package contains the domain types and the Balance Engine: given a
  triggering event (leave approval, accrual tick, year-end carry-forward,
  manual adjustment) it deterministically computes the next balance state
  and the ledger entry to record, and applies both as one atomic unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Balance: one row per (employee, leave type, year) with total/used/
    remaining/carry-forward day counters and a version for optimistic locking
  - Transaction: an immutable ledger entry recording one balance change
  - Employee: minimal registry record (who to accrue for)

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never modified, only appended
  2. Precision: decimal.Decimal for day amounts (1.66 days/month must not drift)
  3. Derived remaining: RemainingDays always equals TotalDays - UsedDays,
     and is never allowed to go negative
  4. Idempotency: every entry carries a key; the same logical event can be
     applied at most once

SEE ALSO:
  - rule.go: accrual rule configuration and period-key resolution
  - engine.go: the balance operations
  - store.go: persistence interfaces
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type TransactionID string

// =============================================================================
// BALANCE - One row per (employee, leave type, year)
// =============================================================================

// Balance is the per-employee, per-leave-type, per-year ledger head.
//
// INVARIANTS:
//   - RemainingDays = TotalDays - UsedDays at all times
//   - RemainingDays >= 0 (operations that would violate this fail, never clamp)
//   - CarryForwardDays is the portion of TotalDays that came from the prior
//     year, bounded by the rule's MaxCarryForward
//
// Rows are created lazily on first accrual or adjustment, never deleted -
// only deactivated. Version supports compare-and-swap updates: a stale
// version surfaces ErrConcurrentModification instead of silently clobbering.
type Balance struct {
	EmployeeID       EmployeeID
	LeaveTypeID      LeaveTypeID
	Year             int
	TotalDays        decimal.Decimal
	UsedDays         decimal.Decimal
	RemainingDays    decimal.Decimal
	CarryForwardDays decimal.Decimal
	IsActive         bool
	Version          int64
	LastUpdated      time.Time
}

// NewBalance returns an empty active balance for the identity triple.
func NewBalance(employeeID EmployeeID, leaveTypeID LeaveTypeID, year int) Balance {
	return Balance{
		EmployeeID:    employeeID,
		LeaveTypeID:   leaveTypeID,
		Year:          year,
		TotalDays:     decimal.Zero,
		UsedDays:      decimal.Zero,
		RemainingDays: decimal.Zero,
		IsActive:      true,
	}
}

// Consistent reports whether the derived-remaining invariant holds.
func (b Balance) Consistent() bool {
	return b.RemainingDays.Equal(b.TotalDays.Sub(b.UsedDays)) &&
		!b.RemainingDays.IsNegative()
}

// =============================================================================
// TRANSACTION - Append-only ledger entry
// =============================================================================

type TransactionType string

const (
	TxAccrual        TransactionType = "accrual"         // Periodic grant per the accrual rule
	TxUsed           TransactionType = "used"            // Consumption by an approved leave request
	TxAdjusted       TransactionType = "adjusted"        // Manual admin correction (either sign)
	TxCarriedForward TransactionType = "carried_forward" // Transfer between years at the boundary
	TxExpired        TransactionType = "expired"         // Unused days removed (cap excess, expiry window)
)

// Transaction records a single balance-affecting event. Days is signed:
// negative for consumption and expiry, positive for grants.
//
// The IdempotencyKey is unique across the log; appending a duplicate fails
// with ErrDuplicateIdempotencyKey. This is what makes a rerun of a periodic
// job safe: the second application of the same logical event is rejected
// before it can touch the balance.
type Transaction struct {
	ID             TransactionID
	EmployeeID     EmployeeID
	LeaveTypeID    LeaveTypeID
	Year           int
	Type           TransactionType
	Days           decimal.Decimal
	Reason         string
	ReferenceID    string // leave-request id, period key, or year marker
	IdempotencyKey string
	CreatedAt      time.Time
	CreatedBy      string
}

// =============================================================================
// EMPLOYEE - Minimal registry record
// =============================================================================

// Employee is the minimal identity the scheduler needs to enumerate who to
// accrue for. The authoritative employee system lives elsewhere; this registry
// only mirrors what the engine consumes.
type Employee struct {
	ID        EmployeeID
	Name      string
	Email     string
	HireDate  time.Time
	CreatedAt time.Time
}
