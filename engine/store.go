/*
store.go - Persistence interfaces for balances, the ledger, rules, employees

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  exist for SQLite (store/sqlite), PostgreSQL (store/postgres), and memory
  (engine/store) - the engine is a stateless function of (balance, rule,
  event) and cares only about these interfaces.

APPEND-ONLY CONTRACT:
  The TransactionLog has no Update or Delete. Corrections happen through new
  entries of the opposite sign, never edits. Every entry's idempotency key is
  unique across the log.

OPTIMISTIC CONCURRENCY:
  SaveBalance is a compare-and-swap on Version: the caller passes the row as
  read (Version 0 for a new row), the store persists Version+1, and a version
  mismatch - or a racing insert - fails with ErrConcurrentModification. This
  gives the per-(employee, leaveType, year) serialization the invariants need:
  two racing consumptions cannot both observe the same RemainingDays and both
  commit.

ATOMIC UNITS:
  WithTx executes the balance mutation and ledger append as one unit. If the
  function returns an error, neither is applied.
*/
package engine

import "context"

// =============================================================================
// BALANCE STORE - Versioned balance rows
// =============================================================================

type BalanceStore interface {
	// GetBalance returns the row for the identity triple, or nil if absent.
	// Inactive rows ARE returned; filtering them is the reader's concern
	// (the engine needs the real row to avoid violating uniqueness).
	GetBalance(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID, year int) (*Balance, error)

	// SaveBalance inserts (Version 0) or compare-and-swap updates a row.
	// The persisted version is the passed version plus one. A version
	// mismatch or racing insert fails with ErrConcurrentModification.
	SaveBalance(ctx context.Context, b Balance) error

	// ListBalances returns active rows for an employee, optionally filtered
	// by year (0 = all years). Inactive rows are excluded.
	ListBalances(ctx context.Context, employeeID EmployeeID, year int) ([]Balance, error)

	// DeactivateBalance soft-deletes a row. The row and its ledger history
	// are retained.
	DeactivateBalance(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID, year int) error
}

// =============================================================================
// TRANSACTION LOG - Append-only ledger
// =============================================================================

type TransactionLog interface {
	// AppendTransaction adds one entry. Fails with
	// ErrDuplicateIdempotencyKey if the key already exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// AppendTransactions adds multiple entries atomically (carry-forward
	// writes the source debit and target credit together).
	AppendTransactions(ctx context.Context, txs []Transaction) error

	// HasTransactionKey checks whether an idempotency key exists. This is
	// the accrual dedup pre-check; the unique constraint on append is the
	// backstop under races.
	HasTransactionKey(ctx context.Context, idempotencyKey string) (bool, error)

	// Transactions returns entries for employee+leaveType, chronologically.
	// Year 0 means all years.
	Transactions(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID, year int) ([]Transaction, error)
}

// =============================================================================
// STORE - The unit the engine operates on
// =============================================================================

// Store is what engine operations receive inside an atomic unit.
type Store interface {
	BalanceStore
	TransactionLog
}

// TxStore wraps Store with transaction support. Engine operations run
// entirely inside WithTx: either the balance write and ledger append both
// commit, or neither does.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RULE STORE / EMPLOYEE REGISTRY - Supporting configuration
// =============================================================================

// RuleStore holds accrual rules. The engine only reads them.
type RuleStore interface {
	SaveRule(ctx context.Context, rule AccrualRule) error
	GetRule(ctx context.Context, leaveTypeID LeaveTypeID) (*AccrualRule, error)
	ListRules(ctx context.Context) ([]AccrualRule, error)
}

// EmployeeStore is the minimal registry the scheduler enumerates.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, emp Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}
