/*
Package sqlite provides a SQLite-backed implementation of the engine stores.

PURPOSE:
  Implements engine.TxStore, engine.RuleStore, and engine.EmployeeStore on
  SQLite. The same schema runs on PostgreSQL (store/postgres) with only
  placeholder-dialect differences.

KEY TABLES:
  leave_balances:     One row per (employee, leave type, year); versioned
  leave_transactions: Append-only ledger, unique idempotency key
  accrual_rules:      Per-leave-type accrual configuration
  employees:          Minimal registry driving the scheduler

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches leave_transactions. The unique index on
  idempotency_key is the backstop that makes redundant job runs safe even
  when two processes race past the engine's pre-check.

OPTIMISTIC CONCURRENCY:
  leave_balances carries a version column. SaveBalance inserts version 1 for
  a new row and otherwise updates WHERE version = <version read>; zero rows
  affected means another writer got there first and the caller sees
  ErrConcurrentModification.

WAL MODE:
  The database is opened with WAL so readers don't block the single writer.

USAGE:
  store, err := sqlite.New("./leave.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
  - store/postgres: pgx implementation of the same schema
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/tidehr/leave-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Balance rows (versioned, soft-deactivated via is_active)
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		total_days TEXT NOT NULL,
		used_days TEXT NOT NULL,
		remaining_days TEXT NOT NULL,
		carry_forward_days TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL,
		last_updated TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_employee_year
		ON leave_balances(employee_id, year);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS leave_transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		days TEXT NOT NULL,
		reason TEXT,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_employee_type_year
		ON leave_transactions(employee_id, leave_type_id, year);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON leave_transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Accrual rules (one per leave type)
	CREATE TABLE IF NOT EXISTS accrual_rules (
		leave_type_id TEXT PRIMARY KEY,
		name TEXT,
		accrual_rate TEXT NOT NULL,
		accrual_period TEXT NOT NULL,
		max_carry_forward TEXT NOT NULL,
		carry_forward_expiry_months INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same queries serve both paths.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BALANCE STORE (engine.BalanceStore interface)
// =============================================================================

// GetBalance returns the balance row, or nil if none exists. Inactive rows
// are returned as-is; the engine decides how to treat them.
func (s *Store) GetBalance(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, employeeID, leaveTypeID, year)
}

func getBalance(ctx context.Context, db dbtx, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	row := db.QueryRowContext(ctx, `
		SELECT employee_id, leave_type_id, year, total_days, used_days, remaining_days,
		       carry_forward_days, is_active, version, last_updated
		FROM leave_balances
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?
	`, employeeID, leaveTypeID, year)

	b, err := scanBalance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SaveBalance inserts (Version 0) or CAS-updates (Version > 0) a balance row.
func (s *Store) SaveBalance(ctx context.Context, b engine.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalance(ctx, s.db, b)
}

func saveBalance(ctx context.Context, db dbtx, b engine.Balance) error {
	if b.Version == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO leave_balances
			(employee_id, leave_type_id, year, total_days, used_days, remaining_days,
			 carry_forward_days, is_active, version, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		`,
			b.EmployeeID, b.LeaveTypeID, b.Year,
			b.TotalDays.String(), b.UsedDays.String(), b.RemainingDays.String(),
			b.CarryForwardDays.String(), b.IsActive,
			formatTime(b.LastUpdated),
		)
		if isUniqueConstraintError(err) {
			// A racing writer created the row between our read and write.
			return engine.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE leave_balances
		SET total_days = ?, used_days = ?, remaining_days = ?, carry_forward_days = ?,
		    is_active = ?, version = version + 1, last_updated = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?
	`,
		b.TotalDays.String(), b.UsedDays.String(), b.RemainingDays.String(),
		b.CarryForwardDays.String(), b.IsActive, formatTime(b.LastUpdated),
		b.EmployeeID, b.LeaveTypeID, b.Year, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrConcurrentModification
	}
	return nil
}

// ListBalances returns active balance rows for the employee. A zero year
// means all years.
func (s *Store) ListBalances(ctx context.Context, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBalances(ctx, s.db, employeeID, year)
}

func listBalances(ctx context.Context, db dbtx, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	query := `
		SELECT employee_id, leave_type_id, year, total_days, used_days, remaining_days,
		       carry_forward_days, is_active, version, last_updated
		FROM leave_balances
		WHERE employee_id = ? AND is_active
	`
	args := []any{employeeID}
	if year != 0 {
		query += " AND year = ?"
		args = append(args, year)
	}
	query += " ORDER BY year, leave_type_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []engine.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

// DeactivateBalance soft-deletes a balance row.
func (s *Store) DeactivateBalance(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateBalance(ctx, s.db, employeeID, leaveTypeID, year)
}

func deactivateBalance(ctx context.Context, db dbtx, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE leave_balances
		SET is_active = FALSE, version = version + 1, last_updated = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?
	`, formatTime(time.Now()), employeeID, leaveTypeID, year)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrBalanceNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTION LOG (engine.TransactionLog interface)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db dbtx, tx engine.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_transactions
		(id, employee_id, leave_type_id, year, tx_type, days, reason,
		 reference_id, idempotency_key, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.EmployeeID, tx.LeaveTypeID, tx.Year, tx.Type,
		tx.Days.String(), tx.Reason,
		nullString(tx.ReferenceID), nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt), tx.CreatedBy,
	)
	if isUniqueConstraintError(err) {
		return engine.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendTransactions appends all entries or none.
func (s *Store) AppendTransactions(ctx context.Context, txs []engine.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTransaction(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (s *Store) HasTransactionKey(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasTransactionKey(ctx, s.db, idempotencyKey)
}

func hasTransactionKey(ctx context.Context, db dbtx, idempotencyKey string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM leave_transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// Transactions returns ledger entries in chronological order. A zero year
// means all years.
func (s *Store) Transactions(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTransactions(ctx, s.db, employeeID, leaveTypeID, year)
}

func loadTransactions(ctx context.Context, db dbtx, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	query := `
		SELECT id, employee_id, leave_type_id, year, tx_type, days, reason,
		       reference_id, idempotency_key, created_at, created_by
		FROM leave_transactions
		WHERE employee_id = ? AND leave_type_id = ?
	`
	args := []any{employeeID, leaveTypeID}
	if year != 0 {
		query += " AND year = ?"
		args = append(args, year)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []engine.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn rolls
// back every write fn made. The mutex additionally serializes writers
// in-process; PostgreSQL relies on database-level locking instead.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the Store view handed to WithTx callbacks. All operations run
// on the enclosing *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBalance(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	return getBalance(ctx, ts.tx, employeeID, leaveTypeID, year)
}

func (ts *txStore) SaveBalance(ctx context.Context, b engine.Balance) error {
	return saveBalance(ctx, ts.tx, b)
}

func (ts *txStore) ListBalances(ctx context.Context, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	return listBalances(ctx, ts.tx, employeeID, year)
}

func (ts *txStore) DeactivateBalance(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	return deactivateBalance(ctx, ts.tx, employeeID, leaveTypeID, year)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) AppendTransactions(ctx context.Context, txs []engine.Transaction) error {
	for _, tx := range txs {
		if err := appendTransaction(ctx, ts.tx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) HasTransactionKey(ctx context.Context, idempotencyKey string) (bool, error) {
	return hasTransactionKey(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) Transactions(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	return loadTransactions(ctx, ts.tx, employeeID, leaveTypeID, year)
}

// =============================================================================
// RULE STORE (engine.RuleStore interface)
// =============================================================================

// SaveRule creates or replaces the rule for a leave type.
func (s *Store) SaveRule(ctx context.Context, rule engine.AccrualRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accrual_rules
		(leave_type_id, name, accrual_rate, accrual_period, max_carry_forward,
		 carry_forward_expiry_months, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(leave_type_id) DO UPDATE SET
			name = excluded.name,
			accrual_rate = excluded.accrual_rate,
			accrual_period = excluded.accrual_period,
			max_carry_forward = excluded.max_carry_forward,
			carry_forward_expiry_months = excluded.carry_forward_expiry_months,
			is_active = excluded.is_active
	`,
		rule.LeaveTypeID, rule.Name, rule.AccrualRate.String(), rule.AccrualPeriod,
		rule.MaxCarryForward.String(), rule.CarryForwardExpiryMonths, rule.IsActive,
	)
	return err
}

// GetRule returns the rule for a leave type, or nil if none exists.
func (s *Store) GetRule(ctx context.Context, leaveTypeID engine.LeaveTypeID) (*engine.AccrualRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT leave_type_id, name, accrual_rate, accrual_period, max_carry_forward,
		       carry_forward_expiry_months, is_active
		FROM accrual_rules
		WHERE leave_type_id = ?
	`, leaveTypeID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules returns all rules ordered by leave type.
func (s *Store) ListRules(ctx context.Context) ([]engine.AccrualRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT leave_type_id, name, accrual_rate, accrual_period, max_carry_forward,
		       carry_forward_expiry_months, is_active
		FROM accrual_rules
		ORDER BY leave_type_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []engine.AccrualRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// =============================================================================
// EMPLOYEE REGISTRY (engine.EmployeeStore interface)
// =============================================================================

// SaveEmployee creates or updates an employee record.
func (s *Store) SaveEmployee(ctx context.Context, emp engine.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date
	`,
		emp.ID, emp.Name, emp.Email,
		formatTime(emp.HireDate), formatTime(emp.CreatedAt),
	)
	return err
}

// GetEmployee returns the employee, or nil if none exists.
func (s *Store) GetEmployee(ctx context.Context, id engine.EmployeeID) (*engine.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees WHERE id = ?",
		id,
	)
	emp, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]engine.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []engine.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanBalance(row scannable) (*engine.Balance, error) {
	var (
		b           engine.Balance
		total       string
		used        string
		remaining   string
		carry       string
		lastUpdated string
	)
	err := row.Scan(
		&b.EmployeeID, &b.LeaveTypeID, &b.Year,
		&total, &used, &remaining, &carry,
		&b.IsActive, &b.Version, &lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if b.TotalDays, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt total_days %q: %w", total, err)
	}
	if b.UsedDays, err = decimal.NewFromString(used); err != nil {
		return nil, fmt.Errorf("corrupt used_days %q: %w", used, err)
	}
	if b.RemainingDays, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("corrupt remaining_days %q: %w", remaining, err)
	}
	if b.CarryForwardDays, err = decimal.NewFromString(carry); err != nil {
		return nil, fmt.Errorf("corrupt carry_forward_days %q: %w", carry, err)
	}
	b.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)
	return &b, nil
}

func scanTransaction(row scannable) (*engine.Transaction, error) {
	var (
		tx             engine.Transaction
		daysStr        string
		reason         sql.NullString
		referenceID    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
		createdBy      sql.NullString
	)
	err := row.Scan(
		&tx.ID, &tx.EmployeeID, &tx.LeaveTypeID, &tx.Year, &tx.Type,
		&daysStr, &reason, &referenceID, &idempotencyKey, &createdAt, &createdBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Days, err = decimal.NewFromString(daysStr); err != nil {
		return nil, fmt.Errorf("corrupt days %q: %w", daysStr, err)
	}
	tx.Reason = reason.String
	tx.ReferenceID = referenceID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	tx.CreatedBy = createdBy.String
	return &tx, nil
}

func scanRule(row scannable) (*engine.AccrualRule, error) {
	var (
		rule engine.AccrualRule
		name sql.NullString
		rate string
		max  string
	)
	err := row.Scan(
		&rule.LeaveTypeID, &name, &rate, &rule.AccrualPeriod,
		&max, &rule.CarryForwardExpiryMonths, &rule.IsActive,
	)
	if err != nil {
		return nil, err
	}

	rule.Name = name.String
	if rule.AccrualRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("corrupt accrual_rate %q: %w", rate, err)
	}
	if rule.MaxCarryForward, err = decimal.NewFromString(max); err != nil {
		return nil, fmt.Errorf("corrupt max_carry_forward %q: %w", max, err)
	}
	return &rule, nil
}

func scanEmployee(row scannable) (*engine.Employee, error) {
	var (
		emp       engine.Employee
		email     sql.NullString
		hireDate  string
		createdAt string
	)
	err := row.Scan(&emp.ID, &emp.Name, &email, &hireDate, &createdAt)
	if err != nil {
		return nil, err
	}
	emp.Email = email.String
	emp.HireDate, _ = time.Parse(time.RFC3339Nano, hireDate)
	emp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &emp, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}
