/*
Package postgres provides a PostgreSQL-backed implementation of the engine
stores using pgx.

PURPOSE:
  Mirrors store/sqlite on pgxpool for multi-process deployments. Schema and
  semantics are identical; the dialect differences are numbered placeholders,
  native TIMESTAMPTZ/NUMERIC columns, and SQLSTATE-based unique-violation
  detection (23505).

CONCURRENCY:
  No in-process mutex - PostgreSQL's MVCC plus the version-guarded UPDATE
  provide the same optimistic-concurrency behavior across processes.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.NewEngine(store)

SEE ALSO:
  - engine/store.go: Interface definitions
  - store/sqlite: The reference implementation of the same schema
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehr/leave-engine/engine"
)

// Store implements all storage interfaces using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		total_days NUMERIC(10,4) NOT NULL,
		used_days NUMERIC(10,4) NOT NULL,
		remaining_days NUMERIC(10,4) NOT NULL,
		carry_forward_days NUMERIC(10,4) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_employee_year
		ON leave_balances(employee_id, year);

	CREATE TABLE IF NOT EXISTS leave_transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		days NUMERIC(10,4) NOT NULL,
		reason TEXT,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_employee_type_year
		ON leave_transactions(employee_id, leave_type_id, year);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON leave_transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS accrual_rules (
		leave_type_id TEXT PRIMARY KEY,
		name TEXT,
		accrual_rate NUMERIC(10,4) NOT NULL,
		accrual_period TEXT NOT NULL,
		max_carry_forward NUMERIC(10,4) NOT NULL,
		carry_forward_expiry_months INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier abstracts *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// BALANCE STORE (engine.BalanceStore interface)
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	return getBalance(ctx, s.pool, employeeID, leaveTypeID, year)
}

func getBalance(ctx context.Context, q querier, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	row := q.QueryRow(ctx, `
		SELECT employee_id, leave_type_id, year, total_days, used_days, remaining_days,
		       carry_forward_days, is_active, version, last_updated
		FROM leave_balances
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3
	`, employeeID, leaveTypeID, year)

	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) SaveBalance(ctx context.Context, b engine.Balance) error {
	return saveBalance(ctx, s.pool, b)
}

func saveBalance(ctx context.Context, q querier, b engine.Balance) error {
	if b.Version == 0 {
		_, err := q.Exec(ctx, `
			INSERT INTO leave_balances
			(employee_id, leave_type_id, year, total_days, used_days, remaining_days,
			 carry_forward_days, is_active, version, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
		`,
			b.EmployeeID, b.LeaveTypeID, b.Year,
			b.TotalDays, b.UsedDays, b.RemainingDays, b.CarryForwardDays,
			b.IsActive, timeOrNow(b.LastUpdated),
		)
		if isUniqueViolation(err) {
			return engine.ErrConcurrentModification
		}
		if err != nil {
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	tag, err := q.Exec(ctx, `
		UPDATE leave_balances
		SET total_days = $1, used_days = $2, remaining_days = $3, carry_forward_days = $4,
		    is_active = $5, version = version + 1, last_updated = $6
		WHERE employee_id = $7 AND leave_type_id = $8 AND year = $9 AND version = $10
	`,
		b.TotalDays, b.UsedDays, b.RemainingDays, b.CarryForwardDays,
		b.IsActive, timeOrNow(b.LastUpdated),
		b.EmployeeID, b.LeaveTypeID, b.Year, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ListBalances(ctx context.Context, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	return listBalances(ctx, s.pool, employeeID, year)
}

func listBalances(ctx context.Context, q querier, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	query := `
		SELECT employee_id, leave_type_id, year, total_days, used_days, remaining_days,
		       carry_forward_days, is_active, version, last_updated
		FROM leave_balances
		WHERE employee_id = $1 AND is_active
	`
	args := []any{employeeID}
	if year != 0 {
		query += " AND year = $2"
		args = append(args, year)
	}
	query += " ORDER BY year, leave_type_id"

	rows, err := q.Query(ctx, query, args...)
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

func (s *Store) DeactivateBalance(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	return deactivateBalance(ctx, s.pool, employeeID, leaveTypeID, year)
}

func deactivateBalance(ctx context.Context, q querier, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	tag, err := q.Exec(ctx, `
		UPDATE leave_balances
		SET is_active = FALSE, version = version + 1, last_updated = NOW()
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3
	`, employeeID, leaveTypeID, year)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrBalanceNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTION LOG (engine.TransactionLog interface)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	return appendTransaction(ctx, s.pool, tx)
}

func appendTransaction(ctx context.Context, q querier, tx engine.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO leave_transactions
		(id, employee_id, leave_type_id, year, tx_type, days, reason,
		 reference_id, idempotency_key, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		tx.ID, tx.EmployeeID, tx.LeaveTypeID, tx.Year, tx.Type,
		tx.Days, tx.Reason,
		nullable(tx.ReferenceID), nullable(tx.IdempotencyKey),
		timeOrNow(tx.CreatedAt), tx.CreatedBy,
	)
	if isUniqueViolation(err) {
		return engine.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) AppendTransactions(ctx context.Context, txs []engine.Transaction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, t := range txs {
			if err := appendTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) HasTransactionKey(ctx context.Context, idempotencyKey string) (bool, error) {
	return hasTransactionKey(ctx, s.pool, idempotencyKey)
}

func hasTransactionKey(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM leave_transactions WHERE idempotency_key = $1)",
		idempotencyKey,
	).Scan(&exists)
	return exists, err
}

func (s *Store) Transactions(ctx context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	return loadTransactions(ctx, s.pool, employeeID, leaveTypeID, year)
}

func loadTransactions(ctx context.Context, q querier, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	query := `
		SELECT id, employee_id, leave_type_id, year, tx_type, days, reason,
		       reference_id, idempotency_key, created_at, created_by
		FROM leave_transactions
		WHERE employee_id = $1 AND leave_type_id = $2
	`
	args := []any{employeeID, leaveTypeID}
	if year != 0 {
		query += " AND year = $3"
		args = append(args, year)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []engine.Transaction
	for rows.Next() {
		var (
			tx             engine.Transaction
			reason         *string
			referenceID    *string
			idempotencyKey *string
			createdBy      *string
		)
		if err := rows.Scan(
			&tx.ID, &tx.EmployeeID, &tx.LeaveTypeID, &tx.Year, &tx.Type,
			&tx.Days, &reason, &referenceID, &idempotencyKey, &tx.CreatedAt, &createdBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Reason = deref(reason)
		tx.ReferenceID = deref(referenceID)
		tx.IdempotencyKey = deref(idempotencyKey)
		tx.CreatedBy = deref(createdBy)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
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

func (s *Store) SaveRule(ctx context.Context, rule engine.AccrualRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accrual_rules
		(leave_type_id, name, accrual_rate, accrual_period, max_carry_forward,
		 carry_forward_expiry_months, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (leave_type_id) DO UPDATE SET
			name = EXCLUDED.name,
			accrual_rate = EXCLUDED.accrual_rate,
			accrual_period = EXCLUDED.accrual_period,
			max_carry_forward = EXCLUDED.max_carry_forward,
			carry_forward_expiry_months = EXCLUDED.carry_forward_expiry_months,
			is_active = EXCLUDED.is_active
	`,
		rule.LeaveTypeID, rule.Name, rule.AccrualRate, rule.AccrualPeriod,
		rule.MaxCarryForward, rule.CarryForwardExpiryMonths, rule.IsActive,
	)
	return err
}

func (s *Store) GetRule(ctx context.Context, leaveTypeID engine.LeaveTypeID) (*engine.AccrualRule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT leave_type_id, name, accrual_rate, accrual_period, max_carry_forward,
		       carry_forward_expiry_months, is_active
		FROM accrual_rules
		WHERE leave_type_id = $1
	`, leaveTypeID)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context) ([]engine.AccrualRule, error) {
	rows, err := s.pool.Query(ctx, `
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

func (s *Store) SaveEmployee(ctx context.Context, emp engine.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			hire_date = EXCLUDED.hire_date
	`,
		emp.ID, emp.Name, nullable(emp.Email),
		timeOrNow(emp.HireDate), timeOrNow(emp.CreatedAt),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id engine.EmployeeID) (*engine.Employee, error) {
	var (
		emp   engine.Employee
		email *string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees WHERE id = $1",
		id,
	).Scan(&emp.ID, &emp.Name, &email, &emp.HireDate, &emp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	emp.Email = deref(email)
	return &emp, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]engine.Employee, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []engine.Employee
	for rows.Next() {
		var (
			emp   engine.Employee
			email *string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &emp.HireDate, &emp.CreatedAt); err != nil {
			return nil, err
		}
		emp.Email = deref(email)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type scannable interface {
	Scan(dest ...any) error
}

func scanBalance(row scannable) (*engine.Balance, error) {
	var b engine.Balance
	err := row.Scan(
		&b.EmployeeID, &b.LeaveTypeID, &b.Year,
		&b.TotalDays, &b.UsedDays, &b.RemainingDays, &b.CarryForwardDays,
		&b.IsActive, &b.Version, &b.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanRule(row scannable) (*engine.AccrualRule, error) {
	var (
		rule engine.AccrualRule
		name *string
	)
	err := row.Scan(
		&rule.LeaveTypeID, &name, &rule.AccrualRate, &rule.AccrualPeriod,
		&rule.MaxCarryForward, &rule.CarryForwardExpiryMonths, &rule.IsActive,
	)
	if err != nil {
		return nil, err
	}
	rule.Name = deref(name)
	return &rule, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
