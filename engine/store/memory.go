// Package store provides an in-memory implementation of the engine's
// persistence interfaces, for tests and dev mode.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tidehr/leave-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	balances     map[balanceKey]engine.Balance
	transactions []engine.Transaction
	idempotency  map[string]bool
	rules        map[engine.LeaveTypeID]engine.AccrualRule
	employees    map[engine.EmployeeID]engine.Employee
}

type balanceKey struct {
	EmployeeID  engine.EmployeeID
	LeaveTypeID engine.LeaveTypeID
	Year        int
}

func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[balanceKey]engine.Balance),
		idempotency: make(map[string]bool),
		rules:       make(map[engine.LeaveTypeID]engine.AccrualRule),
		employees:   make(map[engine.EmployeeID]engine.Employee),
	}
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalanceLocked(employeeID, leaveTypeID, year), nil
}

func (m *Memory) getBalanceLocked(employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) *engine.Balance {
	b, ok := m.balances[balanceKey{employeeID, leaveTypeID, year}]
	if !ok {
		return nil
	}
	cp := b
	return &cp
}

func (m *Memory) SaveBalance(_ context.Context, b engine.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBalanceLocked(b)
}

func (m *Memory) saveBalanceLocked(b engine.Balance) error {
	k := balanceKey{b.EmployeeID, b.LeaveTypeID, b.Year}
	existing, ok := m.balances[k]
	if !ok {
		if b.Version != 0 {
			return engine.ErrConcurrentModification
		}
	} else if existing.Version != b.Version {
		return engine.ErrConcurrentModification
	}
	b.Version++
	m.balances[k] = b
	return nil
}

func (m *Memory) ListBalances(_ context.Context, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Balance
	for k, b := range m.balances {
		if k.EmployeeID != employeeID || !b.IsActive {
			continue
		}
		if year != 0 && k.Year != year {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year < result[j].Year
		}
		return result[i].LeaveTypeID < result[j].LeaveTypeID
	})
	return result, nil
}

func (m *Memory) DeactivateBalance(_ context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := balanceKey{employeeID, leaveTypeID, year}
	b, ok := m.balances[k]
	if !ok {
		return engine.ErrBalanceNotFound
	}
	b.IsActive = false
	b.Version++
	m.balances[k] = b
	return nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) AppendTransactions(_ context.Context, txs []engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all keys before writing any (atomic check)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
			return engine.ErrDuplicateIdempotencyKey
		}
	}
	for _, tx := range txs {
		if err := m.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(tx engine.Transaction) error {
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return engine.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = true
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) HasTransactionKey(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) Transactions(_ context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Transaction
	for _, tx := range m.transactions {
		if tx.EmployeeID != employeeID || tx.LeaveTypeID != leaveTypeID {
			continue
		}
		if year != 0 && tx.Year != year {
			continue
		}
		result = append(result, tx)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// RULE STORE / EMPLOYEE REGISTRY
// =============================================================================

func (m *Memory) SaveRule(_ context.Context, rule engine.AccrualRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.LeaveTypeID] = rule
	return nil
}

func (m *Memory) GetRule(_ context.Context, leaveTypeID engine.LeaveTypeID) (*engine.AccrualRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[leaveTypeID]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *Memory) ListRules(_ context.Context) ([]engine.AccrualRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.AccrualRule
	for _, r := range m.rules {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LeaveTypeID < result[j].LeaveTypeID })
	return result, nil
}

func (m *Memory) SaveEmployee(_ context.Context, emp engine.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id engine.EmployeeID) (*engine.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]engine.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.Employee
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a snapshot
// restored on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	balances     map[balanceKey]engine.Balance
	transactions []engine.Transaction
	idempotency  map[string]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	balCopy := make(map[balanceKey]engine.Balance, len(tm.balances))
	for k, v := range tm.balances {
		balCopy[k] = v
	}
	idemCopy := make(map[string]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idemCopy[k] = v
	}
	return memorySnapshot{
		balances:     balCopy,
		transactions: append([]engine.Transaction{}, tm.transactions...),
		idempotency:  idemCopy,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.balances = s.balances
	tm.transactions = s.transactions
	tm.idempotency = s.idempotency
}

// txMemoryView operates on the already-locked parent.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetBalance(_ context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) (*engine.Balance, error) {
	return tv.parent.getBalanceLocked(employeeID, leaveTypeID, year), nil
}

func (tv *txMemoryView) SaveBalance(_ context.Context, b engine.Balance) error {
	return tv.parent.saveBalanceLocked(b)
}

func (tv *txMemoryView) ListBalances(_ context.Context, employeeID engine.EmployeeID, year int) ([]engine.Balance, error) {
	var result []engine.Balance
	for k, b := range tv.parent.balances {
		if k.EmployeeID != employeeID || !b.IsActive {
			continue
		}
		if year != 0 && k.Year != year {
			continue
		}
		result = append(result, b)
	}
	return result, nil
}

func (tv *txMemoryView) DeactivateBalance(_ context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) error {
	k := balanceKey{employeeID, leaveTypeID, year}
	b, ok := tv.parent.balances[k]
	if !ok {
		return engine.ErrBalanceNotFound
	}
	b.IsActive = false
	b.Version++
	tv.parent.balances[k] = b
	return nil
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx engine.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) AppendTransactions(_ context.Context, txs []engine.Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey != "" && tv.parent.idempotency[tx.IdempotencyKey] {
			return engine.ErrDuplicateIdempotencyKey
		}
	}
	for _, tx := range txs {
		if err := tv.parent.appendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

func (tv *txMemoryView) HasTransactionKey(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) Transactions(_ context.Context, employeeID engine.EmployeeID, leaveTypeID engine.LeaveTypeID, year int) ([]engine.Transaction, error) {
	var result []engine.Transaction
	for _, tx := range tv.parent.transactions {
		if tx.EmployeeID != employeeID || tx.LeaveTypeID != leaveTypeID {
			continue
		}
		if year != 0 && tx.Year != year {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}
