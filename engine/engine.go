/*
engine.go - The Balance Engine operations

PURPOSE:
  Implements the four balance-affecting operations plus carry-forward expiry.
  Each operation runs inside a single store transaction: it reads the current
  balance, checks the relevant invariant, writes the new balance with a
  version bump, and appends the ledger entry - all or nothing.

OPERATIONS:
  ConsumeForApproval  - approved leave request consumes days
  AccrueForPeriod     - periodic grant, idempotent per period key
  CarryForward        - year-boundary transfer, capped, source debited
  AdjustBalance       - manual admin correction, bounds-checked
  ExpireCarryForward  - unused carried days removed after the expiry window

INVARIANTS ENFORCED HERE:
  - RemainingDays = TotalDays - UsedDays after every operation
  - RemainingDays never goes negative: the operation fails, it does not clamp
  - The same logical event applies at most once (idempotency keys)
  - Only consumption and negative adjustment may decrease RemainingDays

CONCURRENCY:
  The engine holds no state of its own (spec: stateless functions over an
  injected store). Races on the same balance row are resolved by the store's
  versioned compare-and-swap; the caller retries the whole operation on
  ErrConcurrentModification.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine applies balance events against a transactional store.
// Clock is injectable for tests; nil means time.Now.
type Engine struct {
	Store TxStore
	Clock func() time.Time
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// CONSUME FOR APPROVAL
// =============================================================================

// ConsumeInput describes an approved leave request to book.
type ConsumeInput struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Days        decimal.Decimal
	ReferenceID string // the approving leave-request id
	ApprovedBy  string
}

// ConsumeForApproval books days against the current year's balance.
//
// Fails with ErrBalanceNotFound if no balance row exists (consumption never
// creates one), with ErrInsufficientBalance if remaining days would go
// negative, and with ErrDuplicateIdempotencyKey if the same reference id was
// already booked - which is what makes retrying a timed-out approval safe.
func (e *Engine) ConsumeForApproval(ctx context.Context, in ConsumeInput) (Balance, error) {
	if !in.Days.IsPositive() {
		return Balance{}, fmt.Errorf("%w: consumption must be positive, got %s", ErrInvalidAmount, in.Days)
	}
	if in.ReferenceID == "" {
		return Balance{}, fmt.Errorf("%w: consumption requires a reference id", ErrInvalidAmount)
	}

	now := e.now()
	year := now.Year()
	var result Balance

	err := e.Store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBalance(ctx, in.EmployeeID, in.LeaveTypeID, year)
		if err != nil {
			return err
		}
		if b == nil || !b.IsActive {
			return &BalanceNotFoundError{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Year: year}
		}
		if b.RemainingDays.LessThan(in.Days) {
			return &InsufficientBalanceError{
				EmployeeID:  in.EmployeeID,
				LeaveTypeID: in.LeaveTypeID,
				Year:        year,
				Available:   b.RemainingDays,
				Requested:   in.Days,
			}
		}

		b.UsedDays = b.UsedDays.Add(in.Days)
		b.RemainingDays = b.RemainingDays.Sub(in.Days)
		b.LastUpdated = now
		if err := s.SaveBalance(ctx, *b); err != nil {
			return err
		}

		if err := s.AppendTransaction(ctx, e.newTransaction(Transaction{
			EmployeeID:     in.EmployeeID,
			LeaveTypeID:    in.LeaveTypeID,
			Year:           year,
			Type:           TxUsed,
			Days:           in.Days.Neg(),
			Reason:         "approved leave request",
			ReferenceID:    in.ReferenceID,
			IdempotencyKey: consumptionKey(in.EmployeeID, in.LeaveTypeID, in.ReferenceID),
			CreatedBy:      in.ApprovedBy,
		}, now)); err != nil {
			return err
		}

		result = *b
		result.Version++ // SaveBalance persisted the bumped version
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return result, nil
}

// =============================================================================
// ACCRUE FOR PERIOD
// =============================================================================

// AccrualOutcome distinguishes "applied" from "nothing to do". A redundant
// scheduler tick gets Applied=false and no error.
type AccrualOutcome struct {
	Applied bool
	Balance Balance
}

// AccrueForPeriod credits the rule's rate once for the given period key,
// creating the year's balance row if absent. Repeated invocation for the
// same (employee, leave type, period) is a safe no-op.
func (e *Engine) AccrueForPeriod(ctx context.Context, employeeID EmployeeID, rule AccrualRule, periodKey string) (AccrualOutcome, error) {
	if err := rule.Validate(); err != nil {
		return AccrualOutcome{}, err
	}
	if !rule.IsActive {
		return AccrualOutcome{}, fmt.Errorf("%w: rule for %s is inactive", ErrInvalidRule, rule.LeaveTypeID)
	}
	year, err := rule.ParsePeriodKey(periodKey)
	if err != nil {
		return AccrualOutcome{}, err
	}

	now := e.now()
	key := accrualKey(employeeID, rule.LeaveTypeID, periodKey)
	var result Balance

	txErr := e.Store.WithTx(ctx, func(s Store) error {
		applied, err := s.HasTransactionKey(ctx, key)
		if err != nil {
			return err
		}
		if applied {
			return ErrDuplicateIdempotencyKey
		}

		b, err := e.getOrCreate(ctx, s, employeeID, rule.LeaveTypeID, year)
		if err != nil {
			return err
		}
		b.TotalDays = b.TotalDays.Add(rule.AccrualRate)
		b.RemainingDays = b.RemainingDays.Add(rule.AccrualRate)
		b.IsActive = true
		b.LastUpdated = now
		if err := s.SaveBalance(ctx, b); err != nil {
			return err
		}

		if err := s.AppendTransaction(ctx, e.newTransaction(Transaction{
			EmployeeID:     employeeID,
			LeaveTypeID:    rule.LeaveTypeID,
			Year:           year,
			Type:           TxAccrual,
			Days:           rule.AccrualRate,
			Reason:         fmt.Sprintf("%s accrual for %s", rule.AccrualPeriod, periodKey),
			ReferenceID:    periodKey,
			IdempotencyKey: key,
			CreatedBy:      "system",
		}, now)); err != nil {
			return err
		}

		result = b
		result.Version++
		return nil
	})

	if errors.Is(txErr, ErrDuplicateIdempotencyKey) {
		// Already accrued - either the pre-check saw it or a racing call won
		// the unique-key append. Report the current state, not an error.
		out := AccrualOutcome{Applied: false}
		if b, err := e.Store.GetBalance(ctx, employeeID, rule.LeaveTypeID, year); err == nil && b != nil {
			out.Balance = *b
		}
		return out, nil
	}
	if txErr != nil {
		return AccrualOutcome{}, txErr
	}
	return AccrualOutcome{Applied: true, Balance: result}, nil
}

// =============================================================================
// CARRY FORWARD
// =============================================================================

// CarryForwardOutcome reports what moved at the year boundary.
type CarryForwardOutcome struct {
	Applied bool
	Carried decimal.Decimal
	Expired decimal.Decimal
}

// CarryForward moves the source year's leftover days into the target year,
// capped by the rule. The source year is debited to zero remaining in the
// same atomic unit: the capped amount leaves as a carried_forward entry, the
// excess as an expired entry. Days are never counted in both years.
//
// A missing or empty source balance is a no-op, and the whole operation is
// idempotent per (employee, leave type, year pair).
func (e *Engine) CarryForward(ctx context.Context, employeeID EmployeeID, rule AccrualRule, fromYear, toYear int) (CarryForwardOutcome, error) {
	if err := rule.Validate(); err != nil {
		return CarryForwardOutcome{}, err
	}
	if toYear <= fromYear {
		return CarryForwardOutcome{}, fmt.Errorf("%w: target year %d must follow source year %d", ErrInvalidYearRange, toYear, fromYear)
	}

	now := e.now()
	key := carryForwardKey(employeeID, rule.LeaveTypeID, fromYear, toYear)
	var outcome CarryForwardOutcome

	txErr := e.Store.WithTx(ctx, func(s Store) error {
		applied, err := s.HasTransactionKey(ctx, key+":out")
		if err != nil {
			return err
		}
		if applied {
			return ErrDuplicateIdempotencyKey
		}

		src, err := s.GetBalance(ctx, employeeID, rule.LeaveTypeID, fromYear)
		if err != nil {
			return err
		}
		if src == nil || !src.IsActive || !src.RemainingDays.IsPositive() {
			return nil // nothing to carry
		}

		leftover := src.RemainingDays
		carried := decimal.Min(leftover, rule.MaxCarryForward)
		expired := leftover.Sub(carried)
		ref := fmt.Sprintf("%d->%d", fromYear, toYear)

		// Debit the source year to zero remaining. TotalDays shrinks by the
		// full leftover so remaining = total - used still holds.
		src.TotalDays = src.TotalDays.Sub(leftover)
		src.RemainingDays = decimal.Zero
		src.LastUpdated = now
		if err := s.SaveBalance(ctx, *src); err != nil {
			return err
		}

		txs := []Transaction{e.newTransaction(Transaction{
			EmployeeID:     employeeID,
			LeaveTypeID:    rule.LeaveTypeID,
			Year:           fromYear,
			Type:           TxCarriedForward,
			Days:           carried.Neg(),
			Reason:         fmt.Sprintf("carried forward to %d", toYear),
			ReferenceID:    ref,
			IdempotencyKey: key + ":out",
			CreatedBy:      "system",
		}, now)}

		if expired.IsPositive() {
			txs = append(txs, e.newTransaction(Transaction{
				EmployeeID:     employeeID,
				LeaveTypeID:    rule.LeaveTypeID,
				Year:           fromYear,
				Type:           TxExpired,
				Days:           expired.Neg(),
				Reason:         "expired above carry-forward cap",
				ReferenceID:    ref,
				IdempotencyKey: key + ":exp",
				CreatedBy:      "system",
			}, now))
		}

		if carried.IsPositive() {
			tgt, err := e.getOrCreate(ctx, s, employeeID, rule.LeaveTypeID, toYear)
			if err != nil {
				return err
			}
			tgt.TotalDays = tgt.TotalDays.Add(carried)
			tgt.RemainingDays = tgt.RemainingDays.Add(carried)
			tgt.CarryForwardDays = tgt.CarryForwardDays.Add(carried)
			tgt.IsActive = true
			tgt.LastUpdated = now
			if err := s.SaveBalance(ctx, tgt); err != nil {
				return err
			}

			txs = append(txs, e.newTransaction(Transaction{
				EmployeeID:     employeeID,
				LeaveTypeID:    rule.LeaveTypeID,
				Year:           toYear,
				Type:           TxCarriedForward,
				Days:           carried,
				Reason:         fmt.Sprintf("carried forward from %d", fromYear),
				ReferenceID:    ref,
				IdempotencyKey: key + ":in",
				CreatedBy:      "system",
			}, now))
		}

		if err := s.AppendTransactions(ctx, txs); err != nil {
			return err
		}

		outcome = CarryForwardOutcome{Applied: true, Carried: carried, Expired: expired}
		return nil
	})

	if errors.Is(txErr, ErrDuplicateIdempotencyKey) {
		return CarryForwardOutcome{Applied: false}, nil
	}
	if txErr != nil {
		return CarryForwardOutcome{}, txErr
	}
	return outcome, nil
}

// =============================================================================
// ADJUST BALANCE
// =============================================================================

// AdjustInput describes a manual correction. Days may be either sign.
type AdjustInput struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Days        decimal.Decimal
	Reason      string
	AdjustedBy  string
}

// AdjustBalance applies an administrative correction to the current year,
// creating the balance row if absent. A positive adjustment grows the
// allocation; a negative adjustment is bookkept like consumption (UsedDays
// grows, TotalDays is untouched) and is bounds-checked the same way.
func (e *Engine) AdjustBalance(ctx context.Context, in AdjustInput) (Balance, error) {
	if in.Days.IsZero() {
		return Balance{}, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}

	now := e.now()
	year := now.Year()
	var result Balance

	err := e.Store.WithTx(ctx, func(s Store) error {
		b, err := e.getOrCreate(ctx, s, in.EmployeeID, in.LeaveTypeID, year)
		if err != nil {
			return err
		}

		if in.Days.IsNegative() {
			if b.RemainingDays.Add(in.Days).IsNegative() {
				return &InsufficientBalanceError{
					EmployeeID:  in.EmployeeID,
					LeaveTypeID: in.LeaveTypeID,
					Year:        year,
					Available:   b.RemainingDays,
					Requested:   in.Days.Neg(),
				}
			}
			b.UsedDays = b.UsedDays.Sub(in.Days) // days < 0: used grows
		} else {
			b.TotalDays = b.TotalDays.Add(in.Days)
		}
		b.RemainingDays = b.RemainingDays.Add(in.Days)
		b.IsActive = true
		b.LastUpdated = now
		if err := s.SaveBalance(ctx, b); err != nil {
			return err
		}

		if err := s.AppendTransaction(ctx, e.newTransaction(Transaction{
			EmployeeID:  in.EmployeeID,
			LeaveTypeID: in.LeaveTypeID,
			Year:        year,
			Type:        TxAdjusted,
			Days:        in.Days,
			Reason:      in.Reason,
			CreatedBy:   in.AdjustedBy,
		}, now)); err != nil {
			return err
		}

		result = b
		result.Version++
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return result, nil
}

// =============================================================================
// EXPIRE CARRY FORWARD
// =============================================================================

// ExpireOutcome reports how many carried days were removed.
type ExpireOutcome struct {
	Applied bool
	Expired decimal.Decimal
}

// ExpireCarryForward removes the still-unused portion of a year's carried
// days once the rule's expiry window has elapsed. Carried days are charged
// only after the base allocation: what expires is
// min(CarryForwardDays, RemainingDays). Idempotent per (employee, leave
// type, year); a no-op before the cutoff or when the rule has no window.
func (e *Engine) ExpireCarryForward(ctx context.Context, employeeID EmployeeID, rule AccrualRule, year int, asOf time.Time) (ExpireOutcome, error) {
	if err := rule.Validate(); err != nil {
		return ExpireOutcome{}, err
	}
	if rule.CarryForwardExpiryMonths == 0 {
		return ExpireOutcome{Applied: false}, nil
	}
	cutoff := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, rule.CarryForwardExpiryMonths, 0)
	if asOf.Before(cutoff) {
		return ExpireOutcome{Applied: false}, nil
	}

	now := e.now()
	key := expiryKey(employeeID, rule.LeaveTypeID, year)
	var outcome ExpireOutcome

	txErr := e.Store.WithTx(ctx, func(s Store) error {
		applied, err := s.HasTransactionKey(ctx, key)
		if err != nil {
			return err
		}
		if applied {
			return ErrDuplicateIdempotencyKey
		}

		b, err := s.GetBalance(ctx, employeeID, rule.LeaveTypeID, year)
		if err != nil {
			return err
		}
		if b == nil || !b.IsActive {
			return nil
		}
		unused := decimal.Min(b.CarryForwardDays, b.RemainingDays)
		if !unused.IsPositive() {
			return nil
		}

		b.TotalDays = b.TotalDays.Sub(unused)
		b.RemainingDays = b.RemainingDays.Sub(unused)
		b.CarryForwardDays = b.CarryForwardDays.Sub(unused)
		b.LastUpdated = now
		if err := s.SaveBalance(ctx, *b); err != nil {
			return err
		}

		if err := s.AppendTransaction(ctx, e.newTransaction(Transaction{
			EmployeeID:     employeeID,
			LeaveTypeID:    rule.LeaveTypeID,
			Year:           year,
			Type:           TxExpired,
			Days:           unused.Neg(),
			Reason:         fmt.Sprintf("carry-forward expired after %d months", rule.CarryForwardExpiryMonths),
			ReferenceID:    fmt.Sprintf("expiry-%d", year),
			IdempotencyKey: key,
			CreatedBy:      "system",
		}, now)); err != nil {
			return err
		}

		outcome = ExpireOutcome{Applied: true, Expired: unused}
		return nil
	})

	if errors.Is(txErr, ErrDuplicateIdempotencyKey) {
		return ExpireOutcome{Applied: false}, nil
	}
	if txErr != nil {
		return ExpireOutcome{}, txErr
	}
	return outcome, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) getOrCreate(ctx context.Context, s Store, employeeID EmployeeID, leaveTypeID LeaveTypeID, year int) (Balance, error) {
	b, err := s.GetBalance(ctx, employeeID, leaveTypeID, year)
	if err != nil {
		return Balance{}, err
	}
	if b != nil {
		return *b, nil
	}
	return NewBalance(employeeID, leaveTypeID, year), nil
}

func (e *Engine) newTransaction(tx Transaction, now time.Time) Transaction {
	tx.ID = TransactionID(uuid.NewString())
	tx.CreatedAt = now
	return tx
}

// Idempotency key layout. Keys are opaque to the stores; only uniqueness
// matters. Keeping the formats together so they cannot drift apart.

func accrualKey(emp EmployeeID, lt LeaveTypeID, periodKey string) string {
	return fmt.Sprintf("accrual:%s:%s:%s", emp, lt, periodKey)
}

func consumptionKey(emp EmployeeID, lt LeaveTypeID, referenceID string) string {
	return fmt.Sprintf("used:%s:%s:%s", emp, lt, referenceID)
}

func carryForwardKey(emp EmployeeID, lt LeaveTypeID, fromYear, toYear int) string {
	return fmt.Sprintf("carry:%s:%s:%d-%d", emp, lt, fromYear, toYear)
}

func expiryKey(emp EmployeeID, lt LeaveTypeID, year int) string {
	return fmt.Sprintf("expire:%s:%s:%d", emp, lt, year)
}
