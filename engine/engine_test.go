package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidehr/leave-engine/engine"
	"github.com/tidehr/leave-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func days(n float64) decimal.Decimal {
	return decimal.NewFromFloat(n)
}

// newTestEngine returns an engine over a fresh memory store with the clock
// pinned to mid-2024 so "current year" is stable.
func newTestEngine() (*engine.Engine, *store.TxMemory) {
	mem := store.NewTxMemory()
	e := engine.NewEngine(mem)
	e.Clock = func() time.Time {
		return time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	}
	return e, mem
}

func monthlyRule(rate float64) engine.AccrualRule {
	return engine.AccrualRule{
		LeaveTypeID:              "annual",
		Name:                     "Annual Leave",
		AccrualRate:              days(rate),
		AccrualPeriod:            engine.PerMonth,
		MaxCarryForward:          days(5),
		CarryForwardExpiryMonths: 3,
		IsActive:                 true,
	}
}

func yearlyRule(rate float64) engine.AccrualRule {
	r := monthlyRule(rate)
	r.AccrualPeriod = engine.PerYear
	return r
}

// seedBalance grants n days to the 2024 annual balance via a positive
// adjustment, the lazy-create path the engine itself offers.
func seedBalance(t *testing.T, e *engine.Engine, emp engine.EmployeeID, n float64) {
	t.Helper()
	_, err := e.AdjustBalance(context.Background(), engine.AdjustInput{
		EmployeeID:  emp,
		LeaveTypeID: "annual",
		Days:        days(n),
		Reason:      "initial grant",
		AdjustedBy:  "test",
	})
	if err != nil {
		t.Fatalf("seeding balance: %v", err)
	}
}

func mustBalance(t *testing.T, s engine.Store, emp engine.EmployeeID, year int) engine.Balance {
	t.Helper()
	b, err := s.GetBalance(context.Background(), emp, "annual", year)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b == nil {
		t.Fatalf("balance %s/annual/%d missing", emp, year)
	}
	if !b.Consistent() {
		t.Fatalf("invariant violated: total=%s used=%s remaining=%s",
			b.TotalDays, b.UsedDays, b.RemainingDays)
	}
	return *b
}

func txCount(t *testing.T, s engine.Store, emp engine.EmployeeID) int {
	t.Helper()
	txs, err := s.Transactions(context.Background(), emp, "annual", 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(txs)
}

// =============================================================================
// CONSUMPTION
// =============================================================================

func TestConsume_WithinBalance_Booked(t *testing.T) {
	// GIVEN: Balance {total: 20, used: 0, remaining: 20}
	// WHEN: Consuming 5 days for an approved request
	// THEN: {used: 5, remaining: 15}, one "used" entry with days = -5

	ctx := context.Background()
	e, mem := newTestEngine()
	seedBalance(t, e, "emp-1", 20)

	b, err := e.ConsumeForApproval(ctx, engine.ConsumeInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: "annual",
		Days:        days(5),
		ReferenceID: "leave-1",
		ApprovedBy:  "mgr-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !b.UsedDays.Equal(days(5)) || !b.RemainingDays.Equal(days(15)) {
		t.Errorf("expected used=5 remaining=15, got used=%s remaining=%s", b.UsedDays, b.RemainingDays)
	}

	txs, _ := mem.Transactions(ctx, "emp-1", "annual", 2024)
	var used []engine.Transaction
	for _, tx := range txs {
		if tx.Type == engine.TxUsed {
			used = append(used, tx)
		}
	}
	if len(used) != 1 {
		t.Fatalf("expected 1 used entry, got %d", len(used))
	}
	if !used[0].Days.Equal(days(-5)) {
		t.Errorf("expected used entry days=-5, got %s", used[0].Days)
	}
	if used[0].ReferenceID != "leave-1" {
		t.Errorf("expected reference leave-1, got %q", used[0].ReferenceID)
	}
	mustBalance(t, mem, "emp-1", 2024)
}

func TestConsume_ExactRemaining_ReachesZero(t *testing.T) {
	// GIVEN: Balance with 7 remaining days
	// WHEN: Consuming exactly 7 days
	// THEN: Succeeds, remaining is exactly zero

	e, mem := newTestEngine()
	seedBalance(t, e, "emp-1", 7)

	b, err := e.ConsumeForApproval(context.Background(), engine.ConsumeInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(7), ReferenceID: "leave-2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.RemainingDays.IsZero() {
		t.Errorf("expected remaining=0, got %s", b.RemainingDays)
	}
	mustBalance(t, mem, "emp-1", 2024)
}

func TestConsume_ExceedsRemaining_FailsUnchanged(t *testing.T) {
	// GIVEN: Balance with 3 remaining days
	// WHEN: Consuming 5 days
	// THEN: InsufficientBalance; balance and ledger completely unmodified

	e, mem := newTestEngine()
	seedBalance(t, e, "emp-1", 3)
	before := mustBalance(t, mem, "emp-1", 2024)
	countBefore := txCount(t, mem, "emp-1")

	_, err := e.ConsumeForApproval(context.Background(), engine.ConsumeInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(5), ReferenceID: "leave-3",
	})

	if !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var detail *engine.InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatalf("expected InsufficientBalanceError, got %T", err)
	}
	if !detail.Available.Equal(days(3)) || !detail.Requested.Equal(days(5)) {
		t.Errorf("expected available=3 requested=5, got %s/%s", detail.Available, detail.Requested)
	}

	after := mustBalance(t, mem, "emp-1", 2024)
	if !after.RemainingDays.Equal(before.RemainingDays) || after.Version != before.Version {
		t.Errorf("balance modified on failed consumption: before=%+v after=%+v", before, after)
	}
	if got := txCount(t, mem, "emp-1"); got != countBefore {
		t.Errorf("ledger modified on failed consumption: %d -> %d entries", countBefore, got)
	}
}

func TestConsume_OneOverRemaining_Fails(t *testing.T) {
	// GIVEN: Balance with 10 remaining days
	// WHEN: Consuming remaining+1
	// THEN: InsufficientBalance, never a clamp

	e, _ := newTestEngine()
	seedBalance(t, e, "emp-1", 10)

	_, err := e.ConsumeForApproval(context.Background(), engine.ConsumeInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(11), ReferenceID: "leave-4",
	})
	if !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestConsume_NoBalanceRow_NotFound(t *testing.T) {
	// GIVEN: No balance row for the employee/year
	// WHEN: Consuming
	// THEN: BalanceNotFound - consumption never creates a row

	e, mem := newTestEngine()

	_, err := e.ConsumeForApproval(context.Background(), engine.ConsumeInput{
		EmployeeID: "emp-9", LeaveTypeID: "annual", Days: days(1), ReferenceID: "leave-5",
	})
	if !errors.Is(err, engine.ErrBalanceNotFound) {
		t.Fatalf("expected ErrBalanceNotFound, got %v", err)
	}
	if b, _ := mem.GetBalance(context.Background(), "emp-9", "annual", 2024); b != nil {
		t.Error("consumption must not create a balance row")
	}
}

func TestConsume_SameReference_RejectedOnce(t *testing.T) {
	// GIVEN: Request leave-6 already booked
	// WHEN: The same reference id is booked again (caller retry after timeout)
	// THEN: Duplicate idempotency key; days are not consumed twice

	ctx := context.Background()
	e, mem := newTestEngine()
	seedBalance(t, e, "emp-1", 20)

	in := engine.ConsumeInput{EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(5), ReferenceID: "leave-6"}
	if _, err := e.ConsumeForApproval(ctx, in); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	_, err := e.ConsumeForApproval(ctx, in)
	if !errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.UsedDays.Equal(days(5)) {
		t.Errorf("expected used=5 after retry, got %s", b.UsedDays)
	}
}

func TestConsume_NonPositiveDays_Rejected(t *testing.T) {
	e, _ := newTestEngine()
	for _, d := range []float64{0, -1} {
		_, err := e.ConsumeForApproval(context.Background(), engine.ConsumeInput{
			EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(d), ReferenceID: "leave-7",
		})
		if !errors.Is(err, engine.ErrInvalidAmount) {
			t.Errorf("days=%v: expected ErrInvalidAmount, got %v", d, err)
		}
	}
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestAccrue_FirstPeriod_CreatesBalance(t *testing.T) {
	// GIVEN: Fresh employee, no balance row
	// WHEN: Accruing for 2024-01 with a 1.66/month rule
	// THEN: Row created lazily with total=remaining=1.66

	e, mem := newTestEngine()

	out, err := e.AccrueForPeriod(context.Background(), "emp-1", monthlyRule(1.66), "2024-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied {
		t.Fatal("expected accrual to apply")
	}

	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.TotalDays.Equal(days(1.66)) || !b.RemainingDays.Equal(days(1.66)) {
		t.Errorf("expected total=remaining=1.66, got total=%s remaining=%s", b.TotalDays, b.RemainingDays)
	}
}

func TestAccrue_SamePeriodTwice_SecondIsNoOp(t *testing.T) {
	// GIVEN: Accrual already applied for 2024-03
	// WHEN: The periodic job reruns the same period
	// THEN: AlreadyAccrued outcome (no error), exactly one entry, one increment

	ctx := context.Background()
	e, mem := newTestEngine()
	rule := monthlyRule(1.66)

	first, err := e.AccrueForPeriod(ctx, "emp-1", rule, "2024-03")
	if err != nil || !first.Applied {
		t.Fatalf("first accrual: applied=%v err=%v", first.Applied, err)
	}

	second, err := e.AccrueForPeriod(ctx, "emp-1", rule, "2024-03")
	if err != nil {
		t.Fatalf("redundant accrual must not error: %v", err)
	}
	if second.Applied {
		t.Error("redundant accrual must report AlreadyAccrued")
	}

	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.TotalDays.Equal(days(1.66)) {
		t.Errorf("expected a single increment of 1.66, got total=%s", b.TotalDays)
	}
	if got := txCount(t, mem, "emp-1"); got != 1 {
		t.Errorf("expected exactly 1 ledger entry, got %d", got)
	}
}

func TestAccrue_TwelveMonths_FullYearTotal(t *testing.T) {
	// GIVEN: Rule {rate: 1.66, period: monthly}, fresh employee
	// WHEN: Accruing 2024-01 through 2024-12
	// THEN: total = remaining = 19.92 exactly, 12 ledger entries

	ctx := context.Background()
	e, mem := newTestEngine()
	rule := monthlyRule(1.66)

	for m := time.January; m <= time.December; m++ {
		key := rule.PeriodKeyFor(time.Date(2024, m, 1, 0, 0, 0, 0, time.UTC))
		if out, err := e.AccrueForPeriod(ctx, "emp-1", rule, key); err != nil || !out.Applied {
			t.Fatalf("accrual %s: applied=%v err=%v", key, out.Applied, err)
		}
	}

	b := mustBalance(t, mem, "emp-1", 2024)
	want := days(19.92)
	if !b.TotalDays.Equal(want) || !b.RemainingDays.Equal(want) {
		t.Errorf("expected total=remaining=19.92, got total=%s remaining=%s", b.TotalDays, b.RemainingDays)
	}
	if got := txCount(t, mem, "emp-1"); got != 12 {
		t.Errorf("expected 12 ledger entries, got %d", got)
	}
}

func TestAccrue_YearlyRule_YearKey(t *testing.T) {
	// GIVEN: Yearly rule, 20 days per period
	// WHEN: Accruing with key "2024"
	// THEN: One grant of 20; a "YYYY-MM" key is rejected

	ctx := context.Background()
	e, mem := newTestEngine()
	rule := yearlyRule(20)

	if _, err := e.AccrueForPeriod(ctx, "emp-1", rule, "2024-01"); !errors.Is(err, engine.ErrInvalidPeriodKey) {
		t.Errorf("expected ErrInvalidPeriodKey for monthly key on yearly rule, got %v", err)
	}

	out, err := e.AccrueForPeriod(ctx, "emp-1", rule, "2024")
	if err != nil || !out.Applied {
		t.Fatalf("yearly accrual: applied=%v err=%v", out.Applied, err)
	}
	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.TotalDays.Equal(days(20)) {
		t.Errorf("expected total=20, got %s", b.TotalDays)
	}
}

func TestAccrue_InactiveRule_Rejected(t *testing.T) {
	e, _ := newTestEngine()
	rule := monthlyRule(1.66)
	rule.IsActive = false

	_, err := e.AccrueForPeriod(context.Background(), "emp-1", rule, "2024-01")
	if !errors.Is(err, engine.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

func TestAdjust_Negative_ShrinksRemainingNotTotal(t *testing.T) {
	// GIVEN: Balance {total: 20, remaining: 3} (17 used)
	// WHEN: Adjusting by -2 days
	// THEN: {total: 20, remaining: 1}; one adjusted entry with days = -2

	ctx := context.Background()
	e, mem := newTestEngine()
	seedBalance(t, e, "emp-1", 20)
	if _, err := e.ConsumeForApproval(ctx, engine.ConsumeInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(17), ReferenceID: "leave-8",
	}); err != nil {
		t.Fatalf("setup consumption: %v", err)
	}

	b, err := e.AdjustBalance(ctx, engine.AdjustInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(-2), Reason: "correction", AdjustedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.TotalDays.Equal(days(20)) {
		t.Errorf("negative adjustment must not shrink total, got %s", b.TotalDays)
	}
	if !b.RemainingDays.Equal(days(1)) {
		t.Errorf("expected remaining=1, got %s", b.RemainingDays)
	}
	mustBalance(t, mem, "emp-1", 2024)

	txs, _ := mem.Transactions(ctx, "emp-1", "annual", 2024)
	var adj []engine.Transaction
	for _, tx := range txs {
		if tx.Type == engine.TxAdjusted && tx.Reason == "correction" {
			adj = append(adj, tx)
		}
	}
	if len(adj) != 1 || !adj[0].Days.Equal(days(-2)) {
		t.Errorf("expected one adjusted entry of -2, got %+v", adj)
	}
}

func TestAdjust_NegativeBelowZero_Fails(t *testing.T) {
	// GIVEN: Balance with 3 remaining days
	// WHEN: Adjusting by -5
	// THEN: InsufficientBalance, balance unchanged

	e, mem := newTestEngine()
	seedBalance(t, e, "emp-1", 3)

	_, err := e.AdjustBalance(context.Background(), engine.AdjustInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(-5), Reason: "bad correction", AdjustedBy: "admin-1",
	})
	if !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.RemainingDays.Equal(days(3)) {
		t.Errorf("expected remaining unchanged at 3, got %s", b.RemainingDays)
	}
}

func TestAdjust_Positive_CreatesBalance(t *testing.T) {
	// GIVEN: No balance row
	// WHEN: Positive adjustment of 10
	// THEN: Row created with total=remaining=10

	e, mem := newTestEngine()
	b, err := e.AdjustBalance(context.Background(), engine.AdjustInput{
		EmployeeID: "emp-2", LeaveTypeID: "annual", Days: days(10), Reason: "joining grant", AdjustedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.TotalDays.Equal(days(10)) || !b.RemainingDays.Equal(days(10)) {
		t.Errorf("expected total=remaining=10, got total=%s remaining=%s", b.TotalDays, b.RemainingDays)
	}
	mustBalance(t, mem, "emp-2", 2024)
}

func TestAdjust_Zero_Rejected(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.AdjustBalance(context.Background(), engine.AdjustInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: decimal.Zero, Reason: "noop",
	})
	if !errors.Is(err, engine.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

// =============================================================================
// CARRY FORWARD
// =============================================================================

// seedYear puts a balance with the given remaining days into an arbitrary
// year by accruing with a yearly rule and consuming the difference.
func seedYear(t *testing.T, e *engine.Engine, emp engine.EmployeeID, year int, total, used float64) {
	t.Helper()
	ctx := context.Background()
	rule := yearlyRule(total)
	if out, err := e.AccrueForPeriod(ctx, emp, rule, rule.PeriodKeyFor(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))); err != nil || !out.Applied {
		t.Fatalf("seed accrual: applied=%v err=%v", out.Applied, err)
	}
	if used > 0 {
		// Consumption targets the clock's current year, so temporarily pin it.
		saved := e.Clock
		e.Clock = func() time.Time { return time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC) }
		defer func() { e.Clock = saved }()
		if _, err := e.ConsumeForApproval(ctx, engine.ConsumeInput{
			EmployeeID: emp, LeaveTypeID: "annual", Days: days(used),
			ReferenceID: rule.PeriodKeyFor(time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)) + "-seed-use",
		}); err != nil {
			t.Fatalf("seed consumption: %v", err)
		}
	}
}

func TestCarryForward_CappedAtRuleMax(t *testing.T) {
	// GIVEN: 2023 balance with 15 remaining, rule cap 5
	// WHEN: Carrying 2023 -> 2024
	// THEN: Exactly 5 granted to 2024, 10 expired, source drained to zero

	ctx := context.Background()
	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 5) // remaining 15

	out, err := e.CarryForward(ctx, "emp-1", monthlyRule(1.66), 2023, 2024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied {
		t.Fatal("expected carry-forward to apply")
	}
	if !out.Carried.Equal(days(5)) || !out.Expired.Equal(days(10)) {
		t.Errorf("expected carried=5 expired=10, got carried=%s expired=%s", out.Carried, out.Expired)
	}

	src := mustBalance(t, mem, "emp-1", 2023)
	if !src.RemainingDays.IsZero() {
		t.Errorf("source year must be drained, remaining=%s", src.RemainingDays)
	}

	tgt := mustBalance(t, mem, "emp-1", 2024)
	if !tgt.CarryForwardDays.Equal(days(5)) || !tgt.RemainingDays.Equal(days(5)) {
		t.Errorf("expected 5 carried into 2024, got carry=%s remaining=%s", tgt.CarryForwardDays, tgt.RemainingDays)
	}
}

func TestCarryForward_UnderCap_FullLeftover(t *testing.T) {
	// GIVEN: 2023 remaining 4, cap 5
	// WHEN: Carrying forward
	// THEN: All 4 move, nothing expires

	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 16) // remaining 4

	out, err := e.CarryForward(context.Background(), "emp-1", monthlyRule(1.66), 2023, 2024)
	if err != nil || !out.Applied {
		t.Fatalf("carry-forward: applied=%v err=%v", out.Applied, err)
	}
	if !out.Carried.Equal(days(4)) || !out.Expired.IsZero() {
		t.Errorf("expected carried=4 expired=0, got %s/%s", out.Carried, out.Expired)
	}
	mustBalance(t, mem, "emp-1", 2023)
	mustBalance(t, mem, "emp-1", 2024)
}

func TestCarryForward_NoSourceBalance_NoOp(t *testing.T) {
	// GIVEN: No 2023 balance
	// WHEN: Carrying forward
	// THEN: No-op, no rows created

	e, mem := newTestEngine()
	out, err := e.CarryForward(context.Background(), "emp-1", monthlyRule(1.66), 2023, 2024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Applied {
		t.Error("expected no-op for missing source balance")
	}
	if b, _ := mem.GetBalance(context.Background(), "emp-1", "annual", 2024); b != nil {
		t.Error("no-op carry-forward must not create the target row")
	}
}

func TestCarryForward_Twice_SecondIsNoOp(t *testing.T) {
	// GIVEN: Carry 2023 -> 2024 already applied
	// WHEN: The year-end job reruns
	// THEN: No second grant; target balance unchanged

	ctx := context.Background()
	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 12) // remaining 8, cap 5

	first, err := e.CarryForward(ctx, "emp-1", monthlyRule(1.66), 2023, 2024)
	if err != nil || !first.Applied {
		t.Fatalf("first carry: applied=%v err=%v", first.Applied, err)
	}

	second, err := e.CarryForward(ctx, "emp-1", monthlyRule(1.66), 2023, 2024)
	if err != nil {
		t.Fatalf("redundant carry must not error: %v", err)
	}
	if second.Applied {
		t.Error("redundant carry must be a no-op")
	}

	tgt := mustBalance(t, mem, "emp-1", 2024)
	if !tgt.CarryForwardDays.Equal(days(5)) {
		t.Errorf("expected carry=5 after rerun, got %s", tgt.CarryForwardDays)
	}
}

func TestCarryForward_LedgerEntries_BothSides(t *testing.T) {
	// GIVEN: 2023 remaining 8, cap 5
	// WHEN: Carrying forward
	// THEN: Source year gets carried_forward(-5) and expired(-3); target year
	//       gets carried_forward(+5)

	ctx := context.Background()
	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 12)

	if _, err := e.CarryForward(ctx, "emp-1", monthlyRule(1.66), 2023, 2024); err != nil {
		t.Fatalf("carry-forward: %v", err)
	}

	srcTxs, _ := mem.Transactions(ctx, "emp-1", "annual", 2023)
	var outTx, expTx *engine.Transaction
	for i := range srcTxs {
		switch srcTxs[i].Type {
		case engine.TxCarriedForward:
			outTx = &srcTxs[i]
		case engine.TxExpired:
			expTx = &srcTxs[i]
		}
	}
	if outTx == nil || !outTx.Days.Equal(days(-5)) {
		t.Errorf("expected source carried_forward entry of -5, got %+v", outTx)
	}
	if expTx == nil || !expTx.Days.Equal(days(-3)) {
		t.Errorf("expected source expired entry of -3, got %+v", expTx)
	}

	tgtTxs, _ := mem.Transactions(ctx, "emp-1", "annual", 2024)
	if len(tgtTxs) != 1 || tgtTxs[0].Type != engine.TxCarriedForward || !tgtTxs[0].Days.Equal(days(5)) {
		t.Errorf("expected single target carried_forward entry of +5, got %+v", tgtTxs)
	}
}

func TestCarryForward_TargetBeforeSource_Rejected(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.CarryForward(context.Background(), "emp-1", monthlyRule(1.66), 2024, 2024)
	if !errors.Is(err, engine.ErrInvalidYearRange) {
		t.Fatalf("expected ErrInvalidYearRange, got %v", err)
	}
}

// =============================================================================
// CARRY-FORWARD EXPIRY
// =============================================================================

func TestExpireCarryForward_AfterWindow_RemovesUnused(t *testing.T) {
	// GIVEN: 5 days carried into 2024, expiry window 3 months, none used
	// WHEN: Expiring as of April 1
	// THEN: 5 days expire; remaining and carry go to zero

	ctx := context.Background()
	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 15) // remaining 5, all carried
	rule := monthlyRule(1.66)
	if _, err := e.CarryForward(ctx, "emp-1", rule, 2023, 2024); err != nil {
		t.Fatalf("carry-forward: %v", err)
	}

	out, err := e.ExpireCarryForward(ctx, "emp-1", rule, 2024, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied || !out.Expired.Equal(days(5)) {
		t.Errorf("expected 5 days expired, got applied=%v expired=%s", out.Applied, out.Expired)
	}

	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.CarryForwardDays.IsZero() || !b.RemainingDays.IsZero() {
		t.Errorf("expected carry and remaining at zero, got carry=%s remaining=%s", b.CarryForwardDays, b.RemainingDays)
	}
}

func TestExpireCarryForward_BeforeWindow_NoOp(t *testing.T) {
	// GIVEN: Carried days with a 3-month window
	// WHEN: Expiring as of February 1
	// THEN: Nothing happens

	ctx := context.Background()
	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 15)
	rule := monthlyRule(1.66)
	if _, err := e.CarryForward(ctx, "emp-1", rule, 2023, 2024); err != nil {
		t.Fatalf("carry-forward: %v", err)
	}

	out, err := e.ExpireCarryForward(ctx, "emp-1", rule, 2024, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Applied {
		t.Error("expiry before the window must be a no-op")
	}
	b := mustBalance(t, mem, "emp-1", 2024)
	if !b.CarryForwardDays.Equal(days(5)) {
		t.Errorf("carried days must survive before the window, got %s", b.CarryForwardDays)
	}
}

func TestExpireCarryForward_PartiallyUsed_ExpiresRemainder(t *testing.T) {
	// GIVEN: 5 carried into 2024, then 3 consumed (only carried days present)
	// WHEN: Expiring after the window
	// THEN: Only the unused 2 expire

	ctx := context.Background()
	e, mem := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 15)
	rule := monthlyRule(1.66)
	if _, err := e.CarryForward(ctx, "emp-1", rule, 2023, 2024); err != nil {
		t.Fatalf("carry-forward: %v", err)
	}
	if _, err := e.ConsumeForApproval(ctx, engine.ConsumeInput{
		EmployeeID: "emp-1", LeaveTypeID: "annual", Days: days(3), ReferenceID: "leave-carry-use",
	}); err != nil {
		t.Fatalf("consumption: %v", err)
	}

	out, err := e.ExpireCarryForward(ctx, "emp-1", rule, 2024, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Expired.Equal(days(2)) {
		t.Errorf("expected 2 days expired, got %s", out.Expired)
	}
	mustBalance(t, mem, "emp-1", 2024)
}

func TestExpireCarryForward_Twice_SecondIsNoOp(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	seedYear(t, e, "emp-1", 2023, 20, 15)
	rule := monthlyRule(1.66)
	if _, err := e.CarryForward(ctx, "emp-1", rule, 2023, 2024); err != nil {
		t.Fatalf("carry-forward: %v", err)
	}

	april := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	if out, err := e.ExpireCarryForward(ctx, "emp-1", rule, 2024, april); err != nil || !out.Applied {
		t.Fatalf("first expiry: applied=%v err=%v", out.Applied, err)
	}
	out, err := e.ExpireCarryForward(ctx, "emp-1", rule, 2024, april)
	if err != nil {
		t.Fatalf("redundant expiry must not error: %v", err)
	}
	if out.Applied {
		t.Error("redundant expiry must be a no-op")
	}
}

// =============================================================================
// CONCURRENCY / STORE CONTRACT
// =============================================================================

func TestSaveBalance_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: A balance row at version 1
	// WHEN: Two writers save the version-0 read
	// THEN: The second write fails with ErrConcurrentModification

	ctx := context.Background()
	mem := store.NewTxMemory()
	b := engine.NewBalance("emp-1", "annual", 2024)

	if err := mem.SaveBalance(ctx, b); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	err := mem.SaveBalance(ctx, b) // stale: row is at version 1 now
	if !errors.Is(err, engine.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestWithTx_ErrorRollsBackEverything(t *testing.T) {
	// GIVEN: A transaction that writes a balance and an entry then fails
	// WHEN: WithTx returns the error
	// THEN: Neither write is visible

	ctx := context.Background()
	mem := store.NewTxMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(s engine.Store) error {
		if err := s.SaveBalance(ctx, engine.NewBalance("emp-1", "annual", 2024)); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, engine.Transaction{
			ID: "tx-1", EmployeeID: "emp-1", LeaveTypeID: "annual", Year: 2024,
			Type: engine.TxAccrual, Days: days(1), IdempotencyKey: "k-1",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if b, _ := mem.GetBalance(ctx, "emp-1", "annual", 2024); b != nil {
		t.Error("balance write must roll back")
	}
	if ok, _ := mem.HasTransactionKey(ctx, "k-1"); ok {
		t.Error("ledger write must roll back")
	}
}
