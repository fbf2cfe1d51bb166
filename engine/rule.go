/*
rule.go - Accrual rule configuration and period-key resolution

PURPOSE:
  An AccrualRule is the read-only contract for one leave type: how many days
  accrue per period, how often, how much may carry into the next year, and
  when carried days expire. The engine consults rules; it never mutates them.

PERIOD KEYS:
  The accrual idempotency key embeds a period key: "YYYY" for yearly rules,
  "YYYY-MM" for monthly rules. PeriodKeyFor is a pure date function - the one
  place this formatting lives - so a scheduler and a manual admin call can
  never disagree about what "March 2024" is called.
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCRUAL RULE - Per-leave-type configuration
// =============================================================================

type AccrualPeriod string

const (
	PerMonth AccrualPeriod = "monthly"
	PerYear  AccrualPeriod = "yearly"
)

// AccrualRule configures accrual and carry-forward for one leave type.
type AccrualRule struct {
	LeaveTypeID LeaveTypeID
	Name        string

	// Days credited per accrual period. Must be positive.
	AccrualRate decimal.Decimal

	// How often AccrualRate is credited.
	AccrualPeriod AccrualPeriod

	// Maximum days that may carry into the next year. Zero disables
	// carry-forward entirely.
	MaxCarryForward decimal.Decimal

	// Months into the new year after which unused carried days expire.
	// Zero means carried days never expire.
	CarryForwardExpiryMonths int

	IsActive bool
}

// Validate checks the rule's internal consistency.
func (r AccrualRule) Validate() error {
	if r.LeaveTypeID == "" {
		return fmt.Errorf("%w: missing leave type id", ErrInvalidRule)
	}
	if !r.AccrualRate.IsPositive() {
		return fmt.Errorf("%w: accrual rate must be positive, got %s", ErrInvalidRule, r.AccrualRate)
	}
	if r.AccrualPeriod != PerMonth && r.AccrualPeriod != PerYear {
		return fmt.Errorf("%w: unknown accrual period %q", ErrInvalidRule, r.AccrualPeriod)
	}
	if r.MaxCarryForward.IsNegative() {
		return fmt.Errorf("%w: max carry-forward must be >= 0", ErrInvalidRule)
	}
	if r.CarryForwardExpiryMonths < 0 {
		return fmt.Errorf("%w: carry-forward expiry months must be >= 0", ErrInvalidRule)
	}
	return nil
}

// =============================================================================
// PERIOD KEYS - Idempotency keys for accrual application
// =============================================================================

// PeriodKeyFor returns the period key containing asOf: "YYYY-MM" for monthly
// rules, "YYYY" for yearly rules. Pure function of the rule and date.
func (r AccrualRule) PeriodKeyFor(asOf time.Time) string {
	if r.AccrualPeriod == PerMonth {
		return asOf.UTC().Format("2006-01")
	}
	return asOf.UTC().Format("2006")
}

// ParsePeriodKey validates key against the rule's accrual period and returns
// the calendar year the key belongs to.
func (r AccrualRule) ParsePeriodKey(key string) (int, error) {
	layout := "2006"
	if r.AccrualPeriod == PerMonth {
		layout = "2006-01"
	}
	t, err := time.Parse(layout, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %q does not match %s rule", ErrInvalidPeriodKey, key, r.AccrualPeriod)
	}
	return t.Year(), nil
}

// PeriodsPerYear returns how many accrual applications a full year holds.
func (r AccrualRule) PeriodsPerYear() int {
	if r.AccrualPeriod == PerMonth {
		return 12
	}
	return 1
}
