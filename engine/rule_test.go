package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidehr/leave-engine/engine"
)

func TestPeriodKeyFor_MonthlyRule(t *testing.T) {
	rule := monthlyRule(1.66)

	cases := []struct {
		asOf time.Time
		want string
	}{
		{time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC), "2024-03"},
		{time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), "2024-01"},
		{time.Date(2023, time.December, 31, 23, 59, 59, 0, time.UTC), "2023-12"},
	}
	for _, c := range cases {
		if got := rule.PeriodKeyFor(c.asOf); got != c.want {
			t.Errorf("PeriodKeyFor(%v) = %q, want %q", c.asOf, got, c.want)
		}
	}
}

func TestPeriodKeyFor_YearlyRule(t *testing.T) {
	rule := yearlyRule(20)

	if got := rule.PeriodKeyFor(time.Date(2024, time.July, 4, 0, 0, 0, 0, time.UTC)); got != "2024" {
		t.Errorf("PeriodKeyFor = %q, want 2024", got)
	}
}

func TestParsePeriodKey_RoundTrip(t *testing.T) {
	monthly := monthlyRule(1.66)
	year, err := monthly.ParsePeriodKey("2024-03")
	if err != nil || year != 2024 {
		t.Errorf("ParsePeriodKey(2024-03) = %d, %v", year, err)
	}

	yearly := yearlyRule(20)
	year, err = yearly.ParsePeriodKey("2024")
	if err != nil || year != 2024 {
		t.Errorf("ParsePeriodKey(2024) = %d, %v", year, err)
	}
}

func TestParsePeriodKey_Mismatch(t *testing.T) {
	cases := []struct {
		rule engine.AccrualRule
		key  string
	}{
		{monthlyRule(1.66), "2024"},       // yearly key on monthly rule
		{yearlyRule(20), "2024-03"},       // monthly key on yearly rule
		{monthlyRule(1.66), "2024-13"},    // no such month
		{monthlyRule(1.66), "march-2024"}, // garbage
		{yearlyRule(20), ""},
	}
	for _, c := range cases {
		if _, err := c.rule.ParsePeriodKey(c.key); !errors.Is(err, engine.ErrInvalidPeriodKey) {
			t.Errorf("ParsePeriodKey(%q) on %s rule: expected ErrInvalidPeriodKey, got %v",
				c.key, c.rule.AccrualPeriod, err)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	valid := monthlyRule(1.66)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*engine.AccrualRule)
	}{
		{"missing leave type", func(r *engine.AccrualRule) { r.LeaveTypeID = "" }},
		{"zero rate", func(r *engine.AccrualRule) { r.AccrualRate = decimal.Zero }},
		{"negative rate", func(r *engine.AccrualRule) { r.AccrualRate = decimal.NewFromInt(-1) }},
		{"unknown period", func(r *engine.AccrualRule) { r.AccrualPeriod = "weekly" }},
		{"negative cap", func(r *engine.AccrualRule) { r.MaxCarryForward = decimal.NewFromInt(-1) }},
		{"negative expiry", func(r *engine.AccrualRule) { r.CarryForwardExpiryMonths = -1 }},
	}
	for _, c := range cases {
		rule := monthlyRule(1.66)
		c.mutate(&rule)
		if err := rule.Validate(); !errors.Is(err, engine.ErrInvalidRule) {
			t.Errorf("%s: expected ErrInvalidRule, got %v", c.name, err)
		}
	}
}

func TestPeriodsPerYear(t *testing.T) {
	if got := monthlyRule(1.66).PeriodsPerYear(); got != 12 {
		t.Errorf("monthly rule: expected 12 periods, got %d", got)
	}
	if got := yearlyRule(20).PeriodsPerYear(); got != 1 {
		t.Errorf("yearly rule: expected 1 period, got %d", got)
	}
}
