/*
Package factory converts JSON accrual-rule documents into typed engine rules.

PURPOSE:
  Rule configuration arrives as untyped JSON - from a seed file at startup or
  from the admin API. This package is the boundary-validation step: it parses
  the document into engine.AccrualRule values, failing fast with a typed
  RuleDocumentError on any mismatch, so the rest of the system never handles
  loosely-shaped input.

JSON SCHEMA:
  {
    "rules": [
      {
        "leave_type_id": "annual",
        "name": "Annual Leave",
        "accrual_rate": 1.66,
        "accrual_period": "monthly",
        "max_carry_forward": 5,
        "carry_forward_expiry_months": 3,
        "is_active": true
      }
    ]
  }

DEFAULTS:
  - accrual_period defaults to "monthly"
  - is_active defaults to true (a rule you bother to write is live)
  - max_carry_forward and carry_forward_expiry_months default to 0
    (no carry-forward, no expiry)

SEE ALSO:
  - engine/rule.go: AccrualRule and its Validate method
  - cmd/server/main.go: seed-file loading
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidehr/leave-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleDocument is the top-level JSON document.
type RuleDocument struct {
	Rules []RuleJSON `json:"rules"`
}

// RuleJSON is the JSON representation of one accrual rule.
type RuleJSON struct {
	LeaveTypeID              string   `json:"leave_type_id"`
	Name                     string   `json:"name,omitempty"`
	AccrualRate              float64  `json:"accrual_rate"`
	AccrualPeriod            string   `json:"accrual_period,omitempty"`
	MaxCarryForward          float64  `json:"max_carry_forward,omitempty"`
	CarryForwardExpiryMonths int      `json:"carry_forward_expiry_months,omitempty"`
	IsActive                 *bool    `json:"is_active,omitempty"`
}

// RuleDocumentError pinpoints which rule in the document failed validation.
type RuleDocumentError struct {
	Index       int    // position in the rules array
	LeaveTypeID string // may be empty when that is the problem
	Err         error
}

func (e *RuleDocumentError) Error() string {
	if e.LeaveTypeID != "" {
		return fmt.Sprintf("rule %d (%s): %v", e.Index, e.LeaveTypeID, e.Err)
	}
	return fmt.Sprintf("rule %d: %v", e.Index, e.Err)
}

func (e *RuleDocumentError) Unwrap() error { return e.Err }

// =============================================================================
// PARSING
// =============================================================================

// ParseRules parses and validates a rule document. Returns the typed rules or
// a RuleDocumentError for the first invalid entry. Duplicate leave types are
// rejected: a leave type has exactly one rule.
func ParseRules(data []byte) ([]engine.AccrualRule, error) {
	var doc RuleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed rule document: %v", engine.ErrInvalidRule, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("%w: document contains no rules", engine.ErrInvalidRule)
	}

	seen := make(map[engine.LeaveTypeID]bool, len(doc.Rules))
	rules := make([]engine.AccrualRule, 0, len(doc.Rules))
	for i, rj := range doc.Rules {
		rule, err := ParseRule(rj)
		if err != nil {
			return nil, &RuleDocumentError{Index: i, LeaveTypeID: rj.LeaveTypeID, Err: err}
		}
		if seen[rule.LeaveTypeID] {
			return nil, &RuleDocumentError{
				Index:       i,
				LeaveTypeID: rj.LeaveTypeID,
				Err:         fmt.Errorf("%w: duplicate rule for leave type", engine.ErrInvalidRule),
			}
		}
		seen[rule.LeaveTypeID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// ParseRule converts a single JSON rule, applying defaults and validating.
func ParseRule(rj RuleJSON) (engine.AccrualRule, error) {
	period := engine.AccrualPeriod(rj.AccrualPeriod)
	if rj.AccrualPeriod == "" {
		period = engine.PerMonth
	}
	active := true
	if rj.IsActive != nil {
		active = *rj.IsActive
	}

	rule := engine.AccrualRule{
		LeaveTypeID:              engine.LeaveTypeID(rj.LeaveTypeID),
		Name:                     rj.Name,
		AccrualRate:              decimal.NewFromFloat(rj.AccrualRate),
		AccrualPeriod:            period,
		MaxCarryForward:          decimal.NewFromFloat(rj.MaxCarryForward),
		CarryForwardExpiryMonths: rj.CarryForwardExpiryMonths,
		IsActive:                 active,
	}
	if err := rule.Validate(); err != nil {
		return engine.AccrualRule{}, err
	}
	return rule, nil
}

// MarshalRule converts a typed rule back to its JSON form for API responses.
func MarshalRule(rule engine.AccrualRule) RuleJSON {
	active := rule.IsActive
	rate, _ := rule.AccrualRate.Float64()
	cap_, _ := rule.MaxCarryForward.Float64()
	return RuleJSON{
		LeaveTypeID:              string(rule.LeaveTypeID),
		Name:                     rule.Name,
		AccrualRate:              rate,
		AccrualPeriod:            string(rule.AccrualPeriod),
		MaxCarryForward:          cap_,
		CarryForwardExpiryMonths: rule.CarryForwardExpiryMonths,
		IsActive:                 &active,
	}
}
