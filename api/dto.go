/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (required fields, positive amounts, well-formed
  period keys) happens in the handlers before anything reaches the engine,
  so malformed payloads fail with 400 instead of surfacing as storage
  errors. Domain validation (balance bounds, idempotency) stays in the
  engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rules.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidehr/leave-engine/engine"
	"github.com/tidehr/leave-engine/factory"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	HireDate  string `json:"hire_date"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create or update an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	HireDate string `json:"hire_date"` // ISO date
}

// BalanceDTO represents a balance row in API responses.
type BalanceDTO struct {
	EmployeeID       string  `json:"employee_id"`
	LeaveTypeID      string  `json:"leave_type_id"`
	Year             int     `json:"year"`
	TotalDays        float64 `json:"total_days"`
	UsedDays         float64 `json:"used_days"`
	RemainingDays    float64 `json:"remaining_days"`
	CarryForwardDays float64 `json:"carry_forward_days"`
	IsActive         bool    `json:"is_active"`
	LastUpdated      string  `json:"last_updated,omitempty"`
}

// TransactionDTO represents a ledger entry.
type TransactionDTO struct {
	ID          string  `json:"id"`
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Type        string  `json:"type"`
	Days        float64 `json:"days"`
	Reason      string  `json:"reason,omitempty"`
	ReferenceID string  `json:"reference_id,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
}

// ApprovalRequest books an approved leave request against a balance.
type ApprovalRequest struct {
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Days        float64 `json:"days"`
	ReferenceID string  `json:"reference_id"`
	ApprovedBy  string  `json:"approved_by,omitempty"`
}

// AccrualRequest credits one accrual period for an employee.
type AccrualRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	PeriodKey   string `json:"period_key"` // "2024" or "2024-03" per the rule's period
}

// AccrualResponse reports whether the accrual was applied or had already
// happened for that period.
type AccrualResponse struct {
	Applied bool       `json:"applied"`
	Balance BalanceDTO `json:"balance"`
}

// AdjustmentRequest is a manual HR correction, positive or negative.
type AdjustmentRequest struct {
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Days        float64 `json:"days"`
	Reason      string  `json:"reason"`
	AdjustedBy  string  `json:"adjusted_by,omitempty"`
}

// CarryForwardRequest moves one employee's leftover days across years.
type CarryForwardRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	FromYear    int    `json:"from_year"`
	ToYear      int    `json:"to_year"`
}

// CarryForwardResponse reports what moved and what fell off the cap.
type CarryForwardResponse struct {
	Applied bool    `json:"applied"`
	Carried float64 `json:"carried"`
	Expired float64 `json:"expired"`
}

// ExpireRequest runs carry-forward expiry for one employee and year.
type ExpireRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	Year        int    `json:"year"`
	AsOf        string `json:"as_of,omitempty"` // ISO date; empty = now
}

// ExpireResponse reports removed carry-forward days.
type ExpireResponse struct {
	Applied bool    `json:"applied"`
	Expired float64 `json:"expired"`
}

// DeactivateRequest soft-deletes a balance row.
type DeactivateRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	Year        int    `json:"year"`
}

// RuleDTO represents an accrual rule in API responses.
type RuleDTO struct {
	Rule factory.RuleJSON `json:"rule"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBalanceDTO(b engine.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:       string(b.EmployeeID),
		LeaveTypeID:      string(b.LeaveTypeID),
		Year:             b.Year,
		TotalDays:        b.TotalDays.InexactFloat64(),
		UsedDays:         b.UsedDays.InexactFloat64(),
		RemainingDays:    b.RemainingDays.InexactFloat64(),
		CarryForwardDays: b.CarryForwardDays.InexactFloat64(),
		IsActive:         b.IsActive,
		LastUpdated:      b.LastUpdated.Format(time.RFC3339),
	}
}

func toBalanceDTOs(balances []engine.Balance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	return dtos
}

func toTransactionDTO(tx engine.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		EmployeeID:  string(tx.EmployeeID),
		LeaveTypeID: string(tx.LeaveTypeID),
		Year:        tx.Year,
		Type:        string(tx.Type),
		Days:        tx.Days.InexactFloat64(),
		Reason:      tx.Reason,
		ReferenceID: tx.ReferenceID,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		CreatedBy:   tx.CreatedBy,
	}
}

func toTransactionDTOs(txs []engine.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toEmployeeDTO(emp engine.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        string(emp.ID),
		Name:      emp.Name,
		Email:     emp.Email,
		HireDate:  emp.HireDate.Format("2006-01-02"),
		CreatedAt: emp.CreatedAt.Format(time.RFC3339),
	}
}

func daysFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
