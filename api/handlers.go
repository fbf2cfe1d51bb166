/*
handlers.go - HTTP handler implementations

PURPOSE:
  Implements all API endpoints. Handlers validate payload structure, call
  the engine or stores, and translate domain errors into HTTP statuses.

ERROR MAPPING:
  400: malformed payload, non-positive amounts, bad period keys
  404: missing balance, employee, or rule
  409: insufficient balance, duplicate reference, write conflict
  422: structurally valid rule document that fails domain validation
  500: everything else

  A repeated accrual for the same period is NOT an error: it returns 200
  with {"applied": false} so schedulers can retry blindly.

SEE ALSO:
  - dto.go: Request/response types
  - server.go: Route wiring
  - engine/engine.go: The operations these handlers front
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidehr/leave-engine/engine"
	"github.com/tidehr/leave-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage surface the API needs: the engine's transactional
// store plus rule and employee registries. Both the SQLite and PostgreSQL
// stores satisfy it.
type Backend interface {
	engine.TxStore
	engine.RuleStore
	engine.EmployeeStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Store  Backend
}

// NewHandler creates a new handler with the given backend.
func NewHandler(store Backend) *Handler {
	return &Handler{
		Engine: engine.NewEngine(store),
		Store:  store,
	}
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

// HandleApproval books an approved leave request against the employee's
// current-year balance.
func (h *Handler) HandleApproval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LeaveTypeID == "" || req.ReferenceID == "" {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type_id, and reference_id are required", nil)
		return
	}
	if req.Days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be positive", nil)
		return
	}

	balance, err := h.Engine.ConsumeForApproval(r.Context(), engine.ConsumeInput{
		EmployeeID:  engine.EmployeeID(req.EmployeeID),
		LeaveTypeID: engine.LeaveTypeID(req.LeaveTypeID),
		Days:        daysFromFloat(req.Days),
		ReferenceID: req.ReferenceID,
		ApprovedBy:  req.ApprovedBy,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// HandleAccrual credits one accrual period. The rule comes from the rule
// store keyed by leave type.
func (h *Handler) HandleAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LeaveTypeID == "" || req.PeriodKey == "" {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type_id, and period_key are required", nil)
		return
	}

	rule, err := h.Store.GetRule(r.Context(), engine.LeaveTypeID(req.LeaveTypeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule", err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "no accrual rule for leave type", engine.ErrRuleNotFound)
		return
	}

	out, err := h.Engine.AccrueForPeriod(r.Context(), engine.EmployeeID(req.EmployeeID), *rule, req.PeriodKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccrualResponse{
		Applied: out.Applied,
		Balance: toBalanceDTO(out.Balance),
	})
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// HandleAdjustment applies a manual HR correction.
func (h *Handler) HandleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LeaveTypeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id and leave_type_id are required", nil)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required for adjustments", nil)
		return
	}

	balance, err := h.Engine.AdjustBalance(r.Context(), engine.AdjustInput{
		EmployeeID:  engine.EmployeeID(req.EmployeeID),
		LeaveTypeID: engine.LeaveTypeID(req.LeaveTypeID),
		Days:        daysFromFloat(req.Days),
		Reason:      req.Reason,
		AdjustedBy:  req.AdjustedBy,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// HandleCarryForward moves one employee's leftover days across a year
// boundary, capped by the rule.
func (h *Handler) HandleCarryForward(w http.ResponseWriter, r *http.Request) {
	var req CarryForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LeaveTypeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id and leave_type_id are required", nil)
		return
	}

	rule, err := h.Store.GetRule(r.Context(), engine.LeaveTypeID(req.LeaveTypeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule", err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "no accrual rule for leave type", engine.ErrRuleNotFound)
		return
	}

	out, err := h.Engine.CarryForward(r.Context(), engine.EmployeeID(req.EmployeeID), *rule, req.FromYear, req.ToYear)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CarryForwardResponse{
		Applied: out.Applied,
		Carried: out.Carried.InexactFloat64(),
		Expired: out.Expired.InexactFloat64(),
	})
}

// HandleExpire removes unused carried-forward days past the rule's expiry
// window.
func (h *Handler) HandleExpire(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LeaveTypeID == "" || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type_id, and year are required", nil)
		return
	}

	asOf := time.Now()
	if req.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be an ISO date (YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	rule, err := h.Store.GetRule(r.Context(), engine.LeaveTypeID(req.LeaveTypeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rule", err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "no accrual rule for leave type", engine.ErrRuleNotFound)
		return
	}

	out, err := h.Engine.ExpireCarryForward(r.Context(), engine.EmployeeID(req.EmployeeID), *rule, req.Year, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ExpireResponse{
		Applied: out.Applied,
		Expired: out.Expired.InexactFloat64(),
	})
}

// HandleDeactivate soft-deletes a balance row.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EmployeeID == "" || req.LeaveTypeID == "" || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "employee_id, leave_type_id, and year are required", nil)
		return
	}

	err := h.Store.DeactivateBalance(r.Context(),
		engine.EmployeeID(req.EmployeeID), engine.LeaveTypeID(req.LeaveTypeID), req.Year)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, emp := range employees {
		dtos[i] = toEmployeeDTO(emp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(r.Context(), engine.EmployeeID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "employee not found", engine.ErrEmployeeNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or updates an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	hireDate := time.Now()
	if req.HireDate != "" {
		parsed, err := time.Parse("2006-01-02", req.HireDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "hire_date must be an ISO date (YYYY-MM-DD)", err)
			return
		}
		hireDate = parsed
	}

	emp := engine.Employee{
		ID:        engine.EmployeeID(req.ID),
		Name:      req.Name,
		Email:     req.Email,
		HireDate:  hireDate,
		CreatedAt: time.Now(),
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetBalances returns an employee's active balances, optionally filtered by
// ?year=.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	year := 0
	if y := r.URL.Query().Get("year"); y != "" {
		parsed, err := strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be an integer", err)
			return
		}
		year = parsed
	}

	balances, err := h.Store.ListBalances(r.Context(), engine.EmployeeID(id), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list balances", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// GetTransactions returns an employee's ledger for a leave type, optionally
// filtered by ?year=. The leave type is required: the ledger is indexed by
// (employee, leave type).
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	leaveType := r.URL.Query().Get("leave_type")
	if leaveType == "" {
		writeError(w, http.StatusBadRequest, "leave_type query parameter is required", nil)
		return
	}

	year := 0
	if y := r.URL.Query().Get("year"); y != "" {
		parsed, err := strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be an integer", err)
			return
		}
		year = parsed
	}

	txs, err := h.Store.Transactions(r.Context(), engine.EmployeeID(id), engine.LeaveTypeID(leaveType), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all accrual rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = factory.MarshalRule(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns the rule for a leave type.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	leaveType := chi.URLParam(r, "leaveType")

	rule, err := h.Store.GetRule(r.Context(), engine.LeaveTypeID(leaveType))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "rule not found", engine.ErrRuleNotFound)
		return
	}

	writeJSON(w, http.StatusOK, factory.MarshalRule(*rule))
}

// PutRule creates or replaces a rule from its JSON form.
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := factory.ParseRule(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid rule", err)
		return
	}

	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save rule", err)
		return
	}

	writeJSON(w, http.StatusOK, factory.MarshalRule(rule))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""

	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidPeriodKey),
		errors.Is(err, engine.ErrInvalidYearRange),
		errors.Is(err, engine.ErrInvalidRule):
		status = http.StatusBadRequest
		code = "invalid_request"
	case engine.IsNotFound(err):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, engine.ErrInsufficientBalance):
		status = http.StatusConflict
		code = "insufficient_balance"
	case errors.Is(err, engine.ErrDuplicateIdempotencyKey):
		status = http.StatusConflict
		code = "duplicate_reference"
	case errors.Is(err, engine.ErrConcurrentModification):
		status = http.StatusConflict
		code = "write_conflict"
	}

	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}
