/*
scheduler.go - Automated accrual and year-boundary scheduler

PURPOSE:
  Periodically runs the engine's time-driven operations for every employee
  and every active rule:
  - Credits the current accrual period (monthly or yearly)
  - Carries forward the previous year's leftover days
  - Expires carried-forward days once the rule's window has passed

DESIGN:
  Every operation is idempotent (period keys and idempotency keys dedupe
  repeats), so the scheduler just re-runs the full sweep on every tick.
  A crashed or doubled run re-applies nothing.

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(handler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/engine.go: AccrueForPeriod, CarryForward, ExpireCarryForward
  - handlers.go: The same operations triggered per-request
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidehr/leave-engine/engine"
)

// AccrualScheduler drives periodic accrual and year-boundary processing.
type AccrualScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(handler *Handler, logger *slog.Logger) *AccrualScheduler {
	return &AccrualScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.logger.Info("scheduler started", slog.Duration("check_interval", s.CheckInterval))
}

// Stop stops the scheduler.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	}
}

func (s *AccrualScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep runs all time-driven processing for all employees and rules.
func (s *AccrualScheduler) sweep() {
	ctx := context.Background()
	now := time.Now()

	employees, err := s.Handler.Store.ListEmployees(ctx)
	if err != nil {
		s.logger.Error("scheduler: failed to list employees", slog.Any("error", err))
		return
	}

	rules, err := s.Handler.Store.ListRules(ctx)
	if err != nil {
		s.logger.Error("scheduler: failed to list rules", slog.Any("error", err))
		return
	}

	var accrued, carried, expired int
	for _, emp := range employees {
		for _, rule := range rules {
			if !rule.IsActive {
				continue
			}

			if s.accrueCurrentPeriod(ctx, emp.ID, rule, now) {
				accrued++
			}
			if s.rolloverPreviousYear(ctx, emp.ID, rule, now) {
				carried++
			}
			if s.expireCarryForward(ctx, emp.ID, rule, now) {
				expired++
			}
		}
	}

	if accrued > 0 || carried > 0 || expired > 0 {
		s.logger.Info("scheduler sweep completed",
			slog.Int("accruals_applied", accrued),
			slog.Int("carry_forwards_applied", carried),
			slog.Int("expirations_applied", expired),
		)
	}
}

func (s *AccrualScheduler) accrueCurrentPeriod(ctx context.Context, employeeID engine.EmployeeID, rule engine.AccrualRule, now time.Time) bool {
	periodKey := rule.PeriodKeyFor(now)

	out, err := s.Handler.Engine.AccrueForPeriod(ctx, employeeID, rule, periodKey)
	if err != nil {
		s.logger.Error("scheduler: accrual failed",
			slog.String("employee_id", string(employeeID)),
			slog.String("leave_type_id", string(rule.LeaveTypeID)),
			slog.String("period_key", periodKey),
			slog.Any("error", err),
		)
		return false
	}
	return out.Applied
}

func (s *AccrualScheduler) rolloverPreviousYear(ctx context.Context, employeeID engine.EmployeeID, rule engine.AccrualRule, now time.Time) bool {
	fromYear := now.Year() - 1

	out, err := s.Handler.Engine.CarryForward(ctx, employeeID, rule, fromYear, now.Year())
	if err != nil {
		s.logger.Error("scheduler: carry-forward failed",
			slog.String("employee_id", string(employeeID)),
			slog.String("leave_type_id", string(rule.LeaveTypeID)),
			slog.Int("from_year", fromYear),
			slog.Any("error", err),
		)
		return false
	}
	return out.Applied
}

func (s *AccrualScheduler) expireCarryForward(ctx context.Context, employeeID engine.EmployeeID, rule engine.AccrualRule, now time.Time) bool {
	out, err := s.Handler.Engine.ExpireCarryForward(ctx, employeeID, rule, now.Year(), now)
	if err != nil {
		s.logger.Error("scheduler: carry-forward expiry failed",
			slog.String("employee_id", string(employeeID)),
			slog.String("leave_type_id", string(rule.LeaveTypeID)),
			slog.Int("year", now.Year()),
			slog.Any("error", err),
		)
		return false
	}
	return out.Applied
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *AccrualScheduler) RunNow() {
	s.sweep()
}
