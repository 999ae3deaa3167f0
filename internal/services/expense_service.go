package services

import (
	"context"
	"fmt"
	"time"

	"ledgercache/internal/amqp"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
)

type (
	// DayRefresher is the part of the day cache the write path pushes into.
	DayRefresher interface {
		RefreshDay(ctx context.Context, day time.Time) error
	}

	// InvalidationPublisher fans a change out to other cache instances.
	InvalidationPublisher interface {
		PublishInvalidation(ctx context.Context, msg *amqp.InvalidationMessage) error
	}
)

// ExpenseService orchestrates ledger writes, cache refreshes and change
// notifications. The publisher is optional.
type ExpenseService struct {
	store     ledger.Writer
	cache     DayRefresher
	publisher InvalidationPublisher
	cal       core.Calendar
	logger    *log.Logger
}

func NewExpenseService(store ledger.Writer, cache DayRefresher, publisher InvalidationPublisher, cal core.Calendar, logger *log.Logger) *ExpenseService {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentExpense)
	}
	return &ExpenseService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		cal:       cal,
		logger:    logger.WithComponent(log.ComponentExpense),
	}
}

// AddExpense stores e and refreshes its day before returning.
func (s *ExpenseService) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	e.Date = core.Date{Time: s.cal.LocalDay(e.Date.Time)}

	stored, err := s.store.Append(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense created",
		log.NewFields().WithExpense(stored).WithOperation(log.OpCreate).ToSlice()...)

	return stored, s.changed(ctx, stored.Date.Time)
}

// UpdateExpense replaces an existing entry. When the date moves, both the old
// and the new day are refreshed.
func (s *ExpenseService) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.Date = core.Date{Time: s.cal.LocalDay(e.Date.Time)}

	previous, err := s.store.Get(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("load expense: %w", err)
	}
	if err := s.store.Update(ctx, e); err != nil {
		return fmt.Errorf("update expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense updated",
		log.NewFields().WithExpense(e).WithOperation(log.OpUpdate).ToSlice()...)

	days := []time.Time{e.Date.Time}
	if s.cal.ReferenceKey(previous.Date.Time) != s.cal.ReferenceKey(e.Date.Time) {
		days = append(days, previous.Date.Time)
	}
	return s.changed(ctx, days...)
}

func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	previous, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load expense: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense deleted",
		log.NewFields().WithExpense(previous).WithOperation(log.OpDelete).ToSlice()...)

	return s.changed(ctx, previous.Date.Time)
}

// changed refreshes the local cache synchronously, then notifies other
// instances. Notification failures are logged only: the write itself and the
// local cache are already consistent.
func (s *ExpenseService) changed(ctx context.Context, days ...time.Time) error {
	for _, day := range days {
		if s.cache != nil {
			if err := s.cache.RefreshDay(ctx, day); err != nil {
				return fmt.Errorf("refresh cache: %w", err)
			}
		}
		s.publish(ctx, amqp.NewDayInvalidation(s.cal.ReferenceKey(day)))
	}
	return nil
}

func (s *ExpenseService) publish(ctx context.Context, msg *amqp.InvalidationMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishInvalidation(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish invalidation message",
			log.FieldScope, string(msg.Scope), log.FieldDay, msg.Day, log.FieldError, err)
	}
}
