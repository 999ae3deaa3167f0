// Package memory is an in-process ledger used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
)

type Store struct {
	mu     sync.RWMutex
	nextID int64
	items  []core.Expense
}

func New() *Store {
	return &Store{nextID: 1}
}

// Append stores the expense and assigns it an ID.
func (s *Store) Append(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.items = append(s.items, e)
	return e, nil
}

func (s *Store) Update(_ context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(e.ID)
	if i < 0 {
		return fmt.Errorf("update expense %d: %w", e.ID, ledger.ErrNotFound)
	}
	s.items[i] = e
	return nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("delete expense %d: %w", id, ledger.ErrNotFound)
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

func (s *Store) Get(_ context.Context, id int64) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, ledger.ErrNotFound)
	}
	return s.items[i], nil
}

// ExpensesForDay returns the entries whose date falls on day's calendar day.
func (s *Store) ExpensesForDay(_ context.Context, day time.Time) ([]core.Expense, error) {
	key := core.KeyOf(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Expense{}
	for _, e := range s.items {
		if core.KeyOf(e.Date.Time) == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) BalanceForDay(_ context.Context, day time.Time) (decimal.Decimal, error) {
	limit := core.KeyOf(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, e := range s.items {
		if !core.KeyOf(e.Date.Time).After(limit) {
			sum += e.Amount.Cents
		}
	}
	return core.BalanceFromCents(sum), nil
}

func (s *Store) indexOf(id int64) int {
	for i, e := range s.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}
