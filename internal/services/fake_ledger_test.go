package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
	"ledgercache/internal/log"
)

var errDiskOnFire = errors.New("disk on fire")

// fakeLedger is a hand-written ledger.Reader with per-day data, failures and
// an optional hook that runs inside every fetch.
type fakeLedger struct {
	mu       sync.Mutex
	expenses map[core.DayKey][]core.Expense
	balance  decimal.Decimal
	fail     map[core.DayKey]bool
	hook     func(core.DayKey)
	calls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		expenses: map[core.DayKey][]core.Expense{},
		balance:  decimal.RequireFromString("42.50"),
		fail:     map[core.DayKey]bool{},
	}
}

func (f *fakeLedger) set(key core.DayKey, expenses ...core.Expense) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expenses[key] = expenses
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLedger) enter(key core.DayKey) error {
	f.mu.Lock()
	f.calls++
	hook, failing := f.hook, f.fail[key]
	f.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if failing {
		return errDiskOnFire
	}
	return nil
}

func (f *fakeLedger) ExpensesForDay(_ context.Context, day time.Time) ([]core.Expense, error) {
	key := core.KeyOf(day)
	f.mu.Lock()
	snapshot := append([]core.Expense{}, f.expenses[key]...)
	f.mu.Unlock()

	// The hook runs after the read so a blocked fetch holds a stale value.
	if err := f.enter(key); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (f *fakeLedger) BalanceForDay(_ context.Context, day time.Time) (decimal.Decimal, error) {
	if err := f.enter(core.KeyOf(day)); err != nil {
		return decimal.Zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

var utc = core.NewCalendar(time.UTC, time.UTC)

func march(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func marchKey(d int) core.DayKey {
	return core.DayKey{Year: 2024, Month: time.March, Day: d}
}

// startedCache returns a running cache that is stopped at test cleanup.
func startedCache(t *testing.T, reader *fakeLedger) *DayCache {
	t.Helper()
	c := NewDayCache(reader, utc, log.Discard())
	startCache(t, c)
	return c
}

func startCache(t *testing.T, c *DayCache) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start cache: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		c.Stop(stopCtx)
		cancel()
	})
}

func flushCache(t *testing.T, c *DayCache) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
