package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/cache"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
	"ledgercache/internal/worker"
)

// DayCache answers per-day expense and balance queries from memory.
//
// Reads never touch the ledger: a miss returns "unknown" at once and queues a
// backfill of the whole month on the loader, so later reads for nearby days
// hit. The write path keeps the cache honest by calling RefreshDay or
// InvalidateAll after every change. The cache is eventually consistent; a
// reader can observe a month that is only partly loaded.
type DayCache struct {
	reader ledger.Reader
	cal    core.Calendar
	tables *cache.Store
	loader *worker.Loader
	logger *log.Logger
}

func NewDayCache(reader ledger.Reader, cal core.Calendar, logger *log.Logger) *DayCache {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentCache)
	}
	tables := cache.NewStore()
	return &DayCache{
		reader: reader,
		cal:    cal,
		tables: tables,
		loader: worker.NewLoader(reader, tables, cal, logger),
		logger: logger.WithComponent(log.ComponentCache),
	}
}

// Start runs the background loader until Stop or ctx is done.
func (c *DayCache) Start(ctx context.Context) error {
	return c.loader.Start(ctx)
}

func (c *DayCache) Stop(ctx context.Context) error {
	return c.loader.Stop(ctx)
}

// IsRunning reports whether the background loader is processing jobs.
func (c *DayCache) IsRunning() bool {
	return c.loader.IsRunning()
}

// Flush waits for every backfill queued so far to finish.
func (c *DayCache) Flush(ctx context.Context) error {
	return c.loader.Flush(ctx)
}

// PreloadMonth queues both backfills for the month containing day.
func (c *DayCache) PreloadMonth(day time.Time) {
	year, month := c.cal.MonthOf(day)
	c.logger.Debug("Request to cache month",
		log.NewFields().WithOperation(log.OpPreload).WithMonth(year, int(month)).ToSlice()...)

	c.loader.Submit(worker.Job{Kind: worker.JobExpenses, Year: year, Month: month})
	c.loader.Submit(worker.Job{Kind: worker.JobBalances, Year: year, Month: month})
}

// RefreshDay reloads the entries of day from the ledger and drops every
// cached balance. A single edit moves the running balance of every later day,
// in this month and beyond, so balances are invalidated wholesale.
func (c *DayCache) RefreshDay(ctx context.Context, day time.Time) error {
	key := c.cal.ReferenceKey(day)
	c.logger.DebugContext(ctx, "Refreshing day",
		log.NewFields().WithOperation(log.OpRefresh).WithDay(key).ToSlice()...)

	c.tables.Balances.Clear()

	stamp := c.tables.Expenses.Stamp()
	expenses, err := c.reader.ExpensesForDay(ctx, c.cal.LocalDay(day))
	if err != nil {
		return fmt.Errorf("refresh day %s: %w", key, err)
	}
	c.tables.Expenses.PutStamped(key, expenses, stamp)
	return nil
}

// InvalidateAll drops both tables.
func (c *DayCache) InvalidateAll() {
	c.logger.Debug("Invalidating all cached days", log.FieldOperation, log.OpInvalidate)
	c.tables.Clear()
}

// Expenses returns the cached entries of day. On a miss it queues a backfill
// of day's month and returns false; a known day without entries returns an
// empty slice and true.
func (c *DayCache) Expenses(day time.Time) ([]core.Expense, bool) {
	expenses, ok := c.tables.Expenses.Get(c.cal.ReferenceKey(day))
	if !ok {
		c.submit(worker.JobExpenses, day)
		return nil, false
	}
	return expenses, true
}

// HasExpenses reports whether day has entries. known is false on a miss,
// which queues a backfill like Expenses does.
func (c *DayCache) HasExpenses(day time.Time) (has, known bool) {
	expenses, ok := c.Expenses(day)
	if !ok {
		return false, false
	}
	return len(expenses) > 0, true
}

// Balance returns the cached running balance at the end of day, queuing a
// balance backfill on a miss.
func (c *DayCache) Balance(day time.Time) (decimal.Decimal, bool) {
	balance, ok := c.tables.Balances.Get(c.cal.ReferenceKey(day))
	if !ok {
		c.submit(worker.JobBalances, day)
		return decimal.Zero, false
	}
	return balance, true
}

// CacheStats reports table sizes and loader counters.
type CacheStats struct {
	Tables cache.Stats  `json:"tables"`
	Loader worker.Stats `json:"loader"`
}

func (c *DayCache) Stats() CacheStats {
	return CacheStats{
		Tables: c.tables.Stats(),
		Loader: c.loader.Stats(),
	}
}

func (c *DayCache) submit(kind worker.JobKind, day time.Time) {
	year, month := c.cal.MonthOf(day)
	c.loader.Submit(worker.Job{Kind: kind, Year: year, Month: month})
}
