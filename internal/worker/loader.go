// Package worker runs month backfill jobs for the day cache on a single
// background goroutine.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
)

// Stats is a snapshot of the loader counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Coalesced int64 `json:"coalesced"`
	Executed  int64 `json:"executed"`
	Skipped   int64 `json:"skipped"`
	DayErrors int64 `json:"day_errors"`
	Pending   int   `json:"pending"`
}

type queued struct {
	job     Job
	barrier chan struct{} // set for Flush markers, which carry no job
}

// Loader executes backfill jobs strictly one at a time, in submission order.
//
// Submit never blocks: the queue is unbounded, as misses must not wait on the
// worker. An identical job that is still waiting in the queue absorbs a new
// submission; a job that already started does not.
type Loader struct {
	reader ledger.Reader
	tables *cache.Store
	cal    core.Calendar
	logger *log.Logger

	mu      sync.Mutex
	queue   []queued
	waiting map[Job]struct{}
	wake    chan struct{}

	// Lifecycle management
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	submitted atomic.Int64
	coalesced atomic.Int64
	executed  atomic.Int64
	skipped   atomic.Int64
	dayErrors atomic.Int64
}

// NewLoader creates a stopped loader writing into tables.
func NewLoader(reader ledger.Reader, tables *cache.Store, cal core.Calendar, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentWorker)
	}
	return &Loader{
		reader:  reader,
		tables:  tables,
		cal:     cal,
		logger:  logger.WithComponent(log.ComponentWorker),
		waiting: make(map[Job]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins the processing loop. Returns an error if already running.
// Jobs submitted before Start stay queued and run once the loop is up.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loader is already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	go l.runLoop(ctx, stopCh, doneCh)

	l.logger.InfoContext(ctx, "Loader started", log.FieldOperation, log.OpStartup)
	return nil
}

// Stop signals the loop and waits for the current job to finish.
// Queued jobs are kept for a later Start.
func (l *Loader) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	stopCh, doneCh := l.stopCh, l.doneCh
	l.running = false
	l.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		l.logger.InfoContext(ctx, "Loader stopped gracefully", log.FieldOperation, log.OpShutdown)
		return nil
	case <-ctx.Done():
		l.logger.WarnContext(ctx, "Loader stop timed out", log.FieldOperation, log.OpShutdown)
		return ctx.Err()
	}
}

// IsRunning returns whether the loop is currently running
func (l *Loader) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Submit enqueues job and returns immediately. It reports false when an
// identical job was already waiting and the submission was absorbed.
func (l *Loader) Submit(job Job) bool {
	l.submitted.Add(1)

	l.mu.Lock()
	if _, ok := l.waiting[job]; ok {
		l.mu.Unlock()
		l.coalesced.Add(1)
		return false
	}
	l.waiting[job] = struct{}{}
	l.queue = append(l.queue, queued{job: job})
	l.mu.Unlock()

	l.signal()
	return true
}

// Flush blocks until every job submitted before the call has finished, or
// ctx is done. The loader must be running for Flush to return on its own.
func (l *Loader) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	l.mu.Lock()
	l.queue = append(l.queue, queued{barrier: barrier})
	l.mu.Unlock()
	l.signal()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current loader counters
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	pending := len(l.waiting)
	l.mu.Unlock()

	return Stats{
		Submitted: l.submitted.Load(),
		Coalesced: l.coalesced.Load(),
		Executed:  l.executed.Load(),
		Skipped:   l.skipped.Load(),
		DayErrors: l.dayErrors.Load(),
		Pending:   pending,
	}
}

func (l *Loader) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loader) next() (queued, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return queued{}, false
	}
	item := l.queue[0]
	l.queue[0] = queued{}
	l.queue = l.queue[1:]
	if item.barrier == nil {
		delete(l.waiting, item.job)
	}
	return item, true
}

// runLoop is the main processing loop
func (l *Loader) runLoop(ctx context.Context, stopCh chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			l.release(stopCh)
			return
		default:
		}

		item, ok := l.next()
		if !ok {
			select {
			case <-l.wake:
				continue
			case <-stopCh:
				return
			case <-ctx.Done():
				l.release(stopCh)
				return
			}
		}

		if item.barrier != nil {
			close(item.barrier)
			continue
		}
		l.run(ctx, item.job)
	}
}

// release marks the loader stopped after its context ended, unless Stop or a
// newer Start already replaced this loop.
func (l *Loader) release(stopCh chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running && l.stopCh == stopCh {
		l.running = false
		l.logger.Info("Loader context done, loop exited", log.FieldOperation, log.OpShutdown)
	}
}

func (l *Loader) run(ctx context.Context, job Job) {
	start := time.Now()
	logger := l.logger.With(
		log.FieldJobKind, job.Kind.String(),
		log.FieldYear, job.Year,
		log.FieldMonth, int(job.Month),
	)

	var loaded int
	var ran bool
	switch job.Kind {
	case JobExpenses:
		loaded, ran = backfill(ctx, l, logger, job, l.tables.Expenses, l.reader.ExpensesForDay)
	case JobBalances:
		loaded, ran = backfill(ctx, l, logger, job, l.tables.Balances, l.reader.BalanceForDay)
	default:
		logger.ErrorContext(ctx, "Unknown backfill job kind")
		return
	}

	if !ran {
		l.skipped.Add(1)
		logger.DebugContext(ctx, "Month already cached, skipping backfill")
		return
	}
	l.executed.Add(1)
	logger.DebugContext(ctx, "Month backfill completed",
		"days_loaded", loaded,
		log.FieldDuration, time.Since(start).Milliseconds())
}

// backfill loads every day of job's month into table. It returns how many
// days were stored and false when the first day of the month was already
// cached, in which case nothing is fetched.
//
// Each day is fetched and stored on its own: a failing day is logged and left
// absent so a later lookup retries it, and the table lock is held only for
// the single insert.
func backfill[V any](
	ctx context.Context,
	l *Loader,
	logger *log.Logger,
	job Job,
	table *cache.Table[core.DayKey, V],
	fetch func(context.Context, time.Time) (V, error),
) (int, bool) {
	if table.Contains(l.cal.ReferenceKey(l.cal.FirstOfMonth(job.Year, job.Month))) {
		return 0, false
	}

	logger.DebugContext(ctx, "Caching month", log.FieldOperation, log.OpBackfill)

	loaded := 0
	for _, day := range l.cal.DaysInMonth(job.Year, job.Month) {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Backfill interrupted", log.FieldError, ctx.Err())
			break
		}

		key := l.cal.ReferenceKey(day)
		stamp := table.Stamp()
		value, err := fetch(ctx, day)
		if err != nil {
			l.dayErrors.Add(1)
			logger.WarnContext(ctx, "Failed to load day, leaving it uncached",
				log.NewFields().WithDay(key).WithError(err).ToSlice()...)
			continue
		}
		if table.PutStamped(key, value, stamp) {
			loaded++
		}
	}
	return loaded, true
}
