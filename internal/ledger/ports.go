// Package ledger defines the ports of the persistent, date-indexed ledger
// that the day cache reads from and the write path writes to.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("expense not found")

type (
	// Reader answers day-level queries. Implementations must be safe for
	// concurrent use; calls may be slow.
	Reader interface {
		// ExpensesForDay returns the entries of the local calendar day starting
		// at day, in insertion order. A day without entries yields an empty slice.
		ExpensesForDay(ctx context.Context, day time.Time) ([]core.Expense, error)

		// BalanceForDay returns the running balance at the end of day,
		// accounting for every entry up to and including that day.
		BalanceForDay(ctx context.Context, day time.Time) (decimal.Decimal, error)
	}

	Writer interface {
		Append(ctx context.Context, e core.Expense) (core.Expense, error)
		Update(ctx context.Context, e core.Expense) error
		Delete(ctx context.Context, id int64) error
		Get(ctx context.Context, id int64) (core.Expense, error)
	}

	Store interface {
		Reader
		Writer
	}
)
