package worker

import (
	"fmt"
	"time"
)

// JobKind selects which day table a backfill job populates.
type JobKind int

const (
	JobExpenses JobKind = iota + 1
	JobBalances
)

func (k JobKind) String() string {
	switch k {
	case JobExpenses:
		return "expenses"
	case JobBalances:
		return "balances"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// Job is an immutable month backfill request. Jobs are comparable, which is
// what lets the loader coalesce identical requests still waiting in the queue.
type Job struct {
	Kind  JobKind
	Year  int
	Month time.Month
}

func (j Job) String() string {
	return fmt.Sprintf("%s %04d-%02d", j.Kind, j.Year, int(j.Month))
}
