// Package cache holds the in-memory day tables of the ledger cache.
//
// Each table owns its map behind a single mutex; no operation performs I/O
// and no entry expires on its own. Values only leave a table through Clear.
package cache

import (
	"sync"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
)

// Cache defines the point operations shared by every table.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache
	Get(key K) (V, bool)

	// Put stores a value, overwriting any previous one
	Put(key K, value V)

	// Contains reports whether key is cached without copying its value
	Contains(key K) bool

	// Clear drops every key
	Clear()

	// Len returns the current number of keys
	Len() int
}

type slot[V any] struct {
	value V
	stamp uint64
}

// Table is a mutex-guarded map with freshness stamps.
//
// A stamp is taken before reading a value from the backing store and handed
// back with PutStamped. A write is accepted only when its stamp is newer than
// both the stamp already stored for that key and the last Clear, so a value
// read earlier can never replace one read later or survive an invalidation
// that happened while it was in flight.
type Table[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]slot[V]
	clock uint64
	floor uint64
	clone func(V) V
}

// NewTable creates an empty table. clone, if not nil, is applied to values on
// the way in and out so callers never share mutable state with the table.
func NewTable[K comparable, V any](clone func(V) V) *Table[K, V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Table[K, V]{
		items: make(map[K]slot[V]),
		clone: clone,
	}
}

func (t *Table[K, V]) Get(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return t.clone(s.value), true
}

func (t *Table[K, V]) Put(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clock++
	t.items[key] = slot[V]{value: t.clone(value), stamp: t.clock}
}

// Stamp returns a ticket ordering a pending store read against every other
// write to this table.
func (t *Table[K, V]) Stamp() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clock++
	return t.clock
}

// PutStamped stores value if stamp is still the freshest for key.
// It reports whether the value was stored.
func (t *Table[K, V]) PutStamped(key K, value V, stamp uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if stamp <= t.floor {
		return false
	}
	if s, ok := t.items[key]; ok && s.stamp >= stamp {
		return false
	}
	t.items[key] = slot[V]{value: t.clone(value), stamp: stamp}
	return true
}

func (t *Table[K, V]) Contains(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.items[key]
	return ok
}

// Clear drops every key and rejects stamps issued before the call.
func (t *Table[K, V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.items)
	t.floor = t.clock
}

func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Store groups the two day tables. Each has its own lock, so entry
// operations never wait on balance operations and vice versa.
type Store struct {
	Expenses *Table[core.DayKey, []core.Expense]
	Balances *Table[core.DayKey, decimal.Decimal]
}

// Stats is a point-in-time snapshot of table sizes.
type Stats struct {
	ExpenseDays int `json:"expense_days"`
	BalanceDays int `json:"balance_days"`
}

func NewStore() *Store {
	return &Store{
		Expenses: NewTable[core.DayKey](cloneExpenses),
		Balances: NewTable[core.DayKey, decimal.Decimal](nil),
	}
}

// Clear empties both tables.
func (s *Store) Clear() {
	s.Balances.Clear()
	s.Expenses.Clear()
}

func (s *Store) Stats() Stats {
	return Stats{
		ExpenseDays: s.Expenses.Len(),
		BalanceDays: s.Balances.Len(),
	}
}

// cloneExpenses keeps the known-empty case distinct from the unknown case:
// a nil or empty input always comes back as a non-nil empty slice.
func cloneExpenses(in []core.Expense) []core.Expense {
	out := make([]core.Expense, len(in))
	copy(out, in)
	return out
}

var (
	_ Cache[core.DayKey, []core.Expense]   = (*Table[core.DayKey, []core.Expense])(nil)
	_ Cache[core.DayKey, decimal.Decimal] = (*Table[core.DayKey, decimal.Decimal])(nil)
)
