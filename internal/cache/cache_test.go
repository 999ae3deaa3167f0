package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
)

var march5 = core.DayKey{Year: 2024, Month: time.March, Day: 5}

func TestTableGetPut(t *testing.T) {
	table := NewTable[string, int](nil)

	if _, ok := table.Get("a"); ok {
		t.Fatal("expected miss on empty table")
	}
	table.Put("a", 1)
	table.Put("a", 2)
	if v, ok := table.Get("a"); !ok || v != 2 {
		t.Fatalf("expected overwrite to 2, got %d ok=%v", v, ok)
	}
	if !table.Contains("a") || table.Contains("b") {
		t.Fatal("unexpected Contains result")
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", table.Len())
	}
	table.Clear()
	if table.Len() != 0 || table.Contains("a") {
		t.Fatal("expected empty table after Clear")
	}
}

func TestTablePutStamped(t *testing.T) {
	tests := []struct {
		name  string
		setup func(table *Table[string, int]) uint64
		want  int
		ok    bool
	}{
		{
			name: "fresh stamp on empty key",
			setup: func(table *Table[string, int]) uint64 {
				return table.Stamp()
			},
			want: 10,
			ok:   true,
		},
		{
			name: "older stamp loses to a later put",
			setup: func(table *Table[string, int]) uint64 {
				stamp := table.Stamp()
				table.Put("k", 1)
				return stamp
			},
			want: 1,
			ok:   false,
		},
		{
			name: "newer stamp replaces an older stamped value",
			setup: func(table *Table[string, int]) uint64 {
				old := table.Stamp()
				stamp := table.Stamp()
				table.PutStamped("k", 1, old)
				return stamp
			},
			want: 10,
			ok:   true,
		},
		{
			name: "stamp taken before clear is rejected",
			setup: func(table *Table[string, int]) uint64 {
				stamp := table.Stamp()
				table.Clear()
				return stamp
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable[string, int](nil)
			stamp := tt.setup(table)
			if stored := table.PutStamped("k", 10, stamp); stored != tt.ok {
				t.Fatalf("PutStamped stored=%v, want %v", stored, tt.ok)
			}
			got, found := table.Get("k")
			if tt.want == 0 {
				if found {
					t.Fatalf("expected key to be absent, got %d", got)
				}
				return
			}
			if !found || got != tt.want {
				t.Fatalf("expected %d, got %d (found=%v)", tt.want, got, found)
			}
		})
	}
}

func TestStoreKnownEmptyIsNotUnknown(t *testing.T) {
	s := NewStore()

	if _, ok := s.Expenses.Get(march5); ok {
		t.Fatal("expected unknown day")
	}
	s.Expenses.Put(march5, nil)
	got, ok := s.Expenses.Get(march5)
	if !ok {
		t.Fatal("expected known day after put")
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty slice, got %#v", got)
	}
}

func TestStoreExpensesAreCopied(t *testing.T) {
	s := NewStore()
	in := []core.Expense{{Description: "A"}}
	s.Expenses.Put(march5, in)
	in[0].Description = "mutated by writer"

	out, _ := s.Expenses.Get(march5)
	if out[0].Description != "A" {
		t.Fatalf("cached value shares memory with the writer: %q", out[0].Description)
	}
	out[0].Description = "mutated by reader"

	again, _ := s.Expenses.Get(march5)
	if again[0].Description != "A" {
		t.Fatalf("cached value shares memory with a reader: %q", again[0].Description)
	}
}

func TestStoreTablesAreIndependent(t *testing.T) {
	s := NewStore()
	s.Expenses.Put(march5, []core.Expense{{Description: "A"}})
	s.Balances.Put(march5, decimal.RequireFromString("42.50"))

	s.Balances.Clear()
	if !s.Expenses.Contains(march5) {
		t.Fatal("clearing balances must not touch expenses")
	}
	if s.Balances.Contains(march5) {
		t.Fatal("expected balances to be empty")
	}

	if got := s.Stats(); got.ExpenseDays != 1 || got.BalanceDays != 0 {
		t.Fatalf("unexpected stats: %+v", got)
	}

	s.Clear()
	if got := s.Stats(); got.ExpenseDays != 0 || got.BalanceDays != 0 {
		t.Fatalf("expected empty store, got %+v", got)
	}
}

func TestTableConcurrentWritersNeverTear(t *testing.T) {
	s := NewStore()
	const writers = 8

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				desc := fmt.Sprintf("w%d", w)
				s.Expenses.PutStamped(march5, []core.Expense{{Description: desc}, {Description: desc}}, s.Expenses.Stamp())
				if got, ok := s.Expenses.Get(march5); ok {
					if len(got) != 2 || got[0].Description != got[1].Description {
						t.Errorf("torn value observed: %+v", got)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
}
