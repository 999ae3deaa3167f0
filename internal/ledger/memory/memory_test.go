package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
)

func expense(day int, desc string, cents int64) core.Expense {
	return core.Expense{
		Date:        core.NewDate(2024, 3, day, time.UTC),
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Primary:     "Casa",
	}
}

func TestMemoryStoreExpensesForDay(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, e := range []core.Expense{expense(5, "A", 100), expense(6, "X", 300), expense(5, "B", 200)} {
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ExpensesForDay(ctx, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Description != "A" || got[1].Description != "B" {
		t.Fatalf("expected [A B] in insertion order, got %+v", got)
	}

	empty, err := s.ExpensesForDay(ctx, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestMemoryStoreBalanceForDay(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Append(ctx, expense(1, "salary", -10000))
	s.Append(ctx, expense(5, "rent", 5000))
	s.Append(ctx, expense(20, "food", 2500))

	cases := []struct {
		day  int
		want string
	}{
		{1, "100.00"},
		{4, "100.00"},
		{5, "50.00"},
		{31, "25.00"},
	}
	for _, tc := range cases {
		got, err := s.BalanceForDay(ctx, time.Date(2024, 3, tc.day, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("day %d: unexpected error: %v", tc.day, err)
		}
		if got.StringFixed(2) != tc.want {
			t.Errorf("day %d: expected %s, got %s", tc.day, tc.want, got.StringFixed(2))
		}
	}
}

func TestMemoryStoreUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	stored, err := s.Append(ctx, expense(5, "A", 100))
	if err != nil || stored.ID != 1 {
		t.Fatalf("unexpected append: %+v err=%v", stored, err)
	}

	stored.Description = "A2"
	if err := s.Update(ctx, stored); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.Get(ctx, stored.ID)
	if err != nil || got.Description != "A2" {
		t.Fatalf("unexpected get: %+v err=%v", got, err)
	}

	if err := s.Delete(ctx, stored.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, stored.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, stored.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	s := New()
	if _, err := s.Append(context.Background(), expense(5, "", 100)); err == nil {
		t.Fatal("expected validation error")
	}
}
