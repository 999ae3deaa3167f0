package core

import (
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1, nil), true},
		{NewDate(2025, 12, 31, time.UTC), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: -250}).Validate(); err != nil {
		t.Fatalf("expected income to be valid, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Date:        NewDate(2025, 1, 1, nil),
		Description: "ok",
		Amount:      Money{Cents: 100},
		Primary:     "Cat",
		Secondary:   "Sub",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Date: Date{Time: time.Time{}}, Description: "a", Amount: Money{Cents: 1}, Primary: "c"}, // zero date
		{Date: NewDate(2025, 1, 1, nil), Description: "", Amount: Money{Cents: 1}, Primary: "c"},
		{Date: NewDate(2025, 1, 1, nil), Description: "a", Amount: Money{Cents: 0}, Primary: "c"},
		{Date: NewDate(2025, 1, 1, nil), Description: "a", Amount: Money{Cents: 1}, Primary: " "},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestExpenseIsIncome(t *testing.T) {
	if (Expense{Amount: Money{Cents: 100}}).IsIncome() {
		t.Fatal("positive amount must be an expense")
	}
	if !(Expense{Amount: Money{Cents: -100}}).IsIncome() {
		t.Fatal("negative amount must be an income")
	}
}
