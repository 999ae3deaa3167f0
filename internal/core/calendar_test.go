package core

import (
	"testing"
	"time"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s not available: %v", name, err)
	}
	return loc
}

func TestReferenceKeySameCalendarDay(t *testing.T) {
	rome := mustLocation(t, "Europe/Rome")
	cal := NewCalendar(rome, time.UTC)

	early := time.Date(2024, 3, 5, 0, 30, 0, 0, rome) // still March 4th in UTC
	late := time.Date(2024, 3, 5, 23, 59, 0, 0, rome)

	if cal.ReferenceKey(early) != cal.ReferenceKey(late) {
		t.Fatalf("keys differ: %v vs %v", cal.ReferenceKey(early), cal.ReferenceKey(late))
	}
	want := DayKey{Year: 2024, Month: time.March, Day: 5}
	if got := cal.ReferenceKey(early); got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := cal.ReferenceKey(early.UTC()); got != want {
		t.Fatalf("key must not depend on the input location, got %v", got)
	}
}

func TestLocalDay(t *testing.T) {
	ny := mustLocation(t, "America/New_York")
	cal := NewCalendar(ny, time.UTC)

	ts := time.Date(2024, 3, 6, 2, 0, 0, 0, time.UTC) // March 5th, 21:00 in New York
	got := cal.LocalDay(ts)
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, ny)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDaysInMonth(t *testing.T) {
	cal := NewCalendar(time.UTC, time.UTC)
	cases := []struct {
		year  int
		month time.Month
		days  int
	}{
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2024, time.March, 31},
		{2024, time.April, 30},
	}
	for _, tc := range cases {
		days := cal.DaysInMonth(tc.year, tc.month)
		if len(days) != tc.days {
			t.Errorf("%d-%02d: expected %d days, got %d", tc.year, tc.month, tc.days, len(days))
			continue
		}
		if days[0].Day() != 1 || days[len(days)-1].Day() != tc.days {
			t.Errorf("%d-%02d: unexpected bounds %v..%v", tc.year, tc.month, days[0], days[len(days)-1])
		}
	}
}

func TestDaysInMonthAcrossDST(t *testing.T) {
	rome := mustLocation(t, "Europe/Rome")
	cal := NewCalendar(rome, time.UTC)

	days := cal.DaysInMonth(2024, time.March)
	if len(days) != 31 {
		t.Fatalf("expected 31 days, got %d", len(days))
	}
	seen := map[DayKey]bool{}
	for _, d := range days {
		k := cal.ReferenceKey(d)
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
}

func TestParseDayKey(t *testing.T) {
	k, err := ParseDayKey("2024-03-05")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.String() != "2024-03-05" {
		t.Fatalf("round trip mismatch: %s", k)
	}
	if _, err := ParseDayKey("2024-13-01"); err == nil {
		t.Fatal("expected error for invalid month")
	}
}

func TestLoadCalendar(t *testing.T) {
	cal, err := LoadCalendar("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.Local != time.Local || cal.Reference != time.UTC {
		t.Fatalf("unexpected defaults: %+v", cal)
	}
	if _, err := LoadCalendar("Not/AZone", ""); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
