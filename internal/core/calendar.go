package core

import (
	"fmt"
	"time"
)

// DayLayout is the wire and storage format of a calendar day.
const DayLayout = "2006-01-02"

// MonthLayout is the wire format of a calendar month.
const MonthLayout = "2006-01"

// DayKey identifies one calendar day. It is comparable and safe to use as a map key.
type DayKey struct {
	Year  int
	Month time.Month
	Day   int
}

// KeyOf returns the key of t's calendar day in t's own location.
func KeyOf(t time.Time) DayKey {
	y, m, d := t.Date()
	return DayKey{Year: y, Month: m, Day: d}
}

// ParseDayKey parses a "2006-01-02" string.
func ParseDayKey(s string) (DayKey, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return DayKey{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return KeyOf(t), nil
}

// Time returns midnight of the day in loc.
func (k DayKey) Time(loc *time.Location) time.Time {
	return time.Date(k.Year, k.Month, k.Day, 0, 0, 0, 0, loc)
}

// After reports whether k is a later day than o.
func (k DayKey) After(o DayKey) bool {
	if k.Year != o.Year {
		return k.Year > o.Year
	}
	if k.Month != o.Month {
		return k.Month > o.Month
	}
	return k.Day > o.Day
}

func (k DayKey) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", k.Year, int(k.Month), k.Day)
}

// Calendar collapses timestamps to day boundaries in two coordinate systems:
// the user's local timezone, where calendar days are decided, and a fixed
// reference timezone in which cache keys are expressed.
type Calendar struct {
	Local     *time.Location
	Reference *time.Location
}

// NewCalendar returns a Calendar, defaulting nil locations to time.Local and UTC.
func NewCalendar(local, reference *time.Location) Calendar {
	if local == nil {
		local = time.Local
	}
	if reference == nil {
		reference = time.UTC
	}
	return Calendar{Local: local, Reference: reference}
}

// LoadCalendar resolves IANA timezone names. Empty names use the defaults of NewCalendar.
func LoadCalendar(localName, referenceName string) (Calendar, error) {
	var local, reference *time.Location
	if localName != "" {
		loc, err := time.LoadLocation(localName)
		if err != nil {
			return Calendar{}, fmt.Errorf("load local timezone: %w", err)
		}
		local = loc
	}
	if referenceName != "" {
		loc, err := time.LoadLocation(referenceName)
		if err != nil {
			return Calendar{}, fmt.Errorf("load reference timezone: %w", err)
		}
		reference = loc
	}
	return NewCalendar(local, reference), nil
}

func (c Calendar) local() *time.Location {
	if c.Local == nil {
		return time.Local
	}
	return c.Local
}

func (c Calendar) reference() *time.Location {
	if c.Reference == nil {
		return time.UTC
	}
	return c.Reference
}

// LocalDay returns midnight of t's calendar day in the local timezone.
func (c Calendar) LocalDay(t time.Time) time.Time {
	y, m, d := t.In(c.local()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.local())
}

// ReferenceKey returns the cache key for t: its local calendar day pinned to
// midnight in the reference timezone.
func (c Calendar) ReferenceKey(t time.Time) DayKey {
	y, m, d := t.In(c.local()).Date()
	return KeyOf(time.Date(y, m, d, 0, 0, 0, 0, c.reference()))
}

// MonthOf returns the local year and month containing t.
func (c Calendar) MonthOf(t time.Time) (int, time.Month) {
	y, m, _ := t.In(c.local()).Date()
	return y, m
}

// FirstOfMonth returns local midnight of the first day of the given month.
func (c Calendar) FirstOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, c.local())
}

// DaysInMonth returns local midnight of every day of the month, in order.
func (c Calendar) DaysInMonth(year int, month time.Month) []time.Time {
	var days []time.Time
	for day := c.FirstOfMonth(year, month); day.Month() == month; day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// Day returns local midnight of the given key's calendar day.
func (c Calendar) Day(k DayKey) time.Time {
	return k.Time(c.local())
}
