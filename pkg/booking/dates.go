package booking

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without time-of-day.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate validates a calendar date.
func NewDate(year int, month time.Month, day int) (Date, error) {
	normalized := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if normalized.Year() != year || normalized.Month() != month || normalized.Day() != day {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, int(month), day)
	}
	return Date{year: year, month: month, day: day}, nil
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(raw string) (Date, error) {
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return Date{year: parsed.Year(), month: parsed.Month(), day: parsed.Day()}, nil
}

// DateOf truncates an instant to its UTC calendar date.
func DateOf(instant time.Time) Date {
	utc := instant.UTC()
	return Date{year: utc.Year(), month: utc.Month(), day: utc.Day()}
}

// Time returns midnight UTC of the date.
func (date Date) Time() time.Time {
	return time.Date(date.year, date.month, date.day, 0, 0, 0, 0, time.UTC)
}

// String formats the date as YYYY-MM-DD.
func (date Date) String() string {
	return date.Time().Format(dateLayout)
}

// Before reports whether date precedes other.
func (date Date) Before(other Date) bool {
	return date.Time().Before(other.Time())
}

// IsZero reports whether the date is the zero value.
func (date Date) IsZero() bool {
	return date == Date{}
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	start Date
	end   Date
}

// NewDateRange validates that end is strictly after start.
func NewDateRange(start Date, end Date) (DateRange, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return DateRange{}, fmt.Errorf("%w: [%s, %s)", ErrInvalidRange, start, end)
	}
	return DateRange{start: start, end: end}, nil
}

// Start returns the inclusive start date.
func (dateRange DateRange) Start() Date {
	return dateRange.start
}

// End returns the exclusive end date.
func (dateRange DateRange) End() Date {
	return dateRange.end
}

// Days returns the number of whole days covered by the range.
func (dateRange DateRange) Days() int {
	hours := dateRange.end.Time().Sub(dateRange.start.Time()).Hours()
	return int(hours / 24)
}

// Overlaps reports whether two half-open ranges intersect.
func (dateRange DateRange) Overlaps(other DateRange) bool {
	return dateRange.start.Before(other.end) && other.start.Before(dateRange.end)
}
