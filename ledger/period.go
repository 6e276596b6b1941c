package ledger

import (
	"strings"
	"time"
)

// =============================================================================
// DATE RANGE - Inclusive business-date filter
// =============================================================================

// DateLayout is the wire and storage format of business dates.
const DateLayout = "2006-01-02"

// DateRange filters by the date component of a business timestamp.
// A nil bound is unbounded. Both bounds are inclusive.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// ParseDate accepts YYYY-MM-DD (one or two digit month/day).
// Returns false for anything else, including impossible dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-1-2", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseDateRange builds a range from raw query values. A malformed bound is
// ignored and treated as unbounded rather than rejected.
func ParseDateRange(from, to string) DateRange {
	var r DateRange
	if d, ok := ParseDate(from); ok {
		r.From = &d
	}
	if d, ok := ParseDate(to); ok {
		r.To = &d
	}
	return r
}

// IsZero reports whether the range is unbounded on both sides.
func (r DateRange) IsZero() bool {
	return r.From == nil && r.To == nil
}

// FromString returns the lower bound as YYYY-MM-DD, or "" if unbounded.
func (r DateRange) FromString() string {
	if r.From == nil {
		return ""
	}
	return r.From.Format(DateLayout)
}

// ToString returns the upper bound as YYYY-MM-DD, or "" if unbounded.
func (r DateRange) ToString() string {
	if r.To == nil {
		return ""
	}
	return r.To.Format(DateLayout)
}

// Contains reports whether the business date day (YYYY-MM-DD) is in range.
func (r DateRange) Contains(day string) bool {
	if r.From != nil && day < r.FromString() {
		return false
	}
	if r.To != nil && day > r.ToString() {
		return false
	}
	return true
}

// BusinessDate returns the calendar date of t in loc as YYYY-MM-DD.
func BusinessDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
