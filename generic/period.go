package generic

import "time"

// =============================================================================
// PERIOD - Inclusive date window
// =============================================================================

// Period is the closed date range [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Workdays counts Monday-to-Friday days in the period.
func (p Period) Workdays() int {
	n := 0
	for _, d := range p.Days() {
		if d.IsWorkday() {
			n++
		}
	}
	return n
}

func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// HALF-MONTH PAY WINDOWS
// =============================================================================

// HalfMonth returns the pay window for period number 1 (days 1-15) or
// 2 (day 16 to month end). Any other number yields the zero Period.
func HalfMonth(year int, month time.Month, number int) Period {
	switch number {
	case 1:
		return Period{Start: NewTimePoint(year, month, 1), End: NewTimePoint(year, month, 15)}
	case 2:
		return Period{Start: NewTimePoint(year, month, 16), End: EndOfMonth(year, month)}
	default:
		return Period{}
	}
}
