package stats

import "time"

// Recognized period selectors.
const (
	PeriodToday  = "today"
	Period7d     = "7d"
	Period30d    = "30d"
	PeriodCustom = "custom"
	PeriodAll    = "all"
)

// VolumeLookbackDays bounds the "all" period for volume-only
// views: an unbounded tally over a company's full history would
// produce arbitrarily large responses, so "all" means the
// trailing 90 days there. Score aggregates are not capped.
const VolumeLookbackDays = 90

const dateLayout = "2006-01-02"

// DateWindow selects rows by upload time. From is inclusive, To
// exclusive; a zero bound is open. The zero DateWindow passes
// every row.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// Predicate returns the row-selection predicate form of the
// window, for callers filtering already-fetched rows in memory.
func (w DateWindow) Predicate() func(time.Time) bool {
	return w.Contains
}

// Window translates a period selector into a DateWindow relative
// to now. Unrecognized periods, and custom periods missing either
// bound, degrade to the open window (all rows pass) rather than
// erroring: validation of user input happens upstream.
func Window(period, startDate, endDate string, now time.Time) DateWindow {
	switch period {
	case PeriodToday:
		// Calendar day: a row at exactly midnight is included,
		// the prior day is not.
		from := time.Date(
			now.Year(), now.Month(), now.Day(),
			0, 0, 0, 0, now.Location(),
		)
		return DateWindow{From: from, To: from.AddDate(0, 0, 1)}

	case Period7d:
		return DateWindow{From: now.AddDate(0, 0, -7)}

	case Period30d:
		return DateWindow{From: now.AddDate(0, 0, -30)}

	case PeriodCustom:
		from, errFrom := time.ParseInLocation(
			dateLayout, startDate, now.Location(),
		)
		to, errTo := time.ParseInLocation(
			dateLayout, endDate, now.Location(),
		)
		if errFrom != nil || errTo != nil {
			return DateWindow{}
		}
		// Inclusive [start, end]: the exclusive upper bound is
		// the midnight after end.
		return DateWindow{From: from, To: to.AddDate(0, 0, 1)}

	default:
		return DateWindow{}
	}
}

// VolumeWindow is Window with the documented lookback cap applied
// to otherwise-unbounded selections, for volume-only views.
func VolumeWindow(
	period, startDate, endDate string, now time.Time,
) DateWindow {
	w := Window(period, startDate, endDate, now)
	if w.From.IsZero() {
		w.From = now.AddDate(0, 0, -VolumeLookbackDays)
	}
	return w
}
