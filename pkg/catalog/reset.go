package catalog

import "time"

// ResetPeriod is the cadence at which a feature's usage counter is
// automatically zeroed. ResetNever disables automatic resets entirely.
type ResetPeriod string

const (
	ResetNever   ResetPeriod = "never"
	ResetDaily   ResetPeriod = "daily"
	ResetWeekly  ResetPeriod = "weekly"
	ResetMonthly ResetPeriod = "monthly"
	ResetYearly  ResetPeriod = "yearly"
)

// AutomaticResetPeriods lists every period a reset sweep must cover,
// in ascending cadence order. ResetNever is deliberately absent.
func AutomaticResetPeriods() []ResetPeriod {
	return []ResetPeriod{ResetDaily, ResetWeekly, ResetMonthly, ResetYearly}
}

func (p ResetPeriod) String() string {
	return string(p)
}

// Valid reports whether p is one of the known periods.
func (p ResetPeriod) Valid() bool {
	switch p {
	case ResetNever, ResetDaily, ResetWeekly, ResetMonthly, ResetYearly:
		return true
	}
	return false
}

// Automatic reports whether usage on this cadence is ever reset without an
// explicit caller request.
func (p ResetPeriod) Automatic() bool {
	return p.Valid() && p != ResetNever
}

// PeriodStart returns the UTC calendar boundary that opened the period
// containing now: midnight for daily, Monday midnight for weekly, the first
// of the month for monthly, January 1st for yearly. For ResetNever (or an
// unknown period) it returns the zero time, which precedes any last-activity
// timestamp and therefore never selects a record for reset.
func (p ResetPeriod) PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case ResetDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case ResetWeekly:
		// Weeks start on Monday; Go's Weekday numbers Sunday as 0.
		back := (int(now.Weekday()) + 6) % 7
		day := now.AddDate(0, 0, -back)
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	case ResetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case ResetYearly:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

// NextResetAt returns the first reset boundary strictly after from.
// The second return value is false when the period never resets.
func (p ResetPeriod) NextResetAt(from time.Time) (time.Time, bool) {
	if !p.Automatic() {
		return time.Time{}, false
	}
	start := p.PeriodStart(from)
	switch p {
	case ResetDaily:
		return start.AddDate(0, 0, 1), true
	case ResetWeekly:
		return start.AddDate(0, 0, 7), true
	case ResetMonthly:
		return start.AddDate(0, 1, 0), true
	case ResetYearly:
		return start.AddDate(1, 0, 0), true
	}
	return time.Time{}, false
}
