package subscription

import "time"

// Window holds the derived time boundaries of a subscription term.
// A nil EndsAt marks a lifetime term; grace and expiry logic skip it
// entirely.
type Window struct {
	StartsAt    time.Time
	TrialEndsAt *time.Time
	EndsAt      *time.Time
	GraceEndsAt *time.Time
}

// computeWindow derives the term boundaries from a start instant, the
// pricing duration, an optional trial length and the configured grace
// length, all in whole days.
//
// When a trial precedes the paid term, the paid term is anchored at the
// trial end rather than at start: paid time never overlaps trial time.
// Duration zero means lifetime; no end, no grace. The Validator rejects
// negative durations before they reach this function.
func computeWindow(start time.Time, durationDays, trialDays, graceDays int) Window {
	start = start.UTC()
	w := Window{StartsAt: start}

	paidFrom := start
	if trialDays > 0 {
		trialEnd := start.AddDate(0, 0, trialDays)
		w.TrialEndsAt = &trialEnd
		paidFrom = trialEnd
	}

	if durationDays == 0 {
		return w
	}

	end := paidFrom.AddDate(0, 0, durationDays)
	w.EndsAt = &end
	if graceDays > 0 {
		grace := end.AddDate(0, 0, graceDays)
		w.GraceEndsAt = &grace
	}
	return w
}

// renewalWindow extends a term by the pricing duration. The extension is
// anchored at the current end when the term is still running, or at now when
// it has already lapsed, so a late renewal does not backdate access.
func renewalWindow(currentEnd *time.Time, now time.Time, durationDays, graceDays int) (endsAt, graceEndsAt *time.Time) {
	now = now.UTC()
	anchor := now
	if currentEnd != nil && currentEnd.After(now) {
		anchor = currentEnd.UTC()
	}

	end := anchor.AddDate(0, 0, durationDays)
	endsAt = &end
	if graceDays > 0 {
		grace := end.AddDate(0, 0, graceDays)
		graceEndsAt = &grace
	}
	return endsAt, graceEndsAt
}
