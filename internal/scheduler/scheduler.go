// Package scheduler provides cancellable point-in-time timers and the
// next-occurrence computation that drives daily medication reminders.
package scheduler

import "time"

// NextOccurrence returns the next instant at the given hour and minute:
// today if that time is still ahead of now, otherwise tomorrow. The
// returned instant keeps now's location.
func NextOccurrence(now time.Time, hour, minute int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// At arms a one-shot timer firing at the given instant. Instants in the
// past fire immediately.
func At(clock Clock, when time.Time, f func()) Timer {
	return clock.AfterFunc(when.Sub(clock.Now()), f)
}
