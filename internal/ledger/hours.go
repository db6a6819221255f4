// Package ledger owns time-allocation arithmetic: business-hour durations,
// slot costs, and the derivation of effective dates from scheduled slots.
package ledger

import (
	"fmt"
	"time"
)

// Window is the working-day clock window. Weekends are always excluded.
type Window struct {
	StartMinute int // minutes after midnight
	EndMinute   int
}

// ParseWindow builds a Window from "HH:MM" clock strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("workday start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("workday end: %w", err)
	}
	if e <= s {
		return Window{}, fmt.Errorf("workday end %s not after start %s", end, start)
	}
	return Window{StartMinute: s, EndMinute: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// BusinessHours returns the portion of [start, end) that falls inside the
// working window on weekdays. A slot entirely outside the window has zero
// duration.
func BusinessHours(start, end time.Time, w Window) time.Duration {
	if !end.After(start) {
		return 0
	}
	var total time.Duration
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for !day.After(end) {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			open := day.Add(time.Duration(w.StartMinute) * time.Minute)
			close := day.Add(time.Duration(w.EndMinute) * time.Minute)
			if open.Before(start) {
				open = start
			}
			if close.After(end) {
				close = end
			}
			if close.After(open) {
				total += close.Sub(open)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}
