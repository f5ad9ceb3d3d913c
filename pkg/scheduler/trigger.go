package scheduler

import "time"

// Trigger computes the next fire time strictly after a reference time.
type Trigger interface {
	Next(after time.Time) time.Time
}

// IntervalTrigger fires on a fixed cadence from scheduler start.
type IntervalTrigger struct {
	Every time.Duration
}

func (t IntervalTrigger) Next(after time.Time) time.Time {
	return after.Add(t.Every)
}

// CalendarTrigger fires at a wall-clock hour and minute each day, in
// the reference time's location.
type CalendarTrigger struct {
	Hour   int
	Minute int
}

func (t CalendarTrigger) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), t.Hour, t.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
