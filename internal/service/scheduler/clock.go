package scheduler

import "time"

// Clock is the scheduling calendar at one instant: the day index counted
// from the collection epoch and the moment that day ends. Day boundaries sit
// at the configured rollover hour in local time, not at midnight.
type Clock struct {
	Now       time.Time
	Today     int
	DayCutoff time.Time
}

// NewClock derives the scheduling day from the wall clock. A collection
// created at 15:00 with a 04:00 rollover is still on day zero the next
// morning at 03:59.
func NewClock(now, createdAt time.Time, rolloverHour int) Clock {
	cutoff := dayRollover(now, rolloverHour)
	// Start of day zero: the boundary at or before the creation time.
	epoch := dayRollover(createdAt, rolloverHour).AddDate(0, 0, -1)
	today := int(cutoff.AddDate(0, 0, -1).Sub(epoch).Hours() / 24)
	if today < 0 {
		today = 0
	}
	return Clock{Now: now, Today: today, DayCutoff: cutoff}
}

// DayStart returns the moment the current day began.
func (c Clock) DayStart() time.Time { return c.DayCutoff.Add(-24 * time.Hour) }

// dayRollover returns the next rollover boundary strictly after t, in t's
// own location.
func dayRollover(t time.Time, hour int) time.Time {
	boundary := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	if !boundary.After(t) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary
}
