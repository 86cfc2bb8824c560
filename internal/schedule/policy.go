// Package schedule computes outbound send times that respect business hours.
package schedule

import "time"

const (
	// DefaultStartHour is the first local hour emails may be sent.
	DefaultStartHour = 9
	// DefaultEndHour is the first local hour emails may no longer be sent.
	DefaultEndHour = 17
)

// Policy normalizes computed timestamps into the business send window.
// The zero value is not usable; construct via NewPolicy or DefaultPolicy.
type Policy struct {
	startHour int
	endHour   int
	location  *time.Location
}

// NewPolicy creates a Policy with the given window. Hours outside a sane
// range fall back to the defaults, a nil location falls back to UTC.
func NewPolicy(startHour, endHour int, loc *time.Location) Policy {
	if startHour < 0 || startHour > 23 || endHour <= startHour || endHour > 24 {
		startHour = DefaultStartHour
		endHour = DefaultEndHour
	}
	if loc == nil {
		loc = time.UTC
	}
	return Policy{startHour: startHour, endHour: endHour, location: loc}
}

// DefaultPolicy returns the 09:00–17:00 UTC window.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultStartHour, DefaultEndHour, time.UTC)
}

// NextBusinessSendTime adds delayDays calendar days to base and normalizes
// the result into the send window: before the window opens it snaps to the
// window start the same day, at or past the window end it rolls to the next
// day's window start, and weekend days shift forward to Monday. The result
// is deterministic for a given base.
func (p Policy) NextBusinessSendTime(base time.Time, delayDays int) time.Time {
	if delayDays < 0 {
		delayDays = 0
	}

	t := base.In(p.location).AddDate(0, 0, delayDays)

	switch {
	case t.Hour() < p.startHour:
		t = p.atWindowStart(t)
	case t.Hour() >= p.endHour:
		t = p.atWindowStart(t.AddDate(0, 0, 1))
	}

	switch t.Weekday() {
	case time.Saturday:
		t = p.atWindowStart(t.AddDate(0, 0, 2))
	case time.Sunday:
		t = p.atWindowStart(t.AddDate(0, 0, 1))
	}

	return t
}

func (p Policy) atWindowStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), p.startHour, 0, 0, 0, p.location)
}
