package attendance

import "time"

const (
	// OnTimeLimit is the last elapsed duration still counted as on time.
	OnTimeLimit = 10 * time.Minute
	// LateLimit is the last elapsed duration still counted as late.
	LateLimit = 30 * time.Minute
	// DefaultWindowTTL is how long a window advertises itself as valid.
	DefaultWindowTTL = 4 * time.Hour
)

// Classify maps the time elapsed since a window opened to a status.
// Both limits are inclusive. Past LateLimit the check-in is still recorded, as ABSENT.
func Classify(elapsed time.Duration) Status {
	switch {
	case elapsed <= OnTimeLimit:
		return StatusOnTime
	case elapsed <= LateLimit:
		return StatusLate
	default:
		return StatusAbsent
	}
}

// SessionKindAt returns MORNING when t, read in loc, falls before middayHour.
func SessionKindAt(t time.Time, loc *time.Location, middayHour int) SessionKind {
	if loc == nil {
		loc = time.UTC
	}
	if t.In(loc).Hour() < middayHour {
		return SessionMorning
	}
	return SessionAfternoon
}
