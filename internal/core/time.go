package core

import (
	"fmt"
	"time"
)

// DefaultDisplayTimeZone resolves day boundaries for feed windows, "today"
// pin views and ingest chunks when no other zone is configured.
const DefaultDisplayTimeZone = "America/Los_Angeles"

// Window is a half-open [Start, End) interval in UTC.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the half-open window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Validate checks the half-open ordering.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return NewValidationError("window", "end %s must be after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// DayWindow returns [startOfDay, startOfDay+days) where the day boundary is
// resolved in loc and the result is expressed in UTC.
func DayWindow(t time.Time, days int, loc *time.Location) Window {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start: start.UTC(),
		End:   start.AddDate(0, 0, days).UTC(),
	}
}

// TimeOfDayOf buckets a timestamp by its local clock in loc:
// 06-12 morning, 12-18 afternoon, 18-22 evening, else night.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	h := t.In(loc).Hour()
	switch {
	case h >= 6 && h < 12:
		return TimeOfDayMorning
	case h >= 12 && h < 18:
		return TimeOfDayAfternoon
	case h >= 18 && h < 22:
		return TimeOfDayEvening
	default:
		return TimeOfDayNight
	}
}

// LoadDisplayLocation resolves a display time zone name, falling back to the
// default on empty input.
func LoadDisplayLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultDisplayTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid display time zone %q: %w", name, err)
	}
	return loc, nil
}
