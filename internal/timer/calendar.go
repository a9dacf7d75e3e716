package timer

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrUnknownCalendar is returned when a rule names a calendar that was never
// registered.
var ErrUnknownCalendar = errors.New("unknown calendar")

// Calendar decides whether a fire time is permitted.
type Calendar interface {
	IsTimeIncluded(ms int64) bool
}

// WeekdayCalendar includes only the listed days of the week.
type WeekdayCalendar struct {
	Days     []time.Weekday
	Location *time.Location // nil means UTC
}

func (c WeekdayCalendar) IsTimeIncluded(ms int64) bool {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return slices.Contains(c.Days, time.UnixMilli(ms).In(loc).Weekday())
}

// TimeRange is the half-open interval [Start, End) in epoch milliseconds.
type TimeRange struct {
	Start int64
	End   int64
}

// ExclusionCalendar excludes every time that falls in one of its ranges.
type ExclusionCalendar struct {
	Ranges []TimeRange
}

func (c ExclusionCalendar) IsTimeIncluded(ms int64) bool {
	for _, r := range c.Ranges {
		if ms >= r.Start && ms < r.End {
			return false
		}
	}
	return true
}

// Calendars is a registry of named calendars shared by a session.
type Calendars map[string]Calendar

// Resolve returns the calendars for names in order.
func (c Calendars) Resolve(names []string) ([]Calendar, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]Calendar, 0, len(names))
	for _, n := range names {
		cal, ok := c[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCalendar, n)
		}
		out = append(out, cal)
	}
	return out, nil
}

// included reports whether every calendar admits ms.
func included(cals []Calendar, ms int64) bool {
	for _, c := range cals {
		if !c.IsTimeIncluded(ms) {
			return false
		}
	}
	return true
}
