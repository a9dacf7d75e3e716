package timer

import (
	"errors"
	"time"

	"github.com/roach88/rulecore/internal/ir"
)

// ErrNoDurations is returned by CompositeMaxDurationTimer when it has
// neither durations nor an explicit timer.
var ErrNoDurations = errors.New("composite timer has no durations")

// DurationTimer delays a fire time by Duration from a base timestamp.
type DurationTimer struct {
	Duration time.Duration
	EventVar string // binding whose event timestamp is the base; empty uses now
}

// FireTime returns base+Duration, or now when the sum overflows.
func (d DurationTimer) FireTime(now, base int64) int64 {
	at, ok := addMillis(base, d.Duration)
	if !ok {
		return now
	}
	return at
}

// Trigger returns a one-shot trigger at FireTime(now, base).
func (d DurationTimer) Trigger(now, base int64, cals []Calendar) Trigger {
	return NewPointInTimeTrigger(d.FireTime(now, base), cals)
}

// EventTimes resolves the timestamp of the event bound to a variable.
type EventTimes func(varName string) (int64, bool)

// CompositeMaxDurationTimer combines every duration that applies to one
// rule. The effective fire time is the latest of them. An explicit timer
// replaces the duration computation entirely.
type CompositeMaxDurationTimer struct {
	Durations []DurationTimer
	Timer     *ir.TimerSpec
}

// NewCompositeMaxDurationTimer collects the timing attributes of a rule.
// It returns nil when the rule has none.
func NewCompositeMaxDurationTimer(rule *ir.RuleSpec) *CompositeMaxDurationTimer {
	if rule.Timer == nil && len(rule.Durations) == 0 {
		return nil
	}
	c := &CompositeMaxDurationTimer{Timer: rule.Timer}
	for _, d := range rule.Durations {
		c.Durations = append(c.Durations, DurationTimer{Duration: d.Duration, EventVar: d.EventVar})
	}
	return c
}

// Trigger creates the trigger for a match created at now.
func (c *CompositeMaxDurationTimer) Trigger(now int64, events EventTimes, cals []Calendar) (Trigger, error) {
	if c.Timer != nil {
		return TimerTrigger(*c.Timer, now, cals), nil
	}
	if len(c.Durations) == 0 {
		return nil, ErrNoDurations
	}
	return NewCompositeMaxDurationTrigger(c.MaxTimestamp(now, events), nil, cals), nil
}

// MaxTimestamp returns the latest duration-derived fire time.
func (c *CompositeMaxDurationTimer) MaxTimestamp(now int64, events EventTimes) int64 {
	var latest int64
	for i, d := range c.Durations {
		base := now
		if d.EventVar != "" && events != nil {
			if ts, ok := events(d.EventVar); ok {
				base = ts
			}
		}
		at := d.FireTime(now, base)
		if i == 0 || at > latest {
			latest = at
		}
	}
	return latest
}

// TimerTrigger converts an explicit rule timer into a trigger starting at
// now+Delay. An overflowing delay fires immediately.
func TimerTrigger(spec ir.TimerSpec, now int64, cals []Calendar) Trigger {
	start, ok := addMillis(now, spec.Delay)
	if !ok {
		start = now
	}
	if spec.Kind == ir.TimerInterval {
		return NewIntervalTrigger(start, NoEnd, spec.Period, spec.RepeatLimit, cals)
	}
	return NewPointInTimeTrigger(start, cals)
}
