package timer

import (
	"math"
	"time"
)

// NoEnd marks an interval trigger without an end time.
const NoEnd int64 = math.MaxInt64

// maxCalendarSkips bounds how many excluded periods an interval trigger
// steps over before giving up.
const maxCalendarSkips = 10_000

// Trigger yields the fire times of one scheduled job.
//
// Peek returns the next fire time without consuming it. Advance consumes
// that time and returns the one after it. Both report false once the
// trigger is exhausted.
//
// The set of triggers is closed: PointInTimeTrigger, IntervalTrigger and
// CompositeMaxDurationTrigger.
type Trigger interface {
	Peek() (int64, bool)
	Advance() (int64, bool)

	isTrigger()
}

// PointInTimeTrigger fires once.
type PointInTimeTrigger struct {
	at   int64
	done bool
}

// NewPointInTimeTrigger fires at the given time, or never when a calendar
// excludes it.
func NewPointInTimeTrigger(at int64, cals []Calendar) *PointInTimeTrigger {
	return &PointInTimeTrigger{at: at, done: !included(cals, at)}
}

func (t *PointInTimeTrigger) Peek() (int64, bool) {
	if t.done {
		return 0, false
	}
	return t.at, true
}

func (t *PointInTimeTrigger) Advance() (int64, bool) {
	t.done = true
	return 0, false
}

func (*PointInTimeTrigger) isTrigger() {}

// IntervalTrigger fires at start and then every period until end or until
// it has fired repeatLimit times. Excluded times are skipped, not delayed.
type IntervalTrigger struct {
	next        int64
	end         int64
	period      int64
	repeatLimit int
	fired       int
	calendars   []Calendar
	done        bool
}

// NewIntervalTrigger creates an interval trigger. A non-positive period
// fires once. A repeatLimit of zero is unbounded. Pass NoEnd for no end.
func NewIntervalTrigger(start, end int64, period time.Duration, repeatLimit int, cals []Calendar) *IntervalTrigger {
	t := &IntervalTrigger{
		next:        start,
		end:         end,
		period:      period.Milliseconds(),
		repeatLimit: repeatLimit,
		calendars:   cals,
	}
	t.settle()
	return t
}

func (t *IntervalTrigger) Peek() (int64, bool) {
	if t.done {
		return 0, false
	}
	return t.next, true
}

func (t *IntervalTrigger) Advance() (int64, bool) {
	if t.done {
		return 0, false
	}
	t.fired++
	if t.repeatLimit > 0 && t.fired >= t.repeatLimit {
		t.done = true
		return 0, false
	}
	if !t.step() {
		return 0, false
	}
	t.settle()
	return t.Peek()
}

// Period returns the repeat period in milliseconds.
func (t *IntervalTrigger) Period() int64 { return t.period }

// Fired returns how many times the trigger has been advanced.
func (t *IntervalTrigger) Fired() int { return t.fired }

func (*IntervalTrigger) isTrigger() {}

func (t *IntervalTrigger) step() bool {
	if t.period <= 0 || t.next > math.MaxInt64-t.period {
		t.done = true
		return false
	}
	t.next += t.period
	return true
}

// settle moves next past excluded times and checks the end bound.
func (t *IntervalTrigger) settle() {
	for skips := 0; !t.done && !included(t.calendars, t.next); skips++ {
		if skips >= maxCalendarSkips || !t.step() {
			t.done = true
		}
	}
	if t.next > t.end {
		t.done = true
	}
}

// CompositeMaxDurationTrigger fires first at max. When an inner trigger is
// present its fire times up to max are discarded and the rest follow.
type CompositeMaxDurationTrigger struct {
	max        int64
	maxPending bool
	inner      Trigger
}

// NewCompositeMaxDurationTrigger builds the trigger. A max excluded by a
// calendar is dropped and the inner trigger, if any, takes over.
func NewCompositeMaxDurationTrigger(max int64, inner Trigger, cals []Calendar) *CompositeMaxDurationTrigger {
	t := &CompositeMaxDurationTrigger{max: max, inner: inner, maxPending: included(cals, max)}
	if !t.maxPending {
		t.discardInner()
	}
	return t
}

func (t *CompositeMaxDurationTrigger) Peek() (int64, bool) {
	if t.maxPending {
		return t.max, true
	}
	if t.inner == nil {
		return 0, false
	}
	return t.inner.Peek()
}

func (t *CompositeMaxDurationTrigger) Advance() (int64, bool) {
	if t.maxPending {
		t.maxPending = false
		t.discardInner()
	} else if t.inner != nil {
		t.inner.Advance()
	}
	return t.Peek()
}

// Max returns the duration-derived fire time.
func (t *CompositeMaxDurationTrigger) Max() int64 { return t.max }

func (*CompositeMaxDurationTrigger) isTrigger() {}

func (t *CompositeMaxDurationTrigger) discardInner() {
	if t.inner == nil {
		return
	}
	for at, ok := t.inner.Peek(); ok && at <= t.max; at, ok = t.inner.Peek() {
		t.inner.Advance()
	}
}
