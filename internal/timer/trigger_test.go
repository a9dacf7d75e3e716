package timer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/ir"
)

func drain(t Trigger, limit int) []int64 {
	var out []int64
	for at, ok := t.Peek(); ok && len(out) < limit; at, ok = t.Advance() {
		out = append(out, at)
	}
	return out
}

func TestPointInTimeTrigger(t *testing.T) {
	assert.Equal(t, []int64{42}, drain(NewPointInTimeTrigger(42, nil), 10))

	excluded := NewPointInTimeTrigger(42, []Calendar{ExclusionCalendar{Ranges: []TimeRange{{40, 50}}}})
	_, ok := excluded.Peek()
	assert.False(t, ok)
}

func TestIntervalTrigger(t *testing.T) {
	tests := []struct {
		name   string
		trig   Trigger
		expect []int64
	}{
		{"repeat limit", NewIntervalTrigger(0, NoEnd, 10*time.Millisecond, 3, nil), []int64{0, 10, 20}},
		{"end bound", NewIntervalTrigger(0, 25, 10*time.Millisecond, 0, nil), []int64{0, 10, 20}},
		{"zero period fires once", NewIntervalTrigger(5, NoEnd, 0, 0, nil), []int64{5}},
		{
			"calendar skips",
			NewIntervalTrigger(0, 50, 10*time.Millisecond, 0, []Calendar{ExclusionCalendar{Ranges: []TimeRange{{5, 25}}}}),
			[]int64{0, 30, 40, 50},
		},
		{"overflow stops", NewIntervalTrigger(math.MaxInt64-5, NoEnd, 10*time.Millisecond, 0, nil), []int64{math.MaxInt64 - 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, drain(tt.trig, 100))
		})
	}
}

func TestIntervalTriggerGivesUpOnPermanentExclusion(t *testing.T) {
	never := ExclusionCalendar{Ranges: []TimeRange{{math.MinInt64, math.MaxInt64}}}
	trig := NewIntervalTrigger(0, NoEnd, time.Millisecond, 0, []Calendar{never})
	_, ok := trig.Peek()
	assert.False(t, ok)
}

func TestCompositeMaxDurationTrigger(t *testing.T) {
	assert.Equal(t, []int64{100}, drain(NewCompositeMaxDurationTrigger(100, nil, nil), 10))

	inner := NewIntervalTrigger(0, NoEnd, 40*time.Millisecond, 0, nil)
	c := NewCompositeMaxDurationTrigger(100, inner, nil)
	assert.Equal(t, []int64{100, 120, 160, 200}, drain(c, 4))

	excluded := NewCompositeMaxDurationTrigger(100, NewIntervalTrigger(0, NoEnd, 40*time.Millisecond, 0, nil),
		[]Calendar{ExclusionCalendar{Ranges: []TimeRange{{100, 101}}}})
	assert.Equal(t, []int64{120, 160}, drain(excluded, 2))
}

func TestDurationTimerOverflowFiresImmediately(t *testing.T) {
	d := DurationTimer{Duration: time.Hour}
	assert.Equal(t, int64(3_600_500), d.FireTime(500, 500))
	assert.Equal(t, int64(500), d.FireTime(500, math.MaxInt64-10))

	at, ok := d.Trigger(500, math.MaxInt64-10, nil).Peek()
	require.True(t, ok)
	assert.Equal(t, int64(500), at)
}

func TestCompositeMaxDurationTimer(t *testing.T) {
	events := func(name string) (int64, bool) {
		switch name {
		case "$a":
			return 1000, true
		case "$b":
			return 4000, true
		}
		return 0, false
	}

	c := &CompositeMaxDurationTimer{Durations: []DurationTimer{
		{Duration: 5 * time.Second, EventVar: "$a"},
		{Duration: time.Second, EventVar: "$b"},
		{Duration: 2 * time.Second},
	}}
	assert.Equal(t, int64(6000), c.MaxTimestamp(3000, events))

	trig, err := c.Trigger(3000, events, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{6000}, drain(trig, 10))

	c.Timer = &ir.TimerSpec{Kind: ir.TimerDuration, Delay: 100 * time.Millisecond}
	trig, err = c.Trigger(3000, events, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3100}, drain(trig, 10), "explicit timer overrides durations")

	_, err = (&CompositeMaxDurationTimer{}).Trigger(0, nil, nil)
	assert.ErrorIs(t, err, ErrNoDurations)
}

func TestNewCompositeMaxDurationTimer(t *testing.T) {
	assert.Nil(t, NewCompositeMaxDurationTimer(&ir.RuleSpec{Name: "plain"}))

	c := NewCompositeMaxDurationTimer(&ir.RuleSpec{
		Name:      "late",
		Durations: []ir.DurationSpec{{Duration: time.Minute, EventVar: "$e"}},
	})
	require.NotNil(t, c)
	assert.Equal(t, []DurationTimer{{Duration: time.Minute, EventVar: "$e"}}, c.Durations)
}

func TestTimerTriggerInterval(t *testing.T) {
	trig := TimerTrigger(ir.TimerSpec{Kind: ir.TimerInterval, Delay: 10 * time.Millisecond, Period: 5 * time.Millisecond, RepeatLimit: 3}, 100, nil)
	assert.Equal(t, []int64{110, 115, 120}, drain(trig, 10))
}

func TestCalendars(t *testing.T) {
	cals := Calendars{
		"weekdays": WeekdayCalendar{Days: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}},
	}
	resolved, err := cals.Resolve([]string{"weekdays"})
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	monday := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	sunday := time.Date(2024, time.January, 7, 12, 0, 0, 0, time.UTC).UnixMilli()
	assert.True(t, resolved[0].IsTimeIncluded(monday))
	assert.False(t, resolved[0].IsTimeIncluded(sunday))

	_, err = cals.Resolve([]string{"holidays"})
	assert.ErrorIs(t, err, ErrUnknownCalendar)
}

func TestParseClockType(t *testing.T) {
	ct, err := ParseClockType("")
	require.NoError(t, err)
	assert.Equal(t, ClockRealtime, ct)

	ct, err = ParseClockType("pseudo")
	require.NoError(t, err)
	assert.Equal(t, ClockPseudo, ct)

	_, err = ParseClockType("sundial")
	assert.Error(t, err)
}
