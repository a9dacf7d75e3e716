package timer

import (
	"fmt"
	"math"
	"time"
)

// Clock reports the current time in epoch milliseconds.
type Clock interface {
	CurrentTime() int64
}

// ClockType selects the clock discipline of a session.
type ClockType string

const (
	ClockRealtime ClockType = "realtime"
	ClockPseudo   ClockType = "pseudo"
)

// ParseClockType accepts "realtime", "pseudo" or the empty string (realtime).
func ParseClockType(s string) (ClockType, error) {
	switch ClockType(s) {
	case "", ClockRealtime:
		return ClockRealtime, nil
	case ClockPseudo:
		return ClockPseudo, nil
	}
	return "", fmt.Errorf("unknown clock type %q (want %q or %q)", s, ClockRealtime, ClockPseudo)
}

// NowFunc returns wall-clock time. Tests substitute a fixed source.
type NowFunc func() time.Time

func millis(now NowFunc) int64 {
	return now().UnixMilli()
}

// addMillis returns ts+d and false when the sum overflows int64.
func addMillis(ts int64, d time.Duration) (int64, bool) {
	ms := d.Milliseconds()
	if ms > 0 && ts > math.MaxInt64-ms {
		return 0, false
	}
	if ms < 0 && ts < math.MinInt64-ms {
		return 0, false
	}
	return ts + ms, true
}
