package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxFires is the default number of activations one FireAll call may
// fire before it is stopped as a runaway.
const DefaultMaxFires = 1_000_000

// fireQuota counts firings within one FireAll call.
//
// A FireAll limit stops firing quietly; the quota is the safety net for rule
// sets that never reach quiescence and fails the call instead.
type fireQuota struct {
	max     int // <= 0 disables the quota
	current int
}

func newFireQuota(max int) *fireQuota {
	return &fireQuota{max: max}
}

// Check counts one firing and fails once the quota is exceeded.
func (q *fireQuota) Check(sessionID string) error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return &FiresExceededError{SessionID: sessionID, Fires: q.current, Limit: q.max}
	}
	return nil
}

// FiresExceededError is returned when FireAll exceeds the fire quota.
type FiresExceededError struct {
	SessionID string
	Fires     int
	Limit     int
}

func (e *FiresExceededError) Error() string {
	return fmt.Sprintf("session %s exceeded fire quota: %d fires > %d limit", e.SessionID, e.Fires, e.Limit)
}

// IsFiresExceededError returns true if the error is a FiresExceededError.
func IsFiresExceededError(err error) bool {
	var fe *FiresExceededError
	return errors.As(err, &fe)
}
