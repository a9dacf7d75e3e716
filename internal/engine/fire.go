package engine

import (
	"context"
	"fmt"

	"github.com/roach88/rulecore/internal/agenda"
)

// FireAll fires activations until the agenda is empty, Halt is called or
// limit activations have fired (limit <= 0 means no limit). It returns the
// number fired.
//
// A consequence error stops firing and is returned as a RuntimeError with
// ErrCodeConsequence. Changes the consequence made before failing are kept
// and fully propagated.
func (s *Session) FireAll(limit int) (int, error) {
	if err := s.checkLive("fire"); err != nil {
		return 0, err
	}
	s.halted.Store(false)
	return s.fireLoop(limit)
}

func (s *Session) fireLoop(limit int) (int, error) {
	quota := newFireQuota(s.maxFires)
	fired := 0
	for limit <= 0 || fired < limit {
		if err := s.flush(); err != nil {
			s.logger.Warn("scheduled jobs failed", "session", s.id, "error", err)
		}
		if s.halted.Load() || s.disposed.Load() {
			break
		}
		a := s.agenda.Next()
		if a == nil {
			break
		}
		if err := quota.Check(s.id); err != nil {
			s.logger.Error("fire quota exceeded",
				"session", s.id,
				"rule", a.Rule.Name,
				"limit", s.maxFires,
			)
			// Popped but never fired: requeue it.
			s.agenda.Add(a)
			return fired, &RuntimeError{Code: ErrCodeQuotaExceeded, Message: "fire quota exceeded", Rule: a.Rule.Name, Err: err}
		}
		err := s.fire(a)
		fired++
		if err != nil {
			return fired, err
		}
	}
	if s.disposed.Load() && s.firing == nil {
		s.release()
	}
	return fired, nil
}

// fire runs one activation's consequence with truth maintenance bracketing.
func (s *Session) fire(a *agenda.Activation) error {
	if cleared := s.agenda.ClearActivationGroup(a.Rule.ActivationGroup, a); len(cleared) > 0 {
		s.logger.Debug("activation group cleared",
			"group", a.Rule.ActivationGroup,
			"rule", a.Rule.Name,
			"removed", len(cleared),
		)
	}

	s.logger.Debug("firing", "rule", a.Rule.Name, "match", a.String(), "salience", a.Salience)
	s.listener.BeforeFire(a)

	prev := s.firing
	s.firing = a
	s.tms.BeginFiring(a)
	err := s.runConsequence(a)
	orphans := s.tms.EndFiring(a)
	s.firing = prev

	s.cascade = append(s.cascade, orphans...)
	s.drainCascade()

	if err != nil {
		rerr := NewConsequenceError(a.Rule.Name, a.Key(), err)
		s.logger.Error("consequence failed",
			"session", s.id,
			"rule", a.Rule.Name,
			"match", a.String(),
			"error", err,
		)
		s.listener.AfterFire(a, rerr)
		return rerr
	}
	s.listener.AfterFire(a, nil)
	return nil
}

func (s *Session) runConsequence(a *agenda.Activation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(*ConsistencyError); ok {
				panic(ce)
			}
			if ce, ok := r.(*agenda.ConsistencyError); ok {
				panic(ce)
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Rule.Consequence(&RuleContext{s: s, a: a})
}

// FireUntilHalt fires activations as they become ready until Halt is called,
// the context is cancelled or the session is disposed. Between firings it
// waits for notifications: real-time timers falling due, Notify and Halt.
func (s *Session) FireUntilHalt(ctx context.Context) error {
	if err := s.checkLive("fire until halt"); err != nil {
		return err
	}
	s.halted.Store(false)
	for {
		if _, err := s.fireLoop(0); err != nil {
			return err
		}
		if s.halted.Load() || s.disposed.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// Halt stops FireAll or FireUntilHalt after the current firing. Safe from
// any goroutine.
func (s *Session) Halt() {
	s.halted.Store(true)
	s.queue.Enqueue(Notification{Type: NotifyWake})
}
