package engine

import (
	"time"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/timer"
)

// scheduleRuleTimer arms the timer of a timed rule for one match. When the
// timer fires the activation is queued; interval timers queue it again every
// period while the match lives.
func (s *Session) scheduleRuleTimer(a *agenda.Activation, ct *timer.CompositeMaxDurationTimer) {
	cals, _ := s.calendars.Resolve(a.Rule.Calendars) // checked by NewSession
	now := s.CurrentTime()
	trig, err := ct.Trigger(now, func(name string) (int64, bool) {
		h := a.Tuple.Handle(name)
		if h == nil {
			return 0, false
		}
		return h.Timestamp(), true
	}, cals)
	if err != nil {
		s.logger.Warn("rule timer degraded to immediate fire", "rule", a.Rule.Name, "error", err)
		trig = timer.NewPointInTimeTrigger(now, nil)
	}
	s.armRuleTimer(a, trig)
}

func (s *Session) armRuleTimer(a *agenda.Activation, trig timer.Trigger) {
	if old, ok := s.ruleJobs[a]; ok {
		s.sched.Remove(old)
		delete(s.jobs, old)
	}
	job := s.sched.Schedule(func(jc timer.JobContext) error {
		s.ruleTimerFired(a, jc)
		return nil
	}, trig)
	s.ruleJobs[a] = job
	s.jobs[job] = jobRef{activation: a}
	s.logger.Debug("rule timer armed", "rule", a.Rule.Name, "job", job.ID())
}

func (s *Session) ruleTimerFired(a *agenda.Activation, jc timer.JobContext) {
	switch a.State() {
	case agenda.StateCancelled:
		s.sched.Remove(jc.Handle)
		return
	case agenda.StateQueued:
		return
	}
	s.logger.Debug("rule timer fired", "rule", a.Rule.Name, "time", jc.FireTime)
	s.agenda.Add(a)
}

// scheduleExpiry deletes an event once it is older than its type allows.
func (s *Session) scheduleExpiry(h *factstore.Handle, expires time.Duration) {
	at := timer.DurationTimer{Duration: expires}.FireTime(s.CurrentTime(), h.Timestamp())
	s.armExpiry(h, at)
}

func (s *Session) armExpiry(h *factstore.Handle, at int64) {
	job := s.sched.Schedule(func(jc timer.JobContext) error {
		delete(s.expiries, h)
		delete(s.jobs, jc.Handle)
		if h.IsDeleted() {
			return nil
		}
		s.logger.Debug("event expired", "handle", h.ID(), "time", jc.FireTime)
		s.tms.Clear(h)
		s.delete(h)
		s.drainCascade()
		return nil
	}, timer.NewPointInTimeTrigger(at, nil))
	s.expiries[h] = job
	s.jobs[job] = jobRef{fact: h}
}
