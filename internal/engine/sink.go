package engine

import (
	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/network"
)

// The session is the network's Sink. These callbacks run in the middle of a
// propagation and must not re-enter the memory: facts that lose their
// logical support are queued on s.cascade and deleted once the propagation
// has returned.

// MatchCreated turns a new complete match into an activation.
func (s *Session) MatchCreated(term *network.Terminal, t *network.Tuple) {
	a := agenda.New(term, t, s.clock.Current())
	s.activations[t] = a
	if s.restoring {
		return
	}
	s.listener.MatchCreated(a)
	s.logger.Debug("match created", "rule", term.Rule.Name, "match", a.String())
	s.activate(a)
}

// MatchUpdated re-arms the activation of a match whose facts changed.
func (s *Session) MatchUpdated(term *network.Terminal, t *network.Tuple) {
	a, ok := s.activations[t]
	if !ok {
		inconsistent("update for unknown match %s", network.Describe(term.Rule.Name, t))
	}
	a.Recency = s.clock.Current()
	if s.restoring {
		return
	}
	if a.State() == agenda.StateQueued {
		s.agenda.Touch(a)
		return
	}
	if job, ok := s.ruleJobs[a]; ok && job.Queued() {
		return
	}
	s.activate(a)
}

// MatchCancelled retires the activation of a match that no longer holds.
func (s *Session) MatchCancelled(term *network.Terminal, t *network.Tuple) {
	a, ok := s.activations[t]
	if !ok {
		inconsistent("cancel for unknown match %s", network.Describe(term.Rule.Name, t))
	}
	delete(s.activations, t)
	s.agenda.Cancel(a)
	if job, ok := s.ruleJobs[a]; ok {
		s.sched.Remove(job)
		delete(s.ruleJobs, a)
		delete(s.jobs, job)
	}
	s.cascade = append(s.cascade, s.tms.Unjustify(a)...)
	if s.restoring {
		return
	}
	s.listener.MatchCancelled(a)
	s.logger.Debug("match cancelled", "rule", term.Rule.Name, "match", a.String())
}

// activate queues a, or arms its rule timer. A no-loop rule is not
// re-activated by changes its own consequence makes.
func (s *Session) activate(a *agenda.Activation) {
	if s.firing != nil && s.firing.Rule == a.Rule && a.Rule.NoLoop {
		s.logger.Debug("no-loop suppressed activation", "rule", a.Rule.Name)
		return
	}
	if ct, ok := s.timers[a.Rule.Name]; ok {
		s.scheduleRuleTimer(a, ct)
		return
	}
	s.agenda.Add(a)
}
