package engine

import (
	"fmt"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/timer"
)

// Snapshot is the externally serializable state of a session. Matching
// memories are not stored: Restore rebuilds them by propagating the facts
// again, then reapplies agenda, belief and timer state on top.
type Snapshot struct {
	SessionID   string               `json:"session_id"`
	Clock       timer.ClockType      `json:"clock"`
	Time        int64                `json:"time"`
	Propagation int64                `json:"propagation"`
	NextHandle  int64                `json:"next_handle"`
	Facts       []factstore.Snapshot `json:"facts"`
	Activations []ActivationState    `json:"activations,omitempty"` // queued, in firing order
	Beliefs     []BeliefState        `json:"beliefs,omitempty"`
	Jobs        []JobState           `json:"jobs,omitempty"` // in fire order
	Focus       []string             `json:"focus"`          // bottom first
}

// ActivationState identifies a queued activation by its match.
type ActivationState struct {
	Rule    string  `json:"rule"`
	Handles []int64 `json:"handles"`
	Recency int64   `json:"recency"`
}

// BeliefState lists the matches justifying one logical fact.
type BeliefState struct {
	Handle        int64             `json:"handle"`
	Justification []ActivationState `json:"justification"`
}

// JobKind tags the JobState variant.
type JobKind string

const (
	JobRuleTimer JobKind = "rule_timer"
	JobExpiry    JobKind = "expiry"
)

// JobState is one pending scheduled job.
type JobState struct {
	Kind     JobKind `json:"kind"`
	FireTime int64   `json:"fire_time"`

	// Rule timers.
	Rule    string  `json:"rule,omitempty"`
	Handles []int64 `json:"handles,omitempty"`
	Recency int64   `json:"recency,omitempty"`
	Fired   int     `json:"fired,omitempty"` // interval fires so far

	// Expiries.
	Handle int64 `json:"handle,omitempty"`
}

func activationState(a *agenda.Activation) ActivationState {
	return ActivationState{Rule: a.Rule.Name, Handles: a.Tuple.HandleIDs(), Recency: a.Recency}
}

// Snapshot captures the session. It must not be called while a consequence
// is firing.
func (s *Session) Snapshot() (*Snapshot, error) {
	if err := s.checkLive("snapshot"); err != nil {
		return nil, err
	}
	if s.firing != nil {
		return nil, usageError("snapshot", fmt.Errorf("rule %q is firing", s.firing.Rule.Name))
	}

	snap := &Snapshot{
		SessionID:   s.id,
		Clock:       s.clockType,
		Time:        s.CurrentTime(),
		Propagation: s.clock.Current(),
		NextHandle:  s.facts.NextID(),
		Focus:       s.agenda.FocusStack(),
	}
	for _, h := range s.facts.Handles() {
		snap.Facts = append(snap.Facts, h.Snapshot())
		if !s.tms.IsLogical(h) {
			continue
		}
		b := BeliefState{Handle: h.ID()}
		for _, a := range s.tms.Justifiers(h) {
			b.Justification = append(b.Justification, activationState(a))
		}
		snap.Beliefs = append(snap.Beliefs, b)
	}
	for _, a := range s.agenda.Activations() {
		snap.Activations = append(snap.Activations, activationState(a))
	}
	for _, p := range s.sched.Pending() {
		ref, ok := s.jobs[p.Handle]
		if !ok {
			continue
		}
		switch {
		case ref.activation != nil:
			js := JobState{
				Kind:     JobRuleTimer,
				FireTime: p.FireTime,
				Rule:     ref.activation.Rule.Name,
				Handles:  ref.activation.Tuple.HandleIDs(),
				Recency:  ref.activation.Recency,
			}
			if it, ok := p.Handle.Trigger().(*timer.IntervalTrigger); ok {
				js.Fired = it.Fired()
			}
			snap.Jobs = append(snap.Jobs, js)
		case ref.fact != nil:
			snap.Jobs = append(snap.Jobs, JobState{Kind: JobExpiry, FireTime: p.FireTime, Handle: ref.fact.ID()})
		}
	}
	return snap, nil
}

// Restore creates a session over net from a snapshot. The network must hold
// the rules the snapshot was taken with; state referring to unknown rules
// or facts is an error.
func Restore(net *network.Network, snap *Snapshot, opts ...Option) (*Session, error) {
	base := []Option{WithClock(snap.Clock), WithIDGenerator(NewFixedGenerator(snap.SessionID))}
	s, err := NewSession(net, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := s.restore(snap); err != nil {
		s.Dispose()
		return nil, err
	}
	s.logger.Info("session restored",
		"session", s.id,
		"facts", len(snap.Facts),
		"queued", len(snap.Activations),
		"jobs", len(snap.Jobs),
	)
	return s, nil
}

func (s *Session) restore(snap *Snapshot) error {
	s.restoring = true
	defer func() { s.restoring = false }()

	s.clock = NewPropagationClockAt(snap.Propagation)
	if s.pseudo != nil {
		s.pseudo.SetTime(snap.Time)
	}

	handles := make([]*factstore.Handle, 0, len(snap.Facts))
	for _, fs := range snap.Facts {
		h, err := s.facts.Restore(fs, s.net.Mask(fs.Fact.Type))
		if err != nil {
			return usageError("restore", err)
		}
		handles = append(handles, h)
	}
	s.facts.Reserve(snap.NextHandle)
	for _, h := range handles {
		s.collect(s.mem.Assert(h, s))
	}

	byKey := make(map[string][]*agenda.Activation, len(s.activations))
	for _, a := range s.activations {
		byKey[a.Key()] = append(byKey[a.Key()], a)
	}
	find := func(st ActivationState) (*agenda.Activation, error) {
		if as := byKey[ir.MatchKey(st.Rule, st.Handles)]; len(as) > 0 {
			return as[0], nil
		}
		return nil, usageError("restore", fmt.Errorf("no match for rule %q over %v", st.Rule, st.Handles))
	}

	for _, st := range snap.Activations {
		a, err := find(st)
		if err != nil {
			return err
		}
		a.Recency = st.Recency
		s.agenda.Add(a)
	}
	for _, b := range snap.Beliefs {
		h, ok := s.facts.Lookup(b.Handle)
		if !ok {
			return usageError("restore", fmt.Errorf("belief for unknown fact %d", b.Handle))
		}
		for _, st := range b.Justification {
			a, err := find(st)
			if err != nil {
				return err
			}
			s.tms.Justify(a, h)
		}
	}
	for _, js := range snap.Jobs {
		if err := s.restoreJob(js, find); err != nil {
			return err
		}
	}
	s.agenda.RestoreFocus(snap.Focus)
	return nil
}

func (s *Session) restoreJob(js JobState, find func(ActivationState) (*agenda.Activation, error)) error {
	switch js.Kind {
	case JobExpiry:
		h, ok := s.facts.Lookup(js.Handle)
		if !ok {
			return usageError("restore", fmt.Errorf("expiry for unknown fact %d", js.Handle))
		}
		s.armExpiry(h, js.FireTime)
	case JobRuleTimer:
		a, err := find(ActivationState{Rule: js.Rule, Handles: js.Handles})
		if err != nil {
			return err
		}
		a.Recency = js.Recency
		cals, _ := s.calendars.Resolve(a.Rule.Calendars)
		var trig timer.Trigger = timer.NewPointInTimeTrigger(js.FireTime, cals)
		if spec := a.Rule.Timer; spec != nil && spec.Kind == ir.TimerInterval && spec.Period > 0 {
			remaining := 0
			if spec.RepeatLimit > 0 {
				remaining = max(spec.RepeatLimit-js.Fired, 1)
			}
			trig = timer.NewIntervalTrigger(js.FireTime, timer.NoEnd, spec.Period, remaining, cals)
		}
		s.armRuleTimer(a, trig)
	default:
		return usageError("restore", fmt.Errorf("unknown job kind %q", js.Kind))
	}
	return nil
}
