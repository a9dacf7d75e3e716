package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/timer"
	"github.com/roach88/rulecore/internal/tms"
)

// Session is one working memory over an immutable Network: a fact store,
// matching memory, agenda, truth maintenance and a scheduler.
//
// CRITICAL: a session is single-writer. Insert, Update, Delete, FireAll,
// AdvanceTime and the other mutating methods must be called from one
// goroutine at a time; there is no internal locking. Halt and Notify are
// the exceptions: they may be called from any goroutine and only take
// effect on the driving goroutine.
//
// Many sessions may share one Network concurrently.
type Session struct {
	id     string
	net    *network.Network
	mem    *network.Memory
	facts  *factstore.Store
	agenda *agenda.Agenda
	tms    *tms.TMS
	clock  *PropagationClock

	sched     timer.Scheduler
	pseudo    *timer.PseudoScheduler   // nil for real-time sessions
	realtime  *timer.RealtimeScheduler // nil for pseudo sessions
	clockType timer.ClockType
	calendars timer.Calendars
	timers    map[string]*timer.CompositeMaxDurationTimer // by rule

	queue    *notificationQueue
	logger   *slog.Logger
	listener Listener
	equality factstore.Equality
	maxFires int

	activations map[*network.Tuple]*agenda.Activation
	ruleJobs    map[*agenda.Activation]*timer.JobHandle
	expiries    map[*factstore.Handle]*timer.JobHandle
	jobs        map[*timer.JobHandle]jobRef

	firing    *agenda.Activation
	restoring bool
	cascade   []*factstore.Handle // logical facts that lost their support
	evalErrs  []*network.EvaluationError

	halted   atomic.Bool
	disposed atomic.Bool
}

// jobRef ties a scheduled job back to what it serves.
type jobRef struct {
	activation *agenda.Activation
	fact       *factstore.Handle
}

type sessionConfig struct {
	clockType timer.ClockType
	startTime int64
	logger    *slog.Logger
	listener  Listener
	idGen     IDGenerator
	now       timer.NowFunc
	calendars timer.Calendars
	equality  factstore.Equality
	maxFires  int
}

// Option configures a session.
type Option func(*sessionConfig)

// WithClock selects the clock discipline. Default: timer.ClockRealtime.
func WithClock(ct timer.ClockType) Option {
	return func(c *sessionConfig) { c.clockType = ct }
}

// WithStartTime sets the pseudo clock's initial time in epoch ms.
func WithStartTime(ms int64) Option {
	return func(c *sessionConfig) { c.startTime = ms }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) { c.logger = l }
}

// WithListener installs a session listener.
func WithListener(l Listener) Option {
	return func(c *sessionConfig) { c.listener = l }
}

// WithIDGenerator sets the session ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *sessionConfig) { c.idGen = g }
}

// WithNow replaces the wall clock of a real-time session.
func WithNow(now timer.NowFunc) Option {
	return func(c *sessionConfig) { c.now = now }
}

// WithCalendars registers the calendars rules may name.
func WithCalendars(cals timer.Calendars) Option {
	return func(c *sessionConfig) { c.calendars = cals }
}

// WithEquality selects how stated inserts detect duplicates.
// Default: factstore.Identity.
func WithEquality(e factstore.Equality) Option {
	return func(c *sessionConfig) { c.equality = e }
}

// WithMaxFires sets the fire quota per FireAll call. Zero or less disables
// it. Default: DefaultMaxFires.
func WithMaxFires(n int) Option {
	return func(c *sessionConfig) { c.maxFires = n }
}

// ConfigOptions turns the declarative session settings of a rule base into
// options. Explicit options passed after them win.
func ConfigOptions(cfg ir.SessionConfig) ([]Option, error) {
	ct, err := timer.ParseClockType(cfg.Clock)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithClock(ct)}
	if cfg.StartTime != 0 {
		opts = append(opts, WithStartTime(cfg.StartTime))
	}
	return opts, nil
}

// NewSession creates an empty session over net.
func NewSession(net *network.Network, opts ...Option) (*Session, error) {
	cfg := sessionConfig{
		clockType: timer.ClockRealtime,
		logger:    slog.Default(),
		listener:  NoopListener{},
		idGen:     UUIDv7Generator{},
		maxFires:  DefaultMaxFires,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		id:          cfg.idGen.Generate(),
		net:         net,
		mem:         network.NewMemory(net),
		facts:       factstore.New(net.EntryPoints()...),
		agenda:      agenda.NewAgenda(),
		tms:         tms.New(),
		clock:       NewPropagationClock(),
		clockType:   cfg.clockType,
		calendars:   cfg.calendars,
		timers:      make(map[string]*timer.CompositeMaxDurationTimer),
		queue:       newNotificationQueue(),
		logger:      cfg.logger,
		listener:    cfg.listener,
		equality:    cfg.equality,
		maxFires:    cfg.maxFires,
		activations: make(map[*network.Tuple]*agenda.Activation),
		ruleJobs:    make(map[*agenda.Activation]*timer.JobHandle),
		expiries:    make(map[*factstore.Handle]*timer.JobHandle),
		jobs:        make(map[*timer.JobHandle]jobRef),
	}

	for _, rule := range net.Rules() {
		if _, err := s.calendars.Resolve(rule.Calendars); err != nil {
			return nil, usageError(fmt.Sprintf("rule %q", rule.Name), err)
		}
		if ct := timer.NewCompositeMaxDurationTimer(rule); ct != nil {
			s.timers[rule.Name] = ct
		}
	}

	switch cfg.clockType {
	case timer.ClockPseudo:
		s.pseudo = timer.NewPseudoScheduler(cfg.startTime, s.logger)
		s.sched = s.pseudo
	case timer.ClockRealtime:
		ropts := []timer.RealtimeOption{timer.WithSchedulerLogger(s.logger)}
		if cfg.now != nil {
			ropts = append(ropts, timer.WithNowFunc(cfg.now))
		}
		s.realtime = timer.NewRealtimeScheduler(func() {
			s.queue.Enqueue(Notification{Type: NotifyTimers})
		}, ropts...)
		s.sched = s.realtime
	default:
		return nil, usageError("new session", fmt.Errorf("unknown clock type %q", cfg.clockType))
	}

	s.logger.Info("session created",
		"session", s.id,
		"clock", string(s.clockType),
		"rules", len(net.Rules()),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Network returns the shared network the session matches against.
func (s *Session) Network() *network.Network { return s.net }

// ClockType returns the session's clock discipline.
func (s *Session) ClockType() timer.ClockType { return s.clockType }

func (s *Session) checkLive(op string) error {
	if s.disposed.Load() {
		return usageError(op, ErrDisposed)
	}
	return nil
}

// Insert adds a stated fact to the default entry point.
func (s *Session) Insert(f ir.Fact) (*factstore.Handle, error) {
	return s.InsertInto(ir.DefaultEntryPoint, f)
}

// InsertInto adds a stated fact to a named entry point.
//
// Inserting a fact value-equal to a logical fact turns that fact into a
// stated one: its justifications are dropped and its handle returned.
func (s *Session) InsertInto(entryPoint string, f ir.Fact) (*factstore.Handle, error) {
	if err := s.checkLive("insert"); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, usageError("insert", ErrUntypedFact)
	}
	key, err := ir.FactKey(f)
	if err != nil {
		return nil, usageError("insert", err)
	}
	if h, ok := s.tms.Lookup(entryPoint, key); ok {
		s.tms.Clear(h)
		h.SetLogical(false)
		s.logger.Debug("logical fact became stated", "handle", h.ID())
		return h, nil
	}
	return s.insert(entryPoint, f, s.equality, false)
}

// insert creates and propagates a handle.
func (s *Session) insert(entryPoint string, f ir.Fact, eq factstore.Equality, logical bool) (*factstore.Handle, error) {
	h, created, err := s.store(entryPoint, f, eq, logical)
	if err != nil || !created {
		return h, err
	}
	s.propagateInserted(h)
	return h, nil
}

// insertDeferred stores a logical fact without propagating it.
func (s *Session) insertDeferred(entryPoint string, f ir.Fact) (*factstore.Handle, error) {
	h, _, err := s.store(entryPoint, f, factstore.Identity, true)
	return h, err
}

func (s *Session) store(entryPoint string, f ir.Fact, eq factstore.Equality, logical bool) (*factstore.Handle, bool, error) {
	decl, declared := s.net.TypeDecl(f.Type)
	event := declared && decl.Role == ir.RoleEvent
	ts := s.CurrentTime()
	if event && decl.TimestampField != "" {
		if v, ok := f.Get(decl.TimestampField); ok {
			if n, ok := v.(ir.IRInt); ok {
				ts = int64(n)
			}
		}
	}

	h, created, err := s.facts.Insert(f, factstore.InsertOptions{
		EntryPoint: entryPoint,
		Equality:   eq,
		Mask:       s.net.Mask(f.Type),
		Timestamp:  ts,
		Event:      event,
		Logical:    logical,
		Recency:    s.clock.Current() + 1,
	})
	if err != nil {
		return nil, false, usageError("insert", err)
	}
	if created {
		s.clock.Next()
	}
	return h, created, nil
}

func (s *Session) propagateInserted(h *factstore.Handle) {
	s.logger.Debug("fact inserted",
		"handle", h.ID(),
		"fact", h.Fact().Describe(),
		"entry_point", h.EntryPoint(),
		"seq", h.Recency(),
	)
	s.listener.FactInserted(h)
	s.collect(s.mem.Assert(h, s))
	if decl, ok := s.net.TypeDecl(h.Fact().Type); ok && h.IsEvent() && decl.Expires > 0 {
		s.scheduleExpiry(h, decl.Expires)
	}
	s.drainCascade()
}

// Update replaces the value of a live fact. The fact type cannot change.
func (s *Session) Update(h *factstore.Handle, f ir.Fact) error {
	if err := s.checkLive("update"); err != nil {
		return err
	}
	if err := s.own(h); err != nil {
		return usageError("update", err)
	}
	if h.IsDeleted() {
		return usageError("update", ErrDeletedHandle)
	}
	if err := s.facts.Update(h, f); err != nil {
		return usageError("update", err)
	}
	rec := s.clock.Next()
	h.SetRecency(rec)
	s.tms.Rekey(h)

	s.logger.Debug("fact updated", "handle", h.ID(), "fact", f.Describe(), "seq", rec)
	s.listener.FactUpdated(h)
	s.collect(s.mem.Update(h, s))
	s.drainCascade()
	return nil
}

// Modify applies fn to a copy of the current value and updates the fact.
func (s *Session) Modify(h *factstore.Handle, fn func(ir.Fact) ir.Fact) error {
	if h == nil {
		return usageError("modify", ErrForeignHandle)
	}
	return s.Update(h, fn(h.Fact().Clone()))
}

// Delete removes a fact. Deleting a fact twice is a no-op. Deleting a
// logical fact drops all of its justifications.
func (s *Session) Delete(h *factstore.Handle) error {
	if err := s.checkLive("delete"); err != nil {
		return err
	}
	if h != nil && h.IsDeleted() {
		return nil
	}
	if err := s.own(h); err != nil {
		return usageError("delete", err)
	}
	s.tms.Clear(h)
	s.delete(h)
	s.drainCascade()
	return nil
}

func (s *Session) delete(h *factstore.Handle) {
	if !s.facts.Delete(h) {
		return
	}
	s.clock.Next()
	if job, ok := s.expiries[h]; ok {
		s.sched.Remove(job)
		delete(s.expiries, h)
		delete(s.jobs, job)
	}
	s.logger.Debug("fact deleted", "handle", h.ID(), "fact", h.Fact().Describe())
	s.collect(s.mem.Retract(h, s))
	s.listener.FactDeleted(h)
}

// drainCascade deletes logical facts whose support reached zero. Deleting
// one may orphan more; the loop runs until none are left.
func (s *Session) drainCascade() {
	for len(s.cascade) > 0 {
		h := s.cascade[0]
		s.cascade = s.cascade[1:]
		if h.IsDeleted() {
			continue
		}
		s.logger.Debug("logical fact lost support", "handle", h.ID())
		s.delete(h)
	}
}

func (s *Session) own(h *factstore.Handle) error {
	if h == nil {
		return ErrForeignHandle
	}
	if got, ok := s.facts.Lookup(h.ID()); ok && got == h {
		return nil
	}
	if h.IsDeleted() {
		return ErrDeletedHandle
	}
	return ErrForeignHandle
}

func (s *Session) resolve(ref ir.FactRef) (*factstore.Handle, error) {
	h, ok := ref.(*factstore.Handle)
	if !ok || h == nil {
		return nil, ErrForeignHandle
	}
	return h, nil
}

// collect records isolated evaluation errors. The affected tuples were
// treated as not matching and propagation continued.
func (s *Session) collect(errs []*network.EvaluationError) {
	for _, e := range errs {
		s.logger.Warn("evaluation failed",
			"node", int(e.Node),
			"kind", e.Kind.String(),
			"handle", e.HandleID,
			"error", e.Err,
		)
		s.listener.EvaluationFailed(e)
	}
	s.evalErrs = append(s.evalErrs, errs...)
}

// EvaluationErrors returns the evaluation errors collected since the last
// call, each wrapped as an ErrCodeEvaluation RuntimeError, and forgets them.
func (s *Session) EvaluationErrors() []error {
	if len(s.evalErrs) == 0 {
		return nil
	}
	out := make([]error, len(s.evalErrs))
	for i, e := range s.evalErrs {
		out[i] = &RuntimeError{Code: ErrCodeEvaluation, Message: "predicate failed", Err: e}
	}
	s.evalErrs = nil
	return out
}

// Notify asks the session to re-propagate the current value of h, for facts
// whose predicates depend on state outside the fact value. Safe from any
// goroutine; the notification is processed by the next FireAll or by a
// running FireUntilHalt.
func (s *Session) Notify(h *factstore.Handle) bool {
	return s.queue.Enqueue(Notification{Type: NotifyFact, Handle: h})
}

// flush processes queued notifications on the driving goroutine.
func (s *Session) flush() error {
	var errs []error
	if s.realtime != nil {
		if _, err := s.realtime.RunDue(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range s.queue.Drain() {
		switch n.Type {
		case NotifyFact:
			if n.Handle == nil || n.Handle.IsDeleted() || s.own(n.Handle) != nil {
				continue
			}
			n.Handle.SetRecency(s.clock.Next())
			s.listener.FactUpdated(n.Handle)
			s.collect(s.mem.Update(n.Handle, s))
			s.drainCascade()
		case NotifyTimers:
			if s.realtime != nil {
				if _, err := s.realtime.RunDue(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Facts returns the live facts in handle ID order.
func (s *Session) Facts() []*factstore.Handle {
	return s.facts.Handles()
}

// FactsIn returns the live facts of one entry point in handle ID order.
func (s *Session) FactsIn(entryPoint string) []*factstore.Handle {
	return s.facts.HandlesIn(entryPoint)
}

// Lookup finds a live fact by handle ID.
func (s *Session) Lookup(id int64) (*factstore.Handle, bool) {
	return s.facts.Lookup(id)
}

// Agenda returns the queued activations in firing order.
func (s *Session) Agenda() []*agenda.Activation {
	return s.agenda.Activations()
}

// Matches returns the live complete matches of a rule in creation order.
func (s *Session) Matches(rule string) []*network.Tuple {
	return s.mem.Matches(rule)
}

// Support returns the justification count of a logical fact, 0 for stated
// facts.
func (s *Session) Support(h *factstore.Handle) int {
	return s.tms.Support(h)
}

// SetFocus pushes an agenda group on top of the focus stack.
func (s *Session) SetFocus(group string) {
	s.agenda.SetFocus(group)
}

// FocusStack returns the focus stack from the bottom (MAIN) up.
func (s *Session) FocusStack() []string {
	return s.agenda.FocusStack()
}

// CurrentTime returns the session clock in epoch ms. Inside a job fired by
// AdvanceTime it reads the job's own fire time.
func (s *Session) CurrentTime() int64 {
	return s.sched.CurrentTime()
}

// TimeToNextJob returns milliseconds until the next scheduled job, or -1
// when none is pending.
func (s *Session) TimeToNextJob() int64 {
	return s.sched.TimeToNextJob()
}

// AdvanceTime moves a pseudo clock forward, running due rule timers and
// event expirations in fire-time order. It does not fire activations.
func (s *Session) AdvanceTime(d time.Duration) (int64, error) {
	if err := s.checkLive("advance time"); err != nil {
		return 0, err
	}
	if s.pseudo == nil {
		return s.CurrentTime(), usageError("advance time", ErrNotPseudoClock)
	}
	now, err := s.pseudo.AdvanceTime(d)
	s.drainCascade()
	return now, err
}

// Dispose stops the scheduler's background dispatch and releases the
// session's memories. A firing in progress finishes, but no further
// activation starts. Dispose is idempotent.
func (s *Session) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.sched.Shutdown()
	s.queue.Close()
	s.logger.Info("session disposed", "session", s.id, "facts", s.facts.Len())
	if s.firing == nil {
		s.release()
	}
}

func (s *Session) release() {
	for _, a := range slices.Collect(maps.Values(s.activations)) {
		s.agenda.Cancel(a)
	}
	s.activations = map[*network.Tuple]*agenda.Activation{}
	s.ruleJobs = map[*agenda.Activation]*timer.JobHandle{}
	s.expiries = map[*factstore.Handle]*timer.JobHandle{}
	s.jobs = map[*timer.JobHandle]jobRef{}
	s.mem = network.NewMemory(s.net)
}
