package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/compiler"
	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/store"
	"github.com/roach88/rulecore/internal/timer"
)

// Harness runs one scenario against a real session.
type Harness struct {
	net     *network.Network
	session *engine.Session
	store   *store.Store // opened by the first restore step
	handles map[string]*factstore.Handle
	rec     *recorder
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Rules are compiled and validated, then the steps run in order on a fresh
// session with a fixed session ID. The returned error reports a scenario
// that could not run at all (bad rules, unknown fact names). Failed
// expectations are reported in the Result instead.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with session logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (result *Result, err error) {
	rb, err := loadRules(scenario)
	if err != nil {
		return nil, err
	}
	net, err := engine.Build(rb)
	if err != nil {
		return nil, err
	}

	result = NewResult()
	h := &Harness{
		net:     net,
		handles: make(map[string]*factstore.Handle),
		rec:     &recorder{result: result},
		logger:  logger,
	}
	defer h.close()

	opts, err := engine.ConfigOptions(rb.Session)
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	switch {
	case scenario.Clock != "":
		ct, _ := timer.ParseClockType(scenario.Clock)
		opts = append(opts, engine.WithClock(ct))
	case rb.Session.Clock == "":
		opts = append(opts, engine.WithClock(timer.ClockPseudo))
	}
	if scenario.StartTime != nil {
		opts = append(opts, engine.WithStartTime(*scenario.StartTime))
	}
	opts = append(opts, engine.WithIDGenerator(engine.NewFixedGenerator("scenario:"+scenario.Name)))
	opts = append(opts, h.sessionOptions()...)

	h.session, err = engine.NewSession(net, opts...)
	if err != nil {
		return nil, err
	}
	h.rec.now = h.session.CurrentTime

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, engine.RecoverConsistency(r)
		}
	}()

	for i, step := range scenario.Steps {
		stepErr := h.execute(step)
		var se *ScenarioError
		if errors.As(stepErr, &se) {
			return nil, fmt.Errorf("steps[%d]: %w", i, se)
		}
		if !h.checkStepError(i, step, stepErr, result) {
			h.finish(result)
			return result, nil
		}
	}

	h.finish(result)
	for _, msg := range checkExpect(result, scenario.Expect) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// loadRules compiles and validates the scenario's rule base.
func loadRules(scenario *Scenario) (*ir.RuleBase, error) {
	var (
		rb   *ir.RuleBase
		errs []error
	)
	if scenario.RulesInline != "" {
		rb, errs = compiler.CompileString(scenario.RulesInline, scenario.Name+".cue")
	} else {
		rb, errs = compiler.LoadRuleBase(scenario.rulesDir())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load rules: %w", errors.Join(errs...))
	}
	if verrs := compiler.Validate(rb); len(verrs) > 0 {
		joined := make([]error, len(verrs))
		for i, e := range verrs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid rules: %w", errors.Join(joined...))
	}
	return rb, nil
}

func (h *Harness) sessionOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(h.logger),
		engine.WithListener(h.rec),
	}
}

// checkStepError compares a step's error with what it expected and reports
// whether the run should continue.
func (h *Harness) checkStepError(i int, step Step, err error, result *Result) bool {
	switch {
	case step.Error == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		return false
	case step.Error != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q", i, step.Error))
	case step.Error != "" && !strings.Contains(err.Error(), step.Error):
		result.AddError(fmt.Sprintf("steps[%d]: error %q does not contain %q", i, err, step.Error))
	}
	return true
}

// ScenarioError reports a step that cannot run as written, as opposed to
// an operation the session refused.
type ScenarioError struct {
	Message string
}

func (e *ScenarioError) Error() string { return e.Message }

func scenarioErrorf(format string, args ...any) error {
	return &ScenarioError{Message: fmt.Sprintf(format, args...)}
}

// execute runs one step and returns the session's error, if any.
func (h *Harness) execute(step Step) error {
	s := h.session
	switch {
	case step.Insert != nil:
		fields, err := ConvertFields(step.Insert.Fields)
		if err != nil {
			return scenarioErrorf("insert: %v", err)
		}
		f := ir.Fact{Type: step.Insert.Type, Fields: fields}
		var fh *factstore.Handle
		if step.Insert.EntryPoint != "" {
			fh, err = s.InsertInto(step.Insert.EntryPoint, f)
		} else {
			fh, err = s.Insert(f)
		}
		if err == nil && step.Insert.As != "" {
			h.handles[step.Insert.As] = fh
		}
		return err

	case step.Update != nil:
		fh, err := h.handle(step.Update.Ref)
		if err != nil {
			return err
		}
		fields, err := ConvertFields(step.Update.Fields)
		if err != nil {
			return scenarioErrorf("update: %v", err)
		}
		return s.Update(fh, ir.Fact{Type: fh.Fact().Type, Fields: fields})

	case step.Modify != nil:
		fh, err := h.handle(step.Modify.Ref)
		if err != nil {
			return err
		}
		fields, err := ConvertFields(step.Modify.Fields)
		if err != nil {
			return scenarioErrorf("modify: %v", err)
		}
		return s.Modify(fh, func(f ir.Fact) ir.Fact {
			for _, k := range fields.SortedKeys() {
				f = f.With(k, fields[k])
			}
			return f
		})

	case step.Delete != "":
		fh, err := h.handle(step.Delete)
		if err != nil {
			return err
		}
		return s.Delete(fh)

	case step.Fire != nil:
		_, err := s.FireAll(*step.Fire)
		return err

	case step.Advance != "":
		d, _ := time.ParseDuration(step.Advance)
		now, err := s.AdvanceTime(d)
		h.rec.add(TraceEvent{Type: EventAdvance, Time: now})
		return err

	case step.Halt:
		// Only a running FireUntilHalt observes this; FireAll clears it.
		s.Halt()
		h.rec.add(TraceEvent{Type: EventHalt, Time: s.CurrentTime()})
		return nil

	case step.Focus != "":
		s.SetFocus(step.Focus)
		return nil

	case step.Restore:
		return h.restore()
	}
	return scenarioErrorf("empty step")
}

func (h *Harness) handle(name string) (*factstore.Handle, error) {
	fh, ok := h.handles[name]
	if !ok {
		return nil, scenarioErrorf("no fact named %q", name)
	}
	return fh, nil
}

// restore round-trips the session through an in-memory snapshot store and
// carries on with the restored session.
func (h *Harness) restore() error {
	ctx := context.Background()
	if h.store == nil {
		st, err := store.Open(":memory:")
		if err != nil {
			return fmt.Errorf("failed to create in-memory store: %w", err)
		}
		h.store = st
	}

	snap, err := h.session.Snapshot()
	if err != nil {
		return err
	}
	if _, err := h.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	loaded, err := h.store.LoadSnapshot(ctx, snap.SessionID)
	if err != nil {
		return err
	}

	restored, err := engine.Restore(h.net, loaded, h.sessionOptions()...)
	if err != nil {
		return err
	}
	h.session.Dispose()
	h.session = restored
	h.rec.now = restored.CurrentTime

	for name, old := range h.handles {
		if fh, ok := restored.Lookup(old.ID()); ok {
			h.handles[name] = fh
		} else {
			delete(h.handles, name)
		}
	}
	h.rec.add(TraceEvent{Type: EventRestore, Time: restored.CurrentTime()})
	return nil
}

// finish records the final facts and time.
func (h *Harness) finish(result *Result) {
	for _, fh := range h.session.Facts() {
		result.Facts = append(result.Facts, fh.Fact().Clone())
	}
	result.Time = h.session.CurrentTime()
}

func (h *Harness) close() {
	if h.session != nil {
		h.session.Dispose()
	}
	if h.store != nil {
		h.store.Close()
	}
}

// recorder turns session events into the trace.
type recorder struct {
	engine.NoopListener
	result   *Result
	now      func() int64
	seq      int64
	lastFire int
}

func (r *recorder) add(ev TraceEvent) {
	r.seq++
	ev.Seq = r.seq
	if ev.Time == 0 && r.now != nil {
		ev.Time = r.now()
	}
	r.result.Trace = append(r.result.Trace, ev)
}

func (r *recorder) fact(typ string, fh *factstore.Handle) {
	f := fh.Fact().Clone()
	r.add(TraceEvent{Type: typ, Handle: fh.ID(), Fact: &f, Logical: fh.IsLogical()})
}

func (r *recorder) FactInserted(fh *factstore.Handle) { r.fact(EventInsert, fh) }
func (r *recorder) FactUpdated(fh *factstore.Handle)  { r.fact(EventUpdate, fh) }
func (r *recorder) FactDeleted(fh *factstore.Handle)  { r.fact(EventDelete, fh) }

func (r *recorder) BeforeFire(a *agenda.Activation) {
	r.add(TraceEvent{Type: EventFire, Rule: a.Rule.Name, Handles: a.Tuple.HandleIDs()})
	r.lastFire = len(r.result.Trace) - 1
	r.result.Fired = append(r.result.Fired, a.Rule.Name)
}

func (r *recorder) AfterFire(_ *agenda.Activation, err error) {
	if err != nil {
		r.result.Trace[r.lastFire].Error = err.Error()
	}
}
