package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/timer"
)

// Validation error codes (E100-E199)
const (
	// Type declaration errors (E100-E104)
	ErrDuplicateType    = "E100" // type declared twice
	ErrUnknownSupertype = "E101" // supertype not declared
	ErrInvalidEventType = "E102" // event attributes on a fact type, or bad expiry

	// Rule structure errors (E105-E109)
	ErrDuplicateRule     = "E105" // rule name used twice
	ErrNoConditions      = "E106" // rule has an empty when
	ErrFirstCondition    = "E107" // first condition is not a positive pattern
	ErrNoConsequence     = "E108" // rule has neither actions nor a consequence
	ErrInvalidAttributes = "E109" // salience/group attributes inconsistent

	// Condition errors (E110-E115)
	ErrUnknownType       = "E110" // pattern type not declared
	ErrInvalidOperator   = "E111" // unsupported constraint operator
	ErrUndefinedVariable = "E112" // join or template references an unbound variable
	ErrDuplicateBinding  = "E113" // variable bound twice
	ErrInvalidAccumulate = "E114" // bad accumulate function or missing field/bind
	ErrUnknownEntryPoint = "E115" // pattern reads an undeclared entry point

	// Timer and action errors (E116-E120)
	ErrInvalidTimer    = "E116" // bad timer, duration or calendar reference
	ErrInvalidAction   = "E117" // action missing type, target or group
	ErrInvalidTemplate = "E118" // malformed ${...} template
	ErrInvalidSession  = "E119" // bad session configuration
	ErrInvalidValue    = "E120" // float or unsupported literal
)

// ValidationError represents a rule-base validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled rule base for structural errors.
// Returns all errors found (does not fail-fast). A rule base that validates
// cleanly builds without a BuildError.
func Validate(rb *ir.RuleBase) []ValidationError {
	v := &validator{rb: rb, types: map[string]*ir.TypeDecl{}}
	v.validateTypes()
	v.validateSession()

	seen := map[string]bool{}
	for i := range rb.Rules {
		r := &rb.Rules[i]
		field := fmt.Sprintf("rule.%s", r.Name)
		if r.Name == "" {
			field = fmt.Sprintf("rule[%d]", i)
			v.add(field, ErrDuplicateRule, "rule has no name")
		} else if seen[r.Name] {
			v.add(field, ErrDuplicateRule, fmt.Sprintf("rule %q declared twice", r.Name))
		}
		seen[r.Name] = true
		v.validateRule(field, r)
	}
	return v.errs
}

type validator struct {
	rb    *ir.RuleBase
	types map[string]*ir.TypeDecl
	errs  []ValidationError
}

func (v *validator) add(field, code, msg string) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: msg, Code: code})
}

func (v *validator) validateTypes() {
	for i := range v.rb.Types {
		t := &v.rb.Types[i]
		field := "type." + t.Name
		if _, dup := v.types[t.Name]; dup {
			v.add(field, ErrDuplicateType, fmt.Sprintf("type %q declared twice", t.Name))
			continue
		}
		v.types[t.Name] = t
		if t.Role != ir.RoleEvent && (t.Expires != 0 || t.TimestampField != "") {
			v.add(field, ErrInvalidEventType, "expires and timestamp_field need role event")
		}
		if t.Expires < 0 {
			v.add(field+".expires", ErrInvalidEventType, "expiry must not be negative")
		}
	}
	for _, t := range v.rb.Types {
		for _, s := range t.Supertypes {
			if _, ok := v.types[s]; !ok {
				v.add("type."+t.Name+".supertypes", ErrUnknownSupertype, fmt.Sprintf("unknown supertype %q", s))
			}
		}
	}
}

func (v *validator) validateSession() {
	cfg := v.rb.Session
	if cfg.Clock != "" {
		if _, err := timer.ParseClockType(cfg.Clock); err != nil {
			v.add("session.clock", ErrInvalidSession, err.Error())
		}
	}
	if cfg.StartTime < 0 {
		v.add("session.start_time", ErrInvalidSession, "start time must not be negative")
	}
	seen := map[string]bool{ir.DefaultEntryPoint: true}
	for _, ep := range cfg.EntryPoints {
		if ep == "" || seen[ep] {
			v.add("session.entry_points", ErrInvalidSession, fmt.Sprintf("entry point %q empty or declared twice", ep))
		}
		seen[ep] = true
	}
}

// binding records what a rule variable is bound to.
type binding struct {
	pattern *ir.Pattern // nil for accumulate results
}

func (v *validator) validateRule(field string, r *ir.RuleSpec) {
	if len(r.Conditions) == 0 {
		v.add(field+".when", ErrNoConditions, "rule has no conditions")
	}
	if r.Consequence == nil && len(r.Actions) == 0 {
		v.add(field+".then", ErrNoConsequence, "rule has no actions")
	}
	if r.AutoFocus && r.AgendaGroup == "" {
		v.add(field+".auto_focus", ErrInvalidAttributes, "auto_focus needs an agenda_group")
	}

	bound := map[string]binding{}
	for i, c := range r.Conditions {
		cf := fmt.Sprintf("%s.when[%d]", field, i)
		if i == 0 && c.Kind != ir.CondPattern {
			v.add(cf, ErrFirstCondition, "first condition must be a positive pattern")
		}
		switch c.Kind {
		case ir.CondPattern, ir.CondNot, ir.CondExists:
			if c.Pattern == nil {
				v.add(cf, ErrFirstCondition, "missing pattern")
				continue
			}
			if i == 0 && len(c.Pattern.Joins) > 0 {
				v.add(cf+".join", ErrUndefinedVariable, "first pattern cannot join earlier bindings")
			}
			v.validatePattern(cf, c.Pattern, bound)
			if c.Kind == ir.CondPattern && c.Pattern.Bind != "" {
				v.bind(cf+".bind", c.Pattern.Bind, binding{pattern: c.Pattern}, bound)
			}
		case ir.CondAccumulate:
			a := c.Accumulate
			if a == nil {
				v.add(cf, ErrInvalidAccumulate, "missing accumulate")
				continue
			}
			v.validatePattern(cf+".source", &a.Source, bound)
			switch a.Func {
			case ir.AccCount, ir.AccCollect:
			case ir.AccSum, ir.AccMin, ir.AccMax:
				if a.Field == "" {
					v.add(cf+".field", ErrInvalidAccumulate, fmt.Sprintf("%s needs a field", a.Func))
				}
			default:
				v.add(cf+".func", ErrInvalidAccumulate, fmt.Sprintf("unsupported accumulate function %q", a.Func))
			}
			for _, res := range a.Result {
				if !ir.ValidOps[res.Op] {
					v.add(cf+".result", ErrInvalidOperator, fmt.Sprintf("unsupported operator %q", res.Op))
				}
			}
			if a.Bind == "" {
				v.add(cf+".bind", ErrInvalidAccumulate, "accumulate result must be bound")
			} else {
				v.bind(cf+".bind", a.Bind, binding{}, bound)
			}
		default:
			v.add(cf, ErrFirstCondition, fmt.Sprintf("unknown condition kind %q", c.Kind))
		}
	}

	v.validateTiming(field, r, bound)
	v.validateActions(field, r.Actions, bound)
}

func (v *validator) bind(field, name string, b binding, bound map[string]binding) {
	if _, dup := bound[name]; dup {
		v.add(field, ErrDuplicateBinding, fmt.Sprintf("variable %q bound twice", name))
		return
	}
	bound[name] = b
}

func (v *validator) validatePattern(field string, p *ir.Pattern, bound map[string]binding) {
	if p.Type == "" {
		v.add(field+".type", ErrUnknownType, "pattern has no type")
	} else if len(v.types) > 0 {
		if _, ok := v.types[p.Type]; !ok {
			v.add(field+".type", ErrUnknownType, fmt.Sprintf("unknown type %q", p.Type))
		}
	}
	if ep := p.EntryPoint; ep != "" && ep != ir.DefaultEntryPoint && !slices.Contains(v.rb.Session.EntryPoints, ep) {
		v.add(field+".from", ErrUnknownEntryPoint, fmt.Sprintf("entry point %q is not declared in session.entry_points", ep))
	}
	for _, c := range p.Alpha {
		if c.Field == "" {
			v.add(field+".where", ErrInvalidOperator, "constraint without a field")
		}
		if !ir.ValidOps[c.Op] {
			v.add(field+".where", ErrInvalidOperator, fmt.Sprintf("unsupported operator %q on field %q", c.Op, c.Field))
		}
	}
	for _, j := range p.Joins {
		if !ir.ValidOps[j.Op] || j.Op == ir.OpExists {
			v.add(field+".join", ErrInvalidOperator, fmt.Sprintf("unsupported join operator %q", j.Op))
		}
		b, ok := bound[j.Var]
		switch {
		case !ok:
			v.add(field+".join", ErrUndefinedVariable, fmt.Sprintf("unknown variable %q", j.Var))
		case b.pattern == nil && j.VarField != "":
			v.add(field+".join", ErrUndefinedVariable, fmt.Sprintf("%q is an accumulate result and has no field %q", j.Var, j.VarField))
		case b.pattern != nil && j.VarField == "":
			v.add(field+".join", ErrUndefinedVariable, fmt.Sprintf("join on fact variable %q needs var_field", j.Var))
		}
	}
}

func (v *validator) validateTiming(field string, r *ir.RuleSpec, bound map[string]binding) {
	if t := r.Timer; t != nil {
		switch t.Kind {
		case ir.TimerDuration:
		case ir.TimerInterval:
			if t.Period <= 0 {
				v.add(field+".timer", ErrInvalidTimer, "interval timer needs a positive period")
			}
		default:
			v.add(field+".timer", ErrInvalidTimer, fmt.Sprintf("unsupported timer kind %q", t.Kind))
		}
		if t.Delay < 0 || t.RepeatLimit < 0 {
			v.add(field+".timer", ErrInvalidTimer, "delay and repeat_limit must not be negative")
		}
	}
	for i, d := range r.Durations {
		df := fmt.Sprintf("%s.durations[%d]", field, i)
		if d.Duration < 0 {
			v.add(df, ErrInvalidTimer, "negative duration")
		}
		if d.EventVar == "" {
			continue
		}
		b, ok := bound[d.EventVar]
		if !ok || b.pattern == nil {
			v.add(df, ErrUndefinedVariable, fmt.Sprintf("event_var %q is not a bound fact", d.EventVar))
			continue
		}
		if t, ok := v.types[b.pattern.Type]; ok && t.Role != ir.RoleEvent {
			v.add(df, ErrInvalidTimer, fmt.Sprintf("event_var %q is bound to %s, which is not an event type", d.EventVar, t.Name))
		}
	}
	for _, c := range r.Calendars {
		if c == "" {
			v.add(field+".calendars", ErrInvalidTimer, "empty calendar name")
		}
	}
}

func (v *validator) validateActions(field string, actions []ir.ActionSpec, bound map[string]binding) {
	for i, a := range actions {
		af := fmt.Sprintf("%s.then[%d]", field, i)
		checkTarget := func() {
			if a.Target == "" {
				v.add(af, ErrInvalidAction, fmt.Sprintf("%s needs a target", a.Kind))
				return
			}
			if b, ok := bound[a.Target]; !ok || b.pattern == nil {
				v.add(af, ErrUndefinedVariable, fmt.Sprintf("target %q is not a bound fact", a.Target))
			}
		}
		switch a.Kind {
		case ir.ActInsert, ir.ActInsertLogical:
			if a.Type == "" {
				v.add(af, ErrInvalidAction, fmt.Sprintf("%s needs a type", a.Kind))
			} else if len(v.types) > 0 {
				if _, ok := v.types[a.Type]; !ok {
					v.add(af, ErrUnknownType, fmt.Sprintf("unknown type %q", a.Type))
				}
			}
		case ir.ActUpdate, ir.ActModify:
			checkTarget()
		case ir.ActDelete:
			checkTarget()
		case ir.ActHalt:
		case ir.ActFocus:
			if a.Group == "" {
				v.add(af, ErrInvalidAction, "focus needs a group")
			}
		default:
			v.add(af, ErrInvalidAction, fmt.Sprintf("unknown action %q", a.Kind))
		}

		for _, name := range sortedKeys(a.Fields) {
			t, err := parseTemplate(a.Fields[name])
			if err != nil {
				v.add(af+".fields."+name, ErrInvalidTemplate, err.Error())
				continue
			}
			for _, ref := range t.refs() {
				b, ok := bound[ref.Var]
				switch {
				case !ok:
					v.add(af+".fields."+name, ErrUndefinedVariable, fmt.Sprintf("%s references unbound variable %q", ref, ref.Var))
				case b.pattern == nil && ref.Field != "":
					v.add(af+".fields."+name, ErrUndefinedVariable, fmt.Sprintf("%s: accumulate result %q has no fields", ref, ref.Var))
				}
			}
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
