package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/rulecore/internal/ir"
)

// CompileRuleBase compiles a rule-base value into an ir.RuleBase.
// The value carries up to three top-level fields:
//
//	type: Reading: {role: "event", timestamp_field: "at", expires: "10m"}
//	rule: "too-hot": {
//		salience: 10
//		when: [{pattern: {type: "Reading", bind: "r", where: [{field: "celsius", op: ">", value: 40}]}}]
//		then: [{insert: {type: "Alarm", fields: {sensor: "${r.sensor}"}}}]
//	}
//	session: {clock: "pseudo"}
//
// Rules keep their declaration order. Errors are collected rather than
// returned at the first failure; the rule base holds everything that did
// compile.
func CompileRuleBase(v cue.Value) (*ir.RuleBase, []error) {
	if err := v.Validate(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	if err := checkFields(v, "rulebase", "type", "rule", "session"); err != nil {
		return nil, []error{err}
	}

	rb := &ir.RuleBase{}
	var errs []error

	if typesVal := lookup(v, "type"); typesVal.Exists() {
		iter, err := typesVal.Fields()
		if err != nil {
			errs = append(errs, formatCUEError(err))
		} else {
			for iter.Next() {
				decl, err := compileType(iter.Label(), iter.Value())
				if err != nil {
					errs = append(errs, err)
					continue
				}
				rb.Types = append(rb.Types, decl)
			}
		}
	}

	if sessVal := lookup(v, "session"); sessVal.Exists() {
		cfg, err := compileSession(sessVal)
		if err != nil {
			errs = append(errs, err)
		} else {
			rb.Session = cfg
		}
	}

	if rulesVal := lookup(v, "rule"); rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			errs = append(errs, formatCUEError(err))
		} else {
			for iter.Next() {
				spec, err := CompileRule(iter.Label(), iter.Value())
				if err != nil {
					errs = append(errs, err)
					continue
				}
				rb.Rules = append(rb.Rules, *spec)
			}
		}
	}

	if len(rb.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, errorAt(v, "rule", "no rules found"))
	}
	return rb, errs
}

// CompileString compiles rule-base source held in memory. filename is used
// in error positions.
func CompileString(src, filename string) (*ir.RuleBase, []error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return CompileRuleBase(v)
}

func compileType(name string, v cue.Value) (ir.TypeDecl, error) {
	decl := ir.TypeDecl{Name: name}
	if err := checkFields(v, "type", "supertypes", "role", "expires", "timestamp_field"); err != nil {
		return decl, err
	}
	var err error
	if decl.Supertypes, err = stringList(v, "supertypes"); err != nil {
		return decl, err
	}
	role, err := optString(v, "role")
	if err != nil {
		return decl, err
	}
	switch ir.TypeRole(role) {
	case "":
	case ir.RoleFact, ir.RoleEvent:
		decl.Role = ir.TypeRole(role)
	default:
		return decl, errorAt(lookup(v, "role"), "type", "%s: role must be fact or event, got %q", name, role)
	}
	if decl.Expires, err = optDuration(v, "expires"); err != nil {
		return decl, err
	}
	if decl.TimestampField, err = optString(v, "timestamp_field"); err != nil {
		return decl, err
	}
	if decl.Role != ir.RoleEvent && (decl.Expires != 0 || decl.TimestampField != "") {
		return decl, errorAt(v, "type", "%s: expires and timestamp_field need role event", name)
	}
	return decl, nil
}

func compileSession(v cue.Value) (ir.SessionConfig, error) {
	var cfg ir.SessionConfig
	if err := checkFields(v, "session", "clock", "start_time", "entry_points"); err != nil {
		return cfg, err
	}
	var err error
	if cfg.Clock, err = optString(v, "clock"); err != nil {
		return cfg, err
	}
	start := lookup(v, "start_time")
	if start.Exists() {
		if cfg.StartTime, err = start.Int64(); err != nil {
			return cfg, formatCUEError(err)
		}
	}
	if cfg.EntryPoints, err = stringList(v, "entry_points"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// CompileRule compiles one rule struct. The rule's consequence is built from
// its then-actions.
func CompileRule(name string, v cue.Value) (*ir.RuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := checkFields(v, "rule",
		"salience", "no_loop", "agenda_group", "auto_focus", "activation_group",
		"timer", "durations", "calendars", "when", "then",
	); err != nil {
		return nil, err
	}

	spec := &ir.RuleSpec{Name: name}
	var err error
	if spec.Salience, err = optInt(v, "salience"); err != nil {
		return nil, err
	}
	if spec.NoLoop, err = optBool(v, "no_loop"); err != nil {
		return nil, err
	}
	if spec.AgendaGroup, err = optString(v, "agenda_group"); err != nil {
		return nil, err
	}
	if spec.AutoFocus, err = optBool(v, "auto_focus"); err != nil {
		return nil, err
	}
	if spec.ActivationGroup, err = optString(v, "activation_group"); err != nil {
		return nil, err
	}
	if spec.Calendars, err = stringList(v, "calendars"); err != nil {
		return nil, err
	}
	if timerVal := lookup(v, "timer"); timerVal.Exists() {
		if spec.Timer, err = compileTimer(timerVal); err != nil {
			return nil, err
		}
	}
	if spec.Durations, err = compileDurations(v); err != nil {
		return nil, err
	}

	whenVal := lookup(v, "when")
	if !whenVal.Exists() {
		return nil, errorAt(v, "when", "rule %s: when is required", name)
	}
	if spec.Conditions, err = compileConditions(whenVal); err != nil {
		return nil, err
	}

	thenVal := lookup(v, "then")
	if !thenVal.Exists() {
		return nil, errorAt(v, "then", "rule %s: then is required", name)
	}
	if spec.Actions, err = compileActions(thenVal); err != nil {
		return nil, err
	}
	cons, err := Consequence(spec.Actions)
	if err != nil {
		return nil, errorAt(thenVal, "then", "rule %s: %v", name, err)
	}
	spec.Consequence = cons
	return spec, nil
}

func compileTimer(v cue.Value) (*ir.TimerSpec, error) {
	if err := checkFields(v, "timer", "kind", "delay", "period", "repeat_limit"); err != nil {
		return nil, err
	}
	t := &ir.TimerSpec{}
	kind, err := optString(v, "kind")
	if err != nil {
		return nil, err
	}
	if t.Delay, err = optDuration(v, "delay"); err != nil {
		return nil, err
	}
	if t.Period, err = optDuration(v, "period"); err != nil {
		return nil, err
	}
	if t.RepeatLimit, err = optInt(v, "repeat_limit"); err != nil {
		return nil, err
	}
	switch {
	case kind != "":
		t.Kind = ir.TimerKind(kind)
	case t.Period > 0:
		t.Kind = ir.TimerInterval
	default:
		t.Kind = ir.TimerDuration
	}
	if t.Kind != ir.TimerDuration && t.Kind != ir.TimerInterval {
		return nil, errorAt(v, "timer", "unsupported timer kind %q", kind)
	}
	return t, nil
}

func compileDurations(v cue.Value) ([]ir.DurationSpec, error) {
	f := lookup(v, "durations")
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.DurationSpec
	for iter.Next() {
		dv := iter.Value()
		if err := checkFields(dv, "durations", "duration", "event_var"); err != nil {
			return nil, err
		}
		d, err := optDuration(dv, "duration")
		if err != nil {
			return nil, err
		}
		ev, err := optString(dv, "event_var")
		if err != nil {
			return nil, err
		}
		out = append(out, ir.DurationSpec{Duration: d, EventVar: ev})
	}
	return out, nil
}

func compileConditions(v cue.Value) ([]ir.Condition, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.Condition
	for iter.Next() {
		kind, body, err := single(iter.Value(), "when")
		if err != nil {
			return nil, err
		}
		switch ir.ConditionKind(kind) {
		case ir.CondPattern, ir.CondNot, ir.CondExists:
			p, err := compilePattern(body)
			if err != nil {
				return nil, err
			}
			out = append(out, ir.Condition{Kind: ir.ConditionKind(kind), Pattern: p})
		case ir.CondAccumulate:
			acc, err := compileAccumulate(body)
			if err != nil {
				return nil, err
			}
			out = append(out, ir.Condition{Kind: ir.CondAccumulate, Accumulate: acc})
		default:
			return nil, errorAt(iter.Value(), "when", "unknown condition %q", kind)
		}
	}
	return out, nil
}

func compilePattern(v cue.Value) (*ir.Pattern, error) {
	if err := checkFields(v, "pattern", "type", "bind", "from", "where", "join"); err != nil {
		return nil, err
	}
	p := &ir.Pattern{}
	var err error
	if p.Type, err = optString(v, "type"); err != nil {
		return nil, err
	}
	if p.Type == "" {
		return nil, errorAt(v, "pattern", "pattern needs a type")
	}
	if p.Bind, err = optString(v, "bind"); err != nil {
		return nil, err
	}
	if p.EntryPoint, err = optString(v, "from"); err != nil {
		return nil, err
	}
	if p.Alpha, err = compileConstraints(v, "where", true); err != nil {
		return nil, err
	}
	if p.Joins, err = compileJoins(v); err != nil {
		return nil, err
	}
	return p, nil
}

// compileConstraints reads a list of {field, op, value}. op defaults to ==.
func compileConstraints(v cue.Value, field string, needField bool) ([]ir.FieldConstraint, error) {
	f := lookup(v, field)
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.FieldConstraint
	for iter.Next() {
		cv := iter.Value()
		if err := checkFields(cv, field, "field", "op", "value"); err != nil {
			return nil, err
		}
		c := ir.FieldConstraint{}
		if c.Field, err = optString(cv, "field"); err != nil {
			return nil, err
		}
		if needField && c.Field == "" {
			return nil, errorAt(cv, field, "constraint needs a field")
		}
		op, err := optString(cv, "op")
		if err != nil {
			return nil, err
		}
		c.Op = ir.Op(op)
		if op == "" {
			c.Op = ir.OpEq
		}
		if !ir.ValidOps[c.Op] {
			return nil, errorAt(cv, field, "unsupported operator %q", op)
		}
		if val := lookup(cv, "value"); val.Exists() {
			if c.Value, err = irValue(val); err != nil {
				return nil, err
			}
		} else if c.Op != ir.OpExists {
			return nil, errorAt(cv, field, "operator %s needs a value", c.Op)
		}
		out = append(out, c)
	}
	return out, nil
}

// compileJoins reads a list of {field, op, var, var_field}. var may also be
// written "p.name" in place of var and var_field.
func compileJoins(v cue.Value) ([]ir.JoinConstraint, error) {
	f := lookup(v, "join")
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.JoinConstraint
	for iter.Next() {
		jv := iter.Value()
		if err := checkFields(jv, "join", "field", "op", "var", "var_field"); err != nil {
			return nil, err
		}
		j := ir.JoinConstraint{}
		if j.Field, err = optString(jv, "field"); err != nil {
			return nil, err
		}
		op, err := optString(jv, "op")
		if err != nil {
			return nil, err
		}
		j.Op = ir.Op(op)
		if op == "" {
			j.Op = ir.OpEq
		}
		if !ir.ValidOps[j.Op] || j.Op == ir.OpExists {
			return nil, errorAt(jv, "join", "unsupported join operator %q", op)
		}
		if j.Var, err = optString(jv, "var"); err != nil {
			return nil, err
		}
		if j.VarField, err = optString(jv, "var_field"); err != nil {
			return nil, err
		}
		if name, field, ok := strings.Cut(j.Var, "."); ok && j.VarField == "" {
			j.Var, j.VarField = name, field
		}
		if j.Field == "" || j.Var == "" {
			return nil, errorAt(jv, "join", "join needs field and var")
		}
		out = append(out, j)
	}
	return out, nil
}

func compileAccumulate(v cue.Value) (*ir.Accumulate, error) {
	if err := checkFields(v, "accumulate", "source", "func", "field", "bind", "result"); err != nil {
		return nil, err
	}
	srcVal := lookup(v, "source")
	if !srcVal.Exists() {
		return nil, errorAt(v, "accumulate", "accumulate needs a source pattern")
	}
	src, err := compilePattern(srcVal)
	if err != nil {
		return nil, err
	}
	acc := &ir.Accumulate{Source: *src}
	fn, err := optString(v, "func")
	if err != nil {
		return nil, err
	}
	acc.Func = ir.AccumulateFunc(fn)
	switch acc.Func {
	case ir.AccCount, ir.AccSum, ir.AccMin, ir.AccMax, ir.AccCollect:
	default:
		return nil, errorAt(v, "accumulate", "unsupported accumulate function %q", fn)
	}
	if acc.Field, err = optString(v, "field"); err != nil {
		return nil, err
	}
	if acc.Bind, err = optString(v, "bind"); err != nil {
		return nil, err
	}
	if acc.Result, err = compileConstraints(v, "result", false); err != nil {
		return nil, err
	}
	return acc, nil
}

// compileActions reads the then list. Each element is a one-key struct:
//
//	{insert: {type: "Alarm", fields: {...}}}
//	{insert_logical: {type: "Adult", fields: {...}}}
//	{update: {target: "p", type: "Person", fields: {...}}}
//	{modify: {target: "p", fields: {...}}}
//	{delete: "p"}
//	{halt: true}
//	{focus: "billing"}
func compileActions(v cue.Value) ([]ir.ActionSpec, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.ActionSpec
	for iter.Next() {
		kind, body, err := single(iter.Value(), "then")
		if err != nil {
			return nil, err
		}
		a := ir.ActionSpec{Kind: ir.ActionKind(kind)}
		switch a.Kind {
		case ir.ActInsert, ir.ActInsertLogical, ir.ActUpdate, ir.ActModify:
			if err := compileActionBody(body, &a); err != nil {
				return nil, err
			}
		case ir.ActDelete:
			if a.Target, err = body.String(); err != nil {
				return nil, errorAt(body, "then", "delete takes a variable name")
			}
		case ir.ActHalt:
			if b, err := body.Bool(); err != nil || !b {
				return nil, errorAt(body, "then", "halt takes true")
			}
		case ir.ActFocus:
			if a.Group, err = body.String(); err != nil {
				return nil, errorAt(body, "then", "focus takes an agenda group name")
			}
		default:
			return nil, errorAt(iter.Value(), "then", "unknown action %q", kind)
		}
		out = append(out, a)
	}
	return out, nil
}

func compileActionBody(v cue.Value, a *ir.ActionSpec) error {
	if err := checkFields(v, "then", "type", "target", "fields"); err != nil {
		return err
	}
	var err error
	if a.Type, err = optString(v, "type"); err != nil {
		return err
	}
	if a.Target, err = optString(v, "target"); err != nil {
		return err
	}
	fieldsVal := lookup(v, "fields")
	if !fieldsVal.Exists() {
		return nil
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		fv := iter.Value()
		if fv.IncompleteKind() == cue.StringKind {
			s, err := fv.String()
			if err != nil {
				return formatCUEError(err)
			}
			if a.Fields == nil {
				a.Fields = map[string]string{}
			}
			a.Fields[iter.Label()] = s
			continue
		}
		val, err := irValue(fv)
		if err != nil {
			return fmt.Errorf("field %q: %w", iter.Label(), err)
		}
		if a.Values == nil {
			a.Values = ir.IRObject{}
		}
		a.Values[iter.Label()] = val
	}
	return nil
}
