package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rulecore/internal/ir"
)

// varRef is one "${var.field}" or "${var}" placeholder.
type varRef struct {
	Var   string
	Field string
}

func (r varRef) String() string {
	if r.Field == "" {
		return "${" + r.Var + "}"
	}
	return "${" + r.Var + "." + r.Field + "}"
}

// template is a parsed field template: literal text interleaved with
// placeholders. A template that is exactly one placeholder yields the bound
// value with its kind preserved; anything else renders to a string.
type template struct {
	parts []templatePart
}

type templatePart struct {
	text string
	ref  *varRef
}

// parseTemplate splits s on "${...}" placeholders. "$$" escapes a dollar.
func parseTemplate(s string) (template, error) {
	var (
		t   template
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			t.parts = append(t.parts, templatePart{text: buf.String()})
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			buf.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '$':
			buf.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return template{}, fmt.Errorf("unterminated placeholder in %q", s)
			}
			body := s[i+2 : i+2+end]
			name, field, _ := strings.Cut(body, ".")
			if name == "" || strings.ContainsAny(body, " \t$") || strings.Contains(field, ".") {
				return template{}, fmt.Errorf("invalid placeholder ${%s} in %q", body, s)
			}
			flush()
			t.parts = append(t.parts, templatePart{ref: &varRef{Var: name, Field: field}})
			i += 2 + end
		default:
			buf.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// refs lists the placeholders in order.
func (t template) refs() []varRef {
	var out []varRef
	for _, p := range t.parts {
		if p.ref != nil {
			out = append(out, *p.ref)
		}
	}
	return out
}

func (t template) eval(b ir.Bindings) (ir.IRValue, error) {
	if len(t.parts) == 1 && t.parts[0].ref != nil {
		return resolve(b, *t.parts[0].ref)
	}
	var sb strings.Builder
	for _, p := range t.parts {
		if p.ref == nil {
			sb.WriteString(p.text)
			continue
		}
		v, err := resolve(b, *p.ref)
		if err != nil {
			return nil, err
		}
		if s, ok := v.(ir.IRString); ok {
			sb.WriteString(string(s))
			continue
		}
		raw, err := ir.MarshalCanonical(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ref, err)
		}
		sb.Write(raw)
	}
	return ir.IRString(sb.String()), nil
}

func resolve(b ir.Bindings, r varRef) (ir.IRValue, error) {
	if r.Field == "" {
		if v, ok := b.Value(r.Var); ok {
			return v, nil
		}
		if ref, ok := b.Ref(r.Var); ok {
			return ref.Fact().Fields.Clone(), nil
		}
		return nil, fmt.Errorf("%s: unbound variable %q", r, r.Var)
	}
	ref, ok := b.Ref(r.Var)
	if !ok {
		return nil, fmt.Errorf("%s: unbound variable %q", r, r.Var)
	}
	v, ok := ref.Fact().Get(r.Field)
	if !ok {
		return nil, fmt.Errorf("%s: %s has no field %q", r, ref.Fact().Type, r.Field)
	}
	return v, nil
}

// step is one compiled action.
type step func(ctx ir.Context) error

// fieldSet is the compiled field list of an insert, update or modify.
type fieldSet struct {
	names     []string // sorted, for deterministic evaluation order
	templates map[string]template
	values    ir.IRObject
}

func compileFields(a ir.ActionSpec) (fieldSet, error) {
	fs := fieldSet{templates: make(map[string]template, len(a.Fields)), values: a.Values}
	for name, raw := range a.Fields {
		t, err := parseTemplate(raw)
		if err != nil {
			return fieldSet{}, fmt.Errorf("field %q: %w", name, err)
		}
		fs.templates[name] = t
		fs.names = append(fs.names, name)
	}
	for name := range a.Values {
		if _, dup := fs.templates[name]; dup {
			return fieldSet{}, fmt.Errorf("field %q given twice", name)
		}
		fs.names = append(fs.names, name)
	}
	slices.Sort(fs.names)
	return fs, nil
}

// apply evaluates every field into obj, overwriting what is there.
func (fs fieldSet) apply(b ir.Bindings, obj ir.IRObject) error {
	values := fs.values.Clone()
	for _, name := range fs.names {
		if t, ok := fs.templates[name]; ok {
			v, err := t.eval(b)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			obj[name] = v
			continue
		}
		obj[name] = values[name]
	}
	return nil
}

func target(ctx ir.Context, name string) (ir.FactRef, error) {
	ref, ok := ctx.Ref(name)
	if !ok {
		return nil, fmt.Errorf("unbound target %q", name)
	}
	return ref, nil
}

func compileAction(a ir.ActionSpec) (step, error) {
	switch a.Kind {
	case ir.ActInsert, ir.ActInsertLogical:
		if a.Type == "" {
			return nil, fmt.Errorf("%s needs a type", a.Kind)
		}
		fs, err := compileFields(a)
		if err != nil {
			return nil, err
		}
		logical := a.Kind == ir.ActInsertLogical
		return func(ctx ir.Context) error {
			f := ir.Fact{Type: a.Type, Fields: ir.IRObject{}}
			if err := fs.apply(ctx, f.Fields); err != nil {
				return fmt.Errorf("%s %s: %w", a.Kind, a.Type, err)
			}
			var err error
			if logical {
				_, err = ctx.InsertLogical(f)
			} else {
				_, err = ctx.Insert(f)
			}
			return err
		}, nil

	case ir.ActUpdate, ir.ActModify:
		if a.Target == "" {
			return nil, fmt.Errorf("%s needs a target", a.Kind)
		}
		fs, err := compileFields(a)
		if err != nil {
			return nil, err
		}
		replace := a.Kind == ir.ActUpdate
		return func(ctx ir.Context) error {
			ref, err := target(ctx, a.Target)
			if err != nil {
				return fmt.Errorf("%s: %w", a.Kind, err)
			}
			cur := ref.Fact()
			next := cur.Clone()
			if replace {
				next.Fields = ir.IRObject{}
				if a.Type != "" {
					next.Type = a.Type
				}
			}
			if next.Fields == nil {
				next.Fields = ir.IRObject{}
			}
			if err := fs.apply(ctx, next.Fields); err != nil {
				return fmt.Errorf("%s %s: %w", a.Kind, a.Target, err)
			}
			return ctx.Update(ref, next)
		}, nil

	case ir.ActDelete:
		if a.Target == "" {
			return nil, fmt.Errorf("delete needs a target")
		}
		return func(ctx ir.Context) error {
			ref, err := target(ctx, a.Target)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			return ctx.Delete(ref)
		}, nil

	case ir.ActHalt:
		return func(ctx ir.Context) error {
			ctx.Halt()
			return nil
		}, nil

	case ir.ActFocus:
		if a.Group == "" {
			return nil, fmt.Errorf("focus needs a group")
		}
		return func(ctx ir.Context) error {
			ctx.SetFocus(a.Group)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown action %q", a.Kind)
}

// Consequence compiles declarative actions into a consequence that runs
// them in order, stopping at the first error.
func Consequence(actions []ir.ActionSpec) (ir.Consequence, error) {
	steps := make([]step, 0, len(actions))
	for i, a := range actions {
		s, err := compileAction(a)
		if err != nil {
			return nil, fmt.Errorf("then[%d]: %w", i, err)
		}
		steps = append(steps, s)
	}
	return func(ctx ir.Context) error {
		for _, s := range steps {
			if err := s(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil
}
