package network

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/typemask"
)

// ErrUnknownRule is returned by RemoveRule for a rule that was never added.
var ErrUnknownRule = errors.New("unknown rule")

// BuildError reports a malformed rule rejected at build time.
type BuildError struct {
	Rule      string
	Condition int // -1 when the error is not tied to one condition
	Message   string
}

func (e *BuildError) Error() string {
	if e.Condition < 0 {
		return fmt.Sprintf("rule %q: %s", e.Rule, e.Message)
	}
	return fmt.Sprintf("rule %q condition %d: %s", e.Rule, e.Condition, e.Message)
}

type ruleEntry struct {
	spec      *ir.RuleSpec
	declOrder int
	nodes     []NodeID // every node the rule holds a reference on, in creation order
}

// Builder compiles rules into a node arena.
// A Builder is not safe for concurrent use; the Networks it builds are.
type Builder struct {
	types     []ir.TypeDecl
	hierarchy *typemask.Hierarchy
	strict    bool // reject pattern types that were not declared

	nodes       []*Node
	shared      map[string]NodeID
	rules       map[string]*ruleEntry
	order       []string
	nextDecl    int
	entryPoints []string
	anon        int
}

// NewBuilder encodes the type hierarchy. When types is empty every pattern
// type is accepted and receives a standalone bit; otherwise patterns may only
// name declared types.
func NewBuilder(types []ir.TypeDecl) (*Builder, error) {
	h, err := typemask.Encoder{}.Encode(types)
	if err != nil {
		return nil, &BuildError{Condition: -1, Message: err.Error()}
	}
	return &Builder{
		types:       slices.Clone(types),
		hierarchy:   h,
		strict:      len(types) > 0,
		shared:      make(map[string]NodeID),
		rules:       make(map[string]*ruleEntry),
		entryPoints: []string{ir.DefaultEntryPoint},
	}, nil
}

// BuildRuleBase builds a network from a compiled rule base.
func BuildRuleBase(rb *ir.RuleBase) (*Network, error) {
	b, err := NewBuilder(rb.Types)
	if err != nil {
		return nil, err
	}
	for _, ep := range rb.Session.EntryPoints {
		b.AddEntryPoint(ep)
	}
	for i := range rb.Rules {
		if err := b.AddRule(rb.Rules[i]); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// AddEntryPoint declares an entry point that no rule may reference yet.
func (b *Builder) AddEntryPoint(name string) {
	if !slices.Contains(b.entryPoints, name) {
		b.entryPoints = append(b.entryPoints, name)
	}
}

// AddRule compiles one rule. On error the builder is left unchanged.
func (b *Builder) AddRule(spec ir.RuleSpec) error {
	if spec.Name == "" {
		return &BuildError{Condition: -1, Message: "rule has no name"}
	}
	if _, dup := b.rules[spec.Name]; dup {
		return &BuildError{Rule: spec.Name, Condition: -1, Message: "rule declared twice"}
	}
	if err := b.validate(&spec); err != nil {
		return err
	}

	entry := &ruleEntry{spec: &spec, declOrder: b.nextDecl}
	c := &ruleCompiler{b: b, entry: entry}
	if err := c.compile(); err != nil {
		b.release(entry)
		return err
	}
	b.nextDecl++
	b.rules[spec.Name] = entry
	b.order = append(b.order, spec.Name)
	return nil
}

// RemoveRule drops a rule and frees every node no other rule references.
func (b *Builder) RemoveRule(name string) error {
	entry, ok := b.rules[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}
	b.release(entry)
	delete(b.rules, name)
	b.order = slices.DeleteFunc(b.order, func(s string) bool { return s == name })
	return nil
}

// release drops the rule's references, freeing nodes leaf first.
func (b *Builder) release(entry *ruleEntry) {
	for i := len(entry.nodes) - 1; i >= 0; i-- {
		id := entry.nodes[i]
		n := b.nodes[id]
		n.refs--
		if n.refs > 0 {
			continue
		}
		b.detach(n)
		delete(b.shared, n.key)
		b.nodes[id] = nil
	}
	entry.nodes = nil
}

func (b *Builder) detach(n *Node) {
	drop := func(list []NodeID) []NodeID {
		return slices.DeleteFunc(list, func(id NodeID) bool { return id == n.ID })
	}
	switch n.Kind {
	case KindObjectType:
	case KindAlpha:
		p := b.nodes[n.parent]
		p.children = drop(p.children)
	case KindLeftInput:
		s := b.nodes[n.source]
		s.consumers = drop(s.consumers)
	case KindTerminal:
		p := b.nodes[n.parent]
		p.betaChildren = drop(p.betaChildren)
	default:
		p := b.nodes[n.parent]
		p.betaChildren = drop(p.betaChildren)
		s := b.nodes[n.source]
		s.consumers = drop(s.consumers)
	}
}

// Rules returns the names of the current rules in declaration order.
func (b *Builder) Rules() []string {
	return slices.Clone(b.order)
}

// NodeCount returns the number of live nodes.
func (b *Builder) NodeCount() int {
	n := 0
	for _, node := range b.nodes {
		if node != nil {
			n++
		}
	}
	return n
}

func (b *Builder) validate(spec *ir.RuleSpec) error {
	fail := func(cond int, format string, args ...any) error {
		return &BuildError{Rule: spec.Name, Condition: cond, Message: fmt.Sprintf(format, args...)}
	}
	if len(spec.Conditions) == 0 {
		return fail(-1, "rule has no conditions")
	}
	if spec.Consequence == nil {
		return fail(-1, "rule has no consequence")
	}

	bound := map[string]bool{}
	checkPattern := func(i int, p *ir.Pattern, positive bool) error {
		if p == nil {
			return fail(i, "missing pattern")
		}
		if p.Type == "" {
			return fail(i, "pattern has no type")
		}
		if _, ok := b.hierarchy.Mask(p.Type); !ok && b.strict {
			return fail(i, "unknown type %q", p.Type)
		}
		for _, c := range p.Alpha {
			if !ir.ValidOps[c.Op] {
				return fail(i, "unsupported operator %q on field %q", c.Op, c.Field)
			}
			if c.Field == "" {
				return fail(i, "constraint without a field")
			}
		}
		for _, j := range p.Joins {
			if !ir.ValidOps[j.Op] || j.Op == ir.OpExists {
				return fail(i, "unsupported join operator %q", j.Op)
			}
			if !bound[j.Var] {
				return fail(i, "unknown binding %q", j.Var)
			}
		}
		if p.Bind != "" && positive {
			if bound[p.Bind] {
				return fail(i, "binding %q declared twice", p.Bind)
			}
		}
		return nil
	}

	for i, cond := range spec.Conditions {
		switch cond.Kind {
		case ir.CondPattern:
			if err := checkPattern(i, cond.Pattern, true); err != nil {
				return err
			}
			if i == 0 && (len(cond.Pattern.Joins) > 0 || cond.Pattern.JoinTest != nil) {
				return fail(i, "first pattern cannot join earlier bindings")
			}
			if cond.Pattern.Bind != "" {
				bound[cond.Pattern.Bind] = true
			}
		case ir.CondNot, ir.CondExists:
			if i == 0 {
				return fail(i, "first condition must be a positive pattern")
			}
			if err := checkPattern(i, cond.Pattern, false); err != nil {
				return err
			}
		case ir.CondAccumulate:
			if i == 0 {
				return fail(i, "first condition must be a positive pattern")
			}
			a := cond.Accumulate
			if a == nil {
				return fail(i, "missing accumulate")
			}
			if err := checkPattern(i, &a.Source, false); err != nil {
				return err
			}
			switch a.Func {
			case ir.AccCount, ir.AccCollect:
			case ir.AccSum, ir.AccMin, ir.AccMax:
				if a.Field == "" {
					return fail(i, "accumulate %s needs a field", a.Func)
				}
			default:
				return fail(i, "unsupported accumulate function %q", a.Func)
			}
			if a.Bind == "" {
				return fail(i, "accumulate result must be bound")
			}
			if bound[a.Bind] {
				return fail(i, "binding %q declared twice", a.Bind)
			}
			for _, r := range a.Result {
				if !ir.ValidOps[r.Op] {
					return fail(i, "unsupported operator %q on accumulate result", r.Op)
				}
			}
			bound[a.Bind] = true
		default:
			return fail(i, "unknown condition kind %q", cond.Kind)
		}
	}
	for _, d := range spec.Durations {
		if d.EventVar != "" && !bound[d.EventVar] {
			return fail(-1, "duration references unknown binding %q", d.EventVar)
		}
		if d.Duration < 0 {
			return fail(-1, "negative duration")
		}
	}
	if t := spec.Timer; t != nil {
		if t.Kind != ir.TimerDuration && t.Kind != ir.TimerInterval {
			return fail(-1, "unsupported timer kind %q", t.Kind)
		}
		if t.Kind == ir.TimerInterval && t.Period <= 0 {
			return fail(-1, "interval timer needs a positive period")
		}
	}
	return nil
}

// ruleCompiler walks one rule's conditions creating or sharing nodes.
type ruleCompiler struct {
	b     *Builder
	entry *ruleEntry
	held  map[NodeID]bool
}

func (c *ruleCompiler) compile() error {
	spec := c.entry.spec
	c.held = make(map[NodeID]bool)

	var left NodeID
	var lay *layout
	for i, cond := range spec.Conditions {
		switch cond.Kind {
		case ir.CondPattern:
			p := cond.Pattern
			src := c.alphaPath(p)
			if i == 0 {
				left = c.leftInput(src, p.Bind)
				lay = (*layout)(nil).extend(p.Bind, false)
				continue
			}
			left = c.beta(KindJoin, left, src, p, nil, lay)
			lay = lay.extend(p.Bind, false)
		case ir.CondNot, ir.CondExists:
			kind := KindNot
			if cond.Kind == ir.CondExists {
				kind = KindExists
			}
			src := c.alphaPath(cond.Pattern)
			left = c.beta(kind, left, src, cond.Pattern, nil, lay)
			lay = lay.extend("", false)
		case ir.CondAccumulate:
			a := cond.Accumulate
			src := c.alphaPath(&a.Source)
			left = c.beta(KindAccumulate, left, src, &a.Source, a, lay)
			lay = lay.extend(a.Bind, true)
		}
	}
	c.terminal(left, lay)
	return nil
}

// hold records the rule's reference on a node once.
func (c *ruleCompiler) hold(id NodeID) {
	if c.held[id] {
		return
	}
	c.held[id] = true
	c.b.nodes[id].refs++
	c.entry.nodes = append(c.entry.nodes, id)
}

// intern returns the shared node for key, creating it with mk when absent.
func (c *ruleCompiler) intern(key string, mk func(id NodeID) *Node) (NodeID, bool) {
	if id, ok := c.b.shared[key]; ok {
		c.hold(id)
		return id, false
	}
	id := NodeID(len(c.b.nodes))
	n := mk(id)
	n.ID = id
	n.key = key
	c.b.nodes = append(c.b.nodes, n)
	c.b.shared[key] = id
	c.hold(id)
	return id, true
}

func (c *ruleCompiler) unique(prefix string) string {
	c.b.anon++
	return fmt.Sprintf("%s#%d", prefix, c.b.anon)
}

func (c *ruleCompiler) alphaPath(p *ir.Pattern) NodeID {
	b := c.b
	ep := p.Entry()
	b.AddEntryPoint(ep)
	if _, ok := b.hierarchy.Mask(p.Type); !ok {
		b.hierarchy = b.hierarchy.Extend(p.Type)
	}
	mask, _ := b.hierarchy.Mask(p.Type)

	cur, _ := c.intern("otn|"+ep+"|"+p.Type, func(NodeID) *Node {
		return &Node{Kind: KindObjectType, EntryPoint: ep, Type: p.Type, mask: mask, parent: -1, source: -1}
	})
	for _, fc := range p.Alpha {
		fc := fc
		parent := cur
		cur, _ = c.intern(fmt.Sprintf("alpha|%d|%s", parent, fc.Key()), func(id NodeID) *Node {
			b.nodes[parent].children = append(b.nodes[parent].children, id)
			return &Node{Kind: KindAlpha, Constraint: &fc, parent: parent, source: -1, EntryPoint: ep, Type: p.Type}
		})
	}
	if p.Test != nil {
		key := p.TestKey
		if key == "" {
			key = c.unique("test")
		}
		parent := cur
		cur, _ = c.intern(fmt.Sprintf("alpha|%d|test|%s", parent, key), func(id NodeID) *Node {
			b.nodes[parent].children = append(b.nodes[parent].children, id)
			return &Node{Kind: KindAlpha, test: p.Test, parent: parent, source: -1, EntryPoint: ep, Type: p.Type}
		})
	}
	return cur
}

func (c *ruleCompiler) leftInput(src NodeID, bind string) NodeID {
	b := c.b
	id, _ := c.intern(fmt.Sprintf("lia|%d|%s", src, bind), func(id NodeID) *Node {
		b.nodes[src].consumers = append(b.nodes[src].consumers, id)
		return &Node{
			Kind:   KindLeftInput,
			parent: -1,
			source: src,
			Bind:   bind,
			layout: (*layout)(nil).extend(bind, false),
		}
	})
	return id
}

func (c *ruleCompiler) beta(kind NodeKind, left, src NodeID, p *ir.Pattern, acc *ir.Accumulate, lay *layout) NodeID {
	b := c.b
	parts := []string{kind.String(), fmt.Sprint(left), fmt.Sprint(src)}
	if kind == KindJoin {
		parts = append(parts, p.Bind)
	}
	for _, j := range p.Joins {
		parts = append(parts, j.Key())
	}
	if p.JoinTest != nil {
		key := p.JoinTestKey
		if key == "" {
			key = c.unique("jtest")
		}
		parts = append(parts, "jtest="+key)
	}
	var out *layout
	switch kind {
	case KindJoin:
		out = lay.extend(p.Bind, false)
	case KindAccumulate:
		parts = append(parts, string(acc.Func), acc.Field, acc.Bind)
		for _, r := range acc.Result {
			parts = append(parts, r.Key())
		}
		out = lay.extend(acc.Bind, true)
	default:
		out = lay.extend("", false)
	}

	id, _ := c.intern(strings.Join(parts, "|"), func(id NodeID) *Node {
		b.nodes[left].betaChildren = append(b.nodes[left].betaChildren, id)
		b.nodes[src].consumers = append(b.nodes[src].consumers, id)
		n := &Node{
			Kind:      kind,
			parent:    left,
			source:    src,
			Bind:      p.Bind,
			joins:     slices.Clone(p.Joins),
			joinTest:  p.JoinTest,
			indexJoin: -1,
			layout:    out,
		}
		if acc != nil {
			a := *acc
			n.acc = &a
			n.Bind = a.Bind
		}
		for i, j := range n.joins {
			if j.Op == ir.OpEq {
				n.indexJoin = i
				break
			}
		}
		return n
	})
	return id
}

func (c *ruleCompiler) terminal(left NodeID, lay *layout) {
	b := c.b
	spec := c.entry.spec
	c.intern("terminal|"+spec.Name, func(id NodeID) *Node {
		b.nodes[left].betaChildren = append(b.nodes[left].betaChildren, id)
		return &Node{
			Kind:     KindTerminal,
			parent:   left,
			source:   -1,
			layout:   lay,
			terminal: &Terminal{Node: id, Rule: spec, DeclOrder: c.entry.declOrder},
		}
	})
}

// Build freezes the current arena into an immutable Network.
func (b *Builder) Build() (*Network, error) {
	if len(b.rules) == 0 {
		return nil, &BuildError{Condition: -1, Message: "rule base has no rules"}
	}
	net := &Network{
		nodes:       make([]*Node, len(b.nodes)),
		hierarchy:   b.hierarchy,
		types:       make(map[string]ir.TypeDecl, len(b.types)),
		otns:        make(map[string][]NodeID),
		rules:       make(map[string]*Terminal, len(b.rules)),
		entryPoints: slices.Clone(b.entryPoints),
	}
	for _, d := range b.types {
		net.types[d.Name] = d
	}
	for i, n := range b.nodes {
		if n == nil {
			continue
		}
		c := n.clone()
		if n.terminal != nil {
			t := *n.terminal
			c.terminal = &t
		}
		net.nodes[i] = c
	}
	for _, n := range net.nodes {
		if n == nil {
			continue
		}
		if n.Kind == KindObjectType {
			net.otns[n.EntryPoint] = append(net.otns[n.EntryPoint], n.ID)
		}
		if n.Kind == KindObjectType || n.Kind == KindAlpha {
			net.indexChildren(n)
		}
	}
	for _, name := range b.order {
		entry := b.rules[name]
		term := net.nodes[entry.nodes[len(entry.nodes)-1]].terminal
		if term == nil {
			return nil, fmt.Errorf("rule %q: terminal node missing", name)
		}
		net.rules[name] = term
		net.terminals = append(net.terminals, term)
	}
	return net, nil
}
