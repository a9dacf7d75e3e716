package network

import (
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/typemask"
)

// NodeID addresses a node in the network arena.
type NodeID int

// NodeKind tags the node variant.
type NodeKind int

const (
	KindObjectType NodeKind = iota
	KindAlpha
	KindLeftInput
	KindJoin
	KindExists
	KindNot
	KindAccumulate
	KindTerminal
)

var kindNames = [...]string{
	KindObjectType: "object-type",
	KindAlpha:      "alpha",
	KindLeftInput:  "left-input",
	KindJoin:       "join",
	KindExists:     "exists",
	KindNot:        "not",
	KindAccumulate: "accumulate",
	KindTerminal:   "terminal",
}

func (k NodeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// isBeta reports whether the node keeps left and right memories.
func (k NodeKind) isBeta() bool {
	return k == KindJoin || k == KindExists || k == KindNot || k == KindAccumulate
}

// Node is one vertex of the network graph.
type Node struct {
	ID   NodeID
	Kind NodeKind
	key  string
	refs int

	// object-type
	EntryPoint string
	Type       string
	mask       typemask.Mask

	// alpha
	Constraint *ir.FieldConstraint
	test       ir.AlphaTest
	children   []NodeID             // alpha children in creation order
	eqIndex    map[string]eqBuckets // field -> value key -> children, built by Build
	unindexed  []NodeID
	consumers  []NodeID // left-input and beta nodes fed by this alpha node

	// beta and terminal
	parent       NodeID // alpha parent, or left parent for beta and terminal nodes
	source       NodeID // right input alpha node
	Bind         string
	joins        []ir.JoinConstraint
	joinTest     ir.JoinTest
	indexJoin    int // position in joins of the indexed == constraint, -1 when none
	acc          *ir.Accumulate
	betaChildren []NodeID
	layout       *layout

	// terminal
	terminal *Terminal
}

type eqBuckets map[string][]NodeID

// Parent returns the alpha parent or left input of the node.
func (n *Node) Parent() NodeID { return n.parent }

// Source returns the alpha node feeding the right input of a beta node.
func (n *Node) Source() NodeID { return n.source }

// Refs returns the number of rules that declared this node.
func (n *Node) Refs() int { return n.refs }

func (n *Node) clone() *Node {
	c := *n
	c.children = slices.Clone(n.children)
	c.consumers = slices.Clone(n.consumers)
	c.betaChildren = slices.Clone(n.betaChildren)
	c.joins = slices.Clone(n.joins)
	c.mask = n.mask.Clone()
	c.eqIndex = nil
	c.unindexed = nil
	return &c
}

// Terminal ties the end of a rule's node chain to the rule.
type Terminal struct {
	Node      NodeID
	Rule      *ir.RuleSpec
	DeclOrder int
}

// layout maps rule variables to tuple positions. Layouts are immutable and
// shared by every tuple produced by one node.
type layout struct {
	names  []string // position -> variable, "" for unnamed positions
	facts  map[string]int
	values map[string]int
}

func (l *layout) size() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}

func (l *layout) has(name string) bool {
	if l == nil {
		return false
	}
	_, f := l.facts[name]
	_, v := l.values[name]
	return f || v
}

func (l *layout) extend(name string, value bool) *layout {
	out := &layout{
		facts:  make(map[string]int),
		values: make(map[string]int),
	}
	if l != nil {
		out.names = slices.Clone(l.names)
		for k, v := range l.facts {
			out.facts[k] = v
		}
		for k, v := range l.values {
			out.values[k] = v
		}
	}
	pos := len(out.names)
	out.names = append(out.names, name)
	switch {
	case name == "":
	case value:
		out.values[name] = pos
	default:
		out.facts[name] = pos
	}
	return out
}
