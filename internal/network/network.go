package network

import (
	"slices"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/typemask"
)

// Network is a built, immutable matching network. It holds no per-session
// state and is safe for concurrent use by any number of sessions.
type Network struct {
	nodes       []*Node
	hierarchy   *typemask.Hierarchy
	types       map[string]ir.TypeDecl
	otns        map[string][]NodeID // entry point -> object-type nodes in ID order
	rules       map[string]*Terminal
	terminals   []*Terminal // declaration order
	entryPoints []string
}

// indexChildren buckets the == children of an alpha-side node by field and
// literal so a fact only visits the children whose literal it equals.
func (net *Network) indexChildren(n *Node) {
	for _, cid := range n.children {
		c := net.nodes[cid]
		if c.Constraint == nil || c.Constraint.Op != ir.OpEq {
			n.unindexed = append(n.unindexed, cid)
			continue
		}
		if n.eqIndex == nil {
			n.eqIndex = make(map[string]eqBuckets)
		}
		field := c.Constraint.Field
		if n.eqIndex[field] == nil {
			n.eqIndex[field] = make(eqBuckets)
		}
		k := valueKey(c.Constraint.Value)
		n.eqIndex[field][k] = append(n.eqIndex[field][k], cid)
	}
}

// Node returns a node by ID, or nil for a freed or unknown ID.
func (net *Network) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(net.nodes) {
		return nil
	}
	return net.nodes[id]
}

// Terminals returns one terminal per rule in declaration order.
func (net *Network) Terminals() []*Terminal {
	return slices.Clone(net.terminals)
}

// Terminal returns the terminal of a rule.
func (net *Network) Terminal(rule string) (*Terminal, bool) {
	t, ok := net.rules[rule]
	return t, ok
}

// Rules returns the rule specs in declaration order.
func (net *Network) Rules() []*ir.RuleSpec {
	out := make([]*ir.RuleSpec, len(net.terminals))
	for i, t := range net.terminals {
		out[i] = t.Rule
	}
	return out
}

// EntryPoints returns every entry point known to the network.
func (net *Network) EntryPoints() []string {
	return slices.Clone(net.entryPoints)
}

// Mask returns the type mask used to route facts of a type. Types unknown to
// the network have an empty mask and match no pattern.
func (net *Network) Mask(typ string) typemask.Mask {
	m, _ := net.hierarchy.Mask(typ)
	return m
}

// Hierarchy returns the encoded type hierarchy.
func (net *Network) Hierarchy() *typemask.Hierarchy {
	return net.hierarchy
}

// TypeDecl returns the declaration of a type, if it was declared.
func (net *Network) TypeDecl(typ string) (ir.TypeDecl, bool) {
	d, ok := net.types[typ]
	return d, ok
}

// Stats summarises the node arena.
type Stats struct {
	Nodes  int
	ByKind map[NodeKind]int
}

// Stats counts live nodes per kind.
func (net *Network) Stats() Stats {
	s := Stats{ByKind: make(map[NodeKind]int)}
	for _, n := range net.nodes {
		if n == nil {
			continue
		}
		s.Nodes++
		s.ByKind[n.Kind]++
	}
	return s
}

// valueKey buckets values for hash indexes. Buckets may be coarser than
// ir.Equal (strings are NFC normalised), so index hits are always re-tested.
func valueKey(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return missingKey
	}
	return string(b)
}

// missingKey buckets facts lacking an indexed field; no lookup ever asks for it.
const missingKey = "\x00missing"
