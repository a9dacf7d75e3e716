package network

import (
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

// Sink receives the changes in complete matches produced by terminal nodes.
type Sink interface {
	MatchCreated(term *Terminal, t *Tuple)
	MatchUpdated(term *Terminal, t *Tuple)
	MatchCancelled(term *Terminal, t *Tuple)
}

// EvaluationError reports a predicate that failed or panicked while
// propagating one fact. The affected tuple is treated as not matching.
type EvaluationError struct {
	Node     NodeID
	Kind     NodeKind
	HandleID int64
	Tuple    []int64 // left tuple handle IDs for beta nodes
	Err      error
}

func (e *EvaluationError) Error() string {
	if e.Tuple != nil {
		return fmt.Sprintf("%s node %d: fact %d against tuple %v: %v", e.Kind, e.Node, e.HandleID, e.Tuple, e.Err)
	}
	return fmt.Sprintf("%s node %d: fact %d: %v", e.Kind, e.Node, e.HandleID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Memory is the matching state of one session over a Network.
// It is not safe for concurrent use.
type Memory struct {
	net     *Network
	beta    map[NodeID]*betaMemory
	lia     map[NodeID]map[int64]*Tuple
	alphaIn map[int64][]NodeID // handle -> consumer nodes it reached
	matches map[NodeID]*ordered[*Tuple]
	seq     int64
}

type betaMemory struct {
	left     *ordered[*Tuple]
	leftIdx  map[string]*ordered[*Tuple]
	leftKey  map[*Tuple]string
	right    *ordered[*factstore.Handle]
	rightIdx map[string]*ordered[*factstore.Handle]
	rightKey map[*factstore.Handle]string

	// Matched pairs. For joins the value is the child tuple; for the other
	// kinds it is nil and only membership matters.
	byLeft  map[*Tuple]map[*factstore.Handle]*Tuple
	byRight map[*factstore.Handle]map[*Tuple]*Tuple

	child map[*Tuple]*Tuple        // exists, not, accumulate: output per left tuple
	acc   map[*Tuple]*accumulation // accumulate state per left tuple
}

// NewMemory creates empty matching state for a network.
func NewMemory(net *Network) *Memory {
	return &Memory{
		net:     net,
		beta:    make(map[NodeID]*betaMemory),
		lia:     make(map[NodeID]map[int64]*Tuple),
		alphaIn: make(map[int64][]NodeID),
		matches: make(map[NodeID]*ordered[*Tuple]),
	}
}

// Network returns the network the memory belongs to.
func (m *Memory) Network() *Network { return m.net }

func (m *Memory) betaMem(id NodeID) *betaMemory {
	bm, ok := m.beta[id]
	if !ok {
		bm = &betaMemory{
			left:     newOrdered[*Tuple](),
			leftIdx:  make(map[string]*ordered[*Tuple]),
			leftKey:  make(map[*Tuple]string),
			right:    newOrdered[*factstore.Handle](),
			rightIdx: make(map[string]*ordered[*factstore.Handle]),
			rightKey: make(map[*factstore.Handle]string),
			byLeft:   make(map[*Tuple]map[*factstore.Handle]*Tuple),
			byRight:  make(map[*factstore.Handle]map[*Tuple]*Tuple),
			child:    make(map[*Tuple]*Tuple),
			acc:      make(map[*Tuple]*accumulation),
		}
		m.beta[id] = bm
	}
	return bm
}

func (m *Memory) newTuple(node *Node, parent *Tuple, h *factstore.Handle, v ir.IRValue) *Tuple {
	m.seq++
	idx := 0
	if parent != nil {
		idx = parent.index + 1
	}
	return &Tuple{parent: parent, handle: h, value: v, index: idx, node: node.ID, layout: node.layout, seq: m.seq}
}

// Matches returns the live complete matches of a rule in creation order.
func (m *Memory) Matches(rule string) []*Tuple {
	term, ok := m.net.rules[rule]
	if !ok {
		return nil
	}
	return m.matches[term.Node].items()
}

// MatchCount returns the number of live complete matches over all rules.
func (m *Memory) MatchCount() int {
	n := 0
	for _, o := range m.matches {
		n += o.len()
	}
	return n
}

// Reached returns the consumer nodes a handle currently reaches, for
// diagnostics and tests.
func (m *Memory) Reached(h *factstore.Handle) []NodeID {
	return slices.Clone(m.alphaIn[h.ID()])
}

// Assert propagates a newly inserted fact.
func (m *Memory) Assert(h *factstore.Handle, sink Sink) []*EvaluationError {
	p := &propagation{m: m, sink: sink}
	reached := p.reach(h)
	if len(reached) > 0 {
		m.alphaIn[h.ID()] = reached
	}
	for _, id := range reached {
		p.rightAssert(m.net.nodes[id], h)
	}
	return p.errs
}

// Update propagates a changed fact value. Consumers the fact no longer
// reaches see a retract, consumers it still reaches see an update and
// consumers it newly reaches see an assert.
func (m *Memory) Update(h *factstore.Handle, sink Sink) []*EvaluationError {
	p := &propagation{m: m, sink: sink}
	before := m.alphaIn[h.ID()]
	after := p.reach(h)
	if len(after) > 0 {
		m.alphaIn[h.ID()] = after
	} else {
		delete(m.alphaIn, h.ID())
	}
	// Refresh right index keys first so self-joins reached through the left
	// input see the new bucket.
	for _, id := range after {
		if n := m.net.nodes[id]; n.Kind.isBeta() && slices.Contains(before, id) {
			m.betaMem(id).reindexRight(n, h)
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			p.rightRetract(m.net.nodes[id], h)
		}
	}
	for _, id := range after {
		if slices.Contains(before, id) {
			p.rightUpdate(m.net.nodes[id], h)
		} else {
			p.rightAssert(m.net.nodes[id], h)
		}
	}
	return p.errs
}

// Retract removes a fact from every memory it reached.
func (m *Memory) Retract(h *factstore.Handle, sink Sink) []*EvaluationError {
	p := &propagation{m: m, sink: sink}
	reached := m.alphaIn[h.ID()]
	delete(m.alphaIn, h.ID())
	for _, id := range reached {
		p.rightRetract(m.net.nodes[id], h)
	}
	return p.errs
}

// propagation carries one assert, update or retract through the network.
type propagation struct {
	m    *Memory
	sink Sink
	errs []*EvaluationError
}

func (p *propagation) fail(n *Node, h *factstore.Handle, t *Tuple, err error) {
	e := &EvaluationError{Node: n.ID, Kind: n.Kind, Err: err}
	if h != nil {
		e.HandleID = h.ID()
	}
	if t != nil {
		e.Tuple = t.HandleIDs()
	}
	p.errs = append(p.errs, e)
}

// reach walks the alpha network and returns the consumers the fact reaches.
func (p *propagation) reach(h *factstore.Handle) []NodeID {
	var out []NodeID
	for _, id := range p.m.net.otns[h.EntryPoint()] {
		n := p.m.net.nodes[id]
		if !h.Mask().ContainsAll(n.mask) {
			continue
		}
		p.walkAlpha(n, h, &out)
	}
	return out
}

func (p *propagation) walkAlpha(n *Node, h *factstore.Handle, out *[]NodeID) {
	*out = append(*out, n.consumers...)
	if n.eqIndex != nil {
		fields := make([]string, 0, len(n.eqIndex))
		for f := range n.eqIndex {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		for _, f := range fields {
			v, ok := h.Fact().Get(f)
			if !ok {
				continue
			}
			for _, cid := range n.eqIndex[f][valueKey(v)] {
				c := p.m.net.nodes[cid]
				if p.passes(c, h) {
					p.walkAlpha(c, h, out)
				}
			}
		}
	}
	for _, cid := range n.unindexed {
		c := p.m.net.nodes[cid]
		if p.passes(c, h) {
			p.walkAlpha(c, h, out)
		}
	}
}

func (p *propagation) passes(n *Node, h *factstore.Handle) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(n, h, nil, fmt.Errorf("predicate panicked: %v", r))
			ok = false
		}
	}()
	var err error
	if n.Constraint != nil {
		v, _ := h.Fact().Get(n.Constraint.Field)
		ok, err = ir.Eval(n.Constraint.Op, v, n.Constraint.Value)
	} else if n.test != nil {
		ok, err = n.test(h.Fact())
	}
	if err != nil {
		p.fail(n, h, nil, err)
		return false
	}
	return ok
}

// emit helpers forward a change in a node's output to its children.

func (p *propagation) emitAssert(n *Node, t *Tuple) {
	for _, cid := range n.betaChildren {
		p.leftAssert(p.m.net.nodes[cid], t)
	}
}

func (p *propagation) emitUpdate(n *Node, t *Tuple) {
	for _, cid := range n.betaChildren {
		p.leftUpdate(p.m.net.nodes[cid], t)
	}
}

func (p *propagation) emitRetract(n *Node, t *Tuple) {
	t.dead = true
	for _, cid := range n.betaChildren {
		p.leftRetract(p.m.net.nodes[cid], t)
	}
}
