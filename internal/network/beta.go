package network

import (
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

// Right input dispatch.

func (p *propagation) rightAssert(n *Node, h *factstore.Handle) {
	switch n.Kind {
	case KindLeftInput:
		t := p.m.newTuple(n, nil, h, nil)
		if p.m.lia[n.ID] == nil {
			p.m.lia[n.ID] = make(map[int64]*Tuple)
		}
		p.m.lia[n.ID][h.ID()] = t
		p.emitAssert(n, t)
	case KindJoin:
		p.joinRightAssert(n, h)
	case KindExists, KindNot:
		p.existsRightAssert(n, h)
	case KindAccumulate:
		p.accRightAssert(n, h)
	}
}

func (p *propagation) rightUpdate(n *Node, h *factstore.Handle) {
	switch n.Kind {
	case KindLeftInput:
		if t, ok := p.m.lia[n.ID][h.ID()]; ok {
			p.emitUpdate(n, t)
		}
	case KindJoin:
		p.joinRightUpdate(n, h)
	case KindExists, KindNot:
		p.existsRightUpdate(n, h)
	case KindAccumulate:
		p.accRightUpdate(n, h)
	}
}

func (p *propagation) rightRetract(n *Node, h *factstore.Handle) {
	switch n.Kind {
	case KindLeftInput:
		if t, ok := p.m.lia[n.ID][h.ID()]; ok {
			delete(p.m.lia[n.ID], h.ID())
			p.emitRetract(n, t)
		}
	case KindJoin:
		p.joinRightRetract(n, h)
	case KindExists, KindNot:
		p.existsRightRetract(n, h)
	case KindAccumulate:
		p.accRightRetract(n, h)
	}
}

// Left input dispatch.

func (p *propagation) leftAssert(n *Node, t *Tuple) {
	switch n.Kind {
	case KindTerminal:
		o := p.m.matches[n.ID]
		if o == nil {
			o = newOrdered[*Tuple]()
			p.m.matches[n.ID] = o
		}
		o.add(t)
		if p.sink != nil {
			p.sink.MatchCreated(n.terminal, t)
		}
	case KindJoin:
		p.joinLeftAssert(n, t)
	case KindExists, KindNot:
		p.existsLeftAssert(n, t)
	case KindAccumulate:
		p.accLeftAssert(n, t)
	}
}

func (p *propagation) leftUpdate(n *Node, t *Tuple) {
	switch n.Kind {
	case KindTerminal:
		if p.m.matches[n.ID].has(t) && p.sink != nil {
			p.sink.MatchUpdated(n.terminal, t)
		}
	case KindJoin:
		p.joinLeftUpdate(n, t)
	case KindExists, KindNot:
		p.existsLeftUpdate(n, t)
	case KindAccumulate:
		p.accLeftUpdate(n, t)
	}
}

func (p *propagation) leftRetract(n *Node, t *Tuple) {
	switch n.Kind {
	case KindTerminal:
		if o := p.m.matches[n.ID]; o != nil && o.remove(t) && p.sink != nil {
			p.sink.MatchCancelled(n.terminal, t)
		}
	case KindJoin:
		p.joinLeftRetract(n, t)
	case KindExists, KindNot:
		p.existsLeftRetract(n, t)
	case KindAccumulate:
		p.accLeftRetract(n, t)
	}
}

// Memory bookkeeping shared by every beta kind.

func operand(t *Tuple, j ir.JoinConstraint) ir.IRValue {
	if j.VarField == "" {
		v, _ := t.Value(j.Var)
		return v
	}
	h := t.Handle(j.Var)
	if h == nil {
		return nil
	}
	v, _ := h.Fact().Get(j.VarField)
	return v
}

func (bm *betaMemory) addLeft(n *Node, t *Tuple) {
	bm.left.add(t)
	if n.indexJoin < 0 {
		return
	}
	k := valueKey(operand(t, n.joins[n.indexJoin]))
	bm.leftKey[t] = k
	idx := bm.leftIdx[k]
	if idx == nil {
		idx = newOrdered[*Tuple]()
		bm.leftIdx[k] = idx
	}
	idx.add(t)
}

func (bm *betaMemory) removeLeft(n *Node, t *Tuple) {
	bm.left.remove(t)
	if n.indexJoin < 0 {
		return
	}
	k := bm.leftKey[t]
	delete(bm.leftKey, t)
	if idx := bm.leftIdx[k]; idx != nil {
		idx.remove(t)
		if idx.len() == 0 {
			delete(bm.leftIdx, k)
		}
	}
}

// reindexLeft moves a left tuple to the bucket of its current key. The
// insertion position in the unindexed memory is preserved.
func (bm *betaMemory) reindexLeft(n *Node, t *Tuple) {
	if n.indexJoin < 0 {
		return
	}
	k := valueKey(operand(t, n.joins[n.indexJoin]))
	old := bm.leftKey[t]
	if old == k {
		return
	}
	if idx := bm.leftIdx[old]; idx != nil {
		idx.remove(t)
		if idx.len() == 0 {
			delete(bm.leftIdx, old)
		}
	}
	bm.leftKey[t] = k
	idx := bm.leftIdx[k]
	if idx == nil {
		idx = newOrdered[*Tuple]()
		bm.leftIdx[k] = idx
	}
	idx.add(t)
}

func rightKeyOf(n *Node, h *factstore.Handle) string {
	v, ok := h.Fact().Get(n.joins[n.indexJoin].Field)
	if !ok {
		return missingKey
	}
	return valueKey(v)
}

func (bm *betaMemory) addRight(n *Node, h *factstore.Handle) {
	bm.right.add(h)
	if n.indexJoin < 0 {
		return
	}
	k := rightKeyOf(n, h)
	bm.rightKey[h] = k
	idx := bm.rightIdx[k]
	if idx == nil {
		idx = newOrdered[*factstore.Handle]()
		bm.rightIdx[k] = idx
	}
	idx.add(h)
}

func (bm *betaMemory) removeRight(n *Node, h *factstore.Handle) {
	bm.right.remove(h)
	if n.indexJoin < 0 {
		return
	}
	k := bm.rightKey[h]
	delete(bm.rightKey, h)
	if idx := bm.rightIdx[k]; idx != nil {
		idx.remove(h)
		if idx.len() == 0 {
			delete(bm.rightIdx, k)
		}
	}
}

func (bm *betaMemory) reindexRight(n *Node, h *factstore.Handle) {
	if n.indexJoin < 0 || !bm.right.has(h) {
		return
	}
	k := rightKeyOf(n, h)
	old := bm.rightKey[h]
	if old == k {
		return
	}
	if idx := bm.rightIdx[old]; idx != nil {
		idx.remove(h)
		if idx.len() == 0 {
			delete(bm.rightIdx, old)
		}
	}
	bm.rightKey[h] = k
	idx := bm.rightIdx[k]
	if idx == nil {
		idx = newOrdered[*factstore.Handle]()
		bm.rightIdx[k] = idx
	}
	idx.add(h)
}

// rightCandidates returns the right handles that may match t, in insertion
// order. With an index only the bucket of t's key is returned.
func (bm *betaMemory) rightCandidates(n *Node, t *Tuple) []*factstore.Handle {
	if n.indexJoin < 0 {
		return bm.right.items()
	}
	return bm.rightIdx[bm.leftKey[t]].items()
}

func (bm *betaMemory) leftCandidates(n *Node, h *factstore.Handle) []*Tuple {
	if n.indexJoin < 0 {
		return bm.left.items()
	}
	return bm.leftIdx[bm.rightKey[h]].items()
}

func (bm *betaMemory) link(t *Tuple, h *factstore.Handle, child *Tuple) {
	if bm.byLeft[t] == nil {
		bm.byLeft[t] = make(map[*factstore.Handle]*Tuple)
	}
	bm.byLeft[t][h] = child
	if bm.byRight[h] == nil {
		bm.byRight[h] = make(map[*Tuple]*Tuple)
	}
	bm.byRight[h][t] = child
}

func (bm *betaMemory) unlink(t *Tuple, h *factstore.Handle) {
	if m := bm.byLeft[t]; m != nil {
		delete(m, h)
		if len(m) == 0 {
			delete(bm.byLeft, t)
		}
	}
	if m := bm.byRight[h]; m != nil {
		delete(m, t)
		if len(m) == 0 {
			delete(bm.byRight, h)
		}
	}
}

func (bm *betaMemory) linked(t *Tuple, h *factstore.Handle) (*Tuple, bool) {
	c, ok := bm.byLeft[t][h]
	return c, ok
}

func sortTuples(ts []*Tuple) []*Tuple {
	slices.SortFunc(ts, func(a, b *Tuple) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return ts
}

func sortHandles(hs []*factstore.Handle) []*factstore.Handle {
	slices.SortFunc(hs, func(a, b *factstore.Handle) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return hs
}

// leftsOf returns the left tuples paired with h ordered by creation.
func (bm *betaMemory) leftsOf(h *factstore.Handle) []*Tuple {
	out := make([]*Tuple, 0, len(bm.byRight[h]))
	for t := range bm.byRight[h] {
		out = append(out, t)
	}
	return sortTuples(out)
}

// rightsOf returns the right handles paired with t ordered by ID.
func (bm *betaMemory) rightsOf(t *Tuple) []*factstore.Handle {
	out := make([]*factstore.Handle, 0, len(bm.byLeft[t]))
	for h := range bm.byLeft[t] {
		out = append(out, h)
	}
	return sortHandles(out)
}

// match evaluates a beta node's join constraints and join test.
func (p *propagation) match(n *Node, t *Tuple, h *factstore.Handle) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(n, h, t, fmt.Errorf("join predicate panicked: %v", r))
			ok = false
		}
	}()
	f := h.Fact()
	for _, j := range n.joins {
		v, _ := f.Get(j.Field)
		res, err := ir.Eval(j.Op, v, operand(t, j))
		if err != nil {
			p.fail(n, h, t, fmt.Errorf("%s: %w", j.Key(), err))
			return false
		}
		if !res {
			return false
		}
	}
	if n.joinTest != nil {
		res, err := n.joinTest(t, f)
		if err != nil {
			p.fail(n, h, t, err)
			return false
		}
		return res
	}
	return true
}

// Join.

func (p *propagation) joinLeftAssert(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.addLeft(n, t)
	for _, h := range bm.rightCandidates(n, t) {
		if p.match(n, t, h) {
			child := p.m.newTuple(n, t, h, nil)
			bm.link(t, h, child)
			p.emitAssert(n, child)
		}
	}
}

func (p *propagation) joinLeftRetract(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.removeLeft(n, t)
	var children []*Tuple
	for _, h := range bm.rightsOf(t) {
		c, _ := bm.linked(t, h)
		children = append(children, c)
		bm.unlink(t, h)
	}
	for _, c := range sortTuples(children) {
		p.emitRetract(n, c)
	}
}

func (p *propagation) joinLeftUpdate(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.reindexLeft(n, t)

	var matched []*factstore.Handle
	seen := make(map[*factstore.Handle]bool)
	for _, h := range bm.rightCandidates(n, t) {
		if p.match(n, t, h) {
			seen[h] = true
			matched = append(matched, h)
		}
	}
	var stale []*Tuple
	for _, h := range bm.rightsOf(t) {
		if !seen[h] {
			c, _ := bm.linked(t, h)
			stale = append(stale, c)
			bm.unlink(t, h)
		}
	}
	for _, c := range sortTuples(stale) {
		p.emitRetract(n, c)
	}
	for _, h := range matched {
		if c, ok := bm.linked(t, h); ok {
			p.emitUpdate(n, c)
			continue
		}
		child := p.m.newTuple(n, t, h, nil)
		bm.link(t, h, child)
		p.emitAssert(n, child)
	}
}

func (p *propagation) joinRightAssert(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.addRight(n, h)
	for _, t := range bm.leftCandidates(n, h) {
		if p.match(n, t, h) {
			child := p.m.newTuple(n, t, h, nil)
			bm.link(t, h, child)
			p.emitAssert(n, child)
		}
	}
}

func (p *propagation) joinRightRetract(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.removeRight(n, h)
	var children []*Tuple
	for _, t := range bm.leftsOf(h) {
		c, _ := bm.linked(t, h)
		children = append(children, c)
		bm.unlink(t, h)
	}
	for _, c := range sortTuples(children) {
		p.emitRetract(n, c)
	}
}

func (p *propagation) joinRightUpdate(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.reindexRight(n, h)

	var matched []*Tuple
	seen := make(map[*Tuple]bool)
	for _, t := range bm.leftCandidates(n, h) {
		if p.match(n, t, h) {
			seen[t] = true
			matched = append(matched, t)
		}
	}
	var stale []*Tuple
	for _, t := range bm.leftsOf(h) {
		if !seen[t] {
			c, _ := bm.linked(t, h)
			stale = append(stale, c)
			bm.unlink(t, h)
		}
	}
	for _, c := range sortTuples(stale) {
		p.emitRetract(n, c)
	}
	for _, t := range matched {
		if c, ok := bm.linked(t, h); ok {
			p.emitUpdate(n, c)
			continue
		}
		child := p.m.newTuple(n, t, h, nil)
		bm.link(t, h, child)
		p.emitAssert(n, child)
	}
}

// Exists and not keep per-left-tuple match counts. The output tuple has no
// handle at this position and toggles when the count crosses zero.

func wantOutput(n *Node, count int) bool {
	if n.Kind == KindExists {
		return count > 0
	}
	return count == 0
}

func (p *propagation) toggle(n *Node, bm *betaMemory, t *Tuple, update bool) {
	c := bm.child[t]
	want := wantOutput(n, len(bm.byLeft[t]))
	switch {
	case c != nil && want:
		if update {
			p.emitUpdate(n, c)
		}
	case c != nil:
		delete(bm.child, t)
		p.emitRetract(n, c)
	case want:
		c = p.m.newTuple(n, t, nil, nil)
		bm.child[t] = c
		p.emitAssert(n, c)
	}
}

func (p *propagation) existsLeftAssert(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.addLeft(n, t)
	for _, h := range bm.rightCandidates(n, t) {
		if p.match(n, t, h) {
			bm.link(t, h, nil)
		}
	}
	p.toggle(n, bm, t, false)
}

func (p *propagation) existsLeftRetract(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.removeLeft(n, t)
	for _, h := range bm.rightsOf(t) {
		bm.unlink(t, h)
	}
	if c := bm.child[t]; c != nil {
		delete(bm.child, t)
		p.emitRetract(n, c)
	}
}

func (p *propagation) existsLeftUpdate(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.reindexLeft(n, t)
	seen := make(map[*factstore.Handle]bool)
	for _, h := range bm.rightCandidates(n, t) {
		if p.match(n, t, h) {
			seen[h] = true
			bm.link(t, h, nil)
		}
	}
	for _, h := range bm.rightsOf(t) {
		if !seen[h] {
			bm.unlink(t, h)
		}
	}
	p.toggle(n, bm, t, true)
}

func (p *propagation) existsRightAssert(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.addRight(n, h)
	for _, t := range bm.leftCandidates(n, h) {
		if p.match(n, t, h) {
			bm.link(t, h, nil)
			p.toggle(n, bm, t, false)
		}
	}
}

func (p *propagation) existsRightRetract(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.removeRight(n, h)
	for _, t := range bm.leftsOf(h) {
		bm.unlink(t, h)
		p.toggle(n, bm, t, false)
	}
}

func (p *propagation) existsRightUpdate(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.reindexRight(n, h)
	for _, t := range unionTuples(bm.leftsOf(h), bm.leftCandidates(n, h)) {
		_, had := bm.linked(t, h)
		ok := p.match(n, t, h)
		switch {
		case ok && !had:
			bm.link(t, h, nil)
		case !ok && had:
			bm.unlink(t, h)
		default:
			continue
		}
		p.toggle(n, bm, t, false)
	}
}

// unionTuples returns a followed by the members of b not in a.
func unionTuples(a, b []*Tuple) []*Tuple {
	seen := make(map[*Tuple]bool, len(a))
	for _, t := range a {
		seen[t] = true
	}
	out := a
	for _, t := range b {
		if !seen[t] {
			out = append(out, t)
		}
	}
	return out
}
