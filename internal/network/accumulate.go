package network

import (
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

// accumulation is the incremental aggregate of one left tuple. Each
// contributing handle's value is remembered so removal subtracts exactly
// what was added, whatever the fact holds now.
type accumulation struct {
	fn      ir.AccumulateFunc
	contrib map[*factstore.Handle]ir.IRValue
	order   *ordered[*factstore.Handle]
	sum     int64
	sorted  []ir.IRValue // min and max
}

func newAccumulation(fn ir.AccumulateFunc) *accumulation {
	return &accumulation{
		fn:      fn,
		contrib: make(map[*factstore.Handle]ir.IRValue),
		order:   newOrdered[*factstore.Handle](),
	}
}

// add records h's contribution. Handles without a usable value are matched
// but contribute nothing.
func (a *accumulation) add(h *factstore.Handle, field string) error {
	var v ir.IRValue
	switch a.fn {
	case ir.AccCount:
		v = ir.IRInt(1)
	case ir.AccCollect:
		v = h.Fact().Fields.Clone()
	default:
		fv, ok := h.Fact().Get(field)
		if !ok {
			return nil
		}
		if _, isNull := fv.(ir.IRNull); isNull {
			return nil
		}
		v = fv
	}

	switch a.fn {
	case ir.AccSum:
		n, ok := v.(ir.IRInt)
		if !ok {
			return fmt.Errorf("sum over %s value", ir.KindOf(v))
		}
		a.sum += int64(n)
	case ir.AccMin, ir.AccMax:
		if len(a.sorted) > 0 {
			if _, err := ir.Compare(a.sorted[0], v); err != nil {
				return err
			}
		}
		i, _ := slices.BinarySearchFunc(a.sorted, v, func(e, target ir.IRValue) int {
			c, _ := ir.Compare(e, target)
			return c
		})
		a.sorted = slices.Insert(a.sorted, i, v)
	}
	a.contrib[h] = v
	a.order.add(h)
	return nil
}

func (a *accumulation) remove(h *factstore.Handle) {
	v, ok := a.contrib[h]
	if !ok {
		return
	}
	delete(a.contrib, h)
	a.order.remove(h)
	switch a.fn {
	case ir.AccSum:
		a.sum -= int64(v.(ir.IRInt))
	case ir.AccMin, ir.AccMax:
		if i := slices.IndexFunc(a.sorted, func(e ir.IRValue) bool { return ir.Equal(e, v) }); i >= 0 {
			a.sorted = slices.Delete(a.sorted, i, i+1)
		}
	}
}

func (a *accumulation) result() ir.IRValue {
	switch a.fn {
	case ir.AccCount:
		return ir.IRInt(len(a.contrib))
	case ir.AccSum:
		return ir.IRInt(a.sum)
	case ir.AccMin:
		if len(a.sorted) == 0 {
			return ir.IRNull{}
		}
		return a.sorted[0]
	case ir.AccMax:
		if len(a.sorted) == 0 {
			return ir.IRNull{}
		}
		return a.sorted[len(a.sorted)-1]
	case ir.AccCollect:
		out := make(ir.IRArray, 0, len(a.contrib))
		for _, h := range a.order.items() {
			out = append(out, a.contrib[h])
		}
		return out
	}
	return ir.IRNull{}
}

func (p *propagation) contribute(n *Node, st *accumulation, t *Tuple, h *factstore.Handle) {
	if err := st.add(h, n.acc.Field); err != nil {
		p.fail(n, h, t, err)
	}
}

// refresh reconciles the output tuple with the current aggregate. force
// emits an update even when the value is unchanged, for left updates.
func (p *propagation) refresh(n *Node, bm *betaMemory, t *Tuple, force bool) {
	st := bm.acc[t]
	val := st.result()
	pass := true
	for _, r := range n.acc.Result {
		ok, err := ir.Eval(r.Op, val, r.Value)
		if err != nil {
			p.fail(n, nil, t, fmt.Errorf("accumulate result: %w", err))
			ok = false
		}
		if !ok {
			pass = false
			break
		}
	}

	c := bm.child[t]
	switch {
	case c != nil && pass:
		if force || !ir.Equal(c.value, val) {
			c.value = val
			p.emitUpdate(n, c)
		}
	case c != nil:
		delete(bm.child, t)
		p.emitRetract(n, c)
	case pass:
		c = p.m.newTuple(n, t, nil, val)
		bm.child[t] = c
		p.emitAssert(n, c)
	}
}

func (p *propagation) accLeftAssert(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.addLeft(n, t)
	st := newAccumulation(n.acc.Func)
	bm.acc[t] = st
	for _, h := range bm.rightCandidates(n, t) {
		if p.match(n, t, h) {
			bm.link(t, h, nil)
			p.contribute(n, st, t, h)
		}
	}
	p.refresh(n, bm, t, false)
}

func (p *propagation) accLeftRetract(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.removeLeft(n, t)
	for _, h := range bm.rightsOf(t) {
		bm.unlink(t, h)
	}
	delete(bm.acc, t)
	if c := bm.child[t]; c != nil {
		delete(bm.child, t)
		p.emitRetract(n, c)
	}
}

func (p *propagation) accLeftUpdate(n *Node, t *Tuple) {
	bm := p.m.betaMem(n.ID)
	bm.reindexLeft(n, t)
	st := bm.acc[t]
	seen := make(map[*factstore.Handle]bool)
	for _, h := range bm.rightCandidates(n, t) {
		if !p.match(n, t, h) {
			continue
		}
		seen[h] = true
		if _, had := bm.linked(t, h); !had {
			bm.link(t, h, nil)
			p.contribute(n, st, t, h)
		}
	}
	for _, h := range bm.rightsOf(t) {
		if !seen[h] {
			bm.unlink(t, h)
			st.remove(h)
		}
	}
	p.refresh(n, bm, t, true)
}

func (p *propagation) accRightAssert(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.addRight(n, h)
	for _, t := range bm.leftCandidates(n, h) {
		if p.match(n, t, h) {
			bm.link(t, h, nil)
			p.contribute(n, bm.acc[t], t, h)
			p.refresh(n, bm, t, false)
		}
	}
}

func (p *propagation) accRightRetract(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.removeRight(n, h)
	for _, t := range bm.leftsOf(h) {
		bm.unlink(t, h)
		bm.acc[t].remove(h)
		p.refresh(n, bm, t, false)
	}
}

func (p *propagation) accRightUpdate(n *Node, h *factstore.Handle) {
	bm := p.m.betaMem(n.ID)
	bm.reindexRight(n, h)
	for _, t := range unionTuples(bm.leftsOf(h), bm.leftCandidates(n, h)) {
		st := bm.acc[t]
		_, had := bm.linked(t, h)
		if had {
			st.remove(h)
		}
		if p.match(n, t, h) {
			if !had {
				bm.link(t, h, nil)
			}
			p.contribute(n, st, t, h)
		} else if had {
			bm.unlink(t, h)
		} else {
			continue
		}
		p.refresh(n, bm, t, false)
	}
}
