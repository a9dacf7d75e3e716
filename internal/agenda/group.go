package agenda

import "container/heap"

// Group is a named partition of the agenda.
type Group struct {
	name string
	h    activationHeap
}

func (g *Group) Name() string { return g.name }
func (g *Group) Len() int     { return len(g.h) }

type activationHeap []*Activation

func (h activationHeap) Len() int           { return len(h) }
func (h activationHeap) Less(i, j int) bool { return before(h[i], h[j]) }

func (h activationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *activationHeap) Push(x any) {
	a := x.(*Activation)
	a.index = len(*h)
	*h = append(*h, a)
}

func (h *activationHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}

func (g *Group) push(a *Activation) {
	a.group = g
	heap.Push(&g.h, a)
}

func (g *Group) pop() *Activation {
	if len(g.h) == 0 {
		return nil
	}
	a := heap.Pop(&g.h).(*Activation)
	a.group = nil
	return a
}

func (g *Group) remove(a *Activation) {
	heap.Remove(&g.h, a.index)
	a.group = nil
}

// fix restores heap order after an activation's keys changed.
func (g *Group) fix(a *Activation) {
	heap.Fix(&g.h, a.index)
}
