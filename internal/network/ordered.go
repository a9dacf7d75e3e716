package network

import "container/list"

// ordered is a set that iterates in insertion order with O(1) removal.
type ordered[T comparable] struct {
	elems map[T]*list.Element
	l     list.List
}

func newOrdered[T comparable]() *ordered[T] {
	return &ordered[T]{elems: make(map[T]*list.Element)}
}

func (o *ordered[T]) add(v T) {
	if _, ok := o.elems[v]; ok {
		return
	}
	o.elems[v] = o.l.PushBack(v)
}

func (o *ordered[T]) remove(v T) bool {
	e, ok := o.elems[v]
	if !ok {
		return false
	}
	o.l.Remove(e)
	delete(o.elems, v)
	return true
}

func (o *ordered[T]) has(v T) bool {
	_, ok := o.elems[v]
	return ok
}

func (o *ordered[T]) len() int {
	if o == nil {
		return 0
	}
	return len(o.elems)
}

// items copies the members so callers may mutate the set while iterating.
func (o *ordered[T]) items() []T {
	if o == nil {
		return nil
	}
	out := make([]T, 0, len(o.elems))
	for e := o.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(T))
	}
	return out
}
