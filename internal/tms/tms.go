// Package tms tracks the justifications of logically inserted facts.
//
// A logical fact exists while at least one activation justifies it. Equal
// logical facts share one belief set and merge their justifications. The
// package only keeps the books: the session performs the inserts and
// deletes the results call for.
package tms

import (
	"slices"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
)

// BeliefSet is the support of one logical fact handle.
type BeliefSet struct {
	handle *factstore.Handle
	key    string
	justs  []*agenda.Activation // justification order
}

func (b *BeliefSet) Handle() *factstore.Handle { return b.handle }

// Support returns the number of live justifications.
func (b *BeliefSet) Support() int { return len(b.justs) }

func (b *BeliefSet) justifiedBy(a *agenda.Activation) bool {
	return slices.Contains(b.justs, a)
}

func (b *BeliefSet) drop(a *agenda.Activation) {
	b.justs = slices.DeleteFunc(b.justs, func(x *agenda.Activation) bool { return x == a })
}

// TMS is the truth maintenance state of one session.
// It is not safe for concurrent use.
type TMS struct {
	byKey       map[string]*BeliefSet
	byHandle    map[*factstore.Handle]*BeliefSet
	byJustifier map[*agenda.Activation][]*BeliefSet
	renewed     map[*agenda.Activation]map[*BeliefSet]bool
}

// New creates an empty TMS.
func New() *TMS {
	return &TMS{
		byKey:       make(map[string]*BeliefSet),
		byHandle:    make(map[*factstore.Handle]*BeliefSet),
		byJustifier: make(map[*agenda.Activation][]*BeliefSet),
		renewed:     make(map[*agenda.Activation]map[*BeliefSet]bool),
	}
}

func scopedKey(h *factstore.Handle) string {
	return h.EntryPoint() + "\x00" + h.Key()
}

// Lookup returns the logical handle holding a fact with the given value key
// in an entry point.
func (t *TMS) Lookup(entryPoint, key string) (*factstore.Handle, bool) {
	b, ok := t.byKey[entryPoint+"\x00"+key]
	if !ok {
		return nil, false
	}
	return b.handle, true
}

// Justify records that a supports h. It returns true when h had no belief
// set before. Justifying twice from one activation is recorded once.
func (t *TMS) Justify(a *agenda.Activation, h *factstore.Handle) bool {
	b, ok := t.byHandle[h]
	created := !ok
	if !ok {
		b = &BeliefSet{handle: h, key: scopedKey(h)}
		t.byHandle[h] = b
		if _, taken := t.byKey[b.key]; !taken {
			t.byKey[b.key] = b
		}
		h.SetLogical(true)
	}
	if r := t.renewed[a]; r != nil {
		r[b] = true
	}
	if b.justifiedBy(a) {
		return created
	}
	b.justs = append(b.justs, a)
	t.byJustifier[a] = append(t.byJustifier[a], b)
	return created
}

// Unjustify removes every justification made by a, typically because its
// match was retracted. It returns the handles left without support, in the
// order a first justified them; the caller deletes them.
func (t *TMS) Unjustify(a *agenda.Activation) []*factstore.Handle {
	sets := t.byJustifier[a]
	delete(t.byJustifier, a)
	delete(t.renewed, a)
	var orphans []*factstore.Handle
	for _, b := range sets {
		b.drop(a)
		if b.Support() == 0 {
			t.forget(b)
			orphans = append(orphans, b.handle)
		}
	}
	return orphans
}

// BeginFiring starts tracking which justifications a renews while its
// consequence runs.
func (t *TMS) BeginFiring(a *agenda.Activation) {
	t.renewed[a] = make(map[*BeliefSet]bool)
}

// EndFiring drops the justifications a held before firing but did not renew,
// and returns the handles left without support.
func (t *TMS) EndFiring(a *agenda.Activation) []*factstore.Handle {
	renewed, ok := t.renewed[a]
	delete(t.renewed, a)
	if !ok {
		return nil
	}
	var keep []*BeliefSet
	var orphans []*factstore.Handle
	for _, b := range t.byJustifier[a] {
		if renewed[b] {
			keep = append(keep, b)
			continue
		}
		b.drop(a)
		if b.Support() == 0 {
			t.forget(b)
			orphans = append(orphans, b.handle)
		}
	}
	if len(keep) == 0 {
		delete(t.byJustifier, a)
	} else {
		t.byJustifier[a] = keep
	}
	return orphans
}

// Clear removes the belief set of h with all its justifications, for an
// explicit delete. It reports whether h was logical.
func (t *TMS) Clear(h *factstore.Handle) bool {
	b, ok := t.byHandle[h]
	if !ok {
		return false
	}
	for _, a := range b.justs {
		t.byJustifier[a] = slices.DeleteFunc(t.byJustifier[a], func(x *BeliefSet) bool { return x == b })
		if len(t.byJustifier[a]) == 0 {
			delete(t.byJustifier, a)
		}
	}
	b.justs = nil
	t.forget(b)
	return true
}

// Rekey refreshes the equality key of a logical handle after its value was
// updated. When another belief set already owns the new key, h stays
// supported but is no longer found by Lookup.
func (t *TMS) Rekey(h *factstore.Handle) {
	b, ok := t.byHandle[h]
	if !ok {
		return
	}
	if t.byKey[b.key] == b {
		delete(t.byKey, b.key)
	}
	b.key = scopedKey(h)
	if _, taken := t.byKey[b.key]; !taken {
		t.byKey[b.key] = b
	}
}

func (t *TMS) forget(b *BeliefSet) {
	delete(t.byHandle, b.handle)
	if t.byKey[b.key] == b {
		delete(t.byKey, b.key)
	}
	for _, r := range t.renewed {
		delete(r, b)
	}
}

// Support returns the number of justifications of h, 0 for stated facts.
func (t *TMS) Support(h *factstore.Handle) int {
	if b, ok := t.byHandle[h]; ok {
		return b.Support()
	}
	return 0
}

// IsLogical reports whether h is held by a belief set.
func (t *TMS) IsLogical(h *factstore.Handle) bool {
	_, ok := t.byHandle[h]
	return ok
}

// Justifiers returns the activations supporting h in justification order.
func (t *TMS) Justifiers(h *factstore.Handle) []*agenda.Activation {
	if b, ok := t.byHandle[h]; ok {
		return slices.Clone(b.justs)
	}
	return nil
}

// Justified returns the handles a supports in justification order.
func (t *TMS) Justified(a *agenda.Activation) []*factstore.Handle {
	sets := t.byJustifier[a]
	out := make([]*factstore.Handle, len(sets))
	for i, b := range sets {
		out[i] = b.handle
	}
	return out
}

// Len returns the number of belief sets.
func (t *TMS) Len() int { return len(t.byHandle) }
