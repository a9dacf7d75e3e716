package typemask

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rulecore/internal/ir"
)

// Hierarchy is the encoded type lattice of one rule base.
// It is immutable once returned by an Encoder and safe for concurrent reads.
type Hierarchy struct {
	order []string
	bit   map[string]int
	mask  map[string]Mask
}

// Encoder assigns bits to declared types.
type Encoder struct{}

// CycleError reports a supertype cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "type hierarchy cycle: " + strings.Join(e.Path, " -> ")
}

// Encode assigns bits in declaration order and computes transitive masks.
// Supertypes must be declared; a type may list them before or after itself.
func (Encoder) Encode(decls []ir.TypeDecl) (*Hierarchy, error) {
	h := &Hierarchy{
		bit:  make(map[string]int, len(decls)),
		mask: make(map[string]Mask, len(decls)),
	}
	byName := make(map[string]ir.TypeDecl, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("type declaration without a name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("type %q declared twice", d.Name)
		}
		byName[d.Name] = d
		h.bit[d.Name] = len(h.order)
		h.order = append(h.order, d.Name)
	}
	for _, d := range decls {
		for _, s := range d.Supertypes {
			if _, ok := byName[s]; !ok {
				return nil, fmt.Errorf("type %q: unknown supertype %q", d.Name, s)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(decls))
	var visit func(name string, path []string) (Mask, error)
	visit = func(name string, path []string) (Mask, error) {
		switch state[name] {
		case done:
			return h.mask[name], nil
		case visiting:
			start := slices.Index(path, name)
			return Mask{}, &CycleError{Path: append(slices.Clone(path[start:]), name)}
		}
		state[name] = visiting
		path = append(path, name)
		m := Of(h.bit[name])
		for _, s := range byName[name].Supertypes {
			sm, err := visit(s, path)
			if err != nil {
				return Mask{}, err
			}
			m = m.Or(sm)
		}
		state[name] = done
		h.mask[name] = m
		return m, nil
	}
	for _, name := range h.order {
		if _, err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Mask returns the mask of a declared type.
func (h *Hierarchy) Mask(name string) (Mask, bool) {
	m, ok := h.mask[name]
	return m, ok
}

// Bit returns the bit owned by a declared type.
func (h *Hierarchy) Bit(name string) (int, bool) {
	b, ok := h.bit[name]
	return b, ok
}

// IsA reports whether sub is super or one of its descendants.
func (h *Hierarchy) IsA(sub, super string) bool {
	sm, ok := h.mask[sub]
	if !ok {
		return false
	}
	pm, ok := h.mask[super]
	return ok && sm.ContainsAll(pm)
}

// Types returns the declared type names in bit order.
func (h *Hierarchy) Types() []string {
	return slices.Clone(h.order)
}

// Extend returns a hierarchy with additional standalone types appended.
// Used at build time for types referenced by rules but never declared.
func (h *Hierarchy) Extend(names ...string) *Hierarchy {
	out := &Hierarchy{
		order: slices.Clone(h.order),
		bit:   make(map[string]int, len(h.bit)+len(names)),
		mask:  make(map[string]Mask, len(h.mask)+len(names)),
	}
	for k, v := range h.bit {
		out.bit[k] = v
	}
	for k, v := range h.mask {
		out.mask[k] = v
	}
	for _, n := range names {
		if _, ok := out.bit[n]; ok {
			continue
		}
		out.bit[n] = len(out.order)
		out.mask[n] = Of(len(out.order))
		out.order = append(out.order, n)
	}
	return out
}
