// Package typemask encodes a declared type hierarchy as bitsets so facts can
// be routed to the object-type partitions of a network with a mask test.
//
// Every declared type owns one bit. A type's mask is its own bit together
// with the mask of every supertype, so the mask of a subtype always contains
// the mask of each ancestor:
//
//	Animal = {0}
//	Dog    = {0, 1}      (Dog isa Animal)
//	Puppy  = {0, 1, 2}   (Puppy isa Dog)
//
// A fact of type T belongs to the partition of type U iff mask(T) contains
// all of mask(U).
package typemask

import (
	"math/bits"
	"strconv"
	"strings"
)

// Mask is a growable bitset.
// The zero value is an empty mask.
type Mask struct {
	words []uint64
}

// Of returns a mask with the given bits set.
func Of(positions ...int) Mask {
	var m Mask
	for _, p := range positions {
		m.Set(p)
	}
	return m
}

// Set turns bit i on.
func (m *Mask) Set(i int) {
	w := i / 64
	for len(m.words) <= w {
		m.words = append(m.words, 0)
	}
	m.words[w] |= 1 << (uint(i) % 64)
}

// Reset turns bit i off.
func (m *Mask) Reset(i int) {
	w := i / 64
	if w < len(m.words) {
		m.words[w] &^= 1 << (uint(i) % 64)
	}
}

// IsSet reports whether bit i is on.
func (m Mask) IsSet(i int) bool {
	w := i / 64
	return w < len(m.words) && m.words[w]&(1<<(uint(i)%64)) != 0
}

// IsEmpty reports whether no bit is set.
func (m Mask) IsEmpty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Intersects reports whether m and o share at least one bit.
func (m Mask) Intersects(o Mask) bool {
	n := min(len(m.words), len(o.words))
	for i := 0; i < n; i++ {
		if m.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every bit of o is set in m.
func (m Mask) ContainsAll(o Mask) bool {
	for i, w := range o.words {
		var have uint64
		if i < len(m.words) {
			have = m.words[i]
		}
		if have&w != w {
			return false
		}
	}
	return true
}

// Or returns the union of m and o.
func (m Mask) Or(o Mask) Mask {
	out := m.Clone()
	for len(out.words) < len(o.words) {
		out.words = append(out.words, 0)
	}
	for i, w := range o.words {
		out.words[i] |= w
	}
	return out
}

// Clone returns an independent copy.
func (m Mask) Clone() Mask {
	if m.words == nil {
		return Mask{}
	}
	return Mask{words: append([]uint64(nil), m.words...)}
}

// Equal reports bitwise equality, ignoring trailing zero words.
func (m Mask) Equal(o Mask) bool {
	return m.ContainsAll(o) && o.ContainsAll(m)
}

// Len returns the number of set bits.
func (m Mask) Len() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Positions returns the set bits in ascending order.
func (m Mask) Positions() []int {
	var out []int
	for wi, w := range m.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, wi*64+b)
			w &^= 1 << uint(b)
		}
	}
	return out
}

// String renders the mask as {0,3,5}.
func (m Mask) String() string {
	pos := m.Positions()
	parts := make([]string, len(pos))
	for i, p := range pos {
		parts[i] = strconv.Itoa(p)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
