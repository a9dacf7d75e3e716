// Package factstore holds a session's facts behind stable handles.
//
// A Handle is created on insert and keeps its pointer identity across
// updates; only the fact value it references changes. Handles live in named
// entry points, the logical partitions facts are inserted through.
package factstore

import (
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/typemask"
)

// Equality selects how an insert decides whether a fact is already present.
type Equality int

const (
	// Identity always creates a new handle.
	Identity Equality = iota
	// Value returns the existing handle of a value-equal fact in the same
	// entry point instead of creating a duplicate.
	Value
)

func (e Equality) String() string {
	if e == Value {
		return "value"
	}
	return "identity"
}

// Handle is the stable identity of a fact.
type Handle struct {
	id         int64
	entryPoint string
	equality   Equality
	mask       typemask.Mask
	fact       ir.Fact
	key        string

	timestamp int64
	event     bool
	logical   bool
	recency   int64
	deleted   bool
}

// ID returns the handle's session-unique identifier. IDs increase with
// insertion order and are never reused.
func (h *Handle) ID() int64 { return h.id }

// Fact returns the current fact value.
func (h *Handle) Fact() ir.Fact { return h.fact }

func (h *Handle) EntryPoint() string  { return h.entryPoint }
func (h *Handle) Equality() Equality  { return h.equality }
func (h *Handle) Mask() typemask.Mask { return h.mask }
func (h *Handle) Key() string         { return h.key }
func (h *Handle) Timestamp() int64    { return h.timestamp }
func (h *Handle) IsEvent() bool       { return h.event }
func (h *Handle) IsLogical() bool     { return h.logical }
func (h *Handle) IsDeleted() bool     { return h.deleted }

// Recency is the propagation number of the handle's last insert or update.
func (h *Handle) Recency() int64 { return h.recency }

// SetRecency records the propagation number of a change.
func (h *Handle) SetRecency(r int64) { h.recency = r }

// SetLogical marks the handle as owned by the truth maintenance system.
func (h *Handle) SetLogical(v bool) { h.logical = v }

// Snapshot is the serializable state of a handle.
type Snapshot struct {
	ID         int64    `json:"id"`
	EntryPoint string   `json:"entry_point"`
	Equality   Equality `json:"equality"`
	Fact       ir.Fact  `json:"fact"`
	Timestamp  int64    `json:"timestamp"`
	Event      bool     `json:"event,omitempty"`
	Logical    bool     `json:"logical,omitempty"`
	Recency    int64    `json:"recency"`
}

// Snapshot captures the handle for external serialization.
func (h *Handle) Snapshot() Snapshot {
	return Snapshot{
		ID:         h.id,
		EntryPoint: h.entryPoint,
		Equality:   h.equality,
		Fact:       h.fact.Clone(),
		Timestamp:  h.timestamp,
		Event:      h.event,
		Logical:    h.logical,
		Recency:    h.recency,
	}
}
