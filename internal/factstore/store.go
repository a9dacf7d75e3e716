package factstore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/typemask"
)

// ErrUnknownEntryPoint is returned for inserts into an undeclared entry point.
var ErrUnknownEntryPoint = errors.New("unknown entry point")

// ErrDeleted is returned when updating a handle that is no longer live.
var ErrDeleted = errors.New("fact handle has been deleted")

// InsertOptions describes a new handle.
type InsertOptions struct {
	EntryPoint string
	Equality   Equality
	Mask       typemask.Mask
	Timestamp  int64
	Event      bool
	Logical    bool
	Recency    int64
}

// Store is the fact store of one session. It is not safe for concurrent use.
type Store struct {
	nextID      int64
	handles     map[int64]*Handle
	byKey       map[string]map[string][]*Handle // entry point -> fact key -> live handles
	entryPoints []string
}

// New creates a store with the default entry point plus any named ones.
func New(entryPoints ...string) *Store {
	s := &Store{
		nextID:  1,
		handles: make(map[int64]*Handle),
		byKey:   make(map[string]map[string][]*Handle),
	}
	s.AddEntryPoint(ir.DefaultEntryPoint)
	for _, ep := range entryPoints {
		s.AddEntryPoint(ep)
	}
	return s
}

// AddEntryPoint declares a partition. Declaring an existing one is a no-op.
func (s *Store) AddEntryPoint(name string) {
	if _, ok := s.byKey[name]; ok {
		return
	}
	s.byKey[name] = make(map[string][]*Handle)
	s.entryPoints = append(s.entryPoints, name)
}

// EntryPoints returns the declared partitions in declaration order.
func (s *Store) EntryPoints() []string {
	return slices.Clone(s.entryPoints)
}

// Insert adds a fact. With Value equality an existing value-equal handle in
// the same entry point is returned with created=false.
func (s *Store) Insert(f ir.Fact, opts InsertOptions) (h *Handle, created bool, err error) {
	ep := opts.EntryPoint
	if ep == "" {
		ep = ir.DefaultEntryPoint
	}
	keys, ok := s.byKey[ep]
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, ep)
	}
	key, err := ir.FactKey(f)
	if err != nil {
		return nil, false, err
	}
	if opts.Equality == Value {
		if existing := keys[key]; len(existing) > 0 {
			return existing[0], false, nil
		}
	}

	h = &Handle{
		id:         s.nextID,
		entryPoint: ep,
		equality:   opts.Equality,
		mask:       opts.Mask,
		fact:       f.Clone(),
		key:        key,
		timestamp:  opts.Timestamp,
		event:      opts.Event,
		logical:    opts.Logical,
		recency:    opts.Recency,
	}
	s.nextID++
	s.add(h)
	return h, true, nil
}

// Restore re-creates a handle from a snapshot, keeping its ID.
func (s *Store) Restore(snap Snapshot, mask typemask.Mask) (*Handle, error) {
	if _, dup := s.handles[snap.ID]; dup {
		return nil, fmt.Errorf("handle %d already present", snap.ID)
	}
	s.AddEntryPoint(snap.EntryPoint)
	key, err := ir.FactKey(snap.Fact)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		id:         snap.ID,
		entryPoint: snap.EntryPoint,
		equality:   snap.Equality,
		mask:       mask,
		fact:       snap.Fact.Clone(),
		key:        key,
		timestamp:  snap.Timestamp,
		event:      snap.Event,
		logical:    snap.Logical,
		recency:    snap.Recency,
	}
	if snap.ID >= s.nextID {
		s.nextID = snap.ID + 1
	}
	s.add(h)
	return h, nil
}

func (s *Store) add(h *Handle) {
	s.handles[h.id] = h
	keys := s.byKey[h.entryPoint]
	keys[h.key] = append(keys[h.key], h)
}

func (s *Store) unindex(h *Handle) {
	keys := s.byKey[h.entryPoint]
	list := keys[h.key]
	if i := slices.Index(list, h); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(keys, h.key)
	} else {
		keys[h.key] = list
	}
}

// Update replaces the fact value of a live handle. The handle pointer and ID
// are preserved. The type of the fact may not change.
func (s *Store) Update(h *Handle, f ir.Fact) error {
	if h.deleted {
		return ErrDeleted
	}
	if f.Type != h.fact.Type {
		return fmt.Errorf("update of handle %d cannot change type %q to %q", h.id, h.fact.Type, f.Type)
	}
	key, err := ir.FactKey(f)
	if err != nil {
		return err
	}
	s.unindex(h)
	h.fact = f.Clone()
	h.key = key
	keys := s.byKey[h.entryPoint]
	keys[key] = append(keys[key], h)
	return nil
}

// Delete removes a handle. Deleting an already deleted handle returns false.
func (s *Store) Delete(h *Handle) bool {
	if h == nil || h.deleted {
		return false
	}
	if s.handles[h.id] != h {
		return false
	}
	s.unindex(h)
	delete(s.handles, h.id)
	h.deleted = true
	return true
}

// Lookup returns the live handle with the given ID.
func (s *Store) Lookup(id int64) (*Handle, bool) {
	h, ok := s.handles[id]
	return h, ok
}

// FindEqual returns the oldest live handle in ep holding a fact with the
// given value key.
func (s *Store) FindEqual(ep, key string) (*Handle, bool) {
	list := s.byKey[ep][key]
	if len(list) == 0 {
		return nil, false
	}
	oldest := list[0]
	for _, h := range list[1:] {
		if h.id < oldest.id {
			oldest = h
		}
	}
	return oldest, true
}

// Len returns the number of live handles.
func (s *Store) Len() int { return len(s.handles) }

// Reserve makes sure new handles get IDs of at least next. Restoring a
// snapshot uses it so IDs of deleted facts are not handed out again.
func (s *Store) Reserve(next int64) {
	if next > s.nextID {
		s.nextID = next
	}
}

// NextID returns the ID the next insert will receive.
func (s *Store) NextID() int64 { return s.nextID }

// Handles returns live handles in ID order.
func (s *Store) Handles() []*Handle {
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b *Handle) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// HandlesIn returns the live handles of one entry point in ID order.
func (s *Store) HandlesIn(ep string) []*Handle {
	var out []*Handle
	for _, h := range s.Handles() {
		if h.entryPoint == ep {
			out = append(out, h)
		}
	}
	return out
}
