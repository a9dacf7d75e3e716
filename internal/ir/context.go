package ir

// FactRef is the view of a fact handle exposed to predicates and
// consequences.
type FactRef interface {
	ID() int64
	Fact() Fact
}

// Bindings resolves rule variables against a partial or complete match.
type Bindings interface {
	// Ref returns the handle bound to a pattern variable.
	Ref(name string) (FactRef, bool)
	// Value returns the result bound to an accumulate variable.
	Value(name string) (IRValue, bool)
}

// AlphaTest is an opaque single-fact predicate.
type AlphaTest func(f Fact) (bool, error)

// JoinTest is an opaque predicate over earlier bindings and a candidate fact.
type JoinTest func(b Bindings, f Fact) (bool, error)

// Context is the operational surface handed to a firing consequence.
// It is implemented by the engine; every mutation re-enters matching
// synchronously before the call returns.
type Context interface {
	Bindings

	RuleName() string
	CurrentTime() int64

	Insert(f Fact) (FactRef, error)
	InsertLogical(f Fact) (FactRef, error)
	Update(ref FactRef, f Fact) error
	Delete(ref FactRef) error

	Halt()
	SetFocus(group string)
}

// Consequence is the opaque right-hand side of a rule.
type Consequence func(ctx Context) error
