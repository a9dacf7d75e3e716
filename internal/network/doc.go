// Package network implements the shared pattern-matching network.
//
// A Builder compiles rules into an arena of nodes addressed by NodeID.
// Nodes implementing the same condition under the same parent are shared
// between rules and reference counted per declaring rule; RemoveRule frees
// nodes whose count reaches zero. Build freezes the arena into a Network,
// which is immutable and may be read by many sessions at once.
//
// All mutable matching state lives in a Memory, one per session. The
// Memory receives assert, update and retract of fact handles, updates the
// left and right memories of every traversed node, and forwards only the
// change in matched tuples downstream. Terminal nodes report complete
// matches to a Sink.
//
// Node kinds, root to leaf:
//
//	ObjectType   one per (entry point, type); routes by type mask
//	Alpha        single-fact filter, children indexed on == constraints
//	LeftInput    turns a handle into a one-element tuple
//	Join         left tuple x right handle under join constraints
//	Exists/Not   per-left-tuple match counts
//	Accumulate   per-left-tuple incremental aggregate
//	Terminal     one per rule
package network
