// Package engine runs rule sessions over a compiled network.
//
// A Session owns one working memory: the fact store, the network's
// matching memories, the agenda, truth maintenance and a scheduler.
// Sessions share an immutable network.Network and never share state with
// each other.
//
// ARCHITECTURE:
//
// Single-Writer Session:
// Every mutation (Insert, Update, Delete, FireAll, AdvanceTime) runs on the
// caller's goroutine and propagates through the network synchronously. A
// session holds no locks; it must be driven by one goroutine at a time.
//
// Cross-goroutine requests (Halt, Notify and real-time timers falling due)
// go through a notification queue that the driving goroutine drains between
// firings. The real-time dispatcher only ever enqueues.
//
// Firing Cycle:
//  1. Drain notifications and run due real-time jobs
//  2. Pop the next activation from the focused agenda group
//  3. Clear its activation group
//  4. Run the consequence with truth maintenance bracketing
//  5. Delete logical facts that lost their last justification
//
// Determinism:
// Given the same rules, the same operations and a pseudo clock, a session
// fires the same activations in the same order. Recency comes from the
// PropagationClock, never from the wall clock.
package engine
