// Package store provides SQLite-backed persistence for session snapshots.
//
// A snapshot is written as one header row plus one row per fact, queued
// activation, belief justification and pending job, all keyed by
// (session_id, version). Saving never overwrites: each save appends the
// next version for its session, and loading without a version returns
// the latest one.
//
// # Ordering
//
// Rows carry their original position (handle id for facts, queue position
// for activations and jobs). Every query orders by those columns, with
// text keys compared COLLATE BINARY, so a loaded snapshot is identical to
// the one saved regardless of how SQLite chooses to scan.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Fact fields are stored as canonical JSON (see ir.MarshalCanonical).
package store
